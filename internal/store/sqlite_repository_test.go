package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rencire/free-games-claimer/internal/domain"
)

func openTestSQLite(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "claims.db"))
	if err != nil {
		t.Fatalf("OpenSQLite returned error: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestSQLiteRepository_RoundTrip(t *testing.T) {
	repo := openTestSQLite(t)
	ctx := context.Background()
	claimedAt := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)

	records := []domain.ClaimRecord{
		{Title: "Foo", Time: claimedAt, URL: "https://x/y", Store: "gog.com", Status: domain.ClaimStatusRedeemed, Code: "ABC123"},
		{Title: "Bar", Time: claimedAt.Add(time.Minute), Store: domain.StoreInternal, Status: domain.ClaimStatusClaimed},
	}
	if err := repo.Save(ctx, "alice", records); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	got, err := repo.Load(ctx, "alice")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	want := records[0]
	if got[0].Title != want.Title || !got[0].Time.Equal(want.Time) || got[0].URL != want.URL ||
		got[0].Store != want.Store || got[0].Status != want.Status || got[0].Code != want.Code {
		t.Fatalf("expected %+v, got %+v", want, got[0])
	}
	if got[1].Title != "Bar" || got[1].Status != domain.ClaimStatusClaimed {
		t.Fatalf("unexpected second record %+v", got[1])
	}

	other, err := repo.Load(ctx, "bob")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("expected namespaces to be isolated, got %+v", other)
	}
}

func TestSQLiteRepository_SaveKeepsFirstClaimTime(t *testing.T) {
	repo := openTestSQLite(t)
	ctx := context.Background()
	first := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	if err := repo.Save(ctx, "alice", []domain.ClaimRecord{{Title: "Foo", Time: first, Status: domain.ClaimStatusClaimed}}); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	update := domain.ClaimRecord{Title: "Foo", Time: first.Add(24 * time.Hour), Status: domain.ClaimStatusRedeemed, Code: "XYZ"}
	if err := repo.Save(ctx, "alice", []domain.ClaimRecord{update}); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	got, err := repo.Load(ctx, "alice")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	if !got[0].Time.Equal(first) {
		t.Fatalf("expected claim time %v to be kept, got %v", first, got[0].Time)
	}
	if got[0].Status != domain.ClaimStatusRedeemed || got[0].Code != "XYZ" {
		t.Fatalf("expected updated fields, got %+v", got[0])
	}
}

func TestSQLiteRepository_ListNamespaces(t *testing.T) {
	repo := openTestSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, ns := range []string{"bob", "alice"} {
		if err := repo.Save(ctx, ns, []domain.ClaimRecord{{Title: "Foo", Time: now}}); err != nil {
			t.Fatalf("Save returned error: %v", err)
		}
	}

	got, err := repo.ListNamespaces(ctx)
	if err != nil {
		t.Fatalf("ListNamespaces returned error: %v", err)
	}
	if len(got) != 2 || got[0] != "alice" || got[1] != "bob" {
		t.Fatalf("expected [alice bob], got %v", got)
	}
}

func TestNormalizeRecords(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name      string
		namespace string
		records   []domain.ClaimRecord
		wantLen   int
		wantErr   bool
	}{
		{name: "requires namespace", namespace: "  ", wantErr: true},
		{name: "drops blank titles", namespace: "alice", records: []domain.ClaimRecord{{Title: " ", Time: now}, {Title: "Foo", Time: now}}, wantLen: 1},
		{name: "requires claim time", namespace: "alice", records: []domain.ClaimRecord{{Title: "Foo"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, got, err := normalizeRecords(tt.namespace, tt.records)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != tt.wantLen {
				t.Fatalf("expected %d records, got %d", tt.wantLen, len(got))
			}
		})
	}
}
