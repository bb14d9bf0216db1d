package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rencire/free-games-claimer/internal/domain"
)

type persisterStub struct {
	loaded   []domain.ClaimRecord
	loadErr  error
	saveErr  error
	saves    int
	saved    []domain.ClaimRecord
	savedFor string
}

func (p *persisterStub) Load(ctx context.Context, namespace string) ([]domain.ClaimRecord, error) {
	if p.loadErr != nil {
		return nil, p.loadErr
	}
	return p.loaded, nil
}

func (p *persisterStub) Save(ctx context.Context, namespace string, records []domain.ClaimRecord) error {
	p.saves++
	p.savedFor = namespace
	p.saved = records
	return p.saveErr
}

func TestUpsert_SetsTitleAndTimeOnFirstInsertOnly(t *testing.T) {
	l := New("alice", nil)
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return first }

	r := l.Upsert("Foo", Patch{Store: "gog.com", Status: domain.ClaimStatusClaimed})
	if r.Title != "Foo" || !r.Time.Equal(first) {
		t.Fatalf("expected title and time set on insert, got %+v", r)
	}

	l.now = func() time.Time { return first.Add(time.Hour) }
	r = l.Upsert("Foo", Patch{Code: "ABC123"})
	if !r.Time.Equal(first) {
		t.Fatalf("expected time to be preserved, got %v", r.Time)
	}
	if r.Store != "gog.com" || r.Status != domain.ClaimStatusClaimed || r.Code != "ABC123" {
		t.Fatalf("expected merged record, got %+v", r)
	}
}

func TestUpsert_NeverDowngradesRedeemed(t *testing.T) {
	l := New("alice", nil)
	l.Upsert("Foo", Patch{Status: domain.ClaimStatusRedeemed})

	r := l.Upsert("Foo", Patch{Status: domain.ClaimStatusFailedNeedsLinking})
	if r.Status != domain.ClaimStatusRedeemed {
		t.Fatalf("expected status to stay %q, got %q", domain.ClaimStatusRedeemed, r.Status)
	}
}

func TestUpsert_UpgradesFailedToClaimed(t *testing.T) {
	l := New("alice", nil)
	l.Upsert("Game - Skin", Patch{Store: domain.StoreDLC, Status: domain.ClaimStatusFailedNeedsLinking})

	r := l.Upsert("Game - Skin", Patch{Status: domain.ClaimStatusClaimed, Code: "XYZ"})
	if r.Status != domain.ClaimStatusClaimed || r.Store != domain.StoreDLC {
		t.Fatalf("expected claimed DLC record, got %+v", r)
	}
}

func TestLoad_ReplacesRecords(t *testing.T) {
	p := &persisterStub{loaded: []domain.ClaimRecord{{Title: "Foo", Status: domain.ClaimStatusClaimed}}}
	l := New("alice", p)
	l.Upsert("Stale", Patch{})

	if err := l.Load(context.Background()); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !l.Has("Foo") || l.Has("Stale") {
		t.Fatalf("expected only loaded records, got %+v", l.Records())
	}
}

func TestLoad_WrapsPersisterError(t *testing.T) {
	boom := errors.New("disk gone")
	l := New("alice", &persisterStub{loadErr: boom})

	err := l.Load(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped persister error, got %v", err)
	}
}

func TestFlush_WritesOnce(t *testing.T) {
	p := &persisterStub{}
	l := New("alice", p)
	l.Upsert("Foo", Patch{Status: domain.ClaimStatusClaimed})

	if err := l.Flush(context.Background()); err != nil {
		t.Fatalf("Flush returned error: %v", err)
	}
	if err := l.Flush(context.Background()); err != nil {
		t.Fatalf("second Flush returned error: %v", err)
	}
	if p.saves != 1 {
		t.Fatalf("expected exactly one save, got %d", p.saves)
	}
	if p.savedFor != "alice" || len(p.saved) != 1 || p.saved[0].Title != "Foo" {
		t.Fatalf("unexpected saved records for %q: %+v", p.savedFor, p.saved)
	}
}

func TestRecords_OrderedByTime(t *testing.T) {
	l := New("alice", nil)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base.Add(time.Minute) }
	l.Upsert("Later", Patch{})
	l.now = func() time.Time { return base }
	l.Upsert("Earlier", Patch{})

	records := l.Records()
	if records[0].Title != "Earlier" || records[1].Title != "Later" {
		t.Fatalf("expected records ordered by time, got %+v", records)
	}
}
