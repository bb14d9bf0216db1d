/**
 * @description
 * The claim ledger is the per-user record of offers already claimed or redeemed.
 * It is an in-memory map keyed by offer title, loaded from and flushed to a
 * persistence collaborator. Titles are opaque idempotence keys and are never parsed.
 */
package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rencire/free-games-claimer/internal/domain"
)

// Persister loads and stores the records of one namespace.
type Persister interface {
	Load(ctx context.Context, namespace string) ([]domain.ClaimRecord, error)
	Save(ctx context.Context, namespace string, records []domain.ClaimRecord) error
}

// Patch holds the fields to merge into a record. Zero values leave the existing field untouched.
type Patch struct {
	URL    string
	Store  string
	Status domain.ClaimStatus
	Code   string
}

// Ledger is the claim ledger of one user for the duration of a run.
type Ledger struct {
	mu        sync.RWMutex
	namespace string
	persister Persister
	records   map[string]domain.ClaimRecord
	flushed   bool
	now       func() time.Time
}

// New creates an empty ledger for namespace.
func New(namespace string, persister Persister) *Ledger {
	return &Ledger{
		namespace: namespace,
		persister: persister,
		records:   make(map[string]domain.ClaimRecord),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Namespace returns the user the ledger belongs to.
func (l *Ledger) Namespace() string {
	return l.namespace
}

// Load replaces the in-memory records with the persisted ones.
func (l *Ledger) Load(ctx context.Context) error {
	if l.persister == nil {
		return nil
	}
	records, err := l.persister.Load(ctx, l.namespace)
	if err != nil {
		return fmt.Errorf("load ledger %q: %w", l.namespace, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = make(map[string]domain.ClaimRecord, len(records))
	for _, r := range records {
		l.records[r.Title] = r
	}
	return nil
}

// Has reports whether title has a record.
func (l *Ledger) Has(title string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.records[title]
	return ok
}

// Get returns the record for title.
func (l *Ledger) Get(title string) (domain.ClaimRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.records[title]
	return r, ok
}

// Upsert merges p into the record for title. Title and Time are set on first insert only.
// A record that reached claimed_and_redeemed keeps that status.
func (l *Ledger) Upsert(title string, p Patch) domain.ClaimRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.records[title]
	if !ok {
		r = domain.ClaimRecord{Title: title, Time: l.now()}
	}
	if p.URL != "" {
		r.URL = p.URL
	}
	if p.Store != "" {
		r.Store = p.Store
	}
	if p.Code != "" {
		r.Code = p.Code
	}
	if p.Status != "" && r.Status != domain.ClaimStatusRedeemed {
		r.Status = p.Status
	}
	l.records[title] = r
	return r
}

// Records returns all records ordered by claim time, then title.
func (l *Ledger) Records() []domain.ClaimRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.ClaimRecord, 0, len(l.records))
	for _, r := range l.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Time.Equal(out[j].Time) {
			return out[i].Title < out[j].Title
		}
		return out[i].Time.Before(out[j].Time)
	})
	return out
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Flush persists every record. Only the first call writes; later calls return nil.
func (l *Ledger) Flush(ctx context.Context) error {
	l.mu.Lock()
	if l.flushed {
		l.mu.Unlock()
		return nil
	}
	l.flushed = true
	l.mu.Unlock()

	if l.persister == nil {
		return nil
	}
	if err := l.persister.Save(ctx, l.namespace, l.Records()); err != nil {
		return fmt.Errorf("flush ledger %q: %w", l.namespace, err)
	}
	return nil
}
