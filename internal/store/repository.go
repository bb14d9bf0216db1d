/**
 * @description
 * Persistence collaborators for the claim ledger. Each backend stores one row or
 * document per (namespace, title) and never deletes: saving upserts the records
 * of the run while keeping the original claim time.
 */
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/rencire/free-games-claimer/internal/domain"
	"github.com/rencire/free-games-claimer/internal/ledger"
)

// ClaimRepository is implemented by every ledger backend.
type ClaimRepository interface {
	ledger.Persister
	ListNamespaces(ctx context.Context) ([]string, error)
	Close() error
}

var (
	_ ClaimRepository = (*PostgresRepository)(nil)
	_ ClaimRepository = (*SQLiteRepository)(nil)
	_ ClaimRepository = (*MongoRepository)(nil)
)

// normalizeRecords trims keys and drops records without a title.
func normalizeRecords(namespace string, records []domain.ClaimRecord) (string, []domain.ClaimRecord, error) {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		return "", nil, fmt.Errorf("namespace is required")
	}
	out := make([]domain.ClaimRecord, 0, len(records))
	for _, r := range records {
		if strings.TrimSpace(r.Title) == "" {
			continue
		}
		if r.Time.IsZero() {
			return "", nil, fmt.Errorf("record %q has no claim time", r.Title)
		}
		r.Time = r.Time.UTC()
		out = append(out, r)
	}
	return namespace, out, nil
}
