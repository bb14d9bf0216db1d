package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rencire/free-games-claimer/internal/domain"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS claim_records (
    namespace  TEXT NOT NULL,
    title      TEXT NOT NULL,
    claimed_at TIMESTAMPTZ NOT NULL,
    url        TEXT NOT NULL DEFAULT '',
    store      TEXT NOT NULL DEFAULT '',
    status     TEXT NOT NULL DEFAULT '',
    code       TEXT NOT NULL DEFAULT '',
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (namespace, title)
)`

// PostgresRepository stores claim records in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new repository on an open pool. The repository owns the pool.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the claim_records table if it does not exist.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("create claim_records table: %w", err)
	}
	return nil
}

// Load fetches every record of namespace.
func (r *PostgresRepository) Load(ctx context.Context, namespace string) ([]domain.ClaimRecord, error) {
	query := `
        SELECT title, claimed_at, url, store, status, code
        FROM claim_records
        WHERE namespace = $1
        ORDER BY claimed_at, title
    `
	rows, err := r.db.Query(ctx, query, namespace)
	if err != nil {
		return nil, fmt.Errorf("query claim records: %w", err)
	}
	defer rows.Close()

	var records []domain.ClaimRecord
	for rows.Next() {
		var rec domain.ClaimRecord
		var status string
		if err := rows.Scan(&rec.Title, &rec.Time, &rec.URL, &rec.Store, &status, &rec.Code); err != nil {
			return nil, fmt.Errorf("scan claim record: %w", err)
		}
		rec.Status = domain.ClaimStatus(status)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claim records: %w", err)
	}
	return records, nil
}

// Save upserts records in a single transaction. claimed_at is kept from the first insert.
func (r *PostgresRepository) Save(ctx context.Context, namespace string, records []domain.ClaimRecord) error {
	namespace, records, err := normalizeRecords(namespace, records)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	query := `
        INSERT INTO claim_records (namespace, title, claimed_at, url, store, status, code)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (namespace, title) DO UPDATE
        SET url = EXCLUDED.url,
            store = EXCLUDED.store,
            status = EXCLUDED.status,
            code = EXCLUDED.code,
            updated_at = NOW()
    `

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(query, namespace, rec.Title, rec.Time, rec.URL, rec.Store, string(rec.Status), rec.Code)
	}
	results := tx.SendBatch(ctx, batch)
	for _, rec := range records {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("upsert claim record %q: %w", rec.Title, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit claim records: %w", err)
	}
	return nil
}

// ListNamespaces returns every user with at least one record.
func (r *PostgresRepository) ListNamespaces(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT DISTINCT namespace FROM claim_records ORDER BY namespace`)
	if err != nil {
		return nil, fmt.Errorf("query namespaces: %w", err)
	}
	defer rows.Close()

	var namespaces []string
	for rows.Next() {
		var ns string
		if err := rows.Scan(&ns); err != nil {
			return nil, fmt.Errorf("scan namespace: %w", err)
		}
		namespaces = append(namespaces, ns)
	}
	return namespaces, rows.Err()
}

// Close releases the pool.
func (r *PostgresRepository) Close() error {
	r.db.Close()
	return nil
}
