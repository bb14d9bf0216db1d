package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rencire/free-games-claimer/internal/domain"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS claim_records (
	namespace  TEXT NOT NULL,
	title      TEXT NOT NULL,
	claimed_at INTEGER NOT NULL,
	url        TEXT NOT NULL DEFAULT '',
	store      TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT '',
	code       TEXT NOT NULL DEFAULT '',
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (namespace, title)
)`

// SQLiteRepository stores claim records in a local SQLite file.
type SQLiteRepository struct {
	sqlDB *sql.DB
}

// OpenSQLite opens (creating if needed) the SQLite ledger at path.
func OpenSQLite(path string) (*SQLiteRepository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}

	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(sqliteSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create claim_records table: %w", err)
	}
	return &SQLiteRepository{sqlDB: sqlDB}, nil
}

// Load fetches every record of namespace.
func (s *SQLiteRepository) Load(ctx context.Context, namespace string) ([]domain.ClaimRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT title, claimed_at, url, store, status, code
FROM claim_records
WHERE namespace = ?
ORDER BY claimed_at, title
`, strings.TrimSpace(namespace))
	if err != nil {
		return nil, fmt.Errorf("query claim records: %w", err)
	}
	defer rows.Close()

	var records []domain.ClaimRecord
	for rows.Next() {
		var rec domain.ClaimRecord
		var claimedAt int64
		var status string
		if err := rows.Scan(&rec.Title, &claimedAt, &rec.URL, &rec.Store, &status, &rec.Code); err != nil {
			return nil, fmt.Errorf("scan claim record: %w", err)
		}
		rec.Time = time.UnixMilli(claimedAt).UTC()
		rec.Status = domain.ClaimStatus(status)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claim records: %w", err)
	}
	return records, nil
}

// Save upserts records in one transaction. claimed_at is kept from the first insert.
func (s *SQLiteRepository) Save(ctx context.Context, namespace string, records []domain.ClaimRecord) error {
	namespace, records, err := normalizeRecords(namespace, records)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO claim_records (namespace, title, claimed_at, url, store, status, code, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (namespace, title) DO UPDATE SET
	url = excluded.url,
	store = excluded.store,
	status = excluded.status,
	code = excluded.code,
	updated_at = excluded.updated_at
`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().UnixMilli()
	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, namespace, rec.Title, rec.Time.UnixMilli(), rec.URL, rec.Store, string(rec.Status), rec.Code, now); err != nil {
			return fmt.Errorf("upsert claim record %q: %w", rec.Title, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit claim records: %w", err)
	}
	return nil
}

// ListNamespaces returns every user with at least one record.
func (s *SQLiteRepository) ListNamespaces(ctx context.Context) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT DISTINCT namespace FROM claim_records ORDER BY namespace`)
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

// Close releases the SQLite connection.
func (s *SQLiteRepository) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}
