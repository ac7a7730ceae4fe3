package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS admission_decisions (
	id             TEXT PRIMARY KEY,
	ts             INTEGER NOT NULL,
	key_id         TEXT NOT NULL,
	tenant_id      TEXT NOT NULL,
	plan_id        TEXT NOT NULL,
	endpoint       TEXT NOT NULL,
	backend        TEXT NOT NULL,
	allowed        INTEGER NOT NULL,
	reason         TEXT NOT NULL,
	retry_after_ms INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decisions_ts ON admission_decisions(ts);
CREATE INDEX IF NOT EXISTS idx_decisions_key ON admission_decisions(key_id, ts);
`

// SQLiteConfig configures the SQLite audit storage.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// MaxOpenConns caps the connection pool. Default: 10
	MaxOpenConns int

	// BusyTimeout is how long to wait on a locked database.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// SQLiteStorage persists audit records in a SQLite database with WAL mode
// enabled for concurrent readers.
type SQLiteStorage struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStorage opens (creating if needed) the audit database at the
// configured path and initializes the schema.
func NewSQLiteStorage(cfg SQLiteConfig) (*SQLiteStorage, error) {
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 10
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)

	s := &SQLiteStorage{
		db:     db,
		logger: slog.Default().With("component", "audit-storage"),
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", cfg.BusyTimeout.Milliseconds())); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}

	s.logger.Info("audit storage initialized", "path", cfg.Path)
	return s, nil
}

func (s *SQLiteStorage) Append(ctx context.Context, record *Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO admission_decisions
			(id, ts, key_id, tenant_id, plan_id, endpoint, backend, allowed, reason, retry_after_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.Time.UnixNano(),
		record.KeyID,
		record.TenantID,
		record.PlanID,
		record.Endpoint,
		record.Backend,
		boolToInt(record.Allowed),
		record.Reason,
		record.RetryAfterMs,
	)
	if err != nil {
		return fmt.Errorf("inserting audit record: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) Recent(ctx context.Context, limit int) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, key_id, tenant_id, plan_id, endpoint, backend, allowed, reason, retry_after_ms
		FROM admission_decisions
		ORDER BY ts DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying audit records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var r Record
		var ts int64
		var allowed int
		if err := rows.Scan(&r.ID, &ts, &r.KeyID, &r.TenantID, &r.PlanID,
			&r.Endpoint, &r.Backend, &allowed, &r.Reason, &r.RetryAfterMs); err != nil {
			return nil, fmt.Errorf("scanning audit record: %w", err)
		}
		r.Time = time.Unix(0, ts).UTC()
		r.Allowed = allowed != 0
		records = append(records, &r)
	}
	return records, rows.Err()
}

func (s *SQLiteStorage) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM admission_decisions WHERE ts < ?", olderThan.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("pruning audit records: %w", err)
	}
	return result.RowsAffected()
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
