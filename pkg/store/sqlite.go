package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"crestline-hq/gatehouse/pkg/clock"
)

// SQLiteBackend implements Backend using SQLite for persistence.
// This backend is suitable for single-instance deployments where counters
// and delivery records must survive restarts.
//
// SQLiteBackend uses a write-ahead log (WAL) for better concurrent
// performance and periodic checkpointing to balance write performance with
// durability. Compare-and-swap atomicity comes from running each Swap inside
// a transaction on the single writer connection.
type SQLiteBackend struct {
	db                 *sql.DB
	dbPath             string
	checkpointInterval time.Duration
	clk                clock.Clock
	done               chan struct{}
	closeOnce          sync.Once
}

// SQLiteBackendConfig configures the SQLite backend.
type SQLiteBackendConfig struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// CheckpointInterval is how often to checkpoint the WAL.
	// Default: 5 minutes
	CheckpointInterval time.Duration

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration

	// Clock supplies time for expiry checks. Default: system clock.
	Clock clock.Clock
}

// NewSQLiteBackend creates a SQLite backend with default settings.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	return NewSQLiteBackendWithConfig(SQLiteBackendConfig{DBPath: dbPath})
}

// NewSQLiteBackendWithConfig creates a SQLite backend with custom configuration.
func NewSQLiteBackendWithConfig(cfg SQLiteBackendConfig) (*SQLiteBackend, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 5 * time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System()
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		cfg.DBPath, int(cfg.BusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	backend := &SQLiteBackend{
		db:                 db,
		dbPath:             cfg.DBPath,
		checkpointInterval: cfg.CheckpointInterval,
		clk:                cfg.Clock,
		done:               make(chan struct{}),
	}

	if err := backend.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	go backend.checkpointLoop()

	return backend, nil
}

// initSchema creates the database schema if it doesn't exist.
func (s *SQLiteBackend) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_entries (
		namespace TEXT NOT NULL,
		key TEXT NOT NULL,
		value BLOB,
		version INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (namespace, key)
	);

	CREATE INDEX IF NOT EXISTS idx_usage_expires ON usage_entries(expires_at);
	CREATE INDEX IF NOT EXISTS idx_usage_namespace ON usage_entries(namespace);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Get retrieves an entry. Expired entries read as absent.
func (s *SQLiteBackend) Get(ctx context.Context, namespace, key string) (*Entry, error) {
	if err := validateKey(namespace, key); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT value, version, expires_at, updated_at, created_at
		FROM usage_entries
		WHERE namespace = ? AND key = ? AND (expires_at = 0 OR expires_at > ?)`,
		namespace, key, s.clk.Now().UnixNano())

	e := &Entry{Namespace: namespace, Key: key}
	var expiresAt, updatedAt, createdAt int64
	err := row.Scan(&e.Value, &e.Version, &expiresAt, &updatedAt, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load entry: %w", err)
	}

	e.ExpiresAt = fromUnixNano(expiresAt)
	e.UpdatedAt = fromUnixNano(updatedAt)
	e.CreatedAt = fromUnixNano(createdAt)
	return e, nil
}

// Swap writes value if the stored version matches expect.
func (s *SQLiteBackend) Swap(ctx context.Context, namespace, key string, expect int64, value []byte, ttl time.Duration) (*Entry, error) {
	if err := validateKey(namespace, key); err != nil {
		return nil, err
	}

	now := s.clk.Now()
	nowNano := now.UnixNano()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var curVersion, curCreated int64
	row := tx.QueryRowContext(ctx, `
		SELECT version, created_at FROM usage_entries
		WHERE namespace = ? AND key = ? AND (expires_at = 0 OR expires_at > ?)`,
		namespace, key, nowNano)
	err = row.Scan(&curVersion, &curCreated)
	exists := err == nil
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to load entry: %w", err)
	}

	if expect == 0 && exists {
		return nil, ErrConflict
	}
	if expect != 0 && (!exists || curVersion != expect) {
		return nil, ErrConflict
	}

	e := &Entry{
		Namespace: namespace,
		Key:       key,
		Value:     value,
		Version:   curVersion + 1,
		ExpiresAt: expiry(now, ttl),
		UpdatedAt: now,
		CreatedAt: now,
	}
	if exists {
		e.CreatedAt = fromUnixNano(curCreated)
	} else {
		e.Version = 1
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO usage_entries (namespace, key, value, version, expires_at, updated_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (namespace, key) DO UPDATE SET
			value = excluded.value,
			version = excluded.version,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at,
			created_at = excluded.created_at`,
		namespace, key, value, e.Version, toUnixNano(e.ExpiresAt), nowNano, e.CreatedAt.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to save entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit swap: %w", err)
	}
	return e, nil
}

// Put unconditionally upserts an entry.
func (s *SQLiteBackend) Put(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) (*Entry, error) {
	if err := validateKey(namespace, key); err != nil {
		return nil, err
	}

	for {
		cur, err := s.Get(ctx, namespace, key)
		if err != nil {
			return nil, err
		}
		var expect int64
		if cur != nil {
			expect = cur.Version
		}
		e, err := s.Swap(ctx, namespace, key, expect, value, ttl)
		if err == ErrConflict {
			continue
		}
		return e, err
	}
}

// Delete removes an entry.
func (s *SQLiteBackend) Delete(ctx context.Context, namespace, key string) error {
	if err := validateKey(namespace, key); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM usage_entries WHERE namespace = ? AND key = ?`, namespace, key)
	if err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	return nil
}

// List returns all live entries in a namespace.
func (s *SQLiteBackend) List(ctx context.Context, namespace string) ([]*Entry, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value, version, expires_at, updated_at, created_at
		FROM usage_entries
		WHERE namespace = ? AND (expires_at = 0 OR expires_at > ?)`,
		namespace, s.clk.Now().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{Namespace: namespace}
		var expiresAt, updatedAt, createdAt int64
		if err := rows.Scan(&e.Key, &e.Value, &e.Version, &expiresAt, &updatedAt, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		e.ExpiresAt = fromUnixNano(expiresAt)
		e.UpdatedAt = fromUnixNano(updatedAt)
		e.CreatedAt = fromUnixNano(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Cleanup removes entries that expired before the given time.
func (s *SQLiteBackend) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM usage_entries WHERE expires_at != 0 AND expires_at < ?`,
		olderThan.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Close stops the checkpoint loop and closes the database.
func (s *SQLiteBackend) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return s.db.Close()
}

// checkpointLoop periodically checkpoints the WAL and removes expired rows.
func (s *SQLiteBackend) checkpointLoop() {
	ticker := time.NewTicker(s.checkpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE);")
			_, _ = s.Cleanup(context.Background(), s.clk.Now())
		case <-s.done:
			return
		}
	}
}

func toUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
