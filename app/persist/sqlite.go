package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver
)

// KV keeps persisted blob in SQLite key-value table under a fixed key. Writes are synchronous.
type KV struct {
	db     *sqlx.DB
	dbPath string
	key    string
}

// NewKV opens (creates) SQLite database and kv table. Empty key means DefaultKey.
func NewKV(dbPath, key string) (*KV, error) {
	if key == "" {
		key = DefaultKey
	}
	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows a single writer, concurrent async saves share one connection
	db.SetMaxOpenConns(1)

	// enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to set WAL mode: %w (also failed to close db: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	res := &KV{db: db, dbPath: dbPath, key: key}
	if err := res.initialize(); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Printf("[DEBUG] kv store %s opened, key %q", dbPath, key)
	return res, nil
}

func (k *KV) initialize() error {
	query := `CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER
	)`
	if _, err := k.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create kv table: %w", err)
	}
	return nil
}

// Read returns stored value, ErrNotFound if the key is missing
func (k *KV) Read(ctx context.Context) ([]byte, error) {
	var value string
	err := k.db.GetContext(ctx, &value, `SELECT value FROM kv WHERE key = ?`, k.key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read key %q: %w", k.key, err)
	}
	return []byte(value), nil
}

// Write stores value under the key
func (k *KV) Write(ctx context.Context, data []byte) error {
	_, err := k.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		k.key, string(data), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to write key %q: %w", k.key, err)
	}
	return nil
}

// Remove deletes the key, missing key is fine
func (k *KV) Remove(ctx context.Context) error {
	if _, err := k.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, k.key); err != nil {
		return fmt.Errorf("failed to remove key %q: %w", k.key, err)
	}
	return nil
}

// Close closes the database connection
func (k *KV) Close() error {
	return k.db.Close()
}

func (k *KV) String() string { return fmt.Sprintf("kv:%s#%s", k.dbPath, k.key) }
