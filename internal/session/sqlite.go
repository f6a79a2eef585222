package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// dbTimeout bounds every statement. The Store interface carries no context
// because callers include error handlers that have already lost theirs.
const dbTimeout = 5 * time.Second

// SQLiteStore keeps the credential pair in a single-row table of a local
// SQLite database. Use ":memory:" for tests.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at dbPath and applies the
// embedded migrations.
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Debug("opening session database", slog.String("path", dbPath))

	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), DirPerms); err != nil {
			return nil, fmt.Errorf("session: creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("session: open sqlite: %w", err)
	}

	// A single connection keeps ":memory:" databases coherent and serializes
	// writers without relying on SQLite busy handling.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	if _, err := db.ExecContext(ctx, "PRAGMA synchronous = FULL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("session: set pragma: %w", err)
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get() (*Credentials, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	var (
		c       Credentials
		expires int64
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, expires_at FROM credentials WHERE id = 1`,
	).Scan(&c.AccessToken, &c.RefreshToken, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("session: reading credentials: %w", err)
	}

	if expires != 0 {
		c.ExpiresAt = time.Unix(0, expires).UTC()
	}

	return &c, nil
}

func (s *SQLiteStore) Set(c *Credentials) error {
	if c == nil {
		return s.Clear()
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	var expires int64
	if !c.ExpiresAt.IsZero() {
		expires = c.ExpiresAt.UnixNano()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (id, access_token, refresh_token, expires_at, updated_at)
		 VALUES (1, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   access_token = excluded.access_token,
		   refresh_token = excluded.refresh_token,
		   expires_at = excluded.expires_at,
		   updated_at = excluded.updated_at`,
		c.AccessToken, c.RefreshToken, expires, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("session: writing credentials: %w", err)
	}

	return nil
}

// Clear removes the credentials and all cached metadata in one transaction.
func (s *SQLiteStore) Clear() error {
	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("session: begin clear: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM credentials`); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("session: clearing credentials: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM credential_meta`); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("session: clearing metadata: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("session: commit clear: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Meta() (map[string]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM credential_meta`)
	if err != nil {
		return nil, fmt.Errorf("session: reading metadata: %w", err)
	}
	defer rows.Close()

	var meta map[string]string

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("session: scanning metadata: %w", err)
		}

		if meta == nil {
			meta = make(map[string]string)
		}

		meta[k] = v
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("session: iterating metadata: %w", err)
	}

	return meta, nil
}

func (s *SQLiteStore) SetMeta(meta map[string]string) error {
	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("session: begin metadata update: %w", err)
	}

	var sessions int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM credentials`).Scan(&sessions); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("session: checking credentials: %w", err)
	}

	if sessions == 0 {
		_ = tx.Rollback()
		return ErrNoSession
	}

	for k, v := range meta {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO credential_meta (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, k, v,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("session: writing metadata %q: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("session: commit metadata update: %w", err)
	}

	return nil
}
