// Package tokencache provides SQLite-backed persistence for the OAuth
// credential bundle. The cache is conceptually a single-row table: one
// bundle per deployment.
package tokencache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Bundle is the cached credential record. Field set mirrors what the
// token endpoint issues plus the issuance timestamps the renewal client
// needs for expiry arithmetic.
type Bundle struct {
	AccessTokenIssuedAt  time.Time
	RefreshTokenIssuedAt time.Time
	AccessToken          string
	RefreshToken         string
	IDToken              string
	ExpiresIn            int64
	TokenType            string
	Scope                string
}

// Store wraps a SQLite database holding the single-row token cache.
type Store struct {
	db *sql.DB
}

// New opens or creates the token cache at dbPath. An empty dbPath
// defaults to $TMPDIR/gextool/tokens.db.
func New(dbPath string) (*Store, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "gextool", "tokens.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create token cache directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open token cache: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Store{db: db}
	if err := s.createTable(); err != nil {
		return nil, fmt.Errorf("failed to create tokens table: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTable() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS tokens (
		id                      INTEGER PRIMARY KEY CHECK (id = 1),
		access_token_issued_at  INTEGER NOT NULL,
		refresh_token_issued_at INTEGER NOT NULL,
		access_token            TEXT NOT NULL,
		refresh_token           TEXT NOT NULL,
		id_token                TEXT NOT NULL DEFAULT '',
		expires_in              INTEGER NOT NULL,
		token_type              TEXT NOT NULL DEFAULT '',
		scope                   TEXT NOT NULL DEFAULT ''
	)`)
	return err
}

const bundleCols = `access_token_issued_at, refresh_token_issued_at, access_token,
	refresh_token, id_token, expires_in, token_type, scope`

// Load returns the cached bundle, or nil when the cache is empty.
func (s *Store) Load() (*Bundle, error) {
	row := s.db.QueryRow(`SELECT ` + bundleCols + ` FROM tokens WHERE id = 1`)

	var b Bundle
	var accessIssued, refreshIssued int64
	err := row.Scan(
		&accessIssued, &refreshIssued, &b.AccessToken,
		&b.RefreshToken, &b.IDToken, &b.ExpiresIn, &b.TokenType, &b.Scope,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token bundle: %w", err)
	}
	b.AccessTokenIssuedAt = time.Unix(accessIssued, 0).UTC()
	b.RefreshTokenIssuedAt = time.Unix(refreshIssued, 0).UTC()
	return &b, nil
}

// Seed writes the bundle only when the cache is currently empty and
// reports whether a row was written. An existing row always wins, even
// when the incoming bundle differs: local state may be fresher than the
// external copy.
func (s *Store) Seed(b *Bundle) (bool, error) {
	res, err := s.db.Exec(`
		INSERT INTO tokens (id, `+bundleCols+`)
		SELECT 1, ?,?,?,?,?,?,?,?
		WHERE NOT EXISTS (SELECT 1 FROM tokens WHERE id = 1)`,
		b.AccessTokenIssuedAt.Unix(), b.RefreshTokenIssuedAt.Unix(), b.AccessToken,
		b.RefreshToken, b.IDToken, b.ExpiresIn, b.TokenType, b.Scope,
	)
	if err != nil {
		return false, fmt.Errorf("failed to seed token cache: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check seed result: %w", err)
	}
	return n == 1, nil
}

// Save upserts the bundle, replacing any existing row. Used after token
// renewals so rotated refresh tokens survive a restart.
func (s *Store) Save(b *Bundle) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO tokens (id, `+bundleCols+`)
		VALUES (1, ?,?,?,?,?,?,?,?)`,
		b.AccessTokenIssuedAt.Unix(), b.RefreshTokenIssuedAt.Unix(), b.AccessToken,
		b.RefreshToken, b.IDToken, b.ExpiresIn, b.TokenType, b.Scope,
	)
	if err != nil {
		return fmt.Errorf("failed to save token bundle: %w", err)
	}
	return nil
}
