// Package storage provides a small SQLite-backed cache of recently seen
// peers that survives process restarts. It is a cache only — the chain
// of record is owned by the front-end's JSON persistence file, never by
// this package.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is a SQLite-backed peer cache.
type Store struct {
	db *sql.DB
}

// Config configures a Store.
type Config struct {
	DataDir string
}

// Open creates the data directory if needed and opens (or creates) the
// peer cache database within it.
func Open(cfg Config) (*Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("storage: mkdir: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "peers.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: schema: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS peers (
		identifier TEXT PRIMARY KEY,
		last_seen  INTEGER NOT NULL,
		height     INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_peers_last_seen ON peers(last_seen);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SavePeer upserts a peer's last-seen time and claimed height.
func (s *Store) SavePeer(identifier string, height int, seenAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO peers (identifier, last_seen, height)
		VALUES (?, ?, ?)
		ON CONFLICT(identifier) DO UPDATE SET last_seen = excluded.last_seen, height = excluded.height
	`, identifier, seenAt.Unix(), height)
	return err
}

// PeerRecord is one cached peer entry.
type PeerRecord struct {
	Identifier string
	LastSeen   time.Time
	Height     int
}

// LoadRecent returns peers seen within the last `within` duration,
// most-recently-seen first.
func (s *Store) LoadRecent(within time.Duration, limit int) ([]PeerRecord, error) {
	cutoff := time.Now().Add(-within).Unix()
	rows, err := s.db.Query(`
		SELECT identifier, last_seen, height FROM peers
		WHERE last_seen >= ?
		ORDER BY last_seen DESC
		LIMIT ?
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PeerRecord
	for rows.Next() {
		var rec PeerRecord
		var lastSeen int64
		if err := rows.Scan(&rec.Identifier, &lastSeen, &rec.Height); err != nil {
			return nil, err
		}
		rec.LastSeen = time.Unix(lastSeen, 0)
		out = append(out, rec)
	}
	return out, rows.Err()
}
