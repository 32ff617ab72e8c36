// Package store persists the durable update log backing the relay server:
// every CRDT update it ever broadcasts is appended here first, so a restart
// (or a client that was offline for days) can always be caught up from
// scratch rather than from whatever happened to still be resident in memory.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/syncline/syncline/internal/logger"
)

// Store wraps a SQLite-backed append-only log of CRDT updates, keyed by the
// document ID they belong to.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS updates (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	doc_id      TEXT NOT NULL,
	update_data BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_updates_doc_id ON updates(doc_id);
`

// Open opens (creating if necessary) the SQLite database named by dsn and
// ensures the update log schema exists. dsn may be a bare filesystem path or
// a "sqlite://path?query" URL; any query parameters the caller supplies
// (e.g. "?mode=ro") are preserved and merged with this package's own
// required pragmas (_journal_mode, _foreign_keys) rather than silently
// discarded, with the caller's value winning on a key collision.
func Open(ctx context.Context, dsn string) (*Store, error) {
	path, query, err := splitDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn %s: %w", dsn, err)
	}

	db, err := sql.Open("sqlite3", path+"?"+query.Encode())
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // mattn/go-sqlite3 serializes writers anyway; avoid SQLITE_BUSY churn

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate schema: %w", err)
	}

	logger.Info("store: opened %s", path)
	return &Store{db: db}, nil
}

// splitDSN separates dsn's bare filesystem path from its query parameters,
// stripping a leading "sqlite://" scheme if present, and fills in this
// package's default pragmas for any the caller didn't already set.
func splitDSN(dsn string) (path string, query url.Values, err error) {
	rest := strings.TrimPrefix(dsn, "sqlite://")
	path = rest
	query = url.Values{}
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		path = rest[:i]
		query, err = url.ParseQuery(rest[i+1:])
		if err != nil {
			return "", nil, err
		}
	}
	if query.Get("_journal_mode") == "" {
		query.Set("_journal_mode", "WAL")
	}
	if query.Get("_foreign_keys") == "" {
		query.Set("_foreign_keys", "on")
	}
	return path, query, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append records update as the next entry in docID's log.
func (s *Store) Append(ctx context.Context, docID string, update []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO updates (doc_id, update_data) VALUES (?, ?)`, docID, update)
	if err != nil {
		return fmt.Errorf("store: append update for %s: %w", docID, err)
	}
	return nil
}

// LoadAll returns every update ever appended for docID, in the order they
// were written — the sequence a freshly started relay replays into an
// in-memory document to reconstruct its current CRDT state.
func (s *Store) LoadAll(ctx context.Context, docID string) ([][]byte, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT update_data FROM updates WHERE doc_id = ? ORDER BY id ASC`, docID)
	if err != nil {
		return nil, fmt.Errorf("store: load updates for %s: %w", docID, err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("store: scan update for %s: %w", docID, err)
		}
		out = append(out, data)
	}
	return out, rows.Err()
}

// ListDocIDs returns every distinct document ID the log has ever seen, used
// to warm the relay's in-memory document set on startup.
func (s *Store) ListDocIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT doc_id FROM updates`)
	if err != nil {
		return nil, fmt.Errorf("store: list doc ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan doc id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
