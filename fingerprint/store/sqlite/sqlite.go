// Package sqlite provides a fingerprint store backed by an embedded SQLite
// database.
package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/Ahmed-Sermani/fscrawler/fingerprint"
	"golang.org/x/xerrors"

	_ "modernc.org/sqlite" // pure Go driver, registers "sqlite"
)

var _ fingerprint.Store = (*SQLiteStore)(nil)

const (
	schema = `
CREATE TABLE IF NOT EXISTS crawl_roots (
  root      TEXT PRIMARY KEY,
  id_policy TEXT NOT NULL,
  saved_at  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS fingerprints (
  root            TEXT NOT NULL,
  path            TEXT NOT NULL,
  size            INTEGER NOT NULL,
  mod_time        INTEGER NOT NULL,
  checksum        TEXT NOT NULL,
  document_id     TEXT NOT NULL,
  last_indexed_at INTEGER NOT NULL,
  PRIMARY KEY (root, path)
);`

	getPolicyQuery = `SELECT id_policy FROM crawl_roots WHERE root = ?`
	listQuery      = `
SELECT path, size, mod_time, checksum, document_id, last_indexed_at
FROM fingerprints WHERE root = ? ORDER BY path`
	clearQuery  = `DELETE FROM fingerprints WHERE root = ?`
	insertQuery = `
INSERT INTO fingerprints (root, path, size, mod_time, checksum, document_id, last_indexed_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	upsertRootQuery = `
INSERT INTO crawl_roots (root, id_policy, saved_at) VALUES (?, ?, ?)
ON CONFLICT (root) DO UPDATE SET id_policy = excluded.id_policy, saved_at = excluded.saved_at`
)

// SQLiteStore keeps the fingerprints of all roots in a single database file.
// Timestamps are stored as unix nanoseconds so modification times compare
// exactly after a round trip.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating when needed) the database at path. Use
// ":memory:" for a throw-away database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, xerrors.Errorf("open fingerprint db: %w", err)
	}
	// Single writer; this also keeps ":memory:" databases on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = FULL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, xerrors.Errorf("fingerprint db pragma: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, xerrors.Errorf("fingerprint db schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, root string) (*fingerprint.Set, error) {
	var policy string
	err := s.db.QueryRowContext(ctx, getPolicyQuery, root).Scan(&policy)
	if err == sql.ErrNoRows {
		return fingerprint.NewSet(""), nil
	} else if err != nil {
		return nil, xerrors.Errorf("load fingerprints: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, listQuery, root)
	if err != nil {
		return nil, xerrors.Errorf("load fingerprints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	set := fingerprint.NewSet(policy)
	for rows.Next() {
		var (
			fp                 fingerprint.Fingerprint
			modTime, indexedAt int64
		)
		if err := rows.Scan(&fp.Path, &fp.Size, &modTime, &fp.Checksum, &fp.DocumentID, &indexedAt); err != nil {
			return nil, xerrors.Errorf("load fingerprints: %v: %w", err, fingerprint.ErrCorrupt)
		}
		fp.ModTime = time.Unix(0, modTime).UTC()
		fp.LastIndexedAt = time.Unix(0, indexedAt).UTC()
		set.Put(fp)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Errorf("load fingerprints: %w", err)
	}
	return set, nil
}

func (s *SQLiteStore) Save(ctx context.Context, root string, set *fingerprint.Set) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Errorf("save fingerprints: %w", err)
	}
	if err := s.replace(ctx, tx, root, set); err != nil {
		_ = tx.Rollback()
		return xerrors.Errorf("save fingerprints: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Errorf("save fingerprints: %w", err)
	}
	return nil
}

func (s *SQLiteStore) replace(ctx context.Context, tx *sql.Tx, root string, set *fingerprint.Set) error {
	if _, err := tx.ExecContext(ctx, clearQuery, root); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, insertQuery)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, fp := range set.Fingerprints() {
		_, err := stmt.ExecContext(ctx, root, fp.Path, fp.Size, fp.ModTime.UnixNano(),
			fp.Checksum, fp.DocumentID, fp.LastIndexedAt.UnixNano())
		if err != nil {
			return err
		}
	}
	_, err = tx.ExecContext(ctx, upsertRootQuery, root, set.IDPolicy, time.Now().UnixNano())
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
