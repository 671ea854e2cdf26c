// Package cdb provides a fingerprint store backed by CockroachDB or any other
// PostgreSQL compatible database.
package cdb

import (
	"context"
	"database/sql"
	"time"

	"github.com/Ahmed-Sermani/fscrawler/fingerprint"
	"github.com/lib/pq"
	"golang.org/x/xerrors"
)

var _ fingerprint.Store = (*CockroachDBStore)(nil)

const (
	schemaQuery = `
CREATE TABLE IF NOT EXISTS crawl_roots (
  root      TEXT PRIMARY KEY,
  id_policy TEXT NOT NULL,
  saved_at  TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS fingerprints (
  root            TEXT NOT NULL,
  path            TEXT NOT NULL,
  size            BIGINT NOT NULL,
  mod_time        BIGINT NOT NULL,
  checksum        TEXT NOT NULL,
  document_id     TEXT NOT NULL,
  last_indexed_at BIGINT NOT NULL,
  PRIMARY KEY (root, path)
);`
	getPolicyQuery = `SELECT id_policy FROM crawl_roots WHERE root = $1`
	listQuery      = `
SELECT path, size, mod_time, checksum, document_id, last_indexed_at
FROM fingerprints WHERE root = $1 ORDER BY path`
	clearQuery      = `DELETE FROM fingerprints WHERE root = $1`
	upsertRootQuery = `
INSERT INTO crawl_roots (root, id_policy, saved_at) VALUES ($1, $2, NOW())
ON CONFLICT (root) DO UPDATE SET id_policy = excluded.id_policy, saved_at = NOW()`
)

// CockroachDBStore keeps fingerprints in a shared SQL database so several
// crawler instances can hand roots over to each other. Modification times are
// stored as unix nanoseconds because TIMESTAMP columns truncate to
// microseconds.
type CockroachDBStore struct {
	db *sql.DB
}

// NewCockroachDBStore connects to the database identified by dsn and creates
// the schema if needed.
func NewCockroachDBStore(dsn string) (*CockroachDBStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, xerrors.Errorf("open fingerprint db: %w", err)
	}
	if _, err := db.Exec(schemaQuery); err != nil {
		_ = db.Close()
		return nil, xerrors.Errorf("fingerprint db schema: %w", err)
	}
	return &CockroachDBStore{db: db}, nil
}

func (c *CockroachDBStore) Close() error {
	return c.db.Close()
}

func (c *CockroachDBStore) Load(ctx context.Context, root string) (*fingerprint.Set, error) {
	var policy string
	err := c.db.QueryRowContext(ctx, getPolicyQuery, root).Scan(&policy)
	if err == sql.ErrNoRows {
		return fingerprint.NewSet(""), nil
	} else if err != nil {
		return nil, xerrors.Errorf("load fingerprints: %w", err)
	}

	rows, err := c.db.QueryContext(ctx, listQuery, root)
	if err != nil {
		return nil, xerrors.Errorf("load fingerprints: %w", err)
	}
	iter := &fingerprintIterator{rows: rows}
	defer func() { _ = iter.Close() }()

	set := fingerprint.NewSet(policy)
	for iter.Next() {
		set.Put(iter.Fingerprint())
	}
	if err := iter.Error(); err != nil {
		return nil, xerrors.Errorf("load fingerprints: %w", err)
	}
	return set, nil
}

func (c *CockroachDBStore) Save(ctx context.Context, root string, set *fingerprint.Set) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Errorf("save fingerprints: %w", err)
	}
	if err := replace(ctx, tx, root, set); err != nil {
		_ = tx.Rollback()
		if isSerializationFailure(err) {
			return xerrors.Errorf("save fingerprints: concurrent save of %q: %w", root, err)
		}
		return xerrors.Errorf("save fingerprints: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Errorf("save fingerprints: %w", err)
	}
	return nil
}

// replace swaps the rows of root inside tx, streaming the new rows with COPY.
func replace(ctx context.Context, tx *sql.Tx, root string, set *fingerprint.Set) error {
	if _, err := tx.ExecContext(ctx, clearQuery, root); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("fingerprints",
		"root", "path", "size", "mod_time", "checksum", "document_id", "last_indexed_at"))
	if err != nil {
		return err
	}
	for _, fp := range set.Fingerprints() {
		_, err := stmt.ExecContext(ctx, root, fp.Path, fp.Size, fp.ModTime.UnixNano(),
			fp.Checksum, fp.DocumentID, fp.LastIndexedAt.UnixNano())
		if err != nil {
			_ = stmt.Close()
			return err
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		return err
	}
	if err := stmt.Close(); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, upsertRootQuery, root, set.IDPolicy)
	return err
}

func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if !xerrors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "40001"
}

type fingerprintIterator struct {
	rows    *sql.Rows
	lastErr error
	latched fingerprint.Fingerprint
}

func (i *fingerprintIterator) Next() bool {
	if i.lastErr != nil || !i.rows.Next() {
		return false
	}

	var (
		fp                 fingerprint.Fingerprint
		modTime, indexedAt int64
	)
	i.lastErr = i.rows.Scan(&fp.Path, &fp.Size, &modTime, &fp.Checksum, &fp.DocumentID, &indexedAt)
	if i.lastErr != nil {
		return false
	}
	fp.ModTime = time.Unix(0, modTime).UTC()
	fp.LastIndexedAt = time.Unix(0, indexedAt).UTC()
	i.latched = fp
	return true
}

func (i *fingerprintIterator) Fingerprint() fingerprint.Fingerprint { return i.latched }

func (i *fingerprintIterator) Error() error {
	if i.lastErr != nil {
		return i.lastErr
	}
	return i.rows.Err()
}

func (i *fingerprintIterator) Close() error {
	if err := i.rows.Close(); err != nil {
		return xerrors.Errorf("fingerprint iterator: %w", err)
	}
	return nil
}
