// Package file provides a fingerprint store that keeps one JSON document per
// crawl root in a state directory.
package file

import (
	"bufio"
	"context"
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/Ahmed-Sermani/fscrawler/fingerprint"
	"github.com/gofrs/flock"
	"golang.org/x/xerrors"
)

const formatVersion = 1

var (
	_ fingerprint.Store  = (*Store)(nil)
	_ fingerprint.Locker = (*Store)(nil)
)

type fileDoc struct {
	Version      int       `json:"version"`
	IDPolicy     string    `json:"id_policy"`
	SavedAt      time.Time `json:"saved_at"`
	Fingerprints []fileFP  `json:"fingerprints"`
}

type fileFP struct {
	Path          string    `json:"path"`
	Size          int64     `json:"size"`
	ModTime       time.Time `json:"mod_time"`
	Checksum      string    `json:"checksum,omitempty"`
	DocumentID    string    `json:"document_id"`
	LastIndexedAt time.Time `json:"last_indexed_at"`
}

// Store persists fingerprint sets as <dir>/<root>.json. Saves write a
// temporary file in the same directory and rename it over the previous one.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir, creating it when missing.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, xerrors.Errorf("fingerprint file store: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) statusPath(root string) string {
	return filepath.Join(s.dir, url.PathEscape(root)+".json")
}

func (s *Store) Load(ctx context.Context, root string) (*fingerprint.Set, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.statusPath(root))
	if err != nil {
		if xerrors.Is(err, os.ErrNotExist) {
			return fingerprint.NewSet(""), nil
		}
		return nil, xerrors.Errorf("load fingerprints: %w", err)
	}
	defer func() { _ = f.Close() }()

	var doc fileDoc
	if err := json.NewDecoder(bufio.NewReader(f)).Decode(&doc); err != nil {
		return nil, xerrors.Errorf("load fingerprints of %q: %v: %w", root, err, fingerprint.ErrCorrupt)
	}
	if doc.Version != formatVersion {
		return nil, xerrors.Errorf("load fingerprints of %q: unsupported version %d: %w", root, doc.Version, fingerprint.ErrCorrupt)
	}

	set := fingerprint.NewSet(doc.IDPolicy)
	for _, fp := range doc.Fingerprints {
		set.Put(fingerprint.Fingerprint{
			Path:          fp.Path,
			Size:          fp.Size,
			ModTime:       fp.ModTime,
			Checksum:      fp.Checksum,
			DocumentID:    fp.DocumentID,
			LastIndexedAt: fp.LastIndexedAt,
		})
	}
	return set, nil
}

func (s *Store) Save(ctx context.Context, root string, set *fingerprint.Set) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc := fileDoc{
		Version:      formatVersion,
		IDPolicy:     set.IDPolicy,
		SavedAt:      time.Now().UTC(),
		Fingerprints: make([]fileFP, 0, set.Len()),
	}
	for _, fp := range set.Fingerprints() {
		doc.Fingerprints = append(doc.Fingerprints, fileFP{
			Path:          fp.Path,
			Size:          fp.Size,
			ModTime:       fp.ModTime.UTC(),
			Checksum:      fp.Checksum,
			DocumentID:    fp.DocumentID,
			LastIndexedAt: fp.LastIndexedAt.UTC(),
		})
	}

	target := s.statusPath(root)
	tmp, err := os.CreateTemp(s.dir, filepath.Base(target)+".tmp-*")
	if err != nil {
		return xerrors.Errorf("save fingerprints: %w", err)
	}
	tmpName := tmp.Name()
	// The rename below makes this a no-op on success.
	defer func() { _ = os.Remove(tmpName) }()

	w := bufio.NewWriter(tmp)
	if err = json.NewEncoder(w).Encode(doc); err == nil {
		err = w.Flush()
	}
	if err == nil {
		err = tmp.Sync()
	}
	if cErr := tmp.Close(); err == nil {
		err = cErr
	}
	if err != nil {
		return xerrors.Errorf("save fingerprints: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return xerrors.Errorf("save fingerprints: %w", err)
	}
	return nil
}

// TryLock acquires an exclusive advisory lock on <dir>/<root>.lock.
func (s *Store) TryLock(root string) (func() error, error) {
	lock := flock.New(filepath.Join(s.dir, url.PathEscape(root)+".lock"))
	acquired, err := lock.TryLock()
	if err != nil {
		return nil, xerrors.Errorf("lock %q: %w", root, err)
	}
	if !acquired {
		return nil, xerrors.Errorf("lock %q: %w", root, fingerprint.ErrLocked)
	}
	return lock.Unlock, nil
}

func (s *Store) Close() error { return nil }
