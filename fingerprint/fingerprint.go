// Package fingerprint keeps track of what was last indexed for every file of
// a crawl root.
package fingerprint

import (
	"context"
	"sort"
	"time"

	"golang.org/x/xerrors"
)

var (
	// ErrCorrupt is returned by stores when a persisted set cannot be decoded.
	ErrCorrupt = xerrors.New("fingerprint store corrupt")

	// ErrLocked is returned when another process holds the cycle lock of a
	// root.
	ErrLocked = xerrors.New("root locked by another crawler")
)

// Fingerprint is the persisted record of a file's last indexed state.
type Fingerprint struct {
	Path          string
	Size          int64
	ModTime       time.Time
	Checksum      string
	DocumentID    string
	LastIndexedAt time.Time
}

// Set maps file paths to their fingerprints. A Set is not safe for
// concurrent mutation; a crawl cycle owns the set it works on.
type Set struct {
	// IDPolicy records the name of the document id policy the fingerprints
	// were produced with.
	IDPolicy string

	entries map[string]Fingerprint
}

// NewSet returns an empty set for the given id policy.
func NewSet(idPolicy string) *Set {
	return &Set{IDPolicy: idPolicy, entries: make(map[string]Fingerprint)}
}

// Get looks up the fingerprint for path.
func (s *Set) Get(path string) (Fingerprint, bool) {
	fp, ok := s.entries[path]
	return fp, ok
}

// Put inserts or replaces the fingerprint for fp.Path.
func (s *Set) Put(fp Fingerprint) {
	if s.entries == nil {
		s.entries = make(map[string]Fingerprint)
	}
	s.entries[fp.Path] = fp
}

// Delete removes the fingerprint for path.
func (s *Set) Delete(path string) {
	delete(s.entries, path)
}

// Len returns the number of fingerprints in the set.
func (s *Set) Len() int { return len(s.entries) }

// Paths returns the paths in the set in lexical order.
func (s *Set) Paths() []string {
	paths := make([]string, 0, len(s.entries))
	for p := range s.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Fingerprints returns all fingerprints ordered by path.
func (s *Set) Fingerprints() []Fingerprint {
	paths := s.Paths()
	list := make([]Fingerprint, len(paths))
	for i, p := range paths {
		list[i] = s.entries[p]
	}
	return list
}

// Clone returns a deep copy of the set.
func (s *Set) Clone() *Set {
	cp := &Set{IDPolicy: s.IDPolicy, entries: make(map[string]Fingerprint, len(s.entries))}
	for k, v := range s.entries {
		cp.entries[k] = v
	}
	return cp
}

// Store persists one Set per crawl root. Implementations must replace the
// whole set atomically on Save so that a crash never leaves a partially
// written set behind.
type Store interface {
	// Load returns the set saved for root, or an empty set if nothing was
	// saved yet.
	Load(ctx context.Context, root string) (*Set, error)

	// Save atomically replaces the set stored for root.
	Save(ctx context.Context, root string, set *Set) error

	// Close releases the resources held by the store.
	Close() error
}

// Locker is implemented by stores that can guard a root against concurrent
// crawl cycles running in other processes.
type Locker interface {
	// TryLock acquires the cycle lock for root without blocking. It
	// returns ErrLocked if the lock is held elsewhere.
	TryLock(root string) (unlock func() error, err error)
}
