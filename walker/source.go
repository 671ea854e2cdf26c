package walker

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"golang.org/x/xerrors"
)

// Entry describes a single directory entry as reported by a Source.
type Entry struct {
	Name      string
	IsDir     bool
	IsSymlink bool
	Size      int64
	ModTime   time.Time
}

// Source is the file-listing capability the walker depends on. Paths are
// slash-separated and relative to the source root; the root itself is ".".
type Source interface {
	// Name returns a stable identity for the source root. It is folded into
	// generated document IDs so that equal relative paths under different
	// roots never collide.
	Name() string

	// ReadDir returns the entries of dir sorted by name. Symbolic links are
	// reported as such and are not followed.
	ReadDir(ctx context.Context, dir string) ([]Entry, error)

	// Stat returns the entry for p following symbolic links.
	Stat(ctx context.Context, p string) (Entry, error)

	// Open opens p for reading. Callers must close the returned reader.
	Open(ctx context.Context, p string) (io.ReadCloser, error)

	// Abs returns the location of p as presented to users and stored in the
	// index (an absolute path for local sources).
	Abs(p string) string
}

type fsSource struct {
	name string
	base string
	fsys fs.FS
}

// Local returns a Source for a directory on the local filesystem.
func Local(root string) (Source, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, xerrors.Errorf("local source: %w", err)
	}
	return &fsSource{name: abs, base: abs, fsys: os.DirFS(abs)}, nil
}

// FromFS returns a Source backed by fsys. The name identifies the root and is
// used as the prefix of the paths returned by Abs.
func FromFS(name string, fsys fs.FS) Source {
	return &fsSource{name: name, base: name, fsys: fsys}
}

func (s *fsSource) Name() string { return s.name }

func (s *fsSource) ReadDir(ctx context.Context, dir string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dirEntries, err := fs.ReadDir(s.fsys, dir)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		info, err := de.Info()
		if err != nil {
			// The entry vanished between listing and stat.
			if xerrors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		entries = append(entries, Entry{
			Name:      de.Name(),
			IsDir:     de.IsDir(),
			IsSymlink: de.Type()&fs.ModeSymlink != 0,
			Size:      info.Size(),
			ModTime:   info.ModTime(),
		})
	}
	return entries, nil
}

func (s *fsSource) Stat(ctx context.Context, p string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	info, err := fs.Stat(s.fsys, p)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		Name:    info.Name(),
		IsDir:   info.IsDir(),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

func (s *fsSource) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.fsys.Open(p)
}

func (s *fsSource) Abs(p string) string {
	if p == "." || p == "" {
		return s.base
	}
	if filepath.IsAbs(s.base) {
		return filepath.Join(s.base, filepath.FromSlash(p))
	}
	return path.Join(s.base, p)
}
