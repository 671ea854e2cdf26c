// Package walker discovers the regular files of a crawl root.
package walker

import (
	"context"
	"path"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/xerrors"
)

// markerCacheSize bounds the number of directories whose ignore-marker state
// is remembered between walks.
const markerCacheSize = 4096

// FileDescriptor describes a regular file found during a walk.
type FileDescriptor struct {
	// Path is slash-separated and relative to the walked root.
	Path    string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// PathWarning reports a subtree that could not be read. The walk continues
// past it.
type PathWarning struct {
	Path string
	Err  error
}

func (w PathWarning) Error() string {
	return "path " + w.Path + ": " + w.Err.Error()
}

func (w PathWarning) Unwrap() error { return w.Err }

// Walker traverses a Source applying a Filter. A Walker may be reused for
// any number of walks but each Iterator must be consumed by one goroutine.
type Walker struct {
	src      Source
	filter   Filter
	includes matcher
	excludes matcher

	// ignored remembers directories that carried the ignore marker, keyed by
	// directory path, so that unchanged ignored trees are not listed again.
	ignored *lru.Cache[string, time.Time]
}

// New returns a Walker for src.
func New(src Source, filter Filter) (*Walker, error) {
	if src == nil {
		return nil, xerrors.New("walker: source not provided")
	}
	includes, err := compilePatterns(filter.Includes)
	if err != nil {
		return nil, xerrors.Errorf("walker includes: %w", err)
	}
	excludes, err := compilePatterns(filter.Excludes)
	if err != nil {
		return nil, xerrors.Errorf("walker excludes: %w", err)
	}
	cache, err := lru.New[string, time.Time](markerCacheSize)
	if err != nil {
		return nil, xerrors.Errorf("walker: %w", err)
	}
	return &Walker{
		src:      src,
		filter:   filter,
		includes: includes,
		excludes: excludes,
		ignored:  cache,
	}, nil
}

// Source returns the source this walker traverses.
func (w *Walker) Source() Source { return w.src }

// Walk starts a new traversal of the root. An error is returned if the root
// itself cannot be listed.
func (w *Walker) Walk(ctx context.Context) (*Iterator, error) {
	entries, err := w.src.ReadDir(ctx, ".")
	if err != nil {
		return nil, xerrors.Errorf("walk %s: %w", w.src.Name(), err)
	}

	it := &Iterator{w: w}
	it.stack = append(it.stack, frame{dir: ".", depth: 0, entries: entries})
	return it, nil
}

type frame struct {
	dir     string
	depth   int
	entries []Entry
	idx     int
}

// Iterator lazily yields the files of one walk in lexical depth-first order.
type Iterator struct {
	w        *Walker
	stack    []frame
	cur      FileDescriptor
	warnings []PathWarning
	lastErr  error
	done     bool
}

// Next advances the iterator. It returns false once the walk is exhausted,
// the context is cancelled or an error occurred.
func (it *Iterator) Next(ctx context.Context) bool {
	if it.done || it.lastErr != nil {
		return false
	}

	for len(it.stack) > 0 {
		if err := ctx.Err(); err != nil {
			it.lastErr = err
			return false
		}

		top := &it.stack[len(it.stack)-1]
		if top.idx >= len(top.entries) {
			it.stack = it.stack[:len(it.stack)-1]
			continue
		}
		entry := top.entries[top.idx]
		top.idx++
		relPath := joinRel(top.dir, entry.Name)
		depth := top.depth + 1

		if !it.w.filter.IncludeHidden && strings.HasPrefix(entry.Name, ".") {
			continue
		}

		if entry.IsSymlink {
			if !it.w.filter.FollowSymlinks {
				continue
			}
			target, err := it.w.src.Stat(ctx, relPath)
			if err != nil {
				it.warn(relPath, err)
				continue
			}
			target.Name = entry.Name
			entry = target
		}

		if entry.IsDir {
			it.descend(ctx, relPath, depth, entry)
			continue
		}

		if !it.w.accept(relPath, entry) {
			continue
		}
		it.cur = FileDescriptor{
			Path:    relPath,
			Size:    entry.Size,
			ModTime: entry.ModTime,
		}
		return true
	}

	it.done = true
	return false
}

func (it *Iterator) descend(ctx context.Context, relPath string, depth int, entry Entry) {
	f := it.w.filter
	if f.MaxDepth > 0 && depth >= f.MaxDepth {
		return
	}
	if f.MaxDepth == 0 && f.FollowSymlinks && depth >= maxFollowDepth {
		it.warn(relPath, xerrors.New("maximum traversal depth reached"))
		return
	}
	if it.w.excludes.match(relPath) {
		return
	}
	if modTime, ok := it.w.ignored.Get(relPath); ok && modTime.Equal(entry.ModTime) {
		return
	}

	entries, err := it.w.src.ReadDir(ctx, relPath)
	if err != nil {
		it.warn(relPath, err)
		return
	}
	for _, e := range entries {
		if e.Name == IgnoreMarker && !e.IsDir {
			it.w.ignored.Add(relPath, entry.ModTime)
			return
		}
	}
	it.w.ignored.Remove(relPath)
	it.stack = append(it.stack, frame{dir: relPath, depth: depth, entries: entries})
}

func (w *Walker) accept(relPath string, entry Entry) bool {
	if entry.Name == IgnoreMarker {
		return false
	}
	if w.filter.IgnoreAbove > 0 && entry.Size > w.filter.IgnoreAbove {
		return false
	}
	if w.excludes.match(relPath) {
		return false
	}
	if !w.includes.empty() && !w.includes.match(relPath) {
		return false
	}
	return true
}

func (it *Iterator) warn(p string, err error) {
	it.warnings = append(it.warnings, PathWarning{Path: p, Err: err})
}

// Descriptor returns the file the iterator currently points to.
func (it *Iterator) Descriptor() FileDescriptor { return it.cur }

// Warnings returns the recoverable errors observed so far.
func (it *Iterator) Warnings() []PathWarning { return it.warnings }

// Error returns the error that stopped the walk, if any.
func (it *Iterator) Error() error { return it.lastErr }

// Complete reports whether every directory of the root was visited. Deleted
// files may only be inferred from complete walks.
func (it *Iterator) Complete() bool { return it.done && it.lastErr == nil }

func joinRel(dir, name string) string {
	if dir == "." {
		return name
	}
	return path.Join(dir, name)
}
