package crawler

import (
	"fmt"

	"github.com/Ahmed-Sermani/fscrawler/fingerprint"
	"golang.org/x/xerrors"
)

// FatalRootError aborts a crawl cycle. It is returned when the root cannot
// be listed, the fingerprint store cannot be read or written or the search
// index could not be reached at all.
type FatalRootError struct {
	Root string
	Op   string
	Err  error
}

func (e *FatalRootError) Error() string {
	return fmt.Sprintf("crawl %s: %s: %v", e.Root, e.Op, e.Err)
}

func (e *FatalRootError) Unwrap() error { return e.Err }

// IsFatal reports whether err aborted a cycle.
func IsFatal(err error) bool {
	var fatal *FatalRootError
	return xerrors.As(err, &fatal)
}

// IsLocked reports whether err was caused by another process holding the
// root's cycle lock.
func IsLocked(err error) bool {
	return xerrors.Is(err, fingerprint.ErrLocked)
}
