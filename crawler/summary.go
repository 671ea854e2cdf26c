package crawler

import (
	"sync"
	"time"

	"github.com/Ahmed-Sermani/fscrawler/walker"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Failure records a file that could not be brought in sync during a cycle.
// The file is retried on the next cycle.
type Failure struct {
	Path       string
	DocumentID string

	// Op is one of "extract", "index" or "delete".
	Op  string
	Err error
}

// Summary reports the outcome of a crawl cycle. Per-file problems end up
// here instead of failing the cycle.
type Summary struct {
	CycleID    uuid.UUID
	Root       string
	StartedAt  time.Time
	FinishedAt time.Time

	// Classifier verdicts.
	Discovered int
	New        int
	Modified   int
	Unchanged  int
	Touched    int
	Removed    int

	// Files listed by the walk but gone before they could be read. They
	// are not counted as new or modified.
	Vanished int

	// Confirmed index operations.
	Indexed int
	Deleted int

	// Deletes skipped because another live file still owns the document.
	DeletesSuppressed int

	ExtractFailed int
	IndexFailed   int

	// Operations abandoned because the cycle was cancelled.
	Dropped int

	Warnings []walker.PathWarning
	Failures []Failure

	// Complete is set when the whole tree was walked; deletions are only
	// inferred from complete walks.
	Complete  bool
	Cancelled bool
}

// Operations returns the number of index operations the cycle issued.
func (s *Summary) Operations() int {
	return s.Indexed + s.Deleted + s.IndexFailed + s.Dropped
}

// Fields returns the summary counters as log fields.
func (s *Summary) Fields() logrus.Fields {
	return logrus.Fields{
		"cycle_id":       s.CycleID.String(),
		"discovered":     s.Discovered,
		"new":            s.New,
		"modified":       s.Modified,
		"unchanged":      s.Unchanged,
		"touched":        s.Touched,
		"removed":        s.Removed,
		"vanished":       s.Vanished,
		"indexed":        s.Indexed,
		"deleted":        s.Deleted,
		"extract_failed": s.ExtractFailed,
		"index_failed":   s.IndexFailed,
		"dropped":        s.Dropped,
		"warnings":       len(s.Warnings),
		"complete":       s.Complete,
		"cancelled":      s.Cancelled,
		"duration":       s.FinishedAt.Sub(s.StartedAt).String(),
	}
}

// failureLog collects failures from concurrent pipeline workers.
type failureLog struct {
	mu       sync.Mutex
	failures []Failure
}

func (l *failureLog) add(f Failure) {
	l.mu.Lock()
	l.failures = append(l.failures, f)
	l.mu.Unlock()
}

func (l *failureLog) list() []Failure {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Failure(nil), l.failures...)
}
