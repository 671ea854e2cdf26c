package crawler

import (
	"github.com/Ahmed-Sermani/fscrawler/fingerprint"
	"github.com/Ahmed-Sermani/fscrawler/indexer/bulk"
	"github.com/juju/clock"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// ledger builds the fingerprint set that is saved at the end of a cycle. It
// starts as a copy of the previous set and only changes when the index
// confirms an operation, so the saved set never runs ahead of the index.
type ledger struct {
	set      *fingerprint.Set
	clock    clock.Clock
	logger   *logrus.Entry
	failures *failureLog

	indexed, deleted, failed, dropped int
}

func newLedger(prev *fingerprint.Set, policy string, cfg *Config, failures *failureLog) *ledger {
	set := prev.Clone()
	set.IDPolicy = policy
	return &ledger{
		set:      set,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		failures: failures,
	}
}

// collect applies results until the bulk indexer closes its result channel.
func (l *ledger) collect(results <-chan bulk.Result) {
	for r := range results {
		l.apply(r)
	}
}

func (l *ledger) apply(r bulk.Result) {
	if xerrors.Is(r.Err, bulk.ErrDropped) {
		l.dropped++
		return
	}

	switch tag := r.Op.Tag.(type) {
	case upsertTag:
		if r.Err != nil {
			// New files stay unknown and modified ones keep their old
			// fingerprint so the next cycle tries again.
			l.failed++
			l.fail(tag.fp.Path, "index", r)
			return
		}
		fp := tag.fp
		fp.LastIndexedAt = l.clock.Now()
		l.set.Put(fp)
		l.indexed++
	case deleteTag:
		if r.Err != nil {
			l.failed++
			l.fail(tag.path, "delete", r)
			return
		}
		l.set.Delete(tag.path)
		l.deleted++
	}
}

func (l *ledger) fail(p, op string, r bulk.Result) {
	l.logger.WithFields(logrus.Fields{
		"path":     p,
		"id":       r.Op.ID,
		"attempts": r.Attempts,
		"err":      r.Err,
	}).Warnf("%s failed", op)
	l.failures.add(Failure{Path: p, DocumentID: r.Op.ID, Op: op, Err: r.Err})
}

// touch refreshes fingerprints whose content was proven unchanged.
func (l *ledger) touch(fps []fingerprint.Fingerprint) {
	for _, fp := range fps {
		l.set.Put(fp)
	}
}

// forget drops fingerprints without touching the index.
func (l *ledger) forget(fps []fingerprint.Fingerprint) {
	for _, fp := range fps {
		l.set.Delete(fp.Path)
	}
}
