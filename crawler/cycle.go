package crawler

import (
	"context"
	"sync/atomic"

	"github.com/Ahmed-Sermani/fscrawler/fingerprint"
	"github.com/Ahmed-Sermani/fscrawler/indexer/bulk"
	"github.com/Ahmed-Sermani/fscrawler/pipeline"
	"github.com/Ahmed-Sermani/fscrawler/pipeline/runners"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// RunCycle performs one crawl cycle: it walks the root, classifies every
// file against the saved fingerprints, indexes new and modified files,
// deletes vanished ones and saves the fingerprints the index confirmed.
//
// Per-file problems are reported in the returned Summary. The error is
// non-nil only for a *FatalRootError. Cancelling ctx stops the cycle between
// files; the fingerprints of everything confirmed so far are still saved.
//
// Calls to RunCycle for the same Crawler must not overlap.
func (c *Crawler) RunCycle(ctx context.Context) (*Summary, error) {
	sum := &Summary{
		CycleID:   uuid.New(),
		Root:      c.root,
		StartedAt: c.cfg.Clock.Now(),
	}
	logger := c.cfg.Logger.WithField("cycle_id", sum.CycleID.String())
	defer func() { sum.FinishedAt = c.cfg.Clock.Now() }()

	prev, err := c.cfg.Store.Load(ctx, c.root)
	if err != nil {
		return c.abort(ctx, sum, "load fingerprints", err)
	}
	policy := c.cfg.IDPolicy.Name()
	if prev.Len() > 0 && prev.IDPolicy != "" && prev.IDPolicy != policy {
		logger.WithFields(logrus.Fields{
			"stored_policy": prev.IDPolicy,
			"policy":        policy,
		}).Warn("document id policy changed; discarding saved fingerprints")
		prev = fingerprint.NewSet(policy)
	}

	it, err := c.cfg.Walker.Walk(ctx)
	if err != nil {
		return c.abort(ctx, sum, "walk", err)
	}

	failures := new(failureLog)
	led := newLedger(prev, policy, &c.cfg, failures)

	bulkCfg := c.cfg.Bulk
	bulkCfg.Client = c.cfg.Client
	bulkCfg.Logger = logger
	bi, err := bulk.New(bulkCfg)
	if err != nil {
		return sum, &FatalRootError{Root: c.root, Op: "bulk indexer", Err: err}
	}
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		led.collect(bi.Results())
	}()

	src := c.cfg.Walker.Source()
	cl := newClassifier(src, prev, &c.cfg)
	builder := newDocBuilder(src, &c.cfg, failures)
	p := pipeline.NewBounded(
		c.cfg.QueueSize,
		runners.FIFO(cl),
		runners.FixedWorkerPool(builder, c.cfg.ExtractWorkers),
	)
	pipeErr := p.Process(ctx, &walkSource{it: it}, &indexSink{bi: bi})

	sum.Warnings = it.Warnings()
	sum.Complete = it.Complete() && pipeErr == nil && ctx.Err() == nil
	for _, w := range sum.Warnings {
		logger.WithFields(logrus.Fields{"path": w.Path, "err": w.Err}).Warn("skipped unreadable path")
	}

	// Files that vanished before they could be read no longer keep their
	// document alive.
	var gone []fingerprint.Fingerprint
	vanished := builder.vanishedFiles()
	vanishedNew := 0
	for _, v := range vanished {
		cl.liveIDs[v.fp.DocumentID]--
		if !v.hasOld {
			vanishedNew++
			continue
		}
		gone = append(gone, v.fp)
	}
	if sum.Complete {
		gone = append(gone, cl.deleted(sum.Warnings)...)
	}

	var suppressed []fingerprint.Fingerprint
	if c.cfg.RemoveDeleted {
		for _, fp := range gone {
			sum.Removed++
			// Another live file still maps onto this document.
			if cl.liveIDs[fp.DocumentID] > 0 {
				suppressed = append(suppressed, fp)
				continue
			}
			if err := bi.Add(ctx, deleteOp(fp)); err != nil {
				pipeErr = err
				break
			}
		}
	}

	closeErr := bi.Close(ctx)
	<-collected
	led.touch(cl.touched)
	led.forget(suppressed)

	sum.Discovered = cl.discovered
	sum.New = cl.newCount - vanishedNew
	sum.Modified = cl.modified - (len(vanished) - vanishedNew)
	sum.Vanished = len(vanished)
	sum.Unchanged = cl.unchanged
	sum.Touched = len(cl.touched)
	sum.DeletesSuppressed = len(suppressed)
	sum.Indexed = led.indexed
	sum.Deleted = led.deleted
	sum.IndexFailed = led.failed
	sum.Dropped = led.dropped
	sum.ExtractFailed = int(atomic.LoadInt64(&builder.extractFailed))
	sum.Failures = failures.list()
	sum.Cancelled = ctx.Err() != nil

	// Everything confirmed so far is kept, cancelled or not.
	if err := c.cfg.Store.Save(context.WithoutCancel(ctx), c.root, led.set); err != nil {
		return sum, &FatalRootError{Root: c.root, Op: "save fingerprints", Err: err}
	}

	switch {
	case xerrors.Is(closeErr, bulk.ErrIndexUnreachable):
		return sum, &FatalRootError{Root: c.root, Op: "index", Err: closeErr}
	case pipeErr != nil && ctx.Err() == nil:
		return sum, &FatalRootError{Root: c.root, Op: "walk", Err: pipeErr}
	}

	sum.FinishedAt = c.cfg.Clock.Now()
	entry := logger.WithFields(sum.Fields())
	if sum.Cancelled {
		entry.Info("crawl cycle cancelled")
	} else {
		entry.Info("crawl cycle completed")
	}
	return sum, nil
}

// abort ends a cycle that failed before any file was processed. A failure
// caused by cancellation is not fatal.
func (c *Crawler) abort(ctx context.Context, sum *Summary, op string, err error) (*Summary, error) {
	if ctx.Err() != nil {
		sum.Cancelled = true
		return sum, nil
	}
	return sum, &FatalRootError{Root: c.root, Op: op, Err: err}
}
