// Package bulk batches index operations into bulk requests, retries items
// the search engine rejected and bounds the number of requests in flight.
package bulk

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/Ahmed-Sermani/fscrawler/indexer"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

var (
	// ErrIndexUnreachable is returned by Close when no bulk request ever
	// reached the search engine.
	ErrIndexUnreachable = xerrors.New("search index unreachable")

	// ErrDropped is reported for operations that were never sent because
	// the context was cancelled.
	ErrDropped = xerrors.New("operation dropped before submission")

	// ErrClosed is returned by Add after Close was called.
	ErrClosed = xerrors.New("bulk indexer closed")
)

// Config encapsulates the settings for a bulk Indexer.
type Config struct {
	// The client that receives the bulk requests.
	Client indexer.Client

	// A batch is submitted once it holds MaxDocs operations or its
	// estimated size reaches MaxBytes.
	MaxDocs  int
	MaxBytes int

	// The maximum number of bulk requests in flight. Add blocks while the
	// limit is reached.
	MaxInFlight int

	// The number of times a rejected operation is resubmitted before it is
	// reported as failed.
	MaxRetries int

	// The deadline of a single bulk request. Requests are detached from the
	// cancellation of the caller's context and bounded by this timeout.
	RequestTimeout time.Duration

	// The logger to use. If not defined an output-discarding logger will
	// be used instead.
	Logger *logrus.Entry
}

func (cfg *Config) validate() error {
	var err error
	if cfg.Client == nil {
		err = multierror.Append(err, xerrors.Errorf("index client not provided"))
	}
	if cfg.MaxDocs <= 0 {
		cfg.MaxDocs = 100
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 10 << 20
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 1
	}
	if cfg.MaxRetries < 0 {
		err = multierror.Append(err, xerrors.Errorf("invalid value for max retries"))
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		l := logrus.New()
		l.Out = io.Discard
		cfg.Logger = logrus.NewEntry(l)
	}
	return err
}

// Result is the final outcome of an operation passed to Add. Every added
// operation yields exactly one Result.
type Result struct {
	Op indexer.Operation

	// Err is nil when the search engine confirmed the operation.
	Err error

	// Attempts is the number of bulk requests the operation was part of.
	Attempts int
}

type pending struct {
	op       indexer.Operation
	size     int
	attempts int
}

// Indexer accumulates operations into bulk requests. Add and Close may be
// called from a single goroutine while another one drains Results.
type Indexer struct {
	cfg     Config
	g       errgroup.Group
	results chan Result

	mu         sync.Mutex
	batch      []pending
	batchBytes int
	closed     bool

	succeeded     bool
	transportErrs int
	lastErr       error
}

// New returns a bulk Indexer for the provided config.
func New(cfg Config) (*Indexer, error) {
	if err := cfg.validate(); err != nil {
		return nil, xerrors.Errorf("bulk indexer: config validation failed: %w", err)
	}
	i := &Indexer{
		cfg:     cfg,
		results: make(chan Result, cfg.MaxDocs),
	}
	i.g.SetLimit(cfg.MaxInFlight)
	return i, nil
}

// Results returns the channel on which operation outcomes are published. It
// is closed when Close returns.
func (i *Indexer) Results() <-chan Result {
	return i.results
}

// Add queues op. A full batch is submitted before Add returns; Add blocks
// while MaxInFlight requests are outstanding. If ctx is already cancelled
// the operation is reported as dropped.
func (i *Indexer) Add(ctx context.Context, op indexer.Operation) error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return ErrClosed
	}
	i.mu.Unlock()

	if err := ctx.Err(); err != nil {
		i.emit(Result{Op: op, Err: xerrors.Errorf("%v: %w", err, ErrDropped)})
		return nil
	}

	p := pending{op: op, size: op.EstimatedSize()}
	i.mu.Lock()
	var flush []pending
	if len(i.batch) > 0 && i.batchBytes+p.size > i.cfg.MaxBytes {
		flush = i.takeBatchLocked()
	}
	i.batch = append(i.batch, p)
	i.batchBytes += p.size
	i.mu.Unlock()

	if flush != nil {
		i.submitAll(ctx, flush)
	}
	i.flushIfFull(ctx)
	return nil
}

// Close submits the remaining operations, resubmits rejected ones until
// they succeed or run out of retries and waits for every request. If ctx is
// cancelled unsent operations are reported as dropped instead. Close
// returns ErrIndexUnreachable if no request ever reached the engine.
func (i *Indexer) Close(ctx context.Context) error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return ErrClosed
	}
	i.closed = true
	i.mu.Unlock()

	// In-flight requests may queue retries, so the batch is only known to
	// be final once nothing is outstanding.
	for {
		_ = i.g.Wait()
		i.mu.Lock()
		batch := i.takeBatchLocked()
		i.mu.Unlock()
		if len(batch) == 0 {
			break
		}
		if ctx.Err() != nil {
			i.drop(ctx, batch)
			continue
		}
		i.submitAll(ctx, batch)
	}
	close(i.results)

	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.succeeded && i.transportErrs > 0 {
		return xerrors.Errorf("%v: %w", i.lastErr, ErrIndexUnreachable)
	}
	return nil
}

func (i *Indexer) flushIfFull(ctx context.Context) {
	i.mu.Lock()
	if len(i.batch) < i.cfg.MaxDocs && i.batchBytes < i.cfg.MaxBytes {
		i.mu.Unlock()
		return
	}
	batch := i.takeBatchLocked()
	i.mu.Unlock()
	i.submitAll(ctx, batch)
}

func (i *Indexer) submitAll(ctx context.Context, batch []pending) {
	for len(batch) > 0 {
		n := i.splitPoint(batch)
		i.submit(ctx, batch[:n])
		batch = batch[n:]
	}
}

// splitPoint returns how many leading operations of batch fit in a single
// request.
func (i *Indexer) splitPoint(batch []pending) int {
	var size int
	for n, p := range batch {
		if n == i.cfg.MaxDocs || (n > 0 && size+p.size > i.cfg.MaxBytes) {
			return n
		}
		size += p.size
	}
	return len(batch)
}

func (i *Indexer) takeBatchLocked() []pending {
	batch := i.batch
	i.batch = nil
	i.batchBytes = 0
	return batch
}

func (i *Indexer) submit(ctx context.Context, batch []pending) {
	if ctx.Err() != nil {
		i.drop(ctx, batch)
		return
	}
	reqCtx := context.WithoutCancel(ctx)
	i.g.Go(func() error {
		i.send(reqCtx, batch)
		return nil
	})
}

func (i *Indexer) send(ctx context.Context, batch []pending) {
	ctx, cancel := context.WithTimeout(ctx, i.cfg.RequestTimeout)
	defer cancel()

	ops := make([]indexer.Operation, len(batch))
	for n, p := range batch {
		ops[n] = p.op
		batch[n].attempts++
	}

	res, err := i.cfg.Client.Bulk(ctx, ops)
	if err == nil && len(res) != len(ops) {
		err = xerrors.Errorf("bulk: expected %d results, got %d", len(ops), len(res))
	}
	if err != nil {
		i.cfg.Logger.WithFields(logrus.Fields{
			"err":   err,
			"items": len(ops),
		}).Warn("bulk request failed")
		i.mu.Lock()
		i.transportErrs++
		i.lastErr = err
		i.mu.Unlock()
		for _, p := range batch {
			i.retry(p, err)
		}
		return
	}

	i.mu.Lock()
	i.succeeded = true
	i.mu.Unlock()
	for n, p := range batch {
		if res[n].Err == nil {
			i.emit(Result{Op: p.op, Attempts: p.attempts})
			continue
		}
		i.retry(p, res[n].Err)
	}
}

// retry queues p for the next request or reports it as failed once its
// retries are exhausted.
func (i *Indexer) retry(p pending, err error) {
	if p.attempts > i.cfg.MaxRetries {
		i.cfg.Logger.WithFields(logrus.Fields{
			"id":       p.op.ID,
			"op":       p.op.Type.String(),
			"attempts": p.attempts,
			"err":      err,
		}).Warn("giving up on bulk item")
		i.emit(Result{Op: p.op, Err: err, Attempts: p.attempts})
		return
	}
	i.mu.Lock()
	i.batch = append(i.batch, p)
	i.batchBytes += p.size
	i.mu.Unlock()
}

func (i *Indexer) drop(ctx context.Context, batch []pending) {
	for _, p := range batch {
		i.emit(Result{Op: p.op, Err: xerrors.Errorf("%v: %w", ctx.Err(), ErrDropped), Attempts: p.attempts})
	}
}

func (i *Indexer) emit(r Result) {
	i.results <- r
}
