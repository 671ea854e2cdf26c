// Package crawler schedules the crawl cycles of a single root.
package crawler

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/Ahmed-Sermani/fscrawler/crawler"
	"github.com/Ahmed-Sermani/fscrawler/fingerprint"
	"github.com/Ahmed-Sermani/fscrawler/partition"
	"github.com/hashicorp/go-multierror"
	"github.com/juju/clock"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

//go:generate mockgen -package mocks -destination mocks/mocks.go github.com/Ahmed-Sermani/fscrawler/service/crawler Cycler

// Cycler is implemented by objects that can run a crawl cycle.
type Cycler interface {
	Root() string
	RunCycle(ctx context.Context) (*crawler.Summary, error)
}

// State describes what the scheduler is doing.
type State int

const (
	// StateIdle means no cycle is running.
	StateIdle State = iota
	// StateRunning means a cycle is in progress.
	StateRunning
	// StateFailed means the last cycle ended with a fatal error.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config encapsulates the settings for configuring the crawl scheduler
// service of one root.
type Config struct {
	// The job name. It is used for logging and by the admin API.
	Name string

	// The crawler that runs the cycles.
	Crawler Cycler

	// An optional lock that prevents cycles of other processes from
	// overlapping with ours.
	Locker fingerprint.Locker

	// An optional partition detector. Roots owned by another partition are
	// never crawled by this instance.
	PartitionDetector partition.Detector

	// A clock instance for generating time-related events. If not
	// specified, the default wall-clock will be used instead.
	Clock clock.Clock

	// The time between subsequent crawl cycles. Zero disables periodic
	// cycles; cycles then only run when triggered.
	UpdateInterval time.Duration

	// The maximum duration of a cycle. Zero means no limit.
	CycleTimeout time.Duration

	// After a fatal error, Run returns it when StopOnFailure is set.
	// Otherwise the next cycle is attempted after RetryBackoff.
	StopOnFailure bool
	RetryBackoff  time.Duration

	// An optional local directory to watch for changes. Changes trigger a
	// cycle once no further change was seen for WatchDebounce.
	WatchDir      string
	WatchDebounce time.Duration

	// The logger to use. If not defined an output-discarding logger will
	// be used instead.
	Logger *logrus.Entry
}

func (cfg *Config) validate() error {
	var err error
	if cfg.Crawler == nil {
		err = multierror.Append(err, xerrors.Errorf("crawler not provided"))
	}
	if cfg.Name == "" && cfg.Crawler != nil {
		cfg.Name = cfg.Crawler.Root()
	}
	if cfg.UpdateInterval < 0 {
		err = multierror.Append(err, xerrors.Errorf("invalid value for update interval"))
	}
	if cfg.CycleTimeout < 0 {
		err = multierror.Append(err, xerrors.Errorf("invalid value for cycle timeout"))
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Minute
	}
	if cfg.WatchDebounce <= 0 {
		cfg.WatchDebounce = 2 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		l := logrus.New()
		l.Out = io.Discard
		cfg.Logger = logrus.NewEntry(l)
	}
	return err
}

// Status is a snapshot of the scheduler state.
type Status struct {
	Name        string
	Root        string
	State       State
	Cycles      int
	LastSummary *crawler.Summary
	LastError   error
}

// Service runs the crawl cycles of one root, never more than one at a
// time.
type Service struct {
	cfg Config

	triggerCh chan struct{}

	mu          sync.Mutex
	state       State
	pending     bool
	stopped     bool
	cycles      int
	lastSummary *crawler.Summary
	lastErr     error
}

// NewService creates a new crawl scheduler instance with the specified
// config.
func NewService(cfg Config) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, xerrors.Errorf("crawler service: config validation failed: %w", err)
	}
	cfg.Logger = cfg.Logger.WithField("job", cfg.Name)
	return &Service{
		cfg:       cfg,
		triggerCh: make(chan struct{}, 1),
	}, nil
}

// Name implements service.Service
func (svc *Service) Name() string { return "crawler:" + svc.cfg.Name }

// JobName returns the configured job name.
func (svc *Service) JobName() string { return svc.cfg.Name }

// TriggerCycle requests a cycle to run as soon as possible. It returns
// false if a cycle is already running or about to run, or if Run has
// returned.
func (svc *Service) TriggerCycle() bool {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if svc.stopped || svc.state == StateRunning || svc.pending {
		return false
	}
	svc.pending = true
	select {
	case svc.triggerCh <- struct{}{}:
	default: // a stale trigger is still queued.
	}
	return true
}

// State returns the current scheduler state.
func (svc *Service) State() State {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.state
}

// Status returns a snapshot of the scheduler.
func (svc *Service) Status() Status {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return Status{
		Name:        svc.cfg.Name,
		Root:        svc.cfg.Crawler.Root(),
		State:       svc.state,
		Cycles:      svc.cycles,
		LastSummary: svc.lastSummary,
		LastError:   svc.lastErr,
	}
}

// Run implements service.Service. It blocks until ctx is cancelled or, with
// StopOnFailure, a cycle fails.
func (svc *Service) Run(ctx context.Context) error {
	svc.cfg.Logger.WithFields(logrus.Fields{
		"root":            svc.cfg.Crawler.Root(),
		"update_interval": svc.cfg.UpdateInterval.String(),
	}).Info("starting service")
	defer svc.cfg.Logger.Info("stopped service")
	defer func() {
		svc.mu.Lock()
		svc.stopped = true
		svc.pending = false
		svc.mu.Unlock()
	}()

	var watchCh <-chan struct{}
	if svc.cfg.WatchDir != "" {
		w, err := newWatcher(svc.cfg.WatchDir, svc.cfg.WatchDebounce, svc.cfg.Clock, svc.cfg.Logger)
		if err != nil {
			return err
		}
		defer func() { _ = w.close() }()
		go w.run(ctx)
		watchCh = w.changes()
	}

	timerCh := svc.after(svc.cfg.UpdateInterval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timerCh:
		case <-svc.triggerCh:
		case <-watchCh:
		}

		err := svc.runCycle(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			timerCh = svc.after(svc.cfg.UpdateInterval)
			continue
		}
		if svc.cfg.StopOnFailure {
			return err
		}
		svc.cfg.Logger.WithFields(logrus.Fields{
			"err":   err,
			"retry": svc.cfg.RetryBackoff.String(),
		}).Error("crawl cycle failed")
		timerCh = svc.after(svc.cfg.RetryBackoff)
	}
}

func (svc *Service) after(d time.Duration) <-chan time.Time {
	if d <= 0 {
		return nil
	}
	return svc.cfg.Clock.After(d)
}

// runCycle executes one cycle and returns its fatal error, if any.
func (svc *Service) runCycle(ctx context.Context) error {
	root := svc.cfg.Crawler.Root()
	if det := svc.cfg.PartitionDetector; det != nil {
		owns, err := partition.Owns(det, root)
		switch {
		case xerrors.Is(err, partition.ErrNoPartitionDataAvailableYet):
			svc.cfg.Logger.Warn("deferring crawl cycle: partition data not yet available")
			svc.clearPending()
			return nil
		case err != nil:
			svc.clearPending()
			return err
		case !owns:
			svc.cfg.Logger.Debug("skipping crawl cycle: root assigned to another partition")
			svc.clearPending()
			return nil
		}
	}

	if svc.cfg.Locker != nil {
		unlock, err := svc.cfg.Locker.TryLock(root)
		if xerrors.Is(err, fingerprint.ErrLocked) {
			svc.cfg.Logger.Warn("skipping crawl cycle: root is being crawled by another process")
			svc.clearPending()
			return nil
		} else if err != nil {
			svc.finish(nil, err)
			return err
		}
		defer func() {
			if err := unlock(); err != nil {
				svc.cfg.Logger.WithField("err", err).Warn("unable to release cycle lock")
			}
		}()
	}

	svc.mu.Lock()
	svc.state = StateRunning
	svc.pending = false
	svc.mu.Unlock()
	// Drop a trigger that raced with the start of this cycle.
	select {
	case <-svc.triggerCh:
	default:
	}

	cycleCtx := ctx
	if svc.cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		cycleCtx, cancel = context.WithTimeout(ctx, svc.cfg.CycleTimeout)
		defer cancel()
	}

	svc.cfg.Logger.Info("starting crawl cycle")
	sum, err := svc.cfg.Crawler.RunCycle(cycleCtx)
	svc.finish(sum, err)
	return err
}

func (svc *Service) finish(sum *crawler.Summary, err error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.cycles++
	svc.pending = false
	if sum != nil {
		svc.lastSummary = sum
	}
	svc.lastErr = err
	if err != nil {
		svc.state = StateFailed
		return
	}
	svc.state = StateIdle
}

func (svc *Service) clearPending() {
	svc.mu.Lock()
	svc.pending = false
	svc.mu.Unlock()
}
