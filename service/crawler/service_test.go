package crawler

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Ahmed-Sermani/fscrawler/crawler"
	"github.com/Ahmed-Sermani/fscrawler/fingerprint"
	"github.com/Ahmed-Sermani/fscrawler/partition"
	"github.com/Ahmed-Sermani/fscrawler/service/crawler/mocks"
	"github.com/golang/mock/gomock"
	"github.com/juju/clock/testclock"
	"golang.org/x/xerrors"
	gc "gopkg.in/check.v1"
)

var _ = gc.Suite(new(CrawlerServiceTestSuite))

type CrawlerServiceTestSuite struct{}

func Test(t *testing.T) {
	gc.TestingT(t)
}

const waitTimeout = 10 * time.Second

func newCycler(c *gc.C) (*gomock.Controller, *mocks.MockCycler) {
	ctrl := gomock.NewController(c)
	cy := mocks.NewMockCycler(ctrl)
	cy.EXPECT().Root().Return("/data").AnyTimes()
	return ctrl, cy
}

// start runs svc in the background and returns a function that stops it and
// returns the result of Run.
func start(svc *Service) func() error {
	ctx, cancel := context.WithCancel(context.TODO())
	runErr := make(chan error, 1)
	go func() { runErr <- svc.Run(ctx) }()
	return func() error {
		cancel()
		return <-runErr
	}
}

func wait(c *gc.C, ch <-chan struct{}) {
	select {
	case <-ch:
	case <-time.After(waitTimeout):
		c.Fatal("timed out waiting for crawl cycle")
	}
}

func waitForState(c *gc.C, svc *Service, exp State) {
	deadline := time.Now().Add(waitTimeout)
	for svc.State() != exp {
		if time.Now().After(deadline) {
			c.Fatalf("timed out waiting for state %s; got %s", exp, svc.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (s *CrawlerServiceTestSuite) TestCycleOnInterval(c *gc.C) {
	ctrl, cy := newCycler(c)
	defer ctrl.Finish()

	ran := make(chan struct{})
	cy.EXPECT().RunCycle(gomock.Any()).DoAndReturn(func(context.Context) (*crawler.Summary, error) {
		close(ran)
		return &crawler.Summary{Indexed: 3}, nil
	})

	clk := testclock.NewClock(time.Now())
	svc, err := NewService(Config{Crawler: cy, Clock: clk, UpdateInterval: time.Minute})
	c.Assert(err, gc.IsNil)
	c.Assert(svc.Name(), gc.Equals, "crawler:/data")

	stop := start(svc)
	c.Assert(clk.WaitAdvance(time.Minute, waitTimeout, 1), gc.IsNil)
	wait(c, ran)
	waitForState(c, svc, StateIdle)
	c.Assert(stop(), gc.IsNil)

	st := svc.Status()
	c.Assert(st.Cycles, gc.Equals, 1)
	c.Assert(st.LastSummary.Indexed, gc.Equals, 3)
	c.Assert(st.LastError, gc.IsNil)
}

func (s *CrawlerServiceTestSuite) TestTriggerNonOverlap(c *gc.C) {
	ctrl, cy := newCycler(c)
	defer ctrl.Finish()

	started := make(chan struct{}, 2)
	release := make(chan struct{})
	cy.EXPECT().RunCycle(gomock.Any()).DoAndReturn(func(context.Context) (*crawler.Summary, error) {
		started <- struct{}{}
		<-release
		return &crawler.Summary{}, nil
	}).Times(2)

	svc, err := NewService(Config{Name: "docs", Crawler: cy})
	c.Assert(err, gc.IsNil)
	stop := start(svc)

	c.Assert(svc.TriggerCycle(), gc.Equals, true)
	wait(c, started)
	c.Assert(svc.State(), gc.Equals, StateRunning)
	c.Assert(svc.TriggerCycle(), gc.Equals, false, gc.Commentf("trigger accepted while running"))

	release <- struct{}{}
	waitForState(c, svc, StateIdle)

	c.Assert(svc.TriggerCycle(), gc.Equals, true)
	wait(c, started)
	release <- struct{}{}
	waitForState(c, svc, StateIdle)
	c.Assert(stop(), gc.IsNil)
	c.Assert(svc.Status().Cycles, gc.Equals, 2)
}

func (s *CrawlerServiceTestSuite) TestPendingTriggerIsRejected(c *gc.C) {
	ctrl, cy := newCycler(c)
	defer ctrl.Finish()

	// The service is not running so the first trigger stays pending.
	svc, err := NewService(Config{Crawler: cy})
	c.Assert(err, gc.IsNil)
	c.Assert(svc.TriggerCycle(), gc.Equals, true)
	c.Assert(svc.TriggerCycle(), gc.Equals, false)
}

func (s *CrawlerServiceTestSuite) TestStopOnFailure(c *gc.C) {
	ctrl, cy := newCycler(c)
	defer ctrl.Finish()

	fatal := &crawler.FatalRootError{Root: "/data", Op: "walk", Err: xerrors.New("permission denied")}
	cy.EXPECT().RunCycle(gomock.Any()).Return(&crawler.Summary{}, fatal)

	svc, err := NewService(Config{Crawler: cy, StopOnFailure: true})
	c.Assert(err, gc.IsNil)

	runErr := make(chan error, 1)
	go func() { runErr <- svc.Run(context.TODO()) }()
	c.Assert(svc.TriggerCycle(), gc.Equals, true)

	select {
	case err = <-runErr:
	case <-time.After(waitTimeout):
		c.Fatal("timed out waiting for service to stop")
	}
	c.Assert(crawler.IsFatal(err), gc.Equals, true)
	c.Assert(svc.State(), gc.Equals, StateFailed)
	c.Assert(svc.Status().LastError, gc.Equals, error(fatal))

	// Nothing would ever serve the request.
	c.Assert(svc.TriggerCycle(), gc.Equals, false)
}

func (s *CrawlerServiceTestSuite) TestTriggerRejectedAfterCancel(c *gc.C) {
	ctrl, cy := newCycler(c)
	defer ctrl.Finish()

	svc, err := NewService(Config{Crawler: cy})
	c.Assert(err, gc.IsNil)

	ctx, cancel := context.WithCancel(context.TODO())
	runErr := make(chan error, 1)
	go func() { runErr <- svc.Run(ctx) }()
	cancel()

	select {
	case err = <-runErr:
	case <-time.After(waitTimeout):
		c.Fatal("timed out waiting for service to stop")
	}
	c.Assert(err, gc.IsNil)
	c.Assert(svc.TriggerCycle(), gc.Equals, false)
}

func (s *CrawlerServiceTestSuite) TestRetryAfterBackoff(c *gc.C) {
	ctrl, cy := newCycler(c)
	defer ctrl.Finish()

	failed := make(chan struct{})
	recovered := make(chan struct{})
	gomock.InOrder(
		cy.EXPECT().RunCycle(gomock.Any()).DoAndReturn(func(context.Context) (*crawler.Summary, error) {
			defer close(failed)
			return nil, &crawler.FatalRootError{Root: "/data", Op: "index", Err: xerrors.New("unreachable")}
		}),
		cy.EXPECT().RunCycle(gomock.Any()).DoAndReturn(func(context.Context) (*crawler.Summary, error) {
			defer close(recovered)
			return &crawler.Summary{}, nil
		}),
	)

	clk := testclock.NewClock(time.Now())
	svc, err := NewService(Config{Crawler: cy, Clock: clk, RetryBackoff: 5 * time.Minute})
	c.Assert(err, gc.IsNil)
	stop := start(svc)

	c.Assert(svc.TriggerCycle(), gc.Equals, true)
	wait(c, failed)
	waitForState(c, svc, StateFailed)

	c.Assert(clk.WaitAdvance(5*time.Minute, waitTimeout, 1), gc.IsNil)
	wait(c, recovered)
	waitForState(c, svc, StateIdle)
	c.Assert(stop(), gc.IsNil)
}

func (s *CrawlerServiceTestSuite) TestCycleTimeout(c *gc.C) {
	ctrl, cy := newCycler(c)
	defer ctrl.Finish()

	ran := make(chan struct{})
	var hasDeadline bool
	cy.EXPECT().RunCycle(gomock.Any()).DoAndReturn(func(ctx context.Context) (*crawler.Summary, error) {
		_, hasDeadline = ctx.Deadline()
		close(ran)
		return &crawler.Summary{}, nil
	})

	svc, err := NewService(Config{Crawler: cy, CycleTimeout: time.Hour})
	c.Assert(err, gc.IsNil)
	stop := start(svc)
	c.Assert(svc.TriggerCycle(), gc.Equals, true)
	wait(c, ran)
	waitForState(c, svc, StateIdle)
	c.Assert(stop(), gc.IsNil)
	c.Assert(hasDeadline, gc.Equals, true)
}

func (s *CrawlerServiceTestSuite) TestLockedRootIsSkipped(c *gc.C) {
	ctrl, cy := newCycler(c)
	defer ctrl.Finish()

	locker := &fakeLocker{err: fingerprint.ErrLocked, tried: make(chan struct{}, 1)}
	svc, err := NewService(Config{Crawler: cy, Locker: locker})
	c.Assert(err, gc.IsNil)
	stop := start(svc)

	c.Assert(svc.TriggerCycle(), gc.Equals, true)
	wait(c, locker.tried)
	c.Assert(stop(), gc.IsNil)
	c.Assert(svc.State(), gc.Equals, StateIdle)
	c.Assert(svc.Status().Cycles, gc.Equals, 0)
}

func (s *CrawlerServiceTestSuite) TestLockIsReleased(c *gc.C) {
	ctrl, cy := newCycler(c)
	defer ctrl.Finish()

	ran := make(chan struct{})
	cy.EXPECT().RunCycle(gomock.Any()).DoAndReturn(func(context.Context) (*crawler.Summary, error) {
		close(ran)
		return &crawler.Summary{}, nil
	})

	locker := &fakeLocker{tried: make(chan struct{}, 1)}
	svc, err := NewService(Config{Crawler: cy, Locker: locker})
	c.Assert(err, gc.IsNil)
	stop := start(svc)

	c.Assert(svc.TriggerCycle(), gc.Equals, true)
	wait(c, ran)
	waitForState(c, svc, StateIdle)
	c.Assert(stop(), gc.IsNil)
	c.Assert(locker.isLocked(), gc.Equals, false)
	c.Assert(locker.root, gc.Equals, "/data")
}

func (s *CrawlerServiceTestSuite) TestPartitionAssignment(c *gc.C) {
	ctrl, cy := newCycler(c)
	defer ctrl.Finish()

	// No partition data yet: the cycle is deferred.
	det := &fakeDetector{err: partition.ErrNoPartitionDataAvailableYet, asked: make(chan struct{}, 1)}
	svc, err := NewService(Config{Crawler: cy, PartitionDetector: det})
	c.Assert(err, gc.IsNil)
	stop := start(svc)
	c.Assert(svc.TriggerCycle(), gc.Equals, true)
	wait(c, det.asked)
	c.Assert(stop(), gc.IsNil)

	// A single partition owns every root.
	ran := make(chan struct{})
	cy.EXPECT().RunCycle(gomock.Any()).DoAndReturn(func(context.Context) (*crawler.Summary, error) {
		close(ran)
		return &crawler.Summary{}, nil
	})
	svc, err = NewService(Config{Crawler: cy, PartitionDetector: partition.Fixed{Partition: 0, NumPartitions: 1}})
	c.Assert(err, gc.IsNil)
	stop = start(svc)
	c.Assert(svc.TriggerCycle(), gc.Equals, true)
	wait(c, ran)
	waitForState(c, svc, StateIdle)
	c.Assert(stop(), gc.IsNil)
}

func (s *CrawlerServiceTestSuite) TestWatchTriggersCycle(c *gc.C) {
	ctrl, cy := newCycler(c)
	defer ctrl.Finish()

	ran := make(chan struct{})
	cy.EXPECT().RunCycle(gomock.Any()).DoAndReturn(func(context.Context) (*crawler.Summary, error) {
		close(ran)
		return &crawler.Summary{}, nil
	})

	dir := c.MkDir()
	clk := testclock.NewClock(time.Now())
	svc, err := NewService(Config{Crawler: cy, Clock: clk, WatchDir: dir, WatchDebounce: time.Second})
	c.Assert(err, gc.IsNil)
	stop := start(svc)

	// Keep touching the tree until the watcher has picked up a change and
	// armed its debounce timer.
	var advanced bool
	for i := 0; i < 50 && !advanced; i++ {
		c.Assert(os.WriteFile(filepath.Join(dir, "note.txt"), []byte{byte(i)}, 0o644), gc.IsNil)
		advanced = clk.WaitAdvance(time.Second, 100*time.Millisecond, 1) == nil
	}
	c.Assert(advanced, gc.Equals, true)
	wait(c, ran)
	waitForState(c, svc, StateIdle)
	c.Assert(stop(), gc.IsNil)
}

func (s *CrawlerServiceTestSuite) TestConfigValidation(c *gc.C) {
	_, err := NewService(Config{UpdateInterval: -1, CycleTimeout: -1})
	c.Assert(err, gc.ErrorMatches, "(?s).*crawler not provided.*invalid value for update interval.*invalid value for cycle timeout.*")
}

type fakeLocker struct {
	err   error
	tried chan struct{}

	mu     sync.Mutex
	root   string
	locked bool
}

func (l *fakeLocker) TryLock(root string) (func() error, error) {
	defer func() {
		select {
		case l.tried <- struct{}{}:
		default:
		}
	}()
	if l.err != nil {
		return nil, l.err
	}
	l.mu.Lock()
	l.root, l.locked = root, true
	l.mu.Unlock()
	return func() error {
		l.mu.Lock()
		l.locked = false
		l.mu.Unlock()
		return nil
	}, nil
}

func (l *fakeLocker) isLocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked
}

type fakeDetector struct {
	err   error
	asked chan struct{}
}

func (d *fakeDetector) PartitionInfo() (int, int, error) {
	select {
	case d.asked <- struct{}{}:
	default:
	}
	return -1, -1, d.err
}
