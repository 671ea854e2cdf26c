package runners_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Ahmed-Sermani/fscrawler/pipeline"
	"github.com/Ahmed-Sermani/fscrawler/pipeline/runners"
	gc "gopkg.in/check.v1"
)

var _ = gc.Suite(new(RunnersTestSuite))

type RunnersTestSuite struct{}

func Test(t *testing.T) {
	gc.TestingT(t)
}

func (s *RunnersTestSuite) TestFixedWorkerPoolRunsConcurrently(c *gc.C) {
	const numWorkers = 4

	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		release = make(chan struct{})
		started = make(chan struct{}, numWorkers)
	)
	proc := pipeline.ProcessorFunc(func(_ context.Context, p pipeline.Payload) (pipeline.Payload, error) {
		mu.Lock()
		active++
		if active > maxSeen {
			maxSeen = active
		}
		mu.Unlock()
		started <- struct{}{}
		<-release
		mu.Lock()
		active--
		mu.Unlock()
		return p, nil
	})

	in := make(chan pipeline.Payload, numWorkers)
	out := make(chan pipeline.Payload, numWorkers)
	errCh := make(chan error, 1)
	for i := 0; i < numWorkers; i++ {
		in <- new(payloadStub)
	}
	close(in)

	done := make(chan struct{})
	go func() {
		defer close(done)
		runners.FixedWorkerPool(proc, numWorkers).Run(context.TODO(), &pipeline.WorkerParams{InCh: in, OutCh: out, ErrCh: errCh})
	}()

	for i := 0; i < numWorkers; i++ {
		select {
		case <-started:
		case <-time.After(10 * time.Second):
			c.Fatalf("only %d of %d workers started", i, numWorkers)
		}
	}
	close(release)
	<-done

	c.Assert(maxSeen, gc.Equals, numWorkers)
	c.Assert(out, gc.HasLen, numWorkers)
}

func (s *RunnersTestSuite) TestFIFOPreservesOrder(c *gc.C) {
	in := make(chan pipeline.Payload, 5)
	out := make(chan pipeline.Payload, 5)
	for i := 0; i < 5; i++ {
		in <- &payloadStub{id: i}
	}
	close(in)

	identity := pipeline.ProcessorFunc(func(_ context.Context, p pipeline.Payload) (pipeline.Payload, error) { return p, nil })
	runners.FIFO(identity).Run(context.TODO(), &pipeline.WorkerParams{InCh: in, OutCh: out, ErrCh: make(chan error, 1)})
	close(out)

	var got []int
	for p := range out {
		got = append(got, p.(*payloadStub).id)
	}
	c.Assert(got, gc.DeepEquals, []int{0, 1, 2, 3, 4})
}

func (s *RunnersTestSuite) TestCancelledStageStopsTakingInput(c *gc.C) {
	ctx, cancel := context.WithCancel(context.TODO())
	cancel()

	in := make(chan pipeline.Payload, 3)
	for i := 0; i < 3; i++ {
		in <- &payloadStub{id: i}
	}
	var calls int
	proc := pipeline.ProcessorFunc(func(_ context.Context, p pipeline.Payload) (pipeline.Payload, error) {
		calls++
		return p, nil
	})

	out := make(chan pipeline.Payload, 3)
	runners.FIFO(proc).Run(ctx, &pipeline.WorkerParams{InCh: in, OutCh: out, ErrCh: make(chan error, 1)})
	c.Assert(calls, gc.Equals, 0)
	c.Assert(out, gc.HasLen, 0)
	c.Assert(in, gc.HasLen, 3)
}

func (s *RunnersTestSuite) TestInvalidWorkerCount(c *gc.C) {
	c.Assert(func() { runners.FixedWorkerPool(nil, 0) }, gc.PanicMatches, "FixedWorkerPool: numWorkers must be greater than 0")
}

type payloadStub struct {
	id int
}

func (*payloadStub) MarkAsProcessed() {}
