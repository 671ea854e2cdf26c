package pipeline_test

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/Ahmed-Sermani/fscrawler/pipeline"
	"github.com/Ahmed-Sermani/fscrawler/pipeline/runners"
	"golang.org/x/xerrors"
	gc "gopkg.in/check.v1"
)

var _ = gc.Suite(new(PipelineTestSuite))

type PipelineTestSuite struct{}

func Test(t *testing.T) {
	gc.TestingT(t)
}

func (s *PipelineTestSuite) TestDataFlow(c *gc.C) {
	stages := make([]pipeline.StageRunner, 10)
	for i := range stages {
		stages[i] = runners.FIFO(incr)
	}

	src := &sourceStub{data: payloads(3)}
	sink := new(sinkStub)
	c.Assert(pipeline.New(stages...).Process(context.TODO(), src, sink), gc.IsNil)
	c.Assert(sink.values(), gc.DeepEquals, []int{10, 11, 12})
	assertAllProcessed(c, src.data)
}

func (s *PipelineTestSuite) TestBoundedQueues(c *gc.C) {
	src := &sourceStub{data: payloads(100)}
	sink := new(sinkStub)
	p := pipeline.NewBounded(4, runners.FIFO(incr), runners.FixedWorkerPool(incr, 3))
	c.Assert(p.Process(context.TODO(), src, sink), gc.IsNil)

	got := sink.values()
	sort.Ints(got)
	c.Assert(got, gc.HasLen, 100)
	c.Assert(got[0], gc.Equals, 2)
	c.Assert(got[99], gc.Equals, 101)
	assertAllProcessed(c, src.data)
}

func (s *PipelineTestSuite) TestDroppedPayloads(c *gc.C) {
	dropOdd := pipeline.ProcessorFunc(func(_ context.Context, p pipeline.Payload) (pipeline.Payload, error) {
		if p.(*intPayload).val%2 == 1 {
			return nil, nil
		}
		return p, nil
	})

	src := &sourceStub{data: payloads(6)}
	sink := new(sinkStub)
	c.Assert(pipeline.New(runners.FIFO(dropOdd)).Process(context.TODO(), src, sink), gc.IsNil)
	c.Assert(sink.values(), gc.DeepEquals, []int{0, 2, 4})
	assertAllProcessed(c, src.data)
}

func (s *PipelineTestSuite) TestProcessorError(c *gc.C) {
	fail := pipeline.ProcessorFunc(func(context.Context, pipeline.Payload) (pipeline.Payload, error) {
		return nil, xerrors.New("disk on fire")
	})

	src := &sourceStub{data: payloads(3)}
	err := pipeline.New(runners.FIFO(fail)).Process(context.TODO(), src, new(sinkStub))
	c.Assert(err, gc.ErrorMatches, "(?s).*pipeline stage 0: disk on fire.*")
}

func (s *PipelineTestSuite) TestSourceError(c *gc.C) {
	src := &sourceStub{data: payloads(3), err: xerrors.New("walk failed")}
	err := pipeline.New(runners.FIFO(incr)).Process(context.TODO(), src, new(sinkStub))
	c.Assert(err, gc.ErrorMatches, "(?s).*pipeline source: walk failed.*")
}

func (s *PipelineTestSuite) TestSinkError(c *gc.C) {
	src := &sourceStub{data: payloads(3)}
	sink := &sinkStub{err: xerrors.New("index full")}
	err := pipeline.New(runners.FIFO(incr)).Process(context.TODO(), src, sink)
	c.Assert(err, gc.ErrorMatches, "(?s).*pipeline sink: index full.*")
}

func (s *PipelineTestSuite) TestCancelledContext(c *gc.C) {
	ctx, cancel := context.WithCancel(context.TODO())
	cancel()

	src := &sourceStub{data: payloads(3)}
	sink := new(sinkStub)
	c.Assert(pipeline.New(runners.FIFO(incr)).Process(ctx, src, sink), gc.IsNil)
	c.Assert(sink.values(), gc.HasLen, 0)
}

var incr = pipeline.ProcessorFunc(func(_ context.Context, p pipeline.Payload) (pipeline.Payload, error) {
	p.(*intPayload).val++
	return p, nil
})

type intPayload struct {
	mu        sync.Mutex
	val       int
	processed bool
}

func (p *intPayload) MarkAsProcessed() {
	p.mu.Lock()
	p.processed = true
	p.mu.Unlock()
}

func payloads(n int) []*intPayload {
	out := make([]*intPayload, n)
	for i := range out {
		out[i] = &intPayload{val: i}
	}
	return out
}

func assertAllProcessed(c *gc.C, data []*intPayload) {
	for i, p := range data {
		p.mu.Lock()
		processed := p.processed
		p.mu.Unlock()
		c.Assert(processed, gc.Equals, true, gc.Commentf("payload %d not marked as processed", i))
	}
}

type sourceStub struct {
	index int
	data  []*intPayload
	err   error
}

func (s *sourceStub) Next(context.Context) bool {
	if s.err != nil || s.index == len(s.data) {
		return false
	}
	s.index++
	return true
}

func (s *sourceStub) Payload() pipeline.Payload { return s.data[s.index-1] }

func (s *sourceStub) Error() error { return s.err }

type sinkStub struct {
	mu   sync.Mutex
	data []int
	err  error
}

func (s *sinkStub) Consume(_ context.Context, p pipeline.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append(s.data, p.(*intPayload).val)
	return s.err
}

func (s *sinkStub) values() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.data...)
}
