package pipeline

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// Payload is implemented by values that can be sent through the pipeline.
type Payload interface {
	// MarkAsProcessed is called by the pipeline when the payload reaches the
	// output sink or is discarded by one of the stages.
	MarkAsProcessed()
}

// Processor is implemented by types that can process a Payload as part of a
// pipeline stage.
type Processor interface {
	// Process takes the input Payload and returns the Payload to be sent to
	// the next stage or the output sink. Returning a nil Payload drops it.
	// A non-nil error aborts the whole pipeline so it should only be used
	// for failures that make further processing pointless.
	Process(context.Context, Payload) (Payload, error)
}

// ProcessorFunc is an adapter to allow the use of plain functions as
// Processor instances.
type ProcessorFunc func(context.Context, Payload) (Payload, error)

// Process calls f(ctx, p).
func (f ProcessorFunc) Process(ctx context.Context, p Payload) (Payload, error) {
	return f(ctx, p)
}

// StageParams includes the information required for executing a pipeline
// stage. A StageParams instance is passed to the Run() method of each stage.
type StageParams interface {
	// StageIndex returns the position of a stage in the pipeline.
	StageIndex() int
	// Input returns a channel for reading the input Payload into the stage.
	Input() <-chan Payload
	// Output returns a channel for writing the stage output.
	Output() chan<- Payload
	// Error returns a channel for writing the errors that were encountered
	// during the stage execution.
	Error() chan<- error
}

// StageRunner is implemented by types that can be chained together to form
// a multi-stage pipeline.
type StageRunner interface {
	// Run reads payloads from the Input channel and writes its output to
	// the Output channel. Calls to Run block until the input channel is
	// closed or the context is cancelled.
	Run(context.Context, StageParams)
}

// Source is implemented by types that generate Payload instances which can
// be used as inputs to a Pipeline instance.
type Source interface {
	// Next fetches the next Payload. It returns false when there are no
	// more payloads or an error occurred.
	Next(context.Context) bool

	// Payload returns the payload to be processed.
	Payload() Payload

	// Error returns the last error observed by the source.
	Error() error
}

// Sink is implemented by types that act as the tail of a pipeline.
type Sink interface {
	// Consume processes a Payload that was emitted by the last stage.
	Consume(context.Context, Payload) error
}

// Pipeline chains a list of stages together using bounded queues.
type Pipeline struct {
	stages    []StageRunner
	queueSize int
}

// New returns a new Pipeline instance where input payloads will traverse
// each one of the stages. Stages are connected through unbuffered channels.
func New(stages ...StageRunner) *Pipeline {
	return &Pipeline{stages: stages}
}

// NewBounded is like New but connects the stages with channels that can hold
// up to queueSize payloads. Once a queue fills up the upstream stage blocks.
func NewBounded(queueSize int, stages ...StageRunner) *Pipeline {
	if queueSize < 0 {
		queueSize = 0
	}
	return &Pipeline{stages: stages, queueSize: queueSize}
}

// Process reads the contents of the specified source, sends them through the
// various stages of the pipeline and directs the results to the specified sink
// and returns back any errors that may have occurred.
//
// Calls to Process block until:
//   - all data from the source has been processed OR
//   - an error occurs OR
//   - the supplied context expires/cancelled
//
// It is safe to call Process concurrently with different sources and sinks.
func (p *Pipeline) Process(ctx context.Context, source Source, sink Sink) error {
	var wg sync.WaitGroup
	ctx, ctxCancel := context.WithCancel(ctx)
	defer ctxCancel()

	// The output of the ith stage is used as the input of the i+1th stage.
	// One extra channel wires the source and the sink.
	stageCh := make([]chan Payload, len(p.stages)+1)
	errCh := make(chan error, len(p.stages)+2)
	for i := range stageCh {
		stageCh[i] = make(chan Payload, p.queueSize)
	}

	wg.Add(len(p.stages))
	for i := range p.stages {
		go func(stageIdx int) {
			defer wg.Done()
			p.stages[stageIdx].Run(
				ctx,
				&WorkerParams{
					Stage: stageIdx,
					InCh:  stageCh[stageIdx],
					OutCh: stageCh[stageIdx+1],
					ErrCh: errCh,
				},
			)
			close(stageCh[stageIdx+1])
		}(i)
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		sourceWorker(ctx, source, stageCh[0], errCh)
		close(stageCh[0])
	}()

	go func() {
		defer wg.Done()
		sinkWorker(ctx, sink, stageCh[len(stageCh)-1], errCh)
	}()

	// Close the error channel and cancel the context once all work is done.
	go func() {
		wg.Wait()
		close(errCh)
		ctxCancel()
	}()

	var err error
	for pErr := range errCh {
		err = multierror.Append(err, pErr)
		ctxCancel()
	}
	return err
}
