// Package runners contains the built-in pipeline.StageRunner implementations.
package runners

import (
	"context"

	"github.com/Ahmed-Sermani/fscrawler/pipeline"
	"golang.org/x/xerrors"
)

// serve feeds the stage input to proc until the input is closed or ctx is
// done. Cancellation is checked between payloads; a payload that was
// already handed to proc is finished first.
func serve(ctx context.Context, proc pipeline.Processor, params pipeline.StageParams) {
	for {
		payload, ok := next(ctx, params.Input())
		if !ok {
			return
		}

		out, err := proc.Process(ctx, payload)
		if err != nil {
			emitError(
				xerrors.Errorf("pipeline stage %d: %w", params.StageIndex(), err),
				params.Error(),
			)
		}
		if out == nil {
			payload.MarkAsProcessed()
			continue
		}
		if !forward(ctx, params.Output(), out) {
			return
		}
	}
}

func next(ctx context.Context, in <-chan pipeline.Payload) (pipeline.Payload, bool) {
	if ctx.Err() != nil {
		return nil, false
	}
	select {
	case <-ctx.Done():
		return nil, false
	case payload, open := <-in:
		if !open {
			return nil, false
		}
		// Both cases may be ready at once; select picks at random.
		if ctx.Err() != nil {
			payload.MarkAsProcessed()
			return nil, false
		}
		return payload, true
	}
}

func forward(ctx context.Context, out chan<- pipeline.Payload, payload pipeline.Payload) bool {
	select {
	case out <- payload:
		return true
	case <-ctx.Done():
		payload.MarkAsProcessed()
		return false
	}
}

func emitError(err error, errCh chan<- error) {
	select {
	case errCh <- err:
	default: // error channel is full.
	}
}
