package pipeline

import (
	"context"

	"golang.org/x/xerrors"
)

// sourceWorker pulls payloads from a Source and pushes them into the channel
// that feeds the first stage. The context is checked before every payload so
// cancellation is observed between items and never in the middle of one.
func sourceWorker(ctx context.Context, source Source, outCh chan<- Payload, errCh chan<- error) {
	for {
		if ctx.Err() != nil {
			return
		}
		if !source.Next(ctx) {
			break
		}
		payload := source.Payload()
		select {
		case outCh <- payload:
		case <-ctx.Done():
			payload.MarkAsProcessed()
			return
		}
	}

	if err := source.Error(); err != nil {
		emitError(xerrors.Errorf("pipeline source: %w", err), errCh)
	}
}

// sinkWorker hands the output of the last stage to the sink and marks every
// consumed payload as processed.
func sinkWorker(ctx context.Context, sink Sink, inCh <-chan Payload, errCh chan<- error) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, open := <-inCh:
			if !open {
				return
			}
			if err := sink.Consume(ctx, payload); err != nil {
				emitError(xerrors.Errorf("pipeline sink: %w", err), errCh)
			}
			payload.MarkAsProcessed()
		}
	}
}

func emitError(err error, errCh chan<- error) {
	select {
	case errCh <- err:
	default: // error channel is full.
	}
}
