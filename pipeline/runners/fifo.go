package runners

import (
	"context"

	"github.com/Ahmed-Sermani/fscrawler/pipeline"
)

type fifo struct {
	proc pipeline.Processor
}

// FIFO returns a StageRunner that hands payloads to proc one at a time in
// arrival order. Stages that keep per-cycle state without locking, such as
// the change classifier, rely on this.
func FIFO(proc pipeline.Processor) pipeline.StageRunner {
	return fifo{proc: proc}
}

func (r fifo) Run(ctx context.Context, params pipeline.StageParams) {
	serve(ctx, r.proc, params)
}
