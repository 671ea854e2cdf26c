package runners

import (
	"context"
	"sync"

	"github.com/Ahmed-Sermani/fscrawler/pipeline"
)

type fixedWorkerPool struct {
	proc       pipeline.Processor
	numWorkers int
}

// FixedWorkerPool returns a StageRunner that runs numWorkers copies of the
// FIFO loop over the shared stage input and output. proc must be safe for
// concurrent use. Output ordering is not preserved.
func FixedWorkerPool(proc pipeline.Processor, numWorkers int) pipeline.StageRunner {
	if numWorkers <= 0 {
		panic("FixedWorkerPool: numWorkers must be greater than 0")
	}
	return &fixedWorkerPool{proc: proc, numWorkers: numWorkers}
}

// Run returns once every worker has stopped.
func (p *fixedWorkerPool) Run(ctx context.Context, params pipeline.StageParams) {
	var wg sync.WaitGroup
	wg.Add(p.numWorkers)
	for i := 0; i < p.numWorkers; i++ {
		go func() {
			defer wg.Done()
			serve(ctx, p.proc, params)
		}()
	}
	wg.Wait()
}
