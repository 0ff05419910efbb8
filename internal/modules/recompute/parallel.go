package recompute

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Outcome is the result of one portfolio in a batch.
type Outcome struct {
	PortfolioID string
	Result      *Result
	Err         error
}

// RecomputeAll replays independent portfolios in parallel with at most
// workers running at once (GOMAXPROCS when workers <= 0). A failing
// portfolio only affects its own Outcome. Outcomes keep the order of inputs.
func (o *Orchestrator) RecomputeAll(ctx context.Context, inputs []Input, workers int) []Outcome {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	outcomes := make([]Outcome, len(inputs))
	var g errgroup.Group
	g.SetLimit(workers)

	for i, in := range inputs {
		i, in := i, in
		g.Go(func() error {
			outcomes[i].PortfolioID = in.PortfolioID
			if err := ctx.Err(); err != nil {
				outcomes[i].Err = err
				return nil
			}
			outcomes[i].Result, outcomes[i].Err = o.Recompute(ctx, in)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}
