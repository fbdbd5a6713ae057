package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"ytingest/quota"
)

// outcomes collects the quota errors of every task in a run. Tasks that ran
// out of budget are a recoverable outcome, not a failure.
type outcomes struct {
	mu    sync.Mutex
	quota []error
}

func (o *outcomes) record(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.quota = append(o.quota, err)
}

func (o *outcomes) quotaErrors() []error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]error(nil), o.quota...)
}

// group is an errgroup that filters quota errors: such a task is logged,
// recorded and counted as finished, so its siblings carry on. Any other error
// cancels the group's context and is returned by Wait.
type group struct {
	eg     *errgroup.Group
	ctx    context.Context
	out    *outcomes
	logger *slog.Logger
}

func newGroup(ctx context.Context, out *outcomes, logger *slog.Logger) *group {
	eg, gctx := errgroup.WithContext(ctx)
	return &group{eg: eg, ctx: gctx, out: out, logger: logger}
}

// Context is cancelled when a task fails with a non-quota error.
func (g *group) Context() context.Context { return g.ctx }

func (g *group) Go(name string, fn func(ctx context.Context) error) {
	g.eg.Go(func() error {
		err := fn(g.ctx)
		switch {
		case err == nil:
			return nil
		case quota.IsExceeded(err):
			g.logger.Warn("quota exhausted, task stopped early", "task", name, "error", err)
			g.out.record(err)
			return nil
		default:
			return fmt.Errorf("%s: %w", name, err)
		}
	})
}

func (g *group) Wait() error { return g.eg.Wait() }
