package pipeline

import (
	"context"
	"io"
	"time"

	"github.com/harunnryd/juru/pkg/runner"
)

// Runner runs the registry until its context ends, then stops accepting
// sessions, waits for live ones to finish and closes the rest.
type Runner struct {
	registry *SessionRegistry
	lc       *runner.LifecycleRunner
}

func NewRunner(registry *SessionRegistry, hooks runner.Hooks, timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	drainer := runner.DrainerFunc(func() error {
		registry.SetDraining(true)
		ctx, cancel := context.WithTimeout(context.Background(), timeout/2)
		defer cancel()
		registry.WaitForEmpty(ctx, 100*time.Millisecond)
		registry.CloseAll()
		return nil
	})
	return &Runner{registry: registry, lc: runner.NewLifecycleRunner(drainer, hooks, timeout)}
}

// SetBannerOutput redirects the startup banner. nil disables it.
func (r *Runner) SetBannerOutput(w io.Writer) { r.lc.SetBannerOutput(w) }

func (r *Runner) Run(ctx context.Context) error { return r.lc.Run(ctx) }
func (r *Runner) Stop() error                   { return r.lc.Stop() }
func (r *Runner) State() runner.State           { return r.lc.State() }
