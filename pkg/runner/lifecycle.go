package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

var ErrDrainTimeout = errors.New("runner: drain timeout")

// LifecycleRunner prints the banner, runs the start hook and blocks until
// its context ends or Stop is called. Shutdown drains once, bounded by the
// timeout, then runs the stop hook.
type LifecycleRunner struct {
	state   atomic.Int32
	hooks   Hooks
	drainer Drainer
	timeout time.Duration
	banner  io.Writer

	stopCh   chan struct{}
	stopReq  sync.Once
	shutdown sync.Once
	stopErr  error
}

func NewLifecycleRunner(drainer Drainer, hooks Hooks, timeout time.Duration) *LifecycleRunner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &LifecycleRunner{
		hooks:   hooks,
		drainer: drainer,
		timeout: timeout,
		banner:  os.Stdout,
		stopCh:  make(chan struct{}),
	}
}

// SetBannerOutput redirects the startup banner. nil disables it.
func (r *LifecycleRunner) SetBannerOutput(w io.Writer) { r.banner = w }

func (r *LifecycleRunner) Run(ctx context.Context) error {
	if !r.state.CompareAndSwap(int32(StateNew), int32(StateStarting)) {
		return fmt.Errorf("runner: already %s", r.State())
	}
	if ctx == nil {
		ctx = context.Background()
	}
	PrintBanner(r.banner)
	if r.hooks.OnStart != nil {
		r.hooks.OnStart()
	}
	r.state.Store(int32(StateRunning))
	select {
	case <-ctx.Done():
	case <-r.stopCh:
	}
	return r.drain()
}

// Stop ends Run, or drains directly when Run was never called. It returns
// the drain result and is safe to call repeatedly.
func (r *LifecycleRunner) Stop() error {
	r.stopReq.Do(func() { close(r.stopCh) })
	return r.drain()
}

func (r *LifecycleRunner) State() State { return State(r.state.Load()) }

func (r *LifecycleRunner) drain() error {
	r.shutdown.Do(func() {
		r.state.Store(int32(StateDraining))
		if r.drainer != nil {
			done := make(chan error, 1)
			go func() { done <- r.drainer.Drain() }()
			select {
			case r.stopErr = <-done:
			case <-time.After(r.timeout):
				r.stopErr = ErrDrainTimeout
			}
		}
		if r.hooks.OnStop != nil {
			r.hooks.OnStop()
		}
		r.state.Store(int32(StateStopped))
	})
	return r.stopErr
}
