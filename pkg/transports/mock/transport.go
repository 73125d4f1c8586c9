package mock

import (
	"context"
	"sync"
)

// Transport records lifecycle calls. It stops itself when the start
// context ends.
type Transport struct {
	StartErr error

	mu      sync.Mutex
	started int
	stopped int
	done    chan struct{}
}

func New() *Transport {
	return &Transport{done: make(chan struct{})}
}

func (t *Transport) Name() string { return "mock" }

func (t *Transport) Start(ctx context.Context) error {
	if t.StartErr != nil {
		return t.StartErr
	}
	if ctx == nil {
		ctx = context.Background()
	}
	t.mu.Lock()
	t.started++
	t.mu.Unlock()
	go func() {
		<-ctx.Done()
		_ = t.Stop()
	}()
	return nil
}

func (t *Transport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped == 0 {
		close(t.done)
	}
	t.stopped++
	return nil
}

// Done is closed on the first Stop.
func (t *Transport) Done() <-chan struct{} { return t.done }

func (t *Transport) Started() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}

func (t *Transport) Stopped() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}
