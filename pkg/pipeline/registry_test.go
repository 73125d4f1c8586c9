package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harunnryd/juru/pkg/providers/mock"
	"github.com/harunnryd/juru/pkg/runner"
)

func testFactory(t *testing.T) SessionFactory {
	return func(ctx context.Context, key string, origin Origin) (*Session, error) {
		cfg := fastConfig()
		cfg.ID = key
		stt := &mock.STTFactory{}
		return NewSession(ctx, cfg, Deps{
			STT:       stt.New,
			Refine:    mock.NewLLM(nil),
			Translate: mock.NewLLM(nil),
		})
	}
}

func TestRegistryGetOrCreate(t *testing.T) {
	reg := NewSessionRegistry(testFactory(t))
	defer reg.CloseAll()

	a, created, err := reg.GetOrCreate(context.Background(), "CA123", OriginPhone)
	if err != nil || !created {
		t.Fatalf("expected new session, created=%v err=%v", created, err)
	}
	b, created, err := reg.GetOrCreate(context.Background(), "CA123", OriginPhone)
	if err != nil || created || a != b {
		t.Fatalf("expected existing session")
	}
	if a.ID != "CA123" {
		t.Fatalf("expected session id from key, got %s", a.ID)
	}
	if _, _, err := reg.GetOrCreate(context.Background(), "", OriginBrowser); err == nil {
		t.Fatalf("expected error for empty key")
	}
	if reg.Count() != 1 || len(reg.Keys()) != 1 {
		t.Fatalf("expected one session, got %d", reg.Count())
	}

	reg.Remove("CA123")
	if reg.Count() != 0 {
		t.Fatalf("expected empty registry")
	}
	select {
	case <-a.Done():
	case <-time.After(time.Second):
		t.Fatalf("removed session not closed")
	}
}

func TestRegistryDraining(t *testing.T) {
	reg := NewSessionRegistry(testFactory(t))
	reg.SetDraining(true)
	if _, _, err := reg.GetOrCreate(context.Background(), "late", OriginBrowser); !errors.Is(err, ErrDraining) {
		t.Fatalf("expected ErrDraining, got %v", err)
	}
}

func TestRunnerClosesSessionsOnShutdown(t *testing.T) {
	reg := NewSessionRegistry(testFactory(t))
	sess, _, err := reg.GetOrCreate(context.Background(), "s1", OriginBrowser)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	r := NewRunner(reg, runner.Hooks{}, 200*time.Millisecond)
	r.SetBannerOutput(nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("runner did not stop")
	}
	if reg.Count() != 0 || !reg.Draining() {
		t.Fatalf("expected drained registry, count=%d", reg.Count())
	}
	select {
	case <-sess.Done():
	default:
		t.Fatalf("session still open after drain")
	}
}
