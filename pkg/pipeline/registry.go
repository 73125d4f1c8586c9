package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ErrDraining is returned when a new session is requested during shutdown.
var ErrDraining = errors.New("pipeline: registry is draining")

// Origin says where a session's input comes from. Factories use it to pick
// the recognizer backend and audio format.
type Origin string

const (
	OriginBrowser Origin = "browser"
	OriginPhone   Origin = "phone"
	OriginCLI     Origin = "cli"
)

// SessionFactory builds a session for key. The registry closes it on
// Remove.
type SessionFactory func(ctx context.Context, key string, origin Origin) (*Session, error)

// SessionRegistry tracks live sessions by key: the session ID for browser
// clients, the call SID for phone calls.
type SessionRegistry struct {
	sessions sync.Map
	count    atomic.Int64
	factory  SessionFactory
	draining atomic.Bool
	create   sync.Mutex
}

func NewSessionRegistry(factory SessionFactory) *SessionRegistry {
	return &SessionRegistry{factory: factory}
}

// GetOrCreate returns the session for key, creating it if needed with ctx
// as its parent context. The boolean reports whether a new session was
// created.
func (r *SessionRegistry) GetOrCreate(ctx context.Context, key string, origin Origin) (*Session, bool, error) {
	if key == "" {
		return nil, false, errors.New("pipeline: empty session key")
	}
	if v, ok := r.sessions.Load(key); ok {
		return v.(*Session), false, nil
	}
	if r.draining.Load() {
		return nil, false, ErrDraining
	}
	r.create.Lock()
	defer r.create.Unlock()
	if v, ok := r.sessions.Load(key); ok {
		return v.(*Session), false, nil
	}
	sess, err := r.factory(ctx, key, origin)
	if err != nil {
		return nil, false, err
	}
	r.sessions.Store(key, sess)
	r.count.Add(1)
	return sess, true, nil
}

// Add registers an existing session under key.
func (r *SessionRegistry) Add(key string, sess *Session) bool {
	if _, loaded := r.sessions.LoadOrStore(key, sess); loaded {
		return false
	}
	r.count.Add(1)
	return true
}

func (r *SessionRegistry) Get(key string) (*Session, bool) {
	if v, ok := r.sessions.Load(key); ok {
		return v.(*Session), true
	}
	return nil, false
}

// Keys returns the registered keys in sorted order.
func (r *SessionRegistry) Keys() []string {
	var keys []string
	r.sessions.Range(func(key, _ any) bool {
		keys = append(keys, key.(string))
		return true
	})
	sort.Strings(keys)
	return keys
}

// Each calls fn for every registered session.
func (r *SessionRegistry) Each(fn func(key string, sess *Session)) {
	r.sessions.Range(func(key, value any) bool {
		fn(key.(string), value.(*Session))
		return true
	})
}

func (r *SessionRegistry) Remove(key string) {
	if v, ok := r.sessions.LoadAndDelete(key); ok {
		_ = v.(*Session).Close()
		r.count.Add(-1)
	}
}

func (r *SessionRegistry) CloseAll() {
	r.sessions.Range(func(key, _ any) bool {
		r.Remove(key.(string))
		return true
	})
}

func (r *SessionRegistry) Count() int64 {
	return r.count.Load()
}

func (r *SessionRegistry) SetDraining(v bool) {
	r.draining.Store(v)
}

func (r *SessionRegistry) Draining() bool {
	return r.draining.Load()
}

// WaitForEmpty polls until no session is registered or ctx ends.
func (r *SessionRegistry) WaitForEmpty(ctx context.Context, interval time.Duration) bool {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if r.Count() == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
