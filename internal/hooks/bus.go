package hooks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cosmic-gao/nexo-machine/internal/logging"
)

// Listener handles one dispatch of a named hook.
type Listener func(ctx context.Context, args ...any) error

// HookID identifies a registered listener. Functions are not comparable in
// Go, so removal is by the handle returned from Hook.
type HookID uint64

// ErrHookTimeout is returned by listeners wrapped with WithTimeout when the
// wrapped listener does not finish in time.
var ErrHookTimeout = errors.New("hook timed out")

type registration struct {
	id       HookID
	listener Listener
}

// Bus is a named-event dispatcher. It is safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	hooks  map[string][]registration
	nextID atomic.Uint64
	logger *slog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used for dispatch tracing.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = logging.OrNop(l)
	}
}

// NewBus creates an empty bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		hooks:  make(map[string][]registration),
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Hook registers fn for name and returns a handle for RemoveHook.
func (b *Bus) Hook(name string, fn Listener) HookID {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := HookID(b.nextID.Add(1))
	b.hooks[name] = append(b.hooks[name], registration{id: id, listener: fn})
	return id
}

// HookOnce registers fn so that it is removed before its first invocation
// runs. Later dispatches do not see it.
func (b *Bus) HookOnce(name string, fn Listener) HookID {
	var id HookID
	var once sync.Once
	wrapped := func(ctx context.Context, args ...any) error {
		var err error
		fired := false
		once.Do(func() {
			fired = true
			b.RemoveHook(name, id)
			err = fn(ctx, args...)
		})
		if !fired {
			return nil
		}
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	id = HookID(b.nextID.Add(1))
	b.hooks[name] = append(b.hooks[name], registration{id: id, listener: wrapped})
	return id
}

// RemoveHook deregisters the listener identified by id. It reports whether
// the listener was found.
func (b *Bus) RemoveHook(name string, id HookID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	regs := b.hooks[name]
	for i, r := range regs {
		if r.id != id {
			continue
		}
		// Copy instead of re-slicing so in-flight snapshots stay intact.
		kept := make([]registration, 0, len(regs)-1)
		kept = append(kept, regs[:i]...)
		kept = append(kept, regs[i+1:]...)
		if len(kept) == 0 {
			delete(b.hooks, name)
		} else {
			b.hooks[name] = kept
		}
		return true
	}
	return false
}

// RemoveAllHooks drops every listener registered for name.
func (b *Bus) RemoveAllHooks(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.hooks, name)
}

// Count returns the number of listeners registered for name.
func (b *Bus) Count(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.hooks[name])
}

// Names returns every hook name with at least one listener, sorted.
func (b *Bus) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.hooks))
	for name := range b.hooks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CallHook invokes the listeners registered for name at the moment of the
// call, in registration order, waiting for each before starting the next.
// The first listener error ends the dispatch and is returned as is.
func (b *Bus) CallHook(ctx context.Context, name string, args ...any) error {
	b.mu.RLock()
	snapshot := make([]registration, len(b.hooks[name]))
	copy(snapshot, b.hooks[name])
	b.mu.RUnlock()

	if len(snapshot) == 0 {
		return nil
	}

	b.logger.Debug("dispatching hook", "hook", name, "listeners", len(snapshot))
	for _, r := range snapshot {
		if err := r.listener(ctx, args...); err != nil {
			b.logger.Debug("hook listener failed", "hook", name, "listener", uint64(r.id), "error", err)
			return err
		}
	}
	return nil
}

// WithTimeout wraps fn so that it fails with ErrHookTimeout when it does not
// return within d. The wrapped listener keeps running in the background
// after a timeout; its result is discarded. A non-positive d returns fn.
func WithTimeout(fn Listener, d time.Duration) Listener {
	if d <= 0 {
		return fn
	}
	return func(ctx context.Context, args ...any) error {
		done := make(chan error, 1)
		go func() {
			done <- fn(ctx, args...)
		}()

		timer := time.NewTimer(d)
		defer timer.Stop()

		select {
		case err := <-done:
			return err
		case <-timer.C:
			return fmt.Errorf("%w after %s", ErrHookTimeout, d)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
