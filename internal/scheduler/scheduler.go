package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/campaign-dialer/pkg/logger"
)

// ErrStop ends a periodic task without logging an error.
var ErrStop = errors.New("scheduler: stop")

// Task is one unit of periodic work.
type Task func(ctx context.Context) error

// Handle controls a running scheduled task.
type Handle struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
}

// Stop cancels the task and waits for it to return. Safe to call
// repeatedly. A task must not stop its own handle; it returns ErrStop.
func (h *Handle) Stop() {
	h.cancel()
	<-h.done
}

// Done is closed once the task has returned.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Name returns the task name.
func (h *Handle) Name() string {
	return h.name
}

// Every runs task immediately and then on every interval until the
// context is cancelled, Stop is called or the task returns ErrStop. Task
// errors are logged and the loop continues.
func Every(parent context.Context, name string, interval time.Duration, log *logger.Logger, task Task) *Handle {
	if interval <= 0 {
		interval = time.Second
	}
	if log == nil {
		log = logger.NewNop()
	}

	ctx, cancel := context.WithCancel(parent)
	h := &Handle{name: name, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(h.done)
		defer cancel()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		tracer := otel.Tracer("dialer.scheduler")
		for {
			if ctx.Err() != nil {
				return
			}
			sctx, span := tracer.Start(ctx, name+".tick", trace.WithAttributes(attribute.String("task", name)))
			err := task(sctx)
			if err != nil && !errors.Is(err, ErrStop) && ctx.Err() == nil {
				span.RecordError(err)
				log.Warn("scheduled task failed", zap.String("task", name), zap.Error(err))
			}
			span.End()
			if errors.Is(err, ErrStop) {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return h
}

// After runs fn once after d unless the handle is stopped first.
func After(parent context.Context, name string, d time.Duration, fn func(ctx context.Context)) *Handle {
	ctx, cancel := context.WithCancel(parent)
	h := &Handle{name: name, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(h.done)
		defer cancel()

		timer := time.NewTimer(d)
		defer timer.Stop()

		select {
		case <-ctx.Done():
		case <-timer.C:
			fn(ctx)
		}
	}()

	return h
}

// Group tracks a set of handles so they can be stopped together.
type Group struct {
	mu      sync.Mutex
	handles map[string]*Handle
}

// NewGroup constructs an empty group.
func NewGroup() *Group {
	return &Group{handles: make(map[string]*Handle)}
}

// Add registers a handle under key, stopping any handle it replaces.
func (g *Group) Add(key string, h *Handle) {
	g.mu.Lock()
	prev := g.handles[key]
	g.handles[key] = h
	g.mu.Unlock()

	if prev != nil && prev != h {
		prev.Stop()
	}
}

// Remove stops and forgets the handle under key.
func (g *Group) Remove(key string) {
	g.mu.Lock()
	h := g.handles[key]
	delete(g.handles, key)
	g.mu.Unlock()

	if h != nil {
		h.Stop()
	}
}

// Has reports whether a live handle is registered under key.
func (g *Group) Has(key string) bool {
	g.mu.Lock()
	h, ok := g.handles[key]
	g.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-h.Done():
		return false
	default:
		return true
	}
}

// Len counts live handles.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, h := range g.handles {
		select {
		case <-h.Done():
		default:
			n++
		}
	}
	return n
}

// StopAll stops and forgets every handle.
func (g *Group) StopAll() {
	g.mu.Lock()
	handles := g.handles
	g.handles = make(map[string]*Handle)
	g.mu.Unlock()

	for _, h := range handles {
		h.Stop()
	}
}
