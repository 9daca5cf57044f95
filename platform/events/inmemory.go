package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"crm_saas_backend/platform/logger"
)

// Wildcard subscribes a handler to every event.
const Wildcard = "*"

// InMemoryBus dispatches events to in-process handlers.
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	log      *logger.Logger
	wg       sync.WaitGroup
}

// NewInMemoryBus creates an empty bus.
func NewInMemoryBus(log *logger.Logger) *InMemoryBus {
	if log == nil {
		log = logger.Discard()
	}
	return &InMemoryBus{handlers: make(map[string][]Handler), log: log}
}

func (b *InMemoryBus) Subscribe(eventName string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventName] = append(b.handlers[eventName], handler)
}

func (b *InMemoryBus) handlersFor(name string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Handler, 0, len(b.handlers[name])+len(b.handlers[Wildcard]))
	out = append(out, b.handlers[name]...)
	out = append(out, b.handlers[Wildcard]...)
	return out
}

// Publish runs each handler in its own goroutine. The request context is
// detached so handlers outlive the HTTP request that triggered them.
func (b *InMemoryBus) Publish(ctx context.Context, event Event) {
	detached := context.WithoutCancel(ctx)
	for _, h := range b.handlersFor(event.EventName()) {
		b.wg.Add(1)
		go func(h Handler) {
			defer b.wg.Done()
			if err := b.safeHandle(detached, h, event); err != nil {
				b.log.WithContext(ctx).Error("event handler failed", "event", event.EventName(), "error", err)
			}
		}(h)
	}
}

// PublishSync runs handlers sequentially and joins their errors.
func (b *InMemoryBus) PublishSync(ctx context.Context, event Event) error {
	var errs []error
	for _, h := range b.handlersFor(event.EventName()) {
		if err := b.safeHandle(ctx, h, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Wait blocks until all in-flight asynchronous handlers finish.
func (b *InMemoryBus) Wait() {
	b.wg.Wait()
}

func (b *InMemoryBus) safeHandle(ctx context.Context, h Handler, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic on %s: %v", event.EventName(), r)
		}
	}()
	return h.Handle(ctx, event)
}

var _ Bus = (*InMemoryBus)(nil)
