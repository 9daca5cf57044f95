package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

type pingEvent struct{ BaseEvent }

func (pingEvent) EventName() string { return "test.ping" }

func TestPublishSyncJoinsErrorsAndRecoversPanics(t *testing.T) {
	bus := NewInMemoryBus(nil)
	bus.Subscribe("test.ping", HandlerFunc(func(context.Context, Event) error { return errors.New("first") }))
	bus.Subscribe("test.ping", HandlerFunc(func(context.Context, Event) error { panic("second") }))

	err := bus.PublishSync(context.Background(), pingEvent{NewBaseEvent()})
	if err == nil {
		t.Fatal("expected joined error")
	}
}

func TestPublishReachesNamedAndWildcardHandlers(t *testing.T) {
	bus := NewInMemoryBus(nil)
	var calls atomic.Int32
	count := HandlerFunc(func(context.Context, Event) error { calls.Add(1); return nil })
	bus.Subscribe("test.ping", count)
	bus.Subscribe(Wildcard, count)
	bus.Subscribe("other", count)

	ctx, cancel := context.WithCancel(context.Background())
	bus.Publish(ctx, pingEvent{NewBaseEvent()})
	cancel()
	bus.Wait()

	if calls.Load() != 2 {
		t.Fatalf("expected 2 handler calls, got %d", calls.Load())
	}
}
