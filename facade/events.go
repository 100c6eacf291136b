package facade

import (
	"context"
	"fmt"

	"storefront"
)

// Event is published after a successful create.
type Event struct {
	Entity storefront.Entity
	Source storefront.Source
}

// Listener consumes creation events. Its error is logged and never reaches
// the caller of Create.
type Listener func(ctx context.Context, ev Event) error

// Subscribe registers l for creation events. Listeners run synchronously,
// in registration order, after the write.
func (f *Facade) Subscribe(l Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, l)
}

func (f *Facade) publish(ctx context.Context, ev Event) {
	f.mu.RLock()
	listeners := append([]Listener(nil), f.listeners...)
	f.mu.RUnlock()

	// The caller may give up once its entity is stored; derived work must
	// still finish.
	ctx = context.WithoutCancel(ctx)
	for _, l := range listeners {
		if err := f.dispatch(ctx, l, ev); err != nil {
			f.logger.Error("creation listener failed",
				"kind", ev.Entity.Kind, "id", ev.Entity.ID, "error", err)
		}
	}
}

func (f *Facade) dispatch(ctx context.Context, l Listener, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return l(ctx, ev)
}
