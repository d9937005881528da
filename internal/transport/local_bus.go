package transport

import (
	"context"
	"sync"

	"github.com/webitel/cellmesh/internal/domain/model"
)

// LocalBus is an in-process Bus used by tests to exercise the router across
// a simulated tree of cells without a real broker. Each Publish dispatches
// to its topic's handler on its own goroutine, the way an AMQP consumer
// would, so need_response callers genuinely suspend on a channel rather than
// relying on call-stack recursion.
type LocalBus struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewLocalBus() *LocalBus {
	return &LocalBus{handlers: make(map[string]Handler)}
}

func (b *LocalBus) Subscribe(_ context.Context, topic string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = handler
	return nil
}

func (b *LocalBus) Publish(ctx context.Context, topic string, env *model.Envelope) error {
	b.mu.RLock()
	handler, ok := b.handlers[topic]
	b.mu.RUnlock()
	if !ok {
		// No consumer for this topic: mirrors a message landing in an
		// unbound exchange — silently dropped, matching at-least-once/no
		// delivery-guarantee semantics (spec.md section 1, Non-goals).
		return nil
	}
	go handler(ctx, env.Clone())
	return nil
}
