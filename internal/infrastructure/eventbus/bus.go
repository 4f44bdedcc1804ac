package eventbus

import (
	"log/slog"
	"sync"

	"github.com/avasilyev/contract-intel/internal/core/domain"
	"github.com/avasilyev/contract-intel/internal/core/ports"
)

const defaultQueueSize = 64

// Bus is the in-process pub/sub fan-out for progress events. Delivery is
// at-most-once and FIFO per subscriber; there is no replay, so late
// subscribers must fetch a snapshot from the progress store instead.
type Bus struct {
	mu          sync.Mutex
	subscribers map[uint64]chan domain.ProgressEvent
	nextID      uint64
	queueSize   int
	logger      *slog.Logger
}

type Option func(*Bus)

// WithQueueSize overrides the per-subscriber delivery queue bound.
func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

func New(opts ...Option) *Bus {
	b := &Bus{
		subscribers: make(map[uint64]chan domain.ProgressEvent),
		queueSize:   defaultQueueSize,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a new observer with a private bounded queue.
func (b *Bus) Subscribe() *ports.Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	ch := make(chan domain.ProgressEvent, b.queueSize)
	b.subscribers[b.nextID] = ch
	return &ports.Subscription{C: ch, ID: b.nextID}
}

// Unsubscribe removes the observer and closes its queue.
func (b *Bus) Unsubscribe(sub *ports.Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.drop(sub.ID)
}

// Publish enqueues the event onto every live subscriber without ever
// blocking. A subscriber whose queue is full is dropped and deregistered
// rather than slowing the pipeline down.
func (b *Bus) Publish(event domain.ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.logger.Warn("dropping slow event subscriber", "subscriber_id", id, "event_type", event.Type)
			b.drop(id)
		}
	}
}

// SubscriberCount reports live subscribers, used by the metrics gauge.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

func (b *Bus) drop(id uint64) {
	ch, ok := b.subscribers[id]
	if !ok {
		return
	}
	delete(b.subscribers, id)
	close(ch)
}
