package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xpadev-net/watchlist-supervisor/internal/log"
	"github.com/xpadev-net/watchlist-supervisor/internal/metrics"
)

// deliveryTimeout bounds one delivery to one subscriber, retries included.
const deliveryTimeout = time.Minute

// Subscriber receives published events.
type Subscriber interface {
	Name() string
	Deliver(ctx context.Context, ev Event) error
}

// Broadcaster fans events out to subscribers without blocking the caller.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers []Subscriber
	metrics     *metrics.Metrics
	wg          sync.WaitGroup
}

// NewBroadcaster creates a broadcaster with the given subscribers.
func NewBroadcaster(m *metrics.Metrics, subscribers ...Subscriber) *Broadcaster {
	return &Broadcaster{
		subscribers: subscribers,
		metrics:     m,
	}
}

// Subscribe adds a subscriber for future events.
func (b *Broadcaster) Subscribe(s Subscriber) {
	b.mu.Lock()
	b.subscribers = append(b.subscribers, s)
	b.mu.Unlock()
}

// Publish delivers ev to every subscriber asynchronously. Failures are
// logged and counted.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.RLock()
	subscribers := make([]Subscriber, len(b.subscribers))
	copy(subscribers, b.subscribers)
	b.mu.RUnlock()

	for _, s := range subscribers {
		b.wg.Add(1)
		go func(s Subscriber) {
			defer b.wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
			defer cancel()

			if err := s.Deliver(ctx, ev); err != nil {
				log.Warn("notification delivery failed",
					zap.String("subscriber", s.Name()),
					zap.String("event_type", string(ev.Type)),
					zap.String("stream_id", ev.Data.StreamID),
					zap.Error(err),
				)
				b.metrics.IncNotificationFailures(s.Name())
			}
		}(s)
	}
}

// Wait blocks until every in-flight delivery finished.
func (b *Broadcaster) Wait() {
	b.wg.Wait()
}
