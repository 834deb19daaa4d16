package usage

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"github.com/rmedgar/nekowat/pkg/kafka"
)

// Collector buffers match events and flushes them to Kafka from a background
// goroutine, so tracking never blocks a match request. When the buffer is
// full the event is dropped.
type Collector struct {
	producer *kafka.Producer
	eventCh  chan MatchEvent
	logger   *slog.Logger
	done     chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewCollector creates a Collector with the given buffer size.
func NewCollector(producer *kafka.Producer, bufferSize int) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	return &Collector{
		producer: producer,
		eventCh:  make(chan MatchEvent, bufferSize),
		logger:   slog.Default().With("component", "usage-collector"),
		done:     make(chan struct{}),
	}
}

// Start launches the flush goroutine. It drains buffered events on ctx
// cancellation before returning.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		for {
			select {
			case event, ok := <-c.eventCh:
				if !ok {
					return
				}
				c.publish(ctx, event)
			case <-ctx.Done():
				c.drainRemaining()
				return
			}
		}
	}()
	c.logger.Info("usage collector started", "buffer_size", cap(c.eventCh))
}

// Track queues an event for publication. Never blocks; events arriving after
// Close are dropped. In-flight HTTP handlers may still track while the
// server is draining, so the closed check and the send share a lock.
func (c *Collector) Track(event MatchEvent) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.eventCh <- event:
	default:
		c.logger.Warn("usage event dropped (buffer full)")
	}
}

// Close stops accepting events and waits for the flush goroutine to finish.
func (c *Collector) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.eventCh)
	c.mu.Unlock()
	<-c.done
}

func (c *Collector) publish(ctx context.Context, event MatchEvent) {
	err := c.producer.Publish(ctx, kafka.Event{
		Key:   strconv.FormatInt(event.UserID, 10),
		Value: event,
	})
	if err != nil {
		c.logger.Error("failed to publish usage event", "error", err)
	}
}

func (c *Collector) drainRemaining() {
	for {
		select {
		case event, ok := <-c.eventCh:
			if !ok {
				return
			}
			c.publish(context.Background(), event)
		default:
			return
		}
	}
}
