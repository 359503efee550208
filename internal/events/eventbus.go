package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/audiorm/internal/logger"
)

// DefaultBufferSize is used when Config.BufferSize is not positive.
const DefaultBufferSize = 64

// Config holds event bus configuration
type Config struct {
	BufferSize int
}

// Bus delivers events to consumers from a single worker goroutine, so
// consumers observe events in publish order.
type Bus struct {
	eventChan chan Event

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
	mu      sync.Mutex

	consumers []Consumer

	received  atomic.Uint64
	processed atomic.Uint64
	dropped   atomic.Uint64
	errors    atomic.Uint64

	logger logger.Logger
}

// New creates a stopped bus.
func New(cfg Config) *Bus {
	size := cfg.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		eventChan: make(chan Event, size),
		ctx:       ctx,
		cancel:    cancel,
		logger:    GetLogger(),
	}
}

// GetLogger returns the events module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("events")
}

// RegisterConsumer adds a consumer. Names must be unique.
func (b *Bus) RegisterConsumer(consumer Consumer) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, existing := range b.consumers {
		if existing.Name() == consumer.Name() {
			return fmt.Errorf("consumer %s already registered", consumer.Name())
		}
	}
	b.consumers = append(b.consumers, consumer)
	b.logger.Debug("registered event consumer", logger.String("consumer", consumer.Name()))
	return nil
}

// Start launches the worker. Calling Start twice is a no-op.
func (b *Bus) Start() {
	if b.running.Swap(true) {
		return
	}
	b.wg.Add(1)
	go b.worker()
}

// Publish queues an event, blocking while the queue is full. Hardware
// transitions must not be lost, so this is the normal entry point.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	if !b.running.Load() {
		return fmt.Errorf("event bus not running")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case b.eventChan <- event:
		b.received.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.ctx.Done():
		return fmt.Errorf("event bus shut down")
	}
}

// TryPublish queues an event without blocking and reports whether it was
// accepted. Used for advisory notifications such as bitrate changes.
func (b *Bus) TryPublish(event Event) bool {
	if !b.running.Load() {
		return false
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case b.eventChan <- event:
		b.received.Add(1)
		return true
	default:
		b.dropped.Add(1)
		b.logger.Debug("event dropped due to full buffer", logger.String("kind", event.Kind.String()))
		return false
	}
}

func (b *Bus) worker() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case event := <-b.eventChan:
			b.processEvent(event)
		}
	}
}

func (b *Bus) processEvent(event Event) {
	b.mu.Lock()
	consumers := make([]Consumer, len(b.consumers))
	copy(consumers, b.consumers)
	b.mu.Unlock()

	for _, consumer := range consumers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.errors.Add(1)
					b.logger.Error("consumer panicked",
						logger.String("consumer", consumer.Name()),
						logger.Any("panic", r),
						logger.String("kind", event.Kind.String()))
				}
			}()

			if err := consumer.ProcessEvent(b.ctx, event); err != nil {
				b.errors.Add(1)
				b.logger.Warn("consumer error",
					logger.String("consumer", consumer.Name()),
					logger.String("kind", event.Kind.String()),
					logger.String("device", event.Device),
					logger.Error(err))
				return
			}
			b.processed.Add(1)
		}()
	}
}

// Shutdown stops the worker and waits up to timeout for it to exit.
// Events still queued are discarded.
func (b *Bus) Shutdown(timeout time.Duration) error {
	b.running.Store(false)
	b.cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("event bus shutdown timeout exceeded")
	}
}

// Stats returns current statistics
func (b *Bus) Stats() BusStats {
	return BusStats{
		EventsReceived:  b.received.Load(),
		EventsProcessed: b.processed.Load(),
		EventsDropped:   b.dropped.Load(),
		ConsumerErrors:  b.errors.Load(),
	}
}
