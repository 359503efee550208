package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingConsumer struct {
	name  string
	delay time.Duration
	fail  bool
	mu    sync.Mutex
	seen  []Event
	count atomic.Int32
}

func (r *recordingConsumer) Name() string { return r.name }

func (r *recordingConsumer) ProcessEvent(_ context.Context, event Event) error {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	r.seen = append(r.seen, event)
	r.mu.Unlock()
	r.count.Add(1)
	if r.fail {
		return fmt.Errorf("consumer failure")
	}
	return nil
}

func (r *recordingConsumer) events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.seen...)
}

func TestBusDeliversInOrder(t *testing.T) {
	t.Parallel()

	bus := New(Config{BufferSize: 16})
	c := &recordingConsumer{name: "rec"}
	require.NoError(t, bus.RegisterConsumer(c))
	bus.Start()
	defer func() { require.NoError(t, bus.Shutdown(time.Second)) }()

	kinds := []Kind{HardwareOffline, AccessorySuspend, HardwareOnline, AccessoryResume}
	for _, k := range kinds {
		require.NoError(t, bus.Publish(context.Background(), Event{Kind: k, Device: "bluetooth_a2dp"}))
	}

	require.Eventually(t, func() bool { return c.count.Load() == int32(len(kinds)) }, time.Second, 5*time.Millisecond)

	got := c.events()
	for i, k := range kinds {
		assert.Equal(t, k, got[i].Kind)
		assert.False(t, got[i].Timestamp.IsZero())
	}
	assert.Equal(t, uint64(len(kinds)), bus.Stats().EventsProcessed)
}

func TestBusDuplicateConsumer(t *testing.T) {
	t.Parallel()

	bus := New(Config{})
	require.NoError(t, bus.RegisterConsumer(&recordingConsumer{name: "a"}))
	assert.Error(t, bus.RegisterConsumer(&recordingConsumer{name: "a"}))
}

func TestPublishBeforeStart(t *testing.T) {
	t.Parallel()

	bus := New(Config{})
	assert.Error(t, bus.Publish(context.Background(), Event{Kind: HardwareOnline}))
	assert.False(t, bus.TryPublish(Event{Kind: HardwareOnline}))
}

func TestTryPublishDropsWhenFull(t *testing.T) {
	t.Parallel()

	bus := New(Config{BufferSize: 1})
	c := &recordingConsumer{name: "slow", delay: 50 * time.Millisecond}
	require.NoError(t, bus.RegisterConsumer(c))
	bus.Start()
	defer func() { require.NoError(t, bus.Shutdown(time.Second)) }()

	accepted := 0
	for range 10 {
		if bus.TryPublish(Event{Kind: BitrateChanged, Value: 320000}) {
			accepted++
		}
	}

	assert.Less(t, accepted, 10)
	assert.Equal(t, uint64(10-accepted), bus.Stats().EventsDropped)
}

func TestPublishHonorsContext(t *testing.T) {
	t.Parallel()

	bus := New(Config{BufferSize: 1})
	block := make(chan struct{})
	require.NoError(t, bus.RegisterConsumer(ConsumerFunc{
		ConsumerName: "blocker",
		Fn: func(context.Context, Event) error {
			<-block
			return nil
		},
	}))
	bus.Start()
	defer func() {
		close(block)
		require.NoError(t, bus.Shutdown(time.Second))
	}()

	// One event occupies the worker, one fills the buffer.
	require.NoError(t, bus.Publish(context.Background(), Event{Kind: HardwareOffline}))
	require.Eventually(t, func() bool {
		return bus.TryPublish(Event{Kind: HardwareOnline})
	}, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := bus.Publish(ctx, Event{Kind: HardwareOffline})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConsumerErrorsAndPanicsAreContained(t *testing.T) {
	t.Parallel()

	bus := New(Config{})
	failing := &recordingConsumer{name: "failing", fail: true}
	require.NoError(t, bus.RegisterConsumer(failing))
	require.NoError(t, bus.RegisterConsumer(ConsumerFunc{
		ConsumerName: "panicky",
		Fn:           func(context.Context, Event) error { panic("boom") },
	}))
	healthy := &recordingConsumer{name: "healthy"}
	require.NoError(t, bus.RegisterConsumer(healthy))
	bus.Start()
	defer func() { require.NoError(t, bus.Shutdown(time.Second)) }()

	require.NoError(t, bus.Publish(context.Background(), Event{Kind: MTUChanged, Value: 679}))

	require.Eventually(t, func() bool { return healthy.count.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(2), bus.Stats().ConsumerErrors)
}

func TestKindString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "accessory_suspend", AccessorySuspend.String())
	assert.Equal(t, "kind(99)", Kind(99).String())
}
