package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/alem-gamification/internal/domain/shared"
)

var at = time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC)

func promotion() shared.Event {
	return shared.NewRankChangedEvent(shared.EventRankPromoted, "h-1", "u-1", 1, 3, "promotion", at)
}

func TestInMemoryEventBus_Sync(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{})

	var typed, all atomic.Int32
	require.NoError(t, bus.Subscribe(shared.EventRankPromoted, func(shared.Event) error {
		typed.Add(1)
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		all.Add(1)
		return errors.New("boom")
	}))

	require.NoError(t, bus.Publish(promotion()))
	require.NoError(t, bus.Publish(shared.NewPointsCreditedEvent("u-1", "chapter:c:1", 10, 10, 10, at)))

	assert.Equal(t, int32(1), typed.Load())
	assert.Equal(t, int32(2), all.Load())

	m := bus.Metrics().Snapshot()
	assert.Equal(t, int64(2), m.Published)
	assert.Equal(t, int64(2), m.HandlerFailures)

	require.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.Publish(promotion()), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Subscribe(shared.EventRankDemoted, func(shared.Event) error { return nil }), ErrEventBusClosed)
}

func TestInMemoryEventBus_Async(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2})
	defer bus.Close()

	var calls atomic.Int32
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		calls.Add(1)
		return nil
	}))

	for i := 0; i < 20; i++ {
		require.NoError(t, bus.Publish(promotion()))
	}
	bus.Wait()

	assert.Equal(t, int32(20), calls.Load())
}

func TestDispatcher_RetriesThenSucceeds(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{})
	d := NewDispatcher(DispatcherConfig{
		EventBus:    bus,
		RetryConfig: RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond},
	})
	defer d.Stop()

	var calls atomic.Int32
	require.NoError(t, d.Register("flaky", func(shared.Event) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, shared.EventRankPromoted))
	require.NoError(t, d.Start())

	require.NoError(t, bus.Publish(promotion()))

	assert.Equal(t, int32(3), calls.Load())
	assert.Zero(t, d.DeadLetterQueue().Size())
}

func TestDispatcher_PanicGoesToDeadLetter(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{
		RetryConfig: RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
	})
	defer d.Stop()

	require.NoError(t, d.Register("panics", func(shared.Event) error {
		panic("nil map")
	}, shared.EventRankPromoted))

	var healthy atomic.Int32
	require.NoError(t, d.Register("healthy", func(shared.Event) error {
		healthy.Add(1)
		return nil
	}, shared.EventRankPromoted))

	err := d.Dispatch(promotion())
	assert.ErrorIs(t, err, ErrHandlerPanic)
	assert.Equal(t, int32(1), healthy.Load())

	dead := d.DeadLetterQueue().Entries()
	require.Len(t, dead, 1)
	assert.Equal(t, "panics", dead[0].HandlerName)
}

func TestDispatcher_RegisterValidation(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{})
	assert.Error(t, d.Register("nil", nil, shared.EventRankPromoted))
	assert.Error(t, d.Register("none", func(shared.Event) error { return nil }))
	assert.Error(t, d.Start())
}

func TestRedisPublisher(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	pub, err := NewRedisPublisher(RedisPublisherConfig{Client: client})
	require.NoError(t, err)
	assert.Equal(t, DefaultRankHistoryChannel, pub.Channel())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	envelopes, err := pub.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, pub.Handle(promotion()))

	select {
	case env := <-envelopes:
		assert.Equal(t, shared.EventRankPromoted, env.Type)
		assert.Equal(t, "u-1", env.AggregateID)
		assert.NotEmpty(t, env.ID)

		var payload map[string]interface{}
		require.NoError(t, json.Unmarshal(env.Payload, &payload))
		assert.Equal(t, "h-1", payload["history_id"])
		assert.EqualValues(t, 3, payload["new_tier"])
	case <-ctx.Done():
		t.Fatal("no envelope received")
	}
}

func TestNewRedisPublisher_RequiresClient(t *testing.T) {
	_, err := NewRedisPublisher(RedisPublisherConfig{})
	assert.Error(t, err)
}
