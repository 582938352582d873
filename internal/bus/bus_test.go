// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package bus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/timetrack/internal/domain/session/model"
	"github.com/ManuGH/timetrack/internal/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func getCounterValue(t *testing.T, counter prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, counter.Write(m))
	return m.GetCounter().GetValue()
}

func recv(t *testing.T, s Subscriber) model.Event {
	t.Helper()
	select {
	case ev, ok := <-s.C():
		require.True(t, ok, "subscriber closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return model.Event{}
	}
}

func TestMemoryBus_RoutesByTopic(t *testing.T) {
	b := NewMemoryBus(4)
	ctx := context.Background()

	a1, err := b.Subscribe(ctx, OwnerTopic("alice"))
	require.NoError(t, err)
	a2, err := b.Subscribe(ctx, OwnerTopic("alice"))
	require.NoError(t, err)
	bob, err := b.Subscribe(ctx, OwnerTopic("bob"))
	require.NoError(t, err)
	defer a1.Close()
	defer a2.Close()
	defer bob.Close()

	ev := model.Event{Type: model.EventSessionStarted, OwnerID: "alice", SessionID: "s1"}
	require.NoError(t, b.Publish(ctx, OwnerTopic("alice"), ev))

	assert.Equal(t, "s1", recv(t, a1).SessionID)
	assert.Equal(t, "s1", recv(t, a2).SessionID)
	select {
	case <-bob.C():
		t.Fatal("bob must not see alice's events")
	default:
	}
}

func TestMemoryBus_FullSubscriberDropsWithoutBlocking(t *testing.T) {
	b := NewMemoryBus(2)
	ctx := context.Background()
	sub, err := b.Subscribe(ctx, "t")
	require.NoError(t, err)
	defer sub.Close()

	before := getCounterValue(t, metrics.BusDroppedTotal.WithLabelValues("memory", "full"))
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Publish(ctx, "t", model.Event{Version: int64(i)}))
	}
	after := getCounterValue(t, metrics.BusDroppedTotal.WithLabelValues("memory", "full"))
	assert.Equal(t, before+3, after)

	assert.Equal(t, int64(0), recv(t, sub).Version)
	assert.Equal(t, int64(1), recv(t, sub).Version)
}

func TestMemoryBus_CloseUnsubscribes(t *testing.T) {
	b := NewMemoryBus(1)
	sub, err := b.Subscribe(context.Background(), "t")
	require.NoError(t, err)
	assert.Equal(t, 1, b.Subscribers("t"))

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	assert.Equal(t, 0, b.Subscribers("t"))
	_, ok := <-sub.C()
	assert.False(t, ok)

	require.NoError(t, b.Publish(context.Background(), "t", model.Event{}))
}

func TestMemoryBus_RejectsNilContext(t *testing.T) {
	b := NewMemoryBus(1)
	//nolint:staticcheck // exercising the nil guard
	err := b.Publish(nil, "t", model.Event{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context is nil")
}

func setupMiniRedis(t *testing.T) *RedisBus {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := newRedisBus(client, RedisConfig{}, zerolog.Nop())
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestRedisBus_PublishSubscribe(t *testing.T) {
	b := setupMiniRedis(t)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, OwnerTopic("alice"))
	require.NoError(t, err)

	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ev := model.Event{
		Type:      model.EventSessionPaused,
		OwnerID:   "alice",
		SessionID: "s1",
		Version:   3,
		Session:   &model.Session{ID: "s1", State: model.StatePaused, Version: 3},
		At:        at,
	}
	require.NoError(t, b.Publish(ctx, OwnerTopic("alice"), ev))

	got := recv(t, sub)
	assert.Equal(t, model.EventSessionPaused, got.Type)
	assert.Equal(t, int64(3), got.Version)
	require.NotNil(t, got.Session)
	assert.Equal(t, model.StatePaused, got.Session.State)
	assert.True(t, at.Equal(got.At))

	require.NoError(t, sub.Close())
	_, ok := <-sub.C()
	assert.False(t, ok)
}

func TestRedisBus_NewRedisBusFailsWithoutServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := NewRedisBus(ctx, RedisConfig{Addr: "127.0.0.1:1"}, zerolog.Nop())
	assert.Error(t, err)
}
