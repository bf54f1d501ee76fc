package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestBus(t *testing.T) (*miniredis.Miniredis, *Bus) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	bus, err := NewBus(context.Background(), "redis://"+mr.Addr(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })
	return mr, bus
}

func TestNewBusBadURL(t *testing.T) {
	_, err := NewBus(context.Background(), "not a url", zap.NewNop())
	assert.Error(t, err)
}

func TestPublishAndHistory(t *testing.T) {
	mr, bus := setupTestBus(t)
	ctx := context.Background()

	for round := 1; round <= 3; round++ {
		ev, err := NewEvent("run-1", TypeRound, round, map[string]any{"turns": round * 2})
		require.NoError(t, err)
		require.NoError(t, bus.Publish(ctx, ev))
	}
	other, err := NewEvent("run-2", TypeReset, 0, nil)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, other))

	history, err := bus.History(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	for i, ev := range history {
		assert.Equal(t, "run-1", ev.RunID)
		assert.Equal(t, TypeRound, ev.Type)
		assert.Equal(t, i+1, ev.Round)
		assert.NotEmpty(t, ev.ID)
		assert.NotEmpty(t, ev.StreamID)
	}
	var payload map[string]int
	require.NoError(t, json.Unmarshal(history[2].Payload, &payload))
	assert.Equal(t, 6, payload["turns"])

	assert.True(t, mr.Exists(streamPrefix+"run-2"))
	require.NoError(t, bus.Delete(ctx, "run-2"))
	assert.False(t, mr.Exists(streamPrefix+"run-2"))

	empty, err := bus.History(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSubscribeReplaysFromStart(t *testing.T) {
	_, bus := setupTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ev, err := NewEvent("run-1", TypeTerminated, 4, map[string]string{"reason": "stalled"})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, ev))

	ch := bus.Subscribe(ctx, "run-1", "0")
	select {
	case got := <-ch:
		require.NotNil(t, got)
		assert.Equal(t, ev.ID, got.ID)
		assert.NotEmpty(t, got.StreamID)
		assert.Equal(t, TypeTerminated, got.Type)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	cancel()
	select {
	case _, ok := <-ch:
		for ok {
			_, ok = <-ch
		}
	case <-time.After(5 * time.Second):
		t.Fatal("subscription did not close after cancel")
	}
}
