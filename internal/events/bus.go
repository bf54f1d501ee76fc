// Package events publishes negotiation run events to Redis Streams, one
// stream per run, so dashboards can follow or replay a run.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Event types.
const (
	TypeRound      = "round"
	TypeEvaluation = "evaluation"
	TypeTerminated = "terminated"
	TypeVerdict    = "verdict"
	TypeReset      = "reset"
	TypePersisted  = "persisted"
)

// Event is one state change of a run.
type Event struct {
	ID        string          `json:"id"`
	RunID     string          `json:"run_id"`
	Type      string          `json:"type"`
	Round     int             `json:"round"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	// StreamID is the Redis entry ID, set on events read back from a stream.
	StreamID  string          `json:"stream_id,omitempty"`
}

// NewEvent builds an event, encoding payload as JSON.
func NewEvent(runID, typ string, round int, payload any) (*Event, error) {
	ev := &Event{
		ID:        uuid.New().String(),
		RunID:     runID,
		Type:      typ,
		Round:     round,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", typ, err)
		}
		ev.Payload = data
	}
	return ev, nil
}

const (
	streamPrefix = "parley:run:"
	maxStreamLen = 1000
)

// Bus is a Redis Streams backed event bus.
type Bus struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewBus connects to redisURL and verifies the connection.
func NewBus(ctx context.Context, redisURL string, logger *zap.Logger) (*Bus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Bus{rdb: rdb, logger: logger}, nil
}

func stream(runID string) string { return streamPrefix + runID }

// Publish appends ev to its run's stream, trimming old entries.
func (b *Bus) Publish(ctx context.Context, ev *Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream(ev.RunID),
		MaxLen: maxStreamLen,
		Approx: true,
		Values: map[string]interface{}{"data": string(data)},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", stream(ev.RunID), err)
	}
	b.logger.Debug("published event",
		zap.String("run", ev.RunID),
		zap.String("type", ev.Type),
		zap.Int("round", ev.Round))
	return nil
}

// History returns every retained event of a run, oldest first.
func (b *Bus) History(ctx context.Context, runID string) ([]Event, error) {
	msgs, err := b.rdb.XRange(ctx, stream(runID), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", stream(runID), err)
	}
	out := make([]Event, 0, len(msgs))
	for _, msg := range msgs {
		if ev, ok := decode(msg); ok {
			out = append(out, *ev)
		}
	}
	return out, nil
}

// Subscribe follows a run's stream after lastID ("$" or "" for new events
// only, "0" to replay from the start). Cancel ctx to stop; the channel is
// closed when the subscription ends.
func (b *Bus) Subscribe(ctx context.Context, runID, lastID string) <-chan *Event {
	if lastID == "" {
		lastID = "$"
	}
	ch := make(chan *Event, 16)
	key := stream(runID)

	go func() {
		defer close(ch)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			res, err := b.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{key, lastID},
				Count:   10,
				Block:   2 * time.Second,
			}).Result()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				if !errors.Is(err, redis.Nil) {
					b.logger.Warn("event subscription read failed", zap.String("stream", key), zap.Error(err))
					time.Sleep(100 * time.Millisecond)
				}
				continue
			}

			for _, r := range res {
				for _, msg := range r.Messages {
					lastID = msg.ID
					ev, ok := decode(msg)
					if !ok {
						continue
					}
					select {
					case ch <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return ch
}

// Delete drops a run's stream.
func (b *Bus) Delete(ctx context.Context, runID string) error {
	return b.rdb.Del(ctx, stream(runID)).Err()
}

// Close shuts down the Redis connection.
func (b *Bus) Close() error {
	return b.rdb.Close()
}

func decode(msg redis.XMessage) (*Event, bool) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		return nil, false
	}
	var ev Event
	if json.Unmarshal([]byte(data), &ev) != nil {
		return nil, false
	}
	ev.StreamID = msg.ID
	return &ev, true
}
