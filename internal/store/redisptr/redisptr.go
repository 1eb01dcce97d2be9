// Package redisptr stores active session pointers in Redis so that several
// server replicas share one view of who is talking to which agent.
package redisptr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ashureev/techflow/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "techflow:pointer:"
	indexKey  = "techflow:pointers:touched"
)

// Store implements store.PointerStore on top of Redis.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to redisURL and verifies the connection. Pointer keys expire
// after ttl without a touch; a zero ttl disables expiry.
func New(ctx context.Context, redisURL string, ttl time.Duration) (*Store, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Store{client: client, ttl: ttl}, nil
}

type record struct {
	AgentID       string `json:"agent_id"`
	SessionID     string `json:"session_id"`
	LastTouchedAt int64  `json:"last_touched_at"`
}

func pointerKey(channel domain.Channel, externalIdentity string) string {
	return keyPrefix + domain.PointerKey(channel, externalIdentity)
}

func encode(p *domain.ActiveSessionPointer) ([]byte, error) {
	return json.Marshal(record{
		AgentID:       p.AgentID,
		SessionID:     p.SessionID,
		LastTouchedAt: p.LastTouchedAt.UnixMilli(),
	})
}

func decode(channel domain.Channel, externalIdentity string, data []byte) (*domain.ActiveSessionPointer, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &domain.ActiveSessionPointer{
		Channel:          channel,
		ExternalIdentity: externalIdentity,
		AgentID:          r.AgentID,
		SessionID:        r.SessionID,
		LastTouchedAt:    time.UnixMilli(r.LastTouchedAt),
	}, nil
}

// GetPointer returns (nil, nil) when no pointer exists.
func (s *Store) GetPointer(ctx context.Context, channel domain.Channel, externalIdentity string) (*domain.ActiveSessionPointer, error) {
	data, err := s.client.Get(ctx, pointerKey(channel, externalIdentity)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get pointer: %w", domain.ErrStorage, err)
	}
	p, err := decode(channel, externalIdentity, data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode pointer: %w", domain.ErrStorage, err)
	}
	return p, nil
}

// PutPointer writes the pointer and refreshes its expiry.
func (s *Store) PutPointer(ctx context.Context, p *domain.ActiveSessionPointer) error {
	data, err := encode(p)
	if err != nil {
		return fmt.Errorf("encode pointer: %w", err)
	}
	key := pointerKey(p.Channel, p.ExternalIdentity)

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, data, s.ttl)
	pipe.ZAdd(ctx, indexKey, redis.Z{Score: float64(p.LastTouchedAt.UnixMilli()), Member: key})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: put pointer: %w", domain.ErrStorage, err)
	}
	return nil
}

// DeletePointer removes the pointer if present.
func (s *Store) DeletePointer(ctx context.Context, channel domain.Channel, externalIdentity string) error {
	key := pointerKey(channel, externalIdentity)

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.ZRem(ctx, indexKey, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: delete pointer: %w", domain.ErrStorage, err)
	}
	return nil
}

// DeleteIdlePointers removes pointers touched before cutoff. Keys that Redis
// already expired are pruned from the index as well.
func (s *Store) DeleteIdlePointers(ctx context.Context, cutoff time.Time) (int64, error) {
	keys, err := s.client.ZRangeByScore(ctx, indexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: scan idle pointers: %w", domain.ErrStorage, err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	members := make([]interface{}, len(keys))
	for i, k := range keys {
		members[i] = k
	}

	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, keys...)
	pipe.ZRem(ctx, indexKey, members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: delete idle pointers: %w", domain.ErrStorage, err)
	}
	return del.Val(), nil
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}
