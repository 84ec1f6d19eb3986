package callstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultCallTTL = 4 * time.Hour

// RedisStore keeps live call state in Redis so any worker can pick up a
// call. Entries expire after the TTL: a call abandoned mid-flow does not
// leak.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	return &RedisStore{client: redis.NewClient(opts), ttl: defaultCallTTL}, nil
}

func callKey(callID string) string {
	return "callflow:call:" + callID
}

func (s *RedisStore) Save(ctx context.Context, call *Call) error {
	c := *call
	c.UpdatedAt = time.Now().UTC()

	payload, err := json.Marshal(&c)
	if err != nil {
		return fmt.Errorf("failed to encode call %s: %w", c.ID, err)
	}

	return s.client.Set(ctx, callKey(c.ID), payload, s.ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, callID string) (*Call, error) {
	payload, err := s.client.Get(ctx, callKey(callID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrCallNotFound, callID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load call %s: %w", callID, err)
	}

	var call Call

	if err := json.Unmarshal(payload, &call); err != nil {
		return nil, fmt.Errorf("failed to decode call %s: %w", callID, err)
	}

	return &call, nil
}

func (s *RedisStore) SetStatus(ctx context.Context, callID string, status Status) error {
	call, err := s.Get(ctx, callID)
	if err != nil {
		return err
	}

	call.Status = status

	if status == StatusCompleted || status == StatusFailed {
		now := time.Now().UTC()
		call.EndedAt = &now
	}

	return s.Save(ctx, call)
}

func (s *RedisStore) SetCurrentNode(ctx context.Context, callID, nodeID string) error {
	call, err := s.Get(ctx, callID)
	if err != nil {
		return err
	}

	call.CurrentNodeID = nodeID

	return s.Save(ctx, call)
}

func (s *RedisStore) Delete(ctx context.Context, callID string) error {
	return s.client.Del(ctx, callKey(callID)).Err()
}

func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
