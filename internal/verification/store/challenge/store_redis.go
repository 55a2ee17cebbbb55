package challenge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"skern/internal/platform/redis"
	"skern/internal/verification/models"
	id "skern/pkg/domain"
	"skern/pkg/platform/sentinel"
)

const keyPrefix = "skern:challenge:"

// RedisChallengeStore holds pending challenges in Redis so suspended runs
// survive instance restarts and resume on any replica. Expiry rides the key
// TTL; the stored ExpiresAt is still checked on read for clock safety.
type RedisChallengeStore struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) (*RedisChallengeStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	return &RedisChallengeStore{client: client}, nil
}

func (s *RedisChallengeStore) Put(ctx context.Context, c *models.PendingChallenge) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal pending challenge: %w", err)
	}
	ttl := time.Until(c.ExpiresAt)
	if ttl <= 0 {
		return sentinel.ErrExpired
	}
	if err := s.client.Set(ctx, keyPrefix+c.SubmissionID.String(), payload, ttl).Err(); err != nil {
		return fmt.Errorf("store pending challenge: %w", err)
	}
	return nil
}

func (s *RedisChallengeStore) Get(ctx context.Context, subID id.SubmissionID, now time.Time) (*models.PendingChallenge, error) {
	payload, err := s.client.Get(ctx, keyPrefix+subID.String()).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get pending challenge: %w", err)
	}

	var c models.PendingChallenge
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, fmt.Errorf("unmarshal pending challenge: %w", err)
	}
	if c.ExpiredAt(now) {
		_ = s.client.Del(ctx, keyPrefix+subID.String()).Err()
		return nil, sentinel.ErrExpired
	}
	return &c, nil
}

func (s *RedisChallengeStore) Delete(ctx context.Context, subID id.SubmissionID) error {
	if err := s.client.Del(ctx, keyPrefix+subID.String()).Err(); err != nil {
		return fmt.Errorf("delete pending challenge: %w", err)
	}
	return nil
}

// IncrementAttempts bumps the attempt counter on a sibling key sharing the
// challenge TTL, so counting does not rewrite the challenge payload.
func (s *RedisChallengeStore) IncrementAttempts(ctx context.Context, subID id.SubmissionID) (int, error) {
	key := keyPrefix + subID.String() + ":attempts"
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("increment challenge attempts: %w", err)
	}
	if n == 1 {
		ttl, err := s.client.TTL(ctx, keyPrefix+subID.String()).Result()
		if err == nil && ttl > 0 {
			_ = s.client.Expire(ctx, key, ttl).Err()
		}
	}
	return int(n), nil
}
