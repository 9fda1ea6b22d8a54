package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const cancelKeyPrefix = "charhub:job:cancel:"

// RedisCancelSignal shares cancellation requests between the API process and
// the worker processes. Flags expire on their own once the job is long gone.
type RedisCancelSignal struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCancelSignal creates a cancel signal on top of a Redis client
func NewRedisCancelSignal(client *RedisClient, ttl time.Duration) *RedisCancelSignal {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCancelSignal{client: client.Client(), ttl: ttl}
}

func cancelKey(jobID string) string {
	return cancelKeyPrefix + jobID
}

// Request flags a job for cancellation
func (s *RedisCancelSignal) Request(ctx context.Context, jobID string) error {
	if err := s.client.Set(ctx, cancelKey(jobID), 1, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cancel flag: %w", err)
	}
	return nil
}

// Requested reports whether a job has been flagged
func (s *RedisCancelSignal) Requested(ctx context.Context, jobID string) (bool, error) {
	n, err := s.client.Exists(ctx, cancelKey(jobID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read cancel flag: %w", err)
	}
	return n > 0, nil
}

// Clear removes a job's flag once the job has finished
func (s *RedisCancelSignal) Clear(ctx context.Context, jobID string) error {
	if err := s.client.Del(ctx, cancelKey(jobID)).Err(); err != nil {
		return fmt.Errorf("failed to clear cancel flag: %w", err)
	}
	return nil
}
