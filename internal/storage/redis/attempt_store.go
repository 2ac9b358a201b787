package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bainblan/Whos-There/internal/storage"
	"github.com/redis/go-redis/v9"
)

type attemptStore struct {
	client    *redis.Client
	keys      keys
	retention int
}

// Add records an attempt and trims the profile's history
func (s *attemptStore) Add(ctx context.Context, attempt storage.AccessAttempt) error {
	data, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("failed to encode attempt: %w", err)
	}

	script := redis.NewScript(addAttemptScript)
	return script.Run(ctx, s.client,
		[]string{s.keys.attempts(attempt.Profile)},
		string(data), s.retention,
	).Err()
}

// Recent returns the newest attempts for profile
func (s *attemptStore) Recent(ctx context.Context, profile string, limit int) ([]storage.AccessAttempt, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	items, err := s.client.LRange(ctx, s.keys.attempts(profile), 0, stop).Result()
	if err != nil {
		return nil, err
	}

	attempts := make([]storage.AccessAttempt, 0, len(items))
	for _, item := range items {
		var a storage.AccessAttempt
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			// Skip corrupt entries rather than hiding the whole history
			continue
		}
		attempts = append(attempts, a)
	}
	return attempts, nil
}
