package redis

import (
	"context"

	"github.com/bainblan/Whos-There/internal/storage"
	"github.com/redis/go-redis/v9"
)

type passwordStore struct {
	client *redis.Client
	keys   keys
}

// Get retrieves the password stored for profile
func (s *passwordStore) Get(ctx context.Context, profile string) (*storage.Password, error) {
	data, err := s.client.HGetAll(ctx, s.keys.password(profile)).Result()
	if err != nil {
		return nil, err
	}
	return parsePassword(data)
}

// Set replaces the password for profile
func (s *passwordStore) Set(ctx context.Context, profile string, pw storage.Password) error {
	if err := pw.Intervals.Validate(); err != nil {
		return err
	}

	key := s.keys.password(profile)
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, passwordFields(pw))
	_, err := pipe.Exec(ctx)
	return err
}

// Delete removes the password for profile
func (s *passwordStore) Delete(ctx context.Context, profile string) error {
	return s.client.Del(ctx, s.keys.password(profile)).Err()
}
