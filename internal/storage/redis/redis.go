package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/bainblan/Whos-There/internal/config"
	"github.com/bainblan/Whos-There/internal/storage"
	"github.com/redis/go-redis/v9"
)

// Store implements the storage.Store interface using Redis
type Store struct {
	client        *redis.Client
	passwordStore *passwordStore
	attemptStore  *attemptStore
}

// Open creates a new Redis-backed storage instance keeping at most
// retention attempts per profile.
func Open(cfg config.RedisConfig, retention int) (*Store, error) {
	// Parse timeouts
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Determine address
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	// Ping to verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if retention <= 0 {
		retention = storage.DefaultAttemptRetention
	}
	k := keys{prefix: cfg.KeyPrefix}
	if k.prefix == "" {
		k.prefix = "whosthere"
	}

	return &Store{
		client:        client,
		passwordStore: &passwordStore{client: client, keys: k},
		attemptStore:  &attemptStore{client: client, keys: k, retention: retention},
	}, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Passwords returns the PasswordStore implementation
func (s *Store) Passwords() storage.PasswordStore {
	return s.passwordStore
}

// Attempts returns the AttemptStore implementation
func (s *Store) Attempts() storage.AttemptStore {
	return s.attemptStore
}

type keys struct {
	prefix string
}

func (k keys) password(profile string) string {
	return fmt.Sprintf("%s:password:%s", k.prefix, profile)
}

func (k keys) attempts(profile string) string {
	return fmt.Sprintf("%s:attempts:%s", k.prefix, profile)
}
