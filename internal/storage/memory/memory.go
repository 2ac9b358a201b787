// Package memory provides an in-process storage backend. Contents are lost
// when the process exits.
package memory

import (
	"context"
	"sync"

	"github.com/bainblan/Whos-There/internal/storage"
)

// Store implements the storage.Store interface in memory
type Store struct {
	passwords *passwordStore
	attempts  *attemptStore
}

// Open creates an empty store keeping at most retention attempts per
// profile.
func Open(retention int) *Store {
	if retention <= 0 {
		retention = storage.DefaultAttemptRetention
	}
	return &Store{
		passwords: &passwordStore{items: make(map[string]storage.Password)},
		attempts:  &attemptStore{items: make(map[string][]storage.AccessAttempt), retention: retention},
	}
}

// Close is a no-op
func (s *Store) Close() error { return nil }

// Passwords returns the PasswordStore implementation
func (s *Store) Passwords() storage.PasswordStore { return s.passwords }

// Attempts returns the AttemptStore implementation
func (s *Store) Attempts() storage.AttemptStore { return s.attempts }

type passwordStore struct {
	mu    sync.RWMutex
	items map[string]storage.Password
}

func (p *passwordStore) Get(ctx context.Context, profile string) (*storage.Password, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	pw, ok := p.items[profile]
	if !ok {
		return nil, storage.ErrNotFound
	}
	pw.Intervals = pw.Intervals.Clone()
	return &pw, nil
}

func (p *passwordStore) Set(ctx context.Context, profile string, pw storage.Password) error {
	if err := pw.Intervals.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	pw.Intervals = pw.Intervals.Clone()
	p.items[profile] = pw
	return nil
}

func (p *passwordStore) Delete(ctx context.Context, profile string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.items, profile)
	return nil
}

type attemptStore struct {
	mu        sync.Mutex
	items     map[string][]storage.AccessAttempt // oldest first
	retention int
}

func (a *attemptStore) Add(ctx context.Context, attempt storage.AccessAttempt) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	attempt.Candidate = attempt.Candidate.Clone()
	list := append(a.items[attempt.Profile], attempt)
	if len(list) > a.retention {
		list = append([]storage.AccessAttempt(nil), list[len(list)-a.retention:]...)
	}
	a.items[attempt.Profile] = list
	return nil
}

func (a *attemptStore) Recent(ctx context.Context, profile string, limit int) ([]storage.AccessAttempt, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	list := a.items[profile]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([]storage.AccessAttempt, 0, limit)
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, list[i])
	}
	return out, nil
}
