package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bainblan/Whos-There/internal/config"
	"github.com/bainblan/Whos-There/internal/rhythm"
	"github.com/bainblan/Whos-There/internal/storage"
)

func setupTestStore(t *testing.T, retention int) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	// miniredis.Addr() returns "host:port", so Port stays 0
	cfg := config.RedisConfig{
		Host:         mr.Addr(),
		Port:         0,
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
		KeyPrefix:    "test",
	}

	store, err := Open(cfg, retention)
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}

	return store, mr
}

func TestPasswordStore_SetGet(t *testing.T) {
	store, mr := setupTestStore(t, 10)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	updated := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	err := store.Passwords().Set(ctx, "default", storage.Password{
		Intervals:   rhythm.Sequence{250, 250, 0, 500},
		Description: "Shave and a haircut",
		Source:      storage.SourceGenerated,
		UpdatedAt:   updated,
	})
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if got := mr.HGet("test:password:default", "intervals"); got != "250,250,0,500" {
		t.Errorf("Expected intervals hash field 250,250,0,500, got %q", got)
	}

	pw, err := store.Passwords().Get(ctx, "default")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if pw.Intervals.String() != "250,250,0,500" {
		t.Errorf("Expected intervals 250,250,0,500, got %s", pw.Intervals)
	}
	if pw.Description != "Shave and a haircut" {
		t.Errorf("Unexpected description %q", pw.Description)
	}
	if pw.Source != storage.SourceGenerated {
		t.Errorf("Expected generated source, got %s", pw.Source)
	}
	if !pw.UpdatedAt.Equal(updated) {
		t.Errorf("Expected UpdatedAt %v, got %v", updated, pw.UpdatedAt)
	}
}

func TestPasswordStore_OverwriteAndDelete(t *testing.T) {
	store, _ := setupTestStore(t, 10)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	passwords := store.Passwords()

	if _, err := passwords.Get(ctx, "default"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}

	_ = passwords.Set(ctx, "default", storage.Password{Intervals: rhythm.Sequence{100}, Description: "old"})
	_ = passwords.Set(ctx, "default", storage.Password{Intervals: rhythm.Sequence{200, 200}})

	pw, err := passwords.Get(ctx, "default")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if pw.Description != "" {
		t.Errorf("Expected overwrite to drop old description, got %q", pw.Description)
	}
	if pw.Intervals.String() != "200,200" {
		t.Errorf("Expected 200,200, got %s", pw.Intervals)
	}

	if err := passwords.Delete(ctx, "default"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := passwords.Get(ctx, "default"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}

func TestAttemptStore_Recent(t *testing.T) {
	store, _ := setupTestStore(t, 3)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		err := store.Attempts().Add(ctx, storage.AccessAttempt{
			ID:        fmt.Sprintf("attempt-%d", i),
			Profile:   "default",
			Source:    storage.SourceSensor,
			Candidate: rhythm.Sequence{i * 100},
			Granted:   i == 4,
			At:        time.Now(),
		})
		if err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	all, err := store.Attempts().Recent(ctx, "default", 0)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Expected 3 retained attempts, got %d", len(all))
	}
	if all[0].ID != "attempt-4" || !all[0].Granted {
		t.Errorf("Expected newest granted attempt first, got %+v", all[0])
	}
	if all[0].Candidate.String() != "400" {
		t.Errorf("Expected candidate 400, got %s", all[0].Candidate)
	}

	two, _ := store.Attempts().Recent(ctx, "default", 2)
	if len(two) != 2 {
		t.Errorf("Expected 2 attempts, got %d", len(two))
	}

	none, err := store.Attempts().Recent(ctx, "guest", 10)
	if err != nil || len(none) != 0 {
		t.Errorf("Expected empty history for guest, got %v (%v)", none, err)
	}
}
