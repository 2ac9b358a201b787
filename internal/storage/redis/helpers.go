package redis

import (
	"fmt"
	"time"

	"github.com/bainblan/Whos-There/internal/rhythm"
	"github.com/bainblan/Whos-There/internal/storage"
)

// passwordFields converts a Password to Redis hash fields
func passwordFields(pw storage.Password) map[string]interface{} {
	updatedAt := pw.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	return map[string]interface{}{
		"intervals":   pw.Intervals.String(),
		"description": pw.Description,
		"source":      string(pw.Source),
		"updated_at":  updatedAt.Format(time.RFC3339Nano),
	}
}

// parsePassword converts a Redis hash to Password
func parsePassword(data map[string]string) (*storage.Password, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	intervals, err := rhythm.Parse(data["intervals"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse intervals: %w", err)
	}

	updatedAt, err := time.Parse(time.RFC3339Nano, data["updated_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	return &storage.Password{
		Intervals:   intervals,
		Description: data["description"],
		Source:      storage.Source(data["source"]),
		UpdatedAt:   updatedAt,
	}, nil
}
