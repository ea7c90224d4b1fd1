// Package store provides the persisted key-value boundary shared by the
// companion process and the caregiver dashboard.
package store

import (
	"context"
	"errors"
)

// ErrQuotaExceeded is returned by Set when the write would push the total
// stored size above the configured quota.
var ErrQuotaExceeded = errors.New("store: quota exceeded")

// KV is a string-keyed, string-valued store. Readers poll it; there is no
// change notification. Concurrent writers follow last-write-wins.
type KV interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)

	// GetMany returns the values of the present keys. Absent keys are
	// missing from the result.
	GetMany(ctx context.Context, keys ...string) (map[string]string, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Ping verifies the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases the backing storage.
	Close() error
}
