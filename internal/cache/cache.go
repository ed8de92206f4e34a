// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

// Package cache provides the fast key/value boundary used for rate-limit
// counters, recommendation caches, and session liveness tags.
//
// Two implementations ship: an in-memory store for tests and single-node
// deployments, and a BadgerDB-backed store for durable counters across
// restarts. Both honor TTLs and expose atomic increment and compare-and-swap
// primitives so callers never need client-side locking.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get and CompareAndSwap when the key is absent
// or expired. Cache misses are normal, not failures; callers branch on this
// sentinel rather than treating it as an error path.
var ErrNotFound = errors.New("cache: key not found")

// Store is the cache boundary. All operations are safe for concurrent use.
type Store interface {
	// Get returns the raw value stored at key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value at key. A ttl of zero means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// AtomicIncr atomically adds amount to the integer counter at key and
	// returns the new value. The ttl applies only when the counter is
	// created by this call; subsequent increments leave expiry untouched so
	// fixed windows keep their original boundary.
	AtomicIncr(ctx context.Context, key string, amount int64, ttl time.Duration) (int64, error)

	// CompareAndSwap replaces the value at key with next only if the stored
	// value equals old. Returns true when the swap happened. The stored TTL
	// is preserved.
	CompareAndSwap(ctx context.Context, key string, old, next []byte) (bool, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// KeysByPrefix returns all live keys starting with prefix. Used only by
	// the session expiry sweep; not intended for hot paths.
	KeysByPrefix(ctx context.Context, prefix string) ([]string, error)
}
