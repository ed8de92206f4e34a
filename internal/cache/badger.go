// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Badger is a BadgerDB-backed Store. Counters and session tags survive
// process restarts, which keeps rate-limit windows honest across deploys.
type Badger struct {
	db *badger.DB
}

// NewBadger wraps an open badger.DB as a Store. The caller owns the DB
// lifecycle.
func NewBadger(db *badger.DB) *Badger {
	return &Badger{db: db}
}

// OpenBadger opens (or creates) a Badger database at path with logging
// disabled and returns it wrapped as a Store plus the raw handle for
// shutdown.
func OpenBadger(path string) (*Badger, *badger.DB, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	return NewBadger(db), db, nil
}

// Get returns the value at key or ErrNotFound.
func (b *Badger) Get(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get %s: %w", key, err)
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Set stores value at key with the given TTL.
func (b *Badger) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	return b.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

// AtomicIncr adds amount to the counter at key inside a single transaction.
// The TTL is applied only when the counter is created; an existing counter
// keeps its original expiry so the window boundary never slides.
func (b *Badger) AtomicIncr(_ context.Context, key string, amount int64, ttl time.Duration) (int64, error) {
	var next int64
	err := b.db.Update(func(txn *badger.Txn) error {
		var cur int64
		var remaining time.Duration

		item, err := txn.Get([]byte(key))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			remaining = ttl
		case err != nil:
			return fmt.Errorf("incr get %s: %w", key, err)
		default:
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			cur, _ = strconv.ParseInt(string(val), 10, 64)
			if exp := item.ExpiresAt(); exp > 0 {
				remaining = time.Until(time.Unix(int64(exp), 0))
				if remaining <= 0 {
					// Expired but not yet vacuumed; restart the window.
					cur = 0
					remaining = ttl
				}
			}
		}

		next = cur + amount
		e := badger.NewEntry([]byte(key), []byte(strconv.FormatInt(next, 10)))
		if remaining > 0 {
			e = e.WithTTL(remaining)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

// CompareAndSwap swaps the value at key only when the stored value equals
// old, preserving the remaining TTL.
func (b *Badger) CompareAndSwap(_ context.Context, key string, old, next []byte) (bool, error) {
	var swapped bool
	err := b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("cas get %s: %w", key, err)
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if !bytes.Equal(val, old) {
			return nil
		}

		e := badger.NewEntry([]byte(key), next)
		if exp := item.ExpiresAt(); exp > 0 {
			if remaining := time.Until(time.Unix(int64(exp), 0)); remaining > 0 {
				e = e.WithTTL(remaining)
			}
		}
		if err := txn.SetEntry(e); err != nil {
			return err
		}
		swapped = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return swapped, nil
}

// Delete removes key. Absent keys are not an error.
func (b *Badger) Delete(_ context.Context, key string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(key)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete %s: %w", key, err)
		}
		return nil
	})
}

// KeysByPrefix returns all live keys starting with prefix.
func (b *Badger) KeysByPrefix(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}
