// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

// Package clock provides injectable time and ID sources so that window
// alignment, expiry sweeps, and session state transitions are deterministic
// under test.
package clock

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Clock is a monotonic time source.
type Clock interface {
	Now() time.Time
}

// IDGen mints opaque unique identifiers.
type IDGen interface {
	NewID() string
}

// System is the production Clock and IDGen backed by time.Now and UUIDv4.
type System struct{}

// Now returns the current wall-clock time.
func (System) Now() time.Time { return time.Now() }

// NewID returns a new UUIDv4 string.
func (System) NewID() string { return uuid.New().String() }

// Fake is a controllable Clock and deterministic IDGen for tests.
type Fake struct {
	mu  sync.Mutex
	now time.Time
	seq int
	ids []string
}

// NewFake creates a fake clock pinned to start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the fake's current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Set pins the fake clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

// QueueIDs pre-loads the IDs NewID will return, in order. Once exhausted,
// NewID falls back to a sequential scheme.
func (f *Fake) QueueIDs(ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, ids...)
}

// NewID returns the next queued ID, or "id-N" when the queue is empty.
func (f *Fake) NewID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ids) > 0 {
		id := f.ids[0]
		f.ids = f.ids[1:]
		return id
	}
	f.seq++
	return "id-" + itoa(f.seq)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
