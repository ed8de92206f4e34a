// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

package engine

import (
	"context"
	"sync"
)

// Fake is a scriptable Engine for tests. Set Response or Err; Calls counts
// invocations.
type Fake struct {
	mu       sync.Mutex
	Response *Response
	Err      error
	calls    int
	lastReq  *Request
}

// Recommend returns the scripted response or error.
func (f *Fake) Recommend(_ context.Context, req *Request) (*Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastReq = req
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Response, nil
}

// Script sets the canned response and clears any scripted error.
func (f *Fake) Script(resp *Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Response = resp
	f.Err = nil
}

// Fail makes subsequent calls return err.
func (f *Fake) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Err = err
}

// Calls returns how many times Recommend ran.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// LastRequest returns the most recent request seen.
func (f *Fake) LastRequest() *Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq
}
