// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package future provides a single-assignment value that many goroutines can
// wait on.
package future

import (
	"context"
	"sync"
)

// Future holds a value or an error that is set exactly once. Any number of
// goroutines may wait for it concurrently.
type Future[T any] struct {
	once sync.Once
	done chan struct{}

	// Written once before done is closed.
	value T
	err   error
}

// New returns an unresolved Future.
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Immediate returns a Future already resolved with v.
func Immediate[T any](v T) *Future[T] {
	f := New[T]()
	f.Set(v)
	return f
}

// Failed returns a Future already resolved with err.
func Failed[T any](err error) *Future[T] {
	f := New[T]()
	f.SetErr(err)
	return f
}

// Set resolves the future with v. It panics if the future is already
// resolved.
func (f *Future[T]) Set(v T) {
	f.resolve(v, nil)
}

// SetErr resolves the future with err. It panics if the future is already
// resolved.
func (f *Future[T]) SetErr(err error) {
	var zero T
	f.resolve(zero, err)
}

func (f *Future[T]) resolve(v T, err error) {
	resolved := false
	f.once.Do(func() {
		f.value = v
		f.err = err
		close(f.done)
		resolved = true
	})
	if !resolved {
		panic("future: resolved twice")
	}
}

// Done returns a channel that is closed once the future is resolved.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// IsDone reports whether the future is resolved.
func (f *Future[T]) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Await blocks until the future is resolved or ctx is done.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
