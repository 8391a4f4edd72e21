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

package future

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestImmediate(t *testing.T) {
	f := Immediate(42)

	v, err := f.Await(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.True(t, f.IsDone())
}

func TestFailed(t *testing.T) {
	want := errors.New("boom")
	f := Failed[string](want)

	v, err := f.Await(context.Background())

	assert.ErrorIs(t, err, want)
	assert.Empty(t, v)
}

func TestAwaitBlocksUntilSet(t *testing.T) {
	f := New[int]()
	assert.False(t, f.IsDone())
	go func() {
		time.Sleep(5 * time.Millisecond)
		f.Set(7)
	}()

	v, err := f.Await(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestAwaitHonoursContext(t *testing.T) {
	f := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := f.Await(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, f.IsDone())
}

func TestSecondResolutionPanics(t *testing.T) {
	f := New[int]()
	f.Set(1)

	assert.Panics(t, func() { f.Set(2) })
	assert.Panics(t, func() { f.SetErr(errors.New("late")) })
	v, err := f.Await(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestConcurrentWaiters(t *testing.T) {
	f := New[string]()
	var g errgroup.Group
	results := make([]string, 16)
	for i := range results {
		g.Go(func() error {
			v, err := f.Await(context.Background())
			results[i] = v
			return err
		})
	}

	f.Set("done")

	require.NoError(t, g.Wait())
	for _, r := range results {
		assert.Equal(t, "done", r)
	}
}
