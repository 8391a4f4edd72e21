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

package block

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/semaphore"
)

const invalidConfigError string = "invalid configuration provided for bufferPool, bufferSize: %d, maxBuffers: %d"

type BufferPoolTest struct {
	suite.Suite
}

func TestBufferPoolTestSuite(t *testing.T) {
	suite.Run(t, new(BufferPoolTest))
}

func (t *BufferPoolTest) TestInitBufferPool() {
	bp, err := NewBufferPool(1024, 10, semaphore.NewWeighted(10))

	require.Nil(t.T(), err)
	require.NotNil(t.T(), bp)
	assert.Equal(t.T(), 1024, bp.BufferSize())
	assert.Equal(t.T(), int64(10), bp.maxBuffers)
	assert.Equal(t.T(), int64(0), bp.totalBuffers)
}

func (t *BufferPoolTest) TestInitBufferPoolInvalidConfig() {
	testCases := []struct {
		bufferSize int
		maxBuffers int64
	}{
		{0, 10},
		{-1, 10},
		{10, 0},
		{10, -1},
	}

	for _, tc := range testCases {
		_, err := NewBufferPool(tc.bufferSize, tc.maxBuffers, semaphore.NewWeighted(10))

		require.NotNil(t.T(), err)
		assert.Equal(t.T(), fmt.Errorf(invalidConfigError, tc.bufferSize, tc.maxBuffers), err)
	}
}

func (t *BufferPoolTest) TestInitBufferPoolWhenGlobalLimitReached() {
	sem := semaphore.NewWeighted(1)
	_, err := NewBufferPool(1024, 10, sem)
	require.Nil(t.T(), err)

	_, err = NewBufferPool(1024, 10, sem)

	assert.ErrorIs(t.T(), err, ErrCantAllocateBuffer)
}

func (t *BufferPoolTest) TestTryGetReusesReleasedBuffer() {
	bp, err := NewBufferPool(4, 1, semaphore.NewWeighted(1))
	require.Nil(t.T(), err)
	b, err := bp.TryGet()
	require.Nil(t.T(), err)
	_, err = b.Put([]byte("abcd"))
	require.Nil(t.T(), err)
	b.Drain()
	bp.Release(b)

	reused, err := bp.TryGet()

	require.Nil(t.T(), err)
	assert.Same(t.T(), b, reused)
	assert.Equal(t.T(), 0, reused.Len())
	n, err := reused.Put([]byte("x"))
	assert.Nil(t.T(), err)
	assert.Equal(t.T(), 1, n)
}

func (t *BufferPoolTest) TestTryGetWhenMaxBuffersReached() {
	bp, err := NewBufferPool(4, 2, semaphore.NewWeighted(10))
	require.Nil(t.T(), err)
	_, err = bp.TryGet()
	require.Nil(t.T(), err)
	_, err = bp.TryGet()
	require.Nil(t.T(), err)

	_, err = bp.TryGet()

	assert.ErrorIs(t.T(), err, ErrCantAllocateBuffer)
}

func (t *BufferPoolTest) TestTryGetWhenGlobalLimitReached() {
	sem := semaphore.NewWeighted(2)
	bp1, err := NewBufferPool(4, 5, sem)
	require.Nil(t.T(), err)
	bp2, err := NewBufferPool(4, 5, sem)
	require.Nil(t.T(), err)
	// Both pools get their reserved buffer.
	_, err = bp1.TryGet()
	require.Nil(t.T(), err)
	_, err = bp2.TryGet()
	require.Nil(t.T(), err)

	_, err = bp1.TryGet()

	assert.ErrorIs(t.T(), err, ErrCantAllocateBuffer)
}

func (t *BufferPoolTest) TestGetWaitsForRelease() {
	bp, err := NewBufferPool(4, 1, semaphore.NewWeighted(1))
	require.Nil(t.T(), err)
	b, err := bp.TryGet()
	require.Nil(t.T(), err)
	go func() {
		time.Sleep(10 * time.Millisecond)
		bp.Release(b)
	}()

	got, err := bp.Get(context.Background())

	require.Nil(t.T(), err)
	assert.Same(t.T(), b, got)
}

func (t *BufferPoolTest) TestGetHonoursContext() {
	bp, err := NewBufferPool(4, 1, semaphore.NewWeighted(1))
	require.Nil(t.T(), err)
	_, err = bp.TryGet()
	require.Nil(t.T(), err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = bp.Get(ctx)

	assert.ErrorIs(t.T(), err, context.Canceled)
}

func (t *BufferPoolTest) TestReleasePanicsWhenChannelFull() {
	bp, err := NewBufferPool(4, 1, semaphore.NewWeighted(1))
	require.Nil(t.T(), err)
	b, err := bp.TryGet()
	require.Nil(t.T(), err)
	bp.Release(b)

	assert.Panics(t.T(), func() { bp.Release(b) })
}

func (t *BufferPoolTest) TestClearFreeBuffersReturnsSlots() {
	sem := semaphore.NewWeighted(3)
	bp, err := NewBufferPool(4, 3, sem)
	require.Nil(t.T(), err)
	var got []*BufferHandle
	for range 3 {
		b, err := bp.TryGet()
		require.Nil(t.T(), err)
		got = append(got, b)
	}
	require.False(t.T(), sem.TryAcquire(1))
	for _, b := range got {
		bp.Release(b)
	}

	bp.ClearFreeBuffers(true)

	assert.Equal(t.T(), 0, bp.TotalFreeBuffers())
	assert.True(t.T(), sem.TryAcquire(3))
}
