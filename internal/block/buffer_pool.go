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
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

var ErrCantAllocateBuffer = errors.New("cant allocate any write buffer as global max buffers limit is reached")

// BufferPool hands out BufferHandles of one size and takes them back for
// reuse. The number of buffers alive across every pool sharing
// globalMaxBuffersSem is bounded by the semaphore's weight.
type BufferPool struct {
	mu sync.Mutex

	// Channel holding free buffers.
	freeBuffersCh chan *BufferHandle

	// Size of each buffer this pool holds.
	bufferSize int

	// Max number of buffers this pool can create.
	maxBuffers int64

	// Total number of buffers created so far.
	// GUARDED_BY(mu)
	totalBuffers int64

	globalMaxBuffersSem *semaphore.Weighted
}

// NewBufferPool creates a pool and reserves one buffer slot of the global
// limit for it.
func NewBufferPool(bufferSize int, maxBuffers int64, globalMaxBuffersSem *semaphore.Weighted) (*BufferPool, error) {
	if bufferSize <= 0 || maxBuffers <= 0 {
		return nil, fmt.Errorf("invalid configuration provided for bufferPool, bufferSize: %d, maxBuffers: %d", bufferSize, maxBuffers)
	}
	if !globalMaxBuffersSem.TryAcquire(1) {
		return nil, ErrCantAllocateBuffer
	}
	return &BufferPool{
		freeBuffersCh:       make(chan *BufferHandle, maxBuffers),
		bufferSize:          bufferSize,
		maxBuffers:          maxBuffers,
		globalMaxBuffersSem: globalMaxBuffersSem,
	}, nil
}

// TryGet returns a free buffer, allocating one if the limits allow, or
// ErrCantAllocateBuffer.
func (bp *BufferPool) TryGet() (*BufferHandle, error) {
	select {
	case b := <-bp.freeBuffersCh:
		b.Reset()
		return b, nil
	default:
	}

	if !bp.tryReserve() {
		return nil, ErrCantAllocateBuffer
	}
	return bp.allocate()
}

// Get is like TryGet but waits for a buffer to be released when the limits
// are reached, until ctx is done.
func (bp *BufferPool) Get(ctx context.Context) (*BufferHandle, error) {
	b, err := bp.TryGet()
	if !errors.Is(err, ErrCantAllocateBuffer) {
		return b, err
	}

	select {
	case b := <-bp.freeBuffersCh:
		b.Reset()
		return b, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for a free write buffer: %w", ctx.Err())
	}
}

// Release puts the buffer back into the free buffers channel for reuse.
func (bp *BufferPool) Release(b *BufferHandle) {
	select {
	case bp.freeBuffersCh <- b:
	default:
		panic("Buffer pool's free buffers channel is full, this should never happen")
	}
}

// BufferSize returns the capacity of the buffers this pool creates.
func (bp *BufferPool) BufferSize() int {
	return bp.bufferSize
}

// TotalFreeBuffers returns the number of buffers waiting for reuse.
func (bp *BufferPool) TotalFreeBuffers() int {
	return len(bp.freeBuffersCh)
}

// ClearFreeBuffers drops every free buffer and returns their slots to the
// global limit. If releaseLastBuffer is set, the slot reserved at creation is
// returned too.
func (bp *BufferPool) ClearFreeBuffers(releaseLastBuffer bool) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	for {
		select {
		case <-bp.freeBuffersCh:
			bp.totalBuffers--
			if bp.totalBuffers != 0 {
				bp.globalMaxBuffersSem.Release(1)
			}
		default:
			if releaseLastBuffer {
				bp.globalMaxBuffersSem.Release(1)
			}
			return
		}
	}
}

func (bp *BufferPool) tryReserve() bool {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if bp.totalBuffers >= bp.maxBuffers {
		return false
	}
	// The first buffer uses the slot reserved at pool creation.
	if bp.totalBuffers > 0 && !bp.globalMaxBuffersSem.TryAcquire(1) {
		return false
	}
	bp.totalBuffers++
	return true
}

func (bp *BufferPool) allocate() (*BufferHandle, error) {
	b, err := Allocate(bp.bufferSize)
	if err != nil {
		bp.mu.Lock()
		bp.totalBuffers--
		if bp.totalBuffers > 0 {
			bp.globalMaxBuffersSem.Release(1)
		}
		bp.mu.Unlock()
		return nil, err
	}
	return b, nil
}
