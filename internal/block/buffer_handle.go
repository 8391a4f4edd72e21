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
	"errors"
	"fmt"
)

var ErrBufferDrained = errors.New("buffer was drained and must be reset before it accepts more data")

// BufferHandle is a fixed-capacity byte region with a fill position. Bytes
// are appended with Put until the region is full, handed out with Drain and
// discarded with Reset.
//
// A BufferHandle is not safe for concurrent use.
type BufferHandle struct {
	buffer []byte
	// Number of bytes filled, never greater than cap(buffer).
	end     int
	drained bool
}

// Allocate returns an empty BufferHandle over a new region of the given
// capacity.
func Allocate(capacity int) (*BufferHandle, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("invalid buffer capacity: %d", capacity)
	}
	return &BufferHandle{buffer: make([]byte, 0, capacity)}, nil
}

// HandleOf returns an empty BufferHandle using buf's full capacity as its
// region. The caller must not use buf afterwards.
func HandleOf(buf []byte) (*BufferHandle, error) {
	if cap(buf) == 0 {
		return nil, fmt.Errorf("invalid buffer capacity: %d", cap(buf))
	}
	return &BufferHandle{buffer: buf[:0]}, nil
}

// Put copies as much of p as fits and returns the number of bytes accepted.
func (b *BufferHandle) Put(p []byte) (int, error) {
	if b.drained {
		return 0, ErrBufferDrained
	}
	n := min(len(p), b.Remaining())
	b.buffer = append(b.buffer, p[:n]...)
	b.end += n
	return n, nil
}

// Drain returns the filled region. The returned slice aliases the buffer and
// is only valid until the next Reset.
func (b *BufferHandle) Drain() []byte {
	b.drained = true
	return b.buffer[:b.end:b.end]
}

// Reset discards the filled region so the buffer can be reused.
func (b *BufferHandle) Reset() {
	b.buffer = b.buffer[:0]
	b.end = 0
	b.drained = false
}

func (b *BufferHandle) IsFull() bool {
	return b.end == cap(b.buffer)
}

func (b *BufferHandle) Len() int {
	return b.end
}

func (b *BufferHandle) Cap() int {
	return cap(b.buffer)
}

func (b *BufferHandle) Remaining() int {
	return cap(b.buffer) - b.end
}
