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

package writesession

import (
	"sync"

	"github.com/googlecloudplatform/gcswrite/internal/block"
)

// BufferedWritableChannel accumulates writes in a BufferHandle and hands the
// underlying channel one flush per full buffer.
type BufferedWritableChannel struct {
	mu sync.Mutex

	// GUARDED_BY(mu)
	buffer  *block.BufferHandle
	channel *UnbufferedWritableChannel
	// Returns the buffer to its owner once the channel is closed. May be nil.
	release func(*block.BufferHandle)
	// GUARDED_BY(mu)
	closed bool
}

var _ WritableChannel = (*BufferedWritableChannel)(nil)

func newBufferedWritableChannel(channel *UnbufferedWritableChannel, buffer *block.BufferHandle, release func(*block.BufferHandle)) *BufferedWritableChannel {
	return &BufferedWritableChannel{
		buffer:  buffer,
		channel: channel,
		release: release,
	}
}

// Write buffers p, flushing every time the buffer fills. On a flush failure
// the returned count excludes the bytes of p that were still buffered.
func (c *BufferedWritableChannel) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, ErrClosedChannel
	}
	return c.write(p)
}

// WriteAndClose buffers p and finalizes the upload with whatever remains in
// the buffer.
func (c *BufferedWritableChannel) WriteAndClose(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, ErrClosedChannel
	}
	n, err := c.write(p)
	if err != nil {
		return n, err
	}
	if err := c.close(); err != nil {
		return 0, err
	}
	return n, nil
}

func (c *BufferedWritableChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		// Nil once finalized, the stored failure otherwise.
		return c.channel.Close()
	}
	return c.close()
}

func (c *BufferedWritableChannel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.channel.IsOpen()
}

// Buffered returns the number of bytes waiting for the next flush.
func (c *BufferedWritableChannel) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.buffer == nil {
		return 0
	}
	return c.buffer.Len()
}

// LOCKS_REQUIRED(c.mu)
func (c *BufferedWritableChannel) write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		// Whole buffers arriving on an empty buffer go straight through.
		if c.buffer.Len() == 0 && len(p) >= c.buffer.Cap() {
			n := c.buffer.Cap()
			if _, err := c.channel.Write(p[:n]); err != nil {
				return written, err
			}
			written += n
			p = p[n:]
			continue
		}

		n, err := c.buffer.Put(p)
		if err != nil {
			return written, err
		}
		written += n
		p = p[n:]

		if c.buffer.IsFull() {
			if err := c.flush(); err != nil {
				return written - n, err
			}
		}
	}
	return written, nil
}

// LOCKS_REQUIRED(c.mu)
func (c *BufferedWritableChannel) flush() error {
	if _, err := c.channel.Write(c.buffer.Drain()); err != nil {
		return err
	}
	c.buffer.Reset()
	return nil
}

// LOCKS_REQUIRED(c.mu)
func (c *BufferedWritableChannel) close() error {
	c.closed = true
	defer c.releaseBuffer()

	_, err := c.channel.WriteAndClose(c.buffer.Drain())
	return err
}

// LOCKS_REQUIRED(c.mu)
func (c *BufferedWritableChannel) releaseBuffer() {
	c.buffer.Reset()
	if c.release != nil {
		c.release(c.buffer)
	}
	c.buffer = nil
}
