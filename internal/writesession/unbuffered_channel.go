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
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/googlecloudplatform/gcswrite/internal/future"
	"github.com/googlecloudplatform/gcswrite/internal/logger"
	"github.com/googlecloudplatform/gcswrite/internal/storage/gcs"
	"github.com/googlecloudplatform/gcswrite/metrics"
	"github.com/googlecloudplatform/gcswrite/tracing"
)

var ErrClosedChannel = errors.New("write channel is closed")

// channelState is the lifecycle of a channel.
type channelState int

const (
	// Nothing written yet.
	Open channelState = iota
	// At least one flush succeeded.
	Writing
	// The terminal flush is in flight.
	Closing
	// The object is finalized. Terminal.
	Closed
	// A flush failed. Terminal.
	Errored
)

func (s channelState) String() string {
	switch s {
	case Open:
		return "Open"
	case Writing:
		return "Writing"
	case Closing:
		return "Closing"
	case Closed:
		return "Closed"
	case Errored:
		return "Errored"
	}
	return fmt.Sprintf("channelState(%d)", int(s))
}

// WritableChannel is the byte sink of a write session.
type WritableChannel interface {
	// Write hands p to the upload. It returns len(p) on success.
	Write(p []byte) (int, error)
	// WriteAndClose hands over p as the last bytes of the object and finalizes
	// the upload.
	WriteAndClose(p []byte) (int, error)
	// Close finalizes the upload. Closing a closed channel is a no-op; closing
	// a failed channel returns the failure.
	Close() error
	// IsOpen reports whether the channel still accepts bytes.
	IsOpen() bool
}

// UnbufferedWritableChannel segments every Write into chunks and flushes them
// before returning.
type UnbufferedWritableChannel struct {
	mu sync.Mutex

	// Bound at channel creation; cancelling it aborts in-flight RPCs.
	ctx       context.Context
	segmenter *ChunkSegmenter
	flusher   Flusher
	inst      Instrumentation

	// GUARDED_BY(mu)
	writeCtx *writeCtx
	// GUARDED_BY(mu)
	state channelState
	// GUARDED_BY(mu)
	err error

	result *future.Future[*gcs.WriteObjectResponse]
}

var _ WritableChannel = (*UnbufferedWritableChannel)(nil)

func newUnbufferedWritableChannel(
	ctx context.Context,
	segmenter *ChunkSegmenter,
	flusher Flusher,
	writeCtx *writeCtx,
	inst Instrumentation,
	result *future.Future[*gcs.WriteObjectResponse],
) *UnbufferedWritableChannel {
	return &UnbufferedWritableChannel{
		ctx:       ctx,
		segmenter: segmenter,
		flusher:   flusher,
		inst:      inst.withDefaults(),
		writeCtx:  writeCtx,
		state:     Open,
		result:    result,
	}
}

func (c *UnbufferedWritableChannel) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkWritable(); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}

	chunks := c.segmenter.Segment(p, c.writeCtx.totalSentBytes, false)
	if err := c.flush(chunks, false); err != nil {
		return 0, err
	}
	c.state = Writing
	return len(p), nil
}

func (c *UnbufferedWritableChannel) WriteAndClose(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkWritable(); err != nil {
		return 0, err
	}
	if err := c.finish(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *UnbufferedWritableChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Closed:
		return nil
	case Errored:
		return c.err
	}
	return c.finish(nil)
}

func (c *UnbufferedWritableChannel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == Open || c.state == Writing
}

// State returns the current lifecycle state.
func (c *UnbufferedWritableChannel) State() channelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// TotalSentBytes returns the offset just past the last byte handed to the
// transport.
func (c *UnbufferedWritableChannel) TotalSentBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeCtx.totalSentBytes
}

// PersistedSize returns the number of bytes the service acknowledged.
func (c *UnbufferedWritableChannel) PersistedSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeCtx.persistedSize
}

// LOCKS_REQUIRED(c.mu)
func (c *UnbufferedWritableChannel) checkWritable() error {
	switch c.state {
	case Closed, Closing:
		return ErrClosedChannel
	case Errored:
		return c.err
	}
	return nil
}

// LOCKS_REQUIRED(c.mu)
func (c *UnbufferedWritableChannel) finish(p []byte) error {
	c.state = Closing
	chunks := c.segmenter.Segment(p, c.writeCtx.totalSentBytes, true)
	if err := c.flush(chunks, true); err != nil {
		return err
	}
	c.state = Closed
	c.inst.Metrics.UploadSessionCount(1, c.inst.UploadType, metrics.StatusSuccessful)
	return nil
}

// flush sends chunks and advances the offsets. On failure the channel moves
// to Errored and the result future fails.
//
// LOCKS_REQUIRED(c.mu)
func (c *UnbufferedWritableChannel) flush(chunks []Chunk, final bool) error {
	reqs := c.writeCtx.requests(chunks)
	var n int64
	for _, req := range reqs {
		n += int64(req.ContentLen())
	}

	spanName := tracing.FlushSpan
	if final {
		spanName = tracing.CloseSpan
	}
	ctx, span := c.inst.Tracer.StartSpan(c.ctx, spanName)
	defer c.inst.Tracer.EndSpan(span)
	c.inst.Tracer.SetUploadAttributes(span, c.writeCtx.totalSentBytes, int(n))

	start := time.Now()
	var resp *gcs.WriteObjectResponse
	var err error
	if final {
		resp, err = c.flusher.Close(ctx, reqs)
	} else {
		resp, err = c.flusher.Flush(ctx, reqs)
	}
	c.inst.Metrics.UploadFlushLatency(ctx, time.Since(start), c.inst.UploadType)

	if err == nil {
		c.writeCtx.totalSentBytes += n
		c.writeCtx.observe(resp)
		if final {
			err = c.validateFinal(resp)
		}
	}
	if err != nil {
		c.inst.Tracer.RecordError(span, err)
		c.inst.Metrics.UploadFlushCount(1, c.inst.UploadType, metrics.StatusFailed)
		c.fail(err)
		return err
	}

	c.inst.Metrics.UploadFlushCount(1, c.inst.UploadType, metrics.StatusSuccessful)
	c.inst.Metrics.UploadBytesCount(n, c.inst.UploadType)
	if final {
		logger.Infof("Upload %q finalized: %d bytes, generation %d", c.inst.Description, resp.Resource.Size, resp.Resource.Generation)
		c.result.Set(resp)
	}
	return nil
}

// validateFinal checks that the finalized object holds exactly the bytes
// this channel sent.
func (c *UnbufferedWritableChannel) validateFinal(resp *gcs.WriteObjectResponse) error {
	if resp == nil || resp.Resource == nil {
		return fmt.Errorf("upload %q finished without an object resource", c.inst.Description)
	}
	if resp.Resource.Size != c.writeCtx.totalSentBytes {
		return &gcs.SizeMismatchError{
			Object:   resp.Resource.Name,
			Size:     resp.Resource.Size,
			Expected: c.writeCtx.totalSentBytes,
		}
	}
	return nil
}

// LOCKS_REQUIRED(c.mu)
func (c *UnbufferedWritableChannel) fail(err error) {
	logger.Errorf("Upload %q failed in state %v: %v", c.inst.Description, c.state, err)
	c.state = Errored
	c.err = err
	c.inst.Metrics.UploadSessionCount(1, c.inst.UploadType, metrics.StatusFailed)
	c.result.SetErr(err)
}
