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

// Package writesession turns a stream of caller writes into checksummed
// WriteObject requests, for direct or resumable uploads, with or without an
// intermediate buffer.
//
// A Session is built once from an immutable Config:
//
//	s, err := writesession.NewResumableSession(client.WriteObject, cfg, client.StartResumableWriteAsync(ctx, spec))
//	ch, err := s.Channel(ctx)
//	io.Copy(ch, src)
//	ch.Close()
//	obj, err := s.Result().Await(ctx)
package writesession

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/googlecloudplatform/gcswrite/internal/block"
	"github.com/googlecloudplatform/gcswrite/internal/checksum"
	"github.com/googlecloudplatform/gcswrite/internal/future"
	"github.com/googlecloudplatform/gcswrite/internal/logger"
	"github.com/googlecloudplatform/gcswrite/internal/storage/gcs"
	"github.com/googlecloudplatform/gcswrite/internal/storage/storageutil"
	"github.com/googlecloudplatform/gcswrite/metrics"
	"github.com/googlecloudplatform/gcswrite/tracing"
)

var ErrInvalidConfig = errors.New("invalid write session configuration")

// ErrBufferInUse is returned when a caller supplied buffer already backs the
// open channel of another session.
var ErrBufferInUse = errors.New("caller supplied buffer is in use by another session")

// buffersInUse holds the first byte of every caller supplied buffer backing
// an open channel.
var buffersInUse sync.Map

// DefaultBufferCapacity is the buffer size of a Buffered session that sets
// none.
const DefaultBufferCapacity = 16 * 1024 * 1024

type BufferingMode int

const (
	Unbuffered BufferingMode = iota
	Buffered
)

func (m BufferingMode) String() string {
	if m == Buffered {
		return "buffered"
	}
	return "unbuffered"
}

// BufferingConfig selects where a buffered channel gets its buffer from. At
// most one of Buffer and Pool may be set; with neither, a buffer of Capacity
// bytes is allocated.
type BufferingConfig struct {
	Mode BufferingMode
	// Zero means DefaultBufferCapacity.
	Capacity int
	// Caller supplied memory. It backs the channel of exactly one session and
	// is owned by it until that channel closes; binding a second channel to
	// it meanwhile fails with ErrBufferInUse.
	Buffer []byte
	// Shared pool; the buffer goes back to it on close.
	Pool *block.BufferPool
}

// Config is captured by value when a session is built.
type Config struct {
	// Nil disables checksums.
	Hasher    checksum.Factory
	ByteCopy  ByteCopyStrategy
	Buffering BufferingConfig

	// Retrying and RetryAlgorithm only apply to resumable sessions. A nil
	// RetryAlgorithm never retries.
	Retrying       storageutil.RetryingDependencies
	RetryAlgorithm storageutil.RetryAlgorithm

	Metrics metrics.MetricHandle
	Tracer  tracing.TraceHandle

	// Zero means gcs.MaxWriteChunkBytes.
	MaxChunkBytes int
}

// DefaultConfig returns a buffered, CRC32C checked configuration retrying
// with the storageutil defaults.
func DefaultConfig() Config {
	return Config{
		Hasher:    checksum.Crc32c(),
		ByteCopy:  CopyBytes,
		Buffering: BufferingConfig{Mode: Buffered, Capacity: DefaultBufferCapacity},
		Retrying:  storageutil.DefaultRetryingDependencies(),
		RetryAlgorithm: storageutil.DefaultRetryAlgorithm(storageutil.NewBackoff(
			storageutil.DefaultInitialBackoff,
			storageutil.DefaultMaxRetrySleep,
			storageutil.DefaultRetryMultiplier)),
		MaxChunkBytes: gcs.MaxWriteChunkBytes,
	}
}

func (c Config) validate() (Config, error) {
	if c.MaxChunkBytes == 0 {
		c.MaxChunkBytes = gcs.MaxWriteChunkBytes
	}
	if c.MaxChunkBytes < 0 || c.MaxChunkBytes > gcs.MaxWriteChunkBytes {
		return c, fmt.Errorf("%w: max chunk bytes %d out of (0, %d]", ErrInvalidConfig, c.MaxChunkBytes, gcs.MaxWriteChunkBytes)
	}
	if c.Hasher == nil {
		c.Hasher = checksum.Noop()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.NewNoopMetrics()
	}
	if c.Tracer == nil {
		c.Tracer = tracing.NewNoopTracer()
	}

	b := c.Buffering
	switch b.Mode {
	case Unbuffered:
	case Buffered:
		if b.Buffer != nil && b.Pool != nil {
			return c, fmt.Errorf("%w: both a buffer and a buffer pool are set", ErrInvalidConfig)
		}
		if b.Buffer != nil && cap(b.Buffer) == 0 {
			return c, fmt.Errorf("%w: empty caller supplied buffer", ErrInvalidConfig)
		}
		if b.Capacity < 0 {
			return c, fmt.Errorf("%w: negative buffer capacity %d", ErrInvalidConfig, b.Capacity)
		}
		if b.Capacity == 0 {
			c.Buffering.Capacity = DefaultBufferCapacity
		}
	default:
		return c, fmt.Errorf("%w: unknown buffering mode %d", ErrInvalidConfig, b.Mode)
	}
	return c, nil
}

// startValue is what a channel is bound to: the fields of the first request
// of every stream and the offset writes begin at.
type startValue struct {
	firstMessage *gcs.WriteObjectRequest
	offset       int64
	description  string
}

// Session owns one upload: its channel and its completion future.
type Session struct {
	cfg        Config
	uploadType string
	newFlusher FlusherFactory
	start      func(ctx context.Context) (startValue, error)
	result     *future.Future[*gcs.WriteObjectResponse]

	mu sync.Mutex
	// GUARDED_BY(mu)
	channel WritableChannel
	// GUARDED_BY(mu)
	startErr error
}

// NewDirectSession returns a session uploading the object described by req
// over a single stream. Nothing is acknowledged until the channel closes.
func NewDirectSession(write gcs.WriteObjectCallable, cfg Config, req *gcs.WriteObjectRequest) (*Session, error) {
	if write == nil {
		return nil, fmt.Errorf("%w: nil WriteObject callable", ErrInvalidConfig)
	}
	if req == nil || req.WriteObjectSpec == nil || req.WriteObjectSpec.Resource == nil {
		return nil, fmt.Errorf("%w: a direct upload needs a WriteObjectSpec with a resource", ErrInvalidConfig)
	}
	cfg, err := cfg.validate()
	if err != nil {
		return nil, err
	}

	first := &gcs.WriteObjectRequest{
		WriteObjectSpec: req.WriteObjectSpec,
		ObjectChecksums: req.ObjectChecksums,
	}
	sv := startValue{
		firstMessage: first,
		description:  fmt.Sprintf("gs://%s/%s", req.WriteObjectSpec.Resource.Bucket, req.WriteObjectSpec.Resource.Name),
	}
	return &Session{
		cfg:        cfg,
		uploadType: metrics.UploadTypeDirect,
		newFlusher: FsyncOnClose(write),
		start: func(context.Context) (startValue, error) {
			return sv, nil
		},
		result: future.New[*gcs.WriteObjectResponse](),
	}, nil
}

// NewResumableSession returns a session appending to the resumable upload
// that upload resolves to. Every flush is acknowledged and retried per
// cfg.Retrying and cfg.RetryAlgorithm.
func NewResumableSession(write gcs.WriteObjectCallable, cfg Config, upload *future.Future[gcs.ResumableWrite]) (*Session, error) {
	if write == nil {
		return nil, fmt.Errorf("%w: nil WriteObject callable", ErrInvalidConfig)
	}
	if upload == nil {
		return nil, fmt.Errorf("%w: nil resumable upload", ErrInvalidConfig)
	}
	cfg, err := cfg.validate()
	if err != nil {
		return nil, err
	}

	return &Session{
		cfg:        cfg,
		uploadType: metrics.UploadTypeResumable,
		newFlusher: FsyncEveryFlush(write, cfg.Retrying, cfg.RetryAlgorithm),
		start: func(ctx context.Context) (startValue, error) {
			rw, err := upload.Await(ctx)
			if err != nil {
				return startValue{}, err
			}
			if rw.UploadID == "" || rw.Offset < 0 {
				return startValue{}, fmt.Errorf("%w: resumable upload %q at offset %d", ErrInvalidConfig, rw.UploadID, rw.Offset)
			}
			return startValue{
				firstMessage: &gcs.WriteObjectRequest{UploadID: rw.UploadID},
				offset:       rw.Offset,
				description:  fmt.Sprintf("upload %s", rw.UploadID),
			}, nil
		},
		result: future.New[*gcs.WriteObjectResponse](),
	}, nil
}

// Channel returns the channel of the session, binding it on the first call.
// For a resumable session the first call blocks until the upload resolves or
// ctx is done. ctx stays attached to the channel's RPCs.
func (s *Session) Channel(ctx context.Context) (ch WritableChannel, err error) {
	s.mu.Lock()
	if s.channel != nil || s.startErr != nil {
		defer s.mu.Unlock()
		return s.channel, s.startErr
	}
	s.mu.Unlock()

	startCtx, span := s.cfg.Tracer.StartSpan(ctx, tracing.OpenChannelSpan)
	defer func() {
		if err != nil {
			s.cfg.Tracer.RecordError(span, err)
		}
		s.cfg.Tracer.EndSpan(span)
	}()

	sv, err := s.start(startCtx)

	// A pool may block until a buffer frees up, so the buffer is taken before
	// the lock and handed back if another caller binds first.
	var (
		buffer  *block.BufferHandle
		release func(*block.BufferHandle)
	)
	if err == nil {
		buffer, release, err = s.buffer(ctx)
	}
	giveBack := func() {
		if buffer != nil && release != nil {
			release(buffer)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel != nil || s.startErr != nil {
		giveBack()
		return s.channel, s.startErr
	}
	if err != nil {
		if ctx.Err() != nil {
			// The caller gave up; a later call may still bind.
			return nil, err
		}
		return nil, s.failStart(err)
	}

	ch, err = s.bind(ctx, sv, buffer, release)
	if err != nil {
		giveBack()
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, s.failStart(err)
	}
	s.channel = ch
	return ch, nil
}

// Result resolves with the finalized object once the channel closes, or with
// the failure that ended the upload.
func (s *Session) Result() *future.Future[*gcs.WriteObjectResponse] {
	return s.result
}

// LOCKS_REQUIRED(s.mu)
func (s *Session) failStart(err error) error {
	err = fmt.Errorf("starting %s write session: %w", s.uploadType, err)
	s.startErr = err
	s.result.SetErr(err)
	return err
}

// LOCKS_REQUIRED(s.mu)
func (s *Session) bind(ctx context.Context, sv startValue, buffer *block.BufferHandle, release func(*block.BufferHandle)) (WritableChannel, error) {
	segmenter, err := NewChunkSegmenter(s.cfg.Hasher(), s.cfg.ByteCopy, s.cfg.MaxChunkBytes)
	if err != nil {
		return nil, err
	}
	// The running digest cannot cover bytes persisted before this session.
	if sv.offset > 0 {
		segmenter.objectChecksum = false
	}
	if b := s.cfg.Buffering; b.Mode == Buffered && b.Buffer != nil {
		if buffer, release, err = claim(b.Buffer); err != nil {
			return nil, err
		}
	}

	inst := Instrumentation{
		Metrics:     s.cfg.Metrics,
		Tracer:      s.cfg.Tracer,
		UploadType:  s.uploadType,
		Description: sv.description,
	}
	unbuffered := newUnbufferedWritableChannel(ctx, segmenter, s.newFlusher(inst), newWriteCtx(sv.firstMessage, sv.offset), inst, s.result)

	logger.Debugf("Bound %s %s channel for %s at offset %d", s.cfg.Buffering.Mode, s.uploadType, sv.description, sv.offset)
	if buffer == nil {
		return unbuffered, nil
	}
	return newBufferedWritableChannel(unbuffered, buffer, release), nil
}

// buffer returns the pooled or allocated buffer of a buffered session. A
// caller supplied buffer is claimed by bind instead.
func (s *Session) buffer(ctx context.Context) (*block.BufferHandle, func(*block.BufferHandle), error) {
	b := s.cfg.Buffering
	switch {
	case b.Mode != Buffered || b.Buffer != nil:
		return nil, nil, nil
	case b.Pool != nil:
		h, err := b.Pool.Get(ctx)
		if err != nil {
			return nil, nil, err
		}
		return h, b.Pool.Release, nil
	default:
		h, err := block.Allocate(b.Capacity)
		return h, nil, err
	}
}

// claim marks buf as in use until the returned release runs.
func claim(buf []byte) (*block.BufferHandle, func(*block.BufferHandle), error) {
	h, err := block.HandleOf(buf)
	if err != nil {
		return nil, nil, err
	}
	key := &buf[:1][0]
	if _, loaded := buffersInUse.LoadOrStore(key, struct{}{}); loaded {
		return nil, nil, ErrBufferInUse
	}
	return h, func(*block.BufferHandle) { buffersInUse.Delete(key) }, nil
}
