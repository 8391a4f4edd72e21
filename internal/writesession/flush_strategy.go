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
	"io"

	"github.com/googlecloudplatform/gcswrite/internal/checksum"
	"github.com/googlecloudplatform/gcswrite/internal/logger"
	"github.com/googlecloudplatform/gcswrite/internal/storage/gcs"
	"github.com/googlecloudplatform/gcswrite/internal/storage/storageutil"
	"github.com/googlecloudplatform/gcswrite/metrics"
	"github.com/googlecloudplatform/gcswrite/tracing"
)

// Flusher hands batches of requests to the transport.
type Flusher interface {
	// Flush sends reqs. The response, if any, reports the persisted size.
	Flush(ctx context.Context, reqs []*gcs.WriteObjectRequest) (*gcs.WriteObjectResponse, error)

	// Close sends reqs, the last of which finishes the write, and returns the
	// authoritative response for the finalized object.
	Close(ctx context.Context, reqs []*gcs.WriteObjectRequest) (*gcs.WriteObjectResponse, error)
}

// Instrumentation is handed to a Flusher when a channel builds it.
type Instrumentation struct {
	Metrics metrics.MetricHandle
	Tracer  tracing.TraceHandle
	// UploadType is one of metrics.UploadTypeDirect, metrics.UploadTypeResumable.
	UploadType string
	// Description names the upload in logs and errors.
	Description string
}

func (i Instrumentation) withDefaults() Instrumentation {
	if i.Metrics == nil {
		i.Metrics = metrics.NewNoopMetrics()
	}
	if i.Tracer == nil {
		i.Tracer = tracing.NewNoopTracer()
	}
	return i
}

// FlusherFactory builds the Flusher of one channel.
type FlusherFactory func(inst Instrumentation) Flusher

// send writes reqs to stream. When the stream was already torn down, Send
// reports io.EOF and the real status is returned by CloseAndRecv.
func send(stream gcs.WriteObjectStream, reqs []*gcs.WriteObjectRequest) error {
	for _, req := range reqs {
		err := stream.Send(req)
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			if _, recvErr := stream.CloseAndRecv(); recvErr != nil {
				return recvErr
			}
			return fmt.Errorf("stream closed by the service at offset %d", req.WriteOffset)
		}
		return err
	}
	return nil
}

func endOffset(reqs []*gcs.WriteObjectRequest) int64 {
	last := reqs[len(reqs)-1]
	return last.WriteOffset + int64(last.ContentLen())
}

////////////////////////////////////////////////////////////////////////
// Fsync on close
////////////////////////////////////////////////////////////////////////

// FsyncOnClose keeps a single stream open for the whole write. Intermediate
// flushes are sent without waiting for an acknowledgement; Close half-closes
// the stream and waits for the final response. Failures are never retried.
func FsyncOnClose(write gcs.WriteObjectCallable) FlusherFactory {
	return func(inst Instrumentation) Flusher {
		return &fsyncOnCloseFlusher{write: write, inst: inst.withDefaults()}
	}
}

type fsyncOnCloseFlusher struct {
	write gcs.WriteObjectCallable
	inst  Instrumentation

	stream gcs.WriteObjectStream
	cancel context.CancelFunc
	// Whether the first message of the stream was sent.
	opened bool
}

func (f *fsyncOnCloseFlusher) Flush(ctx context.Context, reqs []*gcs.WriteObjectRequest) (*gcs.WriteObjectResponse, error) {
	if err := f.send(ctx, reqs); err != nil {
		return nil, err
	}
	// Nothing is acknowledged before close.
	return nil, nil
}

func (f *fsyncOnCloseFlusher) Close(ctx context.Context, reqs []*gcs.WriteObjectRequest) (*gcs.WriteObjectResponse, error) {
	if err := f.send(ctx, reqs); err != nil {
		return nil, err
	}
	defer f.cancel()

	resp, err := f.stream.CloseAndRecv()
	if err != nil {
		return nil, fmt.Errorf("WriteObject for %q: %w", f.inst.Description, gcs.GetGCSError(err))
	}
	logger.Debugf("WriteObject for %q finalized %d bytes", f.inst.Description, endOffset(reqs))
	return resp, nil
}

func (f *fsyncOnCloseFlusher) send(ctx context.Context, reqs []*gcs.WriteObjectRequest) error {
	if f.stream == nil {
		streamCtx, cancel := context.WithCancel(ctx)
		stream, err := f.write(streamCtx)
		if err != nil {
			cancel()
			return fmt.Errorf("opening WriteObject stream for %q: %w", f.inst.Description, gcs.GetGCSError(err))
		}
		f.stream = stream
		f.cancel = cancel
	}

	if f.opened {
		stripped := make([]*gcs.WriteObjectRequest, len(reqs))
		for i, req := range reqs {
			stripped[i] = req.WithoutFirstMessageFields()
		}
		reqs = stripped
	}

	if err := send(f.stream, reqs); err != nil {
		f.cancel()
		return fmt.Errorf("WriteObject for %q: %w", f.inst.Description, gcs.GetGCSError(err))
	}
	f.opened = true
	return nil
}

////////////////////////////////////////////////////////////////////////
// Fsync every flush
////////////////////////////////////////////////////////////////////////

// FsyncEveryFlush opens a new stream for every flush and waits for the
// service to acknowledge it. Each flush runs under storageutil.ExecuteWithRetry
// with deps and alg; a retry re-sends the flush's requests from the last
// acknowledged offset.
func FsyncEveryFlush(write gcs.WriteObjectCallable, deps storageutil.RetryingDependencies, alg storageutil.RetryAlgorithm) FlusherFactory {
	if alg == nil {
		alg = storageutil.NeverRetry()
	}
	return func(inst Instrumentation) Flusher {
		return &fsyncEveryFlushFlusher{write: write, deps: deps, alg: alg, inst: inst.withDefaults()}
	}
}

type fsyncEveryFlushFlusher struct {
	write gcs.WriteObjectCallable
	deps  storageutil.RetryingDependencies
	alg   storageutil.RetryAlgorithm
	inst  Instrumentation
}

func (f *fsyncEveryFlushFlusher) Flush(ctx context.Context, reqs []*gcs.WriteObjectRequest) (*gcs.WriteObjectResponse, error) {
	return f.flush(ctx, reqs, false)
}

func (f *fsyncEveryFlushFlusher) Close(ctx context.Context, reqs []*gcs.WriteObjectRequest) (*gcs.WriteObjectResponse, error) {
	return f.flush(ctx, reqs, true)
}

func (f *fsyncEveryFlushFlusher) flush(ctx context.Context, reqs []*gcs.WriteObjectRequest, finish bool) (*gcs.WriteObjectResponse, error) {
	end := endOffset(reqs)
	acked := reqs[0].WriteOffset
	attempt := 0

	return storageutil.ExecuteWithRetry(ctx, f.deps, f.alg, "WriteObject", f.inst.Description,
		func(attemptCtx context.Context) (*gcs.WriteObjectResponse, error) {
			attempt++
			if attempt > 1 {
				f.inst.Metrics.UploadRetryCount(1, f.inst.UploadType)
			}
			pending := resumeFrom(reqs, acked)

			attemptCtx, span := f.inst.Tracer.StartClientSpan(attemptCtx, tracing.FlushAttempt)
			defer f.inst.Tracer.EndSpan(span)
			f.inst.Tracer.SetUploadAttributes(span, pending[0].WriteOffset, int(end-pending[0].WriteOffset))

			resp, err := f.attempt(attemptCtx, pending)
			if err == nil {
				err = checkAcknowledged(resp, end, finish)
			}
			if err != nil {
				var incomplete *gcs.IncompleteWriteError
				if errors.As(err, &incomplete) {
					acked = max(acked, incomplete.Persisted)
				}
				f.inst.Tracer.RecordError(span, err)
				return nil, err
			}
			return resp, nil
		})
}

func (f *fsyncEveryFlushFlusher) attempt(ctx context.Context, reqs []*gcs.WriteObjectRequest) (*gcs.WriteObjectResponse, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := f.write(ctx)
	if err != nil {
		return nil, gcs.GetGCSError(err)
	}
	if err := send(stream, reqs); err != nil {
		return nil, gcs.GetGCSError(err)
	}
	resp, err := stream.CloseAndRecv()
	if err != nil {
		return nil, gcs.GetGCSError(err)
	}
	return resp, nil
}

// checkAcknowledged verifies that the service persisted everything up to end,
// or finalized the object when finish is set.
func checkAcknowledged(resp *gcs.WriteObjectResponse, end int64, finish bool) error {
	if resp == nil {
		return &gcs.IncompleteWriteError{Expected: end}
	}
	if resp.Resource != nil {
		return nil
	}
	if finish || resp.PersistedSize < end {
		return &gcs.IncompleteWriteError{Persisted: resp.PersistedSize, Expected: end}
	}
	return nil
}

// resumeFrom returns the part of reqs the service has not persisted yet,
// starting exactly at acked. The request acked falls into is cut at acked and
// its chunk checksum recomputed. The first remaining request carries the
// first-message fields; the terminal request is always kept.
func resumeFrom(reqs []*gcs.WriteObjectRequest, acked int64) []*gcs.WriteObjectRequest {
	i := 0
	for i < len(reqs)-1 && reqs[i].WriteOffset+int64(reqs[i].ContentLen()) <= acked {
		i++
	}
	if i == 0 && reqs[0].WriteOffset >= acked {
		return reqs
	}

	first := *reqs[i]
	first.UploadID = reqs[0].UploadID
	first.WriteObjectSpec = reqs[0].WriteObjectSpec
	if skip := acked - first.WriteOffset; skip > 0 {
		skip = min(skip, int64(first.ContentLen()))
		first.WriteOffset += skip
		if data := first.ChecksummedData; data != nil {
			cut := &gcs.ChecksummedData{Content: data.Content[skip:]}
			if data.Crc32c != nil && len(cut.Content) > 0 {
				crc, _ := checksum.NewCrc32cHasher().Hash(cut.Content)
				cut.Crc32c = &crc
			}
			first.ChecksummedData = cut
		}
	}
	out := make([]*gcs.WriteObjectRequest, 0, len(reqs)-i)
	out = append(out, &first)
	return append(out, reqs[i+1:]...)
}
