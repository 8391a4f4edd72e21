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

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/googlecloudplatform/gcswrite/internal/storage/gcs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/time/rate"
)

////////////////////////////////////////////////////////////////////////
// ChooseLimiterCapacity
////////////////////////////////////////////////////////////////////////

func TestChooseLimiterCapacityIllegalRate(t *testing.T) {
	for _, r := range []float64{-1, 0, math.Inf(1)} {
		_, err := ChooseLimiterCapacity(r, 30*time.Second)

		assert.EqualError(t, err, fmt.Sprintf("Illegal rate: %f", r))
	}
}

func TestChooseLimiterCapacityIllegalWindow(t *testing.T) {
	for _, w := range []time.Duration{-1, 0} {
		_, err := ChooseLimiterCapacity(1, w)

		assert.EqualError(t, err, fmt.Sprintf("Illegal window: %v", w))
	}
}

func TestChooseLimiterCapacityTooSmall(t *testing.T) {
	_, err := ChooseLimiterCapacity(0.5, time.Nanosecond)

	assert.ErrorContains(t, err, "Can't use a token bucket")
}

func TestChooseLimiterCapacityExpected(t *testing.T) {
	// floor((20 * 10) / 50) = 4
	capacity, err := ChooseLimiterCapacity(20, 10*time.Second)

	require.NoError(t, err)
	assert.Equal(t, 4, capacity)
}

func TestNewLimiter(t *testing.T) {
	l, err := NewLimiter(1<<20, 50*time.Second)

	require.NoError(t, err)
	assert.Equal(t, rate.Limit(1<<20), l.Limit())
	assert.Equal(t, 1<<20, l.Burst())
}

////////////////////////////////////////////////////////////////////////
// ThrottledWriteCallable
////////////////////////////////////////////////////////////////////////

type recordingStream struct {
	sent   []*gcs.WriteObjectRequest
	closed bool
}

func (s *recordingStream) Send(req *gcs.WriteObjectRequest) error {
	s.sent = append(s.sent, req)
	return nil
}

func (s *recordingStream) CloseAndRecv() (*gcs.WriteObjectResponse, error) {
	s.closed = true
	return &gcs.WriteObjectResponse{PersistedSize: 7}, nil
}

type ThrottledWriteTest struct {
	suite.Suite
	ctx     context.Context
	wrapped *recordingStream
}

func TestThrottledWriteSuite(t *testing.T) {
	suite.Run(t, new(ThrottledWriteTest))
}

func (t *ThrottledWriteTest) SetupTest() {
	t.ctx = context.Background()
	t.wrapped = &recordingStream{}
}

func (t *ThrottledWriteTest) callable() gcs.WriteObjectCallable {
	return func(context.Context) (gcs.WriteObjectStream, error) {
		return t.wrapped, nil
	}
}

func request(n int) *gcs.WriteObjectRequest {
	return &gcs.WriteObjectRequest{ChecksummedData: &gcs.ChecksummedData{Content: make([]byte, n)}}
}

func (t *ThrottledWriteTest) TestPassesRequestsThrough() {
	write := ThrottledWriteCallable(t.callable(), rate.NewLimiter(rate.Inf, 1))
	stream, err := write(t.ctx)
	require.NoError(t.T(), err)

	require.NoError(t.T(), stream.Send(request(10)))
	resp, err := stream.CloseAndRecv()

	require.NoError(t.T(), err)
	assert.Equal(t.T(), int64(7), resp.PersistedSize)
	assert.Len(t.T(), t.wrapped.sent, 1)
	assert.True(t.T(), t.wrapped.closed)
}

func (t *ThrottledWriteTest) TestWaitsForPayloadLargerThanBurst() {
	// 100 bytes per second with a 10 byte burst: 30 bytes need ~2s of tokens.
	limiter := rate.NewLimiter(100, 10)
	write := ThrottledWriteCallable(t.callable(), limiter)
	stream, err := write(t.ctx)
	require.NoError(t.T(), err)

	start := time.Now()
	require.NoError(t.T(), stream.Send(request(30)))

	assert.GreaterOrEqual(t.T(), time.Since(start), 150*time.Millisecond)
	assert.Len(t.T(), t.wrapped.sent, 1)
}

func (t *ThrottledWriteTest) TestEmptyRequestDoesNotWait() {
	limiter := rate.NewLimiter(1, 1)
	require.True(t.T(), limiter.Allow())
	write := ThrottledWriteCallable(t.callable(), limiter)
	stream, err := write(t.ctx)
	require.NoError(t.T(), err)

	err = stream.Send(&gcs.WriteObjectRequest{FinishWrite: true})

	assert.NoError(t.T(), err)
}

func (t *ThrottledWriteTest) TestCancelledContext() {
	ctx, cancel := context.WithCancel(t.ctx)
	cancel()
	write := ThrottledWriteCallable(t.callable(), rate.NewLimiter(1, 1))
	stream, err := write(ctx)
	require.NoError(t.T(), err)

	err = stream.Send(request(1))

	assert.ErrorIs(t.T(), err, context.Canceled)
	assert.Empty(t.T(), t.wrapped.sent)
}

func (t *ThrottledWriteTest) TestOpenFailure() {
	expected := errors.New("taco")
	write := ThrottledWriteCallable(func(context.Context) (gcs.WriteObjectStream, error) {
		return nil, expected
	}, rate.NewLimiter(1, 1))

	_, err := write(t.ctx)

	assert.ErrorIs(t.T(), err, expected)
}
