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

	"github.com/googlecloudplatform/gcswrite/internal/storage/gcs"
	"golang.org/x/time/rate"
)

// ThrottledWriteCallable limits the bandwidth of the payload sent over the
// streams opened by write. Tokens are bytes.
func ThrottledWriteCallable(write gcs.WriteObjectCallable, limiter *rate.Limiter) gcs.WriteObjectCallable {
	return func(ctx context.Context) (gcs.WriteObjectStream, error) {
		stream, err := write(ctx)
		if err != nil {
			return nil, err
		}
		return &throttledStream{ctx: ctx, wrapped: stream, throttle: limiter}, nil
	}
}

type throttledStream struct {
	ctx      context.Context
	wrapped  gcs.WriteObjectStream
	throttle *rate.Limiter
}

func (ts *throttledStream) Send(req *gcs.WriteObjectRequest) error {
	// We can't wait for more tokens than the throttle's capacity at once.
	for n := req.ContentLen(); n > 0; {
		tokens := min(n, ts.throttle.Burst())
		if err := ts.throttle.WaitN(ts.ctx, tokens); err != nil {
			return err
		}
		n -= tokens
	}
	return ts.wrapped.Send(req)
}

func (ts *throttledStream) CloseAndRecv() (*gcs.WriteObjectResponse, error) {
	return ts.wrapped.CloseAndRecv()
}
