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

package metrics

import (
	"context"
	"time"
)

// MetricHandle provides an interface for recording upload metrics.
type MetricHandle interface {
	// UploadBytesCount - The cumulative number of payload bytes handed to the transport.
	UploadBytesCount(inc int64, uploadType string)

	// UploadFlushCount - The cumulative number of flushes, along with their final status: successful or failed.
	UploadFlushCount(inc int64, uploadType string, status string)

	// UploadFlushLatency - The cumulative distribution of flush latencies, retries included.
	UploadFlushLatency(ctx context.Context, duration time.Duration, uploadType string)

	// UploadRetryCount - The cumulative number of flush attempts repeated after a retryable error.
	UploadRetryCount(inc int64, uploadType string)

	// UploadSessionCount - The cumulative number of finished write sessions, along with their final status.
	UploadSessionCount(inc int64, uploadType string, status string)
}
