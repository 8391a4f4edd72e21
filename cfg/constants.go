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

package cfg

import "time"

const (
	// Logging-level constants

	TRACE   string = "TRACE"
	DEBUG   string = "DEBUG"
	INFO    string = "INFO"
	WARNING string = "WARNING"
	ERROR   string = "ERROR"
	OFF     string = "OFF"
)

const (
	// DefaultEndpoint is the production gRPC endpoint of Cloud Storage.
	DefaultEndpoint = "storage.googleapis.com:443"

	// MaxBufferSize caps upload.buffer-size.
	MaxBufferSize ByteSize = 1 << 30

	// ThrottleWindow is the window limit-bytes-per-sec is measured over.
	ThrottleWindow = 30 * time.Second

	// TracingModeStdout pretty-prints finished spans to stdout.
	TracingModeStdout = "stdout"
)
