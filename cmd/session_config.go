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

package cmd

import (
	"fmt"

	"github.com/googlecloudplatform/gcswrite/cfg"
	"github.com/googlecloudplatform/gcswrite/internal/block"
	"github.com/googlecloudplatform/gcswrite/internal/checksum"
	"github.com/googlecloudplatform/gcswrite/internal/storage/storageutil"
	"github.com/googlecloudplatform/gcswrite/internal/writesession"
	"github.com/googlecloudplatform/gcswrite/metrics"
	"github.com/googlecloudplatform/gcswrite/tracing"
	"golang.org/x/sync/semaphore"
)

func retryingDependencies(c *cfg.RetryConfig) storageutil.RetryingDependencies {
	return storageutil.RetryingDependencies{
		MaxAttempts:      int(c.MaxAttempts),
		RetryDeadline:    c.RetryDeadline,
		TotalRetryBudget: c.TotalRetryBudget,
	}
}

func retryAlgorithm(c *cfg.RetryConfig) storageutil.RetryAlgorithm {
	return storageutil.DefaultRetryAlgorithm(storageutil.NewBackoff(c.InitialBackoff, c.MaxRetrySleep, c.Multiplier))
}

// newSessionConfig maps the upload flags onto a write session configuration.
func newSessionConfig(c *cfg.Config, metricHandle metrics.MetricHandle, traceHandle tracing.TraceHandle) (writesession.Config, error) {
	sc := writesession.Config{
		Retrying:       retryingDependencies(&c.Retry),
		RetryAlgorithm: retryAlgorithm(&c.Retry),
		Metrics:        metricHandle,
		Tracer:         traceHandle,
	}
	if c.Upload.EnableCrc32c {
		sc.Hasher = checksum.Crc32c()
	}

	switch c.Upload.ByteCopy {
	case cfg.ByteCopyNoCopy:
		sc.ByteCopy = writesession.NoCopy
	default:
		sc.ByteCopy = writesession.CopyBytes
	}

	if c.Upload.Buffering == cfg.BufferingUnbuffered {
		sc.Buffering = writesession.BufferingConfig{Mode: writesession.Unbuffered}
		return sc, nil
	}
	size := int(c.Upload.BufferSize)
	pool, err := block.NewBufferPool(size, c.Upload.MaxBuffers, semaphore.NewWeighted(c.Upload.MaxBuffers))
	if err != nil {
		return writesession.Config{}, fmt.Errorf("creating buffer pool: %w", err)
	}
	sc.Buffering = writesession.BufferingConfig{
		Mode:     writesession.Buffered,
		Capacity: size,
		Pool:     pool,
	}
	return sc, nil
}
