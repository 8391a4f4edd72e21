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

import (
	"fmt"
	"math"
)

func isValidLogRotateConfig(config *LogRotateLoggingConfig) error {
	if config.MaxFileSizeMb <= 0 {
		return fmt.Errorf("max-file-size-mb should be atleast 1")
	}
	if config.BackupFileCount < 0 {
		return fmt.Errorf("backup-file-count should be 0 (to retain all backup files) or a positive value")
	}
	return nil
}

func isValidLoggingConfig(config *LoggingConfig) error {
	if config.Format != "text" && config.Format != "json" {
		return fmt.Errorf("unsupported log format %q, want text or json", config.Format)
	}
	if config.Severity.Rank() < 0 {
		return fmt.Errorf("unknown log severity %q", config.Severity)
	}
	return isValidLogRotateConfig(&config.LogRotate)
}

func isValidRetryConfig(config *RetryConfig) error {
	if config.MaxAttempts < 0 {
		return fmt.Errorf("max-attempts can't be negative")
	}
	if config.InitialBackoff <= 0 || config.MaxRetrySleep <= 0 {
		return fmt.Errorf("initial-backoff and max-retry-sleep should be positive")
	}
	if config.InitialBackoff > config.MaxRetrySleep {
		return fmt.Errorf("initial-backoff %v is larger than max-retry-sleep %v", config.InitialBackoff, config.MaxRetrySleep)
	}
	if config.Multiplier < 1 {
		return fmt.Errorf("multiplier should be atleast 1")
	}
	if config.RetryDeadline < 0 || config.TotalRetryBudget < 0 {
		return fmt.Errorf("retry-deadline and total-retry-budget can't be negative")
	}
	return nil
}

func isValidUploadConfig(config *UploadConfig) error {
	if config.Buffering == BufferingBuffered {
		if config.BufferSize <= 0 || config.BufferSize > MaxBufferSize {
			return fmt.Errorf("buffer-size %v out of range (0, %v]", config.BufferSize, MaxBufferSize)
		}
		if config.MaxBuffers <= 0 {
			return fmt.Errorf("max-buffers should be atleast 1")
		}
	}
	if config.LimitBytesPerSec != -1 && (config.LimitBytesPerSec <= 0 || math.IsInf(config.LimitBytesPerSec, 0)) {
		return fmt.Errorf("limit-bytes-per-sec should be -1 (no limit) or a positive value")
	}
	return nil
}

func isValidMetricsConfig(config *MetricsConfig) error {
	if config.PrometheusPort < 0 || config.PrometheusPort > math.MaxUint16 {
		return fmt.Errorf("prometheus-port %d out of range", config.PrometheusPort)
	}
	return nil
}

func isValidMonitoringConfig(config *MonitoringConfig) error {
	switch config.TracingMode {
	case "", TracingModeStdout:
		return nil
	}
	return fmt.Errorf("unsupported tracing-mode %q", config.TracingMode)
}

// ValidateConfig returns an error naming the first invalid section of config.
func ValidateConfig(config *Config) error {
	var err error

	if err = isValidLoggingConfig(&config.Logging); err != nil {
		return fmt.Errorf("error parsing logging config: %w", err)
	}

	if config.GrpcConnection.Endpoint == "" {
		return fmt.Errorf("error parsing grpc-connection config: empty endpoint")
	}

	if err = isValidRetryConfig(&config.Retry); err != nil {
		return fmt.Errorf("error parsing retry config: %w", err)
	}

	if err = isValidUploadConfig(&config.Upload); err != nil {
		return fmt.Errorf("error parsing upload config: %w", err)
	}

	if err = isValidMetricsConfig(&config.Metrics); err != nil {
		return fmt.Errorf("error parsing metrics config: %w", err)
	}

	if err = isValidMonitoringConfig(&config.Monitoring); err != nil {
		return fmt.Errorf("error parsing monitoring config: %w", err)
	}

	return nil
}
