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
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	AppName string `yaml:"app-name"`

	GrpcConnection GrpcConnectionConfig `yaml:"grpc-connection"`

	Logging LoggingConfig `yaml:"logging"`

	Metrics MetricsConfig `yaml:"metrics"`

	Monitoring MonitoringConfig `yaml:"monitoring"`

	Retry RetryConfig `yaml:"retry"`

	Upload UploadConfig `yaml:"upload"`
}

type GrpcConnectionConfig struct {
	AnonymousAccess bool `yaml:"anonymous-access"`

	Endpoint string `yaml:"endpoint"`

	KeyFile ResolvedPath `yaml:"key-file"`
}

type LogRotateLoggingConfig struct {
	BackupFileCount int64 `yaml:"backup-file-count"`

	Compress bool `yaml:"compress"`

	MaxFileSizeMb int64 `yaml:"max-file-size-mb"`
}

type LoggingConfig struct {
	FilePath ResolvedPath `yaml:"file-path"`

	Format string `yaml:"format"`

	LogRotate LogRotateLoggingConfig `yaml:"log-rotate"`

	Severity LogSeverity `yaml:"severity"`
}

type MetricsConfig struct {
	PrometheusPort int64 `yaml:"prometheus-port"`
}

type MonitoringConfig struct {
	TracingMode string `yaml:"tracing-mode"`
}

type RetryConfig struct {
	InitialBackoff time.Duration `yaml:"initial-backoff"`

	MaxAttempts int64 `yaml:"max-attempts"`

	MaxRetrySleep time.Duration `yaml:"max-retry-sleep"`

	Multiplier float64 `yaml:"multiplier"`

	RetryDeadline time.Duration `yaml:"retry-deadline"`

	TotalRetryBudget time.Duration `yaml:"total-retry-budget"`
}

type UploadConfig struct {
	BufferSize ByteSize `yaml:"buffer-size"`

	Buffering Buffering `yaml:"buffering"`

	ByteCopy ByteCopy `yaml:"byte-copy"`

	EnableCrc32c bool `yaml:"enable-crc32c"`

	LimitBytesPerSec float64 `yaml:"limit-bytes-per-sec"`

	MaxBuffers int64 `yaml:"max-buffers"`

	Mode UploadMode `yaml:"mode"`
}

// BindFlags declares every flag on flagSet and returns a viper instance with
// each flag bound to its config key.
func BindFlags(flagSet *pflag.FlagSet) (*viper.Viper, error) {
	var err error
	v := viper.New()

	flagSet.StringP("app-name", "", "", "The application name reported with requests.")

	err = v.BindPFlag("app-name", flagSet.Lookup("app-name"))
	if err != nil {
		return nil, err
	}

	flagSet.BoolP("anonymous-access", "", false, "Authentication is enabled by default. This flag disables it. Only useful against a local or fake endpoint.")

	err = v.BindPFlag("grpc-connection.anonymous-access", flagSet.Lookup("anonymous-access"))
	if err != nil {
		return nil, err
	}

	flagSet.StringP("endpoint", "", DefaultEndpoint, "The gRPC endpoint of the storage service.")

	err = v.BindPFlag("grpc-connection.endpoint", flagSet.Lookup("endpoint"))
	if err != nil {
		return nil, err
	}

	flagSet.StringP("key-file", "", "", "Absolute path to JSON key file for use with the storage API. (default: none, Google application default credentials used)")

	err = v.BindPFlag("grpc-connection.key-file", flagSet.Lookup("key-file"))
	if err != nil {
		return nil, err
	}

	flagSet.StringP("log-file", "", "", "The file for storing logs. When not provided, logs are printed to stdout.")

	err = v.BindPFlag("logging.file-path", flagSet.Lookup("log-file"))
	if err != nil {
		return nil, err
	}

	flagSet.StringP("log-format", "", "json", "The format of the log file: 'text' or 'json'.")

	err = v.BindPFlag("logging.format", flagSet.Lookup("log-format"))
	if err != nil {
		return nil, err
	}

	flagSet.IntP("log-rotate-backup-file-count", "", 10, "The maximum number of backup log files to retain after they have been rotated. 0 retains all of them.")

	err = v.BindPFlag("logging.log-rotate.backup-file-count", flagSet.Lookup("log-rotate-backup-file-count"))
	if err != nil {
		return nil, err
	}

	flagSet.BoolP("log-rotate-compress", "", true, "Controls whether the rotated log files should be compressed using gzip.")

	err = v.BindPFlag("logging.log-rotate.compress", flagSet.Lookup("log-rotate-compress"))
	if err != nil {
		return nil, err
	}

	flagSet.IntP("log-rotate-max-file-size-mb", "", 512, "The maximum size in megabytes that a log file can reach before it is rotated.")

	err = v.BindPFlag("logging.log-rotate.max-file-size-mb", flagSet.Lookup("log-rotate-max-file-size-mb"))
	if err != nil {
		return nil, err
	}

	flagSet.StringP("log-severity", "", "info", "Specifies the logging severity expressed as one of [trace, debug, info, warning, error, off]")

	err = v.BindPFlag("logging.severity", flagSet.Lookup("log-severity"))
	if err != nil {
		return nil, err
	}

	flagSet.IntP("prometheus-port", "", 0, "Expose Prometheus metrics endpoint on this port and a path of /metrics. 0 disables it.")

	err = v.BindPFlag("metrics.prometheus-port", flagSet.Lookup("prometheus-port"))
	if err != nil {
		return nil, err
	}

	flagSet.StringP("tracing-mode", "", "", "Exports the traces of flushes and writes. Supported values: 'stdout'. Empty disables tracing.")

	err = v.BindPFlag("monitoring.tracing-mode", flagSet.Lookup("tracing-mode"))
	if err != nil {
		return nil, err
	}

	flagSet.DurationP("initial-backoff", "", time.Second, "The first pause between two attempts of a flush.")

	err = v.BindPFlag("retry.initial-backoff", flagSet.Lookup("initial-backoff"))
	if err != nil {
		return nil, err
	}

	flagSet.IntP("max-retry-attempts", "", 0, "The maximum number of attempts per flush. 0 means no limit other than total-retry-budget.")

	err = v.BindPFlag("retry.max-attempts", flagSet.Lookup("max-retry-attempts"))
	if err != nil {
		return nil, err
	}

	flagSet.DurationP("max-retry-sleep", "", 30*time.Second, "The maximum duration allowed to sleep in a retry loop with exponential backoff.")

	err = v.BindPFlag("retry.max-retry-sleep", flagSet.Lookup("max-retry-sleep"))
	if err != nil {
		return nil, err
	}

	flagSet.Float64P("retry-multiplier", "", 2, "Param for exponential backoff algorithm, which is used to increase waiting time b/w two consecutive retries.")

	err = v.BindPFlag("retry.multiplier", flagSet.Lookup("retry-multiplier"))
	if err != nil {
		return nil, err
	}

	flagSet.DurationP("retry-deadline", "", 30*time.Second, "The deadline of a single flush attempt.")

	err = v.BindPFlag("retry.retry-deadline", flagSet.Lookup("retry-deadline"))
	if err != nil {
		return nil, err
	}

	flagSet.DurationP("total-retry-budget", "", 5*time.Minute, "The total time a flush may spend across all of its attempts.")

	err = v.BindPFlag("retry.total-retry-budget", flagSet.Lookup("total-retry-budget"))
	if err != nil {
		return nil, err
	}

	flagSet.StringP("buffer-size", "", "16MiB", "The size of the upload buffer of a buffered session, e.g. 8MiB.")

	err = v.BindPFlag("upload.buffer-size", flagSet.Lookup("buffer-size"))
	if err != nil {
		return nil, err
	}

	flagSet.StringP("buffering", "", string(BufferingBuffered), "Whether writes are staged in a buffer before being flushed: 'buffered' or 'unbuffered'.")

	err = v.BindPFlag("upload.buffering", flagSet.Lookup("buffering"))
	if err != nil {
		return nil, err
	}

	flagSet.StringP("byte-copy", "", string(ByteCopyCopy), "Whether chunk payloads are copied out of caller memory: 'copy' or 'no-copy'.")

	err = v.BindPFlag("upload.byte-copy", flagSet.Lookup("byte-copy"))
	if err != nil {
		return nil, err
	}

	flagSet.BoolP("enable-crc32c", "", true, "Send CRC32C checksums for every chunk and for the whole object.")

	err = v.BindPFlag("upload.enable-crc32c", flagSet.Lookup("enable-crc32c"))
	if err != nil {
		return nil, err
	}

	flagSet.Float64P("limit-bytes-per-sec", "", -1, "Bandwidth limit for uploads, measured over a 30-second window. (use -1 for no limit)")

	err = v.BindPFlag("upload.limit-bytes-per-sec", flagSet.Lookup("limit-bytes-per-sec"))
	if err != nil {
		return nil, err
	}

	flagSet.IntP("max-buffers", "", 4, "The maximum number of upload buffers alive at a time.")

	err = v.BindPFlag("upload.max-buffers", flagSet.Lookup("max-buffers"))
	if err != nil {
		return nil, err
	}

	flagSet.StringP("upload-mode", "", string(UploadModeResumable), "The upload protocol: 'direct' (single stream, acknowledged at close) or 'resumable' (every flush acknowledged and retried).")

	err = v.BindPFlag("upload.mode", flagSet.Lookup("upload-mode"))
	if err != nil {
		return nil, err
	}

	return v, nil
}
