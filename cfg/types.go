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
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/docker/go-units"
)

// UploadMode selects the upload protocol: a single direct stream, or a
// resumable upload acknowledged at every flush.
type UploadMode string

const (
	UploadModeDirect    UploadMode = "direct"
	UploadModeResumable UploadMode = "resumable"
)

func (m *UploadMode) UnmarshalText(text []byte) error {
	return unmarshalEnum(text, m, UploadModeDirect, UploadModeResumable)
}

// Buffering is either "buffered" or "unbuffered".
type Buffering string

const (
	BufferingBuffered   Buffering = "buffered"
	BufferingUnbuffered Buffering = "unbuffered"
)

func (b *Buffering) UnmarshalText(text []byte) error {
	return unmarshalEnum(text, b, BufferingBuffered, BufferingUnbuffered)
}

// ByteCopy is either "copy" or "no-copy".
type ByteCopy string

const (
	ByteCopyCopy   ByteCopy = "copy"
	ByteCopyNoCopy ByteCopy = "no-copy"
)

func (c *ByteCopy) UnmarshalText(text []byte) error {
	return unmarshalEnum(text, c, ByteCopyCopy, ByteCopyNoCopy)
}

func unmarshalEnum[T ~string](text []byte, dst *T, allowed ...T) error {
	v := T(strings.ToLower(string(text)))
	if !slices.Contains(allowed, v) {
		return fmt.Errorf("invalid value: %s. It can only accept values in the list: %v", text, allowed)
	}
	*dst = v
	return nil
}

// ByteSize is a size in bytes written the human way: "16MiB", "512k", or a
// plain number of bytes.
type ByteSize int64

func (s *ByteSize) UnmarshalText(text []byte) error {
	v, err := units.RAMInBytes(string(text))
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", text, err)
	}
	*s = ByteSize(v)
	return nil
}

func (s ByteSize) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s ByteSize) String() string {
	return units.BytesSize(float64(s))
}

// LogSeverity represents the logging severity and can accept the following values
// "TRACE", "DEBUG", "INFO", "WARNING", "ERROR", "OFF"
type LogSeverity string

const (
	TraceLogSeverity   LogSeverity = "TRACE"
	DebugLogSeverity   LogSeverity = "DEBUG"
	InfoLogSeverity    LogSeverity = "INFO"
	WarningLogSeverity LogSeverity = "WARNING"
	ErrorLogSeverity   LogSeverity = "ERROR"
	OffLogSeverity     LogSeverity = "OFF"
)

var severityRanking = map[LogSeverity]int{
	TraceLogSeverity:   0,
	DebugLogSeverity:   1,
	InfoLogSeverity:    2,
	WarningLogSeverity: 3,
	ErrorLogSeverity:   4,
	OffLogSeverity:     5,
}

func (l *LogSeverity) UnmarshalText(text []byte) error {
	level := LogSeverity(strings.ToUpper(string(text)))
	if _, ok := severityRanking[level]; !ok {
		return fmt.Errorf("invalid log severity level: %s. Must be one of [TRACE, DEBUG, INFO, WARNING, ERROR, OFF]", text)
	}
	*l = level
	return nil
}

// Rank orders severities from TRACE (0) to OFF (5); -1 for unknown values.
func (l LogSeverity) Rank() int {
	if rank, ok := severityRanking[l]; ok {
		return rank
	}
	return -1
}

// ResolvedPath is an absolute file path. A leading "~" is the home directory
// and relative paths are resolved against the working directory.
type ResolvedPath string

func (p *ResolvedPath) UnmarshalText(text []byte) error {
	path, err := resolvePath(string(text))
	if err != nil {
		return err
	}
	*p = ResolvedPath(path)
	return nil
}

func resolvePath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving %q: %w", path, err)
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}
