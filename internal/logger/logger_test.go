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

package logger

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/googlecloudplatform/gcswrite/cfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const (
	textLinePattern = `^time="[0-9/:. ]{26}" severity=%s message="TestLogs: %s"\n$`
	jsonLinePattern = `^\{"timestamp":\{"seconds":\d{10},"nanos":\d{1,9}\},"severity":"%s","message":"TestLogs: %s"\}\n$`
)

// Severities in the order logAtEverySeverity emits them.
var emitted = []string{cfg.TRACE, cfg.DEBUG, cfg.INFO, cfg.WARNING, cfg.ERROR}

type LoggerTest struct {
	suite.Suite
}

func TestLoggerSuite(t *testing.T) {
	suite.Run(t, new(LoggerTest))
}

func (t *LoggerTest) TearDownTest() {
	Close()
	defaultLoggerFactory = &loggerFactory{
		format:          "text",
		level:           cfg.InfoLogSeverity,
		logRotateConfig: cfg.DefaultLogRotateConfig(),
	}
	defaultLogger = defaultLoggerFactory.newLogger(cfg.InfoLogSeverity)
}

////////////////////////////////////////////////////////////////////////
// Helpers
////////////////////////////////////////////////////////////////////////

func redirectTo(buf *bytes.Buffer, format string, level string) {
	defaultLoggerFactory.format = format
	programLevel := new(slog.LevelVar)
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(buf, programLevel, "TestLogs: "))
	setLoggingLevel(level, programLevel)
}

// logAtEverySeverity returns what each of the five logging functions wrote.
func logAtEverySeverity(buf *bytes.Buffer) []string {
	fns := []func(string, ...any){Tracef, Debugf, Infof, Warnf, Errorf}
	out := make([]string, len(fns))
	for i, fn := range fns {
		fn("flushed %d bytes", 1024)
		out[i] = buf.String()
		buf.Reset()
	}
	return out
}

func linePattern(format, severity string) *regexp.Regexp {
	pattern := textLinePattern
	if format == "json" {
		pattern = jsonLinePattern
	}
	return regexp.MustCompile(fmt.Sprintf(pattern, severity, "flushed 1024 bytes"))
}

////////////////////////////////////////////////////////////////////////
// Tests
////////////////////////////////////////////////////////////////////////

func (t *LoggerTest) TestSeverityFiltering() {
	// Number of trailing severities of emitted that pass each level.
	testCases := []struct {
		level   string
		visible int
	}{
		{cfg.OFF, 0},
		{cfg.ERROR, 1},
		{cfg.WARNING, 2},
		{cfg.INFO, 3},
		{cfg.DEBUG, 4},
		{cfg.TRACE, 5},
	}

	for _, format := range []string{"text", "json"} {
		for _, tc := range testCases {
			t.Run(format+"_"+tc.level, func() {
				var buf bytes.Buffer
				redirectTo(&buf, format, tc.level)

				out := logAtEverySeverity(&buf)

				hidden := len(emitted) - tc.visible
				for i, severity := range emitted {
					if i < hidden {
						assert.Empty(t.T(), out[i], severity)
						continue
					}
					assert.Regexp(t.T(), linePattern(format, severity), out[i])
				}
			})
		}
	}
}

func (t *LoggerTest) TestSetLoggingLevel() {
	testCases := map[string]slog.Level{
		cfg.TRACE:   LevelTrace,
		cfg.DEBUG:   LevelDebug,
		cfg.INFO:    LevelInfo,
		cfg.WARNING: LevelWarn,
		cfg.ERROR:   LevelError,
		cfg.OFF:     LevelOff,
	}

	for level, want := range testCases {
		programLevel := new(slog.LevelVar)

		setLoggingLevel(level, programLevel)

		assert.Equal(t.T(), want, programLevel.Level(), level)
	}
}

func (t *LoggerTest) TestInitLogFile() {
	filePath := filepath.Join(t.T().TempDir(), "gcswrite.log")
	loggingConfig := cfg.LoggingConfig{
		FilePath: cfg.ResolvedPath(filePath),
		Severity: cfg.DebugLogSeverity,
		Format:   "text",
		LogRotate: cfg.LogRotateLoggingConfig{
			MaxFileSizeMb:   100,
			BackupFileCount: 2,
			Compress:        true,
		},
	}

	err := InitLogFile(loggingConfig)

	require.NoError(t.T(), err)
	assert.Equal(t.T(), filePath, defaultLoggerFactory.file.Filename)
	assert.Equal(t.T(), "text", defaultLoggerFactory.format)
	assert.Equal(t.T(), cfg.DebugLogSeverity, defaultLoggerFactory.level)
	assert.Equal(t.T(), 100, defaultLoggerFactory.file.MaxSize)
	assert.Equal(t.T(), 2, defaultLoggerFactory.file.MaxBackups)
	assert.True(t.T(), defaultLoggerFactory.file.Compress)
	Debugf("upload %s resumed at %d", "abc", 42)
	Tracef("hidden")
	content, err := os.ReadFile(filePath)
	require.NoError(t.T(), err)
	assert.Contains(t.T(), string(content), `severity=DEBUG message="upload abc resumed at 42"`)
	assert.NotContains(t.T(), string(content), "hidden")
}

func (t *LoggerTest) TestInitLogFileWithoutPathLogsToStdout() {
	err := InitLogFile(cfg.LoggingConfig{Severity: cfg.InfoLogSeverity, Format: "json"})

	assert.NoError(t.T(), err)
	assert.Nil(t.T(), defaultLoggerFactory.file)
	assert.Equal(t.T(), os.Stdout, defaultLoggerFactory.writer())
}

func (t *LoggerTest) TestSetLogFormat() {
	// Anything but text falls back to json.
	testCases := map[string]string{"text": "text", "json": "json", "": "json"}

	for format, rendered := range testCases {
		SetLogFormat(format)
		var buf bytes.Buffer
		redirectTo(&buf, format, cfg.INFO)

		Infof("flushed %d bytes", 1024)

		assert.Equal(t.T(), format, defaultLoggerFactory.format)
		assert.Regexp(t.T(), linePattern(rendered, "INFO"), buf.String())
	}
}
