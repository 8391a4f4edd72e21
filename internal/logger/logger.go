// Copyright 2021 Google LLC
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
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/googlecloudplatform/gcswrite/cfg"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Severity levels understood by the logger, on top of the slog ones.
const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
	LevelOff   = slog.Level(12)
)

var (
	defaultLoggerFactory *loggerFactory
	defaultLogger        *slog.Logger
)

type loggerFactory struct {
	// If nil, log to stdout. Otherwise, log to this rotated file.
	file            *lumberjack.Logger
	format          string
	level           cfg.LogSeverity
	logRotateConfig cfg.LogRotateLoggingConfig
}

// init initializes the logger factory to use stdout.
func init() {
	defaultLoggerFactory = &loggerFactory{
		format:          "text",
		level:           cfg.InfoLogSeverity,
		logRotateConfig: cfg.DefaultLogRotateConfig(),
	}
	defaultLogger = defaultLoggerFactory.newLogger(cfg.InfoLogSeverity)
}

// InitLogFile configures the default logger from the logging section of the
// config. An empty file path keeps logging on stdout.
func InitLogFile(loggingConfig cfg.LoggingConfig) error {
	var f *lumberjack.Logger
	if loggingConfig.FilePath != "" {
		f = &lumberjack.Logger{
			Filename:   string(loggingConfig.FilePath),
			MaxSize:    int(loggingConfig.LogRotate.MaxFileSizeMb),
			MaxBackups: int(loggingConfig.LogRotate.BackupFileCount),
			Compress:   loggingConfig.LogRotate.Compress,
		}
	}

	Close()
	defaultLoggerFactory = &loggerFactory{
		file:            f,
		format:          loggingConfig.Format,
		level:           loggingConfig.Severity,
		logRotateConfig: loggingConfig.LogRotate,
	}
	defaultLogger = defaultLoggerFactory.newLogger(loggingConfig.Severity)

	return nil
}

// SetLogFormat updates the format of the default logger.
func SetLogFormat(format string) {
	defaultLoggerFactory.format = format
	defaultLogger = defaultLoggerFactory.newLogger(defaultLoggerFactory.level)
}

// Close closes the log file when necessary.
func Close() {
	if f := defaultLoggerFactory.file; f != nil {
		f.Close()
		defaultLoggerFactory.file = nil
	}
}

// Tracef prints the message with TRACE severity in the specified format.
func Tracef(format string, v ...any) {
	logf(LevelTrace, format, v...)
}

// Debugf prints the message with DEBUG severity in the specified format.
func Debugf(format string, v ...any) {
	logf(LevelDebug, format, v...)
}

// Infof prints the message with INFO severity in the specified format.
func Infof(format string, v ...any) {
	logf(LevelInfo, format, v...)
}

// Warnf prints the message with WARNING severity in the specified format.
func Warnf(format string, v ...any) {
	logf(LevelWarn, format, v...)
}

// Errorf prints the message with ERROR severity in the specified format.
func Errorf(format string, v ...any) {
	logf(LevelError, format, v...)
}

func logf(level slog.Level, format string, v ...any) {
	ctx := context.Background()
	if !defaultLogger.Enabled(ctx, level) {
		return
	}
	defaultLogger.Log(ctx, level, fmt.Sprintf(format, v...))
}

func (f *loggerFactory) newLogger(level cfg.LogSeverity) *slog.Logger {
	var programLevel = new(slog.LevelVar)
	logger := slog.New(f.createJsonOrTextHandler(f.writer(), programLevel, ""))
	setLoggingLevel(string(level), programLevel)
	return logger
}

func (f *loggerFactory) writer() io.Writer {
	if f.file != nil {
		return f.file
	}
	return os.Stdout
}

func (f *loggerFactory) createJsonOrTextHandler(writer io.Writer, levelVar *slog.LevelVar, prefix string) slog.Handler {
	if f.format == "text" {
		return slog.NewTextHandler(writer, getHandlerOptions(levelVar, prefix, f.format))
	}
	return slog.NewJSONHandler(writer, getHandlerOptions(levelVar, prefix, f.format))
}
