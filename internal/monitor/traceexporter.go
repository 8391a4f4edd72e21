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

package monitor

import (
	"context"
	"io"
	"os"

	"github.com/googlecloudplatform/gcswrite/cfg"
	"github.com/googlecloudplatform/gcswrite/internal/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func initPropagators() {
	props := propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
	otel.SetTextMapPropagator(props)
}

// SetupTracing installs the global tracer provider selected by
// monitoring.tracing-mode. It returns nil when tracing is disabled or could
// not be set up.
func SetupTracing(ctx context.Context, c *cfg.Config, version string) ShutdownFn {
	tp, err := newTraceProvider(ctx, c, version, os.Stdout)
	if err != nil {
		logger.Errorf("error occurred while setting up tracing: %v", err)
		return nil
	}
	if tp == nil {
		return nil
	}
	otel.SetTracerProvider(tp)
	initPropagators()
	return tp.Shutdown
}

func newTraceProvider(ctx context.Context, c *cfg.Config, version string, w io.Writer) (*sdktrace.TracerProvider, error) {
	switch c.Monitoring.TracingMode {
	case cfg.TracingModeStdout:
		return newStdoutTraceProvider(ctx, version, w)
	default:
		return nil, nil
	}
}

func newStdoutTraceProvider(ctx context.Context, version string, w io.Writer) (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(w),
		stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	options := []sdktrace.TracerProviderOption{sdktrace.WithBatcher(exporter)}
	if res, err := getResource(ctx, version); err != nil {
		logger.Errorf("Error while fetching resource: %v", err)
	} else {
		options = append(options, sdktrace.WithResource(res))
	}
	return sdktrace.NewTracerProvider(options...), nil
}
