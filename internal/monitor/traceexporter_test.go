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
	"bytes"
	"context"
	"testing"

	"github.com/googlecloudplatform/gcswrite/cfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestSetupTracingDisabledByDefault(t *testing.T) {
	c := &cfg.Config{}

	assert.Nil(t, SetupTracing(context.Background(), c, "test"))
}

func TestSetupTracingStdoutInstallsTracerProvider(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	c := &cfg.Config{Monitoring: cfg.MonitoringConfig{TracingMode: cfg.TracingModeStdout}}

	shutdown := SetupTracing(context.Background(), c, "test")

	require.NotNil(t, shutdown)
	assert.IsType(t, &sdktrace.TracerProvider{}, otel.GetTracerProvider())
	assert.NoError(t, shutdown(context.Background()))
}

func TestStdoutTraceProviderExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	c := &cfg.Config{Monitoring: cfg.MonitoringConfig{TracingMode: cfg.TracingModeStdout}}
	tp, err := newTraceProvider(context.Background(), c, "v1.2.3", &buf)
	require.NoError(t, err)
	require.NotNil(t, tp)

	_, span := tp.Tracer("test").Start(context.Background(), "flush")
	span.End()
	require.NoError(t, tp.Shutdown(context.Background()))

	assert.Contains(t, buf.String(), `"Name": "flush"`)
	assert.Contains(t, buf.String(), serviceName)
	assert.Contains(t, buf.String(), "v1.2.3")
}
