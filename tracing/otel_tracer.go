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

package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	writeOffsetKey = attribute.Key("gcswrite.write_offset")
	writeBytesKey  = attribute.Key("gcswrite.write_bytes")
)

type otelTracer struct{}

func (*otelTracer) StartSpan(ctx context.Context, traceName string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, traceName)
}

func (*otelTracer) StartClientSpan(ctx context.Context, traceName string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, traceName, trace.WithSpanKind(trace.SpanKindClient))
}

func (*otelTracer) SetUploadAttributes(span trace.Span, offset int64, bytes int) {
	span.SetAttributes(writeOffsetKey.Int64(offset), writeBytesKey.Int(bytes))
}

func (*otelTracer) EndSpan(span trace.Span) {
	span.End()
}

func (*otelTracer) RecordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// NewOTELTracer returns a TraceHandle backed by the global OpenTelemetry
// tracer provider.
func NewOTELTracer() TraceHandle {
	return new(otelTracer)
}

// Tracer returns the tracer of this module from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(name)
}
