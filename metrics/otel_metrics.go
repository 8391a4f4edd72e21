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

package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// Attribute Keys
	// uploadTypeKey specifies whether the upload is direct or resumable.
	uploadTypeKey = attribute.Key("upload_type")
	// statusKey specifies the outcome of a flush or session.
	statusKey = attribute.Key("status")

	defaultLatencyDistribution = metric.WithExplicitBucketBoundaries(1, 2, 3, 4, 5, 6, 8, 10, 13, 16, 20, 25, 30, 40, 50, 65, 80, 100, 130, 160, 200, 250, 300, 400, 500, 650, 800, 1000, 2000, 5000, 10000, 20000, 50000, 100000)

	uploadTypeOptionCache,
	uploadTypeStatusOptionCache sync.Map
)

type uploadTypeStatus struct {
	uploadType, status string
}

func loadOrStoreAttrOption[K comparable](mp *sync.Map, key K, attrSetGenFunc func() attribute.Set) metric.MeasurementOption {
	attrSet, ok := mp.Load(key)
	if ok {
		return attrSet.(metric.MeasurementOption)
	}
	v, _ := mp.LoadOrStore(key, metric.WithAttributeSet(attrSetGenFunc()))
	return v.(metric.MeasurementOption)
}

func uploadTypeAttrOption(uploadType string) metric.MeasurementOption {
	return loadOrStoreAttrOption(&uploadTypeOptionCache, uploadType,
		func() attribute.Set {
			return attribute.NewSet(uploadTypeKey.String(uploadType))
		})
}

func uploadTypeStatusAttrOption(attr uploadTypeStatus) metric.MeasurementOption {
	return loadOrStoreAttrOption(&uploadTypeStatusOptionCache, attr,
		func() attribute.Set {
			return attribute.NewSet(uploadTypeKey.String(attr.uploadType), statusKey.String(attr.status))
		})
}

// otelMetrics maintains the list of all upload metrics.
type otelMetrics struct {
	uploadBytesCount   metric.Int64Counter
	uploadFlushCount   metric.Int64Counter
	uploadFlushLatency metric.Float64Histogram
	uploadRetryCount   metric.Int64Counter
	uploadSessionCount metric.Int64Counter
}

func (o *otelMetrics) UploadBytesCount(inc int64, uploadType string) {
	o.uploadBytesCount.Add(context.Background(), inc, uploadTypeAttrOption(uploadType))
}

func (o *otelMetrics) UploadFlushCount(inc int64, uploadType string, status string) {
	o.uploadFlushCount.Add(context.Background(), inc, uploadTypeStatusAttrOption(uploadTypeStatus{uploadType, status}))
}

func (o *otelMetrics) UploadFlushLatency(ctx context.Context, duration time.Duration, uploadType string) {
	o.uploadFlushLatency.Record(ctx, float64(duration.Milliseconds()), uploadTypeAttrOption(uploadType))
}

func (o *otelMetrics) UploadRetryCount(inc int64, uploadType string) {
	o.uploadRetryCount.Add(context.Background(), inc, uploadTypeAttrOption(uploadType))
}

func (o *otelMetrics) UploadSessionCount(inc int64, uploadType string, status string) {
	o.uploadSessionCount.Add(context.Background(), inc, uploadTypeStatusAttrOption(uploadTypeStatus{uploadType, status}))
}

// NewOTelMetrics creates the upload instruments on the global meter provider.
func NewOTelMetrics() (MetricHandle, error) {
	uploadMeter := otel.Meter("upload")

	uploadBytesCount, err1 := uploadMeter.Int64Counter("upload/bytes_count",
		metric.WithDescription("The cumulative number of payload bytes handed to the transport."),
		metric.WithUnit("By"))
	uploadFlushCount, err2 := uploadMeter.Int64Counter("upload/flush_count",
		metric.WithDescription("The cumulative number of flushes, along with their final status: successful or failed."))
	uploadFlushLatency, err3 := uploadMeter.Float64Histogram("upload/flush_latencies",
		metric.WithDescription("The cumulative distribution of flush latencies, retries included."),
		metric.WithUnit("ms"),
		defaultLatencyDistribution)
	uploadRetryCount, err4 := uploadMeter.Int64Counter("upload/retry_count",
		metric.WithDescription("The cumulative number of flush attempts repeated after a retryable error."))
	uploadSessionCount, err5 := uploadMeter.Int64Counter("upload/session_count",
		metric.WithDescription("The cumulative number of finished write sessions, along with their final status."))

	if err := errors.Join(err1, err2, err3, err4, err5); err != nil {
		return nil, err
	}

	return &otelMetrics{
		uploadBytesCount:   uploadBytesCount,
		uploadFlushCount:   uploadFlushCount,
		uploadFlushLatency: uploadFlushLatency,
		uploadRetryCount:   uploadRetryCount,
		uploadSessionCount: uploadSessionCount,
	}, nil
}
