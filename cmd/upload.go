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
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/docker/go-units"
	"github.com/googlecloudplatform/gcswrite/cfg"
	"github.com/googlecloudplatform/gcswrite/internal/future"
	"github.com/googlecloudplatform/gcswrite/internal/logger"
	"github.com/googlecloudplatform/gcswrite/internal/monitor"
	"github.com/googlecloudplatform/gcswrite/internal/ratelimit"
	"github.com/googlecloudplatform/gcswrite/internal/storage/gcs"
	"github.com/googlecloudplatform/gcswrite/internal/storage/grpcwrite"
	"github.com/googlecloudplatform/gcswrite/internal/storage/storageutil"
	"github.com/googlecloudplatform/gcswrite/internal/writesession"
	"github.com/googlecloudplatform/gcswrite/metrics"
	"github.com/googlecloudplatform/gcswrite/tracing"
	"google.golang.org/grpc"
)

// Upload streams the source of job into its object. It is the run function
// of the root command.
func Upload(ctx context.Context, c *cfg.Config, job UploadJob) error {
	if err := logger.InitLogFile(c.Logging); err != nil {
		return fmt.Errorf("init log file: %w", err)
	}
	defer logger.Close()

	shutdown := monitor.JoinShutdownFunc(
		monitor.SetupOTelMetricExporters(ctx, c, getVersion()),
		monitor.SetupTracing(ctx, c, getVersion()),
	)
	defer func() {
		if shutdownErr := shutdown(context.Background()); shutdownErr != nil {
			logger.Warnf("Error while shutting down the exporters: %v", shutdownErr)
		}
	}()

	metricHandle, err := metrics.NewOTelMetrics()
	if err != nil {
		logger.Warnf("Falling back to noop metrics: %v", err)
		metricHandle = metrics.NewNoopMetrics()
	}

	conn, err := storageutil.NewClientConn(ctx, &storageutil.ConnectionConfig{
		Endpoint:        c.GrpcConnection.Endpoint,
		UserAgent:       userAgent(c.AppName),
		KeyFile:         string(c.GrpcConnection.KeyFile),
		AnonymousAccess: c.GrpcConnection.AnonymousAccess,
	})
	if err != nil {
		return err
	}
	defer conn.Close()

	u := &uploader{
		conn:    conn,
		metrics: metricHandle,
		tracer:  tracing.NewOTELTracer(),
		stdin:   os.Stdin,
		stdout:  os.Stdout,
	}
	return u.run(ctx, c, job)
}

type uploader struct {
	conn    grpc.ClientConnInterface
	metrics metrics.MetricHandle
	tracer  tracing.TraceHandle
	stdin   io.Reader
	stdout  io.Writer
}

func (u *uploader) openSource(job UploadJob) (io.Reader, func(), error) {
	if job.File == "" {
		return u.stdin, func() {}, nil
	}
	f, err := os.Open(job.File)
	if err != nil {
		return nil, nil, fmt.Errorf("opening source: %w", err)
	}
	return f, func() { f.Close() }, nil
}

// skipTo positions src at offset, seeking when src supports it.
func skipTo(src io.Reader, offset int64) error {
	if offset == 0 {
		return nil
	}
	if seeker, ok := src.(io.Seeker); ok {
		if _, err := seeker.Seek(offset, io.SeekStart); err == nil {
			return nil
		}
	}
	n, err := io.CopyN(io.Discard, src, offset)
	if err != nil {
		return fmt.Errorf("source ended at %d before the persisted offset %d: %w", n, offset, err)
	}
	return nil
}

func (u *uploader) writeCallable(c *cfg.Config, client *grpcwrite.Client) (gcs.WriteObjectCallable, error) {
	write := gcs.WriteObjectCallable(client.WriteObject)
	if !cfg.IsThrottled(c) {
		return write, nil
	}
	limiter, err := ratelimit.NewLimiter(c.Upload.LimitBytesPerSec, cfg.ThrottleWindow)
	if err != nil {
		return nil, fmt.Errorf("creating upload limiter: %w", err)
	}
	return ratelimit.ThrottledWriteCallable(write, limiter), nil
}

func objectSpec(job UploadJob) *gcs.WriteObjectSpec {
	return &gcs.WriteObjectSpec{
		Resource: &gcs.Object{
			Name:        job.Object,
			Bucket:      grpcwrite.BucketResourceName(job.Bucket),
			ContentType: job.ContentType,
		},
		IfGenerationMatch: job.IfGenerationMatch,
	}
}

// newSession builds the session of job. The returned future is nil for a
// direct upload.
func (u *uploader) newSession(ctx context.Context, c *cfg.Config, job UploadJob, client *grpcwrite.Client, src io.Reader) (*writesession.Session, *future.Future[gcs.ResumableWrite], error) {
	sessionCfg, err := newSessionConfig(c, u.metrics, u.tracer)
	if err != nil {
		return nil, nil, err
	}
	write, err := u.writeCallable(c, client)
	if err != nil {
		return nil, nil, err
	}

	if c.Upload.Mode == cfg.UploadModeDirect {
		if job.UploadID != "" {
			return nil, nil, errors.New("--upload-id requires --upload-mode=resumable")
		}
		s, err := writesession.NewDirectSession(write, sessionCfg, &gcs.WriteObjectRequest{WriteObjectSpec: objectSpec(job)})
		return s, nil, err
	}

	var upload *future.Future[gcs.ResumableWrite]
	if job.UploadID == "" {
		upload = client.StartResumableWriteAsync(ctx, &gcs.StartResumableWriteRequest{WriteObjectSpec: objectSpec(job)})
	} else {
		resumable, err := client.ResumeWrite(ctx, job.UploadID)
		if err != nil {
			return nil, nil, err
		}
		if err := skipTo(src, resumable.Offset); err != nil {
			return nil, nil, err
		}
		upload = future.Immediate(resumable)
	}
	s, err := writesession.NewResumableSession(write, sessionCfg, upload)
	return s, upload, err
}

func (u *uploader) run(ctx context.Context, c *cfg.Config, job UploadJob) error {
	src, closeSrc, err := u.openSource(job)
	if err != nil {
		return err
	}
	defer closeSrc()

	client := grpcwrite.NewClient(u.conn, grpcwrite.ClientConfig{
		Bucket:         job.Bucket,
		Retrying:       retryingDependencies(&c.Retry),
		RetryAlgorithm: retryAlgorithm(&c.Retry),
	})
	session, upload, err := u.newSession(ctx, c, job, client, src)
	if err != nil {
		return u.failed(job, job.UploadID, err)
	}

	ch, err := session.Channel(ctx)
	if err != nil {
		return u.failed(job, job.UploadID, err)
	}
	uploadID := ""
	if upload != nil {
		// Resolved once the channel is bound.
		resumable, _ := upload.Await(ctx)
		uploadID = resumable.UploadID
		logger.Debugf("Uploading gs://%s/%s in session %s from offset %d", job.Bucket, job.Object, uploadID, resumable.Offset)
	}
	if _, err := io.Copy(ch, src); err != nil {
		_ = ch.Close()
		return u.failed(job, uploadID, err)
	}
	if err := ch.Close(); err != nil {
		return u.failed(job, uploadID, err)
	}

	resp, err := session.Result().Await(ctx)
	if err != nil {
		return u.failed(job, uploadID, err)
	}
	obj := resp.Resource
	if obj == nil {
		return u.failed(job, uploadID, errors.New("upload finished without an object"))
	}
	logger.Infof("Uploaded gs://%s/%s generation %d (%d bytes)", job.Bucket, obj.Name, obj.Generation, obj.Size)
	fmt.Fprintf(u.stdout, "gs://%s/%s#%d %s\n", grpcwrite.BucketName(obj.Bucket), obj.Name, obj.Generation, units.HumanSize(float64(obj.Size)))
	return nil
}

func (u *uploader) failed(job UploadJob, uploadID string, err error) error {
	if uploadID == "" {
		return fmt.Errorf("gs://%s/%s: %w", job.Bucket, job.Object, err)
	}
	return fmt.Errorf("gs://%s/%s: %w (resume with --upload-id=%s)", job.Bucket, job.Object, err, uploadID)
}
