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
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/googlecloudplatform/gcswrite/cfg"
	"github.com/googlecloudplatform/gcswrite/internal/storage/fake"
	"github.com/googlecloudplatform/gcswrite/internal/storage/gcs"
	"github.com/googlecloudplatform/gcswrite/internal/storage/grpcwrite"
	"github.com/googlecloudplatform/gcswrite/metrics"
	"github.com/googlecloudplatform/gcswrite/tracing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const testBucket = "bucket"

func content(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i % 253)
	}
	return p
}

type UploadTest struct {
	suite.Suite
	ctx    context.Context
	fake   *fake.Server
	server *grpc.Server
	conn   *grpc.ClientConn
	stdout *bytes.Buffer
}

func TestUploadSuite(t *testing.T) {
	suite.Run(t, new(UploadTest))
}

func (t *UploadTest) SetupTest() {
	t.ctx = context.Background()
	t.fake = fake.NewServer()
	t.stdout = new(bytes.Buffer)
	lis := bufconn.Listen(4 << 20)
	t.server = t.fake.NewGRPCServer()
	go func() {
		_ = t.server.Serve(lis)
	}()

	var err error
	t.conn, err = grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t.T(), err)
}

func (t *UploadTest) TearDownTest() {
	t.conn.Close()
	t.server.Stop()
}

// config parses args the way the command line does.
func (t *UploadTest) config(args ...string) *cfg.Config {
	got, err := runRoot(t.T(), append(args, testBucket, "obj")...)
	require.NoError(t.T(), err)
	return got.config
}

func (t *UploadTest) uploader(stdin io.Reader) *uploader {
	return &uploader{
		conn:    t.conn,
		metrics: metrics.NewNoopMetrics(),
		tracer:  tracing.NewNoopTracer(),
		stdin:   stdin,
		stdout:  t.stdout,
	}
}

func (t *UploadTest) writeFile(data []byte) string {
	path := filepath.Join(t.T().TempDir(), "source")
	require.NoError(t.T(), os.WriteFile(path, data, 0600))
	return path
}

func (t *UploadTest) stored(name string) (*gcs.Object, []byte) {
	o, data, ok := t.fake.Object(grpcwrite.BucketResourceName(testBucket), name)
	require.True(t.T(), ok, "object %q was not finalized", name)
	return o, data
}

func (t *UploadTest) TestResumableBufferedFromFile() {
	data := content(300 << 10)
	c := t.config("--buffer-size=64k", "--max-buffers=2")
	job := UploadJob{Bucket: testBucket, Object: "a/b", File: t.writeFile(data), ContentType: "application/octet-stream"}

	err := t.uploader(nil).run(t.ctx, c, job)

	require.NoError(t.T(), err)
	o, got := t.stored("a/b")
	assert.Equal(t.T(), data, got)
	assert.Equal(t.T(), int64(len(data)), o.Size)
	assert.Equal(t.T(), "application/octet-stream", o.ContentType)
	assert.Greater(t.T(), t.fake.StreamCount(), 1)
	assert.Contains(t.T(), t.stdout.String(), "gs://bucket/a/b#")
}

func (t *UploadTest) TestDirectUnbufferedFromStdin() {
	data := content(5<<20 + 17)
	c := t.config("--upload-mode=direct", "--buffering=unbuffered")
	job := UploadJob{Bucket: testBucket, Object: "direct"}

	err := t.uploader(bytes.NewReader(data)).run(t.ctx, c, job)

	require.NoError(t.T(), err)
	_, got := t.stored("direct")
	assert.Equal(t.T(), data, got)
	assert.Equal(t.T(), 1, t.fake.StreamCount())
}

func (t *UploadTest) TestEmptySource() {
	c := t.config()
	job := UploadJob{Bucket: testBucket, Object: "empty"}

	err := t.uploader(bytes.NewReader(nil)).run(t.ctx, c, job)

	require.NoError(t.T(), err)
	o, got := t.stored("empty")
	assert.Empty(t.T(), got)
	assert.Equal(t.T(), int64(0), o.Size)
}

func (t *UploadTest) TestThrottledWithoutCrc32c() {
	data := content(200 << 10)
	c := t.config("--limit-bytes-per-sec=10485760", "--enable-crc32c=false", "--byte-copy=no-copy")
	job := UploadJob{Bucket: testBucket, Object: "throttled", File: t.writeFile(data)}

	err := t.uploader(nil).run(t.ctx, c, job)

	require.NoError(t.T(), err)
	_, got := t.stored("throttled")
	assert.Equal(t.T(), data, got)
	for _, req := range t.fake.Requests() {
		if req.ChecksummedData != nil {
			assert.Nil(t.T(), req.ChecksummedData.Crc32c)
		}
	}
}

// startPartialUpload creates an upload session holding the first n bytes of
// data.
func (t *UploadTest) startPartialUpload(name string, data []byte, n int) string {
	client := grpcwrite.NewClient(t.conn, grpcwrite.ClientConfig{Bucket: testBucket})
	resp, err := client.StartResumableWrite(t.ctx, &gcs.StartResumableWriteRequest{
		WriteObjectSpec: &gcs.WriteObjectSpec{Resource: &gcs.Object{Name: name, Bucket: grpcwrite.BucketResourceName(testBucket)}},
	})
	require.NoError(t.T(), err)
	stream, err := client.WriteObject(t.ctx)
	require.NoError(t.T(), err)
	require.NoError(t.T(), stream.Send(&gcs.WriteObjectRequest{
		UploadID:        resp.UploadID,
		ChecksummedData: &gcs.ChecksummedData{Content: data[:n]},
	}))
	ack, err := stream.CloseAndRecv()
	require.NoError(t.T(), err)
	require.Equal(t.T(), int64(n), ack.PersistedSize)
	return resp.UploadID
}

func (t *UploadTest) TestResumeFromFileSeeksToPersistedOffset() {
	data := content(150 << 10)
	uploadID := t.startPartialUpload("resumed", data, 100<<10)
	c := t.config("--buffer-size=32k")
	job := UploadJob{Bucket: testBucket, Object: "resumed", File: t.writeFile(data), UploadID: uploadID}

	err := t.uploader(nil).run(t.ctx, c, job)

	require.NoError(t.T(), err)
	_, got := t.stored("resumed")
	assert.Equal(t.T(), data, got)
}

func (t *UploadTest) TestResumeFromStdinDiscardsPersistedPrefix() {
	data := content(90 << 10)
	uploadID := t.startPartialUpload("piped", data, 40<<10)
	c := t.config("--buffering=unbuffered")
	job := UploadJob{Bucket: testBucket, Object: "piped", UploadID: uploadID}
	// Hide Seek so the prefix has to be read and dropped.
	stdin := io.MultiReader(bytes.NewReader(data))

	err := t.uploader(stdin).run(t.ctx, c, job)

	require.NoError(t.T(), err)
	_, got := t.stored("piped")
	assert.Equal(t.T(), data, got)
}

func (t *UploadTest) TestResumeWithShortSource() {
	data := content(64 << 10)
	uploadID := t.startPartialUpload("short", data, 64<<10)
	c := t.config()
	job := UploadJob{Bucket: testBucket, Object: "short", UploadID: uploadID}

	err := t.uploader(io.MultiReader(bytes.NewReader(data[:10]))).run(t.ctx, c, job)

	assert.ErrorContains(t.T(), err, "before the persisted offset")
}

func (t *UploadTest) TestUploadIDRequiresResumableMode() {
	c := t.config("--upload-mode=direct")
	job := UploadJob{Bucket: testBucket, Object: "obj", UploadID: "abc"}

	err := t.uploader(bytes.NewReader(nil)).run(t.ctx, c, job)

	assert.ErrorContains(t.T(), err, "--upload-id requires --upload-mode=resumable")
	assert.Equal(t.T(), 0, t.fake.StreamCount())
}

func (t *UploadTest) TestFailedResumableUploadReportsUploadID() {
	t.fake.FailNext(status.Error(codes.PermissionDenied, "denied"))
	c := t.config("--buffering=unbuffered")
	job := UploadJob{Bucket: testBucket, Object: "denied"}

	err := t.uploader(bytes.NewReader(content(1024))).run(t.ctx, c, job)

	require.Error(t.T(), err)
	assert.Contains(t.T(), err.Error(), "resume with --upload-id=")
	_, _, ok := t.fake.Object(grpcwrite.BucketResourceName(testBucket), "denied")
	assert.False(t.T(), ok)
}

func (t *UploadTest) TestGenerationPreconditionFails() {
	c := t.config()
	zero := int64(0)
	first := UploadJob{Bucket: testBucket, Object: "once", IfGenerationMatch: &zero}
	require.NoError(t.T(), t.uploader(bytes.NewReader(content(10))).run(t.ctx, c, first))

	err := t.uploader(bytes.NewReader(content(10))).run(t.ctx, c, first)

	var precondition *gcs.PreconditionError
	assert.ErrorAs(t.T(), err, &precondition)
}

func TestSkipToSeeksWhenPossible(t *testing.T) {
	src := bytes.NewReader(content(100))

	require.NoError(t, skipTo(src, 60))

	rest, err := io.ReadAll(src)
	require.NoError(t, err)
	assert.Equal(t, content(100)[60:], rest)
}
