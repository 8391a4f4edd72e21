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

package fake

import (
	"context"
	"io"
	"testing"

	"github.com/googlecloudplatform/gcswrite/internal/storage/gcs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type WriteServerTest struct {
	suite.Suite
	ctx    context.Context
	server *Server
}

func TestWriteServerSuite(t *testing.T) {
	suite.Run(t, new(WriteServerTest))
}

func (t *WriteServerTest) SetupTest() {
	t.ctx = context.Background()
	t.server = NewServer()
}

func (t *WriteServerTest) startUpload(name string) string {
	resp, err := t.server.StartResumableWrite(t.ctx, &gcs.StartResumableWriteRequest{
		WriteObjectSpec: &gcs.WriteObjectSpec{Resource: &gcs.Object{Bucket: "bucket", Name: name}},
	})
	require.NoError(t.T(), err)
	return resp.UploadID
}

func (t *WriteServerTest) send(reqs ...*gcs.WriteObjectRequest) (*gcs.WriteObjectResponse, error) {
	stream, err := t.server.OpenWriteObject(t.ctx)
	require.NoError(t.T(), err)
	for _, req := range reqs {
		if err := stream.Send(req); err != nil {
			break
		}
	}
	return stream.CloseAndRecv()
}

func data(offset int64, content string) *gcs.WriteObjectRequest {
	return &gcs.WriteObjectRequest{
		WriteOffset:     offset,
		ChecksummedData: &gcs.ChecksummedData{Content: []byte(content)},
	}
}

func (t *WriteServerTest) TestDirectUpload() {
	first := data(0, "hello ")
	first.WriteObjectSpec = &gcs.WriteObjectSpec{Resource: &gcs.Object{Bucket: "bucket", Name: "obj", ContentType: "text/plain"}}
	last := data(6, "world")
	last.FinishWrite = true

	resp, err := t.send(first, last)

	require.NoError(t.T(), err)
	require.NotNil(t.T(), resp.Resource)
	assert.Equal(t.T(), int64(11), resp.Resource.Size)
	o, content, ok := t.server.Object("bucket", "obj")
	require.True(t.T(), ok)
	assert.Equal(t.T(), "hello world", string(content))
	assert.Equal(t.T(), "text/plain", o.ContentType)
	assert.Equal(t.T(), 1, t.server.StreamCount())
}

func (t *WriteServerTest) TestResumableUploadAcrossStreams() {
	id := t.startUpload("obj")
	first := data(0, "abc")
	first.UploadID = id

	resp, err := t.send(first)
	require.NoError(t.T(), err)
	assert.Equal(t.T(), int64(3), resp.PersistedSize)

	second := data(3, "def")
	second.UploadID = id
	second.FinishWrite = true
	resp, err = t.send(second)

	require.NoError(t.T(), err)
	assert.Equal(t.T(), int64(6), resp.Resource.Size)
	_, content, _ := t.server.Object("bucket", "obj")
	assert.Equal(t.T(), "abcdef", string(content))
}

func (t *WriteServerTest) TestOffsetBelowPersistedSizeIsRejected() {
	id := t.startUpload("obj")
	first := data(0, "abc")
	first.UploadID = id
	_, err := t.send(first)
	require.NoError(t.T(), err)

	overlap := data(1, "bcdef")
	overlap.UploadID = id
	_, err = t.send(overlap)

	assert.Equal(t.T(), codes.InvalidArgument, status.Code(err))
	size, _ := t.server.PersistedSize(id)
	assert.Equal(t.T(), int64(3), size)
}

func (t *WriteServerTest) TestGapIsOutOfRange() {
	id := t.startUpload("obj")
	req := data(5, "abc")
	req.UploadID = id

	_, err := t.send(req)

	assert.Equal(t.T(), codes.OutOfRange, status.Code(err))
}

func (t *WriteServerTest) TestChunkChecksumMismatch() {
	id := t.startUpload("obj")
	req := data(0, "abc")
	req.UploadID = id
	wrong := uint32(1)
	req.ChecksummedData.Crc32c = &wrong

	_, err := t.send(req)

	assert.Equal(t.T(), codes.DataLoss, status.Code(err))
	size, _ := t.server.PersistedSize(id)
	assert.Zero(t.T(), size)
}

func (t *WriteServerTest) TestObjectChecksumMismatch() {
	id := t.startUpload("obj")
	req := data(0, "abc")
	req.UploadID = id
	req.FinishWrite = true
	wrong := uint32(7)
	req.ObjectChecksums = &gcs.ObjectChecksums{Crc32c: &wrong}

	_, err := t.send(req)

	assert.Equal(t.T(), codes.DataLoss, status.Code(err))
}

func (t *WriteServerTest) TestFirstMessageRequired() {
	_, err := t.send(data(0, "abc"))

	assert.Equal(t.T(), codes.InvalidArgument, status.Code(err))
}

func (t *WriteServerTest) TestInjectedFaultSurfacesFromCloseAndRecv() {
	id := t.startUpload("obj")
	t.server.FailNext(status.Error(codes.Unavailable, "injected"))
	stream, err := t.server.OpenWriteObject(t.ctx)
	require.NoError(t.T(), err)
	req := data(0, "abc")
	req.UploadID = id

	sendErr := stream.Send(req)
	_, recvErr := stream.CloseAndRecv()

	assert.ErrorIs(t.T(), sendErr, io.EOF)
	assert.Equal(t.T(), codes.Unavailable, status.Code(recvErr))
	assert.Empty(t.T(), t.server.Requests())
	assert.Equal(t.T(), 1, t.server.StreamCount())
}

func (t *WriteServerTest) TestDropTail() {
	id := t.startUpload("obj")
	t.server.DropTailNext(2)
	req := data(0, "abcdef")
	req.UploadID = id

	resp, err := t.send(req)

	require.NoError(t.T(), err)
	assert.Equal(t.T(), int64(4), resp.PersistedSize)
}

func (t *WriteServerTest) TestQueryWriteStatus() {
	id := t.startUpload("obj")
	req := data(0, "abcd")
	req.UploadID = id
	_, err := t.send(req)
	require.NoError(t.T(), err)

	resp, err := t.server.QueryWriteStatus(t.ctx, &gcs.QueryWriteStatusRequest{UploadID: id})

	require.NoError(t.T(), err)
	assert.Equal(t.T(), int64(4), resp.PersistedSize)
	_, err = t.server.QueryWriteStatus(t.ctx, &gcs.QueryWriteStatusRequest{UploadID: "missing"})
	assert.Equal(t.T(), codes.NotFound, status.Code(err))
}

func (t *WriteServerTest) TestGenerationPrecondition() {
	zero := int64(0)
	spec := &gcs.WriteObjectSpec{Resource: &gcs.Object{Bucket: "bucket", Name: "obj"}, IfGenerationMatch: &zero}
	req := data(0, "x")
	req.WriteObjectSpec = spec
	req.FinishWrite = true
	_, err := t.send(req)
	require.NoError(t.T(), err)

	again := data(0, "y")
	again.WriteObjectSpec = spec
	again.FinishWrite = true
	_, err = t.send(again)

	assert.Equal(t.T(), codes.FailedPrecondition, status.Code(err))
}
