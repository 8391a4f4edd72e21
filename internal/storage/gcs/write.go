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

package gcs

import (
	"context"
)

// MaxWriteChunkBytes is the largest payload the service accepts in a single
// WriteObjectRequest.
const MaxWriteChunkBytes = 2 * 1024 * 1024

// Object is the subset of object metadata the write path produces and
// consumes.
type Object struct {
	Name           string
	Bucket         string
	Generation     int64
	MetaGeneration int64
	Size           int64
	ContentType    string
	Checksums      *ObjectChecksums
}

// ObjectChecksums holds the full-object checksums sent with the terminal
// request and reported back on the finalized object.
type ObjectChecksums struct {
	Crc32c  *uint32
	MD5Hash []byte
}

// ChecksummedData is the payload of one write request.
type ChecksummedData struct {
	Content []byte
	// CRC32C of Content, if computed.
	Crc32c *uint32
}

// WriteObjectSpec describes the object a direct upload creates.
type WriteObjectSpec struct {
	Resource *Object
	// If set, the write only succeeds if the live generation matches. A value
	// of zero means the object must not exist yet.
	IfGenerationMatch *int64
	// Expected final size, if known up front.
	ObjectSize *int64
}

// WriteObjectRequest is one message of the client-streaming WriteObject RPC.
//
// Exactly one of UploadID and WriteObjectSpec is set on the first message of a
// stream; later messages leave both empty.
type WriteObjectRequest struct {
	UploadID        string
	WriteObjectSpec *WriteObjectSpec

	WriteOffset     int64
	ChecksummedData *ChecksummedData

	// Only set alongside FinishWrite.
	ObjectChecksums *ObjectChecksums
	FinishWrite     bool
}

// IsFirstMessage reports whether req carries the fields that open a stream.
func (req *WriteObjectRequest) IsFirstMessage() bool {
	return req.UploadID != "" || req.WriteObjectSpec != nil
}

// ContentLen returns the payload size carried by req.
func (req *WriteObjectRequest) ContentLen() int {
	if req.ChecksummedData == nil {
		return 0
	}
	return len(req.ChecksummedData.Content)
}

// WithoutFirstMessageFields returns a shallow copy of req with the stream
// opening fields cleared.
func (req *WriteObjectRequest) WithoutFirstMessageFields() *WriteObjectRequest {
	if !req.IsFirstMessage() {
		return req
	}
	cp := *req
	cp.UploadID = ""
	cp.WriteObjectSpec = nil
	return &cp
}

// WriteObjectResponse is the single response of a WriteObject stream. A
// stream that ends without FinishWrite reports PersistedSize; a finalized
// upload reports Resource.
type WriteObjectResponse struct {
	PersistedSize int64
	Resource      *Object
}

// StartResumableWriteRequest opens a resumable upload session.
type StartResumableWriteRequest struct {
	WriteObjectSpec *WriteObjectSpec
	ObjectChecksums *ObjectChecksums
}

// StartResumableWriteResponse carries the identifier of a new upload session.
type StartResumableWriteResponse struct {
	UploadID string
}

// QueryWriteStatusRequest asks for the persisted state of an upload session.
type QueryWriteStatusRequest struct {
	UploadID string
}

// QueryWriteStatusResponse reports either the persisted size of an unfinished
// upload, or the finalized object.
type QueryWriteStatusResponse struct {
	PersistedSize int64
	Resource      *Object
}

// ResumableWrite is the handle of a resumable upload session: the opaque
// upload identifier plus the offset at which writes resume.
type ResumableWrite struct {
	UploadID string
	Offset   int64
}

// WriteObjectStream is the client half of a WriteObject RPC.
// grpc.ClientStreamingClient[WriteObjectRequest, WriteObjectResponse]
// satisfies it.
type WriteObjectStream interface {
	Send(*WriteObjectRequest) error
	CloseAndRecv() (*WriteObjectResponse, error)
}

// WriteObjectCallable opens a new WriteObject stream bound to ctx. Cancelling
// ctx aborts the stream.
type WriteObjectCallable func(ctx context.Context) (WriteObjectStream, error)
