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

// Package fake provides an in-memory implementation of the storage write
// RPCs, usable in-process or behind a grpc.Server.
package fake

import (
	"bytes"
	"context"
	"crypto/md5"
	"errors"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/googlecloudplatform/gcswrite/internal/checksum"
	"github.com/googlecloudplatform/gcswrite/internal/storage/gcs"
	"github.com/googlecloudplatform/gcswrite/internal/storage/grpcwrite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type upload struct {
	spec      *gcs.WriteObjectSpec
	checksums *gcs.ObjectChecksums
	data      []byte
	finalized *gcs.Object
}

type storedObject struct {
	metadata gcs.Object
	data     []byte
}

// Server stores uploads and finalized objects in memory. A WriteObject
// stream takes effect when it is closed, all or nothing.
type Server struct {
	mu sync.Mutex

	// GUARDED_BY(mu)
	uploads map[string]*upload
	// Keyed by bucket and name. GUARDED_BY(mu)
	objects map[[2]string]*storedObject
	// GUARDED_BY(mu)
	generation int64

	// Errors failing the next streams, one per stream. GUARDED_BY(mu)
	faults []error
	// Bytes to drop from the tail of the next flushes. GUARDED_BY(mu)
	dropTail []int64
	// GUARDED_BY(mu)
	streams int
	// GUARDED_BY(mu)
	requests []*gcs.WriteObjectRequest
}

var _ grpcwrite.WriteServer = (*Server)(nil)

func NewServer() *Server {
	return &Server{
		uploads:    make(map[string]*upload),
		objects:    make(map[[2]string]*storedObject),
		generation: 1000,
	}
}

////////////////////////////////////////////////////////////////////////
// Test controls
////////////////////////////////////////////////////////////////////////

// FailNext makes each of the next len(errs) streams fail with the matching
// error. Sends on a failed stream report io.EOF and the error surfaces from
// CloseAndRecv, as with a real gRPC stream.
func (s *Server) FailNext(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, errs...)
}

// DropTailNext makes the next flush of a resumable upload persist n bytes
// less than it received.
func (s *Server) DropTailNext(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropTail = append(s.dropTail, n)
}

// StreamCount returns how many WriteObject streams were opened.
func (s *Server) StreamCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams
}

// Requests returns every request received on a stream that was not failed,
// in arrival order.
func (s *Server) Requests() []*gcs.WriteObjectRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*gcs.WriteObjectRequest(nil), s.requests...)
}

// Object returns a finalized object and its content.
func (s *Server) Object(bucket, name string) (*gcs.Object, []byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[[2]string{bucket, name}]
	if !ok {
		return nil, nil, false
	}
	m := o.metadata
	return &m, bytes.Clone(o.data), true
}

// PersistedSize returns the number of bytes an upload session holds.
func (s *Server) PersistedSize(uploadID string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.uploads[uploadID]
	if !ok {
		return 0, false
	}
	return int64(len(u.data)), true
}

// NewGRPCServer returns a grpc.Server serving s.
func (s *Server) NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	gs := grpc.NewServer(append(opts, grpcwrite.ServerCodec())...)
	grpcwrite.RegisterWriteServer(gs, s)
	return gs
}

////////////////////////////////////////////////////////////////////////
// In-process streams
////////////////////////////////////////////////////////////////////////

type stream struct {
	ctx  context.Context
	s    *Server
	reqs []*gcs.WriteObjectRequest
	err  error
	done bool
}

// OpenWriteObject opens an in-process stream. It has the
// gcs.WriteObjectCallable signature.
func (s *Server) OpenWriteObject(ctx context.Context) (gcs.WriteObjectStream, error) {
	return &stream{ctx: ctx, s: s, err: s.nextFault()}, nil
}

func (st *stream) Send(req *gcs.WriteObjectRequest) error {
	if st.done {
		return errors.New("send on a closed stream")
	}
	if st.err == nil && st.ctx.Err() != nil {
		st.err = status.FromContextError(st.ctx.Err()).Err()
	}
	if st.err != nil {
		return io.EOF
	}
	st.reqs = append(st.reqs, cloneRequest(req))
	return nil
}

func (st *stream) CloseAndRecv() (*gcs.WriteObjectResponse, error) {
	if st.done {
		return nil, errors.New("stream already closed")
	}
	st.done = true
	if st.err != nil {
		return nil, st.err
	}
	if err := st.ctx.Err(); err != nil {
		return nil, status.FromContextError(err).Err()
	}
	return st.s.commit(st.reqs)
}

////////////////////////////////////////////////////////////////////////
// grpcwrite.WriteServer
////////////////////////////////////////////////////////////////////////

func (s *Server) WriteObject(stream grpcwrite.WriteObjectServerStream) error {
	if err := s.nextFault(); err != nil {
		return err
	}
	var reqs []*gcs.WriteObjectRequest
	for {
		req, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		reqs = append(reqs, req)
	}
	resp, err := s.commit(reqs)
	if err != nil {
		return err
	}
	return stream.SendAndClose(resp)
}

func (s *Server) StartResumableWrite(ctx context.Context, req *gcs.StartResumableWriteRequest) (*gcs.StartResumableWriteResponse, error) {
	if req.WriteObjectSpec == nil || req.WriteObjectSpec.Resource == nil || req.WriteObjectSpec.Resource.Name == "" {
		return nil, status.Error(codes.InvalidArgument, "write_object_spec.resource.name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	s.uploads[id] = &upload{spec: req.WriteObjectSpec, checksums: req.ObjectChecksums}
	return &gcs.StartResumableWriteResponse{UploadID: id}, nil
}

func (s *Server) QueryWriteStatus(ctx context.Context, req *gcs.QueryWriteStatusRequest) (*gcs.QueryWriteStatusResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.uploads[req.UploadID]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "upload %q not found", req.UploadID)
	}
	if u.finalized != nil {
		o := *u.finalized
		return &gcs.QueryWriteStatusResponse{Resource: &o}, nil
	}
	return &gcs.QueryWriteStatusResponse{PersistedSize: int64(len(u.data))}, nil
}

////////////////////////////////////////////////////////////////////////
// Helpers
////////////////////////////////////////////////////////////////////////

// nextFault counts a new stream and returns the fault injected for it.
func (s *Server) nextFault() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams++
	if len(s.faults) == 0 {
		return nil
	}
	err := s.faults[0]
	s.faults = s.faults[1:]
	return err
}

func cloneRequest(req *gcs.WriteObjectRequest) *gcs.WriteObjectRequest {
	cp := *req
	if req.ChecksummedData != nil {
		cp.ChecksummedData = &gcs.ChecksummedData{
			Content: bytes.Clone(req.ChecksummedData.Content),
			Crc32c:  req.ChecksummedData.Crc32c,
		}
	}
	return &cp
}

// commit applies the requests of one stream.
func (s *Server) commit(reqs []*gcs.WriteObjectRequest) (*gcs.WriteObjectResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(reqs) == 0 {
		return nil, status.Error(codes.InvalidArgument, "empty WriteObject stream")
	}
	s.requests = append(s.requests, reqs...)

	u, resumable, err := s.target(reqs[0])
	if err != nil {
		return nil, err
	}
	if u.finalized != nil {
		o := *u.finalized
		return &gcs.WriteObjectResponse{Resource: &o}, nil
	}

	data := bytes.Clone(u.data)
	finish := false
	var objectChecksums *gcs.ObjectChecksums
	for i, req := range reqs {
		if i > 0 && req.IsFirstMessage() {
			return nil, status.Error(codes.InvalidArgument, "upload_id and write_object_spec are only allowed on the first message")
		}
		if finish {
			return nil, status.Error(codes.InvalidArgument, "message after finish_write")
		}
		if data, err = apply(data, req); err != nil {
			return nil, err
		}
		if req.FinishWrite {
			finish = true
			objectChecksums = req.ObjectChecksums
		}
	}

	if !finish {
		if resumable {
			s.persist(u, data)
		}
		return &gcs.WriteObjectResponse{PersistedSize: int64(len(u.data))}, nil
	}

	o, err := s.finalize(u, data, objectChecksums)
	if err != nil {
		return nil, err
	}
	u.finalized = o
	resp := *o
	return &gcs.WriteObjectResponse{Resource: &resp}, nil
}

// LOCKS_REQUIRED(s.mu)
func (s *Server) target(first *gcs.WriteObjectRequest) (*upload, bool, error) {
	switch {
	case first.UploadID != "" && first.WriteObjectSpec != nil:
		return nil, false, status.Error(codes.InvalidArgument, "both upload_id and write_object_spec are set")
	case first.UploadID != "":
		u, ok := s.uploads[first.UploadID]
		if !ok {
			return nil, false, status.Errorf(codes.NotFound, "upload %q not found", first.UploadID)
		}
		return u, true, nil
	case first.WriteObjectSpec != nil && first.WriteObjectSpec.Resource != nil:
		if first.WriteOffset != 0 {
			return nil, false, status.Errorf(codes.InvalidArgument, "direct upload starting at offset %d", first.WriteOffset)
		}
		return &upload{spec: first.WriteObjectSpec}, false, nil
	}
	return nil, false, status.Error(codes.InvalidArgument, "the first message must carry upload_id or write_object_spec")
}

// apply appends the payload of req to data. Like the service, it only accepts
// a request that starts exactly at the bytes already held.
func apply(data []byte, req *gcs.WriteObjectRequest) ([]byte, error) {
	held := int64(len(data))
	switch {
	case req.WriteOffset > held:
		return nil, status.Errorf(codes.OutOfRange, "write_offset %d is beyond the persisted size %d", req.WriteOffset, held)
	case req.WriteOffset < held:
		return nil, status.Errorf(codes.InvalidArgument, "write_offset %d is below the persisted size %d", req.WriteOffset, held)
	}
	if req.ChecksummedData == nil {
		return data, nil
	}
	content := req.ChecksummedData.Content
	if crc := req.ChecksummedData.Crc32c; crc != nil && len(content) > 0 {
		if got, _ := checksum.NewCrc32cHasher().Hash(content); got != *crc {
			return nil, status.Errorf(codes.DataLoss, "crc32c mismatch at offset %d: got %d, want %d", req.WriteOffset, got, *crc)
		}
	}
	return append(data, content...), nil
}

// LOCKS_REQUIRED(s.mu)
func (s *Server) persist(u *upload, data []byte) {
	if len(s.dropTail) > 0 {
		n := s.dropTail[0]
		s.dropTail = s.dropTail[1:]
		keep := max(int64(len(u.data)), int64(len(data))-n)
		data = data[:keep]
	}
	u.data = data
}

// LOCKS_REQUIRED(s.mu)
func (s *Server) finalize(u *upload, data []byte, sent *gcs.ObjectChecksums) (*gcs.Object, error) {
	crc, _ := checksum.NewCrc32cHasher().Hash(data)
	sum := md5.Sum(data)

	for _, c := range []*gcs.ObjectChecksums{u.checksums, sent} {
		if c == nil {
			continue
		}
		if c.Crc32c != nil && *c.Crc32c != crc {
			return nil, status.Errorf(codes.DataLoss, "object crc32c mismatch: got %d, want %d", crc, *c.Crc32c)
		}
		if len(c.MD5Hash) > 0 && !bytes.Equal(c.MD5Hash, sum[:]) {
			return nil, status.Error(codes.DataLoss, "object md5 mismatch")
		}
	}

	spec := u.spec
	if spec.ObjectSize != nil && *spec.ObjectSize != int64(len(data)) {
		return nil, status.Errorf(codes.InvalidArgument, "object_size %d does not match the %d bytes written", *spec.ObjectSize, len(data))
	}
	key := [2]string{spec.Resource.Bucket, spec.Resource.Name}
	if m := spec.IfGenerationMatch; m != nil {
		var live int64
		if existing, ok := s.objects[key]; ok {
			live = existing.metadata.Generation
		}
		if live != *m {
			return nil, status.Errorf(codes.FailedPrecondition, "generation %d does not match %d", live, *m)
		}
	}

	s.generation++
	o := gcs.Object{
		Name:           spec.Resource.Name,
		Bucket:         spec.Resource.Bucket,
		Generation:     s.generation,
		MetaGeneration: 1,
		Size:           int64(len(data)),
		ContentType:    spec.Resource.ContentType,
		Checksums:      &gcs.ObjectChecksums{Crc32c: &crc, MD5Hash: sum[:]},
	}
	s.objects[key] = &storedObject{metadata: o, data: data}
	return &o, nil
}
