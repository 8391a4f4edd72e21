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

package grpcwrite

import (
	"context"

	"github.com/googlecloudplatform/gcswrite/internal/storage/gcs"
	"google.golang.org/grpc"
)

// WriteObjectServerStream is the server half of a WriteObject RPC.
type WriteObjectServerStream = grpc.ClientStreamingServer[gcs.WriteObjectRequest, gcs.WriteObjectResponse]

// WriteServer implements the write RPCs of the storage service.
type WriteServer interface {
	WriteObject(stream WriteObjectServerStream) error
	StartResumableWrite(ctx context.Context, req *gcs.StartResumableWriteRequest) (*gcs.StartResumableWriteResponse, error)
	QueryWriteStatus(ctx context.Context, req *gcs.QueryWriteStatusRequest) (*gcs.QueryWriteStatusResponse, error)
}

var writeObjectStreamDesc = grpc.StreamDesc{
	StreamName:    "WriteObject",
	Handler:       writeObjectHandler,
	ClientStreams: true,
}

// ServiceDesc describes the write RPCs of google.storage.v2.Storage.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*WriteServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "StartResumableWrite", Handler: startResumableWriteHandler},
		{MethodName: "QueryWriteStatus", Handler: queryWriteStatusHandler},
	},
	Streams:  []grpc.StreamDesc{writeObjectStreamDesc},
	Metadata: "google/storage/v2/storage.proto",
}

// RegisterWriteServer registers srv on s. The server must be created with
// ServerCodec.
func RegisterWriteServer(s grpc.ServiceRegistrar, srv WriteServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServerCodec makes a grpc.Server decode the write messages.
func ServerCodec() grpc.ServerOption {
	return grpc.ForceServerCodec(codec{})
}

func writeObjectHandler(srv any, stream grpc.ServerStream) error {
	return srv.(WriteServer).WriteObject(&grpc.GenericServerStream[gcs.WriteObjectRequest, gcs.WriteObjectResponse]{ServerStream: stream})
}

func startResumableWriteHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(gcs.StartResumableWriteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WriteServer).StartResumableWrite(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: startResumableWriteMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(WriteServer).StartResumableWrite(ctx, req.(*gcs.StartResumableWriteRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func queryWriteStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(gcs.QueryWriteStatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WriteServer).QueryWriteStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: queryWriteStatusMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(WriteServer).QueryWriteStatus(ctx, req.(*gcs.QueryWriteStatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}
