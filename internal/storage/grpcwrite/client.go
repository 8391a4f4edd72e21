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

// Package grpcwrite speaks the write half of the google.storage.v2 gRPC API:
// the client-streaming WriteObject RPC and the resumable upload RPCs.
package grpcwrite

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/googlecloudplatform/gcswrite/internal/future"
	"github.com/googlecloudplatform/gcswrite/internal/logger"
	"github.com/googlecloudplatform/gcswrite/internal/storage/gcs"
	"github.com/googlecloudplatform/gcswrite/internal/storage/storageutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

const (
	serviceName = "google.storage.v2.Storage"

	writeObjectMethod         = "/" + serviceName + "/WriteObject"
	startResumableWriteMethod = "/" + serviceName + "/StartResumableWrite"
	queryWriteStatusMethod    = "/" + serviceName + "/QueryWriteStatus"

	bucketResourcePrefix = "projects/_/buckets/"

	requestParamsHeader    = "x-goog-request-params"
	idempotencyTokenHeader = "x-goog-gcs-idempotency-token"
)

// BucketResourceName returns the v2 API name of a bucket.
func BucketResourceName(bucket string) string {
	if bucket == "" || strings.HasPrefix(bucket, bucketResourcePrefix) {
		return bucket
	}
	return bucketResourcePrefix + bucket
}

// BucketName strips the v2 API prefix from a bucket resource name.
func BucketName(resource string) string {
	return strings.TrimPrefix(resource, bucketResourcePrefix)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// Bucket every request of the client is routed to.
	Bucket string
	// Retry policy of the unary RPCs. WriteObject streams are retried by the
	// write session instead.
	Retrying       storageutil.RetryingDependencies
	RetryAlgorithm storageutil.RetryAlgorithm
}

// Client issues write RPCs over a gRPC connection.
type Client struct {
	conn   grpc.ClientConnInterface
	config ClientConfig
}

// NewClient returns a client for conn. A nil retry algorithm never retries.
func NewClient(conn grpc.ClientConnInterface, config ClientConfig) *Client {
	if config.RetryAlgorithm == nil {
		config.RetryAlgorithm = storageutil.NeverRetry()
	}
	return &Client{conn: conn, config: config}
}

func (c *Client) callOptions() []grpc.CallOption {
	return []grpc.CallOption{grpc.ForceCodec(codec{})}
}

func (c *Client) outgoing(ctx context.Context, idempotencyToken string) context.Context {
	params := "bucket=" + url.QueryEscape(BucketResourceName(c.config.Bucket))
	ctx = metadata.AppendToOutgoingContext(ctx, requestParamsHeader, params)
	if idempotencyToken != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, idempotencyTokenHeader, idempotencyToken)
	}
	return ctx
}

// WriteObject opens a WriteObject stream. It has the gcs.WriteObjectCallable
// signature.
func (c *Client) WriteObject(ctx context.Context) (gcs.WriteObjectStream, error) {
	stream, err := c.conn.NewStream(c.outgoing(ctx, ""), &writeObjectStreamDesc, writeObjectMethod, c.callOptions()...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[gcs.WriteObjectRequest, gcs.WriteObjectResponse]{ClientStream: stream}, nil
}

// StartResumableWrite creates a resumable upload session for the object
// described by req.
func (c *Client) StartResumableWrite(ctx context.Context, req *gcs.StartResumableWriteRequest) (*gcs.StartResumableWriteResponse, error) {
	if req.WriteObjectSpec == nil || req.WriteObjectSpec.Resource == nil {
		return nil, fmt.Errorf("StartResumableWrite: missing object resource")
	}
	name := req.WriteObjectSpec.Resource.Name
	// One token for every attempt, so that a retried call reuses the session.
	token := uuid.NewString()

	resp, err := storageutil.ExecuteWithRetry(ctx, c.config.Retrying, c.config.RetryAlgorithm, "StartResumableWrite", name,
		func(attemptCtx context.Context) (*gcs.StartResumableWriteResponse, error) {
			resp := new(gcs.StartResumableWriteResponse)
			if err := c.conn.Invoke(c.outgoing(attemptCtx, token), startResumableWriteMethod, req, resp, c.callOptions()...); err != nil {
				return nil, err
			}
			return resp, nil
		})
	if err != nil {
		return nil, gcs.GetGCSError(err)
	}
	logger.Debugf("Started resumable upload %s for %q", resp.UploadID, name)
	return resp, nil
}

// StartResumableWriteAsync starts the upload session in the background. The
// returned future resolves to the session handle at offset zero.
func (c *Client) StartResumableWriteAsync(ctx context.Context, req *gcs.StartResumableWriteRequest) *future.Future[gcs.ResumableWrite] {
	f := future.New[gcs.ResumableWrite]()
	go func() {
		resp, err := c.StartResumableWrite(ctx, req)
		if err != nil {
			f.SetErr(err)
			return
		}
		f.Set(gcs.ResumableWrite{UploadID: resp.UploadID})
	}()
	return f
}

// QueryWriteStatus returns the persisted state of an upload session.
func (c *Client) QueryWriteStatus(ctx context.Context, uploadID string) (*gcs.QueryWriteStatusResponse, error) {
	req := &gcs.QueryWriteStatusRequest{UploadID: uploadID}
	resp, err := storageutil.ExecuteWithRetry(ctx, c.config.Retrying, c.config.RetryAlgorithm, "QueryWriteStatus", uploadID,
		func(attemptCtx context.Context) (*gcs.QueryWriteStatusResponse, error) {
			resp := new(gcs.QueryWriteStatusResponse)
			if err := c.conn.Invoke(c.outgoing(attemptCtx, ""), queryWriteStatusMethod, req, resp, c.callOptions()...); err != nil {
				return nil, err
			}
			return resp, nil
		})
	if err != nil {
		return nil, gcs.GetGCSError(err)
	}
	return resp, nil
}

// ResumeWrite returns the handle of an existing upload session, positioned
// at the size the service persisted. An already finalized upload cannot be
// resumed.
func (c *Client) ResumeWrite(ctx context.Context, uploadID string) (gcs.ResumableWrite, error) {
	resp, err := c.QueryWriteStatus(ctx, uploadID)
	if err != nil {
		return gcs.ResumableWrite{}, err
	}
	if resp.Resource != nil {
		return gcs.ResumableWrite{}, &gcs.PreconditionError{
			Err: fmt.Errorf("upload %s already finalized object %q", uploadID, resp.Resource.Name),
		}
	}
	logger.Infof("Resuming upload %s at offset %d", uploadID, resp.PersistedSize)
	return gcs.ResumableWrite{UploadID: uploadID, Offset: resp.PersistedSize}, nil
}
