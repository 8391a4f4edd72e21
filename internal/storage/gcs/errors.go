// Copyright 2023 Google LLC
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
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// A *NotFoundError value is an error that indicates an object, bucket or
// upload session was not found.
type NotFoundError struct {
	Err error
}

func (nfe *NotFoundError) Error() string {
	return fmt.Sprintf("gcs.NotFoundError: %v", nfe.Err)
}

func (nfe *NotFoundError) Unwrap() error {
	return nfe.Err
}

// A *PreconditionError value is an error that indicates a precondition failed.
type PreconditionError struct {
	Err error
}

// Returns pe.Err.Error().
func (pe *PreconditionError) Error() string {
	return fmt.Sprintf("gcs.PreconditionError: %v", pe.Err)
}

func (pe *PreconditionError) Unwrap() error {
	return pe.Err
}

// A *DataLossError is returned when the service rejected the uploaded bytes
// because a checksum did not match.
type DataLossError struct {
	Err error
}

func (dle *DataLossError) Error() string {
	return fmt.Sprintf("gcs.DataLossError: %v", dle.Err)
}

func (dle *DataLossError) Unwrap() error {
	return dle.Err
}

// An *IncompleteWriteError is returned when a flush was acknowledged but the
// service persisted fewer bytes than were sent. Re-sending the same requests
// completes it.
type IncompleteWriteError struct {
	Persisted int64
	Expected  int64
}

func (iwe *IncompleteWriteError) Error() string {
	return fmt.Sprintf("gcs.IncompleteWriteError: persisted %d of %d bytes", iwe.Persisted, iwe.Expected)
}

// A *SizeMismatchError is returned when the finalized object does not have
// the size the writer sent.
type SizeMismatchError struct {
	Object   string
	Size     int64
	Expected int64
}

func (sme *SizeMismatchError) Error() string {
	return fmt.Sprintf("gcs.SizeMismatchError: object %q finalized with %d bytes, sent %d", sme.Object, sme.Size, sme.Expected)
}

// GetGCSError converts an error returned by the transport into a gcswrite
// specific common gcs error.
func GetGCSError(err error) error {
	if err == nil {
		return nil
	}

	// Http client error.
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		switch gErr.Code {
		case http.StatusNotFound:
			return &NotFoundError{Err: err}
		case http.StatusPreconditionFailed:
			return &PreconditionError{Err: err}
		}
	}

	// RPC error.
	if rpcErr, ok := status.FromError(err); ok {
		switch rpcErr.Code() {
		case codes.NotFound:
			return &NotFoundError{Err: err}
		case codes.FailedPrecondition:
			return &PreconditionError{Err: err}
		case codes.DataLoss:
			return &DataLossError{Err: err}
		}
	}

	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return &NotFoundError{Err: err}
	}

	return err
}
