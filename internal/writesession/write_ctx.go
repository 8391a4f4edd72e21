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

package writesession

import (
	"github.com/googlecloudplatform/gcswrite/internal/storage/gcs"
)

// writeCtx tracks the progress of one logical write and turns chunks into
// protocol requests.
type writeCtx struct {
	// Fields copied onto the first request of every flush: the upload id of a
	// resumable upload, or the object spec of a direct one.
	firstMessage *gcs.WriteObjectRequest

	// Bytes handed to the transport so far, starting at the resume offset.
	totalSentBytes int64
	// Bytes the service acknowledged as persisted.
	persistedSize int64
}

func newWriteCtx(firstMessage *gcs.WriteObjectRequest, startOffset int64) *writeCtx {
	return &writeCtx{
		firstMessage:   firstMessage,
		totalSentBytes: startOffset,
		persistedSize:  startOffset,
	}
}

func (w *writeCtx) requests(chunks []Chunk) []*gcs.WriteObjectRequest {
	reqs := make([]*gcs.WriteObjectRequest, 0, len(chunks))
	for i, c := range chunks {
		req := &gcs.WriteObjectRequest{
			WriteOffset: c.Offset,
			FinishWrite: c.Final,
		}
		if i == 0 {
			req.UploadID = w.firstMessage.UploadID
			req.WriteObjectSpec = w.firstMessage.WriteObjectSpec
		}
		if len(c.Data) > 0 || c.Final {
			req.ChecksummedData = &gcs.ChecksummedData{Content: c.Data, Crc32c: c.Crc32c}
		}
		if c.Final {
			req.ObjectChecksums = w.objectChecksums(c.ObjectCrc32c)
		}
		reqs = append(reqs, req)
	}
	return reqs
}

// objectChecksums merges the computed CRC32C with any checksums the caller
// supplied up front. Caller supplied values win.
func (w *writeCtx) objectChecksums(crc *uint32) *gcs.ObjectChecksums {
	supplied := w.firstMessage.ObjectChecksums
	if supplied == nil && crc == nil {
		return nil
	}
	out := &gcs.ObjectChecksums{Crc32c: crc}
	if supplied != nil {
		out.MD5Hash = supplied.MD5Hash
		if supplied.Crc32c != nil {
			out.Crc32c = supplied.Crc32c
		}
	}
	return out
}

// observe records the service's view of the upload from a flush response.
func (w *writeCtx) observe(resp *gcs.WriteObjectResponse) {
	if resp == nil {
		return
	}
	if resp.Resource != nil {
		w.persistedSize = resp.Resource.Size
		return
	}
	w.persistedSize = max(w.persistedSize, resp.PersistedSize)
}
