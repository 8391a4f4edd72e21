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
	"fmt"

	"github.com/googlecloudplatform/gcswrite/internal/checksum"
	"github.com/googlecloudplatform/gcswrite/internal/storage/gcs"
)

// Chunk is one bounded unit of payload, sent in a single WriteObjectRequest.
type Chunk struct {
	Offset int64
	Data   []byte
	// CRC32C of Data. Nil when hashing is disabled or Data is empty.
	Crc32c *uint32
	// Set only on the last chunk of the whole logical write.
	Final bool
	// CRC32C of every byte of the object. Only set alongside Final.
	ObjectCrc32c *uint32
}

// End returns the offset just past the chunk's payload.
func (c Chunk) End() int64 {
	return c.Offset + int64(len(c.Data))
}

// ChunkSegmenter cuts byte regions into chunks of at most maxChunkBytes and
// feeds them, in order, to the running object hasher.
type ChunkSegmenter struct {
	hasher        checksum.Hasher
	copier        ByteCopyStrategy
	maxChunkBytes int
	// False when the write resumes past bytes this segmenter never saw, so the
	// running digest does not cover the whole object.
	objectChecksum bool
}

// NewChunkSegmenter returns a segmenter emitting chunks no larger than
// maxChunkBytes.
func NewChunkSegmenter(hasher checksum.Hasher, copier ByteCopyStrategy, maxChunkBytes int) (*ChunkSegmenter, error) {
	if maxChunkBytes <= 0 || maxChunkBytes > gcs.MaxWriteChunkBytes {
		return nil, fmt.Errorf("invalid max chunk size %d: must be in (0, %d]", maxChunkBytes, gcs.MaxWriteChunkBytes)
	}
	if hasher == nil {
		hasher = checksum.NewNoopHasher()
	}
	return &ChunkSegmenter{
		hasher:         hasher,
		copier:         copier,
		maxChunkBytes:  maxChunkBytes,
		objectChecksum: true,
	}, nil
}

// Segment splits p, which starts at offset in the object, into chunks. When
// final is set the last chunk is marked as the end of the object; an empty p
// then yields exactly one empty terminal chunk. An empty p without final
// yields nothing.
func (s *ChunkSegmenter) Segment(p []byte, offset int64, final bool) []Chunk {
	if len(p) == 0 {
		if !final {
			return nil
		}
		c := Chunk{Offset: offset, Data: []byte{}, Final: true}
		s.finalize(&c)
		return []Chunk{c}
	}

	chunks := make([]Chunk, 0, (len(p)+s.maxChunkBytes-1)/s.maxChunkBytes)
	for len(p) > 0 {
		n := min(len(p), s.maxChunkBytes)
		data := s.copier.apply(p[:n])
		s.hasher.Update(data)
		c := Chunk{Offset: offset, Data: data}
		if crc, ok := s.hasher.Hash(data); ok {
			c.Crc32c = &crc
		}
		chunks = append(chunks, c)
		offset += int64(n)
		p = p[n:]
	}
	if final {
		s.finalize(&chunks[len(chunks)-1])
	}
	return chunks
}

func (s *ChunkSegmenter) finalize(c *Chunk) {
	c.Final = true
	if !s.objectChecksum {
		return
	}
	if crc, ok := s.hasher.Sum(); ok {
		c.ObjectCrc32c = &crc
	}
}
