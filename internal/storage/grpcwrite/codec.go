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
	"fmt"

	"github.com/googlecloudplatform/gcswrite/internal/storage/gcs"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the google.storage.v2 messages used by the write path.
const (
	// WriteObjectRequest
	fieldWriteUploadID        protowire.Number = 1
	fieldWriteObjectSpec      protowire.Number = 2
	fieldWriteOffset          protowire.Number = 3
	fieldWriteChecksummedData protowire.Number = 4
	fieldWriteObjectChecksums protowire.Number = 6
	fieldWriteFinishWrite     protowire.Number = 7

	// WriteObjectResponse, QueryWriteStatusResponse
	fieldRespPersistedSize protowire.Number = 1
	fieldRespResource      protowire.Number = 2

	// WriteObjectSpec
	fieldSpecResource          protowire.Number = 1
	fieldSpecIfGenerationMatch protowire.Number = 3
	fieldSpecObjectSize        protowire.Number = 8

	// ChecksummedData
	fieldDataContent protowire.Number = 1
	fieldDataCrc32c  protowire.Number = 2

	// ObjectChecksums
	fieldChecksumsCrc32c protowire.Number = 1
	fieldChecksumsMD5    protowire.Number = 2

	// Object
	fieldObjectName           protowire.Number = 1
	fieldObjectBucket         protowire.Number = 2
	fieldObjectGeneration     protowire.Number = 3
	fieldObjectMetageneration protowire.Number = 4
	fieldObjectSize           protowire.Number = 6
	fieldObjectContentType    protowire.Number = 13
	fieldObjectChecksums      protowire.Number = 16

	// StartResumableWriteRequest
	fieldStartSpec      protowire.Number = 1
	fieldStartChecksums protowire.Number = 5

	// StartResumableWriteResponse, QueryWriteStatusRequest
	fieldUploadID protowire.Number = 1
)

// codec encodes the gcs write messages in the protobuf wire format of the
// google.storage.v2 API.
type codec struct{}

// Name is the content-subtype the messages travel under.
func (codec) Name() string {
	return "proto"
}

func (codec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case *gcs.WriteObjectRequest:
		return appendWriteObjectRequest(nil, m), nil
	case *gcs.WriteObjectResponse:
		return appendWriteStatus(nil, m.PersistedSize, m.Resource), nil
	case *gcs.StartResumableWriteRequest:
		return appendStartResumableWriteRequest(nil, m), nil
	case *gcs.StartResumableWriteResponse:
		return appendString(nil, fieldUploadID, m.UploadID), nil
	case *gcs.QueryWriteStatusRequest:
		return appendString(nil, fieldUploadID, m.UploadID), nil
	case *gcs.QueryWriteStatusResponse:
		return appendWriteStatus(nil, m.PersistedSize, m.Resource), nil
	}
	return nil, fmt.Errorf("grpcwrite codec: cannot marshal %T", v)
}

func (codec) Unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case *gcs.WriteObjectRequest:
		return consumeWriteObjectRequest(data, m)
	case *gcs.WriteObjectResponse:
		return consumeWriteStatus(data, &m.PersistedSize, &m.Resource)
	case *gcs.StartResumableWriteRequest:
		return consumeStartResumableWriteRequest(data, m)
	case *gcs.StartResumableWriteResponse:
		return consumeUploadID(data, &m.UploadID)
	case *gcs.QueryWriteStatusRequest:
		return consumeUploadID(data, &m.UploadID)
	case *gcs.QueryWriteStatusResponse:
		return consumeWriteStatus(data, &m.PersistedSize, &m.Resource)
	}
	return fmt.Errorf("grpcwrite codec: cannot unmarshal into %T", v)
}

////////////////////////////////////////////////////////////////////////
// Encoding
////////////////////////////////////////////////////////////////////////

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendInt64(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	return appendOptionalInt64(b, num, v)
}

func appendOptionalInt64(b []byte, num protowire.Number, v int64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendOptionalFixed32(b []byte, num protowire.Number, v *uint32) []byte {
	if v == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, *v)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendWriteObjectRequest(b []byte, req *gcs.WriteObjectRequest) []byte {
	b = appendString(b, fieldWriteUploadID, req.UploadID)
	if req.WriteObjectSpec != nil {
		b = appendMessage(b, fieldWriteObjectSpec, appendWriteObjectSpec(nil, req.WriteObjectSpec))
	}
	b = appendInt64(b, fieldWriteOffset, req.WriteOffset)
	if req.ChecksummedData != nil {
		data := protowire.AppendTag(nil, fieldDataContent, protowire.BytesType)
		data = protowire.AppendBytes(data, req.ChecksummedData.Content)
		data = appendOptionalFixed32(data, fieldDataCrc32c, req.ChecksummedData.Crc32c)
		b = appendMessage(b, fieldWriteChecksummedData, data)
	}
	if req.ObjectChecksums != nil {
		b = appendMessage(b, fieldWriteObjectChecksums, appendObjectChecksums(nil, req.ObjectChecksums))
	}
	if req.FinishWrite {
		b = protowire.AppendTag(b, fieldWriteFinishWrite, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	return b
}

func appendWriteObjectSpec(b []byte, spec *gcs.WriteObjectSpec) []byte {
	if spec.Resource != nil {
		b = appendMessage(b, fieldSpecResource, appendObject(nil, spec.Resource))
	}
	if spec.IfGenerationMatch != nil {
		b = appendOptionalInt64(b, fieldSpecIfGenerationMatch, *spec.IfGenerationMatch)
	}
	if spec.ObjectSize != nil {
		b = appendOptionalInt64(b, fieldSpecObjectSize, *spec.ObjectSize)
	}
	return b
}

func appendObjectChecksums(b []byte, c *gcs.ObjectChecksums) []byte {
	b = appendOptionalFixed32(b, fieldChecksumsCrc32c, c.Crc32c)
	if len(c.MD5Hash) > 0 {
		b = protowire.AppendTag(b, fieldChecksumsMD5, protowire.BytesType)
		b = protowire.AppendBytes(b, c.MD5Hash)
	}
	return b
}

func appendObject(b []byte, o *gcs.Object) []byte {
	b = appendString(b, fieldObjectName, o.Name)
	b = appendString(b, fieldObjectBucket, BucketResourceName(o.Bucket))
	b = appendInt64(b, fieldObjectGeneration, o.Generation)
	b = appendInt64(b, fieldObjectMetageneration, o.MetaGeneration)
	b = appendInt64(b, fieldObjectSize, o.Size)
	b = appendString(b, fieldObjectContentType, o.ContentType)
	if o.Checksums != nil {
		b = appendMessage(b, fieldObjectChecksums, appendObjectChecksums(nil, o.Checksums))
	}
	return b
}

func appendWriteStatus(b []byte, persistedSize int64, resource *gcs.Object) []byte {
	if resource != nil {
		return appendMessage(b, fieldRespResource, appendObject(nil, resource))
	}
	// persisted_size is one arm of a oneof and is written even when zero.
	return appendOptionalInt64(b, fieldRespPersistedSize, persistedSize)
}

func appendStartResumableWriteRequest(b []byte, req *gcs.StartResumableWriteRequest) []byte {
	if req.WriteObjectSpec != nil {
		b = appendMessage(b, fieldStartSpec, appendWriteObjectSpec(nil, req.WriteObjectSpec))
	}
	if req.ObjectChecksums != nil {
		b = appendMessage(b, fieldStartChecksums, appendObjectChecksums(nil, req.ObjectChecksums))
	}
	return b
}

////////////////////////////////////////////////////////////////////////
// Decoding
////////////////////////////////////////////////////////////////////////

// consumeFields calls fn for every field of the message in b. fn returns the
// number of bytes of the value it consumed, or 0 to skip the field.
func consumeFields(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		used, err := fn(num, typ, b)
		if err != nil {
			return fmt.Errorf("field %d: %w", num, err)
		}
		if used == 0 {
			used = protowire.ConsumeFieldValue(num, typ, b)
		}
		if used < 0 {
			return fmt.Errorf("field %d: %w", num, protowire.ParseError(used))
		}
		b = b[used:]
	}
	return nil
}

func consumeVarint(b []byte) (uint64, int, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, n, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeBytes(b []byte) ([]byte, int, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, n, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeFixed32(b []byte) (*uint32, int, error) {
	v, n := protowire.ConsumeFixed32(b)
	if n < 0 {
		return nil, n, protowire.ParseError(n)
	}
	return &v, n, nil
}

func consumeWriteObjectRequest(data []byte, req *gcs.WriteObjectRequest) error {
	return consumeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldWriteUploadID && typ == protowire.BytesType:
			v, n, err := consumeBytes(b)
			req.UploadID = string(v)
			return n, err
		case num == fieldWriteObjectSpec && typ == protowire.BytesType:
			v, n, err := consumeBytes(b)
			if err != nil {
				return n, err
			}
			req.WriteObjectSpec = &gcs.WriteObjectSpec{}
			return n, consumeWriteObjectSpec(v, req.WriteObjectSpec)
		case num == fieldWriteOffset && typ == protowire.VarintType:
			v, n, err := consumeVarint(b)
			req.WriteOffset = int64(v)
			return n, err
		case num == fieldWriteChecksummedData && typ == protowire.BytesType:
			v, n, err := consumeBytes(b)
			if err != nil {
				return n, err
			}
			req.ChecksummedData = &gcs.ChecksummedData{}
			return n, consumeChecksummedData(v, req.ChecksummedData)
		case num == fieldWriteObjectChecksums && typ == protowire.BytesType:
			v, n, err := consumeBytes(b)
			if err != nil {
				return n, err
			}
			req.ObjectChecksums = &gcs.ObjectChecksums{}
			return n, consumeObjectChecksums(v, req.ObjectChecksums)
		case num == fieldWriteFinishWrite && typ == protowire.VarintType:
			v, n, err := consumeVarint(b)
			req.FinishWrite = protowire.DecodeBool(v)
			return n, err
		}
		return 0, nil
	})
}

func consumeWriteObjectSpec(data []byte, spec *gcs.WriteObjectSpec) error {
	return consumeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldSpecResource && typ == protowire.BytesType:
			v, n, err := consumeBytes(b)
			if err != nil {
				return n, err
			}
			spec.Resource = &gcs.Object{}
			return n, consumeObject(v, spec.Resource)
		case num == fieldSpecIfGenerationMatch && typ == protowire.VarintType:
			v, n, err := consumeVarint(b)
			gen := int64(v)
			spec.IfGenerationMatch = &gen
			return n, err
		case num == fieldSpecObjectSize && typ == protowire.VarintType:
			v, n, err := consumeVarint(b)
			size := int64(v)
			spec.ObjectSize = &size
			return n, err
		}
		return 0, nil
	})
}

func consumeChecksummedData(data []byte, cd *gcs.ChecksummedData) error {
	cd.Content = []byte{}
	return consumeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldDataContent && typ == protowire.BytesType:
			v, n, err := consumeBytes(b)
			// The receive buffer may be reused by the transport.
			cd.Content = append([]byte(nil), v...)
			return n, err
		case num == fieldDataCrc32c && typ == protowire.Fixed32Type:
			v, n, err := consumeFixed32(b)
			cd.Crc32c = v
			return n, err
		}
		return 0, nil
	})
}

func consumeObjectChecksums(data []byte, c *gcs.ObjectChecksums) error {
	return consumeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldChecksumsCrc32c && typ == protowire.Fixed32Type:
			v, n, err := consumeFixed32(b)
			c.Crc32c = v
			return n, err
		case num == fieldChecksumsMD5 && typ == protowire.BytesType:
			v, n, err := consumeBytes(b)
			c.MD5Hash = append([]byte(nil), v...)
			return n, err
		}
		return 0, nil
	})
}

func consumeObject(data []byte, o *gcs.Object) error {
	return consumeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldObjectName && typ == protowire.BytesType:
			v, n, err := consumeBytes(b)
			o.Name = string(v)
			return n, err
		case num == fieldObjectBucket && typ == protowire.BytesType:
			v, n, err := consumeBytes(b)
			o.Bucket = string(v)
			return n, err
		case num == fieldObjectGeneration && typ == protowire.VarintType:
			v, n, err := consumeVarint(b)
			o.Generation = int64(v)
			return n, err
		case num == fieldObjectMetageneration && typ == protowire.VarintType:
			v, n, err := consumeVarint(b)
			o.MetaGeneration = int64(v)
			return n, err
		case num == fieldObjectSize && typ == protowire.VarintType:
			v, n, err := consumeVarint(b)
			o.Size = int64(v)
			return n, err
		case num == fieldObjectContentType && typ == protowire.BytesType:
			v, n, err := consumeBytes(b)
			o.ContentType = string(v)
			return n, err
		case num == fieldObjectChecksums && typ == protowire.BytesType:
			v, n, err := consumeBytes(b)
			if err != nil {
				return n, err
			}
			o.Checksums = &gcs.ObjectChecksums{}
			return n, consumeObjectChecksums(v, o.Checksums)
		}
		return 0, nil
	})
}

func consumeWriteStatus(data []byte, persistedSize *int64, resource **gcs.Object) error {
	return consumeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldRespPersistedSize && typ == protowire.VarintType:
			v, n, err := consumeVarint(b)
			*persistedSize = int64(v)
			return n, err
		case num == fieldRespResource && typ == protowire.BytesType:
			v, n, err := consumeBytes(b)
			if err != nil {
				return n, err
			}
			*resource = &gcs.Object{}
			return n, consumeObject(v, *resource)
		}
		return 0, nil
	})
}

func consumeStartResumableWriteRequest(data []byte, req *gcs.StartResumableWriteRequest) error {
	return consumeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldStartSpec && typ == protowire.BytesType:
			v, n, err := consumeBytes(b)
			if err != nil {
				return n, err
			}
			req.WriteObjectSpec = &gcs.WriteObjectSpec{}
			return n, consumeWriteObjectSpec(v, req.WriteObjectSpec)
		case num == fieldStartChecksums && typ == protowire.BytesType:
			v, n, err := consumeBytes(b)
			if err != nil {
				return n, err
			}
			req.ObjectChecksums = &gcs.ObjectChecksums{}
			return n, consumeObjectChecksums(v, req.ObjectChecksums)
		}
		return 0, nil
	})
}

func consumeUploadID(data []byte, id *string) error {
	return consumeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == fieldUploadID && typ == protowire.BytesType {
			v, n, err := consumeBytes(b)
			*id = string(v)
			return n, err
		}
		return 0, nil
	})
}
