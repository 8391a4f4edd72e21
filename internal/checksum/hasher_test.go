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

package checksum

import (
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCrc32cHasher_KnownValue(t *testing.T) {
	h := NewCrc32cHasher()

	h.Update([]byte("123456789"))

	sum, ok := h.Sum()
	assert.True(t, ok)
	// Check value of CRC-32C from RFC 3720.
	assert.Equal(t, uint32(0xe3069283), sum)
}

func TestCrc32cHasher_IncrementalEqualsOneShot(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	h := NewCrc32cHasher()

	h.Update(data[:7])
	h.Update(data[7:20])
	h.Update(data[20:])

	sum, ok := h.Sum()
	assert.True(t, ok)
	assert.Equal(t, crc32.Checksum(data, crc32.MakeTable(crc32.Castagnoli)), sum)
}

func TestCrc32cHasher_HashDoesNotTouchRunningDigest(t *testing.T) {
	h := NewCrc32cHasher()
	h.Update([]byte("abc"))
	before, _ := h.Sum()

	chunkSum, ok := h.Hash([]byte("xyz"))

	assert.True(t, ok)
	assert.Equal(t, crc32.Checksum([]byte("xyz"), crc32cTable), chunkSum)
	after, _ := h.Sum()
	assert.Equal(t, before, after)
}

func TestCrc32cHasher_EmptyInput(t *testing.T) {
	h := NewCrc32cHasher()

	sum, ok := h.Sum()

	assert.True(t, ok)
	assert.Equal(t, uint32(0), sum)
	assert.True(t, h.Enabled())
}

func TestNoopHasher(t *testing.T) {
	h := NewNoopHasher()
	h.Update([]byte("ignored"))

	sum, ok := h.Sum()
	chunkSum, chunkOk := h.Hash([]byte("ignored"))

	assert.False(t, ok)
	assert.Zero(t, sum)
	assert.False(t, chunkOk)
	assert.Zero(t, chunkSum)
	assert.False(t, h.Enabled())
}

func TestFactoriesReturnFreshHashers(t *testing.T) {
	f := Crc32c()
	a := f()
	b := f()

	a.Update([]byte("a"))

	sumB, _ := b.Sum()
	assert.Zero(t, sumB)
	assert.False(t, Noop()().Enabled())
}
