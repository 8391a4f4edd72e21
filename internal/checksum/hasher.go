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

// Package checksum provides the CRC32C accumulators used to checksum upload
// payloads.
package checksum

import (
	"hash/crc32"
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// Hasher accumulates a checksum over the bytes of one logical write.
//
// Update must be called with the bytes in the order they are handed to the
// transport. A Hasher is not safe for concurrent use.
type Hasher interface {
	// Update folds p into the running digest.
	Update(p []byte)

	// Hash returns the checksum of p alone, leaving the running digest
	// untouched. The bool is false if hashing is disabled.
	Hash(p []byte) (uint32, bool)

	// Sum returns the digest of every byte passed to Update so far. The bool
	// is false if hashing is disabled.
	Sum() (uint32, bool)

	// Enabled reports whether this hasher produces checksums.
	Enabled() bool
}

type crc32cHasher struct {
	crc uint32
}

// NewCrc32cHasher returns a Hasher computing CRC32C (Castagnoli).
func NewCrc32cHasher() Hasher {
	return &crc32cHasher{}
}

func (h *crc32cHasher) Update(p []byte) {
	h.crc = crc32.Update(h.crc, crc32cTable, p)
}

func (h *crc32cHasher) Hash(p []byte) (uint32, bool) {
	return crc32.Checksum(p, crc32cTable), true
}

func (h *crc32cHasher) Sum() (uint32, bool) {
	return h.crc, true
}

func (h *crc32cHasher) Enabled() bool {
	return true
}

type noopHasher struct{}

// NewNoopHasher returns a Hasher that never computes anything.
func NewNoopHasher() Hasher {
	return noopHasher{}
}

func (noopHasher) Update([]byte) {}

func (noopHasher) Hash([]byte) (uint32, bool) {
	return 0, false
}

func (noopHasher) Sum() (uint32, bool) {
	return 0, false
}

func (noopHasher) Enabled() bool {
	return false
}

// Factory builds a fresh Hasher for each channel.
type Factory func() Hasher

// Crc32c is the Factory for NewCrc32cHasher.
func Crc32c() Factory {
	return NewCrc32cHasher
}

// Noop is the Factory for NewNoopHasher.
func Noop() Factory {
	return NewNoopHasher
}
