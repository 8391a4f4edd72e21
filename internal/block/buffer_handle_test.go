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

package block

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type BufferHandleTest struct {
	suite.Suite
}

func TestBufferHandleTestSuite(t *testing.T) {
	suite.Run(t, new(BufferHandleTest))
}

func (t *BufferHandleTest) TestAllocate() {
	b, err := Allocate(16)

	require.NoError(t.T(), err)
	assert.Equal(t.T(), 16, b.Cap())
	assert.Equal(t.T(), 0, b.Len())
	assert.Equal(t.T(), 16, b.Remaining())
	assert.False(t.T(), b.IsFull())
}

func (t *BufferHandleTest) TestAllocateInvalidCapacity() {
	_, err := Allocate(0)

	assert.Error(t.T(), err)
}

func (t *BufferHandleTest) TestHandleOfUsesCapacity() {
	buf := make([]byte, 3, 8)

	b, err := HandleOf(buf)

	require.NoError(t.T(), err)
	assert.Equal(t.T(), 8, b.Cap())
	assert.Equal(t.T(), 0, b.Len())
}

func (t *BufferHandleTest) TestHandleOfEmptySlice() {
	_, err := HandleOf(nil)

	assert.Error(t.T(), err)
}

func (t *BufferHandleTest) TestPutNeverOverflows() {
	b, err := Allocate(5)
	require.NoError(t.T(), err)

	n, err := b.Put([]byte("abc"))
	require.NoError(t.T(), err)
	assert.Equal(t.T(), 3, n)

	n, err = b.Put([]byte("defgh"))
	require.NoError(t.T(), err)
	assert.Equal(t.T(), 2, n)
	assert.True(t.T(), b.IsFull())

	n, err = b.Put([]byte("x"))
	require.NoError(t.T(), err)
	assert.Equal(t.T(), 0, n)
	assert.Equal(t.T(), []byte("abcde"), b.Drain())
}

func (t *BufferHandleTest) TestPutAfterDrainWithoutReset() {
	b, err := Allocate(5)
	require.NoError(t.T(), err)
	_, err = b.Put([]byte("ab"))
	require.NoError(t.T(), err)
	b.Drain()

	n, err := b.Put([]byte("c"))

	assert.ErrorIs(t.T(), err, ErrBufferDrained)
	assert.Equal(t.T(), 0, n)
}

func (t *BufferHandleTest) TestResetAllowsReuse() {
	b, err := Allocate(4)
	require.NoError(t.T(), err)
	_, err = b.Put([]byte("abcd"))
	require.NoError(t.T(), err)
	assert.Equal(t.T(), []byte("abcd"), b.Drain())

	b.Reset()
	n, err := b.Put([]byte("xy"))

	require.NoError(t.T(), err)
	assert.Equal(t.T(), 2, n)
	assert.Equal(t.T(), 2, b.Len())
	assert.Equal(t.T(), []byte("xy"), b.Drain())
}

func (t *BufferHandleTest) TestDrainedViewCannotGrowIntoBuffer() {
	b, err := Allocate(4)
	require.NoError(t.T(), err)
	_, err = b.Put([]byte("ab"))
	require.NoError(t.T(), err)

	view := b.Drain()

	assert.Equal(t.T(), 2, cap(view))
}
