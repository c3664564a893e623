// Copyright (c) 2016-2019 Uber Technologies, Inc.
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
package piece

import (
	"bytes"
	"testing"

	"github.com/kraken-labs/bitweave/core"
	"github.com/stretchr/testify/require"
)

func TestPieceVerifySucceedsOnMatchingHash(t *testing.T) {
	require := require.New(t)

	a := bytes.Repeat([]byte{0xAA}, BlockSize)
	b := bytes.Repeat([]byte{0xBB}, BlockSize)
	full := append(append([]byte{}, a...), b...)
	expected := core.HashBytes(full)

	p := New(0, expected, int64(len(full)))
	require.NoError(p.AddBlock(Block{Index: 0, Begin: 0, Data: a}))
	require.False(p.Verified())
	require.NoError(p.AddBlock(Block{Index: 0, Begin: BlockSize, Data: b}))
	require.True(p.IsComplete())

	data, err := p.Verify()
	require.NoError(err)
	require.Equal(full, data)
	require.True(p.Verified())
	require.Equal(full, p.Data())
}

func TestPieceVerifyFailsOnMismatchedHash(t *testing.T) {
	require := require.New(t)

	data := bytes.Repeat([]byte{0x01}, BlockSize)
	p := New(0, core.Sha1HashFixture(), int64(len(data)))
	require.NoError(p.AddBlock(Block{Index: 0, Begin: 0, Data: data}))

	_, err := p.Verify()
	require.ErrorIs(err, ErrInvalidHash)
	require.False(p.Verified())

	// Blocks are cleared, so the piece is reusable: with none re-added it
	// is incomplete again.
	require.False(p.IsComplete())
}

func TestPieceVerifyFailsWhenIncomplete(t *testing.T) {
	require := require.New(t)

	p := New(0, core.Sha1HashFixture(), BlockSize*2)
	require.NoError(p.AddBlock(Block{Index: 0, Begin: 0, Data: make([]byte, BlockSize)}))
	require.False(p.IsComplete())

	_, err := p.Verify()
	require.ErrorIs(err, ErrIncompleteBlocks)
}

func TestPieceAddBlockFailsOnceVerified(t *testing.T) {
	require := require.New(t)

	data := make([]byte, BlockSize)
	expected := core.HashBytes(data)
	p := New(0, expected, BlockSize)
	require.NoError(p.AddBlock(Block{Index: 0, Begin: 0, Data: data}))
	_, err := p.Verify()
	require.NoError(err)

	err = p.AddBlock(Block{Index: 0, Begin: 0, Data: data})
	require.ErrorIs(err, ErrInvalidBlock)
}

func TestPieceOverlappingBlocksOverwrite(t *testing.T) {
	require := require.New(t)

	final := bytes.Repeat([]byte{0xCC}, BlockSize)
	expected := core.HashBytes(final)

	p := New(0, expected, BlockSize)
	// Stale data first, then the real data at the same offset.
	require.NoError(p.AddBlock(Block{Index: 0, Begin: 0, Data: bytes.Repeat([]byte{0x00}, BlockSize)}))
	require.NoError(p.AddBlock(Block{Index: 0, Begin: 0, Data: final}))

	data, err := p.Verify()
	require.NoError(err)
	require.Equal(final, data)
}

func TestPieceResetClearsUnverifiedBlocks(t *testing.T) {
	require := require.New(t)

	p := New(0, core.Sha1HashFixture(), BlockSize)
	require.NoError(p.AddBlock(Block{Index: 0, Begin: 0, Data: make([]byte, BlockSize)}))
	require.True(p.IsComplete())

	p.Reset()
	require.False(p.IsComplete())
}
