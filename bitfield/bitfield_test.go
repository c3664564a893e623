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
package bitfield

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetHasClear(t *testing.T) {
	require := require.New(t)

	bf := New(10)
	require.False(bf.Has(3))
	bf.Set(3)
	require.True(bf.Has(3))
	bf.Clear(3)
	require.False(bf.Has(3))
}

func TestCountAndComplete(t *testing.T) {
	require := require.New(t)

	bf := New(4)
	require.False(bf.Complete())
	for i := 0; i < 4; i++ {
		bf.Set(i)
	}
	require.Equal(4, bf.Count())
	require.True(bf.Complete())
}

func TestToBytesMSBFirst(t *testing.T) {
	require := require.New(t)

	bf := New(9)
	bf.Set(0)
	bf.Set(8)
	b := bf.ToBytes()
	require.Len(b, 2)
	require.Equal(byte(0x80), b[0])
	require.Equal(byte(0x80), b[1])
}

func TestFromBytesRoundTrip(t *testing.T) {
	require := require.New(t)

	bf := New(20)
	bf.Set(0)
	bf.Set(5)
	bf.Set(19)

	b := bf.ToBytes()
	parsed, err := FromBytes(b, 20)
	require.NoError(err)
	for i := 0; i < 20; i++ {
		require.Equal(bf.Has(i), parsed.Has(i), "bit %d", i)
	}
}

func TestFromBytesWrongLength(t *testing.T) {
	require := require.New(t)

	_, err := FromBytes(make([]byte, 1), 20)
	require.Error(err)
}

func TestFromBytesNonZeroPadding(t *testing.T) {
	require := require.New(t)

	// size 9 requires 2 bytes; bit 15 (last bit of second byte) is padding
	// and must be zero.
	b := []byte{0x00, 0x01}
	_, err := FromBytes(b, 9)
	require.Error(err)
}

func TestCloneIsIndependent(t *testing.T) {
	require := require.New(t)

	bf := New(4)
	bf.Set(1)
	c := bf.Clone()
	c.Set(2)
	require.False(bf.Has(2))
	require.True(c.Has(1))
}
