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

// Package bitfield tracks which pieces of a torrent are held, in both an
// in-memory queryable form and the wire-protocol byte encoding exchanged in
// a BitTorrent Bitfield/Have message.
package bitfield

import (
	"fmt"

	"github.com/willf/bitset"
)

// BitField tracks piece possession for a torrent of a known piece count.
// It is backed by a willf/bitset.BitSet for storage and set queries, with
// ToBytes/FromBytes implementing the MSB-first wire encoding that a
// bitset.BitSet's own (un)marshaling does not produce.
type BitField struct {
	set  *bitset.BitSet
	size int
}

// New creates a BitField of the given size with no bits set.
func New(size int) *BitField {
	return &BitField{set: bitset.New(uint(size)), size: size}
}

// FromBytes decodes a BitField from the raw wire bytes of a Bitfield
// message: one bit per piece, MSB-first within each byte, padded with zero
// bits up to a byte boundary.
func FromBytes(b []byte, size int) (*BitField, error) {
	if len(b) != numBytes(size) {
		return nil, fmt.Errorf(
			"bitfield: expected %d bytes for %d pieces, got %d", numBytes(size), size, len(b))
	}
	bf := New(size)
	for i := 0; i < size; i++ {
		byteIdx := i / 8
		bitIdx := uint(7 - i%8)
		if b[byteIdx]&(1<<bitIdx) != 0 {
			bf.set.Set(uint(i))
		}
	}
	// Any padding bits in the final byte beyond size must be zero.
	for i := size; i < numBytes(size)*8; i++ {
		byteIdx := i / 8
		bitIdx := uint(7 - i%8)
		if b[byteIdx]&(1<<bitIdx) != 0 {
			return nil, fmt.Errorf("bitfield: non-zero padding bit at position %d", i)
		}
	}
	return bf, nil
}

func numBytes(size int) int {
	return (size + 7) / 8
}

// Size returns the number of pieces this BitField tracks.
func (bf *BitField) Size() int {
	return bf.size
}

// Set marks piece i as held.
func (bf *BitField) Set(i int) {
	bf.set.Set(uint(i))
}

// Clear marks piece i as not held.
func (bf *BitField) Clear(i int) {
	bf.set.Clear(uint(i))
}

// Has reports whether piece i is held.
func (bf *BitField) Has(i int) bool {
	return bf.set.Test(uint(i))
}

// Count returns the number of held pieces.
func (bf *BitField) Count() int {
	return int(bf.set.Count())
}

// Complete reports whether every piece is held.
func (bf *BitField) Complete() bool {
	return bf.Count() == bf.size
}

// ToBytes encodes bf in the MSB-first wire format of a Bitfield message.
func (bf *BitField) ToBytes() []byte {
	b := make([]byte, numBytes(bf.size))
	for i := 0; i < bf.size; i++ {
		if bf.Has(i) {
			byteIdx := i / 8
			bitIdx := uint(7 - i%8)
			b[byteIdx] |= 1 << bitIdx
		}
	}
	return b
}

// Clone returns an independent copy of bf.
func (bf *BitField) Clone() *BitField {
	c := New(bf.size)
	for i := 0; i < bf.size; i++ {
		if bf.Has(i) {
			c.set.Set(uint(i))
		}
	}
	return c
}
