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

// Package piece assembles a torrent piece from its constituent blocks and
// verifies the assembled buffer against the expected SHA-1 digest.
package piece

import (
	"errors"
	"fmt"

	"github.com/kraken-labs/bitweave/core"
)

// BlockSize is the standard size of a requested block, per the wire
// protocol convention. The last block of the last piece may be shorter.
const BlockSize = 16384

// Piece errors.
var (
	ErrInvalidBlock     = errors.New("piece: cannot add block to a verified piece")
	ErrIncompleteBlocks = errors.New("piece: not enough blocks received to verify")
	ErrInvalidHash      = errors.New("piece: assembled buffer does not match expected hash")
)

// Block is a fragment of a piece, as carried by a Piece wire message.
type Block struct {
	Index int
	Begin int
	Data  []byte
}

// Piece accumulates Blocks for a single piece index until every byte of the
// piece has been received, then verifies the assembled buffer against the
// expected hash. A Piece starts Unverified and transitions to Verified
// exactly once, on a successful Verify.
type Piece struct {
	Index    int
	Expected core.Sha1Hash
	Length   int64

	verified bool
	data     []byte // Only meaningful once verified.
	blocks   []Block
	received int64
}

// New creates an Unverified Piece for the given index, expected hash, and
// expected length (accounting for a possibly-short final piece).
func New(index int, expected core.Sha1Hash, length int64) *Piece {
	return &Piece{Index: index, Expected: expected, Length: length}
}

// Verified reports whether p has already been verified.
func (p *Piece) Verified() bool {
	return p.verified
}

// Data returns the verified piece buffer. Panics if p is not verified.
func (p *Piece) Data() []byte {
	if !p.verified {
		panic("piece: Data called on unverified piece")
	}
	return p.data
}

// AddBlock appends b to p's accumulated blocks. Fails with ErrInvalidBlock
// if p is already Verified.
func (p *Piece) AddBlock(b Block) error {
	if p.verified {
		return ErrInvalidBlock
	}
	p.blocks = append(p.blocks, b)
	p.received += int64(len(b.Data))
	return nil
}

// IsComplete reports whether enough block bytes have been received to
// attempt verification. Received bytes may exceed Length in the presence of
// duplicate/overlapping blocks, so completeness is received >= Length rather
// than an exact match.
func (p *Piece) IsComplete() bool {
	return p.received >= p.Length
}

// Verify assembles the received blocks into a Length-byte buffer (blocks
// are written at their Begin offset; overlaps overwrite), hashes it, and
// compares against Expected. On success, p transitions to Verified and the
// assembled buffer is returned. On failure, p is left Unverified and its
// accumulated blocks are cleared so the caller's picker can re-issue them.
func (p *Piece) Verify() ([]byte, error) {
	if !p.IsComplete() {
		return nil, ErrIncompleteBlocks
	}

	buf := make([]byte, p.Length)
	for _, b := range p.blocks {
		end := b.Begin + len(b.Data)
		if int64(end) > p.Length {
			p.blocks = nil
			p.received = 0
			return nil, fmt.Errorf("piece: block at begin=%d length=%d exceeds piece length %d",
				b.Begin, len(b.Data), p.Length)
		}
		copy(buf[b.Begin:end], b.Data)
	}

	if h := core.HashBytes(buf); h != p.Expected {
		p.blocks = nil
		p.received = 0
		return nil, ErrInvalidHash
	}

	p.verified = true
	p.data = buf
	p.blocks = nil
	return buf, nil
}

// Reset discards any accumulated blocks, returning p to a clean Unverified
// state. A verified piece is left unchanged.
func (p *Piece) Reset() {
	if p.verified {
		return
	}
	p.blocks = nil
	p.received = 0
}
