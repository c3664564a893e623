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

// Package picker selects the next block to request from a given peer,
// tracking per-block request state so in-flight requests are not
// needlessly duplicated, while bounded so a stalled peer's reservation is
// eventually re-offered to someone else.
package picker

import (
	"sort"
	"time"

	"github.com/andres-erbsen/clock"

	"github.com/kraken-labs/bitweave/bitfield"
	"github.com/kraken-labs/bitweave/core"
	"github.com/kraken-labs/bitweave/piece"
)

// State is the lifecycle of a single not-yet-completed block.
type State int

// Block states.
const (
	NotRequested State = iota
	Requested
	Received
)

// Config defines Picker configuration.
type Config struct {

	// RequestTimeout bounds how long a Requested block may go un-received
	// before it becomes eligible to be picked again, possibly for a
	// different peer.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

func (c Config) applyDefaults() Config {
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 10 * time.Second
	}
	return c
}

// BlockInfo is the picker's bookkeeping record for a single block: its
// identity within the torrent and its current request State.
type BlockInfo struct {
	PieceIndex int
	Begin      int
	Length     int

	State       State
	RequestedBy core.PeerID
	requestedAt time.Time
}

// Picker enumerates every block of every not-yet-owned piece at
// construction time and hands them out to callers one at a time, in
// piece-index-then-offset order, per peer bitfield availability.
//
// Not thread-safe: callers are expected to guard Picker behind the same
// short-held lock the torrent aggregate uses for pieces and the owned
// bitfield (see the concurrency model in the package-level design notes).
type Picker struct {
	config Config
	clk    clock.Clock
	owned  *bitfield.BitField

	// blocks is indexed by piece index and holds every BlockInfo for that
	// piece in ascending Begin order. A piece disappears from this map once
	// every one of its blocks has been Received.
	blocks map[int][]*BlockInfo

	// order lists piece indices in ascending order, so iteration is
	// deterministic without re-sorting map keys on every pick.
	order []int
}

// New constructs a Picker for a torrent with the given owned bitfield (one
// bit per piece, already reflecting any pieces held at startup), totalBytes
// (sum of all file lengths), and pieceLength (the nominal, non-final, piece
// size). BLOCK_SIZE-stride blocks are enumerated for every piece not
// already set in owned; the final block of the final piece may be shorter
// than piece.BlockSize to match totalBytes exactly.
func New(config Config, clk clock.Clock, owned *bitfield.BitField, totalBytes, pieceLength int64) *Picker {
	config = config.applyDefaults()

	p := &Picker{
		config: config,
		clk:    clk,
		owned:  owned,
		blocks: make(map[int][]*BlockInfo),
	}

	numPieces := owned.Size()
	for i := 0; i < numPieces; i++ {
		if owned.Has(i) {
			continue
		}
		length := pieceLengthAt(i, numPieces, totalBytes, pieceLength)
		p.blocks[i] = blocksForPiece(i, length)
		p.order = append(p.order, i)
	}

	return p
}

func pieceLengthAt(i, numPieces int, totalBytes, pieceLength int64) int64 {
	if i < numPieces-1 {
		return pieceLength
	}
	last := totalBytes - int64(i)*pieceLength
	if last <= 0 {
		return pieceLength
	}
	return last
}

func blocksForPiece(index int, length int64) []*BlockInfo {
	var blocks []*BlockInfo
	var begin int64
	for begin < length {
		n := length - begin
		if n > piece.BlockSize {
			n = piece.BlockSize
		}
		blocks = append(blocks, &BlockInfo{
			PieceIndex: index,
			Begin:      int(begin),
			Length:     int(n),
			State:      NotRequested,
		})
		begin += n
	}
	return blocks
}

// PickBlock returns the first NotRequested block held by peerBitfield or,
// if there is none, the first Requested block that has exceeded
// Config.RequestTimeout without being Received. Iteration is in piece-index-ascending, then
// offset-ascending order, so results are deterministic for a fixed picker
// state. The returned BlockInfo's State is transitioned to Requested (with
// a fresh requestedAt) before it is returned; callers are expected to then
// send the corresponding Request message. Returns (nil, false) if
// peerBitfield holds nothing pickable.
func (p *Picker) PickBlock(peerBitfield *bitfield.BitField) (*BlockInfo, bool) {
	if b := p.scan(peerBitfield, false); b != nil {
		return b, true
	}
	if b := p.scan(peerBitfield, true); b != nil {
		return b, true
	}
	return nil, false
}

func (p *Picker) scan(peerBitfield *bitfield.BitField, allowExpiredReissue bool) *BlockInfo {
	for _, i := range p.order {
		if !peerBitfield.Has(i) {
			continue
		}
		for _, b := range p.blocks[i] {
			switch b.State {
			case NotRequested:
				p.request(b)
				return b
			case Requested:
				if allowExpiredReissue && p.expired(b) {
					p.request(b)
					return b
				}
			}
		}
	}
	return nil
}

// HasPickable reports whether any block held by peerBitfield is presently
// available to pick (NotRequested, or Requested past Config.RequestTimeout),
// without reserving it or mutating any state. Used to decide whether a peer
// is worth announcing Interested to.
func (p *Picker) HasPickable(peerBitfield *bitfield.BitField) bool {
	for _, i := range p.order {
		if !peerBitfield.Has(i) {
			continue
		}
		for _, b := range p.blocks[i] {
			switch b.State {
			case NotRequested:
				return true
			case Requested:
				if p.expired(b) {
					return true
				}
			}
		}
	}
	return false
}

func (p *Picker) request(b *BlockInfo) {
	b.State = Requested
	b.requestedAt = p.clk.Now()
}

func (p *Picker) expired(b *BlockInfo) bool {
	return p.clk.Now().After(b.requestedAt.Add(p.config.RequestTimeout))
}

// MarkReceived locates the BlockInfo matching the (piece index, begin,
// length) triple of b and transitions it to Received. If every block of
// that piece is now Received, the corresponding bit is set in the owned
// bitfield and the piece's bookkeeping is dropped from the picker. Returns
// false if no matching, not-yet-received BlockInfo was found (e.g. a
// duplicate or stale Piece message).
func (p *Picker) MarkReceived(b piece.Block) bool {
	blocks, ok := p.blocks[b.Index]
	if !ok {
		return false
	}
	var found *BlockInfo
	for _, bi := range blocks {
		if bi.Begin == b.Begin && bi.Length == len(b.Data) {
			found = bi
			break
		}
	}
	if found == nil || found.State == Received {
		return false
	}
	found.State = Received

	for _, bi := range blocks {
		if bi.State != Received {
			return true
		}
	}
	p.owned.Set(b.Index)
	delete(p.blocks, b.Index)
	return true
}

// Reject reinstates every block of piece index as NotRequested, for a piece
// whose assembled buffer failed hash verification after every block had
// been Received. length is the piece's expected length, as originally
// computed for this index at construction time.
func (p *Picker) Reject(index int, length int64) {
	p.owned.Clear(index)
	p.blocks[index] = blocksForPiece(index, length)
	for _, i := range p.order {
		if i == index {
			return
		}
	}
	p.order = append(p.order, index)
	sort.Ints(p.order)
}

// PendingPieces returns the piece indices this Picker still has
// outstanding blocks for, in ascending order. Intended primarily for tests
// and progress reporting.
func (p *Picker) PendingPieces() []int {
	out := make([]int, 0, len(p.order))
	for _, i := range p.order {
		if _, ok := p.blocks[i]; ok {
			out = append(out, i)
		}
	}
	return out
}

// Blocks returns the BlockInfos tracked for piece index i, in ascending
// Begin order. Intended for tests.
func (p *Picker) Blocks(index int) []*BlockInfo {
	return p.blocks[index]
}

// Done reports whether every block of every tracked piece has been
// Received (equivalently, whether the picker has nothing left to hand out).
func (p *Picker) Done() bool {
	return len(p.blocks) == 0
}
