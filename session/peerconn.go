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
package session

import (
	"sync"
	"time"

	"github.com/kraken-labs/bitweave/bitfield"
)

// PeerConnection is the per-peer mutable state a Session maintains: the
// peer's announced bitfield and the four choke/interest flags, guarded by
// their own mutex since the choker goroutine and the session's own read/tick
// loops touch them concurrently.
//
// Flag naming: AmChoked is true when the remote peer is choking us;
// PeerChoked is true when we are choking the remote peer (this is the flag
// choker.Choker flips).
type PeerConnection struct {
	mu sync.Mutex

	peerBitfield      *bitfield.BitField
	bitfieldExchanged bool

	amChoked       bool
	amInterested   bool
	peerChoked     bool
	peerInterested bool

	lastUnchokedAt time.Time
	everUnchoked   bool
}

// newPeerConnection returns a PeerConnection in the spec-mandated initial
// state: am_choked=true, am_interested=false, peer_choked=true,
// peer_interested=false.
func newPeerConnection(numPieces int) *PeerConnection {
	return &PeerConnection{
		peerBitfield: bitfield.New(numPieces),
		amChoked:     true,
		peerChoked:   true,
	}
}

// Bitfield returns the peer's currently known bitfield.
func (p *PeerConnection) Bitfield() *bitfield.BitField {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peerBitfield
}

// markBitfieldExchanged records that a Bitfield message has been applied,
// so a second one can be detected and ignored. Returns false if a Bitfield
// was already exchanged.
func (p *PeerConnection) markBitfieldExchanged() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bitfieldExchanged {
		return false
	}
	p.bitfieldExchanged = true
	return true
}

func (p *PeerConnection) setHave(index uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.peerBitfield.Set(int(index))
}

// AmChoked reports whether the remote peer is choking us.
func (p *PeerConnection) AmChoked() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.amChoked
}

func (p *PeerConnection) setAmChoked(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.amChoked = v
}

// AmInterested reports whether we have told the remote peer we are
// interested.
func (p *PeerConnection) AmInterested() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.amInterested
}

func (p *PeerConnection) setAmInterested(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.amInterested = v
}

func (p *PeerConnection) setPeerInterested(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.peerInterested = v
}

// PeerInterested implements choker.Peer: reports whether the remote peer
// has told us it is interested in a piece we hold.
func (p *PeerConnection) PeerInterested() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peerInterested
}

// PeerChoked implements choker.Peer: reports whether we currently choke the
// remote peer.
func (p *PeerConnection) PeerChoked() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peerChoked
}

// SetPeerChoked implements choker.Peer.
func (p *PeerConnection) SetPeerChoked(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.peerChoked = v
}

// LastUnchokedAt implements choker.Peer.
func (p *PeerConnection) LastUnchokedAt() (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastUnchokedAt, p.everUnchoked
}

// SetLastUnchokedAt implements choker.Peer.
func (p *PeerConnection) SetLastUnchokedAt(t time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastUnchokedAt = t
	p.everUnchoked = true
}
