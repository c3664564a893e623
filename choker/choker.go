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

// Package choker periodically decides which of a torrent's connected peers
// get one of a finite number of upload slots.
package choker

import (
	"sort"
	"time"

	"github.com/andres-erbsen/clock"
)

// Config defines Choker configuration.
type Config struct {

	// UploadSlots is the number of peers that may be unchoked (permitted to
	// download from us) at once.
	UploadSlots int `yaml:"upload_slots"`

	// Interval is the cadence at which the choker reassigns upload slots.
	Interval time.Duration `yaml:"interval"`
}

func (c Config) applyDefaults() Config {
	if c.UploadSlots == 0 {
		c.UploadSlots = 4
	}
	if c.Interval == 0 {
		c.Interval = 10 * time.Second
	}
	return c
}

// Peer is the subset of a peer's connection state the Choker needs to rank
// and flip choke status. Implemented by session.PeerConnection; declared
// here as an interface so this package never imports session.
type Peer interface {
	// PeerInterested reports whether the remote peer has told us it is
	// interested in a piece we hold.
	PeerInterested() bool

	// PeerChoked reports whether we currently choke the remote peer.
	PeerChoked() bool

	// SetPeerChoked sets our choke status towards the remote peer.
	SetPeerChoked(bool)

	// LastUnchokedAt returns the last time we unchoked this peer, and
	// whether it has ever been unchoked at all.
	LastUnchokedAt() (time.Time, bool)

	// SetLastUnchokedAt records the current time as this peer's last
	// unchoke time.
	SetLastUnchokedAt(time.Time)
}

// Events defines Choker events.
type Events interface {
	ChokeTick()
}

// Choker selects which of a torrent's peers occupy its upload slots, and
// runs that selection on a fixed cadence.
type Choker struct {
	config Config
	clk    clock.Clock
	events Events
	timer  *clock.Timer
}

// New creates a Choker.
func New(config Config, clk clock.Clock, events Events) *Choker {
	config = config.applyDefaults()
	return &Choker{
		config: config,
		clk:    clk,
		events: events,
		timer:  clk.Timer(config.Interval),
	}
}

// Ticker emits ChokeTick events at Config.Interval until done is closed.
func (c *Choker) Ticker(done <-chan struct{}) {
	for {
		select {
		case <-c.timer.C:
			c.events.ChokeTick()
			c.timer.Reset(c.config.Interval)
		case <-done:
			return
		}
	}
}

// unchokeKey orders peers for slot assignment: interested peers sort before
// uninterested ones; within a class, an older LastUnchokedAt sorts first,
// with "never unchoked" treated as the oldest possible time.
type unchokeKey struct {
	peer        Peer
	interested  bool
	lastUnchoke time.Time
}

// SortByUnchoke partitions peers in place so that the first
// min(Config.UploadSlots, len(peers)) elements are the preferred unchoke
// set: interested peers before uninterested ones, and within each class,
// peers least recently unchoked (never-unchoked peers sorting as oldest)
// first. Returns the effective slot count. The full slice is sorted for
// simplicity; only the returned prefix is a meaningful contract to callers.
func (c *Choker) SortByUnchoke(peers []Peer) int {
	keys := make([]unchokeKey, len(peers))
	for i, p := range peers {
		last, ok := p.LastUnchokedAt()
		if !ok {
			last = time.Time{} // Zero time sorts earliest.
		}
		keys[i] = unchokeKey{peer: p, interested: p.PeerInterested(), lastUnchoke: last}
	}

	sort.SliceStable(keys, func(i, j int) bool {
		if keys[i].interested != keys[j].interested {
			return keys[i].interested
		}
		return keys[i].lastUnchoke.Before(keys[j].lastUnchoke)
	})

	for i, k := range keys {
		peers[i] = k.peer
	}

	slots := c.config.UploadSlots
	if slots > len(peers) {
		slots = len(peers)
	}
	return slots
}

// Run sorts peers by unchoke priority and applies the resulting choke
// decision: the preferred prefix is unchoked (recording LastUnchokedAt for
// any peer newly transitioning from choked), and every other peer is
// choked. Returns the number of peers unchoked.
func (c *Choker) Run(peers []Peer) int {
	slots := c.SortByUnchoke(peers)
	now := c.clk.Now()

	for i, p := range peers {
		if i < slots {
			if p.PeerChoked() {
				p.SetLastUnchokedAt(now)
			}
			p.SetPeerChoked(false)
		} else {
			p.SetPeerChoked(true)
		}
	}
	return slots
}
