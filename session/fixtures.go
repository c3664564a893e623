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
	"net"
	"time"

	"github.com/andres-erbsen/clock"
	"go.uber.org/zap"

	"github.com/kraken-labs/bitweave/bitfield"
	"github.com/kraken-labs/bitweave/core"
	"github.com/kraken-labs/bitweave/piece"
)

// noopDeadline wraps a net.Conn that does not support deadlines (e.g.
// net.Pipe, used in tests) and silently accepts deadline calls.
type noopDeadline struct {
	net.Conn
}

func (noopDeadline) SetDeadline(time.Time) error      { return nil }
func (noopDeadline) SetReadDeadline(time.Time) error  { return nil }
func (noopDeadline) SetWriteDeadline(time.Time) error { return nil }

// NoopEvents is an Events implementation whose methods are all no-ops,
// useful as a base to embed in test fakes that only care about a subset of
// callbacks.
type NoopEvents struct{}

// OnBlock implements Events.
func (NoopEvents) OnBlock(*Session, piece.Block) {}

// OnRequest implements Events.
func (NoopEvents) OnRequest(*Session, uint32, uint32, uint32) ([]byte, bool) { return nil, false }

// PickBlock implements Events.
func (NoopEvents) PickBlock(*bitfield.BitField) (uint32, uint32, uint32, bool) {
	return 0, 0, 0, false
}

// HasInterest implements Events.
func (NoopEvents) HasInterest(*bitfield.BitField) bool { return false }

// OnClosed implements Events.
func (NoopEvents) OnClosed(*Session) {}

// PipeFixture returns two handshaked, running Sessions connected by an
// in-memory net.Pipe, for use in tests that don't need a real socket.
// localEvents/remoteEvents are notified of protocol events observed by the
// respective side.
func PipeFixture(config Config, infoHash core.Sha1Hash, numPieces int, localEvents, remoteEvents Events) (local, remote *Session, cleanup func()) {
	config = config.applyDefaults()
	nc1, nc2 := net.Pipe()

	clk := clock.New()
	logger := zap.NewNop().Sugar()

	localID := core.PeerIDFixture()
	remoteID := core.PeerIDFixture()

	type result struct {
		s   *Session
		err error
	}
	localCh := make(chan result, 1)
	go func() {
		s, err := newActive(noopDeadline{nc1}, config, infoHash, localID, numPieces, clk, localEvents, logger)
		localCh <- result{s, err}
	}()

	s2, err := newActive(noopDeadline{nc2}, config, infoHash, remoteID, numPieces, clk, remoteEvents, logger)
	if err != nil {
		panic(err)
	}
	r1 := <-localCh
	if r1.err != nil {
		panic(r1.err)
	}

	return r1.s, s2, func() {
		r1.s.Close()
		s2.Close()
	}
}
