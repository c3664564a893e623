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

// Package torrent is the aggregate orchestrator: it owns a torrent's piece
// set, picker, and owned bitfield behind a single mutex, and wires the
// tracker announce loop, peer sessions, and choker around that aggregate,
// per the cyclic-reference design in the package-level concurrency notes --
// sessions talk to the Torrent through the session.Events interface rather
// than the Torrent holding a strong reference to every session.
package torrent

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/syncmap"

	"github.com/kraken-labs/bitweave/bitfield"
	"github.com/kraken-labs/bitweave/choker"
	"github.com/kraken-labs/bitweave/core"
	"github.com/kraken-labs/bitweave/disk"
	"github.com/kraken-labs/bitweave/metainfo"
	"github.com/kraken-labs/bitweave/picker"
	"github.com/kraken-labs/bitweave/piece"
	"github.com/kraken-labs/bitweave/session"
	"github.com/kraken-labs/bitweave/tracker"
	"github.com/kraken-labs/bitweave/wire"
)

// Torrent is the per-torrent aggregate: MetaInfo, the piece array, the
// picker, the owned bitfield, the connected peer set, and the tasks
// (choker, tracker announce loop) that operate on them.
//
// mu guards pieces, picker, owned, and announced -- every field a session
// callback or the choker touches through the aggregate lock. peers is a
// syncmap.Map since sessions are added/removed far more often than the
// aggregate's piece state changes, and ChokeTick must range over it without
// blocking session I/O.
type Torrent struct {
	config Config

	mi       *metainfo.MetaInfo
	info     metainfo.Info
	infoHash core.Sha1Hash

	localPeerID core.PeerID
	listenPort  int

	mu          sync.Mutex
	pieces      []*piece.Piece
	picker      *picker.Picker
	owned       *bitfield.BitField
	announced   bool
	numVerified *atomic.Int32

	peers   syncmap.Map // core.PeerID -> *session.Session
	dialing syncmap.Map // string (addr) -> struct{}

	choker        *choker.Choker
	trackerClient *tracker.Client
	announceLoop  *tracker.AnnounceLoop
	disk          *disk.Engine

	clk    clock.Clock
	stats  tally.Scope
	logger *zap.SugaredLogger

	done     chan struct{}
	stopOnce sync.Once
}

// New constructs a Torrent for mi, sharing diskEngine (and its single
// writer goroutine) across every torrent the caller drives. diskEngine is
// not owned by the returned Torrent: Stop never shuts it down.
func New(
	config Config,
	mi *metainfo.MetaInfo,
	diskEngine *disk.Engine,
	localPeerID core.PeerID,
	listenPort int,
	clk clock.Clock,
	stats tally.Scope,
	logger *zap.SugaredLogger) (*Torrent, error) {

	config = config.applyDefaults()

	info, err := mi.UnmarshalInfo()
	if err != nil {
		return nil, fmt.Errorf("torrent: unmarshal info: %s", err)
	}
	if err := info.Validate(); err != nil {
		return nil, fmt.Errorf("torrent: %s", err)
	}

	owned, err := diskEngine.Bitfield(&info)
	if err != nil {
		return nil, fmt.Errorf("torrent: restore bitfield: %s", err)
	}

	numPieces := info.NumPieces()
	pieces := make([]*piece.Piece, numPieces)
	for i := 0; i < numPieces; i++ {
		pieces[i] = piece.New(i, info.PieceHash(i), info.PieceLengthAt(i))
	}

	pick := picker.New(config.Picker, clk, owned, info.TotalLength(), info.PieceLength)

	trackerClient, err := tracker.New(config.Tracker, mi.UpvertedAnnounce())
	if err != nil {
		return nil, fmt.Errorf("torrent: %s", err)
	}

	stats = stats.Tagged(map[string]string{
		"module": "torrent",
		"name":   info.Name,
	})

	t := &Torrent{
		config:        config,
		mi:            mi,
		info:          info,
		infoHash:      mi.InfoHash(),
		localPeerID:   localPeerID,
		listenPort:    listenPort,
		pieces:        pieces,
		picker:        pick,
		owned:         owned,
		numVerified:   atomic.NewInt32(0),
		trackerClient: trackerClient,
		disk:          diskEngine,
		clk:           clk,
		stats:         stats,
		logger:        logger,
		done:          make(chan struct{}),
	}
	t.numVerified.Store(int32(owned.Count()))
	t.choker = choker.New(config.Choker, clk, t)
	t.announceLoop = tracker.NewAnnounceLoop(config.Announce, trackerClient, clk, logger)

	return t, nil
}

// InfoHash returns the torrent's info hash.
func (t *Torrent) InfoHash() core.Sha1Hash {
	return t.infoHash
}

// Name returns the torrent's display name.
func (t *Torrent) Name() string {
	return t.info.Name
}

// OwnedBitfield returns a snapshot of the pieces currently verified and
// held on disk, for external progress polling per the collaborator
// interface UI/CLI wiring relies on.
func (t *Torrent) OwnedBitfield() *bitfield.BitField {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.owned.Clone()
}

// Done reports whether every piece of the torrent has been verified.
func (t *Torrent) Done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.owned.Complete()
}

// Start begins the torrent's background tasks: the choker's periodic
// upload-slot reassignment and the tracker announce loop. Blocks until
// Stop is called; ctx is passed to each tracker announce request.
func (t *Torrent) Start(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		t.choker.Ticker(t.done)
	}()
	go func() {
		defer wg.Done()
		t.announceLoop.Run(ctx, t.announceRequest, t.onPeersDiscovered, t.done)
	}()
	wg.Wait()
}

// Stop shuts down every peer session and stops the torrent's background
// tasks. Idempotent. Does not touch the shared disk.Engine's lifecycle.
func (t *Torrent) Stop() {
	t.stopOnce.Do(func() {
		close(t.done)
		t.peers.Range(func(key, value interface{}) bool {
			value.(*session.Session).Close()
			return true
		})
	})
}

// AddIncoming handshakes nc as the receiving side of an already-accepted
// connection and, on success, registers the resulting session.
func (t *Torrent) AddIncoming(nc net.Conn) error {
	s, err := session.Accept(
		nc, t.config.Session, t.infoHash, t.localPeerID, t.info.NumPieces(), t.clk, t, t.logger)
	if err != nil {
		return fmt.Errorf("torrent: accept: %s", err)
	}
	t.addSession(s)
	return nil
}

func (t *Torrent) dialPeer(addr core.PeerAddr) {
	ctx, cancel := context.WithTimeout(context.Background(), t.config.DialTimeout)
	defer cancel()

	s, err := session.Dial(
		ctx, addr.String(), t.config.Session, t.infoHash, t.localPeerID, t.info.NumPieces(), t.clk, t, t.logger)
	if err != nil {
		t.logger.Infow("Failed to dial peer", "addr", addr, "error", err)
		return
	}
	t.addSession(s)
}

func (t *Torrent) addSession(s *session.Session) {
	if _, loaded := t.peers.LoadOrStore(s.PeerID(), s); loaded {
		s.Close()
		return
	}
	t.stats.Counter("peers_connected").Inc(1)
	s.Send(wire.NewBitfield(t.OwnedBitfield().ToBytes()))
}

// onPeersDiscovered dials every newly discovered peer address that is not
// already connected or mid-dial. Used as the AnnounceLoop's onPeers
// callback.
func (t *Torrent) onPeersDiscovered(addrs []core.PeerAddr) {
	for _, addr := range addrs {
		if addr.HasPeerID() && addr.PeerID == t.localPeerID {
			continue
		}
		addrStr := addr.String()
		if _, loaded := t.dialing.LoadOrStore(addrStr, struct{}{}); loaded {
			continue
		}
		go func(addr core.PeerAddr, addrStr string) {
			defer t.dialing.Delete(addrStr)
			t.dialPeer(addr)
		}(addr, addrStr)
	}
}

// announceRequest builds the next tracker announce request, reporting how
// many bytes remain and setting the "started" event exactly once.
func (t *Torrent) announceRequest() tracker.AnnounceRequest {
	t.mu.Lock()
	var left int64
	for i, p := range t.pieces {
		if !p.Verified() {
			left += t.info.PieceLengthAt(i)
		}
	}
	event := tracker.EventNone
	if !t.announced {
		t.announced = true
		event = tracker.EventStarted
	}
	t.mu.Unlock()

	return tracker.AnnounceRequest{
		InfoHash: t.infoHash,
		PeerID:   t.localPeerID,
		Port:     t.listenPort,
		Left:     left,
		Event:    event,
	}
}

// OnBlock implements session.Events: it forwards a received block to the
// appropriate piece, updates picker bookkeeping, and -- once a piece
// completes -- verifies, persists, and announces it.
func (t *Torrent) OnBlock(s *session.Session, b piece.Block) {
	t.mu.Lock()
	if b.Index < 0 || b.Index >= len(t.pieces) {
		t.mu.Unlock()
		return
	}
	p := t.pieces[b.Index]
	if p.Verified() {
		t.mu.Unlock()
		return
	}
	if err := p.AddBlock(b); err != nil {
		t.mu.Unlock()
		return
	}
	t.picker.MarkReceived(b)

	if !p.IsComplete() {
		t.mu.Unlock()
		return
	}

	data, err := p.Verify()
	if err != nil {
		length := t.info.PieceLengthAt(b.Index)
		t.picker.Reject(b.Index, length)
		t.mu.Unlock()
		t.log().Warnw("Piece failed hash verification, re-queueing", "piece", b.Index, "error", err)
		t.stats.Counter("piece_verification_failures").Inc(1)
		return
	}
	t.numVerified.Inc()
	t.mu.Unlock()

	t.stats.Counter("pieces_verified").Inc(1)
	if err := t.disk.WritePiece(&t.info, b.Index, data); err != nil {
		t.log().Errorw("Failed to write verified piece to disk", "piece", b.Index, "error", err)
		return
	}

	t.broadcastHave(uint32(b.Index))
}

// OnRequest implements session.Events: serves a block from a verified
// piece, or declines if the piece isn't ready or the range is invalid.
func (t *Torrent) OnRequest(s *session.Session, index, begin, length uint32) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if int(index) >= len(t.pieces) {
		return nil, false
	}
	p := t.pieces[index]
	if !p.Verified() {
		return nil, false
	}
	data := p.Data()
	end := int64(begin) + int64(length)
	if end > int64(len(data)) {
		return nil, false
	}
	out := make([]byte, length)
	copy(out, data[begin:end])
	return out, true
}

// PickBlock implements session.Events.
func (t *Torrent) PickBlock(peerBitfield *bitfield.BitField) (index, begin, length uint32, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	bi, ok := t.picker.PickBlock(peerBitfield)
	if !ok {
		return 0, 0, 0, false
	}
	return uint32(bi.PieceIndex), uint32(bi.Begin), uint32(bi.Length), true
}

// HasInterest implements session.Events.
func (t *Torrent) HasInterest(peerBitfield *bitfield.BitField) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.picker.HasPickable(peerBitfield)
}

// OnClosed implements session.Events.
func (t *Torrent) OnClosed(s *session.Session) {
	t.peers.Delete(s.PeerID())
	t.stats.Counter("peers_disconnected").Inc(1)
}

// ChokeTick implements choker.Events: it snapshots the connected peer set
// and runs a single choke/unchoke pass over it.
func (t *Torrent) ChokeTick() {
	var peers []choker.Peer
	t.peers.Range(func(key, value interface{}) bool {
		peers = append(peers, value.(*session.Session))
		return true
	})
	t.choker.Run(peers)
}

func (t *Torrent) broadcastHave(index uint32) {
	have := wire.NewHave(index)
	t.peers.Range(func(key, value interface{}) bool {
		value.(*session.Session).Send(have)
		return true
	})
}

func (t *Torrent) log(keysAndValues ...interface{}) *zap.SugaredLogger {
	keysAndValues = append(keysAndValues, "hash", t.infoHash, "name", t.info.Name)
	return t.logger.With(keysAndValues...)
}
