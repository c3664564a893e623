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

// Package session implements a single peer connection's state machine:
// Idle (dial) -> Connected (handshake) -> Active (message exchange) ->
// Disconnected, per the peer wire protocol.
package session

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/kraken-labs/bitweave/bitfield"
	"github.com/kraken-labs/bitweave/core"
	"github.com/kraken-labs/bitweave/peerstats"
	"github.com/kraken-labs/bitweave/piece"
	"github.com/kraken-labs/bitweave/wire"
)

// Session errors.
var (
	ErrInfoHashMismatch = errors.New("session: remote info hash does not match")
	ErrClosed           = errors.New("session: closed")
)

// Events is implemented by the owning torrent aggregate. Every method may
// be called concurrently by many sessions and must synchronize internally;
// none of them may block on another session's progress.
type Events interface {
	// OnBlock forwards a received block to the piece assembler/picker.
	OnBlock(s *Session, b piece.Block)

	// OnRequest returns the bytes of the requested block if this session's
	// peer should be served, or ok=false to silently drop the request.
	OnRequest(s *Session, index, begin, length uint32) (data []byte, ok bool)

	// PickBlock selects the next block to request given this session's
	// current view of the peer's bitfield, or ok=false if nothing is
	// presently pickable from this peer.
	PickBlock(peerBitfield *bitfield.BitField) (index, begin, length uint32, ok bool)

	// HasInterest reports whether anything is presently pickable from a peer
	// with the given bitfield, without reserving it. Used to decide whether
	// to announce Interested/NotInterested as the peer's bitfield changes.
	HasInterest(peerBitfield *bitfield.BitField) bool

	// OnClosed is called exactly once, after the session's socket and
	// goroutines have fully shut down.
	OnClosed(s *Session)
}

type pieceRequest struct {
	index, begin, length uint32
}

// Session manages the wire protocol exchange with a single connected peer
// for a single torrent.
type Session struct {
	localPeerID core.PeerID
	peerID      core.PeerID
	infoHash    core.Sha1Hash
	createdAt   time.Time

	conn   net.Conn
	config Config
	clk    clock.Clock
	events Events
	stats  *peerstats.PeerStats
	peer   *PeerConnection

	logger *zap.SugaredLogger

	sender chan *wire.Message

	mu             sync.Mutex // guards the following fields.
	lastInboundAt  time.Time
	lastOutboundAt time.Time
	outstanding    int // count of block requests awaiting a Piece reply.

	reqMu    sync.Mutex
	reqCond  *sync.Cond
	requests *list.List // queue of *pieceRequest awaiting service.

	closed    *atomic.Bool
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
}

func newSession(
	nc net.Conn,
	config Config,
	infoHash core.Sha1Hash,
	localPeerID core.PeerID,
	remotePeerID core.PeerID,
	numPieces int,
	clk clock.Clock,
	events Events,
	logger *zap.SugaredLogger) *Session {

	s := &Session{
		localPeerID: localPeerID,
		peerID:      remotePeerID,
		infoHash:    infoHash,
		createdAt:   clk.Now(),
		conn:        nc,
		config:      config,
		clk:         clk,
		events:      events,
		stats:       peerstats.New(peerstats.Config{}, clk),
		peer:        newPeerConnection(numPieces),
		logger:      logger,
		sender:      make(chan *wire.Message, config.SenderBufferSize),
		requests:    list.New(),
		closed:      atomic.NewBool(false),
		done:        make(chan struct{}),
	}
	s.reqCond = sync.NewCond(&s.reqMu)
	now := clk.Now()
	s.lastInboundAt = now
	s.lastOutboundAt = now
	return s
}

// Dial opens a TCP connection to addr, performs the handshake as the
// initiating side, and returns a running Session on success.
func Dial(
	ctx context.Context,
	addr string,
	config Config,
	infoHash core.Sha1Hash,
	localPeerID core.PeerID,
	numPieces int,
	clk clock.Clock,
	events Events,
	logger *zap.SugaredLogger) (*Session, error) {

	config = config.applyDefaults()

	dialer := net.Dialer{Timeout: config.ConnectTimeout}
	nc, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("session: dial: %s", err)
	}
	return newActive(nc, config, infoHash, localPeerID, numPieces, clk, events, logger)
}

// Accept performs the handshake as the receiving side of an already-open
// connection nc (as returned by a listener's Accept) and returns a running
// Session on success.
func Accept(
	nc net.Conn,
	config Config,
	infoHash core.Sha1Hash,
	localPeerID core.PeerID,
	numPieces int,
	clk clock.Clock,
	events Events,
	logger *zap.SugaredLogger) (*Session, error) {

	config = config.applyDefaults()
	return newActive(nc, config, infoHash, localPeerID, numPieces, clk, events, logger)
}

// newActive implements the Connected->Active transition: exchanging
// handshakes over nc and, on success, starting the Active session's
// goroutines.
func newActive(
	nc net.Conn,
	config Config,
	infoHash core.Sha1Hash,
	localPeerID core.PeerID,
	numPieces int,
	clk clock.Clock,
	events Events,
	logger *zap.SugaredLogger) (*Session, error) {

	if err := nc.SetDeadline(time.Now().Add(config.HandshakeTimeout)); err != nil {
		return nil, fmt.Errorf("session: set handshake deadline: %s", err)
	}

	local := wire.Handshake{InfoHash: infoHash, PeerID: localPeerID}
	if err := wire.WriteHandshake(nc, local); err != nil {
		nc.Close()
		return nil, fmt.Errorf("session: write handshake: %s", err)
	}
	remote, err := wire.ReadHandshake(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("session: read handshake: %s", err)
	}
	if remote.InfoHash != infoHash {
		nc.Close()
		return nil, ErrInfoHashMismatch
	}

	if err := nc.SetDeadline(time.Time{}); err != nil {
		nc.Close()
		return nil, fmt.Errorf("session: clear deadline: %s", err)
	}

	s := newSession(nc, config, infoHash, localPeerID, remote.PeerID, numPieces, clk, events, logger)
	s.start()
	return s, nil
}

func (s *Session) start() {
	s.startOnce.Do(func() {
		s.wg.Add(4)
		go s.readLoop()
		go s.writeLoop()
		go s.serveLoop()
		go s.tickLoop()
	})
}

// PeerID returns the remote peer's id.
func (s *Session) PeerID() core.PeerID {
	return s.peerID
}

// InfoHash returns the torrent info hash this session was handshaked for.
func (s *Session) InfoHash() core.Sha1Hash {
	return s.infoHash
}

// Peer returns the session's PeerConnection state.
func (s *Session) Peer() *PeerConnection {
	return s.peer
}

// PeerInterested implements choker.Peer.
func (s *Session) PeerInterested() bool {
	return s.peer.PeerInterested()
}

// PeerChoked implements choker.Peer.
func (s *Session) PeerChoked() bool {
	return s.peer.PeerChoked()
}

// SetPeerChoked implements choker.Peer: updates our choke state towards the
// remote peer and, on a change, announces it with a wire Choke/Unchoke
// message.
func (s *Session) SetPeerChoked(v bool) {
	if s.peer.PeerChoked() == v {
		return
	}
	s.peer.SetPeerChoked(v)
	if v {
		s.Send(wire.NewChoke())
	} else {
		s.Send(wire.NewUnchoke())
	}
}

// LastUnchokedAt implements choker.Peer.
func (s *Session) LastUnchokedAt() (time.Time, bool) {
	return s.peer.LastUnchokedAt()
}

// SetLastUnchokedAt implements choker.Peer.
func (s *Session) SetLastUnchokedAt(t time.Time) {
	s.peer.SetLastUnchokedAt(t)
}

// Stats returns the session's rolling throughput counters.
func (s *Session) Stats() *peerstats.PeerStats {
	return s.stats
}

func (s *Session) String() string {
	return fmt.Sprintf("Session(peer=%s, hash=%s)", s.peerID, s.infoHash)
}

// Send enqueues msg for writing. Returns ErrClosed if the session has
// already shut down, or an error if its sender buffer is full.
func (s *Session) Send(msg *wire.Message) error {
	select {
	case <-s.done:
		return ErrClosed
	case s.sender <- msg:
		return nil
	default:
		return errors.New("session: send buffer full")
	}
}

// Close starts the session's shutdown sequence. Idempotent.
func (s *Session) Close() {
	if !s.closed.CAS(false, true) {
		return
	}
	go func() {
		close(s.done)
		s.conn.Close()
		s.reqMu.Lock()
		s.reqCond.Broadcast() // Wake serveLoop so it can observe done and exit.
		s.reqMu.Unlock()
		s.wg.Wait()
		s.events.OnClosed(s)
	}()
}

// IsClosed reports whether Close has been called.
func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

func (s *Session) readLoop() {
	defer func() {
		s.wg.Done()
		s.Close()
	}()

	dec := wire.NewDecoder()
	buf := make([]byte, s.config.ReceiverBufferSize*1024)
	for {
		n, err := s.conn.Read(buf)
		if err != nil {
			s.log().Infow("Session read error, closing", "error", err)
			return
		}
		dec.Feed(buf[:n])
		for {
			msg, ok, err := dec.Decode()
			if err != nil {
				s.log().Infow("Session decode error, closing", "error", err)
				return
			}
			if !ok {
				break
			}
			s.markInbound()
			if err := s.handle(msg); err != nil {
				s.log().Infow("Session protocol error, closing", "error", err)
				return
			}
		}
	}
}

func (s *Session) writeLoop() {
	defer func() {
		s.wg.Done()
		s.Close()
	}()

	for {
		select {
		case <-s.done:
			return
		case msg := <-s.sender:
			if _, err := s.conn.Write(msg.Encode()); err != nil {
				s.log().Infow("Session write error, closing", "error", err)
				return
			}
			s.markOutbound()
			if msg.ID == wire.Piece {
				s.stats.Upload.Record(int64(len(msg.Data)))
			}
		}
	}
}

// serveLoop drains the outbound-piece request queue, fetching block data
// from the owning torrent through Events.OnRequest and sending it. This is
// the one goroutine permitted to block on torrent-side I/O without
// stalling the read loop.
func (s *Session) serveLoop() {
	defer s.wg.Done()

	for {
		req, ok := s.nextRequest()
		if !ok {
			return
		}
		data, ok := s.events.OnRequest(s, req.index, req.begin, req.length)
		if !ok {
			continue
		}
		s.Send(wire.NewPiece(req.index, req.begin, data))
	}
}

func (s *Session) nextRequest() (*pieceRequest, bool) {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()
	for s.requests.Len() == 0 {
		select {
		case <-s.done:
			return nil, false
		default:
		}
		s.reqCond.Wait()
		select {
		case <-s.done:
			return nil, false
		default:
		}
	}
	front := s.requests.Front()
	s.requests.Remove(front)
	return front.Value.(*pieceRequest), true
}

func (s *Session) enqueueRequest(req *pieceRequest) {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()
	s.requests.PushBack(req)
	s.reqCond.Signal()
}

func (s *Session) cancelRequest(index, begin, length uint32) {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()
	for e := s.requests.Front(); e != nil; e = e.Next() {
		r := e.Value.(*pieceRequest)
		if r.index == index && r.begin == begin && r.length == length {
			s.requests.Remove(e)
			return
		}
	}
}

// handle dispatches a single decoded message per the peer session message
// handling semantics.
func (s *Session) handle(msg *wire.Message) error {
	switch msg.ID {
	case wire.KeepAlive:
		// No-op.
	case wire.Choke:
		s.peer.setAmChoked(true)
	case wire.Unchoke:
		s.peer.setAmChoked(false)
	case wire.Interested:
		s.peer.setPeerInterested(true)
	case wire.NotInterested:
		s.peer.setPeerInterested(false)
	case wire.Have:
		s.peer.setHave(msg.Index)
		s.updateInterest()
	case wire.Bitfield:
		if !s.peer.markBitfieldExchanged() {
			s.log().Warnw("Ignoring duplicate Bitfield message")
			return nil
		}
		bf, err := bitfield.FromBytes(msg.Data, s.peer.peerBitfield.Size())
		if err != nil {
			return fmt.Errorf("bitfield: %s", err)
		}
		s.peer.mu.Lock()
		s.peer.peerBitfield = bf
		s.peer.mu.Unlock()
		s.updateInterest()
	case wire.Request:
		if s.peer.PeerChoked() {
			// We are choking this peer; drop the request.
			return nil
		}
		s.enqueueRequest(&pieceRequest{index: msg.Index, begin: msg.Begin, length: msg.Length})
	case wire.Piece:
		s.mu.Lock()
		if s.outstanding > 0 {
			s.outstanding--
		}
		s.mu.Unlock()
		s.stats.Download.Record(int64(len(msg.Data)))
		s.events.OnBlock(s, piece.Block{Index: int(msg.Index), Begin: int(msg.Begin), Data: msg.Data})
	case wire.Cancel:
		s.cancelRequest(msg.Index, msg.Begin, msg.Length)
	default:
		return fmt.Errorf("%w: %d", wire.ErrUnknownMessageID, byte(msg.ID))
	}
	return nil
}

func (s *Session) tickLoop() {
	defer s.wg.Done()

	timer := s.clk.Timer(s.config.TickInterval)
	defer timer.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-timer.C:
			s.tick()
			timer.Reset(s.config.TickInterval)
		}
	}
}

func (s *Session) tick() {
	now := s.clk.Now()

	s.mu.Lock()
	idleSend := now.Sub(s.lastOutboundAt)
	idleRecv := now.Sub(s.lastInboundAt)
	outstanding := s.outstanding
	s.mu.Unlock()

	if idleRecv > s.config.InboundIdleTimeout {
		s.log().Infow("Peer inbound idle timeout exceeded, closing")
		s.Close()
		return
	}

	if idleSend > s.config.KeepAliveInterval {
		s.Send(wire.NewKeepAlive())
	}

	if s.peer.AmChoked() {
		return
	}
	for outstanding < s.config.RequestWindow {
		index, begin, length, ok := s.events.PickBlock(s.peer.Bitfield())
		if !ok {
			break
		}
		if err := s.Send(wire.NewRequest(index, begin, length)); err != nil {
			break
		}
		outstanding++
	}
	s.mu.Lock()
	s.outstanding = outstanding
	s.mu.Unlock()
}

// updateInterest re-evaluates whether anything is pickable from the peer's
// current bitfield and, on a change, announces Interested/NotInterested.
func (s *Session) updateInterest() {
	interested := s.events.HasInterest(s.peer.Bitfield())
	if interested == s.peer.AmInterested() {
		return
	}
	s.peer.setAmInterested(interested)
	if interested {
		s.Send(wire.NewInterested())
	} else {
		s.Send(wire.NewNotInterested())
	}
}

func (s *Session) markInbound() {
	s.mu.Lock()
	s.lastInboundAt = s.clk.Now()
	s.mu.Unlock()
}

func (s *Session) markOutbound() {
	s.mu.Lock()
	s.lastOutboundAt = s.clk.Now()
	s.mu.Unlock()
}

func (s *Session) log(keysAndValues ...interface{}) *zap.SugaredLogger {
	keysAndValues = append(keysAndValues, "remote_peer", s.peerID, "hash", s.infoHash)
	return s.logger.With(keysAndValues...)
}
