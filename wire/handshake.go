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

// Package wire implements the BitTorrent peer wire protocol: the fixed
// handshake frame and the length-prefixed message frames exchanged over a
// single TCP stream.
package wire

import (
	"errors"
	"fmt"
	"io"

	"github.com/kraken-labs/bitweave/core"
)

const protocolString = "BitTorrent protocol"

// HandshakeLen is the fixed byte length of a Handshake frame.
const HandshakeLen = 1 + len(protocolString) + 8 + core.Sha1HashSize + 20

// ErrInvalidProtocol returns when a handshake frame's pstrlen or protocol
// string does not match the expected BitTorrent protocol identifier.
var ErrInvalidProtocol = errors.New("wire: invalid protocol handshake")

// Handshake is the 68-byte frame exchanged at the start of a peer
// connection, binding it to a specific torrent and peer identity.
type Handshake struct {
	InfoHash core.Sha1Hash
	PeerID   core.PeerID
}

// Encode returns the wire encoding of h.
func (h Handshake) Encode() []byte {
	b := make([]byte, HandshakeLen)
	b[0] = byte(len(protocolString))
	copy(b[1:], protocolString)
	// bytes [1+len(protocolString), 1+len(protocolString)+8) are reserved
	// and left zero.
	off := 1 + len(protocolString) + 8
	copy(b[off:], h.InfoHash.Bytes())
	copy(b[off+core.Sha1HashSize:], h.PeerID[:])
	return b
}

// DecodeHandshake parses a Handshake out of exactly HandshakeLen bytes.
func DecodeHandshake(b []byte) (Handshake, error) {
	if len(b) != HandshakeLen {
		return Handshake{}, fmt.Errorf("wire: handshake must be %d bytes, got %d", HandshakeLen, len(b))
	}
	if int(b[0]) != len(protocolString) || string(b[1:1+len(protocolString)]) != protocolString {
		return Handshake{}, ErrInvalidProtocol
	}
	off := 1 + len(protocolString) + 8
	var hs Handshake
	hs.InfoHash = core.NewSha1HashFromBytes(b[off : off+core.Sha1HashSize])
	copy(hs.PeerID[:], b[off+core.Sha1HashSize:])
	return hs, nil
}

// ReadHandshake reads and decodes a Handshake from r.
func ReadHandshake(r io.Reader) (Handshake, error) {
	b := make([]byte, HandshakeLen)
	if _, err := io.ReadFull(r, b); err != nil {
		return Handshake{}, fmt.Errorf("wire: read handshake: %s", err)
	}
	return DecodeHandshake(b)
}

// WriteHandshake encodes and writes h to w.
func WriteHandshake(w io.Writer, h Handshake) error {
	if _, err := w.Write(h.Encode()); err != nil {
		return fmt.Errorf("wire: write handshake: %s", err)
	}
	return nil
}
