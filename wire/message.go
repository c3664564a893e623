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
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// MessageID identifies the kind of a non-KeepAlive Message.
type MessageID byte

// Message IDs, per the peer wire protocol.
const (
	Choke MessageID = iota
	Unchoke
	Interested
	NotInterested
	Have
	Bitfield
	Request
	Piece
	Cancel
)

// KeepAlive is a sentinel MessageID for the zero-length keep-alive frame,
// which carries no id byte of its own.
const KeepAlive MessageID = 0xff

func (id MessageID) String() string {
	switch id {
	case Choke:
		return "Choke"
	case Unchoke:
		return "Unchoke"
	case Interested:
		return "Interested"
	case NotInterested:
		return "NotInterested"
	case Have:
		return "Have"
	case Bitfield:
		return "Bitfield"
	case Request:
		return "Request"
	case Piece:
		return "Piece"
	case Cancel:
		return "Cancel"
	case KeepAlive:
		return "KeepAlive"
	default:
		return fmt.Sprintf("MessageID(%d)", byte(id))
	}
}

// maxMessageSize bounds the length field of an inbound frame, guarding
// against a peer claiming an absurd payload size.
const maxMessageSize uint32 = 16 * 1024 * 1024

// ErrUnknownMessageID returns when a frame carries an id outside Choke..Cancel.
var ErrUnknownMessageID = errors.New("wire: unknown message id")

// ErrMessageTooLarge returns when a frame's length prefix exceeds maxMessageSize.
var ErrMessageTooLarge = errors.New("wire: message exceeds max size")

// Message is a single peer wire protocol frame, decoded into its
// constituent fields. Not every field is meaningful for every ID: Index is
// used by Have/Request/Piece/Cancel, Begin by Request/Piece/Cancel, Length
// by Request/Cancel, and Data by Bitfield/Piece.
type Message struct {
	ID     MessageID
	Index  uint32
	Begin  uint32
	Length uint32
	Data   []byte
}

// NewKeepAlive returns a KeepAlive message.
func NewKeepAlive() *Message {
	return &Message{ID: KeepAlive}
}

// NewChoke returns a Choke message.
func NewChoke() *Message { return &Message{ID: Choke} }

// NewUnchoke returns an Unchoke message.
func NewUnchoke() *Message { return &Message{ID: Unchoke} }

// NewInterested returns an Interested message.
func NewInterested() *Message { return &Message{ID: Interested} }

// NewNotInterested returns a NotInterested message.
func NewNotInterested() *Message { return &Message{ID: NotInterested} }

// NewHave returns a Have message announcing piece index.
func NewHave(index uint32) *Message {
	return &Message{ID: Have, Index: index}
}

// NewBitfield returns a Bitfield message carrying the raw bitfield bytes.
func NewBitfield(b []byte) *Message {
	return &Message{ID: Bitfield, Data: b}
}

// NewRequest returns a Request message for the given block.
func NewRequest(index, begin, length uint32) *Message {
	return &Message{ID: Request, Index: index, Begin: begin, Length: length}
}

// NewCancel returns a Cancel message matching a prior Request.
func NewCancel(index, begin, length uint32) *Message {
	return &Message{ID: Cancel, Index: index, Begin: begin, Length: length}
}

// NewPiece returns a Piece message carrying block data.
func NewPiece(index, begin uint32, data []byte) *Message {
	return &Message{ID: Piece, Index: index, Begin: begin, Data: data}
}

// Encode serializes m into the length-prefixed wire frame.
func (m *Message) Encode() []byte {
	if m.ID == KeepAlive {
		return []byte{0, 0, 0, 0}
	}

	var bodyLen int
	switch m.ID {
	case Choke, Unchoke, Interested, NotInterested:
		bodyLen = 1
	case Have:
		bodyLen = 1 + 4
	case Bitfield:
		bodyLen = 1 + len(m.Data)
	case Request, Cancel:
		bodyLen = 1 + 12
	case Piece:
		bodyLen = 1 + 8 + len(m.Data)
	}

	b := make([]byte, 4+bodyLen)
	binary.BigEndian.PutUint32(b[0:4], uint32(bodyLen))
	b[4] = byte(m.ID)

	switch m.ID {
	case Have:
		binary.BigEndian.PutUint32(b[5:9], m.Index)
	case Bitfield:
		copy(b[5:], m.Data)
	case Request, Cancel:
		binary.BigEndian.PutUint32(b[5:9], m.Index)
		binary.BigEndian.PutUint32(b[9:13], m.Begin)
		binary.BigEndian.PutUint32(b[13:17], m.Length)
	case Piece:
		binary.BigEndian.PutUint32(b[5:9], m.Index)
		binary.BigEndian.PutUint32(b[9:13], m.Begin)
		copy(b[13:], m.Data)
	}

	return b
}

func decodeBody(id MessageID, body []byte) (*Message, error) {
	switch id {
	case Choke, Unchoke, Interested, NotInterested:
		return &Message{ID: id}, nil
	case Have:
		if len(body) != 4 {
			return nil, fmt.Errorf("wire: Have payload must be 4 bytes, got %d", len(body))
		}
		return &Message{ID: id, Index: binary.BigEndian.Uint32(body)}, nil
	case Bitfield:
		data := make([]byte, len(body))
		copy(data, body)
		return &Message{ID: id, Data: data}, nil
	case Request, Cancel:
		if len(body) != 12 {
			return nil, fmt.Errorf("wire: %s payload must be 12 bytes, got %d", id, len(body))
		}
		return &Message{
			ID:     id,
			Index:  binary.BigEndian.Uint32(body[0:4]),
			Begin:  binary.BigEndian.Uint32(body[4:8]),
			Length: binary.BigEndian.Uint32(body[8:12]),
		}, nil
	case Piece:
		if len(body) < 8 {
			return nil, fmt.Errorf("wire: Piece payload must be at least 8 bytes, got %d", len(body))
		}
		data := make([]byte, len(body)-8)
		copy(data, body[8:])
		return &Message{
			ID:    id,
			Index: binary.BigEndian.Uint32(body[0:4]),
			Begin: binary.BigEndian.Uint32(body[4:8]),
			Data:  data,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessageID, byte(id))
	}
}

// Decoder incrementally decodes Messages out of a byte stream. Bytes are
// appended via Feed; Decode returns the next complete Message, or (nil,
// false, nil) if fewer than a full frame is currently buffered.
type Decoder struct {
	buf bytes.Buffer
}

// NewDecoder returns an empty Decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends b to the internal buffer.
func (d *Decoder) Feed(b []byte) {
	d.buf.Write(b)
}

// Decode returns the next fully-buffered Message. It never returns a
// partial message: if fewer than 4+length bytes are available, it returns
// (nil, false, nil) and leaves the buffer untouched for a later Feed.
func (d *Decoder) Decode() (*Message, bool, error) {
	data := d.buf.Bytes()
	if len(data) < 4 {
		return nil, false, nil
	}
	length := binary.BigEndian.Uint32(data[:4])
	if length > maxMessageSize {
		return nil, false, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, length, maxMessageSize)
	}
	if uint32(len(data)-4) < length {
		return nil, false, nil
	}

	frame := data[4 : 4+length]
	d.buf.Next(4 + int(length))

	if length == 0 {
		return NewKeepAlive(), true, nil
	}

	msg, err := decodeBody(MessageID(frame[0]), frame[1:])
	if err != nil {
		return nil, false, err
	}
	return msg, true, nil
}
