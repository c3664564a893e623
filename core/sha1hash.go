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
package core

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
)

// Sha1HashSize is the byte length of a Sha1Hash.
const Sha1HashSize = 20

// Sha1Hash is a fixed 20-byte opaque identity, used both as a torrent's info
// hash and as the expected digest of a single piece.
type Sha1Hash [Sha1HashSize]byte

// NewSha1HashFromHex converts a 40-character hexadecimal string into a
// Sha1Hash.
func NewSha1HashFromHex(s string) (Sha1Hash, error) {
	if len(s) != 40 {
		return Sha1Hash{}, fmt.Errorf("invalid hash: expected 40 characters, got %d", len(s))
	}
	var h Sha1Hash
	n, err := hex.Decode(h[:], []byte(s))
	if err != nil {
		return Sha1Hash{}, fmt.Errorf("invalid hex: %s", err)
	}
	if n != 20 {
		return Sha1Hash{}, fmt.Errorf("invariant violation: expected 20 bytes, got %d", n)
	}
	return h, nil
}

// NewSha1HashFromBytes copies the first 20 bytes of b into a Sha1Hash.
// If b is shorter than 20 bytes, the remaining bytes are left zero.
func NewSha1HashFromBytes(b []byte) Sha1Hash {
	var h Sha1Hash
	copy(h[:], b)
	return h
}

// HashBytes returns the Sha1Hash of b.
func HashBytes(b []byte) Sha1Hash {
	var h Sha1Hash
	sum := sha1.Sum(b)
	copy(h[:], sum[:])
	return h
}

// Bytes returns h as a raw byte slice.
func (h Sha1Hash) Bytes() []byte {
	return h[:]
}

// Hex returns h hex-encoded.
func (h Sha1Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

// String implements fmt.Stringer.
func (h Sha1Hash) String() string {
	return h.Hex()
}

// IsZero reports whether h is the zero hash.
func (h Sha1Hash) IsZero() bool {
	return h == Sha1Hash{}
}
