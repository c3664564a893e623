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

// Package metainfo decodes and encodes torrent description files: the
// bencoded dictionary naming a tracker announce URL and the "info"
// sub-dictionary describing piece layout and file contents.
package metainfo

import (
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/kraken-labs/bitweave/bencode"
	"github.com/kraken-labs/bitweave/core"
)

// ErrMalformedBencode returns when the top-level torrent file is not valid bencode.
var ErrMalformedBencode = errors.New("metainfo: malformed bencode")

// ErrInvalidAnnounce returns when the announce URL does not parse.
var ErrInvalidAnnounce = errors.New("metainfo: invalid announce url")

// MetaInfo is a parsed torrent description file. InfoBytes preserves the
// exact bencoded bytes of the "info" dictionary as received, so the info
// hash can always be recomputed over the original, unknown-key-preserving
// representation rather than a reconstruction.
type MetaInfo struct {
	InfoBytes    bencode.Bytes `bencode:"info"`
	Announce     string        `bencode:"announce,omitempty"`
	AnnounceList [][]string    `bencode:"announce-list,omitempty"`
	CreationDate int64         `bencode:"creation date,omitempty"`
	Comment      string        `bencode:"comment,omitempty"`
	CreatedBy    string        `bencode:"created by,omitempty"`
}

// Load decodes a MetaInfo from r.
func Load(r io.Reader) (*MetaInfo, error) {
	var mi MetaInfo
	if err := bencode.NewDecoder(r).Decode(&mi); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedBencode, err)
	}
	if _, err := url.Parse(mi.UpvertedAnnounce()); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAnnounce, err)
	}
	return &mi, nil
}

// Write encodes mi in bencoded form to w.
func (mi *MetaInfo) Write(w io.Writer) error {
	return bencode.NewEncoder(w).Encode(mi)
}

// UnmarshalInfo decodes the captured info dictionary bytes into an Info.
func (mi *MetaInfo) UnmarshalInfo() (Info, error) {
	var info Info
	err := bencode.Unmarshal(mi.InfoBytes, &info)
	return info, err
}

// InfoHash hashes the exact bytes of the info dictionary as captured off the
// wire, so unknown fields inside "info" still contribute to the hash even
// though they are dropped by Info's struct tags.
func (mi *MetaInfo) InfoHash() core.Sha1Hash {
	return core.HashBytes(mi.InfoBytes)
}

// UpvertedAnnounce returns the single announce URL to use, preferring the
// first non-empty entry of AnnounceList (BEP 12) over the legacy Announce
// field.
func (mi *MetaInfo) UpvertedAnnounce() string {
	for _, tier := range mi.AnnounceList {
		for _, u := range tier {
			if u != "" {
				return u
			}
		}
	}
	return mi.Announce
}

// New builds a MetaInfo from an already-constructed Info, bencoding info
// into InfoBytes.
func New(info Info, announce string) (*MetaInfo, error) {
	b, err := bencode.Marshal(info)
	if err != nil {
		return nil, err
	}
	return &MetaInfo{
		InfoBytes: b,
		Announce:  announce,
	}, nil
}
