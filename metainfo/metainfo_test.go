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
package metainfo

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewAndLoadRoundTrip(t *testing.T) {
	require := require.New(t)

	info := Info{
		Name:        "f.txt",
		Length:      20,
		PieceLength: 20,
		Pieces:      make([]byte, 20),
	}
	mi, err := New(info, "http://tracker.example.com/announce")
	require.NoError(err)

	var buf bytes.Buffer
	require.NoError(mi.Write(&buf))

	loaded, err := Load(&buf)
	require.NoError(err)
	require.Equal(mi.Announce, loaded.Announce)
	require.Equal(mi.InfoHash(), loaded.InfoHash())

	gotInfo, err := loaded.UnmarshalInfo()
	require.NoError(err)
	require.Equal(info, gotInfo)
}

func TestLoadMalformedBencode(t *testing.T) {
	require := require.New(t)

	_, err := Load(bytes.NewReader([]byte("not bencode")))
	require.ErrorIs(err, ErrMalformedBencode)
}

func TestUpvertedAnnouncePrefersAnnounceList(t *testing.T) {
	require := require.New(t)

	mi := MetaInfo{
		Announce:     "http://old.example.com/announce",
		AnnounceList: [][]string{{""}, {"http://new.example.com/announce"}},
	}
	require.Equal("http://new.example.com/announce", mi.UpvertedAnnounce())
}

func TestUpvertedAnnounceFallsBackToAnnounce(t *testing.T) {
	require := require.New(t)

	mi := MetaInfo{Announce: "http://only.example.com/announce"}
	require.Equal("http://only.example.com/announce", mi.UpvertedAnnounce())
}

func TestInfoHashStableAcrossUnknownFields(t *testing.T) {
	require := require.New(t)

	// Extra unknown keys inside "info" must still contribute to InfoHash,
	// since it hashes the raw captured bytes rather than a reconstruction.
	mi1 := MetaInfo{InfoBytes: []byte("d6:lengthi1e4:name1:xe")}
	mi2 := MetaInfo{InfoBytes: []byte("d6:lengthi1e4:name1:x7:unknown2:hie")}
	require.NotEqual(mi1.InfoHash(), mi2.InfoHash())
}
