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
package torrent

import (
	"crypto/sha1"
	"os"
	"path/filepath"
	"testing"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/kraken-labs/bitweave/bitfield"
	"github.com/kraken-labs/bitweave/core"
	"github.com/kraken-labs/bitweave/disk"
	"github.com/kraken-labs/bitweave/metainfo"
	"github.com/kraken-labs/bitweave/piece"
)

// singlePieceTorrent builds a one-piece, single-file MetaInfo backed by a
// disk.Engine rooted at a fresh temp dir, plus the plaintext piece contents.
func singlePieceTorrent(t *testing.T) (*Torrent, *disk.Engine, string, []byte) {
	data := []byte("0123456789abcdef") // 16 bytes, exactly one piece.
	sum := sha1.Sum(data)

	info := metainfo.Info{
		Name:        "movie.mp4",
		PieceLength: 16,
		Length:      16,
		Pieces:      sum[:],
	}
	mi, err := metainfo.New(info, "http://tracker.example.com/announce")
	require.NoError(t, err)

	dir := t.TempDir()
	e := disk.New(disk.Config{RootDir: dir}, zap.NewNop().Sugar())
	t.Cleanup(e.Shutdown)

	tr, err := New(
		Config{}, mi, e, core.PeerIDFixture(), 6881, clock.NewMock(), tally.NoopScope, zap.NewNop().Sugar())
	require.NoError(t, err)

	return tr, e, dir, data
}

func TestNewRejectsInvalidInfo(t *testing.T) {
	require := require.New(t)

	info := metainfo.Info{
		Name:        "bad",
		PieceLength: 16,
		Length:      16,
		Pieces:      make([]byte, 40), // 2 hashes for 1 piece worth of data.
	}
	mi, err := metainfo.New(info, "http://tracker.example.com/announce")
	require.NoError(err)

	dir := t.TempDir()
	e := disk.New(disk.Config{RootDir: dir}, zap.NewNop().Sugar())
	defer e.Shutdown()

	_, err = New(Config{}, mi, e, core.PeerIDFixture(), 6881, clock.NewMock(), tally.NoopScope, zap.NewNop().Sugar())
	require.Error(err)
}

func TestOnBlockVerifiesWritesToDiskAndSetsOwnedBit(t *testing.T) {
	require := require.New(t)

	tr, _, dir, data := singlePieceTorrent(t)

	require.False(tr.Done())
	require.Zero(tr.OwnedBitfield().Count())

	tr.OnBlock(nil, piece.Block{Index: 0, Begin: 0, Data: data})

	require.True(tr.Done())
	require.Equal(1, tr.OwnedBitfield().Count())
	require.True(tr.OwnedBitfield().Has(0))

	got, err := os.ReadFile(filepath.Join(dir, "movie.mp4"))
	require.NoError(err)
	require.Equal(data, got)
}

func TestOnBlockRejectsBadHashAndRequeuesForRepick(t *testing.T) {
	require := require.New(t)

	tr, _, _, _ := singlePieceTorrent(t)

	tr.OnBlock(nil, piece.Block{Index: 0, Begin: 0, Data: make([]byte, 16)}) // all zero, wrong hash.

	require.False(tr.Done())
	require.Zero(tr.OwnedBitfield().Count())

	// The picker re-offers the rejected piece's blocks to a peer with the
	// full bitfield.
	peerHas := bitfield.New(1)
	peerHas.Set(0)
	index, begin, length, ok := tr.PickBlock(peerHas)
	require.True(ok)
	require.EqualValues(0, index)
	require.EqualValues(0, begin)
	require.EqualValues(16, length)
}

func TestOnBlockIgnoresOutOfRangeIndex(t *testing.T) {
	tr, _, _, _ := singlePieceTorrent(t)

	require.NotPanics(t, func() {
		tr.OnBlock(nil, piece.Block{Index: 5, Begin: 0, Data: []byte("x")})
	})
}

func TestOnRequestDeclinesUntilPieceVerified(t *testing.T) {
	require := require.New(t)

	tr, _, _, data := singlePieceTorrent(t)

	_, ok := tr.OnRequest(nil, 0, 0, 16)
	require.False(ok)

	tr.OnBlock(nil, piece.Block{Index: 0, Begin: 0, Data: data})

	got, ok := tr.OnRequest(nil, 0, 0, 16)
	require.True(ok)
	require.Equal(data, got)

	_, ok = tr.OnRequest(nil, 0, 0, 17) // out of range
	require.False(ok)

	_, ok = tr.OnRequest(nil, 7, 0, 16) // unknown piece index
	require.False(ok)
}

func TestPickBlockDelegatesToPicker(t *testing.T) {
	require := require.New(t)

	tr, _, _, _ := singlePieceTorrent(t)

	empty := bitfield.New(1)
	_, _, _, ok := tr.PickBlock(empty)
	require.False(ok)

	full := bitfield.New(1)
	full.Set(0)
	index, begin, length, ok := tr.PickBlock(full)
	require.True(ok)
	require.EqualValues(0, index)
	require.EqualValues(0, begin)
	require.EqualValues(16, length)
}

func TestAnnounceRequestSetsStartedEventOnceAndTracksLeft(t *testing.T) {
	require := require.New(t)

	tr, _, _, data := singlePieceTorrent(t)

	req1 := tr.announceRequest()
	require.Equal(tr.infoHash, req1.InfoHash)
	require.EqualValues(16, req1.Left)
	require.EqualValues("started", req1.Event)

	req2 := tr.announceRequest()
	require.EqualValues("", req2.Event)
	require.EqualValues(16, req2.Left)

	tr.OnBlock(nil, piece.Block{Index: 0, Begin: 0, Data: data})

	req3 := tr.announceRequest()
	require.EqualValues(0, req3.Left)
}

func TestInfoHashAndName(t *testing.T) {
	require := require.New(t)

	tr, _, _, _ := singlePieceTorrent(t)
	require.Equal("movie.mp4", tr.Name())
	require.NotEqual(core.Sha1Hash{}, tr.InfoHash())
}
