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
package disk

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kraken-labs/bitweave/metainfo"
)

func testEngine(t *testing.T) (*Engine, string) {
	dir := t.TempDir()
	e := New(Config{RootDir: dir}, zap.NewNop().Sugar())
	t.Cleanup(e.Shutdown)
	return e, dir
}

func TestWritePieceSingleFile(t *testing.T) {
	require := require.New(t)

	e, dir := testEngine(t)
	info := &metainfo.Info{
		Name:        "movie.mp4",
		PieceLength: 16,
		Length:      32,
		Pieces:      make([]byte, 40),
	}

	require.NoError(e.WritePiece(info, 0, []byte("0123456789abcdef")))
	require.NoError(e.WritePiece(info, 1, []byte("ghijklmnopqrstuv")))

	got, err := os.ReadFile(filepath.Join(dir, "movie.mp4"))
	require.NoError(err)
	require.Equal("0123456789abcdefghijklmnopqrstuv", string(got))
}

func TestWritePieceSpansMultipleFiles(t *testing.T) {
	require := require.New(t)

	e, dir := testEngine(t)
	info := &metainfo.Info{
		Name:        "pack",
		PieceLength: 16,
		Pieces:      make([]byte, 20),
		Files: []metainfo.FileInfo{
			{Length: 10, Path: []string{"a.bin"}},
			{Length: 10, Path: []string{"sub", "b.bin"}},
		},
	}

	// Single 16-byte piece spanning both files: first 10 bytes into a.bin,
	// remaining 6 into sub/b.bin.
	piece := []byte("0123456789ABCDEF")
	require.NoError(e.WritePiece(info, 0, piece))

	a, err := os.ReadFile(filepath.Join(dir, "pack", "a.bin"))
	require.NoError(err)
	require.Equal("0123456789", string(a))

	b, err := os.ReadFile(filepath.Join(dir, "pack", "sub", "b.bin"))
	require.NoError(err)
	require.Equal("ABCDEF", string(b))
}

func TestBitfieldReturnsAllZeroForFreshTorrent(t *testing.T) {
	require := require.New(t)

	e, _ := testEngine(t)
	info := &metainfo.Info{
		Name:        "x",
		PieceLength: 16,
		Length:      48,
		Pieces:      make([]byte, 60),
	}

	bf, err := e.Bitfield(info)
	require.NoError(err)
	require.Equal(3, bf.Size())
	require.Zero(bf.Count())
}

func TestShutdownDrainsPendingWrites(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	e := New(Config{RootDir: dir}, zap.NewNop().Sugar())

	info := &metainfo.Info{Name: "f", PieceLength: 4, Length: 4, Pieces: make([]byte, 20)}
	require.NoError(e.WritePiece(info, 0, []byte("data")))

	e.Shutdown()

	got, err := os.ReadFile(filepath.Join(dir, "f"))
	require.NoError(err)
	require.Equal("data", string(got))
}
