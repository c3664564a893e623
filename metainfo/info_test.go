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
	"io"
	"io/ioutil"
	"testing"

	"github.com/stretchr/testify/require"
)

func nopCloser(r io.Reader) io.ReadCloser {
	return ioutil.NopCloser(r)
}

func TestInfoSingleFileUpvertedFiles(t *testing.T) {
	require := require.New(t)

	info := Info{Name: "movie.mp4", Length: 42}
	files := info.UpvertedFiles()
	require.Len(files, 1)
	require.Equal(int64(42), files[0].Length)
	require.Equal([]string{"movie.mp4"}, files[0].Path)
	require.False(info.IsDir())
}

func TestInfoMultiFileTotalLength(t *testing.T) {
	require := require.New(t)

	info := Info{
		Name: "album",
		Files: []FileInfo{
			{Length: 10, Path: []string{"a.mp3"}},
			{Length: 20, Path: []string{"b.mp3"}},
		},
	}
	require.True(info.IsDir())
	require.Equal(int64(30), info.TotalLength())
	require.Equal(info.Files, info.UpvertedFiles())
}

func TestInfoValidateBothLengthAndFiles(t *testing.T) {
	require := require.New(t)

	info := Info{
		Name:        "x",
		Length:      5,
		PieceLength: 5,
		Files:       []FileInfo{{Length: 5, Path: []string{"a"}}},
	}
	err := info.Validate()
	require.ErrorIs(err, ErrInvalidInfo)
}

func TestInfoValidatePiecesNotMultipleOf20(t *testing.T) {
	require := require.New(t)

	info := Info{Name: "x", Length: 10, PieceLength: 10, Pieces: make([]byte, 19)}
	require.ErrorIs(info.Validate(), ErrInvalidInfo)
}

func TestInfoValidatePieceCountMismatch(t *testing.T) {
	require := require.New(t)

	info := Info{Name: "x", Length: 10, PieceLength: 5, Pieces: make([]byte, 20)}
	require.ErrorIs(info.Validate(), ErrInvalidInfo)
}

func TestInfoGeneratePiecesAndValidate(t *testing.T) {
	require := require.New(t)

	data := bytes.Repeat([]byte("x"), 25)
	info := Info{Name: "f", Length: int64(len(data)), PieceLength: 10}

	err := info.GeneratePieces(func(fi FileInfo) (io.ReadCloser, error) {
		return nopCloser(bytes.NewReader(data)), nil
	})
	require.NoError(err)
	require.Equal(3, info.NumPieces()) // ceil(25/10) = 3
	require.NoError(info.Validate())
}

func TestInfoPieceLengthAtLastPieceShort(t *testing.T) {
	require := require.New(t)

	info := Info{Name: "f", Length: 25, PieceLength: 10, Pieces: make([]byte, 3*20)}
	require.Equal(int64(10), info.PieceLengthAt(0))
	require.Equal(int64(10), info.PieceLengthAt(1))
	require.Equal(int64(5), info.PieceLengthAt(2))
}

func TestInfoPieceHash(t *testing.T) {
	require := require.New(t)

	pieces := make([]byte, 40)
	pieces[20] = 0xAB
	info := Info{Pieces: pieces}
	h := info.PieceHash(1)
	require.Equal(byte(0xAB), h[0])
}
