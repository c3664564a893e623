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
	"crypto/sha1"
	"errors"
	"fmt"
	"io"

	"github.com/kraken-labs/bitweave/core"
)

// ErrInvalidInfo returns when an Info violates one of its structural
// invariants (both/neither of length and files set, pieces not a multiple
// of 20 bytes, piece count mismatch).
var ErrInvalidInfo = errors.New("metainfo: invalid info dictionary")

// Info is the "info" sub-dictionary of a torrent file: piece layout plus
// either a single file's length or a list of files making up a directory.
type Info struct {
	PieceLength int64      `bencode:"piece length"`
	Pieces      []byte     `bencode:"pieces"`
	Name        string     `bencode:"name"`
	Length      int64      `bencode:"length,omitempty"`
	Private     *bool      `bencode:"private,omitempty"`
	Files       []FileInfo `bencode:"files,omitempty"`
}

// FileInfo describes a single file within a multi-file torrent.
type FileInfo struct {
	Length int64    `bencode:"length"`
	Path   []string `bencode:"path"`
}

// IsDir reports whether info describes a multi-file torrent.
func (info *Info) IsDir() bool {
	return len(info.Files) != 0
}

// TotalLength returns the sum of all file lengths described by info.
func (info *Info) TotalLength() int64 {
	if !info.IsDir() {
		return info.Length
	}
	var total int64
	for _, fi := range info.Files {
		total += fi.Length
	}
	return total
}

// NumPieces returns the number of SHA-1 piece hashes in info.Pieces.
func (info *Info) NumPieces() int {
	return len(info.Pieces) / core.Sha1HashSize
}

// UpvertedFiles returns info.Files, or a single synthetic FileInfo derived
// from the top-level length/name fields for a single-file torrent. Callers
// can therefore handle single- and multi-file torrents uniformly.
func (info *Info) UpvertedFiles() []FileInfo {
	if info.IsDir() {
		return info.Files
	}
	return []FileInfo{{Length: info.Length, Path: []string{info.Name}}}
}

// Validate checks info's structural invariants.
func (info *Info) Validate() error {
	if info.Length != 0 && len(info.Files) != 0 {
		return fmt.Errorf("%w: both length and files set", ErrInvalidInfo)
	}
	if info.Length == 0 && len(info.Files) == 0 {
		return fmt.Errorf("%w: neither length nor files set", ErrInvalidInfo)
	}
	if info.PieceLength <= 0 {
		return fmt.Errorf("%w: piece length must be positive", ErrInvalidInfo)
	}
	if len(info.Pieces)%core.Sha1HashSize != 0 {
		return fmt.Errorf("%w: pieces length %d not a multiple of %d",
			ErrInvalidInfo, len(info.Pieces), core.Sha1HashSize)
	}
	expected := ceilDiv(info.TotalLength(), info.PieceLength)
	if int64(info.NumPieces()) != expected {
		return fmt.Errorf("%w: expected %d pieces for %d bytes at piece length %d, got %d",
			ErrInvalidInfo, expected, info.TotalLength(), info.PieceLength, info.NumPieces())
	}
	return nil
}

// PieceHash returns the expected hash of the piece at index i.
func (info *Info) PieceHash(i int) core.Sha1Hash {
	var h core.Sha1Hash
	off := i * core.Sha1HashSize
	copy(h[:], info.Pieces[off:off+core.Sha1HashSize])
	return h
}

// PieceLengthAt returns the length of the piece at index i, accounting for
// the final, possibly short, piece.
func (info *Info) PieceLengthAt(i int) int64 {
	if i < info.NumPieces()-1 {
		return info.PieceLength
	}
	last := info.TotalLength() - int64(i)*info.PieceLength
	if last <= 0 {
		return info.PieceLength
	}
	return last
}

func ceilDiv(a, b int64) int64 {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// GeneratePieces hashes the concatenated contents yielded by open, one
// FileInfo at a time, setting info.Pieces to the resulting SHA-1 digests.
func (info *Info) GeneratePieces(open func(fi FileInfo) (io.ReadCloser, error)) error {
	if info.PieceLength <= 0 {
		return fmt.Errorf("%w: piece length must be positive", ErrInvalidInfo)
	}
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(writeFiles(pw, info.UpvertedFiles(), open))
	}()
	defer pr.Close()

	var pieces []byte
	for {
		hasher := sha1.New()
		n, err := io.CopyN(hasher, pr, info.PieceLength)
		if err != nil && err != io.EOF {
			return err
		}
		if n == 0 {
			break
		}
		pieces = hasher.Sum(pieces)
		if n < info.PieceLength {
			break
		}
	}
	info.Pieces = pieces
	return nil
}

func writeFiles(w io.Writer, files []FileInfo, open func(fi FileInfo) (io.ReadCloser, error)) error {
	for _, fi := range files {
		r, err := open(fi)
		if err != nil {
			return fmt.Errorf("open %v: %s", fi.Path, err)
		}
		n, err := io.CopyN(w, r, fi.Length)
		r.Close()
		if err != nil && err != io.EOF {
			return fmt.Errorf("copy %v: %s", fi.Path, err)
		}
		if n != fi.Length {
			return fmt.Errorf("short read of %v: got %d, want %d", fi.Path, n, fi.Length)
		}
	}
	return nil
}
