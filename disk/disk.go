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

// Package disk implements the single-writer file placement engine: the
// only component in the torrent core permitted to open a torrent's backing
// files for write, serialised behind an unbounded command queue so no two
// piece writes can race each other onto the same file.
package disk

import (
	"container/list"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/kraken-labs/bitweave/bitfield"
	"github.com/kraken-labs/bitweave/metainfo"
)

// Config defines Engine configuration.
type Config struct {

	// RootDir is the directory under which every torrent's files are
	// placed, one subtree per metainfo.Info.Name.
	RootDir string `yaml:"root_dir"`

	// FileMode is the permission bits used when creating torrent files.
	FileMode os.FileMode `yaml:"file_mode"`

	// DirMode is the permission bits used when creating parent directories.
	DirMode os.FileMode `yaml:"dir_mode"`
}

func (c Config) applyDefaults() Config {
	if c.RootDir == "" {
		c.RootDir = "."
	}
	if c.FileMode == 0 {
		c.FileMode = 0644
	}
	if c.DirMode == 0 {
		c.DirMode = 0755
	}
	return c
}

type command struct {
	writePiece *writePieceCommand
	bitfield   *bitfieldCommand
}

type writePieceCommand struct {
	info  *metainfo.Info
	index int
	data  []byte
	reply chan error
}

type bitfieldCommand struct {
	info  *metainfo.Info
	reply chan bitfieldResult
}

type bitfieldResult struct {
	bf  *bitfield.BitField
	err error
}

// Engine is the single-writer disk task. Commands are appended to an
// unbounded queue and drained strictly in order by one background
// goroutine, so no two WritePiece calls -- even for different torrents --
// ever race on the filesystem from this process.
type Engine struct {
	config Config
	logger *zap.SugaredLogger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  *list.List
	closed bool

	done chan struct{}
}

// New creates an Engine and starts its background drain loop.
func New(config Config, logger *zap.SugaredLogger) *Engine {
	config = config.applyDefaults()
	e := &Engine{
		config: config,
		logger: logger,
		queue:  list.New(),
		done:   make(chan struct{}),
	}
	e.cond = sync.NewCond(&e.mu)
	go e.run()
	return e
}

func (e *Engine) enqueue(c *command) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		panic("disk: enqueue after shutdown")
	}
	e.queue.PushBack(c)
	e.cond.Signal()
}

func (e *Engine) dequeue() (*command, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for e.queue.Len() == 0 && !e.closed {
		e.cond.Wait()
	}
	if e.queue.Len() == 0 {
		return nil, false
	}
	front := e.queue.Front()
	e.queue.Remove(front)
	return front.Value.(*command), true
}

func (e *Engine) run() {
	defer close(e.done)
	for {
		cmd, ok := e.dequeue()
		if !ok {
			return
		}
		switch {
		case cmd.writePiece != nil:
			c := cmd.writePiece
			err := e.writePiece(c.info, c.index, c.data)
			if err != nil {
				e.logger.Errorw("Failed to write piece to disk",
					"piece", c.index, "name", c.info.Name, "error", err)
			}
			c.reply <- err
		case cmd.bitfield != nil:
			c := cmd.bitfield
			bf, err := e.restoreBitfield(c.info)
			c.reply <- bitfieldResult{bf, err}
		}
	}
}

// WritePiece writes data (the full, already-verified byte buffer of piece
// index) to the file(s) described by info, creating parent directories as
// needed. Blocks until the write has been performed by the single disk
// goroutine.
func (e *Engine) WritePiece(info *metainfo.Info, index int, data []byte) error {
	reply := make(chan error, 1)
	e.enqueue(&command{writePiece: &writePieceCommand{info: info, index: index, data: data, reply: reply}})
	return <-reply
}

// Bitfield reconstructs the owned bitfield for info by inspecting on-disk
// state. This minimal implementation always reports no pieces held; a
// fuller resume implementation would stat/hash existing file contents.
func (e *Engine) Bitfield(info *metainfo.Info) (*bitfield.BitField, error) {
	reply := make(chan bitfieldResult, 1)
	e.enqueue(&command{bitfield: &bitfieldCommand{info: info, reply: reply}})
	r := <-reply
	return r.bf, r.err
}

// Shutdown drains any outstanding WritePiece commands already enqueued,
// then stops the background goroutine. Blocks until drained.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	e.closed = true
	e.cond.Broadcast()
	e.mu.Unlock()
	<-e.done
}

func (e *Engine) restoreBitfield(info *metainfo.Info) (*bitfield.BitField, error) {
	return bitfield.New(info.NumPieces()), nil
}

// writePiece splits data across every file whose byte range overlaps the
// piece's [index*pieceLength, +pieceLength) span, in info.Files order,
// creating parent directories as needed.
func (e *Engine) writePiece(info *metainfo.Info, index int, data []byte) error {
	offset := int64(index) * info.PieceLength
	remaining := data

	for _, fi := range info.UpvertedFiles() {
		if offset >= fi.Length {
			offset -= fi.Length
			continue
		}
		n := int64(len(remaining))
		if n > fi.Length-offset {
			n = fi.Length - offset
		}

		path := e.filePath(info, fi)
		if err := os.MkdirAll(filepath.Dir(path), e.config.DirMode); err != nil {
			return fmt.Errorf("disk: mkdir %s: %s", filepath.Dir(path), err)
		}
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, e.config.FileMode)
		if err != nil {
			return fmt.Errorf("disk: open %s: %s", path, err)
		}
		_, err = f.WriteAt(remaining[:n], offset)
		closeErr := f.Close()
		if err != nil {
			return fmt.Errorf("disk: write %s: %s", path, err)
		}
		if closeErr != nil {
			return fmt.Errorf("disk: close %s: %s", path, closeErr)
		}

		remaining = remaining[n:]
		offset = 0
		if len(remaining) == 0 {
			break
		}
	}
	return nil
}

func (e *Engine) filePath(info *metainfo.Info, fi metainfo.FileInfo) string {
	if info.IsDir() {
		return filepath.Join(append([]string{e.config.RootDir, info.Name}, fi.Path...)...)
	}
	return filepath.Join(append([]string{e.config.RootDir}, fi.Path...)...)
}
