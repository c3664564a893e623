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

// Command torrent is a single-torrent BitTorrent agent: it loads one
// metainfo file, accepts and dials peer connections, and runs until every
// piece described by the metainfo is verified on disk.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/alecthomas/kingpin"
	"github.com/andres-erbsen/clock"
	"github.com/c2h5oh/datasize"
	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/kraken-labs/bitweave/choker"
	"github.com/kraken-labs/bitweave/configuration"
	"github.com/kraken-labs/bitweave/core"
	"github.com/kraken-labs/bitweave/disk"
	"github.com/kraken-labs/bitweave/metainfo"
	"github.com/kraken-labs/bitweave/torrent"
	"github.com/kraken-labs/bitweave/utils/memsize"
)

func main() {
	app := kingpin.New("torrent", "Single-torrent BitTorrent agent")

	torrentFile := app.Flag("torrent", "Path to the .torrent metainfo file").Required().String()
	listenAddr := app.Flag("listen", "Address to accept incoming peer connections on").Default("0.0.0.0:6881").String()
	dataDir := app.Flag("data-dir", "Root directory to write downloaded files under").Required().String()
	uploadSlots := app.Flag("upload-slots", "Number of peers that may be unchoked at once").Short('u').Int()
	configFile := app.Flag("config", "Optional YAML configuration file; flags override its values").String()

	kingpin.MustParse(app.Parse(os.Args[1:]))

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %s\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Sugar()

	if err := run(log, *torrentFile, *listenAddr, *dataDir, *uploadSlots, *configFile); err != nil {
		log.Fatalw("Agent exited with error", "error", err)
	}
}

func run(log *zap.SugaredLogger, torrentFile, listenAddr, dataDir string, uploadSlots int, configFile string) error {
	cfg := torrent.Config{}
	peerIDFactory := core.RandomPeerIDFactory
	diskCfg := disk.Config{RootDir: dataDir}
	var maxTotalSize datasize.ByteSize

	if configFile != "" {
		c, err := configuration.Load(configFile)
		if err != nil {
			return fmt.Errorf("load config: %s", err)
		}
		cfg = c.Torrent
		peerIDFactory = c.PeerIDFactory
		diskCfg = c.Disk
		diskCfg.RootDir = dataDir
		maxTotalSize = c.MaxTotalSize
		if listenAddr == "" {
			listenAddr = c.ListenAddr
		}
	}
	if uploadSlots > 0 {
		cfg.Choker = choker.Config{UploadSlots: uploadSlots}
	}

	mf, err := os.Open(torrentFile)
	if err != nil {
		return fmt.Errorf("open torrent file: %s", err)
	}
	defer mf.Close()

	mi, err := metainfo.Load(mf)
	if err != nil {
		return fmt.Errorf("load metainfo: %s", err)
	}
	info, err := mi.UnmarshalInfo()
	if err != nil {
		return fmt.Errorf("unmarshal info: %s", err)
	}
	log.Infow("Loaded torrent", "name", info.Name, "size", memsize.Format(uint64(info.TotalLength())), "pieces", info.NumPieces())
	if total := datasize.ByteSize(info.TotalLength()); maxTotalSize > 0 && total > maxTotalSize {
		return fmt.Errorf("torrent total size %s exceeds configured max %s", total, maxTotalSize)
	}

	ip, portStr, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return fmt.Errorf("parse listen addr: %s", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("parse listen port: %s", err)
	}
	peerID, err := peerIDFactory.GeneratePeerID(ip, port)
	if err != nil {
		return fmt.Errorf("generate peer id: %s", err)
	}

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %s", listenAddr, err)
	}
	defer ln.Close()

	clk := clock.New()
	stats := tally.NoopScope
	diskEngine := disk.New(diskCfg, log)
	defer diskEngine.Shutdown()

	t, err := torrent.New(cfg, mi, diskEngine, peerID, port, clk, stats, log)
	if err != nil {
		return fmt.Errorf("create torrent: %s", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go acceptLoop(ln, t, log)

	go t.Start(ctx)

	log.Infow("Agent started", "torrent", t.Name(), "info_hash", t.InfoHash(), "peer_id", peerID, "listen", listenAddr)

	pollCompletion(t, log)
	t.Stop()
	return nil
}

// acceptLoop hands every accepted connection to the torrent's incoming
// handshake path until the listener is closed.
func acceptLoop(ln net.Listener, t *torrent.Torrent, log *zap.SugaredLogger) {
	for {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		go func() {
			if err := t.AddIncoming(nc); err != nil {
				log.Infow("Rejected incoming peer", "error", err)
			}
		}()
	}
}

// pollCompletion blocks, logging progress, until the torrent's owned
// bitfield is complete, per the polling-based progress contract the
// collaborator UI/CLI interface describes.
func pollCompletion(t *torrent.Torrent, log *zap.SugaredLogger) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		bf := t.OwnedBitfield()
		log.Infow("Progress", "have", bf.Count(), "total", bf.Size())
		if t.Done() {
			log.Infow("Torrent complete")
			return
		}
	}
}
