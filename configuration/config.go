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

// Package configuration defines the top-level on-disk configuration the
// cmd/torrent binary loads: the nested per-subsystem Config structs
// (session, picker, choker, tracker, disk) composed into one document and
// validated the way uber-kraken's agent/cmd.Config does it.
package configuration

import (
	"fmt"
	"io/ioutil"

	"github.com/c2h5oh/datasize"
	"gopkg.in/validator.v2"
	"gopkg.in/yaml.v2"

	"go.uber.org/zap"

	"github.com/kraken-labs/bitweave/core"
	"github.com/kraken-labs/bitweave/disk"
	"github.com/kraken-labs/bitweave/torrent"
)

// Config is the full agent configuration loaded from a single YAML
// document. Every nested Config still applies its own defaults through its
// package's applyDefaults, so a document may omit any subsystem entirely.
type Config struct {
	// ListenAddr is the address the agent accepts incoming peer
	// connections on, e.g. "0.0.0.0:6881".
	ListenAddr string `yaml:"listen_addr" validate:"nonzero"`

	// DataDir is the root directory torrent files are written under.
	// Forwarded into Disk.RootDir unless Disk.RootDir is set explicitly.
	DataDir string `yaml:"data_dir" validate:"nonzero"`

	// PeerIDFactory selects how this process's peer id is generated.
	PeerIDFactory core.PeerIDFactory `yaml:"peer_id_factory"`

	// MaxTotalSize rejects a torrent whose declared total content length
	// exceeds it before any disk space is reserved or peers are dialed.
	// Zero means unlimited.
	MaxTotalSize datasize.ByteSize `yaml:"max_total_size"`

	ZapLogging zap.Config     `yaml:"zap"`
	Torrent    torrent.Config `yaml:"torrent"`
	Disk       disk.Config    `yaml:"disk"`
}

func (c Config) applyDefaults() Config {
	if c.PeerIDFactory == "" {
		c.PeerIDFactory = core.RandomPeerIDFactory
	}
	if c.Disk.RootDir == "" {
		c.Disk.RootDir = c.DataDir
	}
	return c
}

// Load reads and validates the YAML configuration document at path.
func Load(path string) (Config, error) {
	var c Config
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("configuration: read %s: %s", path, err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("configuration: unmarshal %s: %s", path, err)
	}
	if err := validator.Validate(c); err != nil {
		return c, fmt.Errorf("configuration: invalid config %s: %s", path, err)
	}
	return c.applyDefaults(), nil
}
