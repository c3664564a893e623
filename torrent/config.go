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
	"time"

	"github.com/kraken-labs/bitweave/choker"
	"github.com/kraken-labs/bitweave/peerstats"
	"github.com/kraken-labs/bitweave/picker"
	"github.com/kraken-labs/bitweave/session"
	"github.com/kraken-labs/bitweave/tracker"
)

// Config aggregates every subsystem's configuration into the single object
// a Torrent is constructed from, mirroring the nested Config composition of
// lib/torrent/scheduler's own top-level Config.
type Config struct {
	Session   session.Config     `yaml:"session"`
	Picker    picker.Config      `yaml:"picker"`
	Choker    choker.Config      `yaml:"choker"`
	Tracker   tracker.Config     `yaml:"tracker"`
	Announce  tracker.LoopConfig `yaml:"announce"`
	PeerStats peerstats.Config   `yaml:"peer_stats"`

	// DialTimeout bounds how long outbound peer connection attempts may
	// take before being abandoned.
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

func (c Config) applyDefaults() Config {
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	return c
}
