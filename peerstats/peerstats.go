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

// Package peerstats tracks rolling upload/download throughput for a single
// peer connection over a fixed time window.
package peerstats

import (
	"time"

	"github.com/andres-erbsen/clock"
)

// Config defines ThroughputRate configuration.
type Config struct {

	// Window is the duration over which bytes transferred are averaged into
	// a rate. Entries older than Window are evicted before every query.
	Window time.Duration `yaml:"window"`
}

func (c Config) applyDefaults() Config {
	if c.Window == 0 {
		c.Window = 20 * time.Second
	}
	return c
}

type record struct {
	t     time.Time
	bytes int64
}

// ThroughputRate holds a FIFO of (timestamp, bytes) entries within a fixed
// window and computes a bytes/second rate from them. Not thread-safe:
// callers owning a PeerStats are expected to serialize access the same way
// they serialize the rest of their per-peer state.
type ThroughputRate struct {
	clk     clock.Clock
	window  time.Duration
	records []record
	total   int64
}

func newThroughputRate(clk clock.Clock, window time.Duration) *ThroughputRate {
	return &ThroughputRate{clk: clk, window: window}
}

// Record appends n bytes at the current time, then evicts any entries older
// than the window.
func (r *ThroughputRate) Record(n int64) {
	r.records = append(r.records, record{r.clk.Now(), n})
	r.total += n
	r.evict()
}

// Rate returns the current bytes/second rate over the window, after
// evicting stale entries.
func (r *ThroughputRate) Rate() float64 {
	r.evict()
	if r.window <= 0 {
		return 0
	}
	return float64(r.total) / r.window.Seconds()
}

func (r *ThroughputRate) evict() {
	cutoff := r.clk.Now().Add(-r.window)
	i := 0
	for i < len(r.records) && r.records[i].t.Before(cutoff) {
		r.total -= r.records[i].bytes
		i++
	}
	if i > 0 {
		r.records = r.records[i:]
	}
}

// PeerStats wraps an upload and a download ThroughputRate for a single
// remote peer.
type PeerStats struct {
	Upload   *ThroughputRate
	Download *ThroughputRate
}

// New creates a PeerStats whose rates are computed over config.Window.
func New(config Config, clk clock.Clock) *PeerStats {
	config = config.applyDefaults()
	return &PeerStats{
		Upload:   newThroughputRate(clk, config.Window),
		Download: newThroughputRate(clk, config.Window),
	}
}
