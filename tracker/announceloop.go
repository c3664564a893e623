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
package tracker

import (
	"context"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/kraken-labs/bitweave/core"
)

// LoopConfig defines AnnounceLoop configuration.
type LoopConfig struct {

	// DefaultInterval is used for the first announce and whenever the
	// tracker returns an interval of zero.
	DefaultInterval time.Duration `yaml:"default_interval"`

	// MaxBackoffInterval caps the capped exponential backoff applied after
	// a failed announce, per §7's "retries after its interval with
	// exponential backoff capped".
	MaxBackoffInterval time.Duration `yaml:"max_backoff_interval"`
}

func (c LoopConfig) applyDefaults() LoopConfig {
	if c.DefaultInterval == 0 {
		c.DefaultInterval = 30 * time.Second
	}
	if c.MaxBackoffInterval == 0 {
		c.MaxBackoffInterval = 5 * time.Minute
	}
	return c
}

// AnnounceLoop runs a single torrent's tracker announce loop: one task that
// re-announces at the tracker-supplied interval, retrying failed announces
// with capped exponential backoff instead of busy-looping or giving up.
type AnnounceLoop struct {
	config LoopConfig
	client *Client
	clk    clock.Clock
	logger *zap.SugaredLogger
}

// NewAnnounceLoop creates an AnnounceLoop driving announces through client.
func NewAnnounceLoop(config LoopConfig, client *Client, clk clock.Clock, logger *zap.SugaredLogger) *AnnounceLoop {
	return &AnnounceLoop{config: config.applyDefaults(), client: client, clk: clk, logger: logger}
}

// Run announces on request() repeatedly, delivering each successful
// response's peers to onPeers, until done is closed. A failed announce is
// retried after a capped exponential backoff; a successful announce resets
// the backoff and waits for the tracker's returned interval (or
// Config.DefaultInterval if the tracker returned zero) before announcing
// again.
func (l *AnnounceLoop) Run(ctx context.Context, request func() AnnounceRequest, onPeers func([]core.PeerAddr), done <-chan struct{}) {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = l.config.MaxBackoffInterval
	b.MaxElapsedTime = 0 // Never give up; the loop itself is long-running.

	wait := time.Duration(0)
	for {
		timer := l.clk.Timer(wait)
		select {
		case <-done:
			timer.Stop()
			return
		case <-timer.C:
		}

		resp, err := l.client.Announce(ctx, request())
		if err != nil {
			wait = b.NextBackOff()
			l.logger.Warnw("Tracker announce failed, backing off", "error", err, "wait", wait)
			continue
		}

		b.Reset()
		onPeers(resp.Peers)

		interval := time.Duration(resp.Interval) * time.Second
		if interval <= 0 {
			interval = l.config.DefaultInterval
		}
		wait = interval
	}
}
