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
package session

import "time"

// Config defines Session configuration.
type Config struct {

	// ConnectTimeout bounds dialing a peer's listening address.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// HandshakeTimeout bounds the handshake exchange once a socket is open.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	// InboundIdleTimeout is the longest silence tolerated from a peer
	// before the session considers it dead and disconnects.
	InboundIdleTimeout time.Duration `yaml:"inbound_idle_timeout"`

	// KeepAliveInterval is the longest the session will go without sending
	// anything before it sends an explicit KeepAlive.
	KeepAliveInterval time.Duration `yaml:"keep_alive_interval"`

	// TickInterval is the cadence of the session's periodic housekeeping:
	// keep-alive, new block requests, dead-peer detection.
	TickInterval time.Duration `yaml:"tick_interval"`

	// RequestWindow bounds how many block requests may be outstanding to
	// this peer at once.
	RequestWindow int `yaml:"request_window"`

	// SenderBufferSize is the size of the outbound message channel.
	SenderBufferSize int `yaml:"sender_buffer_size"`

	// ReceiverBufferSize is the size, in KiB, of the buffer each socket read
	// fills.
	ReceiverBufferSize int `yaml:"receiver_buffer_size"`
}

func (c Config) applyDefaults() Config {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 30 * time.Second
	}
	if c.InboundIdleTimeout == 0 {
		c.InboundIdleTimeout = 2 * time.Minute
	}
	if c.KeepAliveInterval == 0 {
		c.KeepAliveInterval = 2 * time.Minute
	}
	if c.TickInterval == 0 {
		c.TickInterval = time.Second
	}
	if c.RequestWindow == 0 {
		c.RequestWindow = 10
	}
	if c.SenderBufferSize == 0 {
		c.SenderBufferSize = 256
	}
	if c.ReceiverBufferSize == 0 {
		c.ReceiverBufferSize = 256
	}
	return c
}
