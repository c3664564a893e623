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

// Package tracker implements the classic BitTorrent HTTP tracker protocol:
// building the announce GET request and decoding its bencoded
// compact-or-list peer response.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kraken-labs/bitweave/bencode"
	"github.com/kraken-labs/bitweave/core"
)

// ErrTrackerFailure returns when the tracker responds with a "failure
// reason" dictionary instead of a peer list.
var ErrTrackerFailure = errors.New("tracker: announce failed")

// Event is the optional lifecycle event reported in an announce request.
type Event string

// Announce events.
const (
	EventNone      Event = ""
	EventStarted   Event = "started"
	EventStopped   Event = "stopped"
	EventCompleted Event = "completed"
)

// Config defines Client configuration.
type Config struct {

	// RequestTimeout bounds a single announce HTTP request.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Compact requests the compact peer response format.
	Compact bool `yaml:"compact"`
}

func (c Config) applyDefaults() Config {
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	return c
}

// AnnounceRequest bundles the parameters of a single tracker announce.
type AnnounceRequest struct {
	InfoHash   core.Sha1Hash
	PeerID     core.PeerID
	Port       int
	Uploaded   int64
	Downloaded int64
	Left       int64
	IP         string
	Event      Event
}

// AnnounceResponse is the decoded result of a successful announce.
type AnnounceResponse struct {
	Interval uint64
	Peers    []core.PeerAddr
}

type rawResponse struct {
	Interval uint64        `bencode:"interval"`
	Peers    bencode.Bytes `bencode:"peers"`
	Failure  string        `bencode:"failure reason,omitempty"`
}

type peerDict struct {
	ID   string `bencode:"peer id,omitempty"`
	IP   string `bencode:"ip"`
	Port int    `bencode:"port"`
}

// Client announces to a single tracker's HTTP endpoint.
type Client struct {
	config     Config
	announce   string
	httpClient *http.Client
}

// New creates a Client that announces to the given tracker URL.
func New(config Config, announce string) (*Client, error) {
	config = config.applyDefaults()
	if _, err := url.Parse(announce); err != nil {
		return nil, fmt.Errorf("tracker: invalid announce url: %s", err)
	}
	return &Client{
		config:     config,
		announce:   announce,
		httpClient: &http.Client{Timeout: config.RequestTimeout},
	}, nil
}

// Announce performs a single HTTP GET announce request and decodes the
// bencoded response.
func (c *Client) Announce(ctx context.Context, req AnnounceRequest) (*AnnounceResponse, error) {
	u, err := c.buildURL(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("tracker: build request: %s", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("tracker: announce request: %s", err)
	}
	defer resp.Body.Close()

	var raw rawResponse
	if err := bencode.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("tracker: decode response: %s", err)
	}
	if raw.Failure != "" {
		return nil, fmt.Errorf("%w: %s", ErrTrackerFailure, raw.Failure)
	}

	peers, err := decodePeers(raw.Peers)
	if err != nil {
		return nil, fmt.Errorf("tracker: decode peers: %s", err)
	}

	return &AnnounceResponse{Interval: raw.Interval, Peers: peers}, nil
}

func (c *Client) buildURL(req AnnounceRequest) (string, error) {
	v := url.Values{}
	v.Set("info_hash", string(req.InfoHash.Bytes()))
	v.Set("peer_id", string(req.PeerID[:]))
	v.Set("port", strconv.Itoa(req.Port))
	v.Set("uploaded", strconv.FormatInt(req.Uploaded, 10))
	v.Set("downloaded", strconv.FormatInt(req.Downloaded, 10))
	v.Set("left", strconv.FormatInt(req.Left, 10))
	if c.config.Compact {
		v.Set("compact", "1")
	} else {
		v.Set("compact", "0")
	}
	if req.IP != "" {
		v.Set("ip", req.IP)
	}
	if req.Event != EventNone {
		v.Set("event", string(req.Event))
	}

	sep := "?"
	if u, err := url.Parse(c.announce); err == nil && u.RawQuery != "" {
		sep = "&"
	}
	return c.announce + sep + v.Encode(), nil
}

// decodePeers dispatches on the raw bencoded "peers" value: a byte string
// is the compact format (6-byte IPv4+port records); a list is the
// dictionary-per-peer format.
func decodePeers(raw bencode.Bytes) ([]core.PeerAddr, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if raw[0] == 'l' {
		var dicts []peerDict
		if err := bencode.Unmarshal(raw, &dicts); err != nil {
			return nil, err
		}
		peers := make([]core.PeerAddr, len(dicts))
		for i, d := range dicts {
			var id core.PeerID
			if d.ID != "" {
				copy(id[:], d.ID)
			}
			peers[i] = core.PeerAddr{PeerID: id, IP: d.IP, Port: d.Port}
		}
		return peers, nil
	}

	var compact []byte
	if err := bencode.Unmarshal(raw, &compact); err != nil {
		return nil, err
	}
	return DecodeCompactPeers(compact)
}

// DecodeCompactPeers decodes the compact tracker peer format: concatenated
// 6-byte records of <4-byte big-endian IPv4><2-byte big-endian port>.
func DecodeCompactPeers(b []byte) ([]core.PeerAddr, error) {
	if len(b)%6 != 0 {
		return nil, fmt.Errorf("tracker: compact peers length %d not a multiple of 6", len(b))
	}
	n := len(b) / 6
	peers := make([]core.PeerAddr, n)
	for i := 0; i < n; i++ {
		off := i * 6
		ip := fmt.Sprintf("%d.%d.%d.%d", b[off], b[off+1], b[off+2], b[off+3])
		port := int(b[off+4])<<8 | int(b[off+5])
		peers[i] = core.PeerAddr{IP: ip, Port: port}
	}
	return peers, nil
}
