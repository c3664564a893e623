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
package core

import (
	"fmt"
	"sort"
)

// PeerAddr is a peer address record as returned by a tracker: an IP and
// port, with an optional 20-byte peer id (compact tracker responses omit
// the id).
type PeerAddr struct {
	PeerID PeerID
	IP     string
	Port   int
}

// HasPeerID reports whether a was constructed with a known peer id.
func (a PeerAddr) HasPeerID() bool {
	return a.PeerID != PeerID{}
}

// String implements fmt.Stringer.
func (a PeerAddr) String() string {
	return fmt.Sprintf("%s:%d", a.IP, a.Port)
}

// PeerInfo defines peer metadata scoped to a torrent, including locally
// observed state (whether we believe the peer has completed downloading).
type PeerInfo struct {
	PeerID   PeerID `json:"peer_id"`
	IP       string `json:"ip"`
	Port     int    `json:"port"`
	Complete bool   `json:"complete"`
}

// NewPeerInfo creates a new PeerInfo.
func NewPeerInfo(peerID PeerID, ip string, port int, complete bool) *PeerInfo {
	return &PeerInfo{
		PeerID:   peerID,
		IP:       ip,
		Port:     port,
		Complete: complete,
	}
}

// Addr returns the PeerAddr this PeerInfo was derived from.
func (p *PeerInfo) Addr() PeerAddr {
	return PeerAddr{PeerID: p.PeerID, IP: p.IP, Port: p.Port}
}

// PeerInfoFromAddr derives a PeerInfo from a tracker-supplied address.
func PeerInfoFromAddr(a PeerAddr, complete bool) *PeerInfo {
	return NewPeerInfo(a.PeerID, a.IP, a.Port, complete)
}

// PeerInfos groups PeerInfo structs for sorting.
type PeerInfos []*PeerInfo

// Len for sorting.
func (s PeerInfos) Len() int { return len(s) }

// Swap for sorting.
func (s PeerInfos) Swap(i, j int) { s[i], s[j] = s[j], s[i] }

// PeersByPeerID sorts PeerInfos by peer id.
type PeersByPeerID struct{ PeerInfos }

// Less for sorting.
func (s PeersByPeerID) Less(i, j int) bool {
	return s.PeerInfos[i].PeerID.LessThan(s.PeerInfos[j].PeerID)
}

// SortedByPeerID returns a copy of peers sorted by peer id.
func SortedByPeerID(peers []*PeerInfo) []*PeerInfo {
	c := make([]*PeerInfo, len(peers))
	copy(c, peers)
	sort.Sort(PeersByPeerID{PeerInfos(c)})
	return c
}
