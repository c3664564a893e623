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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPeerAddrHasPeerID(t *testing.T) {
	require := require.New(t)

	var a PeerAddr
	require.False(a.HasPeerID())

	a.PeerID = PeerIDFixture()
	require.True(a.HasPeerID())
}

func TestPeerAddrString(t *testing.T) {
	require := require.New(t)

	a := PeerAddr{IP: "10.0.0.1", Port: 6881}
	require.Equal("10.0.0.1:6881", a.String())
}

func TestPeerInfoFromAddr(t *testing.T) {
	require := require.New(t)

	a := PeerAddrFixture()
	p := PeerInfoFromAddr(a, true)
	require.Equal(a.PeerID, p.PeerID)
	require.Equal(a.IP, p.IP)
	require.Equal(a.Port, p.Port)
	require.True(p.Complete)
	require.Equal(a, p.Addr())
}

func TestSortedByPeerID(t *testing.T) {
	require := require.New(t)

	a := NewPeerInfo(PeerID{0x02}, "10.0.0.1", 6881, false)
	b := NewPeerInfo(PeerID{0x01}, "10.0.0.2", 6882, false)
	c := NewPeerInfo(PeerID{0x03}, "10.0.0.3", 6883, false)

	in := []*PeerInfo{a, b, c}
	sorted := SortedByPeerID(in)
	require.Equal([]*PeerInfo{b, a, c}, sorted)

	// Original slice is untouched.
	require.Equal([]*PeerInfo{a, b, c}, in)
}
