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
	"math/rand"
)

// PeerIDFixture returns a randomly generated PeerID, for use in tests.
func PeerIDFixture() PeerID {
	p, err := RandomPeerID()
	if err != nil {
		panic(err)
	}
	return p
}

// Sha1HashFixture returns a randomly generated Sha1Hash, for use in tests.
func Sha1HashFixture() Sha1Hash {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return HashBytes(b[:])
}

// PeerAddrFixture returns a randomly generated PeerAddr, for use in tests.
func PeerAddrFixture() PeerAddr {
	return PeerAddr{
		PeerID: PeerIDFixture(),
		IP:     fmt.Sprintf("127.0.0.%d", 1+rand.Intn(254)),
		Port:   1024 + rand.Intn(40000),
	}
}

// PeerInfoFixture returns a randomly generated PeerInfo, for use in tests.
func PeerInfoFixture() *PeerInfo {
	a := PeerAddrFixture()
	return NewPeerInfo(a.PeerID, a.IP, a.Port, false)
}
