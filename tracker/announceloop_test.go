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
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kraken-labs/bitweave/core"
)

func TestAnnounceLoopDeliversPeersAndReschedules(t *testing.T) {
	require := require.New(t)

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte("d8:intervali5e5:peers0:e"))
	}))
	defer srv.Close()

	client, err := New(Config{}, srv.URL)
	require.NoError(err)

	clk := clock.NewMock()
	loop := NewAnnounceLoop(LoopConfig{}, client, clk, zap.NewNop().Sugar())

	var mu sync.Mutex
	var delivered int
	done := make(chan struct{})

	go loop.Run(context.Background(), func() AnnounceRequest {
		return AnnounceRequest{}
	}, func(peers []core.PeerAddr) {
		mu.Lock()
		delivered++
		mu.Unlock()
	}, done)

	clk.Add(0)
	require.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return delivered >= 1
	}, time.Second, time.Millisecond)

	clk.Add(5 * time.Second)
	require.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return delivered >= 2
	}, time.Second, time.Millisecond)

	close(done)
}

func TestAnnounceLoopBacksOffOnFailure(t *testing.T) {
	require := require.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("d14:failure reason4:nopee"))
	}))
	defer srv.Close()

	client, err := New(Config{}, srv.URL)
	require.NoError(err)

	clk := clock.NewMock()
	loop := NewAnnounceLoop(LoopConfig{MaxBackoffInterval: time.Minute}, client, clk, zap.NewNop().Sugar())

	done := make(chan struct{})
	go loop.Run(context.Background(), func() AnnounceRequest {
		return AnnounceRequest{}
	}, func(peers []core.PeerAddr) {}, done)

	// The loop should still be alive and retrying, not stuck, after several
	// backoff-sized advances; absence of a panic/deadlock is the assertion.
	for i := 0; i < 3; i++ {
		clk.Add(time.Minute)
		time.Sleep(time.Millisecond)
	}

	close(done)
}
