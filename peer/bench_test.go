// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package peer_test

import (
	"context"
	"testing"

	"github.com/forthix/xrt/peer"
	"github.com/forthix/xrt/peers"
)

func noop(context.Context, *peer.Request) ([]byte, error)       { return nil, nil }
func echo(_ context.Context, req *peer.Request) ([]byte, error) { return req.Data, nil }

func BenchmarkCall(b *testing.B) {
	var payload = []byte("1 2 + 3 * DUP DROP 9 SWAP /")

	b.Run("Direct-noop", func(b *testing.B) {
		loc := peers.NewLocal()
		defer loc.Stop()

		loc.A.Handle(1, noop)
		runBench(b, loc.B, nil)
	})
	b.Run("Direct-echo", func(b *testing.B) {
		loc := peers.NewLocal()
		defer loc.Stop()

		loc.A.Handle(1, echo)
		runBench(b, loc.B, payload)
	})

	b.Run("IO-noop", func(b *testing.B) {
		pa, pb := pipePeers(b)
		pa.Handle(1, noop)
		runBench(b, pb, nil)
	})
	b.Run("IO-echo", func(b *testing.B) {
		pa, pb := pipePeers(b)
		pa.Handle(1, echo)
		runBench(b, pb, payload)
	})
}

func runBench(b *testing.B, p *peer.Peer, data []byte) {
	b.Helper()
	ctx := context.Background()

	for b.Loop() {
		if _, err := p.Call(ctx, 1, data); err != nil {
			b.Fatal(err)
		}
	}
}
