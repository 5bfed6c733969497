// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package peer implements the multiplexed call channel that carries remote
// word executions between runtimes.
//
// Peers exchange binary packets over a shared reliable channel. Each packet is
// a request, a response, or a cancellation. A peer can have any number of
// calls outstanding at once; each is tagged with a request ID and the response
// is routed back to the waiting caller by that ID, in whatever order the
// responses arrive.
//
// # Peers
//
// To create a new, unstarted peer and run it on a channel:
//
//	p := peer.New().Start(ch)
//
// The peer runs until [Peer.Stop] is called, the channel is closed by the
// remote peer, or a protocol fatal error occurs. Call [Peer.Wait] to wait for
// the peer to exit and return its status.
//
// When a peer exits, every call still waiting for a response fails with an
// error instead of blocking forever.
//
// # Calls
//
// Methods are identified by 32-bit IDs. The catalog package maps method names
// to IDs. To serve inbound calls, register a handler:
//
//	p.Handle(7, func(ctx context.Context, req *peer.Request) ([]byte, error) {
//	   return req.Data, nil
//	})
//
// To issue a call to the remote peer:
//
//	rsp, err := p.Call(ctx, 7, []byte("some data"))
//
// Errors returned by Call have concrete type [*CallError].
//
// # Metrics
//
// Peers update a process-wide collection of counters, available from
// [Metrics]:
//
//   - packets_received: counter of packets received
//   - packets_sent: counter of packets sent
//   - packets_dropped: counter of packets received and discarded
//   - calls_in: counter of inbound call requests received
//   - calls_in_failed: counter of inbound call requests resulting in errors
//   - calls_active: gauge of inbound calls currently active
//   - calls_out: counter of outbound call requests sent
//   - calls_out_failed: counter of outbound call requests resulting in errors
//   - cancels_in: counter of cancellation requests received
//   - calls_pending: gauge of outbound calls currently pending
package peer
