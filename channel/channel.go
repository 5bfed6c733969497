// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package channel provides implementations of the peer.Channel interface.
package channel

import (
	"bufio"
	"io"
	"net"
	"sync"

	"github.com/forthix/xrt/peer"
)

// Direct constructs a connected pair of in-memory channels that pass packets
// without encoding them. Packets sent on A are received on B and vice versa.
// Closing either end closes the pair: pending and later operations on both
// ends report [net.ErrClosed].
func Direct() (A, B peer.Channel) {
	p := &pipe{ab: make(chan *peer.Packet), ba: make(chan *peer.Packet), done: make(chan struct{})}
	return end{p: p, out: p.ab, in: p.ba}, end{p: p, out: p.ba, in: p.ab}
}

// pipe is the state shared by the two ends of a Direct pair.
type pipe struct {
	ab, ba chan *peer.Packet
	once   sync.Once
	done   chan struct{}
}

type end struct {
	p   *pipe
	out chan<- *peer.Packet
	in  <-chan *peer.Packet
}

// Send implements a method of the [peer.Channel] interface.
func (e end) Send(pkt *peer.Packet) error {
	select {
	case <-e.p.done:
		return net.ErrClosed
	default:
	}
	select {
	case e.out <- pkt:
		return nil
	case <-e.p.done:
		return net.ErrClosed
	}
}

// Recv implements a method of the [peer.Channel] interface.
func (e end) Recv() (*peer.Packet, error) {
	select {
	case pkt := <-e.in:
		return pkt, nil
	case <-e.p.done:
		return nil, net.ErrClosed
	}
}

// Close implements a method of the [peer.Channel] interface.
func (e end) Close() error {
	e.p.once.Do(func() { close(e.p.done) })
	return nil
}

// IO constructs a channel that receives from r and sends to wc. Closing the
// channel closes wc.
func IO(r io.Reader, wc io.WriteCloser) *IOChannel {
	return &IOChannel{r: bufio.NewReader(r), w: bufio.NewWriter(wc), c: wc}
}

// Conn constructs a channel that exchanges packets over a network connection.
func Conn(conn net.Conn) *IOChannel { return IO(conn, conn) }

// An IOChannel exchanges binary-encoded packets on a reader and a writer.
// Concurrent sends are serialized; receives must not be concurrent.
type IOChannel struct {
	r *bufio.Reader
	c io.Closer

	μ sync.Mutex
	w *bufio.Writer
}

// Send implements a method of the [peer.Channel] interface.
func (c *IOChannel) Send(pkt *peer.Packet) error {
	c.μ.Lock()
	defer c.μ.Unlock()
	if _, err := pkt.WriteTo(c.w); err != nil {
		return err
	}
	return c.w.Flush()
}

// Recv implements a method of the [peer.Channel] interface.
func (c *IOChannel) Recv() (*peer.Packet, error) {
	pkt := new(peer.Packet)
	if _, err := pkt.ReadFrom(c.r); err != nil {
		return nil, err
	}
	return pkt, nil
}

// Close implements a method of the [peer.Channel] interface.
func (c *IOChannel) Close() error { return c.c.Close() }
