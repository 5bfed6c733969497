// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creachadair/taskgroup"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("xrt.peer")

// A Channel is a reliable ordered stream of packets shared by two peers.
//
// The methods of an implementation must be safe for concurrent use by one
// sender and one receiver.
type Channel interface {
	// Send the packet to the receiver.
	Send(*Packet) error

	// Receive the next available packet from the channel.
	Recv() (*Packet, error)

	// Close the channel, causing any pending send or receive operations to
	// terminate and report an error. After a channel is closed, all further
	// operations on it must report an error.
	Close() error
}

// A Handler processes a request from the remote peer.  A handler can obtain
// the peer from its context argument using [ContextPeer].
//
// An error reported by a handler is returned to the caller as a service
// error with code 0 and the text of the error. A handler may return a value
// of type ErrorData or *ErrorData to control the code and auxiliary data.
type Handler func(context.Context, *Request) ([]byte, error)

// A PacketLogger logs a packet exchanged with the remote peer.
type PacketLogger func(pkt PacketInfo)

// A PacketInfo combines a packet and a flag indicating whether the packet was
// sent or received.
type PacketInfo struct {
	*Packet      // the packet being logged
	Sent    bool // whether the packet was sent (true) or received (false)
}

func (p PacketInfo) String() string {
	if p.Sent {
		return fmt.Sprintf("send %v", p.Packet)
	}
	return fmt.Sprintf("recv %v", p.Packet)
}

// A Peer is one end of a multiplexed call channel. A zero Peer is ready for
// use, but must not be copied after any method has been called.
//
// Call Start with a channel to start the service routine for the peer.  Once
// started, a peer runs until Stop is called, the channel closes, or a
// protocol fatal error occurs. Use Wait to wait for the peer to exit.
//
// Any number of goroutines may issue calls concurrently. Each call is
// assigned a request ID that is unique among the calls pending on the peer,
// and the response is routed back to its caller by that ID regardless of the
// order in which responses arrive.
type Peer struct {
	in  interface{ Recv() (*Packet, error) }
	out struct {
		// Must hold the lock to send to or set ch.
		sync.Mutex
		ch Channel
	}
	tasks *taskgroup.Group

	μ sync.Mutex

	err   error                  // protocol fatal error
	ocall map[uint32]pending     // outbound calls pending responses
	nexto uint32                 // last assigned outbound call ID
	icall map[uint32]func()      // requestID → cancel func
	imux  map[uint32]Handler     // methodID → handler
	base  func() context.Context // return a new base context

	onExit func(error)
	plog   atomic.Pointer[PacketLogger]
}

// New constructs a new unstarted peer.
func New() *Peer { return new(Peer) }

// Start starts the peer running on the given channel, and returns p.  Start
// does not block; call Wait to wait for the peer to exit.  Start panics if p
// is already running.
func (p *Peer) Start(ch Channel) *Peer {
	p.μ.Lock()
	defer p.μ.Unlock()
	if p.in != nil {
		panic("peer is already started")
	}

	g := taskgroup.New(nil)
	p.in = ch
	p.tasks = g
	p.out.Lock()
	p.out.ch = ch
	p.out.Unlock()
	p.err = nil
	p.ocall = make(map[uint32]pending)
	p.nexto = 0
	p.icall = make(map[uint32]func())
	if p.base == nil {
		p.base = context.Background
	}

	in := p.in
	g.Go(func() error {
		for {
			pkt, err := in.Recv()
			if err != nil {
				p.fail(err)
				return nil
			}
			metrics.packetRecv.Add(1)
			if err := p.dispatchPacket(pkt); err != nil {
				p.fail(err)
				return nil
			}
		}
	})
	return p
}

// Stop closes the channel and terminates the peer. It blocks until the peer
// has exited and returns its status. After Stop completes it is safe to
// restart the peer with a new channel.
func (p *Peer) Stop() error { p.closeOut(); return p.Wait() }

func treatErrorAsSuccess(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

// Wait blocks until p terminates and reports the error that caused it to
// stop. If p is not running, or stopped because its channel closed, Wait
// returns nil.
func (p *Peer) Wait() error {
	p.μ.Lock()
	t := p.tasks
	p.μ.Unlock()
	if t == nil {
		return nil // the peer is not running
	}
	t.Wait()

	p.μ.Lock()
	defer p.μ.Unlock()
	p.in = nil
	p.tasks = nil
	p.out.Lock()
	p.out.ch = nil
	p.out.Unlock()
	p.ocall = nil
	p.icall = nil

	if treatErrorAsSuccess(p.err) {
		return nil
	}
	return p.err
}

// Call sends a call to the remote peer for the specified method and data, and
// blocks until ctx ends or the response arrives. If ctx ends first, the call
// is cancelled on the remote peer.  An error reported by Call has concrete
// type *CallError.
func (p *Peer) Call(ctx context.Context, method uint32, data []byte) (_ *Response, err error) {
	metrics.callOut.Add(1)
	defer func() {
		if err != nil {
			metrics.callOutErr.Add(1)
		}
	}()

	id, pc, err := p.sendReq(method, data)
	if err != nil {
		return nil, &CallError{Err: err}
	}
	metrics.callPending.Add(1)
	defer metrics.callPending.Add(-1)

	done := ctx.Done()
	for {
		select {
		case <-done:
			// Push a cancellation to the remote peer, then keep waiting for the
			// response so the request ID is not released early.
			p.sendCancel(id)
			done = nil

			// Give up after a grace period even if the remote peer never replies.
			// The ID stays pinned so a later call cannot collide with it.
			ct := time.AfterFunc(50*time.Millisecond, func() {
				p.μ.Lock()
				defer p.μ.Unlock()
				if pc, ok := p.ocall[id]; ok {
					p.ocall[id] = nil
					pc.deliver(&Response{RequestID: id, Code: CodeCanceled})
				}
			})
			defer ct.Stop()

		case rsp, ok := <-pc:
			if !ok {
				// Closed without a response: the peer failed.
				return nil, &CallError{Err: fmt.Errorf("call terminated: %w", p.exitErr())}
			}
			switch rsp.Code {
			case CodeSuccess:
				return rsp, nil
			case CodeCanceled:
				cerr := context.Cause(ctx)
				if cerr == nil {
					cerr = context.Canceled
				}
				return nil, &CallError{Err: cerr, Response: rsp}
			}
			ce := &CallError{Response: rsp}
			if err := ce.ErrorData.Decode(rsp.Data); err != nil {
				ce.Message = err.Error()
			}
			return nil, ce
		}
	}
}

func (p *Peer) exitErr() error {
	p.μ.Lock()
	defer p.μ.Unlock()
	if p.err == nil || treatErrorAsSuccess(p.err) {
		return net.ErrClosed
	}
	return p.err
}

// resultCoder is an extension interface an error may implement to override
// the result code reported for the error.
type resultCoder interface{ ResultCode() ResultCode }

// ErrUnknownMethod is reported by Exec when no handler is defined for the
// requested method. A handler that returns it behaves as if it were absent.
var ErrUnknownMethod = errUnknownMethod{}

type errUnknownMethod struct{}

func (errUnknownMethod) Error() string          { return "unknown method" }
func (errUnknownMethod) ResultCode() ResultCode { return CodeUnknownMethod }

// Exec invokes the local handler on p for methodID, if one exists, without
// sending anything to the remote peer.
func (p *Peer) Exec(ctx context.Context, methodID uint32, data []byte) ([]byte, error) {
	p.μ.Lock()
	handler, ok := p.imux[methodID]
	p.μ.Unlock()
	if !ok {
		return nil, ErrUnknownMethod
	}
	return handler(ctx, &Request{MethodID: methodID, Data: data})
}

// Handle registers a handler for the specified method ID, and returns p to
// permit chaining. It is safe to call while the peer is running. A nil
// handler removes any handler for the ID.
func (p *Peer) Handle(methodID uint32, handler Handler) *Peer {
	p.μ.Lock()
	defer p.μ.Unlock()
	if p.imux == nil {
		p.imux = make(map[uint32]Handler)
	}
	if handler == nil {
		delete(p.imux, methodID)
	} else {
		p.imux[methodID] = handler
	}
	return p
}

// LogPackets registers a callback invoked synchronously for each packet
// exchanged with the remote peer. A nil callback disables packet logging.
func (p *Peer) LogPackets(f PacketLogger) *Peer {
	if f == nil {
		p.plog.Store(nil)
	} else {
		p.plog.Store(&f)
	}
	return p
}

func (p *Peer) logPacket(pkt *Packet, sent bool) {
	if plog := p.plog.Load(); plog != nil {
		(*plog)(PacketInfo{Packet: pkt, Sent: sent})
	}
}

// OnExit registers a callback invoked when the peer terminates, with the same
// error value that Wait would report. If f == nil the callback is removed.
func (p *Peer) OnExit(f func(error)) *Peer {
	p.μ.Lock()
	defer p.μ.Unlock()
	p.onExit = f
	return p
}

// NewContext registers a function that creates the base context for method
// handlers. If it is not set, a background context is used.
func (p *Peer) NewContext(base func() context.Context) *Peer {
	p.μ.Lock()
	defer p.μ.Unlock()
	if base == nil {
		p.base = context.Background
	} else {
		p.base = base
	}
	return p
}

// fail terminates all pending calls and records the failure status.
func (p *Peer) fail(err error) {
	p.closeOut()

	p.μ.Lock()
	defer p.μ.Unlock()

	for _, pc := range p.ocall {
		pc.close()
	}
	p.ocall = nil

	for _, stop := range p.icall {
		stop()
	}
	p.icall = nil

	p.err = err
	if treatErrorAsSuccess(err) {
		err = nil
	} else {
		log.Warning("peer failed", "error", err)
	}
	if p.onExit != nil {
		p.onExit(err)
	}
}

func (p *Peer) sendRsp(rsp *Response) {
	p.μ.Lock()
	delete(p.icall, rsp.RequestID)
	err := p.err
	p.μ.Unlock()

	if err != nil {
		return
	}
	if err := p.sendOut(&Packet{Type: PacketResponse, Payload: rsp.Encode()}); err != nil {
		p.closeOut()
	}
}

// sendReq sends a request packet for the given method and data.  It does not
// wait for the reply, which will be delivered on the returned pending channel.
func (p *Peer) sendReq(method uint32, data []byte) (uint32, pending, error) {
	p.μ.Lock()
	if p.tasks == nil {
		p.μ.Unlock()
		return 0, nil, errors.New("peer is not running")
	} else if err := p.err; err != nil {
		p.μ.Unlock()
		return 0, nil, err
	}
	p.nexto++
	for _, used := p.ocall[p.nexto]; used || p.nexto == 0; _, used = p.ocall[p.nexto] {
		p.nexto++
	}
	id := p.nexto
	pc := make(pending, 1)
	p.ocall[id] = pc
	p.μ.Unlock()

	// Do not hold the state lock while sending, or the receiver cannot
	// dispatch packets.
	err := p.sendOut(&Packet{
		Type:    PacketRequest,
		Payload: Request{RequestID: id, MethodID: method, Data: data}.Encode(),
	})

	p.μ.Lock()
	defer p.μ.Unlock()
	if err != nil {
		p.releaseIDLocked(id)
		return 0, nil, err
	}
	return id, pc, nil
}

func (p *Peer) sendCancel(id uint32) {
	if err := p.sendOut(&Packet{
		Type:    PacketCancel,
		Payload: Cancel{RequestID: id}.Encode(),
	}); err != nil {
		p.closeOut() // protocol fatal
	}
}

// dispatchRequestLocked starts a handler for an inbound request. It replies
// directly for a duplicate request ID or an unknown method.
func (p *Peer) dispatchRequestLocked(req *Request) (err error) {
	metrics.callIn.Add(1)
	defer func() {
		if err != nil {
			metrics.callInErr.Add(1)
		}
	}()

	if _, ok := p.icall[req.RequestID]; ok {
		return p.sendOut(&Packet{
			Type:    PacketResponse,
			Payload: Response{RequestID: req.RequestID, Code: CodeDuplicateID}.Encode(),
		})
	}

	handler, ok := p.imux[req.MethodID]
	if !ok {
		return p.sendOut(&Packet{
			Type:    PacketResponse,
			Payload: Response{RequestID: req.RequestID, Code: CodeUnknownMethod}.Encode(),
		})
	}

	pctx := context.WithValue(p.base(), peerContextKey{}, p)
	ctx, cancel := context.WithCancel(pctx)
	p.icall[req.RequestID] = cancel
	metrics.callActive.Add(1)

	p.tasks.Go(func() error {
		defer cancel()
		defer metrics.callActive.Add(-1)

		data, err := func() (_ []byte, err error) {
			defer func() {
				if x := recover(); x != nil && err == nil {
					err = fmt.Errorf("handler panicked (recovered): %v", x)
				}
			}()
			return handler(ctx, req)
		}()

		rsp := &Response{RequestID: req.RequestID}
		var ed *ErrorData
		switch {
		case ctx.Err() != nil || err == context.Canceled || err == context.DeadlineExceeded:
			// The call ended by cancellation even if the handler ignored it.
			rsp.Code = CodeCanceled
		case err == nil:
			rsp.Code = CodeSuccess
			rsp.Data = data
		case errors.As(err, &ed):
			rsp.Code = CodeServiceError
			rsp.Data = ed.Encode()
		default:
			if rc, ok := err.(resultCoder); ok {
				rsp.Code = rc.ResultCode()
			} else if v, ok := err.(ErrorData); ok {
				rsp.Code = CodeServiceError
				rsp.Data = v.Encode()
			} else {
				rsp.Code = CodeServiceError
				rsp.Data = ErrorData{Message: err.Error()}.Encode()
			}
		}
		p.sendRsp(rsp)
		return nil
	})
	return nil
}

// dispatchPacket routes an inbound packet. Any error it reports is protocol
// fatal.
func (p *Peer) dispatchPacket(pkt *Packet) error {
	p.logPacket(pkt, false)

	switch pkt.Type {
	case PacketRequest:
		var req Request
		if err := req.Decode(pkt.Payload); err != nil {
			return fmt.Errorf("invalid request packet: %w", err)
		}
		p.μ.Lock()
		defer p.μ.Unlock()
		return p.dispatchRequestLocked(&req)

	case PacketCancel:
		var can Cancel
		if err := can.Decode(pkt.Payload); err != nil {
			return fmt.Errorf("invalid cancel packet: %w", err)
		}
		metrics.cancelIn.Add(1)
		p.μ.Lock()
		defer p.μ.Unlock()
		if stop, ok := p.icall[can.RequestID]; ok {
			stop()
		}

	case PacketResponse:
		var rsp Response
		if err := rsp.Decode(pkt.Payload); err != nil {
			return fmt.Errorf("invalid response packet: %w", err)
		}
		p.μ.Lock()
		defer p.μ.Unlock()
		pc, ok := p.ocall[rsp.RequestID]
		if !ok {
			// Discard responses for unknown request IDs.
			metrics.packetDropped.Add(1)
			return nil
		}
		p.releaseIDLocked(rsp.RequestID)
		pc.deliver(&rsp) // does not block

	default:
		metrics.packetDropped.Add(1)
	}
	return nil
}

func (p *Peer) releaseIDLocked(id uint32) { delete(p.ocall, id) }

func (p *Peer) sendOut(pkt *Packet) error {
	p.out.Lock()
	defer p.out.Unlock()
	if p.out.ch == nil {
		return net.ErrClosed
	}
	metrics.packetSent.Add(1)
	p.logPacket(pkt, true)
	return p.out.ch.Send(pkt)
}

func (p *Peer) closeOut() {
	p.out.Lock()
	defer p.out.Unlock()
	if p.out.ch != nil {
		p.out.ch.Close()
	}
}

// pending is a single-use delivery slot for the response to one call.
// A nil pending marks a request ID pinned after a local cancellation.
type pending chan *Response

func (p pending) close() {
	if p != nil {
		close(p)
	}
}

func (p pending) deliver(r *Response) {
	if p != nil {
		p <- r
		close(p)
	}
}

// CallError is the concrete type of errors reported by [Peer.Call].  For
// service errors Err is nil and ErrorData holds the details.  For errors
// arising from a response, Response holds the complete response.
type CallError struct {
	ErrorData
	Err      error     // nil for service errors
	Response *Response // set if the error came from a call response
}

// Unwrap reports the underlying error of c. If c.Err == nil, this is nil.
func (c *CallError) Unwrap() error { return c.Err }

// Error satisfies the error interface.
func (c *CallError) Error() string {
	if c.Err != nil {
		return c.Err.Error()
	} else if c.Response.Code == CodeServiceError {
		return fmt.Sprintf("service error: %v", c.ErrorData.Error())
	}
	return fmt.Sprintf("request %d: %s", c.Response.RequestID, c.Response.Code)
}

type peerContextKey struct{}

// ContextPeer returns the Peer associated with ctx, or nil if none is
// defined.  The context passed to a method Handler has this value.
func ContextPeer(ctx context.Context) *Peer {
	if v := ctx.Value(peerContextKey{}); v != nil {
		return v.(*Peer)
	}
	return nil
}

// SplitAddress parses an address string to guess a network type and target.
//
// If s does not have the form [host]:port, the network is "unix".  The
// network is also "unix" if port is empty or contains characters other than
// ASCII letters, digits, and "-", or if host contains a "/".  Otherwise the
// network is "tcp". SplitAddress does not check that the address is valid.
func SplitAddress(s string) (network, address string) {
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return "unix", s
	}
	host, port := s[:i], s[i+1:]
	if port == "" || !isServiceName(port) || strings.Contains(host, "/") {
		return "unix", s
	}
	return "tcp", s
}

// isServiceName reports whether s looks like a service name from the
// services(5) file: ASCII letters, digits, and "-".
func isServiceName(s string) bool {
	for _, b := range s {
		if b >= '0' && b <= '9' || b >= 'A' && b <= 'Z' || b >= 'a' && b <= 'z' || b == '-' {
			continue
		}
		return false
	}
	return true
}
