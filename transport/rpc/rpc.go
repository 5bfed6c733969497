// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package rpc implements an [xrt.Client] over a multiplexed peer connection.
//
// Many calls may be in flight on one connection at once. Each call carries a
// request ID, and replies are matched to callers by that ID in any order.
//
// Importing this package registers the address schemes "tcp", "unix" and
// "chirp" with [xrt.RegisterTransport]. For "chirp" addresses the network is
// inferred from the address as described by [peer.SplitAddress]:
//
//	cli, err := xrt.Dial(ctx, "tcp://localhost:50051", xrt.Config{Runtime: "python"})
package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync/atomic"

	"github.com/forthix/xrt"
	"github.com/forthix/xrt/catalog"
	"github.com/forthix/xrt/channel"
	"github.com/forthix/xrt/internal/wire"
	"github.com/forthix/xrt/peer"
	"github.com/forthix/xrt/peers"
	"github.com/forthix/xrt/server"
	"github.com/forthix/xrt/value"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("xrt.rpc")

func init() {
	xrt.RegisterTransport("tcp", dialer("tcp"))
	xrt.RegisterTransport("unix", dialer("unix"))
	xrt.RegisterTransport("chirp", dialer(""))
}

func dialer(network string) xrt.Dialer {
	return func(ctx context.Context, address string, cfg xrt.Config) (xrt.Client, error) {
		nw := network
		if nw == "" {
			nw, address = peer.SplitAddress(address)
		}
		return Dial(ctx, nw, address, cfg)
	}
}

// ErrMissingMethods is reported when a remote peer does not serve all the
// runtime operations.
var ErrMissingMethods = errors.New("remote peer is missing runtime operations")

// Client is an [xrt.Client] that talks to a runtime through a [peer.Peer].
type Client struct {
	peer    *peer.Peer
	cat     catalog.Catalog
	cfg     xrt.Config
	metrics *xrt.ClientMetrics
	closed  atomic.Bool

	done    chan struct{} // closed when the peer exits
	exitErr error         // why the peer exited; valid once done is closed
}

// Dial connects to a runtime at address on the given network, and returns a
// client for it. The runtime must serve the operation catalog.
func Dial(ctx context.Context, network, address string, cfg xrt.Config) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, xrt.Transport(ctx, cfg.Runtime, "dial", err)
	}
	log.Debug("connected", "runtime", cfg.Runtime, "network", network, "address", address)
	return NewClient(ctx, channel.Conn(conn), cfg)
}

// NewClient starts a peer on ch and returns a client for the runtime at the
// other end. It fetches the remote catalog to check that every runtime
// operation is served. If this fails, the peer is stopped.
func NewClient(ctx context.Context, ch peer.Channel, cfg xrt.Config) (*Client, error) {
	c := &Client{cfg: cfg, metrics: xrt.NewClientMetrics(), done: make(chan struct{})}
	p := peer.New().OnExit(c.exited)
	if log.AllowLevel(commonlog.Debug) {
		p.LogPackets(func(pi peer.PacketInfo) { log.Debug("packet", "runtime", cfg.Runtime, "packet", pi) })
	}
	p.Start(ch)

	cctx, cancel := cfg.CallContext(ctx)
	defer cancel()
	cat, err := catalog.Fetch(cctx, p, wire.IDCatalog)
	if err != nil {
		p.Stop()
		return nil, transportError(cctx, cfg.Runtime, "catalog", err)
	}
	var missing []string
	for _, op := range wire.Operations {
		if _, ok := cat.Lookup(op); !ok {
			missing = append(missing, op)
		}
	}
	if len(missing) != 0 {
		p.Stop()
		return nil, &xrt.TransportError{Runtime: cfg.Runtime, Op: "catalog", Err: fmt.Errorf("%w: %q", ErrMissingMethods, missing)}
	}
	c.peer, c.cat = p, cat
	return c, nil
}

// exited records the exit of the peer. It is called with the peer locked.
func (c *Client) exited(err error) {
	if !c.closed.Load() {
		log.Warning("connection lost", "runtime", c.cfg.Runtime, "error", err)
	}
	c.exitErr = err
	close(c.done)
}

// Done returns a channel that is closed when the connection of c ends, either
// by Close or because the remote runtime went away.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err reports why the connection of c ended, or nil if it is still open or
// ended without error. A connection ended by Close reports nil.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.exitErr
	default:
		return nil
	}
}

// Peer returns the peer underlying c.
func (c *Client) Peer() *peer.Peer { return c.peer }

// Metrics returns the call metrics of c.
func (c *Client) Metrics() *xrt.ClientMetrics { return c.metrics }

// Close implements a method of [xrt.Client]. Calls still pending fail with a
// transport error.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	log.Debug("closing", "runtime", c.cfg.Runtime)
	return c.peer.Stop()
}

// call issues one operation and decodes its reply into rsp.
func (c *Client) call(ctx context.Context, op string, req, rsp any) (err error) {
	if c.closed.Load() {
		return &xrt.TransportError{Runtime: c.cfg.Runtime, Op: op, Err: xrt.ErrClosed}
	}
	done := c.metrics.Start()
	defer func() { done(err) }()

	data, err := wire.Marshal(req)
	if err != nil {
		return err
	}
	cctx, cancel := c.cfg.CallContext(ctx)
	defer cancel()
	r, err := c.cat.Call(cctx, op, data)
	if err != nil {
		if c.closed.Load() {
			return &xrt.TransportError{Runtime: c.cfg.Runtime, Op: op, Err: xrt.ErrClosed}
		}
		return transportError(cctx, c.cfg.Runtime, op, err)
	}
	return wire.Unmarshal(r.Data, rsp)
}

// transportError classifies a failed peer call. A service error reported by
// the remote handler becomes a remote error; anything else, including a lost
// connection or an expired context, is a transport error.
func transportError(ctx context.Context, runtime, op string, err error) error {
	var ce *peer.CallError
	if errors.As(err, &ce) && ce.Err == nil && ce.Response != nil {
		kind := "ServiceError"
		if ce.Response.Code == peer.CodeUnknownMethod {
			kind = "UnknownMethodError"
		}
		msg := ce.Message
		if msg == "" {
			msg = ce.Error()
		}
		return xrt.FromWire(xrt.ErrorInfo{
			Message:   msg,
			Runtime:   runtime,
			ErrorType: kind,
			Context:   map[string]string{"operation": op},
		})
	}
	if errors.As(err, &ce) && ce.Err != nil {
		err = ce.Err
	}
	return xrt.Transport(ctx, runtime, op, err)
}

// ExecuteWord implements a method of [xrt.Service].
func (c *Client) ExecuteWord(ctx context.Context, word string, stack []value.Value) ([]value.Value, error) {
	var rsp wire.ExecuteResponse
	if err := c.call(ctx, wire.MethodExecuteWord, wire.ExecuteWordRequest{
		WordName: word,
		Stack:    value.EncodeStack(stack),
	}, &rsp); err != nil {
		return nil, err
	}
	if err := wire.RemoteError(rsp.Error, c.cfg.Runtime); err != nil {
		return nil, err
	}
	return wire.DecodeStack(rsp.ResultStack)
}

// ExecuteSequence implements a method of [xrt.Service].
func (c *Client) ExecuteSequence(ctx context.Context, words []string, stack []value.Value) ([]value.Value, error) {
	var rsp wire.ExecuteResponse
	if err := c.call(ctx, wire.MethodExecuteSequence, wire.ExecuteSequenceRequest{
		WordNames: slices.Clone(words),
		Stack:     value.EncodeStack(stack),
	}, &rsp); err != nil {
		return nil, err
	}
	if err := wire.RemoteError(rsp.Error, c.cfg.Runtime); err != nil {
		return nil, err
	}
	return wire.DecodeStack(rsp.ResultStack)
}

// ListModules implements a method of [xrt.Service].
func (c *Client) ListModules(ctx context.Context) ([]xrt.ModuleSummary, error) {
	var rsp wire.ListModulesResponse
	if err := c.call(ctx, wire.MethodListModules, wire.ListModulesRequest{}, &rsp); err != nil {
		return nil, err
	}
	if err := wire.RemoteError(rsp.Error, c.cfg.Runtime); err != nil {
		return nil, err
	}
	return rsp.Modules, nil
}

// GetModuleInfo implements a method of [xrt.Service].
func (c *Client) GetModuleInfo(ctx context.Context, module string) (*xrt.ModuleInfo, error) {
	var rsp wire.GetModuleInfoResponse
	if err := c.call(ctx, wire.MethodGetModuleInfo, wire.GetModuleInfoRequest{ModuleName: module}, &rsp); err != nil {
		return nil, err
	}
	if err := wire.RemoteError(rsp.Error, c.cfg.Runtime); err != nil {
		return nil, err
	}
	if rsp.Module == nil {
		return nil, &xrt.CodecError{Err: fmt.Errorf("module %q: empty response", module)}
	}
	return rsp.Module, nil
}

// Serve accepts connections from lst and serves srv on each of them until
// ctx ends or lst is closed.
func Serve(ctx context.Context, lst net.Listener, srv *server.Server) error {
	log.Info("serving", "runtime", srv.Runtime(), "address", lst.Addr().String())
	return peers.Loop(ctx, peers.NetAccepter(lst), func() *peer.Peer {
		p := peer.New()
		srv.Bind(p)
		return p
	})
}
