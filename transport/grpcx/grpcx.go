// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package grpcx implements an [xrt.Client] and its serving side over gRPC.
//
// The runtime operations are unary methods of the service
// "forthic.v1.ForthicRuntime". Messages are encoded as CBOR by a codec forced
// on both the client and the server, so gRPC multiplexes concurrent calls on
// one HTTP/2 connection and matches each reply to its caller.
//
// Importing this package registers the address scheme "grpc" with
// [xrt.RegisterTransport]. The rest of the address is a gRPC target:
//
//	cli, err := xrt.Dial(ctx, "grpc://localhost:50052", xrt.Config{Runtime: "java"})
package grpcx

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/forthix/xrt"
	"github.com/forthix/xrt/internal/wire"
	"github.com/forthix/xrt/server"
	"github.com/forthix/xrt/value"
	"github.com/tliron/commonlog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

var log = commonlog.GetLogger("xrt.grpc")

// ServiceName is the full name of the gRPC service.
const ServiceName = "forthic.v1.ForthicRuntime"

func init() {
	xrt.RegisterTransport("grpc", func(ctx context.Context, address string, cfg xrt.Config) (xrt.Client, error) {
		return Dial(ctx, address, cfg)
	})
}

// runtimeServer is the method set the service descriptor dispatches to.
type runtimeServer interface {
	ExecuteWord(context.Context, wire.ExecuteWordRequest) (wire.ExecuteResponse, error)
	ExecuteSequence(context.Context, wire.ExecuteSequenceRequest) (wire.ExecuteResponse, error)
	ListModules(context.Context, wire.ListModulesRequest) (wire.ListModulesResponse, error)
	GetModuleInfo(context.Context, wire.GetModuleInfoRequest) (wire.GetModuleInfoResponse, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*runtimeServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(wire.MethodExecuteWord, runtimeServer.ExecuteWord),
		unary(wire.MethodExecuteSequence, runtimeServer.ExecuteSequence),
		unary(wire.MethodListModules, runtimeServer.ListModules),
		unary(wire.MethodGetModuleInfo, runtimeServer.GetModuleInfo),
	},
	Metadata: "forthic/v1/runtime.proto",
}

func unary[Req, Rsp any](name string, call func(runtimeServer, context.Context, Req) (Rsp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, ic grpc.UnaryServerInterceptor) (any, error) {
			var req Req
			if err := dec(&req); err != nil {
				return nil, err
			}
			rs := srv.(runtimeServer)
			if ic == nil {
				return call(rs, ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return ic(ctx, &req, info, func(ctx context.Context, r any) (any, error) {
				return call(rs, ctx, *r.(*Req))
			})
		},
	}
}

func fullMethod(name string) string { return "/" + ServiceName + "/" + name }

// Register registers srv with the gRPC server s. The server must have been
// created with the ServerOption from [ServerCodec].
func Register(s grpc.ServiceRegistrar, srv *server.Server) { s.RegisterService(&serviceDesc, srv) }

// ServerCodec returns the server option that selects the wire codec.
func ServerCodec() grpc.ServerOption { return grpc.ForceServerCodec(codec{}) }

// NewServer constructs a gRPC server serving srv. Additional options are
// passed to grpc.NewServer.
func NewServer(srv *server.Server, opts ...grpc.ServerOption) *grpc.Server {
	gs := grpc.NewServer(append([]grpc.ServerOption{ServerCodec()}, opts...)...)
	Register(gs, srv)
	log.Info("registered service", "service", ServiceName, "runtime", srv.Runtime())
	return gs
}

// Client is an [xrt.Client] that talks to a runtime over gRPC.
type Client struct {
	conn    *grpc.ClientConn
	cfg     xrt.Config
	metrics *xrt.ClientMetrics
	closed  atomic.Bool
}

// Dial returns a client for the runtime at the given gRPC target. By default
// the connection is not encrypted; opts may override this and are passed to
// grpc.NewClient. The connection is established lazily.
func Dial(_ context.Context, target string, cfg xrt.Config, opts ...grpc.DialOption) (*Client, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(codec{})),
	}
	conn, err := grpc.NewClient(target, append(base, opts...)...)
	if err != nil {
		return nil, &xrt.TransportError{Runtime: cfg.Runtime, Op: "dial", Err: err}
	}
	log.Debug("created client", "runtime", cfg.Runtime, "target", target)
	return &Client{conn: conn, cfg: cfg, metrics: xrt.NewClientMetrics()}, nil
}

// Metrics returns the call metrics of c.
func (c *Client) Metrics() *xrt.ClientMetrics { return c.metrics }

// Close implements a method of [xrt.Client].
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, op string, req, rsp any) (err error) {
	if c.closed.Load() {
		return &xrt.TransportError{Runtime: c.cfg.Runtime, Op: op, Err: xrt.ErrClosed}
	}
	done := c.metrics.Start()
	defer func() { done(err) }()

	cctx, cancel := c.cfg.CallContext(ctx)
	defer cancel()
	var raw rawMessage
	if err := c.conn.Invoke(cctx, fullMethod(op), req, &raw); err != nil {
		return c.callError(cctx, op, err)
	}
	return wire.Unmarshal(raw, rsp)
}

// callError classifies a failed gRPC call. Failures to reach the runtime or
// to finish in time are transport errors; any other status is reported by
// the remote side and becomes a remote error.
func (c *Client) callError(ctx context.Context, op string, err error) error {
	if c.closed.Load() {
		return &xrt.TransportError{Runtime: c.cfg.Runtime, Op: op, Err: xrt.ErrClosed}
	}
	if cause := context.Cause(ctx); cause != nil {
		return xrt.Transport(ctx, c.cfg.Runtime, op, cause)
	}
	st := status.Convert(err)
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return &xrt.TransportError{Runtime: c.cfg.Runtime, Op: op, Err: err}
	}
	return xrt.FromWire(xrt.ErrorInfo{
		Message:   st.Message(),
		Runtime:   c.cfg.Runtime,
		ErrorType: fmt.Sprintf("grpc.%v", st.Code()),
		Context:   map[string]string{"operation": op},
	})
}

// ExecuteWord implements a method of [xrt.Service].
func (c *Client) ExecuteWord(ctx context.Context, word string, stack []value.Value) ([]value.Value, error) {
	var rsp wire.ExecuteResponse
	if err := c.call(ctx, wire.MethodExecuteWord, &wire.ExecuteWordRequest{
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
	if err := c.call(ctx, wire.MethodExecuteSequence, &wire.ExecuteSequenceRequest{
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
	if err := c.call(ctx, wire.MethodListModules, &wire.ListModulesRequest{}, &rsp); err != nil {
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
	if err := c.call(ctx, wire.MethodGetModuleInfo, &wire.GetModuleInfoRequest{ModuleName: module}, &rsp); err != nil {
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
