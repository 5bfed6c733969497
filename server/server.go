// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package server implements the serving side of the runtime operations on
// top of any [xrt.Service].
//
// A [Server] translates wire requests into calls on the service and folds
// the outcome back into a wire response. Failures of the service are carried
// in the response envelope rather than as call errors, so the caller can
// rebuild the complete remote error.
//
// To serve on a peer:
//
//	srv := server.New(table, "python")
//	srv.Bind(p)
package server

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/forthix/xrt"
	"github.com/forthix/xrt/catalog"
	"github.com/forthix/xrt/handler"
	"github.com/forthix/xrt/internal/wire"
	"github.com/forthix/xrt/peer"
	"github.com/forthix/xrt/value"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("xrt.server")

// A Server serves the runtime operations of a service.
type Server struct {
	svc     xrt.Service
	runtime string
	methods map[string]peer.Handler
}

// New constructs a server for svc on behalf of the named runtime. The name is
// reported in the error payloads of failed calls.
func New(svc xrt.Service, runtime string) *Server {
	s := &Server{svc: svc, runtime: runtime}
	s.methods = map[string]peer.Handler{
		wire.MethodExecuteWord:     handler.ParamResultError(s.ExecuteWord),
		wire.MethodExecuteSequence: handler.ParamResultError(s.ExecuteSequence),
		wire.MethodListModules: handler.ResultError(func(ctx context.Context) (wire.ListModulesResponse, error) {
			return s.ListModules(ctx, wire.ListModulesRequest{})
		}),
		wire.MethodGetModuleInfo: handler.ParamResultError(s.GetModuleInfo),
	}
	return s
}

// Runtime reports the runtime name of s.
func (s *Server) Runtime() string { return s.runtime }

// ExecuteWord serves a request to run one word.
func (s *Server) ExecuteWord(ctx context.Context, req wire.ExecuteWordRequest) (wire.ExecuteResponse, error) {
	stack, err := wire.DecodeStack(req.Stack)
	if err != nil {
		return s.executeFailed(ctx, "ExecuteWord", err), nil
	}
	out, err := s.svc.ExecuteWord(ctx, req.WordName, stack)
	if err != nil {
		return s.executeFailed(ctx, "ExecuteWord", err), nil
	}
	return wire.ExecuteResponse{ResultStack: value.EncodeStack(out)}, nil
}

// ExecuteSequence serves a request to run several words in order.
func (s *Server) ExecuteSequence(ctx context.Context, req wire.ExecuteSequenceRequest) (wire.ExecuteResponse, error) {
	stack, err := wire.DecodeStack(req.Stack)
	if err != nil {
		return s.executeFailed(ctx, "ExecuteSequence", err), nil
	}
	out, err := s.svc.ExecuteSequence(ctx, req.WordNames, stack)
	if err != nil {
		return s.executeFailed(ctx, "ExecuteSequence", err), nil
	}
	return wire.ExecuteResponse{ResultStack: value.EncodeStack(out)}, nil
}

func (s *Server) executeFailed(ctx context.Context, op string, err error) wire.ExecuteResponse {
	metrics.failed.Add(op, 1)
	if req := handler.ContextRequest(ctx); req != nil {
		log.Debug("call failed", "op", op, "request", req.RequestID, "error", err)
	} else {
		log.Debug("call failed", "op", op, "error", err)
	}
	return wire.ExecuteResponse{Error: wire.ErrorOf(err, s.runtime)}
}

// ListModules serves a request for the module summaries of the service.
func (s *Server) ListModules(ctx context.Context, _ wire.ListModulesRequest) (wire.ListModulesResponse, error) {
	mods, err := s.svc.ListModules(ctx)
	if err != nil {
		metrics.failed.Add("ListModules", 1)
		return wire.ListModulesResponse{Error: wire.ErrorOf(err, s.runtime)}, nil
	}
	return wire.ListModulesResponse{Modules: mods}, nil
}

// GetModuleInfo serves a request for the words of one module.
func (s *Server) GetModuleInfo(ctx context.Context, req wire.GetModuleInfoRequest) (wire.GetModuleInfoResponse, error) {
	info, err := s.svc.GetModuleInfo(ctx, req.ModuleName)
	if err != nil {
		metrics.failed.Add("GetModuleInfo", 1)
		return wire.GetModuleInfoResponse{Error: wire.ErrorOf(err, s.runtime)}, nil
	}
	return wire.GetModuleInfoResponse{Module: info}, nil
}

// Handlers returns a map from operation name to a handler for that operation.
// The caller may modify the map.
func (s *Server) Handlers() map[string]peer.Handler { return maps.Clone(s.methods) }

// Methods returns the operation names served by s in order.
func (s *Server) Methods() []string { return slices.Sorted(maps.Keys(s.methods)) }

// Dispatch serves a single encoded request for the named operation, and
// returns the encoded response. It reports an error only if the method is
// unknown, or the request cannot be decoded.
func (s *Server) Dispatch(ctx context.Context, method string, data []byte) ([]byte, error) {
	h, ok := s.methods[method]
	if !ok {
		return nil, fmt.Errorf("%w: %q", peer.ErrUnknownMethod, method)
	}
	metrics.calls.Add(method, 1)
	return h(ctx, &peer.Request{Data: data})
}

// Bind registers the operations of s and the operation catalog on p, and
// returns the catalog bound to p.
func (s *Server) Bind(p *peer.Peer) catalog.Catalog {
	cat := wire.Catalog().Bind(p)
	cat.Handle(wire.MethodCatalog, cat.Handler)
	for name, h := range s.methods {
		cat.Handle(name, countCalls(name, h))
	}
	return cat
}

func countCalls(name string, h peer.Handler) peer.Handler {
	return func(ctx context.Context, req *peer.Request) ([]byte, error) {
		metrics.calls.Add(name, 1)
		return h(ctx, req)
	}
}
