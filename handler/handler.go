// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package handler provides adapters to the peer.Handler type for typed
// functions whose parameters and results are carried as CBOR.
package handler

import (
	"context"
	"fmt"

	"github.com/forthix/xrt/peer"
	"github.com/forthix/xrt/value"
)

// reqContextKey is a context key for the request value to a handler.
type reqContextKey struct{}

// ContextRequest returns the original request message passed to the handler,
// or nil if ctx has no associated request. The context passed to a handler
// returned by this package will have this value.
func ContextRequest(ctx context.Context) *peer.Request {
	if v := ctx.Value(reqContextKey{}); v != nil {
		return v.(*peer.Request)
	}
	return nil
}

// ParamResultError adapts a function f that accepts parameters of type P and
// returns a result of type R and an error, to a peer.Handler. The request
// data are decoded as a P, and the result is encoded.
func ParamResultError[P, R any](f func(context.Context, P) (R, error)) peer.Handler {
	return func(ctx context.Context, req *peer.Request) ([]byte, error) {
		var p P
		if err := Unmarshal(req.Data, &p); err != nil {
			return nil, err
		}
		return result(f(context.WithValue(ctx, reqContextKey{}, req), p))
	}
}

// ResultError adapts a function f that accepts no parameters and returns a
// result of type R and an error, to a peer.Handler. The request data are
// ignored.
func ResultError[R any](f func(context.Context) (R, error)) peer.Handler {
	return func(ctx context.Context, req *peer.Request) ([]byte, error) {
		return result(f(context.WithValue(ctx, reqContextKey{}, req)))
	}
}

func result[R any](r R, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	return Marshal(r)
}

// Unmarshal decodes CBOR data into v, which must be a non-nil pointer.
func Unmarshal(data []byte, v any) error {
	if err := value.DecMode().Unmarshal(data, v); err != nil {
		return fmt.Errorf("cannot unmarshal into %T: %w", v, err)
	}
	return nil
}

// Marshal encodes v as CBOR, the inverse of Unmarshal.
func Marshal(v any) ([]byte, error) {
	data, err := value.EncMode().Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cannot marshal %T: %w", v, err)
	}
	return data, nil
}
