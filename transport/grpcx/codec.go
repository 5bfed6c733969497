// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package grpcx

import (
	"github.com/forthix/xrt/internal/wire"
)

// codec is a gRPC codec that carries the wire messages as CBOR. It is forced
// on both ends, so no protobuf definitions are required.
type codec struct{}

// rawMessage is an encoded message the codec passes through unchanged.
// The client receives replies as raw messages and decodes them itself, so a
// malformed reply is reported as a codec error rather than a gRPC status.
type rawMessage []byte

// Name implements a method of encoding.Codec.
func (codec) Name() string { return "cbor" }

// Marshal implements a method of encoding.Codec.
func (codec) Marshal(v any) ([]byte, error) {
	if raw, ok := v.(rawMessage); ok {
		return raw, nil
	}
	return wire.Marshal(v)
}

// Unmarshal implements a method of encoding.Codec.
func (codec) Unmarshal(data []byte, v any) error {
	if raw, ok := v.(*rawMessage); ok {
		*raw = append((*raw)[:0], data...)
		return nil
	}
	return wire.Unmarshal(data, v)
}
