// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package wire defines the messages exchanged by the transports for the four
// runtime operations, and the fixed method table shared by both ends.
package wire

import (
	"fmt"

	"github.com/forthix/xrt"
	"github.com/forthix/xrt/catalog"
	"github.com/forthix/xrt/value"
)

// Method names of the runtime operations.
const (
	MethodCatalog         = "catalog"
	MethodExecuteWord     = "ExecuteWord"
	MethodExecuteSequence = "ExecuteSequence"
	MethodListModules     = "ListModules"
	MethodGetModuleInfo   = "GetModuleInfo"
)

// Method IDs of the runtime operations on a peer.
const (
	IDCatalog uint32 = 1 + iota
	IDExecuteWord
	IDExecuteSequence
	IDListModules
	IDGetModuleInfo
)

// Operations lists the method names a runtime must serve, excluding the
// catalog itself.
var Operations = []string{
	MethodExecuteWord, MethodExecuteSequence, MethodListModules, MethodGetModuleInfo,
}

// Catalog returns a new catalog of the runtime operations.
func Catalog() catalog.Catalog {
	return catalog.New().
		Set(MethodCatalog, IDCatalog).
		Set(MethodExecuteWord, IDExecuteWord).
		Set(MethodExecuteSequence, IDExecuteSequence).
		Set(MethodListModules, IDListModules).
		Set(MethodGetModuleInfo, IDGetModuleInfo)
}

// ExecuteWordRequest asks a runtime to run one word.
type ExecuteWordRequest struct {
	WordName string             `cbor:"word_name" json:"word_name"`
	Stack    []value.StackValue `cbor:"stack" json:"stack"`
}

// ExecuteSequenceRequest asks a runtime to run several words in order.
type ExecuteSequenceRequest struct {
	WordNames []string           `cbor:"word_names" json:"word_names"`
	Stack     []value.StackValue `cbor:"stack" json:"stack"`
}

// ExecuteResponse is the reply to either execute request. Exactly one of
// ResultStack and Error is meaningful.
type ExecuteResponse struct {
	ResultStack []value.StackValue `cbor:"result_stack" json:"result_stack"`
	Error       *xrt.ErrorInfo     `cbor:"error,omitempty" json:"error,omitempty"`
}

// ListModulesRequest asks a runtime for its modules.
type ListModulesRequest struct{}

// ListModulesResponse is the reply to a ListModulesRequest.
type ListModulesResponse struct {
	Modules []xrt.ModuleSummary `cbor:"modules" json:"modules"`
	Error   *xrt.ErrorInfo      `cbor:"error,omitempty" json:"error,omitempty"`
}

// GetModuleInfoRequest asks a runtime for the words of one module.
type GetModuleInfoRequest struct {
	ModuleName string `cbor:"module_name" json:"module_name"`
}

// GetModuleInfoResponse is the reply to a GetModuleInfoRequest.
type GetModuleInfoResponse struct {
	Module *xrt.ModuleInfo `cbor:"module,omitempty" json:"module,omitempty"`
	Error  *xrt.ErrorInfo  `cbor:"error,omitempty" json:"error,omitempty"`
}

// Marshal encodes a message in canonical CBOR.
func Marshal(msg any) ([]byte, error) {
	data, err := value.EncMode().Marshal(msg)
	if err != nil {
		return nil, &xrt.CodecError{Err: fmt.Errorf("encode %T: %w", msg, err)}
	}
	return data, nil
}

// Unmarshal decodes a CBOR message into msg, which must be a pointer.
func Unmarshal(data []byte, msg any) error {
	if err := value.DecMode().Unmarshal(data, msg); err != nil {
		return &xrt.CodecError{Err: fmt.Errorf("decode %T: %w", msg, err)}
	}
	return nil
}

// DecodeStack decodes a wire stack, reporting failure as a [*xrt.CodecError].
func DecodeStack(svs []value.StackValue) ([]value.Value, error) {
	vs, err := value.DecodeStack(svs)
	if err != nil {
		return nil, &xrt.CodecError{Err: err}
	}
	return vs, nil
}

// RemoteError converts an error payload from runtime into an error, or
// returns nil if info is nil. The runtime name is filled in if the payload
// omits it.
func RemoteError(info *xrt.ErrorInfo, runtime string) error {
	if info == nil {
		return nil
	}
	ei := *info
	if ei.Runtime == "" {
		ei.Runtime = runtime
	}
	return xrt.FromWire(ei)
}

// ErrorOf converts err to an error payload on behalf of runtime, or returns
// nil if err == nil.
func ErrorOf(err error, runtime string) *xrt.ErrorInfo {
	if err == nil {
		return nil
	}
	info := xrt.InfoOf(err, runtime)
	return &info
}
