// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package xrt

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"runtime"
	"slices"
	"strings"
)

var (
	// ErrClosed is reported by calls on a closed client.
	ErrClosed = errors.New("client is closed")

	// ErrTimeout is reported when a call exceeds its configured timeout.
	ErrTimeout = errors.New("call timed out")

	// ErrDuplicateRuntime is reported when a runtime name is connected or
	// registered while it already has a live client.
	ErrDuplicateRuntime = errors.New("runtime already connected")

	// ErrUnknownRuntime is reported when a runtime name has no client.
	ErrUnknownRuntime = errors.New("unknown runtime")

	// ErrReservedName is reported when a runtime name is empty or reserved.
	ErrReservedName = errors.New("reserved runtime name")

	// ErrNotInitialized is reported when a remote module is used before it
	// has been initialized.
	ErrNotInitialized = errors.New("module not initialized")

	// ErrUnknownWord is reported when a module has no word by the given name.
	ErrUnknownWord = errors.New("unknown word")

	// ErrNoTransport is reported when no transport handles an address scheme.
	ErrNoTransport = errors.New("no transport for address")
)

// DefaultErrorKind is the kind of a remote error that does not report one.
const DefaultErrorKind = "RemoteExecutionError"

// ErrorInfo is the wire payload describing a failed remote call.
type ErrorInfo struct {
	Message      string            `cbor:"message" json:"message"`
	Runtime      string            `cbor:"runtime,omitempty" json:"runtime,omitempty"`
	StackTrace   []string          `cbor:"stack_trace,omitempty" json:"stack_trace,omitempty"`
	ErrorType    string            `cbor:"error_type,omitempty" json:"error_type,omitempty"`
	WordLocation string            `cbor:"word_location,omitempty" json:"word_location,omitempty"`
	ModuleName   string            `cbor:"module_name,omitempty" json:"module_name,omitempty"`
	Context      map[string]string `cbor:"context,omitempty" json:"context,omitempty"`
}

// RemoteError is the error reported when a remote runtime fails a call. It
// carries the details reported by the remote runtime, and the local call
// stack at the point where the failure was received.
type RemoteError struct {
	info  ErrorInfo
	msg   string
	local []uintptr
}

// FromWire constructs a [RemoteError] from a wire payload. The message of the
// error is the base message, followed by a "Module: name" line if a module is
// reported, followed by a context block of "key: value" lines in key order.
func FromWire(info ErrorInfo) *RemoteError {
	var sb strings.Builder
	sb.WriteString(info.Message)
	if info.ModuleName != "" {
		fmt.Fprintf(&sb, "\nModule: %s", info.ModuleName)
	}
	if len(info.Context) != 0 {
		sb.WriteString("\nContext:")
		for _, key := range slices.Sorted(maps.Keys(info.Context)) {
			fmt.Fprintf(&sb, "\n  %s: %s", key, info.Context[key])
		}
	}
	pcs := make([]uintptr, 32)
	n := runtime.Callers(2, pcs)
	return &RemoteError{info: info, msg: sb.String(), local: pcs[:n]}
}

// Error implements the error interface.
func (e *RemoteError) Error() string { return e.msg }

// Info returns the wire payload e was constructed from.
func (e *RemoteError) Info() ErrorInfo { return e.info }

// Kind reports the kind of the remote failure, or [DefaultErrorKind].
func (e *RemoteError) Kind() string {
	if e.info.ErrorType == "" {
		return DefaultErrorKind
	}
	return e.info.ErrorType
}

// Runtime reports the name of the runtime that reported the failure.
func (e *RemoteError) Runtime() string { return e.info.Runtime }

// Module reports the module where the failure originated, or "".
func (e *RemoteError) Module() string { return e.info.ModuleName }

// RemoteTrace reports the stack trace of the remote runtime. The result is
// empty, not nil, if none was reported.
func (e *RemoteError) RemoteTrace() []string {
	if e.info.StackTrace == nil {
		return []string{}
	}
	return slices.Clone(e.info.StackTrace)
}

// Context reports the free-form context of the failure. The result is empty,
// not nil, if none was reported.
func (e *RemoteError) Context() map[string]string {
	if e.info.Context == nil {
		return map[string]string{}
	}
	return maps.Clone(e.info.Context)
}

// LocalStack reports the local call stack where the failure was received, one
// "function (file:line)" entry per frame, innermost first.
func (e *RemoteError) LocalStack() []string {
	var out []string
	frames := runtime.CallersFrames(e.local)
	for {
		f, more := frames.Next()
		if f.Function != "" {
			out = append(out, fmt.Sprintf("%s (%s:%d)", f.Function, f.File, f.Line))
		}
		if !more {
			break
		}
	}
	return out
}

// Report renders the error with its local and remote stacks, each labeled
// with its origin.
func (e *RemoteError) Report() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s\n", e.Kind(), e.msg)
	if e.info.WordLocation != "" {
		fmt.Fprintf(&sb, "Word: %s\n", e.info.WordLocation)
	}
	origin := e.info.Runtime
	if origin == "" {
		origin = "remote"
	}
	fmt.Fprintf(&sb, "Remote stack (%s):\n", origin)
	for _, line := range e.RemoteTrace() {
		fmt.Fprintf(&sb, "  %s\n", line)
	}
	sb.WriteString("Local stack:\n")
	for _, line := range e.LocalStack() {
		fmt.Fprintf(&sb, "  %s\n", line)
	}
	return sb.String()
}

// ErrorReport is the structured form of a [RemoteError].
type ErrorReport struct {
	Kind         string            `json:"kind"`
	Message      string            `json:"message"`
	Runtime      string            `json:"runtime,omitempty"`
	Module       string            `json:"module,omitempty"`
	WordLocation string            `json:"word_location,omitempty"`
	Context      map[string]string `json:"context"`
	RemoteTrace  []string          `json:"remote_trace"`
	LocalStack   []string          `json:"local_stack"`
}

// Structured returns the structured form of e.
func (e *RemoteError) Structured() ErrorReport {
	return ErrorReport{
		Kind:         e.Kind(),
		Message:      e.msg,
		Runtime:      e.info.Runtime,
		Module:       e.info.ModuleName,
		WordLocation: e.info.WordLocation,
		Context:      e.Context(),
		RemoteTrace:  e.RemoteTrace(),
		LocalStack:   e.LocalStack(),
	}
}

// TransportError reports a failure to reach a remote runtime: a refused or
// lost connection, a closed client, or a timeout.
type TransportError struct {
	Runtime string // the remote runtime, if known
	Op      string // the operation that failed
	Err     error  // the underlying failure
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.Runtime == "" {
		return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport %s: %s: %v", e.Runtime, e.Op, e.Err)
}

// Unwrap returns the underlying error of e.
func (e *TransportError) Unwrap() error { return e.Err }

// Transport wraps err as a [*TransportError] for the named runtime and
// operation. If err ended a context whose cause is [ErrTimeout], the result
// wraps ErrTimeout.
func Transport(ctx context.Context, name, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		if cause := context.Cause(ctx); errors.Is(cause, ErrTimeout) {
			err = ErrTimeout
		}
	}
	return &TransportError{Runtime: name, Op: op, Err: err}
}

// UsageError reports local misuse of the API.
type UsageError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *UsageError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

// Unwrap returns the underlying error of e.
func (e *UsageError) Unwrap() error { return e.Err }

// CodecError reports a value that could not be encoded or decoded.
type CodecError struct {
	Err error
}

// Error implements the error interface.
func (e *CodecError) Error() string { return "codec: " + e.Err.Error() }

// Unwrap returns the underlying error of e.
func (e *CodecError) Unwrap() error { return e.Err }

// ErrorType reports the error kind of e for the wire.
func (e *CodecError) ErrorType() string { return "CodecError" }

// WordError reports the failure of a word, with the runtime, module, and
// word where it happened.
type WordError struct {
	Runtime string
	Module  string
	Word    string
	Trace   []string // words executed up to the failure, if known
	Err     error
}

// Error implements the error interface.
func (e *WordError) Error() string {
	var where []string
	if e.Module != "" {
		where = append(where, "module "+e.Module)
	}
	if e.Runtime != "" {
		where = append(where, "runtime "+e.Runtime)
	}
	if len(where) == 0 {
		return fmt.Sprintf("word %q: %v", e.Word, e.Err)
	}
	return fmt.Sprintf("word %q (%s): %v", e.Word, strings.Join(where, ", "), e.Err)
}

// Unwrap returns the underlying error of e.
func (e *WordError) Unwrap() error { return e.Err }

// InfoOf converts err into a wire payload on behalf of the named runtime. If
// err wraps a [*RemoteError] its payload is forwarded. A [*WordError] supplies
// the module, word location, and trace. The error kind is taken from the
// first error in the chain with an ErrorType() string method.
func InfoOf(err error, name string) ErrorInfo {
	var re *RemoteError
	if errors.As(err, &re) {
		info := re.Info()
		if info.Runtime == "" {
			info.Runtime = name
		}
		return info
	}

	info := ErrorInfo{Message: err.Error(), Runtime: name}
	var we *WordError
	if errors.As(err, &we) && we.Err != nil {
		info.Message = we.Err.Error()
		info.ModuleName = we.Module
		info.WordLocation = we.Word
		info.StackTrace = slices.Clone(we.Trace)
		info.Context = map[string]string{"word": we.Word}
	}
	var et interface{ ErrorType() string }
	if errors.As(err, &et) {
		info.ErrorType = et.ErrorType()
	}
	return info
}
