// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package xrt

import (
	"context"
	"time"

	"github.com/forthix/xrt/value"
)

// Service is the set of operations one runtime offers to another.
type Service interface {
	// ExecuteWord runs the named word against stack and returns the
	// resulting stack.
	ExecuteWord(ctx context.Context, word string, stack []value.Value) ([]value.Value, error)

	// ExecuteSequence runs the named words in order against stack and
	// returns the resulting stack.
	ExecuteSequence(ctx context.Context, words []string, stack []value.Value) ([]value.Value, error)

	// ListModules reports a summary of each module the runtime offers.
	ListModules(ctx context.Context) ([]ModuleSummary, error)

	// GetModuleInfo reports the words of the named module.
	GetModuleInfo(ctx context.Context, module string) (*ModuleInfo, error)
}

// A Client is a [Service] connected to one remote runtime.
//
// A client must permit concurrent calls from independent goroutines. Close
// releases the connection and fails any calls still pending; it is safe to
// call more than once. After Close, every call reports a [*TransportError]
// wrapping [ErrClosed].
type Client interface {
	Service
	Close() error
}

// ModuleSummary is the discovery summary of one module.
type ModuleSummary struct {
	Name            string `cbor:"name" json:"name"`
	Description     string `cbor:"description,omitempty" json:"description,omitempty"`
	WordCount       int    `cbor:"word_count" json:"word_count"`
	RuntimeSpecific bool   `cbor:"runtime_specific" json:"runtime_specific"`
}

// ModuleInfo is the discovery metadata of one module.
type ModuleInfo struct {
	Name        string     `cbor:"name" json:"name"`
	Description string     `cbor:"description,omitempty" json:"description,omitempty"`
	Words       []WordInfo `cbor:"words" json:"words"`
}

// WordInfo is the discovery metadata of one word.
type WordInfo struct {
	Name        string `cbor:"name" json:"name"`
	StackEffect string `cbor:"stack_effect,omitempty" json:"stack_effect,omitempty"`
	Description string `cbor:"description,omitempty" json:"description,omitempty"`
}

// DefaultTimeout is the call timeout used when a [Config] does not set one.
const DefaultTimeout = 30 * time.Second

// Config carries the settings common to all transport clients.
type Config struct {
	// Runtime is the name of the remote runtime, used to label errors.
	// Registry.Connect sets it to the registered name.
	Runtime string

	// Timeout bounds each call. Zero means DefaultTimeout; a negative value
	// disables the bound.
	Timeout time.Duration
}

// CallTimeout reports the effective per-call timeout of c. It is safe to call
// with a nil receiver.
func (c *Config) CallTimeout() time.Duration {
	if c == nil || c.Timeout == 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

// CallContext returns a context for one call, bounded by the timeout of c.
// When the bound expires, [context.Cause] of the result is [ErrTimeout].
func (c *Config) CallContext(ctx context.Context) (context.Context, context.CancelFunc) {
	d := c.CallTimeout()
	if d < 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeoutCause(ctx, d, ErrTimeout)
}
