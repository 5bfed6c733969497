// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package xrt

import (
	"context"
	"errors"
	"slices"

	"github.com/creachadair/mds/mapset"
	"github.com/forthix/xrt/value"
)

// LocalRuntime is the runtime name of words that execute in-process.
const LocalRuntime = "local"

// ErrStackUnderflow is reported when a word pops from an empty stack.
var ErrStackUnderflow = errors.New("stack underflow")

// An Interp is the evaluation state words act upon. Stack items are ordered
// from bottom to top.
type Interp interface {
	// Stack returns a snapshot of the current stack. The caller owns the
	// returned slice.
	Stack() []value.Value

	// SetStack replaces the entire stack with vs.
	SetStack(vs []value.Value)
}

// Stack is a minimal [Interp] holding only an evaluation stack. A zero Stack
// is empty and ready for use.
type Stack struct {
	items []value.Value
}

// NewStack constructs a stack holding vs, bottom first.
func NewStack(vs ...value.Value) *Stack { return &Stack{items: slices.Clone(vs)} }

// Stack implements a method of [Interp].
func (s *Stack) Stack() []value.Value { return slices.Clone(s.items) }

// SetStack implements a method of [Interp].
func (s *Stack) SetStack(vs []value.Value) { s.items = slices.Clone(vs) }

// Push pushes vs onto the stack in order, so the last is on top.
func (s *Stack) Push(vs ...value.Value) { s.items = append(s.items, vs...) }

// Pop removes and returns the top of the stack.
func (s *Stack) Pop() (value.Value, error) {
	if len(s.items) == 0 {
		return nil, ErrStackUnderflow
	}
	top := s.items[len(s.items)-1]
	s.items = s.items[:len(s.items)-1]
	return top, nil
}

// Len reports the number of items on the stack.
func (s *Stack) Len() int { return len(s.items) }

// RuntimeInfo describes where a word can execute.
type RuntimeInfo struct {
	// Runtime is the name of the runtime that owns the word, or LocalRuntime.
	Runtime string

	// Remote reports whether the word executes outside this process.
	Remote bool

	// Standard reports whether the word has identical semantics in every
	// runtime listed in AvailableIn.
	Standard bool

	// AvailableIn is the set of runtimes where the word may execute.
	AvailableIn mapset.Set[string]
}

// Accepts reports whether a word with this info may execute as part of a
// remote batch bound for runtime.
func (ri RuntimeInfo) Accepts(runtime string) bool {
	if ri.Remote && ri.Runtime == runtime {
		return true
	}
	return ri.Standard && ri.AvailableIn.Has(runtime)
}

// A Word is a named executable procedure.
type Word interface {
	// Name returns the name of the word.
	Name() string

	// Info describes where the word can execute.
	Info() RuntimeInfo

	// Execute runs the word against the stack of in.
	Execute(ctx context.Context, in Interp) error
}

// A LocalFunc implements the behavior of a local word.
type LocalFunc func(ctx context.Context, in Interp) error

// LocalWord is a [Word] implemented by a Go function in this process.
type LocalWord struct {
	name string
	info RuntimeInfo
	run  LocalFunc
}

// NewLocalWord constructs a local word with the given name and behavior.
func NewLocalWord(name string, run LocalFunc) *LocalWord {
	return &LocalWord{
		name: name,
		info: RuntimeInfo{Runtime: LocalRuntime, AvailableIn: mapset.New(LocalRuntime)},
		run:  run,
	}
}

// NewStandardWord constructs a local word that is also known to exist, with
// the same semantics, in each of the named runtimes. A standard word may join
// a remote batch bound for any of those runtimes.
func NewStandardWord(name string, run LocalFunc, runtimes ...string) *LocalWord {
	w := NewLocalWord(name, run)
	w.info.Standard = true
	w.info.AvailableIn.Add(runtimes...)
	return w
}

// Name implements a method of [Word].
func (w *LocalWord) Name() string { return w.name }

// Info implements a method of [Word].
func (w *LocalWord) Info() RuntimeInfo { return w.info }

// Execute implements a method of [Word].
func (w *LocalWord) Execute(ctx context.Context, in Interp) error { return w.run(ctx, in) }
