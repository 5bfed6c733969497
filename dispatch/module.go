// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/forthix/xrt"
	"github.com/forthix/xrt/value"
)

// A Module is a named collection of words served by a [Table].
type Module struct {
	Name        string
	Description string

	// RuntimeSpecific marks a module that exists only in this runtime, as
	// opposed to a standard module every runtime provides.
	RuntimeSpecific bool

	words []*entry
}

type entry struct {
	info xrt.WordInfo
	run  xrt.LocalFunc
}

// NewModule constructs an empty runtime-specific module.
func NewModule(name, description string) *Module {
	return &Module{Name: name, Description: description, RuntimeSpecific: true}
}

// Define adds a word to m, and returns m to permit chaining. A later
// definition replaces an earlier one with the same name.
func (m *Module) Define(name, stackEffect, description string, run xrt.LocalFunc) *Module {
	e := &entry{
		info: xrt.WordInfo{Name: name, StackEffect: stackEffect, Description: description},
		run:  run,
	}
	for i, old := range m.words {
		if old.info.Name == name {
			m.words[i] = e
			return m
		}
	}
	m.words = append(m.words, e)
	return m
}

// Info reports the discovery metadata of m.
func (m *Module) Info() *xrt.ModuleInfo {
	out := &xrt.ModuleInfo{Name: m.Name, Description: m.Description, Words: make([]xrt.WordInfo, len(m.words))}
	for i, e := range m.words {
		out.Words[i] = e.info
	}
	return out
}

// Summary reports the discovery summary of m.
func (m *Module) Summary() xrt.ModuleSummary {
	return xrt.ModuleSummary{
		Name:            m.Name,
		Description:     m.Description,
		WordCount:       len(m.words),
		RuntimeSpecific: m.RuntimeSpecific,
	}
}

func (m *Module) lookup(name string) *entry {
	for _, e := range m.words {
		if e.info.Name == name {
			return e
		}
	}
	return nil
}

// Fault is a word failure with an explicit error kind. The kind is reported
// to callers as the error type of the failure.
type Fault struct {
	Type    string
	Message string
	Err     error // optional underlying error
}

// Error implements the error interface.
func (f *Fault) Error() string {
	if f.Message == "" && f.Err != nil {
		return f.Err.Error()
	}
	return f.Message
}

// Unwrap returns the underlying error of f, if any.
func (f *Fault) Unwrap() error { return f.Err }

// ErrorType reports the error kind of f.
func (f *Fault) ErrorType() string { return f.Type }

// ErrDivideByZero is reported by the standard division word.
var ErrDivideByZero = &Fault{Type: "ZeroDivisionError", Message: "division by zero"}

// StandardModule returns a module of the stack and arithmetic words every
// runtime provides.
func StandardModule() *Module {
	m := &Module{Name: "standard", Description: "Stack manipulation and arithmetic"}
	return m.
		Define("DUP", "( a -- a a )", "Duplicate the top of the stack", dup).
		Define("DROP", "( a -- )", "Discard the top of the stack", drop).
		Define("SWAP", "( a b -- b a )", "Exchange the top two items", swap).
		Define("+", "( a b -- a+b )", "Add numbers or concatenate strings", arith("+")).
		Define("-", "( a b -- a-b )", "Subtract numbers", arith("-")).
		Define("*", "( a b -- a*b )", "Multiply numbers", arith("*")).
		Define("/", "( a b -- a/b )", "Divide numbers", arith("/"))
}

// StandardWords returns local words with the behavior of the standard module,
// marked as available in each of the named runtimes.
func StandardWords(runtimes ...string) []xrt.Word {
	m := StandardModule()
	out := make([]xrt.Word, len(m.words))
	for i, e := range m.words {
		out[i] = xrt.NewStandardWord(e.info.Name, e.run, runtimes...)
	}
	return out
}

func pop(in xrt.Interp, n int) ([]value.Value, error) {
	s := in.Stack()
	if len(s) < n {
		return nil, xrt.ErrStackUnderflow
	}
	in.SetStack(s[:len(s)-n])
	return s[len(s)-n:], nil
}

func push(in xrt.Interp, vs ...value.Value) { in.SetStack(append(in.Stack(), vs...)) }

func dup(_ context.Context, in xrt.Interp) error {
	top, err := pop(in, 1)
	if err != nil {
		return err
	}
	push(in, top[0], top[0])
	return nil
}

func drop(_ context.Context, in xrt.Interp) error {
	_, err := pop(in, 1)
	return err
}

func swap(_ context.Context, in xrt.Interp) error {
	top, err := pop(in, 2)
	if err != nil {
		return err
	}
	push(in, top[1], top[0])
	return nil
}

var errNotNumeric = errors.New("operands are not numeric")

func arith(op string) xrt.LocalFunc {
	return func(_ context.Context, in xrt.Interp) error {
		args, err := pop(in, 2)
		if err != nil {
			return err
		}
		out, err := apply(op, args[0], args[1])
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		push(in, out)
		return nil
	}
}

func apply(op string, a, b value.Value) (value.Value, error) {
	if op == "+" {
		sa, aok := a.(value.String)
		sb, bok := b.(value.String)
		if aok && bok {
			return sa + sb, nil
		}
	}
	ia, aInt := a.(value.Int)
	ib, bInt := b.(value.Int)
	if aInt && bInt && op != "/" {
		switch op {
		case "+":
			return ia + ib, nil
		case "-":
			return ia - ib, nil
		case "*":
			return ia * ib, nil
		}
	}
	fa, aok := toFloat(a)
	fb, bok := toFloat(b)
	if !aok || !bok {
		return nil, fmt.Errorf("%w (%v, %v)", errNotNumeric, a.Kind(), b.Kind())
	}
	switch op {
	case "+":
		return value.Float(fa + fb), nil
	case "-":
		return value.Float(fa - fb), nil
	case "*":
		return value.Float(fa * fb), nil
	case "/":
		if fb == 0 {
			return nil, ErrDivideByZero
		}
		return value.Float(fa / fb), nil
	}
	panic("unknown operator " + op)
}

func toFloat(v value.Value) (float64, bool) {
	switch t := v.(type) {
	case value.Int:
		return float64(t), true
	case value.Float:
		return float64(t), true
	}
	return 0, false
}
