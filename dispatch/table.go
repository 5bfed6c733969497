// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package dispatch implements an [xrt.Service] over a table of local words.
//
// A [Table] holds an ordered list of modules. Words run one at a time on a
// single worker goroutine, so word implementations need not be safe for
// concurrent use even when the table serves many callers.
//
//	tab := dispatch.NewTable("go", dispatch.StandardModule(), mine)
//	defer tab.Close()
//	out, err := tab.ExecuteSequence(ctx, []string{"DUP", "*"}, stack)
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/creachadair/taskgroup"
	"github.com/forthix/xrt"
	"github.com/forthix/xrt/value"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("xrt.dispatch")

var (
	// ErrUnknownModule is reported for a module name the table does not have.
	ErrUnknownModule = errors.New("unknown module")

	// ErrStopped is reported for calls after the table is closed.
	ErrStopped = errors.New("table is closed")
)

// A Table is an [xrt.Service] that executes words from a fixed set of modules.
type Table struct {
	runtime string
	modules []*Module

	jobs  chan job
	quit  chan struct{}
	tasks *taskgroup.Group
}

type job struct {
	run  func() error
	done chan error
}

// NewTable constructs a table serving the given modules on behalf of the
// named runtime, and starts its worker. When two modules define the same
// word, a bare word name resolves to the earlier module. The caller must
// call Close when the table is no longer needed.
func NewTable(runtime string, modules ...*Module) *Table {
	t := &Table{
		runtime: runtime,
		modules: modules,
		jobs:    make(chan job),
		quit:    make(chan struct{}),
		tasks:   taskgroup.New(nil),
	}
	t.tasks.Go(func() error {
		for {
			select {
			case j := <-t.jobs:
				j.done <- t.execute(j.run)
			case <-t.quit:
				return nil
			}
		}
	})
	return t
}

// Close stops the worker of t and waits for it to exit. Calls in progress
// complete first. It is safe to call Close more than once.
func (t *Table) Close() error {
	select {
	case <-t.quit:
	default:
		close(t.quit)
	}
	return t.tasks.Wait()
}

// Runtime reports the runtime name of t.
func (t *Table) Runtime() string { return t.runtime }

// execute runs fn, recovering from a panic.
func (t *Table) execute(fn func() error) (err error) {
	defer func() {
		if x := recover(); x != nil {
			log.Errorf("word panicked: %v", x)
			err = &Fault{Type: "PanicError", Message: fmt.Sprint(x)}
		}
	}()
	return fn()
}

// do runs fn on the worker and waits for it to finish, or for ctx to end.
func (t *Table) do(ctx context.Context, fn func() error) error {
	select {
	case <-t.quit:
		return ErrStopped
	default:
	}
	j := job{run: fn, done: make(chan error, 1)}
	select {
	case t.jobs <- j:
	case <-t.quit:
		return ErrStopped
	case <-ctx.Done():
		return context.Cause(ctx)
	}
	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// resolve finds the word with the given name. A name of the form
// "module.word" selects a word of a specific module.
func (t *Table) resolve(name string) (*Module, *entry, error) {
	if mod, word, ok := strings.Cut(name, "."); ok && mod != "" && word != "" {
		if m := t.module(mod); m != nil {
			if e := m.lookup(word); e != nil {
				return m, e, nil
			}
		}
	}
	for _, m := range t.modules {
		if e := m.lookup(name); e != nil {
			return m, e, nil
		}
	}
	return nil, nil, &xrt.WordError{
		Runtime: t.runtime,
		Word:    name,
		Err: &Fault{
			Type:    "UnknownWordError",
			Message: fmt.Sprintf("%v: %q", xrt.ErrUnknownWord, name),
			Err:     xrt.ErrUnknownWord,
		},
	}
}

func (t *Table) module(name string) *Module {
	for _, m := range t.modules {
		if m.Name == name {
			return m
		}
	}
	return nil
}

type step struct {
	name string
	mod  *Module
	e    *entry
}

// run executes steps in order against stack on the worker. On failure the
// error is a [*xrt.WordError] whose trace lists the words executed up to and
// including the one that failed.
func (t *Table) run(ctx context.Context, steps []step, stack []value.Value) ([]value.Value, error) {
	in := xrt.NewStack(stack...)
	err := t.do(ctx, func() error {
		for i, s := range steps {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := t.execute(func() error { return s.e.run(ctx, in) }); err != nil {
				trace := make([]string, i+1)
				for j := range trace {
					trace[j] = steps[j].name
				}
				return &xrt.WordError{
					Runtime: t.runtime,
					Module:  s.mod.Name,
					Word:    s.name,
					Trace:   trace,
					Err:     err,
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return in.Stack(), nil
}

// ExecuteWord implements a method of [xrt.Service].
func (t *Table) ExecuteWord(ctx context.Context, word string, stack []value.Value) ([]value.Value, error) {
	m, e, err := t.resolve(word)
	if err != nil {
		return nil, err
	}
	return t.run(ctx, []step{{name: word, mod: m, e: e}}, stack)
}

// ExecuteSequence implements a method of [xrt.Service]. Every word is
// resolved before any executes, so an unknown word leaves nothing run.
func (t *Table) ExecuteSequence(ctx context.Context, words []string, stack []value.Value) ([]value.Value, error) {
	steps := make([]step, len(words))
	for i, w := range words {
		m, e, err := t.resolve(w)
		if err != nil {
			return nil, err
		}
		steps[i] = step{name: w, mod: m, e: e}
	}
	return t.run(ctx, steps, stack)
}

// ListModules implements a method of [xrt.Service].
func (t *Table) ListModules(context.Context) ([]xrt.ModuleSummary, error) {
	out := make([]xrt.ModuleSummary, len(t.modules))
	for i, m := range t.modules {
		out[i] = m.Summary()
	}
	return out, nil
}

// GetModuleInfo implements a method of [xrt.Service].
func (t *Table) GetModuleInfo(_ context.Context, module string) (*xrt.ModuleInfo, error) {
	m := t.module(module)
	if m == nil {
		return nil, &Fault{
			Type:    "UnknownModuleError",
			Message: fmt.Sprintf("%v: %q", ErrUnknownModule, module),
			Err:     ErrUnknownModule,
		}
	}
	return m.Info(), nil
}
