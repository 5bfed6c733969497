// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package xrt_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/creachadair/mds/mapset"
	"github.com/forthix/xrt"
	"github.com/forthix/xrt/value"
)

// fakeClient is a scriptable xrt.Client for tests.
type fakeClient struct {
	word func(string, []value.Value) ([]value.Value, error)
	seq  func([]string, []value.Value) ([]value.Value, error)
	mods []xrt.ModuleSummary
	info map[string]*xrt.ModuleInfo

	μ      sync.Mutex
	calls  []string
	closed int
}

func newFakeClient() *fakeClient { return &fakeClient{info: make(map[string]*xrt.ModuleInfo)} }

func (f *fakeClient) record(format string, args ...any) error {
	f.μ.Lock()
	defer f.μ.Unlock()
	if f.closed != 0 {
		return &xrt.TransportError{Op: "call", Err: xrt.ErrClosed}
	}
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	return nil
}

func (f *fakeClient) log() []string {
	f.μ.Lock()
	defer f.μ.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeClient) ExecuteWord(_ context.Context, word string, stack []value.Value) ([]value.Value, error) {
	if err := f.record("word:%s", word); err != nil {
		return nil, err
	}
	return f.word(word, stack)
}

func (f *fakeClient) ExecuteSequence(_ context.Context, words []string, stack []value.Value) ([]value.Value, error) {
	if err := f.record("seq:%s", strings.Join(words, " ")); err != nil {
		return nil, err
	}
	return f.seq(words, stack)
}

func (f *fakeClient) ListModules(context.Context) ([]xrt.ModuleSummary, error) {
	if err := f.record("list"); err != nil {
		return nil, err
	}
	return f.mods, nil
}

func (f *fakeClient) GetModuleInfo(_ context.Context, module string) (*xrt.ModuleInfo, error) {
	if err := f.record("info:%s", module); err != nil {
		return nil, err
	}
	mi, ok := f.info[module]
	if !ok {
		return nil, xrt.FromWire(xrt.ErrorInfo{Message: "no such module", ModuleName: module})
	}
	return mi, nil
}

func (f *fakeClient) Close() error {
	f.μ.Lock()
	defer f.μ.Unlock()
	f.closed++
	return nil
}

func (f *fakeClient) closeCount() int {
	f.μ.Lock()
	defer f.μ.Unlock()
	return f.closed
}

// unboundWord is a remote word that carries no client of its own.
type unboundWord struct {
	name, runtime string
}

func (u unboundWord) Name() string { return u.name }

func (u unboundWord) Info() xrt.RuntimeInfo {
	return xrt.RuntimeInfo{Runtime: u.runtime, Remote: true, AvailableIn: mapset.New(u.runtime)}
}

func (u unboundWord) Execute(context.Context, xrt.Interp) error {
	return errors.New("unbound word executed directly")
}

func asError[T error](err error, target *T) bool { return errors.As(err, target) }

func isUsage(err, target error) bool {
	var ue *xrt.UsageError
	return errors.As(err, &ue) && errors.Is(err, target)
}
