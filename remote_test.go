// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package xrt_test

import (
	"errors"
	"testing"

	"github.com/forthix/xrt"
	"github.com/forthix/xrt/value"
	"github.com/google/go-cmp/cmp"
)

func TestRemoteWord(t *testing.T) {
	t.Run("ReplacesStack", func(t *testing.T) {
		fc := newFakeClient()
		var sent []value.Value
		fc.word = func(_ string, stack []value.Value) ([]value.Value, error) {
			sent = stack
			return []value.Value{value.Int(10), value.Int(20)}, nil
		}
		w := xrt.NewRemoteWord(fc, "python", "math", xrt.WordInfo{Name: "COMBINE"})
		st := xrt.NewStack(value.Int(1), value.Int(2), value.Int(3))

		if err := w.Execute(t.Context(), st); err != nil {
			t.Fatalf("Execute: unexpected error: %v", err)
		}
		if want := []value.Value{value.Int(1), value.Int(2), value.Int(3)}; !value.EqualStacks(sent, want) {
			t.Errorf("Sent stack: got %v, want %v", sent, want)
		}
		if got, want := st.Stack(), []value.Value{value.Int(10), value.Int(20)}; !value.EqualStacks(got, want) {
			t.Errorf("Stack: got %v, want %v", got, want)
		}
		if diff := cmp.Diff([]string{"word:COMBINE"}, fc.log()); diff != "" {
			t.Errorf("Calls (-want, +got):\n%s", diff)
		}
	})

	t.Run("FailureKeepsStack", func(t *testing.T) {
		fc := newFakeClient()
		fail := errors.New("connection reset")
		fc.word = func(string, []value.Value) ([]value.Value, error) {
			return []value.Value{value.Int(99)}, &xrt.TransportError{Runtime: "python", Op: "execute", Err: fail}
		}
		w := xrt.NewRemoteWord(fc, "python", "math", xrt.WordInfo{Name: "COMBINE"})
		st := xrt.NewStack(value.Int(1), value.Int(2), value.Int(3))

		err := w.Execute(t.Context(), st)
		var we *xrt.WordError
		if !errors.As(err, &we) {
			t.Fatalf("Execute: got %v, want *WordError", err)
		}
		if we.Runtime != "python" || we.Module != "math" || we.Word != "COMBINE" {
			t.Errorf("WordError context: got %+v", we)
		}
		if !errors.Is(err, fail) {
			t.Errorf("Execute: error %v does not wrap %v", err, fail)
		}
		if got, want := st.Stack(), []value.Value{value.Int(1), value.Int(2), value.Int(3)}; !value.EqualStacks(got, want) {
			t.Errorf("Stack: got %v, want %v", got, want)
		}
	})

	t.Run("Info", func(t *testing.T) {
		w := xrt.NewRemoteWord(nil, "python", "math", xrt.WordInfo{Name: "X", StackEffect: "( a -- b )"})
		info := w.Info()
		if !info.Remote || info.Standard || info.Runtime != "python" {
			t.Errorf("Info: got %+v", info)
		}
		if info.AvailableIn.Len() != 1 || !info.AvailableIn.Has("python") {
			t.Errorf("AvailableIn: got %v, want {python}", info.AvailableIn)
		}
		if got := w.StackEffect(); got != "( a -- b )" {
			t.Errorf("StackEffect: got %q", got)
		}
	})
}

func TestLocalWordInfo(t *testing.T) {
	w := xrt.NewLocalWord("A", nop)
	if info := w.Info(); info.Remote || info.Standard || info.Runtime != xrt.LocalRuntime {
		t.Errorf("Local info: got %+v", info)
	}
	s := xrt.NewStandardWord("MAP", nop, "py", "rb")
	info := s.Info()
	if info.Remote || !info.Standard {
		t.Errorf("Standard info: got %+v", info)
	}
	for _, rt := range []string{"py", "rb"} {
		if !info.Accepts(rt) {
			t.Errorf("Standard word does not accept %q", rt)
		}
	}
	if info.Accepts("js") {
		t.Error("Standard word accepts js")
	}
}

func TestRemoteModule(t *testing.T) {
	fc := newFakeClient()
	fc.info["math"] = &xrt.ModuleInfo{
		Name:        "math",
		Description: "arithmetic",
		Words: []xrt.WordInfo{
			{Name: "ADD", StackEffect: "( a b -- sum )"},
			{Name: "DIVIDE", StackEffect: "( a b -- q )"},
		},
	}
	m := xrt.NewRemoteModule("math", "python", fc)

	// Before initialization the module is not usable.
	if n := m.WordCount(); n != 0 {
		t.Errorf("WordCount before init: got %d, want 0", n)
	}
	if _, err := m.Words(); !isUsage(err, xrt.ErrNotInitialized) {
		t.Errorf("Words before init: got %v, want %v", err, xrt.ErrNotInitialized)
	}
	if _, err := m.Word("ADD"); !isUsage(err, xrt.ErrNotInitialized) {
		t.Errorf("Word before init: got %v, want %v", err, xrt.ErrNotInitialized)
	}
	if _, err := m.Info(); !isUsage(err, xrt.ErrNotInitialized) {
		t.Errorf("Info before init: got %v, want %v", err, xrt.ErrNotInitialized)
	}

	for range 3 {
		if err := m.Initialize(t.Context()); err != nil {
			t.Fatalf("Initialize: unexpected error: %v", err)
		}
	}
	if diff := cmp.Diff([]string{"info:math"}, fc.log()); diff != "" {
		t.Errorf("Initialize is not idempotent (-want, +got):\n%s", diff)
	}
	if !m.Initialized() {
		t.Error("Initialized: got false after Initialize")
	}
	if n := m.WordCount(); n != 2 {
		t.Errorf("WordCount: got %d, want 2", n)
	}

	words, err := m.Words()
	if err != nil {
		t.Fatalf("Words: %v", err)
	}
	var names []string
	for _, w := range words {
		names = append(names, w.Name())
		info := w.Info()
		if !info.Remote || info.Runtime != "python" {
			t.Errorf("Word %q info: got %+v", w.Name(), info)
		}
	}
	if diff := cmp.Diff([]string{"ADD", "DIVIDE"}, names); diff != "" {
		t.Errorf("Word names (-want, +got):\n%s", diff)
	}

	if _, err := m.Word("NONESUCH"); !isUsage(err, xrt.ErrUnknownWord) {
		t.Errorf("Word(NONESUCH): got %v, want %v", err, xrt.ErrUnknownWord)
	}
	w, err := m.Word("DIVIDE")
	if err != nil {
		t.Fatalf("Word(DIVIDE): %v", err)
	}
	if rw, ok := w.(*xrt.RemoteWord); !ok || rw.Module() != "math" {
		t.Errorf("Word(DIVIDE): got %#v", w)
	}
}

func TestRemoteModuleFailure(t *testing.T) {
	fc := newFakeClient()
	m := xrt.NewRemoteModule("missing", "python", fc)

	err := m.Initialize(t.Context())
	var re *xrt.RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("Initialize: got %v, want *RemoteError", err)
	}
	if m.Initialized() || m.WordCount() != 0 {
		t.Error("Module initialized after a failed discovery")
	}

	// A later attempt tries again.
	fc.info["missing"] = &xrt.ModuleInfo{Name: "missing"}
	if err := m.Initialize(t.Context()); err != nil {
		t.Errorf("Initialize retry: %v", err)
	}
}
