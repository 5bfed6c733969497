// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package dispatch_test

import (
	"context"
	"errors"
	"testing"

	"github.com/creachadair/taskgroup"
	"github.com/forthix/xrt"
	"github.com/forthix/xrt/dispatch"
	"github.com/forthix/xrt/value"
	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
)

func ints(vs ...int64) []value.Value {
	out := make([]value.Value, len(vs))
	for i, v := range vs {
		out[i] = value.Int(v)
	}
	return out
}

func testModule() *dispatch.Module {
	return dispatch.NewModule("test", "Test words").
		Define("SQUARE", "( n -- n*n )", "Square a number", func(ctx context.Context, in xrt.Interp) error {
			s := in.Stack()
			if len(s) == 0 {
				return xrt.ErrStackUnderflow
			}
			n := s[len(s)-1].(value.Int)
			s[len(s)-1] = n * n
			in.SetStack(s)
			return nil
		}).
		Define("PANIC", "( -- )", "", func(context.Context, xrt.Interp) error {
			panic("oh no")
		}).
		Define("DUP", "( a -- a a a )", "Triplicate", func(_ context.Context, in xrt.Interp) error {
			s := in.Stack()
			in.SetStack(append(s, s[len(s)-1], s[len(s)-1]))
			return nil
		})
}

func TestExecute(t *testing.T) {
	defer leaktest.Check(t)()
	tab := dispatch.NewTable("go", dispatch.StandardModule(), testModule())
	defer tab.Close()
	ctx := context.Background()

	tests := []struct {
		name  string
		words []string
		input []value.Value
		want  []value.Value
	}{
		{"Add", []string{"+"}, ints(1, 2), ints(3)},
		{"Sub", []string{"-"}, ints(10, 4), ints(6)},
		{"Mul", []string{"*"}, ints(6, 7), ints(42)},
		{"Div", []string{"/"}, ints(7, 2), []value.Value{value.Float(3.5)}},
		{"Mixed", []string{"+"}, []value.Value{value.Int(1), value.Float(0.5)}, []value.Value{value.Float(1.5)}},
		{"Concat", []string{"+"}, []value.Value{value.String("a"), value.String("b")}, []value.Value{value.String("ab")}},
		{"DupMul", []string{"DUP", "*"}, ints(5), ints(25)},
		{"Swap", []string{"SWAP", "-"}, ints(1, 10), ints(9)},
		{"Drop", []string{"DROP"}, ints(1, 2), ints(1)},
		{"Local", []string{"SQUARE", "SQUARE"}, ints(3), ints(81)},
		{"Qualified", []string{"test.DUP"}, ints(4), ints(4, 4, 4)},
		{"Empty", nil, ints(1, 2), ints(1, 2)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tab.ExecuteSequence(ctx, tc.words, tc.input)
			if err != nil {
				t.Fatalf("ExecuteSequence %q: unexpected error: %v", tc.words, err)
			}
			if !value.EqualStacks(got, tc.want) {
				t.Errorf("ExecuteSequence %q: got %v, want %v", tc.words, got, tc.want)
			}
		})
	}

	t.Run("Word", func(t *testing.T) {
		got, err := tab.ExecuteWord(ctx, "DUP", ints(8))
		if err != nil {
			t.Fatalf("ExecuteWord: %v", err)
		}
		// The standard module is first, so the bare name resolves there.
		if want := ints(8, 8); !value.EqualStacks(got, want) {
			t.Errorf("ExecuteWord: got %v, want %v", got, want)
		}
	})
}

func TestFailures(t *testing.T) {
	defer leaktest.Check(t)()
	tab := dispatch.NewTable("go", dispatch.StandardModule(), testModule())
	defer tab.Close()
	ctx := context.Background()

	t.Run("DivideByZero", func(t *testing.T) {
		_, err := tab.ExecuteSequence(ctx, []string{"SQUARE", "/"}, ints(1, 0))
		var we *xrt.WordError
		if !errors.As(err, &we) {
			t.Fatalf("ExecuteSequence: got %v, want *xrt.WordError", err)
		}
		if !errors.Is(err, dispatch.ErrDivideByZero) {
			t.Errorf("Error %v does not wrap %v", err, dispatch.ErrDivideByZero)
		}
		if we.Word != "/" || we.Module != "standard" || we.Runtime != "go" {
			t.Errorf("WordError: got word %q module %q runtime %q", we.Word, we.Module, we.Runtime)
		}
		if diff := cmp.Diff([]string{"SQUARE", "/"}, we.Trace); diff != "" {
			t.Errorf("Trace (-want, +got):\n%s", diff)
		}
		info := xrt.InfoOf(err, "go")
		if info.ErrorType != "ZeroDivisionError" {
			t.Errorf("InfoOf: error type %q, want ZeroDivisionError", info.ErrorType)
		}
		if info.WordLocation != "/" || info.ModuleName != "standard" {
			t.Errorf("InfoOf: got location %q module %q", info.WordLocation, info.ModuleName)
		}
	})

	t.Run("Underflow", func(t *testing.T) {
		_, err := tab.ExecuteWord(ctx, "+", ints(1))
		if !errors.Is(err, xrt.ErrStackUnderflow) {
			t.Errorf("ExecuteWord: got %v, want %v", err, xrt.ErrStackUnderflow)
		}
	})

	t.Run("NotNumeric", func(t *testing.T) {
		_, err := tab.ExecuteWord(ctx, "*", []value.Value{value.String("x"), value.Int(2)})
		if err == nil {
			t.Error("ExecuteWord: got nil error for non-numeric operands")
		}
	})

	t.Run("UnknownWord", func(t *testing.T) {
		ran := false
		extra := dispatch.NewModule("extra", "").Define("RAN", "", "", func(context.Context, xrt.Interp) error {
			ran = true
			return nil
		})
		tab2 := dispatch.NewTable("go", extra)
		defer tab2.Close()

		_, err := tab2.ExecuteSequence(ctx, []string{"RAN", "NONESUCH"}, nil)
		if !errors.Is(err, xrt.ErrUnknownWord) {
			t.Errorf("ExecuteSequence: got %v, want %v", err, xrt.ErrUnknownWord)
		}
		if ran {
			t.Error("A word ran despite an unknown word in the sequence")
		}
		if got := xrt.InfoOf(err, "go").ErrorType; got != "UnknownWordError" {
			t.Errorf("InfoOf: error type %q, want UnknownWordError", got)
		}
	})

	t.Run("Panic", func(t *testing.T) {
		_, err := tab.ExecuteWord(ctx, "PANIC", nil)
		var we *xrt.WordError
		if !errors.As(err, &we) || we.Word != "PANIC" {
			t.Fatalf("ExecuteWord: got %v, want word error for PANIC", err)
		}
		if got := xrt.InfoOf(err, "go").ErrorType; got != "PanicError" {
			t.Errorf("InfoOf: error type %q, want PanicError", got)
		}
		// The table remains usable after a panic.
		if got, err := tab.ExecuteWord(ctx, "+", ints(2, 2)); err != nil || !value.EqualStacks(got, ints(4)) {
			t.Errorf("ExecuteWord after panic: got %v, %v", got, err)
		}
	})

	t.Run("Canceled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if _, err := tab.ExecuteWord(cctx, "+", ints(1, 2)); !errors.Is(err, context.Canceled) {
			t.Errorf("ExecuteWord: got %v, want %v", err, context.Canceled)
		}
	})
}

func TestDiscovery(t *testing.T) {
	defer leaktest.Check(t)()
	tab := dispatch.NewTable("go", dispatch.StandardModule(), testModule())
	defer tab.Close()
	ctx := context.Background()

	mods, err := tab.ListModules(ctx)
	if err != nil {
		t.Fatalf("ListModules: %v", err)
	}
	want := []xrt.ModuleSummary{
		{Name: "standard", Description: "Stack manipulation and arithmetic", WordCount: 7},
		{Name: "test", Description: "Test words", WordCount: 3, RuntimeSpecific: true},
	}
	if diff := cmp.Diff(want, mods); diff != "" {
		t.Errorf("ListModules (-want, +got):\n%s", diff)
	}

	info, err := tab.GetModuleInfo(ctx, "test")
	if err != nil {
		t.Fatalf("GetModuleInfo: %v", err)
	}
	if diff := cmp.Diff(&xrt.ModuleInfo{
		Name:        "test",
		Description: "Test words",
		Words: []xrt.WordInfo{
			{Name: "SQUARE", StackEffect: "( n -- n*n )", Description: "Square a number"},
			{Name: "PANIC", StackEffect: "( -- )"},
			{Name: "DUP", StackEffect: "( a -- a a a )", Description: "Triplicate"},
		},
	}, info); diff != "" {
		t.Errorf("GetModuleInfo (-want, +got):\n%s", diff)
	}

	if info, err := tab.GetModuleInfo(ctx, "nonesuch"); !errors.Is(err, dispatch.ErrUnknownModule) {
		t.Errorf("GetModuleInfo(nonesuch): got %v, %v; want %v", info, err, dispatch.ErrUnknownModule)
	}
}

func TestRedefine(t *testing.T) {
	m := dispatch.NewModule("m", "").
		Define("W", "", "first", nil).
		Define("V", "", "", nil).
		Define("W", "", "second", nil)
	info := m.Info()
	if len(info.Words) != 2 || info.Words[0].Description != "second" {
		t.Errorf("Info: got %+v, want W replaced in place", info.Words)
	}
}

func TestConcurrent(t *testing.T) {
	defer leaktest.Check(t)()

	// The counter word is not synchronized; the worker serializes it.
	var count int64
	m := dispatch.NewModule("count", "").Define("INC", "( -- n )", "", func(_ context.Context, in xrt.Interp) error {
		count++
		in.SetStack(append(in.Stack(), value.Int(count)))
		return nil
	})
	tab := dispatch.NewTable("go", m)
	defer tab.Close()

	const numCalls = 64
	g := taskgroup.New(nil)
	for range numCalls {
		g.Go(func() error {
			_, err := tab.ExecuteSequence(context.Background(), []string{"INC", "INC"}, nil)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if count != 2*numCalls {
		t.Errorf("Count: got %d, want %d", count, 2*numCalls)
	}
}

func TestClose(t *testing.T) {
	defer leaktest.Check(t)()
	tab := dispatch.NewTable("go", dispatch.StandardModule())
	if err := tab.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := tab.Close(); err != nil {
		t.Errorf("Close again: %v", err)
	}
	if _, err := tab.ExecuteWord(context.Background(), "DUP", ints(1)); !errors.Is(err, dispatch.ErrStopped) {
		t.Errorf("ExecuteWord after Close: got %v, want %v", err, dispatch.ErrStopped)
	}
}

func TestStandardWords(t *testing.T) {
	words := dispatch.StandardWords("python", "ruby")
	if len(words) != 7 {
		t.Fatalf("StandardWords: got %d words, want 7", len(words))
	}
	for _, w := range words {
		info := w.Info()
		if !info.Standard || !info.Accepts("python") || !info.Accepts("ruby") || info.Accepts("java") {
			t.Errorf("Word %q: bad runtime info %+v", w.Name(), info)
		}
	}
	in := xrt.NewStack(ints(3, 4)...)
	if err := words[3].Execute(context.Background(), in); err != nil {
		t.Fatalf("Execute %q: %v", words[3].Name(), err)
	}
	if got := in.Stack(); !value.EqualStacks(got, ints(7)) {
		t.Errorf("Execute %q: got %v, want [7]", words[3].Name(), got)
	}
}
