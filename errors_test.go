// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package xrt_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/forthix/xrt"
	"github.com/google/go-cmp/cmp"
)

func TestFromWire(t *testing.T) {
	t.Run("Composition", func(t *testing.T) {
		err := xrt.FromWire(xrt.ErrorInfo{
			Message:    "Division by zero",
			ModuleName: "math",
			Context:    map[string]string{"word": "DIVIDE"},
		})
		msg := err.Error()
		last := -1
		for _, want := range []string{"Division by zero", "Module: math", "word: DIVIDE"} {
			i := strings.Index(msg, want)
			if i < 0 {
				t.Errorf("Message %q does not contain %q", msg, want)
			} else if i < last {
				t.Errorf("Message %q has %q out of order", msg, want)
			}
			last = i
		}
	})

	t.Run("ContextOrder", func(t *testing.T) {
		err := xrt.FromWire(xrt.ErrorInfo{
			Message: "bad",
			Context: map[string]string{"zeta": "1", "alpha": "2", "mid": "3"},
		})
		want := "bad\nContext:\n  alpha: 2\n  mid: 3\n  zeta: 1"
		if got := err.Error(); got != want {
			t.Errorf("Error: got %q, want %q", got, want)
		}
	})

	t.Run("Defaults", func(t *testing.T) {
		err := xrt.FromWire(xrt.ErrorInfo{Message: "plain"})
		if got := err.Error(); got != "plain" {
			t.Errorf("Error: got %q, want plain", got)
		}
		if got := err.Kind(); got != xrt.DefaultErrorKind {
			t.Errorf("Kind: got %q, want %q", got, xrt.DefaultErrorKind)
		}
		if got := err.RemoteTrace(); got == nil || len(got) != 0 {
			t.Errorf("RemoteTrace: got %#v, want empty", got)
		}
		if got := err.Context(); got == nil || len(got) != 0 {
			t.Errorf("Context: got %#v, want empty", got)
		}
		if got := err.Module(); got != "" {
			t.Errorf("Module: got %q, want empty", got)
		}
	})

	t.Run("Fields", func(t *testing.T) {
		info := xrt.ErrorInfo{
			Message:    "boom",
			Runtime:    "python",
			ErrorType:  "ValueError",
			ModuleName: "text",
			StackTrace: []string{"frame 1", "frame 2"},
		}
		err := xrt.FromWire(info)
		if got := err.Kind(); got != "ValueError" {
			t.Errorf("Kind: got %q", got)
		}
		if diff := cmp.Diff(info.StackTrace, err.RemoteTrace()); diff != "" {
			t.Errorf("RemoteTrace (-want, +got):\n%s", diff)
		}
		if diff := cmp.Diff(info, err.Info()); diff != "" {
			t.Errorf("Info (-want, +got):\n%s", diff)
		}
	})
}

func TestReport(t *testing.T) {
	err := xrt.FromWire(xrt.ErrorInfo{
		Message:      "boom",
		Runtime:      "python",
		ErrorType:    "ValueError",
		WordLocation: "PARSE",
		StackTrace:   []string{"parse.py:10", "main.py:3"},
	})

	local := err.LocalStack()
	if len(local) == 0 {
		t.Fatal("LocalStack is empty")
	}
	if !strings.Contains(local[0], "TestReport") {
		t.Errorf("LocalStack[0]: got %q, want the capturing test", local[0])
	}

	rep := err.Report()
	for _, want := range []string{
		"ValueError: boom",
		"Word: PARSE",
		"Remote stack (python):\n  parse.py:10\n  main.py:3\n",
		"Local stack:\n",
	} {
		if !strings.Contains(rep, want) {
			t.Errorf("Report is missing %q:\n%s", want, rep)
		}
	}
	if strings.Index(rep, "Remote stack") > strings.Index(rep, "Local stack") {
		t.Errorf("Report has local stack before remote stack:\n%s", rep)
	}

	st := err.Structured()
	data, jerr := json.Marshal(st)
	if jerr != nil {
		t.Fatalf("Marshal structured report: %v", jerr)
	}
	var back xrt.ErrorReport
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal structured report: %v", err)
	}
	if diff := cmp.Diff(st, back); diff != "" {
		t.Errorf("Structured round trip (-want, +got):\n%s", diff)
	}
	if st.Kind != "ValueError" || st.Runtime != "python" || st.WordLocation != "PARSE" {
		t.Errorf("Structured: got %+v", st)
	}
}

type typedErr struct{}

func (typedErr) Error() string     { return "division by zero" }
func (typedErr) ErrorType() string { return "ZeroDivisionError" }

func TestInfoOf(t *testing.T) {
	t.Run("Plain", func(t *testing.T) {
		got := xrt.InfoOf(errors.New("oops"), "go")
		if diff := cmp.Diff(xrt.ErrorInfo{Message: "oops", Runtime: "go"}, got); diff != "" {
			t.Errorf("InfoOf (-want, +got):\n%s", diff)
		}
	})

	t.Run("WordError", func(t *testing.T) {
		err := &xrt.WordError{Module: "math", Word: "/", Trace: []string{"1", "0", "/"}, Err: typedErr{}}
		got := xrt.InfoOf(err, "go")
		want := xrt.ErrorInfo{
			Message:      "division by zero",
			Runtime:      "go",
			StackTrace:   []string{"1", "0", "/"},
			ErrorType:    "ZeroDivisionError",
			WordLocation: "/",
			ModuleName:   "math",
			Context:      map[string]string{"word": "/"},
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("InfoOf (-want, +got):\n%s", diff)
		}
	})

	t.Run("Forwarded", func(t *testing.T) {
		inner := xrt.ErrorInfo{Message: "deep", ErrorType: "KeyError", ModuleName: "m"}
		err := &xrt.WordError{Word: "X", Err: xrt.FromWire(inner)}
		got := xrt.InfoOf(err, "relay")
		inner.Runtime = "relay"
		if diff := cmp.Diff(inner, got); diff != "" {
			t.Errorf("InfoOf (-want, +got):\n%s", diff)
		}
	})
}

func TestTransportError(t *testing.T) {
	cfg := &xrt.Config{Timeout: time.Millisecond}
	ctx, cancel := cfg.CallContext(context.Background())
	defer cancel()
	<-ctx.Done()

	err := xrt.Transport(ctx, "python", "execute", ctx.Err())
	var te *xrt.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("Transport: got %T, want *TransportError", err)
	}
	if !errors.Is(err, xrt.ErrTimeout) {
		t.Errorf("Transport: got %v, want %v", err, xrt.ErrTimeout)
	}
	var re *xrt.RemoteError
	if errors.As(err, &re) {
		t.Error("Transport error carries a remote error")
	}

	closed := xrt.Transport(context.Background(), "python", "execute", xrt.ErrClosed)
	if !errors.Is(closed, xrt.ErrClosed) {
		t.Errorf("Transport: got %v, want %v", closed, xrt.ErrClosed)
	}
}

func TestCallTimeout(t *testing.T) {
	var nilCfg *xrt.Config
	if got := nilCfg.CallTimeout(); got != xrt.DefaultTimeout {
		t.Errorf("nil CallTimeout: got %v, want %v", got, xrt.DefaultTimeout)
	}
	if got := (&xrt.Config{Timeout: 5 * time.Second}).CallTimeout(); got != 5*time.Second {
		t.Errorf("CallTimeout: got %v, want 5s", got)
	}

	ctx, cancel := (&xrt.Config{Timeout: -1}).CallContext(context.Background())
	defer cancel()
	if _, ok := ctx.Deadline(); ok {
		t.Error("Negative timeout set a deadline")
	}
}
