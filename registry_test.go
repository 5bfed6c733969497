// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package xrt_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/creachadair/taskgroup"
	"github.com/forthix/xrt"
	"github.com/google/go-cmp/cmp"
)

// fakeDialer returns a dialer that makes fake clients and remembers them by
// address.
func fakeDialer() (xrt.Dialer, func(string) *fakeClient) {
	var μ sync.Mutex
	made := make(map[string]*fakeClient)
	dial := func(_ context.Context, addr string, cfg xrt.Config) (xrt.Client, error) {
		if addr == "refused" {
			return nil, errors.New("connection refused")
		}
		μ.Lock()
		defer μ.Unlock()
		fc := newFakeClient()
		made[addr] = fc
		return fc, nil
	}
	get := func(addr string) *fakeClient {
		μ.Lock()
		defer μ.Unlock()
		return made[addr]
	}
	return dial, get
}

func TestRegistry(t *testing.T) {
	dial, made := fakeDialer()
	reg := xrt.NewRegistry(xrt.WithDialer(dial))
	ctx := t.Context()

	py, err := reg.Connect(ctx, "python", "tcp://py:9000", nil)
	if err != nil {
		t.Fatalf("Connect python: %v", err)
	}

	t.Run("DuplicateConnect", func(t *testing.T) {
		_, err := reg.Connect(ctx, "python", "tcp://other:9000", nil)
		if !isUsage(err, xrt.ErrDuplicateRuntime) {
			t.Errorf("Connect python again: got %v, want %v", err, xrt.ErrDuplicateRuntime)
		}
		got, ok := reg.Get("python")
		if !ok || got != py {
			t.Errorf("Get python: got %v, %v; want original client", got, ok)
		}
		if made("tcp://py:9000").closeCount() != 0 {
			t.Error("Original client was closed by a duplicate connect")
		}
	})

	t.Run("DuplicateRegister", func(t *testing.T) {
		if err := reg.Register("python", newFakeClient()); !isUsage(err, xrt.ErrDuplicateRuntime) {
			t.Errorf("Register python: got %v, want %v", err, xrt.ErrDuplicateRuntime)
		}
	})

	t.Run("ReservedNames", func(t *testing.T) {
		for _, name := range []string{"", xrt.LocalRuntime} {
			if _, err := reg.Connect(ctx, name, "x", nil); !isUsage(err, xrt.ErrReservedName) {
				t.Errorf("Connect %q: got %v, want %v", name, err, xrt.ErrReservedName)
			}
			if err := reg.Register(name, newFakeClient()); !isUsage(err, xrt.ErrReservedName) {
				t.Errorf("Register %q: got %v, want %v", name, err, xrt.ErrReservedName)
			}
		}
	})

	t.Run("DialFailure", func(t *testing.T) {
		_, err := reg.Connect(ctx, "ruby", "refused", nil)
		var te *xrt.TransportError
		if !errors.As(err, &te) || te.Runtime != "ruby" {
			t.Errorf("Connect ruby: got %v, want transport error for ruby", err)
		}
		if reg.Has("ruby") {
			t.Error("Failed connect left ruby registered")
		}
	})

	t.Run("ListAndDisconnect", func(t *testing.T) {
		rb := newFakeClient()
		if err := reg.Register("ruby", rb); err != nil {
			t.Fatalf("Register ruby: %v", err)
		}
		if diff := cmp.Diff([]string{"python", "ruby"}, reg.List()); diff != "" {
			t.Errorf("List (-want, +got):\n%s", diff)
		}
		if err := reg.Disconnect("ruby"); err != nil {
			t.Errorf("Disconnect ruby: %v", err)
		}
		if rb.closeCount() != 1 {
			t.Errorf("Disconnect closed ruby %d times, want 1", rb.closeCount())
		}
		if reg.Has("ruby") {
			t.Error("ruby still registered after disconnect")
		}

		// Disconnecting an absent runtime is not an error.
		if err := reg.Disconnect("ruby"); err != nil {
			t.Errorf("Disconnect absent: got %v, want nil", err)
		}
		if _, err := reg.Client("ruby"); !isUsage(err, xrt.ErrUnknownRuntime) {
			t.Errorf("Client(ruby): got %v, want %v", err, xrt.ErrUnknownRuntime)
		}
	})

	t.Run("Reset", func(t *testing.T) {
		if err := reg.Reset(); err != nil {
			t.Errorf("Reset: %v", err)
		}
		if got := reg.List(); len(got) != 0 {
			t.Errorf("List after reset: got %v, want empty", got)
		}
		if made("tcp://py:9000").closeCount() != 1 {
			t.Error("Reset did not close the python client")
		}
	})
}

func TestRegistryConfig(t *testing.T) {
	var got xrt.Config
	dial := func(_ context.Context, _ string, cfg xrt.Config) (xrt.Client, error) {
		got = cfg
		return newFakeClient(), nil
	}
	reg := xrt.NewRegistry(xrt.WithDialer(dial), xrt.WithConfig(xrt.Config{Timeout: time.Second}))

	if _, err := reg.Connect(t.Context(), "a", "x", nil); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if diff := cmp.Diff(xrt.Config{Runtime: "a", Timeout: time.Second}, got); diff != "" {
		t.Errorf("Default config (-want, +got):\n%s", diff)
	}

	if _, err := reg.Connect(t.Context(), "b", "x", &xrt.Config{Timeout: -1}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if diff := cmp.Diff(xrt.Config{Runtime: "b", Timeout: -1}, got); diff != "" {
		t.Errorf("Explicit config (-want, +got):\n%s", diff)
	}
}

func TestRegistryConcurrent(t *testing.T) {
	dial, _ := fakeDialer()
	reg := xrt.NewRegistry(xrt.WithDialer(dial))

	// Many goroutines race to connect the same few names; exactly one
	// connection per name wins.
	const perName = 8
	names := []string{"a", "b", "c"}
	var μ sync.Mutex
	wins := make(map[string]int)

	g := taskgroup.New(nil)
	for i := range perName {
		for _, name := range names {
			g.Go(func() error {
				_, err := reg.Connect(context.Background(), name, fmt.Sprintf("%s-%d", name, i), nil)
				if err == nil {
					μ.Lock()
					wins[name]++
					μ.Unlock()
				} else if !isUsage(err, xrt.ErrDuplicateRuntime) {
					return err
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if diff := cmp.Diff(map[string]int{"a": 1, "b": 1, "c": 1}, wins); diff != "" {
		t.Errorf("Winners (-want, +got):\n%s", diff)
	}
	if diff := cmp.Diff(names, reg.List()); diff != "" {
		t.Errorf("List (-want, +got):\n%s", diff)
	}
}

func TestDefaultRegistry(t *testing.T) {
	defer xrt.ResetDefault()

	r1 := xrt.Default()
	if r2 := xrt.Default(); r1 != r2 {
		t.Error("Default returned distinct registries without a reset")
	}
	fc := newFakeClient()
	if err := r1.Register("python", fc); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := xrt.ResetDefault(); err != nil {
		t.Errorf("ResetDefault: %v", err)
	}
	if n := len(r1.List()); n != 0 {
		t.Errorf("Old registry has %d runtimes after reset, want 0", n)
	}
	if fc.closeCount() != 1 {
		t.Error("ResetDefault did not close the client")
	}
	r3 := xrt.Default()
	if r3 == r1 {
		t.Error("Default returned the same registry after reset")
	}
	if n := len(r3.List()); n != 0 {
		t.Errorf("New registry has %d runtimes, want 0", n)
	}
}

func TestContextRegistry(t *testing.T) {
	defer xrt.ResetDefault()

	reg := xrt.NewRegistry()
	ctx := xrt.WithRegistry(t.Context(), reg)
	if got := xrt.ContextRegistry(ctx); got != reg {
		t.Errorf("ContextRegistry: got %p, want %p", got, reg)
	}
	if got := xrt.ContextRegistry(t.Context()); got != xrt.Default() {
		t.Errorf("ContextRegistry without value: got %p, want default", got)
	}
}

func TestLoadModule(t *testing.T) {
	fc := newFakeClient()
	fc.info["text"] = &xrt.ModuleInfo{Name: "text", Words: []xrt.WordInfo{{Name: "UPPER"}}}
	reg := xrt.NewRegistry()
	if err := reg.Register("python", fc); err != nil {
		t.Fatal(err)
	}

	m, err := reg.LoadModule(t.Context(), "python", "text")
	if err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	if m.WordCount() != 1 || m.Runtime() != "python" {
		t.Errorf("LoadModule: got %d words on %q", m.WordCount(), m.Runtime())
	}
	if _, err := reg.LoadModule(t.Context(), "ruby", "text"); !isUsage(err, xrt.ErrUnknownRuntime) {
		t.Errorf("LoadModule(ruby): got %v, want %v", err, xrt.ErrUnknownRuntime)
	}
}

func TestDialScheme(t *testing.T) {
	for _, tc := range []struct {
		input, scheme, rest string
	}{
		{"localhost:9000", "tcp", "localhost:9000"},
		{"unix:///tmp/xrt.sock", "unix", "/tmp/xrt.sock"},
		{"grpc://py:50051", "grpc", "py:50051"},
		{"kafka://b1:9092,b2:9092/requests", "kafka", "b1:9092,b2:9092/requests"},
	} {
		scheme, rest := xrt.SplitScheme(tc.input)
		if scheme != tc.scheme || rest != tc.rest {
			t.Errorf("SplitScheme(%q): got %q, %q; want %q, %q", tc.input, scheme, rest, tc.scheme, tc.rest)
		}
	}

	if _, err := xrt.Dial(t.Context(), "nonesuch://x", xrt.Config{}); !isUsage(err, xrt.ErrNoTransport) {
		t.Errorf("Dial unknown scheme: got %v, want %v", err, xrt.ErrNoTransport)
	}
}

func TestRegisterTransport(t *testing.T) {
	dial, made := fakeDialer()
	xrt.RegisterTransport("fake-test", dial)

	cli, err := xrt.Dial(t.Context(), "fake-test://somewhere", xrt.Config{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if made("somewhere") != cli {
		t.Error("Dial did not pass the address without its scheme")
	}
	if !slices.Contains(xrt.Transports(), "fake-test") {
		t.Errorf("Transports: got %v, missing fake-test", xrt.Transports())
	}
}
