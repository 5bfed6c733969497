// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package main

import (
	"context"
	"testing"

	"github.com/forthix/xrt"
	"github.com/forthix/xrt/dispatch"
	"github.com/forthix/xrt/value"
)

func TestParseValues(t *testing.T) {
	tests := []struct {
		input string
		want  value.Value
	}{
		{"25", value.Int(25)},
		{"-3", value.Int(-3)},
		{"2.5", value.Float(2.5)},
		{"true", value.Bool(true)},
		{"false", value.Bool(false)},
		{"null", value.Null{}},
		{"hello", value.String("hello")},
		{"[1, 2.5, \"x\"]", value.Array{value.Int(1), value.Float(2.5), value.String("x")}},
		{`{"b": 2, "a": [true]}`, value.MakeRecord(
			value.Field{Key: "a", Value: value.Array{value.Bool(true)}},
			value.Field{Key: "b", Value: value.Int(2)},
		)},
	}
	for _, tc := range tests {
		got, err := parseValue(tc.input)
		if err != nil {
			t.Errorf("parseValue(%q): unexpected error: %v", tc.input, err)
		} else if !value.Equal(got, tc.want) {
			t.Errorf("parseValue(%q): got %v, want %v", tc.input, got, tc.want)
		}
	}

	if _, err := parseValues([]string{"1", "[1,"}); err == nil {
		t.Error("parseValues: got nil, want error for bad JSON")
	}
}

func TestResolver(t *testing.T) {
	ctx := context.Background()
	tab := dispatch.NewTable("python", dispatch.StandardModule())
	defer tab.Close()

	mod := xrt.NewRemoteModule("standard", "python", tab)
	if err := mod.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	remote, err := mod.Words()
	if err != nil {
		t.Fatalf("Words: %v", err)
	}

	r := newResolver(dispatch.StandardWords("python"))
	r.addModule("standard", remote)

	if w, ok := r.lookup("standard.DUP"); !ok || !w.Info().Remote {
		t.Errorf("lookup standard.DUP: got %v, %v; want the remote word", w, ok)
	}
	if w, ok := r.lookup("DUP"); !ok || w.Info().Remote {
		t.Errorf("lookup DUP: got %v, %v; want the local word", w, ok)
	}
	if w, ok := r.lookup("nonesuch"); ok {
		t.Errorf("lookup nonesuch: got %v, want none", w)
	}

	// A bare name with no local word resolves to a module word.
	r2 := newResolver(nil)
	r2.addModule("standard", remote)
	if w, ok := r2.lookup("SWAP"); !ok || !w.Info().Remote {
		t.Errorf("lookup SWAP: got %v, %v; want the remote word", w, ok)
	}

	// Standard words join the batch of the surrounding remote words.
	words := []xrt.Word{mustLookup(t, r, "standard.DUP"), mustLookup(t, r, "+"), mustLookup(t, r, "standard.SWAP")}
	if plan := xrt.Plan(words); len(plan) != 1 || plan[0].Runtime != "python" {
		t.Errorf("Plan: got %v, want one python batch", plan)
	}
}

func mustLookup(t *testing.T, r *resolver, name string) xrt.Word {
	t.Helper()
	w, ok := r.lookup(name)
	if !ok {
		t.Fatalf("lookup %q: not found", name)
	}
	return w
}
