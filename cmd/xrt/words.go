// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/forthix/xrt"
	"github.com/forthix/xrt/value"
)

// A resolver maps word names to words. Qualified "module.word" names match
// only module words; bare names match a local word first, then the first
// loaded module word of that name.
type resolver struct {
	local     map[string]xrt.Word
	qualified map[string]xrt.Word
	bare      map[string]xrt.Word
}

func newResolver(local []xrt.Word) *resolver {
	r := &resolver{
		local:     make(map[string]xrt.Word),
		qualified: make(map[string]xrt.Word),
		bare:      make(map[string]xrt.Word),
	}
	for _, w := range local {
		r.local[w.Name()] = w
	}
	return r
}

func (r *resolver) addModule(module string, words []xrt.Word) {
	for _, w := range words {
		r.qualified[module+"."+w.Name()] = w
		if _, ok := r.bare[w.Name()]; !ok {
			r.bare[w.Name()] = w
		}
	}
}

func (r *resolver) lookup(name string) (xrt.Word, bool) {
	if w, ok := r.qualified[name]; ok {
		return w, true
	} else if w, ok := r.local[name]; ok {
		return w, true
	}
	w, ok := r.bare[name]
	return w, ok
}

// parseValues parses command-line arguments as stack values.
func parseValues(args []string) ([]value.Value, error) {
	out := make([]value.Value, len(args))
	for i, arg := range args {
		v, err := parseValue(arg)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		out[i] = v
	}
	return out, nil
}

func parseValue(s string) (value.Value, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return value.Int(n), nil
	} else if f, err := strconv.ParseFloat(s, 64); err == nil {
		return value.Float(f), nil
	}
	switch s {
	case "true":
		return value.Bool(true), nil
	case "false":
		return value.Bool(false), nil
	case "null":
		return value.Null{}, nil
	}
	if strings.HasPrefix(s, "[") || strings.HasPrefix(s, "{") {
		dec := json.NewDecoder(bytes.NewReader([]byte(s)))
		dec.UseNumber()
		var x any
		if err := dec.Decode(&x); err != nil {
			return nil, fmt.Errorf("invalid JSON value: %w", err)
		}
		return fromJSON(x)
	}
	return value.String(s), nil
}

// fromJSON converts a decoded JSON value, keeping integers distinct from
// floats.
func fromJSON(x any) (value.Value, error) {
	switch t := x.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return value.Int(n), nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, err
		}
		return value.Float(f), nil
	case []any:
		out := make(value.Array, len(t))
		for i, elt := range t {
			v, err := fromJSON(elt)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case map[string]any:
		conv := make(map[string]value.Value, len(t))
		for k, elt := range t {
			v, err := fromJSON(elt)
			if err != nil {
				return nil, err
			}
			conv[k] = v
		}
		return value.FromGo(conv)
	default:
		return value.FromGo(x)
	}
}
