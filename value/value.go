// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package value defines the values carried on a Forthic evaluation stack and
// the codec that moves them between runtimes.
//
// A [Value] is one of a closed set of variants: [Null], [Int], [Float],
// [Bool], [String], [Array] and [Record]. The set is sealed; a type switch
// over the variants is exhaustive, and adding a variant is a change every
// switch in this module must account for.
//
// On the wire a value is a [StackValue], a tagged union whose Kind field
// selects the populated field. The tag preserves the distinction between
// integers and floats even for integral floats:
//
//	sv := value.Encode(value.Int(2))
//	v, _ := value.Decode(sv) // v == value.Int(2), not value.Float(2)
package value

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind identifies the variant of a [Value].
type Kind byte

const (
	KindNull   Kind = 0
	KindInt    Kind = 1
	KindFloat  Kind = 2
	KindBool   Kind = 3
	KindString Kind = 4
	KindArray  Kind = 5
	KindRecord Kind = 6
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindRecord:
		return "record"
	default:
		return fmt.Sprintf("kind:%d", byte(k))
	}
}

// A Value is a single item on an evaluation stack.
type Value interface {
	Kind() Kind
	String() string

	isValue()
}

// Null is the absent value.
type Null struct{}

// Int is a signed 64-bit integer.
type Int int64

// Float is a 64-bit IEEE 754 floating-point value.
type Float float64

// Bool is a Boolean truth value.
type Bool bool

// String is a UTF-8 string.
type String string

// Array is an ordered sequence of values.
type Array []Value

// A Field is one key/value pair of a [Record].
type Field struct {
	Key   string
	Value Value
}

// Record is an ordered collection of fields with unique keys.  Construct
// records with [MakeRecord] or [Record.Set] to maintain key uniqueness.
type Record []Field

func (Null) Kind() Kind   { return KindNull }
func (Int) Kind() Kind    { return KindInt }
func (Float) Kind() Kind  { return KindFloat }
func (Bool) Kind() Kind   { return KindBool }
func (String) Kind() Kind { return KindString }
func (Array) Kind() Kind  { return KindArray }
func (Record) Kind() Kind { return KindRecord }

func (Null) isValue()   {}
func (Int) isValue()    {}
func (Float) isValue()  {}
func (Bool) isValue()   {}
func (String) isValue() {}
func (Array) isValue()  {}
func (Record) isValue() {}

func (Null) String() string     { return "null" }
func (v Int) String() string    { return strconv.FormatInt(int64(v), 10) }
func (v Bool) String() string   { return strconv.FormatBool(bool(v)) }
func (v String) String() string { return strconv.Quote(string(v)) }

func (v Float) String() string {
	s := strconv.FormatFloat(float64(v), 'g', -1, 64)
	// Keep floats visibly distinct from integers.
	if !strings.ContainsAny(s, ".eEInN") {
		s += ".0"
	}
	return s
}

func (v Array) String() string {
	parts := make([]string, len(v))
	for i, elt := range v {
		parts[i] = elt.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func (v Record) String() string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.Quote(f.Key) + ": " + f.Value.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// MakeRecord constructs a record from the given fields. If a key occurs more
// than once, the last value wins and the key keeps its first position.
func MakeRecord(fields ...Field) Record {
	if len(fields) == 0 {
		return nil
	}
	out := make(Record, 0, len(fields))
	pos := make(map[string]int, len(fields))
	for _, f := range fields {
		if i, ok := pos[f.Key]; ok {
			out[i].Value = f.Value
			continue
		}
		pos[f.Key] = len(out)
		out = append(out, f)
	}
	return out
}

// Get returns the value of the field with the given key, and reports whether
// it was present.
func (v Record) Get(key string) (Value, bool) {
	for _, f := range v {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Set returns a copy of v with key mapped to val. An existing field keeps its
// position; a new field is appended.
func (v Record) Set(key string, val Value) Record {
	out := make(Record, len(v), len(v)+1)
	copy(out, v)
	for i, f := range out {
		if f.Key == key {
			out[i].Value = val
			return out
		}
	}
	return append(out, Field{Key: key, Value: val})
}

// Keys returns the keys of v in order.
func (v Record) Keys() []string {
	keys := make([]string, len(v))
	for i, f := range v {
		keys[i] = f.Key
	}
	return keys
}

// Equal reports whether a and b are the same value. Comparison is deep and
// sensitive to kind, so Int(2) and Float(2) are not equal. Array elements and
// record fields are compared in order.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch x := a.(type) {
	case Null:
		return true
	case Int:
		return x == b.(Int)
	case Float:
		y := b.(Float)
		return x == y || (math.IsNaN(float64(x)) && math.IsNaN(float64(y)))
	case Bool:
		return x == b.(Bool)
	case String:
		return x == b.(String)
	case Array:
		y := b.(Array)
		if len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case Record:
		y := b.(Record)
		if len(x) != len(y) {
			return false
		}
		for i := range x {
			if x[i].Key != y[i].Key || !Equal(x[i].Value, y[i].Value) {
				return false
			}
		}
		return true
	default:
		panic(fmt.Sprintf("unhandled value type %T", a))
	}
}

// EqualStacks reports whether two stacks hold equal values in the same order.
func EqualStacks(a, b []Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}
