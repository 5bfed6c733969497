// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package value

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"slices"

	"github.com/fxamacker/cbor/v2"
)

// ErrMalformed is reported when a wire value cannot be decoded.
var ErrMalformed = errors.New("malformed stack value")

// StackValue is the wire form of a [Value]. Kind selects which of the other
// fields is meaningful; the others are empty.
type StackValue struct {
	Kind   Kind         `cbor:"k"`
	Int    int64        `cbor:"i,omitempty"`
	Float  float64      `cbor:"f"`
	Bool   bool         `cbor:"b,omitempty"`
	String string       `cbor:"s,omitempty"`
	Array  []StackValue `cbor:"a,omitempty"`
	Record []StackField `cbor:"r,omitempty"`
}

// StackField is the wire form of a record [Field].
type StackField struct {
	Key   string     `cbor:"k"`
	Value StackValue `cbor:"v"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("value: create CBOR enc mode: %v", err))
	}
	dm, err := DecOptions().DecMode()
	if err != nil {
		panic(fmt.Sprintf("value: create CBOR dec mode: %v", err))
	}
	encMode, decMode = em, dm
}

// DecOptions returns the CBOR decoding options used for stack values. Each
// level of value nesting costs two CBOR levels, so the nesting limit is
// raised well above the library default.
func DecOptions() cbor.DecOptions {
	return cbor.DecOptions{
		MaxNestedLevels:  1024,
		MaxArrayElements: 1 << 24,
		MaxMapPairs:      1 << 20,
	}
}

// EncMode returns the canonical CBOR encoding mode shared by stack values and
// the messages that carry them.
func EncMode() cbor.EncMode { return encMode }

// DecMode returns the CBOR decoding mode matching [EncMode].
func DecMode() cbor.DecMode { return decMode }

// Encode converts v to its wire form. Encode is total: every Value has a wire
// form. A nil Value encodes as null.
func Encode(v Value) StackValue {
	switch t := v.(type) {
	case nil, Null:
		return StackValue{Kind: KindNull}
	case Int:
		return StackValue{Kind: KindInt, Int: int64(t)}
	case Float:
		return StackValue{Kind: KindFloat, Float: float64(t)}
	case Bool:
		return StackValue{Kind: KindBool, Bool: bool(t)}
	case String:
		return StackValue{Kind: KindString, String: string(t)}
	case Array:
		out := StackValue{Kind: KindArray, Array: make([]StackValue, len(t))}
		for i, elt := range t {
			out.Array[i] = Encode(elt)
		}
		return out
	case Record:
		out := StackValue{Kind: KindRecord, Record: make([]StackField, len(t))}
		for i, f := range t {
			out.Record[i] = StackField{Key: f.Key, Value: Encode(f.Value)}
		}
		return out
	default:
		panic(fmt.Sprintf("unhandled value type %T", v))
	}
}

// Decode converts a wire value back to a Value. It reports an error wrapping
// [ErrMalformed] if sv has an unknown kind at any depth.
func Decode(sv StackValue) (Value, error) {
	switch sv.Kind {
	case KindNull:
		return Null{}, nil
	case KindInt:
		return Int(sv.Int), nil
	case KindFloat:
		return Float(sv.Float), nil
	case KindBool:
		return Bool(sv.Bool), nil
	case KindString:
		return String(sv.String), nil
	case KindArray:
		out := make(Array, len(sv.Array))
		for i, elt := range sv.Array {
			v, err := Decode(elt)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = v
		}
		return out, nil
	case KindRecord:
		fields := make([]Field, len(sv.Record))
		for i, f := range sv.Record {
			v, err := Decode(f.Value)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", f.Key, err)
			}
			fields[i] = Field{Key: f.Key, Value: v}
		}
		out := MakeRecord(fields...)
		if out == nil {
			out = Record{}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrMalformed, sv.Kind)
	}
}

// EncodeStack encodes each value of vs in order.
func EncodeStack(vs []Value) []StackValue {
	out := make([]StackValue, len(vs))
	for i, v := range vs {
		out[i] = Encode(v)
	}
	return out
}

// DecodeStack decodes each wire value of svs in order.
func DecodeStack(svs []StackValue) ([]Value, error) {
	out := make([]Value, len(svs))
	for i, sv := range svs {
		v, err := Decode(sv)
		if err != nil {
			return nil, fmt.Errorf("stack item %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// Marshal encodes v in CBOR format.
func Marshal(v Value) ([]byte, error) { return encMode.Marshal(Encode(v)) }

// Unmarshal decodes a CBOR value produced by [Marshal].
func Unmarshal(data []byte) (Value, error) {
	var sv StackValue
	if err := decMode.Unmarshal(data, &sv); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return Decode(sv)
}

// FromGo converts a native Go value to a Value. Supported inputs are nil,
// Value, bool, the signed and unsigned integer types, float32 and float64,
// string, slices and arrays of supported values, and maps with string keys.
// Map entries are ordered by key. Any other input reports an error.
func FromGo(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(t), nil
	case int8:
		return Int(t), nil
	case int16:
		return Int(t), nil
	case int32:
		return Int(t), nil
	case int64:
		return Int(t), nil
	case uint8:
		return Int(t), nil
	case uint16:
		return Int(t), nil
	case uint32:
		return Int(t), nil
	case uint:
		return fromUint(uint64(t))
	case uint64:
		return fromUint(t)
	case float32:
		return Float(t), nil
	case float64:
		return Float(t), nil
	case string:
		return String(t), nil
	}

	rv := reflect.ValueOf(x)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return Null{}, nil
		}
		out := make(Array, rv.Len())
		for i := range rv.Len() {
			v, err := FromGo(rv.Index(i).Interface())
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = v
		}
		return out, nil

	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("unsupported map key type %v", rv.Type().Key())
		}
		keys := rv.MapKeys()
		slices.SortFunc(keys, func(a, b reflect.Value) int {
			switch sa, sb := a.String(), b.String(); {
			case sa < sb:
				return -1
			case sa > sb:
				return 1
			}
			return 0
		})
		out := make(Record, 0, len(keys))
		for _, k := range keys {
			v, err := FromGo(rv.MapIndex(k).Interface())
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k.String(), err)
			}
			out = append(out, Field{Key: k.String(), Value: v})
		}
		return out, nil

	case reflect.Pointer:
		if rv.IsNil() {
			return Null{}, nil
		}
		return FromGo(rv.Elem().Interface())
	}
	return nil, fmt.Errorf("unsupported value type %T", x)
}

func fromUint(u uint64) (Value, error) {
	if u > math.MaxInt64 {
		return nil, fmt.Errorf("integer %d out of range", u)
	}
	return Int(u), nil
}

// ToGo converts v to a native Go value: nil, int64, float64, bool, string,
// []any, or map[string]any. Record field order is not preserved by the map.
func ToGo(v Value) any {
	switch t := v.(type) {
	case nil, Null:
		return nil
	case Int:
		return int64(t)
	case Float:
		return float64(t)
	case Bool:
		return bool(t)
	case String:
		return string(t)
	case Array:
		out := make([]any, len(t))
		for i, elt := range t {
			out[i] = ToGo(elt)
		}
		return out
	case Record:
		out := make(map[string]any, len(t))
		for _, f := range t {
			out[f.Key] = ToGo(f.Value)
		}
		return out
	default:
		panic(fmt.Sprintf("unhandled value type %T", v))
	}
}
