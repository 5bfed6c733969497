// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package packet provides support for encoding and decoding the binary
// payloads exchanged by peers.
//
// A [Builder] accumulates fields into a payload and a [Scanner] consumes them
// in the same order. Variable-length fields carry a [Vint30] length prefix, so
// a payload is self-framing without any outer envelope.
package packet

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/creachadair/mds/value"
)

// A Builder is a buffer that accumulates data into a payload. The zero value
// is ready for use as an empty builder.
type Builder struct {
	buf []byte
}

// Byte appends a single byte to b.
func (b *Builder) Byte(v byte) { b.buf = append(b.buf, v) }

// Bool appends a Boolean to b. The encoding is a single byte with value 0 or 1.
func (b *Builder) Bool(ok bool) { b.Byte(value.Cond[byte](ok, 1, 0)) }

// Uint32 appends v to b in big-endian order.
func (b *Builder) Uint32(v uint32) { b.buf = binary.BigEndian.AppendUint32(b.buf, v) }

// Vint30 appends a [Vint30] value to b. It panics if v is out of range.
func (b *Builder) Vint30(v uint32) { b.buf = Vint30(v).Append(b.buf) }

// VString appends s to b with a [Vint30] length prefix.
func (b *Builder) VString(s string) {
	b.Grow(VLen(len(s)))
	b.Vint30(uint32(len(s)))
	b.buf = append(b.buf, s...)
}

// VBytes appends data to b with a [Vint30] length prefix.
func (b *Builder) VBytes(data []byte) {
	b.Grow(VLen(len(data)))
	b.Vint30(uint32(len(data)))
	b.buf = append(b.buf, data...)
}

// Raw appends data to b without framing. A raw field must be the last field
// of a payload, since the scanner cannot find its end.
func (b *Builder) Raw(data []byte) { b.buf = append(b.buf, data...) }

// Len reports the number of bytes currently in the buffer.
func (b *Builder) Len() int { return len(b.buf) }

// Bytes reports the current contents of the buffer. The builder retains
// ownership of the slice, and the caller must not modify it unless b will no
// longer be used.
func (b *Builder) Bytes() []byte { return b.buf }

// Grow ensures that at least n more bytes can be added to b without another
// allocation.
func (b *Builder) Grow(n int) {
	if want := len(b.buf) + n; cap(b.buf) < want {
		r := make([]byte, len(b.buf), max(want, 2*cap(b.buf)))
		copy(r, b.buf)
		b.buf = r
	}
}

// A Scanner reads fields from the contents of a payload.  The methods of a
// scanner report [io.EOF] when no input remains at the start of a field, and
// [io.ErrUnexpectedEOF] when a field is incomplete.
type Scanner struct {
	rest   []byte
	offset int
}

// NewScanner constructs a [Scanner] that consumes data from input.  The
// scanner retains slices of input, which the caller must not modify while the
// scanner is in use.
func NewScanner(input []byte) *Scanner { return &Scanner{rest: input} }

// Byte scans a single byte.
func (s *Scanner) Byte() (byte, error) {
	if len(s.rest) == 0 {
		return 0, io.EOF
	}
	out := s.rest[0]
	s.advance(1)
	return out, nil
}

// Bool scans a single byte and reports whether it is non-zero.
func (s *Scanner) Bool() (bool, error) {
	b, err := s.Byte()
	return b != 0, err
}

// Uint32 scans a big-endian uint32 value.
func (s *Scanner) Uint32() (uint32, error) {
	if err := s.need(4); err != nil {
		return 0, err
	}
	out := binary.BigEndian.Uint32(s.rest)
	s.advance(4)
	return out, nil
}

// Vint30 scans a single [Vint30] value.
func (s *Scanner) Vint30() (int, error) {
	if len(s.rest) == 0 {
		return 0, io.EOF
	}
	nb := int(s.rest[0]%4) + 1
	if err := s.need(nb); err != nil {
		return 0, err
	}
	var w uint32
	for i := nb - 1; i >= 0; i-- {
		w = (w * 256) + uint32(s.rest[i])
	}
	s.advance(nb)
	return int(w >> 2), nil
}

// VBytes scans a length-prefixed byte string. The result aliases the input.
func (s *Scanner) VBytes() ([]byte, error) {
	n, err := s.Vint30()
	if err != nil {
		return nil, err
	}
	if err := s.need(n); err != nil {
		return nil, err
	}
	out := s.rest[:n:n]
	s.advance(n)
	return out, nil
}

// VString scans a length-prefixed string.
func (s *Scanner) VString() (string, error) {
	data, err := s.VBytes()
	return string(data), err
}

// Rest consumes and returns the remaining input, or nil if none remains.
func (s *Scanner) Rest() []byte {
	if len(s.rest) == 0 {
		return nil
	}
	out := s.rest
	s.advance(len(out))
	return out
}

// Len reports the number of unconsumed input bytes.
func (s *Scanner) Len() int { return len(s.rest) }

// Offset reports the offset of the next unconsumed input byte.
func (s *Scanner) Offset() int { return s.offset }

func (s *Scanner) need(n int) error {
	if len(s.rest) < n {
		return fmt.Errorf("value truncated (%d < %d bytes): %w", len(s.rest), n, io.ErrUnexpectedEOF)
	}
	return nil
}

func (s *Scanner) advance(n int) { s.rest = s.rest[n:]; s.offset += n }

// Vint30 is an unsigned 30-bit integer with a variable-width encoding of 1 to
// 4 bytes.  The value is stored little-endian, shifted left two bits, and the
// low two bits of the first byte hold the number of additional bytes:
//
//	 _ ... _ _ _ _ _ _ d d < number of additional bytes
//	31 ... 7 6 5 4 3 2 1 0
//	^^^^^^^^^^^^^^^^^^
//	  30-bit value
//
// Values below 64 take one byte; values of [MaxVint30] and below take at most
// four.
type Vint30 uint32

// MaxVint30 is the maximum value that can be encoded by a Vint30.
const MaxVint30 = 1<<30 - 1

// Size reports the number of bytes required to encode v, or -1 if v is too
// large to be encoded.
func (v Vint30) Size() int {
	switch {
	case v < (1 << 6):
		return 1
	case v < (1 << 14):
		return 2
	case v < (1 << 22):
		return 3
	case v <= MaxVint30:
		return 4
	default:
		return -1
	}
}

// Append appends the encoding of v to buf, and returns the updated slice.
// It panics if v is out of range.
func (v Vint30) Append(buf []byte) []byte {
	s := v.Size()
	if s < 0 {
		panic("value out of range")
	}
	w := uint32(v)*4 + uint32(s-1)
	for range s {
		buf = append(buf, byte(w%256))
		w /= 256
	}
	return buf
}

// VLen reports the encoded size of an n-byte string with a [Vint30] length
// prefix.
func VLen(n int) int { return Vint30(n).Size() + n }
