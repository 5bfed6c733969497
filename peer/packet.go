// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package peer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/forthix/xrt/packet"
)

// MaxPayload is the largest packet payload a peer will accept.
const MaxPayload = 64 << 20

// Packet is the framed unit exchanged by peers.  On the wire a packet is an
// 8-byte header (magic "FX", version, type, big-endian payload length)
// followed by the payload.
type Packet struct {
	Version byte
	Type    PacketType
	Payload []byte
}

// Encode encodes p in binary format.
func (p Packet) Encode() []byte {
	var buf bytes.Buffer
	if _, err := p.WriteTo(&buf); err != nil {
		panic(fmt.Errorf("encoding packet: %w", err))
	}
	return buf.Bytes()
}

// WriteTo writes the packet to w in binary format. It satisfies io.WriterTo.
func (p *Packet) WriteTo(w io.Writer) (int64, error) {
	hdr := [8]byte{'F', 'X', p.Version, byte(p.Type)}
	binary.BigEndian.PutUint32(hdr[4:], uint32(len(p.Payload)))
	nw, err := w.Write(hdr[:])
	if err == nil && len(p.Payload) != 0 {
		var np int
		np, err = w.Write(p.Payload)
		nw += np
	}
	return int64(nw), err
}

// ReadFrom reads a packet from r in binary format. It satisfies io.ReaderFrom.
func (p *Packet) ReadFrom(r io.Reader) (int64, error) {
	var hdr [8]byte
	nr, err := io.ReadFull(r, hdr[:])
	if err != nil {
		if err == io.EOF {
			return int64(nr), err // clean end of stream
		}
		return int64(nr), fmt.Errorf("short packet header: %w", err)
	}
	if hdr[0] != 'F' || hdr[1] != 'X' {
		return int64(nr), fmt.Errorf("invalid protocol magic %q", hdr[:2])
	} else if hdr[2] != 0 {
		return int64(nr), fmt.Errorf("unsupported protocol version %d", hdr[2])
	}
	p.Version = hdr[2]
	p.Type = PacketType(hdr[3])
	p.Payload = nil

	psize := binary.BigEndian.Uint32(hdr[4:])
	if psize > MaxPayload {
		return int64(nr), fmt.Errorf("payload too large (%d > %d bytes)", psize, MaxPayload)
	} else if psize > 0 {
		p.Payload = make([]byte, int(psize))
		np, err := io.ReadFull(r, p.Payload)
		nr += np
		if err != nil {
			return int64(nr), fmt.Errorf("short payload: %w", err)
		}
	}
	return int64(nr), nil
}

// String returns a human-friendly rendering of the packet.
func (p *Packet) String() string {
	var pay fmt.Stringer
	switch p.Type {
	case PacketRequest:
		var req Request
		if req.Decode(p.Payload) == nil {
			pay = req
		}
	case PacketCancel:
		var can Cancel
		if can.Decode(p.Payload) == nil {
			pay = can
		}
	case PacketResponse:
		var rsp Response
		if rsp.Decode(p.Payload) == nil {
			pay = rsp
		}
	}
	if pay == nil {
		return fmt.Sprintf("Packet(%v, %d bytes)", p.Type, len(p.Payload))
	}
	return fmt.Sprintf("Packet(%v, %v)", p.Type, pay)
}

// PacketType describes the structure of a packet payload.
type PacketType byte

const (
	PacketRequest  PacketType = 2 // The initial request for a call
	PacketCancel   PacketType = 3 // A cancellation signal for a pending call
	PacketResponse PacketType = 4 // The final response from a call
)

func (p PacketType) String() string {
	switch p {
	case PacketRequest:
		return "REQUEST"
	case PacketCancel:
		return "CANCEL"
	case PacketResponse:
		return "RESPONSE"
	default:
		return fmt.Sprintf("TYPE:%d", byte(p))
	}
}

// Request is the payload of a request packet.
type Request struct {
	RequestID uint32
	MethodID  uint32
	Data      []byte
}

// Encode encodes the request in binary format.
func (r Request) Encode() []byte {
	var b packet.Builder
	b.Grow(8 + len(r.Data))
	b.Uint32(r.RequestID)
	b.Uint32(r.MethodID)
	b.Raw(r.Data)
	return b.Bytes()
}

// Decode decodes data into a request payload.
func (r *Request) Decode(data []byte) error {
	s := packet.NewScanner(data)
	id, err := s.Uint32()
	if err != nil {
		return fmt.Errorf("short request payload: %w", err)
	}
	mid, err := s.Uint32()
	if err != nil {
		return fmt.Errorf("short request payload: %w", err)
	}
	r.RequestID, r.MethodID, r.Data = id, mid, s.Rest()
	return nil
}

func (r Request) String() string {
	return fmt.Sprintf("Request(ID=%d, Method=%d, %d bytes)", r.RequestID, r.MethodID, len(r.Data))
}

// Response is the payload of a response packet.
type Response struct {
	RequestID uint32
	Code      ResultCode
	Data      []byte
}

// Encode encodes the response in binary format.
func (r Response) Encode() []byte {
	var b packet.Builder
	b.Grow(5 + len(r.Data))
	b.Uint32(r.RequestID)
	b.Byte(byte(r.Code))
	b.Raw(r.Data)
	return b.Bytes()
}

// Decode decodes data into a response payload.
func (r *Response) Decode(data []byte) error {
	s := packet.NewScanner(data)
	id, err := s.Uint32()
	if err != nil {
		return fmt.Errorf("short response payload: %w", err)
	}
	code, err := s.Byte()
	if err != nil {
		return fmt.Errorf("short response payload: %w", err)
	}
	if ResultCode(code) > CodeServiceError {
		return fmt.Errorf("invalid result code %d", code)
	}
	r.RequestID, r.Code, r.Data = id, ResultCode(code), s.Rest()
	return nil
}

func (r Response) String() string {
	if r.Code == CodeServiceError {
		var ed ErrorData
		if ed.Decode(r.Data) == nil {
			return fmt.Sprintf("Response(ID=%d, %v, %q)", r.RequestID, r.Code, ed.Message)
		}
	}
	return fmt.Sprintf("Response(ID=%d, %v, %d bytes)", r.RequestID, r.Code, len(r.Data))
}

// ResultCode describes the result status of a completed call.
type ResultCode byte

const (
	CodeSuccess       ResultCode = 0 // Call completed successfully
	CodeUnknownMethod ResultCode = 1 // Requested an unknown method
	CodeDuplicateID   ResultCode = 2 // Duplicate request ID
	CodeCanceled      ResultCode = 3 // Call was canceled
	CodeServiceError  ResultCode = 4 // Call failed due to a service error
)

func (c ResultCode) String() string {
	switch c {
	case CodeSuccess:
		return "SUCCESS"
	case CodeUnknownMethod:
		return "UNKNOWN_METHOD"
	case CodeDuplicateID:
		return "DUPLICATE_REQUEST_ID"
	case CodeCanceled:
		return "CANCELED"
	case CodeServiceError:
		return "SERVICE_ERROR"
	default:
		return fmt.Sprintf("result code %d", byte(c))
	}
}

// Cancel is the payload of a cancellation packet.
type Cancel struct {
	RequestID uint32
}

// Encode encodes the cancellation in binary format.
func (c Cancel) Encode() []byte { return binary.BigEndian.AppendUint32(nil, c.RequestID) }

// Decode decodes data into a cancellation payload.
func (c *Cancel) Decode(data []byte) error {
	if len(data) != 4 {
		return fmt.Errorf("invalid cancel payload (%d bytes)", len(data))
	}
	c.RequestID = binary.BigEndian.Uint32(data)
	return nil
}

func (c Cancel) String() string { return fmt.Sprintf("Cancel(ID=%d)", c.RequestID) }

// ErrorData is the response data of a service error.
//
// A handler may return an ErrorData (or *ErrorData) as its error to control
// the code and auxiliary data reported to the caller.
type ErrorData struct {
	Code    uint32
	Message string
	Data    []byte
}

// Error implements the error interface.
func (e ErrorData) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("[code %d] %s", e.Code, e.Message)
	}
	return e.Message
}

// Encode encodes the error data in binary format.
func (e ErrorData) Encode() []byte {
	var b packet.Builder
	b.Vint30(min(e.Code, packet.MaxVint30))
	b.VString(e.Message)
	b.Raw(e.Data)
	return b.Bytes()
}

// Decode decodes data into an error data payload. An empty input decodes as
// empty error data.
func (e *ErrorData) Decode(data []byte) error {
	if len(data) == 0 {
		*e = ErrorData{}
		return nil
	}
	s := packet.NewScanner(data)
	code, err := s.Vint30()
	if err != nil {
		return fmt.Errorf("invalid error code: %w", err)
	}
	msg, err := s.VString()
	if err != nil {
		return fmt.Errorf("invalid error message: %w", err)
	}
	e.Code, e.Message, e.Data = uint32(code), msg, s.Rest()
	return nil
}
