// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package catalog defines a mapping from method names to method IDs for use
// with a peer.Peer. Method names are not exchanged on the wire with each
// call, but a Catalog can be encoded and served so that a caller can confirm
// which methods a remote peer offers.
//
// # Usage
//
// Construct a catalog and add methods to it:
//
//	cat := catalog.New().Add("ExecuteWord", "ExecuteSequence")
//
// Add assigns fresh IDs to the names. To choose the ID, use Set:
//
//	cat.Set("catalog", 1)
//
// Method IDs are assigned systematically, so that repeating the same sequence
// of Add and Set calls always produces the same IDs.
//
// To use a catalog with a peer, Bind it. On a peer that implements the
// methods, use Handle; on a peer that calls them, use Call:
//
//	cat.Bind(server).Handle("ExecuteWord", execWord)
//	rsp, err := cat.Bind(client).Call(ctx, "ExecuteWord", data)
//
// The Handler method serves the catalog itself, and Fetch retrieves the
// catalog served by a remote peer:
//
//	cat.Bind(server).Handle("catalog", cat.Handler)
//	remote, err := catalog.Fetch(ctx, client, 1)
package catalog

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/forthix/xrt/packet"
	"github.com/forthix/xrt/peer"
)

// ErrUnknownName is reported by Call and Exec for a name not in the catalog.
var ErrUnknownName = errors.New("method name not in catalog")

// A Catalog associates a peer with a static mapping from method names to IDs
// for use with that peer.
type Catalog struct {
	peer    *peer.Peer
	methods map[string]uint32
}

// New creates a new empty, unbound catalog. It is safe to copy the resulting
// value; all copies share the same name to ID mapping.
func New() Catalog { return Catalog{methods: make(map[string]uint32)} }

// Add adds the specified names to c with fresh positive IDs, and returns c to
// allow chaining.
func (c Catalog) Add(names ...string) Catalog {
	for _, name := range names {
		c.Set(name, c.pickUnusedID())
	}
	return c
}

// Set maps name to methodID in c, and returns c to allow chaining. If name
// was already mapped, the existing mapping is replaced.
//
// The mapping is shared among all copies of c. It is not safe to call Set
// while c is used concurrently without external synchronization.
func (c Catalog) Set(name string, methodID uint32) Catalog {
	c.methods[name] = methodID
	return c
}

func (c Catalog) pickUnusedID() uint32 {
	var hi uint32
	for _, id := range c.methods {
		hi = max(hi, id)
	}
	return hi + 1
}

// Bind returns a copy of c bound to the specified peer.
func (c Catalog) Bind(p *peer.Peer) Catalog { return Catalog{peer: p, methods: c.methods} }

// Peer returns the peer associated with c, or nil if c is unbound.
func (c Catalog) Peer() *peer.Peer { return c.peer }

// Lookup returns the method ID assigned to name, and reports whether name is
// in the catalog.
func (c Catalog) Lookup(name string) (uint32, bool) {
	id, ok := c.methods[name]
	return id, ok
}

// Names returns the method names of c in order.
func (c Catalog) Names() []string { return slices.Sorted(maps.Keys(c.methods)) }

// Len reports the number of methods in c.
func (c Catalog) Len() int { return len(c.methods) }

// Call calls the method bound to name on the remote peer.  Call panics if c
// is not bound to a peer.
func (c Catalog) Call(ctx context.Context, name string, data []byte) (*peer.Response, error) {
	id, ok := c.methods[name]
	if !ok {
		return nil, &peer.CallError{Err: fmt.Errorf("%w: %q", ErrUnknownName, name)}
	}
	return c.peer.Call(ctx, id, data)
}

// Exec calls the method bound to name on the local peer.  Exec panics if c
// is not bound to a peer.
func (c Catalog) Exec(ctx context.Context, name string, data []byte) ([]byte, error) {
	id, ok := c.methods[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownName, name)
	}
	return c.peer.Exec(ctx, id, data)
}

// Handle binds the specified method to the peer associated with c, and
// returns c to permit chaining.  Handle panics if c is not bound to a peer,
// or if name is not in the catalog.
func (c Catalog) Handle(name string, handler peer.Handler) Catalog {
	methodID, ok := c.methods[name]
	if !ok {
		panic(fmt.Sprintf("method %q not known", name))
	}
	c.peer.Handle(methodID, handler)
	return c
}

// Encode encodes c in binary format: a count of entries, then each name as a
// length-prefixed string followed by its big-endian 32-bit ID, in name order.
func (c Catalog) Encode() []byte {
	var b packet.Builder
	b.Vint30(uint32(len(c.methods)))
	for _, name := range c.Names() {
		b.VString(name)
		b.Uint32(c.methods[name])
	}
	return b.Bytes()
}

// Decode decodes data as a Catalog payload, replacing the contents of c.
func (c *Catalog) Decode(data []byte) error {
	if c.methods == nil {
		c.methods = make(map[string]uint32)
	} else {
		clear(c.methods)
	}
	s := packet.NewScanner(data)
	n, err := s.Vint30()
	if err != nil {
		return fmt.Errorf("invalid catalog size: %w", err)
	}
	for i := range n {
		name, err := s.VString()
		if err != nil {
			return fmt.Errorf("entry %d: invalid name at offset %d: %w", i, s.Offset(), err)
		}
		id, err := s.Uint32()
		if err != nil {
			return fmt.Errorf("entry %d: invalid ID at offset %d: %w", i, s.Offset(), err)
		}
		c.methods[name] = id
	}
	if s.Len() != 0 {
		return fmt.Errorf("extra data after catalog (%d bytes)", s.Len())
	}
	return nil
}

// Handler is a peer.Handler that reports the contents of the catalog.
func (c Catalog) Handler(context.Context, *peer.Request) ([]byte, error) {
	return c.Encode(), nil
}

// Fetch calls methodID on p and decodes the response as a catalog bound to
// p.
func Fetch(ctx context.Context, p *peer.Peer, methodID uint32) (Catalog, error) {
	rsp, err := p.Call(ctx, methodID, nil)
	if err != nil {
		return Catalog{}, err
	}
	cat := New()
	if err := cat.Decode(rsp.Data); err != nil {
		return Catalog{}, fmt.Errorf("decode catalog: %w", err)
	}
	return cat.Bind(p), nil
}
