// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package xrt

import (
	"context"
	"strings"
)

// A Runner executes sequences of words, batching consecutive remote words
// into a single call where the plan permits.
type Runner struct {
	// Registry resolves the client for a remote batch whose first word does
	// not carry its own client. If nil, the registry from the context is used.
	Registry *Registry
}

// Run plans words and executes the batches in order against in. Local
// batches run word by word. A remote batch of one word runs that word; a
// longer remote batch runs in one ExecuteSequence call whose result replaces
// the stack. Run stops at the first failure.
func (r Runner) Run(ctx context.Context, in Interp, words []Word) error {
	for _, b := range Plan(words) {
		switch {
		case !b.Remote:
			metrics.batchesLocal.Add(1)
			for _, w := range b.Words {
				if err := w.Execute(ctx, in); err != nil {
					return err
				}
			}

		case len(b.Words) == 1:
			metrics.batchesRemote.Add(1)
			metrics.remoteCalls.Add(1)
			if err := b.Words[0].Execute(ctx, in); err != nil {
				return err
			}

		default:
			metrics.batchesRemote.Add(1)
			metrics.remoteCalls.Add(1)
			metrics.wordsBatched.Add(int64(len(b.Words)))
			if err := r.runSequence(ctx, in, b); err != nil {
				return err
			}
		}
	}
	return nil
}

// bound is implemented by words that carry their own client.
type bound interface {
	Client() Service
	Module() string
}

func (r Runner) runSequence(ctx context.Context, in Interp, b Batch) error {
	var svc Service
	var module string
	if bw, ok := b.Words[0].(bound); ok {
		svc, module = bw.Client(), bw.Module()
	} else {
		reg := r.Registry
		if reg == nil {
			reg = ContextRegistry(ctx)
		}
		cli, err := reg.Client(b.Runtime)
		if err != nil {
			return err
		}
		svc = cli
	}

	names := b.Names()
	snap := in.Stack()
	out, err := svc.ExecuteSequence(ctx, names, snap)
	if err != nil {
		return &WordError{Runtime: b.Runtime, Module: module, Word: strings.Join(names, " "), Err: err}
	}
	in.SetStack(out)
	return nil
}
