// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package kafka

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/creachadair/taskgroup"
	"github.com/forthix/xrt"
	"github.com/forthix/xrt/internal/wire"
	"github.com/forthix/xrt/value"
	"github.com/google/uuid"
)

// Client is an [xrt.Client] that reaches a runtime through Kafka topics.
type Client struct {
	w       messageWriter
	r       messageReader
	replyTo string
	cfg     xrt.Config
	metrics *xrt.ClientMetrics

	stop   context.CancelFunc
	tasks  *taskgroup.Group
	closed atomic.Bool

	μ       sync.Mutex
	pending map[string]chan reply
	err     error // why the receive loop ended, or nil while it runs
}

type reply struct {
	body  []byte
	fault string
}

// Dial constructs a client for the runtime whose requests are consumed from
// kc.RequestTopic. The client does not contact the brokers until the first
// call.
func Dial(_ context.Context, kc Config, cfg xrt.Config) (*Client, error) {
	if err := kc.validate(); err != nil {
		return nil, &xrt.UsageError{Op: "dial", Err: err}
	}
	tag := uuid.NewString()
	if kc.ReplyTopic == "" {
		kc.ReplyTopic = kc.RequestTopic + ".reply." + tag
	}
	if kc.GroupID == "" {
		kc.GroupID = "xrt-" + tag
	}
	log.Debug("dialing", "runtime", cfg.Runtime, "topic", kc.RequestTopic, "reply_to", kc.ReplyTopic)
	return newClient(
		newWriter(kc.Brokers, kc.RequestTopic),
		newReader(kc.Brokers, kc.ReplyTopic, kc.GroupID, kc.MaxWait),
		kc.ReplyTopic, cfg,
	), nil
}

// newClient constructs a client and starts its receive loop.
func newClient(w messageWriter, r messageReader, replyTo string, cfg xrt.Config) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		w:       w,
		r:       r,
		replyTo: replyTo,
		cfg:     cfg,
		metrics: xrt.NewClientMetrics(),
		stop:    cancel,
		tasks:   taskgroup.New(nil),
		pending: make(map[string]chan reply),
	}
	c.tasks.Go(func() error { c.receive(ctx); return nil })
	return c
}

// receive resolves pending calls from replies until the reader fails.
func (c *Client) receive(ctx context.Context) {
	for {
		msg, err := c.r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Warning("reply reader failed", "runtime", c.cfg.Runtime, "error", err)
			}
			c.failAll(fmt.Errorf("reply reader: %w", err))
			return
		}
		env, err := decodeEnvelope(msg)
		if err != nil {
			log.Warning("discarding malformed reply", "runtime", c.cfg.Runtime, "error", err)
			c.metrics.Dropped()
			continue
		}
		c.resolve(env)
	}
}

// resolve delivers env to the call waiting for its ID, if any. Each pending
// entry is removed as it is resolved, so a duplicate reply is dropped.
func (c *Client) resolve(env envelope) {
	c.μ.Lock()
	ch, ok := c.pending[env.ID]
	delete(c.pending, env.ID)
	c.μ.Unlock()
	if !ok {
		log.Debug("dropping reply", "runtime", c.cfg.Runtime, "id", env.ID)
		c.metrics.Dropped()
		return
	}
	ch <- reply{body: env.Body, fault: env.Fault}
}

// failAll fails every pending call with err and prevents new calls.
func (c *Client) failAll(err error) {
	c.μ.Lock()
	defer c.μ.Unlock()
	if c.err == nil {
		c.err = err
	}
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// Pending reports the number of calls awaiting a reply.
func (c *Client) Pending() int {
	c.μ.Lock()
	defer c.μ.Unlock()
	return len(c.pending)
}

// Metrics returns the call metrics of c.
func (c *Client) Metrics() *xrt.ClientMetrics { return c.metrics }

// Close implements a method of [xrt.Client]. Pending calls fail with a
// transport error wrapping [xrt.ErrClosed].
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.failAll(xrt.ErrClosed)
	c.stop()
	c.tasks.Wait()
	return errors.Join(c.r.Close(), c.w.Close())
}

func (c *Client) register(id string) (chan reply, error) {
	c.μ.Lock()
	defer c.μ.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	ch := make(chan reply, 1)
	c.pending[id] = ch
	return ch, nil
}

func (c *Client) forget(id string) {
	c.μ.Lock()
	defer c.μ.Unlock()
	delete(c.pending, id)
}

func (c *Client) exitErr() error {
	c.μ.Lock()
	defer c.μ.Unlock()
	return c.err
}

func (c *Client) call(ctx context.Context, op string, req, rsp any) (err error) {
	if c.closed.Load() {
		return &xrt.TransportError{Runtime: c.cfg.Runtime, Op: op, Err: xrt.ErrClosed}
	}
	done := c.metrics.Start()
	defer func() { done(err) }()

	body, err := wire.Marshal(req)
	if err != nil {
		return err
	}
	id := uuid.NewString()
	msg, err := encodeEnvelope(envelope{ID: id, Method: op, ReplyTo: c.replyTo, Body: body})
	if err != nil {
		return err
	}
	ch, err := c.register(id)
	if err != nil {
		return &xrt.TransportError{Runtime: c.cfg.Runtime, Op: op, Err: err}
	}

	cctx, cancel := c.cfg.CallContext(ctx)
	defer cancel()
	if err := c.w.WriteMessages(cctx, msg); err != nil {
		c.forget(id)
		if cause := context.Cause(cctx); cause != nil {
			err = cause
		}
		return xrt.Transport(cctx, c.cfg.Runtime, op, err)
	}

	select {
	case rep, ok := <-ch:
		if !ok {
			return &xrt.TransportError{Runtime: c.cfg.Runtime, Op: op, Err: c.exitErr()}
		}
		if rep.fault != "" {
			return xrt.FromWire(xrt.ErrorInfo{
				Message:   rep.fault,
				Runtime:   c.cfg.Runtime,
				ErrorType: "DispatchError",
				Context:   map[string]string{"operation": op},
			})
		}
		return wire.Unmarshal(rep.body, rsp)

	case <-cctx.Done():
		// A reply arriving after this point matches no entry and is dropped.
		c.forget(id)
		return xrt.Transport(cctx, c.cfg.Runtime, op, context.Cause(cctx))
	}
}

// ExecuteWord implements a method of [xrt.Service].
func (c *Client) ExecuteWord(ctx context.Context, word string, stack []value.Value) ([]value.Value, error) {
	var rsp wire.ExecuteResponse
	if err := c.call(ctx, wire.MethodExecuteWord, wire.ExecuteWordRequest{
		WordName: word,
		Stack:    value.EncodeStack(stack),
	}, &rsp); err != nil {
		return nil, err
	}
	if err := wire.RemoteError(rsp.Error, c.cfg.Runtime); err != nil {
		return nil, err
	}
	return wire.DecodeStack(rsp.ResultStack)
}

// ExecuteSequence implements a method of [xrt.Service].
func (c *Client) ExecuteSequence(ctx context.Context, words []string, stack []value.Value) ([]value.Value, error) {
	var rsp wire.ExecuteResponse
	if err := c.call(ctx, wire.MethodExecuteSequence, wire.ExecuteSequenceRequest{
		WordNames: slices.Clone(words),
		Stack:     value.EncodeStack(stack),
	}, &rsp); err != nil {
		return nil, err
	}
	if err := wire.RemoteError(rsp.Error, c.cfg.Runtime); err != nil {
		return nil, err
	}
	return wire.DecodeStack(rsp.ResultStack)
}

// ListModules implements a method of [xrt.Service].
func (c *Client) ListModules(ctx context.Context) ([]xrt.ModuleSummary, error) {
	var rsp wire.ListModulesResponse
	if err := c.call(ctx, wire.MethodListModules, wire.ListModulesRequest{}, &rsp); err != nil {
		return nil, err
	}
	if err := wire.RemoteError(rsp.Error, c.cfg.Runtime); err != nil {
		return nil, err
	}
	return rsp.Modules, nil
}

// GetModuleInfo implements a method of [xrt.Service].
func (c *Client) GetModuleInfo(ctx context.Context, module string) (*xrt.ModuleInfo, error) {
	var rsp wire.GetModuleInfoResponse
	if err := c.call(ctx, wire.MethodGetModuleInfo, wire.GetModuleInfoRequest{ModuleName: module}, &rsp); err != nil {
		return nil, err
	}
	if err := wire.RemoteError(rsp.Error, c.cfg.Runtime); err != nil {
		return nil, err
	}
	if rsp.Module == nil {
		return nil, &xrt.CodecError{Err: fmt.Errorf("module %q: empty response", module)}
	}
	return rsp.Module, nil
}
