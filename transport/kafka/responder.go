// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package kafka

import (
	"context"
	"errors"

	"github.com/creachadair/taskgroup"
	"github.com/forthix/xrt/server"
	kafkago "github.com/segmentio/kafka-go"
)

// ResponderConfig describes the request topic a [Responder] serves.
type ResponderConfig struct {
	Brokers []string
	Topic   string

	// GroupID is the consumer group of the request reader. Responders for the
	// same runtime share a group to divide the requests among them. If empty,
	// "xrt-" followed by the topic name is used.
	GroupID string

	// MaxConcurrent bounds the number of requests dispatched at once. Zero
	// means 16.
	MaxConcurrent int
}

// A Responder consumes requests from a topic, serves them with a server, and
// publishes each reply to the topic named by the request.
type Responder struct {
	r     messageReader
	w     messageWriter
	srv   *server.Server
	limit int
}

// NewResponder constructs a responder for srv.
func NewResponder(cfg ResponderConfig, srv *server.Server) (*Responder, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker must be provided")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic must be provided")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "xrt-" + cfg.Topic
	}
	// Replies name their topic per message, so the writer has none.
	w := newWriter(cfg.Brokers, "")
	r := newReader(cfg.Brokers, cfg.Topic, cfg.GroupID, 0)
	return newResponder(r, w, srv, cfg.MaxConcurrent), nil
}

func newResponder(r messageReader, w messageWriter, srv *server.Server, limit int) *Responder {
	if limit <= 0 {
		limit = 16
	}
	return &Responder{r: r, w: w, srv: srv, limit: limit}
}

// Run serves requests until ctx ends or the reader fails. Requests are
// dispatched concurrently; Run waits for those in progress before returning.
// Run returns nil if it stopped because ctx ended.
func (p *Responder) Run(ctx context.Context) error {
	log.Info("responder running", "runtime", p.srv.Runtime())
	g, start := taskgroup.New(nil).Limit(p.limit)
	defer g.Wait()
	for {
		msg, err := p.r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		start(func() error { p.serve(ctx, msg); return nil })
	}
}

// serve dispatches one request and publishes its reply.
func (p *Responder) serve(ctx context.Context, msg kafkago.Message) {
	env, err := decodeEnvelope(msg)
	if err != nil {
		log.Warning("discarding malformed request", "error", err)
		return
	}
	if env.ReplyTo == "" {
		log.Warning("discarding request without reply topic", "id", env.ID)
		return
	}
	rep := envelope{ID: env.ID}
	if body, err := p.srv.Dispatch(ctx, env.Method, env.Body); err != nil {
		rep.Fault = err.Error()
	} else {
		rep.Body = body
	}
	out, err := encodeEnvelope(rep)
	if err != nil {
		log.Errorf("encode reply %s: %v", env.ID, err)
		return
	}
	out.Topic = env.ReplyTo
	if err := p.w.WriteMessages(ctx, out); err != nil {
		log.Warning("reply failed", "id", env.ID, "reply_to", env.ReplyTo, "error", err)
	}
}

// Close releases the reader and writer of p.
func (p *Responder) Close() error { return errors.Join(p.r.Close(), p.w.Close()) }
