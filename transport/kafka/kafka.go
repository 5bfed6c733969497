// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package kafka implements an [xrt.Client] and its responder over Kafka.
//
// A client publishes each call as a message on the request topic of the
// runtime, tagged with a fresh correlation ID and the name of a private reply
// topic. A [Responder] serving the runtime consumes the request topic,
// dispatches each call, and publishes the reply to the named reply topic with
// the same ID. A receive loop in the client resolves the pending call that
// matches each reply, in whatever order replies arrive.
//
// Importing this package registers the address scheme "kafka" with
// [xrt.RegisterTransport]. The address names the brokers and request topic:
//
//	cli, err := xrt.Dial(ctx, "kafka://broker1:9092,broker2:9092/forthic.ruby", cfg)
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/forthix/xrt"
	"github.com/forthix/xrt/internal/wire"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("xrt.kafka")

func init() {
	xrt.RegisterTransport("kafka", func(ctx context.Context, address string, cfg xrt.Config) (xrt.Client, error) {
		kc, err := ParseAddress(address)
		if err != nil {
			return nil, &xrt.UsageError{Op: "dial", Err: err}
		}
		return Dial(ctx, kc, cfg)
	})
}

// Config describes how a client reaches a runtime through Kafka.
type Config struct {
	Brokers []string

	// RequestTopic is the topic the runtime consumes requests from.
	RequestTopic string

	// ReplyTopic is the private topic the client consumes replies from. If
	// empty, a unique topic name is derived from RequestTopic.
	ReplyTopic string

	// GroupID is the consumer group of the reply reader. If empty, a unique
	// group is used.
	GroupID string

	// MaxWait bounds how long the reply reader waits for a batch. Zero means
	// 250ms.
	MaxWait time.Duration
}

// ParseAddress parses an address of the form "broker[,broker...]/topic".
func ParseAddress(address string) (Config, error) {
	brokers, topic, ok := strings.Cut(address, "/")
	if !ok || topic == "" {
		return Config{}, fmt.Errorf("kafka address %q: missing request topic", address)
	}
	var cfg Config
	for b := range strings.SplitSeq(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.Brokers = append(cfg.Brokers, b)
		}
	}
	if len(cfg.Brokers) == 0 {
		return Config{}, fmt.Errorf("kafka address %q: no brokers", address)
	}
	cfg.RequestTopic = topic
	return cfg, nil
}

func (c Config) validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("at least one broker must be provided")
	}
	if c.RequestTopic == "" {
		return errors.New("request topic must be provided")
	}
	return nil
}

// envelope is the message carried on both request and reply topics.
type envelope struct {
	ID      string `cbor:"id"`
	Method  string `cbor:"method,omitempty"`
	ReplyTo string `cbor:"reply_to,omitempty"`
	Body    []byte `cbor:"body,omitempty"`

	// Fault is set on a reply when the responder could not dispatch the
	// request at all.
	Fault string `cbor:"fault,omitempty"`
}

func encodeEnvelope(env envelope) (kafkago.Message, error) {
	data, err := wire.Marshal(env)
	if err != nil {
		return kafkago.Message{}, err
	}
	return kafkago.Message{Key: []byte(env.ID), Value: data, Time: time.Now()}, nil
}

func decodeEnvelope(msg kafkago.Message) (envelope, error) {
	var env envelope
	if err := wire.Unmarshal(msg.Value, &env); err != nil {
		return env, err
	}
	if env.ID == "" {
		return env, errors.New("message has no correlation ID")
	}
	return env, nil
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafkago.Message, error)
	Close() error
}

func newWriter(brokers []string, topic string) *kafkago.Writer {
	return &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		AllowAutoTopicCreation: true,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireOne,
		BatchTimeout:           5 * time.Millisecond,
	}
}

func newReader(brokers []string, topic, group string, maxWait time.Duration) *kafkago.Reader {
	if maxWait == 0 {
		maxWait = 250 * time.Millisecond
	}
	return kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  group,
		MinBytes: 1,
		MaxBytes: 10 << 20,
		MaxWait:  maxWait,
	})
}
