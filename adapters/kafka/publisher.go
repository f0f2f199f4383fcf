// Package kafka publishes dispatched webhook events to a Kafka topic so
// downstream agents, workflows and swarms can consume them asynchronously.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-notify/core"
	"github.com/goliatone/go-notify/inbound"
)

const (
	HeaderEventID    = "notify-event-id"
	HeaderEndpointID = "notify-endpoint-id"
	HeaderEventType  = "notify-event-type"
	HeaderTargetKind = "notify-target-kind"
	HeaderTargetID   = "notify-target-id"
)

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Config struct {
	Brokers []string
	Topic   string
	// WriteTimeout bounds one publish when the caller has no deadline.
	WriteTimeout time.Duration
	Logger       core.Logger
}

// Envelope is the record value written for every event.
type Envelope struct {
	TargetKind core.TargetKind   `json:"target_kind"`
	TargetID   string            `json:"target_id"`
	Event      core.WebhookEvent `json:"event"`
}

// Publisher implements core.EventConsumer. Messages are keyed by target id so
// one target's events keep their order within a partition.
type Publisher struct {
	writer  MessageWriter
	topic   string
	timeout time.Duration
	logger  core.Logger
}

var _ core.EventConsumer = (*Publisher)(nil)

func NewPublisher(cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, publishBadInput("kafka: at least one broker is required")
	}
	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		return nil, publishBadInput("kafka: topic is required")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return NewPublisherWithWriter(writer, topic, cfg), nil
}

// NewPublisherWithWriter wraps an existing writer. topic is only reported in
// dispatch results; the writer decides where records go.
func NewPublisherWithWriter(writer MessageWriter, topic string, cfg Config) *Publisher {
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Publisher{
		writer:  writer,
		topic:   strings.TrimSpace(topic),
		timeout: timeout,
		logger:  glog.Ensure(cfg.Logger),
	}
}

func (p *Publisher) Dispatch(ctx context.Context, kind core.TargetKind, targetID string, event core.WebhookEvent) (core.DispatchOutcome, error) {
	if p == nil || p.writer == nil {
		return core.DispatchOutcome{}, publishFailed(nil, "kafka: publisher is not configured", nil)
	}
	msg, err := encode(kind, targetID, event)
	if err != nil {
		return core.DispatchOutcome{}, publishFailed(err, "kafka: encode event", map[string]any{"event_id": event.ID})
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("kafka publish failed", "topic", p.topic, "event_id", event.ID, "error", err)
		return core.DispatchOutcome{}, publishFailed(err, "kafka: publish event", map[string]any{
			"event_id": event.ID,
			"topic":    p.topic,
		})
	}
	p.logger.Debug("kafka event published", "topic", p.topic, "event_id", event.ID, "value_len", len(msg.Value))
	return core.DispatchOutcome{
		Accepted: true,
		Result: map[string]any{
			"topic":         p.topic,
			"partition_key": string(msg.Key),
		},
	}, nil
}

// Handler adapts the publisher to an inbound.Router handler for kind.
func (p *Publisher) Handler(kind core.TargetKind) inbound.Handler {
	return inbound.HandlerFunc{
		TargetKind: kind,
		Fn: func(ctx context.Context, targetID string, event core.WebhookEvent) (core.DispatchOutcome, error) {
			return p.Dispatch(ctx, kind, targetID, event)
		},
	}
}

func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

func encode(kind core.TargetKind, targetID string, event core.WebhookEvent) (kafka.Message, error) {
	value, err := json.Marshal(Envelope{TargetKind: kind, TargetID: targetID, Event: event})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal envelope: %w", err)
	}
	key := strings.TrimSpace(targetID)
	if key == "" {
		key = event.EndpointID
	}
	return kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  event.ReceivedAt,
		Headers: []kafka.Header{
			{Key: HeaderEventID, Value: []byte(event.ID)},
			{Key: HeaderEndpointID, Value: []byte(event.EndpointID)},
			{Key: HeaderEventType, Value: []byte(event.EventType)},
			{Key: HeaderTargetKind, Value: []byte(kind)},
			{Key: HeaderTargetID, Value: []byte(targetID)},
		},
	}, nil
}

// Decode reads an Envelope back from a consumed record.
func Decode(msg kafka.Message) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		return Envelope{}, publishBadInput("kafka: decode envelope: " + err.Error())
	}
	return envelope, nil
}

// HeaderValue returns the first header named key.
func HeaderValue(headers []kafka.Header, key string) string {
	for _, header := range headers {
		if header.Key == key {
			return string(header.Value)
		}
	}
	return ""
}
