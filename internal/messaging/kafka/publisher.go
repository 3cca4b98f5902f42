// Package kafka publishes order ledger events to Kafka. Each event type has
// its own topic and messages are keyed by order id, so the events of one
// order stay in one partition.
package kafka

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/marketplace-checkout/internal/domain/order"
)

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config configures the publisher.
type Config struct {
	Brokers []string
	// TopicPrefix is prepended to the event type to form the topic name.
	TopicPrefix  string
	BatchTimeout time.Duration
	// PublishTimeout bounds one Publish call, retries included.
	// Defaults to 2s.
	PublishTimeout time.Duration
}

const defaultPublishTimeout = 2 * time.Second

// Publisher implements order.Publisher.
type Publisher struct {
	writer  messageWriter
	prefix  string
	timeout time.Duration
	tracer  trace.Tracer
}

var _ order.Publisher = (*Publisher)(nil)

// NewPublisher creates a Publisher writing to cfg.Brokers.
func NewPublisher(cfg Config, tp trace.TracerProvider) *Publisher {
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           cfg.BatchTimeout,
		MaxAttempts:            3,
		WriteTimeout:           cfg.PublishTimeout,
	}
	return newPublisher(w, cfg.TopicPrefix, cfg.PublishTimeout, tp)
}

func newPublisher(w messageWriter, prefix string, timeout time.Duration, tp trace.TracerProvider) *Publisher {
	if tp == nil {
		tp = tracenoop.NewTracerProvider()
	}
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return &Publisher{
		writer:  w,
		prefix:  prefix,
		timeout: timeout,
		tracer: tp.Tracer("github.com/xenking/marketplace-checkout/internal/messaging/kafka"),
	}
}

// Publish writes all events in one batch and gives up after the publish
// timeout, so an unreachable broker delays the caller by at most that long.
func (p *Publisher) Publish(ctx context.Context, events ...order.Event) error {
	if len(events) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	ctx, span := p.tracer.Start(ctx, "kafka.Publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.Int("messaging.batch.message_count", len(events)),
		),
	)
	defer span.End()

	msgs := make([]kafka.Message, len(events))
	for i, ev := range events {
		msgs[i] = kafka.Message{
			Topic: p.prefix + string(ev.Type),
			Key:   []byte(ev.OrderID),
			Value: EncodeEvent(ev),
			Time:  ev.Timestamp,
		}
		otel.GetTextMapPropagator().Inject(ctx, messageCarrier{msg: &msgs[i]})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return errors.Wrap(err, "write messages")
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// EncodeEvent renders the JSON payload of an event.
func EncodeEvent(ev order.Event) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("type")
	e.Str(string(ev.Type))
	e.FieldStart("orderId")
	e.Str(ev.OrderID)
	e.FieldStart("parentOrderId")
	e.Str(ev.ParentOrderID)
	e.FieldStart("consumerId")
	e.Str(ev.ConsumerID)
	e.FieldStart("vendorId")
	e.Str(ev.VendorID)
	if ev.PaymentID != "" {
		e.FieldStart("paymentId")
		e.Str(ev.PaymentID)
	}
	e.FieldStart("status")
	e.Str(string(ev.Status))
	e.FieldStart("subtotal")
	e.Str(ev.Subtotal.StringFixed(2))
	e.FieldStart("timestamp")
	e.Str(ev.Timestamp.UTC().Format(time.RFC3339Nano))
	e.ObjEnd()
	return e.Bytes()
}

// messageCarrier adapts message headers to propagation.TextMapCarrier.
type messageCarrier struct {
	msg *kafka.Message
}

func (c messageCarrier) Get(key string) string {
	for _, h := range c.msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c messageCarrier) Set(key, value string) {
	for i, h := range c.msg.Headers {
		if h.Key == key {
			c.msg.Headers[i].Value = []byte(value)
			return
		}
	}
	c.msg.Headers = append(c.msg.Headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c messageCarrier) Keys() []string {
	keys := make([]string, len(c.msg.Headers))
	for i, h := range c.msg.Headers {
		keys[i] = h.Key
	}
	return keys
}
