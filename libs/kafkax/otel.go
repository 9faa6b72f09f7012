package kafkax

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// messageCarrier exposes a record's headers to the propagator. Set
// overwrites in place so re-injecting never duplicates traceparent.
type messageCarrier struct{ msg *kafka.Message }

var _ propagation.TextMapCarrier = messageCarrier{}

func (c messageCarrier) Get(key string) string { return HeaderValue(c.msg.Headers, key) }

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

// InjectTrace writes the trace context of ctx into msg's headers.
func InjectTrace(ctx context.Context, msg *kafka.Message) {
	otel.GetTextMapPropagator().Inject(ctx, messageCarrier{msg: msg})
}

// TraceFrom is the consumer side of InjectTrace.
func TraceFrom(ctx context.Context, msg kafka.Message) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, messageCarrier{msg: &msg})
}
