package kafkax

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestSplitBrokers(t *testing.T) {
	assert.Equal(t, []string{"kafka-0:9092", "kafka-1:9092"}, SplitBrokers(" kafka-0:9092, ,kafka-1:9092 "))
	assert.Nil(t, SplitBrokers(""))
}

func TestNewMessageCarriesTraceAndMeta(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x4b, 0xf9, 0x2f, 0x35},
		SpanID:     trace.SpanID{0x00, 0xf0, 0x67},
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	ctx := trace.ContextWithRemoteSpanContext(context.Background(), sc)

	msg := NewMessage(ctx, "evt-1", "dispatch.job.rescheduled.v1", "job-9", []byte(`{}`))
	assert.Equal(t, "dispatch.job.rescheduled.v1", msg.Topic)
	assert.Equal(t, "job-9", string(msg.Key))
	assert.Equal(t, "evt-1", HeaderValue(msg.Headers, HeaderEventID))
	assert.NotEmpty(t, HeaderValue(msg.Headers, "traceparent"))

	got := trace.SpanContextFromContext(TraceFrom(context.Background(), msg))
	assert.Equal(t, sc.TraceID(), got.TraceID())
}

func TestInjectTraceOverwritesExistingHeader(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x01},
		SpanID:     trace.SpanID{0x02},
		TraceFlags: trace.FlagsSampled,
	})
	msg := kafka.Message{Headers: []kafka.Header{{Key: "traceparent", Value: []byte("stale")}}}
	InjectTrace(trace.ContextWithSpanContext(context.Background(), sc), &msg)

	assert.Len(t, msg.Headers, 1)
	assert.NotEqual(t, "stale", HeaderValue(msg.Headers, "traceparent"))
}

func TestReadyCheckWithoutBrokers(t *testing.T) {
	err := ReadyCheck(nil)(context.Background())
	assert.ErrorContains(t, err, "no brokers configured")
}
