package mq

import (
	"context"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestTraceOf(t *testing.T) {
	body := []byte(`{"userId":1,"slotId":2,"sessionId":3,"traceId":"from-body"}`)

	assert.Equal(t, "from-id", TraceOf("from-id", amqp.Table{HeaderTraceID: "from-header"}, body))
	assert.Equal(t, "from-header", TraceOf("", amqp.Table{HeaderTraceID: "from-header"}, body))
	assert.Equal(t, "from-bytes", TraceOf("", amqp.Table{HeaderTraceID: []byte("from-bytes")}, body))
	assert.Equal(t, "from-body", TraceOf("", nil, body))
	assert.Equal(t, "", TraceOf("", nil, []byte("not json")))
}

func TestTraceContextRoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3},
		SpanID:     trace.SpanID{4, 5, 6},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	headers := amqp.Table{HeaderTraceID: "t-1"}
	InjectTrace(ctx, headers)
	assert.Contains(t, headers, "traceparent")

	got := trace.SpanContextFromContext(ExtractTrace(context.Background(), headers))
	assert.Equal(t, sc.TraceID(), got.TraceID())
	assert.Equal(t, sc.SpanID(), got.SpanID())
}
