package events

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestEventCarriesTraceToConsumer(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})

	ctx, parent := tp.Tracer("test").Start(context.Background(), "POST /api/checkout-complete")
	pub := &capturePublisher{}
	ev, err := (&Bus{Publishers: []Publisher{pub}}).Emit(ctx, TopicCheckoutCompleted, "pi_1", map[string]string{"productSlug": "course"})
	parent.End()
	require.NoError(t, err)
	require.Contains(t, ev.Trace, "traceparent")

	task, err := AsynqPublisher{}.task(ev)
	require.NoError(t, err)
	require.NoError(t, Consumer{Sink: &captureSink{}, Logger: zerolog.Nop()}.ProcessTask(context.Background(), task))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	consume := spans[1]
	require.Equal(t, "consume "+TopicCheckoutCompleted, consume.Name())
	require.Equal(t, trace.SpanKindConsumer, consume.SpanKind())
	require.Equal(t, parent.SpanContext().TraceID(), consume.SpanContext().TraceID())
	require.Equal(t, parent.SpanContext().SpanID(), consume.Parent().SpanID())
}
