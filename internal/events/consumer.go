package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/funnel-api/internal/obs"
)

// Sink receives decoded events. Returning an error makes asynq retry the task.
type Sink interface {
	Deliver(ctx context.Context, ev Event) error
}

// LogSink writes one structured line per event.
type LogSink struct {
	Logger zerolog.Logger
}

// Deliver implements Sink.
func (s LogSink) Deliver(_ context.Context, ev Event) error {
	s.Logger.Info().
		Str("event_id", ev.ID).
		Str("topic", ev.Topic).
		Str("aggregate_id", ev.AggregateID).
		Time("occurred_at", ev.OccurredAt).
		RawJSON("payload", ev.Payload).
		Msg("funnel event")
	return nil
}

// Consumer decodes asynq tasks back into events and hands them to Sink.
type Consumer struct {
	Sink   Sink
	Logger zerolog.Logger
}

// Register binds every funnel topic on mux.
func (c Consumer) Register(mux *asynq.ServeMux) {
	for _, topic := range DefaultTopics() {
		mux.HandleFunc(topic, c.ProcessTask)
	}
}

// ProcessTask implements asynq.HandlerFunc. Undecodable payloads are skipped
// rather than retried.
func (c Consumer) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var ev Event
	if err := json.Unmarshal(task.Payload(), &ev); err != nil {
		obs.IncCounter(obs.EventsConsumedTotal, task.Type(), "invalid")
		c.Logger.Error().Err(err).Str("topic", task.Type()).Msg("discarding undecodable event")
		return fmt.Errorf("events: decode %s: %v: %w", task.Type(), err, asynq.SkipRetry)
	}
	if ev.Topic == "" {
		ev.Topic = task.Type()
	}
	if len(ev.Trace) > 0 {
		ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(ev.Trace))
	}
	ctx, span := otel.Tracer("funnel/events").Start(ctx, "consume "+ev.Topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "asynq"),
			attribute.String("messaging.destination.name", ev.Topic),
			attribute.String("messaging.message.id", ev.ID),
		))
	defer span.End()

	if err := c.Sink.Deliver(ctx, ev); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")
		obs.IncCounter(obs.EventsConsumedTotal, ev.Topic, "error")
		c.Logger.Warn().Err(err).Str("event_id", ev.ID).Str("topic", ev.Topic).Msg("event delivery failed")
		return err
	}
	obs.IncCounter(obs.EventsConsumedTotal, ev.Topic, "ok")
	return nil
}
