package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/noah-isme/funnel-api/internal/obs"
)

// Event is a domain event handed to downstream consumers.
type Event struct {
	ID          string          `json:"id"`
	Topic       string          `json:"topic"`
	AggregateID string          `json:"aggregateId"`
	OccurredAt  time.Time       `json:"occurredAt"`
	Payload     json.RawMessage `json:"payload"`
	// Trace carries the W3C trace context of the emitting request.
	Trace map[string]string `json:"trace,omitempty"`
}

// Publisher delivers events to a transport.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Bus builds events and fans them out to publishers.
type Bus struct {
	Publishers []Publisher
	Now        func() time.Time
}

// Emit builds an event and dispatches it to every publisher. Publisher errors
// are joined; the event is returned either way.
func (b *Bus) Emit(ctx context.Context, topic, aggregateID string, payload any) (Event, error) {
	if b == nil {
		return Event{}, errors.New("events: bus not configured")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return Event{}, errors.New("events: topic is required")
	}
	if strings.TrimSpace(aggregateID) == "" {
		return Event{}, errors.New("events: aggregate id is required")
	}
	encoded, err := encodePayload(payload)
	if err != nil {
		return Event{}, fmt.Errorf("events: encode payload: %w", err)
	}
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	ev := Event{
		ID:          uuid.NewString(),
		Topic:       topic,
		AggregateID: aggregateID,
		OccurredAt:  now().UTC(),
		Payload:     encoded,
	}
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if len(carrier) > 0 {
		ev.Trace = carrier
	}
	var joined error
	for _, p := range b.Publishers {
		if p == nil {
			continue
		}
		if pubErr := p.Publish(ctx, ev); pubErr != nil {
			obs.IncCounter(obs.EventsPublishedTotal, topic, "error")
			joined = errors.Join(joined, fmt.Errorf("events: publish %s: %w", topic, pubErr))
			continue
		}
		obs.IncCounter(obs.EventsPublishedTotal, topic, "ok")
	}
	return ev, joined
}

func encodePayload(payload any) ([]byte, error) {
	var raw []byte
	switch v := payload.(type) {
	case nil:
	case []byte:
		raw = v
	case json.RawMessage:
		raw = v
	default:
		return json.Marshal(v)
	}
	if len(raw) == 0 {
		return []byte("{}"), nil
	}
	if !json.Valid(raw) {
		return nil, errors.New("payload is not valid json")
	}
	return append([]byte(nil), raw...), nil
}
