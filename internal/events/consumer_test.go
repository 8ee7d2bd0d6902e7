package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	got []Event
	err error
}

func (s *captureSink) Deliver(_ context.Context, ev Event) error {
	s.got = append(s.got, ev)
	return s.err
}

func TestConsumerDecodesAndDelivers(t *testing.T) {
	pub := AsynqPublisher{Queue: "funnel-events"}
	ev := Event{
		ID:          "evt-1",
		Topic:       TopicCheckoutCompleted,
		AggregateID: "pi_123",
		OccurredAt:  time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
		Payload:     json.RawMessage(`{"productSlug":"course"}`),
	}
	task, err := pub.task(ev)
	require.NoError(t, err)

	sink := &captureSink{}
	c := Consumer{Sink: sink, Logger: zerolog.Nop()}
	require.NoError(t, c.ProcessTask(context.Background(), task))
	require.Len(t, sink.got, 1)
	require.Equal(t, ev.ID, sink.got[0].ID)
	require.JSONEq(t, `{"productSlug":"course"}`, string(sink.got[0].Payload))
}

func TestConsumerSkipsRetryOnBadPayload(t *testing.T) {
	c := Consumer{Sink: &captureSink{}, Logger: zerolog.Nop()}
	err := c.ProcessTask(context.Background(), asynq.NewTask(TopicOfferCharged, []byte("not json")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestConsumerReturnsSinkError(t *testing.T) {
	boom := errors.New("downstream unavailable")
	c := Consumer{Sink: &captureSink{err: boom}, Logger: zerolog.Nop()}
	data, err := json.Marshal(Event{ID: "evt-2", Topic: TopicOfferFailed, AggregateID: "cus_1", Payload: json.RawMessage(`{}`)})
	require.NoError(t, err)
	err = c.ProcessTask(context.Background(), asynq.NewTask(TopicOfferFailed, data))
	require.ErrorIs(t, err, boom)
}

func TestLogSinkWritesOneLine(t *testing.T) {
	var buf bytes.Buffer
	sink := LogSink{Logger: zerolog.New(&buf)}
	require.NoError(t, sink.Deliver(context.Background(), Event{ID: "evt-3", Topic: TopicOfferCharged, AggregateID: "cus_9", Payload: json.RawMessage(`{"offerId":"up-1"}`)}))
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "funnel event", line["message"])
	require.Equal(t, TopicOfferCharged, line["topic"])
	require.Equal(t, "up-1", line["payload"].(map[string]any)["offerId"])
}

func TestRegisterBindsEveryTopic(t *testing.T) {
	mux := asynq.NewServeMux()
	Consumer{Sink: &captureSink{}, Logger: zerolog.Nop()}.Register(mux)
	for _, topic := range DefaultTopics() {
		_, pattern := mux.Handler(asynq.NewTask(topic, nil))
		require.Equal(t, topic, pattern)
	}
}
