package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/hibiken/asynq"
)

// AsynqPublisher enqueues events as asynq tasks whose type is the topic. The
// event id is the task id so re-publishing the same event is a no-op.
type AsynqPublisher struct {
	Client    *asynq.Client
	Queue     string
	MaxRetry  int
	Retention time.Duration
}

// Publish implements Publisher.
func (p AsynqPublisher) Publish(ctx context.Context, ev Event) error {
	if p.Client == nil {
		return errors.New("events: asynq client not configured")
	}
	task, err := p.task(ev)
	if err != nil {
		return err
	}
	if _, err := p.Client.EnqueueContext(ctx, task); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return err
	}
	return nil
}

func (p AsynqPublisher) task(ev Event) (*asynq.Task, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	queue := p.Queue
	if queue == "" {
		queue = "funnel-events"
	}
	retry := p.MaxRetry
	if retry <= 0 {
		retry = 10
	}
	opts := []asynq.Option{asynq.TaskID(ev.ID), asynq.Queue(queue), asynq.MaxRetry(retry)}
	if p.Retention > 0 {
		opts = append(opts, asynq.Retention(p.Retention))
	}
	return asynq.NewTask(ev.Topic, data, opts...), nil
}
