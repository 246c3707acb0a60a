package worker

import (
	"context"
	"time"

	"cyodesign.app/atelier/internal/model"
	"cyodesign.app/atelier/internal/queue"
)

// Consumer abstracts the message queue for testability.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	Requeue(ctx context.Context, msg queue.Message, errMsg string) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
}

// Mirrors store.LeadStore, trimmed to what the worker needs.
type LeadStore interface {
	Get(ctx context.Context, id int64) (model.Lead, error)
	MarkNotified(ctx context.Context, id int64, at time.Time) error
}

// Notifier delivers the studio alert for a lead.
type Notifier interface {
	NotifyLead(ctx context.Context, lead model.Lead) error
}
