package store

import (
	"context"
	"errors"
	"time"

	"cyodesign.app/atelier/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ChatStore persists conversation transcripts.
type ChatStore interface {
	Get(ctx context.Context, id string) (model.Chat, error)
	// Upsert replaces the transcript of chat.ID, creating the row if needed.
	Upsert(ctx context.Context, chat *model.Chat) error
}

// LeadStore persists submitted leads.
type LeadStore interface {
	Create(ctx context.Context, lead *model.Lead) error
	Get(ctx context.Context, id int64) (model.Lead, error)
	MarkNotified(ctx context.Context, id int64, at time.Time) error
}
