package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"cyodesign.app/atelier/common/id"
	"cyodesign.app/atelier/common/logger"
	"cyodesign.app/atelier/common/otel"
	"cyodesign.app/atelier/internal/model"
	"cyodesign.app/atelier/internal/queue"
)

type LeadService interface {
	// Submit stores the lead and schedules the studio notification.
	Submit(ctx context.Context, lead model.Lead) (model.Lead, error)
}

type leadService struct {
	txRunner TxRunner
	queue    queue.Producer
	validate *validator.Validate
}

func NewLeadService(txRunner TxRunner, producer queue.Producer) LeadService {
	return &leadService{
		txRunner: txRunner,
		queue:    producer,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (s *leadService) Submit(ctx context.Context, lead model.Lead) (model.Lead, error) {
	if err := s.validate.StructCtx(ctx, lead.LeadRequest); err != nil {
		return model.Lead{}, &ValidationError{Err: err}
	}
	if lead.ConversationID == "" {
		return model.Lead{}, &ValidationError{Err: fmt.Errorf("conversation_id is required")}
	}

	lead.ID = id.New()
	lead.NotifiedAt = nil
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		LeadID:         &lead.ID,
		ConversationID: &lead.ConversationID,
		Component:      "atelier.service.lead",
	})

	err := s.txRunner.WithTx(ctx, func(sp StoreProvider) error {
		return sp.Leads().Create(ctx, &lead)
	})
	if err != nil {
		return model.Lead{}, fmt.Errorf("storing lead: %w", err)
	}

	msg := queue.LeadMessage{LeadID: lead.ID, ConversationID: lead.ConversationID}
	if traceID := otel.TraceID(ctx); traceID != "" {
		msg.TraceID = &traceID
	}
	if err := s.queue.Enqueue(ctx, msg); err != nil {
		// The lead is stored; only the alert is lost, so surface it loudly.
		slog.ErrorContext(ctx, "failed to enqueue lead notification", "error", err)
		return model.Lead{}, fmt.Errorf("enqueueing notification: %w", err)
	}

	slog.InfoContext(ctx, "lead submitted", "images", len(lead.ImageURLs))
	return lead, nil
}

// ValidationError wraps payload validation failures.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return "invalid lead: " + e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }
