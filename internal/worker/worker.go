package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"cyodesign.app/atelier/common/logger"
	"cyodesign.app/atelier/internal/queue"
	"cyodesign.app/atelier/internal/store"
)

type Config struct {
	MaxAttempts int
}

type Worker struct {
	consumer Consumer
	leads    LeadStore
	notifier Notifier
	cfg      Config
	now      func() time.Time

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(consumer Consumer, leads LeadStore, notifier Notifier, cfg Config) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Worker{
		consumer:  consumer,
		leads:     leads,
		notifier:  notifier,
		cfg:       cfg,
		now:       time.Now,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "atelier.worker",
	})
	slog.InfoContext(ctx, "worker started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping")
			return nil
		default:
			if err := w.processOneBatch(ctx); err != nil {
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				// Brief backoff on error
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
				}
			}
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	for _, msg := range messages {
		_ = w.Handle(ctx, msg)
	}
	return nil
}

// Handle processes msg and routes failures to a retry or the DLQ.
// Exported so the reclaimer shares the same failure policy.
func (w *Worker) Handle(ctx context.Context, msg queue.Message) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		LeadID:         &msg.LeadID,
		ConversationID: &msg.ConversationID,
		MessageID:      &msg.ID,
	})

	err := w.processMessageSafe(ctx, msg)
	if err != nil {
		slog.ErrorContext(ctx, "message processing failed", "error", err, "attempt", msg.Attempt)
		w.handleFailedMessage(ctx, msg, err)
	}
	return err
}

func (w *Worker) processMessageSafe(ctx context.Context, msg queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in message processing", "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.ProcessMessage(ctx, msg)
}

// ProcessMessage sends the notification for one lead and acknowledges the
// message. A lead that was already notified is acknowledged without resending.
func (w *Worker) ProcessMessage(ctx context.Context, msg queue.Message) error {
	sc := logger.StartSpanFromTraceID(ctx, msg.TraceID, "worker.process_lead",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.Int64("lead.id", msg.LeadID),
			attribute.Int("message.attempt", msg.Attempt),
		))
	defer sc.End()
	ctx = sc.Context()

	slog.InfoContext(ctx, "processing lead", "attempt", msg.Attempt)

	lead, err := w.leads.Get(ctx, msg.LeadID)
	if errors.Is(err, store.ErrNotFound) {
		slog.WarnContext(ctx, "lead not found, dropping message")
		w.ack(ctx, msg)
		return nil
	}
	if err != nil {
		sc.RecordError(err)
		return fmt.Errorf("loading lead: %w", err)
	}

	if lead.NotifiedAt != nil {
		slog.InfoContext(ctx, "lead already notified, skipping")
		w.ack(ctx, msg)
		return nil
	}

	if err := w.notifier.NotifyLead(ctx, lead); err != nil {
		sc.RecordError(err)
		return fmt.Errorf("notifying: %w", err)
	}

	if err := w.leads.MarkNotified(ctx, lead.ID, w.now()); err != nil {
		// The email is out; a redelivery would send it twice, so only log.
		slog.ErrorContext(ctx, "failed to mark lead notified", "error", err)
	}

	w.ack(ctx, msg)
	return nil
}

func (w *Worker) ack(ctx context.Context, msg queue.Message) {
	if err := w.consumer.Ack(ctx, msg); err != nil {
		// Log but don't fail - message will be reclaimed but that's safe
		slog.WarnContext(ctx, "failed to ACK message", "error", err)
	}
}

func (w *Worker) handleFailedMessage(ctx context.Context, msg queue.Message, err error) {
	if msg.Attempt >= w.cfg.MaxAttempts {
		slog.ErrorContext(ctx, "max attempts reached, sending to DLQ", "attempts", msg.Attempt)
		if dlqErr := w.consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
		}
		return
	}

	slog.WarnContext(ctx, "requeuing failed message", "attempt", msg.Attempt)
	if requeueErr := w.consumer.Requeue(ctx, msg, err.Error()); requeueErr != nil {
		slog.ErrorContext(ctx, "failed to requeue message", "error", requeueErr)
	}
}
