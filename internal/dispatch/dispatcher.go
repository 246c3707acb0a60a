package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-playground/validator/v10"

	"cyodesign.app/atelier/common/logger"
	"cyodesign.app/atelier/internal/model"
	"cyodesign.app/atelier/internal/stream"
	"cyodesign.app/atelier/internal/transcript"
)

// LeadToolName is the function tool the model calls once a design is confirmed.
const LeadToolName = "submit_lead"

// Acknowledgement is written into the reserved turn after a lead was accepted.
const Acknowledgement = "Thank you! Response Recorded"

var ErrInvalidPayload = errors.New("invalid tool payload")

// Notifier delivers a validated lead and returns its id.
type Notifier interface {
	SubmitLead(ctx context.Context, lead model.Lead) (int64, error)
}

// ImageResolver turns an inline image into a durable URL.
type ImageResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// Dispatcher performs the lead side effect of submit_lead tool calls. Each
// invocation id fires at most once for the lifetime of the dispatcher, and
// the work runs detached from the stream that produced it.
type Dispatcher struct {
	store          *transcript.Store
	notifier       Notifier
	images         ImageResolver
	conversationID string
	validate       *validator.Validate

	mu   sync.Mutex
	seen map[string]struct{}
	wg   sync.WaitGroup
}

// New builds a dispatcher. images may be nil, in which case inline images
// are left out of the lead.
func New(store *transcript.Store, notifier Notifier, images ImageResolver, conversationID string) *Dispatcher {
	return &Dispatcher{
		store:          store,
		notifier:       notifier,
		images:         images,
		conversationID: conversationID,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		seen:           make(map[string]struct{}),
	}
}

var _ stream.ToolDispatcher = (*Dispatcher)(nil)

func (d *Dispatcher) Dispatch(ctx context.Context, call stream.ToolCall) {
	ctx = logger.WithLogFields(context.WithoutCancel(ctx), logger.LogFields{
		ConversationID: logger.Ptr(d.conversationID),
		Component:      "atelier.dispatch",
	})

	d.mu.Lock()
	if _, dup := d.seen[call.InvocationID]; dup {
		d.mu.Unlock()
		slog.DebugContext(ctx, "duplicate tool call ignored", "invocation_id", call.InvocationID)
		return
	}
	d.seen[call.InvocationID] = struct{}{}
	d.mu.Unlock()

	req, err := d.Decode(call)
	if err != nil {
		slog.WarnContext(ctx, "skipping tool call",
			"invocation_id", call.InvocationID,
			"tool", call.Name,
			"error", err)
		d.settle(call, "")
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.submit(ctx, call, req)
	}()
}

// Wait blocks until every dispatched side effect has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Decode validates the tool call against the lead schema.
func (d *Dispatcher) Decode(call stream.ToolCall) (model.LeadRequest, error) {
	if call.Name != "" && call.Name != LeadToolName {
		return model.LeadRequest{}, fmt.Errorf("%w: unknown tool %q", ErrInvalidPayload, call.Name)
	}

	var req model.LeadRequest
	if err := json.Unmarshal(call.Arguments, &req); err != nil {
		return model.LeadRequest{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := d.validate.Struct(req); err != nil {
		return model.LeadRequest{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return req, nil
}

func (d *Dispatcher) submit(ctx context.Context, call stream.ToolCall, req model.LeadRequest) {
	lead := model.Lead{
		ConversationID: d.conversationID,
		LeadRequest:    req,
		ImageURLs:      d.imageURLs(ctx),
	}

	id, err := d.notifier.SubmitLead(ctx, lead)
	if err != nil {
		slog.ErrorContext(ctx, "lead submission failed",
			"invocation_id", call.InvocationID,
			"error", err)
		d.settle(call, "")
		return
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{LeadID: logger.Ptr(id)})
	slog.InfoContext(ctx, "lead submitted",
		"invocation_id", call.InvocationID,
		"images", len(lead.ImageURLs))
	d.settle(call, Acknowledgement)
}

// settle completes the turn reserved for the call. It is a no-op when the
// turn is gone or no longer the reservation.
func (d *Dispatcher) settle(call stream.ToolCall, text string) {
	if call.Position < 0 {
		return
	}
	d.store.Mutate(call.Position, func(t *model.Turn) bool {
		if t.Kind != model.TurnKindAssistantText || t.ID != call.InvocationID || t.Status.Terminal() {
			return false
		}
		if text != "" {
			t.Content = []model.Part{model.TextPart(text)}
		}
		return t.Advance(model.TurnStatusComplete)
	})
}

// imageURLs collects the durable image references of the conversation in
// transcript order. Inline images are resolved when a resolver is set.
func (d *Dispatcher) imageURLs(ctx context.Context) []string {
	var refs []string
	for _, t := range d.store.Snapshot().Turns {
		switch t.Kind {
		case model.TurnKindAssistantImage:
			if t.Result != "" {
				refs = append(refs, t.Result)
			}
		case model.TurnKindUser:
			for _, p := range t.Content {
				if p.Type == model.PartTypeImage && p.ImageURL != "" {
					refs = append(refs, p.ImageURL)
				}
			}
		}
	}

	seen := make(map[string]struct{}, len(refs))
	urls := make([]string, 0, len(refs))
	for _, ref := range refs {
		if model.IsInlineImage(ref) {
			if d.images == nil {
				continue
			}
			resolved, err := d.images.Resolve(ctx, ref)
			if err != nil {
				slog.WarnContext(ctx, "leaving inline image out of lead", "error", err)
				continue
			}
			ref = resolved
		}
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}
		urls = append(urls, ref)
	}
	return urls
}
