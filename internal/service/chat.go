package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cyodesign.app/atelier/common/llm"
	"cyodesign.app/atelier/internal/dispatch"
	"cyodesign.app/atelier/internal/model"
	"cyodesign.app/atelier/internal/prompt"
)

// UpstreamError is a generation backend failure before any event was produced.
type UpstreamError struct {
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("upstream status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

var ErrEmptyTranscript = errors.New("transcript has no user turn")

type ChatRequest struct {
	ConversationID string
	Locale         string
	Transcript     []model.Turn
}

type ChatService interface {
	// Stream opens a generation and waits for its first event, so failures
	// that happen before any output are returned as *UpstreamError.
	Stream(ctx context.Context, req ChatRequest) (llm.EventStream, error)
}

type chatService struct {
	responder llm.Responder
	tools     []llm.Tool
}

func NewChatService(responder llm.Responder) (ChatService, error) {
	lead, err := llm.ToolFor[model.LeadRequest](dispatch.LeadToolName,
		"Submit the confirmed design and the customer's contact details to the studio. Call once, only after the customer confirmed the design.")
	if err != nil {
		return nil, err
	}
	return &chatService{responder: responder, tools: []llm.Tool{lead}}, nil
}

func (s *chatService) Stream(ctx context.Context, req ChatRequest) (llm.EventStream, error) {
	if !hasUserTurn(req.Transcript) {
		return nil, ErrEmptyTranscript
	}

	stream := s.responder.Stream(ctx, llm.StreamRequest{
		Instructions:     prompt.System(req.Locale),
		Transcript:       req.Transcript,
		Tools:            s.tools,
		SafetyIdentifier: llm.SanitizeName(req.ConversationID),
	})

	if !stream.Next() {
		err := stream.Err()
		_ = stream.Close()
		if err == nil {
			err = errors.New("stream closed without events")
		}
		slog.WarnContext(ctx, "generation failed before first event", "error", err)
		return nil, &UpstreamError{StatusCode: llm.StatusCode(err), Err: err}
	}

	return &primedStream{EventStream: stream, primed: true}, nil
}

func hasUserTurn(turns []model.Turn) bool {
	for _, t := range turns {
		if t.Kind == model.TurnKindUser {
			return true
		}
	}
	return false
}

// primedStream replays the event consumed while waiting for the first byte.
type primedStream struct {
	llm.EventStream
	primed bool
}

func (s *primedStream) Next() bool {
	if s.primed {
		s.primed = false
		return true
	}
	return s.EventStream.Next()
}
