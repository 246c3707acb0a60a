package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"cyodesign.app/atelier/common/logger"
	"cyodesign.app/atelier/internal/http/dto"
	"cyodesign.app/atelier/internal/service"
)

const doneSentinel = "[DONE]"

type ChatHandler struct {
	chatService service.ChatService
}

func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// Stream proxies one generation as server-sent events. Every backend event
// is forwarded verbatim and the stream ends with [DONE].
func (h *ChatHandler) Stream(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid chat payload", "error", err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid payload: " + err.Error()})
		return
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ConversationID: &req.ConversationID,
		Locale:         &req.Locale,
		Component:      "atelier.http.chat",
	})

	stream, err := h.chatService.Stream(ctx, service.ChatRequest{
		ConversationID: req.ConversationID,
		Locale:         req.Locale,
		Transcript:     req.Transcript,
	})
	if err != nil {
		var upstream *service.UpstreamError
		switch {
		case errors.Is(err, service.ErrEmptyTranscript):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		case errors.As(err, &upstream) && upstream.StatusCode == http.StatusTooManyRequests:
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
		default:
			slog.ErrorContext(ctx, "generation failed", "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "upstream error"})
		}
		return
	}
	defer stream.Close()

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache, no-transform")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	events := 0
	for stream.Next() {
		if err := writeEvent(c.Writer, stream.Raw()); err != nil {
			slog.InfoContext(ctx, "client went away", "events", events, "error", err)
			return
		}
		c.Writer.Flush()
		events++
	}

	if ctx.Err() != nil {
		slog.InfoContext(ctx, "client went away", "events", events)
		return
	}
	if err := stream.Err(); err != nil {
		slog.ErrorContext(ctx, "generation stream broke", "events", events, "error", err)
		payload, _ := json.Marshal(gin.H{"type": "error", "code": "upstream_error", "message": err.Error()})
		_ = writeEvent(c.Writer, payload)
	}

	_ = writeEvent(c.Writer, []byte(doneSentinel))
	c.Writer.Flush()
	slog.InfoContext(ctx, "chat stream finished", "events", events)
}

func writeEvent(w io.Writer, data []byte) error {
	_, err := fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
