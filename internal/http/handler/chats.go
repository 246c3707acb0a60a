package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"cyodesign.app/atelier/internal/http/dto"
	"cyodesign.app/atelier/internal/model"
	"cyodesign.app/atelier/internal/service"
	"cyodesign.app/atelier/internal/store"
)

type ChatsHandler struct {
	chats service.ChatStoreService
}

func NewChatsHandler(chats service.ChatStoreService) *ChatsHandler {
	return &ChatsHandler{chats: chats}
}

func (h *ChatsHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()

	chat, err := h.chats.Get(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
			return
		}
		slog.ErrorContext(ctx, "failed to load chat", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chat"})
		return
	}

	c.JSON(http.StatusOK, dto.ToChatResponse(chat))
}

func (h *ChatsHandler) Save(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.SaveChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	chat, err := h.chats.Save(ctx, model.Chat{ID: c.Param("id"), Locale: req.Locale, Turns: req.Transcript})
	if err != nil {
		slog.ErrorContext(ctx, "failed to save chat", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save chat"})
		return
	}

	c.JSON(http.StatusOK, dto.ToChatResponse(chat))
}
