package dto

import (
	"time"

	"cyodesign.app/atelier/internal/model"
)

type ChatRequest struct {
	ConversationID string       `json:"conversation_id" binding:"required,max=128"`
	Locale         string       `json:"locale" binding:"omitempty,max=35"`
	Transcript     []model.Turn `json:"transcript" binding:"required,min=1"`
}

type SaveChatRequest struct {
	Locale     string       `json:"locale" binding:"omitempty,max=35"`
	Transcript []model.Turn `json:"transcript" binding:"required"`
}

type ChatResponse struct {
	ID         string       `json:"id"`
	Locale     string       `json:"locale"`
	Transcript []model.Turn `json:"transcript"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

func ToChatResponse(c model.Chat) ChatResponse {
	return ChatResponse{
		ID:         c.ID,
		Locale:     c.Locale,
		Transcript: c.Turns,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}
