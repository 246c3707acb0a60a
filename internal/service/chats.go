package service

import (
	"context"
	"fmt"

	"cyodesign.app/atelier/internal/model"
	"cyodesign.app/atelier/internal/store"
)

type ChatStoreService interface {
	Get(ctx context.Context, id string) (model.Chat, error)
	Save(ctx context.Context, chat model.Chat) (model.Chat, error)
}

type chatStoreService struct {
	chats store.ChatStore
}

func NewChatStoreService(chats store.ChatStore) ChatStoreService {
	return &chatStoreService{chats: chats}
}

func (s *chatStoreService) Get(ctx context.Context, id string) (model.Chat, error) {
	return s.chats.Get(ctx, id)
}

func (s *chatStoreService) Save(ctx context.Context, chat model.Chat) (model.Chat, error) {
	if chat.ID == "" {
		return model.Chat{}, fmt.Errorf("chat id is required")
	}
	if err := s.chats.Upsert(ctx, &chat); err != nil {
		return model.Chat{}, fmt.Errorf("saving chat %s: %w", chat.ID, err)
	}
	return chat, nil
}
