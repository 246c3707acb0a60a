package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"cyodesign.app/atelier/core/db"
	"cyodesign.app/atelier/internal/model"
)

type chatStore struct {
	db db.DBTX
}

func newChatStore(conn db.DBTX) ChatStore {
	return &chatStore{db: conn}
}

const getChat = `SELECT id, locale, messages, created_at, updated_at FROM chats WHERE id = $1`

func (s *chatStore) Get(ctx context.Context, id string) (model.Chat, error) {
	var (
		chat     model.Chat
		messages []byte
	)
	err := s.db.QueryRow(ctx, getChat, id).Scan(&chat.ID, &chat.Locale, &messages, &chat.CreatedAt, &chat.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Chat{}, ErrNotFound
		}
		return model.Chat{}, err
	}

	chat.Turns, err = decodeTurns(messages)
	if err != nil {
		return model.Chat{}, err
	}
	return chat, nil
}

const upsertChat = `INSERT INTO chats (id, locale, messages)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET locale = EXCLUDED.locale, messages = EXCLUDED.messages, updated_at = now()
RETURNING created_at, updated_at`

func (s *chatStore) Upsert(ctx context.Context, chat *model.Chat) error {
	messages, err := encodeTurns(chat.Turns)
	if err != nil {
		return err
	}
	return s.db.QueryRow(ctx, upsertChat, chat.ID, chat.Locale, messages).Scan(&chat.CreatedAt, &chat.UpdatedAt)
}
