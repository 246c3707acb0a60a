package handler_test

import (
	"context"

	"cyodesign.app/atelier/common/llm"
	"cyodesign.app/atelier/internal/model"
	"cyodesign.app/atelier/internal/service"
	"cyodesign.app/atelier/internal/storage"
)

type mockChatService struct {
	streamFn func(ctx context.Context, req service.ChatRequest) (llm.EventStream, error)
}

func (m *mockChatService) Stream(ctx context.Context, req service.ChatRequest) (llm.EventStream, error) {
	return m.streamFn(ctx, req)
}

type mockChatStoreService struct {
	getFn  func(ctx context.Context, id string) (model.Chat, error)
	saveFn func(ctx context.Context, chat model.Chat) (model.Chat, error)
}

func (m *mockChatStoreService) Get(ctx context.Context, id string) (model.Chat, error) {
	return m.getFn(ctx, id)
}

func (m *mockChatStoreService) Save(ctx context.Context, chat model.Chat) (model.Chat, error) {
	if m.saveFn != nil {
		return m.saveFn(ctx, chat)
	}
	return chat, nil
}

type mockLeadService struct {
	submitFn func(ctx context.Context, lead model.Lead) (model.Lead, error)
}

func (m *mockLeadService) Submit(ctx context.Context, lead model.Lead) (model.Lead, error) {
	return m.submitFn(ctx, lead)
}

type mockUploadService struct {
	signFn func(ctx context.Context, owner, key, contentType string) (storage.SignedURL, error)
}

func (m *mockUploadService) SignedURL(ctx context.Context, owner, key, contentType string) (storage.SignedURL, error) {
	return m.signFn(ctx, owner, key, contentType)
}

type fakeStream struct {
	events [][]byte
	err    error
	pos    int
	closed bool
}

func (s *fakeStream) Next() bool {
	if s.pos >= len(s.events) {
		return false
	}
	s.pos++
	return true
}

func (s *fakeStream) Raw() []byte  { return s.events[s.pos-1] }
func (s *fakeStream) Err() error   { return s.err }
func (s *fakeStream) Close() error { s.closed = true; return nil }
