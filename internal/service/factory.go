package service

import (
	"cyodesign.app/atelier/common/llm"
	"cyodesign.app/atelier/internal/queue"
	"cyodesign.app/atelier/internal/store"
)

type ServicesConfig struct {
	Stores      *store.Stores
	TxRunner    TxRunner
	Responder   llm.Responder
	Signer      Signer
	LeadQueue   queue.Producer
	RateLimiter RateLimiter
}

type Services struct {
	cfg  ServicesConfig
	chat ChatService
}

func NewServices(cfg ServicesConfig) (*Services, error) {
	chat, err := NewChatService(cfg.Responder)
	if err != nil {
		return nil, err
	}
	return &Services{cfg: cfg, chat: chat}, nil
}

func (s *Services) Chat() ChatService {
	return s.chat
}

func (s *Services) Chats() ChatStoreService {
	return NewChatStoreService(s.cfg.Stores.Chats())
}

func (s *Services) Leads() LeadService {
	return NewLeadService(s.cfg.TxRunner, s.cfg.LeadQueue)
}

// Uploads is nil when object storage is not configured.
func (s *Services) Uploads() UploadService {
	if s.cfg.Signer == nil {
		return nil
	}
	return NewUploadService(s.cfg.Signer)
}

func (s *Services) RateLimiter() RateLimiter {
	return s.cfg.RateLimiter
}
