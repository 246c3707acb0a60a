package service

import (
	"context"

	"cyodesign.app/atelier/internal/storage"
)

// Signer presigns object uploads. *storage.Bucket satisfies it.
type Signer interface {
	SignPut(ctx context.Context, owner, key, contentType string) (storage.SignedURL, error)
}

type UploadService interface {
	SignedURL(ctx context.Context, owner, key, contentType string) (storage.SignedURL, error)
}

type uploadService struct {
	signer Signer
}

func NewUploadService(signer Signer) UploadService {
	return &uploadService{signer: signer}
}

func (s *uploadService) SignedURL(ctx context.Context, owner, key, contentType string) (storage.SignedURL, error) {
	return s.signer.SignPut(ctx, owner, key, contentType)
}
