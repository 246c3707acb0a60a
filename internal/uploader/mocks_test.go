package uploader_test

import (
	"context"
	"sync"
)

type mockStorage struct {
	mu    sync.Mutex
	keys  []string
	putFn func(ctx context.Context, key, contentType string, data []byte) (string, error)
}

func (m *mockStorage) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	m.mu.Lock()
	m.keys = append(m.keys, key)
	m.mu.Unlock()
	if m.putFn != nil {
		return m.putFn(ctx, key, contentType, data)
	}
	return "https://cdn.example.com/" + key, nil
}

func (m *mockStorage) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.keys...)
}
