package worker_test

import (
	"context"
	"sync"
	"time"

	"cyodesign.app/atelier/internal/model"
	"cyodesign.app/atelier/internal/queue"
)

type mockConsumer struct {
	mu       sync.Mutex
	acked    []string
	requeued []string
	dlq      []string
	readFn   func(ctx context.Context) ([]queue.Message, error)
}

func (m *mockConsumer) Read(ctx context.Context) ([]queue.Message, error) {
	if m.readFn != nil {
		return m.readFn(ctx)
	}
	return nil, nil
}

func (m *mockConsumer) Ack(ctx context.Context, msg queue.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = append(m.acked, msg.ID)
	return nil
}

func (m *mockConsumer) Requeue(ctx context.Context, msg queue.Message, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requeued = append(m.requeued, msg.ID)
	return nil
}

func (m *mockConsumer) SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dlq = append(m.dlq, msg.ID)
	return nil
}

func (m *mockConsumer) Acked() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.acked...)
}

type mockLeadStore struct {
	getFn          func(ctx context.Context, id int64) (model.Lead, error)
	markNotifiedFn func(ctx context.Context, id int64, at time.Time) error
	notified       []int64
}

func (m *mockLeadStore) Get(ctx context.Context, id int64) (model.Lead, error) {
	return m.getFn(ctx, id)
}

func (m *mockLeadStore) MarkNotified(ctx context.Context, id int64, at time.Time) error {
	m.notified = append(m.notified, id)
	if m.markNotifiedFn != nil {
		return m.markNotifiedFn(ctx, id, at)
	}
	return nil
}

type mockNotifier struct {
	mu       sync.Mutex
	sent     []int64
	notifyFn func(ctx context.Context, lead model.Lead) error
}

func (m *mockNotifier) NotifyLead(ctx context.Context, lead model.Lead) error {
	m.mu.Lock()
	m.sent = append(m.sent, lead.ID)
	m.mu.Unlock()
	if m.notifyFn != nil {
		return m.notifyFn(ctx, lead)
	}
	return nil
}

func (m *mockNotifier) Sent() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.sent...)
}
