package notify_test

import (
	"context"

	"github.com/wneessen/go-mail"
)

type mockSender struct {
	sent   []*mail.Msg
	sendFn func(ctx context.Context, messages ...*mail.Msg) error
}

func (m *mockSender) DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error {
	m.sent = append(m.sent, messages...)
	if m.sendFn != nil {
		return m.sendFn(ctx, messages...)
	}
	return nil
}
