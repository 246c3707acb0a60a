package stream_test

import (
	"context"
	"sync"
	"sync/atomic"

	"cyodesign.app/atelier/internal/stream"
)

type recordingDispatcher struct {
	mu    sync.Mutex
	calls []stream.ToolCall
}

func (d *recordingDispatcher) Dispatch(_ context.Context, call stream.ToolCall) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call)
}

func (d *recordingDispatcher) Calls() []stream.ToolCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]stream.ToolCall(nil), d.calls...)
}

// fakeSource replays frames pushed on a channel. Closing the channel ends
// the stream; Close unblocks a pending Next.
type fakeSource struct {
	frames     chan []byte
	done       chan struct{}
	closeOnce  sync.Once
	closeCount atomic.Int32
	cur        []byte
}

func newFakeSource(frames ...string) *fakeSource {
	s := &fakeSource{
		frames: make(chan []byte, len(frames)+16),
		done:   make(chan struct{}),
	}
	for _, f := range frames {
		s.frames <- []byte(f)
	}
	return s
}

func (s *fakeSource) Push(frame string) {
	s.frames <- []byte(frame)
}

func (s *fakeSource) End() {
	close(s.frames)
}

func (s *fakeSource) Next() bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case f, ok := <-s.frames:
		if !ok {
			return false
		}
		s.cur = f
		return true
	case <-s.done:
		return false
	}
}

func (s *fakeSource) Data() []byte { return s.cur }
func (s *fakeSource) Err() error   { return nil }

func (s *fakeSource) Close() error {
	s.closeCount.Add(1)
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *fakeSource) Closes() int32 {
	return s.closeCount.Load()
}

type fakeTransport struct {
	mu       sync.Mutex
	requests []stream.Request
	openFn   func(ctx context.Context, req stream.Request) (stream.Source, error)
}

func (t *fakeTransport) Open(ctx context.Context, req stream.Request) (stream.Source, error) {
	t.mu.Lock()
	t.requests = append(t.requests, req)
	t.mu.Unlock()
	return t.openFn(ctx, req)
}

func (t *fakeTransport) Requests() []stream.Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]stream.Request(nil), t.requests...)
}
