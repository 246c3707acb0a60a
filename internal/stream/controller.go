package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"cyodesign.app/atelier/common/logger"
	"cyodesign.app/atelier/internal/model"
	"cyodesign.app/atelier/internal/transcript"
)

// MaxImages is the number of images a user may attach to one turn.
const MaxImages = 2

type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateStreaming  State = "streaming"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

func (s State) active() bool {
	return s == StateConnecting || s == StateStreaming
}

// Request is what one submission sends to the server.
type Request struct {
	ConversationID string       `json:"conversation_id"`
	Locale         string       `json:"locale"`
	Transcript     []model.Turn `json:"transcript"`
}

// Source is an open event stream. Close may be called concurrently with
// Next and must make a blocked Next return.
type Source interface {
	Next() bool
	Data() []byte
	Err() error
	Close() error
}

type Transport interface {
	Open(ctx context.Context, req Request) (Source, error)
}

// Input is one user submission. Images are data URLs or durable URLs.
type Input struct {
	Text   string
	Images []string
}

type Config struct {
	NoDataTimeout time.Duration
	ImageFormat   string
	Reducer       ReducerConfig
}

func DefaultConfig() Config {
	return Config{
		NoDataTimeout: 10 * time.Second,
		ImageFormat:   "jpeg",
		Reducer:       DefaultReducerConfig(),
	}
}

// Controller owns the request lifecycle of one conversation: at most one
// stream is in flight per transcript.
type Controller struct {
	store          *transcript.Store
	transport      Transport
	tools          ToolDispatcher
	cfg            Config
	envelopes      *EnvelopeDecoder
	conversationID string
	locale         string

	mu     sync.Mutex
	state  atomic.Value
	active *run
}

func NewController(store *transcript.Store, transport Transport, tools ToolDispatcher, cfg Config, conversationID, locale string) *Controller {
	if cfg.NoDataTimeout <= 0 {
		cfg.NoDataTimeout = DefaultConfig().NoDataTimeout
	}
	c := &Controller{
		store:          store,
		transport:      transport,
		tools:          tools,
		cfg:            cfg,
		envelopes:      NewEnvelopeDecoder(cfg.ImageFormat),
		conversationID: conversationID,
		locale:         locale,
	}
	c.state.Store(StateIdle)
	return c
}

// State may be called from any goroutine, including store subscribers.
func (c *Controller) State() State {
	return c.state.Load().(State)
}

// Cancel aborts the in-flight stream, if any. Events already queued are
// not applied once Cancel returns.
func (c *Controller) Cancel() {
	c.mu.Lock()
	r := c.active
	c.mu.Unlock()

	if r != nil {
		r.abort(&Error{Kind: KindCancelled, Message: "cancelled by user"})
	}
}

// Submit appends the user turn, streams the response into the transcript
// and blocks until the stream reaches a terminal state. It returns nil when
// the stream completed and an *Error otherwise.
func (c *Controller) Submit(ctx context.Context, in Input) error {
	if strings.TrimSpace(in.Text) == "" && len(in.Images) == 0 {
		return ErrEmptyInput
	}
	if len(in.Images) > MaxImages {
		return &Error{Kind: KindValidation, Message: fmt.Sprintf("at most %d images per message", MaxImages)}
	}

	sc := logger.StartSpan(ctx, "stream.submit", trace.WithSpanKind(trace.SpanKindClient))
	defer sc.End()
	ctx = logger.WithLogFields(sc.Context(), logger.LogFields{
		ConversationID: logger.Ptr(c.conversationID),
		Locale:         logger.Ptr(c.locale),
		Component:      "atelier.stream.controller",
	})

	r, req, err := c.start(ctx, in)
	if err != nil {
		return err
	}

	slog.DebugContext(ctx, "stream started",
		"offset", r.reducer.offset.Base(),
		"turns", len(req.Transcript))

	err = c.consume(ctx, r, req)
	r.teardown()

	state := StateCompleted
	switch {
	case errors.Is(err, ErrCancelled):
		state = StateCancelled
	case err != nil:
		state = StateFailed
	}

	c.mu.Lock()
	c.state.Store(state)
	c.active = nil
	c.mu.Unlock()

	sc.SetAttributes(attribute.String("stream.state", string(state)))
	if err != nil {
		sc.RecordError(err)
		slog.InfoContext(ctx, "stream ended", "state", state, "error", err)
		return err
	}
	slog.DebugContext(ctx, "stream ended", "state", state)
	return nil
}

func (c *Controller) start(ctx context.Context, in Input) (*run, Request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State().active() {
		return nil, Request{}, ErrAlreadyStreaming
	}
	c.state.Store(StateConnecting)

	parts := make([]model.Part, 0, len(in.Images)+1)
	if text := strings.TrimSpace(in.Text); text != "" {
		parts = append(parts, model.TextPart(text))
	}
	for _, img := range in.Images {
		parts = append(parts, model.ImagePart(img))
	}
	c.store.Append(model.NewUserTurn(parts...))

	snap := c.store.Snapshot()
	offset := NewOffset(len(snap.Turns))

	runCtx, cancel := context.WithCancel(ctx)
	r := &run{
		ctx:     runCtx,
		cancel:  cancel,
		reducer: NewReducer(c.store, offset, c.cfg.Reducer, c.tools),
		timeout: c.cfg.NoDataTimeout,
	}
	r.timer = time.AfterFunc(c.cfg.NoDataTimeout, func() {
		r.abort(&Error{Kind: KindTimeout, Message: fmt.Sprintf("no data received within %s", c.cfg.NoDataTimeout)})
	})
	c.active = r

	return r, Request{
		ConversationID: c.conversationID,
		Locale:         c.locale,
		Transcript:     snap.Turns,
	}, nil
}

type frame struct {
	data   []byte
	opened bool
	eof    bool
	err    error
}

func (c *Controller) consume(ctx context.Context, r *run, req Request) error {
	frames := make(chan frame)
	go c.pump(r, req, frames)

	for {
		select {
		case <-r.ctx.Done():
			r.reducer.Revoke()
			return r.reason()

		case f := <-frames:
			if r.ctx.Err() != nil {
				r.reducer.Revoke()
				return r.reason()
			}

			switch {
			case f.opened:
				c.advance(StateStreaming)

			case f.err != nil:
				r.reducer.Revoke()
				return asStreamError(f.err)

			case f.eof:
				r.reducer.Revoke()
				return &Error{Kind: KindTransport, Message: "stream ended before completion"}

			default:
				r.timer.Reset(r.timeout)
				c.advance(StateStreaming)
				if done, err := c.handle(ctx, r, f.data); done {
					return err
				}
			}
		}
	}
}

// handle applies one frame and reports whether the stream is over.
func (c *Controller) handle(ctx context.Context, r *run, data []byte) (bool, error) {
	if IsDone(data) {
		// Backends may close with the sentinel only.
		_ = r.reducer.Apply(ctx, StreamComplete())
		return true, nil
	}

	ev, ok, err := c.envelopes.Decode(data)
	if err != nil {
		slog.WarnContext(ctx, "dropping malformed envelope",
			"error", err,
			"data", logger.Truncate(string(data), 200))
		return false, nil
	}
	if !ok {
		return false, nil
	}

	if err := r.reducer.Apply(ctx, ev); errors.Is(err, ErrRevoked) {
		return false, nil
	}

	switch ev.Kind {
	case KindStreamComplete:
		return true, nil
	case KindStreamError:
		return true, &Error{Kind: KindRemote, Code: ev.Code, Message: ev.Message}
	default:
		return false, nil
	}
}

func (c *Controller) pump(r *run, req Request, frames chan<- frame) {
	send := func(f frame) bool {
		select {
		case frames <- f:
			return true
		case <-r.ctx.Done():
			return false
		}
	}

	src, err := c.transport.Open(r.ctx, req)
	if err != nil {
		send(frame{err: err})
		return
	}
	if !r.attach(src) {
		return
	}
	if !send(frame{opened: true}) {
		return
	}

	for src.Next() {
		data := src.Data()
		if len(bytes.TrimSpace(data)) == 0 {
			continue
		}
		if !send(frame{data: data}) {
			return
		}
	}
	if err := src.Err(); err != nil {
		send(frame{err: err})
		return
	}
	send(frame{eof: true})
}

func (c *Controller) advance(to State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State() == StateConnecting {
		c.state.Store(to)
	}
}

// run holds the resources of one stream. teardown releases them exactly
// once whichever path ends the stream.
type run struct {
	ctx     context.Context
	cancel  context.CancelFunc
	reducer *Reducer
	timer   *time.Timer
	timeout time.Duration

	mu       sync.Mutex
	source   Source
	closed   bool
	abortErr *Error
	once     sync.Once
}

func (r *run) abort(err *Error) {
	r.mu.Lock()
	if r.abortErr == nil {
		r.abortErr = err
	}
	r.mu.Unlock()

	r.reducer.Revoke()
	r.cancel()
}

func (r *run) reason() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.abortErr != nil {
		return r.abortErr
	}
	return &Error{Kind: KindCancelled, Err: context.Cause(r.ctx)}
}

// attach hands the opened source to the run. A source opened after
// teardown is closed immediately.
func (r *run) attach(src Source) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = src.Close()
		return false
	}
	r.source = src
	r.mu.Unlock()
	return true
}

func (r *run) teardown() {
	r.once.Do(func() {
		r.timer.Stop()
		r.cancel()

		r.mu.Lock()
		r.closed = true
		src := r.source
		r.mu.Unlock()

		if src != nil {
			_ = src.Close()
		}
	})
}
