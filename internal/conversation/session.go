// Package conversation ties one transcript to its stream controller, lead
// dispatcher and image uploader, and keeps it persisted on the server.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"cyodesign.app/atelier/common/logger"
	"cyodesign.app/atelier/internal/dispatch"
	"cyodesign.app/atelier/internal/model"
	"cyodesign.app/atelier/internal/stream"
	"cyodesign.app/atelier/internal/transcript"
	"cyodesign.app/atelier/internal/uploader"
)

// Backend is the server as seen by a session.
type Backend interface {
	dispatch.Notifier
	uploader.Storage
	LoadChat(ctx context.Context, id string) (model.Chat, error)
	SaveChat(ctx context.Context, chat model.Chat) error
}

type Config struct {
	Locale        string
	Stream        stream.Config
	UploadWorkers int
}

type Session struct {
	id      string
	locale  string
	backend Backend

	store      *transcript.Store
	controller *stream.Controller
	dispatcher *dispatch.Dispatcher
	uploader   *uploader.Uploader

	persistMu  sync.Mutex
	background sync.WaitGroup
}

// New starts a conversation with a fresh id.
func New(backend Backend, transport stream.Transport, cfg Config) *Session {
	return newSession(uuid.NewString(), transcript.NewStore(), backend, transport, cfg)
}

// Resume loads a stored conversation. The stored locale wins over cfg's.
func Resume(ctx context.Context, backend Backend, transport stream.Transport, cfg Config, id string) (*Session, error) {
	chat, err := backend.LoadChat(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading conversation %s: %w", id, err)
	}

	store := transcript.NewStore()
	if err := store.Restore(chat.Turns); err != nil {
		return nil, err
	}
	if chat.Locale != "" {
		cfg.Locale = chat.Locale
	}
	return newSession(id, store, backend, transport, cfg), nil
}

func newSession(id string, store *transcript.Store, backend Backend, transport stream.Transport, cfg Config) *Session {
	up := uploader.New(backend, id, cfg.UploadWorkers)
	disp := dispatch.New(store, backend, up, id)
	return &Session{
		id:         id,
		locale:     cfg.Locale,
		backend:    backend,
		store:      store,
		controller: stream.NewController(store, transport, disp, cfg.Stream, id, cfg.Locale),
		dispatcher: disp,
		uploader:   up,
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Locale() string { return s.locale }

func (s *Session) Store() *transcript.Store { return s.store }

func (s *Session) State() stream.State { return s.controller.State() }

// Cancel aborts the in-flight response, if any.
func (s *Session) Cancel() { s.controller.Cancel() }

// Submit sends one user message and blocks until its response settles.
// Persistence and image externalization continue in the background.
func (s *Session) Submit(ctx context.Context, in stream.Input) error {
	before := s.store.Snapshot().Version

	err := s.controller.Submit(ctx, in)
	if s.store.Snapshot().Version == before {
		return err
	}

	bg := logger.WithLogFields(context.WithoutCancel(ctx), logger.LogFields{
		ConversationID: &s.id,
		Component:      "atelier.conversation",
	})
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		s.settle(bg)
	}()
	return err
}

func (s *Session) settle(ctx context.Context) {
	_ = s.Persist(ctx)
	if s.uploader.Sweep(ctx, s.store) > 0 {
		_ = s.Persist(ctx)
	}
}

// Persist saves the current transcript. Saves are serialized so an older
// snapshot never overwrites a newer one.
func (s *Session) Persist(ctx context.Context) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	snap := s.store.Snapshot()
	err := s.backend.SaveChat(ctx, model.Chat{ID: s.id, Locale: s.locale, Turns: snap.Turns})
	if err != nil {
		slog.WarnContext(ctx, "failed to persist conversation", "version", snap.Version, "error", err)
		return err
	}
	slog.DebugContext(ctx, "conversation persisted", "version", snap.Version, "turns", len(snap.Turns))
	return nil
}

// Close waits for pending side effects and background work, then saves the
// final transcript.
func (s *Session) Close(ctx context.Context) error {
	s.controller.Cancel()
	s.dispatcher.Wait()
	s.background.Wait()
	if s.store.Len() == 0 {
		return nil
	}
	return s.Persist(ctx)
}
