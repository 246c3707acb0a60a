package transcript

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"cyodesign.app/atelier/internal/model"
)

var (
	// ErrGap is returned when a turn is requested more than one position past
	// the end of the transcript.
	ErrGap = errors.New("position is not contiguous with transcript")

	ErrNotEmpty = errors.New("transcript is not empty")
)

// Snapshot is an immutable, render-ready view of the transcript.
// Turns must be treated as read-only; the content slices are shared with
// the store.
type Snapshot struct {
	Version uint64
	Turns   []model.Turn
}

// Store is the ordered, append-only conversation state.
//
// Writers are serialized by a mutex and publish a fresh copy-on-write turn
// slice after every change. Readers load the published slice atomically and
// never block, so a reader can never observe a half-applied mutation.
type Store struct {
	mu        sync.Mutex
	published atomic.Pointer[Snapshot]

	subs    map[int]func(Snapshot)
	nextSub int
}

func NewStore() *Store {
	s := &Store{subs: make(map[int]func(Snapshot))}
	s.published.Store(&Snapshot{})
	return s
}

// Snapshot returns the latest published state.
func (s *Store) Snapshot() Snapshot {
	cur := s.published.Load()
	turns := make([]model.Turn, len(cur.Turns))
	copy(turns, cur.Turns)
	return Snapshot{Version: cur.Version, Turns: turns}
}

// At returns the published turn at pos. The turn shares its content with
// the store and must not be modified.
func (s *Store) At(pos int) (model.Turn, bool) {
	cur := s.published.Load()
	if pos < 0 || pos >= len(cur.Turns) {
		return model.Turn{}, false
	}
	return cur.Turns[pos], true
}

func (s *Store) Len() int {
	return len(s.published.Load().Turns)
}

// Append adds a fully formed turn and returns its position.
func (s *Store) Append(turn model.Turn) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.published.Load()
	pos := len(cur.Turns)
	s.commit(cur, append(cloneTurns(cur.Turns), turn.Clone()))
	return pos
}

// EnsureAt returns the turn at pos, creating it with factory when pos is the
// next free position. created reports whether factory was used.
func (s *Store) EnsureAt(pos int, factory func() model.Turn) (turn model.Turn, created bool, err error) {
	if cur := s.published.Load(); pos >= 0 && pos < len(cur.Turns) {
		return cur.Turns[pos], false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.published.Load()
	switch {
	case pos < 0:
		return model.Turn{}, false, fmt.Errorf("ensure turn at %d: %w", pos, ErrGap)
	case pos < len(cur.Turns):
		return cur.Turns[pos], false, nil
	case pos > len(cur.Turns):
		return model.Turn{}, false, fmt.Errorf("ensure turn at %d (len %d): %w", pos, len(cur.Turns), ErrGap)
	}

	turn = factory()
	s.commit(cur, append(cloneTurns(cur.Turns), turn.Clone()))
	return turn, true, nil
}

// Mutate applies fn to a private copy of the turn at pos and publishes it if
// fn reports a change. A missing position is a silent no-op, which lets late
// background work finish after the owning stream is gone.
func (s *Store) Mutate(pos int, fn func(t *model.Turn) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.published.Load()
	if pos < 0 || pos >= len(cur.Turns) {
		return false
	}

	next := cur.Turns[pos].Clone()
	if !fn(&next) {
		return false
	}

	turns := cloneTurns(cur.Turns)
	turns[pos] = next
	s.commit(cur, turns)
	return true
}

// Restore seeds an empty store with previously persisted turns.
func (s *Store) Restore(turns []model.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.published.Load()
	if len(cur.Turns) > 0 {
		return ErrNotEmpty
	}
	restored := make([]model.Turn, len(turns))
	for i, t := range turns {
		restored[i] = t.Clone()
	}
	s.commit(cur, restored)
	return nil
}

// Subscribe registers fn to be called with every newly published snapshot.
// fn runs on the writer's goroutine while the write lock is held, so it must
// not call back into mutating methods.
func (s *Store) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// commit must be called with mu held.
func (s *Store) commit(prev *Snapshot, turns []model.Turn) {
	next := &Snapshot{Version: prev.Version + 1, Turns: turns}
	s.published.Store(next)

	for _, fn := range s.subs {
		fn(Snapshot{Version: next.Version, Turns: next.Turns})
	}
}

func cloneTurns(turns []model.Turn) []model.Turn {
	out := make([]model.Turn, len(turns), len(turns)+1)
	copy(out, turns)
	return out
}
