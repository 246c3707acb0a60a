package stream

import (
	"cmp"
	"context"
	"encoding/json"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"cyodesign.app/atelier/common/logger"
	"cyodesign.app/atelier/internal/model"
	"cyodesign.app/atelier/internal/transcript"
)

type ReducerConfig struct {
	// FlushThreshold is the number of text fragments buffered per segment
	// before they are written to the store.
	FlushThreshold int

	// PartialComplete is the number of partial previews after which an image
	// is shown as complete ahead of its done event. Zero disables it.
	PartialComplete int
}

func DefaultReducerConfig() ReducerConfig {
	return ReducerConfig{FlushThreshold: 10, PartialComplete: 2}
}

// ToolCall is a completed tool invocation handed to the dispatcher.
type ToolCall struct {
	InvocationID string
	Name         string
	Arguments    json.RawMessage

	// Position is the turn reserved for the acknowledgement, or -1.
	Position int
}

// ToolDispatcher performs the side effect of a tool call. Dispatch must not
// block on the side effect itself.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, call ToolCall)
}

type segmentKey struct {
	pos int
	seg int
}

type fragmentBuffer struct {
	text  strings.Builder
	count int
}

// Reducer applies delta events of one stream to the transcript.
//
// It is the only writer of the turns it creates while it is live. Once
// revoked, or once a terminal event was applied, every later event is
// rejected with ErrRevoked.
type Reducer struct {
	mu     sync.Mutex
	store  *transcript.Store
	offset Offset
	cfg    ReducerConfig
	tools  ToolDispatcher

	live         bool
	buffers      map[segmentKey]*fragmentBuffer
	doneSegments map[segmentKey]struct{}
	imageSeq     map[int]int
	imageDone    map[int]struct{}
	seen         map[string]struct{}
	reserved     map[int]string
	touched      map[int]struct{}
}

func NewReducer(store *transcript.Store, offset Offset, cfg ReducerConfig, tools ToolDispatcher) *Reducer {
	if cfg.FlushThreshold < 1 {
		cfg.FlushThreshold = 1
	}
	return &Reducer{
		store:        store,
		offset:       offset,
		cfg:          cfg,
		tools:        tools,
		live:         true,
		buffers:      make(map[segmentKey]*fragmentBuffer),
		doneSegments: make(map[segmentKey]struct{}),
		imageSeq:     make(map[int]int),
		imageDone:    make(map[int]struct{}),
		seen:         make(map[string]struct{}),
		reserved:     make(map[int]string),
		touched:      make(map[int]struct{}),
	}
}

func (r *Reducer) Live() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live
}

// Apply applies one event. Malformed events are logged, dropped and
// reported as a protocol error; the reducer stays usable.
func (r *Reducer) Apply(ctx context.Context, ev Event) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "atelier.stream.reducer"})

	r.mu.Lock()
	if !r.live {
		r.mu.Unlock()
		return ErrRevoked
	}
	call, err := r.apply(ev)
	r.mu.Unlock()

	if call != nil && r.tools != nil {
		r.tools.Dispatch(ctx, *call)
	}

	if err != nil {
		slog.WarnContext(ctx, "dropping stream event",
			"kind", ev.Kind,
			"turn_offset", ev.TurnOffset,
			"segment", ev.Segment,
			"error", err)
	}
	return err
}

// Revoke stops the reducer. Fragments already accepted are flushed and the
// turns of this stream are finalized; nothing is written afterwards.
func (r *Reducer) Revoke() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.live {
		return
	}
	r.flushAll()
	r.finalize(false)
	r.live = false
}

func (r *Reducer) apply(ev Event) (*ToolCall, error) {
	if ev.Kind != KindTextDelta {
		r.flushAll()
	}

	switch ev.Kind {
	case KindTextDelta:
		return nil, r.textDelta(ev)
	case KindTextDone:
		return nil, r.textDone(ev)
	case KindImageGenerating:
		_, err := r.ensureImage(ev, nil)
		return nil, err
	case KindImagePartial:
		return nil, r.imagePartial(ev)
	case KindImageDone:
		return nil, r.imageDoneEvent(ev)
	case KindToolCallDone:
		return r.toolCallDone(ev)
	case KindStreamComplete:
		r.finalize(true)
		r.live = false
		return nil, nil
	case KindStreamError:
		r.finalize(false)
		r.live = false
		return nil, nil
	default:
		return nil, protocolError("unknown event kind %q", ev.Kind)
	}
}

func (r *Reducer) position(ev Event) (int, error) {
	pos, ok := r.offset.Position(ev.TurnOffset)
	if !ok {
		return 0, protocolError("negative turn offset %d", ev.TurnOffset)
	}
	return pos, nil
}

// ensure returns the turn the event addresses, creating it when the offset
// is the next free position. admit sees the existing turn, or nil when the
// position is free, and can reject the event before anything is written.
func (r *Reducer) ensure(ev Event, kind model.TurnKind, factory func() model.Turn, admit func(existing *model.Turn) error) (int, model.Turn, error) {
	pos, err := r.position(ev)
	if err != nil {
		return 0, model.Turn{}, err
	}

	var existing *model.Turn
	if cur, ok := r.store.At(pos); ok {
		if err := r.checkTurn(pos, cur, kind); err != nil {
			return 0, model.Turn{}, err
		}
		existing = &cur
	}
	if admit != nil {
		if err := admit(existing); err != nil {
			return 0, model.Turn{}, err
		}
	}

	turn, _, err := r.store.EnsureAt(pos, factory)
	if err != nil {
		return 0, model.Turn{}, &Error{Kind: KindProtocol, Message: "turn offset has no predecessor", Err: err}
	}
	if err := r.checkTurn(pos, turn, kind); err != nil {
		return 0, model.Turn{}, err
	}

	r.touched[pos] = struct{}{}
	return pos, turn, nil
}

func (r *Reducer) checkTurn(pos int, turn model.Turn, kind model.TurnKind) error {
	if turn.Kind != kind {
		return protocolError("turn %d is %s, event expects %s", pos, turn.Kind, kind)
	}
	if _, ok := r.reserved[pos]; ok {
		return protocolError("turn %d is reserved for a tool acknowledgement", pos)
	}
	return nil
}

func (r *Reducer) ensureText(ev Event) (int, model.Turn, error) {
	pos, turn, err := r.ensure(ev, model.TurnKindAssistantText, func() model.Turn {
		return model.NewTextTurn(ev.ItemID)
	}, func(existing *model.Turn) error {
		segments := 0
		if existing != nil {
			segments = len(existing.Content)
		}
		if ev.Segment < 0 || ev.Segment > segments {
			return protocolError("segment %d skips ahead of %d segments", ev.Segment, segments)
		}
		return nil
	})
	if err != nil {
		return 0, model.Turn{}, err
	}
	if ev.Segment == len(turn.Content) {
		r.store.Mutate(pos, func(t *model.Turn) bool {
			return t.Segment(ev.Segment) != nil
		})
	}
	return pos, turn, nil
}

func (r *Reducer) ensureImage(ev Event, admit func(existing *model.Turn) error) (int, error) {
	pos, _, err := r.ensure(ev, model.TurnKindAssistantImage, func() model.Turn {
		return model.NewImageTurn(ev.ItemID)
	}, admit)
	return pos, err
}

func (r *Reducer) textDelta(ev Event) error {
	if pos, ok := r.offset.Position(ev.TurnOffset); ok {
		if _, done := r.doneSegments[segmentKey{pos, ev.Segment}]; done {
			return nil
		}
	}

	pos, _, err := r.ensureText(ev)
	if err != nil {
		return err
	}

	key := segmentKey{pos, ev.Segment}
	buf, ok := r.buffers[key]
	if !ok {
		buf = &fragmentBuffer{}
		r.buffers[key] = buf
	}
	buf.text.WriteString(ev.Text)
	buf.count++

	if buf.count >= r.cfg.FlushThreshold {
		r.flush(key)
	}
	return nil
}

func (r *Reducer) textDone(ev Event) error {
	pos, _, err := r.ensureText(ev)
	if err != nil {
		return err
	}

	key := segmentKey{pos, ev.Segment}
	delete(r.buffers, key)
	r.doneSegments[key] = struct{}{}

	r.store.Mutate(pos, func(t *model.Turn) bool {
		seg := t.Segment(ev.Segment)
		if seg == nil {
			return false
		}
		seg.Text = ev.Text
		t.Advance(model.TurnStatusComplete)
		return true
	})
	return nil
}

func (r *Reducer) imagePartial(ev Event) error {
	pos, err := r.ensureImage(ev, nil)
	if err != nil {
		return err
	}
	if _, done := r.imageDone[pos]; done {
		return nil
	}
	if last, ok := r.imageSeq[pos]; ok && ev.Seq <= last {
		return protocolError("partial image %d after %d", ev.Seq, last)
	}
	r.imageSeq[pos] = ev.Seq

	optimistic := r.cfg.PartialComplete > 0 && ev.Seq+1 >= r.cfg.PartialComplete
	r.store.Mutate(pos, func(t *model.Turn) bool {
		t.Result = ev.Image
		t.Advance(model.TurnStatusRefining)
		if optimistic {
			t.Advance(model.TurnStatusComplete)
		}
		return true
	})
	return nil
}

// imageDoneEvent only defines a turn when it carries the final rendering.
func (r *Reducer) imageDoneEvent(ev Event) error {
	pos, err := r.ensureImage(ev, func(existing *model.Turn) error {
		if existing == nil && ev.Image == "" {
			return protocolError("image done for unannounced turn at offset %d", ev.TurnOffset)
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.imageDone[pos] = struct{}{}

	r.store.Mutate(pos, func(t *model.Turn) bool {
		changed := false
		if ev.Image != "" && t.Result != ev.Image {
			t.Result = ev.Image
			changed = true
		}
		if t.Status != model.TurnStatusComplete && t.Advance(model.TurnStatusComplete) {
			changed = true
		}
		return changed
	})
	return nil
}

// toolCallDone reserves the call's position with a pending text turn so
// later offsets stay contiguous; the dispatcher fills it in.
func (r *Reducer) toolCallDone(ev Event) (*ToolCall, error) {
	if ev.InvocationID == "" {
		return nil, protocolError("tool call without invocation id")
	}
	if _, dup := r.seen[ev.InvocationID]; dup {
		return nil, nil
	}
	r.seen[ev.InvocationID] = struct{}{}

	call := &ToolCall{
		InvocationID: ev.InvocationID,
		Name:         ev.ToolName,
		Arguments:    ev.Arguments,
		Position:     -1,
	}

	var reserveErr error
	if pos, ok := r.offset.Position(ev.TurnOffset); ok {
		_, created, err := r.store.EnsureAt(pos, func() model.Turn {
			return model.NewPendingTextTurn(ev.InvocationID)
		})
		switch {
		case err != nil:
			reserveErr = &Error{Kind: KindProtocol, Message: "tool call offset has no predecessor", Err: err}
		case created:
			r.reserved[pos] = ev.InvocationID
			call.Position = pos
		}
	}

	if !json.Valid(ev.Arguments) {
		if call.Position >= 0 {
			r.store.Mutate(call.Position, func(t *model.Turn) bool {
				return t.Advance(model.TurnStatusComplete)
			})
		}
		return nil, &Error{Kind: KindToolPayload, Message: "tool arguments are not valid JSON"}
	}

	return call, reserveErr
}

func (r *Reducer) flush(key segmentKey) {
	buf, ok := r.buffers[key]
	if !ok {
		return
	}
	delete(r.buffers, key)
	if buf.count == 0 {
		return
	}

	text := buf.text.String()
	r.store.Mutate(key.pos, func(t *model.Turn) bool {
		seg := t.Segment(key.seg)
		if seg == nil {
			return false
		}
		seg.Text += text
		t.Advance(model.TurnStatusStreaming)
		return true
	})
}

func (r *Reducer) flushAll() {
	keys := slices.SortedFunc(maps.Keys(r.buffers), func(a, b segmentKey) int {
		return cmp.Or(cmp.Compare(a.pos, b.pos), cmp.Compare(a.seg, b.seg))
	})
	for _, key := range keys {
		r.flush(key)
	}
}

// finalize settles every turn this stream touched. Text turns complete.
// Unfinished images complete on success when a preview exists and fail
// otherwise. Reserved acknowledgement turns are left to the dispatcher.
func (r *Reducer) finalize(success bool) {
	for _, pos := range slices.Sorted(maps.Keys(r.touched)) {
		r.store.Mutate(pos, func(t *model.Turn) bool {
			if t.Status.Terminal() {
				return false
			}
			switch t.Kind {
			case model.TurnKindAssistantText:
				return t.Advance(model.TurnStatusComplete)
			case model.TurnKindAssistantImage:
				if success && t.Result != "" {
					return t.Advance(model.TurnStatusComplete)
				}
				return t.Advance(model.TurnStatusFailed)
			default:
				return false
			}
		})
	}
}
