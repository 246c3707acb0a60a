package model

import "strings"

// TurnKind tags the variant held by a Turn.
type TurnKind string

const (
	TurnKindUser           TurnKind = "user"
	TurnKindAssistantText  TurnKind = "assistant_text"
	TurnKindAssistantImage TurnKind = "assistant_image"
)

// TurnStatus is the lifecycle state of a turn. Text turns move
// pending -> streaming -> complete; image turns move
// queued -> refining -> complete|failed. User turns are always complete.
type TurnStatus string

const (
	TurnStatusPending   TurnStatus = "pending"
	TurnStatusStreaming TurnStatus = "streaming"
	TurnStatusQueued    TurnStatus = "queued"
	TurnStatusRefining  TurnStatus = "refining"
	TurnStatusComplete  TurnStatus = "complete"
	TurnStatusFailed    TurnStatus = "failed"
)

// rank orders statuses so transitions can be checked for monotonicity.
func (s TurnStatus) rank() int {
	switch s {
	case TurnStatusPending, TurnStatusQueued:
		return 0
	case TurnStatusStreaming, TurnStatusRefining:
		return 1
	case TurnStatusComplete, TurnStatusFailed:
		return 2
	default:
		return -1
	}
}

// Terminal reports whether no further transition is allowed.
func (s TurnStatus) Terminal() bool {
	return s.rank() == 2
}

// PartType tags a content part.
type PartType string

const (
	PartTypeText  PartType = "text"
	PartTypeImage PartType = "image"
)

// Part is one element of a turn's content: a text segment or an image reference.
// Image references are either durable URLs or inline data URLs.
type Part struct {
	Type     PartType `json:"type"`
	Text     string   `json:"text,omitempty"`
	ImageURL string   `json:"image_url,omitempty"`
}

func TextPart(text string) Part {
	return Part{Type: PartTypeText, Text: text}
}

func ImagePart(url string) Part {
	return Part{Type: PartTypeImage, ImageURL: url}
}

// Turn is one logical unit of conversation content.
//
// The variant is selected by Kind:
//   - user: Content holds text and image parts, Status is complete.
//   - assistant_text: Content holds text segments addressed by index.
//   - assistant_image: Result holds the image reference, possibly empty.
type Turn struct {
	Kind    TurnKind   `json:"kind"`
	ID      string     `json:"id,omitempty"`
	Status  TurnStatus `json:"status"`
	Content []Part     `json:"content,omitempty"`
	Result  string     `json:"result,omitempty"`
}

func NewUserTurn(parts ...Part) Turn {
	return Turn{
		Kind:    TurnKindUser,
		Status:  TurnStatusComplete,
		Content: parts,
	}
}

// NewTextTurn creates a streaming assistant text turn with one empty segment.
func NewTextTurn(id string) Turn {
	return Turn{
		Kind:    TurnKindAssistantText,
		ID:      id,
		Status:  TurnStatusStreaming,
		Content: []Part{TextPart("")},
	}
}

// NewPendingTextTurn creates an empty assistant text turn that holds a
// position until its content is known.
func NewPendingTextTurn(id string) Turn {
	return Turn{
		Kind:   TurnKindAssistantText,
		ID:     id,
		Status: TurnStatusPending,
	}
}

// NewImageTurn creates a queued assistant image turn with an empty result.
func NewImageTurn(id string) Turn {
	return Turn{
		Kind:   TurnKindAssistantImage,
		ID:     id,
		Status: TurnStatusQueued,
	}
}

// Advance moves the turn to status to. Backward moves, moves out of a
// terminal status and statuses foreign to the turn's kind are refused.
func (t *Turn) Advance(to TurnStatus) bool {
	if !t.accepts(to) {
		return false
	}
	if t.Status == to {
		return true
	}
	if t.Status.Terminal() || to.rank() < t.Status.rank() {
		return false
	}
	t.Status = to
	return true
}

func (t *Turn) accepts(s TurnStatus) bool {
	switch t.Kind {
	case TurnKindAssistantText:
		return s == TurnStatusPending || s == TurnStatusStreaming || s == TurnStatusComplete
	case TurnKindAssistantImage:
		return s == TurnStatusQueued || s == TurnStatusRefining || s == TurnStatusComplete || s == TurnStatusFailed
	case TurnKindUser:
		return s == TurnStatusComplete
	default:
		return false
	}
}

// Segment returns a pointer to text segment idx, growing the content with
// empty segments when idx is exactly one past the end. It returns nil for
// any other out-of-range index.
func (t *Turn) Segment(idx int) *Part {
	if idx < 0 || idx > len(t.Content) {
		return nil
	}
	if idx == len(t.Content) {
		t.Content = append(t.Content, TextPart(""))
	}
	if t.Content[idx].Type != PartTypeText {
		return nil
	}
	return &t.Content[idx]
}

// Text concatenates the text parts of the turn.
func (t Turn) Text() string {
	var sb strings.Builder
	for _, p := range t.Content {
		if p.Type == PartTypeText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// Clone returns a deep copy safe to mutate independently.
func (t Turn) Clone() Turn {
	if t.Content != nil {
		content := make([]Part, len(t.Content))
		copy(content, t.Content)
		t.Content = content
	}
	return t
}

// IsInlineImage reports whether ref carries its bytes inline as a data URL.
func IsInlineImage(ref string) bool {
	return strings.HasPrefix(ref, "data:")
}
