package stream

import "encoding/json"

// EventKind is the closed set of delta events the reducer understands.
type EventKind string

const (
	KindTextDelta       EventKind = "text-delta"
	KindTextDone        EventKind = "text-done"
	KindImageGenerating EventKind = "image-generating"
	KindImagePartial    EventKind = "image-partial"
	KindImageDone       EventKind = "image-done"
	KindToolCallDone    EventKind = "tool-call-done"
	KindStreamComplete  EventKind = "stream-complete"
	KindStreamError     EventKind = "stream-error"
)

// Event is one decoded delta. Only the fields relevant to Kind are set.
type Event struct {
	Kind EventKind

	// TurnOffset is relative to the transcript length at stream start.
	TurnOffset int
	Segment    int
	ItemID     string

	// Text is the fragment for text-delta and the authoritative text for text-done.
	Text string

	// Image is an image reference, usually an inline data URL. image-done
	// only carries one when the backend delivered the final rendering.
	Image string
	Seq   int

	InvocationID string
	ToolName     string
	Arguments    json.RawMessage

	Code    string
	Message string
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Kind == KindStreamComplete || e.Kind == KindStreamError
}

func TextDelta(turn, segment int, fragment string) Event {
	return Event{Kind: KindTextDelta, TurnOffset: turn, Segment: segment, Text: fragment}
}

func TextDone(turn, segment int, text string) Event {
	return Event{Kind: KindTextDone, TurnOffset: turn, Segment: segment, Text: text}
}

func ImageGenerating(turn int) Event {
	return Event{Kind: KindImageGenerating, TurnOffset: turn}
}

func ImagePartial(turn int, image string, seq int) Event {
	return Event{Kind: KindImagePartial, TurnOffset: turn, Image: image, Seq: seq}
}

func ImageDone(turn int) Event {
	return Event{Kind: KindImageDone, TurnOffset: turn}
}

func ToolCallDone(turn int, invocationID string, args json.RawMessage) Event {
	return Event{Kind: KindToolCallDone, TurnOffset: turn, InvocationID: invocationID, Arguments: args}
}

func StreamComplete() Event {
	return Event{Kind: KindStreamComplete}
}

func StreamError(code, message string) Event {
	return Event{Kind: KindStreamError, Code: code, Message: message}
}
