package stream

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/openai/openai-go/responses"
)

// DoneSentinel terminates the event stream on the wire.
const DoneSentinel = "[DONE]"

// Envelope types consumed from the wire. Everything else is ignored.
const (
	envTextDelta        = "response.output_text.delta"
	envTextDone         = "response.output_text.done"
	envImageGenerating  = "response.image_generation_call.generating"
	envImagePartial     = "response.image_generation_call.partial_image"
	envImageCompleted   = "response.image_generation_call.completed"
	envFunctionArgsDone = "response.function_call_arguments.done"
	envOutputItemAdded  = "response.output_item.added"
	envOutputItemDone   = "response.output_item.done"
	envCompleted        = "response.completed"
	envFailed           = "response.failed"
	envIncomplete       = "response.incomplete"
	envError            = "error"
)

// EnvelopeDecoder turns SSE data payloads into Events.
//
// It remembers the name of every function call announced by an added item,
// since the arguments event that completes the call does not carry it.
type EnvelopeDecoder struct {
	imagePrefix string

	mu        sync.Mutex
	toolNames map[string]string
}

// NewEnvelopeDecoder builds a decoder; format is the generated image format
// ("jpeg", "png" or "webp") used to build inline data URLs.
func NewEnvelopeDecoder(format string) *EnvelopeDecoder {
	if format == "" {
		format = "jpeg"
	}
	return &EnvelopeDecoder{
		imagePrefix: "data:image/" + format + ";base64,",
		toolNames:   make(map[string]string),
	}
}

// IsDone reports whether data is the end-of-stream sentinel.
func IsDone(data []byte) bool {
	return string(bytes.TrimSpace(data)) == DoneSentinel
}

// Decode parses one envelope. ok is false for well-formed envelopes the
// reducer has no use for. A malformed envelope yields a protocol error.
func (d *EnvelopeDecoder) Decode(data []byte) (ev Event, ok bool, err error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Event{}, false, nil
	}

	var env responses.ResponseStreamEventUnion
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, false, &Error{Kind: KindProtocol, Message: "unparseable envelope", Err: err}
	}
	if env.Type == "" {
		return Event{}, false, protocolError("envelope without type")
	}

	turn := int(env.OutputIndex)
	needsIndex := func() error {
		if !env.JSON.OutputIndex.Valid() {
			return protocolError("%s without output_index", env.Type)
		}
		return nil
	}

	switch env.Type {
	case envTextDelta:
		if err := needsIndex(); err != nil {
			return Event{}, false, err
		}
		ev = TextDelta(turn, int(env.ContentIndex), env.Delta.OfString)

	case envTextDone:
		if err := needsIndex(); err != nil {
			return Event{}, false, err
		}
		ev = TextDone(turn, int(env.ContentIndex), env.Text)

	case envImageGenerating:
		if err := needsIndex(); err != nil {
			return Event{}, false, err
		}
		ev = ImageGenerating(turn)

	case envImagePartial:
		if err := needsIndex(); err != nil {
			return Event{}, false, err
		}
		if env.PartialImageB64 == "" {
			return Event{}, false, protocolError("partial image without data")
		}
		ev = ImagePartial(turn, d.imagePrefix+env.PartialImageB64, int(env.PartialImageIndex))

	case envImageCompleted:
		if err := needsIndex(); err != nil {
			return Event{}, false, err
		}
		ev = ImageDone(turn)

	case envFunctionArgsDone:
		if err := needsIndex(); err != nil {
			return Event{}, false, err
		}
		ev = ToolCallDone(turn, env.ItemID, json.RawMessage(env.Arguments))
		ev.ToolName = d.toolName(env.ItemID)

	case envOutputItemAdded:
		if env.Item.Type == "function_call" && env.Item.ID != "" {
			d.mu.Lock()
			d.toolNames[env.Item.ID] = env.Item.Name
			d.mu.Unlock()
		}
		return Event{}, false, nil

	case envOutputItemDone:
		if err := needsIndex(); err != nil {
			return Event{}, false, err
		}
		switch env.Item.Type {
		case "image_generation_call":
			if env.Item.Result == "" {
				return Event{}, false, nil
			}
			ev = ImageDone(turn)
			ev.Image = d.imagePrefix + env.Item.Result
			ev.ItemID = env.Item.ID
			return ev, true, nil
		case "function_call":
			ev = ToolCallDone(turn, env.Item.ID, json.RawMessage(env.Item.Arguments))
			ev.ToolName = env.Item.Name
			d.forgetTool(env.Item.ID)
			return ev, true, nil
		default:
			return Event{}, false, nil
		}

	case envCompleted:
		ev = StreamComplete()

	case envFailed:
		msg := env.Response.Error.Message
		if msg == "" {
			msg = "response failed"
		}
		ev = StreamError(string(env.Response.Error.Code), msg)

	case envIncomplete:
		ev = StreamError("incomplete", env.Response.IncompleteDetails.Reason)

	case envError:
		ev = StreamError(env.Code, env.Message)

	default:
		return Event{}, false, nil
	}

	ev.ItemID = env.ItemID
	return ev, true, nil
}

func (d *EnvelopeDecoder) toolName(itemID string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.toolNames[itemID]
}

func (d *EnvelopeDecoder) forgetTool(itemID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.toolNames, itemID)
}
