package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/responses"

	"cyodesign.app/atelier/internal/model"
)

type openaiResponder struct {
	client openai.Client
	cfg    Config
}

// New creates a Responder backed by the OpenAI Responses API.
func New(cfg Config) (Responder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	if cfg.Model == "" {
		cfg.Model = "gpt-4.1"
	}
	if cfg.ImageFormat == "" {
		cfg.ImageFormat = "jpeg"
	}

	return &openaiResponder{
		client: openai.NewClient(opts...),
		cfg:    cfg,
	}, nil
}

func (r *openaiResponder) Model() string {
	return r.cfg.Model
}

func (r *openaiResponder) Stream(ctx context.Context, req StreamRequest) EventStream {
	params := responses.ResponseNewParams{
		Model: r.cfg.Model,
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: TranscriptInput(req.Transcript),
		},
		Tools: r.tools(req.Tools),
	}
	if req.Instructions != "" {
		params.Instructions = openai.String(req.Instructions)
	}
	if req.SafetyIdentifier != "" {
		params.SafetyIdentifier = openai.String(req.SafetyIdentifier)
	}

	slog.DebugContext(ctx, "opening response stream",
		"model", r.cfg.Model,
		"turns", len(req.Transcript),
		"tools", len(params.Tools))

	return &openaiStream{stream: r.client.Responses.NewStreaming(ctx, params)}
}

func (r *openaiResponder) tools(tools []Tool) []responses.ToolUnionParam {
	imageTool := &responses.ToolImageGenerationParam{
		OutputFormat: r.cfg.ImageFormat,
	}
	if r.cfg.ImagePartials > 0 {
		imageTool.PartialImages = openai.Int(r.cfg.ImagePartials)
	}
	if r.cfg.ImageCompression > 0 && r.cfg.ImageFormat != "png" {
		imageTool.OutputCompression = openai.Int(r.cfg.ImageCompression)
	}

	result := []responses.ToolUnionParam{{OfImageGeneration: imageTool}}
	for _, t := range tools {
		fn := &responses.FunctionToolParam{
			Name:       t.Name,
			Parameters: t.Parameters,
			Strict:     openai.Bool(false),
		}
		if t.Description != "" {
			fn.Description = openai.String(t.Description)
		}
		result = append(result, responses.ToolUnionParam{OfFunction: fn})
	}
	return result
}

// TranscriptInput converts a transcript into Responses input items.
// Generated images are replayed as image_generation_call items while they are
// still inline; once externalized the model only sees their URL.
func TranscriptInput(turns []model.Turn) responses.ResponseInputParam {
	items := make(responses.ResponseInputParam, 0, len(turns))

	for _, t := range turns {
		switch t.Kind {
		case model.TurnKindUser:
			content := make(responses.ResponseInputMessageContentListParam, 0, len(t.Content))
			for _, p := range t.Content {
				switch p.Type {
				case model.PartTypeText:
					if p.Text == "" {
						continue
					}
					content = append(content, responses.ResponseInputContentUnionParam{
						OfInputText: &responses.ResponseInputTextParam{Text: p.Text},
					})
				case model.PartTypeImage:
					content = append(content, responses.ResponseInputContentUnionParam{
						OfInputImage: &responses.ResponseInputImageParam{
							Detail:   responses.ResponseInputImageDetailAuto,
							ImageURL: openai.String(p.ImageURL),
						},
					})
				}
			}
			if len(content) == 0 {
				continue
			}
			items = append(items, responses.ResponseInputItemUnionParam{
				OfMessage: &responses.EasyInputMessageParam{
					Role:    responses.EasyInputMessageRoleUser,
					Content: responses.EasyInputMessageContentUnionParam{OfInputItemContentList: content},
				},
			})

		case model.TurnKindAssistantText:
			text := t.Text()
			if text == "" {
				continue
			}
			items = append(items, assistantText(text))

		case model.TurnKindAssistantImage:
			if t.Result == "" || t.Status == model.TurnStatusFailed {
				continue
			}
			if b64, ok := inlinePayload(t.Result); ok && t.ID != "" {
				items = append(items, responses.ResponseInputItemUnionParam{
					OfImageGenerationCall: &responses.ResponseInputItemImageGenerationCallParam{
						ID:     t.ID,
						Result: openai.String(b64),
						Status: "completed",
					},
				})
				continue
			}
			items = append(items, assistantText("[generated design image: "+t.Result+"]"))
		}
	}
	return items
}

func assistantText(text string) responses.ResponseInputItemUnionParam {
	return responses.ResponseInputItemUnionParam{
		OfMessage: &responses.EasyInputMessageParam{
			Role:    responses.EasyInputMessageRoleAssistant,
			Content: responses.EasyInputMessageContentUnionParam{OfString: openai.String(text)},
		},
	}
}

func inlinePayload(ref string) (string, bool) {
	if !model.IsInlineImage(ref) {
		return "", false
	}
	_, payload, ok := strings.Cut(ref, ";base64,")
	return payload, ok
}

type openaiStream struct {
	stream *ssestream.Stream[responses.ResponseStreamEventUnion]
}

func (s *openaiStream) Next() bool   { return s.stream.Next() }
func (s *openaiStream) Raw() []byte  { return []byte(s.stream.Current().RawJSON()) }
func (s *openaiStream) Err() error   { return s.stream.Err() }
func (s *openaiStream) Close() error { return s.stream.Close() }
