package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"

	"cyodesign.app/atelier/internal/model"
)

var nameInvalidChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// Config holds the generation backend configuration.
type Config struct {
	APIKey  string // Required: API key for the provider
	BaseURL string // Optional: custom API endpoint
	Model   string

	// Image tool settings.
	ImagePartials    int64
	ImageFormat      string // "jpeg", "png" or "webp"
	ImageCompression int64
}

// Tool is a function the model may call.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// StreamRequest is one turn of generation.
type StreamRequest struct {
	Instructions string
	Transcript   []model.Turn
	Tools        []Tool
	// SafetyIdentifier groups requests of one end user, see SanitizeName.
	SafetyIdentifier string
}

// EventStream yields raw backend event payloads.
type EventStream interface {
	Next() bool
	// Raw is the JSON of the current event.
	Raw() []byte
	Err() error
	Close() error
}

// Responder opens streaming generations.
type Responder interface {
	Stream(ctx context.Context, req StreamRequest) EventStream
	Model() string
}

// ToolFor builds a function tool whose parameters are the JSON schema of T.
func ToolFor[T any](name, description string) (Tool, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	raw, err := json.Marshal(reflector.Reflect(v))
	if err != nil {
		return Tool{}, fmt.Errorf("encoding schema for %s: %w", name, err)
	}

	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil {
		return Tool{}, fmt.Errorf("decoding schema for %s: %w", name, err)
	}
	delete(params, "$schema")
	delete(params, "$id")

	return Tool{Name: name, Description: description, Parameters: params}, nil
}

// StatusCode returns the HTTP status of a backend API error, or 0.
func StatusCode(err error) int {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// SanitizeName converts an identifier to the charset OpenAI accepts for
// end-user identifiers: ^[a-zA-Z0-9_-]{1,64}$.
// Invalid characters are replaced with underscores, and the result is truncated to 64 characters.
func SanitizeName(id string) string {
	sanitized := nameInvalidChars.ReplaceAllString(id, "_")
	if len(sanitized) > 64 {
		sanitized = sanitized[:64]
	}
	return sanitized
}
