package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/openai/openai-go/packages/ssestream"
)

// ChatPath is the server endpoint that proxies the generation stream.
const ChatPath = "/api/chat"

// HTTPTransport opens streams against the chat endpoint of the server.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
}

// NewHTTPTransport builds a transport. The client must not set an overall
// timeout; the controller guards the gap between events instead.
func NewHTTPTransport(baseURL string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTransport{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (t *HTTPTransport) Open(ctx context.Context, req Request) (Source, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Message: "encoding request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+ChatPath, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindTransport, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		kind := KindTransport
		if resp.StatusCode == http.StatusTooManyRequests {
			kind = KindRateLimited
		}
		return nil, &Error{
			Kind:    kind,
			Code:    strconv.Itoa(resp.StatusCode),
			Message: errorMessage(resp),
		}
	}

	dec := ssestream.NewDecoder(resp)
	if dec == nil {
		resp.Body.Close()
		return nil, &Error{Kind: KindTransport, Message: "response has no body"}
	}
	return &sseSource{dec: dec}, nil
}

// errorMessage extracts {"error": "..."} bodies, falling back to the status text.
func errorMessage(resp *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return body.Error
	}
	if text := strings.TrimSpace(string(raw)); text != "" && len(text) < 200 {
		return text
	}
	return fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
}

type sseSource struct {
	dec ssestream.Decoder
}

func (s *sseSource) Next() bool   { return s.dec.Next() }
func (s *sseSource) Data() []byte { return s.dec.Event().Data }
func (s *sseSource) Err() error   { return s.dec.Err() }
func (s *sseSource) Close() error { return s.dec.Close() }
