// Package client talks to the atelier server on behalf of the terminal
// session: lead submission, signed uploads and transcript persistence.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cyodesign.app/atelier/internal/dispatch"
	"cyodesign.app/atelier/internal/model"
	"cyodesign.app/atelier/internal/uploader"
)

var ErrNotFound = errors.New("not found")

// StatusError is a non-2xx server response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	baseURL string
	http    *http.Client
}

var (
	_ dispatch.Notifier = (*Client)(nil)
	_ uploader.Storage  = (*Client)(nil)
)

func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// SubmitLead posts the lead and returns the id the server assigned.
func (c *Client) SubmitLead(ctx context.Context, lead model.Lead) (int64, error) {
	body := struct {
		ConversationID string `json:"conversation_id"`
		model.LeadRequest
		ImageURLs []string `json:"image_urls"`
	}{lead.ConversationID, lead.LeadRequest, lead.ImageURLs}

	var resp struct {
		ID int64 `json:"id,string"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/leads", body, &resp); err != nil {
		return 0, fmt.Errorf("submitting lead: %w", err)
	}
	return resp.ID, nil
}

// Put uploads data through a presigned URL and returns its public URL.
// The first path element of key is the owner the URL is signed for.
func (c *Client) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	owner, name, ok := strings.Cut(key, "/")
	if !ok {
		return "", fmt.Errorf("object key %q has no owner", key)
	}

	var signed struct {
		SignedURL string `json:"signed_url"`
		PublicURL string `json:"public_url"`
	}
	req := map[string]string{"user_id": owner, "key": name, "content_type": contentType}
	if err := c.do(ctx, http.MethodPost, "/api/create-signed-url", req, &signed); err != nil {
		return "", fmt.Errorf("signing %s: %w", key, err)
	}

	put, err := http.NewRequestWithContext(ctx, http.MethodPut, signed.SignedURL, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	put.Header.Set("Content-Type", contentType)
	put.ContentLength = int64(len(data))

	resp, err := c.http.Do(put)
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", key, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("uploading %s: %w", key, statusError(resp))
	}
	return signed.PublicURL, nil
}

func (c *Client) LoadChat(ctx context.Context, id string) (model.Chat, error) {
	var chat model.Chat
	if err := c.do(ctx, http.MethodGet, "/api/chats/"+url.PathEscape(id), nil, &chat); err != nil {
		return model.Chat{}, err
	}
	return chat, nil
}

func (c *Client) SaveChat(ctx context.Context, chat model.Chat) error {
	body := struct {
		Locale     string       `json:"locale"`
		Transcript []model.Turn `json:"transcript"`
	}{chat.Locale, chat.Turns}
	if body.Transcript == nil {
		body.Transcript = []model.Turn{}
	}
	return c.do(ctx, http.MethodPut, "/api/chats/"+url.PathEscape(chat.ID), body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &StatusError{StatusCode: resp.StatusCode, Message: msg}
}
