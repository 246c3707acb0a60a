package uploader

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"cyodesign.app/atelier/common/logger"
	"cyodesign.app/atelier/internal/model"
	"cyodesign.app/atelier/internal/transcript"
)

var ErrUnsupportedImage = errors.New("unsupported inline image")

var extensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
}

// Storage persists an object and returns the URL it is publicly served from.
type Storage interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// InlineImage is a decoded data URL.
type InlineImage struct {
	ContentType string
	Data        []byte
}

// ParseDataURL decodes a base64 data URL of a supported image type.
func ParseDataURL(ref string) (InlineImage, error) {
	rest, ok := strings.CutPrefix(ref, "data:")
	if !ok {
		return InlineImage{}, fmt.Errorf("%w: not a data URL", ErrUnsupportedImage)
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return InlineImage{}, fmt.Errorf("%w: missing payload", ErrUnsupportedImage)
	}
	contentType, encoding, _ := strings.Cut(meta, ";")
	if encoding != "base64" {
		return InlineImage{}, fmt.Errorf("%w: encoding %q", ErrUnsupportedImage, encoding)
	}
	if _, ok := extensions[contentType]; !ok {
		return InlineImage{}, fmt.Errorf("%w: type %q", ErrUnsupportedImage, contentType)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return InlineImage{}, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	return InlineImage{ContentType: contentType, Data: data}, nil
}

// EncodeImage validates raw image bytes by sniffing their type and returns
// them as a data URL.
func EncodeImage(data []byte) (string, error) {
	contentType := http.DetectContentType(data)
	if _, ok := extensions[contentType]; !ok {
		return "", fmt.Errorf("%w: type %q", ErrUnsupportedImage, contentType)
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// Key is the content-addressed object key of img within a conversation.
func Key(conversationID string, img InlineImage) string {
	sum := blake3.Sum256(img.Data)
	return fmt.Sprintf("%s/%s.%s", conversationID, hex.EncodeToString(sum[:]), extensions[img.ContentType])
}

// Uploader moves inline images of a conversation to durable storage.
// The same image is uploaded at most once, even when requested concurrently.
type Uploader struct {
	storage        Storage
	conversationID string
	workers        int

	flight singleflight.Group
	mu     sync.Mutex
	done   map[string]string
}

func New(storage Storage, conversationID string, workers int) *Uploader {
	if workers < 1 {
		workers = 1
	}
	return &Uploader{
		storage:        storage,
		conversationID: conversationID,
		workers:        workers,
		done:           make(map[string]string),
	}
}

// Resolve returns the durable URL of an inline image, uploading it if needed.
func (u *Uploader) Resolve(ctx context.Context, ref string) (string, error) {
	img, err := ParseDataURL(ref)
	if err != nil {
		return "", err
	}
	key := Key(u.conversationID, img)

	u.mu.Lock()
	url, ok := u.done[key]
	u.mu.Unlock()
	if ok {
		return url, nil
	}

	v, err, _ := u.flight.Do(key, func() (any, error) {
		url, err := u.storage.Put(ctx, key, img.ContentType, img.Data)
		if err != nil {
			return "", fmt.Errorf("uploading %s: %w", key, err)
		}
		u.mu.Lock()
		u.done[key] = url
		u.mu.Unlock()
		return url, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

type target struct {
	pos  int
	part int // -1 addresses an image turn's result
}

// Sweep uploads every inline image in the settled turns of store and
// patches each reference in place, provided it still holds the same data.
// Failures are logged and leave the inline image untouched. It returns the
// number of references replaced.
func (u *Uploader) Sweep(ctx context.Context, store *transcript.Store) int {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ConversationID: logger.Ptr(u.conversationID),
		Component:      "atelier.uploader",
	})

	targets := make(map[string][]target)
	var order []string
	add := func(ref string, t target) {
		if _, ok := targets[ref]; !ok {
			order = append(order, ref)
		}
		targets[ref] = append(targets[ref], t)
	}

	for pos, t := range store.Snapshot().Turns {
		switch t.Kind {
		case model.TurnKindUser:
			for i, p := range t.Content {
				if p.Type == model.PartTypeImage && model.IsInlineImage(p.ImageURL) {
					add(p.ImageURL, target{pos: pos, part: i})
				}
			}
		case model.TurnKindAssistantImage:
			if t.Status.Terminal() && model.IsInlineImage(t.Result) {
				add(t.Result, target{pos: pos, part: -1})
			}
		}
	}
	if len(order) == 0 {
		return 0
	}

	var (
		g       errgroup.Group
		mu      sync.Mutex
		patched int
	)
	g.SetLimit(u.workers)

	for _, ref := range order {
		g.Go(func() error {
			url, err := u.Resolve(ctx, ref)
			if err != nil {
				slog.WarnContext(ctx, "keeping inline image", "error", err)
				return nil
			}
			for _, t := range targets[ref] {
				if patch(store, t, ref, url) {
					mu.Lock()
					patched++
					mu.Unlock()
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	if patched > 0 {
		slog.InfoContext(ctx, "externalized inline images", "images", len(order), "references", patched)
	}
	return patched
}

func patch(store *transcript.Store, t target, ref, url string) bool {
	return store.Mutate(t.pos, func(turn *model.Turn) bool {
		if t.part < 0 {
			if turn.Result != ref {
				return false
			}
			turn.Result = url
			return true
		}
		if t.part >= len(turn.Content) || turn.Content[t.part].ImageURL != ref {
			return false
		}
		turn.Content[t.part].ImageURL = url
		return true
	})
}
