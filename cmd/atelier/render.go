package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"cyodesign.app/atelier/internal/model"
	"cyodesign.app/atelier/internal/stream"
	"cyodesign.app/atelier/internal/transcript"
)

var (
	youStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("178"))
	imageStyle     = lipgloss.NewStyle().Faint(true).Italic(true)
	noticeStyle    = lipgloss.NewStyle().Faint(true)
	failureStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// renderer prints the turns of the current response as they grow. Text is
// append-only while streaming, so only the unseen suffix of each turn is
// written.
type renderer struct {
	out io.Writer

	mu      sync.Mutex
	from    int
	printed map[int]string
	images  map[int]string
	last    int // position of the turn printed last, -1 for none

	closeFn func()
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out, printed: map[int]string{}, images: map[int]string{}, last: -1}
}

func (r *renderer) prompt() string { return youStyle.Render("you") + " › " }

func (r *renderer) notice(s string) string { return noticeStyle.Render(s) }

func (r *renderer) failure(s string) string { return failureStyle.Render(s) }

// Begin starts a response whose turns follow position from.
func (r *renderer) Begin(from int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.from = from + 1
	r.printed = map[int]string{}
	r.images = map[int]string{}
	r.last = -1
}

// History prints a whole restored transcript.
func (r *renderer) History(snap transcript.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range snap.Turns {
		switch t.Kind {
		case model.TurnKindUser:
			fmt.Fprintf(r.out, "%s › %s\n", youStyle.Render("you"), userText(t))
		case model.TurnKindAssistantText:
			if text := t.Text(); text != "" {
				fmt.Fprintf(r.out, "%s › %s\n", assistantStyle.Render("atelier"), text)
			}
		case model.TurnKindAssistantImage:
			fmt.Fprintln(r.out, imageStyle.Render(imageLine(t)))
		}
	}
}

func (r *renderer) Render(snap transcript.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.render(snap)
}

// End flushes the final snapshot and reports how the response ended.
func (r *renderer) End(snap transcript.Snapshot, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.render(snap)
	if r.last >= 0 {
		fmt.Fprintln(r.out)
	}

	var serr *stream.Error
	switch {
	case err == nil:
	case errors.Is(err, stream.ErrCancelled):
		fmt.Fprintln(r.out, noticeStyle.Render("(cancelled)"))
	case errors.As(err, &serr) && serr.Kind == stream.KindRateLimited:
		fmt.Fprintln(r.out, failureStyle.Render("The studio is busy, please try again in a moment."))
	default:
		fmt.Fprintln(r.out, failureStyle.Render(err.Error()))
	}
}

func (r *renderer) Close() {
	if r.closeFn != nil {
		r.closeFn()
		r.closeFn = nil
	}
}

func (r *renderer) render(snap transcript.Snapshot) {
	for pos := r.from; pos < len(snap.Turns); pos++ {
		t := snap.Turns[pos]
		switch t.Kind {
		case model.TurnKindAssistantText:
			text := t.Text()
			seen := r.printed[pos]
			if text == seen {
				continue
			}
			if r.last != pos || !strings.HasPrefix(text, seen) {
				r.newline()
				fmt.Fprintf(r.out, "%s › ", assistantStyle.Render("atelier"))
				seen = ""
			}
			fmt.Fprint(r.out, text[len(seen):])
			r.printed[pos] = text
			r.last = pos

		case model.TurnKindAssistantImage:
			line := imageLine(t)
			if r.images[pos] == line {
				continue
			}
			r.newline()
			fmt.Fprint(r.out, imageStyle.Render(line))
			r.images[pos] = line
			r.last = pos
		}
	}
}

func (r *renderer) newline() {
	if r.last >= 0 {
		fmt.Fprintln(r.out)
	}
}

func userText(t model.Turn) string {
	var parts []string
	for _, p := range t.Content {
		switch p.Type {
		case model.PartTypeText:
			parts = append(parts, p.Text)
		case model.PartTypeImage:
			parts = append(parts, "[image]")
		}
	}
	return strings.Join(parts, " ")
}

func imageLine(t model.Turn) string {
	switch t.Status {
	case model.TurnStatusQueued:
		return "[sketching a design…]"
	case model.TurnStatusRefining:
		return "[refining the design…]"
	case model.TurnStatusFailed:
		return "[the design could not be generated]"
	}
	if t.Result == "" || model.IsInlineImage(t.Result) {
		return "[design ready]"
	}
	return "[design ready: " + t.Result + "]"
}
