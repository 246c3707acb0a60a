package notify

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"cyodesign.app/atelier/core/config"
	"cyodesign.app/atelier/internal/model"
)

// Sender delivers composed messages. *mail.Client satisfies it.
type Sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// Mailer sends lead alerts to the studio team.
type Mailer struct {
	sender     Sender
	from       string
	recipients []string
	md         goldmark.Markdown
}

// NewSMTPClient builds the go-mail client for cfg.
func NewSMTPClient(cfg config.EmailConfig) (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(30 * time.Second),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating smtp client: %w", err)
	}
	return client, nil
}

func NewMailer(sender Sender, from string, recipients []string) *Mailer {
	return &Mailer{
		sender:     sender,
		from:       from,
		recipients: recipients,
		md:         goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

// NotifyLead sends one alert per recipient in a single SMTP session.
func (m *Mailer) NotifyLead(ctx context.Context, lead model.Lead) error {
	if len(m.recipients) == 0 {
		return fmt.Errorf("no recipients configured")
	}

	plain, htmlBody, err := m.Render(lead)
	if err != nil {
		return err
	}

	msgs := make([]*mail.Msg, 0, len(m.recipients))
	for _, rcpt := range m.recipients {
		msg := mail.NewMsg()
		if err := msg.From(m.from); err != nil {
			return fmt.Errorf("invalid sender %q: %w", m.from, err)
		}
		if err := msg.To(rcpt); err != nil {
			return fmt.Errorf("invalid recipient %q: %w", rcpt, err)
		}
		msg.Subject(Subject(lead))
		msg.SetDate()
		msg.SetMessageID()
		msg.SetBodyString(mail.TypeTextPlain, plain)
		msg.AddAlternativeString(mail.TypeTextHTML, htmlBody)
		msgs = append(msgs, msg)
	}

	if err := m.sender.DialAndSendWithContext(ctx, msgs...); err != nil {
		return fmt.Errorf("sending lead %d: %w", lead.ID, err)
	}

	slog.InfoContext(ctx, "lead notification sent", "recipients", len(msgs))
	return nil
}

func Subject(lead model.Lead) string {
	return fmt.Sprintf("New design lead: %s (%s)", lead.Subject, lead.FullName())
}

// Render produces the plain text and HTML bodies. The specification is
// markdown and is rendered as such in the HTML part.
func (m *Mailer) Render(lead model.Lead) (string, string, error) {
	var spec bytes.Buffer
	if err := m.md.Convert([]byte(lead.Specification), &spec); err != nil {
		return "", "", fmt.Errorf("rendering specification: %w", err)
	}

	fields := [][2]string{
		{"Name", lead.FullName()},
		{"Email", lead.Email},
		{"Phone", lead.Phone},
		{"City", lead.City},
		{"Country", lead.Country},
		{"Conversation", lead.ConversationID},
	}

	var plain strings.Builder
	fmt.Fprintf(&plain, "%s\n\n", lead.Subject)
	for _, f := range fields {
		fmt.Fprintf(&plain, "%s: %s\n", f[0], f[1])
	}
	fmt.Fprintf(&plain, "\nSpecification:\n%s\n", lead.Specification)
	if len(lead.ImageURLs) > 0 {
		plain.WriteString("\nImages:\n")
		for _, u := range lead.ImageURLs {
			fmt.Fprintf(&plain, "- %s\n", u)
		}
	}

	var h strings.Builder
	fmt.Fprintf(&h, "<h2>%s</h2>\n<table>\n", html.EscapeString(lead.Subject))
	for _, f := range fields {
		fmt.Fprintf(&h, "<tr><th align=\"left\">%s</th><td>%s</td></tr>\n", f[0], html.EscapeString(f[1]))
	}
	h.WriteString("</table>\n<h3>Specification</h3>\n")
	h.Write(spec.Bytes())
	if len(lead.ImageURLs) > 0 {
		h.WriteString("<h3>Images</h3>\n")
		for _, u := range lead.ImageURLs {
			esc := html.EscapeString(u)
			fmt.Fprintf(&h, "<p><a href=\"%s\"><img src=\"%s\" width=\"320\"></a></p>\n", esc, esc)
		}
	}

	return plain.String(), h.String(), nil
}
