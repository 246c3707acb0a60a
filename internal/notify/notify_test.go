package notify_test

import (
	"context"
	"errors"

	"github.com/wneessen/go-mail"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"cyodesign.app/atelier/internal/model"
	"cyodesign.app/atelier/internal/notify"
)

var _ = Describe("Mailer", func() {
	var (
		ctx    context.Context
		sender *mockSender
		mailer *notify.Mailer
		lead   model.Lead
	)

	BeforeEach(func() {
		ctx = context.Background()
		sender = &mockSender{}
		mailer = notify.NewMailer(sender, "studio@example.com", []string{"a@example.com", "b@example.com"})
		lead = model.Lead{
			ID:             42,
			ConversationID: "conv-1",
			LeadRequest: model.LeadRequest{
				Subject:       "Gold ring",
				FirstName:     "Ada",
				LastName:      "Lovelace",
				Email:         "ada@example.com",
				Phone:         "+44 20 7946 0958",
				City:          "London",
				Country:       "UK",
				Specification: "- **18k** yellow gold\n- oval <sapphire>",
			},
			ImageURLs: []string{"https://cdn.example.com/conv-1/a.jpg"},
		}
	})

	It("sends one message per recipient", func() {
		Expect(mailer.NotifyLead(ctx, lead)).To(Succeed())

		Expect(sender.sent).To(HaveLen(2))
		Expect(sender.sent[0].GetToString()).To(Equal([]string{"<a@example.com>"}))
		Expect(sender.sent[1].GetToString()).To(Equal([]string{"<b@example.com>"}))
		Expect(sender.sent[0].GetGenHeader(mail.HeaderSubject)).To(ConsistOf("New design lead: Gold ring (Ada Lovelace)"))
	})

	It("wraps delivery failures", func() {
		sender.sendFn = func(ctx context.Context, messages ...*mail.Msg) error {
			return errors.New("connection refused")
		}
		err := mailer.NotifyLead(ctx, lead)
		Expect(err).To(MatchError(ContainSubstring("sending lead 42")))
		Expect(err).To(MatchError(ContainSubstring("connection refused")))
	})

	It("fails without recipients", func() {
		mailer = notify.NewMailer(sender, "studio@example.com", nil)
		Expect(mailer.NotifyLead(ctx, lead)).NotTo(Succeed())
		Expect(sender.sent).To(BeEmpty())
	})

	It("rejects an invalid recipient before sending", func() {
		mailer = notify.NewMailer(sender, "studio@example.com", []string{"not an address"})
		Expect(mailer.NotifyLead(ctx, lead)).NotTo(Succeed())
		Expect(sender.sent).To(BeEmpty())
	})

	Describe("Render", func() {
		It("renders the specification as markdown and escapes fields", func() {
			plain, html, err := mailer.Render(lead)
			Expect(err).NotTo(HaveOccurred())

			Expect(plain).To(ContainSubstring("Name: Ada Lovelace"))
			Expect(plain).To(ContainSubstring("- https://cdn.example.com/conv-1/a.jpg"))

			Expect(html).To(ContainSubstring("<strong>18k</strong>"))
			Expect(html).To(ContainSubstring("<li>"))
			Expect(html).NotTo(ContainSubstring("<sapphire>"))
			Expect(html).To(ContainSubstring(`<img src="https://cdn.example.com/conv-1/a.jpg"`))
		})
	})
})
