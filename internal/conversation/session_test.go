package conversation_test

import (
	"context"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"cyodesign.app/atelier/internal/conversation"
	"cyodesign.app/atelier/internal/model"
	"cyodesign.app/atelier/internal/stream"
)

const completed = `{"type":"response.completed","response":{"id":"resp_1"}}`

func textReply(text string) []string {
	return []string{
		`{"type":"response.output_text.delta","item_id":"msg_1","output_index":0,"content_index":0,"delta":"` + text + `"}`,
		`{"type":"response.output_text.done","item_id":"msg_1","output_index":0,"content_index":0,"text":"` + text + `"}`,
		completed,
		stream.DoneSentinel,
	}
}

func imageReply() []string {
	return []string{
		`{"type":"response.image_generation_call.partial_image","item_id":"ig_1","output_index":0,"partial_image_b64":"YjE=","partial_image_index":0}`,
		`{"type":"response.image_generation_call.completed","item_id":"ig_1","output_index":0}`,
		completed,
		stream.DoneSentinel,
	}
}

var _ = Describe("Session", func() {
	var (
		ctx       context.Context
		backend   *mockBackend
		transport *scriptedTransport
		cfg       conversation.Config
	)

	BeforeEach(func() {
		ctx = context.Background()
		backend = newMockBackend()
		transport = &scriptedTransport{}
		cfg = conversation.Config{Locale: "en", Stream: stream.DefaultConfig(), UploadWorkers: 2}
	})

	It("persists the transcript after a response", func() {
		transport.scripts = [][]string{textReply("Hello")}
		s := conversation.New(backend, transport, cfg)

		Expect(s.Submit(ctx, stream.Input{Text: "hi"})).To(Succeed())
		Expect(s.Close(ctx)).To(Succeed())

		chat := backend.Chat(s.ID())
		Expect(chat.Locale).To(Equal("en"))
		Expect(chat.Turns).To(HaveLen(2))
		Expect(chat.Turns[1].Content[0].Text).To(Equal("Hello"))
		Expect(transport.requests[0].ConversationID).To(Equal(s.ID()))
	})

	It("replaces generated inline images with uploaded URLs", func() {
		transport.scripts = [][]string{imageReply()}
		s := conversation.New(backend, transport, cfg)

		Expect(s.Submit(ctx, stream.Input{Text: "a ring"})).To(Succeed())
		Expect(s.Close(ctx)).To(Succeed())

		Expect(backend.Objects()).To(Equal(1))
		turns := backend.Chat(s.ID()).Turns
		Expect(turns[1].Kind).To(Equal(model.TurnKindAssistantImage))
		Expect(turns[1].Result).To(HavePrefix("https://cdn.example.com/" + s.ID() + "/"))
	})

	It("does not persist rejected input", func() {
		s := conversation.New(backend, transport, cfg)

		Expect(s.Submit(ctx, stream.Input{Text: "   "})).To(MatchError(stream.ErrEmptyInput))
		Expect(s.Close(ctx)).To(Succeed())
		Expect(backend.saves).To(BeZero())
	})

	It("resumes a stored conversation with its locale", func() {
		backend.chats["conv-7"] = model.Chat{
			ID:     "conv-7",
			Locale: "it",
			Turns:  []model.Turn{model.NewUserTurn(model.TextPart("ciao"))},
		}
		transport.scripts = [][]string{textReply("Buongiorno")}

		s, err := conversation.Resume(ctx, backend, transport, cfg, "conv-7")
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Locale()).To(Equal("it"))
		Expect(s.Store().Len()).To(Equal(1))

		Expect(s.Submit(ctx, stream.Input{Text: "un anello"})).To(Succeed())
		Expect(s.Close(ctx)).To(Succeed())

		Expect(transport.requests[0].Locale).To(Equal("it"))
		Expect(backend.Chat("conv-7").Turns).To(HaveLen(3))
	})

	It("fails to resume unknown conversations", func() {
		_, err := conversation.Resume(ctx, backend, transport, cfg, "missing")
		Expect(err).To(HaveOccurred())
		Expect(strings.Contains(err.Error(), "missing")).To(BeTrue())
	})
})
