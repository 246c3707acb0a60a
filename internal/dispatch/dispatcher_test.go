package dispatch_test

import (
	"context"
	"encoding/json"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"cyodesign.app/atelier/internal/dispatch"
	"cyodesign.app/atelier/internal/model"
	"cyodesign.app/atelier/internal/stream"
	"cyodesign.app/atelier/internal/transcript"
)

var validArgs = json.RawMessage(`{
	"subject": "Gold ring with sapphire",
	"first_name": "Ada",
	"last_name": "Lovelace",
	"email": "ada@example.com",
	"phone": "+44 20 7946 0958",
	"city": "London",
	"country": "UK",
	"specification": "18k yellow gold band, 2mm, oval sapphire 1ct"
}`)

var _ = Describe("Dispatcher", func() {
	var (
		ctx        context.Context
		store      *transcript.Store
		notifier   *mockNotifier
		dispatcher *dispatch.Dispatcher
		call       stream.ToolCall
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = transcript.NewStore()
		store.Append(model.NewUserTurn(model.TextPart("a gold ring"), model.ImagePart("https://cdn.example.com/ref.jpg")))
		img := model.NewImageTurn("ig_1")
		img.Result = "https://cdn.example.com/design.jpg"
		img.Status = model.TurnStatusComplete
		store.Append(img)
		pos := store.Append(model.NewPendingTextTurn("fc_1"))

		notifier = &mockNotifier{}
		dispatcher = dispatch.New(store, notifier, nil, "conv-1")
		call = stream.ToolCall{InvocationID: "fc_1", Name: dispatch.LeadToolName, Arguments: validArgs, Position: pos}
	})

	It("submits the lead once and acknowledges it", func() {
		dispatcher.Dispatch(ctx, call)
		dispatcher.Dispatch(ctx, call)
		dispatcher.Wait()

		leads := notifier.Leads()
		Expect(leads).To(HaveLen(1))
		Expect(leads[0].ConversationID).To(Equal("conv-1"))
		Expect(leads[0].Email).To(Equal("ada@example.com"))
		Expect(leads[0].ImageURLs).To(Equal([]string{
			"https://cdn.example.com/ref.jpg",
			"https://cdn.example.com/design.jpg",
		}))

		ack := store.Snapshot().Turns[2]
		Expect(ack.Status).To(Equal(model.TurnStatusComplete))
		Expect(ack.Text()).To(Equal(dispatch.Acknowledgement))
	})

	It("runs detached from a cancelled stream context", func() {
		cctx, cancel := context.WithCancel(ctx)
		notifier.submitFn = func(ctx context.Context, _ model.Lead) (int64, error) {
			return 7, ctx.Err()
		}

		dispatcher.Dispatch(cctx, call)
		cancel()
		dispatcher.Wait()

		Expect(store.Snapshot().Turns[2].Text()).To(Equal(dispatch.Acknowledgement))
	})

	It("skips payloads that fail validation", func() {
		call.Arguments = json.RawMessage(`{"subject":"x","email":"not-an-email"}`)

		dispatcher.Dispatch(ctx, call)
		dispatcher.Wait()

		Expect(notifier.Leads()).To(BeEmpty())
		ack := store.Snapshot().Turns[2]
		Expect(ack.Status).To(Equal(model.TurnStatusComplete))
		Expect(ack.Content).To(BeEmpty())
	})

	It("skips unknown tools", func() {
		call.Name = "delete_everything"

		_, err := dispatcher.Decode(call)
		Expect(err).To(MatchError(dispatch.ErrInvalidPayload))
	})

	It("leaves the acknowledgement out when the notification fails", func() {
		notifier.submitFn = func(context.Context, model.Lead) (int64, error) {
			return 0, errors.New("smtp down")
		}

		dispatcher.Dispatch(ctx, call)
		dispatcher.Wait()

		ack := store.Snapshot().Turns[2]
		Expect(ack.Status).To(Equal(model.TurnStatusComplete))
		Expect(ack.Text()).To(BeEmpty())
	})

	It("tolerates a missing reservation", func() {
		call.Position = 42

		dispatcher.Dispatch(ctx, call)
		dispatcher.Wait()

		Expect(notifier.Leads()).To(HaveLen(1))
		Expect(store.Len()).To(Equal(3))
	})

	It("resolves inline images through the resolver", func() {
		store.Mutate(1, func(t *model.Turn) bool {
			t.Result = "data:image/jpeg;base64,AAAA"
			return true
		})
		dispatcher = dispatch.New(store, notifier, &mockResolver{
			resolveFn: func(_ context.Context, ref string) (string, error) {
				if ref != "data:image/jpeg;base64,AAAA" {
					return "", errors.New("unexpected ref")
				}
				return "https://cdn.example.com/conv-1/abc.jpg", nil
			},
		}, "conv-1")

		dispatcher.Dispatch(ctx, call)
		dispatcher.Wait()

		Expect(notifier.Leads()[0].ImageURLs).To(ContainElement("https://cdn.example.com/conv-1/abc.jpg"))
	})
})
