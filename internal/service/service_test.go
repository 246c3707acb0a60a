package service_test

import (
	"context"
	"errors"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"cyodesign.app/atelier/internal/dispatch"
	"cyodesign.app/atelier/internal/model"
	"cyodesign.app/atelier/internal/service"
	"cyodesign.app/atelier/internal/storage"
	"cyodesign.app/atelier/internal/store"
)

func validLead() model.Lead {
	return model.Lead{
		ConversationID: "conv-1",
		LeadRequest: model.LeadRequest{
			Subject:       "Solitaire ring",
			FirstName:     "Ada",
			LastName:      "Lovelace",
			Email:         "ada@example.com",
			Phone:         "+44 20 7946 0000",
			City:          "London",
			Country:       "United Kingdom",
			Specification: "18k yellow gold band, 1ct round brilliant.",
		},
		ImageURLs: []string{"https://cdn.example.com/conv-1/a.jpg"},
	}
}

var _ = Describe("LeadService", func() {
	var (
		ctx      context.Context
		leads    *mockLeadStore
		tx       *mockTxRunner
		producer *mockProducer
		svc      service.LeadService
	)

	BeforeEach(func() {
		ctx = context.Background()
		leads = &mockLeadStore{}
		tx = &mockTxRunner{leads: leads}
		producer = &mockProducer{}
		svc = service.NewLeadService(tx, producer)
	})

	It("stores the lead and enqueues a notification", func() {
		lead, err := svc.Submit(ctx, validLead())
		Expect(err).NotTo(HaveOccurred())

		Expect(lead.ID).To(BeNumerically(">", 0))
		Expect(lead.CreatedAt).NotTo(BeZero())
		Expect(leads.created).To(HaveLen(1))
		Expect(producer.sent).To(HaveLen(1))
		Expect(producer.sent[0].LeadID).To(Equal(lead.ID))
		Expect(producer.sent[0].ConversationID).To(Equal("conv-1"))
		Expect(producer.sent[0].TraceID).To(BeNil())
	})

	It("rejects an invalid email", func() {
		lead := validLead()
		lead.Email = "not-an-email"

		_, err := svc.Submit(ctx, lead)

		var verr *service.ValidationError
		Expect(errors.As(err, &verr)).To(BeTrue())
		Expect(leads.created).To(BeEmpty())
		Expect(producer.sent).To(BeEmpty())
	})

	It("requires a conversation id", func() {
		lead := validLead()
		lead.ConversationID = ""

		_, err := svc.Submit(ctx, lead)

		var verr *service.ValidationError
		Expect(errors.As(err, &verr)).To(BeTrue())
	})

	It("does not enqueue when the transaction fails", func() {
		tx.err = errBoom

		_, err := svc.Submit(ctx, validLead())

		Expect(err).To(MatchError(errBoom))
		Expect(producer.sent).To(BeEmpty())
	})

	It("reports enqueue failures", func() {
		producer.err = errBoom

		_, err := svc.Submit(ctx, validLead())

		Expect(err).To(MatchError(errBoom))
		Expect(leads.created).To(HaveLen(1))
	})
})

var _ = Describe("ChatService", func() {
	var (
		ctx       context.Context
		responder *mockResponder
		svc       service.ChatService
		req       service.ChatRequest
	)

	BeforeEach(func() {
		ctx = context.Background()
		responder = &mockResponder{stream: &fakeStream{events: [][]byte{
			[]byte(`{"type":"response.created"}`),
			[]byte(`{"type":"response.output_text.delta","delta":"Hi"}`),
		}}}
		var err error
		svc, err = service.NewChatService(responder)
		Expect(err).NotTo(HaveOccurred())
		req = service.ChatRequest{
			ConversationID: "conv 1",
			Locale:         "de",
			Transcript:     []model.Turn{model.NewUserTurn(model.TextPart("A ring please"))},
		}
	})

	It("replays the primed first event", func() {
		stream, err := svc.Stream(ctx, req)
		Expect(err).NotTo(HaveOccurred())

		var raws []string
		for stream.Next() {
			raws = append(raws, string(stream.Raw()))
		}
		Expect(raws).To(Equal([]string{
			`{"type":"response.created"}`,
			`{"type":"response.output_text.delta","delta":"Hi"}`,
		}))
	})

	It("passes the localized instructions and the lead tool", func() {
		_, err := svc.Stream(ctx, req)
		Expect(err).NotTo(HaveOccurred())

		Expect(responder.request.Instructions).To(ContainSubstring("German"))
		Expect(responder.request.SafetyIdentifier).To(Equal("conv_1"))
		Expect(responder.request.Tools).To(HaveLen(1))
		Expect(responder.request.Tools[0].Name).To(Equal(dispatch.LeadToolName))
	})

	It("rejects a transcript without a user turn", func() {
		req.Transcript = nil

		_, err := svc.Stream(ctx, req)

		Expect(err).To(MatchError(service.ErrEmptyTranscript))
	})

	It("returns an upstream error when nothing was produced", func() {
		responder.stream = &fakeStream{err: errBoom}

		_, err := svc.Stream(ctx, req)

		var upstream *service.UpstreamError
		Expect(errors.As(err, &upstream)).To(BeTrue())
		Expect(upstream.StatusCode).To(BeZero())
		Expect(responder.stream.closed).To(BeTrue())
	})
})

var _ = Describe("ChatStoreService", func() {
	It("saves and loads chats", func() {
		ctx := context.Background()
		svc := service.NewChatStoreService(&mockChatStore{})

		saved, err := svc.Save(ctx, model.Chat{ID: "conv-1", Locale: "en"})
		Expect(err).NotTo(HaveOccurred())
		Expect(saved.UpdatedAt).NotTo(BeZero())

		got, err := svc.Get(ctx, "conv-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Locale).To(Equal("en"))

		_, err = svc.Get(ctx, "missing")
		Expect(err).To(MatchError(store.ErrNotFound))
	})

	It("requires an id", func() {
		_, err := service.NewChatStoreService(&mockChatStore{}).Save(context.Background(), model.Chat{})
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("UploadService", func() {
	It("delegates to the signer", func() {
		signer := &mockSigner{signFn: func(ctx context.Context, owner, key, contentType string) (storage.SignedURL, error) {
			return storage.SignedURL{SignedURL: "https://s/" + owner + "/" + key, PublicURL: "https://p/" + key}, nil
		}}

		url, err := service.NewUploadService(signer).SignedURL(context.Background(), "conv-1", "a.jpg", "image/jpeg")

		Expect(err).NotTo(HaveOccurred())
		Expect(url.SignedURL).To(Equal("https://s/conv-1/a.jpg"))
	})
})

var _ = Describe("RateLimiter", func() {
	var (
		mr      *miniredis.Miniredis
		limiter service.RateLimiter
		ctx     context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		mr = miniredis.RunT(GinkgoT())
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		DeferCleanup(client.Close)
		limiter = service.NewRedisRateLimiter(client, 2, time.Minute)
	})

	It("allows requests up to the limit", func() {
		_, err := limiter.Allow(ctx, "1.2.3.4")
		Expect(err).NotTo(HaveOccurred())
		_, err = limiter.Allow(ctx, "1.2.3.4")
		Expect(err).NotTo(HaveOccurred())

		retry, err := limiter.Allow(ctx, "1.2.3.4")
		Expect(err).To(MatchError(service.ErrRateLimited))
		Expect(retry).To(BeNumerically(">", 0))
		Expect(retry).To(BeNumerically("<=", time.Minute))
	})

	It("counts keys separately", func() {
		for i := 0; i < 2; i++ {
			_, err := limiter.Allow(ctx, "a")
			Expect(err).NotTo(HaveOccurred())
		}
		_, err := limiter.Allow(ctx, "b")
		Expect(err).NotTo(HaveOccurred())
	})

	It("resets after the window", func() {
		for i := 0; i < 2; i++ {
			_, _ = limiter.Allow(ctx, "a")
		}
		mr.FastForward(time.Minute + time.Second)

		_, err := limiter.Allow(ctx, "a")
		Expect(err).NotTo(HaveOccurred())
	})
})
