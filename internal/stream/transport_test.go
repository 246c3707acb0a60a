package stream_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"cyodesign.app/atelier/internal/model"
	"cyodesign.app/atelier/internal/stream"
	"cyodesign.app/atelier/internal/transcript"
)

var _ = Describe("HTTPTransport", func() {
	var (
		server  *httptest.Server
		handler http.HandlerFunc
		got     stream.Request
	)

	BeforeEach(func() {
		got = stream.Request{}
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handler(w, r)
		}))
		DeferCleanup(server.Close)
	})

	sse := func(frames ...string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			Expect(r.URL.Path).To(Equal(stream.ChatPath))
			Expect(json.NewDecoder(r.Body).Decode(&got)).To(Succeed())

			w.Header().Set("Content-Type", "text/event-stream")
			for _, f := range frames {
				fmt.Fprintf(w, "data: %s\n\n", f)
			}
			w.(http.Flusher).Flush()
		}
	}

	It("streams a response end to end", func() {
		handler = sse(textDelta(0, "Hel"), textDelta(0, "lo"), textDone(0, "Hello"), completed, stream.DoneSentinel)

		store := transcript.NewStore()
		c := stream.NewController(store, stream.NewHTTPTransport(server.URL, nil), nil, stream.DefaultConfig(), "conv-7", "de")

		Expect(c.Submit(context.Background(), stream.Input{Text: "ring"})).To(Succeed())
		Expect(got.ConversationID).To(Equal("conv-7"))
		Expect(got.Locale).To(Equal("de"))
		Expect(got.Transcript).To(HaveLen(1))
		Expect(got.Transcript[0].Kind).To(Equal(model.TurnKindUser))

		turns := store.Snapshot().Turns
		Expect(turns).To(HaveLen(2))
		Expect(turns[1].Content[0].Text).To(Equal("Hello"))
	})

	It("classifies 429 as rate limited", func() {
		handler = func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
		}

		_, err := stream.NewHTTPTransport(server.URL, nil).Open(context.Background(), stream.Request{})
		Expect(err).To(MatchError(stream.ErrRateLimited))
		Expect(err.(*stream.Error).Code).To(Equal("429"))
		Expect(err.(*stream.Error).Message).To(Equal("rate limit exceeded"))
	})

	It("classifies other failures as transport errors", func() {
		handler = func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}

		_, err := stream.NewHTTPTransport(server.URL, nil).Open(context.Background(), stream.Request{})
		Expect(err).To(MatchError(stream.ErrTransport))
		Expect(err.(*stream.Error).Code).To(Equal("502"))
	})
})
