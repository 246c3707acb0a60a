package uploader_test

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"cyodesign.app/atelier/internal/model"
	"cyodesign.app/atelier/internal/transcript"
	"cyodesign.app/atelier/internal/uploader"
)

func dataURL(contentType, payload string) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString([]byte(payload))
}

var _ = Describe("ParseDataURL", func() {
	It("decodes supported images", func() {
		img, err := uploader.ParseDataURL(dataURL("image/png", "png-bytes"))
		Expect(err).NotTo(HaveOccurred())
		Expect(img.ContentType).To(Equal("image/png"))
		Expect(string(img.Data)).To(Equal("png-bytes"))
	})

	DescribeTable("rejects unsupported references",
		func(ref string) {
			_, err := uploader.ParseDataURL(ref)
			Expect(err).To(MatchError(uploader.ErrUnsupportedImage))
		},
		Entry("durable url", "https://cdn.example.com/a.jpg"),
		Entry("missing payload", "data:image/jpeg;base64"),
		Entry("not base64", "data:image/jpeg,raw"),
		Entry("gif", dataURL("image/gif", "gif")),
		Entry("bad encoding", "data:image/jpeg;base64,@@@"),
	)
})

var _ = Describe("EncodeImage", func() {
	It("sniffs the type and round trips", func() {
		png := []byte("\x89PNG\r\n\x1a\n rest of the image")

		ref, err := uploader.EncodeImage(png)
		Expect(err).NotTo(HaveOccurred())
		Expect(ref).To(HavePrefix("data:image/png;base64,"))

		img, err := uploader.ParseDataURL(ref)
		Expect(err).NotTo(HaveOccurred())
		Expect(img.Data).To(Equal(png))
	})

	It("rejects other files", func() {
		_, err := uploader.EncodeImage([]byte("just some text"))
		Expect(err).To(MatchError(uploader.ErrUnsupportedImage))
	})
})

var _ = Describe("Key", func() {
	It("is content addressed within the conversation", func() {
		a := uploader.Key("conv-1", uploader.InlineImage{ContentType: "image/jpeg", Data: []byte("x")})
		b := uploader.Key("conv-1", uploader.InlineImage{ContentType: "image/jpeg", Data: []byte("x")})
		c := uploader.Key("conv-1", uploader.InlineImage{ContentType: "image/jpeg", Data: []byte("y")})
		Expect(a).To(Equal(b))
		Expect(a).NotTo(Equal(c))
		Expect(a).To(HavePrefix("conv-1/"))
		Expect(a).To(HaveSuffix(".jpg"))
		Expect(strings.TrimSuffix(strings.TrimPrefix(a, "conv-1/"), ".jpg")).To(HaveLen(64))
	})
})

var _ = Describe("Uploader", func() {
	var (
		ctx     context.Context
		storage *mockStorage
		up      *uploader.Uploader
	)

	BeforeEach(func() {
		ctx = context.Background()
		storage = &mockStorage{}
		up = uploader.New(storage, "conv-1", 4)
	})

	Describe("Resolve", func() {
		It("uploads an image once", func() {
			ref := dataURL("image/jpeg", "ring")
			first, err := up.Resolve(ctx, ref)
			Expect(err).NotTo(HaveOccurred())
			second, err := up.Resolve(ctx, ref)
			Expect(err).NotTo(HaveOccurred())

			Expect(first).To(Equal(second))
			Expect(first).To(HavePrefix("https://cdn.example.com/conv-1/"))
			Expect(storage.Keys()).To(HaveLen(1))
		})

		It("collapses concurrent uploads of the same image", func() {
			release := make(chan struct{})
			storage.putFn = func(ctx context.Context, key, contentType string, data []byte) (string, error) {
				<-release
				return "https://cdn.example.com/" + key, nil
			}

			ref := dataURL("image/jpeg", "ring")
			var wg sync.WaitGroup
			for range 5 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer GinkgoRecover()
					_, err := up.Resolve(ctx, ref)
					Expect(err).NotTo(HaveOccurred())
				}()
			}
			Eventually(storage.Keys).Should(HaveLen(1))
			close(release)
			wg.Wait()

			Expect(storage.Keys()).To(HaveLen(1))
		})

		It("retries after a failed upload", func() {
			fail := true
			storage.putFn = func(ctx context.Context, key, contentType string, data []byte) (string, error) {
				if fail {
					return "", errors.New("bucket unavailable")
				}
				return "https://cdn.example.com/" + key, nil
			}

			ref := dataURL("image/jpeg", "ring")
			_, err := up.Resolve(ctx, ref)
			Expect(err).To(MatchError(ContainSubstring("bucket unavailable")))

			fail = false
			url, err := up.Resolve(ctx, ref)
			Expect(err).NotTo(HaveOccurred())
			Expect(url).NotTo(BeEmpty())
			Expect(storage.Keys()).To(HaveLen(2))
		})
	})

	Describe("Sweep", func() {
		var store *transcript.Store

		BeforeEach(func() {
			store = transcript.NewStore()
		})

		It("replaces inline images in user and settled image turns", func() {
			userImg := dataURL("image/png", "sketch")
			store.Append(model.NewUserTurn(model.TextPart("like this"), model.ImagePart(userImg)))
			img := model.NewImageTurn("ig_1")
			img.Status = model.TurnStatusComplete
			img.Result = dataURL("image/jpeg", "render")
			store.Append(img)

			Expect(up.Sweep(ctx, store)).To(Equal(2))

			turns := store.Snapshot().Turns
			Expect(turns[0].Content[0].Text).To(Equal("like this"))
			Expect(turns[0].Content[1].ImageURL).To(HavePrefix("https://cdn.example.com/conv-1/"))
			Expect(turns[0].Content[1].ImageURL).To(HaveSuffix(".png"))
			Expect(turns[1].Result).To(HaveSuffix(".jpg"))
			Expect(turns[1].Status).To(Equal(model.TurnStatusComplete))
		})

		It("leaves images that are still refining", func() {
			img := model.NewImageTurn("ig_1")
			img.Status = model.TurnStatusRefining
			img.Result = dataURL("image/jpeg", "partial")
			store.Append(img)

			Expect(up.Sweep(ctx, store)).To(Equal(0))
			Expect(storage.Keys()).To(BeEmpty())
			Expect(model.IsInlineImage(store.Snapshot().Turns[0].Result)).To(BeTrue())
		})

		It("uploads a repeated image once and patches every reference", func() {
			ref := dataURL("image/jpeg", "same")
			store.Append(model.NewUserTurn(model.ImagePart(ref)))
			store.Append(model.NewUserTurn(model.ImagePart(ref)))

			Expect(up.Sweep(ctx, store)).To(Equal(2))
			Expect(storage.Keys()).To(HaveLen(1))
		})

		It("does not overwrite a reference that changed during upload", func() {
			img := model.NewImageTurn("ig_1")
			img.Status = model.TurnStatusComplete
			img.Result = dataURL("image/jpeg", "old")
			store.Append(img)

			storage.putFn = func(ctx context.Context, key, contentType string, data []byte) (string, error) {
				store.Mutate(0, func(t *model.Turn) bool {
					t.Result = "https://elsewhere.example.com/new.jpg"
					return true
				})
				return "https://cdn.example.com/" + key, nil
			}

			Expect(up.Sweep(ctx, store)).To(Equal(0))
			Expect(store.Snapshot().Turns[0].Result).To(Equal("https://elsewhere.example.com/new.jpg"))
		})

		It("keeps inline data when the upload fails", func() {
			ref := dataURL("image/jpeg", "ring")
			store.Append(model.NewUserTurn(model.ImagePart(ref)))
			storage.putFn = func(ctx context.Context, key, contentType string, data []byte) (string, error) {
				return "", errors.New("denied")
			}

			Expect(up.Sweep(ctx, store)).To(Equal(0))
			Expect(store.Snapshot().Turns[0].Content[0].ImageURL).To(Equal(ref))
		})
	})
})
