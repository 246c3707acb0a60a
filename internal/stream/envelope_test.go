package stream_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"cyodesign.app/atelier/internal/stream"
)

var _ = Describe("EnvelopeDecoder", func() {
	var dec *stream.EnvelopeDecoder

	BeforeEach(func() {
		dec = stream.NewEnvelopeDecoder("png")
	})

	DescribeTable("maps backend envelopes to events",
		func(data string, want stream.Event) {
			ev, ok, err := dec.Decode([]byte(data))
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(ev.Kind).To(Equal(want.Kind))
			Expect(ev.TurnOffset).To(Equal(want.TurnOffset))
			Expect(ev.Segment).To(Equal(want.Segment))
			Expect(ev.Text).To(Equal(want.Text))
			Expect(ev.Image).To(Equal(want.Image))
			Expect(ev.Seq).To(Equal(want.Seq))
			Expect(ev.InvocationID).To(Equal(want.InvocationID))
			Expect(ev.Code).To(Equal(want.Code))
		},
		Entry("text delta",
			`{"type":"response.output_text.delta","item_id":"m","output_index":2,"content_index":1,"delta":"Hi"}`,
			stream.TextDelta(2, 1, "Hi")),
		Entry("text done",
			`{"type":"response.output_text.done","item_id":"m","output_index":0,"content_index":0,"text":"Hello"}`,
			stream.TextDone(0, 0, "Hello")),
		Entry("image generating",
			`{"type":"response.image_generation_call.generating","item_id":"i","output_index":1}`,
			stream.ImageGenerating(1)),
		Entry("partial image",
			`{"type":"response.image_generation_call.partial_image","item_id":"i","output_index":1,"partial_image_b64":"AAA","partial_image_index":1}`,
			stream.ImagePartial(1, "data:image/png;base64,AAA", 1)),
		Entry("image completed",
			`{"type":"response.image_generation_call.completed","item_id":"i","output_index":1}`,
			stream.ImageDone(1)),
		Entry("tool call",
			`{"type":"response.function_call_arguments.done","item_id":"fc","output_index":3,"arguments":"{}"}`,
			stream.ToolCallDone(3, "fc", []byte("{}"))),
		Entry("completed", `{"type":"response.completed","response":{}}`, stream.StreamComplete()),
		Entry("error", `{"type":"error","code":"server_error","message":"x"}`, stream.StreamError("server_error", "x")),
		Entry("incomplete", `{"type":"response.incomplete","response":{"incomplete_details":{"reason":"max_output_tokens"}}}`,
			stream.StreamError("incomplete", "max_output_tokens")),
	)

	It("carries the final rendering of a finished image item", func() {
		ev, ok, err := dec.Decode([]byte(`{"type":"response.output_item.done","output_index":0,"item":{"id":"ig","type":"image_generation_call","result":"FINAL"}}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(ev.Kind).To(Equal(stream.KindImageDone))
		Expect(ev.Image).To(Equal("data:image/png;base64,FINAL"))
	})

	It("names a tool call from the item that announced it", func() {
		_, ok, err := dec.Decode([]byte(`{"type":"response.output_item.added","output_index":3,"item":{"id":"fc","type":"function_call","name":"delete_everything","arguments":""}}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())

		ev, ok, err := dec.Decode([]byte(`{"type":"response.function_call_arguments.done","item_id":"fc","output_index":3,"arguments":"{}"}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(ev.Kind).To(Equal(stream.KindToolCallDone))
		Expect(ev.InvocationID).To(Equal("fc"))
		Expect(ev.ToolName).To(Equal("delete_everything"))
	})

	It("leaves the tool name empty when no item announced the call", func() {
		ev, ok, err := dec.Decode([]byte(`{"type":"response.function_call_arguments.done","item_id":"fc_2","output_index":0,"arguments":"{}"}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(ev.ToolName).To(BeEmpty())
	})

	It("ignores envelopes the reducer does not consume", func() {
		_, ok, err := dec.Decode([]byte(`{"type":"response.content_part.added","output_index":0}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())

		_, ok, err = dec.Decode([]byte(`{"type":"response.output_item.done","output_index":0,"item":{"type":"message"}}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	DescribeTable("reports protocol violations",
		func(data string) {
			_, ok, err := dec.Decode([]byte(data))
			Expect(ok).To(BeFalse())
			Expect(err).To(MatchError(stream.ErrProtocol))
		},
		Entry("garbage", `{oops`),
		Entry("missing type", `{"output_index":0}`),
		Entry("missing output index", `{"type":"response.output_text.delta","delta":"x"}`),
		Entry("empty partial image", `{"type":"response.image_generation_call.partial_image","output_index":0}`),
	)

	It("recognizes the sentinel", func() {
		Expect(stream.IsDone([]byte("[DONE]\n"))).To(BeTrue())
		Expect(stream.IsDone([]byte(`{"type":"response.completed"}`))).To(BeFalse())
	})
})
