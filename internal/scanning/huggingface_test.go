package scanning

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("HuggingFace", func() {
	var (
		server   *ghttp.Server
		client   *HuggingFace
		received chatCompletionRequest
		reply    string
		err      error
	)

	captureRequest := func(w http.ResponseWriter, r *http.Request) {
		Expect(json.NewDecoder(r.Body).Decode(&received)).To(Succeed())
	}

	BeforeEach(func() {
		server = ghttp.NewServer()
		received = chatCompletionRequest{}
		client, err = NewHuggingFace("hf-secret", server.URL(), "test/model")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	JustBeforeEach(func() {
		reply, err = client.Infer(context.Background(), "read the total", Image{Data: []byte{1, 2, 3}, ContentType: "image/png"})
	})

	When("the router answers", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/v1/chat/completions"),
				ghttp.VerifyHeaderKV("Authorization", "Bearer hf-secret"),
				ghttp.VerifyContentType("application/json"),
				captureRequest,
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
					"choices": []map[string]any{
						{"message": map[string]any{"role": "assistant", "content": "15,000"}},
					},
				}),
			))
		})

		It("should return the message content", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(reply).To(Equal("15,000"))
		})

		It("should send the configured model", func() {
			Expect(received.Model).To(Equal("test/model"))
		})

		It("should send one user message with text and image parts", func() {
			Expect(received.Messages).To(HaveLen(1))
			msg := received.Messages[0]
			Expect(msg.Role).To(Equal("user"))
			Expect(msg.Content).To(HaveLen(2))
			Expect(msg.Content[0].Type).To(Equal("text"))
			Expect(msg.Content[0].Text).To(Equal("read the total"))
			Expect(msg.Content[1].Type).To(Equal("image_url"))
			Expect(msg.Content[1].ImageURL.URL).To(Equal("data:image/png;base64,AQID"))
		})
	})

	When("the router rejects the token", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusUnauthorized, `{"error":"invalid token"}`))
		})

		It("should return an InferenceError with the status", func() {
			var inferErr *InferenceError
			Expect(errors.As(err, &inferErr)).To(BeTrue())
			Expect(inferErr.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(inferErr.Provider).To(Equal("huggingface"))
			Expect(err).To(MatchError(ContainSubstring("invalid token")))
		})
	})

	When("the response has no choices", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{"choices": []any{}}))
		})

		It("should return ErrNoChoices", func() {
			Expect(err).To(MatchError(ErrNoChoices))
		})
	})

	When("the message content is null", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
				"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": nil}}},
			}))
		})

		It("should return an error", func() {
			Expect(err).To(MatchError(ContainSubstring("no content")))
		})
	})

	When("the message content is empty", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
				"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": ""}}},
			}))
		})

		It("should return the empty reply without an error", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(reply).To(BeEmpty())
		})
	})

	When("the body is not JSON", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusOK, "<html>"))
		})

		It("should return a decoding error", func() {
			var inferErr *InferenceError
			Expect(errors.As(err, &inferErr)).To(BeTrue())
			Expect(err).To(MatchError(ContainSubstring("decoding response")))
		})
	})
})

var _ = Describe("NewHuggingFace", func() {
	It("should require a token", func() {
		_, err := NewHuggingFace("", "", "")
		Expect(err).To(HaveOccurred())
	})

	It("should default the router URL and model", func() {
		client, err := NewHuggingFace("token", "", "")
		Expect(err).NotTo(HaveOccurred())
		Expect(client.baseURL).To(Equal(DefaultHuggingFaceURL))
		Expect(client.model).To(Equal(DefaultHuggingFaceModel))
	})
})
