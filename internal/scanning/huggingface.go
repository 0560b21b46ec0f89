package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultHuggingFaceURL is the Hugging Face inference router
	DefaultHuggingFaceURL = "https://router.huggingface.co"
	// DefaultHuggingFaceModel is a vision-capable chat model served through the router
	DefaultHuggingFaceModel = "google/gemma-3-27b-it:nebius"
)

// HuggingFace implements Client against the OpenAI-compatible chat
// completions endpoint of the Hugging Face router
type HuggingFace struct {
	baseURL string
	token   string
	model   string
	client  *http.Client
}

// NewHuggingFace creates a new HuggingFace client
func NewHuggingFace(token, baseURL, modelName string) (*HuggingFace, error) {
	if token == "" {
		return nil, fmt.Errorf("hugging face token is required")
	}
	if baseURL == "" {
		baseURL = DefaultHuggingFaceURL
	}
	if modelName == "" {
		modelName = DefaultHuggingFaceModel
	}

	return &HuggingFace{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		model:   modelName,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}, nil
}

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Role    string  `json:"role"`
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Name returns the provider name
func (h *HuggingFace) Name() string {
	return "huggingface"
}

// Infer sends the prompt and the image as one user message
func (h *HuggingFace) Infer(ctx context.Context, prompt string, image Image) (string, error) {
	reqBody := chatCompletionRequest{
		Model: h.model,
		Messages: []chatMessage{
			{
				Role: "user",
				Content: []contentPart{
					{Type: "text", Text: prompt},
					{Type: "image_url", ImageURL: &imageURL{URL: dataURI(image)}},
				},
			},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	url := h.baseURL + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.token)

	resp, err := h.client.Do(req)
	if err != nil {
		return "", &InferenceError{Provider: h.Name(), Err: fmt.Errorf("calling chat completions: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &InferenceError{
			Provider:   h.Name(),
			StatusCode: resp.StatusCode,
			Err:        errors.New(strings.TrimSpace(string(body))),
		}
	}

	var chatResp chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", &InferenceError{Provider: h.Name(), Err: fmt.Errorf("decoding response: %w", err)}
	}

	if len(chatResp.Choices) == 0 {
		return "", &InferenceError{Provider: h.Name(), Err: ErrNoChoices}
	}
	content := chatResp.Choices[0].Message.Content
	if content == nil {
		return "", &InferenceError{Provider: h.Name(), Err: errors.New("message has no content")}
	}

	return *content, nil
}

// Close is a no-op for the HTTP client
func (h *HuggingFace) Close() error {
	return nil
}

// dataURI encodes the image as a base64 data URI
func dataURI(image Image) string {
	mimeType := image.ContentType
	if mimeType == "" {
		mimeType = "image/png"
	}
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(image.Data))
}
