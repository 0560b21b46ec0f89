package scanning

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini implements Client using Google Gemini
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates a new Gemini client
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client: client,
		model:  client.GenerativeModel(modelName),
	}, nil
}

// Name returns the provider name
func (g *Gemini) Name() string {
	return "gemini"
}

// Infer sends the image and prompt and concatenates the text parts of the first candidate
func (g *Gemini) Infer(ctx context.Context, prompt string, image Image) (string, error) {
	resp, err := g.model.GenerateContent(ctx, geminiBlob(image), genai.Text(prompt))
	if err != nil {
		return "", &InferenceError{Provider: g.Name(), Err: fmt.Errorf("generating content: %w", err)}
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", &InferenceError{Provider: g.Name(), Err: ErrNoChoices}
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}

	return text.String(), nil
}

// geminiBlob sends the image under its real MIME type so unconverted uploads
// such as PDFs are not labelled as PNG
func geminiBlob(image Image) genai.Blob {
	mimeType := normalizeMimeType(image.ContentType, image.Data)
	if mimeType == "" {
		mimeType = "image/png"
	}
	return genai.Blob{MIMEType: mimeType, Data: image.Data}
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
