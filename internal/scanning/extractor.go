package scanning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// totalPrompt asks for the final "합계"/"TOTAL" amount as bare digits,
// without currency symbols, explanations or sentences.
const totalPrompt = "다음 영수증 이미지에서 '합계' 또는 'TOTAL'에 해당하는 " +
	"최종 금액만 숫자로 출력해. " +
	"통화 기호, 설명, 문장은 제외하고 숫자만 출력해."

// DefaultTimeout bounds a single inference call
const DefaultTimeout = 60 * time.Second

// Extractor reads the printed total from receipt images
type Extractor struct {
	client  Client
	timeout time.Duration
}

// ExtractorOption configures an Extractor
type ExtractorOption func(*Extractor)

// WithTimeout sets the per-call timeout. Zero or negative disables it.
func WithTimeout(d time.Duration) ExtractorOption {
	return func(e *Extractor) {
		e.timeout = d
	}
}

// NewExtractor creates an Extractor that asks the given client
func NewExtractor(client Client, opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		client:  client,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract makes exactly one inference call for the image and parses the
// first number out of the reply. A reply with no digits is not an error:
// it comes back with Found set to false.
func (e *Extractor) Extract(ctx context.Context, img Image) (Amount, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	prepared, converted := prepareImage(img)

	start := time.Now()
	text, err := e.client.Infer(ctx, totalPrompt, prepared)
	if err != nil {
		var inferErr *InferenceError
		if !errors.As(err, &inferErr) {
			err = &InferenceError{Provider: e.client.Name(), Err: err}
		}
		slog.Error("Failed to scan receipt",
			"provider", e.client.Name(),
			"filename", img.Filename,
			"content_type", prepared.ContentType,
			"file_size", len(img.Data),
			"error", err,
		)
		return Amount{}, err
	}

	amount, err := parseAmount(text)
	if err != nil {
		return Amount{}, fmt.Errorf("parsing amount: %w", err)
	}

	slog.Debug("Scanned receipt",
		"provider", e.client.Name(),
		"filename", img.Filename,
		"converted", converted,
		"found", amount.Found,
		"amount", amount.Value,
		"duration", time.Since(start),
	)

	return amount, nil
}
