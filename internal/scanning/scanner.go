package scanning

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrAmountOutOfRange is returned when the model replied with a digit run too large for an int64
	ErrAmountOutOfRange = errors.New("amount out of range")
	// ErrNoChoices is returned when a well-formed reply carries no message to read
	ErrNoChoices = errors.New("no choices in response")
)

// Image is one uploaded receipt
type Image struct {
	Data        []byte
	ContentType string
	Filename    string
}

// Amount is the total read from one receipt. Found is false when the reply
// held no digits at all, which is different from a receipt that totals zero.
type Amount struct {
	Value int64 `json:"value"`
	Found bool  `json:"found"`
}

// Client sends a prompt and an image to a multimodal model and returns its text reply
type Client interface {
	// Name identifies the provider in logs and errors
	Name() string
	// Infer asks the model about the image and returns the raw reply text
	Infer(ctx context.Context, prompt string, image Image) (string, error)
	// Close releases resources held by the client
	Close() error
}

// InferenceError wraps a failed call to the inference provider
type InferenceError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *InferenceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s inference failed (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s inference failed: %v", e.Provider, e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}
