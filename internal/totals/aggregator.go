package totals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/zombor/receipt-totals/internal/scanning"
)

// ErrAmountNotFound is returned under MissingAbort when a receipt yields no amount
var ErrAmountNotFound = errors.New("no amount found on receipt")

// Extractor reads the total from one receipt image
type Extractor interface {
	Extract(ctx context.Context, img scanning.Image) (scanning.Amount, error)
}

// MissingPolicy decides what happens to receipts with no readable amount
type MissingPolicy int

const (
	// MissingAsZero counts the receipt as 0 and records its index
	MissingAsZero MissingPolicy = iota
	// MissingAbort stops the batch with ErrAmountNotFound
	MissingAbort
)

// FailurePolicy decides what happens when an extraction call fails
type FailurePolicy int

const (
	// FailureAbort stops the batch and returns the first failure
	FailureAbort FailurePolicy = iota
	// FailureCollect counts the receipt as 0 and records its index
	FailureCollect
)

// ParseMissingPolicy parses "zero" or "abort"
func ParseMissingPolicy(s string) (MissingPolicy, error) {
	switch s {
	case "", "zero":
		return MissingAsZero, nil
	case "abort":
		return MissingAbort, nil
	}
	return 0, fmt.Errorf("invalid missing policy %q: must be 'zero' or 'abort'", s)
}

// ParseFailurePolicy parses "abort" or "collect"
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch s {
	case "", "abort":
		return FailureAbort, nil
	case "collect":
		return FailureCollect, nil
	}
	return 0, fmt.Errorf("invalid failure policy %q: must be 'abort' or 'collect'", s)
}

// ItemResult is the outcome for one receipt, at the same index as its input
type ItemResult struct {
	Index    int    `json:"index"`
	Filename string `json:"filename,omitempty"`
	Amount   int64  `json:"amount"`
	Found    bool   `json:"found"`
	Error    string `json:"error,omitempty"`
}

// Result is the outcome of aggregating a batch
type Result struct {
	Total   int64        `json:"total"`
	Items   []ItemResult `json:"items"`
	Missing []int        `json:"missing"`
	Failed  []int        `json:"failed"`
}

// Aggregator sums receipt totals
type Aggregator struct {
	extractor   Extractor
	concurrency int
	missing     MissingPolicy
	failure     FailurePolicy
}

// AggregatorOption configures an Aggregator
type AggregatorOption func(*Aggregator)

// WithConcurrency sets how many extractions may run at once. Values below 1 mean 1.
func WithConcurrency(n int) AggregatorOption {
	return func(a *Aggregator) {
		if n < 1 {
			n = 1
		}
		a.concurrency = n
	}
}

// WithMissingPolicy sets the policy for receipts with no amount
func WithMissingPolicy(p MissingPolicy) AggregatorOption {
	return func(a *Aggregator) {
		a.missing = p
	}
}

// WithFailurePolicy sets the policy for failed extractions
func WithFailurePolicy(p FailurePolicy) AggregatorOption {
	return func(a *Aggregator) {
		a.failure = p
	}
}

// NewAggregator creates an Aggregator. By default it extracts one receipt at
// a time in input order, counts missing amounts as zero and aborts on failure.
func NewAggregator(extractor Extractor, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		extractor:   extractor,
		concurrency: 1,
		missing:     MissingAsZero,
		failure:     FailureAbort,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Sum returns the total of all receipts
func (a *Aggregator) Sum(ctx context.Context, images []scanning.Image) (int64, error) {
	result, err := a.Aggregate(ctx, images)
	if err != nil {
		return 0, err
	}
	return result.Total, nil
}

// Aggregate extracts every receipt once and sums the amounts. Items keep the
// order of images regardless of concurrency.
func (a *Aggregator) Aggregate(ctx context.Context, images []scanning.Image) (*Result, error) {
	items := make([]ItemResult, len(images))
	errs := make([]error, len(images))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)

	for i, img := range images {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			item := ItemResult{Index: i, Filename: img.Filename}
			amount, err := a.extractor.Extract(gctx, img)
			if err != nil {
				if a.failure == FailureAbort {
					return fmt.Errorf("receipt %d (%s): %w", i, img.Filename, err)
				}
				slog.Warn("Skipping receipt after failed extraction", "index", i, "filename", img.Filename, "error", err)
				item.Error = err.Error()
				items[i] = item
				errs[i] = err
				return nil
			}

			if !amount.Found && a.missing == MissingAbort {
				return fmt.Errorf("receipt %d (%s): %w", i, img.Filename, ErrAmountNotFound)
			}

			item.Amount = amount.Value
			item.Found = amount.Found
			items[i] = item
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &Result{
		Items:   items,
		Missing: []int{},
		Failed:  []int{},
	}
	for i, item := range items {
		if item.Amount > math.MaxInt64-result.Total {
			return nil, fmt.Errorf("summing receipt %d (%s): %w", i, item.Filename, scanning.ErrAmountOutOfRange)
		}
		result.Total += item.Amount
		switch {
		case errs[i] != nil:
			result.Failed = append(result.Failed, i)
		case !item.Found:
			result.Missing = append(result.Missing, i)
		}
	}

	return result, nil
}
