package totals

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/zombor/receipt-totals/internal/scanning"
)

// currencySuffix is appended to formatted totals
const currencySuffix = "원"

// IDGenerator generates unique IDs for reports
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// MonthlyReport is a computed monthly total
type MonthlyReport struct {
	ID        string       `json:"id"`
	Month     Month        `json:"month"`
	Total     int64        `json:"total"`
	Display   string       `json:"display"`
	Items     []ItemResult `json:"items"`
	Missing   []int        `json:"missing"`
	Failed    []int        `json:"failed"`
	CreatedAt time.Time    `json:"created_at"`
}

// MonthOptions lists the months a caller can pick from
type MonthOptions struct {
	Months  []Month `json:"months"`
	Default Month   `json:"default"`
}

// Service computes monthly receipt totals
type Service struct {
	aggregator  *Aggregator
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with a uuid generator and the wall clock
func NewService(aggregator *Aggregator) *Service {
	return NewServiceWithDeps(aggregator, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(aggregator *Aggregator, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		aggregator:  aggregator,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// FormatTotal renders a total with thousands separators and the currency suffix
func FormatTotal(total int64) string {
	return humanize.Comma(total) + " " + currencySuffix
}

// Months returns the twelve months of the current year, defaulting to the current month
func (s *Service) Months() MonthOptions {
	now := s.timeSource.Now()
	return MonthOptions{
		Months:  MonthsOfYear(now.Year()),
		Default: CurrentMonth(now),
	}
}

// Calculate totals the receipts for the given month label. An empty label
// means the current month.
func (s *Service) Calculate(ctx context.Context, month string, images []scanning.Image) (*MonthlyReport, error) {
	now := s.timeSource.Now()

	m := CurrentMonth(now)
	if month != "" {
		var err error
		m, err = ParseMonth(month)
		if err != nil {
			return nil, err
		}
	}

	id := s.idGenerator.Generate()
	result, err := s.aggregator.Aggregate(ctx, images)
	if err != nil {
		slog.Error("Failed to calculate monthly total", "report_id", id, "month", m.String(), "receipts", len(images), "error", err)
		return nil, fmt.Errorf("aggregating receipts: %w", err)
	}

	report := &MonthlyReport{
		ID:        id,
		Month:     m,
		Total:     result.Total,
		Display:   FormatTotal(result.Total),
		Items:     result.Items,
		Missing:   result.Missing,
		Failed:    result.Failed,
		CreatedAt: now,
	}

	slog.Info("Calculated monthly total",
		"report_id", id,
		"month", m.String(),
		"receipts", len(images),
		"total", result.Total,
		"missing", len(result.Missing),
		"failed", len(result.Failed),
	)

	return report, nil
}
