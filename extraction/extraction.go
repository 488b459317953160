// Package extraction is the boundary to the document extraction service that
// turns raw import text into a structured product record.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Source says whether a suggested code was read from the document or
// inferred by the service.
type Source string

const (
	SourceDocument Source = "document"
	SourceInferred Source = "inferred"
)

// Record is what the service extracts from one row or document.
type Record struct {
	Name                  string
	SKU                   string
	Manufacturer          string
	SuggestedCategoryCode string
	Source                Source
}

// Extractor is implemented by the extraction service client.
type Extractor interface {
	Extract(ctx context.Context, raw string) (*Record, error)
}

// Status distinguishes a confirmed absence of a suggestion from a lookup
// that could not complete.
type Status int

const (
	StatusFound Status = iota
	StatusNoSuggestion
	StatusUnavailable
)

func (s Status) String() string {
	switch s {
	case StatusFound:
		return "found"
	case StatusNoSuggestion:
		return "no_suggestion"
	case StatusUnavailable:
		return "unavailable"
	}
	panic(fmt.Sprintf("extraction: unknown status %d", int(s)))
}

// Outcome is the result of a lookup. Record is set for StatusFound and
// StatusNoSuggestion, Err for StatusUnavailable.
type Outcome struct {
	Status   Status
	Record   *Record
	Err      error
	TimedOut bool
}

// Lookup calls the extractor with a deadline. Failures and timeouts are
// returned as StatusUnavailable with the cause kept, never folded into an
// empty record.
func Lookup(ctx context.Context, ex Extractor, raw string, timeout time.Duration) Outcome {
	if ex == nil {
		return Outcome{Status: StatusUnavailable, Err: errors.New("no extraction service configured")}
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	rec, err := ex.Extract(ctx, raw)
	if err != nil {
		return Outcome{
			Status:   StatusUnavailable,
			Err:      err,
			TimedOut: errors.Is(err, context.DeadlineExceeded),
		}
	}
	if rec == nil {
		return Outcome{Status: StatusUnavailable, Err: errors.New("extraction service returned no record")}
	}
	if strings.TrimSpace(rec.SuggestedCategoryCode) == "" {
		return Outcome{Status: StatusNoSuggestion, Record: rec}
	}
	return Outcome{Status: StatusFound, Record: rec}
}
