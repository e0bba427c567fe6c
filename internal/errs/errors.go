// Package errs defines the error taxonomy shared by the marketplace
// services. Handlers map these onto transport status codes; business
// rejections (too low, closed) are expected outcomes, not system errors.
package errs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when a referenced asset does not exist.
	ErrNotFound = errors.New("asset not found")

	// ErrAuctionClosed is returned when a bid arrives at or after the
	// asset's end time, or against an already-closed auction.
	ErrAuctionClosed = errors.New("auction closed")

	// ErrUnavailable is returned when storage is unreachable or timed out
	// after retries were exhausted. Callers may retry.
	ErrUnavailable = errors.New("storage unavailable")
)

// BidTooLowError rejects a bid that does not strictly exceed the current
// highest accepted price.
type BidTooLowError struct {
	CurrentHighest float64
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("bid too low: current highest bid is %.2f", e.CurrentHighest)
}

// ValidationError collects field-level input problems. It is always
// recoverable and surfaced verbatim to the caller.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	names := make([]string, 0, len(e.Fields))
	for f := range e.Fields {
		names = append(names, f)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, f := range names {
		parts = append(parts, f+": "+e.Fields[f])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Validation builds a single-field ValidationError.
func Validation(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// Unavailable wraps err as a retryable storage failure.
func Unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
