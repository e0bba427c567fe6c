package errs

import (
	"errors"
	"testing"
)

func TestValidationError(t *testing.T) {
	t.Run("SortedFields", func(t *testing.T) {
		err := &ValidationError{Fields: map[string]string{
			"title":    "title is required",
			"category": "unknown category",
		}}
		want := "validation failed: category: unknown category; title: title is required"
		if err.Error() != want {
			t.Errorf("got %q, want %q", err.Error(), want)
		}
	})

	t.Run("SingleField", func(t *testing.T) {
		err := Validation("price", "price must be positive")
		if err.Fields["price"] != "price must be positive" {
			t.Errorf("unexpected fields: %v", err.Fields)
		}
	})
}

func TestBidTooLowError(t *testing.T) {
	err := &BidTooLowError{CurrentHighest: 42.5}
	want := "bid too low: current highest bid is 42.50"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestUnavailable(t *testing.T) {
	wrapped := Unavailable(errors.New("dial tcp: connection refused"))
	if !errors.Is(wrapped, ErrUnavailable) {
		t.Error("wrapped error must match ErrUnavailable")
	}
}
