// Package storage persists asset and bid records. Two implementations are
// provided: MemoryStore for tests and single-node development, and
// MarketStore which keeps durable records in PostgreSQL and the hot
// current-highest state in Redis.
package storage

import (
	"context"
	"time"

	"github.com/oguzhanali/nft-marketplace/internal/errs"
	"github.com/oguzhanali/nft-marketplace/internal/models"
)

const (
	// DefaultLimit is the page size used when a list request does not
	// specify one.
	DefaultLimit = 16

	// MaxLimit bounds a single listing page.
	MaxLimit = 100
)

// ListQuery selects a page of assets. Category is optional; empty means
// no filtering. Ordering is always creation time descending.
type ListQuery struct {
	Offset   int
	Limit    int
	Category models.Category
}

// Normalize clamps the query to sane bounds.
func (q ListQuery) Normalize() ListQuery {
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// BidOutcome reports the result of an atomic bid attempt.
type BidOutcome struct {
	Accepted bool
	// Closed is set when the auction was already closed at the time of
	// the attempt; Accepted is always false in that case.
	Closed bool
	// CurrentPrice is the highest accepted price after the attempt (the
	// new bid's price when accepted, the prevailing one otherwise).
	CurrentPrice float64
	// CurrentBidder is the bidder holding the highest price.
	CurrentBidder string
	// PreviousPrice is the highest price before the attempt.
	PreviousPrice float64
}

// Store is the persistence contract the engine and catalog build on.
// Per-asset bid acceptance is serialized inside AppendBidIfHighest; bids on
// different assets never contend with each other.
type Store interface {
	// PutAsset persists the asset, assigning an ID when absent, and
	// returns the ID. Missing required fields or an unknown category
	// yield a ValidationError.
	PutAsset(ctx context.Context, asset *models.Asset) (string, error)

	// GetAsset returns the asset with the given ID, or ErrNotFound.
	GetAsset(ctx context.Context, id string) (*models.Asset, error)

	// ListAssets returns a page of assets ordered by creation time
	// descending. An offset beyond the collection yields an empty page,
	// never an error.
	ListAssets(ctx context.Context, q ListQuery) ([]*models.Asset, error)

	// AppendBidIfHighest atomically accepts the bid if its price strictly
	// exceeds the current highest (or the asset's start price when no bid
	// exists) and the auction is still open at instant now. Exactly one
	// of two racing equal-price bids can ever win, and equal price is
	// rejected outright.
	AppendBidIfHighest(ctx context.Context, assetID string, bid *models.Bid, now time.Time) (*BidOutcome, error)

	// CloseAsset transitions the asset to closed, freezing LastSale from
	// the current highest bid (nil when no bids were placed). It is
	// idempotent: closing an already-closed asset returns the same
	// frozen state.
	CloseAsset(ctx context.Context, id string) (*models.Asset, error)

	// ListExpired returns open assets whose end time is at or before now.
	// Used by the background closure sweep.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.Asset, error)

	// BidHistory returns the asset's append-only bid history, most
	// recent first.
	BidHistory(ctx context.Context, assetID string, limit int) ([]*models.Bid, error)
}

// ValidateAsset checks the required fields shared by every store.
func ValidateAsset(asset *models.Asset) error {
	fields := map[string]string{}
	if asset.Title == "" {
		fields["title"] = "title is required"
	}
	if asset.Creator == "" {
		fields["creator"] = "creator is required"
	}
	if asset.Image == "" {
		fields["image"] = "image is required"
	}
	if !asset.Category.Valid() {
		fields["category"] = "unknown category"
	}
	if asset.EndTime.IsZero() {
		fields["endTime"] = "end time is required"
	}
	if len(fields) > 0 {
		return &errs.ValidationError{Fields: fields}
	}
	return nil
}
