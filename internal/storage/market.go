package storage

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/oguzhanali/nft-marketplace/internal/errs"
	"github.com/oguzhanali/nft-marketplace/internal/models"
)

// HotStore is the Redis side of the production store: the atomic
// compare-and-set, the one-way close flag and the current-highest read.
// RedisClient satisfies it.
type HotStore interface {
	SeedAsset(ctx context.Context, assetID string, startPrice float64) error
	TryBid(ctx context.Context, assetID, bidder string, price float64, now, endTime time.Time, startPrice float64) (*BidOutcome, error)
	Close(ctx context.Context, assetID string) (*CloseResult, error)
	GetCurrent(ctx context.Context, assetID string) (float64, string, error)
}

// MarketStore is the production Store: durable records in PostgreSQL, the
// hot current-highest compare-and-set in Redis. Every call runs under a
// bounded timeout; transient failures are retried with exponential backoff
// and surface as ErrUnavailable once retries exhaust.
type MarketStore struct {
	pg *PostgresStore
	rd HotStore

	// Timeout bounds a single storage attempt.
	Timeout time.Duration
	// MaxElapsed bounds the total retry window.
	MaxElapsed time.Duration
	// RetryInterval is the initial backoff interval between attempts.
	RetryInterval time.Duration
}

// NewMarketStore combines the two backends with default timeouts.
func NewMarketStore(pg *PostgresStore, rd HotStore) *MarketStore {
	return &MarketStore{
		pg:            pg,
		rd:            rd,
		Timeout:       2 * time.Second,
		MaxElapsed:    10 * time.Second,
		RetryInterval: 500 * time.Millisecond,
	}
}

// PutAsset persists the asset row and seeds the Redis price key with the
// start price.
func (s *MarketStore) PutAsset(ctx context.Context, asset *models.Asset) (string, error) {
	err := s.withRetry(ctx, func(ctx context.Context) error {
		_, err := s.pg.InsertAsset(ctx, asset)
		return err
	})
	if err != nil {
		return "", err
	}

	err = s.withRetry(ctx, func(ctx context.Context) error {
		return s.rd.SeedAsset(ctx, asset.ID, asset.StartPrice)
	})
	if err != nil {
		return "", err
	}
	return asset.ID, nil
}

// GetAsset loads the asset row and, while the auction is open, overlays
// the Redis current-highest state so reads are O(1) fresh even before the
// archival worker catches up.
func (s *MarketStore) GetAsset(ctx context.Context, id string) (*models.Asset, error) {
	var asset *models.Asset
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		asset, err = s.pg.GetAsset(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	if asset.Status == models.AssetStatusOpen {
		err = s.withRetry(ctx, func(ctx context.Context) error {
			price, bidder, err := s.rd.GetCurrent(ctx, id)
			if err != nil {
				return err
			}
			if bidder != "" {
				asset.CurrentBid = &models.Bid{
					AssetID: id,
					Bidder:  bidder,
					Price:   price,
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return asset, nil
}

// ListAssets pages the Postgres records. The denormalized current-highest
// columns may trail the hot path by a moment; eventual consistency within
// a single listing is acceptable.
func (s *MarketStore) ListAssets(ctx context.Context, q ListQuery) ([]*models.Asset, error) {
	var assets []*models.Asset
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		assets, err = s.pg.ListAssets(ctx, q)
		return err
	})
	return assets, err
}

// AppendBidIfHighest runs the Lua compare-and-set: strict excess over the
// current highest, with closure and the end-time bound enforced in the
// same atomic script.
func (s *MarketStore) AppendBidIfHighest(ctx context.Context, assetID string, bid *models.Bid, now time.Time) (*BidOutcome, error) {
	var asset *models.Asset
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		asset, err = s.pg.GetAsset(ctx, assetID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if asset.Status == models.AssetStatusClosed {
		return &BidOutcome{Closed: true, CurrentPrice: currentPrice(asset)}, nil
	}

	var outcome *BidOutcome
	err = s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		outcome, err = s.rd.TryBid(ctx, assetID, bid.Bidder, bid.Price, now, asset.EndTime, asset.StartPrice)
		return err
	})
	return outcome, err
}

// CloseAsset performs the idempotent close: the Redis flag freezes the hot
// state and gates new bids, the Postgres conditional update freezes the
// last sale. Both sides tolerate racing callers.
func (s *MarketStore) CloseAsset(ctx context.Context, id string) (*models.Asset, error) {
	var asset *models.Asset
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		asset, err = s.pg.GetAsset(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if asset.Status == models.AssetStatusClosed {
		return asset, nil
	}

	var frozen *CloseResult
	err = s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		frozen, err = s.rd.Close(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	var sale *models.LastSale
	if frozen.Bidder != "" {
		// The sale records the winning bid, timestamped at its acceptance.
		at := frozen.At
		if at.IsZero() {
			at = asset.EndTime
		}
		sale = &models.LastSale{
			Price:     frozen.Price,
			Buyer:     frozen.Bidder,
			Timestamp: at,
		}
	}

	err = s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		asset, err = s.pg.CloseAsset(ctx, id, sale)
		return err
	})
	return asset, err
}

// ListExpired delegates to Postgres.
func (s *MarketStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.Asset, error) {
	var assets []*models.Asset
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		assets, err = s.pg.ListExpired(ctx, now, limit)
		return err
	})
	return assets, err
}

// BidHistory delegates to the archived Postgres history.
func (s *MarketStore) BidHistory(ctx context.Context, assetID string, limit int) ([]*models.Bid, error) {
	var bids []*models.Bid
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		bids, err = s.pg.BidHistory(ctx, assetID, limit)
		return err
	})
	return bids, err
}

// withRetry runs op under the per-attempt timeout, retrying transient
// failures with exponential backoff until MaxElapsed. Business errors
// (not found, validation) are never retried; an exhausted retry window is
// surfaced as ErrUnavailable.
func (s *MarketStore) withRetry(ctx context.Context, op func(ctx context.Context) error) error {
	attempt := func() error {
		opCtx, cancel := context.WithTimeout(ctx, s.Timeout)
		defer cancel()

		err := op(opCtx)
		if err == nil {
			return nil
		}
		if isTerminal(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = s.MaxElapsed
	if s.RetryInterval > 0 {
		bo.InitialInterval = s.RetryInterval
	}

	err := backoff.Retry(attempt, backoff.WithContext(bo, ctx))
	if err == nil {
		return nil
	}
	if isTerminal(err) {
		return err
	}
	return errs.Unavailable(err)
}

// isTerminal reports errors that retrying cannot help.
func isTerminal(err error) bool {
	var vErr *errs.ValidationError
	return errors.Is(err, errs.ErrNotFound) ||
		errors.As(err, &vErr) ||
		errors.Is(err, context.Canceled)
}

func currentPrice(asset *models.Asset) float64 {
	if asset.CurrentBid != nil {
		return asset.CurrentBid.Price
	}
	if asset.LastSale != nil {
		return asset.LastSale.Price
	}
	return asset.StartPrice
}
