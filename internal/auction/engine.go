// Package auction owns the business rules around bid acceptance and
// auction closure. Storage mechanics live behind the storage.Store
// contract; this package decides.
package auction

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/oguzhanali/nft-marketplace/internal/errs"
	"github.com/oguzhanali/nft-marketplace/internal/events"
	"github.com/oguzhanali/nft-marketplace/internal/metrics"
	"github.com/oguzhanali/nft-marketplace/internal/models"
	"github.com/oguzhanali/nft-marketplace/internal/storage"
)

// Engine enforces bid validity and the auction lifecycle.
type Engine struct {
	store  storage.Store
	events events.Publisher
	log    zerolog.Logger
	now    func() time.Time
}

// New creates an engine over the given store.
func New(store storage.Store, publisher events.Publisher, log zerolog.Logger) *Engine {
	return &Engine{
		store:  store,
		events: publisher,
		log:    log,
		now:    time.Now,
	}
}

// WithClock replaces the engine's clock. Used by tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// PlaceBid validates and applies one bid attempt. The error ladder is
// fixed: unknown asset, then closed auction, then malformed bid, then
// insufficient price. Rejections never mutate state.
func (e *Engine) PlaceBid(ctx context.Context, assetID, bidder string, price float64) (*models.Bid, error) {
	now := e.now().UTC()

	asset, err := e.store.GetAsset(ctx, assetID)
	if err != nil {
		metrics.RecordBid("error")
		return nil, err
	}

	if !asset.Open(now) {
		// Lazy closure: the read that discovers an expired auction also
		// transitions it.
		if asset.Status == models.AssetStatusOpen {
			if _, err := e.CloseIfExpired(ctx, asset); err != nil {
				e.log.Warn().Err(err).Str("asset_id", assetID).Msg("lazy close failed")
			}
		}
		metrics.RecordBid("closed")
		return nil, errs.ErrAuctionClosed
	}

	if bidder == "" {
		metrics.RecordBid("invalid")
		return nil, errs.Validation("user", "bidder is required")
	}
	if price <= 0 {
		metrics.RecordBid("invalid")
		return nil, errs.Validation("price", "price must be positive")
	}

	bid := &models.Bid{
		ID:        uuid.NewString(),
		AssetID:   assetID,
		Bidder:    bidder,
		Price:     price,
		Timestamp: now,
	}

	outcome, err := e.store.AppendBidIfHighest(ctx, assetID, bid, now)
	if err != nil {
		metrics.RecordBid("error")
		return nil, err
	}
	if outcome.Closed {
		metrics.RecordBid("closed")
		return nil, errs.ErrAuctionClosed
	}
	if !outcome.Accepted {
		metrics.RecordBid("too_low")
		return nil, &errs.BidTooLowError{CurrentHighest: outcome.CurrentPrice}
	}

	metrics.RecordBid("accepted")
	e.log.Info().
		Str("asset_id", assetID).
		Str("bidder", bidder).
		Float64("price", price).
		Float64("previous", outcome.PreviousPrice).
		Msg("bid accepted")

	event := &models.BidEvent{
		EventID:       uuid.NewString(),
		AssetID:       assetID,
		BidID:         bid.ID,
		Bidder:        bidder,
		Price:         price,
		PreviousPrice: outcome.PreviousPrice,
		Timestamp:     bid.Timestamp,
	}

	// Fan-out must not block or fail the accept path.
	go func() {
		pubCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.events.PublishBid(pubCtx, event); err != nil {
			e.log.Warn().Err(err).Str("event_id", event.EventID).Msg("failed to publish bid event")
		}
	}()

	return bid, nil
}

// CloseIfExpired transitions the asset to closed once its end time has
// passed, freezing the last sale from the current highest bid. Idempotent:
// an already-closed asset is returned unchanged, and racing callers (lazy
// read-path closure and the periodic sweep) converge on the same state.
func (e *Engine) CloseIfExpired(ctx context.Context, asset *models.Asset) (*models.Asset, error) {
	if asset.Status == models.AssetStatusClosed {
		return asset, nil
	}
	if e.now().UTC().Before(asset.EndTime) {
		return asset, nil
	}

	closed, err := e.store.CloseAsset(ctx, asset.ID)
	if err != nil {
		return nil, err
	}

	metrics.RecordAuctionClosed()
	logEvent := e.log.Info().Str("asset_id", asset.ID)
	if closed.LastSale != nil {
		logEvent = logEvent.Float64("sale_price", closed.LastSale.Price).Str("buyer", closed.LastSale.Buyer)
	}
	logEvent.Msg("auction closed")
	return closed, nil
}

// SweepExpired closes every open auction past its end time. Driven by the
// cron schedule in the server; lazy closure on read remains the
// correctness mechanism, this just keeps listings tidy between reads.
func (e *Engine) SweepExpired(ctx context.Context) {
	now := e.now().UTC()
	expired, err := e.store.ListExpired(ctx, now, storage.MaxLimit)
	if err != nil {
		e.log.Warn().Err(err).Msg("closure sweep: listing expired assets failed")
		return
	}

	for _, asset := range expired {
		if _, err := e.CloseIfExpired(ctx, asset); err != nil {
			e.log.Warn().Err(err).Str("asset_id", asset.ID).Msg("closure sweep: close failed")
		}
	}
	if len(expired) > 0 {
		e.log.Info().Int("count", len(expired)).Msg("closure sweep finished")
	}
}
