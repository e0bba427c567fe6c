// Package catalog onboards new auctions and serves the paginated,
// filterable asset listing.
package catalog

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/oguzhanali/nft-marketplace/internal/auction"
	"github.com/oguzhanali/nft-marketplace/internal/errs"
	"github.com/oguzhanali/nft-marketplace/internal/models"
	"github.com/oguzhanali/nft-marketplace/internal/storage"
)

// CreateInput carries the user-supplied fields for a new auction.
type CreateInput struct {
	Title      string
	Category   string
	Creator    string
	Image      string
	StartPrice float64
	EndTime    time.Time
}

// Service is the catalog: asset creation and listing.
type Service struct {
	store  storage.Store
	engine *auction.Engine
	log    zerolog.Logger
	now    func() time.Time
}

// New creates a catalog service.
func New(store storage.Store, engine *auction.Engine, log zerolog.Logger) *Service {
	return &Service{
		store:  store,
		engine: engine,
		log:    log,
		now:    time.Now,
	}
}

// WithClock replaces the service clock. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateAsset validates the input and stores the asset as an open auction
// with no bids and no sale.
func (s *Service) CreateAsset(ctx context.Context, input CreateInput) (*models.Asset, error) {
	now := s.now().UTC()

	fields := map[string]string{}
	if input.Title == "" {
		fields["title"] = "title is required"
	}
	if input.Creator == "" {
		fields["creator"] = "creator is required"
	}
	if input.Image == "" {
		fields["image"] = "image is required"
	}
	if !models.Category(input.Category).Valid() {
		fields["category"] = "unknown category"
	}
	if !input.EndTime.After(now) {
		fields["endTime"] = "end time must be in the future"
	}
	if input.StartPrice < 0 {
		fields["startPrice"] = "start price cannot be negative"
	}
	if len(fields) > 0 {
		return nil, &errs.ValidationError{Fields: fields}
	}

	asset := &models.Asset{
		Title:      input.Title,
		Category:   models.Category(input.Category),
		Creator:    input.Creator,
		Image:      input.Image,
		StartPrice: input.StartPrice,
		Status:     models.AssetStatusOpen,
		EndTime:    input.EndTime.UTC(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	id, err := s.store.PutAsset(ctx, asset)
	if err != nil {
		return nil, err
	}
	asset.ID = id

	s.log.Info().
		Str("asset_id", id).
		Str("category", input.Category).
		Str("creator", input.Creator).
		Time("end_time", asset.EndTime).
		Msg("asset created")
	return asset, nil
}

// List returns one listing page. Expired auctions in the page are closed
// before the page is returned, so listings always reflect the current
// lifecycle state without depending on the background sweep.
func (s *Service) List(ctx context.Context, offset, limit int, category string) ([]*models.Asset, error) {
	if category != "" && !models.Category(category).Valid() {
		return nil, errs.Validation("category", "unknown category")
	}

	assets, err := s.store.ListAssets(ctx, storage.ListQuery{
		Offset:   offset,
		Limit:    limit,
		Category: models.Category(category),
	})
	if err != nil {
		return nil, err
	}

	for i, asset := range assets {
		closed, err := s.engine.CloseIfExpired(ctx, asset)
		if err != nil {
			// Listing still serves; the next read or the sweep retries.
			s.log.Warn().Err(err).Str("asset_id", asset.ID).Msg("lazy close during listing failed")
			continue
		}
		assets[i] = closed
	}
	return assets, nil
}

// GetAsset returns one asset, lazily closing it when expired.
func (s *Service) GetAsset(ctx context.Context, id string) (*models.Asset, error) {
	asset, err := s.store.GetAsset(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.engine.CloseIfExpired(ctx, asset)
}

// BidHistory returns the asset's bids, most recent first.
func (s *Service) BidHistory(ctx context.Context, assetID string, limit int) ([]*models.Bid, error) {
	if _, err := s.store.GetAsset(ctx, assetID); err != nil {
		return nil, err
	}
	return s.store.BidHistory(ctx, assetID, limit)
}
