package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oguzhanali/nft-marketplace/internal/errs"
	"github.com/oguzhanali/nft-marketplace/internal/models"
)

// assetState is the unit of synchronization: one lock per asset, so
// bidders on different assets never contend.
type assetState struct {
	mu    sync.Mutex
	asset *models.Asset
	bids  []*models.Bid
}

// MemoryStore is an in-process Store used by tests and development mode.
type MemoryStore struct {
	mu     sync.RWMutex
	assets map[string]*assetState
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{assets: make(map[string]*assetState)}
}

// PutAsset persists the asset, assigning an ID when absent.
func (s *MemoryStore) PutAsset(ctx context.Context, asset *models.Asset) (string, error) {
	if err := ValidateAsset(asset); err != nil {
		return "", err
	}
	if asset.ID == "" {
		asset.ID = uuid.NewString()
	}

	copied := *asset
	s.mu.Lock()
	s.assets[asset.ID] = &assetState{asset: &copied}
	s.mu.Unlock()
	return asset.ID, nil
}

// GetAsset returns a copy of the stored asset.
func (s *MemoryStore) GetAsset(ctx context.Context, id string) (*models.Asset, error) {
	state, err := s.state(id)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return cloneAsset(state.asset), nil
}

// ListAssets returns a page ordered by creation time descending.
func (s *MemoryStore) ListAssets(ctx context.Context, q ListQuery) ([]*models.Asset, error) {
	q = q.Normalize()

	s.mu.RLock()
	all := make([]*assetState, 0, len(s.assets))
	for _, state := range s.assets {
		all = append(all, state)
	}
	s.mu.RUnlock()

	matched := make([]*models.Asset, 0, len(all))
	for _, state := range all {
		state.mu.Lock()
		asset := cloneAsset(state.asset)
		state.mu.Unlock()
		if q.Category != "" && asset.Category != q.Category {
			continue
		}
		matched = append(matched, asset)
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if q.Offset >= len(matched) {
		return []*models.Asset{}, nil
	}
	end := q.Offset + q.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[q.Offset:end], nil
}

// AppendBidIfHighest serializes on the asset's lock and applies the
// strict-excess compare-and-set.
func (s *MemoryStore) AppendBidIfHighest(ctx context.Context, assetID string, bid *models.Bid, now time.Time) (*BidOutcome, error) {
	state, err := s.state(assetID)
	if err != nil {
		return nil, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	asset := state.asset
	current := asset.StartPrice
	bidder := ""
	if asset.CurrentBid != nil {
		current = asset.CurrentBid.Price
		bidder = asset.CurrentBid.Bidder
	}

	if !asset.Open(now) {
		return &BidOutcome{Closed: true, CurrentPrice: current, CurrentBidder: bidder, PreviousPrice: current}, nil
	}
	if bid.Price <= current {
		return &BidOutcome{CurrentPrice: current, CurrentBidder: bidder, PreviousPrice: current}, nil
	}

	// Timestamps are monotonically non-decreasing per asset.
	if n := len(state.bids); n > 0 && bid.Timestamp.Before(state.bids[n-1].Timestamp) {
		bid.Timestamp = state.bids[n-1].Timestamp
	}

	accepted := *bid
	state.bids = append(state.bids, &accepted)
	asset.CurrentBid = &accepted
	asset.UpdatedAt = bid.Timestamp

	return &BidOutcome{
		Accepted:      true,
		CurrentPrice:  bid.Price,
		CurrentBidder: bid.Bidder,
		PreviousPrice: current,
	}, nil
}

// CloseAsset freezes the asset's final state. Idempotent.
func (s *MemoryStore) CloseAsset(ctx context.Context, id string) (*models.Asset, error) {
	state, err := s.state(id)
	if err != nil {
		return nil, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	asset := state.asset
	if asset.Status == models.AssetStatusClosed {
		return cloneAsset(asset), nil
	}

	asset.Status = models.AssetStatusClosed
	if asset.CurrentBid != nil {
		asset.LastSale = &models.LastSale{
			Price:     asset.CurrentBid.Price,
			Buyer:     asset.CurrentBid.Bidder,
			Timestamp: asset.CurrentBid.Timestamp,
		}
	}
	return cloneAsset(asset), nil
}

// ListExpired returns open assets whose end time has passed.
func (s *MemoryStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.Asset, error) {
	s.mu.RLock()
	all := make([]*assetState, 0, len(s.assets))
	for _, state := range s.assets {
		all = append(all, state)
	}
	s.mu.RUnlock()

	expired := make([]*models.Asset, 0)
	for _, state := range all {
		state.mu.Lock()
		asset := state.asset
		if asset.Status == models.AssetStatusOpen && !now.Before(asset.EndTime) {
			expired = append(expired, cloneAsset(asset))
		}
		state.mu.Unlock()
		if limit > 0 && len(expired) >= limit {
			break
		}
	}
	return expired, nil
}

// BidHistory returns the asset's bids, most recent first.
func (s *MemoryStore) BidHistory(ctx context.Context, assetID string, limit int) ([]*models.Bid, error) {
	state, err := s.state(assetID)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	n := len(state.bids)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*models.Bid, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		copied := *state.bids[i]
		out = append(out, &copied)
	}
	return out, nil
}

func (s *MemoryStore) state(id string) (*assetState, error) {
	s.mu.RLock()
	state, ok := s.assets[id]
	s.mu.RUnlock()
	if !ok {
		return nil, errs.ErrNotFound
	}
	return state, nil
}

func cloneAsset(a *models.Asset) *models.Asset {
	copied := *a
	if a.CurrentBid != nil {
		bid := *a.CurrentBid
		copied.CurrentBid = &bid
	}
	if a.LastSale != nil {
		sale := *a.LastSale
		copied.LastSale = &sale
	}
	return &copied
}
