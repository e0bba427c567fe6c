package models

import "time"

// Category is the closed set of asset categories. Anything outside this set
// is rejected at validation time.
type Category string

const (
	CategoryArt         Category = "art"
	CategoryCelebrities Category = "celebrities"
	CategoryGaming      Category = "gaming"
	CategorySport       Category = "sport"
	CategoryMusic       Category = "music"
	CategoryCrypto      Category = "crypto"
)

// Categories lists every valid category, in display order.
var Categories = []Category{
	CategoryArt,
	CategoryCelebrities,
	CategoryGaming,
	CategorySport,
	CategoryMusic,
	CategoryCrypto,
}

// Valid reports whether c is a member of the closed category set.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// AssetStatus constants. The transition is one-way: open -> closed.
const (
	AssetStatusOpen   = "open"
	AssetStatusClosed = "closed"
)

// LastSale is the frozen record of the winning bid once an auction closes.
type LastSale struct {
	Price     float64   `json:"price"`
	Buyer     string    `json:"buyer"`
	Timestamp time.Time `json:"timestamp"`
}

// Asset represents an item listed for auction.
type Asset struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Category   Category  `json:"category"`
	Creator    string    `json:"creator"`
	Image      string    `json:"image"`
	StartPrice float64   `json:"start_price"`
	CurrentBid *Bid      `json:"current_bid,omitempty"`
	LastSale   *LastSale `json:"last_sale,omitempty"`
	Status     string    `json:"status"`
	EndTime    time.Time `json:"end_time"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Open reports whether the auction is still accepting bids at instant now.
// The end time is an exclusive upper bound: a bid arriving at exactly
// EndTime is already too late.
func (a *Asset) Open(now time.Time) bool {
	return a.Status == AssetStatusOpen && now.Before(a.EndTime)
}
