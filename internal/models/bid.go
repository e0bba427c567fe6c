package models

import "time"

// Bid represents a single accepted bid on an asset.
type Bid struct {
	ID        string    `json:"id"`
	AssetID   string    `json:"asset_id"`
	Bidder    string    `json:"bidder"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// BidEvent is published when a bid is accepted. It is sent to:
// 1. Redis Pub/Sub (for real-time WebSocket broadcast)
// 2. NATS JetStream (for archival to PostgreSQL)
type BidEvent struct {
	EventID       string    `json:"event_id"`
	AssetID       string    `json:"asset_id"`
	BidID         string    `json:"bid_id"`
	Bidder        string    `json:"bidder"`
	Price         float64   `json:"price"`
	PreviousPrice float64   `json:"previous_price"`
	Timestamp     time.Time `json:"timestamp"`
}

// ListRequest is the body of POST /api/list.
type ListRequest struct {
	Offset   int    `json:"offset"`
	Limit    int    `json:"limit,omitempty"`
	Category string `json:"category,omitempty"`
}

// BidRequest is the body of POST /api/makeBid.
type BidRequest struct {
	ID    string  `json:"id"`
	Price float64 `json:"price"`
	User  string  `json:"user"`
}

// BidResponse is returned after a bid attempt.
type BidResponse struct {
	Success    bool    `json:"success"`
	Message    string  `json:"message"`
	CurrentBid float64 `json:"current_bid"`
	Bidder     string  `json:"bidder,omitempty"`
	YourBid    float64 `json:"your_bid"`
	IsHighest  bool    `json:"is_highest"`
	EventID    string  `json:"event_id,omitempty"`
}
