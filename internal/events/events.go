// Package events fans accepted bids out to the systems downstream of the
// engine: Redis Pub/Sub for real-time broadcast and NATS JetStream for
// archival. Publication is best effort and never blocks bid acceptance.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/oguzhanali/nft-marketplace/internal/models"
)

const (
	// StreamName is the JetStream stream holding bid events until the
	// archival worker consumes them.
	StreamName = "BID_EVENTS"

	// SubjectPrefix is the JetStream subject root; the asset ID is the
	// final token.
	SubjectPrefix = "bid.events"
)

// Publisher delivers accepted-bid events downstream.
type Publisher interface {
	PublishBid(ctx context.Context, event *models.BidEvent) error
}

// PubSub is the Redis side of the fan-out; the storage RedisClient
// satisfies it.
type PubSub interface {
	PublishBidEvent(ctx context.Context, assetID string, event interface{}) error
}

// Bus publishes to Redis Pub/Sub (real-time) and JetStream (archival).
type Bus struct {
	pubsub PubSub
	js     jetstream.JetStream
	log    zerolog.Logger
}

// NewBus creates the JetStream context and ensures the bid-event stream
// exists.
func NewBus(natsConn *nats.Conn, pubsub PubSub, log zerolog.Logger) (*Bus, error) {
	js, err := jetstream.New(natsConn)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Stream for bid events archival",
		Subjects:    []string{SubjectPrefix + ".*"},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.WorkQueuePolicy,
		MaxAge:      24 * time.Hour,
		Replicas:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream: %w", err)
	}
	log.Info().Str("stream", StreamName).Msg("jetstream stream ready")

	return &Bus{pubsub: pubsub, js: js, log: log}, nil
}

// PublishBid sends the event to the broadcast channel and the archival
// stream. The JetStream publish waits for a server ack so the message is
// persisted before we report success.
func (b *Bus) PublishBid(ctx context.Context, event *models.BidEvent) error {
	if err := b.pubsub.PublishBidEvent(ctx, event.AssetID, event); err != nil {
		// Broadcast is cosmetic; archival still proceeds.
		b.log.Warn().Err(err).Str("asset_id", event.AssetID).Msg("failed to publish bid event to pubsub")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", SubjectPrefix, event.AssetID)
	ack, err := b.js.Publish(ctx, subject, data)
	if err != nil {
		return fmt.Errorf("failed to publish to JetStream: %w", err)
	}
	b.log.Debug().Str("subject", subject).Uint64("seq", ack.Sequence).Msg("published bid event")
	return nil
}

// NopPublisher discards events. Used in tests and development mode.
type NopPublisher struct{}

// PublishBid implements Publisher.
func (NopPublisher) PublishBid(ctx context.Context, event *models.BidEvent) error { return nil }
