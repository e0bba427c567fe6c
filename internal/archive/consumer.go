// Package archive consumes accepted-bid events from NATS JetStream and
// persists the append-only bid history into PostgreSQL.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/oguzhanali/nft-marketplace/internal/events"
	"github.com/oguzhanali/nft-marketplace/internal/models"
)

// Archiver is the write side the consumer feeds; the storage
// PostgresStore satisfies it.
type Archiver interface {
	ArchiveBidEvent(ctx context.Context, event *models.BidEvent) error
}

// Consumer pulls bid events off the archival stream.
type Consumer struct {
	conn    *nats.Conn
	archive Archiver
	log     zerolog.Logger

	consumeCtx jetstream.ConsumeContext
}

// NewConsumer connects to NATS.
func NewConsumer(natsURL string, archive Archiver, log zerolog.Logger) (*Consumer, error) {
	conn, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &Consumer{conn: conn, archive: archive, log: log}, nil
}

// Start creates the durable consumer on the bid-event stream and handles
// messages until ctx is done.
func (c *Consumer) Start(ctx context.Context) error {
	js, err := jetstream.New(c.conn)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	consumer, err := js.CreateOrUpdateConsumer(ctx, events.StreamName, jetstream.ConsumerConfig{
		Durable:       "archival",
		AckPolicy:     jetstream.AckExplicitPolicy,
		FilterSubject: events.SubjectPrefix + ".*",
		MaxDeliver:    5,
		AckWait:       30 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	c.consumeCtx, err = consumer.Consume(func(msg jetstream.Msg) {
		c.handleMessage(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	c.log.Info().Str("stream", events.StreamName).Msg("archival consumer running")

	<-ctx.Done()
	return nil
}

// handleMessage archives one event. The archive write is idempotent by
// bid ID, so redelivered messages are harmless.
func (c *Consumer) handleMessage(ctx context.Context, msg jetstream.Msg) {
	var event models.BidEvent
	if err := json.Unmarshal(msg.Data(), &event); err != nil {
		c.log.Error().Err(err).Msg("failed to unmarshal bid event, dropping")
		// A malformed message will never parse; terminate delivery.
		msg.Term()
		return
	}

	dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := c.archive.ArchiveBidEvent(dbCtx, &event); err != nil {
		c.log.Warn().Err(err).Str("event_id", event.EventID).Msg("failed to archive bid event")
		msg.Nak()
		return
	}

	c.log.Debug().
		Str("event_id", event.EventID).
		Str("asset_id", event.AssetID).
		Str("bidder", event.Bidder).
		Float64("price", event.Price).
		Msg("archived bid event")
	msg.Ack()
}

// Close stops consumption and closes the connection.
func (c *Consumer) Close() error {
	if c.consumeCtx != nil {
		c.consumeCtx.Stop()
	}
	c.conn.Close()
	return nil
}
