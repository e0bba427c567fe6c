package broadcast

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// channelPrefix matches the Pub/Sub channels the engine publishes
// accepted bids on.
const channelPrefix = "bid_events:"

// Subscriber wraps the Redis Pub/Sub side of the broadcast service.
type Subscriber struct {
	client *redis.Client
	pubsub *redis.PubSub
	log    zerolog.Logger
}

// Event is a parsed Pub/Sub message.
type Event struct {
	AssetID string
	Payload string
}

// NewSubscriber connects to Redis.
func NewSubscriber(addr, password string, db int, log zerolog.Logger) (*Subscriber, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &Subscriber{client: rdb, log: log}, nil
}

// SubscribeAll subscribes to every asset's bid-event channel.
func (s *Subscriber) SubscribeAll(ctx context.Context) error {
	s.pubsub = s.client.PSubscribe(ctx, channelPrefix+"*")
	return nil
}

// Listen forwards Pub/Sub messages to events until ctx is done. Blocking;
// run in a goroutine.
func (s *Subscriber) Listen(ctx context.Context, events chan<- *Event) error {
	if s.pubsub == nil {
		return fmt.Errorf("not subscribed")
	}

	ch := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			events <- &Event{
				AssetID: strings.TrimPrefix(msg.Channel, channelPrefix),
				Payload: msg.Payload,
			}
		}
	}
}

// Close closes the subscription and the connection.
func (s *Subscriber) Close() error {
	if s.pubsub != nil {
		s.pubsub.Close()
	}
	return s.client.Close()
}
