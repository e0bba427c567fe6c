package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient wraps Redis with the auction's hot-path operations: the
// atomic compare-and-set on an asset's current highest bid, the one-way
// close flag, and Pub/Sub publication of bid events.
type RedisClient struct {
	client *redis.Client
	// Lua script for the atomic bid compare-and-set.
	bidScript *redis.Script
	// Lua script for the idempotent close transition.
	closeScript *redis.Script
}

// NewRedisClient connects to Redis and prepares the auction scripts.
func NewRedisClient(addr, password string, db int) (*RedisClient, error) {
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

	// The script runs atomically on the Redis server, so two simultaneous
	// bidders on the same asset can never both win, and a bid can never
	// slip past a concurrent close.
	bidScript := redis.NewScript(`
		-- KEYS[1]: asset:{id}:price   (current highest price)
		-- KEYS[2]: asset:{id}:bidder  (current highest bidder)
		-- KEYS[3]: asset:{id}:closed  (close flag)
		-- KEYS[4]: asset:{id}:bid_at  (accepted bid time, unix ms)
		-- ARGV[1]: new bid price
		-- ARGV[2]: bidder address
		-- ARGV[3]: now, unix milliseconds
		-- ARGV[4]: auction end time, unix milliseconds
		-- ARGV[5]: start price, used when no bid exists yet

		local current = redis.call('GET', KEYS[1])
		local bidder = redis.call('GET', KEYS[2])
		if not current then
			current = tonumber(ARGV[5])
			bidder = ''
		else
			current = tonumber(current)
			if not bidder then bidder = '' end
		end

		-- Closure takes precedence over an in-flight bid. The end time is
		-- an exclusive upper bound for acceptance.
		if redis.call('EXISTS', KEYS[3]) == 1 or tonumber(ARGV[3]) >= tonumber(ARGV[4]) then
			return {-1, tostring(current), bidder}
		end

		-- Strict excess: equal price is rejected.
		if tonumber(ARGV[1]) > current then
			redis.call('SET', KEYS[1], ARGV[1])
			redis.call('SET', KEYS[2], ARGV[2])
			redis.call('SET', KEYS[4], ARGV[3])
			return {1, tostring(current), bidder}
		end

		return {0, tostring(current), bidder}
	`)

	closeScript := redis.NewScript(`
		-- KEYS[1]: asset:{id}:closed
		-- KEYS[2]: asset:{id}:price
		-- KEYS[3]: asset:{id}:bidder
		-- KEYS[4]: asset:{id}:bid_at
		-- Idempotent: only the first caller flips the flag, every caller
		-- sees the same frozen price, bidder and bid time.
		local first = redis.call('SETNX', KEYS[1], '1')
		local price = redis.call('GET', KEYS[2])
		local bidder = redis.call('GET', KEYS[3])
		local at = redis.call('GET', KEYS[4])
		if not price then price = '' end
		if not bidder then bidder = '' end
		if not at then at = '' end
		return {first, price, bidder, at}
	`)

	return &RedisClient{
		client:      rdb,
		bidScript:   bidScript,
		closeScript: closeScript,
	}, nil
}

func assetKeys(assetID string) []string {
	return []string{
		fmt.Sprintf("asset:%s:price", assetID),
		fmt.Sprintf("asset:%s:bidder", assetID),
		fmt.Sprintf("asset:%s:closed", assetID),
		fmt.Sprintf("asset:%s:bid_at", assetID),
	}
}

// SeedAsset initializes the price key to the start price if it is not
// already present. Called when an asset is created.
func (c *RedisClient) SeedAsset(ctx context.Context, assetID string, startPrice float64) error {
	key := fmt.Sprintf("asset:%s:price", assetID)
	return c.client.SetNX(ctx, key, startPrice, 0).Err()
}

// TryBid executes the atomic compare-and-set for one bid attempt.
func (c *RedisClient) TryBid(ctx context.Context, assetID, bidder string, price float64, now, endTime time.Time, startPrice float64) (*BidOutcome, error) {
	result, err := c.bidScript.Run(ctx, c.client, assetKeys(assetID),
		price, bidder, now.UnixMilli(), endTime.UnixMilli(), startPrice).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to execute bid script: %w", err)
	}

	arr, ok := result.([]interface{})
	if !ok || len(arr) != 3 {
		return nil, fmt.Errorf("unexpected bid script result: %v", result)
	}

	flag, _ := arr[0].(int64)
	prev, err := scriptFloat(arr[1])
	if err != nil {
		return nil, fmt.Errorf("unexpected bid script price: %w", err)
	}
	prevBidder, _ := arr[2].(string)

	outcome := &BidOutcome{
		CurrentPrice:  prev,
		CurrentBidder: prevBidder,
		PreviousPrice: prev,
	}
	switch flag {
	case 1:
		outcome.Accepted = true
		outcome.CurrentPrice = price
		outcome.CurrentBidder = bidder
	case -1:
		outcome.Closed = true
	}
	return outcome, nil
}

// CloseResult is the frozen hot state after a close transition.
type CloseResult struct {
	// First is true only for the caller that performed the transition.
	First  bool
	Price  float64
	Bidder string
	// At is the winning bid's timestamp; zero when no bid was placed.
	At time.Time
}

// Close flips the asset's close flag and returns the frozen highest bid.
// Safe to call concurrently from any number of request handlers.
func (c *RedisClient) Close(ctx context.Context, assetID string) (*CloseResult, error) {
	keys := []string{
		fmt.Sprintf("asset:%s:closed", assetID),
		fmt.Sprintf("asset:%s:price", assetID),
		fmt.Sprintf("asset:%s:bidder", assetID),
		fmt.Sprintf("asset:%s:bid_at", assetID),
	}
	result, err := c.closeScript.Run(ctx, c.client, keys).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to execute close script: %w", err)
	}

	arr, ok := result.([]interface{})
	if !ok || len(arr) != 4 {
		return nil, fmt.Errorf("unexpected close script result: %v", result)
	}

	flag, _ := arr[0].(int64)
	res := &CloseResult{First: flag == 1}
	if s, _ := arr[1].(string); s != "" {
		res.Price, err = strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("unexpected close script price: %w", err)
		}
	}
	res.Bidder, _ = arr[2].(string)
	if s, _ := arr[3].(string); s != "" {
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("unexpected close script bid time: %w", err)
		}
		res.At = time.UnixMilli(ms).UTC()
	}
	return res, nil
}

// GetCurrent returns the asset's current highest price and bidder.
func (c *RedisClient) GetCurrent(ctx context.Context, assetID string) (float64, string, error) {
	pipe := c.client.Pipeline()
	priceCmd := pipe.Get(ctx, fmt.Sprintf("asset:%s:price", assetID))
	bidderCmd := pipe.Get(ctx, fmt.Sprintf("asset:%s:bidder", assetID))

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return 0, "", fmt.Errorf("failed to get current bid: %w", err)
	}

	var price float64
	if priceCmd.Err() == nil {
		if err := priceCmd.Scan(&price); err != nil {
			price = 0
		}
	}
	var bidder string
	if bidderCmd.Err() == nil {
		bidder = bidderCmd.Val()
	}
	return price, bidder, nil
}

// PublishBidEvent publishes a bid event to the asset's Pub/Sub channel.
// The broadcast service forwards these to WebSocket subscribers.
func (c *RedisClient) PublishBidEvent(ctx context.Context, assetID string, event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	channel := fmt.Sprintf("bid_events:%s", assetID)
	return c.client.Publish(ctx, channel, payload).Err()
}

// Close closes the Redis connection.
func (c *RedisClient) CloseConn() error {
	return c.client.Close()
}

// scriptFloat decodes a numeric script return that Redis may hand back as
// either an int64 or a string.
func scriptFloat(v interface{}) (float64, error) {
	switch t := v.(type) {
	case int64:
		return float64(t), nil
	case string:
		return strconv.ParseFloat(t, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}
