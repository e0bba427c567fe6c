package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/oguzhanali/nft-marketplace/internal/errs"
	"github.com/oguzhanali/nft-marketplace/internal/models"
)

// PostgresStore holds the durable asset records and the append-only bid
// history.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool and verifies connectivity.
func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreWithDB wraps an existing database handle. Used by tests.
func NewPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// InitSchema creates the tables and indexes.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS assets (
		id VARCHAR(64) PRIMARY KEY,
		title VARCHAR(255) NOT NULL,
		category VARCHAR(32) NOT NULL,
		creator VARCHAR(255) NOT NULL,
		image VARCHAR(512) NOT NULL,
		start_price DECIMAL(16, 2) NOT NULL DEFAULT 0,
		current_price DECIMAL(16, 2),
		current_bidder VARCHAR(255),
		current_bid_at TIMESTAMPTZ,
		status VARCHAR(16) NOT NULL DEFAULT 'open',
		end_time TIMESTAMPTZ NOT NULL,
		last_sale_price DECIMAL(16, 2),
		last_sale_buyer VARCHAR(255),
		last_sale_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS bids (
		id VARCHAR(64) PRIMARY KEY,
		asset_id VARCHAR(64) NOT NULL REFERENCES assets(id) ON DELETE CASCADE,
		bidder VARCHAR(255) NOT NULL,
		price DECIMAL(16, 2) NOT NULL,
		ts TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_assets_category ON assets(category);
	CREATE INDEX IF NOT EXISTS idx_assets_created_at ON assets(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_assets_open_end_time ON assets(status, end_time);
	CREATE INDEX IF NOT EXISTS idx_bids_asset_ts ON bids(asset_id, ts);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

const assetColumns = `id, title, category, creator, image, start_price,
	current_price, current_bidder, current_bid_at, status, end_time,
	last_sale_price, last_sale_buyer, last_sale_at, created_at, updated_at`

// InsertAsset persists a new asset row, assigning an ID when absent.
func (s *PostgresStore) InsertAsset(ctx context.Context, asset *models.Asset) (string, error) {
	if err := ValidateAsset(asset); err != nil {
		return "", err
	}
	if asset.ID == "" {
		asset.ID = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assets (id, title, category, creator, image, start_price, status, end_time, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`, asset.ID, asset.Title, string(asset.Category), asset.Creator, asset.Image,
		asset.StartPrice, asset.Status, asset.EndTime, asset.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("failed to insert asset: %w", err)
	}
	return asset.ID, nil
}

// GetAsset loads one asset row.
func (s *PostgresStore) GetAsset(ctx context.Context, id string) (*models.Asset, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+assetColumns+`
		FROM assets
		WHERE id = $1
	`, id)

	asset, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}
	return asset, nil
}

// ListAssets returns a page ordered by creation time descending, with an
// optional category filter.
func (s *PostgresStore) ListAssets(ctx context.Context, q ListQuery) ([]*models.Asset, error) {
	q = q.Normalize()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+assetColumns+`
		FROM assets
		WHERE ($1 = '' OR category = $1)
		ORDER BY created_at DESC, id DESC
		OFFSET $2 LIMIT $3
	`, string(q.Category), q.Offset, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	defer rows.Close()

	assets := []*models.Asset{}
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		assets = append(assets, asset)
	}
	return assets, rows.Err()
}

// ListExpired returns open assets whose end time is at or before now.
func (s *PostgresStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.Asset, error) {
	if limit <= 0 {
		limit = MaxLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+assetColumns+`
		FROM assets
		WHERE status = 'open' AND end_time <= $1
		ORDER BY end_time
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired assets: %w", err)
	}
	defer rows.Close()

	assets := []*models.Asset{}
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		assets = append(assets, asset)
	}
	return assets, rows.Err()
}

// CloseAsset marks the asset closed and freezes the last sale. The
// conditional update makes the transition idempotent under concurrent
// callers; only the row's first closer writes the sale.
func (s *PostgresStore) CloseAsset(ctx context.Context, id string, sale *models.LastSale) (*models.Asset, error) {
	var (
		price sql.NullFloat64
		buyer sql.NullString
		at    sql.NullTime
	)
	if sale != nil {
		price = sql.NullFloat64{Float64: sale.Price, Valid: true}
		buyer = sql.NullString{String: sale.Buyer, Valid: true}
		at = sql.NullTime{Time: sale.Timestamp, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE assets
		SET status = 'closed',
		    last_sale_price = $2,
		    last_sale_buyer = $3,
		    last_sale_at = $4,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND status = 'open'
	`, id, price, buyer, at)
	if err != nil {
		return nil, fmt.Errorf("failed to close asset: %w", err)
	}

	return s.GetAsset(ctx, id)
}

// ArchiveBidEvent persists an accepted bid: the history row and the
// denormalized current-highest columns move in one transaction, so no
// observer can see one without the other. Idempotent by bid ID.
func (s *PostgresStore) ArchiveBidEvent(ctx context.Context, event *models.BidEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO bids (id, asset_id, bidder, price, ts)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, event.BidID, event.AssetID, event.Bidder, event.Price, event.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert bid: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		// Already archived; nothing else to do.
		return tx.Commit()
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE assets
		SET current_price = $2,
		    current_bidder = $3,
		    current_bid_at = $4,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND (current_price IS NULL OR current_price < $2)
	`, event.AssetID, event.Price, event.Bidder, event.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to update asset current bid: %w", err)
	}

	return tx.Commit()
}

// BidHistory returns the asset's bids, most recent first.
func (s *PostgresStore) BidHistory(ctx context.Context, assetID string, limit int) ([]*models.Bid, error) {
	if limit <= 0 || limit > MaxLimit {
		limit = MaxLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, asset_id, bidder, price, ts
		FROM bids
		WHERE asset_id = $1
		ORDER BY ts DESC
		LIMIT $2
	`, assetID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query bids: %w", err)
	}
	defer rows.Close()

	bids := []*models.Bid{}
	for rows.Next() {
		bid := &models.Bid{}
		if err := rows.Scan(&bid.ID, &bid.AssetID, &bid.Bidder, &bid.Price, &bid.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		bids = append(bids, bid)
	}
	return bids, rows.Err()
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAsset(row rowScanner) (*models.Asset, error) {
	var (
		asset         models.Asset
		category      string
		currentPrice  sql.NullFloat64
		currentBidder sql.NullString
		currentBidAt  sql.NullTime
		salePrice     sql.NullFloat64
		saleBuyer     sql.NullString
		saleAt        sql.NullTime
	)

	err := row.Scan(
		&asset.ID, &asset.Title, &category, &asset.Creator, &asset.Image,
		&asset.StartPrice, &currentPrice, &currentBidder, &currentBidAt,
		&asset.Status, &asset.EndTime, &salePrice, &saleBuyer, &saleAt,
		&asset.CreatedAt, &asset.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	asset.Category = models.Category(category)
	if currentPrice.Valid && currentBidder.Valid {
		asset.CurrentBid = &models.Bid{
			AssetID:   asset.ID,
			Bidder:    currentBidder.String,
			Price:     currentPrice.Float64,
			Timestamp: currentBidAt.Time,
		}
	}
	if salePrice.Valid && saleBuyer.Valid {
		asset.LastSale = &models.LastSale{
			Price:     salePrice.Float64,
			Buyer:     saleBuyer.String,
			Timestamp: saleAt.Time,
		}
	}
	return &asset, nil
}
