package postgres

import (
	"context"
	"errors"

	"github.com/dafibh/marketplace/settlement-backend/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MarketplaceRepository reads order ownership and seller contact data from the
// marketplace tables shared with the order service
type MarketplaceRepository struct {
	pool *pgxpool.Pool
}

// NewMarketplaceRepository creates a new MarketplaceRepository
func NewMarketplaceRepository(pool *pgxpool.Pool) *MarketplaceRepository {
	return &MarketplaceRepository{pool: pool}
}

// GetOrderBuyerID implements domain.OrderDirectory
func (r *MarketplaceRepository) GetOrderBuyerID(ctx context.Context, orderID uuid.UUID) (string, error) {
	var buyerID string
	err := r.pool.QueryRow(ctx, `SELECT buyer_id FROM orders WHERE id = $1`, orderID).Scan(&buyerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrOrderNotFound
	}
	return buyerID, err
}

// GetSellerEmail implements domain.SellerDirectory
func (r *MarketplaceRepository) GetSellerEmail(ctx context.Context, sellerID uuid.UUID) (*string, error) {
	var email *string
	err := r.pool.QueryRow(ctx, `SELECT email FROM sellers WHERE id = $1`, sellerID).Scan(&email)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSellerNotFound
	}
	return email, err
}
