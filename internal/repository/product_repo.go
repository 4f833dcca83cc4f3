package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"order-service/internal/metrics"
	"order-service/internal/models"
)

// ProductRepository is the stock ledger: the authoritative per-product
// quantity record. It performs no locking itself; correctness of Reserve
// depends entirely on the caller holding the product's lock lease for the
// whole call.
type ProductRepository struct {
	db *sqlx.DB
}

// NewProductRepository creates a new product repository
func NewProductRepository(db *sqlx.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// GetProduct retrieves an active product by id
func (r *ProductRepository) GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	query := `SELECT id, name, price_cents, stock_quantity, low_stock_threshold, is_active, created_at, updated_at
			  FROM products WHERE id = $1 AND is_active = TRUE`

	err := r.db.GetContext(ctx, &product, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		log.Error().Err(err).Str("product_id", id.String()).Msg("Failed to get product")
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	return &product, nil
}

// GetProducts retrieves active products for the given ids, keyed by id
func (r *ProductRepository) GetProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Product, error) {
	query, args, err := sqlx.In(`SELECT id, name, price_cents, stock_quantity, low_stock_threshold, is_active, created_at, updated_at
			  FROM products WHERE id IN (?) AND is_active = TRUE`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build products query: %w", err)
	}

	var products []models.Product
	if err := r.db.SelectContext(ctx, &products, r.db.Rebind(query), args...); err != nil {
		log.Error().Err(err).Msg("Failed to get products")
		return nil, fmt.Errorf("failed to get products: %w", err)
	}

	result := make(map[uuid.UUID]*models.Product, len(products))
	for i := range products {
		result[products[i].ID] = &products[i]
	}
	return result, nil
}

// Reserve decrements available stock by qty if enough is available. The
// guarded single-statement update never lets the quantity go negative; zero
// affected rows means insufficient stock (or an unknown product), in which
// case nothing is mutated.
//
// Must only be invoked while the caller holds the product's lock.
func (r *ProductRepository) Reserve(ctx context.Context, productID uuid.UUID, qty int) error {
	query := `UPDATE products
			  SET stock_quantity = stock_quantity - $2, updated_at = NOW()
			  WHERE id = $1 AND stock_quantity >= $2
			  RETURNING stock_quantity, low_stock_threshold`

	var remaining, threshold int
	err := r.db.QueryRowContext(ctx, query, productID, qty).Scan(&remaining, &threshold)
	if err != nil {
		if err == sql.ErrNoRows {
			return r.insufficientStock(ctx, productID, qty)
		}
		log.Error().Err(err).Str("product_id", productID.String()).Msg("Failed to reserve stock")
		return &models.BackendUnavailableError{Component: "database", Cause: err}
	}

	if remaining <= threshold {
		log.Warn().
			Str("product_id", productID.String()).
			Int("remaining", remaining).
			Int("threshold", threshold).
			Msg("Product at or below low-stock threshold")
	}

	log.Debug().
		Str("product_id", productID.String()).
		Int("qty", qty).
		Int("remaining", remaining).
		Msg("Reserved stock")

	return nil
}

// Restore credits back a previously reserved quantity. It is the compensating
// action for downstream order failure and is idempotent by amount, not by
// call count; callers must not call it more than once per reservation.
func (r *ProductRepository) Restore(ctx context.Context, productID uuid.UUID, qty int) error {
	query := `UPDATE products
			  SET stock_quantity = stock_quantity + $2, updated_at = NOW()
			  WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, productID, qty)
	if err != nil {
		log.Error().Err(err).Str("product_id", productID.String()).Msg("Failed to restore stock")
		return &models.BackendUnavailableError{Component: "database", Cause: err}
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rowsAffected == 0 {
		return &models.NotFoundError{Resource: "product", ID: productID.String()}
	}

	log.Debug().
		Str("product_id", productID.String()).
		Int("qty", qty).
		Msg("Restored stock")

	return nil
}

// RefreshLowStockGauge recounts products at or below their threshold
func (r *ProductRepository) RefreshLowStockGauge(ctx context.Context) error {
	var count int
	query := `SELECT COUNT(*) FROM products
			  WHERE is_active = TRUE AND stock_quantity <= low_stock_threshold`

	if err := r.db.GetContext(ctx, &count, query); err != nil {
		return fmt.Errorf("failed to count low stock products: %w", err)
	}

	metrics.LowStockProducts.Set(float64(count))
	return nil
}

// insufficientStock distinguishes a missing product from a real shortage
func (r *ProductRepository) insufficientStock(ctx context.Context, productID uuid.UUID, qty int) error {
	product, err := r.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	if product == nil {
		return &models.NotFoundError{Resource: "product", ID: productID.String()}
	}

	log.Warn().
		Str("product_id", productID.String()).
		Int("requested", qty).
		Int("available", product.StockQuantity).
		Msg("Insufficient stock")

	return &models.InsufficientStockError{
		ProductID: productID,
		Requested: qty,
		Available: product.StockQuantity,
	}
}
