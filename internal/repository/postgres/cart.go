package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kashikaryash/redtape/internal/domain"
	"github.com/kashikaryash/redtape/pkg/database"
	apperrors "github.com/kashikaryash/redtape/pkg/errors"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies the cart schema migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	return database.RunMigrations(ctx, pool, migrations, "migrations", logger)
}

// CartRepository implements repository.CartRepository using PostgreSQL.
// A cart is one row in carts plus its rows in cart_items; every save
// replaces the item set atomically inside a transaction.
type CartRepository struct {
	pool database.DBTX
}

// NewCartRepository creates a new PostgreSQL-backed cart repository.
func NewCartRepository(pool database.DBTX) *CartRepository {
	return &CartRepository{pool: pool}
}

// Get retrieves a cart and its items in a single query.
func (r *CartRepository) Get(ctx context.Context, userID string) (*domain.Cart, error) {
	query := `
		SELECT
			c.user_id, c.total, c.version, c.created_at, c.updated_at,
			COALESCE(
				JSONB_AGG(
					JSONB_BUILD_OBJECT(
						'product_id', ci.product_id,
						'name', ci.name,
						'quantity', ci.quantity,
						'unit_price', ci.unit_price,
						'price', ci.price
					) ORDER BY ci.id
				) FILTER (WHERE ci.id IS NOT NULL),
				'[]'::jsonb
			) AS items
		FROM carts c
		LEFT JOIN cart_items ci ON c.user_id = ci.cart_user_id
		WHERE c.user_id = $1
		GROUP BY c.user_id, c.total, c.version, c.created_at, c.updated_at`

	var (
		cart      domain.Cart
		itemsJSON []byte
	)
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&cart.UserID,
		&cart.Total,
		&cart.Version,
		&cart.CreatedAt,
		&cart.UpdatedAt,
		&itemsJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("cart", userID)
		}
		return nil, fmt.Errorf("select cart: %w", err)
	}

	if err := json.Unmarshal(itemsJSON, &cart.Items); err != nil {
		return nil, fmt.Errorf("unmarshal cart items: %w", err)
	}

	return &cart, nil
}

// Save upserts the cart row and replaces its item set atomically. The
// version is incremented unconditionally (last writer wins).
func (r *CartRepository) Save(ctx context.Context, cart *domain.Cart) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var newVersion int
	err = tx.QueryRow(ctx, `
		INSERT INTO carts (user_id, total, version, created_at, updated_at)
		VALUES ($1, $2, 1, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET total = EXCLUDED.total, version = carts.version + 1, updated_at = EXCLUDED.updated_at
		RETURNING version`,
		cart.UserID, cart.Total, cart.CreatedAt, cart.UpdatedAt,
	).Scan(&newVersion)
	if err != nil {
		return fmt.Errorf("upsert cart: %w", err)
	}

	if err := replaceItems(ctx, tx, cart); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	cart.Version = newVersion
	return nil
}

// SaveIfVersion persists the cart only if the stored version still equals
// expectedVersion. A missing row counts as version 0 and is inserted.
func (r *CartRepository) SaveIfVersion(ctx context.Context, cart *domain.Cart, expectedVersion int) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if expectedVersion == 0 {
		tag, err := tx.Exec(ctx, `
			INSERT INTO carts (user_id, total, version, created_at, updated_at)
			VALUES ($1, $2, 1, $3, $4)
			ON CONFLICT (user_id) DO NOTHING`,
			cart.UserID, cart.Total, cart.CreatedAt, cart.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert cart: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return apperrors.Conflict("cart was created by another request")
		}
	} else {
		tag, err := tx.Exec(ctx, `
			UPDATE carts
			SET total = $1, version = version + 1, updated_at = $2
			WHERE user_id = $3 AND version = $4`,
			cart.Total, cart.UpdatedAt, cart.UserID, expectedVersion,
		)
		if err != nil {
			return fmt.Errorf("update cart: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return apperrors.Conflict("cart was modified by another request")
		}
	}

	if err := replaceItems(ctx, tx, cart); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	cart.Version = expectedVersion + 1
	return nil
}

// replaceItems swaps the cart's item rows for the in-memory line items.
func replaceItems(ctx context.Context, tx pgx.Tx, cart *domain.Cart) error {
	if _, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE cart_user_id = $1`, cart.UserID); err != nil {
		return fmt.Errorf("delete cart items: %w", err)
	}

	itemQuery := `
		INSERT INTO cart_items (cart_user_id, product_id, name, quantity, unit_price, price)
		VALUES ($1, $2, $3, $4, $5, $6)`

	for _, item := range cart.Items {
		_, err := tx.Exec(ctx, itemQuery,
			cart.UserID,
			item.ProductID,
			item.Name,
			item.Quantity,
			item.UnitPrice,
			item.Price,
		)
		if err != nil {
			return fmt.Errorf("insert cart item: %w", err)
		}
	}
	return nil
}

// Delete removes a cart; its items go with it via ON DELETE CASCADE.
func (r *CartRepository) Delete(ctx context.Context, userID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM carts WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}
	return nil
}
