package repository

import (
	"context"

	"github.com/kashikaryash/redtape/internal/domain"
)

// CartRepository defines the interface for cart persistence operations.
// Carts are keyed by user identity; each user owns at most one cart.
type CartRepository interface {
	// Get retrieves a cart by its user ID. Returns a not-found error when
	// the user has no cart.
	Get(ctx context.Context, userID string) (*domain.Cart, error)

	// Save persists a cart, overwriting any existing cart for the user and
	// incrementing its version.
	Save(ctx context.Context, cart *domain.Cart) error

	// SaveIfVersion persists a cart only if the stored version still equals
	// expectedVersion. On success the cart's version is incremented. Returns
	// a conflict error if another writer got there first.
	SaveIfVersion(ctx context.Context, cart *domain.Cart, expectedVersion int) error

	// Delete removes a cart from the store by user ID. Deleting an absent
	// cart is not an error.
	Delete(ctx context.Context, userID string) error
}
