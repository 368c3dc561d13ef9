package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kashikaryash/redtape/internal/catalog"
	"github.com/kashikaryash/redtape/internal/domain"
	"github.com/kashikaryash/redtape/internal/event"
	"github.com/kashikaryash/redtape/internal/repository"
	apperrors "github.com/kashikaryash/redtape/pkg/errors"
)

// Cart operation upper-bound limits to prevent abuse.
const (
	// MaxQuantityPerItem is the maximum quantity allowed for a single line.
	MaxQuantityPerItem = 100
	// MaxItemsPerCart is the maximum number of distinct lines in a cart.
	MaxItemsPerCart = 50
)

// maxSaveRetries bounds the optimistic-concurrency retry loop. Each retry
// reloads the cart and reapplies the mutation against fresh state.
const maxSaveRetries = 3

// AddItemInput holds the parameters for adding an item to the cart.
type AddItemInput struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,gte=1,lte=100"`
}

// CartService implements the business logic for cart operations. Every
// mutation is a read-modify-write cycle against the repository; a version
// conflict triggers a bounded reload-and-retry so concurrent writers never
// commit from stale state.
type CartService struct {
	repo     repository.CartRepository
	products catalog.ProductLookup
	producer *event.Producer
	logger   *slog.Logger
}

// NewCartService creates a new cart service.
func NewCartService(repo repository.CartRepository, products catalog.ProductLookup, producer *event.Producer, logger *slog.Logger) *CartService {
	return &CartService{
		repo:     repo,
		products: products,
		producer: producer,
		logger:   logger,
	}
}

// GetOrCreateCart returns the user's cart, creating and persisting an empty
// one on first access. Repeated calls for the same user never create a
// second cart: a concurrent create loses the insert race and reloads.
func (s *CartService) GetOrCreateCart(ctx context.Context, userID string) (*domain.Cart, error) {
	if userID == "" {
		return nil, apperrors.InvalidInput("user id is required")
	}

	cart, err := s.repo.Get(ctx, userID)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("get cart: %w", err)
	}

	cart = domain.NewCart(userID)
	if err := s.repo.SaveIfVersion(ctx, cart, 0); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			// Another request created the cart first; use theirs.
			return s.repo.Get(ctx, userID)
		}
		return nil, fmt.Errorf("create cart: %w", err)
	}

	s.logger.InfoContext(ctx, "cart created",
		slog.String("user_id", userID),
	)

	return cart, nil
}

// AddItem resolves the product's current price and merges the quantity into
// the user's cart (cumulative add). The resolved unit price is frozen on the
// line; it is not re-read on later mutations.
func (s *CartService) AddItem(ctx context.Context, userID string, input AddItemInput) (*domain.Cart, error) {
	if userID == "" {
		return nil, apperrors.InvalidInput("user id is required")
	}
	if input.ProductID == "" {
		return nil, apperrors.InvalidInput("product id is required")
	}
	if input.Quantity <= 0 {
		return nil, apperrors.InvalidInputWithCode("INVALID_QUANTITY", "quantity must be greater than 0")
	}
	if input.Quantity > MaxQuantityPerItem {
		return nil, apperrors.InvalidInputWithCode("INVALID_QUANTITY", fmt.Sprintf("quantity must not exceed %d", MaxQuantityPerItem))
	}

	product, err := s.products.Resolve(ctx, input.ProductID)
	if err != nil {
		return nil, err
	}
	if !product.Available {
		return nil, apperrors.NotFoundWithCode("PRODUCT_NOT_FOUND",
			fmt.Sprintf("product %s is not available", input.ProductID))
	}

	cart, err := s.mutate(ctx, userID, true, func(c *domain.Cart) error {
		if c.FindLine(input.ProductID) == nil && len(c.Items) >= MaxItemsPerCart {
			return apperrors.InvalidInput(fmt.Sprintf("cart must not contain more than %d items", MaxItemsPerCart))
		}
		if err := c.UpsertLine(input.ProductID, product.Name, input.Quantity, product.UnitPrice); err != nil {
			return mapDomainError(err)
		}
		if line := c.FindLine(input.ProductID); line != nil && line.Quantity > MaxQuantityPerItem {
			return apperrors.InvalidInputWithCode("INVALID_QUANTITY",
				fmt.Sprintf("combined quantity must not exceed %d", MaxQuantityPerItem))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishUpdated(ctx, cart)

	s.logger.InfoContext(ctx, "item added to cart",
		slog.String("user_id", userID),
		slog.String("product_id", input.ProductID),
		slog.Int("quantity", input.Quantity),
	)

	return cart, nil
}

// ReplaceQuantity sets an existing line's quantity to an exact value. This
// is the strict contract: the quantity must be positive, and the line must
// already exist. The line's price is recomputed from its stored unit-price
// snapshot, not from the current catalog price.
func (s *CartService) ReplaceQuantity(ctx context.Context, userID, productID string, quantity int) (*domain.Cart, error) {
	if userID == "" {
		return nil, apperrors.InvalidInput("user id is required")
	}
	if productID == "" {
		return nil, apperrors.InvalidInput("product id is required")
	}
	if quantity <= 0 {
		return nil, apperrors.InvalidInputWithCode("INVALID_QUANTITY", "quantity must be greater than 0")
	}
	if quantity > MaxQuantityPerItem {
		return nil, apperrors.InvalidInputWithCode("INVALID_QUANTITY", fmt.Sprintf("quantity must not exceed %d", MaxQuantityPerItem))
	}

	cart, err := s.mutate(ctx, userID, false, func(c *domain.Cart) error {
		return mapDomainError(c.SetLineQuantity(productID, quantity))
	})
	if err != nil {
		return nil, err
	}

	s.publishUpdated(ctx, cart)

	s.logger.InfoContext(ctx, "cart line quantity replaced",
		slog.String("user_id", userID),
		slog.String("product_id", productID),
		slog.Int("quantity", quantity),
	)

	return cart, nil
}

// SetQuantityOrRemove sets an existing line's quantity, treating zero or a
// negative value as a request to remove the line. This is the lenient
// counterpart of ReplaceQuantity; callers choose which contract they want.
func (s *CartService) SetQuantityOrRemove(ctx context.Context, userID, productID string, quantity int) (*domain.Cart, error) {
	if userID == "" {
		return nil, apperrors.InvalidInput("user id is required")
	}
	if productID == "" {
		return nil, apperrors.InvalidInput("product id is required")
	}
	if quantity > MaxQuantityPerItem {
		return nil, apperrors.InvalidInputWithCode("INVALID_QUANTITY", fmt.Sprintf("quantity must not exceed %d", MaxQuantityPerItem))
	}

	cart, err := s.mutate(ctx, userID, false, func(c *domain.Cart) error {
		return mapDomainError(c.SetLineQuantity(productID, quantity))
	})
	if err != nil {
		return nil, err
	}

	s.publishUpdated(ctx, cart)

	s.logger.InfoContext(ctx, "cart line quantity set",
		slog.String("user_id", userID),
		slog.String("product_id", productID),
		slog.Int("quantity", quantity),
	)

	return cart, nil
}

// RemoveItem removes a line from the cart. Removing a line that does not
// exist returns the unchanged cart, not an error.
func (s *CartService) RemoveItem(ctx context.Context, userID, productID string) (*domain.Cart, error) {
	if userID == "" {
		return nil, apperrors.InvalidInput("user id is required")
	}
	if productID == "" {
		return nil, apperrors.InvalidInput("product id is required")
	}

	cart, err := s.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cart.FindLine(productID) == nil {
		return cart, nil
	}

	cart, err = s.mutate(ctx, userID, true, func(c *domain.Cart) error {
		c.RemoveLine(productID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishUpdated(ctx, cart)

	s.logger.InfoContext(ctx, "item removed from cart",
		slog.String("user_id", userID),
		slog.String("product_id", productID),
	)

	return cart, nil
}

// ClearCart empties the user's cart and persists the empty state. Clearing
// an already-empty (or absent) cart succeeds and leaves an empty cart.
func (s *CartService) ClearCart(ctx context.Context, userID string) error {
	if userID == "" {
		return apperrors.InvalidInput("user id is required")
	}

	_, err := s.mutate(ctx, userID, true, func(c *domain.Cart) error {
		c.Clear()
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.producer.PublishCartCleared(ctx, userID); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish cart.cleared event",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "cart cleared",
		slog.String("user_id", userID),
	)

	return nil
}

// ListItems returns the cart's line items, creating the cart if absent.
func (s *CartService) ListItems(ctx context.Context, userID string) ([]domain.LineItem, error) {
	cart, err := s.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	return cart.Items, nil
}

// DeleteCart removes the user's cart row entirely. Unlike ClearCart, no
// empty cart is left behind; the next access recreates one.
func (s *CartService) DeleteCart(ctx context.Context, userID string) error {
	if userID == "" {
		return apperrors.InvalidInput("user id is required")
	}

	if err := s.repo.Delete(ctx, userID); err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}

	if err := s.producer.PublishCartCleared(ctx, userID); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish cart.cleared event",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "cart deleted",
		slog.String("user_id", userID),
	)

	return nil
}

// mutate runs a read-modify-write cycle with optimistic locking. The apply
// function mutates a freshly loaded cart; a version conflict on save reloads
// and reapplies up to maxSaveRetries times. When createIfMissing is false, a
// missing cart surfaces as a line-not-found error, since whatever line the
// mutation targets cannot exist.
func (s *CartService) mutate(ctx context.Context, userID string, createIfMissing bool, apply func(*domain.Cart) error) (*domain.Cart, error) {
	var lastErr error
	for attempt := 0; attempt < maxSaveRetries; attempt++ {
		var cart *domain.Cart
		var err error
		if createIfMissing {
			cart, err = s.GetOrCreateCart(ctx, userID)
		} else {
			cart, err = s.repo.Get(ctx, userID)
			if err != nil && errors.Is(err, apperrors.ErrNotFound) {
				return nil, apperrors.NotFoundWithCode("LINE_NOT_FOUND", "cart has no such line item")
			}
		}
		if err != nil {
			return nil, fmt.Errorf("load cart: %w", err)
		}

		expectedVersion := cart.Version
		if err := apply(cart); err != nil {
			return nil, err
		}

		err = s.repo.SaveIfVersion(ctx, cart, expectedVersion)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, apperrors.ErrConflict) {
			return nil, fmt.Errorf("save cart: %w", err)
		}

		lastErr = err
		s.logger.WarnContext(ctx, "cart version conflict, retrying",
			slog.String("user_id", userID),
			slog.Int("attempt", attempt+1),
		)
	}

	return nil, apperrors.Wrap(lastErr, "cart was modified concurrently")
}

// publishUpdated emits a cart.updated event. Event delivery is best effort:
// a broker failure is logged, not surfaced to the caller.
func (s *CartService) publishUpdated(ctx context.Context, cart *domain.Cart) {
	if err := s.producer.PublishCartUpdated(ctx, cart); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish cart.updated event",
			slog.String("user_id", cart.UserID),
			slog.String("error", err.Error()),
		)
	}
}

// mapDomainError translates domain sentinel errors into the service error
// taxonomy.
func mapDomainError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrInvalidQuantity):
		return apperrors.InvalidInputWithCode("INVALID_QUANTITY", "quantity must be greater than 0")
	case errors.Is(err, domain.ErrLineNotFound):
		return apperrors.NotFoundWithCode("LINE_NOT_FOUND", "cart has no such line item")
	default:
		return err
	}
}
