// Package catalog resolves product identifiers against the product service.
// The cart never caches or re-prices: every add-to-cart resolves the current
// unit price, which is then frozen on the line item.
package catalog

import (
	"context"
)

// Product is the subset of the product service's representation the cart
// cares about.
type Product struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	UnitPrice float64 `json:"price"`
	Available bool    `json:"available"`
}

// ProductLookup resolves a product identifier to its current price and
// availability. Returns a not-found error for unknown products.
type ProductLookup interface {
	Resolve(ctx context.Context, productID string) (*Product, error)
}
