package domain

import (
	"errors"
	"time"
)

var (
	// ErrInvalidQuantity is returned when a mutation would leave a line with
	// a non-positive quantity under a contract that forbids it.
	ErrInvalidQuantity = errors.New("quantity must be positive")
	// ErrLineNotFound is returned when a mutation targets a product that has
	// no line in the cart.
	ErrLineNotFound = errors.New("line item not found")
)

// Cart represents a user's shopping cart. Each user identity owns at most
// one cart. Total is derived state: it always equals the sum of the line
// prices and is recomputed after every mutation.
type Cart struct {
	UserID    string     `json:"user_id"`
	Items     []LineItem `json:"items"`
	Total     float64    `json:"total"`
	Version   int        `json:"version"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// LineItem is one product entry in a cart. UnitPrice is a snapshot taken
// when the line was last written; it is never re-read from the catalog.
// Price is always Quantity × UnitPrice.
type LineItem struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	Price     float64 `json:"price"`
}

// NewCart constructs an empty cart for the given user identity.
func NewCart(userID string) *Cart {
	now := time.Now().UTC()
	return &Cart{
		UserID:    userID,
		Items:     []LineItem{},
		Total:     0,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// FindLine returns a pointer to the first line matching productID, or nil.
// Duplicate lines for the same product are tolerated; the first match wins.
func (c *Cart) FindLine(productID string) *LineItem {
	if i := c.findIndex(productID); i >= 0 {
		return &c.Items[i]
	}
	return nil
}

func (c *Cart) findIndex(productID string) int {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// UpsertLine merges quantity into an existing line for productID, or appends
// a new one. The merge is cumulative: an existing line's quantity grows by
// quantity, and its price is recomputed from the fresh unit price. Returns
// ErrInvalidQuantity if the resulting quantity would be non-positive.
func (c *Cart) UpsertLine(productID, name string, quantity int, unitPrice float64) error {
	if i := c.findIndex(productID); i >= 0 {
		newQty := c.Items[i].Quantity + quantity
		if newQty <= 0 {
			return ErrInvalidQuantity
		}
		c.Items[i].Quantity = newQty
		c.Items[i].Name = name
		c.Items[i].UnitPrice = unitPrice
		c.Items[i].Price = float64(newQty) * unitPrice
		c.recomputeTotal()
		return nil
	}

	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	c.Items = append(c.Items, LineItem{
		ProductID: productID,
		Name:      name,
		Quantity:  quantity,
		UnitPrice: unitPrice,
		Price:     float64(quantity) * unitPrice,
	})
	c.recomputeTotal()
	return nil
}

// SetLineQuantity replaces the quantity of an existing line and recomputes
// its price from the stored unit-price snapshot. A quantity of zero or less
// removes the line instead of storing a non-positive quantity. Returns
// ErrLineNotFound if the cart has no line for productID.
func (c *Cart) SetLineQuantity(productID string, quantity int) error {
	i := c.findIndex(productID)
	if i < 0 {
		return ErrLineNotFound
	}
	if quantity <= 0 {
		c.Items = append(c.Items[:i], c.Items[i+1:]...)
		c.recomputeTotal()
		return nil
	}
	c.Items[i].Quantity = quantity
	c.Items[i].Price = float64(quantity) * c.Items[i].UnitPrice
	c.recomputeTotal()
	return nil
}

// RemoveLine removes the line for productID if present. Removing an absent
// line is a no-op, not an error.
func (c *Cart) RemoveLine(productID string) {
	if i := c.findIndex(productID); i >= 0 {
		c.Items = append(c.Items[:i], c.Items[i+1:]...)
		c.recomputeTotal()
	}
}

// Clear empties all lines and resets the total to zero.
func (c *Cart) Clear() {
	c.Items = []LineItem{}
	c.recomputeTotal()
}

// recomputeTotal re-derives Total from the line prices. It runs after every
// mutation so Total can never drift from the lines it is computed from.
func (c *Cart) recomputeTotal() {
	c.Total = RecalcTotal(c.Items)
	c.UpdatedAt = time.Now().UTC()
}

// ItemCount returns the total quantity across all lines.
func (c *Cart) ItemCount() int {
	var count int
	for _, item := range c.Items {
		count += item.Quantity
	}
	return count
}

// RecalcTotal sums the stored price of each line. Prices are snapshots fixed
// at write time, so the total depends only on the lines themselves.
func RecalcTotal(items []LineItem) float64 {
	var total float64
	for _, item := range items {
		total += item.Price
	}
	return total
}
