// Package cart implements the in-memory billing cart. A Cart is owned by a
// till session and is never shared between tills; callers serialize access.
package cart

import (
	"context"
	"errors"

	"supermart/backend/internal/domain"
	"supermart/backend/internal/money"
	"supermart/backend/internal/store"
)

var ErrOutOfStock = errors.New("out of stock")

// ProductFinder is the slice of the catalog the cart needs for scans.
type ProductFinder interface {
	GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error)
}

type Cart struct {
	lines []domain.CartLine
}

func New() *Cart {
	return &Cart{lines: make([]domain.CartLine, 0, 8)}
}

// AddByBarcode scans one unit of the product into the cart. A repeated scan
// increments the existing line by one, capped at the product's current
// on-hand quantity; the first scan snapshots selling price, cost price and
// the stock ceiling. The failed line is left untouched on ErrStockExceeded.
func (c *Cart) AddByBarcode(ctx context.Context, finder ProductFinder, barcode string) (domain.CartLine, error) {
	product, err := finder.GetProductByBarcode(ctx, barcode)
	if err != nil {
		return domain.CartLine{}, err
	}
	if product.Quantity <= 0 {
		return domain.CartLine{}, ErrOutOfStock
	}

	for i := range c.lines {
		if c.lines[i].Barcode != product.Barcode {
			continue
		}
		if c.lines[i].Quantity+1 > product.Quantity {
			return domain.CartLine{}, store.ErrStockExceeded
		}
		c.lines[i].Quantity++
		c.lines[i].LineTotal = c.lines[i].UnitPrice * float64(c.lines[i].Quantity)
		// Refresh the ceiling from the latest catalog read.
		c.lines[i].MaxQuantity = product.Quantity
		return c.lines[i], nil
	}

	line := domain.CartLine{
		ProductID:   product.ID,
		Barcode:     product.Barcode,
		ProductName: product.Name,
		UnitPrice:   product.SellingPrice,
		UnitCost:    product.CostPrice,
		Quantity:    1,
		LineTotal:   product.SellingPrice,
		MaxQuantity: product.Quantity,
	}
	c.lines = append(c.lines, line)
	return line, nil
}

// ChangeQuantity adjusts a line by delta. The line is removed when the
// resulting quantity drops to zero or below; exceeding the recorded stock
// ceiling fails with ErrStockExceeded and leaves the line unchanged.
func (c *Cart) ChangeQuantity(barcode string, delta int) error {
	for i := range c.lines {
		if c.lines[i].Barcode != barcode {
			continue
		}
		next := c.lines[i].Quantity + delta
		if next <= 0 {
			c.lines = append(c.lines[:i], c.lines[i+1:]...)
			return nil
		}
		if next > c.lines[i].MaxQuantity {
			return store.ErrStockExceeded
		}
		c.lines[i].Quantity = next
		c.lines[i].LineTotal = c.lines[i].UnitPrice * float64(next)
		return nil
	}
	return store.ErrNotFound
}

func (c *Cart) RemoveLine(barcode string) error {
	for i := range c.lines {
		if c.lines[i].Barcode == barcode {
			c.lines = append(c.lines[:i], c.lines[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (c *Cart) Clear() {
	c.lines = c.lines[:0]
}

func (c *Cart) Empty() bool {
	return len(c.lines) == 0
}

// Lines returns a copy of the cart's lines in scan order.
func (c *Cart) Lines() []domain.CartLine {
	out := make([]domain.CartLine, len(c.lines))
	copy(out, c.lines)
	return out
}

// Summary computes the bill summary at the given tax rate percentage. The
// subtotal is the rounded sum of raw line totals; tax and total follow the
// round-half-up rule.
func (c *Cart) Summary(taxRate float64) domain.CartSummary {
	sum := 0.0
	for _, line := range c.lines {
		sum += line.LineTotal
	}
	subtotal := money.Round(sum)
	tax := money.Tax(subtotal, taxRate)
	return domain.CartSummary{
		Subtotal: subtotal,
		Tax:      tax,
		Total:    money.Round(subtotal + tax),
	}
}
