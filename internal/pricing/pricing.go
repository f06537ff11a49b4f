package pricing

import (
	"errors"

	"gorm.io/gorm"

	"github.com/vkuznetsov/digishop/internal/models"
)

// Quote is the single source of truth for order totals. Cart view, checkout
// and invoices all go through it so they can never disagree on the numbers.
// The discount applies to the pre-tax subtotal and the total never goes
// below zero.
func Quote(subtotal, taxRate float64, taxEnabled bool, discount float64) (tax, total float64) {
	if taxEnabled {
		tax = subtotal * taxRate / 100
	}
	total = subtotal + tax - discount
	if total < 0 {
		total = 0
	}
	return tax, total
}

type Line struct {
	ItemID    uint    `json:"item_id"`
	ProductID uint    `json:"product_id"`
	Title     string  `json:"title"`
	UnitPrice float64 `json:"unit_price"`
	Quantity  uint    `json:"quantity"`
	LineTotal float64 `json:"line_total"`
	Available bool    `json:"available"`
}

type Cart struct {
	Lines    []Line  `json:"lines"`
	Subtotal float64 `json:"subtotal"`
}

// ActiveLines returns only the purchasable part of the cart.
func (c *Cart) ActiveLines() []Line {
	out := make([]Line, 0, len(c.Lines))
	for _, l := range c.Lines {
		if l.Available {
			out = append(out, l)
		}
	}
	return out
}

// Snapshot prices the user's cart against live catalog data. Lines whose
// product is inactive (or gone) are kept for display, marked unavailable,
// and excluded from the subtotal.
func Snapshot(db *gorm.DB, userID uint) (*Cart, error) {
	var items []models.CartItem
	if err := db.Where("user_id = ?", userID).Order("id ASC").Find(&items).Error; err != nil {
		return nil, err
	}

	cart := &Cart{Lines: make([]Line, 0, len(items))}
	for _, it := range items {
		line := Line{
			ItemID:    it.ID,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
		}
		var p models.Product
		err := db.First(&p, it.ProductID).Error
		if err == nil && p.Status == models.ProductActive {
			line.Title = p.Name
			line.UnitPrice = p.Price
			line.LineTotal = p.Price * float64(it.Quantity)
			line.Available = true
			cart.Subtotal += line.LineTotal
		} else if err == nil {
			line.Title = p.Name
			line.UnitPrice = p.Price
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		cart.Lines = append(cart.Lines, line)
	}
	return cart, nil
}
