package domain

import "fmt"

// StockError reports a line that could not be fulfilled from any single
// location, with enough detail for the caller to adjust the cart.
type StockError struct {
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	Requested   int    `json:"requested"`
	Available   int    `json:"available"`
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d (%s): requested %d, available %d",
		e.ProductID, e.ProductName, e.Requested, e.Available)
}

// ProductNotFoundError reports a cart line referencing an unknown or
// inactive product.
type ProductNotFoundError struct {
	ProductID int64 `json:"product_id"`
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %d not found or inactive", e.ProductID)
}
