package service

import (
	"fitpos/backend/internal/domain"
)

// allocation is the decision for one cart line. Record is nil when the
// line carries no stock movement (non-inventoried product, or a skipped
// line under StockPolicySkipLine).
type allocation struct {
	Record       *domain.InventoryRecord
	EnforceFloor bool
	StockBefore  int
}

// allocate picks the inventory record a line decrements. Candidates are
// the locked rows for the product; the decision itself makes no writes.
//
// A location that can cover the full quantity wins: the hinted location
// first, otherwise the one with the most available stock (lowest
// location id on ties). When no single location covers the quantity the
// stock policy decides: strict fails the checkout, allow_negative
// drives the best location below zero, skip_line keeps the sale line
// but drops the movement. A product flagged AllowSaleWithoutStock
// upgrades strict to allow_negative for its own lines.
func allocate(p domain.Product, candidates []domain.InventoryRecord, qty int, hint int64, policy domain.StockPolicy) (allocation, error) {
	var best *domain.InventoryRecord
	var fallback *domain.InventoryRecord
	for i := range candidates {
		c := &candidates[i]
		if fallback == nil || c.StockAvailable > fallback.StockAvailable {
			fallback = c
		}
		if c.StockAvailable < qty {
			continue
		}
		if hint != 0 && c.LocationID == hint {
			best = c
			break
		}
		if best == nil || c.StockAvailable > best.StockAvailable {
			best = c
		}
	}

	if best != nil {
		return allocation{
			Record:       best,
			EnforceFloor: true,
			StockBefore:  best.StockAvailable,
		}, nil
	}

	effective := policy
	if effective == domain.StockPolicyStrict && p.AllowSaleWithoutStock {
		effective = domain.StockPolicyAllowNegative
	}

	switch effective {
	case domain.StockPolicyAllowNegative:
		if hint != 0 {
			for i := range candidates {
				if candidates[i].LocationID == hint {
					fallback = &candidates[i]
					break
				}
			}
		}
		if fallback == nil {
			// Inventoried product with no inventory rows at all.
			return allocation{}, &domain.StockError{
				ProductID:   p.ID,
				ProductName: p.Name,
				Requested:   qty,
				Available:   0,
			}
		}
		return allocation{
			Record:      fallback,
			StockBefore: fallback.StockAvailable,
		}, nil
	case domain.StockPolicySkipLine:
		return allocation{}, nil
	default:
		available := 0
		if fallback != nil {
			available = fallback.StockAvailable
		}
		return allocation{}, &domain.StockError{
			ProductID:   p.ID,
			ProductName: p.Name,
			Requested:   qty,
			Available:   available,
		}
	}
}
