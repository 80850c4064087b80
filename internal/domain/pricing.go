package domain

import "github.com/shopspring/decimal"

// UnitPriceFor returns the default unit price for a quantity of the
// product: the wholesale price once the quantity reaches the wholesale
// threshold, otherwise the regular sale price.
func UnitPriceFor(p Product, qty int) decimal.Decimal {
	if p.WholesaleQty > 0 && qty >= p.WholesaleQty && p.WholesalePrice.IsPositive() {
		return p.WholesalePrice
	}
	return p.SalePrice
}

// LineProfit computes the per-line profit from the average cost basis at
// sale time. Kept pure so it is testable apart from transaction plumbing.
func LineProfit(unitPrice, averageCostAtSale decimal.Decimal, qty int) decimal.Decimal {
	return unitPrice.Sub(averageCostAtSale).Mul(decimal.NewFromInt(int64(qty)))
}

// SaleTotal reconciles the header amounts: subtotal - discount + tax.
func SaleTotal(subtotal, discount, tax decimal.Decimal) decimal.Decimal {
	return subtotal.Sub(discount).Add(tax)
}
