package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestLineProfit(t *testing.T) {
	profit := LineProfit(dec("45.99"), dec("30.50"), 2)
	if !profit.Equal(dec("30.98")) {
		t.Fatalf("expected profit 30.98, got %s", profit)
	}
}

func TestLineProfitNegativeWhenSoldBelowCost(t *testing.T) {
	profit := LineProfit(dec("10.00"), dec("12.00"), 3)
	if !profit.Equal(dec("-6.00")) {
		t.Fatalf("expected profit -6.00, got %s", profit)
	}
}

func TestLineProfitZeroCost(t *testing.T) {
	profit := LineProfit(dec("25.00"), decimal.Zero, 4)
	if !profit.Equal(dec("100.00")) {
		t.Fatalf("expected profit 100.00, got %s", profit)
	}
}

func TestUnitPriceForUsesWholesaleAtThreshold(t *testing.T) {
	p := Product{
		SalePrice:      dec("45.99"),
		WholesalePrice: dec("39.99"),
		WholesaleQty:   6,
	}

	if got := UnitPriceFor(p, 5); !got.Equal(dec("45.99")) {
		t.Fatalf("expected retail price below threshold, got %s", got)
	}
	if got := UnitPriceFor(p, 6); !got.Equal(dec("39.99")) {
		t.Fatalf("expected wholesale price at threshold, got %s", got)
	}
}

func TestUnitPriceForIgnoresUnsetWholesale(t *testing.T) {
	p := Product{SalePrice: dec("45.99")}
	if got := UnitPriceFor(p, 100); !got.Equal(dec("45.99")) {
		t.Fatalf("expected retail price when wholesale unset, got %s", got)
	}
}

func TestSaleTotal(t *testing.T) {
	total := SaleTotal(dec("100.00"), dec("10.00"), dec("14.40"))
	if !total.Equal(dec("104.40")) {
		t.Fatalf("expected total 104.40, got %s", total)
	}
}
