package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fitpos/backend/internal/domain"
	"fitpos/backend/internal/store"
	"fitpos/backend/internal/ticket"
)

func TestCheckoutTransactionCommitsStockAndMovement(t *testing.T) {
	databaseURL := os.Getenv("FITPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set FITPOS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	code := fmt.Sprintf("IT-CHK-%d", stamp)

	var productID, recordID int64
	if err := s.db.QueryRowContext(ctx, `
		INSERT INTO products (internal_code, name, sale_price, average_cost, is_inventoried, active)
		VALUES ($1, 'Producto Checkout IT', 45.99, 30.50, true, true)
		RETURNING id
	`, code).Scan(&productID); err != nil {
		t.Fatalf("insert product: %v", err)
	}
	if err := s.db.QueryRowContext(ctx, `
		INSERT INTO inventory_records (product_id, location_id, stock_on_hand, stock_available, average_cost, active)
		VALUES ($1, 1, 10, 10, 30.50, true)
		RETURNING id
	`, productID).Scan(&recordID); err != nil {
		t.Fatalf("seed stock: %v", err)
	}

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM inventory_movements WHERE product_id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_lines WHERE product_id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE id IN (SELECT sale_id FROM sale_lines WHERE product_id = $1)`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM inventory_records WHERE product_id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	})

	var ticketNumber string
	err = s.WithinTx(ctx, func(tx store.Tx) error {
		day := time.Now().UTC()
		last, err := tx.LastTicketNumber(day)
		if err != nil {
			return err
		}
		ticketNumber = ticket.Sale.Next(day, last)

		rec, err := tx.AdjustStock(recordID, -2, true)
		if err != nil {
			return err
		}
		if rec.StockAvailable != 8 {
			return fmt.Errorf("stock after adjust = %d", rec.StockAvailable)
		}

		saleID, err := tx.InsertSale(domain.Sale{
			TicketNumber:  ticketNumber,
			ClerkID:       1,
			ClientID:      2,
			Subtotal:      decimal.RequireFromString("91.98"),
			Discount:      decimal.Zero,
			Tax:           decimal.Zero,
			Total:         decimal.RequireFromString("91.98"),
			PaymentMethod: domain.PaymentCash,
			SaleType:      domain.SaleTypeProduct,
			Status:        domain.SaleStatusPending,
		})
		if err != nil {
			return err
		}
		if err := tx.InsertSaleLine(domain.SaleLine{
			SaleID:       saleID,
			ProductID:    productID,
			InternalCode: code,
			ProductName:  "Producto Checkout IT",
			Quantity:     2,
			UnitPrice:    decimal.RequireFromString("45.99"),
			LineSubtotal: decimal.RequireFromString("91.98"),
			LineProfit:   decimal.RequireFromString("30.98"),
			LocationID:   1,
		}); err != nil {
			return err
		}
		if err := tx.InsertMovement(domain.InventoryMovement{
			ProductID:   productID,
			LocationID:  1,
			Reason:      domain.MovementReasonSale,
			Quantity:    -2,
			StockBefore: 10,
			StockAfter:  8,
			UnitCost:    decimal.RequireFromString("30.50"),
			ActorID:     1,
			SaleID:      saleID,
		}); err != nil {
			return err
		}
		return tx.MarkSaleCompleted(saleID)
	})
	if err != nil {
		t.Fatalf("checkout tx: %v", err)
	}

	var available int
	if err := s.db.QueryRowContext(ctx, `
		SELECT stock_available FROM inventory_records WHERE id = $1
	`, recordID).Scan(&available); err != nil {
		t.Fatalf("query stock: %v", err)
	}
	if available != 8 {
		t.Fatalf("expected stock 8 after checkout, got %d", available)
	}

	sale, err := s.GetSaleByTicket(ctx, ticketNumber)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if sale.Status != domain.SaleStatusCompleted {
		t.Fatalf("expected sale completed, got %s", sale.Status)
	}
	if len(sale.Lines) != 1 || sale.Lines[0].Quantity != 2 {
		t.Fatalf("unexpected sale lines: %+v", sale.Lines)
	}
}

func TestRollbackRestoresStock(t *testing.T) {
	databaseURL := os.Getenv("FITPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set FITPOS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	code := fmt.Sprintf("IT-RB-%d", stamp)

	var productID, recordID int64
	if err := s.db.QueryRowContext(ctx, `
		INSERT INTO products (internal_code, name, sale_price, average_cost, is_inventoried, active)
		VALUES ($1, 'Producto Rollback IT', 10.00, 6.00, true, true)
		RETURNING id
	`, code).Scan(&productID); err != nil {
		t.Fatalf("insert product: %v", err)
	}
	if err := s.db.QueryRowContext(ctx, `
		INSERT INTO inventory_records (product_id, location_id, stock_on_hand, stock_available, average_cost, active)
		VALUES ($1, 1, 5, 5, 6.00, true)
		RETURNING id
	`, productID).Scan(&recordID); err != nil {
		t.Fatalf("seed stock: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM inventory_records WHERE product_id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	})

	forced := fmt.Errorf("forced failure")
	err = s.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := tx.AdjustStock(recordID, -3, true); err != nil {
			return err
		}
		return forced
	})
	if err != forced {
		t.Fatalf("expected forced error, got %v", err)
	}

	var available int
	if err := s.db.QueryRowContext(ctx, `
		SELECT stock_available FROM inventory_records WHERE id = $1
	`, recordID).Scan(&available); err != nil {
		t.Fatalf("query stock: %v", err)
	}
	if available != 5 {
		t.Fatalf("expected stock back at 5 after rollback, got %d", available)
	}
}
