package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"fitpos/backend/internal/domain"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidCart    = errors.New("invalid cart")
	ErrTicketConflict = errors.New("ticket number conflict")
	ErrShiftNotFound  = errors.New("shift not found")
	ErrShiftClosed    = errors.New("shift already closed")
	ErrShiftOpen      = errors.New("clerk already has an open shift")
)

// PersistenceError wraps a backend failure so callers can distinguish
// infrastructure faults from domain outcomes.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Gateway is the persistence boundary. Reads that need no transactional
// consistency live on the gateway itself; everything a checkout or shift
// operation touches goes through WithinTx so the whole unit commits or
// rolls back together.
type Gateway interface {
	// WithinTx runs fn inside a single transaction. Any error from fn
	// rolls back every write made through the Tx; a nil return commits.
	WithinTx(ctx context.Context, fn func(Tx) error) error

	ListProducts(ctx context.Context, query string, limit int) ([]domain.Product, error)
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	GetProductByCode(ctx context.Context, code string) (*domain.Product, error)
	GetClient(ctx context.Context, id int64) (*domain.Client, error)
	GetClientByCode(ctx context.Context, code string) (*domain.Client, error)
	GetSaleByTicket(ctx context.Context, ticket string) (*domain.Sale, error)
	ListMovements(ctx context.Context, productID int64, limit int) ([]domain.InventoryMovement, error)
	GetActiveShift(ctx context.Context, clerkID int64) (*domain.Shift, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
}

// Tx exposes the operations available inside a transaction. Stock reads
// through AllocationCandidates lock the rows they return until commit.
type Tx interface {
	GetProductForSale(productID int64) (*domain.Product, error)
	LastTicketNumber(day time.Time) (string, error)
	LastShiftNumber(day time.Time) (string, error)

	// AllocationCandidates returns the active inventory records for the
	// product, locked for the duration of the transaction.
	AllocationCandidates(productID int64) ([]domain.InventoryRecord, error)

	// AdjustStock moves stock at one location by delta (negative for a
	// sale). When enforceFloor is true the update refuses to take the
	// available stock below zero and reports ErrNotFound when no row
	// qualified.
	AdjustStock(recordID int64, delta int, enforceFloor bool) (*domain.InventoryRecord, error)

	InsertSale(sale domain.Sale) (int64, error)
	InsertSaleLine(line domain.SaleLine) error
	MarkSaleCompleted(saleID int64) error
	InsertMovement(m domain.InventoryMovement) error

	InsertShift(shift domain.Shift) (int64, error)
	AddShiftCash(shiftID int64, amount decimal.Decimal) error
	GetShiftForClose(shiftID int64) (*domain.Shift, error)
	CloseShift(shiftID int64, counted, expected, variance decimal.Decimal, at time.Time) error
}
