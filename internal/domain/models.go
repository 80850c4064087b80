package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the catalog snapshot read at checkout time. The core never
// mutates products; catalog management owns them.
type Product struct {
	ID                    int64           `json:"id"`
	InternalCode          string          `json:"internal_code"`
	Barcode               string          `json:"barcode,omitempty"`
	Name                  string          `json:"name"`
	Description           string          `json:"description,omitempty"`
	SalePrice             decimal.Decimal `json:"sale_price"`
	WholesalePrice        decimal.Decimal `json:"wholesale_price"`
	WholesaleQty          int             `json:"wholesale_qty"`
	AverageCost           decimal.Decimal `json:"average_cost"`
	IsInventoried         bool            `json:"is_inventoried"`
	AllowSaleWithoutStock bool            `json:"allow_sale_without_stock"`
	RequiresRefrigeration bool            `json:"requires_refrigeration"`
	Active                bool            `json:"active"`
}

// InventoryRecord is the materialized current stock state for one
// (product, location) pair. Unique on that pair.
type InventoryRecord struct {
	ID             int64           `json:"id"`
	ProductID      int64           `json:"product_id"`
	LocationID     int64           `json:"location_id"`
	StockOnHand    int             `json:"stock_on_hand"`
	StockAvailable int             `json:"stock_available"`
	AverageCost    decimal.Decimal `json:"average_cost"`
	MinStock       int             `json:"min_stock"`
	Active         bool            `json:"active"`
}

// InventoryMovement is an append-only audit fact. Rows are never updated
// or deleted; StockBefore/StockAfter bracket the signed Quantity delta.
type InventoryMovement struct {
	ID          int64           `json:"id"`
	ProductID   int64           `json:"product_id"`
	LocationID  int64           `json:"location_id"`
	Reason      string          `json:"reason"`
	Quantity    int             `json:"quantity"`
	StockBefore int             `json:"stock_before"`
	StockAfter  int             `json:"stock_after"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	ActorID     int64           `json:"actor_id"`
	SaleID      int64           `json:"sale_id,omitempty"`
	Note        string          `json:"note,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

type Sale struct {
	ID            int64           `json:"id"`
	TicketNumber  string          `json:"ticket_number"`
	ClerkID       int64           `json:"clerk_id"`
	ClientID      int64           `json:"client_id"`
	ShiftID       int64           `json:"shift_id,omitempty"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Discount      decimal.Decimal `json:"discount"`
	Tax           decimal.Decimal `json:"tax"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod string          `json:"payment_method"`
	SaleType      string          `json:"sale_type"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	Lines         []SaleLine      `json:"lines"`
}

// SaleLine captures the product snapshot at sale time so historical sales
// stay readable even if the catalog record later changes.
type SaleLine struct {
	ID           int64           `json:"id"`
	SaleID       int64           `json:"sale_id"`
	ProductID    int64           `json:"product_id"`
	InternalCode string          `json:"internal_code"`
	ProductName  string          `json:"product_name"`
	Description  string          `json:"description,omitempty"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	LineSubtotal decimal.Decimal `json:"line_subtotal"`
	LineProfit   decimal.Decimal `json:"line_profit"`
	LocationID   int64           `json:"location_id,omitempty"`
}

type Shift struct {
	ID           int64            `json:"id"`
	ShiftNumber  string           `json:"shift_number"`
	ClerkID      int64            `json:"clerk_id"`
	OpeningFloat decimal.Decimal  `json:"opening_float"`
	CashTotal    decimal.Decimal  `json:"cash_total"`
	OpenedAt     time.Time        `json:"opened_at"`
	Closed       bool             `json:"closed"`
	ClosedAt     *time.Time       `json:"closed_at,omitempty"`
	ExpectedCash *decimal.Decimal `json:"expected_cash,omitempty"`
	CountedCash  *decimal.Decimal `json:"counted_cash,omitempty"`
	CashVariance *decimal.Decimal `json:"cash_variance,omitempty"`
}

// ShiftSummary is returned on close with the reconciliation figures.
type ShiftSummary struct {
	Shift        Shift           `json:"shift"`
	ExpectedCash decimal.Decimal `json:"expected_cash"`
	CountedCash  decimal.Decimal `json:"counted_cash"`
	Variance     decimal.Decimal `json:"variance"`
}

type Client struct {
	ID       int64  `json:"id"`
	Code     string `json:"code"`
	FullName string `json:"full_name"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
	Active   bool   `json:"active"`
}

// StockPolicy resolves the source's mixed insufficient-stock behavior into
// one explicit choice per checkout request.
type StockPolicy string

const (
	// StockPolicyStrict aborts the whole checkout when a line cannot be
	// fully allocated from a single location.
	StockPolicyStrict StockPolicy = "strict"
	// StockPolicyAllowNegative allocates against the best-available
	// location and lets stock go negative.
	StockPolicyAllowNegative StockPolicy = "allow_negative"
	// StockPolicySkipLine records the sale line without any stock
	// movement when allocation fails.
	StockPolicySkipLine StockPolicy = "skip_line"
)

func (p StockPolicy) Valid() bool {
	switch p {
	case StockPolicyStrict, StockPolicyAllowNegative, StockPolicySkipLine:
		return true
	}
	return false
}

type CartLine struct {
	ProductID         int64            `json:"product_id"`
	Quantity          int              `json:"quantity"`
	UnitPriceOverride *decimal.Decimal `json:"unit_price_override,omitempty"`
	LocationHint      int64            `json:"location_hint,omitempty"`
}

type CartRequest struct {
	ClerkID       int64           `json:"clerk_id"`
	ClientID      int64           `json:"client_id,omitempty"`
	ShiftID       int64           `json:"shift_id,omitempty"`
	Lines         []CartLine      `json:"lines"`
	Discount      decimal.Decimal `json:"discount"`
	Tax           decimal.Decimal `json:"tax"`
	PaymentMethod string          `json:"payment_method"`
	SaleType      string          `json:"sale_type"`
	StockPolicy   StockPolicy     `json:"stock_policy,omitempty"`
}

type OpenShiftRequest struct {
	ClerkID      int64           `json:"clerk_id"`
	OpeningFloat decimal.Decimal `json:"opening_float"`
}

type CloseShiftRequest struct {
	ShiftID     int64           `json:"shift_id"`
	CountedCash decimal.Decimal `json:"counted_cash"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	ClerkID     int64  `json:"clerk_id"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	ClerkID  int64
	Username string
	Role     string
}

type CreateClerkRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	FullName string `json:"full_name,omitempty"`
}

type ClerkUser struct {
	Username  string    `json:"username"`
	FullName  string    `json:"full_name,omitempty"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	ID        int64
	Username  string
	Password  string
	FullName  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	PaymentCash     = "cash"
	PaymentCard     = "card"
	PaymentTransfer = "transfer"
)

const (
	SaleStatusPending   = "pending"
	SaleStatusCompleted = "completed"
	SaleStatusVoided    = "voided"
)

const (
	MovementReasonSale       = "sale"
	MovementReasonPurchase   = "purchase"
	MovementReasonAdjustment = "adjustment"
)

const SaleTypeProduct = "product"
