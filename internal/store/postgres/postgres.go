// Package postgres implements store.Gateway on PostgreSQL through
// database/sql with the pgx stdlib driver. Checkout and shift units run
// under serializable isolation with row locks on the inventory records
// they touch; unique constraints on ticket and shift numbers backstop
// the in-transaction sequence scan.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"fitpos/backend/internal/domain"
	"fitpos/backend/internal/store"
	"fitpos/backend/internal/ticket"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) WithinTx(ctx context.Context, fn func(store.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return &store.PersistenceError{Op: "begin", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&pgTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return &store.PersistenceError{Op: "commit", Err: err}
	}
	return nil
}

const productColumns = `
	id, internal_code, COALESCE(barcode, ''), name, COALESCE(description, ''),
	sale_price, wholesale_price, COALESCE(wholesale_qty, 0), average_cost,
	is_inventoried, allow_sale_without_stock, requires_refrigeration, active`

func scanProduct(row interface{ Scan(...any) error }) (*domain.Product, error) {
	var p domain.Product
	var wholesale decimal.NullDecimal
	err := row.Scan(&p.ID, &p.InternalCode, &p.Barcode, &p.Name, &p.Description,
		&p.SalePrice, &wholesale, &p.WholesaleQty, &p.AverageCost,
		&p.IsInventoried, &p.AllowSaleWithoutStock, &p.RequiresRefrigeration, &p.Active)
	if err != nil {
		return nil, err
	}
	if wholesale.Valid {
		p.WholesalePrice = wholesale.Decimal
	}
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context, query string, limit int) ([]domain.Product, error) {
	if limit < 1 {
		limit = 100
	}
	pattern := "%" + strings.TrimSpace(query) + "%"

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE active = true
		  AND ($1 = '%%' OR name ILIKE $1 OR internal_code ILIKE $1 OR barcode = $2)
		ORDER BY name
		LIMIT $3
	`, pattern, strings.TrimSpace(query), limit)
	if err != nil {
		return nil, &store.PersistenceError{Op: "list products", Err: err}
	}
	defer rows.Close()

	products := make([]domain.Product, 0, limit)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, &store.PersistenceError{Op: "scan product", Err: err}
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, &store.PersistenceError{Op: "list products", Err: err}
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1 AND active = true
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, &store.PersistenceError{Op: "get product", Err: err}
	}
	return p, nil
}

func (s *Store) GetProductByCode(ctx context.Context, code string) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE active = true AND (internal_code = $1 OR barcode = $1)
	`, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, &store.PersistenceError{Op: "get product by code", Err: err}
	}
	return p, nil
}

func (s *Store) GetClient(ctx context.Context, id int64) (*domain.Client, error) {
	return s.getClient(ctx, `id = $1`, id)
}

func (s *Store) GetClientByCode(ctx context.Context, code string) (*domain.Client, error) {
	return s.getClient(ctx, `code = $1`, code)
}

func (s *Store) getClient(ctx context.Context, cond string, arg any) (*domain.Client, error) {
	var c domain.Client
	err := s.db.QueryRowContext(ctx, `
		SELECT id, code, full_name, COALESCE(phone, ''), COALESCE(email, ''), active
		FROM clients
		WHERE active = true AND `+cond,
		arg).Scan(&c.ID, &c.Code, &c.FullName, &c.Phone, &c.Email, &c.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, &store.PersistenceError{Op: "get client", Err: err}
	}
	return &c, nil
}

func (s *Store) GetSaleByTicket(ctx context.Context, ticketNumber string) (*domain.Sale, error) {
	var sale domain.Sale
	var shiftID sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, ticket_number, clerk_id, client_id, shift_id,
		       subtotal, discount, tax, total, payment_method, sale_type, status, created_at
		FROM sales
		WHERE ticket_number = $1
	`, ticketNumber).Scan(&sale.ID, &sale.TicketNumber, &sale.ClerkID, &sale.ClientID, &shiftID,
		&sale.Subtotal, &sale.Discount, &sale.Tax, &sale.Total, &sale.PaymentMethod, &sale.SaleType, &sale.Status, &sale.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, &store.PersistenceError{Op: "get sale", Err: err}
	}
	sale.ShiftID = shiftID.Int64
	sale.CreatedAt = sale.CreatedAt.UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, product_id, internal_code, product_name, COALESCE(description, ''),
		       quantity, unit_price, line_subtotal, line_profit, COALESCE(location_id, 0)
		FROM sale_lines
		WHERE sale_id = $1
		ORDER BY id
	`, sale.ID)
	if err != nil {
		return nil, &store.PersistenceError{Op: "get sale lines", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var line domain.SaleLine
		if err := rows.Scan(&line.ID, &line.SaleID, &line.ProductID, &line.InternalCode, &line.ProductName, &line.Description,
			&line.Quantity, &line.UnitPrice, &line.LineSubtotal, &line.LineProfit, &line.LocationID); err != nil {
			return nil, &store.PersistenceError{Op: "scan sale line", Err: err}
		}
		sale.Lines = append(sale.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, &store.PersistenceError{Op: "get sale lines", Err: err}
	}
	return &sale, nil
}

func (s *Store) ListMovements(ctx context.Context, productID int64, limit int) ([]domain.InventoryMovement, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, location_id, reason, quantity, stock_before, stock_after,
		       unit_cost, actor_id, COALESCE(sale_id, 0), COALESCE(note, ''), created_at
		FROM inventory_movements
		WHERE $1 = 0 OR product_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, productID, limit)
	if err != nil {
		return nil, &store.PersistenceError{Op: "list movements", Err: err}
	}
	defer rows.Close()

	movements := make([]domain.InventoryMovement, 0, limit)
	for rows.Next() {
		var m domain.InventoryMovement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.LocationID, &m.Reason, &m.Quantity, &m.StockBefore, &m.StockAfter,
			&m.UnitCost, &m.ActorID, &m.SaleID, &m.Note, &m.CreatedAt); err != nil {
			return nil, &store.PersistenceError{Op: "scan movement", Err: err}
		}
		m.CreatedAt = m.CreatedAt.UTC()
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, &store.PersistenceError{Op: "list movements", Err: err}
	}
	return movements, nil
}

func (s *Store) GetActiveShift(ctx context.Context, clerkID int64) (*domain.Shift, error) {
	sh, err := scanShift(s.db.QueryRowContext(ctx, `
		SELECT `+shiftColumns+`
		FROM shifts
		WHERE clerk_id = $1 AND closed = false
	`, clerkID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrShiftNotFound
		}
		return nil, &store.PersistenceError{Op: "get active shift", Err: err}
	}
	return sh, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error) {
	var u domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, COALESCE(full_name, ''), role, active, created_at
		FROM app_users
		WHERE username = $1 AND active = true
	`, username).Scan(&u.ID, &u.Username, &u.Password, &u.FullName, &u.Role, &u.Active, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, &store.PersistenceError{Op: "get user", Err: err}
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password_hash, full_name, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, user.Username, user.Password, nullIfEmpty(user.FullName), user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return &store.PersistenceError{Op: "create user", Err: errors.New("username already exists")}
		}
		return &store.PersistenceError{Op: "create user", Err: err}
	}
	return nil
}

const shiftColumns = `
	id, shift_number, clerk_id, opening_float, cash_total, opened_at,
	closed, closed_at, expected_cash, counted_cash, cash_variance`

func scanShift(row interface{ Scan(...any) error }) (*domain.Shift, error) {
	var sh domain.Shift
	var closedAt sql.NullTime
	var expected, counted, variance decimal.NullDecimal
	err := row.Scan(&sh.ID, &sh.ShiftNumber, &sh.ClerkID, &sh.OpeningFloat, &sh.CashTotal, &sh.OpenedAt,
		&sh.Closed, &closedAt, &expected, &counted, &variance)
	if err != nil {
		return nil, err
	}
	sh.OpenedAt = sh.OpenedAt.UTC()
	if closedAt.Valid {
		t := closedAt.Time.UTC()
		sh.ClosedAt = &t
	}
	if expected.Valid {
		sh.ExpectedCash = &expected.Decimal
	}
	if counted.Valid {
		sh.CountedCash = &counted.Decimal
	}
	if variance.Valid {
		sh.CashVariance = &variance.Decimal
	}
	return &sh, nil
}

type pgTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *pgTx) GetProductForSale(productID int64) (*domain.Product, error) {
	p, err := scanProduct(t.tx.QueryRowContext(t.ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1 AND active = true
	`, productID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, &store.PersistenceError{Op: "get product for sale", Err: err}
	}
	return p, nil
}

// lastNumber scans the day's highest sequence for a numbering scheme.
// The unique constraint on the column catches the race two concurrent
// transactions can still reach here.
func (t *pgTx) lastNumber(table, column string, scheme ticket.Scheme, day time.Time) (string, error) {
	var last string
	prefix := scheme.Prefix + "-" + day.Format("20060102") + "-%"
	err := t.tx.QueryRowContext(t.ctx, `
		SELECT `+column+`
		FROM `+table+`
		WHERE `+column+` LIKE $1
		ORDER BY `+column+` DESC
		LIMIT 1
	`, prefix).Scan(&last)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", &store.PersistenceError{Op: "last " + column, Err: err}
	}
	return last, nil
}

func (t *pgTx) LastTicketNumber(day time.Time) (string, error) {
	return t.lastNumber("sales", "ticket_number", ticket.Sale, day)
}

func (t *pgTx) LastShiftNumber(day time.Time) (string, error) {
	return t.lastNumber("shifts", "shift_number", ticket.Shift, day)
}

func (t *pgTx) AllocationCandidates(productID int64) ([]domain.InventoryRecord, error) {
	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT id, product_id, location_id, stock_on_hand, stock_available, average_cost, min_stock, active
		FROM inventory_records
		WHERE product_id = $1 AND active = true
		ORDER BY location_id
		FOR UPDATE
	`, productID)
	if err != nil {
		return nil, &store.PersistenceError{Op: "allocation candidates", Err: err}
	}
	defer rows.Close()

	records := []domain.InventoryRecord{}
	for rows.Next() {
		var r domain.InventoryRecord
		if err := rows.Scan(&r.ID, &r.ProductID, &r.LocationID, &r.StockOnHand, &r.StockAvailable, &r.AverageCost, &r.MinStock, &r.Active); err != nil {
			return nil, &store.PersistenceError{Op: "scan inventory record", Err: err}
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &store.PersistenceError{Op: "allocation candidates", Err: err}
	}
	return records, nil
}

func (t *pgTx) AdjustStock(recordID int64, delta int, enforceFloor bool) (*domain.InventoryRecord, error) {
	guard := ""
	if enforceFloor {
		guard = "AND stock_available + $2 >= 0 AND stock_on_hand + $2 >= 0"
	}
	var r domain.InventoryRecord
	err := t.tx.QueryRowContext(t.ctx, `
		UPDATE inventory_records
		SET stock_on_hand = stock_on_hand + $2,
		    stock_available = stock_available + $2,
		    updated_at = now()
		WHERE id = $1 `+guard+`
		RETURNING id, product_id, location_id, stock_on_hand, stock_available, average_cost, min_stock, active
	`, recordID, delta).Scan(&r.ID, &r.ProductID, &r.LocationID, &r.StockOnHand, &r.StockAvailable, &r.AverageCost, &r.MinStock, &r.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, &store.PersistenceError{Op: "adjust stock", Err: err}
	}
	return &r, nil
}

func (t *pgTx) InsertSale(sale domain.Sale) (int64, error) {
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	var id int64
	err := t.tx.QueryRowContext(t.ctx, `
		INSERT INTO sales (ticket_number, clerk_id, client_id, shift_id,
			subtotal, discount, tax, total, payment_method, sale_type, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING id
	`, sale.TicketNumber, sale.ClerkID, sale.ClientID, nullIfZero(sale.ShiftID),
		sale.Subtotal, sale.Discount, sale.Tax, sale.Total, sale.PaymentMethod, sale.SaleType, sale.Status, sale.CreatedAt).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, store.ErrTicketConflict
		}
		return 0, &store.PersistenceError{Op: "insert sale", Err: err}
	}
	return id, nil
}

func (t *pgTx) InsertSaleLine(line domain.SaleLine) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO sale_lines (sale_id, product_id, internal_code, product_name, description,
			quantity, unit_price, line_subtotal, line_profit, location_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, line.SaleID, line.ProductID, line.InternalCode, line.ProductName, nullIfEmpty(line.Description),
		line.Quantity, line.UnitPrice, line.LineSubtotal, line.LineProfit, nullIfZero(line.LocationID))
	if err != nil {
		return &store.PersistenceError{Op: "insert sale line", Err: err}
	}
	return nil
}

func (t *pgTx) MarkSaleCompleted(saleID int64) error {
	res, err := t.tx.ExecContext(t.ctx, `
		UPDATE sales SET status = $2 WHERE id = $1
	`, saleID, domain.SaleStatusCompleted)
	if err != nil {
		return &store.PersistenceError{Op: "mark sale completed", Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &store.PersistenceError{Op: "mark sale completed", Err: err}
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *pgTx) InsertMovement(m domain.InventoryMovement) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO inventory_movements (product_id, location_id, reason, quantity,
			stock_before, stock_after, unit_cost, actor_id, sale_id, note, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, m.ProductID, m.LocationID, m.Reason, m.Quantity,
		m.StockBefore, m.StockAfter, m.UnitCost, m.ActorID, nullIfZero(m.SaleID), nullIfEmpty(m.Note), m.CreatedAt)
	if err != nil {
		return &store.PersistenceError{Op: "insert movement", Err: err}
	}
	return nil
}

func (t *pgTx) InsertShift(shift domain.Shift) (int64, error) {
	if shift.OpenedAt.IsZero() {
		shift.OpenedAt = time.Now().UTC()
	}
	var id int64
	err := t.tx.QueryRowContext(t.ctx, `
		INSERT INTO shifts (shift_number, clerk_id, opening_float, cash_total, opened_at, closed)
		VALUES ($1,$2,$3,$4,$5,false)
		RETURNING id
	`, shift.ShiftNumber, shift.ClerkID, shift.OpeningFloat, shift.CashTotal, shift.OpenedAt).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// shifts_one_open_per_clerk is the partial unique index on
			// clerk_id WHERE NOT closed.
			if pgErr.ConstraintName == "shifts_one_open_per_clerk" {
				return 0, store.ErrShiftOpen
			}
			return 0, store.ErrTicketConflict
		}
		return 0, &store.PersistenceError{Op: "insert shift", Err: err}
	}
	return id, nil
}

func (t *pgTx) AddShiftCash(shiftID int64, amount decimal.Decimal) error {
	res, err := t.tx.ExecContext(t.ctx, `
		UPDATE shifts SET cash_total = cash_total + $2 WHERE id = $1 AND closed = false
	`, shiftID, amount)
	if err != nil {
		return &store.PersistenceError{Op: "add shift cash", Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &store.PersistenceError{Op: "add shift cash", Err: err}
	}
	if affected == 0 {
		return t.shiftMissReason(shiftID)
	}
	return nil
}

func (t *pgTx) GetShiftForClose(shiftID int64) (*domain.Shift, error) {
	sh, err := scanShift(t.tx.QueryRowContext(t.ctx, `
		SELECT `+shiftColumns+`
		FROM shifts
		WHERE id = $1
		FOR UPDATE
	`, shiftID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrShiftNotFound
		}
		return nil, &store.PersistenceError{Op: "get shift for close", Err: err}
	}
	return sh, nil
}

func (t *pgTx) CloseShift(shiftID int64, counted, expected, variance decimal.Decimal, at time.Time) error {
	res, err := t.tx.ExecContext(t.ctx, `
		UPDATE shifts
		SET closed = true, closed_at = $2, counted_cash = $3, expected_cash = $4, cash_variance = $5
		WHERE id = $1 AND closed = false
	`, shiftID, at, counted, expected, variance)
	if err != nil {
		return &store.PersistenceError{Op: "close shift", Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &store.PersistenceError{Op: "close shift", Err: err}
	}
	if affected == 0 {
		return t.shiftMissReason(shiftID)
	}
	return nil
}

// shiftMissReason tells apart the two ways a guarded shift update can
// match zero rows.
func (t *pgTx) shiftMissReason(shiftID int64) error {
	var closed bool
	err := t.tx.QueryRowContext(t.ctx, `SELECT closed FROM shifts WHERE id = $1`, shiftID).Scan(&closed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrShiftNotFound
		}
		return &store.PersistenceError{Op: "check shift", Err: err}
	}
	if closed {
		return store.ErrShiftClosed
	}
	return store.ErrShiftNotFound
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func nullIfZero(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
