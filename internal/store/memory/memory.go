// Package memory implements store.Gateway backed by in-process maps.
// It powers dev/demo mode and the service test suite. Transactions are
// serialized under a single mutex and roll back by restoring a snapshot
// of the whole state taken at WithinTx entry.
package memory

import (
	"context"
	"errors"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"fitpos/backend/internal/domain"
	"fitpos/backend/internal/store"
	"fitpos/backend/internal/ticket"
)

type state struct {
	products  map[int64]domain.Product
	inventory map[int64]domain.InventoryRecord
	movements []domain.InventoryMovement
	sales     map[int64]domain.Sale
	saleLines map[int64][]domain.SaleLine
	shifts    map[int64]domain.Shift
	clients   map[int64]domain.Client
	users     map[string]domain.UserAccount
	nextID    map[string]int64
}

type Store struct {
	mu sync.Mutex
	st state

	// BeforeWrite, when set, runs ahead of every write made inside a
	// transaction. Tests use it to inject persistence failures and
	// assert that the whole transaction rolls back.
	BeforeWrite func(op string) error
}

// seedUsers builds the initial user accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_CLERK_PASSWORD;
// hardcoded dev defaults are used with a warning when unset. The memory
// gateway is never selected when DATABASE_URL is configured.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	clerkPwd := envOr("SEED_CLERK_PASSWORD", "clerk123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CLERK_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CLERK_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		id       int64
		username string
		password string
		role     string
	}{
		{1, "admin", adminPwd, "admin"},
		{3, "clerk", clerkPwd, "clerk"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			ID:        u.id,
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func NewSeeded() *Store {
	products := []domain.Product{
		{ID: 1, InternalCode: "PRO-WHEY-2LB", Barcode: "7501031100014", Name: "Proteina Whey 2lb Chocolate", SalePrice: dec("45.99"), WholesalePrice: dec("41.50"), WholesaleQty: 6, AverageCost: dec("30.50"), IsInventoried: true, Active: true},
		{ID: 2, InternalCode: "PRO-WHEY-5LB", Barcode: "7501031100021", Name: "Proteina Whey 5lb Vainilla", SalePrice: dec("89.00"), WholesalePrice: dec("82.00"), WholesaleQty: 4, AverageCost: dec("61.20"), IsInventoried: true, Active: true},
		{ID: 3, InternalCode: "CREA-MONO-300", Barcode: "7501031100038", Name: "Creatina Monohidratada 300g", SalePrice: dec("24.50"), AverageCost: dec("14.75"), IsInventoried: true, Active: true},
		{ID: 4, InternalCode: "AGUA-600", Barcode: "7501031100045", Name: "Agua Embotellada 600ml", SalePrice: dec("1.50"), WholesalePrice: dec("1.20"), WholesaleQty: 12, AverageCost: dec("0.60"), IsInventoried: true, Active: true},
		{ID: 5, InternalCode: "BEB-ISO-500", Barcode: "7501031100052", Name: "Bebida Isotonica 500ml", SalePrice: dec("2.75"), AverageCost: dec("1.40"), IsInventoried: true, RequiresRefrigeration: true, Active: true},
		{ID: 6, InternalCode: "BAR-PROT-60", Barcode: "7501031100069", Name: "Barra de Proteina 60g", SalePrice: dec("3.25"), AverageCost: dec("1.90"), IsInventoried: true, Active: true},
		{ID: 7, InternalCode: "VISITA-DIA", Name: "Visita por Dia", SalePrice: dec("5.00"), AverageCost: dec("0.00"), IsInventoried: false, Active: true},
		{ID: 8, InternalCode: "SHAKER-700", Barcode: "7501031100076", Name: "Shaker 700ml", SalePrice: dec("8.99"), AverageCost: dec("4.10"), IsInventoried: true, AllowSaleWithoutStock: true, Active: true},
	}

	inventory := []domain.InventoryRecord{
		{ID: 1, ProductID: 1, LocationID: 1, StockOnHand: 10, StockAvailable: 10, AverageCost: dec("30.50"), MinStock: 3, Active: true},
		{ID: 2, ProductID: 2, LocationID: 1, StockOnHand: 6, StockAvailable: 6, AverageCost: dec("61.20"), MinStock: 2, Active: true},
		{ID: 3, ProductID: 3, LocationID: 1, StockOnHand: 15, StockAvailable: 15, AverageCost: dec("14.75"), MinStock: 5, Active: true},
		{ID: 4, ProductID: 4, LocationID: 1, StockOnHand: 48, StockAvailable: 48, AverageCost: dec("0.60"), MinStock: 24, Active: true},
		{ID: 5, ProductID: 4, LocationID: 2, StockOnHand: 24, StockAvailable: 24, AverageCost: dec("0.58"), MinStock: 12, Active: true},
		{ID: 6, ProductID: 5, LocationID: 2, StockOnHand: 30, StockAvailable: 30, AverageCost: dec("1.40"), MinStock: 10, Active: true},
		{ID: 7, ProductID: 6, LocationID: 1, StockOnHand: 20, StockAvailable: 20, AverageCost: dec("1.90"), MinStock: 6, Active: true},
		{ID: 8, ProductID: 8, LocationID: 1, StockOnHand: 3, StockAvailable: 3, AverageCost: dec("4.10"), MinStock: 0, Active: true},
	}

	clients := []domain.Client{
		{ID: 1, Code: "CLI-0001", FullName: "Gimnasio Central", Active: true},
		{ID: 2, Code: "CLI-0002", FullName: "Cliente Mostrador", Active: true},
		{ID: 3, Code: "CLI-0003", FullName: "Laura Espinoza", Active: true},
	}

	st := state{
		products:  map[int64]domain.Product{},
		inventory: map[int64]domain.InventoryRecord{},
		sales:     map[int64]domain.Sale{},
		saleLines: map[int64][]domain.SaleLine{},
		shifts:    map[int64]domain.Shift{},
		clients:   map[int64]domain.Client{},
		users:     seedUsers(),
		nextID: map[string]int64{
			"product":   int64(len(products)) + 1,
			"inventory": int64(len(inventory)) + 1,
			"movement":  1,
			"sale":      1,
			"shift":     1,
			"client":    int64(len(clients)) + 1,
		},
	}
	for _, p := range products {
		st.products[p.ID] = p
	}
	for _, r := range inventory {
		st.inventory[r.ID] = r
	}
	for _, c := range clients {
		st.clients[c.ID] = c
	}
	return &Store{st: st}
}

func (s *Store) alloc(kind string) int64 {
	id := s.st.nextID[kind]
	s.st.nextID[kind] = id + 1
	return id
}

// snapshot copies every map and slice. Struct values are replaced whole
// on update, never mutated through pointers, so a per-entry copy is a
// full rollback point.
func (s *Store) snapshot() state {
	cp := state{
		products:  make(map[int64]domain.Product, len(s.st.products)),
		inventory: make(map[int64]domain.InventoryRecord, len(s.st.inventory)),
		movements: append([]domain.InventoryMovement(nil), s.st.movements...),
		sales:     make(map[int64]domain.Sale, len(s.st.sales)),
		saleLines: make(map[int64][]domain.SaleLine, len(s.st.saleLines)),
		shifts:    make(map[int64]domain.Shift, len(s.st.shifts)),
		clients:   make(map[int64]domain.Client, len(s.st.clients)),
		users:     make(map[string]domain.UserAccount, len(s.st.users)),
		nextID:    make(map[string]int64, len(s.st.nextID)),
	}
	for k, v := range s.st.products {
		cp.products[k] = v
	}
	for k, v := range s.st.inventory {
		cp.inventory[k] = v
	}
	for k, v := range s.st.sales {
		cp.sales[k] = v
	}
	for k, v := range s.st.saleLines {
		cp.saleLines[k] = append([]domain.SaleLine(nil), v...)
	}
	for k, v := range s.st.shifts {
		cp.shifts[k] = v
	}
	for k, v := range s.st.clients {
		cp.clients[k] = v
	}
	for k, v := range s.st.users {
		cp.users[k] = v
	}
	for k, v := range s.st.nextID {
		cp.nextID[k] = v
	}
	return cp
}

func (s *Store) WithinTx(ctx context.Context, fn func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := s.snapshot()
	if err := fn(&memTx{s: s}); err != nil {
		s.st = saved
		return err
	}
	return nil
}

func (s *Store) ListProducts(ctx context.Context, query string, limit int) ([]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]domain.Product, 0, len(s.st.products))
	for _, p := range s.st.products {
		if !p.Active {
			continue
		}
		if q != "" &&
			!strings.Contains(strings.ToLower(p.Name), q) &&
			!strings.Contains(strings.ToLower(p.InternalCode), q) &&
			p.Barcode != query {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.st.products[id]
	if !ok || !p.Active {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) GetProductByCode(ctx context.Context, code string) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.st.products {
		if p.Active && (p.InternalCode == code || (p.Barcode != "" && p.Barcode == code)) {
			return &p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetClient(ctx context.Context, id int64) (*domain.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.st.clients[id]
	if !ok || !c.Active {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *Store) GetClientByCode(ctx context.Context, code string) (*domain.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.st.clients {
		if c.Active && c.Code == code {
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetSaleByTicket(ctx context.Context, ticketNumber string) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sale := range s.st.sales {
		if sale.TicketNumber == ticketNumber {
			sale.Lines = append([]domain.SaleLine(nil), s.st.saleLines[sale.ID]...)
			return &sale, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListMovements(ctx context.Context, productID int64, limit int) ([]domain.InventoryMovement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.InventoryMovement, 0, limit)
	for i := len(s.st.movements) - 1; i >= 0; i-- {
		m := s.st.movements[i]
		if productID != 0 && m.ProductID != productID {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) GetActiveShift(ctx context.Context, clerkID int64) (*domain.Shift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sh := range s.st.shifts {
		if sh.ClerkID == clerkID && !sh.Closed {
			return &sh, nil
		}
	}
	return nil, store.ErrShiftNotFound
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.st.users[username]
	if !ok || !u.Active {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.st.users[user.Username]; ok {
		return &store.PersistenceError{Op: "create_user", Err: errors.New("username already exists")}
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.st.users[user.Username] = user
	return nil
}

// memTx runs against the store's live state; Store.WithinTx restores
// the pre-transaction snapshot when the callback errors.
type memTx struct {
	s *Store
}

func (t *memTx) write(op string) error {
	if t.s.BeforeWrite != nil {
		return t.s.BeforeWrite(op)
	}
	return nil
}

func (t *memTx) GetProductForSale(productID int64) (*domain.Product, error) {
	p, ok := t.s.st.products[productID]
	if !ok || !p.Active {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (t *memTx) LastTicketNumber(day time.Time) (string, error) {
	last, best := "", 0
	for _, sale := range t.s.st.sales {
		if seq := ticket.Sale.Seq(sale.TicketNumber); seq > best && sameDay(sale.TicketNumber, day) {
			last, best = sale.TicketNumber, seq
		}
	}
	return last, nil
}

func (t *memTx) LastShiftNumber(day time.Time) (string, error) {
	last, best := "", 0
	for _, sh := range t.s.st.shifts {
		if seq := ticket.Shift.Seq(sh.ShiftNumber); seq > best && sameDay(sh.ShiftNumber, day) {
			last, best = sh.ShiftNumber, seq
		}
	}
	return last, nil
}

func sameDay(number string, day time.Time) bool {
	parts := strings.Split(number, "-")
	return len(parts) == 3 && parts[1] == day.Format("20060102")
}

func (t *memTx) AllocationCandidates(productID int64) ([]domain.InventoryRecord, error) {
	out := []domain.InventoryRecord{}
	for _, r := range t.s.st.inventory {
		if r.ProductID == productID && r.Active {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocationID < out[j].LocationID })
	return out, nil
}

func (t *memTx) AdjustStock(recordID int64, delta int, enforceFloor bool) (*domain.InventoryRecord, error) {
	if err := t.write("adjust_stock"); err != nil {
		return nil, err
	}
	r, ok := t.s.st.inventory[recordID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if enforceFloor && (r.StockAvailable+delta < 0 || r.StockOnHand+delta < 0) {
		return nil, store.ErrNotFound
	}
	r.StockOnHand += delta
	r.StockAvailable += delta
	t.s.st.inventory[recordID] = r
	return &r, nil
}

func (t *memTx) InsertSale(sale domain.Sale) (int64, error) {
	if err := t.write("insert_sale"); err != nil {
		return 0, err
	}
	for _, existing := range t.s.st.sales {
		if existing.TicketNumber == sale.TicketNumber {
			return 0, store.ErrTicketConflict
		}
	}
	sale.ID = t.s.alloc("sale")
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	sale.Lines = nil
	t.s.st.sales[sale.ID] = sale
	return sale.ID, nil
}

func (t *memTx) InsertSaleLine(line domain.SaleLine) error {
	if err := t.write("insert_sale_line"); err != nil {
		return err
	}
	if _, ok := t.s.st.sales[line.SaleID]; !ok {
		return store.ErrNotFound
	}
	t.s.st.saleLines[line.SaleID] = append(t.s.st.saleLines[line.SaleID], line)
	return nil
}

func (t *memTx) MarkSaleCompleted(saleID int64) error {
	if err := t.write("mark_sale_completed"); err != nil {
		return err
	}
	sale, ok := t.s.st.sales[saleID]
	if !ok {
		return store.ErrNotFound
	}
	sale.Status = domain.SaleStatusCompleted
	t.s.st.sales[saleID] = sale
	return nil
}

func (t *memTx) InsertMovement(m domain.InventoryMovement) error {
	if err := t.write("insert_movement"); err != nil {
		return err
	}
	m.ID = t.s.alloc("movement")
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	t.s.st.movements = append(t.s.st.movements, m)
	return nil
}

func (t *memTx) InsertShift(shift domain.Shift) (int64, error) {
	if err := t.write("insert_shift"); err != nil {
		return 0, err
	}
	for _, existing := range t.s.st.shifts {
		if existing.ClerkID == shift.ClerkID && !existing.Closed {
			return 0, store.ErrShiftOpen
		}
		if existing.ShiftNumber == shift.ShiftNumber {
			return 0, store.ErrTicketConflict
		}
	}
	shift.ID = t.s.alloc("shift")
	if shift.OpenedAt.IsZero() {
		shift.OpenedAt = time.Now().UTC()
	}
	t.s.st.shifts[shift.ID] = shift
	return shift.ID, nil
}

func (t *memTx) AddShiftCash(shiftID int64, amount decimal.Decimal) error {
	if err := t.write("add_shift_cash"); err != nil {
		return err
	}
	sh, ok := t.s.st.shifts[shiftID]
	if !ok {
		return store.ErrShiftNotFound
	}
	if sh.Closed {
		return store.ErrShiftClosed
	}
	sh.CashTotal = sh.CashTotal.Add(amount)
	t.s.st.shifts[shiftID] = sh
	return nil
}

func (t *memTx) GetShiftForClose(shiftID int64) (*domain.Shift, error) {
	sh, ok := t.s.st.shifts[shiftID]
	if !ok {
		return nil, store.ErrShiftNotFound
	}
	return &sh, nil
}

func (t *memTx) CloseShift(shiftID int64, counted, expected, variance decimal.Decimal, at time.Time) error {
	if err := t.write("close_shift"); err != nil {
		return err
	}
	sh, ok := t.s.st.shifts[shiftID]
	if !ok {
		return store.ErrShiftNotFound
	}
	if sh.Closed {
		return store.ErrShiftClosed
	}
	sh.Closed = true
	sh.ClosedAt = &at
	sh.CountedCash = &counted
	sh.ExpectedCash = &expected
	sh.CashVariance = &variance
	t.s.st.shifts[shiftID] = sh
	return nil
}
