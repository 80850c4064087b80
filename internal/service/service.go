package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"fitpos/backend/internal/cache"
	"fitpos/backend/internal/domain"
	"fitpos/backend/internal/store"
	"fitpos/backend/internal/ticket"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const productCacheTTL = 5 * time.Minute

type Service struct {
	gw             store.Gateway
	products       cache.ProductCache
	log            *logrus.Logger
	walkInClientID int64
	defaultPolicy  domain.StockPolicy
}

func New(gw store.Gateway, products cache.ProductCache, log *logrus.Logger, walkInClientID int64) *Service {
	if products == nil {
		products = cache.NoopProductCache{}
	}
	if log == nil {
		log = logrus.New()
	}
	if walkInClientID == 0 {
		walkInClientID = 2
	}

	return &Service{
		gw:             gw,
		products:       products,
		log:            log,
		walkInClientID: walkInClientID,
		defaultPolicy:  domain.StockPolicyStrict,
	}
}

// SetDefaultStockPolicy overrides the policy applied to carts that do not
// name one. Invalid values are ignored.
func (s *Service) SetDefaultStockPolicy(policy domain.StockPolicy) {
	if policy.Valid() {
		s.defaultPolicy = policy
	}
}

func (s *Service) ListProducts(ctx context.Context, query string, limit int) ([]domain.Product, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.gw.ListProducts(ctx, strings.TrimSpace(query), limit)
}

func (s *Service) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	key := fmt.Sprintf("product:id:%d", id)
	if cached, ok, err := s.products.Get(ctx, key); err == nil && ok {
		return *cached, nil
	}

	p, err := s.gw.GetProduct(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Product{}, &domain.ProductNotFoundError{ProductID: id}
		}
		return domain.Product{}, err
	}

	if err := s.products.Set(ctx, key, p, productCacheTTL); err != nil {
		s.log.WithError(err).WithField("product_id", id).Warn("product cache set failed")
	}
	return *p, nil
}

// GetProductByCode resolves a scanned barcode or an internal code. This
// is the hot path at the register, so hits come from cache.
func (s *Service) GetProductByCode(ctx context.Context, code string) (domain.Product, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Product{}, store.ErrInvalidCart
	}

	key := "product:code:" + code
	if cached, ok, err := s.products.Get(ctx, key); err == nil && ok {
		return *cached, nil
	}

	p, err := s.gw.GetProductByCode(ctx, code)
	if err != nil {
		return domain.Product{}, err
	}

	if err := s.products.Set(ctx, key, p, productCacheTTL); err != nil {
		s.log.WithError(err).WithField("code", code).Warn("product cache set failed")
	}
	return *p, nil
}

func (s *Service) GetClientByCode(ctx context.Context, code string) (domain.Client, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Client{}, store.ErrInvalidCart
	}
	c, err := s.gw.GetClientByCode(ctx, code)
	if err != nil {
		return domain.Client{}, err
	}
	return *c, nil
}

func (s *Service) GetSaleByTicket(ctx context.Context, ticketNumber string) (domain.Sale, error) {
	ticketNumber = strings.TrimSpace(ticketNumber)
	if ticketNumber == "" {
		return domain.Sale{}, store.ErrInvalidCart
	}
	sale, err := s.gw.GetSaleByTicket(ctx, ticketNumber)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListMovements(ctx context.Context, productID int64, limit int) ([]domain.InventoryMovement, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.gw.ListMovements(ctx, productID, limit)
}

// Checkout runs the whole sale as one transactional unit: ticket number,
// stock allocation, movement rows, sale lines with profit, and the cash
// roll-up into the open shift. A ticket number collision from a
// concurrent checkout is retried once on a fresh transaction.
func (s *Service) Checkout(ctx context.Context, req domain.CartRequest) (domain.Sale, error) {
	if err := s.normalizeCart(&req); err != nil {
		return domain.Sale{}, err
	}

	if req.PaymentMethod == domain.PaymentCash && req.ShiftID == 0 {
		active, err := s.gw.GetActiveShift(ctx, req.ClerkID)
		if err != nil {
			return domain.Sale{}, err
		}
		req.ShiftID = active.ID
	}

	sale, err := s.runCheckout(ctx, req)
	if errors.Is(err, store.ErrTicketConflict) {
		s.log.WithField("clerk_id", req.ClerkID).Info("ticket conflict, retrying checkout")
		sale, err = s.runCheckout(ctx, req)
	}
	if err != nil {
		return domain.Sale{}, err
	}

	s.log.WithFields(logrus.Fields{
		"ticket":  sale.TicketNumber,
		"total":   sale.Total.String(),
		"payment": sale.PaymentMethod,
		"lines":   len(sale.Lines),
	}).Info("checkout completed")

	return sale, nil
}

func (s *Service) normalizeCart(req *domain.CartRequest) error {
	if req.ClerkID == 0 || len(req.Lines) == 0 {
		return store.ErrInvalidCart
	}
	for _, line := range req.Lines {
		if line.ProductID == 0 || line.Quantity < 1 {
			return store.ErrInvalidCart
		}
		if line.UnitPriceOverride != nil && line.UnitPriceOverride.IsNegative() {
			return store.ErrInvalidCart
		}
	}
	if req.Discount.IsNegative() || req.Tax.IsNegative() {
		return store.ErrInvalidCart
	}

	switch req.PaymentMethod {
	case "":
		req.PaymentMethod = domain.PaymentCash
	case domain.PaymentCash, domain.PaymentCard, domain.PaymentTransfer:
	default:
		return store.ErrInvalidCart
	}

	if req.SaleType == "" {
		req.SaleType = domain.SaleTypeProduct
	}
	if req.StockPolicy == "" {
		req.StockPolicy = s.defaultPolicy
	}
	if !req.StockPolicy.Valid() {
		return store.ErrInvalidCart
	}
	if req.ClientID == 0 {
		req.ClientID = s.walkInClientID
	}
	return nil
}

// plannedLine carries one line's allocation decision between the locking
// pass and the write pass of a checkout transaction.
type plannedLine struct {
	line  domain.SaleLine
	alloc allocation
}

func (s *Service) runCheckout(ctx context.Context, req domain.CartRequest) (domain.Sale, error) {
	var sale domain.Sale
	err := s.gw.WithinTx(ctx, func(tx store.Tx) error {
		now := time.Now().UTC()

		last, err := tx.LastTicketNumber(now)
		if err != nil {
			return err
		}
		number := ticket.Sale.Next(now, last)

		// Pass one: fetch and lock everything, decide allocations,
		// compute totals. No writes until the plan is complete.
		planned := make([]plannedLine, 0, len(req.Lines))
		subtotal := decimal.Zero
		for _, cartLine := range req.Lines {
			p, err := tx.GetProductForSale(cartLine.ProductID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return &domain.ProductNotFoundError{ProductID: cartLine.ProductID}
				}
				return err
			}

			unitPrice := domain.UnitPriceFor(*p, cartLine.Quantity)
			if cartLine.UnitPriceOverride != nil {
				unitPrice = *cartLine.UnitPriceOverride
			}

			var alloc allocation
			costBasis := p.AverageCost
			if p.IsInventoried {
				candidates, err := tx.AllocationCandidates(p.ID)
				if err != nil {
					return err
				}
				alloc, err = allocate(*p, candidates, cartLine.Quantity, cartLine.LocationHint, req.StockPolicy)
				if err != nil {
					return err
				}
				if alloc.Record != nil {
					costBasis = alloc.Record.AverageCost
				}
			}

			lineSubtotal := unitPrice.Mul(decimal.NewFromInt(int64(cartLine.Quantity)))
			line := domain.SaleLine{
				ProductID:    p.ID,
				InternalCode: p.InternalCode,
				ProductName:  p.Name,
				Description:  p.Description,
				Quantity:     cartLine.Quantity,
				UnitPrice:    unitPrice,
				LineSubtotal: lineSubtotal,
				LineProfit:   domain.LineProfit(unitPrice, costBasis, cartLine.Quantity),
			}
			if alloc.Record != nil {
				line.LocationID = alloc.Record.LocationID
			}

			subtotal = subtotal.Add(lineSubtotal)
			planned = append(planned, plannedLine{line: line, alloc: alloc})
		}

		total := domain.SaleTotal(subtotal, req.Discount, req.Tax)
		if total.IsNegative() {
			return store.ErrInvalidCart
		}

		saleID, err := tx.InsertSale(domain.Sale{
			TicketNumber:  number,
			ClerkID:       req.ClerkID,
			ClientID:      req.ClientID,
			ShiftID:       req.ShiftID,
			Subtotal:      subtotal,
			Discount:      req.Discount,
			Tax:           req.Tax,
			Total:         total,
			PaymentMethod: req.PaymentMethod,
			SaleType:      req.SaleType,
			Status:        domain.SaleStatusPending,
			CreatedAt:     now,
		})
		if err != nil {
			return err
		}

		// Pass two: apply the plan. The candidate rows are still locked,
		// so the stock the plan saw is the stock being decremented. A
		// cart can carry two lines for the same product, in which case
		// the plan-time snapshot is stale for the second line; track
		// what this transaction already took from each record.
		lines := make([]domain.SaleLine, 0, len(planned))
		consumed := make(map[int64]int)
		for _, pl := range planned {
			pl.line.SaleID = saleID
			if err := tx.InsertSaleLine(pl.line); err != nil {
				return err
			}

			if pl.alloc.Record != nil {
				before := pl.alloc.StockBefore - consumed[pl.alloc.Record.ID]
				rec, err := tx.AdjustStock(pl.alloc.Record.ID, -pl.line.Quantity, pl.alloc.EnforceFloor)
				if err != nil {
					if errors.Is(err, store.ErrNotFound) {
						return &domain.StockError{
							ProductID:   pl.line.ProductID,
							ProductName: pl.line.ProductName,
							Requested:   pl.line.Quantity,
							Available:   before,
						}
					}
					return err
				}
				consumed[pl.alloc.Record.ID] += pl.line.Quantity
				if err := tx.InsertMovement(domain.InventoryMovement{
					ProductID:   pl.line.ProductID,
					LocationID:  rec.LocationID,
					Reason:      domain.MovementReasonSale,
					Quantity:    -pl.line.Quantity,
					StockBefore: rec.StockAvailable + pl.line.Quantity,
					StockAfter:  rec.StockAvailable,
					UnitCost:    rec.AverageCost,
					ActorID:     req.ClerkID,
					SaleID:      saleID,
					CreatedAt:   now,
				}); err != nil {
					return err
				}
			}
			lines = append(lines, pl.line)
		}

		if req.PaymentMethod == domain.PaymentCash && req.ShiftID != 0 {
			if err := tx.AddShiftCash(req.ShiftID, total); err != nil {
				return err
			}
		}

		if err := tx.MarkSaleCompleted(saleID); err != nil {
			return err
		}

		sale = domain.Sale{
			ID:            saleID,
			TicketNumber:  number,
			ClerkID:       req.ClerkID,
			ClientID:      req.ClientID,
			ShiftID:       req.ShiftID,
			Subtotal:      subtotal,
			Discount:      req.Discount,
			Tax:           req.Tax,
			Total:         total,
			PaymentMethod: req.PaymentMethod,
			SaleType:      req.SaleType,
			Status:        domain.SaleStatusCompleted,
			CreatedAt:     now,
			Lines:         lines,
		}
		return nil
	})
	return sale, err
}

func (s *Service) OpenShift(ctx context.Context, req domain.OpenShiftRequest) (domain.Shift, error) {
	if req.ClerkID == 0 || req.OpeningFloat.IsNegative() {
		return domain.Shift{}, store.ErrInvalidCart
	}

	open := func() (domain.Shift, error) {
		var shift domain.Shift
		err := s.gw.WithinTx(ctx, func(tx store.Tx) error {
			now := time.Now().UTC()
			last, err := tx.LastShiftNumber(now)
			if err != nil {
				return err
			}
			shift = domain.Shift{
				ShiftNumber:  ticket.Shift.Next(now, last),
				ClerkID:      req.ClerkID,
				OpeningFloat: req.OpeningFloat,
				CashTotal:    decimal.Zero,
				OpenedAt:     now,
			}
			id, err := tx.InsertShift(shift)
			if err != nil {
				return err
			}
			shift.ID = id
			return nil
		})
		return shift, err
	}

	shift, err := open()
	if errors.Is(err, store.ErrTicketConflict) {
		shift, err = open()
	}
	if err != nil {
		return domain.Shift{}, err
	}

	s.log.WithFields(logrus.Fields{
		"shift":    shift.ShiftNumber,
		"clerk_id": shift.ClerkID,
		"float":    shift.OpeningFloat.String(),
	}).Info("shift opened")

	return shift, nil
}

// CloseShift reconciles the register: expected cash is the opening float
// plus every cash sale rolled into the shift, variance is counted minus
// expected. The figures freeze on the row at close time.
func (s *Service) CloseShift(ctx context.Context, req domain.CloseShiftRequest) (domain.ShiftSummary, error) {
	if req.ShiftID == 0 || req.CountedCash.IsNegative() {
		return domain.ShiftSummary{}, store.ErrInvalidCart
	}

	var summary domain.ShiftSummary
	err := s.gw.WithinTx(ctx, func(tx store.Tx) error {
		shift, err := tx.GetShiftForClose(req.ShiftID)
		if err != nil {
			return err
		}
		if shift.Closed {
			return store.ErrShiftClosed
		}

		now := time.Now().UTC()
		expected := shift.OpeningFloat.Add(shift.CashTotal)
		variance := req.CountedCash.Sub(expected)

		if err := tx.CloseShift(shift.ID, req.CountedCash, expected, variance, now); err != nil {
			return err
		}

		shift.Closed = true
		shift.ClosedAt = &now
		shift.CountedCash = &req.CountedCash
		shift.ExpectedCash = &expected
		shift.CashVariance = &variance
		summary = domain.ShiftSummary{
			Shift:        *shift,
			ExpectedCash: expected,
			CountedCash:  req.CountedCash,
			Variance:     variance,
		}
		return nil
	})
	if err != nil {
		return domain.ShiftSummary{}, err
	}

	s.log.WithFields(logrus.Fields{
		"shift":    summary.Shift.ShiftNumber,
		"expected": summary.ExpectedCash.String(),
		"counted":  summary.CountedCash.String(),
		"variance": summary.Variance.String(),
	}).Info("shift closed")

	return summary, nil
}

func (s *Service) GetActiveShift(ctx context.Context, clerkID int64) (domain.Shift, error) {
	if clerkID == 0 {
		return domain.Shift{}, store.ErrInvalidCart
	}
	shift, err := s.gw.GetActiveShift(ctx, clerkID)
	if err != nil {
		return domain.Shift{}, err
	}
	return *shift, nil
}
