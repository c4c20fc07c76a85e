package service

import (
	"context"

	"github.com/shopspring/decimal"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/events"
	"storefront/backend/internal/store"
	"storefront/backend/internal/xid"
)

var one = decimal.NewFromInt(1)

type saleInput struct {
	userID        string
	orderID       string
	items         []domain.LineItem
	paymentMethod int
	usingPoints   bool
	pointsSpent   int64
	// stockReserved is set when an order already took the stock.
	stockReserved bool
}

// CreateSale records a counter sale paid with money. Stock, sale rows and
// points all change in one transaction.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (domain.Sale, error) {
	items, err := validateLineItems(req.Items, "sale must have at least 1 product")
	if err != nil {
		return domain.Sale{}, err
	}
	if err := s.checkRequest(req); err != nil {
		return domain.Sale{}, err
	}
	if req.UsingPoints && req.UserID == "" {
		return domain.Sale{}, store.Invalid("anonymous users cannot use points to pay for sales")
	}
	// a points-funded sale has to debit a balance, which only redemption does
	if req.UsingPoints {
		return domain.Sale{}, store.Invalid("points can only be spent by redeeming a product")
	}
	if err := validatePaymentMethod(req.PaymentMethod); err != nil {
		return domain.Sale{}, err
	}

	var sale domain.Sale
	err = s.repo.InTx(ctx, func(tx store.Tx) error {
		st, err := tx.GetStore(ctx, req.StoreID)
		if err != nil {
			return lookup(err, "store")
		}
		if !st.SupportsPayment(req.PaymentMethod) {
			return store.Invalid("this store does not accept payment method %d", req.PaymentMethod)
		}
		sale, err = s.recordSale(ctx, tx, *st, saleInput{
			userID:        req.UserID,
			items:         items,
			paymentMethod: req.PaymentMethod,
		})
		return err
	})
	if err != nil {
		return domain.Sale{}, err
	}

	s.publish(ctx, saleEvent(sale))
	return sale, nil
}

// recordSale writes a sale and its lines inside tx. Points are awarded when the
// buyer pays with money at a store with a points program.
func (s *Service) recordSale(ctx context.Context, tx store.Tx, st domain.Store, in saleInput) (domain.Sale, error) {
	if in.userID != "" {
		if _, err := tx.GetUser(ctx, in.userID); err != nil {
			return domain.Sale{}, lookup(err, "user")
		}
	}

	ledger, err := LockAndFetch(ctx, tx, productIDs(in.items))
	if err != nil {
		return domain.Sale{}, err
	}

	now := s.now()
	lines := make([]domain.SaleLine, 0, len(in.items))
	purchased := make([]domain.Product, 0, len(in.items))
	total := decimal.Zero
	for _, item := range in.items {
		if err := ledger.CheckOwnership(item.ProductID, st.ID); err != nil {
			return domain.Sale{}, err
		}
		if !in.stockReserved {
			if err := ledger.Decrement(item.ProductID, item.Quantity); err != nil {
				return domain.Sale{}, err
			}
		}
		product := ledger.Product(item.ProductID)
		unit, err := s.unitPrice(ctx, tx, product, item.Quantity, now)
		if err != nil {
			return domain.Sale{}, err
		}
		lines = append(lines, domain.SaleLine{ProductID: item.ProductID, Quantity: item.Quantity, UnitPrice: unit})
		purchased = append(purchased, product)
		total = total.Add(unit.Mul(item.Quantity))
	}
	if in.usingPoints {
		total = decimal.Zero
	}

	sale := domain.Sale{
		ID:            xid.New("sale"),
		StoreID:       st.ID,
		UserID:        in.userID,
		OrderID:       in.orderID,
		PaymentMethod: in.paymentMethod,
		UsingPoints:   in.usingPoints,
		PointsSpent:   in.pointsSpent,
		Total:         total.Round(2),
		CreatedAt:     now,
	}
	if err := tx.CreateSale(ctx, sale); err != nil {
		return domain.Sale{}, err
	}
	for _, line := range lines {
		if err := tx.AddSaleItem(ctx, sale.ID, line); err != nil {
			return domain.Sale{}, err
		}
	}
	if err := ledger.Flush(ctx); err != nil {
		return domain.Sale{}, err
	}

	if !in.usingPoints && in.userID != "" && st.PointsEnabled() {
		if _, err := s.awardPoints(ctx, tx, in.userID, purchased); err != nil {
			return domain.Sale{}, err
		}
	}

	sale.Items = lines
	return sale, nil
}

func (s *Service) GetSale(ctx context.Context, saleID string) (domain.Sale, error) {
	var sale domain.Sale
	err := s.repo.View(ctx, func(r store.Reader) error {
		found, err := r.GetSale(ctx, saleID)
		if err != nil {
			return lookup(err, "sale")
		}
		sale = *found
		return nil
	})
	return sale, err
}

func (s *Service) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	var sales []domain.Sale
	err := s.repo.View(ctx, func(r store.Reader) error {
		var err error
		sales, err = r.ListSales(ctx, filter)
		return err
	})
	return sales, err
}

func saleEvent(sale domain.Sale) events.Event {
	return events.Event{
		Type:    events.SaleRecorded,
		OrderID: sale.OrderID,
		SaleID:  sale.ID,
		StoreID: sale.StoreID,
		UserID:  sale.UserID,
		At:      sale.CreatedAt,
	}
}
