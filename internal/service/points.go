package service

import (
	"context"
	"errors"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/store"
	"storefront/backend/internal/xid"
)

func (s *Service) PointsEnabled(st domain.Store) bool {
	return st.PointsEnabled()
}

// GetBalanceOrNotFound returns the user's balance at a store with a points program.
func (s *Service) GetBalanceOrNotFound(ctx context.Context, userID string, storeID string) (domain.Points, error) {
	entry, err := s.GetBalance(ctx, userID, storeID, false)
	if err != nil {
		return domain.Points{}, err
	}
	return *entry, nil
}

// GetBalance returns nil instead of NotFound for a missing entry when allowMissing is set.
func (s *Service) GetBalance(ctx context.Context, userID string, storeID string, allowMissing bool) (*domain.Points, error) {
	var entry *domain.Points
	err := s.repo.View(ctx, func(r store.Reader) error {
		st, err := r.GetStore(ctx, storeID)
		if err != nil {
			return lookup(err, "store")
		}
		if !st.PointsEnabled() {
			return errNoPointsProgram()
		}
		entry, err = r.GetPoints(ctx, userID, storeID)
		if errors.Is(err, store.ErrNotFound) && allowMissing {
			entry = nil
			return nil
		}
		return lookup(err, "points entry")
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Service) GetOrCreateBalance(ctx context.Context, userID string, storeID string) (domain.Points, error) {
	var entry domain.Points
	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		st, err := tx.GetStore(ctx, storeID)
		if err != nil {
			return lookup(err, "store")
		}
		if !st.PointsEnabled() {
			return errNoPointsProgram()
		}
		if _, err := tx.GetUser(ctx, userID); err != nil {
			return lookup(err, "user")
		}
		found, err := ensurePoints(ctx, tx, userID, storeID)
		if err != nil {
			return err
		}
		entry = *found
		return nil
	})
	return entry, err
}

func (s *Service) ListPoints(ctx context.Context, storeID string) ([]domain.Points, error) {
	var entries []domain.Points
	err := s.repo.View(ctx, func(r store.Reader) error {
		if _, err := r.GetStore(ctx, storeID); err != nil {
			return lookup(err, "store")
		}
		var err error
		entries, err = r.ListPoints(ctx, storeID)
		return err
	})
	return entries, err
}

// awardPoints credits floor(price / points_per_currency) for every product
// line, capped at the entry's max. Quantity does not scale the award.
func (s *Service) awardPoints(ctx context.Context, tx store.Tx, userID string, products []domain.Product) (domain.Points, error) {
	if len(products) == 0 {
		return domain.Points{}, store.Invalid("no products provided")
	}
	storeID := products[0].StoreID
	for _, p := range products[1:] {
		if p.StoreID != storeID {
			return domain.Points{}, store.Invalid("all products must belong to the same store")
		}
	}

	st, err := tx.GetStore(ctx, storeID)
	if err != nil {
		return domain.Points{}, lookup(err, "store")
	}
	if !st.PointsEnabled() {
		return domain.Points{}, errNoPointsProgram()
	}

	entry, err := ensurePoints(ctx, tx, userID, storeID)
	if err != nil {
		return domain.Points{}, err
	}

	var earned int64
	for _, p := range products {
		earned += st.PointsFor(p.Price)
	}
	amount := entry.Amount
	if earned >= entry.Max-amount {
		amount = entry.Max
	} else {
		amount += earned
	}
	if amount != entry.Amount {
		if err := tx.SetPointsAmount(ctx, entry.ID, amount); err != nil {
			return domain.Points{}, err
		}
	}

	s.log.Debug().
		Str("user_id", userID).
		Str("store_id", storeID).
		Int64("earned", earned).
		Int64("balance", amount).
		Msg("points awarded")

	entry.Amount = amount
	return *entry, nil
}

// RedeemForProduct buys one unit of a product with points. The product row is
// locked before the balance, the same order a money sale uses.
func (s *Service) RedeemForProduct(ctx context.Context, userID string, productID string) (domain.Sale, domain.Points, error) {
	var sale domain.Sale
	var entry domain.Points

	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		product, err := tx.GetProduct(ctx, productID)
		if err != nil {
			return lookup(err, "product")
		}
		if product.PointsPrice == nil || *product.PointsPrice <= 0 {
			return store.Invalid("this product cannot be purchased with points")
		}
		price := *product.PointsPrice

		st, err := tx.GetStore(ctx, product.StoreID)
		if err != nil {
			return lookup(err, "store")
		}
		if !st.PointsEnabled() {
			return errNoPointsProgram()
		}

		if _, err := LockAndFetch(ctx, tx, []string{productID}); err != nil {
			return err
		}
		balance, err := tx.LockPoints(ctx, userID, st.ID)
		if err != nil {
			return lookup(err, "points entry")
		}
		if balance.Amount < price {
			return store.Invalid("not enough points")
		}

		sale, err = s.recordSale(ctx, tx, *st, saleInput{
			userID:        userID,
			items:         []domain.LineItem{{ProductID: productID, Quantity: one}},
			paymentMethod: domain.PaymentCash,
			usingPoints:   true,
			pointsSpent:   price,
		})
		if err != nil {
			return err
		}

		balance.Amount -= price
		if err := tx.SetPointsAmount(ctx, balance.ID, balance.Amount); err != nil {
			return err
		}
		entry = *balance
		return nil
	})
	if err != nil {
		return domain.Sale{}, domain.Points{}, err
	}

	s.publish(ctx, saleEvent(sale))
	return sale, entry, nil
}

// ensurePoints creates a zero entry when missing and returns it locked.
func ensurePoints(ctx context.Context, tx store.Tx, userID string, storeID string) (*domain.Points, error) {
	err := tx.CreatePoints(ctx, domain.Points{
		ID:      xid.New("pts"),
		StoreID: storeID,
		UserID:  userID,
		Max:     domain.DefaultPointsMax,
	})
	if err != nil {
		return nil, err
	}
	entry, err := tx.LockPoints(ctx, userID, storeID)
	if err != nil {
		return nil, lookup(err, "points entry")
	}
	return entry, nil
}

func errNoPointsProgram() error {
	return store.Invalid("this store does not have a points program")
}
