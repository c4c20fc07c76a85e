package service

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/store"
	"storefront/backend/internal/xid"
)

const dateLayout = "2006-01-02"

var (
	defaultMinAmount = decimal.NewFromInt(1)
	defaultMaxAmount = decimal.NewFromInt(2147483647)
)

// GetActiveDiscount returns the product's discount unless it has already
// ended. With raiseIfMissing unset a missing discount is (nil, nil).
func (s *Service) GetActiveDiscount(ctx context.Context, productID string, raiseIfMissing bool) (*domain.Discount, error) {
	today := s.now()
	var found *domain.Discount
	err := s.repo.View(ctx, func(r store.Reader) error {
		d, err := r.GetDiscountByProduct(ctx, productID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}
		if !d.Expired(today) {
			found = d
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil && raiseIfMissing {
		return nil, store.NotFound("discount")
	}
	return found, nil
}

func (s *Service) GetDiscount(ctx context.Context, id string) (domain.Discount, error) {
	var d domain.Discount
	err := s.repo.View(ctx, func(r store.Reader) error {
		found, err := r.GetDiscount(ctx, id)
		if err != nil {
			return lookup(err, "discount")
		}
		d = *found
		return nil
	})
	return d, err
}

// ListDiscounts purges discounts that ended before today and returns the rest.
func (s *Service) ListDiscounts(ctx context.Context) ([]domain.Discount, error) {
	today := s.now()
	var discounts []domain.Discount
	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		removed, err := tx.DeleteDiscountsEndedBefore(ctx, today)
		if err != nil {
			return err
		}
		if removed > 0 {
			s.log.Debug().Int("removed", removed).Msg("expired discounts purged")
		}
		discounts, err = tx.ListDiscounts(ctx)
		return err
	})
	return discounts, err
}

func (s *Service) CreateDiscount(ctx context.Context, req domain.DiscountCreateRequest) (domain.Discount, error) {
	if err := s.checkRequest(req); err != nil {
		return domain.Discount{}, err
	}

	start, err := time.Parse(dateLayout, req.StartDate)
	if err != nil {
		return domain.Discount{}, store.Invalid("start_date must be a date formatted as %s", dateLayout)
	}
	end, err := time.Parse(dateLayout, req.EndDate)
	if err != nil {
		return domain.Discount{}, store.Invalid("end_date must be a date formatted as %s", dateLayout)
	}
	today := domain.DateOnly(s.now())
	if start.Before(today) {
		return domain.Discount{}, store.Invalid("start_date cannot be in the past")
	}
	if !start.Before(end) {
		return domain.Discount{}, store.Invalid("start_date must be before end_date")
	}

	minAmount, maxAmount := defaultMinAmount, defaultMaxAmount
	if req.MinAmount != nil {
		minAmount = *req.MinAmount
	}
	if req.MaxAmount != nil {
		maxAmount = *req.MaxAmount
	}
	if minAmount.IsNegative() {
		return domain.Discount{}, store.Invalid("min_amount cannot be negative")
	}
	if !minAmount.LessThan(maxAmount) {
		return domain.Discount{}, store.Invalid("min_amount must be less than max_amount")
	}

	usable := false
	for _, day := range req.DaysUsable {
		usable = usable || day
	}
	if !usable {
		return domain.Discount{}, store.Invalid("discount must be usable on at least one day of the week")
	}

	discount := domain.Discount{
		ID:         xid.New("disc"),
		ProductID:  req.ProductID,
		PctOff:     req.PctOff,
		StartDate:  start,
		EndDate:    end,
		DaysUsable: req.DaysUsable,
		MinAmount:  minAmount,
		MaxAmount:  maxAmount,
		CreatedAt:  s.now(),
	}

	err = s.repo.InTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetProduct(ctx, req.ProductID); err != nil {
			return lookup(err, "product")
		}
		if _, err := tx.DeleteDiscountsEndedBefore(ctx, today); err != nil {
			return err
		}
		existing, err := tx.GetDiscountByProduct(ctx, req.ProductID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if existing != nil {
			return store.Invalid("product %s already has a discount", req.ProductID)
		}
		return tx.CreateDiscount(ctx, discount)
	})
	if err != nil {
		return domain.Discount{}, err
	}
	return discount, nil
}

func (s *Service) DeleteDiscount(ctx context.Context, id string) error {
	return s.repo.InTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetDiscount(ctx, id); err != nil {
			return lookup(err, "discount")
		}
		return tx.DeleteDiscount(ctx, id)
	})
}

// unitPrice is the price charged per unit of p on day for qty units.
func (s *Service) unitPrice(ctx context.Context, r store.Reader, p domain.Product, qty decimal.Decimal, day time.Time) (decimal.Decimal, error) {
	d, err := r.GetDiscountByProduct(ctx, p.ID)
	if errors.Is(err, store.ErrNotFound) {
		return p.Price, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	if d.AppliesTo(day, qty) {
		return d.Apply(p.Price), nil
	}
	return p.Price, nil
}
