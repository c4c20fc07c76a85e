package service

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/store"
	"storefront/backend/internal/xid"
)

// CreateStore creates a store owned by ownerID. The owner must not already
// staff another store.
func (s *Service) CreateStore(ctx context.Context, ownerID string, req domain.StoreCreateRequest) (domain.Store, error) {
	if err := s.checkRequest(req); err != nil {
		return domain.Store{}, err
	}
	st := domain.Store{
		ID:              xid.New("store"),
		Name:            strings.TrimSpace(req.Name),
		Address:         strings.TrimSpace(req.Address),
		Category:        strings.TrimSpace(req.Category),
		PreorderEnabled: req.PreorderEnabled,
		Hours:           req.Hours,
		PaymentMethods:  req.PaymentMethods,
		CreatedAt:       s.now(),
	}
	if req.PointsPerCurrency != nil {
		st.PointsPerCurrency = decimal.NewNullDecimal(*req.PointsPerCurrency)
	}
	if err := validateStore(st); err != nil {
		return domain.Store{}, err
	}

	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		owner, err := tx.GetUser(ctx, ownerID)
		if err != nil {
			return lookup(err, "user")
		}
		if owner.StoreID != "" {
			return errAlreadyStaff(owner.StoreID)
		}
		if err := tx.CreateStore(ctx, st); err != nil {
			return err
		}
		owner.StoreID = st.ID
		owner.StoreRole = domain.StoreRoleOwner
		return tx.UpdateUser(ctx, *owner)
	})
	if err != nil {
		return domain.Store{}, err
	}

	s.cacheStore(ctx, st)
	s.log.Info().Str("store_id", st.ID).Str("owner_id", ownerID).Msg("store created")
	return st, nil
}

func (s *Service) UpdateStore(ctx context.Context, storeID string, req domain.StoreUpdateRequest) (domain.Store, error) {
	if err := s.checkRequest(req); err != nil {
		return domain.Store{}, err
	}

	var updated domain.Store
	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		current, err := tx.GetStore(ctx, storeID)
		if err != nil {
			return lookup(err, "store")
		}
		st := *current
		if req.Name != nil {
			st.Name = strings.TrimSpace(*req.Name)
		}
		if req.Address != nil {
			st.Address = strings.TrimSpace(*req.Address)
		}
		if req.Category != nil {
			st.Category = strings.TrimSpace(*req.Category)
		}
		if req.PreorderEnabled != nil {
			st.PreorderEnabled = *req.PreorderEnabled
		}
		if req.DisablePoints {
			st.PointsPerCurrency = decimal.NullDecimal{}
		} else if req.PointsPerCurrency != nil {
			st.PointsPerCurrency = decimal.NewNullDecimal(*req.PointsPerCurrency)
		}
		if req.Hours != nil {
			st.Hours = *req.Hours
		}
		if req.PaymentMethods != nil {
			st.PaymentMethods = *req.PaymentMethods
		}
		if err := validateStore(st); err != nil {
			return err
		}
		if err := tx.UpdateStore(ctx, st); err != nil {
			return err
		}
		updated = st
		return nil
	})
	if err != nil {
		return domain.Store{}, err
	}

	if err := s.stores.Delete(ctx, storeID); err != nil {
		s.log.Warn().Err(err).Str("store_id", storeID).Msg("failed to evict cached store")
	}
	return updated, nil
}

// GetStore reads through the store cache.
func (s *Service) GetStore(ctx context.Context, storeID string) (domain.Store, error) {
	cached, ok, err := s.stores.Get(ctx, storeID)
	if err != nil {
		s.log.Warn().Err(err).Str("store_id", storeID).Msg("store cache read failed")
	}
	if ok && cached != nil {
		return *cached, nil
	}

	var st domain.Store
	err = s.repo.View(ctx, func(r store.Reader) error {
		found, err := r.GetStore(ctx, storeID)
		if err != nil {
			return lookup(err, "store")
		}
		st = *found
		return nil
	})
	if err != nil {
		return domain.Store{}, err
	}
	s.cacheStore(ctx, st)
	return st, nil
}

func (s *Service) ListStores(ctx context.Context) ([]domain.Store, error) {
	var stores []domain.Store
	err := s.repo.View(ctx, func(r store.Reader) error {
		var err error
		stores, err = r.ListStores(ctx)
		return err
	})
	return stores, err
}

// IsStoreOpen checks at against the store's hours for that weekday.
func (s *Service) IsStoreOpen(ctx context.Context, storeID string, at time.Time) (bool, error) {
	st, err := s.GetStore(ctx, storeID)
	if err != nil {
		return false, err
	}
	return st.IsOpenAt(at), nil
}

// AssignOwner makes userID the owner of storeID. A store has at most one owner.
func (s *Service) AssignOwner(ctx context.Context, storeID string, userID string) (domain.User, error) {
	return s.assignStaff(ctx, storeID, userID, domain.StoreRoleOwner)
}

func (s *Service) AddCashier(ctx context.Context, storeID string, userID string) (domain.User, error) {
	return s.assignStaff(ctx, storeID, userID, domain.StoreRoleCashier)
}

// RemoveStaff disassociates userID from storeID.
func (s *Service) RemoveStaff(ctx context.Context, storeID string, userID string) (domain.User, error) {
	var user domain.User
	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		u, err := tx.GetUser(ctx, userID)
		if err != nil {
			return lookup(err, "user")
		}
		if u.StoreID != storeID {
			return store.Invalid("user is not associated with store %s", storeID)
		}
		u.StoreID = ""
		u.StoreRole = domain.StoreRoleNone
		if err := tx.UpdateUser(ctx, *u); err != nil {
			return err
		}
		user = *u
		return nil
	})
	return user, err
}

func (s *Service) ListStaff(ctx context.Context, storeID string) ([]domain.User, error) {
	var staff []domain.User
	err := s.repo.View(ctx, func(r store.Reader) error {
		if _, err := r.GetStore(ctx, storeID); err != nil {
			return lookup(err, "store")
		}
		var err error
		staff, err = r.ListStoreStaff(ctx, storeID)
		return err
	})
	return staff, err
}

func (s *Service) assignStaff(ctx context.Context, storeID string, userID string, role domain.StoreRole) (domain.User, error) {
	var user domain.User
	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetStore(ctx, storeID); err != nil {
			return lookup(err, "store")
		}
		u, err := tx.GetUser(ctx, userID)
		if err != nil {
			return lookup(err, "user")
		}
		if u.StoreID != "" && u.StoreID != storeID {
			return errAlreadyStaff(u.StoreID)
		}
		if u.StoreID == storeID && u.StoreRole == role {
			user = *u
			return nil
		}
		if role == domain.StoreRoleOwner {
			staff, err := tx.ListStoreStaff(ctx, storeID)
			if err != nil {
				return err
			}
			for _, member := range staff {
				if member.StoreRole == domain.StoreRoleOwner && member.ID != u.ID {
					return store.Invalid("store %s already has an owner", storeID)
				}
			}
		}
		u.StoreID = storeID
		u.StoreRole = role
		if err := tx.UpdateUser(ctx, *u); err != nil {
			return err
		}
		user = *u
		return nil
	})
	return user, err
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if err := s.checkRequest(req); err != nil {
		return domain.Product{}, err
	}
	if err := domain.ValidatePrice(req.Price); err != nil {
		return domain.Product{}, store.Invalid("%s", err.Error())
	}
	if err := domain.ValidateStock(req.Quantity); err != nil {
		return domain.Product{}, store.Invalid("%s", err.Error())
	}

	p := domain.Product{
		ID:          xid.New("prd"),
		StoreID:     req.StoreID,
		Name:        strings.TrimSpace(req.Name),
		Brand:       strings.TrimSpace(req.Brand),
		Description: req.Description,
		Price:       req.Price,
		PointsPrice: req.PointsPrice,
		Quantity:    req.Quantity,
		Hidden:      req.Hidden,
		Barcode:     strings.TrimSpace(req.Barcode),
		CreatedAt:   s.now(),
	}
	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetStore(ctx, p.StoreID); err != nil {
			return lookup(err, "store")
		}
		return tx.CreateProduct(ctx, p)
	})
	if err != nil {
		return domain.Product{}, err
	}
	return p, nil
}

// UpdateProduct applies a partial update under the product's row lock. A
// points_price of 0 removes the points price.
func (s *Service) UpdateProduct(ctx context.Context, productID string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if err := s.checkRequest(req); err != nil {
		return domain.Product{}, err
	}

	var updated domain.Product
	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		ledger, err := LockAndFetch(ctx, tx, []string{productID})
		if err != nil {
			return lookup(err, "product")
		}
		p := ledger.Product(productID)
		if p.Anonymized {
			return store.Invalid("deleted products cannot be updated")
		}
		if req.Name != nil {
			p.Name = strings.TrimSpace(*req.Name)
		}
		if req.Brand != nil {
			p.Brand = strings.TrimSpace(*req.Brand)
		}
		if req.Description != nil {
			p.Description = *req.Description
		}
		if req.Price != nil {
			if err := domain.ValidatePrice(*req.Price); err != nil {
				return store.Invalid("%s", err.Error())
			}
			p.Price = *req.Price
		}
		if req.PointsPrice != nil {
			if *req.PointsPrice == 0 {
				p.PointsPrice = nil
			} else {
				price := *req.PointsPrice
				p.PointsPrice = &price
			}
		}
		if req.Quantity != nil {
			if err := domain.ValidateStock(*req.Quantity); err != nil {
				return store.Invalid("%s", err.Error())
			}
			p.Quantity = *req.Quantity
		}
		if req.Hidden != nil {
			p.Hidden = *req.Hidden
		}
		if req.Barcode != nil {
			p.Barcode = strings.TrimSpace(*req.Barcode)
		}
		if err := tx.UpdateProduct(ctx, p); err != nil {
			return err
		}
		updated = p
		return nil
	})
	return updated, err
}

func (s *Service) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	var p domain.Product
	err := s.repo.View(ctx, func(r store.Reader) error {
		found, err := r.GetProduct(ctx, productID)
		if err != nil {
			return lookup(err, "product")
		}
		p = *found
		return nil
	})
	return p, err
}

func (s *Service) ListProducts(ctx context.Context, storeID string, includeHidden bool) ([]domain.Product, error) {
	var products []domain.Product
	err := s.repo.View(ctx, func(r store.Reader) error {
		if _, err := r.GetStore(ctx, storeID); err != nil {
			return lookup(err, "store")
		}
		var err error
		products, err = r.ListProducts(ctx, storeID, includeHidden)
		return err
	})
	return products, err
}

// DeleteProduct removes a product. Products referenced by orders or sales are
// anonymized instead so history keeps its rows; the result reports which.
func (s *Service) DeleteProduct(ctx context.Context, productID string) (bool, error) {
	anonymized := false
	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		ledger, err := LockAndFetch(ctx, tx, []string{productID})
		if err != nil {
			return lookup(err, "product")
		}
		referenced, err := tx.ProductReferenced(ctx, productID)
		if err != nil {
			return err
		}
		if !referenced {
			return tx.DeleteProduct(ctx, productID)
		}

		p := ledger.Product(productID)
		p.Name = domain.DeletedProductName
		p.Brand = ""
		p.Description = ""
		p.Barcode = ""
		p.PointsPrice = nil
		p.Quantity = decimal.Zero
		p.Hidden = true
		p.Anonymized = true
		anonymized = true
		return tx.UpdateProduct(ctx, p)
	})
	return anonymized, err
}

func (s *Service) cacheStore(ctx context.Context, st domain.Store) {
	if err := s.stores.Set(ctx, &st, s.storeTTL); err != nil {
		s.log.Warn().Err(err).Str("store_id", st.ID).Msg("failed to cache store")
	}
}

func validateStore(st domain.Store) error {
	if st.Name == "" {
		return store.Invalid("name is required")
	}
	if err := domain.ValidateHours(st.Hours); err != nil {
		return store.Invalid("%s", err.Error())
	}
	open := false
	for _, day := range st.Hours {
		open = open || day.Open != nil
	}
	if !open {
		return store.Invalid("stores must be open at least one day of the week")
	}
	if st.PointsPerCurrency.Valid {
		if err := domain.ValidatePointsPerCurrency(st.PointsPerCurrency.Decimal); err != nil {
			return store.Invalid("%s", err.Error())
		}
	}
	return nil
}

func errAlreadyStaff(storeID string) error {
	return store.Invalid("user must be disassociated from store %s before associating them to a new one", storeID)
}
