package memory

import (
	"context"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/store"
	"storefront/backend/internal/xid"
)

// Store keeps all data in process. Transactions are serialized by mu and run
// against a private copy of the state that replaces the live one on commit.
type Store struct {
	mu    sync.RWMutex
	state *state
}

var _ store.Tx = (*state)(nil)

type state struct {
	stores    map[string]domain.Store
	users     map[string]domain.User
	products  map[string]domain.Product
	orders    map[string]domain.Order
	sales     map[string]domain.Sale
	points    map[string]domain.Points
	discounts map[string]domain.Discount
	reviews   map[string]domain.Review
}

func New() *Store {
	return &Store{state: newState()}
}

func newState() *state {
	return &state{
		stores:    make(map[string]domain.Store),
		users:     make(map[string]domain.User),
		products:  make(map[string]domain.Product),
		orders:    make(map[string]domain.Order),
		sales:     make(map[string]domain.Sale),
		points:    make(map[string]domain.Points),
		discounts: make(map[string]domain.Discount),
		reviews:   make(map[string]domain.Review),
	}
}

// NewSeeded returns a store with an admin account, one demo store and its
// owner. Passwords come from SEED_ADMIN_PASSWORD and SEED_OWNER_PASSWORD.
func NewSeeded(logger zerolog.Logger) (*Store, error) {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin12345")
	ownerPwd := envOr("SEED_OWNER_PASSWORD", "owner12345")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_OWNER_PASSWORD") == "" {
		logger.Warn().Msg("memory store: using default dev credentials, set SEED_ADMIN_PASSWORD and SEED_OWNER_PASSWORD to override")
	}

	s := New()
	now := time.Now().UTC()
	storeID := "store-demo"
	open, closing := "08:00", "21:00"
	demo := domain.Store{
		ID:                storeID,
		Name:              "Corner Grocer",
		Address:           "1 Market Street",
		Category:          "grocery",
		PreorderEnabled:   true,
		PointsPerCurrency: decimal.NewNullDecimal(decimal.NewFromInt(1)),
		PaymentMethods:    [domain.PaymentMethodCount]bool{true, true, false, true},
		CreatedAt:         now,
	}
	for i := range demo.Hours {
		demo.Hours[i] = domain.DayHours{Open: &open, Close: &closing}
	}

	err := s.InTx(context.Background(), func(tx store.Tx) error {
		if err := tx.CreateStore(context.Background(), demo); err != nil {
			return err
		}
		for _, u := range []struct {
			email, password, name string
			admin                 bool
			role                  domain.StoreRole
		}{
			{"admin@storefront.local", adminPwd, "Admin", true, domain.StoreRoleNone},
			{"owner@storefront.local", ownerPwd, "Demo Owner", false, domain.StoreRoleOwner},
		} {
			hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
			if err != nil {
				return err
			}
			user := domain.User{
				ID:            xid.New("usr"),
				Email:         u.email,
				PasswordHash:  string(hash),
				Name:          u.name,
				IsAdmin:       u.admin,
				EmailVerified: true,
				StoreRole:     u.role,
				CreatedAt:     now,
			}
			if u.role != domain.StoreRoleNone {
				user.StoreID = storeID
			}
			if err := tx.CreateUser(context.Background(), user); err != nil {
				return err
			}
		}
		for _, p := range []struct {
			name, brand, price, qty string
		}{
			{"Whole Milk 1L", "Dairyland", "1.89", "120"},
			{"Sourdough Loaf", "Corner Bakery", "4.50", "40"},
			{"Bananas (kg)", "", "2.20", "35.500"},
			{"Ground Coffee 250g", "Roastery", "7.95", "60"},
		} {
			product := domain.Product{
				ID:        xid.New("prd"),
				StoreID:   storeID,
				Name:      p.name,
				Brand:     p.brand,
				Price:     decimal.RequireFromString(p.price),
				Quantity:  decimal.RequireFromString(p.qty),
				CreatedAt: now,
			}
			if err := tx.CreateProduct(context.Background(), product); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) Close() error { return nil }

func (s *Store) View(_ context.Context, fn func(store.Reader) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.state)
}

func (s *Store) InTx(_ context.Context, fn func(store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.state.clone()
	if err := fn(working); err != nil {
		return err
	}
	s.state = working
	return nil
}

func (st *state) clone() *state {
	c := newState()
	for k, v := range st.stores {
		c.stores[k] = v
	}
	for k, v := range st.users {
		c.users[k] = v
	}
	for k, v := range st.products {
		c.products[k] = v
	}
	for k, v := range st.orders {
		v.Items = slices.Clone(v.Items)
		c.orders[k] = v
	}
	for k, v := range st.sales {
		v.Items = slices.Clone(v.Items)
		c.sales[k] = v
	}
	for k, v := range st.points {
		c.points[k] = v
	}
	for k, v := range st.discounts {
		c.discounts[k] = v
	}
	for k, v := range st.reviews {
		c.reviews[k] = v
	}
	return c
}

func (st *state) GetStore(_ context.Context, id string) (*domain.Store, error) {
	s, ok := st.stores[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &s, nil
}

func (st *state) ListStores(_ context.Context) ([]domain.Store, error) {
	out := make([]domain.Store, 0, len(st.stores))
	for _, s := range st.stores {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (st *state) GetUser(_ context.Context, id string) (*domain.User, error) {
	u, ok := st.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (st *state) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	for _, u := range st.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (st *state) ListStoreStaff(_ context.Context, storeID string) ([]domain.User, error) {
	out := make([]domain.User, 0, 4)
	for _, u := range st.users {
		if u.StoreID == storeID && u.StoreRole != domain.StoreRoleNone {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (st *state) UserReferenced(_ context.Context, id string) (bool, error) {
	for _, o := range st.orders {
		if o.UserID == id {
			return true, nil
		}
	}
	for _, s := range st.sales {
		if s.UserID == id {
			return true, nil
		}
	}
	for _, p := range st.points {
		if p.UserID == id {
			return true, nil
		}
	}
	for _, r := range st.reviews {
		if r.UserID == id {
			return true, nil
		}
	}
	return false, nil
}

func (st *state) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	p, ok := st.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (st *state) ListProducts(_ context.Context, storeID string, includeHidden bool) ([]domain.Product, error) {
	out := make([]domain.Product, 0, 32)
	for _, p := range st.products {
		if p.StoreID != storeID || (p.Hidden && !includeHidden) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (st *state) ProductReferenced(_ context.Context, id string) (bool, error) {
	for _, o := range st.orders {
		for _, item := range o.Items {
			if item.ProductID == id {
				return true, nil
			}
		}
	}
	for _, s := range st.sales {
		for _, line := range s.Items {
			if line.ProductID == id {
				return true, nil
			}
		}
	}
	return false, nil
}

func (st *state) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	o, ok := st.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	o.Items = slices.Clone(o.Items)
	return &o, nil
}

func (st *state) ListOrders(_ context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	out := make([]domain.Order, 0, 16)
	for _, o := range st.orders {
		if filter.StoreID != "" && o.StoreID != filter.StoreID {
			continue
		}
		if filter.UserID != "" && o.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		o.Items = slices.Clone(o.Items)
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (st *state) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s, ok := st.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	s.Items = slices.Clone(s.Items)
	return &s, nil
}

func (st *state) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	out := make([]domain.Sale, 0, 16)
	for _, s := range st.sales {
		if filter.StoreID != "" && s.StoreID != filter.StoreID {
			continue
		}
		if filter.UserID != "" && s.UserID != filter.UserID {
			continue
		}
		s.Items = slices.Clone(s.Items)
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (st *state) GetPoints(_ context.Context, userID string, storeID string) (*domain.Points, error) {
	for _, p := range st.points {
		if p.UserID == userID && p.StoreID == storeID {
			return &p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (st *state) ListPoints(_ context.Context, storeID string) ([]domain.Points, error) {
	out := make([]domain.Points, 0, 16)
	for _, p := range st.points {
		if p.StoreID == storeID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (st *state) GetDiscount(_ context.Context, id string) (*domain.Discount, error) {
	d, ok := st.discounts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &d, nil
}

func (st *state) GetDiscountByProduct(_ context.Context, productID string) (*domain.Discount, error) {
	for _, d := range st.discounts {
		if d.ProductID == productID {
			return &d, nil
		}
	}
	return nil, store.ErrNotFound
}

func (st *state) ListDiscounts(_ context.Context) ([]domain.Discount, error) {
	out := make([]domain.Discount, 0, len(st.discounts))
	for _, d := range st.discounts {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (st *state) LockProducts(_ context.Context, ids []string) (map[string]domain.Product, error) {
	found := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := st.products[id]; ok {
			found[id] = p
		}
	}
	return found, nil
}

func (st *state) LockOrder(ctx context.Context, id string) (*domain.Order, error) {
	return st.GetOrder(ctx, id)
}

func (st *state) LockPoints(ctx context.Context, userID string, storeID string) (*domain.Points, error) {
	return st.GetPoints(ctx, userID, storeID)
}

func (st *state) CreateStore(_ context.Context, s domain.Store) error {
	if _, exists := st.stores[s.ID]; exists {
		return store.Invalid("store %s already exists", s.ID)
	}
	st.stores[s.ID] = s
	return nil
}

func (st *state) UpdateStore(_ context.Context, s domain.Store) error {
	if _, exists := st.stores[s.ID]; !exists {
		return store.ErrNotFound
	}
	st.stores[s.ID] = s
	return nil
}

func (st *state) CreateUser(ctx context.Context, u domain.User) error {
	if _, err := st.GetUserByEmail(ctx, u.Email); err == nil {
		return store.Invalid("email already registered")
	}
	st.users[u.ID] = u
	return nil
}

func (st *state) UpdateUser(_ context.Context, u domain.User) error {
	if _, exists := st.users[u.ID]; !exists {
		return store.ErrNotFound
	}
	st.users[u.ID] = u
	return nil
}

func (st *state) DeleteUser(_ context.Context, id string) error {
	if _, exists := st.users[id]; !exists {
		return store.ErrNotFound
	}
	delete(st.users, id)
	return nil
}

func (st *state) CreateProduct(_ context.Context, p domain.Product) error {
	if _, ok := st.stores[p.StoreID]; !ok {
		return store.ErrNotFound
	}
	st.products[p.ID] = p
	return nil
}

func (st *state) UpdateProduct(_ context.Context, p domain.Product) error {
	if _, exists := st.products[p.ID]; !exists {
		return store.ErrNotFound
	}
	st.products[p.ID] = p
	return nil
}

func (st *state) SetProductQuantity(_ context.Context, id string, qty decimal.Decimal) error {
	p, ok := st.products[id]
	if !ok {
		return store.ErrNotFound
	}
	if qty.IsNegative() {
		return store.ErrInsufficientStock
	}
	p.Quantity = qty
	st.products[id] = p
	return nil
}

func (st *state) DeleteProduct(_ context.Context, id string) error {
	if _, ok := st.products[id]; !ok {
		return store.ErrNotFound
	}
	delete(st.products, id)
	for did, d := range st.discounts {
		if d.ProductID == id {
			delete(st.discounts, did)
		}
	}
	return nil
}

func (st *state) CreateOrder(_ context.Context, o domain.Order) error {
	o.Items = slices.Clone(o.Items)
	st.orders[o.ID] = o
	return nil
}

func (st *state) AddOrderItem(_ context.Context, orderID string, item domain.LineItem) error {
	o, ok := st.orders[orderID]
	if !ok {
		return store.ErrNotFound
	}
	o.Items = append(o.Items, item)
	st.orders[orderID] = o
	return nil
}

func (st *state) DeleteOrderItems(_ context.Context, orderID string) error {
	o, ok := st.orders[orderID]
	if !ok {
		return store.ErrNotFound
	}
	o.Items = nil
	st.orders[orderID] = o
	return nil
}

func (st *state) UpdateOrderStatus(_ context.Context, id string, status domain.OrderStatus, receivedAt *time.Time) error {
	o, ok := st.orders[id]
	if !ok {
		return store.ErrNotFound
	}
	o.Status = status
	o.ReceivedAt = receivedAt
	st.orders[id] = o
	return nil
}

func (st *state) CreateSale(_ context.Context, s domain.Sale) error {
	s.Items = slices.Clone(s.Items)
	st.sales[s.ID] = s
	return nil
}

func (st *state) AddSaleItem(_ context.Context, saleID string, line domain.SaleLine) error {
	s, ok := st.sales[saleID]
	if !ok {
		return store.ErrNotFound
	}
	s.Items = append(s.Items, line)
	st.sales[saleID] = s
	return nil
}

func (st *state) CreatePoints(ctx context.Context, p domain.Points) error {
	if _, err := st.GetPoints(ctx, p.UserID, p.StoreID); err == nil {
		return nil
	}
	st.points[p.ID] = p
	return nil
}

func (st *state) SetPointsAmount(_ context.Context, id string, amount int64) error {
	p, ok := st.points[id]
	if !ok {
		return store.ErrNotFound
	}
	p.Amount = amount
	st.points[id] = p
	return nil
}

func (st *state) CreateDiscount(_ context.Context, d domain.Discount) error {
	st.discounts[d.ID] = d
	return nil
}

func (st *state) DeleteDiscount(_ context.Context, id string) error {
	if _, ok := st.discounts[id]; !ok {
		return store.ErrNotFound
	}
	delete(st.discounts, id)
	return nil
}

func (st *state) DeleteDiscountsEndedBefore(_ context.Context, day time.Time) (int, error) {
	cutoff := domain.DateOnly(day)
	removed := 0
	for id, d := range st.discounts {
		if domain.DateOnly(d.EndDate).Before(cutoff) {
			delete(st.discounts, id)
			removed++
		}
	}
	return removed, nil
}

func (st *state) GetReview(_ context.Context, id string) (*domain.Review, error) {
	r, ok := st.reviews[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func (st *state) ListReviews(_ context.Context, filter domain.ReviewFilter) ([]domain.Review, error) {
	out := make([]domain.Review, 0, 8)
	for _, r := range st.reviews {
		if filter.StoreID != "" && r.StoreID != filter.StoreID {
			continue
		}
		if filter.UserID != "" && r.UserID != filter.UserID {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (st *state) CreateReview(_ context.Context, r domain.Review) error {
	st.reviews[r.ID] = r
	return nil
}

func (st *state) DeleteReview(_ context.Context, id string) error {
	if _, ok := st.reviews[id]; !ok {
		return store.ErrNotFound
	}
	delete(st.reviews, id)
	return nil
}
