package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/backend/internal/clock"
	"storefront/backend/internal/domain"
	"storefront/backend/internal/events"
	"storefront/backend/internal/store"
	"storefront/backend/internal/store/memory"
)

// monday is 2024-01-01, a Monday, at 10:00 UTC.
var monday = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, evts ...events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, evts...)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	svc   *Service
	repo  *memory.Store
	clock *clock.Mock
	pub   *recordingPublisher
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func int64Ptr(v int64) *int64 { return &v }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := memory.New()
	clk := clock.NewMock(monday)
	pub := &recordingPublisher{}
	svc := New(repo, nil, pub, zerolog.Nop(), WithClock(clk))

	open, closing := "08:00", "21:00"
	var hours [7]domain.DayHours
	for i := range hours {
		hours[i] = domain.DayHours{Open: &open, Close: &closing}
	}

	ctx := context.Background()
	err := repo.InTx(ctx, func(tx store.Tx) error {
		for _, st := range []domain.Store{
			{
				ID: "s1", Name: "Corner", Hours: hours,
				PointsPerCurrency: decimal.NewNullDecimal(dec("1.00")),
				PaymentMethods:    [domain.PaymentMethodCount]bool{true, true, false, true},
			},
			{
				ID: "s2", Name: "Across", Hours: hours,
				PaymentMethods: [domain.PaymentMethodCount]bool{true, false, false, false},
			},
		} {
			if err := tx.CreateStore(ctx, st); err != nil {
				return err
			}
		}
		for _, u := range []domain.User{
			{ID: "buyer", Email: "buyer@example.com", Name: "Buyer"},
			{ID: "owner", Email: "owner@example.com", Name: "Owner", StoreID: "s1", StoreRole: domain.StoreRoleOwner},
			{ID: "drifter", Email: "drifter@example.com", Name: "Drifter"},
		} {
			if err := tx.CreateUser(ctx, u); err != nil {
				return err
			}
		}
		for _, p := range []domain.Product{
			{ID: "apple", StoreID: "s1", Name: "Apple", Price: dec("10.00"), Quantity: dec("100"), PointsPrice: int64Ptr(50)},
			{ID: "milk", StoreID: "s1", Name: "Milk", Price: dec("2.50"), Quantity: dec("5")},
			{ID: "tea", StoreID: "s2", Name: "Tea", Price: dec("3.00"), Quantity: dec("10")},
		} {
			if err := tx.CreateProduct(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	return &fixture{svc: svc, repo: repo, clock: clk, pub: pub}
}

func (f *fixture) quantity(t *testing.T, productID string) decimal.Decimal {
	t.Helper()
	p, err := f.svc.GetProduct(context.Background(), productID)
	require.NoError(t, err)
	return p.Quantity
}

func (f *fixture) setPoints(t *testing.T, userID, storeID string, amount int64) {
	t.Helper()
	entry, err := f.svc.GetOrCreateBalance(context.Background(), userID, storeID)
	require.NoError(t, err)
	err = f.repo.InTx(context.Background(), func(tx store.Tx) error {
		return tx.SetPointsAmount(context.Background(), entry.ID, amount)
	})
	require.NoError(t, err)
}

func assertQty(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, got.Equal(dec(want)), "quantity: want %s, got %s", want, got)
}

func orderApples(t *testing.T, f *fixture, qty string) domain.Order {
	t.Helper()
	order, err := f.svc.CreateOrder(context.Background(), domain.OrderCreateRequest{
		StoreID: "s1",
		UserID:  "buyer",
		Items:   []domain.LineItem{{ProductID: "apple", Quantity: dec(qty)}},
	})
	require.NoError(t, err)
	return order
}

func TestCreateOrderReservesStock(t *testing.T) {
	f := newFixture(t)

	order := orderApples(t, f, "30")

	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, "buyer", order.UserID)
	assertQty(t, "70", f.quantity(t, "apple"))
	assert.Equal(t, []string{events.OrderCreated}, f.pub.types())
}

func TestOrderLifecycleRecordsSaleOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := orderApples(t, f, "30")

	accepted, sale, err := f.svc.AdvanceStatus(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusAccepted, accepted.Status)
	assert.Nil(t, sale)

	received, sale, err := f.svc.AdvanceStatus(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, sale)
	assert.Equal(t, domain.OrderStatusReceived, received.Status)
	require.NotNil(t, received.ReceivedAt)
	assert.True(t, received.ReceivedAt.Equal(monday))

	assert.Equal(t, order.ID, sale.OrderID)
	require.Len(t, sale.Items, 1)
	assert.Equal(t, "apple", sale.Items[0].ProductID)
	assertQty(t, "30", sale.Items[0].Quantity)
	assert.True(t, sale.Total.Equal(dec("300.00")))

	// deducted at order creation only
	assertQty(t, "70", f.quantity(t, "apple"))

	// one line at 10.00 with 1.00 per point
	balance, err := f.svc.GetBalanceOrNotFound(ctx, "buyer", "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance.Amount)

	sales, err := f.svc.ListSales(ctx, domain.SaleFilter{StoreID: "s1"})
	require.NoError(t, err)
	assert.Len(t, sales, 1)

	assert.Equal(t, []string{
		events.OrderCreated,
		events.OrderStatusChanged,
		events.OrderStatusChanged,
		events.SaleRecorded,
	}, f.pub.types())
}

func TestAdvanceStatusOnReceivedOrderFailsWithoutChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := orderApples(t, f, "2")
	for i := 0; i < 2; i++ {
		_, _, err := f.svc.AdvanceStatus(ctx, order.ID)
		require.NoError(t, err)
	}

	for i := 0; i < 3; i++ {
		_, sale, err := f.svc.AdvanceStatus(ctx, order.ID)
		require.ErrorIs(t, err, store.ErrInvalidRequest)
		assert.EqualError(t, err, "order already has status received")
		assert.Nil(t, sale)
	}

	sales, err := f.svc.ListSales(ctx, domain.SaleFilter{StoreID: "s1"})
	require.NoError(t, err)
	assert.Len(t, sales, 1)
	assertQty(t, "98", f.quantity(t, "apple"))
}

func TestAdvanceStatusRejectsCancelledOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := orderApples(t, f, "1")
	_, err := f.svc.CancelOrder(ctx, order.ID)
	require.NoError(t, err)

	_, _, err = f.svc.AdvanceStatus(ctx, order.ID)
	require.ErrorIs(t, err, store.ErrInvalidRequest)
	assert.EqualError(t, err, "cancelled orders cannot be updated")
}

func TestAdvanceStatusUnknownOrder(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.AdvanceStatus(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
	assert.EqualError(t, err, "order not found")
}

func TestCreateOrderIsAllOrNothing(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateOrder(context.Background(), domain.OrderCreateRequest{
		StoreID: "s1",
		UserID:  "buyer",
		Items: []domain.LineItem{
			{ProductID: "apple", Quantity: dec("10")},
			{ProductID: "milk", Quantity: dec("6")},
		},
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	assert.EqualError(t, err, "not enough Milk in stock")

	assertQty(t, "100", f.quantity(t, "apple"))
	assertQty(t, "5", f.quantity(t, "milk"))
	orders, err := f.svc.ListOrders(context.Background(), domain.OrderFilter{StoreID: "s1"})
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Empty(t, f.pub.types())
}

func TestCreateOrderValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  domain.OrderCreateRequest
		kind error
		msg  string
	}{
		{
			name: "no items",
			req:  domain.OrderCreateRequest{StoreID: "s1"},
			kind: store.ErrInvalidRequest,
			msg:  "order must have at least 1 product",
		},
		{
			name: "zero quantity",
			req:  domain.OrderCreateRequest{StoreID: "s1", Items: []domain.LineItem{{ProductID: "apple", Quantity: dec("0")}}},
			kind: store.ErrInvalidRequest,
			msg:  "product apple: quantity must be greater than 0",
		},
		{
			name: "quantity above the storable maximum",
			req:  domain.OrderCreateRequest{StoreID: "s1", Items: []domain.LineItem{{ProductID: "apple", Quantity: dec("1e12")}}},
			kind: store.ErrInvalidRequest,
			msg:  "product apple: quantity must be at most 99999999999.999",
		},
		{
			name: "merged lines above the storable maximum",
			req: domain.OrderCreateRequest{StoreID: "s1", Items: []domain.LineItem{
				{ProductID: "apple", Quantity: dec("99999999999")},
				{ProductID: "apple", Quantity: dec("1")},
			}},
			kind: store.ErrInvalidRequest,
			msg:  "product apple: quantity must be at most 99999999999.999",
		},
		{
			name: "product from another store",
			req:  domain.OrderCreateRequest{StoreID: "s1", Items: []domain.LineItem{{ProductID: "tea", Quantity: dec("1")}}},
			kind: store.ErrInvalidRequest,
			msg:  "product tea does not belong to this store",
		},
		{
			name: "unknown product",
			req:  domain.OrderCreateRequest{StoreID: "s1", Items: []domain.LineItem{{ProductID: "ghost", Quantity: dec("1")}}},
			kind: store.ErrNotFound,
			msg:  "products not found: ghost",
		},
		{
			name: "unknown store",
			req:  domain.OrderCreateRequest{StoreID: "nowhere", Items: []domain.LineItem{{ProductID: "apple", Quantity: dec("1")}}},
			kind: store.ErrNotFound,
			msg:  "store not found",
		},
		{
			name: "payment method out of range",
			req:  domain.OrderCreateRequest{StoreID: "s1", PaymentMethod: 7, Items: []domain.LineItem{{ProductID: "apple", Quantity: dec("1")}}},
			kind: store.ErrInvalidRequest,
			msg:  "payment method must be between 0 and 3",
		},
		{
			name: "payment method not accepted",
			req:  domain.OrderCreateRequest{StoreID: "s1", PaymentMethod: domain.PaymentTransfer, Items: []domain.LineItem{{ProductID: "apple", Quantity: dec("1")}}},
			kind: store.ErrInvalidRequest,
			msg:  "this store does not accept payment method 2",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreateOrder(ctx, tc.req)
			require.ErrorIs(t, err, tc.kind)
			assert.EqualError(t, err, tc.msg)
		})
	}

	assertQty(t, "100", f.quantity(t, "apple"))
	assertQty(t, "10", f.quantity(t, "tea"))
}

func TestCreateOrderMergesDuplicateLines(t *testing.T) {
	f := newFixture(t)

	order, err := f.svc.CreateOrder(context.Background(), domain.OrderCreateRequest{
		StoreID: "s1",
		Items: []domain.LineItem{
			{ProductID: "milk", Quantity: dec("2")},
			{ProductID: "milk", Quantity: dec("3")},
		},
	})
	require.NoError(t, err)
	require.Len(t, order.Items, 1)
	assertQty(t, "5", order.Items[0].Quantity)
	assertQty(t, "0", f.quantity(t, "milk"))
}

func TestConcurrentOrdersNeverOversell(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateOrder(ctx, domain.OrderCreateRequest{
				StoreID: "s1",
				Items:   []domain.LineItem{{ProductID: "milk", Quantity: dec("1")}},
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, store.ErrInsufficientStock)
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	assertQty(t, "0", f.quantity(t, "milk"))
}

func TestUpdateLineItemsReleasesThenReserves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := orderApples(t, f, "30")

	updated, err := f.svc.UpdateLineItems(ctx, order.ID, domain.OrderItemsUpdateRequest{
		Items: []domain.LineItem{
			{ProductID: "apple", Quantity: dec("95")},
			{ProductID: "milk", Quantity: dec("1.5")},
		},
	})
	require.NoError(t, err)
	require.Len(t, updated.Items, 2)
	assertQty(t, "5", f.quantity(t, "apple"))
	assertQty(t, "3.5", f.quantity(t, "milk"))

	t.Run("failed update keeps previous reservation", func(t *testing.T) {
		_, err := f.svc.UpdateLineItems(ctx, order.ID, domain.OrderItemsUpdateRequest{
			Items: []domain.LineItem{{ProductID: "apple", Quantity: dec("101")}},
		})
		require.ErrorIs(t, err, store.ErrInsufficientStock)
		assertQty(t, "5", f.quantity(t, "apple"))
		assertQty(t, "3.5", f.quantity(t, "milk"))

		stored, err := f.svc.GetOrder(ctx, order.ID)
		require.NoError(t, err)
		assert.Len(t, stored.Items, 2)
	})

	t.Run("only pending orders", func(t *testing.T) {
		_, _, err := f.svc.AdvanceStatus(ctx, order.ID)
		require.NoError(t, err)
		_, err = f.svc.UpdateLineItems(ctx, order.ID, domain.OrderItemsUpdateRequest{
			Items: []domain.LineItem{{ProductID: "apple", Quantity: dec("1")}},
		})
		require.ErrorIs(t, err, store.ErrInvalidRequest)
		assert.EqualError(t, err, "only pending orders can be updated")
	})
}

func TestCancelOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("pending order releases stock", func(t *testing.T) {
		order := orderApples(t, f, "30")
		cancelled, err := f.svc.CancelOrder(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
		assertQty(t, "100", f.quantity(t, "apple"))

		_, err = f.svc.CancelOrder(ctx, order.ID)
		require.ErrorIs(t, err, store.ErrInvalidRequest)
		assert.EqualError(t, err, "order is already cancelled")
		assertQty(t, "100", f.quantity(t, "apple"))
	})

	t.Run("received order cannot be cancelled", func(t *testing.T) {
		order := orderApples(t, f, "4")
		for i := 0; i < 2; i++ {
			_, _, err := f.svc.AdvanceStatus(ctx, order.ID)
			require.NoError(t, err)
		}
		_, err := f.svc.CancelOrder(ctx, order.ID)
		require.ErrorIs(t, err, store.ErrInvalidRequest)
		assert.EqualError(t, err, "received orders cannot be cancelled")

		stored, err := f.svc.GetOrder(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusReceived, stored.Status)
		assertQty(t, "96", f.quantity(t, "apple"))
	})

	assert.Contains(t, f.pub.types(), events.OrderCancelled)
}

func TestCreateSale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sale, err := f.svc.CreateSale(ctx, domain.SaleCreateRequest{
		StoreID: "s1",
		UserID:  "buyer",
		Items: []domain.LineItem{
			{ProductID: "apple", Quantity: dec("3")},
			{ProductID: "milk", Quantity: dec("2")},
		},
		PaymentMethod: domain.PaymentCard,
	})
	require.NoError(t, err)
	assert.True(t, sale.Total.Equal(dec("35.00")), "total %s", sale.Total)
	assertQty(t, "97", f.quantity(t, "apple"))
	assertQty(t, "3", f.quantity(t, "milk"))

	// floor(10.00/1) + floor(2.50/1)
	balance, err := f.svc.GetBalanceOrNotFound(ctx, "buyer", "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(12), balance.Amount)

	stored, err := f.svc.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Items, 2)
}

func TestCreateSaleRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("anonymous buyer cannot pay with points", func(t *testing.T) {
		_, err := f.svc.CreateSale(ctx, domain.SaleCreateRequest{
			StoreID:     "s1",
			Items:       []domain.LineItem{{ProductID: "apple", Quantity: dec("1")}},
			UsingPoints: true,
		})
		require.ErrorIs(t, err, store.ErrInvalidRequest)
		assert.EqualError(t, err, "anonymous users cannot use points to pay for sales")
	})

	t.Run("known buyer cannot pay with points outside redemption", func(t *testing.T) {
		before := f.quantity(t, "apple")
		_, err := f.svc.CreateSale(ctx, domain.SaleCreateRequest{
			StoreID:     "s1",
			UserID:      "buyer",
			Items:       []domain.LineItem{{ProductID: "apple", Quantity: dec("40")}},
			UsingPoints: true,
		})
		require.ErrorIs(t, err, store.ErrInvalidRequest)
		assert.EqualError(t, err, "points can only be spent by redeeming a product")
		assertQty(t, before.String(), f.quantity(t, "apple"))
		sales, err := f.svc.ListSales(ctx, domain.SaleFilter{UserID: "buyer"})
		require.NoError(t, err)
		assert.Empty(t, sales)
	})

	t.Run("unknown buyer", func(t *testing.T) {
		_, err := f.svc.CreateSale(ctx, domain.SaleCreateRequest{
			StoreID: "s1",
			UserID:  "nobody",
			Items:   []domain.LineItem{{ProductID: "apple", Quantity: dec("1")}},
		})
		require.ErrorIs(t, err, store.ErrNotFound)
		assert.EqualError(t, err, "user not found")
	})

	t.Run("anonymous sale earns nothing", func(t *testing.T) {
		_, err := f.svc.CreateSale(ctx, domain.SaleCreateRequest{
			StoreID: "s1",
			Items:   []domain.LineItem{{ProductID: "apple", Quantity: dec("1")}},
		})
		require.NoError(t, err)
		entries, err := f.svc.ListPoints(ctx, "s1")
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("store without points program", func(t *testing.T) {
		_, err := f.svc.CreateSale(ctx, domain.SaleCreateRequest{
			StoreID: "s2",
			UserID:  "buyer",
			Items:   []domain.LineItem{{ProductID: "tea", Quantity: dec("1")}},
		})
		require.NoError(t, err)
		_, err = f.svc.GetBalanceOrNotFound(ctx, "buyer", "s2")
		require.ErrorIs(t, err, store.ErrInvalidRequest)
	})

	assertQty(t, "99", f.quantity(t, "apple"))
}

func TestPointsAwardClampsToMax(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setPoints(t, "buyer", "s1", domain.DefaultPointsMax-3)

	_, err := f.svc.CreateSale(ctx, domain.SaleCreateRequest{
		StoreID: "s1",
		UserID:  "buyer",
		Items:   []domain.LineItem{{ProductID: "apple", Quantity: dec("1")}},
	})
	require.NoError(t, err)

	balance, err := f.svc.GetBalanceOrNotFound(ctx, "buyer", "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(domain.DefaultPointsMax), balance.Amount)
}

func TestAwardPointsRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.repo.InTx(ctx, func(tx store.Tx) error {
		_, err := f.svc.awardPoints(ctx, tx, "buyer", nil)
		assert.EqualError(t, err, "no products provided")

		_, err = f.svc.awardPoints(ctx, tx, "buyer", []domain.Product{
			{ID: "apple", StoreID: "s1", Price: dec("10")},
			{ID: "tea", StoreID: "s2", Price: dec("3")},
		})
		assert.EqualError(t, err, "all products must belong to the same store")

		_, err = f.svc.awardPoints(ctx, tx, "buyer", []domain.Product{{ID: "tea", StoreID: "s2", Price: dec("3")}})
		assert.EqualError(t, err, "this store does not have a points program")
		return nil
	})
	require.NoError(t, err)
}

func TestBalanceLookups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.GetBalanceOrNotFound(ctx, "buyer", "s1")
	require.ErrorIs(t, err, store.ErrNotFound)
	assert.EqualError(t, err, "points entry not found")

	entry, err := f.svc.GetBalance(ctx, "buyer", "s1", true)
	require.NoError(t, err)
	assert.Nil(t, entry)

	created, err := f.svc.GetOrCreateBalance(ctx, "buyer", "s1")
	require.NoError(t, err)
	assert.Zero(t, created.Amount)
	assert.Equal(t, int64(domain.DefaultPointsMax), created.Max)

	again, err := f.svc.GetOrCreateBalance(ctx, "buyer", "s1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)

	_, err = f.svc.GetOrCreateBalance(ctx, "buyer", "s2")
	require.ErrorIs(t, err, store.ErrInvalidRequest)
	assert.EqualError(t, err, "this store does not have a points program")
}

func TestRedeemForProduct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("not enough points", func(t *testing.T) {
		f.setPoints(t, "buyer", "s1", 40)
		_, _, err := f.svc.RedeemForProduct(ctx, "buyer", "apple")
		require.ErrorIs(t, err, store.ErrInvalidRequest)
		assert.EqualError(t, err, "not enough points")

		balance, err := f.svc.GetBalanceOrNotFound(ctx, "buyer", "s1")
		require.NoError(t, err)
		assert.Equal(t, int64(40), balance.Amount)
		sales, err := f.svc.ListSales(ctx, domain.SaleFilter{UserID: "buyer"})
		require.NoError(t, err)
		assert.Empty(t, sales)
	})

	t.Run("redeems one unit", func(t *testing.T) {
		f.setPoints(t, "buyer", "s1", 70)
		sale, balance, err := f.svc.RedeemForProduct(ctx, "buyer", "apple")
		require.NoError(t, err)
		assert.Equal(t, int64(20), balance.Amount)
		assert.True(t, sale.UsingPoints)
		assert.Equal(t, int64(50), sale.PointsSpent)
		assert.True(t, sale.Total.IsZero())
		require.Len(t, sale.Items, 1)
		assertQty(t, "1", sale.Items[0].Quantity)
		assertQty(t, "99", f.quantity(t, "apple"))

		stored, err := f.svc.GetBalanceOrNotFound(ctx, "buyer", "s1")
		require.NoError(t, err)
		assert.Equal(t, int64(20), stored.Amount)
	})

	t.Run("product without points price", func(t *testing.T) {
		_, _, err := f.svc.RedeemForProduct(ctx, "buyer", "milk")
		require.ErrorIs(t, err, store.ErrInvalidRequest)
		assert.EqualError(t, err, "this product cannot be purchased with points")
	})

	t.Run("missing balance", func(t *testing.T) {
		_, _, err := f.svc.RedeemForProduct(ctx, "drifter", "apple")
		require.ErrorIs(t, err, store.ErrNotFound)
		assert.EqualError(t, err, "points entry not found")
	})
}

func TestDiscountPricing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Monday only, for 2 to 10 units
	discount, err := f.svc.CreateDiscount(ctx, domain.DiscountCreateRequest{
		ProductID:  "milk",
		PctOff:     15,
		StartDate:  "2024-01-01",
		EndDate:    "2024-01-31",
		DaysUsable: [7]bool{true},
		MinAmount:  func() *decimal.Decimal { d := dec("2"); return &d }(),
		MaxAmount:  func() *decimal.Decimal { d := dec("10"); return &d }(),
	})
	require.NoError(t, err)

	sell := func(qty string) domain.Sale {
		t.Helper()
		sale, err := f.svc.CreateSale(ctx, domain.SaleCreateRequest{
			StoreID: "s1",
			Items:   []domain.LineItem{{ProductID: "milk", Quantity: dec(qty)}},
		})
		require.NoError(t, err)
		return sale
	}

	// 2.50 * 0.85 = 2.125, rounded half up
	sale := sell("2")
	assert.True(t, sale.Items[0].UnitPrice.Equal(dec("2.13")), "unit %s", sale.Items[0].UnitPrice)
	assert.True(t, sale.Total.Equal(dec("4.26")), "total %s", sale.Total)

	below := sell("1")
	assert.True(t, below.Items[0].UnitPrice.Equal(dec("2.50")))

	f.clock.Advance(24 * time.Hour)
	tuesday := sell("2")
	assert.True(t, tuesday.Items[0].UnitPrice.Equal(dec("2.50")))

	active, err := f.svc.GetActiveDiscount(ctx, "milk", true)
	require.NoError(t, err)
	assert.Equal(t, discount.ID, active.ID)
}

func TestCreateDiscountRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	valid := func() domain.DiscountCreateRequest {
		return domain.DiscountCreateRequest{
			ProductID:  "apple",
			PctOff:     10,
			StartDate:  "2024-01-01",
			EndDate:    "2024-01-10",
			DaysUsable: [7]bool{true, true, true, true, true},
		}
	}

	cases := []struct {
		name   string
		mutate func(*domain.DiscountCreateRequest)
		kind   error
		msg    string
	}{
		{"start in the past", func(r *domain.DiscountCreateRequest) { r.StartDate = "2023-12-31" }, store.ErrInvalidRequest, "start_date cannot be in the past"},
		{"start after end", func(r *domain.DiscountCreateRequest) { r.EndDate = "2024-01-01" }, store.ErrInvalidRequest, "start_date must be before end_date"},
		{"pct out of range", func(r *domain.DiscountCreateRequest) { r.PctOff = 101 }, store.ErrInvalidRequest, "pct_off must be at most 100"},
		{"no usable day", func(r *domain.DiscountCreateRequest) { r.DaysUsable = [7]bool{} }, store.ErrInvalidRequest, "discount must be usable on at least one day of the week"},
		{"min not below max", func(r *domain.DiscountCreateRequest) {
			v := dec("5")
			r.MinAmount, r.MaxAmount = &v, &v
		}, store.ErrInvalidRequest, "min_amount must be less than max_amount"},
		{"unknown product", func(r *domain.DiscountCreateRequest) { r.ProductID = "ghost" }, store.ErrNotFound, "product not found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := valid()
			tc.mutate(&req)
			_, err := f.svc.CreateDiscount(ctx, req)
			require.ErrorIs(t, err, tc.kind)
			assert.EqualError(t, err, tc.msg)
		})
	}

	_, err := f.svc.CreateDiscount(ctx, valid())
	require.NoError(t, err)
	_, err = f.svc.CreateDiscount(ctx, valid())
	require.ErrorIs(t, err, store.ErrInvalidRequest)
	assert.EqualError(t, err, "product apple already has a discount")
}

func TestListDiscountsPurgesExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateDiscount(ctx, domain.DiscountCreateRequest{
		ProductID: "apple", PctOff: 10, StartDate: "2024-01-01", EndDate: "2024-01-03",
		DaysUsable: [7]bool{true, true, true, true, true, true, true},
	})
	require.NoError(t, err)

	f.clock.Set(time.Date(2024, 1, 3, 23, 0, 0, 0, time.UTC))
	list, err := f.svc.ListDiscounts(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	f.clock.Set(time.Date(2024, 1, 4, 0, 30, 0, 0, time.UTC))
	list, err = f.svc.ListDiscounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	active, err := f.svc.GetActiveDiscount(ctx, "apple", false)
	require.NoError(t, err)
	assert.Nil(t, active)
	_, err = f.svc.GetActiveDiscount(ctx, "apple", true)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestStoreRegistry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	open, closing := "09:00", "17:00"
	hours := [7]domain.DayHours{{Open: &open, Close: &closing}}

	t.Run("store needs an open day", func(t *testing.T) {
		_, err := f.svc.CreateStore(ctx, "drifter", domain.StoreCreateRequest{Name: "Closed"})
		require.ErrorIs(t, err, store.ErrInvalidRequest)
		assert.EqualError(t, err, "stores must be open at least one day of the week")
	})

	t.Run("owner of another store cannot open one", func(t *testing.T) {
		_, err := f.svc.CreateStore(ctx, "owner", domain.StoreCreateRequest{Name: "Second", Hours: hours})
		require.ErrorIs(t, err, store.ErrInvalidRequest)
		assert.EqualError(t, err, "user must be disassociated from store s1 before associating them to a new one")
	})

	created, err := f.svc.CreateStore(ctx, "drifter", domain.StoreCreateRequest{Name: " Kiosk ", Hours: hours})
	require.NoError(t, err)
	assert.Equal(t, "Kiosk", created.Name)

	drifter, err := f.svc.GetUser(ctx, "drifter")
	require.NoError(t, err)
	assert.Equal(t, created.ID, drifter.StoreID)
	assert.Equal(t, domain.StoreRoleOwner, drifter.StoreRole)

	isOpen, err := f.svc.IsStoreOpen(ctx, created.ID, monday)
	require.NoError(t, err)
	assert.True(t, isOpen)
	isOpen, err = f.svc.IsStoreOpen(ctx, created.ID, monday.Add(24*time.Hour))
	require.NoError(t, err)
	assert.False(t, isOpen)

	t.Run("second owner rejected", func(t *testing.T) {
		_, err := f.svc.AssignOwner(ctx, created.ID, "buyer")
		require.ErrorIs(t, err, store.ErrInvalidRequest)
	})

	t.Run("cashier", func(t *testing.T) {
		u, err := f.svc.AddCashier(ctx, created.ID, "buyer")
		require.NoError(t, err)
		assert.Equal(t, domain.StoreRoleCashier, u.StoreRole)
		staff, err := f.svc.ListStaff(ctx, created.ID)
		require.NoError(t, err)
		assert.Len(t, staff, 2)

		_, err = f.svc.RemoveStaff(ctx, created.ID, "buyer")
		require.NoError(t, err)
		staff, err = f.svc.ListStaff(ctx, created.ID)
		require.NoError(t, err)
		assert.Len(t, staff, 1)
	})

	t.Run("update disables points", func(t *testing.T) {
		updated, err := f.svc.UpdateStore(ctx, "s1", domain.StoreUpdateRequest{DisablePoints: true})
		require.NoError(t, err)
		assert.False(t, updated.PointsEnabled())
	})
}

func TestProductUpdateAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.CreateProduct(ctx, domain.ProductCreateRequest{
		StoreID: "s1", Name: "Bread", Price: dec("3.25"), Quantity: dec("8"),
	})
	require.NoError(t, err)

	_, err = f.svc.CreateProduct(ctx, domain.ProductCreateRequest{
		StoreID: "s1", Name: "Bad", Price: dec("1.234"), Quantity: dec("1"),
	})
	require.ErrorIs(t, err, store.ErrInvalidRequest)

	zero := int64(0)
	updated, err := f.svc.UpdateProduct(ctx, "apple", domain.ProductUpdateRequest{PointsPrice: &zero})
	require.NoError(t, err)
	assert.Nil(t, updated.PointsPrice)

	t.Run("unreferenced product is removed", func(t *testing.T) {
		anonymized, err := f.svc.DeleteProduct(ctx, created.ID)
		require.NoError(t, err)
		assert.False(t, anonymized)
		_, err = f.svc.GetProduct(ctx, created.ID)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("referenced product is anonymized", func(t *testing.T) {
		order := orderApples(t, f, "3")
		anonymized, err := f.svc.DeleteProduct(ctx, "apple")
		require.NoError(t, err)
		assert.True(t, anonymized)

		p, err := f.svc.GetProduct(ctx, "apple")
		require.NoError(t, err)
		assert.Equal(t, domain.DeletedProductName, p.Name)
		assert.True(t, p.Anonymized)
		assertQty(t, "0", p.Quantity)

		_, err = f.svc.UpdateProduct(ctx, "apple", domain.ProductUpdateRequest{Hidden: new(bool)})
		require.ErrorIs(t, err, store.ErrInvalidRequest)

		_, err = f.svc.CancelOrder(ctx, order.ID)
		require.NoError(t, err)
		assertQty(t, "0", f.quantity(t, "apple"))
	})
}

func TestRegisterAndLookupUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := domain.RegisterRequest{Email: "New@Example.com ", Password: "longenough", Name: "New"}

	require.ErrorIs(t, f.svc.ValidateRegistration(domain.RegisterRequest{Email: "bad", Password: "longenough", Name: "x"}), store.ErrInvalidRequest)

	user, err := f.svc.CreateUser(ctx, domain.RegisterRequest{Email: "new@example.com", Password: "longenough", Name: "New"}, "$2a$hash")
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", user.Email)

	found, err := f.svc.UserByEmail(ctx, req.Email)
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)

	_, err = f.svc.CreateUser(ctx, domain.RegisterRequest{Email: "NEW@example.com", Password: "longenough", Name: "Dup"}, "$2a$hash")
	require.ErrorIs(t, err, store.ErrInvalidRequest)
	assert.EqualError(t, err, "email already registered")
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	f := newFixture(t)
	f.pub.err = errors.New("broker down")

	order := orderApples(t, f, "1")
	assert.NotEmpty(t, order.ID)
	assertQty(t, "99", f.quantity(t, "apple"))
}

func TestUnknownOrderStatusIsIntegrityError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lost := domain.Order{
		ID: "ord-lost", UserID: "buyer", StoreID: "s1", Status: domain.OrderStatus("lost"),
		Items:     []domain.LineItem{{ProductID: "apple", Quantity: dec("3")}},
		CreatedAt: monday,
	}
	require.NoError(t, f.repo.InTx(ctx, func(tx store.Tx) error {
		return tx.CreateOrder(ctx, lost)
	}))

	_, sale, err := f.svc.AdvanceStatus(ctx, lost.ID)
	require.ErrorIs(t, err, store.ErrIntegrity)
	assert.Nil(t, sale)

	_, err = f.svc.CancelOrder(ctx, lost.ID)
	require.ErrorIs(t, err, store.ErrIntegrity)

	stored, err := f.svc.GetOrder(ctx, lost.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatus("lost"), stored.Status)
	assertQty(t, "100", f.quantity(t, "apple"))
	sales, err := f.svc.ListSales(ctx, domain.SaleFilter{StoreID: "s1"})
	require.NoError(t, err)
	assert.Empty(t, sales)
	assert.Empty(t, f.pub.types())
}

func TestCancelAcceptedOrderReleasesStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := orderApples(t, f, "25")
	_, _, err := f.svc.AdvanceStatus(ctx, order.ID)
	require.NoError(t, err)
	assertQty(t, "75", f.quantity(t, "apple"))

	cancelled, err := f.svc.CancelOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
	assertQty(t, "100", f.quantity(t, "apple"))

	sales, err := f.svc.ListSales(ctx, domain.SaleFilter{UserID: "buyer"})
	require.NoError(t, err)
	assert.Empty(t, sales)
}

func TestDeleteUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("unreferenced user is removed", func(t *testing.T) {
		anonymized, err := f.svc.DeleteUser(ctx, "drifter")
		require.NoError(t, err)
		assert.False(t, anonymized)

		err = f.repo.View(ctx, func(r store.Reader) error {
			_, err := r.GetUser(ctx, "drifter")
			return err
		})
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("referenced user is anonymized", func(t *testing.T) {
		order := orderApples(t, f, "1")

		anonymized, err := f.svc.DeleteUser(ctx, "buyer")
		require.NoError(t, err)
		assert.True(t, anonymized)

		_, err = f.svc.GetUser(ctx, "buyer")
		require.ErrorIs(t, err, store.ErrNotFound)
		_, err = f.svc.UserByEmail(ctx, "buyer@example.com")
		require.ErrorIs(t, err, store.ErrNotFound)

		var row domain.User
		require.NoError(t, f.repo.View(ctx, func(r store.Reader) error {
			u, err := r.GetUser(ctx, "buyer")
			if err != nil {
				return err
			}
			row = *u
			return nil
		}))
		assert.True(t, row.Anonymized)
		assert.Equal(t, domain.DeletedUserName, row.Name)
		assert.NotEqual(t, "buyer@example.com", row.Email)
		assert.Empty(t, row.PasswordHash)

		stored, err := f.svc.GetOrder(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, "buyer", stored.UserID)

		_, err = f.svc.DeleteUser(ctx, "buyer")
		require.ErrorIs(t, err, store.ErrNotFound)

		_, err = f.svc.CreateUser(ctx, domain.RegisterRequest{Email: "buyer@example.com", Password: "longenough", Name: "Again"}, "$2a$hash")
		require.NoError(t, err)
	})

	t.Run("staff must leave their store first", func(t *testing.T) {
		_, err := f.svc.DeleteUser(ctx, "owner")
		require.ErrorIs(t, err, store.ErrInvalidRequest)
		assert.EqualError(t, err, "user must be disassociated from store s1 before deleting them")

		owner, err := f.svc.GetUser(ctx, "owner")
		require.NoError(t, err)
		assert.Equal(t, domain.StoreRoleOwner, owner.StoreRole)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := f.svc.DeleteUser(ctx, "nobody")
		require.ErrorIs(t, err, store.ErrNotFound)
		assert.EqualError(t, err, "user not found")
	})
}

func TestReviews(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.CreateReview(ctx, domain.ReviewCreateRequest{
		StoreID: "s1", UserID: "buyer", Stars: 4, Description: "  Fresh apples ",
	})
	require.NoError(t, err)
	assert.Equal(t, "Fresh apples", first.Description)
	assert.True(t, first.CreatedAt.Equal(monday))

	f.clock.Advance(time.Hour)
	second, err := f.svc.CreateReview(ctx, domain.ReviewCreateRequest{StoreID: "s1", UserID: "drifter", Stars: 2})
	require.NoError(t, err)
	_, err = f.svc.CreateReview(ctx, domain.ReviewCreateRequest{StoreID: "s2", UserID: "buyer", Stars: 5})
	require.NoError(t, err)

	forStore, err := f.svc.ListReviews(ctx, domain.ReviewFilter{StoreID: "s1"})
	require.NoError(t, err)
	require.Len(t, forStore, 2)
	assert.Equal(t, second.ID, forStore[0].ID)
	assert.Equal(t, first.ID, forStore[1].ID)

	byBuyer, err := f.svc.ListReviews(ctx, domain.ReviewFilter{UserID: "buyer"})
	require.NoError(t, err)
	assert.Len(t, byBuyer, 2)

	all, err := f.svc.ListReviews(ctx, domain.ReviewFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = f.svc.ListReviews(ctx, domain.ReviewFilter{StoreID: "nowhere"})
	require.ErrorIs(t, err, store.ErrNotFound)
	assert.EqualError(t, err, "store not found")

	got, err := f.svc.GetReview(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Stars)

	err = f.svc.DeleteReview(ctx, domain.Actor{ID: "drifter"}, first.ID)
	require.ErrorIs(t, err, store.ErrForbidden)
	require.NoError(t, f.svc.DeleteReview(ctx, domain.Actor{ID: "buyer"}, first.ID))
	require.NoError(t, f.svc.DeleteReview(ctx, domain.Actor{ID: "someone", IsAdmin: true}, second.ID))

	_, err = f.svc.GetReview(ctx, first.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	assert.EqualError(t, err, "review not found")
}

func TestCreateReviewValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  domain.ReviewCreateRequest
		kind error
		msg  string
	}{
		{"no stars", domain.ReviewCreateRequest{StoreID: "s1", UserID: "buyer"}, store.ErrInvalidRequest, "stars must be at least 1"},
		{"too many stars", domain.ReviewCreateRequest{StoreID: "s1", UserID: "buyer", Stars: 6}, store.ErrInvalidRequest, "stars must be at most 5"},
		{"long description", domain.ReviewCreateRequest{
			StoreID: "s1", UserID: "buyer", Stars: 3, Description: strings.Repeat("a", 301),
		}, store.ErrInvalidRequest, "description must be at most 300"},
		{"unknown store", domain.ReviewCreateRequest{StoreID: "nowhere", UserID: "buyer", Stars: 3}, store.ErrNotFound, "store not found"},
		{"unknown user", domain.ReviewCreateRequest{StoreID: "s1", UserID: "nobody", Stars: 3}, store.ErrNotFound, "user not found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreateReview(ctx, tc.req)
			require.ErrorIs(t, err, tc.kind)
			assert.EqualError(t, err, tc.msg)
		})
	}

	all, err := f.svc.ListReviews(ctx, domain.ReviewFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

// stallingPublisher holds every publish until its context ends.
type stallingPublisher struct {
	mu  sync.Mutex
	err error
}

func (p *stallingPublisher) Publish(ctx context.Context, _ ...events.Event) error {
	<-ctx.Done()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = ctx.Err()
	return ctx.Err()
}

func (p *stallingPublisher) Close() error { return nil }

func TestPublishIsBoundedByTimeout(t *testing.T) {
	f := newFixture(t)
	pub := &stallingPublisher{}
	svc := New(f.repo, nil, pub, zerolog.Nop(), WithClock(f.clock), WithPublishTimeout(20*time.Millisecond))

	started := time.Now()
	order, err := svc.CreateOrder(context.Background(), domain.OrderCreateRequest{
		StoreID: "s1",
		UserID:  "buyer",
		Items:   []domain.LineItem{{ProductID: "apple", Quantity: dec("1")}},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, order.ID)
	assert.Less(t, time.Since(started), time.Second)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.ErrorIs(t, pub.err, context.DeadlineExceeded)
}
