package service

import (
	"context"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/store"
)

// Ledger holds locked product rows for one transaction. Quantity changes
// stay in memory until Flush.
type Ledger struct {
	tx       store.Tx
	products map[string]domain.Product
	dirty    map[string]struct{}
}

// LockAndFetch locks every product in ids with a single request.
func LockAndFetch(ctx context.Context, tx store.Tx, ids []string) (*Ledger, error) {
	wanted := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		wanted = append(wanted, id)
	}
	sort.Strings(wanted)

	products, err := tx.LockProducts(ctx, wanted)
	if err != nil {
		return nil, err
	}

	missing := make([]string, 0)
	for _, id := range wanted {
		if _, ok := products[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, store.Errorf(store.ErrNotFound, "products not found: %s", strings.Join(missing, ", "))
	}

	return &Ledger{tx: tx, products: products, dirty: make(map[string]struct{})}, nil
}

func (l *Ledger) Product(id string) domain.Product {
	return l.products[id]
}

func (l *Ledger) CheckOwnership(id string, storeID string) error {
	if l.products[id].StoreID != storeID {
		return store.Invalid("product %s does not belong to this store", id)
	}
	return nil
}

func (l *Ledger) Decrement(id string, qty decimal.Decimal) error {
	p := l.products[id]
	if qty.GreaterThan(p.Quantity) {
		return store.Errorf(store.ErrInsufficientStock, "not enough %s in stock", p.Name)
	}
	p.Quantity = p.Quantity.Sub(qty)
	l.products[id] = p
	l.dirty[id] = struct{}{}
	return nil
}

func (l *Ledger) Increment(id string, qty decimal.Decimal) {
	p := l.products[id]
	p.Quantity = p.Quantity.Add(qty)
	l.products[id] = p
	l.dirty[id] = struct{}{}
}

// Flush writes changed quantities in id order.
func (l *Ledger) Flush(ctx context.Context) error {
	ids := make([]string, 0, len(l.dirty))
	for id := range l.dirty {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := l.tx.SetProductQuantity(ctx, id, l.products[id].Quantity); err != nil {
			return err
		}
	}
	l.dirty = make(map[string]struct{})
	return nil
}

func productIDs(items []domain.LineItem) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	return ids
}
