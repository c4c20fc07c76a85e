package service

import (
	"context"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/events"
	"storefront/backend/internal/store"
	"storefront/backend/internal/xid"
)

// CreateOrder reserves stock for every line and stores the order as pending.
// Either every line is reserved or nothing changes.
func (s *Service) CreateOrder(ctx context.Context, req domain.OrderCreateRequest) (domain.Order, error) {
	items, err := validateLineItems(req.Items, "order must have at least 1 product")
	if err != nil {
		return domain.Order{}, err
	}
	if err := s.checkRequest(req); err != nil {
		return domain.Order{}, err
	}
	if err := validatePaymentMethod(req.PaymentMethod); err != nil {
		return domain.Order{}, err
	}

	order := domain.Order{
		ID:            xid.New("ord"),
		UserID:        req.UserID,
		StoreID:       req.StoreID,
		Status:        domain.OrderStatusPending,
		PaymentMethod: req.PaymentMethod,
		Items:         items,
		CreatedAt:     s.now(),
	}

	err = s.repo.InTx(ctx, func(tx store.Tx) error {
		st, err := tx.GetStore(ctx, order.StoreID)
		if err != nil {
			return lookup(err, "store")
		}
		if !st.SupportsPayment(order.PaymentMethod) {
			return store.Invalid("this store does not accept payment method %d", order.PaymentMethod)
		}
		if order.UserID != "" {
			if _, err := tx.GetUser(ctx, order.UserID); err != nil {
				return lookup(err, "user")
			}
		}

		ledger, err := LockAndFetch(ctx, tx, productIDs(items))
		if err != nil {
			return err
		}
		for _, item := range items {
			if err := ledger.CheckOwnership(item.ProductID, order.StoreID); err != nil {
				return err
			}
			if err := ledger.Decrement(item.ProductID, item.Quantity); err != nil {
				return err
			}
		}

		if err := tx.CreateOrder(ctx, domain.Order{
			ID:            order.ID,
			UserID:        order.UserID,
			StoreID:       order.StoreID,
			Status:        order.Status,
			PaymentMethod: order.PaymentMethod,
			CreatedAt:     order.CreatedAt,
		}); err != nil {
			return err
		}
		for _, item := range items {
			if err := tx.AddOrderItem(ctx, order.ID, item); err != nil {
				return err
			}
		}
		return ledger.Flush(ctx)
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.publish(ctx, orderEvent(events.OrderCreated, order))
	return order, nil
}

// AdvanceStatus moves an order one step along pending, accepted, received.
// Reaching received records the sale in the same transaction.
func (s *Service) AdvanceStatus(ctx context.Context, orderID string) (domain.Order, *domain.Sale, error) {
	var order domain.Order
	var sale *domain.Sale

	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return lookup(err, "order")
		}

		var next domain.OrderStatus
		switch o.Status {
		case domain.OrderStatusPending:
			next = domain.OrderStatusAccepted
		case domain.OrderStatusAccepted:
			next = domain.OrderStatusReceived
		case domain.OrderStatusReceived:
			return store.Invalid("order already has status received")
		case domain.OrderStatusCancelled:
			return store.Invalid("cancelled orders cannot be updated")
		default:
			return s.unknownStatus(*o)
		}

		if next != domain.OrderStatusReceived {
			if err := tx.UpdateOrderStatus(ctx, o.ID, next, nil); err != nil {
				return err
			}
			o.Status = next
			order = *o
			return nil
		}

		st, err := tx.GetStore(ctx, o.StoreID)
		if err != nil {
			return lookup(err, "store")
		}
		receivedAt := s.now()
		if err := tx.UpdateOrderStatus(ctx, o.ID, next, &receivedAt); err != nil {
			return err
		}
		recorded, err := s.recordSale(ctx, tx, *st, saleInput{
			userID:        o.UserID,
			orderID:       o.ID,
			items:         o.Items,
			paymentMethod: o.PaymentMethod,
			stockReserved: true,
		})
		if err != nil {
			return err
		}
		o.Status = next
		o.ReceivedAt = &receivedAt
		order = *o
		sale = &recorded
		return nil
	})
	if err != nil {
		return domain.Order{}, nil, err
	}

	evts := []events.Event{orderEvent(events.OrderStatusChanged, order)}
	if sale != nil {
		evts = append(evts, saleEvent(*sale))
	}
	s.publish(ctx, evts...)
	return order, sale, nil
}

// UpdateLineItems replaces the items of a pending order. The previous
// reservation is returned to stock before the new items are reserved.
func (s *Service) UpdateLineItems(ctx context.Context, orderID string, req domain.OrderItemsUpdateRequest) (domain.Order, error) {
	items, err := validateLineItems(req.Items, "order must have at least 1 product")
	if err != nil {
		return domain.Order{}, err
	}
	if err := s.checkRequest(req); err != nil {
		return domain.Order{}, err
	}

	var order domain.Order
	err = s.repo.InTx(ctx, func(tx store.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return lookup(err, "order")
		}
		if o.Status != domain.OrderStatusPending {
			return store.Invalid("only pending orders can be updated")
		}

		ids := append(productIDs(o.Items), productIDs(items)...)
		ledger, err := LockAndFetch(ctx, tx, ids)
		if err != nil {
			return err
		}
		release(ledger, o.Items)
		for _, item := range items {
			if err := ledger.CheckOwnership(item.ProductID, o.StoreID); err != nil {
				return err
			}
			if err := ledger.Decrement(item.ProductID, item.Quantity); err != nil {
				return err
			}
		}

		if err := tx.DeleteOrderItems(ctx, o.ID); err != nil {
			return err
		}
		for _, item := range items {
			if err := tx.AddOrderItem(ctx, o.ID, item); err != nil {
				return err
			}
		}
		if err := ledger.Flush(ctx); err != nil {
			return err
		}
		o.Items = items
		order = *o
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.publish(ctx, orderEvent(events.OrderItemsUpdated, order))
	return order, nil
}

// CancelOrder cancels a pending or accepted order and returns its
// reservation to stock.
func (s *Service) CancelOrder(ctx context.Context, orderID string) (domain.Order, error) {
	var order domain.Order
	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return lookup(err, "order")
		}
		switch o.Status {
		case domain.OrderStatusPending, domain.OrderStatusAccepted:
		case domain.OrderStatusReceived:
			return store.Invalid("received orders cannot be cancelled")
		case domain.OrderStatusCancelled:
			return store.Invalid("order is already cancelled")
		default:
			return s.unknownStatus(*o)
		}

		if len(o.Items) > 0 {
			ledger, err := LockAndFetch(ctx, tx, productIDs(o.Items))
			if err != nil {
				return err
			}
			release(ledger, o.Items)
			if err := ledger.Flush(ctx); err != nil {
				return err
			}
		}
		if err := tx.UpdateOrderStatus(ctx, o.ID, domain.OrderStatusCancelled, nil); err != nil {
			return err
		}
		o.Status = domain.OrderStatusCancelled
		order = *o
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.publish(ctx, orderEvent(events.OrderCancelled, order))
	return order, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	var order domain.Order
	err := s.repo.View(ctx, func(r store.Reader) error {
		o, err := r.GetOrder(ctx, orderID)
		if err != nil {
			return lookup(err, "order")
		}
		order = *o
		return nil
	})
	return order, err
}

func (s *Service) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	var orders []domain.Order
	err := s.repo.View(ctx, func(r store.Reader) error {
		var err error
		orders, err = r.ListOrders(ctx, filter)
		return err
	})
	return orders, err
}

// release returns reserved quantities to stock. Anonymized products stay at zero.
func release(ledger *Ledger, items []domain.LineItem) {
	for _, item := range items {
		if ledger.Product(item.ProductID).Anonymized {
			continue
		}
		ledger.Increment(item.ProductID, item.Quantity)
	}
}

func (s *Service) unknownStatus(o domain.Order) error {
	s.log.Error().
		Str("order_id", o.ID).
		Str("status", string(o.Status)).
		Msg("order has a status outside the known set")
	return store.Errorf(store.ErrIntegrity, "order %s has unknown status %q", o.ID, o.Status)
}

func orderEvent(kind string, o domain.Order) events.Event {
	at := o.CreatedAt
	if o.ReceivedAt != nil {
		at = *o.ReceivedAt
	}
	return events.Event{
		Type:    kind,
		OrderID: o.ID,
		StoreID: o.StoreID,
		UserID:  o.UserID,
		Status:  string(o.Status),
		At:      at,
	}
}
