package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	OrderCreated       = "order.created"
	OrderStatusChanged = "order.status_changed"
	OrderItemsUpdated  = "order.items_updated"
	OrderCancelled     = "order.cancelled"
	SaleRecorded       = "sale.recorded"
)

// Event describes an order or sale lifecycle change. Consumers use it to
// notify buyers and store staff.
type Event struct {
	Type    string    `json:"type"`
	OrderID string    `json:"order_id,omitempty"`
	SaleID  string    `json:"sale_id,omitempty"`
	StoreID string    `json:"store_id"`
	UserID  string    `json:"user_id,omitempty"`
	Status  string    `json:"status,omitempty"`
	At      time.Time `json:"at"`
}

// Key groups events of one order on one partition.
func (e Event) Key() string {
	if e.OrderID != "" {
		return e.OrderID
	}
	return e.SaleID
}

type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
	Close() error
}

type Noop struct{}

func (Noop) Publish(_ context.Context, _ ...Event) error { return nil }

func (Noop) Close() error { return nil }

func encode(e Event) (kafka.Message, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(e.Key()),
		Value: payload,
		Time:  e.At,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(e.Type)},
		},
	}, nil
}
