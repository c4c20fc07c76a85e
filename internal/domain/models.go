package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusAccepted  OrderStatus = "accepted"
	OrderStatusReceived  OrderStatus = "received"
	OrderStatusCancelled OrderStatus = "cancelled"
)

type StoreRole string

const (
	StoreRoleNone    StoreRole = ""
	StoreRoleOwner   StoreRole = "owner"
	StoreRoleCashier StoreRole = "cashier"
)

// Payment methods index into Store.PaymentMethods.
const (
	PaymentCash = iota
	PaymentCard
	PaymentTransfer
	PaymentEWallet
	PaymentMethodCount
)

// DefaultPointsMax caps a balance when no explicit cap is configured.
const DefaultPointsMax = 2147483647

// DeletedProductName replaces identifying fields of an anonymized product.
const DeletedProductName = "Deleted Product"

// DeletedUserName replaces the name of an anonymized account.
const DeletedUserName = "Deleted User"

type Product struct {
	ID          string          `json:"id"`
	StoreID     string          `json:"store_id"`
	Name        string          `json:"name"`
	Brand       string          `json:"brand"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	PointsPrice *int64          `json:"points_price,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	Hidden      bool            `json:"hidden"`
	Barcode     string          `json:"barcode,omitempty"`
	Anonymized  bool            `json:"anonymized"`
	CreatedAt   time.Time       `json:"created_at"`
}

// DayHours holds one weekday's window as "HH:MM" strings. Both are set or both are nil.
type DayHours struct {
	Open  *string `json:"open"`
	Close *string `json:"close"`
}

type Store struct {
	ID                string                   `json:"id"`
	Name              string                   `json:"name"`
	Address           string                   `json:"address"`
	Category          string                   `json:"category"`
	PreorderEnabled   bool                     `json:"preorder_enabled"`
	PointsPerCurrency decimal.NullDecimal      `json:"points_per_currency"`
	Hours             [7]DayHours              `json:"hours"`
	PaymentMethods    [PaymentMethodCount]bool `json:"payment_methods"`
	CreatedAt         time.Time                `json:"created_at"`
}

type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	PasswordHash  string    `json:"-"`
	Name          string    `json:"name"`
	IsAdmin       bool      `json:"is_admin"`
	EmailVerified bool      `json:"email_verified"`
	StoreID       string    `json:"store_id,omitempty"`
	StoreRole     StoreRole `json:"store_role,omitempty"`
	Anonymized    bool      `json:"anonymized"`
	CreatedAt     time.Time `json:"created_at"`
}

type LineItem struct {
	ProductID string          `json:"product_id" validate:"required"`
	Quantity  decimal.Decimal `json:"quantity"`
}

type Order struct {
	ID            string      `json:"id"`
	UserID        string      `json:"user_id,omitempty"`
	StoreID       string      `json:"store_id"`
	Status        OrderStatus `json:"status"`
	PaymentMethod int         `json:"payment_method"`
	Items         []LineItem  `json:"items"`
	CreatedAt     time.Time   `json:"created_at"`
	ReceivedAt    *time.Time  `json:"received_at,omitempty"`
}

type SaleLine struct {
	ProductID string          `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type Sale struct {
	ID            string          `json:"id"`
	StoreID       string          `json:"store_id"`
	UserID        string          `json:"user_id,omitempty"`
	OrderID       string          `json:"order_id,omitempty"`
	PaymentMethod int             `json:"payment_method"`
	UsingPoints   bool            `json:"using_points"`
	PointsSpent   int64           `json:"points_spent"`
	Total         decimal.Decimal `json:"total"`
	Items         []SaleLine      `json:"items"`
	CreatedAt     time.Time       `json:"created_at"`
}

type Points struct {
	ID      string `json:"id"`
	StoreID string `json:"store_id"`
	UserID  string `json:"user_id"`
	Amount  int64  `json:"amount"`
	Max     int64  `json:"max"`
}

type Discount struct {
	ID         string          `json:"id"`
	ProductID  string          `json:"product_id"`
	PctOff     int             `json:"pct_off"`
	StartDate  time.Time       `json:"start_date"`
	EndDate    time.Time       `json:"end_date"`
	DaysUsable [7]bool         `json:"days_usable"`
	MinAmount  decimal.Decimal `json:"min_amount"`
	MaxAmount  decimal.Decimal `json:"max_amount"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Actor is the authenticated caller attached to a request context.
type Actor struct {
	ID            string    `json:"id"`
	StoreID       string    `json:"store_id,omitempty"`
	StoreRole     StoreRole `json:"store_role,omitempty"`
	EmailVerified bool      `json:"email_verified"`
	IsAdmin       bool      `json:"is_admin"`
}

// StaffOf reports whether the actor owns or works the cash register at storeID.
func (a Actor) StaffOf(storeID string) bool {
	return a.StoreID != "" && a.StoreID == storeID && a.StoreRole != StoreRoleNone
}

func (a Actor) OwnerOf(storeID string) bool {
	return a.StoreID != "" && a.StoreID == storeID && a.StoreRole == StoreRoleOwner
}

type OrderFilter struct {
	StoreID string
	UserID  string
	Status  OrderStatus
}

type SaleFilter struct {
	StoreID string
	UserID  string
}

type Review struct {
	ID          string    `json:"id"`
	StoreID     string    `json:"store_id"`
	UserID      string    `json:"user_id"`
	Stars       int       `json:"stars"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type ReviewFilter struct {
	StoreID string
	UserID  string
}
