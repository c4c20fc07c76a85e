package domain

import "github.com/shopspring/decimal"

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Name     string `json:"name" validate:"required,max=120"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   string `json:"expires_at"`
	User        User   `json:"user"`
}

type StoreCreateRequest struct {
	Name              string                   `json:"name" validate:"required,max=120"`
	Address           string                   `json:"address" validate:"max=255"`
	Category          string                   `json:"category" validate:"max=60"`
	PreorderEnabled   bool                     `json:"preorder_enabled"`
	PointsPerCurrency *decimal.Decimal         `json:"points_per_currency,omitempty"`
	Hours             [7]DayHours              `json:"hours"`
	PaymentMethods    [PaymentMethodCount]bool `json:"payment_methods"`
}

type StoreUpdateRequest struct {
	Name              *string                   `json:"name,omitempty" validate:"omitempty,min=1,max=120"`
	Address           *string                   `json:"address,omitempty" validate:"omitempty,max=255"`
	Category          *string                   `json:"category,omitempty" validate:"omitempty,max=60"`
	PreorderEnabled   *bool                     `json:"preorder_enabled,omitempty"`
	PointsPerCurrency *decimal.Decimal          `json:"points_per_currency,omitempty"`
	DisablePoints     bool                      `json:"disable_points,omitempty"`
	Hours             *[7]DayHours              `json:"hours,omitempty"`
	PaymentMethods    *[PaymentMethodCount]bool `json:"payment_methods,omitempty"`
}

type StaffAssignRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

type ProductCreateRequest struct {
	StoreID     string          `json:"-" validate:"required"`
	Name        string          `json:"name" validate:"required,max=120"`
	Brand       string          `json:"brand" validate:"max=120"`
	Description string          `json:"description" validate:"max=2000"`
	Price       decimal.Decimal `json:"price"`
	PointsPrice *int64          `json:"points_price,omitempty" validate:"omitempty,gt=0"`
	Quantity    decimal.Decimal `json:"quantity"`
	Hidden      bool            `json:"hidden"`
	Barcode     string          `json:"barcode" validate:"max=64"`
}

type ProductUpdateRequest struct {
	Name        *string          `json:"name,omitempty" validate:"omitempty,min=1,max=120"`
	Brand       *string          `json:"brand,omitempty" validate:"omitempty,max=120"`
	Description *string          `json:"description,omitempty" validate:"omitempty,max=2000"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	PointsPrice *int64           `json:"points_price,omitempty" validate:"omitempty,gte=0"`
	Quantity    *decimal.Decimal `json:"quantity,omitempty"`
	Hidden      *bool            `json:"hidden,omitempty"`
	Barcode     *string          `json:"barcode,omitempty" validate:"omitempty,max=64"`
}

type OrderCreateRequest struct {
	StoreID       string     `json:"store_id" validate:"required"`
	UserID        string     `json:"-"`
	Items         []LineItem `json:"items" validate:"dive"`
	PaymentMethod int        `json:"payment_method"`
}

type OrderItemsUpdateRequest struct {
	Items []LineItem `json:"items" validate:"dive"`
}

type SaleCreateRequest struct {
	StoreID       string     `json:"store_id" validate:"required"`
	UserID        string     `json:"user_id,omitempty"`
	Items         []LineItem `json:"items" validate:"dive"`
	PaymentMethod int        `json:"payment_method"`
	// UsingPoints is never decoded; points are spent through redemption only.
	UsingPoints   bool       `json:"-"`
}

type RedeemRequest struct {
	ProductID string `json:"product_id" validate:"required"`
}

type DiscountCreateRequest struct {
	ProductID  string           `json:"product_id" validate:"required"`
	PctOff     int              `json:"pct_off" validate:"min=1,max=100"`
	StartDate  string           `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate    string           `json:"end_date" validate:"required,datetime=2006-01-02"`
	DaysUsable [7]bool          `json:"days_usable"`
	MinAmount  *decimal.Decimal `json:"min_amount,omitempty"`
	MaxAmount  *decimal.Decimal `json:"max_amount,omitempty"`
}

type ReviewCreateRequest struct {
	StoreID     string `json:"store_id" validate:"required"`
	UserID      string `json:"-" validate:"required"`
	Stars       int    `json:"stars" validate:"min=1,max=5"`
	Description string `json:"description" validate:"max=300"`
}
