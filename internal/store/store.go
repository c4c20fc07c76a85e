package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"storefront/backend/internal/domain"
)

// Reader exposes lookups shared by read-only views and transactions.
type Reader interface {
	GetStore(ctx context.Context, id string) (*domain.Store, error)
	ListStores(ctx context.Context) ([]domain.Store, error)
	GetUser(ctx context.Context, id string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	ListStoreStaff(ctx context.Context, storeID string) ([]domain.User, error)
	// UserReferenced reports whether orders, sales, points or reviews point at the user.
	UserReferenced(ctx context.Context, id string) (bool, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context, storeID string, includeHidden bool) ([]domain.Product, error)
	ProductReferenced(ctx context.Context, id string) (bool, error)
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error)
	GetPoints(ctx context.Context, userID string, storeID string) (*domain.Points, error)
	ListPoints(ctx context.Context, storeID string) ([]domain.Points, error)
	GetDiscount(ctx context.Context, id string) (*domain.Discount, error)
	GetDiscountByProduct(ctx context.Context, productID string) (*domain.Discount, error)
	ListDiscounts(ctx context.Context) ([]domain.Discount, error)
	GetReview(ctx context.Context, id string) (*domain.Review, error)
	ListReviews(ctx context.Context, filter domain.ReviewFilter) ([]domain.Review, error)
}

// Tx is a unit of work. Locking reads hold their rows until the transaction ends.
type Tx interface {
	Reader

	// LockProducts locks every id in one request and returns the rows found.
	LockProducts(ctx context.Context, ids []string) (map[string]domain.Product, error)
	LockOrder(ctx context.Context, id string) (*domain.Order, error)
	LockPoints(ctx context.Context, userID string, storeID string) (*domain.Points, error)

	CreateStore(ctx context.Context, s domain.Store) error
	UpdateStore(ctx context.Context, s domain.Store) error
	CreateUser(ctx context.Context, u domain.User) error
	UpdateUser(ctx context.Context, u domain.User) error
	DeleteUser(ctx context.Context, id string) error

	CreateProduct(ctx context.Context, p domain.Product) error
	UpdateProduct(ctx context.Context, p domain.Product) error
	SetProductQuantity(ctx context.Context, id string, qty decimal.Decimal) error
	DeleteProduct(ctx context.Context, id string) error

	CreateOrder(ctx context.Context, o domain.Order) error
	AddOrderItem(ctx context.Context, orderID string, item domain.LineItem) error
	DeleteOrderItems(ctx context.Context, orderID string) error
	UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus, receivedAt *time.Time) error

	CreateSale(ctx context.Context, s domain.Sale) error
	AddSaleItem(ctx context.Context, saleID string, line domain.SaleLine) error

	// CreatePoints is a no-op when the (user, store) entry already exists.
	CreatePoints(ctx context.Context, p domain.Points) error
	SetPointsAmount(ctx context.Context, id string, amount int64) error

	CreateDiscount(ctx context.Context, d domain.Discount) error
	DeleteDiscount(ctx context.Context, id string) error
	DeleteDiscountsEndedBefore(ctx context.Context, day time.Time) (int, error)

	CreateReview(ctx context.Context, r domain.Review) error
	DeleteReview(ctx context.Context, id string) error
}

// Repository runs fn inside a transaction, committing when it returns nil.
type Repository interface {
	View(ctx context.Context, fn func(Reader) error) error
	InTx(ctx context.Context, fn func(Tx) error) error
	Close() error
}
