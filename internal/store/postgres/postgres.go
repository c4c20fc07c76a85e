package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/store"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) View(ctx context.Context, fn func(store.Reader) error) error {
	return fn(&queries{q: s.db})
}

func (s *Store) InTx(ctx context.Context, fn func(store.Tx) error) error {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	if err := fn(&queries{q: pgTx}); err != nil {
		return err
	}
	return pgTx.Commit()
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

var _ store.Tx = (*queries)(nil)

// queries runs against either the pool or an open transaction.
type queries struct {
	q querier
}

const storeColumns = `id, name, address, category, preorder_enabled, points_per_currency, hours, payment_methods, created_at`

func scanStore(row rowScanner) (domain.Store, error) {
	var s domain.Store
	var hours, methods []byte
	if err := row.Scan(&s.ID, &s.Name, &s.Address, &s.Category, &s.PreorderEnabled, &s.PointsPerCurrency, &hours, &methods, &s.CreatedAt); err != nil {
		return s, err
	}
	if len(hours) > 0 && string(hours) != "[]" {
		if err := json.Unmarshal(hours, &s.Hours); err != nil {
			return s, fmt.Errorf("decode store hours: %w", err)
		}
	}
	if len(methods) > 0 {
		if err := json.Unmarshal(methods, &s.PaymentMethods); err != nil {
			return s, fmt.Errorf("decode payment methods: %w", err)
		}
	}
	s.CreatedAt = s.CreatedAt.UTC()
	return s, nil
}

func (r *queries) GetStore(ctx context.Context, id string) (*domain.Store, error) {
	s, err := scanStore(r.q.QueryRowContext(ctx, `SELECT `+storeColumns+` FROM stores WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundOr(err)
	}
	return &s, nil
}

func (r *queries) ListStores(ctx context.Context) ([]domain.Store, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+storeColumns+` FROM stores ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stores := make([]domain.Store, 0, 16)
	for rows.Next() {
		s, err := scanStore(rows)
		if err != nil {
			return nil, err
		}
		stores = append(stores, s)
	}
	return stores, rows.Err()
}

func (r *queries) CreateStore(ctx context.Context, s domain.Store) error {
	hours, methods, err := encodeStoreJSON(s)
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO stores (id, name, address, category, preorder_enabled, points_per_currency, hours, payment_methods, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, s.ID, s.Name, s.Address, s.Category, s.PreorderEnabled, s.PointsPerCurrency, hours, methods, s.CreatedAt)
	if isUniqueViolation(err) {
		return store.Invalid("store %s already exists", s.ID)
	}
	return err
}

func (r *queries) UpdateStore(ctx context.Context, s domain.Store) error {
	hours, methods, err := encodeStoreJSON(s)
	if err != nil {
		return err
	}
	res, err := r.q.ExecContext(ctx, `
		UPDATE stores
		SET name = $2, address = $3, category = $4, preorder_enabled = $5,
			points_per_currency = $6, hours = $7, payment_methods = $8
		WHERE id = $1
	`, s.ID, s.Name, s.Address, s.Category, s.PreorderEnabled, s.PointsPerCurrency, hours, methods)
	return requireAffected(res, err)
}

func encodeStoreJSON(s domain.Store) (string, string, error) {
	hours, err := json.Marshal(s.Hours)
	if err != nil {
		return "", "", err
	}
	methods, err := json.Marshal(s.PaymentMethods)
	if err != nil {
		return "", "", err
	}
	return string(hours), string(methods), nil
}

const userColumns = `id, email, password_hash, name, is_admin, email_verified, COALESCE(store_id, ''), store_role, anonymized, created_at`

func scanUser(row rowScanner) (domain.User, error) {
	var u domain.User
	var role string
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.IsAdmin, &u.EmailVerified, &u.StoreID, &role, &u.Anonymized, &u.CreatedAt)
	u.StoreRole = domain.StoreRole(role)
	u.CreatedAt = u.CreatedAt.UTC()
	return u, err
}

func (r *queries) GetUser(ctx context.Context, id string) (*domain.User, error) {
	u, err := scanUser(r.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundOr(err)
	}
	return &u, nil
}

func (r *queries) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	u, err := scanUser(r.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
	if err != nil {
		return nil, notFoundOr(err)
	}
	return &u, nil
}

func (r *queries) ListStoreStaff(ctx context.Context, storeID string) ([]domain.User, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE store_id = $1 AND store_role <> ''
		ORDER BY email
	`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.User, 0, 4)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *queries) CreateUser(ctx context.Context, u domain.User) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, name, is_admin, email_verified, store_id, store_role, anonymized, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, u.ID, u.Email, u.PasswordHash, u.Name, u.IsAdmin, u.EmailVerified, nullIfEmpty(u.StoreID), string(u.StoreRole), u.Anonymized, u.CreatedAt)
	if isUniqueViolation(err) {
		return store.Invalid("email already registered")
	}
	return err
}

func (r *queries) UpdateUser(ctx context.Context, u domain.User) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE users
		SET email = $2, password_hash = $3, name = $4, is_admin = $5, email_verified = $6,
			store_id = $7, store_role = $8, anonymized = $9
		WHERE id = $1
	`, u.ID, u.Email, u.PasswordHash, u.Name, u.IsAdmin, u.EmailVerified, nullIfEmpty(u.StoreID), string(u.StoreRole), u.Anonymized)
	if constraint, ok := uniqueViolation(err); ok {
		if constraint == oneOwnerIndex {
			return store.Invalid("store %s already has an owner", u.StoreID)
		}
		return store.Invalid("email already registered")
	}
	return requireAffected(res, err)
}

func (r *queries) DeleteUser(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	return requireAffected(res, err)
}

func (r *queries) UserReferenced(ctx context.Context, id string) (bool, error) {
	var referenced bool
	err := r.q.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM orders WHERE user_id = $1)
			OR EXISTS (SELECT 1 FROM sales WHERE user_id = $1)
			OR EXISTS (SELECT 1 FROM points WHERE user_id = $1)
			OR EXISTS (SELECT 1 FROM reviews WHERE user_id = $1)
	`, id).Scan(&referenced)
	return referenced, err
}

const productColumns = `id, store_id, name, brand, description, price, points_price, quantity, hidden, COALESCE(barcode, ''), anonymized, created_at`

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	var pointsPrice sql.NullInt64
	err := row.Scan(&p.ID, &p.StoreID, &p.Name, &p.Brand, &p.Description, &p.Price, &pointsPrice, &p.Quantity, &p.Hidden, &p.Barcode, &p.Anonymized, &p.CreatedAt)
	if pointsPrice.Valid {
		v := pointsPrice.Int64
		p.PointsPrice = &v
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return p, err
}

func (r *queries) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, err := scanProduct(r.q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundOr(err)
	}
	return &p, nil
}

func (r *queries) ListProducts(ctx context.Context, storeID string, includeHidden bool) ([]domain.Product, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE store_id = $1 AND ($2 OR hidden = false)
		ORDER BY name, id
	`, storeID, includeHidden)
	if err != nil {
		return nil, err
	}
	return collectProducts(rows)
}

func collectProducts(rows *sql.Rows) ([]domain.Product, error) {
	defer rows.Close()
	products := make([]domain.Product, 0, 32)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (r *queries) ProductReferenced(ctx context.Context, id string) (bool, error) {
	var referenced bool
	err := r.q.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM order_items WHERE product_id = $1)
			OR EXISTS (SELECT 1 FROM sale_items WHERE product_id = $1)
	`, id).Scan(&referenced)
	return referenced, err
}

// LockProducts takes row locks in id order so concurrent multi-item
// operations always acquire them in the same sequence.
func (r *queries) LockProducts(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	ids = uniqueSorted(ids)
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := r.q.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, err
	}
	products, err := collectProducts(rows)
	if err != nil {
		return nil, err
	}
	for _, p := range products {
		result[p.ID] = p
	}
	return result, nil
}

func (r *queries) CreateProduct(ctx context.Context, p domain.Product) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO products (id, store_id, name, brand, description, price, points_price, quantity, hidden, barcode, anonymized, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, p.ID, p.StoreID, p.Name, p.Brand, p.Description, p.Price, nullInt64(p.PointsPrice), p.Quantity, p.Hidden, nullIfEmpty(p.Barcode), p.Anonymized, p.CreatedAt)
	return err
}

func (r *queries) UpdateProduct(ctx context.Context, p domain.Product) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE products
		SET name = $2, brand = $3, description = $4, price = $5, points_price = $6,
			quantity = $7, hidden = $8, barcode = $9, anonymized = $10
		WHERE id = $1
	`, p.ID, p.Name, p.Brand, p.Description, p.Price, nullInt64(p.PointsPrice), p.Quantity, p.Hidden, nullIfEmpty(p.Barcode), p.Anonymized)
	return requireAffected(res, err)
}

func (r *queries) SetProductQuantity(ctx context.Context, id string, qty decimal.Decimal) error {
	if qty.IsNegative() {
		return store.ErrInsufficientStock
	}
	res, err := r.q.ExecContext(ctx, `UPDATE products SET quantity = $2 WHERE id = $1`, id, qty)
	return requireAffected(res, err)
}

func (r *queries) DeleteProduct(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	return requireAffected(res, err)
}

const orderColumns = `id, COALESCE(user_id, ''), store_id, status, payment_method, created_at, received_at`

func scanOrder(row rowScanner) (domain.Order, error) {
	var o domain.Order
	var status string
	var receivedAt sql.NullTime
	if err := row.Scan(&o.ID, &o.UserID, &o.StoreID, &status, &o.PaymentMethod, &o.CreatedAt, &receivedAt); err != nil {
		return o, err
	}
	o.Status = domain.OrderStatus(status)
	o.CreatedAt = o.CreatedAt.UTC()
	if receivedAt.Valid {
		t := receivedAt.Time.UTC()
		o.ReceivedAt = &t
	}
	return o, nil
}

func (r *queries) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return r.getOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r *queries) LockOrder(ctx context.Context, id string) (*domain.Order, error) {
	return r.getOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (r *queries) getOrder(ctx context.Context, query string, id string) (*domain.Order, error) {
	o, err := scanOrder(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFoundOr(err)
	}
	orders := []domain.Order{o}
	if err := r.loadOrderItems(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

func (r *queries) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	conditions := make([]string, 0, 3)
	args := make([]any, 0, 3)
	if filter.StoreID != "" {
		args = append(args, filter.StoreID)
		conditions = append(conditions, fmt.Sprintf("store_id = $%d", len(args)))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, 16)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	_ = rows.Close()

	if err := r.loadOrderItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *queries) loadOrderItems(ctx context.Context, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	index := make(map[string]int, len(orders))
	ids := make([]string, 0, len(orders))
	for i := range orders {
		index[orders[i].ID] = i
		ids = append(ids, orders[i].ID)
		orders[i].Items = make([]domain.LineItem, 0, 4)
	}

	rows, err := r.q.QueryContext(ctx, `
		SELECT order_id, product_id, quantity
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY id
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var orderID string
		var item domain.LineItem
		if err := rows.Scan(&orderID, &item.ProductID, &item.Quantity); err != nil {
			return err
		}
		i := index[orderID]
		orders[i].Items = append(orders[i].Items, item)
	}
	return rows.Err()
}

func (r *queries) CreateOrder(ctx context.Context, o domain.Order) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, store_id, status, payment_method, created_at, received_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, o.ID, nullIfEmpty(o.UserID), o.StoreID, string(o.Status), o.PaymentMethod, o.CreatedAt, nullTime(o.ReceivedAt))
	return err
}

func (r *queries) AddOrderItem(ctx context.Context, orderID string, item domain.LineItem) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO order_items (order_id, product_id, quantity)
		VALUES ($1,$2,$3)
	`, orderID, item.ProductID, item.Quantity)
	return err
}

func (r *queries) DeleteOrderItems(ctx context.Context, orderID string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, orderID)
	return err
}

func (r *queries) UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus, receivedAt *time.Time) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE orders SET status = $2, received_at = $3 WHERE id = $1
	`, id, string(status), nullTime(receivedAt))
	return requireAffected(res, err)
}

const saleColumns = `id, store_id, COALESCE(user_id, ''), COALESCE(order_id, ''), payment_method, using_points, points_spent, total, created_at`

func scanSale(row rowScanner) (domain.Sale, error) {
	var s domain.Sale
	err := row.Scan(&s.ID, &s.StoreID, &s.UserID, &s.OrderID, &s.PaymentMethod, &s.UsingPoints, &s.PointsSpent, &s.Total, &s.CreatedAt)
	s.CreatedAt = s.CreatedAt.UTC()
	return s, err
}

func (r *queries) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	s, err := scanSale(r.q.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundOr(err)
	}
	sales := []domain.Sale{s}
	if err := r.loadSaleItems(ctx, sales); err != nil {
		return nil, err
	}
	return &sales[0], nil
}

func (r *queries) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	conditions := make([]string, 0, 2)
	args := make([]any, 0, 2)
	if filter.StoreID != "" {
		args = append(args, filter.StoreID)
		conditions = append(conditions, fmt.Sprintf("store_id = $%d", len(args)))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)))
	}
	query := `SELECT ` + saleColumns + ` FROM sales`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 16)
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	_ = rows.Close()

	if err := r.loadSaleItems(ctx, sales); err != nil {
		return nil, err
	}
	return sales, nil
}

func (r *queries) loadSaleItems(ctx context.Context, sales []domain.Sale) error {
	if len(sales) == 0 {
		return nil
	}
	index := make(map[string]int, len(sales))
	ids := make([]string, 0, len(sales))
	for i := range sales {
		index[sales[i].ID] = i
		ids = append(ids, sales[i].ID)
		sales[i].Items = make([]domain.SaleLine, 0, 4)
	}

	rows, err := r.q.QueryContext(ctx, `
		SELECT sale_id, product_id, quantity, unit_price
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY id
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var saleID string
		var line domain.SaleLine
		if err := rows.Scan(&saleID, &line.ProductID, &line.Quantity, &line.UnitPrice); err != nil {
			return err
		}
		i := index[saleID]
		sales[i].Items = append(sales[i].Items, line)
	}
	return rows.Err()
}

func (r *queries) CreateSale(ctx context.Context, s domain.Sale) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO sales (id, store_id, user_id, order_id, payment_method, using_points, points_spent, total, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, s.ID, s.StoreID, nullIfEmpty(s.UserID), nullIfEmpty(s.OrderID), s.PaymentMethod, s.UsingPoints, s.PointsSpent, s.Total, s.CreatedAt)
	return err
}

func (r *queries) AddSaleItem(ctx context.Context, saleID string, line domain.SaleLine) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO sale_items (sale_id, product_id, quantity, unit_price)
		VALUES ($1,$2,$3,$4)
	`, saleID, line.ProductID, line.Quantity, line.UnitPrice)
	return err
}

const pointsColumns = `id, store_id, user_id, amount, max_points`

func (r *queries) GetPoints(ctx context.Context, userID string, storeID string) (*domain.Points, error) {
	return r.getPoints(ctx, `SELECT `+pointsColumns+` FROM points WHERE user_id = $1 AND store_id = $2`, userID, storeID)
}

func (r *queries) LockPoints(ctx context.Context, userID string, storeID string) (*domain.Points, error) {
	return r.getPoints(ctx, `SELECT `+pointsColumns+` FROM points WHERE user_id = $1 AND store_id = $2 FOR UPDATE`, userID, storeID)
}

func (r *queries) getPoints(ctx context.Context, query string, userID string, storeID string) (*domain.Points, error) {
	var p domain.Points
	err := r.q.QueryRowContext(ctx, query, userID, storeID).Scan(&p.ID, &p.StoreID, &p.UserID, &p.Amount, &p.Max)
	if err != nil {
		return nil, notFoundOr(err)
	}
	return &p, nil
}

func (r *queries) ListPoints(ctx context.Context, storeID string) ([]domain.Points, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+pointsColumns+` FROM points WHERE store_id = $1 ORDER BY user_id`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.Points, 0, 16)
	for rows.Next() {
		var p domain.Points
		if err := rows.Scan(&p.ID, &p.StoreID, &p.UserID, &p.Amount, &p.Max); err != nil {
			return nil, err
		}
		entries = append(entries, p)
	}
	return entries, rows.Err()
}

func (r *queries) CreatePoints(ctx context.Context, p domain.Points) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO points (id, store_id, user_id, amount, max_points)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (user_id, store_id) DO NOTHING
	`, p.ID, p.StoreID, p.UserID, p.Amount, p.Max)
	return err
}

func (r *queries) SetPointsAmount(ctx context.Context, id string, amount int64) error {
	res, err := r.q.ExecContext(ctx, `UPDATE points SET amount = $2 WHERE id = $1`, id, amount)
	return requireAffected(res, err)
}

const discountColumns = `id, product_id, pct_off, start_date, end_date, days_usable, min_amount, max_amount, created_at`

func scanDiscount(row rowScanner) (domain.Discount, error) {
	var d domain.Discount
	var days []byte
	if err := row.Scan(&d.ID, &d.ProductID, &d.PctOff, &d.StartDate, &d.EndDate, &days, &d.MinAmount, &d.MaxAmount, &d.CreatedAt); err != nil {
		return d, err
	}
	if err := json.Unmarshal(days, &d.DaysUsable); err != nil {
		return d, fmt.Errorf("decode days_usable: %w", err)
	}
	d.StartDate = domain.DateOnly(d.StartDate)
	d.EndDate = domain.DateOnly(d.EndDate)
	d.CreatedAt = d.CreatedAt.UTC()
	return d, nil
}

func (r *queries) GetDiscount(ctx context.Context, id string) (*domain.Discount, error) {
	d, err := scanDiscount(r.q.QueryRowContext(ctx, `SELECT `+discountColumns+` FROM discounts WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundOr(err)
	}
	return &d, nil
}

func (r *queries) GetDiscountByProduct(ctx context.Context, productID string) (*domain.Discount, error) {
	d, err := scanDiscount(r.q.QueryRowContext(ctx, `
		SELECT `+discountColumns+`
		FROM discounts
		WHERE product_id = $1
		ORDER BY created_at
		LIMIT 1
	`, productID))
	if err != nil {
		return nil, notFoundOr(err)
	}
	return &d, nil
}

func (r *queries) ListDiscounts(ctx context.Context) ([]domain.Discount, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+discountColumns+` FROM discounts ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	discounts := make([]domain.Discount, 0, 16)
	for rows.Next() {
		d, err := scanDiscount(rows)
		if err != nil {
			return nil, err
		}
		discounts = append(discounts, d)
	}
	return discounts, rows.Err()
}

func (r *queries) CreateDiscount(ctx context.Context, d domain.Discount) error {
	days, err := json.Marshal(d.DaysUsable)
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO discounts (id, product_id, pct_off, start_date, end_date, days_usable, min_amount, max_amount, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, d.ID, d.ProductID, d.PctOff, domain.DateOnly(d.StartDate), domain.DateOnly(d.EndDate), string(days), d.MinAmount, d.MaxAmount, d.CreatedAt)
	return err
}

func (r *queries) DeleteDiscount(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM discounts WHERE id = $1`, id)
	return requireAffected(res, err)
}

func (r *queries) DeleteDiscountsEndedBefore(ctx context.Context, day time.Time) (int, error) {
	res, err := r.q.ExecContext(ctx, `DELETE FROM discounts WHERE end_date < $1`, domain.DateOnly(day))
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	return int(affected), err
}

const reviewColumns = `id, store_id, user_id, stars, description, created_at`

func scanReview(row rowScanner) (domain.Review, error) {
	var rv domain.Review
	err := row.Scan(&rv.ID, &rv.StoreID, &rv.UserID, &rv.Stars, &rv.Description, &rv.CreatedAt)
	rv.CreatedAt = rv.CreatedAt.UTC()
	return rv, err
}

func (r *queries) GetReview(ctx context.Context, id string) (*domain.Review, error) {
	rv, err := scanReview(r.q.QueryRowContext(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundOr(err)
	}
	return &rv, nil
}

func (r *queries) ListReviews(ctx context.Context, filter domain.ReviewFilter) ([]domain.Review, error) {
	conditions := make([]string, 0, 2)
	args := make([]any, 0, 2)
	if filter.StoreID != "" {
		args = append(args, filter.StoreID)
		conditions = append(conditions, fmt.Sprintf("store_id = $%d", len(args)))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)))
	}
	query := `SELECT ` + reviewColumns + ` FROM reviews`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reviews := make([]domain.Review, 0, 8)
	for rows.Next() {
		rv, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		reviews = append(reviews, rv)
	}
	return reviews, rows.Err()
}

func (r *queries) CreateReview(ctx context.Context, rv domain.Review) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO reviews (id, store_id, user_id, stars, description, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, rv.ID, rv.StoreID, rv.UserID, rv.Stars, rv.Description, rv.CreatedAt)
	return err
}

func (r *queries) DeleteReview(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM reviews WHERE id = $1`, id)
	return requireAffected(res, err)
}

func notFoundOr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func requireAffected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func uniqueSorted(ids []string) []string {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// oneOwnerIndex is the partial unique index that allows one owner per store.
const oneOwnerIndex = "users_one_owner_idx"

func isUniqueViolation(err error) bool {
	_, ok := uniqueViolation(err)
	return ok
}

// uniqueViolation returns the violated constraint name.
func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	return "", false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullInt64(val *int64) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
