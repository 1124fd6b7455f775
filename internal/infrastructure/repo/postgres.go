package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"checkout-backend/internal/domain"
	"checkout-backend/internal/usecase"
)

const (
	orderNumberStart = 1001

	pqUniqueViolation = "23505"

	// orders_payment_key is the sole guard against duplicate orders.
	paymentUniqueConstraint = "orders_payment_key"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &PostgresStore{db: db}, nil
}

func (r *PostgresStore) Close() error { return r.db.Close() }

func (r *PostgresStore) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

var schema = []string{
	fmt.Sprintf(`CREATE SEQUENCE IF NOT EXISTS order_number_seq START %d`, orderNumberStart),
	`CREATE TABLE IF NOT EXISTS checkout_sessions (
		id TEXT PRIMARY KEY,
		customer_id TEXT,
		email TEXT NOT NULL DEFAULT '',
		cart_items JSONB NOT NULL DEFAULT '[]',
		shipping_address JSONB,
		billing_address JSONB,
		shipping_method TEXT NOT NULL DEFAULT '',
		shipping_rate_id TEXT NOT NULL DEFAULT '',
		subtotal NUMERIC(14,4) NOT NULL DEFAULT 0,
		shipping_total NUMERIC(14,4) NOT NULL DEFAULT 0,
		tax_total NUMERIC(14,4) NOT NULL DEFAULT 0,
		total NUMERIC(14,4) NOT NULL DEFAULT 0,
		currency TEXT NOT NULL DEFAULT '',
		completed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		order_number BIGINT NOT NULL UNIQUE DEFAULT nextval('order_number_seq'),
		checkout_id TEXT NOT NULL REFERENCES checkout_sessions(id),
		customer_id TEXT,
		email TEXT NOT NULL,
		subtotal NUMERIC(14,4) NOT NULL,
		shipping_total NUMERIC(14,4) NOT NULL,
		tax_total NUMERIC(14,4) NOT NULL,
		total NUMERIC(14,4) NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		payment_status TEXT NOT NULL,
		fulfillment_status TEXT NOT NULL,
		shipping_method TEXT NOT NULL,
		shipping_address JSONB NOT NULL,
		billing_address JSONB,
		payment_provider TEXT NOT NULL,
		payment_id TEXT NOT NULL,
		paid_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT orders_payment_key UNIQUE (payment_provider, payment_id)
	)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		product_id TEXT NOT NULL,
		variant_id TEXT,
		title TEXT NOT NULL,
		quantity INT NOT NULL,
		unit_price NUMERIC(14,4) NOT NULL,
		total NUMERIC(14,4) NOT NULL,
		image TEXT,
		position INT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS order_items_order_idx ON order_items (order_id, position)`,
}

// Migrate creates the schema. It is idempotent.
func (r *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// PutCheckout upserts a session. Cart promotion upstream owns this write;
// here it serves seeding and tests.
func (r *PostgresStore) PutCheckout(ctx context.Context, c *domain.CheckoutSession) error {
	items, err := json.Marshal(c.CartItems)
	if err != nil {
		return err
	}
	ship, err := jsonOrNull(c.ShippingAddress)
	if err != nil {
		return err
	}
	bill, err := jsonOrNull(c.BillingAddress)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	_, err = r.db.ExecContext(ctx, `INSERT INTO checkout_sessions
		(id,customer_id,email,cart_items,shipping_address,billing_address,shipping_method,shipping_rate_id,
		 subtotal,shipping_total,tax_total,total,currency,completed_at,created_at,updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (id) DO UPDATE SET customer_id=$2,email=$3,cart_items=$4,shipping_address=$5,billing_address=$6,
		 shipping_method=$7,shipping_rate_id=$8,subtotal=$9,shipping_total=$10,tax_total=$11,total=$12,currency=$13,
		 updated_at=$16
		WHERE checkout_sessions.completed_at IS NULL`,
		c.ID, nullString(c.CustomerID), c.Email, string(items), ship, bill, c.ShippingMethod, c.ShippingRateID,
		c.Subtotal, c.ShippingTotal, c.TaxTotal, c.Total, c.Currency, c.CompletedAt, c.CreatedAt, c.UpdatedAt)
	return err
}

const checkoutColumns = `id,customer_id,email,cart_items,shipping_address,billing_address,shipping_method,shipping_rate_id,
	subtotal,shipping_total,tax_total,total,currency,completed_at,created_at,updated_at`

func (r *PostgresStore) GetCheckout(ctx context.Context, id string) (*domain.CheckoutSession, error) {
	return scanCheckout(r.db.QueryRowContext(ctx, `SELECT `+checkoutColumns+` FROM checkout_sessions WHERE id=$1`, id))
}

func (r *PostgresStore) OrderByPayment(ctx context.Context, provider domain.PaymentProvider, paymentID string) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE payment_provider=$1 AND payment_id=$2`, string(provider), paymentID)
	o, err := scanOrder(row)
	if err != nil {
		return nil, err
	}
	if o.Items, err = r.loadItems(ctx, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *PostgresStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if err != nil {
		return nil, err
	}
	if o.Items, err = r.loadItems(ctx, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *PostgresStore) ListOrdersByCustomer(ctx context.Context, customerID string, page, pageSize int) ([]domain.Order, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM orders WHERE customer_id=$1`, customerID).Scan(&total); err != nil {
		return nil, 0, err
	}
	if page < 1 {
		page = 1
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE customer_id=$1
		ORDER BY order_number DESC LIMIT $2 OFFSET $3`, customerID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, err
	}
	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		out = append(out, *o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for i := range out {
		if out[i].Items, err = r.loadItems(ctx, out[i].ID); err != nil {
			return nil, 0, err
		}
	}
	return out, total, nil
}

// MarkShipped applies the transition only from a shippable state, so two
// concurrent calls ship the order once.
func (r *PostgresStore) MarkShipped(ctx context.Context, id string) (*domain.Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx, `UPDATE orders SET status=$2, fulfillment_status=$3
		WHERE id=$1 AND payment_status=$4 AND status IN ($5,$6) AND fulfillment_status<>$3
		RETURNING `+orderColumns,
		id, string(domain.OrderShipped), string(domain.FulfillmentFulfilled), string(domain.PaymentPaid),
		string(domain.OrderPending), string(domain.OrderProcessing)))
	if errors.Is(err, domain.ErrOrderNotFound) {
		if _, gerr := r.GetOrder(ctx, id); gerr != nil {
			return nil, gerr
		}
		return nil, domain.ErrInvalidTransition
	}
	if err != nil {
		return nil, err
	}
	if o.Items, err = r.loadItems(ctx, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *PostgresStore) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id,order_id,product_id,variant_id,title,quantity,unit_price,total,image
		FROM order_items WHERE order_id=$1 ORDER BY position ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.OrderItem
	for rows.Next() {
		var it domain.OrderItem
		var variant, image sql.NullString
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &variant, &it.Title, &it.Quantity, &it.UnitPrice, &it.Total, &image); err != nil {
			return nil, err
		}
		it.VariantID = variant.String
		it.Image = image.String
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *PostgresStore) WithTx(ctx context.Context, fn func(tx usecase.OrderTx) error) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) LockCheckout(ctx context.Context, id string) (*domain.CheckoutSession, error) {
	return scanCheckout(t.tx.QueryRowContext(ctx, `SELECT `+checkoutColumns+` FROM checkout_sessions WHERE id=$1 FOR UPDATE`, id))
}

func (t *pgTx) InsertOrder(ctx context.Context, o *domain.Order) error {
	ship, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return err
	}
	bill, err := jsonOrNull(o.BillingAddress)
	if err != nil {
		return err
	}
	err = t.tx.QueryRowContext(ctx, `INSERT INTO orders
		(id,checkout_id,customer_id,email,subtotal,shipping_total,tax_total,total,currency,status,payment_status,
		 fulfillment_status,shipping_method,shipping_address,billing_address,payment_provider,payment_id,paid_at,created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		RETURNING order_number`,
		o.ID, o.CheckoutID, nullString(o.CustomerID), o.Email, o.Subtotal, o.ShippingTotal, o.TaxTotal, o.Total, o.Currency,
		string(o.Status), string(o.PaymentStatus), string(o.FulfillmentStatus), o.ShippingMethod, string(ship), bill,
		string(o.PaymentProvider), o.PaymentID, o.PaidAt, o.CreatedAt).Scan(&o.OrderNumber)
	if isPaymentConflict(err) {
		return domain.ErrDuplicatePayment
	}
	return err
}

func (t *pgTx) InsertOrderItems(ctx context.Context, items []domain.OrderItem) error {
	stmt, err := t.tx.PrepareContext(ctx, `INSERT INTO order_items
		(id,order_id,product_id,variant_id,title,quantity,unit_price,total,image,position)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, it := range items {
		if _, err := stmt.ExecContext(ctx, it.ID, it.OrderID, it.ProductID, nullString(it.VariantID), it.Title,
			it.Quantity, it.UnitPrice, it.Total, nullString(it.Image), i); err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) MarkCheckoutCompleted(ctx context.Context, id string, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE checkout_sessions SET completed_at=$2, updated_at=$2
		WHERE id=$1 AND completed_at IS NULL`, id, at)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrCheckoutCompleted
	}
	return nil
}

func isPaymentConflict(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return string(pqErr.Code) == pqUniqueViolation && pqErr.Constraint == paymentUniqueConstraint
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckout(row rowScanner) (*domain.CheckoutSession, error) {
	var c domain.CheckoutSession
	var customer sql.NullString
	var items []byte
	var ship, bill []byte
	var completed sql.NullTime
	err := row.Scan(&c.ID, &customer, &c.Email, &items, &ship, &bill, &c.ShippingMethod, &c.ShippingRateID,
		&c.Subtotal, &c.ShippingTotal, &c.TaxTotal, &c.Total, &c.Currency, &completed, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrCheckoutNotFound
	}
	if err != nil {
		return nil, err
	}
	c.CustomerID = customer.String
	if err := json.Unmarshal(items, &c.CartItems); err != nil {
		return nil, fmt.Errorf("decode cart items of %s: %w", c.ID, err)
	}
	if c.ShippingAddress, err = decodeAddress(ship); err != nil {
		return nil, err
	}
	if c.BillingAddress, err = decodeAddress(bill); err != nil {
		return nil, err
	}
	if completed.Valid {
		t := completed.Time
		c.CompletedAt = &t
	}
	return &c, nil
}

const orderColumns = `id,order_number,checkout_id,customer_id,email,subtotal,shipping_total,tax_total,total,currency,
	status,payment_status,fulfillment_status,shipping_method,shipping_address,billing_address,payment_provider,
	payment_id,paid_at,created_at`

func scanOrder(row rowScanner) (*domain.Order, error) {
	var o domain.Order
	var customer sql.NullString
	var ship, bill []byte
	err := row.Scan(&o.ID, &o.OrderNumber, &o.CheckoutID, &customer, &o.Email, &o.Subtotal, &o.ShippingTotal,
		&o.TaxTotal, &o.Total, &o.Currency, (*string)(&o.Status), (*string)(&o.PaymentStatus),
		(*string)(&o.FulfillmentStatus), &o.ShippingMethod, &ship, &bill, (*string)(&o.PaymentProvider),
		&o.PaymentID, &o.PaidAt, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	o.CustomerID = customer.String
	if err := json.Unmarshal(ship, &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("decode shipping address of order %s: %w", o.ID, err)
	}
	if o.BillingAddress, err = decodeAddress(bill); err != nil {
		return nil, err
	}
	return &o, nil
}

func decodeAddress(raw []byte) (*domain.Address, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var a domain.Address
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("decode address: %w", err)
	}
	return &a, nil
}

func jsonOrNull(a *domain.Address) (any, error) {
	if a == nil {
		return nil, nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
