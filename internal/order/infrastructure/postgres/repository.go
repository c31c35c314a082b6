package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmehra2102/order-saga/internal/order/application"
	"github.com/dmehra2102/order-saga/internal/order/domain"
	"github.com/dmehra2102/order-saga/pkg/tracing"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	uniqueViolation = "23505"
	orderNumberKey  = "orders_order_number_key"
	aggregateType   = "order"
)

const selectOrderColumns = `
		SELECT o.id, o.order_number, o.user_id, o.status, o.total_amount, o.notes, o.version,
		       o.created_at, o.updated_at, o.completed_at,
		       s.id, s.address,
		       p.id, p.method, p.status, p.transaction_id, p.payment_link_id, p.checkout_url,
		       COALESCE(p.provider_order_code, ''), p.payment_date
		FROM orders o
		JOIN shipping_addresses s ON s.order_id = o.id
		JOIN payment_infos p ON p.order_id = o.id`

var ErrAlreadyPlaced = errors.New("order already placed")

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

var _ application.OrderRepository = (*Repository)(nil)

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

func (r *Repository) ExistsByNumber(ctx context.Context, number string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM orders WHERE order_number = $1)
		    OR EXISTS (SELECT 1 FROM retired_order_numbers WHERE order_number = $1)`, number).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: order number exists: %w", err)
	}
	return exists, nil
}

func (r *Repository) Create(ctx context.Context, o domain.Order) (domain.Order, error) {
	o = o.Clone()
	o.ID = uuid.NewString()
	o.Version = 1

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Order{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (id, order_number, user_id, status, total_amount, notes, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		o.ID, o.OrderNumber, o.UserID, o.Status, o.TotalAmount, o.Notes, o.Version, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == orderNumberKey {
			return domain.Order{}, application.ErrDuplicateOrderNumber
		}
		return domain.Order{}, fmt.Errorf("postgres: insert order: %w", err)
	}
	// Checked after the insert so a concurrent Discard of the same number
	// has committed its tombstone by the time this runs.
	var retired bool
	err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM retired_order_numbers WHERE order_number = $1)`,
		o.OrderNumber).Scan(&retired)
	if err != nil {
		return domain.Order{}, fmt.Errorf("postgres: check retired number: %w", err)
	}
	if retired {
		return domain.Order{}, application.ErrDuplicateOrderNumber
	}

	batch := &pgx.Batch{}
	for _, item := range o.Items {
		batch.Queue(`
			INSERT INTO order_items (order_id, product_id, product_name, product_image, price, quantity, subtotal)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			o.ID, item.ProductID, item.ProductName, item.ProductImage, item.Price, item.Quantity, item.Subtotal)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return domain.Order{}, fmt.Errorf("postgres: insert order items: %w", err)
	}

	err = tx.QueryRow(ctx, `INSERT INTO shipping_addresses (order_id, address) VALUES ($1, $2) RETURNING id`,
		o.ID, o.Shipping.Address).Scan(&o.Shipping.ID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("postgres: insert shipping address: %w", err)
	}

	err = tx.QueryRow(ctx, `INSERT INTO payment_infos (order_id, method, status) VALUES ($1, $2, $3) RETURNING id`,
		o.ID, o.Payment.Method, o.Payment.Status).Scan(&o.Payment.ID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("postgres: insert payment info: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

func (r *Repository) Finalize(ctx context.Context, o domain.Order) (domain.Order, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Order{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var placedAt *time.Time
	err = tx.QueryRow(ctx, `SELECT placed_at FROM orders WHERE id = $1 FOR UPDATE`, o.ID).Scan(&placedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.Errorf(domain.KindOrderNotFound, "order %s not found", o.ID)
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("postgres: lock order %s: %w", o.ID, err)
	}
	if placedAt != nil {
		return domain.Order{}, ErrAlreadyPlaced
	}

	o.Version++
	if err := writeState(ctx, tx, o, true); err != nil {
		return domain.Order{}, err
	}
	if err := insertEvent(ctx, tx, domain.EventOrderPlaced, o); err != nil {
		return domain.Order{}, err
	}

	placed, err := loadOne(ctx, tx, `WHERE o.id = $1`, o.ID)
	if err != nil {
		return domain.Order{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Order{}, err
	}
	return placed, nil
}

// Discard never touches a placed order; placed orders are only ever cancelled.
// The number of a discarded order is retired, since the payment provider may
// already have seen it as an order code.
func (r *Repository) Discard(ctx context.Context, id string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO retired_order_numbers (order_number)
		SELECT order_number FROM orders WHERE id = $1 AND placed_at IS NULL
		ON CONFLICT DO NOTHING`, id)
	if err != nil {
		return fmt.Errorf("postgres: retire number of order %s: %w", id, err)
	}
	ct, err := tx.Exec(ctx, `DELETE FROM orders WHERE id = $1 AND placed_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("postgres: discard order %s: %w", id, err)
	}
	if ct.RowsAffected() == 0 {
		r.log.WarnContext(ctx, "discard found no unplaced order", "order_id", id)
	}
	return tx.Commit(ctx)
}

func (r *Repository) Mutate(ctx context.Context, id string, fn application.MutateFunc) (domain.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return domain.Order{}, domain.Errorf(domain.KindOrderNotFound, "order %s not found", id)
	}
	return r.mutate(ctx, `WHERE o.id = $1 AND o.placed_at IS NOT NULL`, id, fn)
}

func (r *Repository) MutateByProviderCode(ctx context.Context, code string, fn application.MutateFunc) (domain.Order, error) {
	return r.mutate(ctx, `WHERE p.provider_order_code = $1 AND o.placed_at IS NOT NULL`, code, fn)
}

// mutate holds the order row lock for the whole read-modify-write.
func (r *Repository) mutate(ctx context.Context, where string, key string, fn application.MutateFunc) (domain.Order, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Order{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	current, err := loadOne(ctx, tx, where+` FOR UPDATE OF o`, key)
	if err != nil {
		return domain.Order{}, err
	}

	next := current.Clone()
	changed, err := fn(&next)
	if err != nil {
		return domain.Order{}, err
	}
	if !changed {
		return current, tx.Commit(ctx)
	}

	next.Version = current.Version + 1
	if err := writeState(ctx, tx, next, false); err != nil {
		return domain.Order{}, err
	}
	if err := insertEvent(ctx, tx, domain.EventTypeFor(next), next); err != nil {
		return domain.Order{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Order{}, err
	}
	return next, nil
}

func (r *Repository) Get(ctx context.Context, id string) (domain.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return domain.Order{}, domain.Errorf(domain.KindOrderNotFound, "order %s not found", id)
	}
	return loadOne(ctx, r.pool, `WHERE o.id = $1 AND o.placed_at IS NOT NULL`, id)
}

func (r *Repository) GetByNumber(ctx context.Context, number string) (domain.Order, error) {
	return loadOne(ctx, r.pool, `WHERE o.order_number = $1 AND o.placed_at IS NOT NULL`, number)
}

func (r *Repository) ListByUser(ctx context.Context, userID string, q application.ListQuery) (application.Page, error) {
	const where = `WHERE o.user_id = $1 AND o.placed_at IS NOT NULL
		AND ($2::timestamptz IS NULL OR o.created_at >= $2)
		AND ($3::timestamptz IS NULL OR o.created_at <= $3)`
	return r.list(ctx, where, q, userID, q.From, q.To)
}

func (r *Repository) ListByStatus(ctx context.Context, status domain.OrderStatus, q application.ListQuery) (application.Page, error) {
	return r.list(ctx, `WHERE o.status = $1 AND o.placed_at IS NOT NULL`, q, status)
}

func (r *Repository) list(ctx context.Context, where string, q application.ListQuery, args ...any) (application.Page, error) {
	q = q.Normalize()
	page := application.Page{Page: q.Page, Size: q.Size}

	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders o `+where, args...).Scan(&page.Total); err != nil {
		return application.Page{}, fmt.Errorf("postgres: count orders: %w", err)
	}
	if page.Total == 0 {
		return page, nil
	}

	n := len(args)
	sql := fmt.Sprintf(`%s %s ORDER BY o.created_at DESC, o.order_number DESC LIMIT $%d OFFSET $%d`,
		selectOrderColumns, where, n+1, n+2)
	orders, err := loadMany(ctx, r.pool, sql, append(args, q.Size, q.Offset())...)
	if err != nil {
		return application.Page{}, err
	}
	page.Orders = orders
	return page, nil
}

func writeState(ctx context.Context, tx pgx.Tx, o domain.Order, place bool) error {
	placedClause := ""
	if place {
		placedClause = ", placed_at = now()"
	}
	_, err := tx.Exec(ctx, `
		UPDATE orders SET status = $2, notes = $3, version = $4, updated_at = $5, completed_at = $6`+placedClause+`
		WHERE id = $1`,
		o.ID, o.Status, o.Notes, o.Version, o.UpdatedAt, o.CompletedAt)
	if err != nil {
		return fmt.Errorf("postgres: update order %s: %w", o.ID, err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE payment_infos
		SET status = $2, transaction_id = $3, payment_link_id = $4, checkout_url = $5,
		    provider_order_code = NULLIF($6, ''), payment_date = $7
		WHERE order_id = $1`,
		o.ID, o.Payment.Status, o.Payment.TransactionID, o.Payment.PaymentLinkID, o.Payment.CheckoutURL,
		o.Payment.ProviderOrderCode, o.Payment.PaymentDate)
	if err != nil {
		return fmt.Errorf("postgres: update payment info %s: %w", o.ID, err)
	}
	return nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, eventType string, o domain.Order) error {
	payload, err := json.Marshal(domain.NewOrderEvent(o, time.Now().UTC()))
	if err != nil {
		return err
	}
	headers := map[string]string{"order_number": o.OrderNumber, "source": "order-service"}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, headers, traceparent, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending')`,
		aggregateType, o.ID, eventType, payload, headers, tracing.Traceparent(ctx))
	if err != nil {
		return fmt.Errorf("postgres: insert outbox event: %w", err)
	}
	return nil
}

func loadOne(ctx context.Context, q querier, where string, arg any) (domain.Order, error) {
	orders, err := loadMany(ctx, q, selectOrderColumns+" "+where, arg)
	if err != nil {
		return domain.Order{}, err
	}
	if len(orders) == 0 {
		return domain.Order{}, domain.Errorf(domain.KindOrderNotFound, "order %v not found", arg)
	}
	return orders[0], nil
}

func loadMany(ctx context.Context, q querier, sql string, args ...any) ([]domain.Order, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query orders: %w", err)
	}

	var orders []domain.Order
	for rows.Next() {
		var o domain.Order
		err := rows.Scan(
			&o.ID, &o.OrderNumber, &o.UserID, &o.Status, &o.TotalAmount, &o.Notes, &o.Version,
			&o.CreatedAt, &o.UpdatedAt, &o.CompletedAt,
			&o.Shipping.ID, &o.Shipping.Address,
			&o.Payment.ID, &o.Payment.Method, &o.Payment.Status, &o.Payment.TransactionID,
			&o.Payment.PaymentLinkID, &o.Payment.CheckoutURL, &o.Payment.ProviderOrderCode, &o.Payment.PaymentDate,
		)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		orders = append(orders, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: read orders: %w", err)
	}
	if len(orders) == 0 {
		return nil, nil
	}

	if err := loadItems(ctx, q, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func loadItems(ctx context.Context, q querier, orders []domain.Order) error {
	ids := make([]string, 0, len(orders))
	index := make(map[string]int, len(orders))
	for i, o := range orders {
		ids = append(ids, o.ID)
		index[o.ID] = i
	}

	rows, err := q.Query(ctx, `
		SELECT order_id, product_id, product_name, product_image, price, quantity, subtotal
		FROM order_items WHERE order_id = ANY($1::uuid[]) ORDER BY id`, ids)
	if err != nil {
		return fmt.Errorf("postgres: query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID string
			item    domain.OrderItem
		)
		if err := rows.Scan(&orderID, &item.ProductID, &item.ProductName, &item.ProductImage, &item.Price, &item.Quantity, &item.Subtotal); err != nil {
			return fmt.Errorf("postgres: scan order item: %w", err)
		}
		i := index[orderID]
		orders[i].Items = append(orders[i].Items, item)
	}
	return rows.Err()
}
