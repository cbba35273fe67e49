package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

const orderColumns = `id, status, total_amount, total_items, paid, paid_at, stripe_charge_id, version, created_at, updated_at`

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

// rowScanner реализуют *sql.Row и *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order    domain.Order
		status   string
		paidAt   sql.NullTime
		chargeID sql.NullString
	)
	if err := row.Scan(
		&order.ID, &status, &order.TotalAmount, &order.TotalItems, &order.Paid,
		&paidAt, &chargeID, &order.Version, &order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	if paidAt.Valid {
		t := paidAt.Time.UTC()
		order.PaidAt = &t
	}
	order.StripeChargeID = chargeID.String
	return order, nil
}

func (r *orderRepository) CreateWithItems(ctx context.Context, order domain.Order) (domain.Order, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = order.CreatedAt

	items := make([]domain.OrderItem, len(order.Items))
	copy(items, order.Items)
	for i := range items {
		if items[i].ID == "" {
			items[i].ID = uuid.NewString()
		}
		if items[i].CreatedAt.IsZero() {
			items[i].CreatedAt = order.CreatedAt
		}
		items[i].Name = ""
	}
	order.Items = items

	err := withTx(ctx, r.db, nil, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO orders (
				id, status, total_amount, total_items, paid, version, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`,
			order.ID, string(order.Status), order.TotalAmount, order.TotalItems,
			order.Paid, order.Version, order.CreatedAt, order.UpdatedAt,
		); err != nil {
			if isUniqueViolation(err) {
				return domain.ErrOrderVersionConflict
			}
			return fmt.Errorf("insert order: %w", err)
		}

		if len(items) == 0 {
			return nil
		}

		// Позиции вставляются одним multi-row INSERT, position хранит порядок из запроса.
		var (
			sb   strings.Builder
			args = make([]any, 0, len(items)*7)
		)
		sb.WriteString(`INSERT INTO order_items (id, order_id, position, product_id, quantity, price, created_at) VALUES `)
		for i, item := range items {
			if i > 0 {
				sb.WriteString(",")
			}
			n := i * 7
			fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d,$%d,$%d)", n+1, n+2, n+3, n+4, n+5, n+6, n+7)
			args = append(args, item.ID, order.ID, i, item.ProductID, item.Quantity, item.Price, item.CreatedAt)
		}
		if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
			return fmt.Errorf("insert order items: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	return order, nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	order, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	if order.Items, err = loadItems(ctx, r.db, order.ID); err != nil {
		return domain.Order{}, err
	}
	if order.Receipt, err = loadReceipt(ctx, r.db, order.ID); err != nil {
		return domain.Order{}, err
	}

	return order, nil
}

func (r *orderRepository) CountByStatus(ctx context.Context, filter domain.OrderFilter) (int, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	var (
		total int
		err   error
	)
	if filter.Status != nil {
		err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE status = $1`, string(*filter.Status)).Scan(&total)
	} else {
		err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`).Scan(&total)
	}
	if err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return total, nil
}

func (r *orderRepository) ListPage(ctx context.Context, filter domain.OrderFilter, offset, limit int) ([]domain.Order, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	if offset < 0 {
		offset = 0
	}

	var (
		rows *sql.Rows
		err  error
	)
	if filter.Status != nil {
		rows, err = r.db.QueryContext(ctx, `
			SELECT `+orderColumns+`
			FROM orders
			WHERE status = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2 OFFSET $3
		`, string(*filter.Status), limit, offset)
	} else {
		rows, err = r.db.QueryContext(ctx, `
			SELECT `+orderColumns+`
			FROM orders
			ORDER BY created_at DESC, id DESC
			LIMIT $1 OFFSET $2
		`, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, limit)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}

	return orders, nil
}

func (r *orderRepository) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) (domain.Order, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $2,
		    version = version + 1,
		    updated_at = $3
		WHERE id = $1
	`, id, string(status), time.Now().UTC())
	if err != nil {
		return domain.Order{}, fmt.Errorf("update order status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Order{}, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.Order{}, domain.ErrOrderNotFound
	}

	return r.Get(ctx, id)
}

// ApplyPayment блокирует строку заказа (FOR UPDATE), поэтому конкурентные
// подтверждения одного заказа выполняются последовательно и чек создаётся один раз.
func (r *orderRepository) ApplyPayment(ctx context.Context, payment domain.PaymentConfirmation) (domain.PaymentOutcome, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	var outcome domain.PaymentOutcome
	err := withTx(ctx, r.db, nil, func(tx *sql.Tx) error {
		var (
			paid   bool
			status string
		)
		err := tx.QueryRowContext(ctx, `SELECT paid, status FROM orders WHERE id = $1 FOR UPDATE`, payment.OrderID).Scan(&paid, &status)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrOrderNotFound
			}
			return fmt.Errorf("lock order: %w", err)
		}
		outcome.Previous = domain.OrderStatus(status)
		if paid {
			return nil
		}

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET paid = TRUE,
			    paid_at = $2,
			    status = $3,
			    stripe_charge_id = $4,
			    version = version + 1,
			    updated_at = $2
			WHERE id = $1
		`, payment.OrderID, now, string(domain.OrderStatusPaid), payment.StripeChargeID); err != nil {
			return fmt.Errorf("mark order paid: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_receipts (id, order_id, receipt_url, created_at)
			VALUES ($1,$2,$3,$4)
		`, uuid.NewString(), payment.OrderID, payment.ReceiptURL, now); err != nil {
			return fmt.Errorf("insert order receipt: %w", err)
		}

		outcome.Applied = true
		return nil
	})
	if err != nil {
		return domain.PaymentOutcome{}, err
	}

	outcome.Order, err = r.Get(ctx, payment.OrderID)
	if err != nil {
		return domain.PaymentOutcome{}, err
	}
	return outcome, nil
}

// queryer реализуют *sql.DB и *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadItems(ctx context.Context, q queryer, orderID string) ([]domain.OrderItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, product_id, quantity, price, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY position ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.ProductID, &item.Quantity, &item.Price, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	return items, nil
}

func loadReceipt(ctx context.Context, q queryer, orderID string) (*domain.OrderReceipt, error) {
	var receipt domain.OrderReceipt
	err := q.QueryRowContext(ctx, `
		SELECT id, order_id, receipt_url, created_at
		FROM order_receipts
		WHERE order_id = $1
	`, orderID).Scan(&receipt.ID, &receipt.OrderID, &receipt.ReceiptURL, &receipt.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load order receipt: %w", err)
	}
	return &receipt, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
