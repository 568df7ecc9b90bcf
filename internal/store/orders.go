package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront-orders/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const orderColumns = `id, order_number, customer_id, email, customer_name, status, payment_status,
	payment_method, shipping_method, shipping_address, billing_address, coupon_code, gift_card_code,
	subtotal, discount, tax, shipping_cost, total, refunded_amount, currency, carrier, tracking_number, customer_notes,
	idempotency_key, metadata, version, created_at, updated_at`

const itemColumns = `id, order_id, product_id, variant_id, sku, name, quantity, cancelled_quantity, unit_price, subtotal`

// Transition is a conditional write of a new order state plus its history entry
type Transition struct {
	// Order carries the projected state; its Version is bumped on success
	Order           *models.Order
	ExpectedVersion int
	Entry           models.StatusHistoryEntry
	// EventID deduplicates externally triggered transitions when set
	EventID   string
	EventType string
}

// CreateOrder persists an order with its items and first history entry in one transaction
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if order.Version == 0 {
		order.Version = 1
	}

	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES (:id, :order_number, :customer_id, :email, :customer_name, :status, :payment_status,
			:payment_method, :shipping_method, :shipping_address, :billing_address, :coupon_code, :gift_card_code,
			:subtotal, :discount, :tax, :shipping_cost, :total, :refunded_amount, :currency, :carrier, :tracking_number, :customer_notes,
			:idempotency_key, :metadata, :version, :created_at, :updated_at)`

	if _, err := tx.NamedExecContext(ctx, query, order); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == "orders_idempotency_key_key" {
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i := range order.Items {
		order.Items[i].OrderID = order.ID
		_, err := tx.NamedExecContext(ctx,
			`INSERT INTO order_items (`+itemColumns+`)
			 VALUES (:id, :order_id, :product_id, :variant_id, :sku, :name, :quantity, :cancelled_quantity, :unit_price, :subtotal)`,
			&order.Items[i])
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	for i := range order.StatusHistory {
		if err := insertHistory(ctx, tx, &order.StatusHistory[i]); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func insertHistory(ctx context.Context, tx *sqlx.Tx, entry *models.StatusHistoryEntry) error {
	err := tx.GetContext(ctx, &entry.ID,
		`INSERT INTO order_status_history (order_id, status, payment_status, note, items, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		entry.OrderID, entry.Status, entry.PaymentStatus, entry.Note, entry.Items, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert status history: %w", err)
	}
	return nil
}

// GetOrderByID retrieves an order with items and history
func (s *Store) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	return s.getOrder(ctx, "id = $1", id)
}

// GetOrderByNumber retrieves an order by its public order number
func (s *Store) GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	return s.getOrder(ctx, "order_number = $1", orderNumber)
}

// GetOrderByIdempotencyKey retrieves an order by idempotency key
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	return s.getOrder(ctx, "idempotency_key = $1", key)
}

func (s *Store) getOrder(ctx context.Context, cond string, arg interface{}) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE "+cond, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	if err := s.db.SelectContext(ctx, &order.Items,
		"SELECT "+itemColumns+" FROM order_items WHERE order_id = $1 ORDER BY product_id, id", order.ID); err != nil {
		return nil, fmt.Errorf("failed to get order items: %w", err)
	}

	if err := s.db.SelectContext(ctx, &order.StatusHistory,
		`SELECT id, order_id, status, payment_status, note, items, created_at
		 FROM order_status_history WHERE order_id = $1 ORDER BY id`, order.ID); err != nil {
		return nil, fmt.Errorf("failed to get status history: %w", err)
	}

	return &order, nil
}

// ApplyTransition commits t only if the order is still at t.ExpectedVersion
func (s *Store) ApplyTransition(ctx context.Context, t Transition) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if t.EventID != "" {
		res, err := tx.ExecContext(ctx,
			"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
			t.EventID, t.EventType)
		if err != nil {
			return fmt.Errorf("failed to record event: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrDuplicateEvent
		}
	}

	o := t.Order
	res, err := tx.ExecContext(ctx,
		`UPDATE orders
		 SET status = $1, payment_status = $2, carrier = $3, tracking_number = $4,
		     refunded_amount = $5, version = version + 1, updated_at = $6
		 WHERE id = $7 AND version = $8`,
		o.Status, o.PaymentStatus, o.Carrier, o.TrackingNumber, o.RefundedAmount, o.UpdatedAt, o.ID, t.ExpectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}

	for _, item := range o.Items {
		if _, err := tx.ExecContext(ctx,
			"UPDATE order_items SET cancelled_quantity = $1 WHERE id = $2 AND order_id = $3",
			item.CancelledQuantity, item.ID, o.ID); err != nil {
			return fmt.Errorf("failed to update order item: %w", err)
		}
	}

	entry := t.Entry
	entry.OrderID = o.ID
	if err := insertHistory(ctx, tx, &entry); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	o.Version = t.ExpectedVersion + 1
	return nil
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed records an event that required no order change
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
