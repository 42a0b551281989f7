package store

import (
	"context"
	"database/sql"
	"fmt"

	"marketplace-payments/internal/models"
)

// CreateOrder creates a new order in pending_payment.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (id, buyer_id, merchant_id, status, payment_status, amount_gross)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`

	row := s.db.QueryRowxContext(ctx, query,
		order.ID, order.BuyerID, order.MerchantID, order.Status, order.PaymentStatus, order.AmountGross)
	return row.Scan(&order.CreatedAt, &order.UpdatedAt)
}

// GetOrderByID retrieves an order by ID.
func (s *Store) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// SetPaymentIntent records the intent and fee split on an order,
// guarded so a second writer cannot attach a different intent. Returns
// false when the order already carries an intent id.
func (s *Store) SetPaymentIntent(ctx context.Context, orderID, intentID string, platformFee, merchantNet int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET payment_intent_id = $1, platform_fee = $2, merchant_net = $3,
		    payment_status = $4, updated_at = NOW()
		WHERE id = $5 AND payment_intent_id IS NULL`,
		intentID, platformFee, merchantNet, models.PaymentStatusPending, orderID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// UpdateOrderStatus conditionally advances the order status. The write
// is keyed on the expected current status so concurrent transitions
// cannot silently overwrite each other; false means the precondition
// no longer held.
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID, expected, next string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`,
		next, orderID, expected)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// AssignCourier advances ready -> out_for_delivery and pins the
// courier. The courier id is immutable once set.
func (s *Store) AssignCourier(ctx context.Context, orderID, courierID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET status = $1, courier_id = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4 AND courier_id IS NULL`,
		models.OrderStatusOutForDelivery, courierID, orderID, models.OrderStatusReady)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkDelivered advances out_for_delivery -> delivered and stamps
// delivered_at.
func (s *Store) MarkDelivered(ctx context.Context, orderID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET status = $1, delivered_at = NOW(), updated_at = NOW()
		WHERE id = $2 AND status = $3`,
		models.OrderStatusDelivered, orderID, models.OrderStatusOutForDelivery)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// UpdatePaymentStatus conditionally moves the payment status. Keyed on
// the expected current value; terminal statuses stay put because the
// reconciler never passes a terminal status as expected.
func (s *Store) UpdatePaymentStatus(ctx context.Context, orderID, expected, next string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET payment_status = $1, updated_at = NOW()
		WHERE id = $2 AND payment_status = $3`,
		next, orderID, expected)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetOrderByIntentID looks an order up by its payment intent.
func (s *Store) GetOrderByIntentID(ctx context.Context, intentID string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE payment_intent_id = $1", intentID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("intent %s: %w", intentID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrdersByBuyerID retrieves orders for a buyer.
func (s *Store) GetOrdersByBuyerID(ctx context.Context, buyerID string) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE buyer_id = $1 ORDER BY created_at DESC", buyerID)
	return orders, err
}
