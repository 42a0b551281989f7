package store

import (
	"context"

	"marketplace-payments/internal/models"
)

// CreateNotification persists one in-app notification row.
func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) error {
	query := `
		INSERT INTO notifications (id, recipient_id, recipient_role, order_id, type, title, body, read)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE)
		RETURNING created_at`

	row := s.db.QueryRowxContext(ctx, query,
		n.ID, n.RecipientID, n.RecipientRole, n.OrderID, n.Type, n.Title, n.Body)
	return row.Scan(&n.CreatedAt)
}

// GetNotificationsByRecipient retrieves notifications for a recipient,
// newest first.
func (s *Store) GetNotificationsByRecipient(ctx context.Context, recipientID string, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var notifications []models.Notification
	err := s.db.SelectContext(ctx, &notifications, `
		SELECT * FROM notifications WHERE recipient_id = $1
		ORDER BY created_at DESC LIMIT $2`, recipientID, limit)
	return notifications, err
}

// MarkNotificationRead flips the read flag. The only mutation allowed
// on notification rows.
func (s *Store) MarkNotificationRead(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET read = TRUE WHERE id = $1", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
