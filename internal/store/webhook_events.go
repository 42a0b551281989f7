package store

import (
	"context"
	"database/sql"
	"fmt"

	"marketplace-payments/internal/models"
)

// RecordWebhookEvent inserts a ledger row keyed by the processor event
// id. The unique constraint makes the insert the idempotency check:
// false means the event id was already seen. Rows are never deleted.
func (s *Store) RecordWebhookEvent(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_events (processor_event_id, event_type, raw_payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (processor_event_id) DO NOTHING`,
		event.ProcessorEventID, event.EventType, event.RawPayload)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetWebhookEvent retrieves a ledger row.
func (s *Store) GetWebhookEvent(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	err := s.db.GetContext(ctx, &event,
		"SELECT * FROM webhook_events WHERE processor_event_id = $1", eventID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("webhook event %s: %w", eventID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// MarkWebhookApplied stamps applied_at once the full effect has
// committed. An event recorded but never marked applied is re-run on
// the next delivery of the same id.
func (s *Store) MarkWebhookApplied(ctx context.Context, eventID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE webhook_events SET applied_at = NOW()
		WHERE processor_event_id = $1 AND applied_at IS NULL`, eventID)
	return err
}
