package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"marketplace-payments/internal/models"
	"marketplace-payments/internal/util"
)

// Notifier fans an order event out to its recipients: one persisted
// Notification row per recipient, plus a Kafka message the push worker
// consumes. Row persistence is part of the triggering transition; push
// delivery is best-effort and never reaches back into the caller.
type Notifier struct {
	store      NotificationStore
	publisher  EventPublisher
	operatorID string
	logger     *zap.Logger
}

// NewNotifier creates a new notifier
func NewNotifier(store NotificationStore, publisher EventPublisher, operatorID string) *Notifier {
	return &Notifier{
		store:      store,
		publisher:  publisher,
		operatorID: operatorID,
		logger:     util.GetLogger(),
	}
}

type recipient struct {
	id   string
	role string
}

type template struct {
	title string
	body  func(orderID, reason string) string
}

var templates = map[string]template{
	models.EventTypePaymentReceived: {
		title: "Payment confirmed",
		body: func(orderID, _ string) string {
			return fmt.Sprintf("Payment for order #%s was confirmed", orderID)
		},
	},
	models.EventTypePaymentFailed: {
		title: "Payment failed",
		body: func(orderID, reason string) string {
			if reason == "" {
				return fmt.Sprintf("Payment for order #%s failed", orderID)
			}
			return fmt.Sprintf("Payment for order #%s failed: %s", orderID, reason)
		},
	},
	models.EventTypePaymentCanceled: {
		title: "Payment canceled",
		body: func(orderID, _ string) string {
			return fmt.Sprintf("Payment for order #%s was canceled", orderID)
		},
	},
	models.EventTypeFundsDisbursed: {
		title: "Funds disbursed",
		body: func(_, reason string) string {
			if reason == "" {
				return "A payout has been sent to your account"
			}
			return reason
		},
	},
	models.EventTypeDisputeOpened: {
		title: "Dispute opened",
		body: func(orderID, reason string) string {
			return fmt.Sprintf("A dispute was opened (%s); manual review required", reason)
		},
	},
	models.EventTypeOrderConfirmed: {
		title: "Order confirmed",
		body: func(orderID, _ string) string {
			return fmt.Sprintf("Your order #%s was confirmed by the merchant", orderID)
		},
	},
	models.EventTypeOrderPreparing: {
		title: "Order in preparation",
		body: func(orderID, _ string) string {
			return fmt.Sprintf("Your order #%s is being prepared", orderID)
		},
	},
	models.EventTypeOrderReady: {
		title: "Order ready",
		body: func(orderID, _ string) string {
			return fmt.Sprintf("Your order #%s is ready for delivery", orderID)
		},
	},
	models.EventTypeOrderOutForDelivery: {
		title: "Out for delivery",
		body: func(orderID, _ string) string {
			return fmt.Sprintf("Your order #%s is out for delivery", orderID)
		},
	},
	models.EventTypeOrderDelivered: {
		title: "Order delivered",
		body: func(orderID, _ string) string {
			return fmt.Sprintf("Your order #%s was delivered", orderID)
		},
	},
	models.EventTypeOrderCancelled: {
		title: "Order cancelled",
		body: func(orderID, reason string) string {
			if reason == "" {
				return fmt.Sprintf("Your order #%s was cancelled", orderID)
			}
			return fmt.Sprintf("Your order #%s was cancelled: %s", orderID, reason)
		},
	},
}

// recipientsFor resolves who gets notified for an event kind.
func (n *Notifier) recipientsFor(eventType string, order *models.Order) []recipient {
	switch eventType {
	case models.EventTypePaymentReceived, models.EventTypePaymentFailed, models.EventTypePaymentCanceled:
		return []recipient{
			{id: order.BuyerID, role: models.RoleBuyer},
			{id: order.MerchantID, role: models.RoleMerchant},
		}
	case models.EventTypeFundsDisbursed:
		return []recipient{{id: order.MerchantID, role: models.RoleMerchant}}
	case models.EventTypeDisputeOpened:
		return []recipient{{id: n.operatorID, role: models.RoleOperator}}
	default:
		return []recipient{{id: order.BuyerID, role: models.RoleBuyer}}
	}
}

// Dispatch persists one Notification row per recipient and publishes
// the event for push delivery. Returns an error only when row
// persistence fails, so a webhook effect can be retried; the Kafka
// publish is logged on failure, never surfaced.
func (n *Notifier) Dispatch(ctx context.Context, eventType string, order *models.Order, reason string) error {
	tmpl, ok := templates[eventType]
	if !ok {
		n.logger.Warn("No template for event type", zap.String("type", eventType))
		return nil
	}

	body := tmpl.body(order.ID, reason)
	recipients := n.recipientsFor(eventType, order)

	notificationIDs := make([]string, 0, len(recipients))
	recipientIDs := make([]string, 0, len(recipients))
	for _, r := range recipients {
		row := &models.Notification{
			ID:            uuid.New().String(),
			RecipientID:   r.id,
			RecipientRole: r.role,
			OrderID:       sql.NullString{String: order.ID, Valid: true},
			Type:          eventType,
			Title:         tmpl.title,
			Body:          body,
		}
		if err := n.store.CreateNotification(ctx, row); err != nil {
			return fmt.Errorf("failed to persist notification: %w", err)
		}
		util.NotificationsCreatedTotal.Inc()
		notificationIDs = append(notificationIDs, row.ID)
		recipientIDs = append(recipientIDs, r.id)
	}

	event := &models.OrderEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: eventType,
			Timestamp: time.Now(),
		},
		OrderID:         order.ID,
		MerchantID:      order.MerchantID,
		BuyerID:         order.BuyerID,
		CourierID:       order.CourierID.String,
		Status:          order.Status,
		PaymentStatus:   order.PaymentStatus,
		Reason:          reason,
		Title:           tmpl.title,
		Body:            body,
		NotificationIDs: notificationIDs,
		RecipientIDs:    recipientIDs,
	}
	if err := n.publisher.PublishOrderEvent(ctx, event); err != nil {
		n.logger.Error("Failed to publish order event",
			zap.String("order_id", order.ID),
			zap.String("type", eventType),
			zap.Error(err))
	}

	return nil
}

// DispatchPayout notifies a merchant that funds were disbursed to
// their sub-account. Payouts are not tied to a single order.
func (n *Notifier) DispatchPayout(ctx context.Context, merchantID string, amount int64, currency string) error {
	tmpl := templates[models.EventTypeFundsDisbursed]
	row := &models.Notification{
		ID:            uuid.New().String(),
		RecipientID:   merchantID,
		RecipientRole: models.RoleMerchant,
		Type:          models.EventTypeFundsDisbursed,
		Title:         tmpl.title,
		Body:          fmt.Sprintf("A payout of %d %s was sent to your account", amount, currency),
	}
	if err := n.store.CreateNotification(ctx, row); err != nil {
		return fmt.Errorf("failed to persist payout notification: %w", err)
	}
	util.NotificationsCreatedTotal.Inc()

	event := &models.OrderEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeFundsDisbursed,
			Timestamp: time.Now(),
		},
		MerchantID:      merchantID,
		Title:           row.Title,
		Body:            row.Body,
		NotificationIDs: []string{row.ID},
		RecipientIDs:    []string{merchantID},
	}
	if err := n.publisher.PublishOrderEvent(ctx, event); err != nil {
		n.logger.Error("Failed to publish payout event", zap.Error(err))
	}
	return nil
}

// DispatchDispute notifies the platform operator about a dispute that
// is not tied to a resolvable order.
func (n *Notifier) DispatchDispute(ctx context.Context, chargeID, reason string) error {
	tmpl := templates[models.EventTypeDisputeOpened]
	row := &models.Notification{
		ID:            uuid.New().String(),
		RecipientID:   n.operatorID,
		RecipientRole: models.RoleOperator,
		Type:          models.EventTypeDisputeOpened,
		Title:         tmpl.title,
		Body:          fmt.Sprintf("A dispute was opened for charge %s: %s", chargeID, reason),
	}
	if err := n.store.CreateNotification(ctx, row); err != nil {
		return fmt.Errorf("failed to persist dispute notification: %w", err)
	}
	util.NotificationsCreatedTotal.Inc()

	event := &models.OrderEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeDisputeOpened,
			Timestamp: time.Now(),
		},
		Reason:          reason,
		Title:           row.Title,
		Body:            row.Body,
		NotificationIDs: []string{row.ID},
		RecipientIDs:    []string{n.operatorID},
	}
	if err := n.publisher.PublishOrderEvent(ctx, event); err != nil {
		n.logger.Error("Failed to publish dispute event", zap.Error(err))
	}
	return nil
}
