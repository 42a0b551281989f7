package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"marketplace-payments/internal/broker"
	"marketplace-payments/internal/models"
	"marketplace-payments/internal/push"
	"marketplace-payments/internal/redisclient"
	"marketplace-payments/internal/util"
)

// NotificationWorker consumes order events and attempts push delivery
// to each recipient. Delivery is best-effort: failures are logged, and
// a permanent transport failure deactivates the subscription.
type NotificationWorker struct {
	consumer      *broker.Consumer
	eventHandler  *broker.OrderEventHandler
	subscriptions *redisclient.Client
	transport     push.Transport
	logger        *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(
	consumer *broker.Consumer,
	subscriptions *redisclient.Client,
	transport push.Transport,
) *NotificationWorker {
	w := &NotificationWorker{
		consumer:      consumer,
		subscriptions: subscriptions,
		transport:     transport,
		logger:        util.GetLogger(),
	}

	eventHandler := broker.NewOrderEventHandler()
	eventHandler.OnOrderEvent(w.handleOrderEvent)
	w.eventHandler = eventHandler

	return w
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}

// handleOrderEvent pushes one event to every recipient that has an
// active subscription.
func (w *NotificationWorker) handleOrderEvent(ctx context.Context, event *models.OrderEvent) error {
	payload := &push.Payload{
		Title: event.Title,
		Body:  event.Body,
		Tag:   event.OrderID,
		Data: map[string]string{
			"order_id": event.OrderID,
			"type":     event.EventType,
		},
	}

	for _, recipientID := range event.RecipientIDs {
		sub, err := w.subscriptions.GetSubscription(ctx, recipientID)
		if err != nil {
			w.logger.Warn("Failed to load push subscription",
				zap.String("recipient_id", recipientID),
				zap.Error(err))
			continue
		}
		if sub == nil {
			continue
		}

		if err := w.transport.Send(ctx, sub, payload); err != nil {
			var permanent *push.PermanentError
			if errors.As(err, &permanent) {
				util.PushFailedTotal.WithLabelValues("true").Inc()
				w.logger.Info("Deactivating dead push subscription",
					zap.String("recipient_id", recipientID),
					zap.Int("status", permanent.StatusCode))
				if err := w.subscriptions.DeactivateSubscription(ctx, recipientID); err != nil {
					w.logger.Warn("Failed to deactivate subscription", zap.Error(err))
				}
			} else {
				util.PushFailedTotal.WithLabelValues("false").Inc()
				w.logger.Warn("Push delivery failed",
					zap.String("recipient_id", recipientID),
					zap.Error(err))
			}
			continue
		}
		util.PushDeliveredTotal.Inc()
	}

	return nil
}
