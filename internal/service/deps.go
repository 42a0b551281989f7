package service

import (
	"context"
	"time"

	"marketplace-payments/internal/models"
	"marketplace-payments/internal/processor"
)

// Store interfaces consumed by the services. *store.Store satisfies
// all of them.

type OrderStore interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetOrderByIntentID(ctx context.Context, intentID string) (*models.Order, error)
	GetOrdersByBuyerID(ctx context.Context, buyerID string) ([]models.Order, error)
	SetPaymentIntent(ctx context.Context, orderID, intentID string, platformFee, merchantNet int64) (bool, error)
	UpdateOrderStatus(ctx context.Context, orderID, expected, next string) (bool, error)
	AssignCourier(ctx context.Context, orderID, courierID string) (bool, error)
	MarkDelivered(ctx context.Context, orderID string) (bool, error)
	UpdatePaymentStatus(ctx context.Context, orderID, expected, next string) (bool, error)
}

type CredentialStore interface {
	GetActiveCredential(ctx context.Context, merchantID string) (*models.MerchantCredential, error)
	GetCredentialByAccountID(ctx context.Context, accountID string) (*models.MerchantCredential, error)
	SaveCredential(ctx context.Context, cred *models.MerchantCredential) error
	RevokeCredential(ctx context.Context, merchantID string) (bool, error)
	SetCredentialVerification(ctx context.Context, accountID string, verified bool) (bool, error)
}

type WebhookLedger interface {
	RecordWebhookEvent(ctx context.Context, event *models.WebhookEvent) (bool, error)
	GetWebhookEvent(ctx context.Context, eventID string) (*models.WebhookEvent, error)
	MarkWebhookApplied(ctx context.Context, eventID string) error
}

type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
}

// OrderLocker is the optional per-order advisory lock in front of the
// conditional DB write. The write stays authoritative.
type OrderLocker interface {
	AcquireOrderLock(ctx context.Context, orderID string, ttl time.Duration) (bool, error)
	ReleaseOrderLock(ctx context.Context, orderID string) error
}

// EventPublisher publishes order events for the notification worker.
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event *models.OrderEvent) error
}

// ClientFactory builds a processor client from decrypted merchant
// credentials. Indirection point for tests.
type ClientFactory func(accountID, secretKey string) processor.API
