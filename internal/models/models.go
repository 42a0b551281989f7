package models

import (
	"database/sql"
	"time"
)

// Order statuses
const (
	OrderStatusPendingPayment = "pending_payment"
	OrderStatusConfirmed      = "confirmed"
	OrderStatusPreparing      = "preparing"
	OrderStatusReady          = "ready"
	OrderStatusOutForDelivery = "out_for_delivery"
	OrderStatusDelivered      = "delivered"
	OrderStatusCancelled      = "cancelled"
)

// Payment statuses
const (
	PaymentStatusNone     = "none"
	PaymentStatusPending  = "pending"
	PaymentStatusPaid     = "paid"
	PaymentStatusFailed   = "failed"
	PaymentStatusCanceled = "canceled"
	PaymentStatusRefunded = "refunded"
)

// Actor roles
const (
	RoleBuyer    = "buyer"
	RoleMerchant = "merchant"
	RoleCourier  = "courier"
	RoleSystem   = "system"
	RoleOperator = "operator"
)

// Order represents a marketplace order. Amounts are in the smallest
// currency unit. PaymentIntentID is set at most once.
type Order struct {
	ID              string         `db:"id" json:"id"`
	BuyerID         string         `db:"buyer_id" json:"buyer_id"`
	MerchantID      string         `db:"merchant_id" json:"merchant_id"`
	Status          string         `db:"status" json:"status"`
	AmountGross     int64          `db:"amount_gross" json:"amount_gross"`
	PlatformFee     int64          `db:"platform_fee" json:"platform_fee"`
	MerchantNet     int64          `db:"merchant_net" json:"merchant_net"`
	PaymentIntentID sql.NullString `db:"payment_intent_id" json:"payment_intent_id,omitempty"`
	PaymentStatus   string         `db:"payment_status" json:"payment_status"`
	CourierID       sql.NullString `db:"courier_id" json:"courier_id,omitempty"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
	DeliveredAt     sql.NullTime   `db:"delivered_at" json:"delivered_at,omitempty"`
}

// TerminalPaymentStatus reports whether a payment status is sticky:
// once reached, later events must not regress it.
func TerminalPaymentStatus(status string) bool {
	switch status {
	case PaymentStatusPaid, PaymentStatusFailed, PaymentStatusCanceled, PaymentStatusRefunded:
		return true
	}
	return false
}

// TerminalOrderStatus reports whether no further transition is allowed.
func TerminalOrderStatus(status string) bool {
	return status == OrderStatusDelivered || status == OrderStatusCancelled
}

// MerchantCredential holds a merchant's processor sub-account keys.
// SecretKeySealed is encrypted at rest and never leaves the store in
// plaintext except to the processor-client constructor.
type MerchantCredential struct {
	MerchantID      string    `db:"merchant_id" json:"merchant_id"`
	PublicKey       string    `db:"public_key" json:"public_key"`
	SecretKeySealed []byte    `db:"secret_key_sealed" json:"-"`
	AccountID       string    `db:"account_id" json:"account_id"`
	IsVerified      bool      `db:"is_verified" json:"is_verified"`
	IsActive        bool      `db:"is_active" json:"is_active"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// WebhookEvent is the append-only ledger of processor callbacks.
// ProcessorEventID is the idempotency key; AppliedAt is set only after
// the full effect committed, so a retried delivery re-runs the effect.
type WebhookEvent struct {
	ProcessorEventID string       `db:"processor_event_id" json:"processor_event_id"`
	EventType        string       `db:"event_type" json:"event_type"`
	RawPayload       []byte       `db:"raw_payload" json:"-"`
	ReceivedAt       time.Time    `db:"received_at" json:"received_at"`
	AppliedAt        sql.NullTime `db:"applied_at" json:"applied_at,omitempty"`
}

// Notification is a persisted in-app message. Rows are append-only;
// only the Read flag is ever mutated.
type Notification struct {
	ID            string         `db:"id" json:"id"`
	RecipientID   string         `db:"recipient_id" json:"recipient_id"`
	RecipientRole string         `db:"recipient_role" json:"recipient_role"`
	OrderID       sql.NullString `db:"order_id" json:"order_id,omitempty"`
	Type          string         `db:"type" json:"type"`
	Title         string         `db:"title" json:"title"`
	Body          string         `db:"body" json:"body"`
	Read          bool           `db:"read" json:"read"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
}

// PushSubscription is a Web Push endpoint for one user, replaced
// wholesale on re-subscribe.
type PushSubscription struct {
	UserID    string    `json:"user_id"`
	Endpoint  string    `json:"endpoint"`
	P256dh    string    `json:"p256dh"`
	Auth      string    `json:"auth"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}
