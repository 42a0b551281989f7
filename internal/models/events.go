package models

import (
	"encoding/json"
	"time"
)

// ProcessorEventKind enumerates the known processor webhook event
// types. Adding a kind here is a deliberate change; anything else maps
// to ProcessorEventUnknown and is acknowledged without effect.
type ProcessorEventKind int

const (
	ProcessorEventUnknown ProcessorEventKind = iota
	ProcessorEventAuthorizationSucceeded
	ProcessorEventAuthorizationFailed
	ProcessorEventAuthorizationCanceled
	ProcessorEventFundsDisbursed
	ProcessorEventMerchantAccountUpdated
	ProcessorEventDisputeOpened
)

func (k ProcessorEventKind) String() string {
	switch k {
	case ProcessorEventAuthorizationSucceeded:
		return "authorization_succeeded"
	case ProcessorEventAuthorizationFailed:
		return "authorization_failed"
	case ProcessorEventAuthorizationCanceled:
		return "authorization_canceled"
	case ProcessorEventFundsDisbursed:
		return "funds_disbursed"
	case ProcessorEventMerchantAccountUpdated:
		return "merchant_account_updated"
	case ProcessorEventDisputeOpened:
		return "dispute_opened"
	default:
		return "unknown"
	}
}

// ParseProcessorEventKind maps a wire event type to its kind.
func ParseProcessorEventKind(s string) ProcessorEventKind {
	switch s {
	case "authorization_succeeded":
		return ProcessorEventAuthorizationSucceeded
	case "authorization_failed":
		return ProcessorEventAuthorizationFailed
	case "authorization_canceled":
		return ProcessorEventAuthorizationCanceled
	case "funds_disbursed":
		return ProcessorEventFundsDisbursed
	case "merchant_account_updated":
		return ProcessorEventMerchantAccountUpdated
	case "dispute_opened":
		return ProcessorEventDisputeOpened
	default:
		return ProcessorEventUnknown
	}
}

// ProcessorWebhook is the JSON body of an inbound processor callback.
type ProcessorWebhook struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
	Account string          `json:"account,omitempty"`
}

// AuthorizationEventData is the payload of authorization_* events.
type AuthorizationEventData struct {
	AuthorizationID string            `json:"authorization_id"`
	Amount          int64             `json:"amount"`
	Currency        string            `json:"currency"`
	FailureReason   string            `json:"failure_reason,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// DisbursementEventData is the payload of funds_disbursed events.
type DisbursementEventData struct {
	DisbursementID string `json:"disbursement_id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	ArrivalDate    string `json:"arrival_date,omitempty"`
}

// AccountEventData is the payload of merchant_account_updated events.
type AccountEventData struct {
	AccountID        string `json:"account_id"`
	ChargesEnabled   bool   `json:"charges_enabled"`
	PayoutsEnabled   bool   `json:"payouts_enabled"`
	DetailsSubmitted bool   `json:"details_submitted"`
	DisabledReason   string `json:"disabled_reason,omitempty"`
}

// DisputeEventData is the payload of dispute_opened events.
type DisputeEventData struct {
	DisputeID string `json:"dispute_id"`
	ChargeID  string `json:"charge_id"`
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason"`
}

// Order event types published to the notification topic.
const (
	EventTypePaymentReceived     = "PAYMENT_RECEIVED"
	EventTypePaymentFailed       = "PAYMENT_FAILED"
	EventTypePaymentCanceled     = "PAYMENT_CANCELED"
	EventTypeFundsDisbursed      = "FUNDS_DISBURSED"
	EventTypeDisputeOpened       = "DISPUTE_OPENED"
	EventTypeOrderConfirmed      = "ORDER_CONFIRMED"
	EventTypeOrderPreparing      = "ORDER_PREPARING"
	EventTypeOrderReady          = "ORDER_READY"
	EventTypeOrderOutForDelivery = "ORDER_OUT_FOR_DELIVERY"
	EventTypeOrderDelivered      = "ORDER_DELIVERED"
	EventTypeOrderCancelled      = "ORDER_CANCELLED"
)

// BaseEvent contains common fields for all published events.
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderEvent is published to Kafka on every order transition or
// payment effect; the notification worker consumes it for push
// delivery. Notification rows are already persisted by then.
type OrderEvent struct {
	BaseEvent
	OrderID         string   `json:"order_id"`
	MerchantID      string   `json:"merchant_id,omitempty"`
	BuyerID         string   `json:"buyer_id,omitempty"`
	CourierID       string   `json:"courier_id,omitempty"`
	Status          string   `json:"status,omitempty"`
	PaymentStatus   string   `json:"payment_status,omitempty"`
	Reason          string   `json:"reason,omitempty"`
	Title           string   `json:"title,omitempty"`
	Body            string   `json:"body,omitempty"`
	NotificationIDs []string `json:"notification_ids,omitempty"`
	RecipientIDs    []string `json:"recipient_ids,omitempty"`
}
