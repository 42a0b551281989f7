package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"marketplace-payments/internal/models"
	"marketplace-payments/internal/processor"
	"marketplace-payments/internal/util"
)

// Reconciler applies processor webhook callbacks to order and payment
// state. Deliveries are at-least-once and may arrive out of causal
// order; the ledger insert dedupes replays, and terminal payment
// states are sticky so late events cannot regress them. appliedAt is
// stamped only after the full effect, which makes a half-applied
// event safely re-runnable on its next delivery.
type Reconciler struct {
	ledger        WebhookLedger
	orders        OrderStore
	credentials   CredentialStore
	stateMachine  *StateMachine
	notifier      *Notifier
	webhookSecret string
	logger        *zap.Logger
}

// NewReconciler creates a new webhook reconciler
func NewReconciler(
	ledger WebhookLedger,
	orders OrderStore,
	credentials CredentialStore,
	stateMachine *StateMachine,
	notifier *Notifier,
	webhookSecret string,
) *Reconciler {
	return &Reconciler{
		ledger:        ledger,
		orders:        orders,
		credentials:   credentials,
		stateMachine:  stateMachine,
		notifier:      notifier,
		webhookSecret: webhookSecret,
		logger:        util.GetLogger(),
	}
}

// HandleWebhook verifies, records, and applies one inbound callback.
// The signature is checked against the raw body before any field is
// parsed. A nil return means the event may be acknowledged with 200;
// signature and parse failures are the only 4xx outcomes.
func (r *Reconciler) HandleWebhook(ctx context.Context, rawBody []byte, signature string) error {
	ctx, span := util.StartSpan(ctx, "Reconciler.HandleWebhook")
	defer span.End()

	start := time.Now()
	defer func() {
		util.WebhookApplyLatency.Observe(time.Since(start).Seconds())
	}()

	if !processor.VerifySignature(rawBody, signature, r.webhookSecret) {
		util.WebhooksInvalidSignatureTotal.Inc()
		return models.ErrSignatureInvalid
	}

	var webhook models.ProcessorWebhook
	if err := json.Unmarshal(rawBody, &webhook); err != nil {
		return fmt.Errorf("malformed webhook body: %w", models.ErrValidation)
	}
	if webhook.ID == "" || webhook.Type == "" {
		return fmt.Errorf("webhook missing id or type: %w", models.ErrValidation)
	}

	kind := models.ParseProcessorEventKind(webhook.Type)
	util.WebhooksReceivedTotal.WithLabelValues(kind.String()).Inc()

	inserted, err := r.ledger.RecordWebhookEvent(ctx, &models.WebhookEvent{
		ProcessorEventID: webhook.ID,
		EventType:        webhook.Type,
		RawPayload:       rawBody,
	})
	if err != nil {
		return fmt.Errorf("failed to record webhook event: %w", err)
	}
	if !inserted {
		existing, err := r.ledger.GetWebhookEvent(ctx, webhook.ID)
		if err != nil {
			return fmt.Errorf("failed to load webhook ledger row: %w", err)
		}
		if existing.AppliedAt.Valid {
			// Replay of a fully applied event: acknowledge and drop.
			util.WebhooksDuplicateTotal.Inc()
			r.logger.Info("Duplicate webhook delivery dropped",
				zap.String("event_id", webhook.ID),
				zap.String("type", webhook.Type))
			return nil
		}
		// Recorded but never finished: re-run the effect from the top.
		r.logger.Warn("Retrying half-applied webhook event",
			zap.String("event_id", webhook.ID),
			zap.String("type", webhook.Type))
	}

	if err := r.apply(ctx, &webhook, kind); err != nil {
		// Leave appliedAt unset; the processor's redelivery retries us.
		return fmt.Errorf("failed to apply webhook %s: %w", webhook.ID, err)
	}

	if err := r.ledger.MarkWebhookApplied(ctx, webhook.ID); err != nil {
		// The effect is idempotent, so a redelivery re-running it is
		// safe; just don't pretend completion was recorded.
		return fmt.Errorf("failed to mark webhook applied: %w", err)
	}
	return nil
}

// apply dispatches on the event kind. Every branch must be idempotent.
func (r *Reconciler) apply(ctx context.Context, webhook *models.ProcessorWebhook, kind models.ProcessorEventKind) error {
	switch kind {
	case models.ProcessorEventAuthorizationSucceeded:
		return r.applyAuthorizationSucceeded(ctx, webhook)
	case models.ProcessorEventAuthorizationFailed:
		return r.applyAuthorizationFailed(ctx, webhook)
	case models.ProcessorEventAuthorizationCanceled:
		return r.applyAuthorizationCanceled(ctx, webhook)
	case models.ProcessorEventFundsDisbursed:
		return r.applyFundsDisbursed(ctx, webhook)
	case models.ProcessorEventMerchantAccountUpdated:
		return r.applyAccountUpdated(ctx, webhook)
	case models.ProcessorEventDisputeOpened:
		return r.applyDisputeOpened(ctx, webhook)
	default:
		// Unknown kinds are acknowledged so the processor stops
		// retrying; logged for forward compatibility.
		r.logger.Warn("Unknown webhook event type acknowledged",
			zap.String("event_id", webhook.ID),
			zap.String("type", webhook.Type))
		return nil
	}
}

// orderForAuthorization resolves the order an authorization event
// belongs to via its metadata.
func (r *Reconciler) orderForAuthorization(ctx context.Context, webhook *models.ProcessorWebhook) (*models.Order, *models.AuthorizationEventData, error) {
	var data models.AuthorizationEventData
	if err := json.Unmarshal(webhook.Data, &data); err != nil {
		return nil, nil, fmt.Errorf("malformed authorization event data: %w", models.ErrValidation)
	}
	orderID := data.Metadata["order_id"]
	if orderID == "" {
		// Older authorizations lack the metadata tag; fall back to the
		// intent id recorded on the order.
		if data.AuthorizationID == "" {
			r.logger.Warn("Authorization event without order_id metadata",
				zap.String("event_id", webhook.ID))
			return nil, &data, nil
		}
		order, err := r.orders.GetOrderByIntentID(ctx, data.AuthorizationID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				r.logger.Warn("Authorization event matches no order",
					zap.String("event_id", webhook.ID),
					zap.String("authorization_id", data.AuthorizationID))
				return nil, &data, nil
			}
			return nil, nil, err
		}
		return order, &data, nil
	}
	order, err := r.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			r.logger.Warn("Authorization event for unknown order",
				zap.String("event_id", webhook.ID),
				zap.String("order_id", orderID))
			return nil, &data, nil
		}
		return nil, nil, err
	}
	return order, &data, nil
}

// movePaymentStatus applies the sticky partial order: a terminal
// payment status is never regressed, and a write that loses a race is
// re-evaluated once against fresh state.
func (r *Reconciler) movePaymentStatus(ctx context.Context, order *models.Order, next string) (bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		if order.PaymentStatus == next {
			// Effect already applied (retried delivery).
			return true, nil
		}
		if models.TerminalPaymentStatus(order.PaymentStatus) {
			util.WebhooksStaleTotal.Inc()
			r.logger.Info("Ignoring stale payment event",
				zap.String("order_id", order.ID),
				zap.String("current", order.PaymentStatus),
				zap.String("requested", next))
			return false, nil
		}
		applied, err := r.orders.UpdatePaymentStatus(ctx, order.ID, order.PaymentStatus, next)
		if err != nil {
			return false, err
		}
		if applied {
			order.PaymentStatus = next
			return true, nil
		}
		fresh, err := r.orders.GetOrderByID(ctx, order.ID)
		if err != nil {
			return false, err
		}
		*order = *fresh
	}
	return false, fmt.Errorf("payment status write kept conflicting for order %s: %w", order.ID, models.ErrPersistenceConflict)
}

func (r *Reconciler) applyAuthorizationSucceeded(ctx context.Context, webhook *models.ProcessorWebhook) error {
	order, _, err := r.orderForAuthorization(ctx, webhook)
	if err != nil || order == nil {
		return err
	}

	moved, err := r.movePaymentStatus(ctx, order, models.PaymentStatusPaid)
	if err != nil {
		return err
	}
	if !moved {
		return nil
	}

	if order.Status == models.OrderStatusPendingPayment {
		applied, err := r.stateMachine.SystemAdvance(ctx, order, models.OrderStatusConfirmed)
		if err != nil {
			return err
		}
		if applied {
			order.Status = models.OrderStatusConfirmed
		}
	}

	return r.notifier.Dispatch(ctx, models.EventTypePaymentReceived, order, "")
}

func (r *Reconciler) applyAuthorizationFailed(ctx context.Context, webhook *models.ProcessorWebhook) error {
	order, data, err := r.orderForAuthorization(ctx, webhook)
	if err != nil || order == nil {
		return err
	}

	moved, err := r.movePaymentStatus(ctx, order, models.PaymentStatusFailed)
	if err != nil {
		return err
	}
	if !moved {
		return nil
	}

	return r.notifier.Dispatch(ctx, models.EventTypePaymentFailed, order, data.FailureReason)
}

func (r *Reconciler) applyAuthorizationCanceled(ctx context.Context, webhook *models.ProcessorWebhook) error {
	order, _, err := r.orderForAuthorization(ctx, webhook)
	if err != nil || order == nil {
		return err
	}

	moved, err := r.movePaymentStatus(ctx, order, models.PaymentStatusCanceled)
	if err != nil {
		return err
	}
	if !moved {
		return nil
	}

	// The cancel write is retried once against fresh state, same as the
	// payment-status writes.
	for attempt := 0; attempt < 2 && !models.TerminalOrderStatus(order.Status); attempt++ {
		applied, err := r.orders.UpdateOrderStatus(ctx, order.ID, order.Status, models.OrderStatusCancelled)
		if err != nil {
			return err
		}
		if applied {
			order.Status = models.OrderStatusCancelled
			util.TransitionsTotal.WithLabelValues(models.OrderStatusCancelled).Inc()
			break
		}
		fresh, err := r.orders.GetOrderByID(ctx, order.ID)
		if err != nil {
			return err
		}
		order.Status = fresh.Status
	}

	return r.notifier.Dispatch(ctx, models.EventTypePaymentCanceled, order, "")
}

func (r *Reconciler) applyFundsDisbursed(ctx context.Context, webhook *models.ProcessorWebhook) error {
	var data models.DisbursementEventData
	if err := json.Unmarshal(webhook.Data, &data); err != nil {
		return fmt.Errorf("malformed disbursement event data: %w", models.ErrValidation)
	}
	cred, err := r.credentials.GetCredentialByAccountID(ctx, webhook.Account)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			r.logger.Warn("Disbursement for unknown account",
				zap.String("event_id", webhook.ID),
				zap.String("account", webhook.Account))
			return nil
		}
		return err
	}
	return r.notifier.DispatchPayout(ctx, cred.MerchantID, data.Amount, data.Currency)
}

func (r *Reconciler) applyAccountUpdated(ctx context.Context, webhook *models.ProcessorWebhook) error {
	var data models.AccountEventData
	if err := json.Unmarshal(webhook.Data, &data); err != nil {
		return fmt.Errorf("malformed account event data: %w", models.ErrValidation)
	}
	accountID := data.AccountID
	if accountID == "" {
		accountID = webhook.Account
	}
	verified := data.ChargesEnabled && data.DetailsSubmitted
	updated, err := r.credentials.SetCredentialVerification(ctx, accountID, verified)
	if err != nil {
		return err
	}
	if !updated {
		r.logger.Warn("Account update for unknown account",
			zap.String("event_id", webhook.ID),
			zap.String("account", accountID))
	}
	return nil
}

func (r *Reconciler) applyDisputeOpened(ctx context.Context, webhook *models.ProcessorWebhook) error {
	var data models.DisputeEventData
	if err := json.Unmarshal(webhook.Data, &data); err != nil {
		return fmt.Errorf("malformed dispute event data: %w", models.ErrValidation)
	}
	// No automatic status change; a human decides.
	return r.notifier.DispatchDispute(ctx, data.ChargeID, data.Reason)
}
