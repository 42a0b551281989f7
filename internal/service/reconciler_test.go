package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-payments/internal/models"
	"marketplace-payments/internal/processor"
)

const testWebhookSecret = "whsec_test_secret"

type reconcilerFixture struct {
	reconciler *Reconciler
	ledger     *fakeWebhookLedger
	orders     *fakeOrderStore
	creds      *fakeCredentialStore
	notifStore *fakeNotificationStore
	publisher  *fakePublisher
}

func newReconcilerFixture() *reconcilerFixture {
	ledger := newFakeWebhookLedger()
	orders := newFakeOrderStore()
	creds := newFakeCredentialStore()
	notifStore := &fakeNotificationStore{}
	publisher := &fakePublisher{}
	notifier := NewNotifier(notifStore, publisher, "platform-ops")
	sm := NewStateMachine(orders, nil, notifier, 1)
	return &reconcilerFixture{
		reconciler: NewReconciler(ledger, orders, creds, sm, notifier, testWebhookSecret),
		ledger:     ledger,
		orders:     orders,
		creds:      creds,
		notifStore: notifStore,
		publisher:  publisher,
	}
}

func (f *reconcilerFixture) deliver(t *testing.T, body []byte) error {
	t.Helper()
	return f.reconciler.HandleWebhook(context.Background(), body, processor.Sign(body, testWebhookSecret))
}

func authorizationBody(eventID, eventType, orderID, failureReason string) []byte {
	return []byte(fmt.Sprintf(
		`{"id":%q,"type":%q,"data":{"authorization_id":"pi_test_1","amount":5000,"currency":"brl","failure_reason":%q,"metadata":{"order_id":%q}}}`,
		eventID, eventType, failureReason, orderID))
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newReconcilerFixture()
	f.orders.put(testOrder(models.OrderStatusPendingPayment))

	body := authorizationBody("evt_1", "authorization_succeeded", "order-1", "")

	err := f.reconciler.HandleWebhook(context.Background(), body, "sha256=deadbeef")
	assert.ErrorIs(t, err, models.ErrSignatureInvalid)

	err = f.reconciler.HandleWebhook(context.Background(), body, "")
	assert.ErrorIs(t, err, models.ErrSignatureInvalid)

	// Nothing was recorded or changed.
	assert.Empty(t, f.ledger.events)
	stored, _ := f.orders.GetOrderByID(context.Background(), "order-1")
	assert.Equal(t, models.PaymentStatusPaid, stored.PaymentStatus)
	assert.Empty(t, f.notifStore.rows)
}

func TestWebhookRejectsMalformedBody(t *testing.T) {
	f := newReconcilerFixture()

	body := []byte(`{"id":`)
	err := f.deliver(t, body)
	assert.ErrorIs(t, err, models.ErrValidation)

	body = []byte(`{"id":"","type":""}`)
	err = f.deliver(t, body)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestAuthorizationSucceededConfirmsOrder(t *testing.T) {
	f := newReconcilerFixture()
	order := testOrder(models.OrderStatusPendingPayment)
	order.PaymentStatus = models.PaymentStatusPending
	f.orders.put(order)

	body := authorizationBody("evt_1", "authorization_succeeded", "order-1", "")
	require.NoError(t, f.deliver(t, body))

	stored, _ := f.orders.GetOrderByID(context.Background(), "order-1")
	assert.Equal(t, models.PaymentStatusPaid, stored.PaymentStatus)
	assert.Equal(t, models.OrderStatusConfirmed, stored.Status)

	// Exactly one row for the buyer and one for the merchant; the
	// confirmed edge itself does not add more.
	rows := f.notifStore.byType(models.EventTypePaymentReceived)
	require.Len(t, rows, 2)
	assert.Len(t, f.notifStore.rows, 2)
	recipients := []string{rows[0].RecipientID, rows[1].RecipientID}
	assert.ElementsMatch(t, []string{"buyer-1", "merchant-1"}, recipients)

	event, err := f.ledger.GetWebhookEvent(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.True(t, event.AppliedAt.Valid)
}

func TestDuplicateDeliveryDropped(t *testing.T) {
	f := newReconcilerFixture()
	order := testOrder(models.OrderStatusPendingPayment)
	order.PaymentStatus = models.PaymentStatusPending
	f.orders.put(order)

	body := authorizationBody("evt_1", "authorization_succeeded", "order-1", "")
	require.NoError(t, f.deliver(t, body))
	require.NoError(t, f.deliver(t, body))
	require.NoError(t, f.deliver(t, body))

	assert.Len(t, f.notifStore.rows, 2)
	assert.Len(t, f.publisher.events, 1)
}

func TestHalfAppliedEventRerun(t *testing.T) {
	f := newReconcilerFixture()
	order := testOrder(models.OrderStatusPendingPayment)
	order.PaymentStatus = models.PaymentStatusPending
	f.orders.put(order)

	// The event was recorded on a previous delivery but the process
	// died before the effect finished; appliedAt is still unset.
	body := authorizationBody("evt_1", "authorization_succeeded", "order-1", "")
	_, err := f.ledger.RecordWebhookEvent(context.Background(), &models.WebhookEvent{
		ProcessorEventID: "evt_1",
		EventType:        "authorization_succeeded",
		RawPayload:       body,
	})
	require.NoError(t, err)

	require.NoError(t, f.deliver(t, body))

	stored, _ := f.orders.GetOrderByID(context.Background(), "order-1")
	assert.Equal(t, models.PaymentStatusPaid, stored.PaymentStatus)
	assert.Equal(t, models.OrderStatusConfirmed, stored.Status)

	event, _ := f.ledger.GetWebhookEvent(context.Background(), "evt_1")
	assert.True(t, event.AppliedAt.Valid)
}

func TestLateFailureCannotRegressPaid(t *testing.T) {
	f := newReconcilerFixture()
	order := testOrder(models.OrderStatusConfirmed)
	order.PaymentStatus = models.PaymentStatusPaid
	f.orders.put(order)

	body := authorizationBody("evt_2", "authorization_failed", "order-1", "card_declined")
	require.NoError(t, f.deliver(t, body))

	stored, _ := f.orders.GetOrderByID(context.Background(), "order-1")
	assert.Equal(t, models.PaymentStatusPaid, stored.PaymentStatus)
	assert.Equal(t, models.OrderStatusConfirmed, stored.Status)
	assert.Empty(t, f.notifStore.rows)

	// Still acknowledged and recorded as applied.
	event, _ := f.ledger.GetWebhookEvent(context.Background(), "evt_2")
	assert.True(t, event.AppliedAt.Valid)
}

func TestAuthorizationFailedNotifies(t *testing.T) {
	f := newReconcilerFixture()
	order := testOrder(models.OrderStatusPendingPayment)
	order.PaymentStatus = models.PaymentStatusPending
	f.orders.put(order)

	body := authorizationBody("evt_3", "authorization_failed", "order-1", "card_declined")
	require.NoError(t, f.deliver(t, body))

	stored, _ := f.orders.GetOrderByID(context.Background(), "order-1")
	assert.Equal(t, models.PaymentStatusFailed, stored.PaymentStatus)
	// Failure does not cancel the order; the buyer may retry payment
	// flows elsewhere or the merchant may cancel.
	assert.Equal(t, models.OrderStatusPendingPayment, stored.Status)

	rows := f.notifStore.byType(models.EventTypePaymentFailed)
	require.Len(t, rows, 2)
	assert.Contains(t, rows[0].Body, "card_declined")
}

func TestAuthorizationCanceledCancelsOrder(t *testing.T) {
	f := newReconcilerFixture()
	order := testOrder(models.OrderStatusPendingPayment)
	order.PaymentStatus = models.PaymentStatusPending
	f.orders.put(order)

	body := authorizationBody("evt_4", "authorization_canceled", "order-1", "")
	require.NoError(t, f.deliver(t, body))

	stored, _ := f.orders.GetOrderByID(context.Background(), "order-1")
	assert.Equal(t, models.PaymentStatusCanceled, stored.PaymentStatus)
	assert.Equal(t, models.OrderStatusCancelled, stored.Status)
	assert.Len(t, f.notifStore.byType(models.EventTypePaymentCanceled), 2)
}

func TestCanceledEventRetriesOrderWrite(t *testing.T) {
	f := newReconcilerFixture()
	order := testOrder(models.OrderStatusConfirmed)
	order.PaymentStatus = models.PaymentStatusPending
	f.orders.put(order)

	// A merchant transition lands between the cancel's read and write;
	// the cancel is re-applied against the fresh state.
	fired := false
	f.orders.beforeStatusWrite = func(o *models.Order) {
		if !fired {
			fired = true
			o.Status = models.OrderStatusPreparing
		}
	}

	body := authorizationBody("evt_12", "authorization_canceled", "order-1", "")
	require.NoError(t, f.deliver(t, body))

	stored, _ := f.orders.GetOrderByID(context.Background(), "order-1")
	assert.Equal(t, models.PaymentStatusCanceled, stored.PaymentStatus)
	assert.Equal(t, models.OrderStatusCancelled, stored.Status)
}

func TestSucceededEventLostAdvanceNotReported(t *testing.T) {
	f := newReconcilerFixture()
	order := testOrder(models.OrderStatusPendingPayment)
	order.PaymentStatus = models.PaymentStatusPending
	f.orders.put(order)

	// A concurrent cancel wins the status race; the published event must
	// not claim the order reached confirmed.
	f.orders.beforeStatusWrite = func(o *models.Order) {
		o.Status = models.OrderStatusCancelled
	}

	body := authorizationBody("evt_13", "authorization_succeeded", "order-1", "")
	require.NoError(t, f.deliver(t, body))

	require.Len(t, f.publisher.events, 1)
	assert.NotEqual(t, models.OrderStatusConfirmed, f.publisher.events[0].Status)
}

func TestUnknownEventAcknowledged(t *testing.T) {
	f := newReconcilerFixture()

	body := []byte(`{"id":"evt_5","type":"something.new","data":{}}`)
	require.NoError(t, f.deliver(t, body))

	event, err := f.ledger.GetWebhookEvent(context.Background(), "evt_5")
	require.NoError(t, err)
	assert.True(t, event.AppliedAt.Valid)
	assert.Empty(t, f.notifStore.rows)
}

func TestAuthorizationResolvedByIntentID(t *testing.T) {
	f := newReconcilerFixture()
	order := testOrder(models.OrderStatusPendingPayment)
	order.PaymentStatus = models.PaymentStatusPending
	order.PaymentIntentID = sql.NullString{String: "pi_test_1", Valid: true}
	f.orders.put(order)

	// No order_id metadata; the event still routes via the intent id.
	body := []byte(`{"id":"evt_11","type":"authorization_succeeded",` +
		`"data":{"authorization_id":"pi_test_1","amount":5000,"currency":"brl"}}`)
	require.NoError(t, f.deliver(t, body))

	stored, _ := f.orders.GetOrderByID(context.Background(), "order-1")
	assert.Equal(t, models.PaymentStatusPaid, stored.PaymentStatus)
	assert.Equal(t, models.OrderStatusConfirmed, stored.Status)
}

func TestEventForUnknownOrderAcknowledged(t *testing.T) {
	f := newReconcilerFixture()

	body := authorizationBody("evt_6", "authorization_succeeded", "order-missing", "")
	require.NoError(t, f.deliver(t, body))

	event, _ := f.ledger.GetWebhookEvent(context.Background(), "evt_6")
	assert.True(t, event.AppliedAt.Valid)
}

func TestAccountUpdatedFlipsVerification(t *testing.T) {
	f := newReconcilerFixture()
	require.NoError(t, f.creds.SaveCredential(context.Background(), &models.MerchantCredential{
		MerchantID: "merchant-1",
		AccountID:  "acct_1",
		IsVerified: false,
	}))

	body := []byte(`{"id":"evt_7","type":"merchant_account_updated","account":"acct_1",` +
		`"data":{"account_id":"acct_1","charges_enabled":true,"payouts_enabled":true,"details_submitted":true}}`)
	require.NoError(t, f.deliver(t, body))

	cred, err := f.creds.GetActiveCredential(context.Background(), "merchant-1")
	require.NoError(t, err)
	assert.True(t, cred.IsVerified)

	// Disabling charges revokes payability on the next event.
	body = []byte(`{"id":"evt_8","type":"merchant_account_updated","account":"acct_1",` +
		`"data":{"account_id":"acct_1","charges_enabled":false,"details_submitted":true}}`)
	require.NoError(t, f.deliver(t, body))

	cred, _ = f.creds.GetActiveCredential(context.Background(), "merchant-1")
	assert.False(t, cred.IsVerified)
}

func TestFundsDisbursedNotifiesMerchant(t *testing.T) {
	f := newReconcilerFixture()
	require.NoError(t, f.creds.SaveCredential(context.Background(), &models.MerchantCredential{
		MerchantID: "merchant-1",
		AccountID:  "acct_1",
		IsVerified: true,
	}))

	body := []byte(`{"id":"evt_9","type":"funds_disbursed","account":"acct_1",` +
		`"data":{"disbursement_id":"po_1","amount":4750,"currency":"brl"}}`)
	require.NoError(t, f.deliver(t, body))

	rows := f.notifStore.byType(models.EventTypeFundsDisbursed)
	require.Len(t, rows, 1)
	assert.Equal(t, "merchant-1", rows[0].RecipientID)
	assert.Contains(t, rows[0].Body, "4750")
}

func TestDisputeOpenedNotifiesOperator(t *testing.T) {
	f := newReconcilerFixture()

	body := []byte(`{"id":"evt_10","type":"dispute_opened",` +
		`"data":{"dispute_id":"dp_1","charge_id":"ch_1","amount":5000,"reason":"fraudulent"}}`)
	require.NoError(t, f.deliver(t, body))

	rows := f.notifStore.byType(models.EventTypeDisputeOpened)
	require.Len(t, rows, 1)
	assert.Equal(t, "platform-ops", rows[0].RecipientID)
}
