package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-payments/internal/models"
	"marketplace-payments/internal/processor"
	"marketplace-payments/internal/secrets"
)

const testMasterKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

type intentFixture struct {
	intents   *IntentService
	orders    *fakeOrderStore
	creds     *fakeCredentialStore
	processor *fakeProcessor
}

func newIntentFixture(t *testing.T) *intentFixture {
	t.Helper()
	box, err := secrets.NewBox(testMasterKey)
	require.NoError(t, err)

	orders := newFakeOrderStore()
	creds := newFakeCredentialStore()
	proc := &fakeProcessor{}
	factory := func(_, _ string) processor.API { return proc }

	credService := NewCredentialService(creds, box, factory)
	fees := NewFeeCalculator(500)
	return &intentFixture{
		intents:   NewIntentService(orders, credService, fees, "brl"),
		orders:    orders,
		creds:     creds,
		processor: proc,
	}
}

func (f *intentFixture) seedCredential(t *testing.T, verified bool) {
	t.Helper()
	box, err := secrets.NewBox(testMasterKey)
	require.NoError(t, err)
	sealed, err := box.Seal("sk_test_merchant1")
	require.NoError(t, err)
	require.NoError(t, f.creds.SaveCredential(context.Background(), &models.MerchantCredential{
		MerchantID:      "merchant-1",
		PublicKey:       "pk_test_merchant1",
		SecretKeySealed: sealed,
		AccountID:       "acct_1",
		IsVerified:      verified,
	}))
}

func pendingOrder() *models.Order {
	return &models.Order{
		ID:            "order-1",
		BuyerID:       "buyer-1",
		MerchantID:    "merchant-1",
		Status:        models.OrderStatusPendingPayment,
		PaymentStatus: models.PaymentStatusNone,
		AmountGross:   5000,
	}
}

func TestCreateIntentAttachesOnce(t *testing.T) {
	f := newIntentFixture(t)
	f.seedCredential(t, true)
	f.orders.put(pendingOrder())

	result, err := f.intents.CreateOrAttach(context.Background(), "order-1", "merchant-1", 5000)
	require.NoError(t, err)
	assert.Equal(t, "pi_test_1", result.IntentID)
	assert.Equal(t, "pi_test_1_secret", result.ClientSecret)
	assert.Equal(t, int64(250), result.PlatformFee)
	assert.Equal(t, int64(4750), result.MerchantNet)

	stored, _ := f.orders.GetOrderByID(context.Background(), "order-1")
	assert.Equal(t, "pi_test_1", stored.PaymentIntentID.String)
	assert.Equal(t, int64(250), stored.PlatformFee)
	assert.Equal(t, int64(4750), stored.MerchantNet)

	require.NotNil(t, f.processor.lastRequest)
	assert.Equal(t, int64(5000), f.processor.lastRequest.Amount)
	assert.Equal(t, int64(250), f.processor.lastRequest.ApplicationFee)
	assert.Equal(t, "order-1", f.processor.lastRequest.Metadata["order_id"])
}

func TestCreateIntentDuplicateRejected(t *testing.T) {
	f := newIntentFixture(t)
	f.seedCredential(t, true)
	order := pendingOrder()
	order.PaymentIntentID = sql.NullString{String: "pi_existing", Valid: true}
	f.orders.put(order)

	_, err := f.intents.CreateOrAttach(context.Background(), "order-1", "merchant-1", 5000)
	assert.ErrorIs(t, err, models.ErrDuplicateIntent)
	assert.Zero(t, f.processor.createCalls)
}

func TestCreateIntentMerchantNotPayable(t *testing.T) {
	f := newIntentFixture(t)
	f.orders.put(pendingOrder())

	// No credentials at all.
	_, err := f.intents.CreateOrAttach(context.Background(), "order-1", "merchant-1", 5000)
	assert.ErrorIs(t, err, models.ErrMerchantNotPayable)
	assert.Zero(t, f.processor.createCalls)

	// Credentials exist but are unverified.
	f.seedCredential(t, false)
	_, err = f.intents.CreateOrAttach(context.Background(), "order-1", "merchant-1", 5000)
	assert.ErrorIs(t, err, models.ErrMerchantNotPayable)
	assert.Zero(t, f.processor.createCalls)

	// The order was never touched.
	stored, _ := f.orders.GetOrderByID(context.Background(), "order-1")
	assert.False(t, stored.PaymentIntentID.Valid)
	assert.Equal(t, models.PaymentStatusNone, stored.PaymentStatus)
}

func TestCreateIntentAmountMismatch(t *testing.T) {
	f := newIntentFixture(t)
	f.seedCredential(t, true)
	f.orders.put(pendingOrder())

	_, err := f.intents.CreateOrAttach(context.Background(), "order-1", "merchant-1", 4999)
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = f.intents.CreateOrAttach(context.Background(), "order-1", "merchant-1", 0)
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = f.intents.CreateOrAttach(context.Background(), "order-1", "merchant-2", 5000)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestCreateIntentRecoversExistingAuthorization(t *testing.T) {
	f := newIntentFixture(t)
	f.seedCredential(t, true)
	f.orders.put(pendingOrder())

	// A previous call created the authorization remotely but crashed
	// before persisting; the processor still holds it for this order.
	f.processor.existing = &processor.Authorization{
		ID:           "pi_recovered",
		ClientSecret: "pi_recovered_secret",
		Amount:       5000,
		Currency:     "brl",
	}

	result, err := f.intents.CreateOrAttach(context.Background(), "order-1", "merchant-1", 5000)
	require.NoError(t, err)
	assert.Equal(t, "pi_recovered", result.IntentID)
	assert.Zero(t, f.processor.createCalls)

	stored, _ := f.orders.GetOrderByID(context.Background(), "order-1")
	assert.Equal(t, "pi_recovered", stored.PaymentIntentID.String)
}

func TestCreateIntentConcurrentAttachSameIntent(t *testing.T) {
	f := newIntentFixture(t)
	f.seedCredential(t, true)
	f.orders.put(pendingOrder())

	// A concurrent caller attaches the same recovered intent between
	// our read and our write. The loser returns the shared intent.
	f.orders.beforeIntentWrite = func(o *models.Order) {
		if !o.PaymentIntentID.Valid {
			o.PaymentIntentID = sql.NullString{String: "pi_test_1", Valid: true}
		}
	}

	result, err := f.intents.CreateOrAttach(context.Background(), "order-1", "merchant-1", 5000)
	require.NoError(t, err)
	assert.Equal(t, "pi_test_1", result.IntentID)
}

func TestCreateIntentConcurrentAttachDifferentIntent(t *testing.T) {
	f := newIntentFixture(t)
	f.seedCredential(t, true)
	f.orders.put(pendingOrder())

	f.orders.beforeIntentWrite = func(o *models.Order) {
		if !o.PaymentIntentID.Valid {
			o.PaymentIntentID = sql.NullString{String: "pi_other", Valid: true}
		}
	}

	_, err := f.intents.CreateOrAttach(context.Background(), "order-1", "merchant-1", 5000)
	assert.ErrorIs(t, err, models.ErrDuplicateIntent)

	stored, _ := f.orders.GetOrderByID(context.Background(), "order-1")
	assert.Equal(t, "pi_other", stored.PaymentIntentID.String)
}
