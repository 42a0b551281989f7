package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"marketplace-payments/internal/models"
	"marketplace-payments/internal/processor"
)

// In-memory fakes mirroring the conditional-write semantics of the SQL
// store, so race outcomes can be scripted.

type fakeOrderStore struct {
	mu     sync.Mutex
	orders map[string]*models.Order

	// Fired with the live row before the conditional check, so tests
	// can simulate a concurrent writer winning the race.
	beforeStatusWrite  func(o *models.Order)
	beforePaymentWrite func(o *models.Order)
	beforeIntentWrite  func(o *models.Order)
	alwaysConflict     bool
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{orders: make(map[string]*models.Order)}
}

func (f *fakeOrderStore) put(o *models.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *o
	f.orders[o.ID] = &clone
}

func (f *fakeOrderStore) CreateOrder(_ context.Context, order *models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.orders[order.ID]; ok {
		return fmt.Errorf("duplicate order %s", order.ID)
	}
	clone := *order
	clone.CreatedAt = time.Now()
	f.orders[order.ID] = &clone
	return nil
}

func (f *fakeOrderStore) GetOrderByID(_ context.Context, id string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, models.ErrNotFound)
	}
	clone := *o
	return &clone, nil
}

func (f *fakeOrderStore) GetOrderByIntentID(_ context.Context, intentID string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.PaymentIntentID.Valid && o.PaymentIntentID.String == intentID {
			clone := *o
			return &clone, nil
		}
	}
	return nil, fmt.Errorf("intent %s: %w", intentID, models.ErrNotFound)
}

func (f *fakeOrderStore) GetOrdersByBuyerID(_ context.Context, buyerID string) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.orders {
		if o.BuyerID == buyerID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeOrderStore) SetPaymentIntent(_ context.Context, orderID, intentID string, platformFee, merchantNet int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return false, fmt.Errorf("order %s: %w", orderID, models.ErrNotFound)
	}
	if f.beforeIntentWrite != nil {
		f.beforeIntentWrite(o)
	}
	if o.PaymentIntentID.Valid {
		return false, nil
	}
	o.PaymentIntentID.String = intentID
	o.PaymentIntentID.Valid = true
	o.PlatformFee = platformFee
	o.MerchantNet = merchantNet
	o.PaymentStatus = models.PaymentStatusPending
	return true, nil
}

func (f *fakeOrderStore) UpdateOrderStatus(_ context.Context, orderID, expected, next string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return false, fmt.Errorf("order %s: %w", orderID, models.ErrNotFound)
	}
	if f.beforeStatusWrite != nil {
		f.beforeStatusWrite(o)
	}
	if f.alwaysConflict || o.Status != expected {
		return false, nil
	}
	o.Status = next
	return true, nil
}

func (f *fakeOrderStore) AssignCourier(_ context.Context, orderID, courierID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return false, fmt.Errorf("order %s: %w", orderID, models.ErrNotFound)
	}
	if o.Status != models.OrderStatusReady || o.CourierID.Valid {
		return false, nil
	}
	o.CourierID.String = courierID
	o.CourierID.Valid = true
	o.Status = models.OrderStatusOutForDelivery
	return true, nil
}

func (f *fakeOrderStore) MarkDelivered(_ context.Context, orderID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return false, fmt.Errorf("order %s: %w", orderID, models.ErrNotFound)
	}
	if o.Status != models.OrderStatusOutForDelivery {
		return false, nil
	}
	o.Status = models.OrderStatusDelivered
	o.DeliveredAt.Time = time.Now()
	o.DeliveredAt.Valid = true
	return true, nil
}

func (f *fakeOrderStore) UpdatePaymentStatus(_ context.Context, orderID, expected, next string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return false, fmt.Errorf("order %s: %w", orderID, models.ErrNotFound)
	}
	if f.beforePaymentWrite != nil {
		f.beforePaymentWrite(o)
	}
	if o.PaymentStatus != expected {
		return false, nil
	}
	o.PaymentStatus = next
	return true, nil
}

type fakeCredentialStore struct {
	mu    sync.Mutex
	creds map[string]*models.MerchantCredential
}

func newFakeCredentialStore() *fakeCredentialStore {
	return &fakeCredentialStore{creds: make(map[string]*models.MerchantCredential)}
}

func (f *fakeCredentialStore) GetActiveCredential(_ context.Context, merchantID string) (*models.MerchantCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.creds[merchantID]
	if !ok || !c.IsActive {
		return nil, fmt.Errorf("merchant %s: %w", merchantID, models.ErrNotFound)
	}
	clone := *c
	return &clone, nil
}

func (f *fakeCredentialStore) GetCredentialByAccountID(_ context.Context, accountID string) (*models.MerchantCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.creds {
		if c.AccountID == accountID && c.IsActive {
			clone := *c
			return &clone, nil
		}
	}
	return nil, fmt.Errorf("account %s: %w", accountID, models.ErrNotFound)
}

func (f *fakeCredentialStore) SaveCredential(_ context.Context, cred *models.MerchantCredential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *cred
	clone.IsActive = true
	f.creds[cred.MerchantID] = &clone
	return nil
}

func (f *fakeCredentialStore) RevokeCredential(_ context.Context, merchantID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.creds[merchantID]
	if !ok || !c.IsActive {
		return false, nil
	}
	c.IsActive = false
	return true, nil
}

func (f *fakeCredentialStore) SetCredentialVerification(_ context.Context, accountID string, verified bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.creds {
		if c.AccountID == accountID && c.IsActive {
			c.IsVerified = verified
			return true, nil
		}
	}
	return false, nil
}

type fakeWebhookLedger struct {
	mu     sync.Mutex
	events map[string]*models.WebhookEvent
}

func newFakeWebhookLedger() *fakeWebhookLedger {
	return &fakeWebhookLedger{events: make(map[string]*models.WebhookEvent)}
}

func (f *fakeWebhookLedger) RecordWebhookEvent(_ context.Context, event *models.WebhookEvent) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.events[event.ProcessorEventID]; ok {
		return false, nil
	}
	clone := *event
	clone.ReceivedAt = time.Now()
	f.events[event.ProcessorEventID] = &clone
	return true, nil
}

func (f *fakeWebhookLedger) GetWebhookEvent(_ context.Context, eventID string) (*models.WebhookEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[eventID]
	if !ok {
		return nil, fmt.Errorf("event %s: %w", eventID, models.ErrNotFound)
	}
	clone := *e
	return &clone, nil
}

func (f *fakeWebhookLedger) MarkWebhookApplied(_ context.Context, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[eventID]
	if !ok {
		return fmt.Errorf("event %s: %w", eventID, models.ErrNotFound)
	}
	if !e.AppliedAt.Valid {
		e.AppliedAt.Time = time.Now()
		e.AppliedAt.Valid = true
	}
	return nil
}

type fakeNotificationStore struct {
	mu   sync.Mutex
	rows []models.Notification
	err  error
}

func (f *fakeNotificationStore) CreateNotification(_ context.Context, n *models.Notification) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, *n)
	return nil
}

func (f *fakeNotificationStore) byType(eventType string) []models.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Notification
	for _, r := range f.rows {
		if r.Type == eventType {
			out = append(out, r)
		}
	}
	return out
}

type fakePublisher struct {
	mu     sync.Mutex
	events []*models.OrderEvent
	err    error
}

func (f *fakePublisher) PublishOrderEvent(_ context.Context, event *models.OrderEvent) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

type fakeProcessor struct {
	account    *processor.Account
	accountErr error
	existing   *processor.Authorization
	findErr    error
	createErr  error

	createCalls int
	lastRequest *processor.AuthorizationRequest
}

func (f *fakeProcessor) CreateAuthorization(_ context.Context, req *processor.AuthorizationRequest) (*processor.Authorization, error) {
	f.createCalls++
	f.lastRequest = req
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &processor.Authorization{
		ID:           "pi_test_1",
		ClientSecret: "pi_test_1_secret",
		Amount:       req.Amount,
		Currency:     req.Currency,
		Status:       "requires_payment_method",
		Metadata:     req.Metadata,
	}, nil
}

func (f *fakeProcessor) RetrieveAccount(_ context.Context) (*processor.Account, error) {
	if f.accountErr != nil {
		return nil, f.accountErr
	}
	if f.account != nil {
		return f.account, nil
	}
	return &processor.Account{ID: "acct_test", ChargesEnabled: true, DetailsSubmitted: true}, nil
}

func (f *fakeProcessor) FindAuthorizationByOrder(_ context.Context, _ string) (*processor.Authorization, error) {
	return f.existing, f.findErr
}
