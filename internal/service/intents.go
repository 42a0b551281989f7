package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"marketplace-payments/internal/models"
	"marketplace-payments/internal/processor"
	"marketplace-payments/internal/util"
)

// IntentService creates payment authorizations routed to the
// merchant's own processor sub-account, skimming the platform fee as
// settlement metadata. One authorization per order, ever.
type IntentService struct {
	orders      OrderStore
	credentials *CredentialService
	fees        *FeeCalculator
	currency    string
	logger      *zap.Logger
}

// NewIntentService creates a new intent service
func NewIntentService(orders OrderStore, credentials *CredentialService, fees *FeeCalculator, currency string) *IntentService {
	return &IntentService{
		orders:      orders,
		credentials: credentials,
		fees:        fees,
		currency:    currency,
		logger:      util.GetLogger(),
	}
}

// IntentResult is returned to the client to complete the charge. It
// never marks the order paid; only a webhook does that.
type IntentResult struct {
	IntentID     string `json:"intent_id"`
	ClientSecret string `json:"client_secret"`
	PlatformFee  int64  `json:"platform_fee"`
	MerchantNet  int64  `json:"merchant_net"`
}

// CreateOrAttach creates the order's payment authorization on the
// merchant sub-account, or recovers one the processor already holds
// for this order if a prior persist failed after the remote call
// succeeded.
func (is *IntentService) CreateOrAttach(ctx context.Context, orderID, merchantID string, grossAmount int64) (*IntentResult, error) {
	ctx, span := util.StartSpan(ctx, "IntentService.CreateOrAttach")
	defer span.End()

	if orderID == "" || merchantID == "" {
		return nil, fmt.Errorf("order id and merchant id are required: %w", models.ErrValidation)
	}
	if grossAmount <= 0 {
		return nil, fmt.Errorf("gross amount must be positive: %w", models.ErrValidation)
	}

	order, err := is.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.MerchantID != merchantID {
		return nil, fmt.Errorf("order %s does not belong to merchant %s: %w", orderID, merchantID, models.ErrValidation)
	}
	if order.AmountGross != grossAmount {
		return nil, fmt.Errorf("gross amount %d does not match order total %d: %w",
			grossAmount, order.AmountGross, models.ErrValidation)
	}
	if order.PaymentIntentID.Valid {
		util.IntentsFailedTotal.WithLabelValues("duplicate").Inc()
		return nil, fmt.Errorf("order %s already has intent %s: %w",
			orderID, order.PaymentIntentID.String, models.ErrDuplicateIntent)
	}

	client, _, err := is.credentials.Resolve(ctx, merchantID)
	if err != nil {
		util.IntentsFailedTotal.WithLabelValues("merchant_not_payable").Inc()
		return nil, err
	}

	platformFee, merchantNet := is.fees.Split(grossAmount)

	auth, err := is.findOrCreateAuthorization(ctx, client, order, grossAmount, platformFee, merchantNet)
	if err != nil {
		util.IntentsFailedTotal.WithLabelValues("processor").Inc()
		return nil, err
	}

	attached, err := is.orders.SetPaymentIntent(ctx, orderID, auth.ID, platformFee, merchantNet)
	if err != nil {
		// The remote authorization exists but was not recorded; the
		// next call recovers it via the processor lookup above.
		return nil, fmt.Errorf("authorization %s created but not persisted: %w", auth.ID, err)
	}
	if !attached {
		// A concurrent caller attached first.
		fresh, err := is.orders.GetOrderByID(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if fresh.PaymentIntentID.Valid && fresh.PaymentIntentID.String == auth.ID {
			return &IntentResult{
				IntentID:     auth.ID,
				ClientSecret: auth.ClientSecret,
				PlatformFee:  platformFee,
				MerchantNet:  merchantNet,
			}, nil
		}
		util.IntentsFailedTotal.WithLabelValues("duplicate").Inc()
		return nil, fmt.Errorf("order %s: %w", orderID, models.ErrDuplicateIntent)
	}

	util.IntentsCreatedTotal.Inc()
	is.logger.Info("Payment intent attached",
		zap.String("order_id", orderID),
		zap.String("intent_id", auth.ID),
		zap.Int64("gross", grossAmount),
		zap.Int64("platform_fee", platformFee),
		zap.Int64("merchant_net", merchantNet))

	return &IntentResult{
		IntentID:     auth.ID,
		ClientSecret: auth.ClientSecret,
		PlatformFee:  platformFee,
		MerchantNet:  merchantNet,
	}, nil
}

// findOrCreateAuthorization asks the processor for an authorization
// already tagged with this order before creating a new one. The gross
// amount is authorized on the merchant sub-account; the fee split
// travels as metadata for settlement.
func (is *IntentService) findOrCreateAuthorization(
	ctx context.Context,
	client processor.API,
	order *models.Order,
	gross, platformFee, merchantNet int64,
) (*processor.Authorization, error) {
	start := time.Now()
	defer func() {
		util.ProcessorLatency.Observe(time.Since(start).Seconds())
	}()

	existing, err := client.FindAuthorizationByOrder(ctx, order.ID)
	if err != nil {
		is.logger.Warn("Authorization lookup failed, creating fresh",
			zap.String("order_id", order.ID),
			zap.Error(err))
	}
	if existing != nil {
		is.logger.Info("Recovered existing authorization",
			zap.String("order_id", order.ID),
			zap.String("intent_id", existing.ID))
		return existing, nil
	}

	return client.CreateAuthorization(ctx, &processor.AuthorizationRequest{
		Amount:         gross,
		Currency:       is.currency,
		ApplicationFee: platformFee,
		Description:    fmt.Sprintf("Order #%s", order.ID),
		Metadata: map[string]string{
			"order_id":     order.ID,
			"buyer_id":     order.BuyerID,
			"merchant_id":  order.MerchantID,
			"platform_fee": strconv.FormatInt(platformFee, 10),
			"merchant_net": strconv.FormatInt(merchantNet, 10),
		},
	})
}
