package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"marketplace-payments/internal/models"
	"marketplace-payments/internal/util"
)

// OrderService is the minimal order intake: every order starts in
// pending_payment with no fee split until an intent is attached.
type OrderService struct {
	orders OrderStore
	logger *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(orders OrderStore) *OrderService {
	return &OrderService{orders: orders, logger: util.GetLogger()}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	BuyerID     string `json:"buyer_id" binding:"required"`
	MerchantID  string `json:"merchant_id" binding:"required"`
	AmountGross int64  `json:"amount_gross" binding:"required,min=1"`
}

// CreateOrder creates a new order awaiting payment.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	order := &models.Order{
		ID:            uuid.New().String(),
		BuyerID:       req.BuyerID,
		MerchantID:    req.MerchantID,
		Status:        models.OrderStatusPendingPayment,
		PaymentStatus: models.PaymentStatusNone,
		AmountGross:   req.AmountGross,
	}
	if err := s.orders.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	s.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.String("merchant_id", order.MerchantID),
		zap.Int64("amount_gross", order.AmountGross))
	return order, nil
}

// GetOrder retrieves an order by ID.
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return s.orders.GetOrderByID(ctx, orderID)
}

// ListBuyerOrders retrieves a buyer's orders, newest first.
func (s *OrderService) ListBuyerOrders(ctx context.Context, buyerID string) ([]models.Order, error) {
	return s.orders.GetOrdersByBuyerID(ctx, buyerID)
}
