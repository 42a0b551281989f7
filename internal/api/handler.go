package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"marketplace-payments/internal/models"
	"marketplace-payments/internal/processor"
	"marketplace-payments/internal/redisclient"
	"marketplace-payments/internal/service"
	"marketplace-payments/internal/util"
)

// Actor identity headers. The session layer upstream authenticates
// the caller and forwards only {id, role}.
const (
	headerActorID   = "X-Actor-Id"
	headerActorRole = "X-Actor-Role"
)

// NotificationReader exposes persisted notifications to the UI layer.
// The fan-out only writes; reads go through here.
type NotificationReader interface {
	GetNotificationsByRecipient(ctx context.Context, recipientID string, limit int) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) (bool, error)
}

// Handler contains HTTP handlers
type Handler struct {
	orders        *service.OrderService
	intents       *service.IntentService
	reconciler    *service.Reconciler
	stateMachine  *service.StateMachine
	credentials   *service.CredentialService
	notifications NotificationReader
	subscriptions *redisclient.Client
}

// NewHandler creates a new HTTP handler
func NewHandler(
	orders *service.OrderService,
	intents *service.IntentService,
	reconciler *service.Reconciler,
	stateMachine *service.StateMachine,
	credentials *service.CredentialService,
	notifications NotificationReader,
	subscriptions *redisclient.Client,
) *Handler {
	return &Handler{
		orders:        orders,
		intents:       intents,
		reconciler:    reconciler,
		stateMachine:  stateMachine,
		credentials:   credentials,
		notifications: notifications,
		subscriptions: subscriptions,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders", h.createOrder)
		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/:id", h.getOrder)
		v1.PATCH("/orders/:id/status", h.updateOrderStatus)

		v1.POST("/payment-intents", h.createPaymentIntent)
		v1.POST("/webhooks/processor", h.processorWebhook)

		v1.PUT("/merchants/:id/credentials", h.saveCredentials)
		v1.GET("/merchants/:id/credentials", h.credentialStatus)
		v1.DELETE("/merchants/:id/credentials", h.revokeCredentials)

		v1.GET("/notifications", h.listNotifications)
		v1.POST("/notifications/:id/read", h.markNotificationRead)

		v1.PUT("/push-subscriptions/:userId", h.saveSubscription)
		v1.DELETE("/push-subscriptions/:userId", h.deleteSubscription)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// respondError maps a domain error onto the wire: stable code, human
// message, correct status. Internal detail is logged, never echoed.
func respondError(c *gin.Context, err error) {
	status := models.HTTPStatus(err)
	if status == http.StatusInternalServerError || status == http.StatusBadGateway {
		util.GetLogger().Sugar().Errorw("Request failed", "path", c.FullPath(), "error", err)
		c.JSON(status, gin.H{"error": "request failed", "code": models.Code(err)})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": models.Code(err)})
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "code": "VALIDATION_ERROR"})
		return
	}

	order, err := h.orders.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

// listOrders returns the calling buyer's orders
func (h *Handler) listOrders(c *gin.Context) {
	buyerID := c.Query("buyer_id")
	if buyerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "buyer_id is required", "code": "VALIDATION_ERROR"})
		return
	}
	if !h.requireActor(c, buyerID, models.RoleBuyer) {
		return
	}

	orders, err := h.orders.ListBuyerOrders(c.Request.Context(), buyerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.orders.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type updateStatusRequest struct {
	NewStatus string `json:"new_status" binding:"required"`
	CourierID string `json:"courier_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// updateOrderStatus handles actor-driven transitions
func (h *Handler) updateOrderStatus(c *gin.Context) {
	actorID := c.GetHeader(headerActorID)
	actorRole := c.GetHeader(headerActorRole)
	if actorID == "" || actorRole == "" || actorRole == models.RoleSystem {
		c.JSON(http.StatusForbidden, gin.H{"error": "actor identity required", "code": "FORBIDDEN"})
		return
	}

	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "code": "VALIDATION_ERROR"})
		return
	}

	order, err := h.stateMachine.Transition(c.Request.Context(), &service.TransitionRequest{
		OrderID:   c.Param("id"),
		NewStatus: req.NewStatus,
		ActorID:   actorID,
		ActorRole: actorRole,
		CourierID: req.CourierID,
		Reason:    req.Reason,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type createIntentRequest struct {
	OrderID     string `json:"order_id" binding:"required"`
	MerchantID  string `json:"merchant_id" binding:"required"`
	GrossAmount int64  `json:"gross_amount" binding:"required,min=1"`
}

// createPaymentIntent handles payment intent creation
func (h *Handler) createPaymentIntent(c *gin.Context) {
	var req createIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "code": "VALIDATION_ERROR"})
		return
	}

	result, err := h.intents.CreateOrAttach(c.Request.Context(), req.OrderID, req.MerchantID, req.GrossAmount)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// processorWebhook receives signed processor callbacks. Returns 200
// once the event is durably recorded; 4xx only on signature failure or
// malformed payload, so the processor keeps retrying real failures.
func (h *Handler) processorWebhook(c *gin.Context) {
	rawBody, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body", "code": "VALIDATION_ERROR"})
		return
	}

	signature := c.GetHeader(processor.SignatureHeader)
	if err := h.reconciler.HandleWebhook(c.Request.Context(), rawBody, signature); err != nil {
		switch {
		case errors.Is(err, models.ErrSignatureInvalid):
			// Dropped without detail; do not aid forgery attempts.
			c.JSON(http.StatusBadRequest, gin.H{"error": "rejected"})
		case errors.Is(err, models.ErrValidation):
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload", "code": "VALIDATION_ERROR"})
		default:
			// Recorded but not applied; the processor redelivers.
			util.GetLogger().Sugar().Errorw("Webhook effect failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "effect deferred"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

type credentialsRequest struct {
	PublicKey string `json:"public_key" binding:"required"`
	SecretKey string `json:"secret_key" binding:"required"`
	Replace   bool   `json:"replace,omitempty"`
}

// saveCredentials handles merchant credential save/rotate
func (h *Handler) saveCredentials(c *gin.Context) {
	merchantID := c.Param("id")
	if !h.requireActor(c, merchantID, models.RoleMerchant) {
		return
	}

	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "code": "VALIDATION_ERROR"})
		return
	}

	status, err := h.credentials.Save(c.Request.Context(), merchantID, req.PublicKey, req.SecretKey, req.Replace)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// credentialStatus returns the sanitized credential view
func (h *Handler) credentialStatus(c *gin.Context) {
	merchantID := c.Param("id")
	if !h.requireActor(c, merchantID, models.RoleMerchant) {
		return
	}

	status, err := h.credentials.Status(c.Request.Context(), merchantID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// revokeCredentials soft-deactivates merchant credentials
func (h *Handler) revokeCredentials(c *gin.Context) {
	merchantID := c.Param("id")
	if !h.requireActor(c, merchantID, models.RoleMerchant) {
		return
	}

	if err := h.credentials.Revoke(c.Request.Context(), merchantID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": true})
}

// requireActor enforces that the caller is the named principal with
// the expected role.
func (h *Handler) requireActor(c *gin.Context, principalID, role string) bool {
	if c.GetHeader(headerActorID) != principalID || c.GetHeader(headerActorRole) != role {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "code": "FORBIDDEN"})
		return false
	}
	return true
}

// listNotifications returns a recipient's persisted notifications
func (h *Handler) listNotifications(c *gin.Context) {
	recipientID := c.Query("recipient_id")
	if recipientID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "recipient_id is required", "code": "VALIDATION_ERROR"})
		return
	}
	if c.GetHeader(headerActorID) != recipientID {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "code": "FORBIDDEN"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	notifications, err := h.notifications.GetNotificationsByRecipient(c.Request.Context(), recipientID, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": notifications})
}

// markNotificationRead flips the read flag on one notification
func (h *Handler) markNotificationRead(c *gin.Context) {
	ok, err := h.notifications.MarkNotificationRead(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "notification not found", "code": "NOT_FOUND"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"read": true})
}

type subscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
	P256dh   string `json:"p256dh" binding:"required"`
	Auth     string `json:"auth" binding:"required"`
}

// saveSubscription replaces a user's push subscription wholesale
func (h *Handler) saveSubscription(c *gin.Context) {
	userID := c.Param("userId")
	if c.GetHeader(headerActorID) != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "code": "FORBIDDEN"})
		return
	}

	var req subscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "code": "VALIDATION_ERROR"})
		return
	}

	sub := &models.PushSubscription{
		UserID:    userID,
		Endpoint:  req.Endpoint,
		P256dh:    req.P256dh,
		Auth:      req.Auth,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.subscriptions.SaveSubscription(c.Request.Context(), sub); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscribed": true})
}

// deleteSubscription removes a subscription on explicit unsubscribe
func (h *Handler) deleteSubscription(c *gin.Context) {
	userID := c.Param("userId")
	if c.GetHeader(headerActorID) != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "code": "FORBIDDEN"})
		return
	}

	if err := h.subscriptions.DeleteSubscription(c.Request.Context(), userID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unsubscribed": true})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
