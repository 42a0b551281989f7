package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"marketplace-payments/internal/models"
	"marketplace-payments/internal/util"
)

// transition is one edge of the order lifecycle.
type transition struct {
	from string
	to   string
}

// guardTable is the legal-transition set: edge -> roles allowed to
// request it. The table is data so legality is testable apart from
// HTTP plumbing. Cancellation edges are handled separately because
// they exist from every non-terminal state with per-role rules.
var guardTable = map[transition]map[string]bool{
	{models.OrderStatusPendingPayment, models.OrderStatusConfirmed}: {
		models.RoleSystem: true,
	},
	{models.OrderStatusConfirmed, models.OrderStatusPreparing}: {
		models.RoleMerchant: true,
	},
	{models.OrderStatusPreparing, models.OrderStatusReady}: {
		models.RoleMerchant: true,
	},
	{models.OrderStatusReady, models.OrderStatusOutForDelivery}: {
		models.RoleMerchant: true,
		models.RoleCourier:  true,
	},
	{models.OrderStatusOutForDelivery, models.OrderStatusDelivered}: {
		models.RoleCourier: true,
	},
}

// cancelAllowed applies the cancellation rules: merchant and system
// may cancel from any non-terminal state, a buyer only while payment
// is still pending.
func cancelAllowed(from, role string) bool {
	if models.TerminalOrderStatus(from) {
		return false
	}
	switch role {
	case models.RoleMerchant, models.RoleSystem:
		return true
	case models.RoleBuyer:
		return from == models.OrderStatusPendingPayment
	}
	return false
}

// TransitionAllowed reports whether a role may move an order from one
// status to another.
func TransitionAllowed(from, to, role string) bool {
	if to == models.OrderStatusCancelled {
		return cancelAllowed(from, role)
	}
	roles, ok := guardTable[transition{from, to}]
	return ok && roles[role]
}

// eventTypeFor maps a reached status to the notification event kind.
func eventTypeFor(status string) string {
	switch status {
	case models.OrderStatusConfirmed:
		return models.EventTypeOrderConfirmed
	case models.OrderStatusPreparing:
		return models.EventTypeOrderPreparing
	case models.OrderStatusReady:
		return models.EventTypeOrderReady
	case models.OrderStatusOutForDelivery:
		return models.EventTypeOrderOutForDelivery
	case models.OrderStatusDelivered:
		return models.EventTypeOrderDelivered
	case models.OrderStatusCancelled:
		return models.EventTypeOrderCancelled
	}
	return ""
}

// TransitionRequest is an actor-driven status change.
type TransitionRequest struct {
	OrderID   string
	NewStatus string
	ActorID   string
	ActorRole string
	CourierID string
	Reason    string
}

// StateMachine enforces the order lifecycle. All writes are
// conditional on the status the decision was made against, retried
// against fresh state up to a configured budget on conflict;
// coordination across instances goes through the datastore, with an
// optional short Redis lock as a fast path.
type StateMachine struct {
	orders   OrderStore
	locker   OrderLocker
	notifier *Notifier
	retries  int
	logger   *zap.Logger
}

// NewStateMachine creates a new state machine service. retries is the
// number of re-reads allowed after a lost conditional write.
func NewStateMachine(orders OrderStore, locker OrderLocker, notifier *Notifier, retries int) *StateMachine {
	if retries < 0 {
		retries = 0
	}
	return &StateMachine{
		orders:   orders,
		locker:   locker,
		notifier: notifier,
		retries:  retries,
		logger:   util.GetLogger(),
	}
}

// Transition applies one actor-driven status change and triggers its
// notification fan-out. Guard violations return ErrForbidden or
// ErrIllegalTransition with no side effects.
func (sm *StateMachine) Transition(ctx context.Context, req *TransitionRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "StateMachine.Transition")
	defer span.End()

	if sm.locker != nil {
		if ok, err := sm.locker.AcquireOrderLock(ctx, req.OrderID, 5*time.Second); err == nil && ok {
			defer func() {
				if err := sm.locker.ReleaseOrderLock(context.WithoutCancel(ctx), req.OrderID); err != nil {
					sm.logger.Warn("Failed to release order lock", zap.Error(err))
				}
			}()
		}
	}

	order, err := sm.orders.GetOrderByID(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}

	var applied bool
	for attempt := 0; ; attempt++ {
		applied, err = sm.attempt(ctx, order, req)
		if err != nil {
			return nil, err
		}
		if applied {
			break
		}
		// Another writer won the race. Re-read and retry against the
		// fresh state, up to the configured budget.
		util.TransitionConflictsTotal.Inc()
		if attempt >= sm.retries {
			return nil, fmt.Errorf("order %s: %w", req.OrderID, models.ErrPersistenceConflict)
		}
		order, err = sm.orders.GetOrderByID(ctx, req.OrderID)
		if err != nil {
			return nil, err
		}
	}

	updated, err := sm.orders.GetOrderByID(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}

	util.TransitionsTotal.WithLabelValues(req.NewStatus).Inc()
	sm.logger.Info("Order transitioned",
		zap.String("order_id", req.OrderID),
		zap.String("from", order.Status),
		zap.String("to", req.NewStatus),
		zap.String("actor_role", req.ActorRole))

	if eventType := eventTypeFor(req.NewStatus); eventType != "" {
		if err := sm.notifier.Dispatch(ctx, eventType, updated, req.Reason); err != nil {
			return nil, fmt.Errorf("transition applied but notification enqueue failed: %w", err)
		}
	}

	return updated, nil
}

// attempt validates guards against one observed order state and issues
// the conditional write. Returns false when the precondition no longer
// held at write time.
func (sm *StateMachine) attempt(ctx context.Context, order *models.Order, req *TransitionRequest) (bool, error) {
	// Edge legality is decided before actor identity: a request for an
	// edge the role can never take is an illegal transition, not a
	// permission problem.
	if !TransitionAllowed(order.Status, req.NewStatus, req.ActorRole) {
		util.TransitionsRejectedTotal.WithLabelValues("illegal_transition").Inc()
		return false, fmt.Errorf("cannot move order %s from %s to %s: %w",
			order.ID, order.Status, req.NewStatus, models.ErrIllegalTransition)
	}
	if err := sm.authorize(order, req); err != nil {
		return false, err
	}

	switch req.NewStatus {
	case models.OrderStatusOutForDelivery:
		courierID := req.CourierID
		if courierID == "" && req.ActorRole == models.RoleCourier {
			courierID = req.ActorID
		}
		if courierID == "" {
			return false, fmt.Errorf("courier id required for out_for_delivery: %w", models.ErrValidation)
		}
		if order.CourierID.Valid {
			// Courier assignment is immutable.
			return false, fmt.Errorf("order %s already has a courier: %w", order.ID, models.ErrIllegalTransition)
		}
		return sm.orders.AssignCourier(ctx, order.ID, courierID)
	case models.OrderStatusDelivered:
		return sm.orders.MarkDelivered(ctx, order.ID)
	default:
		return sm.orders.UpdateOrderStatus(ctx, order.ID, order.Status, req.NewStatus)
	}
}

// authorize checks that the acting identity owns the role it claims
// for this order.
func (sm *StateMachine) authorize(order *models.Order, req *TransitionRequest) error {
	switch req.ActorRole {
	case models.RoleMerchant:
		if req.ActorID != order.MerchantID {
			util.TransitionsRejectedTotal.WithLabelValues("forbidden").Inc()
			return fmt.Errorf("actor %s is not the merchant of order %s: %w", req.ActorID, order.ID, models.ErrForbidden)
		}
	case models.RoleBuyer:
		if req.ActorID != order.BuyerID {
			util.TransitionsRejectedTotal.WithLabelValues("forbidden").Inc()
			return fmt.Errorf("actor %s is not the buyer of order %s: %w", req.ActorID, order.ID, models.ErrForbidden)
		}
	case models.RoleCourier:
		// Delivery requires being the assigned courier; picking an
		// order up only requires the courier role (assignment happens
		// on that edge).
		if req.NewStatus == models.OrderStatusDelivered &&
			(!order.CourierID.Valid || order.CourierID.String != req.ActorID) {
			util.TransitionsRejectedTotal.WithLabelValues("forbidden").Inc()
			return fmt.Errorf("actor %s is not the assigned courier of order %s: %w", req.ActorID, order.ID, models.ErrForbidden)
		}
	case models.RoleSystem:
		// Internal callers only; never reachable from the HTTP layer.
	default:
		util.TransitionsRejectedTotal.WithLabelValues("unknown_role").Inc()
		return fmt.Errorf("unknown actor role %q: %w", req.ActorRole, models.ErrForbidden)
	}
	return nil
}

// SystemAdvance moves an order on behalf of the reconciler, sharing
// the same guard table but skipping notification dispatch: the payment
// event that triggered it carries its own fan-out. Returns false when
// the edge is not legal from the order's current state.
func (sm *StateMachine) SystemAdvance(ctx context.Context, order *models.Order, next string) (bool, error) {
	if !TransitionAllowed(order.Status, next, models.RoleSystem) {
		return false, nil
	}
	applied, err := sm.orders.UpdateOrderStatus(ctx, order.ID, order.Status, next)
	if err != nil {
		return false, err
	}
	if applied {
		util.TransitionsTotal.WithLabelValues(next).Inc()
	}
	return applied, nil
}
