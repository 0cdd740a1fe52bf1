package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"commerce-sync/internal/broker"
	"commerce-sync/internal/chain"
	"commerce-sync/internal/models"
	"commerce-sync/internal/util"
)

// DeliveryOrchestrator drives the gated two-phase release protocol. Funds
// move only when the operator-driven delivery workflow and the chain escrow
// state both say it is safe, and every submission failure is followed by a
// chain re-read before the failure is believed.
type DeliveryOrchestrator struct {
	store     Store
	ledger    Ledger
	sender    TxSender
	orders    *OrderReconciler
	publisher *broker.EventPublisher
	logger    *zap.Logger
}

// NewDeliveryOrchestrator creates a new delivery orchestrator
func NewDeliveryOrchestrator(
	st Store,
	ledger Ledger,
	sender TxSender,
	orders *OrderReconciler,
	publisher *broker.EventPublisher,
) *DeliveryOrchestrator {
	return &DeliveryOrchestrator{
		store:     st,
		ledger:    ledger,
		sender:    sender,
		orders:    orders,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// ConfirmDelivery releases escrowed funds for an order. The local delivery
// workflow must already be OUT_FOR_DELIVERY; a chain record that is no
// longer FundsLocked means some other path settled the order, which is
// reconciled and reported as success rather than failure.
func (do *DeliveryOrchestrator) ConfirmDelivery(ctx context.Context, orderID string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "DeliveryOrchestrator.ConfirmDelivery")
	defer span.End()

	order, err := do.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.DeliveryStatus != models.DeliveryStatusOutForDelivery {
		util.ReleaseFailuresTotal.WithLabelValues("not_ready").Inc()
		return nil, fmt.Errorf("%w: delivery status is %q, want %q",
			ErrNotReadyForRelease, order.DeliveryStatus, models.DeliveryStatusOutForDelivery)
	}

	call, err := do.ledger.ConfirmDeliveryCall(orderID)
	if err != nil {
		return nil, err
	}
	return do.settle(ctx, orderID, call, models.OrderStatusReleased)
}

// Refund returns escrowed funds to the buyer. A refund is allowed any time
// the chain still holds the funds; the local delivery precondition does not
// apply.
func (do *DeliveryOrchestrator) Refund(ctx context.Context, orderID string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "DeliveryOrchestrator.Refund")
	defer span.End()

	if _, err := do.store.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}

	call, err := do.ledger.RefundCall(orderID)
	if err != nil {
		return nil, err
	}
	return do.settle(ctx, orderID, call, models.OrderStatusRefunded)
}

// settle is the shared two-phase gate: read the escrow record, short-circuit
// if some other path already settled it, otherwise submit and, on failure,
// re-read once before propagating.
func (do *DeliveryOrchestrator) settle(ctx context.Context, orderID string, call chain.Call, want string) (*models.Order, error) {
	escrow, err := do.ledger.EscrowOrder(ctx, orderID)
	if err != nil {
		util.ReleaseFailuresTotal.WithLabelValues("escrow_unreadable").Inc()
		return nil, fmt.Errorf("%w: %v", ErrEscrowRecordNotFound, err)
	}

	if escrow.Status != chain.EscrowStatusFundsLocked {
		// Already settled by a concurrent confirmation or a manual chain
		// interaction. Converge local state and report success.
		do.logger.Info("Escrow already settled, reconciling local state",
			zap.String("order_id", orderID),
			zap.Uint8("escrow_status", escrow.Status))
		return do.orders.SyncOrderStatusFromChain(ctx, orderID, escrow.Status, "")
	}

	receipt, err := do.sender.SendWithMargin(ctx, call)
	if err != nil {
		// Submission failure does not prove the chain state is unchanged:
		// a concurrent caller may have won the race, and our own revert may
		// just be the duplicate-submission symptom of that. Re-read once.
		if settled := do.recheck(ctx, orderID); settled != nil {
			return settled, nil
		}
		util.ReleaseFailuresTotal.WithLabelValues("submission").Inc()
		do.logger.Error("Escrow settlement failed",
			zap.String("order_id", orderID),
			zap.String("call", call.Name),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrReleaseFailed, err)
	}

	status := chain.EscrowStatusReleased
	if want == models.OrderStatusRefunded {
		status = chain.EscrowStatusRefunded
	}
	updated, err := do.orders.SyncOrderStatusFromChain(ctx, orderID, status, receipt.TxHash)
	if err != nil {
		return nil, err
	}

	do.publishSettled(ctx, orderID, want, receipt.TxHash)
	if want == models.OrderStatusRefunded {
		util.RefundsTotal.Inc()
	} else {
		util.ReleasesTotal.Inc()
	}
	do.logger.Info("Escrow settled",
		zap.String("order_id", orderID),
		zap.String("status", want),
		zap.String("tx_hash", receipt.TxHash))
	return updated, nil
}

// recheck re-reads the escrow record after a failed submission and returns
// the reconciled order if the chain shows a terminal status, nil otherwise.
func (do *DeliveryOrchestrator) recheck(ctx context.Context, orderID string) *models.Order {
	escrow, err := do.ledger.EscrowOrder(ctx, orderID)
	if err != nil || escrow.Status == chain.EscrowStatusFundsLocked {
		return nil
	}
	updated, err := do.orders.SyncOrderStatusFromChain(ctx, orderID, escrow.Status, "")
	if err != nil {
		do.logger.Error("Failed to reconcile after settlement race",
			zap.String("order_id", orderID),
			zap.Error(err))
		return nil
	}
	return updated
}

// UpdateDeliveryStatus advances the operator-driven fulfillment axis and
// mirrors it onto the business status where that is still allowed.
func (do *DeliveryOrchestrator) UpdateDeliveryStatus(ctx context.Context, orderID, deliveryStatus string) (*models.Order, error) {
	switch deliveryStatus {
	case models.DeliveryStatusPending, models.DeliveryStatusOutForDelivery, models.DeliveryStatusDelivered:
	default:
		return nil, fmt.Errorf("invalid delivery status: %q", deliveryStatus)
	}

	return do.store.UpdateOrder(ctx, orderID, func(order *models.Order) error {
		order.DeliveryStatus = deliveryStatus
		now := time.Now()
		order.DeliveryUpdatedAt = &now

		if !models.IsTerminalStatus(order.Status) {
			switch deliveryStatus {
			case models.DeliveryStatusOutForDelivery:
				order.Status = models.OrderStatusShipped
			case models.DeliveryStatusDelivered:
				order.Status = models.OrderStatusDelivered
			}
		}
		return nil
	})
}

// OrderDetails returns the local order together with the escrow record when
// the chain is reachable. The lookup is a sequential pipeline: attempt the
// chain read, converge local state on success, fall back to the local record
// alone when the chain cannot answer.
func (do *DeliveryOrchestrator) OrderDetails(ctx context.Context, orderID string) (*models.Order, *chain.EscrowOrder, error) {
	escrow, chainErr := do.ledger.EscrowOrder(ctx, orderID)
	if chainErr == nil {
		if synced, err := do.orders.SyncOrderStatusFromChain(ctx, orderID, escrow.Status, ""); err == nil && synced != nil {
			return synced, escrow, nil
		}
	}

	order, err := do.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, escrow, err
	}
	if chainErr != nil {
		do.logger.Debug("Escrow record unreadable, serving local order only",
			zap.String("order_id", orderID),
			zap.Error(chainErr))
		escrow = nil
	}
	return order, escrow, nil
}

func (do *DeliveryOrchestrator) publishSettled(ctx context.Context, orderID, status, txHash string) {
	if do.publisher == nil {
		return
	}
	base := models.BaseEvent{
		EventID:   uuid.New().String(),
		Timestamp: time.Now(),
	}
	var err error
	if status == models.OrderStatusRefunded {
		base.EventType = models.EventTypeOrderRefunded
		err = do.publisher.PublishOrderRefunded(ctx, &models.OrderRefundedEvent{
			BaseEvent: base, OrderID: orderID, TxHash: txHash,
		})
	} else {
		base.EventType = models.EventTypeOrderReleased
		err = do.publisher.PublishOrderReleased(ctx, &models.OrderReleasedEvent{
			BaseEvent: base, OrderID: orderID, TxHash: txHash,
		})
	}
	if err != nil {
		do.logger.Error("Failed to publish settlement event",
			zap.String("order_id", orderID),
			zap.Error(err))
	}
}
