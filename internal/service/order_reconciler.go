package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"commerce-sync/internal/chain"
	"commerce-sync/internal/models"
	"commerce-sync/internal/store"
	"commerce-sync/internal/util"
)

// OrderReconciler maps chain escrow state onto the local order record. The
// operation is idempotent by construction: the same chain status always
// yields the same local fields, terminal statuses are never regressed, and
// txHash/releasedAt/refundedAt are set-once.
type OrderReconciler struct {
	store  Store
	logger *zap.Logger
}

// NewOrderReconciler creates a new order reconciler
func NewOrderReconciler(st Store) *OrderReconciler {
	return &OrderReconciler{
		store:  st,
		logger: util.GetLogger(),
	}
}

// statusFromEscrow maps the escrow contract's numeric status to the local
// order status. Status None maps to empty: nothing to apply.
func statusFromEscrow(escrowStatus uint8) string {
	switch escrowStatus {
	case chain.EscrowStatusFundsLocked:
		return models.OrderStatusPaidEscrow
	case chain.EscrowStatusReleased:
		return models.OrderStatusReleased
	case chain.EscrowStatusRefunded:
		return models.OrderStatusRefunded
	default:
		return ""
	}
}

// SyncOrderStatusFromChain applies an observed escrow status to the local
// order. txHash may be empty when the observation did not come from our own
// submission; a non-empty hash is recorded only if the order has none yet
// (first writer wins). A missing local order is a no-op: order creation is
// the off-chain flow's job, not the reconciler's.
func (r *OrderReconciler) SyncOrderStatusFromChain(ctx context.Context, orderID string, escrowStatus uint8, txHash string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderReconciler.SyncOrderStatusFromChain")
	defer span.End()

	mapped := statusFromEscrow(escrowStatus)
	if mapped == "" {
		return nil, nil
	}

	updated, err := r.store.UpdateOrder(ctx, orderID, func(order *models.Order) error {
		applyEscrowStatus(order, mapped, txHash, time.Now())
		return nil
	})
	if errors.Is(err, store.ErrOrderNotFound) {
		r.logger.Debug("Skipping escrow sync for unknown order", zap.String("order_id", orderID))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	util.OrdersSyncedTotal.WithLabelValues(mapped).Inc()
	return updated, nil
}

// applyEscrowStatus is the single place local order state converges toward
// chain truth.
func applyEscrowStatus(order *models.Order, mapped, txHash string, now time.Time) {
	// A terminal local status only ever moves to the chain's own terminal
	// value; a non-terminal observation can never walk it back.
	if models.IsTerminalStatus(order.Status) && !models.IsTerminalStatus(mapped) {
		return
	}
	order.Status = mapped

	switch mapped {
	case models.OrderStatusReleased:
		if order.ReleasedAt == nil {
			t := now
			order.ReleasedAt = &t
		}
		if order.TxHash == "" && txHash != "" {
			order.TxHash = txHash
		}
	case models.OrderStatusRefunded:
		if order.RefundedAt == nil {
			t := now
			order.RefundedAt = &t
		}
		if order.TxHash == "" && txHash != "" {
			order.TxHash = txHash
		}
	}
}
