package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commerce-sync/internal/chain"
	"commerce-sync/internal/models"
	"commerce-sync/internal/store"
)

func newDeliveryFixture() (*memStore, *fakeLedger, *fakeSender, *DeliveryOrchestrator) {
	st := &memStore{}
	ledger := newFakeLedger()
	sender := newFakeSender(ledger)
	orchestrator := NewDeliveryOrchestrator(st, ledger, sender, NewOrderReconciler(st), nil)
	return st, ledger, sender, orchestrator
}

func TestConfirmDeliveryRequiresOutForDelivery(t *testing.T) {
	st, ledger, sender, orchestrator := newDeliveryFixture()
	seedOrder(st, "ORD-1", models.OrderStatusPaidEscrow)
	ledger.setEscrow("ORD-1", chain.EscrowStatusFundsLocked)

	_, err := orchestrator.ConfirmDelivery(context.Background(), "ORD-1")

	assert.ErrorIs(t, err, ErrNotReadyForRelease)
	// The gate fails before any chain interaction.
	assert.Zero(t, ledger.escrowReads)
	assert.Empty(t, sender.sent())
}

func TestConfirmDeliveryReleasesEscrow(t *testing.T) {
	st, ledger, sender, orchestrator := newDeliveryFixture()
	seedOrder(st, "ORD-1", models.OrderStatusShipped)
	st.orders[0].DeliveryStatus = models.DeliveryStatusOutForDelivery
	ledger.setEscrow("ORD-1", chain.EscrowStatusFundsLocked)

	order, err := orchestrator.ConfirmDelivery(context.Background(), "ORD-1")
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusReleased, order.Status)
	assert.NotEmpty(t, order.TxHash)
	assert.NotNil(t, order.ReleasedAt)
	assert.Equal(t, chain.EscrowStatusReleased, ledger.escrowStatus("ORD-1"))
	assert.Len(t, sender.sent(), 1)
}

func TestConfirmDeliveryUnknownOrder(t *testing.T) {
	_, _, _, orchestrator := newDeliveryFixture()

	_, err := orchestrator.ConfirmDelivery(context.Background(), "ORD-missing")
	assert.ErrorIs(t, err, store.ErrOrderNotFound)
}

func TestConfirmDeliveryMissingEscrowRecord(t *testing.T) {
	st, _, _, orchestrator := newDeliveryFixture()
	seedOrder(st, "ORD-1", models.OrderStatusShipped)
	st.orders[0].DeliveryStatus = models.DeliveryStatusOutForDelivery

	_, err := orchestrator.ConfirmDelivery(context.Background(), "ORD-1")
	assert.ErrorIs(t, err, ErrEscrowRecordNotFound)
}

func TestConfirmDeliveryAlreadySettled(t *testing.T) {
	st, ledger, sender, orchestrator := newDeliveryFixture()
	seedOrder(st, "ORD-1", models.OrderStatusShipped)
	st.orders[0].DeliveryStatus = models.DeliveryStatusOutForDelivery
	ledger.setEscrow("ORD-1", chain.EscrowStatusReleased)

	order, err := orchestrator.ConfirmDelivery(context.Background(), "ORD-1")
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusReleased, order.Status)
	assert.Empty(t, sender.sent(), "settled escrow must not be re-submitted")
}

func TestConfirmDeliveryRechecksAfterLostRace(t *testing.T) {
	st, ledger, sender, orchestrator := newDeliveryFixture()
	seedOrder(st, "ORD-1", models.OrderStatusShipped)
	st.orders[0].DeliveryStatus = models.DeliveryStatusOutForDelivery
	ledger.setEscrow("ORD-1", chain.EscrowStatusFundsLocked)

	// Another actor settles between our escrow read and our submission.
	sender.beforeSend = func(chain.Call, int) error {
		ledger.setEscrow("ORD-1", chain.EscrowStatusReleased)
		return &chain.SubmissionError{Cause: &chain.RevertError{Reason: "Not locked"}}
	}

	order, err := orchestrator.ConfirmDelivery(context.Background(), "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusReleased, order.Status)
}

func TestConfirmDeliveryFailureSurfaces(t *testing.T) {
	st, ledger, _, orchestrator := newDeliveryFixture()
	seedOrder(st, "ORD-1", models.OrderStatusShipped)
	st.orders[0].DeliveryStatus = models.DeliveryStatusOutForDelivery
	ledger.setEscrow("ORD-1", chain.EscrowStatusFundsLocked)

	sender := orchestrator.sender.(*fakeSender)
	sender.beforeSend = func(chain.Call, int) error {
		return &chain.SubmissionError{Cause: chain.ErrUnreachable}
	}

	_, err := orchestrator.ConfirmDelivery(context.Background(), "ORD-1")
	assert.ErrorIs(t, err, ErrReleaseFailed)

	// Funds never moved, local record untouched.
	order, getErr := st.GetOrder(context.Background(), "ORD-1")
	require.NoError(t, getErr)
	assert.Equal(t, models.OrderStatusShipped, order.Status)
}

func TestConcurrentConfirmsBothSucceed(t *testing.T) {
	st, ledger, _, orchestrator := newDeliveryFixture()
	seedOrder(st, "ORD-1", models.OrderStatusShipped)
	st.orders[0].DeliveryStatus = models.DeliveryStatusOutForDelivery
	ledger.setEscrow("ORD-1", chain.EscrowStatusFundsLocked)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = orchestrator.ConfirmDelivery(context.Background(), "ORD-1")
		}(i)
	}
	wg.Wait()

	// The loser of the race converges on the winner's outcome instead of
	// surfacing a failure.
	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])

	order, err := st.GetOrder(context.Background(), "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusReleased, order.Status)
	assert.NotEmpty(t, order.TxHash)
	assert.Equal(t, chain.EscrowStatusReleased, ledger.escrowStatus("ORD-1"))
}

func TestRefundDoesNotRequireDelivery(t *testing.T) {
	st, ledger, _, orchestrator := newDeliveryFixture()
	seedOrder(st, "ORD-1", models.OrderStatusPaidEscrow)
	ledger.setEscrow("ORD-1", chain.EscrowStatusFundsLocked)

	order, err := orchestrator.Refund(context.Background(), "ORD-1")
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusRefunded, order.Status)
	assert.NotNil(t, order.RefundedAt)
	assert.Equal(t, chain.EscrowStatusRefunded, ledger.escrowStatus("ORD-1"))
}

func TestUpdateDeliveryStatusMirrorsOrderStatus(t *testing.T) {
	st, _, _, orchestrator := newDeliveryFixture()
	seedOrder(st, "ORD-1", models.OrderStatusPaidEscrow)

	order, err := orchestrator.UpdateDeliveryStatus(context.Background(), "ORD-1", models.DeliveryStatusOutForDelivery)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusShipped, order.Status)
	assert.NotNil(t, order.DeliveryUpdatedAt)

	order, err = orchestrator.UpdateDeliveryStatus(context.Background(), "ORD-1", models.DeliveryStatusDelivered)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusDelivered, order.Status)
}

func TestUpdateDeliveryStatusKeepsTerminalStatus(t *testing.T) {
	st, _, _, orchestrator := newDeliveryFixture()
	seedOrder(st, "ORD-1", models.OrderStatusReleased)

	order, err := orchestrator.UpdateDeliveryStatus(context.Background(), "ORD-1", models.DeliveryStatusDelivered)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusReleased, order.Status)
	assert.Equal(t, models.DeliveryStatusDelivered, order.DeliveryStatus)
}

func TestUpdateDeliveryStatusRejectsUnknownValue(t *testing.T) {
	st, _, _, orchestrator := newDeliveryFixture()
	seedOrder(st, "ORD-1", models.OrderStatusPaidEscrow)

	_, err := orchestrator.UpdateDeliveryStatus(context.Background(), "ORD-1", "TELEPORTED")
	assert.Error(t, err)
}

func TestOrderDetailsFallsBackWhenChainUnreachable(t *testing.T) {
	st, ledger, _, orchestrator := newDeliveryFixture()
	seedOrder(st, "ORD-1", models.OrderStatusPaidEscrow)
	ledger.escrowErr = chain.ErrUnreachable

	order, escrow, err := orchestrator.OrderDetails(context.Background(), "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, "ORD-1", order.OrderID)
	assert.Nil(t, escrow)
}

func TestOrderDetailsConvergesLocalState(t *testing.T) {
	st, ledger, _, orchestrator := newDeliveryFixture()
	seedOrder(st, "ORD-1", models.OrderStatusPaidEscrow)
	ledger.setEscrow("ORD-1", chain.EscrowStatusReleased)

	order, escrow, err := orchestrator.OrderDetails(context.Background(), "ORD-1")
	require.NoError(t, err)
	require.NotNil(t, escrow)
	assert.Equal(t, chain.EscrowStatusReleased, escrow.Status)
	assert.Equal(t, models.OrderStatusReleased, order.Status)
}
