package worker

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"commerce-sync/internal/broker"
	"commerce-sync/internal/chain"
	"commerce-sync/internal/models"
	"commerce-sync/internal/redisclient"
	"commerce-sync/internal/service"
	"commerce-sync/internal/util"
)

const reconcileLockKey = "catalog-reconcile"

// OrderSource lists the local order collection for polling.
type OrderSource interface {
	LoadOrders(ctx context.Context) ([]models.Order, error)
}

// ObservationPublisher publishes escrow status observations.
// *broker.EventPublisher implements it.
type ObservationPublisher interface {
	PublishEscrowStatusObserved(ctx context.Context, event *models.EscrowStatusObservedEvent) error
}

// EventLog records processed event IDs so redelivered observations are
// applied at most once.
type EventLog interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// ReconcileWorker runs periodic catalog reconciliation passes under a
// distributed single-flight lock, so overlapping passes never run
// concurrently even with multiple replicas.
type ReconcileWorker struct {
	reconciler *service.CatalogReconciler
	redis      *redisclient.Client
	interval   time.Duration
	logger     *zap.Logger
}

// NewReconcileWorker creates a new reconcile worker
func NewReconcileWorker(reconciler *service.CatalogReconciler, redis *redisclient.Client, interval time.Duration) *ReconcileWorker {
	return &ReconcileWorker{
		reconciler: reconciler,
		redis:      redis,
		interval:   interval,
		logger:     util.GetLogger(),
	}
}

// Start runs reconciliation passes until the context is cancelled. One pass
// runs immediately at startup.
func (w *ReconcileWorker) Start(ctx context.Context) error {
	log.Println("Starting reconcile worker...")

	w.runOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("Reconcile worker context cancelled, stopping...")
			return ctx.Err()
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *ReconcileWorker) runOnce(ctx context.Context) {
	acquired, err := w.redis.AcquireLock(ctx, reconcileLockKey, w.interval)
	if err != nil {
		w.logger.Warn("Failed to acquire reconcile lock", zap.Error(err))
		return
	}
	if !acquired {
		w.logger.Debug("Reconcile pass already running elsewhere, skipping")
		return
	}
	defer func() {
		if err := w.redis.ReleaseLock(ctx, reconcileLockKey); err != nil {
			w.logger.Warn("Failed to release reconcile lock", zap.Error(err))
		}
	}()

	if err := w.reconciler.Reconcile(ctx); err != nil {
		w.logger.Error("Catalog reconciliation pass failed", zap.Error(err))
	}
}

// EscrowPoller watches the escrow contract for orders whose chain status
// drifted from the local record and publishes an observation event for each.
// Applying the observation is the sync worker's job; publishing the same
// observation more than once is harmless because the sync is idempotent.
type EscrowPoller struct {
	store     OrderSource
	ledger    service.Ledger
	publisher ObservationPublisher
	interval  time.Duration
	logger    *zap.Logger
}

// NewEscrowPoller creates a new escrow poller
func NewEscrowPoller(st OrderSource, ledger service.Ledger, publisher ObservationPublisher, interval time.Duration) *EscrowPoller {
	return &EscrowPoller{
		store:     st,
		ledger:    ledger,
		publisher: publisher,
		interval:  interval,
		logger:    util.GetLogger(),
	}
}

// Start polls until the context is cancelled.
func (p *EscrowPoller) Start(ctx context.Context) error {
	log.Println("Starting escrow poller...")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("Escrow poller context cancelled, stopping...")
			return ctx.Err()
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *EscrowPoller) poll(ctx context.Context) {
	orders, err := p.store.LoadOrders(ctx)
	if err != nil {
		p.logger.Error("Failed to load orders for escrow poll", zap.Error(err))
		return
	}

	for i := range orders {
		order := &orders[i]
		if models.IsTerminalStatus(order.Status) {
			continue
		}

		escrow, err := p.ledger.EscrowOrder(ctx, order.OrderID)
		if err != nil {
			// One unreadable order never aborts the poll.
			p.logger.Debug("Escrow record unreadable during poll",
				zap.String("order_id", order.OrderID),
				zap.Error(err))
			continue
		}
		if escrow.Status == chain.EscrowStatusFundsLocked && order.Status == models.OrderStatusPaidEscrow {
			continue
		}

		event := &models.EscrowStatusObservedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeEscrowStatusObserved,
				Timestamp: time.Now(),
			},
			OrderID:      order.OrderID,
			EscrowStatus: escrow.Status,
		}
		if err := p.publisher.PublishEscrowStatusObserved(ctx, event); err != nil {
			p.logger.Error("Failed to publish escrow observation",
				zap.String("order_id", order.OrderID),
				zap.Error(err))
		}
	}
}

// SyncWorker consumes escrow observation events and applies them through the
// order reconciler.
type SyncWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(consumer *broker.Consumer, st EventLog, orders *service.OrderReconciler) *SyncWorker {
	eventHandler := broker.NewEventHandler()
	logger := util.GetLogger()

	eventHandler.OnEscrowStatusObserved(func(ctx context.Context, event *models.EscrowStatusObservedEvent) error {
		processed, err := st.IsEventProcessed(ctx, event.EventID)
		if err != nil {
			return err
		}
		if processed {
			logger.Info("Event already processed", zap.String("event_id", event.EventID))
			return nil
		}

		if _, err := orders.SyncOrderStatusFromChain(ctx, event.OrderID, event.EscrowStatus, ""); err != nil {
			return err
		}
		if err := st.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
			logger.Error("Failed to mark event processed", zap.Error(err))
		}
		return nil
	})

	return &SyncWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
	}
}

// Start starts consuming observation events.
func (w *SyncWorker) Start(ctx context.Context) error {
	log.Println("Starting escrow sync worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *SyncWorker) Stop() error {
	log.Println("Stopping escrow sync worker...")
	return w.consumer.Close()
}
