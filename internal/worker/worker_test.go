package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commerce-sync/internal/broker"
	"commerce-sync/internal/chain"
	"commerce-sync/internal/models"
)

type fakeOrderSource struct {
	orders []models.Order
}

func (f *fakeOrderSource) LoadOrders(context.Context) ([]models.Order, error) {
	return f.orders, nil
}

type fakeLedger struct {
	mu      sync.Mutex
	escrows map[string]uint8
}

func (l *fakeLedger) EscrowOrder(_ context.Context, orderID string) (*chain.EscrowOrder, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	status, ok := l.escrows[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: escrow order %s", chain.ErrNotFound, orderID)
	}
	return &chain.EscrowOrder{OrderID: orderID, Status: status}, nil
}

func (l *fakeLedger) ProductCount(context.Context) (int64, error) { return 0, nil }
func (l *fakeLedger) ProductInfo(context.Context, int64) (*chain.ProductRecord, error) {
	return nil, chain.ErrNotFound
}
func (l *fakeLedger) RegisterProductCall() (chain.Call, error) { return chain.Call{}, nil }
func (l *fakeLedger) SetProductInfoCall(int64, *chain.ProductRecord) (chain.Call, error) {
	return chain.Call{}, nil
}
func (l *fakeLedger) CreateOrderCall(string, common.Address, *big.Int) (chain.Call, error) {
	return chain.Call{}, nil
}
func (l *fakeLedger) ConfirmDeliveryCall(string) (chain.Call, error) { return chain.Call{}, nil }
func (l *fakeLedger) RefundCall(string) (chain.Call, error)          { return chain.Call{}, nil }

type fakePublisher struct {
	mu     sync.Mutex
	events []*models.EscrowStatusObservedEvent
}

func (p *fakePublisher) PublishEscrowStatusObserved(_ context.Context, event *models.EscrowStatusObservedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

type fakeEventLog struct {
	mu        sync.Mutex
	processed map[string]bool
}

func (l *fakeEventLog) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.processed[eventID], nil
}

func (l *fakeEventLog) MarkEventProcessed(_ context.Context, eventID, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.processed == nil {
		l.processed = make(map[string]bool)
	}
	l.processed[eventID] = true
	return nil
}

func observationMessage(t *testing.T, eventID, orderID string, status uint8) kafka.Message {
	t.Helper()
	event := models.EscrowStatusObservedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   eventID,
			EventType: models.EventTypeEscrowStatusObserved,
			Timestamp: time.Now(),
		},
		OrderID:      orderID,
		EscrowStatus: status,
	}
	value, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Value: value}
}

func TestEscrowPollerPublishesDrift(t *testing.T) {
	source := &fakeOrderSource{orders: []models.Order{
		{OrderID: "ORD-settled", Status: models.OrderStatusPaidEscrow},
		{OrderID: "ORD-quiet", Status: models.OrderStatusPaidEscrow},
		{OrderID: "ORD-done", Status: models.OrderStatusReleased},
		{OrderID: "ORD-gone", Status: models.OrderStatusPaidEscrow},
	}}
	ledger := &fakeLedger{escrows: map[string]uint8{
		"ORD-settled": chain.EscrowStatusReleased,
		"ORD-quiet":   chain.EscrowStatusFundsLocked,
		"ORD-done":    chain.EscrowStatusReleased,
	}}
	publisher := &fakePublisher{}
	poller := NewEscrowPoller(source, ledger, publisher, time.Minute)

	poller.poll(context.Background())

	// Only the order whose chain status drifted from the local record is
	// published; terminal and in-sync orders stay quiet, a missing escrow
	// record is skipped.
	require.Len(t, publisher.events, 1)
	assert.Equal(t, "ORD-settled", publisher.events[0].OrderID)
	assert.Equal(t, chain.EscrowStatusReleased, publisher.events[0].EscrowStatus)
	assert.NotEmpty(t, publisher.events[0].EventID)
}

func TestEventHandlerDedupesByEventID(t *testing.T) {
	log := &fakeEventLog{}
	applied := 0
	handler := broker.NewEventHandler()
	handler.OnEscrowStatusObserved(func(ctx context.Context, event *models.EscrowStatusObservedEvent) error {
		processed, err := log.IsEventProcessed(ctx, event.EventID)
		if err != nil {
			return err
		}
		if processed {
			return nil
		}
		applied++
		return log.MarkEventProcessed(ctx, event.EventID, event.EventType)
	})

	msg := observationMessage(t, "evt-1", "ORD-1", chain.EscrowStatusReleased)
	require.NoError(t, handler.HandleMessage(context.Background(), msg))
	require.NoError(t, handler.HandleMessage(context.Background(), msg))

	assert.Equal(t, 1, applied)
}
