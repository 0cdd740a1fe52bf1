package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"commerce-sync/internal/chain"
	"commerce-sync/internal/models"
	"commerce-sync/internal/store"
)

// memStore is an in-memory Store for tests.
type memStore struct {
	mu       sync.Mutex
	products []models.Product
	orders   []models.Order
}

func (m *memStore) LoadProducts(context.Context) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Product, len(m.products))
	copy(out, m.products)
	return out, nil
}

func (m *memStore) SaveProducts(_ context.Context, products []models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products = make([]models.Product, len(products))
	copy(m.products, products)
	return nil
}

func (m *memStore) LoadOrders(context.Context) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Order, len(m.orders))
	copy(out, m.orders)
	return out, nil
}

func (m *memStore) SaveOrders(_ context.Context, orders []models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders = make([]models.Order, len(orders))
	copy(m.orders, orders)
	return nil
}

func (m *memStore) GetProduct(_ context.Context, productID string) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.products {
		if m.products[i].ProductID == productID {
			p := m.products[i]
			return &p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", store.ErrProductNotFound, productID)
}

func (m *memStore) GetOrder(_ context.Context, orderID string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.orders {
		if m.orders[i].OrderID == orderID {
			o := m.orders[i]
			return &o, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", store.ErrOrderNotFound, orderID)
}

func (m *memStore) UpdateProduct(_ context.Context, productID string, fn func(*models.Product) error) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.products {
		if m.products[i].ProductID == productID {
			if err := fn(&m.products[i]); err != nil {
				return nil, err
			}
			p := m.products[i]
			return &p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", store.ErrProductNotFound, productID)
}

func (m *memStore) UpdateOrder(_ context.Context, orderID string, fn func(*models.Order) error) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.orders {
		if m.orders[i].OrderID == orderID {
			if err := fn(&m.orders[i]); err != nil {
				return nil, err
			}
			o := m.orders[i]
			return &o, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", store.ErrOrderNotFound, orderID)
}

func (m *memStore) AppendOrder(_ context.Context, order models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.orders {
		if m.orders[i].OrderID == order.OrderID {
			return fmt.Errorf("%w: %s", store.ErrOrderExists, order.OrderID)
		}
	}
	m.orders = append(m.orders, order)
	return nil
}

func (m *memStore) DeleteOrder(_ context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.orders {
		if m.orders[i].OrderID == orderID {
			m.orders = append(m.orders[:i], m.orders[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", store.ErrOrderNotFound, orderID)
}

// fakeCall is the payload fake ledger calls carry in Call.Data so the fake
// sender can apply the mutation when, and only when, it is submitted.
type fakeCall struct {
	Op        string               `json:"op"`
	Index     int64                `json:"index,omitempty"`
	Record    *chain.ProductRecord `json:"record,omitempty"`
	OrderID   string               `json:"orderId,omitempty"`
	AmountWei *big.Int             `json:"amountWei,omitempty"`
}

func encodeCall(name string, payload fakeCall) (chain.Call, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return chain.Call{}, err
	}
	return chain.Call{Name: name, Data: data, Value: payload.AmountWei}, nil
}

// fakeLedger is an in-memory registry and escrow contract pair.
type fakeLedger struct {
	mu       sync.Mutex
	count    int64
	products map[int64]*chain.ProductRecord
	escrows  map[string]*chain.EscrowOrder

	escrowReads int
	countErr    error
	infoErrs    map[int64]error
	escrowErr   error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		products: make(map[int64]*chain.ProductRecord),
		escrows:  make(map[string]*chain.EscrowOrder),
	}
}

func (l *fakeLedger) ProductCount(context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.countErr != nil {
		return 0, l.countErr
	}
	return l.count, nil
}

func (l *fakeLedger) ProductInfo(_ context.Context, index int64) (*chain.ProductRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.infoErrs[index]; err != nil {
		return nil, err
	}
	record, ok := l.products[index]
	if !ok {
		return nil, fmt.Errorf("%w: product index %d", chain.ErrNotFound, index)
	}
	copied := *record
	return &copied, nil
}

func (l *fakeLedger) EscrowOrder(_ context.Context, orderID string) (*chain.EscrowOrder, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.escrowReads++
	if l.escrowErr != nil {
		return nil, l.escrowErr
	}
	record, ok := l.escrows[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: escrow order %s", chain.ErrNotFound, orderID)
	}
	copied := *record
	return &copied, nil
}

func (l *fakeLedger) RegisterProductCall() (chain.Call, error) {
	return encodeCall("registerProduct", fakeCall{Op: "register"})
}

func (l *fakeLedger) SetProductInfoCall(index int64, record *chain.ProductRecord) (chain.Call, error) {
	return encodeCall("addProductInfo", fakeCall{Op: "set", Index: index, Record: record})
}

func (l *fakeLedger) CreateOrderCall(orderID string, _ common.Address, amountWei *big.Int) (chain.Call, error) {
	return encodeCall("createOrder", fakeCall{Op: "create", OrderID: orderID, AmountWei: amountWei})
}

func (l *fakeLedger) ConfirmDeliveryCall(orderID string) (chain.Call, error) {
	return encodeCall("confirmDelivery", fakeCall{Op: "confirm", OrderID: orderID})
}

func (l *fakeLedger) RefundCall(orderID string) (chain.Call, error) {
	return encodeCall("refund", fakeCall{Op: "refund", OrderID: orderID})
}

// apply commits a submitted call's mutation to the fake contract state.
func (l *fakeLedger) apply(payload fakeCall) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch payload.Op {
	case "register":
		l.count++
	case "set":
		l.products[payload.Index] = payload.Record
	case "create":
		if _, ok := l.escrows[payload.OrderID]; ok {
			return &chain.RevertError{Reason: "Order exists"}
		}
		l.escrows[payload.OrderID] = &chain.EscrowOrder{
			OrderID:   payload.OrderID,
			AmountWei: payload.AmountWei,
			Status:    chain.EscrowStatusFundsLocked,
			CreatedAt: big.NewInt(0),
		}
	case "confirm", "refund":
		record, ok := l.escrows[payload.OrderID]
		if !ok || record.Status != chain.EscrowStatusFundsLocked {
			return &chain.RevertError{Reason: "Not locked"}
		}
		if payload.Op == "confirm" {
			record.Status = chain.EscrowStatusReleased
		} else {
			record.Status = chain.EscrowStatusRefunded
		}
	}
	return nil
}

func (l *fakeLedger) setEscrow(orderID string, status uint8) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.escrows[orderID] = &chain.EscrowOrder{
		OrderID:   orderID,
		AmountWei: big.NewInt(1),
		Status:    status,
		CreatedAt: big.NewInt(0),
	}
}

func (l *fakeLedger) escrowStatus(orderID string) uint8 {
	l.mu.Lock()
	defer l.mu.Unlock()
	record, ok := l.escrows[orderID]
	if !ok {
		return chain.EscrowStatusNone
	}
	return record.Status
}

// fakeSender applies submitted calls to the fake ledger, handing back
// sequence-numbered receipts. beforeSend, when set, can fail a submission
// or mutate contract state first.
type fakeSender struct {
	ledger *fakeLedger

	mu         sync.Mutex
	calls      []chain.Call
	seq        int
	beforeSend func(call chain.Call, seq int) error
}

func newFakeSender(ledger *fakeLedger) *fakeSender {
	return &fakeSender{ledger: ledger}
}

func (s *fakeSender) SendWithMargin(_ context.Context, call chain.Call) (*chain.Receipt, error) {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.calls = append(s.calls, call)
	s.mu.Unlock()

	if s.beforeSend != nil {
		if err := s.beforeSend(call, seq); err != nil {
			return nil, err
		}
	}

	var payload fakeCall
	if err := json.Unmarshal(call.Data, &payload); err != nil {
		return nil, err
	}
	if err := s.ledger.apply(payload); err != nil {
		return nil, &chain.SubmissionError{TxHash: fmt.Sprintf("0x%04x", seq), Cause: err}
	}
	return &chain.Receipt{TxHash: fmt.Sprintf("0x%04x", seq), GasUsed: 21000}, nil
}

func (s *fakeSender) sent() []chain.Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chain.Call, len(s.calls))
	copy(out, s.calls)
	return out
}
