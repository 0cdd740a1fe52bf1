package service

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"commerce-sync/internal/chain"
	"commerce-sync/internal/models"
)

// Workflow errors surfaced by the reconcilers and the orchestrator.
var (
	// ErrNotReadyForRelease means the operator has not marked the shipment
	// en route, so funds must not move yet.
	ErrNotReadyForRelease = errors.New("order not ready for release")

	// ErrEscrowRecordNotFound means the chain has no readable escrow record
	// for the order.
	ErrEscrowRecordNotFound = errors.New("escrow record not found")

	// ErrReleaseFailed wraps a release or refund submission failure that
	// survived the mandatory post-failure chain re-read.
	ErrReleaseFailed = errors.New("escrow release failed")
)

// Ledger is the read and call-building surface of the chain gateway.
// *chain.Gateway implements it; tests substitute fakes.
type Ledger interface {
	ProductCount(ctx context.Context) (int64, error)
	ProductInfo(ctx context.Context, index int64) (*chain.ProductRecord, error)
	EscrowOrder(ctx context.Context, orderID string) (*chain.EscrowOrder, error)

	RegisterProductCall() (chain.Call, error)
	SetProductInfoCall(index int64, record *chain.ProductRecord) (chain.Call, error)
	CreateOrderCall(orderID string, seller common.Address, amountWei *big.Int) (chain.Call, error)
	ConfirmDeliveryCall(orderID string) (chain.Call, error)
	RefundCall(orderID string) (chain.Call, error)
}

// TxSender submits mutating calls with gas budgeting. *chain.Submitter
// implements it.
type TxSender interface {
	SendWithMargin(ctx context.Context, call chain.Call) (*chain.Receipt, error)
}

// Store is the local document-store surface the engine needs. *store.Store
// implements it; tests use an in-memory fake.
type Store interface {
	LoadProducts(ctx context.Context) ([]models.Product, error)
	SaveProducts(ctx context.Context, products []models.Product) error
	LoadOrders(ctx context.Context) ([]models.Order, error)
	SaveOrders(ctx context.Context, orders []models.Order) error

	GetProduct(ctx context.Context, productID string) (*models.Product, error)
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	UpdateProduct(ctx context.Context, productID string, fn func(*models.Product) error) (*models.Product, error)
	UpdateOrder(ctx context.Context, orderID string, fn func(*models.Order) error) (*models.Order, error)
	AppendOrder(ctx context.Context, order models.Order) error
	DeleteOrder(ctx context.Context, orderID string) error
}
