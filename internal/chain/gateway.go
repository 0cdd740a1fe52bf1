package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"commerce-sync/internal/util"
)

const registryABIJSON = `[
	{"type":"function","name":"registerProduct","stateMutability":"nonpayable","inputs":[],"outputs":[]},
	{"type":"function","name":"getNoOfProducts","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"addProductInfo","stateMutability":"nonpayable","inputs":[
		{"name":"index","type":"uint256"},
		{"name":"id","type":"string"},
		{"name":"name","type":"string"},
		{"name":"category","type":"string"},
		{"name":"releaseDate","type":"string"},
		{"name":"description","type":"string"},
		{"name":"price","type":"uint256"},
		{"name":"stock","type":"uint256"},
		{"name":"image","type":"string"}],"outputs":[]},
	{"type":"function","name":"getProductInfo","stateMutability":"view","inputs":[{"name":"index","type":"uint256"}],"outputs":[
		{"name":"id","type":"string"},
		{"name":"name","type":"string"},
		{"name":"category","type":"string"},
		{"name":"releaseDate","type":"string"},
		{"name":"description","type":"string"},
		{"name":"price","type":"uint256"},
		{"name":"stock","type":"uint256"},
		{"name":"image","type":"string"},
		{"name":"exists","type":"bool"}]}
]`

const escrowABIJSON = `[
	{"type":"function","name":"createOrder","stateMutability":"payable","inputs":[
		{"name":"orderId","type":"string"},
		{"name":"seller","type":"address"}],"outputs":[]},
	{"type":"function","name":"confirmDelivery","stateMutability":"nonpayable","inputs":[{"name":"orderId","type":"string"}],"outputs":[]},
	{"type":"function","name":"refund","stateMutability":"nonpayable","inputs":[{"name":"orderId","type":"string"}],"outputs":[]},
	{"type":"function","name":"getOrder","stateMutability":"view","inputs":[{"name":"orderId","type":"string"}],"outputs":[
		{"name":"buyer","type":"address"},
		{"name":"seller","type":"address"},
		{"name":"amountWei","type":"uint256"},
		{"name":"status","type":"uint8"},
		{"name":"createdAt","type":"uint256"}]}
]`

// Escrow statuses as stored by the escrow contract
const (
	EscrowStatusNone uint8 = iota
	EscrowStatusFundsLocked
	EscrowStatusReleased
	EscrowStatusRefunded
)

// Backend is the subset of the ethclient surface the gateway uses. Tests
// substitute a fake; production wires *ethclient.Client.
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// ProductRecord is the full product tuple stored by the registry contract.
// Numeric fields are big.Int from the gateway boundary inward regardless of
// how the provider represented them on the wire.
type ProductRecord struct {
	ID          string
	Name        string
	Category    string
	ReleaseDate string
	Description string
	Price       *big.Int
	Stock       *big.Int
	Image       string
}

// EscrowOrder is the chain-resident escrow record. The chain exclusively
// owns it; the engine only reads and reacts.
type EscrowOrder struct {
	OrderID   string
	Buyer     common.Address
	Seller    common.Address
	AmountWei *big.Int
	Status    uint8
	CreatedAt *big.Int
}

// Call is a prepared mutating contract call, ready for gas estimation and
// submission.
type Call struct {
	Name  string
	To    common.Address
	Data  []byte
	Value *big.Int
}

// Gateway is a thin, retryable wrapper over the registry and escrow
// contracts. It performs no business logic: reads retry transport errors
// with bounded backoff, reverts are surfaced immediately, and all numeric
// results are normalized to big.Int.
type Gateway struct {
	backend     Backend
	registry    common.Address
	escrow      common.Address
	from        common.Address
	callTimeout time.Duration
	maxRetries  uint64
	registryABI abi.ABI
	escrowABI   abi.ABI
	logger      *zap.Logger
}

// Dial connects to the chain endpoint and builds a gateway over it.
func Dial(ctx context.Context, rpcURL string, registry, escrow, from common.Address, callTimeout time.Duration) (*Gateway, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrUnreachable, rpcURL, err)
	}
	return NewGateway(client, registry, escrow, from, callTimeout)
}

// NewGateway builds a gateway over an existing backend.
func NewGateway(backend Backend, registry, escrow, from common.Address, callTimeout time.Duration) (*Gateway, error) {
	registryABI, err := abi.JSON(strings.NewReader(registryABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse registry ABI: %w", err)
	}
	escrowABI, err := abi.JSON(strings.NewReader(escrowABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse escrow ABI: %w", err)
	}
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	return &Gateway{
		backend:     backend,
		registry:    registry,
		escrow:      escrow,
		from:        from,
		callTimeout: callTimeout,
		maxRetries:  3,
		registryABI: registryABI,
		escrowABI:   escrowABI,
		logger:      util.GetLogger(),
	}, nil
}

// From returns the configured submitter account.
func (g *Gateway) From() common.Address {
	return g.from
}

// ProductCount reads the number of registered products.
func (g *Gateway) ProductCount(ctx context.Context) (int64, error) {
	out, err := g.read(ctx, g.registry, g.registryABI, "getNoOfProducts")
	if err != nil {
		return 0, err
	}
	count, ok := out[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("unexpected product count type %T", out[0])
	}
	return count.Int64(), nil
}

// ProductInfo reads the full product tuple at a 1-based registry index.
// Returns ErrNotFound when the slot was never written.
func (g *Gateway) ProductInfo(ctx context.Context, index int64) (*ProductRecord, error) {
	out, err := g.read(ctx, g.registry, g.registryABI, "getProductInfo", big.NewInt(index))
	if err != nil {
		return nil, err
	}
	exists, _ := out[8].(bool)
	if !exists {
		return nil, fmt.Errorf("%w: product index %d", ErrNotFound, index)
	}
	return &ProductRecord{
		ID:          out[0].(string),
		Name:        out[1].(string),
		Category:    out[2].(string),
		ReleaseDate: out[3].(string),
		Description: out[4].(string),
		Price:       out[5].(*big.Int),
		Stock:       out[6].(*big.Int),
		Image:       out[7].(string),
	}, nil
}

// EscrowOrder reads the escrow record for an order. A record with status
// None (0) is returned as ErrNotFound: the contract has never seen the order.
func (g *Gateway) EscrowOrder(ctx context.Context, orderID string) (*EscrowOrder, error) {
	out, err := g.read(ctx, g.escrow, g.escrowABI, "getOrder", orderID)
	if err != nil {
		return nil, err
	}
	record := &EscrowOrder{
		OrderID:   orderID,
		Buyer:     out[0].(common.Address),
		Seller:    out[1].(common.Address),
		AmountWei: out[2].(*big.Int),
		Status:    out[3].(uint8),
		CreatedAt: out[4].(*big.Int),
	}
	if record.Status == EscrowStatusNone {
		return nil, fmt.Errorf("%w: escrow order %s", ErrNotFound, orderID)
	}
	return record, nil
}

// RegisterProductCall appends an empty slot to the registry. The fresh index
// equals ProductCount after the transaction mines.
func (g *Gateway) RegisterProductCall() (Call, error) {
	data, err := g.registryABI.Pack("registerProduct")
	if err != nil {
		return Call{}, fmt.Errorf("failed to pack registerProduct: %w", err)
	}
	return Call{Name: "registerProduct", To: g.registry, Data: data}, nil
}

// SetProductInfoCall overwrites the full product tuple at a registry index.
// The contract has no partial update; every write carries all fields.
func (g *Gateway) SetProductInfoCall(index int64, record *ProductRecord) (Call, error) {
	data, err := g.registryABI.Pack("addProductInfo",
		big.NewInt(index),
		record.ID,
		record.Name,
		record.Category,
		record.ReleaseDate,
		record.Description,
		record.Price,
		record.Stock,
		record.Image,
	)
	if err != nil {
		return Call{}, fmt.Errorf("failed to pack addProductInfo: %w", err)
	}
	return Call{Name: "addProductInfo", To: g.registry, Data: data}, nil
}

// CreateOrderCall locks amountWei in escrow for an order.
func (g *Gateway) CreateOrderCall(orderID string, seller common.Address, amountWei *big.Int) (Call, error) {
	data, err := g.escrowABI.Pack("createOrder", orderID, seller)
	if err != nil {
		return Call{}, fmt.Errorf("failed to pack createOrder: %w", err)
	}
	return Call{Name: "createOrder", To: g.escrow, Data: data, Value: amountWei}, nil
}

// ConfirmDeliveryCall releases escrowed funds to the seller.
func (g *Gateway) ConfirmDeliveryCall(orderID string) (Call, error) {
	data, err := g.escrowABI.Pack("confirmDelivery", orderID)
	if err != nil {
		return Call{}, fmt.Errorf("failed to pack confirmDelivery: %w", err)
	}
	return Call{Name: "confirmDelivery", To: g.escrow, Data: data}, nil
}

// RefundCall returns escrowed funds to the buyer.
func (g *Gateway) RefundCall(orderID string) (Call, error) {
	data, err := g.escrowABI.Pack("refund", orderID)
	if err != nil {
		return Call{}, fmt.Errorf("failed to pack refund: %w", err)
	}
	return Call{Name: "refund", To: g.escrow, Data: data}, nil
}

// EstimateGas estimates gas for a prepared call. The uint64 the provider
// hands back is widened to big.Int here so no caller ever branches on the
// representation.
func (g *Gateway) EstimateGas(ctx context.Context, call Call) (*big.Int, error) {
	msg := ethereum.CallMsg{From: g.from, To: &call.To, Data: call.Data, Value: call.Value}
	var gas uint64
	err := g.withRetry(ctx, call.Name+".estimateGas", func(cctx context.Context) error {
		est, err := g.backend.EstimateGas(cctx, msg)
		if err != nil {
			return classify(err)
		}
		gas = est
		return nil
	})
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetUint64(gas), nil
}

// read packs, executes and unpacks a view call with retry on transport
// errors. Reverts are permanent and surface immediately.
func (g *Gateway) read(ctx context.Context, to common.Address, contractABI abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{From: g.from, To: &to, Data: data}

	var raw []byte
	err = g.withRetry(ctx, method, func(cctx context.Context) error {
		out, err := g.backend.CallContract(cctx, msg, nil)
		if err != nil {
			return classify(err)
		}
		raw = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return contractABI.Unpack(method, raw)
}

// withRetry runs fn under the per-call timeout, retrying transport failures
// with exponential backoff and observing call metrics.
func (g *Gateway) withRetry(ctx context.Context, name string, fn func(context.Context) error) error {
	start := time.Now()
	op := func() error {
		cctx, cancel := context.WithTimeout(ctx, g.callTimeout)
		defer cancel()
		err := fn(cctx)
		if err != nil && !IsUnreachable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), g.maxRetries), ctx)
	err := backoff.Retry(op, policy)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		g.logger.Warn("Chain call failed",
			zap.String("call", name),
			zap.Error(err))
	}
	util.ChainCallsTotal.WithLabelValues(name, outcome).Inc()
	util.ChainCallLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
	return err
}
