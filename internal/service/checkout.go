package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"commerce-sync/internal/chain"
	"commerce-sync/internal/models"
	"commerce-sync/internal/store"
	"commerce-sync/internal/util"
)

// CheckoutService creates orders: the local record first, then the escrow
// lock on chain through the gas-budgeted submitter.
type CheckoutService struct {
	store  Store
	ledger Ledger
	sender TxSender
	seller common.Address
	logger *zap.Logger
}

// NewCheckoutService creates a new checkout service
func NewCheckoutService(st Store, ledger Ledger, sender TxSender, seller common.Address) *CheckoutService {
	return &CheckoutService{
		store:  st,
		ledger: ledger,
		sender: sender,
		seller: seller,
		logger: util.GetLogger(),
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	OrderID         string             `json:"orderId,omitempty"`
	Items           []models.OrderItem `json:"items" binding:"required,min=1"`
	BuyerWallet     string             `json:"buyerWallet" binding:"required"`
	DeliveryAddress string             `json:"deliveryAddress"`
	TotalEth        float64            `json:"totalEth" binding:"required,gt=0"`
}

// CreateOrder persists a new order and locks its funds in escrow. The order
// ID defaults to ORD-<unix-millis> when the caller supplies none. Item
// prices missing from the request are filled from the local catalog.
func (cs *CheckoutService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.CreateOrder")
	defer span.End()

	orderID := req.OrderID
	if orderID == "" {
		orderID = fmt.Sprintf("ORD-%d", time.Now().UnixMilli())
	}

	items, err := cs.priceItems(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	order := models.Order{
		OrderID:         orderID,
		Items:           items,
		BuyerWallet:     strings.ToLower(req.BuyerWallet),
		DeliveryAddress: req.DeliveryAddress,
		TotalEth:        req.TotalEth,
		Status:          models.OrderStatusPaidEscrow,
		DeliveryStatus:  models.DeliveryStatusPending,
		CreatedAt:       time.Now(),
	}

	if err := cs.store.AppendOrder(ctx, order); err != nil {
		return nil, err
	}
	util.OrdersCreatedTotal.Inc()
	cs.logger.Info("Order created",
		zap.String("order_id", orderID),
		zap.Float64("total_eth", req.TotalEth))

	call, err := cs.ledger.CreateOrderCall(orderID, cs.seller, models.EthToWei(req.TotalEth))
	if err != nil {
		cs.compensate(ctx, orderID)
		return nil, err
	}
	if _, err := cs.sender.SendWithMargin(ctx, call); err != nil {
		// An ambiguous failure may still have landed the transaction.
		// Re-read the escrow once: funds locked means the order stands.
		if escrow, readErr := cs.ledger.EscrowOrder(ctx, orderID); readErr == nil && escrow.Status == chain.EscrowStatusFundsLocked {
			cs.logger.Warn("Escrow lock confirmed on chain despite submission error",
				zap.String("order_id", orderID),
				zap.Error(err))
			return &order, nil
		}
		cs.compensate(ctx, orderID)
		return nil, fmt.Errorf("failed to lock funds in escrow for %s: %w", orderID, err)
	}

	return &order, nil
}

// compensate backs out the local order record after the escrow lock failed
// to reach the chain, so the ID stays retryable and the poller never chases
// an order with no escrow behind it.
func (cs *CheckoutService) compensate(ctx context.Context, orderID string) {
	if err := cs.store.DeleteOrder(ctx, orderID); err != nil {
		cs.logger.Error("Failed to remove order after escrow lock failure",
			zap.String("order_id", orderID),
			zap.Error(err))
		return
	}
	cs.logger.Warn("Order removed after escrow lock failure",
		zap.String("order_id", orderID))
}

// priceItems validates every line against the local catalog and fills
// missing unit prices from it.
func (cs *CheckoutService) priceItems(ctx context.Context, items []models.OrderItem) ([]models.OrderItem, error) {
	products, err := cs.store.LoadProducts(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*models.Product, len(products))
	for i := range products {
		byID[products[i].ProductID] = &products[i]
	}

	out := make([]models.OrderItem, 0, len(items))
	for _, item := range items {
		product, ok := byID[item.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", store.ErrProductNotFound, item.ProductID)
		}
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("invalid quantity %d for product %s", item.Quantity, item.ProductID)
		}
		if item.Price == 0 {
			item.Price = product.Catalog.Price
		}
		out = append(out, item)
	}
	return out, nil
}
