package models

import "time"

// Catalog holds the locally editable product attributes. A subset of these
// fields (name, category, release date, description, price, stock, image) is
// mirrored on chain; the rest only ever lives in the local store.
type Catalog struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	Stock       int     `json:"stock"`
	Image       string  `json:"image"`
	Category    string  `json:"category"`
	ReleaseDate string  `json:"releaseDate"`
}

// ProductInfo is the chain-canonical identity subset of a product.
type ProductInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	ReleaseDate string `json:"releaseDate"`
}

// Product is the local document for one product. OnChainID is the 1-based
// index into the ledger's product table; 0 means not yet registered.
type Product struct {
	ProductID   string      `json:"productId"`
	Catalog     Catalog     `json:"catalog"`
	ProductInfo ProductInfo `json:"productInfo"`
	OnChainID   int64       `json:"onChainId,omitempty"`
}

// OrderItem is one line of an order.
type OrderItem struct {
	ProductID string  `json:"productId"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
}

// Order is the local document for one order. Status tracks chain truth for
// the escrow lifecycle; DeliveryStatus is the operator-driven fulfillment
// axis and is independent of Status.
type Order struct {
	OrderID           string      `json:"orderId"`
	Items             []OrderItem `json:"items"`
	BuyerWallet       string      `json:"buyerWallet"`
	DeliveryAddress   string      `json:"deliveryAddress"`
	TotalEth          float64     `json:"totalEth"`
	Status            string      `json:"status"`
	DeliveryStatus    string      `json:"deliveryStatus"`
	TxHash            string      `json:"txHash,omitempty"`
	CreatedAt         time.Time   `json:"createdAt"`
	DeliveryUpdatedAt *time.Time  `json:"deliveryUpdatedAt,omitempty"`
	ReleasedAt        *time.Time  `json:"releasedAt,omitempty"`
	RefundedAt        *time.Time  `json:"refundedAt,omitempty"`
}

// Order statuses (chain-aligned lifecycle)
const (
	OrderStatusPaidEscrow = "PAID_ESCROW"
	OrderStatusShipped    = "SHIPPED"
	OrderStatusDelivered  = "DELIVERED"
	OrderStatusReleased   = "RELEASED"
	OrderStatusRefunded   = "REFUNDED"
)

// Delivery workflow statuses (operator-driven)
const (
	DeliveryStatusPending        = "PENDING"
	DeliveryStatusOutForDelivery = "OUT_FOR_DELIVERY"
	DeliveryStatusDelivered      = "DELIVERED"
)

// IsTerminalStatus reports whether the order status is final chain truth.
// Once reached, later syncs must never move the order back.
func IsTerminalStatus(status string) bool {
	return status == OrderStatusReleased || status == OrderStatusRefunded
}

// ProcessedEvent for consumer idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
