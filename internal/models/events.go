package models

import "time"

// Event types
const (
	EventTypeEscrowStatusObserved = "ESCROW_STATUS_OBSERVED"
	EventTypeOrderReleased        = "ORDER_RELEASED"
	EventTypeOrderRefunded        = "ORDER_REFUNDED"
	EventTypeProductRegistered    = "PRODUCT_REGISTERED"
	EventTypeProductUpdated       = "PRODUCT_UPDATED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// EscrowStatusObservedEvent is published by the escrow poller whenever the
// chain reports a status that differs from the local order record. Consumers
// apply it through the order reconciler, which is idempotent, so observing
// the same chain state more than once is harmless.
type EscrowStatusObservedEvent struct {
	BaseEvent
	OrderID      string `json:"order_id"`
	EscrowStatus uint8  `json:"escrow_status"`
}

// OrderReleasedEvent published after escrow funds are released to the seller
type OrderReleasedEvent struct {
	BaseEvent
	OrderID string `json:"order_id"`
	TxHash  string `json:"tx_hash"`
}

// OrderRefundedEvent published after escrow funds are returned to the buyer
type OrderRefundedEvent struct {
	BaseEvent
	OrderID string `json:"order_id"`
	TxHash  string `json:"tx_hash"`
}

// ProductRegisteredEvent published when a local product gains an on-chain index
type ProductRegisteredEvent struct {
	BaseEvent
	ProductID string `json:"product_id"`
	OnChainID int64  `json:"on_chain_id"`
}

// ProductUpdatedEvent published when a changed product is rewritten on chain
type ProductUpdatedEvent struct {
	BaseEvent
	ProductID string `json:"product_id"`
	OnChainID int64  `json:"on_chain_id"`
}
