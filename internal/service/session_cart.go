package service

import (
	"context"
	"sync"

	"commerce-sync/internal/models"
)

// SessionCarts is the in-process cart cache, keyed by an opaque session
// identifier. Carts live for the process lifetime only and are dropped on
// clear; nothing here is persisted.
type SessionCarts struct {
	store Store

	mu    sync.RWMutex
	carts map[string][]models.OrderItem
}

// NewSessionCarts creates a new session cart cache
func NewSessionCarts(st Store) *SessionCarts {
	return &SessionCarts{
		store: st,
		carts: make(map[string][]models.OrderItem),
	}
}

// Add puts one unit of a product into the session's cart, validating the
// product against the local catalog and pricing the line from it.
func (sc *SessionCarts) Add(ctx context.Context, sessionID, productID string) error {
	product, err := sc.store.GetProduct(ctx, productID)
	if err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	cart := sc.carts[sessionID]
	for i := range cart {
		if cart[i].ProductID == productID {
			cart[i].Quantity++
			sc.carts[sessionID] = cart
			return nil
		}
	}
	sc.carts[sessionID] = append(cart, models.OrderItem{
		ProductID: productID,
		Price:     product.Catalog.Price,
		Quantity:  1,
	})
	return nil
}

// Remove drops a product's line from the session's cart.
func (sc *SessionCarts) Remove(sessionID, productID string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	cart := sc.carts[sessionID]
	for i := range cart {
		if cart[i].ProductID == productID {
			sc.carts[sessionID] = append(cart[:i], cart[i+1:]...)
			return
		}
	}
}

// Get returns a copy of the session's cart.
func (sc *SessionCarts) Get(sessionID string) []models.OrderItem {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	cart := sc.carts[sessionID]
	out := make([]models.OrderItem, len(cart))
	copy(out, cart)
	return out
}

// Total returns the cart's merchandise total.
func (sc *SessionCarts) Total(sessionID string) float64 {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	var total float64
	for _, item := range sc.carts[sessionID] {
		total += item.Price * float64(item.Quantity)
	}
	return total
}

// Clear drops the session's cart.
func (sc *SessionCarts) Clear(sessionID string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	delete(sc.carts, sessionID)
}
