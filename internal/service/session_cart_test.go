package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commerce-sync/internal/models"
	"commerce-sync/internal/store"
)

func newCartFixture() *SessionCarts {
	st := &memStore{products: []models.Product{
		{ProductID: "PRD-1", Catalog: models.Catalog{Name: "Keyboard", Price: 72.41}},
		{ProductID: "PRD-2", Catalog: models.Catalog{Name: "Mug", Price: 5.50}},
	}}
	return NewSessionCarts(st)
}

func TestCartAddAndIncrement(t *testing.T) {
	carts := newCartFixture()

	require.NoError(t, carts.Add(context.Background(), "sess-1", "PRD-1"))
	require.NoError(t, carts.Add(context.Background(), "sess-1", "PRD-1"))
	require.NoError(t, carts.Add(context.Background(), "sess-1", "PRD-2"))

	cart := carts.Get("sess-1")
	require.Len(t, cart, 2)
	assert.Equal(t, 2, cart[0].Quantity)
	assert.Equal(t, 72.41, cart[0].Price)
	assert.Equal(t, 1, cart[1].Quantity)
}

func TestCartTotal(t *testing.T) {
	carts := newCartFixture()
	require.NoError(t, carts.Add(context.Background(), "sess-1", "PRD-1"))
	require.NoError(t, carts.Add(context.Background(), "sess-1", "PRD-2"))

	assert.InDelta(t, 77.91, carts.Total("sess-1"), 1e-9)
}

func TestCartUnknownProduct(t *testing.T) {
	carts := newCartFixture()
	err := carts.Add(context.Background(), "sess-1", "PRD-missing")
	assert.ErrorIs(t, err, store.ErrProductNotFound)
	assert.Empty(t, carts.Get("sess-1"))
}

func TestCartRemove(t *testing.T) {
	carts := newCartFixture()
	require.NoError(t, carts.Add(context.Background(), "sess-1", "PRD-1"))
	require.NoError(t, carts.Add(context.Background(), "sess-1", "PRD-2"))

	carts.Remove("sess-1", "PRD-1")

	cart := carts.Get("sess-1")
	require.Len(t, cart, 1)
	assert.Equal(t, "PRD-2", cart[0].ProductID)

	// Removing an absent product is a no-op.
	carts.Remove("sess-1", "PRD-missing")
	assert.Len(t, carts.Get("sess-1"), 1)
}

func TestCartsAreIsolatedAndClearable(t *testing.T) {
	carts := newCartFixture()
	require.NoError(t, carts.Add(context.Background(), "sess-1", "PRD-1"))
	require.NoError(t, carts.Add(context.Background(), "sess-2", "PRD-2"))

	carts.Clear("sess-1")
	assert.Empty(t, carts.Get("sess-1"))
	assert.Len(t, carts.Get("sess-2"), 1)
}
