package models

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPriceToMinorUnits(t *testing.T) {
	assert.Equal(t, int64(7241), PriceToMinorUnits(72.41).Int64())
	assert.Equal(t, int64(100), PriceToMinorUnits(1).Int64())
	assert.Equal(t, int64(0), PriceToMinorUnits(0).Int64())
	assert.Equal(t, int64(10), PriceToMinorUnits(0.1).Int64())
}

func TestPriceFromMinorUnits(t *testing.T) {
	assert.Equal(t, 72.41, PriceFromMinorUnits(big.NewInt(7241)))
	assert.Equal(t, 0.5, PriceFromMinorUnits(big.NewInt(50)))
	assert.Equal(t, float64(0), PriceFromMinorUnits(nil))
}

func TestPriceRoundTrip(t *testing.T) {
	for _, price := range []float64{0.01, 0.1, 1, 19.99, 72.41, 1000.5} {
		assert.Equal(t, price, PriceFromMinorUnits(PriceToMinorUnits(price)))
	}
}

func TestEthToWei(t *testing.T) {
	assert.Equal(t, "1000000000000000000", EthToWei(1).String())
	assert.Equal(t, "1500000000000000000", EthToWei(1.5).String())
	assert.Equal(t, "10000000000000000", EthToWei(0.01).String())
	assert.Equal(t, "0", EthToWei(0).String())
}

// Amounts without an exact float64 representation must still convert to
// exact decimal wei, as a decimal string parse would.
func TestEthToWeiDecimalExact(t *testing.T) {
	assert.Equal(t, "100000000000000000", EthToWei(0.1).String())
	assert.Equal(t, "1100000000000000000", EthToWei(1.1).String())
	assert.Equal(t, "290000000000000000", EthToWei(0.29).String())
	assert.Equal(t, "123456789000000000", EthToWei(0.123456789).String())
}

func TestIsTerminalStatus(t *testing.T) {
	assert.True(t, IsTerminalStatus(OrderStatusReleased))
	assert.True(t, IsTerminalStatus(OrderStatusRefunded))
	assert.False(t, IsTerminalStatus(OrderStatusPaidEscrow))
	assert.False(t, IsTerminalStatus(OrderStatusShipped))
	assert.False(t, IsTerminalStatus(""))
}
