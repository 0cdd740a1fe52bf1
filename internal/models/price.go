package models

import (
	"math"
	"math/big"
	"strconv"
)

// Prices are stored locally as a decimal currency amount but on chain as
// unsigned integer minor units (price * 100). Conversions round-trip for any
// price with at most two decimal places.

// PriceToMinorUnits converts a decimal price to integer minor units.
func PriceToMinorUnits(price float64) *big.Int {
	return big.NewInt(int64(math.Round(price * 100)))
}

// PriceFromMinorUnits converts integer minor units back to a decimal price.
func PriceFromMinorUnits(minor *big.Int) float64 {
	if minor == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(minor), big.NewFloat(100)).Float64()
	return f
}

// EthToWei converts a decimal ether amount to wei. The amount goes through
// its shortest decimal representation so 0.1 ETH is exactly 10^17 wei rather
// than the float64 binary approximation scaled up.
func EthToWei(eth float64) *big.Int {
	r, ok := new(big.Rat).SetString(strconv.FormatFloat(eth, 'f', -1, 64))
	if !ok {
		return big.NewInt(0)
	}
	r.Mul(r, new(big.Rat).SetInt64(1_000_000_000_000_000_000))
	return new(big.Int).Quo(r.Num(), r.Denom())
}
