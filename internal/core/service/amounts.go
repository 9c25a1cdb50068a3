package service

import "math/big"

// base is the payment-token denomination: 18 decimals per whole coin.
var base = big.NewInt(1_000_000_000_000_000_000)

// Coins converts whole payment-token units into the base denomination.
func Coins(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), base)
}
