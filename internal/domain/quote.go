package domain

import (
	"math/big"
	"time"
)

// Quote is a snapshot of a solver's best price for an order at a given
// instant, used later for PriceImprovement fee computation.
type Quote struct {
	OrderUID   OrderUID
	SellAmount *big.Int
	BuyAmount  *big.Int
	FeeAmount  *big.Int
	Solver     string // solver address, lowercase hex
	ExpiresAt  time.Time
}

// Expired reports whether the quote can no longer be used to compute a
// PriceImprovement fee.
func (q *Quote) Expired(at time.Time) bool {
	return at.After(q.ExpiresAt)
}
