package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Auction is a frozen problem instance, per spec.md §3/§4.3.
type Auction struct {
	ID    int64
	Block uint64

	Orders []*Order

	// Prices maps token address to its native-token price, scaled to
	// 1e18 (wei-per-wei units), per spec.md.
	Prices map[common.Address]*big.Int

	EffectiveGasPrice *big.Int

	// SurplusCapturingJITOrderOwners are solver addresses allowed to
	// earn surplus on just-in-time orders they create.
	SurplusCapturingJITOrderOwners []common.Address

	Deadline time.Time
}

// PriceFor returns the native-token price for token, and whether one is
// recorded (every in-scope order's tokens must have a price, per the
// Auction invariant).
func (a *Auction) PriceFor(token common.Address) (*big.Int, bool) {
	p, ok := a.Prices[token]
	return p, ok
}

// Validate checks the Auction invariants from spec.md §3.
func (a *Auction) Validate() *Error {
	if a.ID <= 0 {
		return New(KindInternal, "", "auction id must be positive")
	}
	seen := make(map[common.Address]struct{})
	for _, o := range a.Orders {
		seen[o.SellToken] = struct{}{}
		seen[o.BuyToken] = struct{}{}
	}
	for tok := range seen {
		if _, ok := a.Prices[tok]; !ok {
			return New(KindInternal, "", "missing native price for in-scope token "+tok.Hex())
		}
	}
	return nil
}
