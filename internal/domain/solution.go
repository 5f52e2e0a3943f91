package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Trade is one fulfillment inside a Solution: either an existing
// orderbook order or a just-in-time order the solver created.
type Trade struct {
	OrderUID       OrderUID // zero value for a JIT order not in the orderbook
	SellToken      common.Address
	BuyToken       common.Address
	Side           OrderSide
	ExecutedAmount *big.Int // executed sell amount for Sell orders, buy amount for Buy orders
	IsJIT          bool
}

// InteractionStage identifies which of the three settlement phases an
// interaction runs in.
type InteractionStage int

const (
	InteractionPre InteractionStage = iota
	InteractionMain
	InteractionPost
)

// Interaction is a single external call the settlement contract makes,
// carrying the declared asset flow used by asset-flow conservation
// checks (spec.md §4.5).
type Interaction struct {
	Stage   InteractionStage
	Target  common.Address
	CallData []byte
	Value   *big.Int

	// InputToken/InputAmount and OutputToken/OutputAmount describe the
	// interaction's declared asset flow, when known (liquidity adapters
	// report this; opaque calls leave both nil and are excluded from the
	// conservation sum on both sides -- see verifier.CheckAssetFlow).
	InputToken   *common.Address
	InputAmount  *big.Int
	OutputToken  *common.Address
	OutputAmount *big.Int
}

// Solution is a candidate proposed by one solver driver for one auction.
type Solution struct {
	ID     uint64 // solver-local numeric id
	Solver common.Address

	ClearingPrices map[common.Address]*big.Int

	Trades       []Trade
	Interactions []Interaction

	Gas *uint64 // optional reported gas

	// CallData is the raw settle() calldata (including the 8-byte
	// auction-id trailer) the driver intends to submit, used by
	// SolutionVerifier to decode and simulate before committing.
	CallData []byte

	// Score is computed by the coordinator, not supplied by the driver.
	Score *big.Int
}

// Validate checks the Solution invariants from spec.md §3.
func (s *Solution) Validate(auction *Auction) *Error {
	inScope := make(map[OrderUID]*Order, len(auction.Orders))
	for _, o := range auction.Orders {
		inScope[o.UID] = o
	}

	tokensTraded := make(map[common.Address]struct{})
	for _, t := range s.Trades {
		sellToken, buyToken := t.SellToken, t.BuyToken

		if !t.IsJIT {
			order, ok := inScope[t.OrderUID]
			if !ok {
				return New(KindBusinessRule, CodeSolutionNotFound, "fulfilled order not in auction scope: "+t.OrderUID.String())
			}
			sellToken, buyToken = order.SellToken, order.BuyToken
			if !order.PartiallyFillable {
				full := order.SellAmount
				if order.Side == OrderSideBuy {
					full = order.BuyAmount
				}
				if t.ExecutedAmount.Cmp(full) != 0 {
					return New(KindBusinessRule, CodeSolutionNotFound, "non-partially-fillable order must be filled in full: "+t.OrderUID.String())
				}
			}
		}

		tokensTraded[sellToken] = struct{}{}
		tokensTraded[buyToken] = struct{}{}
	}

	for tok := range tokensTraded {
		if _, ok := s.ClearingPrices[tok]; !ok {
			return New(KindBusinessRule, CodeSolutionNotFound, "traded token missing from clearing prices: "+tok.Hex())
		}
	}

	return nil
}
