package verifier

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/batchauction/engine/internal/domain"
)

// CheckAssetFlow sums, per token, (incoming - outgoing) over every trade
// plus every interaction's declared input/output, per spec.md §4.5. A
// trade's executed amount is reported for one side (sell for a Sell
// order, buy for a Buy order); the other leg is derived from the
// solution's clearing prices so both legs of the same trade are counted.
func CheckAssetFlow(auction *domain.Auction, solution *domain.Solution) *domain.Error {
	flow := make(map[common.Address]*big.Int)
	add := func(token common.Address, delta *big.Int) {
		cur, ok := flow[token]
		if !ok {
			cur = big.NewInt(0)
		}
		flow[token] = new(big.Int).Add(cur, delta)
	}

	orders := make(map[domain.OrderUID]*domain.Order, len(auction.Orders))
	for _, o := range auction.Orders {
		orders[o.UID] = o
	}

	for _, t := range solution.Trades {
		sellToken, buyToken := t.SellToken, t.BuyToken
		side := t.Side
		if !t.IsJIT {
			order := orders[t.OrderUID]
			if order == nil {
				return domain.New(domain.KindBusinessRule, domain.CodeSolutionNotFound, "trade references an order outside auction scope")
			}
			sellToken, buyToken, side = order.SellToken, order.BuyToken, order.Side
		}

		clearingSell, ok := solution.ClearingPrices[sellToken]
		if !ok {
			return domain.New(domain.KindBusinessRule, domain.CodeSolutionNotFound, "trade sell token missing clearing price")
		}
		clearingBuy, ok := solution.ClearingPrices[buyToken]
		if !ok {
			return domain.New(domain.KindBusinessRule, domain.CodeSolutionNotFound, "trade buy token missing clearing price")
		}

		executedSell, executedBuy := deriveLegs(side, t.ExecutedAmount, clearingSell, clearingBuy)
		add(sellToken, executedSell)               // incoming to the settlement contract
		add(buyToken, new(big.Int).Neg(executedBuy)) // outgoing from the settlement contract
	}

	for _, ia := range solution.Interactions {
		if ia.InputToken != nil && ia.InputAmount != nil {
			add(*ia.InputToken, new(big.Int).Neg(ia.InputAmount)) // contract pays this out
		}
		if ia.OutputToken != nil && ia.OutputAmount != nil {
			add(*ia.OutputToken, ia.OutputAmount) // contract receives this
		}
	}

	for token, sum := range flow {
		if sum.Sign() < 0 {
			return domain.New(domain.KindBusinessRule, domain.CodeNegativeFlow, "negative asset flow for token "+token.Hex())
		}
	}
	return nil
}

// deriveLegs recovers both the sell and buy leg of a trade from whichever
// leg the driver reported directly, using the ratio of clearing prices.
func deriveLegs(side domain.OrderSide, executed, clearingSell, clearingBuy *big.Int) (sell, buy *big.Int) {
	if side == domain.OrderSideSell {
		sell = executed
		if clearingBuy.Sign() == 0 {
			return sell, big.NewInt(0)
		}
		rate := new(big.Rat).SetFrac(clearingSell, clearingBuy)
		buy = floorToInt(new(big.Rat).Mul(new(big.Rat).SetInt(sell), rate))
		return sell, buy
	}
	buy = executed
	if clearingSell.Sign() == 0 {
		return big.NewInt(0), buy
	}
	rate := new(big.Rat).SetFrac(clearingBuy, clearingSell)
	sell = floorToInt(new(big.Rat).Mul(new(big.Rat).SetInt(buy), rate))
	return sell, buy
}

func floorToInt(r *big.Rat) *big.Int {
	q := new(big.Int)
	q.Quo(r.Num(), r.Denom())
	return q
}
