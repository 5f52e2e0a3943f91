package competition

import (
	"math/big"

	"github.com/batchauction/engine/internal/domain"
)

// nativeScale is the fixed-point scale Auction.Prices and the
// native-price oracle both use: 1e18 units per 1 unit of native token.
var nativeScale = big.NewInt(1e18)

// Score computes score = sum over filled orders of (surplus_in_native_token
// + protocol_fee_in_native_token), per spec.md §4.4 step 3. JIT trades
// contribute nothing to the score, whether or not the solver is in the
// auction's surplus-capturing allowlist: no surplus is computed for them
// and they never carry a FeePolicy.
func Score(auction *domain.Auction, solution *domain.Solution) (*big.Int, *domain.Error) {
	orders := make(map[domain.OrderUID]*domain.Order, len(auction.Orders))
	for _, o := range auction.Orders {
		orders[o.UID] = o
	}
	jitAllowed := false
	for _, addr := range auction.SurplusCapturingJITOrderOwners {
		if addr == solution.Solver {
			jitAllowed = true
			break
		}
	}

	total := big.NewInt(0)
	for _, trade := range solution.Trades {
		if trade.IsJIT && !jitAllowed {
			continue
		}

		var order *domain.Order
		if !trade.IsJIT {
			order = orders[trade.OrderUID]
			if order == nil {
				continue // already rejected by Solution.Validate before Score is called
			}
		}

		sellToken, buyToken := trade.SellToken, trade.BuyToken
		if order != nil {
			sellToken, buyToken = order.SellToken, order.BuyToken
		}

		sellPrice, ok := auction.PriceFor(sellToken)
		if !ok {
			continue
		}
		clearingSell, ok := solution.ClearingPrices[sellToken]
		if !ok {
			continue
		}
		clearingBuy, ok := solution.ClearingPrices[buyToken]
		if !ok {
			continue
		}
		clearingSellRat := new(big.Rat).SetInt(clearingSell)
		clearingBuyRat := new(big.Rat).SetInt(clearingBuy)

		if order == nil {
			continue // JIT trades carry no limit price of their own to measure surplus against
		}

		executedSell, executedBuy := executedAmounts(order, trade, clearingSell, clearingBuy)

		surplus := domain.Surplus(order, executedSell, executedBuy, clearingSellRat, clearingBuyRat)
		total.Add(total, toNativeToken(surplus, sellPrice))

		fee := big.NewInt(0)
		for _, policy := range order.FeePolicies {
			fee.Add(fee, policy.Apply(order, executedSell, executedBuy, clearingSellRat, clearingBuyRat))
		}
		total.Add(total, toNativeToken(fee, sellPrice))
	}

	if total.Sign() <= 0 {
		return nil, domain.New(domain.KindBusinessRule, domain.CodeZeroScore, "solution score must be strictly positive")
	}
	return total, nil
}

// executedAmounts derives the leg of the trade the driver didn't report
// directly (Sell orders report executed sell, Buy orders report executed
// buy) from the clearing-price ratio, so surplus can be measured on both
// legs regardless of order side.
func executedAmounts(order *domain.Order, trade domain.Trade, clearingSell, clearingBuy *big.Int) (sell, buy *big.Int) {
	if order.Side == domain.OrderSideSell {
		sell = trade.ExecutedAmount
		rate := new(big.Rat).SetFrac(clearingSell, clearingBuy)
		buy = ratFloorToInt(new(big.Rat).Mul(new(big.Rat).SetInt(sell), rate))
		return sell, buy
	}
	buy = trade.ExecutedAmount
	rate := new(big.Rat).SetFrac(clearingBuy, clearingSell)
	sell = ratFloorToInt(new(big.Rat).Mul(new(big.Rat).SetInt(buy), rate))
	return sell, buy
}

func toNativeToken(amountInToken, nativePrice *big.Int) *big.Int {
	if amountInToken.Sign() == 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Mul(amountInToken, nativePrice)
	return new(big.Int).Quo(scaled, nativeScale)
}

func ratFloorToInt(r *big.Rat) *big.Int {
	q := new(big.Int)
	q.Quo(r.Num(), r.Denom())
	return q
}
