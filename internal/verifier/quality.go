package verifier

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/batchauction/engine/internal/chain"
	"github.com/batchauction/engine/internal/domain"
)

// qualityNativeScale matches autopilot/competition's native-price fixed
// point: 1e18 units per 1 unit of native token.
var qualityNativeScale = big.NewInt(1e18)

// FeePolicyLookup resolves the fee policies an order was assigned at the
// auction that produced the settlement under observation. Competition's
// own score was computed against this same list at solve time
// (internal/competition's Score), so quality must be measured the same
// way for the two to be comparable.
type FeePolicyLookup interface {
	Get(ctx context.Context, auctionID int64, orderUID domain.OrderUID) ([]domain.FeePolicy, error)
}

// ObservedQuality recomputes surplus+fees directly from mined settlement
// calldata, per spec.md §4.6 and the Score-bounded-by-quality property
// (§8.4): a winning solution's claimed Score must never exceed this
// post-settlement figure, measured from chain-observed executed amounts
// rather than the driver's declared ones. Trades signed with a
// non-recoverable scheme (Eip1271, PreSign) are skipped, matching
// DecodeCalldata: their owner cannot be recovered offline, so they cannot
// be attributed to a priced order here.
func (v *Verifier) ObservedQuality(ctx context.Context, auction *domain.Auction, calldata []byte) (*big.Int, *domain.Error) {
	settlement, derr := v.codec.DecodeCalldata(calldata)
	if derr != nil {
		return nil, derr
	}

	quality := big.NewInt(0)
	for _, t := range settlement.Trades {
		flags, derr := domain.DecodeTradeFlags(t.Flags)
		if derr != nil {
			return nil, derr
		}
		if flags.SigningScheme != domain.SigningSchemeEip712 && flags.SigningScheme != domain.SigningSchemeEthSign {
			continue
		}

		stub := &domain.Order{
			SellToken:         settlement.Tokens[t.SellTokenIndex],
			BuyToken:          settlement.Tokens[t.BuyTokenIndex],
			Receiver:          receiverPtr(t.Receiver),
			SellAmount:        t.SellAmount,
			BuyAmount:         t.BuyAmount,
			ValidTo:           t.ValidTo,
			AppData:           t.AppData,
			FeeAmount:         t.FeeAmount,
			Side:              flags.Side,
			PartiallyFillable: flags.PartiallyFillable,
			SellTokenBalance:  flags.SellTokenSource,
			BuyTokenBalance:   flags.BuyTokenDest,
		}
		digest := domain.ComputeOrderDigest(v.domainSeparator, stub)
		owner, derr := chain.RecoverOwner(flags.SigningScheme, digest, t.Signature)
		if derr != nil {
			return nil, derr
		}
		uid := domain.ComputeOrderUID(digest, owner, t.ValidTo)

		if v.orders == nil {
			continue
		}
		order, err := v.orders.GetOrder(ctx, uid)
		if err != nil || order == nil {
			continue // no longer resolvable; cannot attribute quality
		}

		if v.feePolicies != nil {
			policies, err := v.feePolicies.Get(ctx, auction.ID, uid)
			if err == nil {
				order.FeePolicies = policies
			}
		}

		sellPrice, ok := auction.PriceFor(order.SellToken)
		if !ok {
			continue
		}
		clearingSell, ok := clearingPriceFor(settlement, order.SellToken)
		if !ok {
			continue
		}
		clearingBuy, ok := clearingPriceFor(settlement, order.BuyToken)
		if !ok {
			continue
		}
		clearingSellRat := new(big.Rat).SetInt(clearingSell)
		clearingBuyRat := new(big.Rat).SetInt(clearingBuy)

		executedSell, executedBuy := executedLegs(order.Side, t.ExecutedAmount, clearingSell, clearingBuy)

		surplus := domain.Surplus(order, executedSell, executedBuy, clearingSellRat, clearingBuyRat)
		quality.Add(quality, toNativeToken(surplus, sellPrice))

		fee := big.NewInt(0)
		for _, policy := range order.FeePolicies {
			fee.Add(fee, policy.Apply(order, executedSell, executedBuy, clearingSellRat, clearingBuyRat))
		}
		quality.Add(quality, toNativeToken(fee, sellPrice))
	}

	return quality, nil
}

func clearingPriceFor(s *domain.EncodedSettlement, token common.Address) (*big.Int, bool) {
	for i, tok := range s.Tokens {
		if tok == token {
			return s.ClearingPrices[i], true
		}
	}
	return nil, false
}

// executedLegs mirrors assetflow.go's deriveLegs: recover the leg a trade
// didn't report directly from the clearing-price ratio.
func executedLegs(side domain.OrderSide, executed, clearingSell, clearingBuy *big.Int) (sell, buy *big.Int) {
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

func toNativeToken(amount, nativePrice *big.Int) *big.Int {
	if amount.Sign() == 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Mul(amount, nativePrice)
	return new(big.Int).Quo(scaled, qualityNativeScale)
}
