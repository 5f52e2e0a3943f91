package domain

import "math/big"

// FeePolicyKind tags which variant a FeePolicy is.
type FeePolicyKind string

const (
	FeePolicyKindSurplus          FeePolicyKind = "surplus"
	FeePolicyKindPriceImprovement FeePolicyKind = "price_improvement"
	FeePolicyKindVolume           FeePolicyKind = "volume"
)

// FeePolicy is one entry of the ordered list attached to an order at
// auction construction (spec.md §3). Exactly one of the Surplus/
// PriceImprovement/Volume fields is populated, matching Kind.
type FeePolicy struct {
	Kind FeePolicyKind

	Factor           FeeFactor // Surplus.factor / Volume.factor
	MaxVolumeFactor  FeeFactor // Surplus.max_volume_factor / PriceImprovement.max_volume_factor

	// PriceImprovement only.
	PriceImprovementFactor FeeFactor
	Quote                  *Quote
}

// Apply computes the protocol fee (in sell-token units) this policy
// contributes for one filled order, given the executed sell/buy amounts
// and the order's limit price. Policies in a list are applied in order,
// each computed on the volume remaining after prior policies' fee was
// deducted, matching §4.4's "applied in order" rule.
func (p FeePolicy) Apply(order *Order, executedSell, executedBuy *big.Int, clearingSellPrice, clearingBuyPrice *big.Rat) *big.Int {
	switch p.Kind {
	case FeePolicyKindVolume:
		return capByVolume(mulFactor(executedSell, p.Factor), executedSell, p.Factor)
	case FeePolicyKindSurplus:
		surplus := surplusInSellToken(order, executedSell, executedBuy, clearingSellPrice, clearingBuyPrice)
		fee := mulFactor(surplus, p.Factor)
		return capByVolume(fee, executedSell, p.MaxVolumeFactor)
	case FeePolicyKindPriceImprovement:
		if p.Quote == nil {
			return big.NewInt(0)
		}
		improvement := priceImprovementInSellToken(order, executedSell, executedBuy, p.Quote)
		fee := mulFactor(improvement, p.PriceImprovementFactor)
		return capByVolume(fee, executedSell, p.MaxVolumeFactor)
	default:
		return big.NewInt(0)
	}
}

func mulFactor(amount *big.Int, f FeeFactor) *big.Int {
	if amount == nil || amount.Sign() <= 0 {
		return big.NewInt(0)
	}
	r := new(big.Rat).SetInt(amount)
	r.Mul(r, f.Rat())
	return ratFloorToInt(r)
}

func capByVolume(fee, volume *big.Int, maxFactor FeeFactor) *big.Int {
	if maxFactor.Rat().Sign() == 0 {
		return fee
	}
	cap := mulFactor(volume, maxFactor)
	if fee.Cmp(cap) > 0 {
		return cap
	}
	return fee
}

// Surplus exposes surplusInSellToken for callers outside this package
// (competition.Score needs the same figure the Surplus fee policy uses,
// before any fee is deducted).
func Surplus(order *Order, executedSell, executedBuy *big.Int, clearingSellPrice, clearingBuyPrice *big.Rat) *big.Int {
	return surplusInSellToken(order, executedSell, executedBuy, clearingSellPrice, clearingBuyPrice)
}

// surplusInSellToken measures, in sell-token units, the amount by which
// execution improved on the order's limit price.
func surplusInSellToken(order *Order, executedSell, executedBuy *big.Int, clearingSellPrice, clearingBuyPrice *big.Rat) *big.Int {
	if order.SellAmount.Sign() == 0 || order.BuyAmount.Sign() == 0 {
		return big.NewInt(0)
	}
	limitPrice := new(big.Rat).SetFrac(order.BuyAmount, order.SellAmount) // buy per sell
	switch order.Side {
	case OrderSideSell:
		// minimum acceptable buy amount for the executed sell amount
		minBuy := new(big.Rat).Mul(limitPrice, new(big.Rat).SetInt(executedSell))
		actualBuy := new(big.Rat).SetInt(executedBuy)
		diff := new(big.Rat).Sub(actualBuy, minBuy)
		if diff.Sign() <= 0 {
			return big.NewInt(0)
		}
		// convert buy-token surplus to sell-token units via clearing prices
		if clearingBuyPrice == nil || clearingBuyPrice.Sign() == 0 || clearingSellPrice == nil {
			return big.NewInt(0)
		}
		sellUnits := new(big.Rat).Quo(new(big.Rat).Mul(diff, clearingBuyPrice), clearingSellPrice)
		return ratFloorToInt(sellUnits)
	case OrderSideBuy:
		maxSell := new(big.Rat).Quo(new(big.Rat).SetInt(executedBuy), limitPrice)
		actualSell := new(big.Rat).SetInt(executedSell)
		diff := new(big.Rat).Sub(maxSell, actualSell)
		if diff.Sign() <= 0 {
			return big.NewInt(0)
		}
		return ratFloorToInt(diff)
	default:
		return big.NewInt(0)
	}
}

// priceImprovementInSellToken measures improvement over the attached
// quote rather than over the order's own limit price.
func priceImprovementInSellToken(order *Order, executedSell, executedBuy *big.Int, quote *Quote) *big.Int {
	if quote.SellAmount == nil || quote.SellAmount.Sign() == 0 {
		return big.NewInt(0)
	}
	quotedPrice := new(big.Rat).SetFrac(quote.BuyAmount, quote.SellAmount)
	switch order.Side {
	case OrderSideSell:
		expectedBuy := new(big.Rat).Mul(quotedPrice, new(big.Rat).SetInt(executedSell))
		diff := new(big.Rat).Sub(new(big.Rat).SetInt(executedBuy), expectedBuy)
		if diff.Sign() <= 0 {
			return big.NewInt(0)
		}
		return ratFloorToInt(diff)
	default:
		expectedSell := new(big.Rat).Quo(new(big.Rat).SetInt(executedBuy), quotedPrice)
		diff := new(big.Rat).Sub(expectedSell, new(big.Rat).SetInt(executedSell))
		if diff.Sign() <= 0 {
			return big.NewInt(0)
		}
		return ratFloorToInt(diff)
	}
}

func ratFloorToInt(r *big.Rat) *big.Int {
	q := new(big.Int)
	q.Quo(r.Num(), r.Denom())
	return q
}
