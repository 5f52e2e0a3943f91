package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// OrderSide is Sell or Buy.
type OrderSide string

const (
	OrderSideSell OrderSide = "sell"
	OrderSideBuy  OrderSide = "buy"
)

// SigningScheme identifies how an order's signature was produced.
type SigningScheme string

const (
	SigningSchemeEip712  SigningScheme = "eip712"
	SigningSchemeEthSign SigningScheme = "ethsign"
	SigningSchemeEip1271 SigningScheme = "eip1271"
	SigningSchemePreSign SigningScheme = "presign"
)

func (s SigningScheme) Valid() bool {
	switch s {
	case SigningSchemeEip712, SigningSchemeEthSign, SigningSchemeEip1271, SigningSchemePreSign:
		return true
	}
	return false
}

// OrderClass determines which fee policies apply and whether an order
// participates in scoring at all (Liquidity orders never earn fees).
type OrderClass string

const (
	OrderClassMarket    OrderClass = "market"
	OrderClassLimit     OrderClass = "limit"
	OrderClassLiquidity OrderClass = "liquidity"
)

// SellTokenSource is where the sell amount is pulled from during settlement.
type SellTokenSource string

const (
	SellTokenSourceErc20    SellTokenSource = "erc20"
	SellTokenSourceExternal SellTokenSource = "external"
	SellTokenSourceInternal SellTokenSource = "internal"
)

// BuyTokenDestination is where the bought amount is sent.
type BuyTokenDestination string

const (
	BuyTokenDestinationErc20     BuyTokenDestination = "erc20"
	BuyTokenDestinationInternal  BuyTokenDestination = "internal"
)

// OrderStatus is the order's current lifecycle state in OrderStore.
type OrderStatus string

const (
	OrderStatusFillable  OrderStatus = "fillable"
	OrderStatusExecuted  OrderStatus = "executed"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusExpired   OrderStatus = "expired"
	OrderStatusInvalid   OrderStatus = "invalid" // not backed by enough balance/allowance, see list_solvable_orders
)

// Order is a user's trading intent, per spec.md §3.
type Order struct {
	UID       OrderUID
	SellToken common.Address
	BuyToken  common.Address

	SellAmount *big.Int
	BuyAmount  *big.Int

	Side               OrderSide
	ValidTo            uint32 // unix seconds
	AppData            [32]byte
	FeeAmount          *big.Int
	SigningScheme      SigningScheme
	Signature          []byte
	Class              OrderClass
	PartiallyFillable  bool
	SellTokenBalance   SellTokenSource
	BuyTokenBalance    BuyTokenDestination
	Receiver           *common.Address
	Owner              common.Address

	// Executed tracks cumulative filled sell-token amount. For a
	// non-partially-fillable order this is 0 or SellAmount, never
	// in between (invariant enforced by OrderStore).
	Executed *big.Int

	Status    OrderStatus
	CreatedAt time.Time

	// FeePolicies is attached at auction construction time, not stored
	// permanently on the order itself (it is per-auction, see FeePolicy).
	FeePolicies []FeePolicy
}

// Fillable reports whether o can still be matched: unexpired, not fully
// executed, and not cancelled.
func (o *Order) Fillable(atUnix int64, graceSeconds int64) bool {
	if o.Status == OrderStatusCancelled {
		return false
	}
	if int64(o.ValidTo)+graceSeconds < atUnix {
		return false
	}
	if o.Executed != nil && o.SellAmount != nil && o.Executed.Cmp(o.SellAmount) >= 0 {
		return false // fully executed, partially fillable or not
	}
	return true
}

// RemainingSellAmount is SellAmount - Executed, floored at zero.
func (o *Order) RemainingSellAmount() *big.Int {
	if o.SellAmount == nil {
		return big.NewInt(0)
	}
	executed := o.Executed
	if executed == nil {
		executed = big.NewInt(0)
	}
	remaining := new(big.Int).Sub(o.SellAmount, executed)
	if remaining.Sign() < 0 {
		return big.NewInt(0)
	}
	return remaining
}

// Validate checks the invariants spec.md requires before an order is
// accepted by put_order: id reproducibility is checked by the caller
// (it has the raw order-data digest), this only checks amounts/validTo.
func (o *Order) Validate(nowUnix int64) *Error {
	if o.SellAmount == nil || o.SellAmount.Sign() <= 0 {
		return New(KindBusinessRule, "InvalidAmount", "sell amount must be non-zero")
	}
	if o.BuyAmount == nil || o.BuyAmount.Sign() <= 0 {
		return New(KindBusinessRule, "InvalidAmount", "buy amount must be non-zero")
	}
	if int64(o.ValidTo) <= nowUnix {
		return New(KindBusinessRule, CodeValidToInPast, "validTo must be in the future")
	}
	if !o.SigningScheme.Valid() {
		return New(KindMalformed, CodeInvalidSignature, "unknown signing scheme")
	}
	return nil
}
