package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EncodedTrade is the on-chain tuple shape for one trade inside a
// settle() call, per spec.md §6, bit-exact with the settlement contract.
type EncodedTrade struct {
	SellTokenIndex  uint64
	BuyTokenIndex   uint64
	Receiver        common.Address
	SellAmount      *big.Int
	BuyAmount       *big.Int
	ValidTo         uint32
	AppData         [32]byte
	FeeAmount       *big.Int
	Flags           *big.Int
	ExecutedAmount  *big.Int
	Signature       []byte
}

// EncodedInteraction mirrors one entry of interactions[3][].
type EncodedInteraction struct {
	Target   common.Address
	Value    *big.Int
	CallData []byte
}

// EncodedSettlement is the concrete calldata form submitted on-chain,
// per spec.md §6.
type EncodedSettlement struct {
	Tokens          []common.Address
	ClearingPrices  []*big.Int
	Trades          []EncodedTrade
	PreInteractions  []EncodedInteraction
	MainInteractions []EncodedInteraction
	PostInteractions []EncodedInteraction

	// AuctionID is decoded from the 8-byte big-endian trailer appended
	// after the ABI-encoded call data.
	AuctionID int64
}

// TradeFlags decodes the bit-exact layout from spec.md §4.5: side (bit
// 0), partially-fillable (bit 1), sell-token balance source (bits 2-3),
// buy-token destination (bit 4), signing scheme (bits 5-6).
type TradeFlags struct {
	Side              OrderSide
	PartiallyFillable bool
	SellTokenSource   SellTokenSource
	BuyTokenDest      BuyTokenDestination
	SigningScheme     SigningScheme
}

// DecodeTradeFlags parses the low byte of a trade's flags field.
func DecodeTradeFlags(flags *big.Int) (TradeFlags, *Error) {
	if flags == nil {
		return TradeFlags{}, New(KindMalformed, CodeInvalidTradeFlag, "nil flags")
	}
	b := flags.Uint64() & 0xFF

	var f TradeFlags
	if b&0x1 == 0 {
		f.Side = OrderSideSell
	} else {
		f.Side = OrderSideBuy
	}
	f.PartiallyFillable = (b>>1)&0x1 == 1

	switch (b >> 2) & 0x3 {
	case 0:
		f.SellTokenSource = SellTokenSourceErc20
	case 1:
		f.SellTokenSource = SellTokenSourceExternal
	case 2:
		f.SellTokenSource = SellTokenSourceInternal
	default:
		return TradeFlags{}, New(KindMalformed, CodeInvalidTradeFlag, "reserved sell-token-source bit pattern")
	}

	switch (b >> 4) & 0x1 {
	case 0:
		f.BuyTokenDest = BuyTokenDestinationErc20
	case 1:
		f.BuyTokenDest = BuyTokenDestinationInternal
	}

	switch (b >> 5) & 0x3 {
	case 0:
		f.SigningScheme = SigningSchemeEip712
	case 1:
		f.SigningScheme = SigningSchemeEthSign
	case 2:
		f.SigningScheme = SigningSchemeEip1271
	case 3:
		f.SigningScheme = SigningSchemePreSign
	}

	return f, nil
}

// SettlementEvent is a durable record of one settlement observed on
// chain, per spec.md §3.
type SettlementEvent struct {
	BlockNumber uint64
	LogIndex    uint64

	TxHash common.Hash
	Solver common.Address

	// Enriched fields, nil/zero until SettlementTracker fills them in.
	TxFrom    *common.Address
	TxNonce   *uint64
	AuctionID *int64

	ObservedAt time.Time
}

// Enriched reports whether (tx_from, tx_nonce, auction_id) are all set.
func (e *SettlementEvent) Enriched() bool {
	return e.TxFrom != nil && e.TxNonce != nil && e.AuctionID != nil
}
