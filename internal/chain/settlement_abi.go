package chain

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/batchauction/engine/internal/domain"
)

// settleABIJSON describes settle(address[],uint256[],(...)[],bytes[3][])
// bit-exact with spec.md §6. Interactions are modeled as three parallel
// dynamic arrays (pre/main/post) rather than a true [3][] fixed array
// because go-ethereum's abi package cannot express a fixed-size array of
// dynamic-length arrays; callers pass/receive the three lists separately
// (EncodedSettlement's Pre/Main/PostInteractions, converted by
// toAbiInteractions and decodeInteractions) -- see DESIGN.md for this
// Open Question.
const settleABIJSON = `[{
	"name": "settle",
	"type": "function",
	"inputs": [
		{"name": "tokens", "type": "address[]"},
		{"name": "clearingPrices", "type": "uint256[]"},
		{"name": "trades", "type": "tuple[]", "components": [
			{"name": "sellTokenIndex", "type": "uint256"},
			{"name": "buyTokenIndex", "type": "uint256"},
			{"name": "receiver", "type": "address"},
			{"name": "sellAmount", "type": "uint256"},
			{"name": "buyAmount", "type": "uint256"},
			{"name": "validTo", "type": "uint32"},
			{"name": "appData", "type": "bytes32"},
			{"name": "feeAmount", "type": "uint256"},
			{"name": "flags", "type": "uint256"},
			{"name": "executedAmount", "type": "uint256"},
			{"name": "signature", "type": "bytes"}
		]},
		{"name": "preInteractions", "type": "tuple[]", "components": [
			{"name": "target", "type": "address"},
			{"name": "value", "type": "uint256"},
			{"name": "callData", "type": "bytes"}
		]},
		{"name": "interactions", "type": "tuple[]", "components": [
			{"name": "target", "type": "address"},
			{"name": "value", "type": "uint256"},
			{"name": "callData", "type": "bytes"}
		]},
		{"name": "postInteractions", "type": "tuple[]", "components": [
			{"name": "target", "type": "address"},
			{"name": "value", "type": "uint256"},
			{"name": "callData", "type": "bytes"}
		]}
	]
}]`

const trailerLen = 8

type abiTrade struct {
	SellTokenIndex *big.Int
	BuyTokenIndex  *big.Int
	Receiver       common.Address
	SellAmount     *big.Int
	BuyAmount      *big.Int
	ValidTo        uint32
	AppData        [32]byte
	FeeAmount      *big.Int
	Flags          *big.Int
	ExecutedAmount *big.Int
	Signature      []byte
}

type abiInteraction struct {
	Target   common.Address
	Value    *big.Int
	CallData []byte
}

// SettlementCodec encodes/decodes settle() calldata plus the trailing
// 8-byte auction id.
type SettlementCodec struct {
	settleABI abi.ABI
}

// NewSettlementCodec parses the settle() ABI once.
func NewSettlementCodec() (*SettlementCodec, error) {
	parsed, err := abi.JSON(strings.NewReader(settleABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse settle abi: %w", err)
	}
	return &SettlementCodec{settleABI: parsed}, nil
}

// DecodeCalldata strips the 4-byte selector and 8-byte trailer, then
// ABI-decodes the remaining settle() arguments, per spec.md §4.5/§6.
func (c *SettlementCodec) DecodeCalldata(data []byte) (*domain.EncodedSettlement, *domain.Error) {
	if len(data) < 4+trailerLen {
		return nil, domain.New(domain.KindMalformed, domain.CodeInvalidSelector, "calldata too short")
	}

	method := c.settleABI.Methods["settle"]
	selector := data[:4]
	for i, b := range method.ID {
		if selector[i] != b {
			return nil, domain.New(domain.KindMalformed, domain.CodeInvalidSelector, "unexpected function selector")
		}
	}

	body := data[4 : len(data)-trailerLen]
	trailer := data[len(data)-trailerLen:]
	auctionID := int64(binary.BigEndian.Uint64(trailer))

	args, err := method.Inputs.Unpack(body)
	if err != nil {
		return nil, domain.New(domain.KindMalformed, domain.CodeInvalidSelector, "unpack settle args: "+err.Error())
	}
	if len(args) != 6 {
		return nil, domain.New(domain.KindMalformed, domain.CodeInvalidSelector, "unexpected settle arg count")
	}

	tokens, ok := args[0].([]common.Address)
	if !ok {
		return nil, domain.New(domain.KindMalformed, domain.CodeInvalidSelector, "tokens: unexpected type")
	}
	prices, ok := args[1].([]*big.Int)
	if !ok {
		return nil, domain.New(domain.KindMalformed, domain.CodeInvalidSelector, "clearingPrices: unexpected type")
	}
	if len(tokens) != len(prices) {
		return nil, domain.New(domain.KindMalformed, domain.CodeInvalidSelector, "tokens/clearingPrices length mismatch")
	}

	trades, derr := decodeTrades(args[2])
	if derr != nil {
		return nil, derr
	}
	for _, t := range trades {
		if t.SellTokenIndex >= uint64(len(tokens)) || t.BuyTokenIndex >= uint64(len(tokens)) {
			return nil, domain.New(domain.KindMalformed, domain.CodeInvalidSelector, "trade token index out of bounds")
		}
	}

	pre, derr := decodeInteractions(args[3])
	if derr != nil {
		return nil, derr
	}
	main, derr := decodeInteractions(args[4])
	if derr != nil {
		return nil, derr
	}
	post, derr := decodeInteractions(args[5])
	if derr != nil {
		return nil, derr
	}

	return &domain.EncodedSettlement{
		Tokens:           tokens,
		ClearingPrices:   prices,
		Trades:           trades,
		PreInteractions:  pre,
		MainInteractions: main,
		PostInteractions: post,
		AuctionID:        auctionID,
	}, nil
}

func decodeTrades(arg interface{}) ([]domain.EncodedTrade, *domain.Error) {
	raw, ok := arg.([]struct {
		SellTokenIndex *big.Int
		BuyTokenIndex  *big.Int
		Receiver       common.Address
		SellAmount     *big.Int
		BuyAmount      *big.Int
		ValidTo        uint32
		AppData        [32]byte
		FeeAmount      *big.Int
		Flags          *big.Int
		ExecutedAmount *big.Int
		Signature      []byte
	})
	if !ok {
		return nil, domain.New(domain.KindMalformed, domain.CodeInvalidSelector, "trades: unexpected type")
	}
	out := make([]domain.EncodedTrade, len(raw))
	for i, t := range raw {
		out[i] = domain.EncodedTrade{
			SellTokenIndex: t.SellTokenIndex.Uint64(),
			BuyTokenIndex:  t.BuyTokenIndex.Uint64(),
			Receiver:       t.Receiver,
			SellAmount:     t.SellAmount,
			BuyAmount:      t.BuyAmount,
			ValidTo:        t.ValidTo,
			AppData:        t.AppData,
			FeeAmount:      t.FeeAmount,
			Flags:          t.Flags,
			ExecutedAmount: t.ExecutedAmount,
			Signature:      t.Signature,
		}
	}
	return out, nil
}

func decodeInteractions(arg interface{}) ([]domain.EncodedInteraction, *domain.Error) {
	raw, ok := arg.([]struct {
		Target   common.Address
		Value    *big.Int
		CallData []byte
	})
	if !ok {
		return nil, domain.New(domain.KindMalformed, domain.CodeInvalidSelector, "interactions: unexpected type")
	}
	out := make([]domain.EncodedInteraction, len(raw))
	for i, x := range raw {
		out[i] = domain.EncodedInteraction{Target: x.Target, Value: x.Value, CallData: x.CallData}
	}
	return out, nil
}

// EncodeCalldata builds the settle() call plus the 8-byte auction-id
// trailer, the inverse of DecodeCalldata, used by the driver before
// submission.
func (c *SettlementCodec) EncodeCalldata(s *domain.EncodedSettlement) ([]byte, error) {
	trades := make([]abiTrade, len(s.Trades))
	for i, t := range s.Trades {
		trades[i] = abiTrade{
			SellTokenIndex: new(big.Int).SetUint64(t.SellTokenIndex),
			BuyTokenIndex:  new(big.Int).SetUint64(t.BuyTokenIndex),
			Receiver:       t.Receiver,
			SellAmount:     t.SellAmount,
			BuyAmount:      t.BuyAmount,
			ValidTo:        t.ValidTo,
			AppData:        t.AppData,
			FeeAmount:      t.FeeAmount,
			Flags:          t.Flags,
			ExecutedAmount: t.ExecutedAmount,
			Signature:      t.Signature,
		}
	}
	pre := toAbiInteractions(s.PreInteractions)
	main := toAbiInteractions(s.MainInteractions)
	post := toAbiInteractions(s.PostInteractions)

	packed, err := c.settleABI.Pack("settle", s.Tokens, s.ClearingPrices, trades, pre, main, post)
	if err != nil {
		return nil, fmt.Errorf("pack settle: %w", err)
	}

	trailer := make([]byte, trailerLen)
	binary.BigEndian.PutUint64(trailer, uint64(s.AuctionID))
	return append(packed, trailer...), nil
}

func toAbiInteractions(in []domain.EncodedInteraction) []abiInteraction {
	out := make([]abiInteraction, len(in))
	for i, x := range in {
		out[i] = abiInteraction{Target: x.Target, Value: x.Value, CallData: x.CallData}
	}
	return out
}
