package eventindexer

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	ethereumgo "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/batchauction/engine/internal/chain"
)

const settlementEventsABIJSON = `[
	{"type":"event","name":"Settlement","anonymous":false,"inputs":[
		{"name":"solver","type":"address","indexed":true}
	]},
	{"type":"event","name":"Trade","anonymous":false,"inputs":[
		{"name":"owner","type":"address","indexed":true},
		{"name":"sellToken","type":"address","indexed":false},
		{"name":"buyToken","type":"address","indexed":false},
		{"name":"sellAmount","type":"uint256","indexed":false},
		{"name":"buyAmount","type":"uint256","indexed":false},
		{"name":"feeAmount","type":"uint256","indexed":false},
		{"name":"orderUid","type":"bytes","indexed":false}
	]},
	{"type":"event","name":"OrderInvalidated","anonymous":false,"inputs":[
		{"name":"owner","type":"address","indexed":true},
		{"name":"orderUid","type":"bytes","indexed":false}
	]},
	{"type":"event","name":"PreSignature","anonymous":false,"inputs":[
		{"name":"owner","type":"address","indexed":true},
		{"name":"orderUid","type":"bytes","indexed":false},
		{"name":"signed","type":"bool","indexed":false}
	]}
]`

// contractEvents is parsed once at package init and shared across sources,
// grounded on the teacher's pattern of loading a single compiled ABI for
// a contract and reusing it (see chain.SettlementCodec).
var contractEvents abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(settlementEventsABIJSON))
	if err != nil {
		panic(fmt.Sprintf("parse settlement events abi: %v", err))
	}
	contractEvents = parsed
}

// ethSource is shared plumbing for the four concrete EventSource
// implementations: filter the contract's logs for one event signature
// over a block range, then let the caller decode each log's fields.
type ethSource struct {
	client   chain.RPCClient
	contract common.Address
	kind     EventKind
	event    abi.Event
	decode   func(log types.Log) (RawEvent, error)
}

func (s *ethSource) Kind() EventKind { return s.kind }

func (s *ethSource) Fetch(ctx context.Context, fromBlock, toBlock uint64) ([]RawEvent, error) {
	q := ethereumgo.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{s.contract},
		Topics:    [][]common.Hash{{s.event.ID}},
	}
	logs, err := s.client.FilterLogs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("filter %s logs: %w", s.kind, err)
	}

	out := make([]RawEvent, 0, len(logs))
	for _, l := range logs {
		if l.Removed {
			continue
		}
		ev, err := s.decode(l)
		if err != nil {
			return nil, fmt.Errorf("decode %s log at block %d index %d: %w", s.kind, l.BlockNumber, l.Index, err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// NewSettlementSource builds the EventSource for the Settlement event
// (emitted once per settle() call, carrying only the solver address).
func NewSettlementSource(client chain.RPCClient, contract common.Address) EventSource {
	event := contractEvents.Events["Settlement"]
	return &ethSource{
		client: client, contract: contract, kind: EventKindSettlement, event: event,
		decode: func(l types.Log) (RawEvent, error) {
			if len(l.Topics) < 2 {
				return RawEvent{}, fmt.Errorf("missing solver topic")
			}
			return RawEvent{
				Kind: EventKindSettlement, BlockNumber: l.BlockNumber, LogIndex: uint64(l.Index),
				TxHash: l.TxHash, Solver: common.BytesToAddress(l.Topics[1].Bytes()),
			}, nil
		},
	}
}

// NewTradeSource builds the EventSource for the Trade event.
func NewTradeSource(client chain.RPCClient, contract common.Address) EventSource {
	event := contractEvents.Events["Trade"]
	return &ethSource{
		client: client, contract: contract, kind: EventKindTrade, event: event,
		decode: func(l types.Log) (RawEvent, error) {
			if len(l.Topics) < 2 {
				return RawEvent{}, fmt.Errorf("missing owner topic")
			}
			var fields struct {
				SellToken  common.Address
				BuyToken   common.Address
				SellAmount *big.Int
				BuyAmount  *big.Int
				FeeAmount  *big.Int
				OrderUid   []byte
			}
			if err := event.Inputs.NonIndexed().Unpack(&fields, l.Data); err != nil {
				return RawEvent{}, fmt.Errorf("unpack trade data: %w", err)
			}
			return RawEvent{
				Kind: EventKindTrade, BlockNumber: l.BlockNumber, LogIndex: uint64(l.Index),
				TxHash: l.TxHash, Owner: common.BytesToAddress(l.Topics[1].Bytes()),
				SellToken: fields.SellToken, BuyToken: fields.BuyToken,
				ExecutedSellAmount: fields.SellAmount.Bytes(),
				OrderUID:           fields.OrderUid,
			}, nil
		},
	}
}

// NewOrderInvalidatedSource builds the EventSource for OrderInvalidated.
func NewOrderInvalidatedSource(client chain.RPCClient, contract common.Address) EventSource {
	event := contractEvents.Events["OrderInvalidated"]
	return &ethSource{
		client: client, contract: contract, kind: EventKindOrderInvalidated, event: event,
		decode: func(l types.Log) (RawEvent, error) {
			if len(l.Topics) < 2 {
				return RawEvent{}, fmt.Errorf("missing owner topic")
			}
			var fields struct{ OrderUid []byte }
			if err := event.Inputs.NonIndexed().Unpack(&fields, l.Data); err != nil {
				return RawEvent{}, fmt.Errorf("unpack order invalidated data: %w", err)
			}
			return RawEvent{
				Kind: EventKindOrderInvalidated, BlockNumber: l.BlockNumber, LogIndex: uint64(l.Index),
				TxHash: l.TxHash, Owner: common.BytesToAddress(l.Topics[1].Bytes()),
				OrderUID: fields.OrderUid,
			}, nil
		},
	}
}

// NewPreSignatureSource builds the EventSource for PreSignature.
func NewPreSignatureSource(client chain.RPCClient, contract common.Address) EventSource {
	event := contractEvents.Events["PreSignature"]
	return &ethSource{
		client: client, contract: contract, kind: EventKindPreSignature, event: event,
		decode: func(l types.Log) (RawEvent, error) {
			if len(l.Topics) < 2 {
				return RawEvent{}, fmt.Errorf("missing owner topic")
			}
			var fields struct {
				OrderUid []byte
				Signed   bool
			}
			if err := event.Inputs.NonIndexed().Unpack(&fields, l.Data); err != nil {
				return RawEvent{}, fmt.Errorf("unpack pre-signature data: %w", err)
			}
			return RawEvent{
				Kind: EventKindPreSignature, BlockNumber: l.BlockNumber, LogIndex: uint64(l.Index),
				TxHash: l.TxHash, Owner: common.BytesToAddress(l.Topics[1].Bytes()),
				OrderUID: fields.OrderUid,
			}, nil
		},
	}
}
