// Package eventindexer keeps the local event tables consistent with the
// on-chain settlement contract despite reorganizations, per the
// trailing-window replace algorithm: on each tick, delete every stored
// event at or above a depth-bounded floor, refetch that range, and
// checkpoint the new tip -- all inside one transaction.
package eventindexer

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// EventKind identifies which settlement-contract event a RawEvent carries.
type EventKind string

const (
	EventKindSettlement       EventKind = "settlement"
	EventKindTrade            EventKind = "trade"
	EventKindOrderInvalidated EventKind = "order_invalidated"
	EventKindPreSignature     EventKind = "pre_signature"
)

// RawEvent is one decoded log from the settlement contract, kept close
// to its source shape -- the indexer persists these verbatim.
// Interpreting them into domain state (updating an order's fill amount,
// say) is OrderStore's job via UpdateFillsFromEvents, not the indexer's.
type RawEvent struct {
	Kind        EventKind
	BlockNumber uint64
	LogIndex    uint64
	TxHash      common.Hash

	Solver common.Address // Settlement

	OrderUID []byte         // Trade, OrderInvalidated, PreSignature
	Owner    common.Address // Trade, OrderInvalidated, PreSignature

	SellToken common.Address // Trade
	BuyToken  common.Address // Trade

	// Cumulative executed sell amount for Trade, as the uint256's
	// big-endian bytes -- never a uint64, the contract emits it at full
	// width.
	ExecutedSellAmount []byte
}

// EventSource fetches one kind of event over a block range. Each
// concrete source wraps a chain.RPCClient-backed log filter plus the
// settlement contract's ABI for that event; the transport itself is an
// external collaborator.
type EventSource interface {
	Kind() EventKind
	Fetch(ctx context.Context, fromBlock, toBlock uint64) ([]RawEvent, error)
}
