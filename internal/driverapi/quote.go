package driverapi

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/batchauction/engine/internal/competition"
	"github.com/batchauction/engine/internal/domain"
)

// quoteAuctionDeadline is the time budget a fake quote auction gets;
// quoting never actually settles, so this only bounds the strategy's
// own Solve call.
const quoteAuctionDeadline = 5 * time.Second

// QuoteRequest asks a driver to price one hypothetical order without
// running a full auction, per spec.md's supplemented quote.rs feature.
type QuoteRequest struct {
	SellToken string `json:"sell_token"`
	BuyToken  string `json:"buy_token"`
	Side      string `json:"side"` // "sell" or "buy"
	Amount    string `json:"amount"`
}

// QuoteResponse is the best-effort price a driver's strategy produced.
type QuoteResponse struct {
	SellAmount string `json:"sell_amount,omitempty"`
	BuyAmount  string `json:"buy_amount,omitempty"`
	Error      string `json:"error,omitempty"`
}

// zeroOwnerUID builds an order-uid whose owner portion is the zero
// address, the sentinel spec.md's Open Question calls out: "some code
// paths treat an order-uid with a zero owner as a sentinel for a 'fake'
// auction in quote computation." The digest varies per quote request
// only so concurrent quotes don't collide in a strategy that keys state
// by uid; nothing persists it.
func zeroOwnerUID(sellToken, buyToken common.Address, amount string, side string) domain.OrderUID {
	digest := crypto.Keccak256Hash([]byte(sellToken.Hex() + buyToken.Hex() + amount + side))
	return domain.ComputeOrderUID(digest, common.Address{}, uint32(time.Now().Add(quoteAuctionDeadline).Unix()))
}

// buildFakeAuctionRequest projects a QuoteRequest into the same
// SolveRequest wire shape /solve accepts, carrying a single
// zero-owner-sentinel order, so a Strategy can reuse its normal Solve
// path to answer a quote.
func buildFakeAuctionRequest(q QuoteRequest) (competition.SolveRequest, *competition.SolveOrder, error) {
	if q.Side != string(domain.OrderSideSell) && q.Side != string(domain.OrderSideBuy) {
		return competition.SolveRequest{}, nil, fmt.Errorf("side must be %q or %q", domain.OrderSideSell, domain.OrderSideBuy)
	}
	amount, ok := new(big.Int).SetString(q.Amount, 10)
	if !ok || amount.Sign() <= 0 {
		return competition.SolveRequest{}, nil, fmt.Errorf("amount must be a positive base-10 integer")
	}

	sellTok := common.HexToAddress(q.SellToken)
	buyTok := common.HexToAddress(q.BuyToken)
	uid := zeroOwnerUID(sellTok, buyTok, q.Amount, q.Side)

	order := competition.SolveOrder{
		UID:               uid.String(),
		SellToken:         sellTok.Hex(),
		BuyToken:          buyTok.Hex(),
		Side:              q.Side,
		PartiallyFillable: true,
	}
	if q.Side == string(domain.OrderSideSell) {
		order.SellAmount = amount.String()
		order.BuyAmount = "1" // unknown; the fake auction has no real limit price
	} else {
		order.BuyAmount = amount.String()
		order.SellAmount = amount.String() // upper bound; strategy is free to fill for less
	}

	req := competition.SolveRequest{
		AuctionID: 0, // 0 is not a valid real auction id, marking this a fake auction
		Deadline:  time.Now().Add(quoteAuctionDeadline),
		Orders:    []competition.SolveOrder{order},
		Prices:    map[string]string{},
	}
	return req, &order, nil
}

// quoteFromSolution extracts the quoted amounts from the trade filling
// the zero-owner sentinel order in sol, the counterpart of
// buildFakeAuctionRequest.
func quoteFromSolution(order *competition.SolveOrder, sol *competition.WireSolution) (*QuoteResponse, error) {
	for _, t := range sol.Trades {
		if t.OrderUID != order.UID {
			continue
		}
		executed, ok := new(big.Int).SetString(t.ExecutedAmount, 10)
		if !ok {
			return nil, fmt.Errorf("quote solution: executed amount %q is not an integer", t.ExecutedAmount)
		}
		sellPrice, okSell := new(big.Int).SetString(sol.ClearingPrices[order.SellToken], 10)
		buyPrice, okBuy := new(big.Int).SetString(sol.ClearingPrices[order.BuyToken], 10)
		if !okSell || !okBuy || buyPrice.Sign() == 0 {
			return nil, fmt.Errorf("quote solution: missing or zero clearing price")
		}

		if order.Side == string(domain.OrderSideSell) {
			// buyAmount = sellAmount * sellPrice / buyPrice
			buyAmount := new(big.Int).Mul(executed, sellPrice)
			buyAmount.Div(buyAmount, buyPrice)
			return &QuoteResponse{SellAmount: executed.String(), BuyAmount: buyAmount.String()}, nil
		}
		// sellAmount = buyAmount * buyPrice / sellPrice
		sellAmount := new(big.Int).Mul(executed, buyPrice)
		sellAmount.Div(sellAmount, sellPrice)
		return &QuoteResponse{SellAmount: sellAmount.String(), BuyAmount: executed.String()}, nil
	}
	return nil, fmt.Errorf("quote solution: no trade fills the sentinel order")
}
