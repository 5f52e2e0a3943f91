package driverapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batchauction/engine/internal/competition"
	"github.com/batchauction/engine/internal/domain"
)

// fakeStrategy returns a canned solution (or none) regardless of the
// request, and records the last SolveRequest it was given.
type fakeStrategy struct {
	solutions []*competition.WireSolution
	err       error
	lastReq   competition.SolveRequest
}

func (s *fakeStrategy) Solve(ctx context.Context, req competition.SolveRequest) ([]*competition.WireSolution, error) {
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return s.solutions, nil
}

func doPost(t *testing.T, router *Router, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest("POST", path, bytes.NewReader(b))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestSolveReturnsNoLiquidityWhenStrategyFindsNothing(t *testing.T) {
	strat := &fakeStrategy{}
	router := New(strat, nil)

	rec := doPost(t, router, "/solve", competition.SolveRequest{AuctionID: 1})
	require.Equal(t, 200, rec.Code)

	var resp competition.SolveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(domain.OutcomeNoLiquidity), resp.Error)
	assert.Nil(t, resp.Solution)
}

func TestSolveRevealSettleRoundTrip(t *testing.T) {
	sol := &competition.WireSolution{ID: "7", ClearingPrices: map[string]string{}}
	strat := &fakeStrategy{solutions: []*competition.WireSolution{sol}}
	router := New(strat, nil)

	solveRec := doPost(t, router, "/solve", competition.SolveRequest{AuctionID: 1})
	var solveResp competition.SolveResponse
	require.NoError(t, json.Unmarshal(solveRec.Body.Bytes(), &solveResp))
	require.NotNil(t, solveResp.Solution)
	assert.Equal(t, "7", solveResp.Solution.ID)

	// Settling before revealing is rejected.
	settleRecTooEarly := doPost(t, router, "/settle", map[string]string{"solution_id": "7"})
	var tooEarly competition.SolveResponse
	require.NoError(t, json.Unmarshal(settleRecTooEarly.Body.Bytes(), &tooEarly))
	assert.NotEmpty(t, tooEarly.Error)

	revealRec := doPost(t, router, "/reveal", map[string]string{"solution_id": "7"})
	require.Equal(t, 200, revealRec.Code)

	settleRec := doPost(t, router, "/settle", map[string]string{"solution_id": "7"})
	var settleResp competition.SolveResponse
	require.NoError(t, json.Unmarshal(settleRec.Body.Bytes(), &settleResp))
	assert.NotEmpty(t, settleResp.TxHash)
	assert.Empty(t, settleResp.Error)

	// A second settle fails: the solution was consumed.
	secondSettle := doPost(t, router, "/settle", map[string]string{"solution_id": "7"})
	assert.Equal(t, 404, secondSettle.Code)
}

func TestSettleUsesSettleHookWhenProvided(t *testing.T) {
	sol := &competition.WireSolution{ID: "3"}
	strat := &fakeStrategy{solutions: []*competition.WireSolution{sol}}
	var hookCalled bool
	router := New(strat, func(ctx context.Context, solutionID string, solution *competition.WireSolution) (string, error) {
		hookCalled = true
		assert.Equal(t, "3", solutionID)
		return "0xfeedface", nil
	})

	doPost(t, router, "/solve", competition.SolveRequest{AuctionID: 1})
	doPost(t, router, "/reveal", map[string]string{"solution_id": "3"})
	rec := doPost(t, router, "/settle", map[string]string{"solution_id": "3"})

	var resp competition.SolveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, hookCalled)
	assert.Equal(t, "0xfeedface", resp.TxHash)
}

func TestQuoteFeedsSynthesizedZeroOwnerOrderThroughSolve(t *testing.T) {
	strat := &fakeStrategy{}
	router := New(strat, nil)

	rec := doPost(t, router, "/quote", QuoteRequest{
		SellToken: "0x0000000000000000000000000000000000000a",
		BuyToken:  "0x0000000000000000000000000000000000000b",
		Side:      "sell",
		Amount:    "1000",
	})
	require.Equal(t, 200, rec.Code)

	require.Len(t, strat.lastReq.Orders, 1)
	uid, err := domain.ParseOrderUID(strat.lastReq.Orders[0].UID)
	require.NoError(t, err)
	assert.Equal(t, common.Address{}, uid.Owner(), "quote auctions must carry the zero-owner sentinel order")
	assert.Equal(t, int64(0), strat.lastReq.AuctionID, "quote auctions are not real numbered auctions")
}

func TestQuoteComputesAmountFromClearingPrices(t *testing.T) {
	sellTok := "0x0000000000000000000000000000000000000a"
	buyTok := "0x0000000000000000000000000000000000000b"

	strat := &probingStrategy{
		respond: func(req competition.SolveRequest) []*competition.WireSolution {
			order := req.Orders[0]
			return []*competition.WireSolution{{
				ID: "1",
				ClearingPrices: map[string]string{
					order.SellToken: "2",
					order.BuyToken:  "1",
				},
				Trades: []competition.WireTrade{{
					OrderUID:       order.UID,
					Side:           "sell",
					ExecutedAmount: "1000",
				}},
			}}
		},
	}
	router := New(strat, nil)

	rec := doPost(t, router, "/quote", QuoteRequest{
		SellToken: sellTok,
		BuyToken:  buyTok,
		Side:      "sell",
		Amount:    "1000",
	})
	require.Equal(t, 200, rec.Code)

	var resp QuoteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Error)
	assert.Equal(t, "1000", resp.SellAmount)
	assert.Equal(t, "2000", resp.BuyAmount) // sellPrice/buyPrice = 2, so 1000 sell -> 2000 buy
}

// probingStrategy lets a test compute its response from the request it
// receives, needed for the quote test where the zero-owner uid is only
// known once Router has synthesized it.
type probingStrategy struct {
	respond func(req competition.SolveRequest) []*competition.WireSolution
}

func (s *probingStrategy) Solve(ctx context.Context, req competition.SolveRequest) ([]*competition.WireSolution, error) {
	return s.respond(req), nil
}
