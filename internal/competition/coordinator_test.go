package competition

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batchauction/engine/internal/badsubject"
	"github.com/batchauction/engine/internal/domain"
)

// fakeRepository records the last Competition it was asked to persist.
type fakeRepository struct{ last *domain.Competition }

func (r *fakeRepository) Put(ctx context.Context, c *domain.Competition) error {
	r.last = c
	return nil
}

// driverServer builds an httptest server backing one solver driver,
// returning the given solution (or error string) from /solve and a
// fixed tx hash from /settle.
func driverServer(t *testing.T, solution *WireSolution, errStr string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/solve":
			resp := SolveResponse{Solution: solution, Error: errStr}
			_ = json.NewEncoder(w).Encode(resp)
		case "/reveal":
			_ = json.NewEncoder(w).Encode(SolveResponse{})
		case "/settle":
			_ = json.NewEncoder(w).Encode(SolveResponse{TxHash: "0xdeadbeef"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newTestAuction() *domain.Auction {
	order := testSellOrder()
	a := testAuction(order)
	a.Deadline = time.Now().Add(10 * time.Second)
	return a
}

func winningWireSolution(order *domain.Order) *WireSolution {
	return &WireSolution{
		ID: "1",
		ClearingPrices: map[string]string{
			sellTok.Hex(): "1",
			buyTok.Hex():  "1",
		},
		Trades: []WireTrade{{
			OrderUID:       order.UID.String(),
			Side:           string(domain.OrderSideSell),
			ExecutedAmount: "100",
		}},
	}
}

func TestCoordinatorPicksHighestScoringSolutionAndSettles(t *testing.T) {
	auction := newTestAuction()
	order := auction.Orders[0]

	winner := driverServer(t, winningWireSolution(order), "")
	defer winner.Close()
	loser := driverServer(t, nil, string(domain.OutcomeNoLiquidity))
	defer loser.Close()

	winnerClient, err := NewDriverClient("winner", common.HexToAddress("0xaaa1"), winner.URL, false, nil)
	require.NoError(t, err)
	loserClient, err := NewDriverClient("loser", common.HexToAddress("0xaaa2"), loser.URL, false, nil)
	require.NoError(t, err)

	repo := &fakeRepository{}
	coord := New([]*DriverClient{winnerClient, loserClient}, nil, repo, nil, 0, nil)

	comp, err := coord.Run(context.Background(), auction)
	require.NoError(t, err)
	require.NotNil(t, comp.Winner)
	assert.Equal(t, "winner", comp.Winner.Driver)
	assert.Equal(t, domain.SettlementSubmitted, comp.SettlementStatus)
	require.NotNil(t, comp.SettlementTxHash)
	assert.Equal(t, common.HexToHash("0xdeadbeef"), *comp.SettlementTxHash)
	assert.Same(t, comp, repo.last)

	var noLiquidityCount int
	for _, o := range comp.Outcomes {
		if o.Kind == domain.OutcomeNoLiquidity {
			noLiquidityCount++
		}
	}
	assert.Equal(t, 1, noLiquidityCount)
}

func TestCoordinatorRecordsEmptyCompetitionWhenNoDriverSolves(t *testing.T) {
	auction := newTestAuction()

	s := driverServer(t, nil, string(domain.OutcomeNoLiquidity))
	defer s.Close()
	client, err := NewDriverClient("only", common.HexToAddress("0xaaa1"), s.URL, false, nil)
	require.NoError(t, err)

	repo := &fakeRepository{}
	coord := New([]*DriverClient{client}, nil, repo, nil, 0, nil)

	comp, err := coord.Run(context.Background(), auction)
	require.NoError(t, err)
	assert.True(t, comp.IsEmpty())
	assert.Equal(t, domain.SettlementCancelled, comp.SettlementStatus)
}

// rejectingVerifier always refuses, exercising the no-retry-to-runner-up
// cancellation path from spec.md §4.4 step 5.
type rejectingVerifier struct{}

func (rejectingVerifier) Verify(ctx context.Context, auction *domain.Auction, solution *domain.Solution) *domain.Error {
	return domain.New(domain.KindSimulation, domain.CodeNegativeFlow, "simulated revert")
}

func TestCoordinatorStripsOrdersTouchingUnsupportedTokensForSolver(t *testing.T) {
	auction := newTestAuction()
	order := auction.Orders[0]

	var capturedOrders int
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req SolveRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		capturedOrders = len(req.Orders)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(SolveResponse{Error: string(domain.OutcomeNoLiquidity)})
	}))
	defer s.Close()

	solver := common.HexToAddress("0xaaa1")
	client, err := NewDriverClient("flaky", solver, s.URL, false, nil)
	require.NoError(t, err)

	bsd := badsubject.New(badsubject.Config{RequiredMeasurements: 1, FailureRatio: 0.5, FreezeDuration: time.Hour}, nil)
	bsd.RecordOutcome(solver, order.SellToken, false)

	repo := &fakeRepository{}
	coord := New([]*DriverClient{client}, nil, repo, bsd, 0, nil)

	_, err = coord.Run(context.Background(), auction)
	require.NoError(t, err)
	assert.Equal(t, 0, capturedOrders, "the only order touches an Unsupported token for this solver")
}

// TestRankBreaksTiesByLexicographicallySmallestSolver exercises spec.md
// §8's S5 scenario: two outcomes with an identical score are ranked by
// ascending solver address rather than arbitrarily or by dispatch order.
func TestRankBreaksTiesByLexicographicallySmallestSolver(t *testing.T) {
	score := big.NewInt(1000)
	high := common.HexToAddress("0xffff")
	low := common.HexToAddress("0x0001")

	comp := &domain.Competition{
		Outcomes: []domain.DriverOutcome{
			{Driver: "listed-first-but-higher-address", Solver: high, Kind: domain.OutcomeSolved, Score: new(big.Int).Set(score)},
			{Driver: "listed-second-but-lower-address", Solver: low, Kind: domain.OutcomeSolved, Score: new(big.Int).Set(score)},
		},
	}

	rank(comp)

	require.NotNil(t, comp.Winner)
	assert.Equal(t, low, comp.Winner.Solver)
	assert.Equal(t, "listed-second-but-lower-address", comp.Winner.Driver)
	require.NotNil(t, comp.ReferenceScore)
	assert.Equal(t, 0, score.Cmp(comp.ReferenceScore))
}

func TestCoordinatorCancelsWhenVerifierRejectsWinner(t *testing.T) {
	auction := newTestAuction()
	order := auction.Orders[0]

	winner := driverServer(t, winningWireSolution(order), "")
	defer winner.Close()
	winnerClient, err := NewDriverClient("winner", common.HexToAddress("0xaaa1"), winner.URL, false, nil)
	require.NoError(t, err)

	repo := &fakeRepository{}
	coord := New([]*DriverClient{winnerClient}, rejectingVerifier{}, repo, nil, 0, nil)

	comp, err := coord.Run(context.Background(), auction)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementCancelled, comp.SettlementStatus)
	require.NotNil(t, comp.Winner)
	assert.Equal(t, domain.OutcomeSimulationRevert, comp.Winner.Kind)
}
