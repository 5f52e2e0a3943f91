// Package driverapi implements the solver-driver RPC surface from
// spec.md §6: the HTTP endpoints a registered driver exposes and that
// internal/competition.DriverClient calls. Real solving algorithms are
// out of scope (spec.md Non-goals), so this is a test-double router: it
// delegates the actual solve/quote logic to a pluggable Strategy and
// handles everything wire-protocol related -- decoding, solution
// bookkeeping across the solve/reveal/settle round trip, and error
// classification -- the way a real driver binary would.
//
// Grounded on the teacher's marble HTTP handler style
// (services/vrf/marble/handlers.go: a *Service holding a mutex-guarded
// map, handlers as its methods, gorilla/mux for path params).
package driverapi

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/batchauction/engine/internal/competition"
	"github.com/batchauction/engine/internal/domain"
	"github.com/batchauction/engine/internal/platform/httputil"
)

// Strategy is the pluggable solving logic a driver binary would supply.
// Router itself only handles the RPC envelope; Strategy decides what,
// if anything, to solve. /quote reuses the same Solve method against a
// synthesized single-order auction (see quote.go), the way a real
// driver quotes without running a full competition.
type Strategy interface {
	// Solve proposes zero or more solutions for req. Returning a nil
	// slice (not an error) is a normal "no liquidity" outcome.
	Solve(ctx context.Context, req competition.SolveRequest) ([]*competition.WireSolution, error)
}

// pendingSolution is a solution accepted from a /solve call, kept until
// it is revealed and settled; a later /solve does not drop it.
type pendingSolution struct {
	solution *competition.WireSolution
	revealed bool
}

// Router implements the driver RPC surface as an http.Handler.
type Router struct {
	mux      *mux.Router
	strategy Strategy
	log      *logrus.Entry

	mu         sync.Mutex
	solutions  map[string]*pendingSolution
	settleHook func(ctx context.Context, solutionID string, solution *competition.WireSolution) (string, error)
}

// New builds a Router backed by strategy. settleHook, if non-nil, is
// called on /settle to produce the tx hash reported back to the
// coordinator (a real driver would sign and broadcast here); when nil,
// /settle returns a deterministic fake hash derived from the solution
// id, which is enough for tests that only assert a settlement happened.
func New(strategy Strategy, settleHook func(ctx context.Context, solutionID string, solution *competition.WireSolution) (string, error)) *Router {
	r := &Router{
		strategy:   strategy,
		log:        logrus.WithField("component", "driverapi"),
		solutions:  make(map[string]*pendingSolution),
		settleHook: settleHook,
	}
	m := mux.NewRouter()
	m.HandleFunc("/solve", r.handleSolve).Methods(http.MethodPost)
	m.HandleFunc("/reveal", r.handleReveal).Methods(http.MethodPost)
	m.HandleFunc("/settle", r.handleSettle).Methods(http.MethodPost)
	m.HandleFunc("/quote", r.handleQuote).Methods(http.MethodPost)
	r.mux = m
	return r
}

// ServeHTTP lets Router be mounted directly with http.ListenAndServe.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) handleSolve(w http.ResponseWriter, req *http.Request) {
	var solveReq competition.SolveRequest
	if !httputil.DecodeJSON(w, req, &solveReq) {
		return
	}

	solutions, err := r.strategy.Solve(req.Context(), solveReq)
	if err != nil {
		r.log.WithError(err).WithField("auction_id", solveReq.AuctionID).Warn("strategy solve failed")
		httputil.WriteJSON(w, http.StatusOK, competition.SolveResponse{Error: string(domain.OutcomeInternal)})
		return
	}
	if len(solutions) == 0 {
		httputil.WriteJSON(w, http.StatusOK, competition.SolveResponse{Error: string(domain.OutcomeNoLiquidity)})
		return
	}

	winner := solutions[0]
	r.mu.Lock()
	r.solutions[winner.ID] = &pendingSolution{solution: winner}
	r.mu.Unlock()

	httputil.WriteJSON(w, http.StatusOK, competition.SolveResponse{Solution: winner})
}

func (r *Router) handleReveal(w http.ResponseWriter, req *http.Request) {
	var body struct {
		SolutionID string `json:"solution_id"`
	}
	if !httputil.DecodeJSON(w, req, &body) {
		return
	}

	r.mu.Lock()
	pending, ok := r.solutions[body.SolutionID]
	if ok {
		pending.revealed = true
	}
	r.mu.Unlock()

	if !ok {
		httputil.NotFound(w, "unknown solution id")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, competition.SolveResponse{})
}

func (r *Router) handleSettle(w http.ResponseWriter, req *http.Request) {
	var body struct {
		SolutionID string `json:"solution_id"`
	}
	if !httputil.DecodeJSON(w, req, &body) {
		return
	}

	r.mu.Lock()
	pending, ok := r.solutions[body.SolutionID]
	if ok && pending.revealed {
		delete(r.solutions, body.SolutionID)
	}
	r.mu.Unlock()

	if !ok {
		httputil.NotFound(w, "unknown solution id")
		return
	}
	if !pending.revealed {
		httputil.WriteJSON(w, http.StatusOK, competition.SolveResponse{Error: string(domain.OutcomeInternal)})
		return
	}

	var solutionNum uint64
	fmt.Sscanf(pending.solution.ID, "%d", &solutionNum)
	txHash := fmt.Sprintf("0x%064x", solutionNum)
	if r.settleHook != nil {
		hash, err := r.settleHook(req.Context(), body.SolutionID, pending.solution)
		if err != nil {
			r.log.WithError(err).Warn("settle hook failed")
			httputil.WriteJSON(w, http.StatusOK, competition.SolveResponse{Error: string(domain.OutcomeSimulationRevert)})
			return
		}
		txHash = hash
	}

	httputil.WriteJSON(w, http.StatusOK, competition.SolveResponse{TxHash: txHash})
}

func (r *Router) handleQuote(w http.ResponseWriter, req *http.Request) {
	var quoteReq QuoteRequest
	if !httputil.DecodeJSON(w, req, &quoteReq) {
		return
	}
	if quoteReq.SellToken == "" || quoteReq.BuyToken == "" {
		httputil.BadRequest(w, "sell_token and buy_token are required")
		return
	}

	fakeReq, order, err := buildFakeAuctionRequest(quoteReq)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	solutions, err := r.strategy.Solve(req.Context(), fakeReq)
	if err != nil {
		r.log.WithError(err).Warn("strategy solve failed during quote")
		httputil.WriteJSON(w, http.StatusOK, QuoteResponse{Error: string(domain.OutcomeInternal)})
		return
	}
	if len(solutions) == 0 {
		httputil.WriteJSON(w, http.StatusOK, QuoteResponse{Error: string(domain.OutcomeNoLiquidity)})
		return
	}

	resp, err := quoteFromSolution(order, solutions[0])
	if err != nil {
		httputil.WriteJSON(w, http.StatusOK, QuoteResponse{Error: string(domain.OutcomeMalformedCalldata)})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, *resp)
}
