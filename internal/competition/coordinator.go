// Package competition implements the CompetitionCoordinator module from
// spec.md §4.4: dispatch an auction to every registered solver driver,
// collect and score their proposed solutions, pick a winner, and commit
// it (reveal then settle) while recording the full contest.
package competition

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/batchauction/engine/internal/domain"
	"github.com/batchauction/engine/internal/platform/metrics"
)

// settleDeadlineMargin is subtracted from the auction deadline to leave
// room for Collect, Score and Commit after every driver's /solve call
// returns.
const settleDeadlineMargin = 2 * time.Second

// SolutionVerifier is the narrow slice of SolutionVerifier the
// coordinator needs before committing to a winner: calldata decode,
// asset-flow conservation, and an optional dry-run simulation.
type SolutionVerifier interface {
	Verify(ctx context.Context, auction *domain.Auction, solution *domain.Solution) *domain.Error
}

// Repository persists Competition records, owned exclusively by
// Coordinator per spec.md §3.
type Repository interface {
	Put(ctx context.Context, c *domain.Competition) error
}

// BadSubjectFilter strips orders touching tokens a solver has
// repeatedly failed to settle, per spec.md §4.7: "the auction
// coordinator, before dispatch, removes orders touching Unsupported
// tokens for the specific solver."
type BadSubjectFilter interface {
	FilterOrders(solver common.Address, orders []*domain.Order) []*domain.Order
}

// BadSubjectRecorder folds a winner's settlement outcome back into the
// per-(solver, token) reliability table.
type BadSubjectRecorder interface {
	RecordOutcome(solver, token common.Address, success bool)
}

// Coordinator runs one auction's contest end to end.
type Coordinator struct {
	drivers    []*DriverClient
	verifier   SolutionVerifier
	repo       Repository
	badSubject interface {
		BadSubjectFilter
		BadSubjectRecorder
	}
	limiter *rate.Limiter
	log     *logrus.Entry
	metrics *metrics.Metrics
}

// New constructs a Coordinator. dispatchRate bounds how many /solve
// calls are issued per second across all drivers combined, so a large
// driver roster cannot saturate outbound connections on its own.
// badSubject may be nil, in which case no per-solver order filtering or
// reliability tracking happens.
func New(drivers []*DriverClient, verifier SolutionVerifier, repo Repository, badSubject interface {
	BadSubjectFilter
	BadSubjectRecorder
}, dispatchRate float64, m *metrics.Metrics) *Coordinator {
	if dispatchRate <= 0 {
		dispatchRate = 50
	}
	return &Coordinator{
		drivers:    drivers,
		verifier:   verifier,
		repo:       repo,
		badSubject: badSubject,
		limiter:    rate.NewLimiter(rate.Limit(dispatchRate), 1),
		log:        logrus.WithField("component", "competitioncoordinator"),
		metrics:    m,
	}
}

// Run executes the full Dispatch -> Collect -> Score -> Rank -> Commit
// pipeline for one auction and returns the resulting Competition, which
// has already been persisted by the time Run returns successfully.
func (c *Coordinator) Run(ctx context.Context, auction *domain.Auction) (*domain.Competition, error) {
	outcomes := c.dispatch(ctx, auction)
	c.score(auction, outcomes)

	comp := &domain.Competition{
		AuctionID: auction.ID,
		Outcomes:  outcomes,
	}
	rank(comp)
	c.recordOutcomeMetrics(outcomes)

	if comp.IsEmpty() {
		comp.SettlementStatus = domain.SettlementCancelled
		if err := c.repo.Put(ctx, comp); err != nil {
			return comp, fmt.Errorf("persist empty competition: %w", err)
		}
		return comp, nil
	}

	c.commit(ctx, auction, comp)

	if err := c.repo.Put(ctx, comp); err != nil {
		return comp, fmt.Errorf("persist competition: %w", err)
	}
	return comp, nil
}

// dispatch fans out /solve to every driver concurrently, each bounded by
// the auction deadline minus a safety margin, and blocks until all have
// responded or timed out (Collect, inlined: no driver failure is fatal
// to the others).
func (c *Coordinator) dispatch(ctx context.Context, auction *domain.Auction) []domain.DriverOutcome {
	deadline := time.Until(auction.Deadline) - settleDeadlineMargin
	if deadline <= 0 {
		deadline = time.Second
	}

	outcomes := make([]domain.DriverOutcome, len(c.drivers))
	var wg sync.WaitGroup
	for i, d := range c.drivers {
		wg.Add(1)
		go func(i int, d *DriverClient) {
			defer wg.Done()
			orders := auction.Orders
			if c.badSubject != nil {
				orders = c.badSubject.FilterOrders(d.Solver, orders)
			}
			req := toSolveRequest(auction, orders)
			if err := c.limiter.Wait(ctx); err != nil {
				outcomes[i] = domain.DriverOutcome{Driver: d.Name, Solver: d.Solver, Kind: domain.OutcomeInternal, Err: err.Error()}
				return
			}
			outcomes[i] = c.solveOne(ctx, d, req, deadline)
		}(i, d)
	}
	wg.Wait()
	return outcomes
}

func (c *Coordinator) solveOne(ctx context.Context, d *DriverClient, req SolveRequest, deadline time.Duration) domain.DriverOutcome {
	resp, err := d.Solve(ctx, req, deadline)
	if err != nil {
		kind := domain.OutcomeInternal
		if errors.Is(err, context.DeadlineExceeded) {
			kind = domain.OutcomeTimeout
		}
		return domain.DriverOutcome{Driver: d.Name, Solver: d.Solver, Kind: kind, Err: err.Error()}
	}
	if resp.Error != "" {
		return domain.DriverOutcome{Driver: d.Name, Solver: d.Solver, Kind: domain.DriverOutcomeKind(resp.Error), Err: resp.Error}
	}
	if resp.Solution == nil {
		return domain.DriverOutcome{Driver: d.Name, Solver: d.Solver, Kind: domain.OutcomeNoSolution}
	}

	sol, err := toDomainSolution(d.Solver, resp.Solution)
	if err != nil {
		return domain.DriverOutcome{Driver: d.Name, Solver: d.Solver, Kind: domain.OutcomeMalformedCalldata, Err: err.Error()}
	}
	return domain.DriverOutcome{Driver: d.Name, Solver: d.Solver, Kind: domain.OutcomeSolved, Solution: sol}
}

// score validates and scores every solved outcome in place, per spec.md
// §4.4 step 3. A solution that fails validation or scores non-positive
// is reclassified rather than dropped, so the full contest stays in the
// record.
func (c *Coordinator) score(auction *domain.Auction, outcomes []domain.DriverOutcome) {
	for i := range outcomes {
		o := &outcomes[i]
		if o.Kind != domain.OutcomeSolved || o.Solution == nil {
			continue
		}
		if verr := o.Solution.Validate(auction); verr != nil {
			o.Kind = domain.OutcomeMalformedCalldata
			o.Err = verr.Error()
			continue
		}
		score, serr := Score(auction, o.Solution)
		if serr != nil {
			o.Kind = domain.OutcomeZeroScore
			o.Err = serr.Error()
			continue
		}
		o.Score = score
		o.Solution.Score = score
	}
}

// rank picks the winner: the highest-scoring valid outcome, ties broken
// by ascending solver address, per spec.md §4.4 step 4. ReferenceScore
// is the runner-up's score (zero if there is no runner-up), used for
// downstream settlement-value comparisons.
func rank(comp *domain.Competition) {
	var candidates []*domain.DriverOutcome
	for i := range comp.Outcomes {
		if comp.Outcomes[i].Kind == domain.OutcomeSolved && comp.Outcomes[i].Score != nil {
			candidates = append(candidates, &comp.Outcomes[i])
		}
	}
	if len(candidates) == 0 {
		return
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		cmp := candidates[i].Score.Cmp(candidates[j].Score)
		if cmp != 0 {
			return cmp > 0
		}
		return candidates[i].Solver.Hex() < candidates[j].Solver.Hex()
	})
	comp.Winner = candidates[0]
	if len(candidates) > 1 {
		comp.ReferenceScore = candidates[1].Score
	} else {
		comp.ReferenceScore = big.NewInt(0)
	}
}

func (c *Coordinator) recordOutcomeMetrics(outcomes []domain.DriverOutcome) {
	if c.metrics == nil {
		return
	}
	for _, o := range outcomes {
		c.metrics.RecordCompetitionOutcome(o.Driver, string(o.Kind))
		if o.Kind == domain.OutcomeSolved && o.Score != nil {
			f, _ := new(big.Float).SetInt(o.Score).Float64()
			c.metrics.RecordWinningScore(o.Driver, f)
		}
	}
}

// commit reveals and settles the winner within its deadline. No retry
// falls back to the runner-up per spec.md §4.4 step 5: a winner that
// fails to submit in time cancels the settlement outright.
func (c *Coordinator) commit(ctx context.Context, auction *domain.Auction, comp *domain.Competition) {
	winner := comp.Winner
	driver := c.driverByName(winner.Driver)
	if driver == nil {
		comp.SettlementStatus = domain.SettlementCancelled
		return
	}

	if c.verifier != nil {
		if verr := c.verifier.Verify(ctx, auction, winner.Solution); verr != nil {
			winner.Kind = domain.OutcomeSimulationRevert
			winner.Err = verr.Error()
			comp.SettlementStatus = domain.SettlementCancelled
			c.recordBadSubjectOutcome(auction, winner, false)
			return
		}
	}

	remaining := time.Until(auction.Deadline)
	if remaining <= 0 {
		comp.SettlementStatus = domain.SettlementCancelled
		return
	}

	solutionID := fmt.Sprintf("%d", winner.Solution.ID)
	if _, err := driver.Reveal(ctx, solutionID, remaining); err != nil {
		c.log.WithError(err).WithField("driver", driver.Name).Warn("winner failed to reveal in time")
		comp.SettlementStatus = domain.SettlementCancelled
		c.recordBadSubjectOutcome(auction, winner, false)
		return
	}

	remaining = time.Until(auction.Deadline)
	if remaining <= 0 {
		comp.SettlementStatus = domain.SettlementCancelled
		return
	}
	resp, err := driver.Settle(ctx, solutionID, remaining)
	if err != nil {
		c.log.WithError(err).WithField("driver", driver.Name).Warn("winner failed to settle in time")
		comp.SettlementStatus = domain.SettlementCancelled
		c.recordBadSubjectOutcome(auction, winner, false)
		return
	}

	comp.SettlementStatus = domain.SettlementSubmitted
	if resp.TxHash != "" {
		h := common.HexToHash(resp.TxHash)
		comp.SettlementTxHash = &h
	}
	c.recordBadSubjectOutcome(auction, winner, true)
}

// recordBadSubjectOutcome folds the winner's settlement result into the
// per-(solver, token) reliability table for every token its trades
// touch, feeding BadSubjectDetector's rolling counter.
func (c *Coordinator) recordBadSubjectOutcome(auction *domain.Auction, winner *domain.DriverOutcome, success bool) {
	if c.badSubject == nil || winner.Solution == nil {
		return
	}
	orders := make(map[domain.OrderUID]*domain.Order, len(auction.Orders))
	for _, o := range auction.Orders {
		orders[o.UID] = o
	}
	seen := make(map[common.Address]struct{})
	record := func(token common.Address) {
		if _, ok := seen[token]; ok {
			return
		}
		seen[token] = struct{}{}
		c.badSubject.RecordOutcome(winner.Solver, token, success)
	}
	for _, t := range winner.Solution.Trades {
		if t.IsJIT {
			record(t.SellToken)
			record(t.BuyToken)
			continue
		}
		if order := orders[t.OrderUID]; order != nil {
			record(order.SellToken)
			record(order.BuyToken)
		}
	}
}

func (c *Coordinator) driverByName(name string) *DriverClient {
	for _, d := range c.drivers {
		if d.Name == name {
			return d
		}
	}
	return nil
}
