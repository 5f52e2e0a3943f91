// Package autopilot constructs frozen auctions at a steady cadence, per
// spec.md §4.3: snapshot the chain tip, collect solvable orders, attach
// native prices and fee policies, and persist the result under a
// monotonically increasing auction id.
package autopilot

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/batchauction/engine/internal/domain"
	"github.com/batchauction/engine/internal/platform/metrics"
)

// ChainTip is the slice of chain.RPCClient the builder needs: the
// current block number, to decide whether a tick has new work at all.
type ChainTip interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// NativePriceOracle resolves a token's native-token spot price, scaled to
// 1e18, or false if no price can currently be obtained. The concrete
// estimator (on-chain DEX quoting, an off-chain price API) is an
// external collaborator per spec.md §1; only this interface is specified.
type NativePriceOracle interface {
	NativePrice(ctx context.Context, token common.Address, atBlock uint64) (*big.Int, bool)
}

// SolvableOrderLister is the slice of OrderStore the builder depends on.
type SolvableOrderLister interface {
	ListSolvableOrders(ctx context.Context, atBlock uint64, nowUnix int64) ([]*domain.Order, error)
}

// FeePolicyRule is one configured `fee_policies` entry: applied to every
// non-liquidity order whose class matches, per spec.md §4.3 step 4.
type FeePolicyRule struct {
	OrderClass domain.OrderClass
	Policy     domain.FeePolicy
}

// FeePolicyConfig is the process-wide fee-policy configuration the
// builder resolves per order on every tick.
//
// spec.md also names fee_policy_max_partner_fee, an upper bound on any
// fee a third-party partner specifies inside an order's app-data. This
// repo's Order only ever stores app-data as the opaque 32-byte hash used
// to recompute an order's EIP-712 digest (per spec.md's Order model,
// domain.Order.AppData); nothing decodes the off-chain app-data document
// a partner fee would live in, so there is no partner-specified fee value
// anywhere in this codebase for a cap to apply to. Left out rather than
// wired to a field that does not exist.
type FeePolicyConfig struct {
	Rules []FeePolicyRule

	// Upcoming, if set, atomically replaces Rules once EffectiveFrom has
	// passed (spec.md: upcoming_fee_policies).
	Upcoming          []FeePolicyRule
	UpcomingEffective time.Time
}

// resolve returns the rule set effective at t.
func (c FeePolicyConfig) resolve(t time.Time) []FeePolicyRule {
	if c.Upcoming != nil && !c.UpcomingEffective.IsZero() && !t.Before(c.UpcomingEffective) {
		return c.Upcoming
	}
	return c.Rules
}

// Builder runs the AuctionBuilder tick loop.
type Builder struct {
	client      ChainTip
	orders      SolvableOrderLister
	oracle      NativePriceOracle
	store       *Store
	feePolicies *FeePolicyRepository
	fees        FeePolicyConfig
	log         *logrus.Entry
	metrics     *metrics.Metrics

	mu        sync.Mutex
	building  bool
	lastBlock uint64
	deadline  time.Duration
}

// Config configures a Builder.
type Config struct {
	SubmissionDeadline time.Duration
	Fees               FeePolicyConfig
}

// New constructs a Builder. feePolicies may be nil, in which case
// resolved fee policies are attached to each order in-memory (for
// scoring and settlement) but not persisted to the fee_policies table.
func New(client ChainTip, orders SolvableOrderLister, oracle NativePriceOracle, store *Store, feePolicies *FeePolicyRepository, cfg Config, m *metrics.Metrics) *Builder {
	deadline := cfg.SubmissionDeadline
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	return &Builder{
		client:      client,
		orders:      orders,
		oracle:      oracle,
		store:       store,
		feePolicies: feePolicies,
		fees:        cfg.Fees,
		log:         logrus.WithField("component", "auctionbuilder"),
		metrics:     m,
		deadline:    deadline,
	}
}

// Run ticks at cadence until ctx is cancelled, coalescing overlapping
// builds the way services/indexer/syncer.go coalesces sync ticks.
func (b *Builder) Run(ctx context.Context, cadence time.Duration) {
	ticker := time.NewTicker(cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := b.Tick(ctx); err != nil {
				b.log.WithError(err).Warn("auction build tick failed")
			}
		}
	}
}

// Tick runs one build attempt, returning nil if skipped (tip unchanged,
// or a build is already in progress).
func (b *Builder) Tick(ctx context.Context) (*domain.Auction, error) {
	b.mu.Lock()
	if b.building {
		b.mu.Unlock()
		return nil, nil
	}
	b.building = true
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.building = false
		b.mu.Unlock()
	}()

	start := time.Now()
	auction, err := b.build(ctx)
	b.observe(start, err)
	return auction, err
}

func (b *Builder) observe(start time.Time, err error) {
	if b.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	b.metrics.RecordAuctionBuild(status, time.Since(start))
}

func (b *Builder) build(ctx context.Context) (*domain.Auction, error) {
	tip, err := b.client.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	last := b.lastBlock
	b.mu.Unlock()
	if tip == last {
		return nil, nil // step 1: skip if chain tip has not advanced
	}

	orders, err := b.orders.ListSolvableOrders(ctx, tip, time.Now().Unix())
	if err != nil {
		return nil, err
	}

	prices := make(map[common.Address]*big.Int)
	priced := make([]*domain.Order, 0, len(orders))
	for _, o := range orders {
		_, sellOK := b.priceFor(ctx, o.SellToken, tip, prices)
		_, buyOK := b.priceFor(ctx, o.BuyToken, tip, prices)
		if !sellOK || !buyOK {
			b.log.WithField("order", o.UID.String()).Debug("dropping order: no native price for one of its tokens")
			continue
		}
		o.FeePolicies = resolvePolicies(b.fees.resolve(time.Now()), o)
		priced = append(priced, o)
	}
	if b.metrics != nil {
		b.metrics.ObserveAuctionOrders(len(priced))
	}

	id, err := b.store.NextAuctionID(ctx)
	if err != nil {
		return nil, err
	}

	auction := &domain.Auction{
		ID:       id,
		Block:    tip,
		Orders:   priced,
		Prices:   prices,
		Deadline: time.Now().Add(b.deadline),
	}
	if derr := auction.Validate(); derr != nil {
		return nil, derr
	}

	if err := b.store.Put(ctx, auction); err != nil {
		return nil, err
	}

	if b.feePolicies != nil {
		for _, o := range priced {
			if len(o.FeePolicies) == 0 {
				continue
			}
			if err := b.feePolicies.Put(ctx, id, o.UID, o.FeePolicies); err != nil {
				b.log.WithError(err).WithField("order", o.UID.String()).Warn("persist fee policies failed")
			}
		}
	}

	b.mu.Lock()
	b.lastBlock = tip
	b.mu.Unlock()
	return auction, nil
}

func (b *Builder) priceFor(ctx context.Context, token common.Address, atBlock uint64, out map[common.Address]*big.Int) (*big.Int, bool) {
	if p, ok := out[token]; ok {
		return p, true
	}
	p, ok := b.oracle.NativePrice(ctx, token, atBlock)
	if !ok {
		return nil, false
	}
	out[token] = p
	return p, true
}

func resolvePolicies(rules []FeePolicyRule, o *domain.Order) []domain.FeePolicy {
	if o.Class == domain.OrderClassLiquidity {
		return nil // liquidity orders never earn fees
	}
	var out []domain.FeePolicy
	for _, r := range rules {
		if r.OrderClass == o.Class {
			out = append(out, r.Policy)
		}
	}
	return out
}
