// Package orderstore is the authoritative set of orders and their
// lifecycle, per spec.md §4.2. It exclusively owns the orders, quotes
// and order_events tables (spec.md §3 Ownership).
package orderstore

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/batchauction/engine/internal/domain"
	"github.com/batchauction/engine/internal/platform/metrics"
)

// CancelResult is the outcome of a cancel_order call, per spec.md §4.2.
type CancelResult string

const (
	CancelResultCancelled                     CancelResult = "Cancelled"
	CancelResultAlreadyCancelled               CancelResult = "AlreadyCancelled"
	CancelResultExpired                        CancelResult = "Expired"
	CancelResultWrongOwner                     CancelResult = "WrongOwner"
	CancelResultNotFound                       CancelResult = "NotFound"
	CancelResultOnChainOrderMustCancelOnChain  CancelResult = "OnChainOrderMustCancelOnChain"
)

// BalanceReader checks a trader's sell-token balance and allowance to
// the settlement contract's vault relayer. The concrete implementation
// (an ERC-20 multicall reader) is an external collaborator per
// spec.md §1; only this interface is specified.
type BalanceReader interface {
	BalanceAndAllowance(ctx context.Context, token, owner common.Address, atBlock uint64) (balance, allowance *big.Int, err error)
}

// Store is the OrderStore component.
type Store struct {
	db      *sql.DB
	log     *logrus.Entry
	metrics *metrics.Metrics
	service string
	balance BalanceReader
	grace   time.Duration
}

// New constructs an OrderStore backed by db, grounded on the teacher's
// services/indexer.Storage (raw database/sql + lib/pq, ExecContext /
// QueryRowContext, no ORM).
func New(db *sql.DB, balance BalanceReader, m *metrics.Metrics) *Store {
	return &Store{
		db:      db,
		log:     logrus.WithField("component", "orderstore"),
		metrics: m,
		service: "orderbook",
		balance: balance,
		grace:   30 * time.Second,
	}
}

func (s *Store) observe(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	if s.metrics != nil {
		s.metrics.RecordDatabaseQuery(s.service, op, status, time.Since(start))
	}
}

// PutOrder inserts a validly signed order. Returns AlreadyExists if the
// uid is already known.
func (s *Store) PutOrder(ctx context.Context, order *domain.Order, nowUnix int64) *domain.Error {
	start := time.Now()
	if derr := order.Validate(nowUnix); derr != nil {
		s.observe("put_order", start, derr)
		return derr
	}

	existing, err := s.GetOrder(ctx, order.UID)
	if err != nil {
		derr := domain.Wrap(domain.KindTransport, "", err)
		s.observe("put_order", start, derr)
		return derr
	}
	if existing != nil {
		derr := domain.New(domain.KindBusinessRule, domain.CodeAlreadyExists, "order already exists")
		s.observe("put_order", start, derr)
		return derr
	}

	order.Status = domain.OrderStatusFillable
	order.Executed = big.NewInt(0)
	order.CreatedAt = time.Now().UTC()

	err = s.insertOrder(ctx, order)
	s.observe("put_order", start, err)
	if err != nil {
		return domain.Wrap(domain.KindTransport, "", err)
	}
	return s.emitOrderEvent(ctx, order.UID, "Created")
}

// CancelOrder implements the off-chain cancellation path: an
// owner-signed message cancels a Fillable order. On-chain pre-sign
// orders must be cancelled by an on-chain invalidation event instead
// (see ApplyOnChainInvalidation).
func (s *Store) CancelOrder(ctx context.Context, uid domain.OrderUID, cancelledBy common.Address, nowUnix int64) (CancelResult, *domain.Error) {
	start := time.Now()
	order, err := s.GetOrder(ctx, uid)
	if err != nil {
		derr := domain.Wrap(domain.KindTransport, "", err)
		s.observe("cancel_order", start, derr)
		return "", derr
	}
	if order == nil {
		s.observe("cancel_order", start, nil)
		return CancelResultNotFound, nil
	}
	if order.SigningScheme == domain.SigningSchemePreSign {
		s.observe("cancel_order", start, nil)
		return CancelResultOnChainOrderMustCancelOnChain, nil
	}
	if order.Owner != cancelledBy {
		s.observe("cancel_order", start, nil)
		return CancelResultWrongOwner, nil
	}
	if order.Status == domain.OrderStatusCancelled {
		s.observe("cancel_order", start, nil)
		return CancelResultAlreadyCancelled, nil
	}
	if int64(order.ValidTo) < nowUnix {
		s.observe("cancel_order", start, nil)
		return CancelResultExpired, nil
	}

	err = s.updateStatus(ctx, uid, domain.OrderStatusCancelled)
	s.observe("cancel_order", start, err)
	if err != nil {
		return "", domain.Wrap(domain.KindTransport, "", err)
	}
	if derr := s.emitOrderEvent(ctx, uid, "Cancelled"); derr != nil {
		return "", derr
	}
	return CancelResultCancelled, nil
}

// ApplyOnChainInvalidation cancels a pre-sign order in response to an
// OrderInvalidated event. An order can never transition back from
// Cancelled to Fillable (store invariant).
func (s *Store) ApplyOnChainInvalidation(ctx context.Context, uid domain.OrderUID) *domain.Error {
	order, err := s.GetOrder(ctx, uid)
	if err != nil {
		return domain.Wrap(domain.KindTransport, "", err)
	}
	if order == nil || order.Status == domain.OrderStatusCancelled {
		return nil
	}
	if err := s.updateStatus(ctx, uid, domain.OrderStatusCancelled); err != nil {
		return domain.Wrap(domain.KindTransport, "", err)
	}
	return s.emitOrderEvent(ctx, uid, "Cancelled")
}

// GetOrder retrieves one order by uid, or nil if unknown.
func (s *Store) GetOrder(ctx context.Context, uid domain.OrderUID) (*domain.Order, error) {
	start := time.Now()
	order, err := s.queryOrder(ctx, uid)
	s.observe("get_order", start, err)
	return order, err
}

// ListSolvableOrders filters to orders that are not expired, fully
// executed, cancelled-on-chain, and backed by sufficient balance and
// allowance at atBlock, per spec.md §4.2. Unbacked orders are left in
// the store tagged Invalid rather than removed -- they become solvable
// again once funded.
func (s *Store) ListSolvableOrders(ctx context.Context, atBlock uint64, nowUnix int64) ([]*domain.Order, error) {
	start := time.Now()
	candidates, err := s.queryCandidateOrders(ctx)
	s.observe("list_solvable_orders", start, err)
	if err != nil {
		return nil, err
	}

	var solvable []*domain.Order
	for _, o := range candidates {
		if !o.Fillable(nowUnix, int64(s.grace.Seconds())) {
			continue
		}
		if s.balance == nil {
			solvable = append(solvable, o)
			continue
		}
		balance, allowance, err := s.balance.BalanceAndAllowance(ctx, o.SellToken, o.Owner, atBlock)
		if err != nil {
			s.log.WithError(err).WithField("order", o.UID.String()).Warn("balance check failed, excluding order")
			continue
		}
		remaining := o.RemainingSellAmount()
		if balance.Cmp(remaining) < 0 || allowance.Cmp(remaining) < 0 {
			if o.Status != domain.OrderStatusInvalid {
				_ = s.updateStatus(ctx, o.UID, domain.OrderStatusInvalid)
				_ = s.emitOrderEvent(ctx, o.UID, "Invalid")
			}
			continue
		}
		if o.Status == domain.OrderStatusInvalid {
			_ = s.updateStatus(ctx, o.UID, domain.OrderStatusFillable)
		}
		solvable = append(solvable, o)
	}
	return solvable, nil
}

// Fill is one settled trade's executed amount, applied by
// UpdateFillsFromEvents.
type Fill struct {
	OrderUID       domain.OrderUID
	ExecutedAmount *big.Int // cumulative, not delta -- matches the Trade event's semantics
}

// UpdateFillsFromEvents reconciles stored fill amounts with settled
// Trade events, keeping the "executed never exceeds order amount"
// invariant: the stored amount (a sell-token amount) is clamped to the
// order's SellAmount, for buy and sell orders alike.
func (s *Store) UpdateFillsFromEvents(ctx context.Context, fills []Fill) error {
	for _, f := range fills {
		order, err := s.queryOrder(ctx, f.OrderUID)
		if err != nil {
			return fmt.Errorf("load order %s: %w", f.OrderUID.String(), err)
		}
		if order == nil {
			s.log.WithField("order", f.OrderUID.String()).Warn("fill for unknown order, skipping")
			continue
		}

		full := order.SellAmount
		executed := f.ExecutedAmount
		if executed.Cmp(full) > 0 {
			executed = full
		}

		status := domain.OrderStatusFillable
		if executed.Cmp(full) == 0 {
			status = domain.OrderStatusExecuted
		}

		if err := s.updateExecuted(ctx, f.OrderUID, executed, status); err != nil {
			return fmt.Errorf("update executed for %s: %w", f.OrderUID.String(), err)
		}
		if derr := s.emitOrderEvent(ctx, f.OrderUID, "Traded"); derr != nil {
			return derr
		}
	}
	return nil
}
