// Package badsubject implements the BadSubjectDetector module from
// spec.md §4.7: a rolling per-(solver, token) failure counter with a
// freeze/unfreeze policy, so a solver that repeatedly fails to settle
// a particular token stops being offered orders that touch it.
package badsubject

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/batchauction/engine/internal/domain"
	"github.com/batchauction/engine/internal/platform/metrics"
)

// Status mirrors spec.md §4.7's two-state model; there is no explicit
// "frozen" status distinct from Unsupported -- a subject is Unsupported
// for exactly FreezeDuration, then reverts to Unknown.
type Status string

const (
	StatusUnknown     Status = "Unknown"
	StatusUnsupported Status = "Unsupported"
)

// Key identifies one (solver, token) pair tracked independently, since
// bad-token status is per-solver per spec.md §4.7.
type Key struct {
	Solver common.Address
	Token  common.Address
}

// Config holds the policy thresholds named in spec.md §4.7/§9.
type Config struct {
	RequiredMeasurements int           // attempts needed before a verdict is possible
	FailureRatio         float64       // failures/attempts at or above this freezes the subject
	FreezeDuration       time.Duration // how long a subject stays Unsupported
}

// DefaultConfig matches the S6 scenario's thresholds from spec.md §8.
func DefaultConfig() Config {
	return Config{RequiredMeasurements: 2, FailureRatio: 0.5, FreezeDuration: 10 * time.Minute}
}

type subjectState struct {
	mu       sync.Mutex
	attempts int
	failures int
	status   Status
	frozenAt time.Time
	// probation is set when a freeze expires: the next failure re-freezes.
	probation bool
}

// Detector tracks per-(solver, token) reliability in memory, with
// per-key locking grounded on the teacher's getUserLock pattern
// (services/gasbank/marble/service.go's sync.Map of per-user mutexes) --
// generalized here from per-user to per-(solver, token).
type Detector struct {
	cfg     Config
	states  sync.Map // map[Key]*subjectState
	metrics *metrics.Metrics
	log     *logrus.Entry
}

// New constructs a Detector. cfg's zero value is replaced with
// DefaultConfig's thresholds.
func New(cfg Config, m *metrics.Metrics) *Detector {
	if cfg.RequiredMeasurements <= 0 {
		cfg.RequiredMeasurements = DefaultConfig().RequiredMeasurements
	}
	if cfg.FailureRatio <= 0 {
		cfg.FailureRatio = DefaultConfig().FailureRatio
	}
	if cfg.FreezeDuration <= 0 {
		cfg.FreezeDuration = DefaultConfig().FreezeDuration
	}
	return &Detector{cfg: cfg, metrics: m, log: logrus.WithField("component", "badsubjectdetector")}
}

func (d *Detector) stateFor(key Key) *subjectState {
	v, _ := d.states.LoadOrStore(key, &subjectState{status: StatusUnknown})
	return v.(*subjectState)
}

// RecordOutcome folds one settlement attempt's success/failure into the
// (solver, token) subject's rolling counter, freezing it once
// attempts >= RequiredMeasurements and failures/attempts >= FailureRatio.
func (d *Detector) RecordOutcome(solver, token common.Address, success bool) {
	key := Key{Solver: solver, Token: token}
	st := d.stateFor(key)

	st.mu.Lock()
	defer st.mu.Unlock()

	d.maybeUnfreezeLocked(st)
	onProbation := st.probation
	st.probation = false

	st.attempts++
	if !success {
		st.failures++
	}

	if st.status == StatusUnknown &&
		((onProbation && !success) ||
			(st.attempts >= d.cfg.RequiredMeasurements &&
				float64(st.failures)/float64(st.attempts) >= d.cfg.FailureRatio)) {
		st.status = StatusUnsupported
		st.frozenAt = time.Now()
		d.log.WithFields(logrus.Fields{"solver": solver.Hex(), "token": token.Hex()}).
			Warn("token marked Unsupported for solver")
		d.refreshMetric()
	}
}

// IsUnsupported reports whether token is currently Unsupported for
// solver, lazily expiring a stale freeze first.
func (d *Detector) IsUnsupported(solver, token common.Address) bool {
	key := Key{Solver: solver, Token: token}
	st := d.stateFor(key)

	st.mu.Lock()
	defer st.mu.Unlock()
	d.maybeUnfreezeLocked(st)
	return st.status == StatusUnsupported
}

// maybeUnfreezeLocked reverts an Unsupported subject to Unknown once
// FreezeDuration has elapsed since it was frozen, resetting its counters
// and putting it on probation -- one more failure re-freezes it, per
// spec.md §4.7. Caller must hold st.mu.
func (d *Detector) maybeUnfreezeLocked(st *subjectState) {
	if st.status != StatusUnsupported {
		return
	}
	if time.Since(st.frozenAt) < d.cfg.FreezeDuration {
		return
	}
	st.status = StatusUnknown
	st.attempts = 0
	st.failures = 0
	st.frozenAt = time.Time{}
	st.probation = true
	d.refreshMetric()
}

// refreshMetric recomputes the Unsupported gauge by scanning every
// tracked subject. Cheap relative to RecordOutcome's call frequency
// since it only runs on a status transition, not on every outcome.
func (d *Detector) refreshMetric() {
	if d.metrics == nil {
		return
	}
	n := 0
	d.states.Range(func(_, v interface{}) bool {
		st := v.(*subjectState)
		st.mu.Lock()
		if st.status == StatusUnsupported {
			n++
		}
		st.mu.Unlock()
		return true
	})
	d.metrics.SetBadSubjectUnsupportedTotal(n)
}

// FilterOrders removes orders whose sell or buy token is currently
// Unsupported for solver, the pre-dispatch step spec.md §4.7 requires:
// "the auction coordinator, before dispatch, removes orders touching
// Unsupported tokens for the specific solver."
func (d *Detector) FilterOrders(solver common.Address, orders []*domain.Order) []*domain.Order {
	out := make([]*domain.Order, 0, len(orders))
	for _, o := range orders {
		if d.IsUnsupported(solver, o.SellToken) || d.IsUnsupported(solver, o.BuyToken) {
			continue
		}
		out = append(out, o)
	}
	return out
}

// Snapshot is one subject's state, used by Repository to persist across
// restarts.
type Snapshot struct {
	Key
	Attempts int
	Failures int
	Status   Status
	FrozenAt time.Time
}

// Snapshot returns every currently tracked subject for persistence.
func (d *Detector) Snapshot() []Snapshot {
	var out []Snapshot
	d.states.Range(func(k, v interface{}) bool {
		key := k.(Key)
		st := v.(*subjectState)
		st.mu.Lock()
		out = append(out, Snapshot{Key: key, Attempts: st.attempts, Failures: st.failures, Status: st.status, FrozenAt: st.frozenAt})
		st.mu.Unlock()
		return true
	})
	return out
}

// Restore seeds the in-memory table from a prior Snapshot, used once at
// startup after loading from Postgres.
func (d *Detector) Restore(snapshots []Snapshot) {
	for _, s := range snapshots {
		d.states.Store(s.Key, &subjectState{attempts: s.Attempts, failures: s.Failures, status: s.Status, frozenAt: s.FrozenAt})
	}
	d.refreshMetric()
}
