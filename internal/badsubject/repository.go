package badsubject

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Repository persists Detector snapshots to Postgres so the in-memory
// table survives a restart. Grounded on the teacher's raw database/sql
// repository style: no ORM, explicit upserts.
type Repository struct {
	db *sql.DB
}

// NewRepository wraps db.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// LoadAll reads every persisted subject, used once at startup to
// Restore a Detector.
func (r *Repository) LoadAll(ctx context.Context) ([]Snapshot, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT solver, token, attempts, failures, status, frozen_at FROM bad_subjects`)
	if err != nil {
		return nil, fmt.Errorf("load bad subjects: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var solverHex, tokenHex, status string
		var attempts, failures int
		var frozenAt sql.NullTime
		if err := rows.Scan(&solverHex, &tokenHex, &attempts, &failures, &status, &frozenAt); err != nil {
			return nil, fmt.Errorf("scan bad subject: %w", err)
		}
		s := Snapshot{
			Key:      Key{Solver: common.HexToAddress(solverHex), Token: common.HexToAddress(tokenHex)},
			Attempts: attempts,
			Failures: failures,
			Status:   Status(status),
		}
		if frozenAt.Valid {
			s.FrozenAt = frozenAt.Time
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SaveAll upserts every snapshot, one row per (solver, token).
func (r *Repository) SaveAll(ctx context.Context, snapshots []Snapshot) error {
	for _, s := range snapshots {
		var frozenAt interface{}
		if !s.FrozenAt.IsZero() {
			frozenAt = s.FrozenAt
		}
		const q = `
			INSERT INTO bad_subjects (solver, token, attempts, failures, status, frozen_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (solver, token) DO UPDATE SET
				attempts = EXCLUDED.attempts,
				failures = EXCLUDED.failures,
				status = EXCLUDED.status,
				frozen_at = EXCLUDED.frozen_at`
		if _, err := r.db.ExecContext(ctx, q,
			s.Solver.Hex(), s.Token.Hex(), s.Attempts, s.Failures, string(s.Status), frozenAt); err != nil {
			return fmt.Errorf("save bad subject %s/%s: %w", s.Solver.Hex(), s.Token.Hex(), err)
		}
	}
	return nil
}

// Persister periodically flushes a Detector's in-memory table to
// Postgres on a robfig/cron schedule, grounded on autopilot.Cleanup's
// Schedule.
type Persister struct {
	detector *Detector
	repo     *Repository
	log      *logrus.Entry
}

// NewPersister builds a Persister for detector backed by repo.
func NewPersister(detector *Detector, repo *Repository) *Persister {
	return &Persister{detector: detector, repo: repo, log: logrus.WithField("component", "badsubject-persister")}
}

// Schedule registers Flush on a robfig/cron schedule and starts it.
func (p *Persister) Schedule(spec string) (*cron.Cron, error) {
	sched := cron.New()
	_, err := sched.AddFunc(spec, func() {
		if err := p.Flush(context.Background()); err != nil {
			p.log.WithError(err).Warn("failed to persist bad-subject table")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule bad-subject persister: %w", err)
	}
	sched.Start()
	return sched, nil
}

// Flush writes the current in-memory snapshot to Postgres.
func (p *Persister) Flush(ctx context.Context) error {
	snapshot := p.detector.Snapshot()
	if len(snapshot) == 0 {
		return nil
	}
	return p.repo.SaveAll(ctx, snapshot)
}

// Warm loads the persisted table into detector at startup.
func Warm(ctx context.Context, detector *Detector, repo *Repository) error {
	snapshots, err := repo.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("warm bad-subject table: %w", err)
	}
	detector.Restore(snapshots)
	return nil
}
