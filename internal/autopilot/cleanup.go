package autopilot

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Cleanup periodically deletes auctions and settlement_executions rows
// older than a retention window -- an ambient maintenance task, kept
// separate from AuctionBuilder so it can run on its own cron schedule.
type Cleanup struct {
	db        *sql.DB
	retention time.Duration
	log       *logrus.Entry
}

// NewCleanup builds a Cleanup with the given retention window.
func NewCleanup(db *sql.DB, retention time.Duration) *Cleanup {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &Cleanup{db: db, retention: retention, log: logrus.WithField("component", "autopilot-cleanup")}
}

// Schedule registers Run on a robfig/cron schedule and starts the
// scheduler, returning the cron instance so callers can Stop it.
func (c *Cleanup) Schedule(spec string) (*cron.Cron, error) {
	sched := cron.New()
	_, err := sched.AddFunc(spec, func() {
		if err := c.Run(context.Background()); err != nil {
			c.log.WithError(err).Warn("periodic cleanup failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule cleanup: %w", err)
	}
	sched.Start()
	return sched, nil
}

// Run deletes rows older than the retention window in both tables.
func (c *Cleanup) Run(ctx context.Context) error {
	cutoff := time.Now().Add(-c.retention)

	res, err := c.db.ExecContext(ctx, `DELETE FROM auctions WHERE created_at < $1`, cutoff)
	if err != nil {
		return fmt.Errorf("cleanup auctions: %w", err)
	}
	deleted, _ := res.RowsAffected()
	c.log.WithField("deleted_auctions", deleted).Info("periodic cleanup complete")

	if _, err := c.db.ExecContext(ctx,
		`DELETE FROM settlement_executions WHERE start_timestamp < $1`, cutoff); err != nil {
		return fmt.Errorf("cleanup settlement_executions: %w", err)
	}
	return nil
}
