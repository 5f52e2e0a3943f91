package competition

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/batchauction/engine/internal/domain"
)

// SQLStore persists Competition records to the solver_competitions(id,
// tx_hash, json) table, per spec.md §6. This is the only writer of that
// table, per the Ownership rules in spec.md §3.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps db. NewSQLStore satisfies the Repository interface.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

type competitionJSON struct {
	Outcomes         []outcomeJSON `json:"outcomes"`
	WinnerDriver     string        `json:"winner_driver,omitempty"`
	WinnerScore      string        `json:"winner_score,omitempty"`
	ReferenceScore   string        `json:"reference_score,omitempty"`
	ObservedScore    string        `json:"observed_score,omitempty"`
	SettlementStatus string        `json:"settlement_status"`
}

type outcomeJSON struct {
	Driver string `json:"driver"`
	Solver string `json:"solver"`
	Kind   string `json:"kind"`
	Score  string `json:"score,omitempty"`
	Err    string `json:"err,omitempty"`
}

// Put inserts one competition record, keyed by auction id.
func (s *SQLStore) Put(ctx context.Context, c *domain.Competition) error {
	payload := competitionJSON{SettlementStatus: string(c.SettlementStatus)}
	for _, o := range c.Outcomes {
		oj := outcomeJSON{Driver: o.Driver, Solver: o.Solver.Hex(), Kind: string(o.Kind), Err: o.Err}
		if o.Score != nil {
			oj.Score = o.Score.String()
		}
		payload.Outcomes = append(payload.Outcomes, oj)
	}
	if c.Winner != nil {
		payload.WinnerDriver = c.Winner.Driver
		if c.Winner.Score != nil {
			payload.WinnerScore = c.Winner.Score.String()
		}
	}
	if c.ReferenceScore != nil {
		payload.ReferenceScore = c.ReferenceScore.String()
	}
	if c.ObservedScore != nil {
		payload.ObservedScore = c.ObservedScore.String()
	}

	blob, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal competition: %w", err)
	}

	var txHash *string
	if c.SettlementTxHash != nil {
		h := c.SettlementTxHash.Hex()
		txHash = &h
	}

	const q = `
		INSERT INTO solver_competitions (id, tx_hash, json)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET tx_hash = EXCLUDED.tx_hash, json = EXCLUDED.json`
	if _, err := s.db.ExecContext(ctx, q, c.AuctionID, txHash, blob); err != nil {
		return fmt.Errorf("upsert competition: %w", err)
	}
	return nil
}

// WinnerScore returns the score the winning driver's solution claimed at
// solve time, for comparison against a later-computed observed quality.
func (s *SQLStore) WinnerScore(ctx context.Context, auctionID int64) (*big.Int, bool, error) {
	var blob []byte
	row := s.db.QueryRowContext(ctx, `SELECT json FROM solver_competitions WHERE id = $1`, auctionID)
	if err := row.Scan(&blob); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("query competition: %w", err)
	}

	var payload competitionJSON
	if err := json.Unmarshal(blob, &payload); err != nil {
		return nil, false, fmt.Errorf("unmarshal competition: %w", err)
	}
	if payload.WinnerScore == "" {
		return nil, false, nil
	}
	score, ok := new(big.Int).SetString(payload.WinnerScore, 10)
	if !ok {
		return nil, false, fmt.Errorf("parse winner score %q", payload.WinnerScore)
	}
	return score, true, nil
}

// RecordObservedQuality stores the post-settlement quality measurement
// against auctionID's competition record and reports whether the winning
// score exceeded it, per spec.md §8.4's Score-bounded-by-quality property.
// A violation is recorded, not retried: the settlement is already mined
// on chain by the time this runs, so there is nothing left to reject.
func (s *SQLStore) RecordObservedQuality(ctx context.Context, auctionID int64, quality *big.Int) (*domain.Error, error) {
	winnerScore, found, err := s.WinnerScore(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	observed := quality.String()
	const q = `UPDATE solver_competitions
		SET json = jsonb_set(json::jsonb, '{observed_score}', to_jsonb($2::text))
		WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, q, auctionID, observed); err != nil {
		return nil, fmt.Errorf("record observed quality: %w", err)
	}

	if found && winnerScore.Cmp(quality) > 0 {
		return domain.New(domain.KindBusinessRule, domain.CodeScoreHigherThanQuality,
			fmt.Sprintf("winning score %s exceeds observed quality %s", winnerScore.String(), observed)), nil
	}
	return nil, nil
}

// UpdateSettlement records an on-chain settlement observation against an
// already-persisted competition, called by SettlementTracker once the
// winning transaction is mined (spec.md §4.6).
func (s *SQLStore) UpdateSettlement(ctx context.Context, auctionID int64, status domain.SettlementStatus, txHash string, observedScore *string) error {
	const q = `UPDATE solver_competitions
		SET tx_hash = $2,
		    json = jsonb_set(jsonb_set(json::jsonb, '{settlement_status}', to_jsonb($3::text)), '{observed_score}', to_jsonb(COALESCE($4, json::jsonb->>'observed_score')))
		WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, q, auctionID, txHash, string(status), observedScore); err != nil {
		return fmt.Errorf("update competition settlement: %w", err)
	}
	return nil
}
