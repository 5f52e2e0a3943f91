package settlementtracker

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Repository reads and enriches settlement_events, the one table
// SettlementTracker is the sole writer of the enrichment columns for,
// per spec.md §3.
type Repository struct {
	db *sql.DB
}

// NewRepository wraps db.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// PendingSettlement is one settlement_events row still missing its
// (tx_from, tx_nonce, auction_id) enrichment.
type PendingSettlement struct {
	BlockNumber uint64
	LogIndex    uint64
	TxHash      common.Hash
	Solver      common.Address
}

// PendingSettlements returns enrichment-eligible rows: older than
// maxReorgDepth blocks (so a reorg cannot invalidate the enrichment
// before it lands) and still missing tx_from.
func (r *Repository) PendingSettlements(ctx context.Context, tip, maxReorgDepth uint64, limit int) ([]PendingSettlement, error) {
	if tip < maxReorgDepth {
		return nil, nil
	}
	cutoff := tip - maxReorgDepth

	rows, err := r.db.QueryContext(ctx, `
		SELECT block_number, log_index, tx_hash, solver
		FROM settlement_events
		WHERE tx_from IS NULL AND block_number <= $1
		ORDER BY block_number, log_index
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending settlements: %w", err)
	}
	defer rows.Close()

	var out []PendingSettlement
	for rows.Next() {
		var p PendingSettlement
		var txHashHex, solverHex string
		if err := rows.Scan(&p.BlockNumber, &p.LogIndex, &txHashHex, &solverHex); err != nil {
			return nil, fmt.Errorf("scan pending settlement: %w", err)
		}
		p.TxHash = common.HexToHash(txHashHex)
		p.Solver = common.HexToAddress(solverHex)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Enrich writes the decoded (tx_from, tx_nonce, auction_id) for one
// settlement event, keyed by its (block_number, log_index) primary key.
func (r *Repository) Enrich(ctx context.Context, blockNumber, logIndex uint64, txFrom common.Address, txNonce uint64, auctionID int64) error {
	const q = `
		UPDATE settlement_events
		SET tx_from = $3, tx_nonce = $4, auction_id = $5
		WHERE block_number = $1 AND log_index = $2`
	res, err := r.db.ExecContext(ctx, q, blockNumber, logIndex, txFrom.Hex(), txNonce, auctionID)
	if err != nil {
		return fmt.Errorf("enrich settlement event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("enrich settlement event: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("enrich settlement event: no row at block %d index %d", blockNumber, logIndex)
	}
	return nil
}
