package eventindexer

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Repository persists the four event tables plus the indexer's
// checkpoint, grounded on the teacher's raw database/sql + lib/pq
// repository style (services/indexer/storage.go): no ORM, explicit
// ExecContext/QueryRowContext, manual Scan.
type Repository struct {
	db *sql.DB
}

// NewRepository wraps db.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// LatestIndexedBlock reads the checkpoint row, defaulting to 0 when the
// indexer has never run.
func (r *Repository) LatestIndexedBlock(ctx context.Context) (uint64, error) {
	var block int64
	err := r.db.QueryRowContext(ctx, `SELECT latest_indexed_block FROM indexer_checkpoint WHERE id = 1`).Scan(&block)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read checkpoint: %w", err)
	}
	return uint64(block), nil
}

// ReplaceWindow deletes every stored event at or above from, inserts
// events, and checkpoints latest_indexed_block to tip -- all inside one
// transaction, per spec.md §4.1's crash-safety requirement.
func (r *Repository) ReplaceWindow(ctx context.Context, from, tip uint64, events []RawEvent) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM settlement_events WHERE block_number >= $1`, from); err != nil {
		return fmt.Errorf("delete settlement_events window: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM trade_events WHERE block_number >= $1`, from); err != nil {
		return fmt.Errorf("delete trade_events window: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM order_invalidated_events WHERE block_number >= $1`, from); err != nil {
		return fmt.Errorf("delete order_invalidated_events window: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pre_signature_events WHERE block_number >= $1`, from); err != nil {
		return fmt.Errorf("delete pre_signature_events window: %w", err)
	}

	for _, e := range events {
		if err := insertEvent(ctx, tx, e); err != nil {
			return fmt.Errorf("insert %s event at block %d index %d: %w", e.Kind, e.BlockNumber, e.LogIndex, err)
		}
	}

	const upsertCheckpoint = `
		INSERT INTO indexer_checkpoint (id, latest_indexed_block)
		VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET latest_indexed_block = EXCLUDED.latest_indexed_block
	`
	if _, err := tx.ExecContext(ctx, upsertCheckpoint, tip); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}

	return tx.Commit()
}

func insertEvent(ctx context.Context, tx *sql.Tx, e RawEvent) error {
	switch e.Kind {
	case EventKindSettlement:
		const q = `INSERT INTO settlement_events (block_number, log_index, tx_hash, solver) VALUES ($1, $2, $3, $4)`
		_, err := tx.ExecContext(ctx, q, e.BlockNumber, e.LogIndex, e.TxHash.Hex(), e.Solver.Hex())
		return err
	case EventKindTrade:
		const q = `
			INSERT INTO trade_events (block_number, log_index, tx_hash, order_uid, owner, sell_token, buy_token, executed_sell_amount)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`
		_, err := tx.ExecContext(ctx, q, e.BlockNumber, e.LogIndex, e.TxHash.Hex(),
			common.Bytes2Hex(e.OrderUID), e.Owner.Hex(), e.SellToken.Hex(), e.BuyToken.Hex(),
			common.Bytes2Hex(e.ExecutedSellAmount))
		return err
	case EventKindOrderInvalidated:
		const q = `INSERT INTO order_invalidated_events (block_number, log_index, tx_hash, order_uid, owner) VALUES ($1, $2, $3, $4, $5)`
		_, err := tx.ExecContext(ctx, q, e.BlockNumber, e.LogIndex, e.TxHash.Hex(), common.Bytes2Hex(e.OrderUID), e.Owner.Hex())
		return err
	case EventKindPreSignature:
		const q = `INSERT INTO pre_signature_events (block_number, log_index, tx_hash, order_uid, owner) VALUES ($1, $2, $3, $4, $5)`
		_, err := tx.ExecContext(ctx, q, e.BlockNumber, e.LogIndex, e.TxHash.Hex(), common.Bytes2Hex(e.OrderUID), e.Owner.Hex())
		return err
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
}

// TradeFillsSince loads Trade events at or above fromBlock as OrderStore
// fill updates, the bridge between the indexer's raw event table and
// orderstore.UpdateFillsFromEvents.
func (r *Repository) TradeFillsSince(ctx context.Context, fromBlock uint64) ([]TradeFill, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT block_number, order_uid, executed_sell_amount FROM trade_events WHERE block_number >= $1 ORDER BY block_number, log_index`,
		fromBlock)
	if err != nil {
		return nil, fmt.Errorf("query trade fills: %w", err)
	}
	defer rows.Close()

	var out []TradeFill
	for rows.Next() {
		var blockNumber uint64
		var uidHex, amountHex string
		if err := rows.Scan(&blockNumber, &uidHex, &amountHex); err != nil {
			return nil, fmt.Errorf("scan trade fill: %w", err)
		}
		out = append(out, TradeFill{BlockNumber: blockNumber, OrderUIDHex: uidHex, ExecutedSellAmountHex: amountHex})
	}
	return out, rows.Err()
}

// TradeFill is the repository-level projection handed to OrderStore;
// orderstore.Fill decodes the hex-encoded fields into typed values.
type TradeFill struct {
	BlockNumber           uint64
	OrderUIDHex           string
	ExecutedSellAmountHex string
}
