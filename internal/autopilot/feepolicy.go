package autopilot

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"

	"github.com/batchauction/engine/internal/domain"
)

// FeePolicyRepository persists the ordered fee_policies list attached to
// each order at auction-build time, per spec.md §6's
// fee_policies(auction_id, order_uid, application_order, kind, ...) table.
// Kept separate from Store (the auctions table) because an auction's
// order list is looked up from OrderStore by uid, while the fee policy
// application order is specific to the auction round that computed it
// and is never recomputed later.
type FeePolicyRepository struct {
	db *sql.DB
}

// NewFeePolicyRepository wraps db.
func NewFeePolicyRepository(db *sql.DB) *FeePolicyRepository {
	return &FeePolicyRepository{db: db}
}

// Put writes policies for one order in application order, replacing any
// prior rows for the same (auctionID, orderUID) pair.
func (r *FeePolicyRepository) Put(ctx context.Context, auctionID int64, orderUID domain.OrderUID, policies []domain.FeePolicy) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin fee policy tx: %w", err)
	}
	defer tx.Rollback()

	const del = `DELETE FROM fee_policies WHERE auction_id = $1 AND order_uid = $2`
	if _, err := tx.ExecContext(ctx, del, auctionID, orderUID.String()); err != nil {
		return fmt.Errorf("clear fee policies: %w", err)
	}

	const ins = `INSERT INTO fee_policies (
		auction_id, order_uid, application_order, kind,
		surplus_factor, surplus_max_volume_factor, volume_factor,
		price_improvement_factor, price_improvement_max_volume_factor,
		quote_sell, quote_buy, quote_fee
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	for i, p := range policies {
		var surplusFactor, surplusMaxVolumeFactor, volumeFactor sql.NullString
		var priceImprovementFactor, priceImprovementMaxVolumeFactor sql.NullString
		var quoteSell, quoteBuy, quoteFee sql.NullString

		switch p.Kind {
		case domain.FeePolicyKindSurplus:
			surplusFactor = nullFactor(p.Factor)
			surplusMaxVolumeFactor = nullFactor(p.MaxVolumeFactor)
		case domain.FeePolicyKindVolume:
			volumeFactor = nullFactor(p.Factor)
		case domain.FeePolicyKindPriceImprovement:
			priceImprovementFactor = nullFactor(p.PriceImprovementFactor)
			priceImprovementMaxVolumeFactor = nullFactor(p.MaxVolumeFactor)
			if p.Quote != nil {
				quoteSell = nullBigInt(p.Quote.SellAmount)
				quoteBuy = nullBigInt(p.Quote.BuyAmount)
				quoteFee = nullBigInt(p.Quote.FeeAmount)
			}
		}

		if _, err := tx.ExecContext(ctx, ins,
			auctionID, orderUID.String(), i, string(p.Kind),
			surplusFactor, surplusMaxVolumeFactor, volumeFactor,
			priceImprovementFactor, priceImprovementMaxVolumeFactor,
			quoteSell, quoteBuy, quoteFee,
		); err != nil {
			return fmt.Errorf("insert fee policy %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// Get reads back an order's fee policies in application order.
func (r *FeePolicyRepository) Get(ctx context.Context, auctionID int64, orderUID domain.OrderUID) ([]domain.FeePolicy, error) {
	const q = `SELECT kind, surplus_factor, surplus_max_volume_factor, volume_factor,
		price_improvement_factor, price_improvement_max_volume_factor,
		quote_sell, quote_buy, quote_fee
		FROM fee_policies WHERE auction_id = $1 AND order_uid = $2 ORDER BY application_order ASC`

	rows, err := r.db.QueryContext(ctx, q, auctionID, orderUID.String())
	if err != nil {
		return nil, fmt.Errorf("query fee policies: %w", err)
	}
	defer rows.Close()

	var out []domain.FeePolicy
	for rows.Next() {
		var kind string
		var surplusFactor, surplusMaxVolumeFactor, volumeFactor sql.NullString
		var priceImprovementFactor, priceImprovementMaxVolumeFactor sql.NullString
		var quoteSell, quoteBuy, quoteFee sql.NullString

		if err := rows.Scan(&kind, &surplusFactor, &surplusMaxVolumeFactor, &volumeFactor,
			&priceImprovementFactor, &priceImprovementMaxVolumeFactor,
			&quoteSell, &quoteBuy, &quoteFee); err != nil {
			return nil, fmt.Errorf("scan fee policy: %w", err)
		}

		p := domain.FeePolicy{Kind: domain.FeePolicyKind(kind)}
		switch p.Kind {
		case domain.FeePolicyKindSurplus:
			p.Factor = mustFactor(surplusFactor)
			p.MaxVolumeFactor = mustFactor(surplusMaxVolumeFactor)
		case domain.FeePolicyKindVolume:
			p.Factor = mustFactor(volumeFactor)
		case domain.FeePolicyKindPriceImprovement:
			p.PriceImprovementFactor = mustFactor(priceImprovementFactor)
			p.MaxVolumeFactor = mustFactor(priceImprovementMaxVolumeFactor)
			if quoteSell.Valid && quoteBuy.Valid {
				q := &domain.Quote{OrderUID: orderUID}
				q.SellAmount, _ = parseBigInt(quoteSell.String)
				q.BuyAmount, _ = parseBigInt(quoteBuy.String)
				if quoteFee.Valid {
					q.FeeAmount, _ = parseBigInt(quoteFee.String)
				}
				p.Quote = q
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func nullFactor(f domain.FeeFactor) sql.NullString {
	r := f.Rat()
	if r == nil || r.Sign() == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: r.RatString(), Valid: true}
}

func mustFactor(s sql.NullString) domain.FeeFactor {
	if !s.Valid {
		return domain.FeeFactor{}
	}
	f, err := domain.NewFeeFactor(s.String)
	if err != nil {
		return domain.FeeFactor{}
	}
	return f
}

func nullBigInt(v *big.Int) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: v.String(), Valid: true}
}

func parseBigInt(s string) (*big.Int, bool) {
	return new(big.Int).SetString(s, 10)
}
