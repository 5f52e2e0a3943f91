package autopilot

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/batchauction/engine/internal/domain"
)

// Store persists auctions to the auctions(id, block, json) table and
// hands out the strictly-increasing auction id sequence, grounded on
// the teacher's raw database/sql repository style.
type Store struct {
	db *sql.DB
}

// NewStore wraps db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// NextAuctionID allocates the next id from a dedicated sequence, kept
// separate from the auctions table itself so an id is reserved even if
// the subsequent Put fails validation and nothing is persisted for it
// (ids may have gaps, but never go backwards or repeat).
func (s *Store) NextAuctionID(ctx context.Context) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT nextval('auction_id_seq')`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("allocate auction id: %w", err)
	}
	return id, nil
}

type auctionJSON struct {
	Orders                         []orderJSON       `json:"orders"`
	Prices                         map[string]string `json:"prices"`
	EffectiveGasPrice              *string           `json:"effective_gas_price,omitempty"`
	SurplusCapturingJITOrderOwners []string          `json:"surplus_capturing_jit_order_owners,omitempty"`
	DeadlineUnix                   int64             `json:"deadline_unix"`
}

type orderJSON struct {
	UID string `json:"uid"`
}

// Put writes the complete auction, per spec.md §4.3 step 5.
func (s *Store) Put(ctx context.Context, a *domain.Auction) error {
	payload := auctionJSON{
		Prices:        make(map[string]string, len(a.Prices)),
		DeadlineUnix:  a.Deadline.Unix(),
	}
	for _, o := range a.Orders {
		payload.Orders = append(payload.Orders, orderJSON{UID: o.UID.String()})
	}
	for tok, price := range a.Prices {
		payload.Prices[tok.Hex()] = price.String()
	}
	if a.EffectiveGasPrice != nil {
		v := a.EffectiveGasPrice.String()
		payload.EffectiveGasPrice = &v
	}
	for _, addr := range a.SurplusCapturingJITOrderOwners {
		payload.SurplusCapturingJITOrderOwners = append(payload.SurplusCapturingJITOrderOwners, addr.Hex())
	}

	blob, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal auction: %w", err)
	}

	const q = `INSERT INTO auctions (id, block, json, created_at) VALUES ($1, $2, $3, now())`
	if _, err := s.db.ExecContext(ctx, q, a.ID, a.Block, blob); err != nil {
		return fmt.Errorf("insert auction: %w", err)
	}
	return nil
}

// Get reads back one auction's order-uid/price skeleton (enough for
// CompetitionCoordinator to re-request full order details from
// OrderStore by uid, rather than duplicating order storage).
func (s *Store) Get(ctx context.Context, id int64) (block uint64, orderUIDs []domain.OrderUID, prices map[common.Address]*big.Int, err error) {
	var blob []byte
	row := s.db.QueryRowContext(ctx, `SELECT block, json FROM auctions WHERE id = $1`, id)
	if err := row.Scan(&block, &blob); err != nil {
		return 0, nil, nil, fmt.Errorf("query auction: %w", err)
	}

	var payload auctionJSON
	if err := json.Unmarshal(blob, &payload); err != nil {
		return 0, nil, nil, fmt.Errorf("unmarshal auction: %w", err)
	}

	prices = make(map[common.Address]*big.Int, len(payload.Prices))
	for tok, priceStr := range payload.Prices {
		price, ok := new(big.Int).SetString(priceStr, 10)
		if !ok {
			return 0, nil, nil, fmt.Errorf("parse price %q for token %s", priceStr, tok)
		}
		prices[common.HexToAddress(tok)] = price
	}

	for _, o := range payload.Orders {
		uid, err := domain.ParseOrderUID(o.UID)
		if err != nil {
			return 0, nil, nil, fmt.Errorf("parse order uid: %w", err)
		}
		orderUIDs = append(orderUIDs, uid)
	}

	return block, orderUIDs, prices, nil
}
