package orderstore

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/batchauction/engine/internal/domain"
)

// insertOrder writes a brand new order row. Callers already checked that
// the uid does not exist, so a conflict here indicates a race and is
// reported rather than silently upserted.
func (s *Store) insertOrder(ctx context.Context, o *domain.Order) error {
	var receiver sql.NullString
	if o.Receiver != nil {
		receiver = sql.NullString{String: o.Receiver.Hex(), Valid: true}
	}

	const query = `
		INSERT INTO orders (
			uid, sell_token, buy_token, sell_amount, buy_amount,
			side, valid_to, app_data, fee_amount, signing_scheme,
			signature, class, partially_fillable, sell_token_balance,
			buy_token_balance, receiver, owner, executed, status, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20
		)
	`
	_, err := s.db.ExecContext(ctx, query,
		o.UID.String(), o.SellToken.Hex(), o.BuyToken.Hex(), o.SellAmount.String(), o.BuyAmount.String(),
		string(o.Side), o.ValidTo, o.AppData[:], o.FeeAmount.String(), string(o.SigningScheme),
		o.Signature, string(o.Class), o.PartiallyFillable, string(o.SellTokenBalance),
		string(o.BuyTokenBalance), receiver, o.Owner.Hex(), o.Executed.String(), string(o.Status), o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (s *Store) queryOrder(ctx context.Context, uid domain.OrderUID) (*domain.Order, error) {
	const query = `
		SELECT uid, sell_token, buy_token, sell_amount, buy_amount,
			side, valid_to, app_data, fee_amount, signing_scheme,
			signature, class, partially_fillable, sell_token_balance,
			buy_token_balance, receiver, owner, executed, status, created_at
		FROM orders WHERE uid = $1
	`
	row := s.db.QueryRowContext(ctx, query, uid.String())
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	return o, nil
}

// queryCandidateOrders returns every order not already cancelled or
// expired, the set ListSolvableOrders then filters further. Expired rows
// are excluded at the SQL layer since there is no value in paging through
// orders that can never become solvable again.
func (s *Store) queryCandidateOrders(ctx context.Context) ([]*domain.Order, error) {
	const query = `
		SELECT uid, sell_token, buy_token, sell_amount, buy_amount,
			side, valid_to, app_data, fee_amount, signing_scheme,
			signature, class, partially_fillable, sell_token_balance,
			buy_token_balance, receiver, owner, executed, status, created_at
		FROM orders
		WHERE status NOT IN ('cancelled', 'expired')
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query candidate orders: %w", err)
	}
	defer rows.Close()

	var out []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan candidate order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) updateStatus(ctx context.Context, uid domain.OrderUID, status domain.OrderStatus) error {
	const query = `UPDATE orders SET status = $2 WHERE uid = $1`
	_, err := s.db.ExecContext(ctx, query, uid.String(), string(status))
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return nil
}

func (s *Store) updateExecuted(ctx context.Context, uid domain.OrderUID, executed *big.Int, status domain.OrderStatus) error {
	const query = `UPDATE orders SET executed = $2, status = $3 WHERE uid = $1`
	_, err := s.db.ExecContext(ctx, query, uid.String(), executed.String(), string(status))
	if err != nil {
		return fmt.Errorf("update order executed amount: %w", err)
	}
	return nil
}

// emitOrderEvent appends an audit row to order_events. Events are
// insert-only and never read back by the store itself -- they exist for
// external observability, so a failure here is surfaced but does not
// roll back the status change that triggered it in ApplyOnChainInvalidation
// and CancelOrder (callers already committed their own update separately).
func (s *Store) emitOrderEvent(ctx context.Context, uid domain.OrderUID, kind string) *domain.Error {
	const query = `
		INSERT INTO order_events (uid, kind, observed_at) VALUES ($1, $2, $3)
	`
	_, err := s.db.ExecContext(ctx, query, uid.String(), kind, time.Now().UTC())
	if err != nil {
		return domain.Wrap(domain.KindTransport, "", fmt.Errorf("emit order event: %w", err))
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		uidStr, sellTokenStr, buyTokenStr, sellAmountStr, buyAmountStr string
		side, signingScheme, class, sellTokenBalance, buyTokenBalance string
		validTo                                                      uint32
		appData                                                      []byte
		feeAmountStr                                                 string
		signature                                                    []byte
		partiallyFillable                                            bool
		receiver                                                     sql.NullString
		ownerStr                                                     string
		executedStr                                                  string
		status                                                       string
		createdAt                                                    time.Time
	)
	if err := row.Scan(
		&uidStr, &sellTokenStr, &buyTokenStr, &sellAmountStr, &buyAmountStr,
		&side, &validTo, &appData, &feeAmountStr, &signingScheme,
		&signature, &class, &partiallyFillable, &sellTokenBalance,
		&buyTokenBalance, &receiver, &ownerStr, &executedStr, &status, &createdAt,
	); err != nil {
		return nil, err
	}

	uid, err := domain.ParseOrderUID(uidStr)
	if err != nil {
		return nil, fmt.Errorf("parse uid: %w", err)
	}

	sellAmount, ok := new(big.Int).SetString(sellAmountStr, 10)
	if !ok {
		return nil, fmt.Errorf("parse sell amount %q", sellAmountStr)
	}
	buyAmount, ok := new(big.Int).SetString(buyAmountStr, 10)
	if !ok {
		return nil, fmt.Errorf("parse buy amount %q", buyAmountStr)
	}
	feeAmount, ok := new(big.Int).SetString(feeAmountStr, 10)
	if !ok {
		return nil, fmt.Errorf("parse fee amount %q", feeAmountStr)
	}
	executed, ok := new(big.Int).SetString(executedStr, 10)
	if !ok {
		return nil, fmt.Errorf("parse executed amount %q", executedStr)
	}

	o := &domain.Order{
		UID:               uid,
		SellToken:         common.HexToAddress(sellTokenStr),
		BuyToken:          common.HexToAddress(buyTokenStr),
		SellAmount:        sellAmount,
		BuyAmount:         buyAmount,
		Side:              domain.OrderSide(side),
		ValidTo:           validTo,
		FeeAmount:         feeAmount,
		SigningScheme:     domain.SigningScheme(signingScheme),
		Signature:         signature,
		Class:             domain.OrderClass(class),
		PartiallyFillable: partiallyFillable,
		SellTokenBalance:  domain.SellTokenSource(sellTokenBalance),
		BuyTokenBalance:   domain.BuyTokenDestination(buyTokenBalance),
		Owner:             common.HexToAddress(ownerStr),
		Executed:          executed,
		Status:            domain.OrderStatus(status),
		CreatedAt:         createdAt,
	}
	copy(o.AppData[:], appData)
	if receiver.Valid {
		addr := common.HexToAddress(receiver.String)
		o.Receiver = &addr
	}
	return o, nil
}
