package orderstore

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batchauction/engine/internal/domain"
)

func newTestOrder() *domain.Order {
	return &domain.Order{
		UID:               domain.ComputeOrderUID([32]byte{1}, common.HexToAddress("0xaaaa"), 4000000000),
		SellToken:         common.HexToAddress("0x1111"),
		BuyToken:          common.HexToAddress("0x2222"),
		SellAmount:        big.NewInt(1000),
		BuyAmount:         big.NewInt(900),
		Side:              domain.OrderSideSell,
		ValidTo:           4000000000,
		FeeAmount:         big.NewInt(1),
		SigningScheme:     domain.SigningSchemeEip712,
		Signature:         []byte{0x01, 0x02},
		Class:             domain.OrderClassLimit,
		PartiallyFillable: false,
		SellTokenBalance:  domain.SellTokenSourceErc20,
		BuyTokenBalance:   domain.BuyTokenDestinationErc20,
		Owner:             common.HexToAddress("0xaaaa"),
	}
}

func TestPutOrderRejectsPastValidTo(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := New(db, nil, nil)
	order := newTestOrder()
	order.ValidTo = 1

	derr := store.PutOrder(context.Background(), order, time.Now().Unix())
	require.NotNil(t, derr)
	assert.Equal(t, domain.CodeValidToInPast, derr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPutOrderAlreadyExists(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := New(db, nil, nil)
	order := newTestOrder()

	rows := sqlmock.NewRows([]string{
		"uid", "sell_token", "buy_token", "sell_amount", "buy_amount",
		"side", "valid_to", "app_data", "fee_amount", "signing_scheme",
		"signature", "class", "partially_fillable", "sell_token_balance",
		"buy_token_balance", "receiver", "owner", "executed", "status", "created_at",
	}).AddRow(
		order.UID.String(), order.SellToken.Hex(), order.BuyToken.Hex(), "1000", "900",
		"sell", order.ValidTo, make([]byte, 32), "1", "eip712",
		order.Signature, "limit", false, "erc20",
		"erc20", nil, order.Owner.Hex(), "0", "fillable", time.Now(),
	)
	mock.ExpectQuery("SELECT uid, sell_token").WillReturnRows(rows)

	derr := store.PutOrder(context.Background(), order, time.Now().Unix()-10)
	require.NotNil(t, derr)
	assert.Equal(t, domain.CodeAlreadyExists, derr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPutOrderInsertsNewOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := New(db, nil, nil)
	order := newTestOrder()

	mock.ExpectQuery("SELECT uid, sell_token").WillReturnRows(sqlmock.NewRows(nil))
	mock.ExpectExec("INSERT INTO orders").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO order_events").WillReturnResult(sqlmock.NewResult(1, 1))

	derr := store.PutOrder(context.Background(), order, time.Now().Unix()-10)
	require.Nil(t, derr)
	assert.Equal(t, domain.OrderStatusFillable, order.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelOrderWrongOwner(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := New(db, nil, nil)
	order := newTestOrder()
	order.Status = domain.OrderStatusFillable

	rows := sqlmock.NewRows([]string{
		"uid", "sell_token", "buy_token", "sell_amount", "buy_amount",
		"side", "valid_to", "app_data", "fee_amount", "signing_scheme",
		"signature", "class", "partially_fillable", "sell_token_balance",
		"buy_token_balance", "receiver", "owner", "executed", "status", "created_at",
	}).AddRow(
		order.UID.String(), order.SellToken.Hex(), order.BuyToken.Hex(), "1000", "900",
		"sell", order.ValidTo, make([]byte, 32), "1", "eip712",
		order.Signature, "limit", false, "erc20",
		"erc20", nil, order.Owner.Hex(), "0", "fillable", time.Now(),
	)
	mock.ExpectQuery("SELECT uid, sell_token").WillReturnRows(rows)

	result, derr := store.CancelOrder(context.Background(), order.UID, common.HexToAddress("0xdead"), time.Now().Unix())
	require.Nil(t, derr)
	assert.Equal(t, CancelResultWrongOwner, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelOrderNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := New(db, nil, nil)
	uid := domain.ComputeOrderUID([32]byte{9}, common.HexToAddress("0xbeef"), 1)

	mock.ExpectQuery("SELECT uid, sell_token").WillReturnRows(sqlmock.NewRows(nil))

	result, derr := store.CancelOrder(context.Background(), uid, common.HexToAddress("0xbeef"), time.Now().Unix())
	require.Nil(t, derr)
	assert.Equal(t, CancelResultNotFound, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateFillsFromEventsClampsToSellAmount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := New(db, nil, nil)
	order := newTestOrder()
	order.PartiallyFillable = true

	rows := sqlmock.NewRows([]string{
		"uid", "sell_token", "buy_token", "sell_amount", "buy_amount",
		"side", "valid_to", "app_data", "fee_amount", "signing_scheme",
		"signature", "class", "partially_fillable", "sell_token_balance",
		"buy_token_balance", "receiver", "owner", "executed", "status", "created_at",
	}).AddRow(
		order.UID.String(), order.SellToken.Hex(), order.BuyToken.Hex(), "1000", "900",
		"sell", order.ValidTo, make([]byte, 32), "1", "eip712",
		order.Signature, "limit", true, "erc20",
		"erc20", nil, order.Owner.Hex(), "0", "fillable", time.Now(),
	)
	mock.ExpectQuery("SELECT uid, sell_token").WillReturnRows(rows)
	mock.ExpectExec("UPDATE orders SET executed").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO order_events").WillReturnResult(sqlmock.NewResult(1, 1))

	err = store.UpdateFillsFromEvents(context.Background(), []Fill{
		{OrderUID: order.UID, ExecutedAmount: big.NewInt(5000)},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
