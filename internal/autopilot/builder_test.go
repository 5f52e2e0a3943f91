package autopilot

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

type fakeRPC struct{ tip uint64 }

func (f *fakeRPC) BlockNumber(ctx context.Context) (uint64, error) { return f.tip, nil }

type fakeOrderLister struct{ orders []*domain.Order }

func (f *fakeOrderLister) ListSolvableOrders(ctx context.Context, atBlock uint64, nowUnix int64) ([]*domain.Order, error) {
	return f.orders, nil
}

type fakeOracle struct{ prices map[common.Address]*big.Int }

func (f *fakeOracle) NativePrice(ctx context.Context, token common.Address, atBlock uint64) (*big.Int, bool) {
	p, ok := f.prices[token]
	return p, ok
}

func testOrder(sell, buy common.Address) *domain.Order {
	return &domain.Order{
		UID:        domain.ComputeOrderUID([32]byte{7}, common.HexToAddress("0xaaaa"), 1),
		SellToken:  sell,
		BuyToken:   buy,
		SellAmount: big.NewInt(100),
		BuyAmount:  big.NewInt(90),
		Class:      domain.OrderClassLimit,
		Owner:      common.HexToAddress("0xaaaa"),
		Executed:   big.NewInt(0),
	}
}

func TestTickSkipsWhenTipUnchanged(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sellTok := common.HexToAddress("0x01")
	buyTok := common.HexToAddress("0x02")
	oracle := &fakeOracle{prices: map[common.Address]*big.Int{sellTok: big.NewInt(1e18), buyTok: big.NewInt(1e18)}}
	orders := &fakeOrderLister{orders: []*domain.Order{testOrder(sellTok, buyTok)}}
	rpc := &fakeRPC{tip: 100}

	store := NewStore(db)
	b := New(rpc, orders, oracle, store, nil, Config{}, nil)
	b.lastBlock = 100

	auction, err := b.Tick(context.Background())
	require.NoError(t, err)
	assert.Nil(t, auction)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTickBuildsAuctionAndDropsUnpricedOrders(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sellTok := common.HexToAddress("0x01")
	buyTok := common.HexToAddress("0x02")
	unpricedTok := common.HexToAddress("0x03")

	oracle := &fakeOracle{prices: map[common.Address]*big.Int{sellTok: big.NewInt(1e18), buyTok: big.NewInt(1e18)}}
	orders := &fakeOrderLister{orders: []*domain.Order{
		testOrder(sellTok, buyTok),
		testOrder(sellTok, unpricedTok),
	}}
	rpc := &fakeRPC{tip: 101}

	mock.ExpectQuery("SELECT nextval").WillReturnRows(sqlmock.NewRows([]string{"nextval"}).AddRow(int64(1)))
	mock.ExpectExec("INSERT INTO auctions").WillReturnResult(sqlmock.NewResult(1, 1))

	store := NewStore(db)
	b := New(rpc, orders, oracle, store, nil, Config{SubmissionDeadline: time.Second}, nil)

	auction, err := b.Tick(context.Background())
	require.NoError(t, err)
	require.NotNil(t, auction)
	assert.Equal(t, int64(1), auction.ID)
	assert.Len(t, auction.Orders, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}
