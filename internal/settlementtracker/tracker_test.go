package settlementtracker

import (
	"context"
	"math/big"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/batchauction/engine/internal/chain"
	"github.com/batchauction/engine/internal/domain"
	"github.com/batchauction/engine/internal/eventindexer"
	"github.com/batchauction/engine/internal/orderstore"
)

type fakeChain struct {
	tx      *types.Transaction
	receipt *types.Receipt
	sender  common.Address
	tip     uint64
}

func (f *fakeChain) BlockNumber(ctx context.Context) (uint64, error) { return f.tip, nil }
func (f *fakeChain) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	return f.tx, false, nil
}
func (f *fakeChain) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return f.receipt, nil
}
func (f *fakeChain) TransactionSender(ctx context.Context, tx *types.Transaction, blockHash common.Hash, index uint) (common.Address, error) {
	return f.sender, nil
}

type fakeFillsSource struct{ fills []eventindexer.TradeFill }

func (f *fakeFillsSource) TradeFillsSince(ctx context.Context, fromBlock uint64) ([]eventindexer.TradeFill, error) {
	var out []eventindexer.TradeFill
	for _, fl := range f.fills {
		if fl.BlockNumber >= fromBlock {
			out = append(out, fl)
		}
	}
	return out, nil
}

type fakeFillsSink struct{ applied []orderstore.Fill }

func (f *fakeFillsSink) UpdateFillsFromEvents(ctx context.Context, fills []orderstore.Fill) error {
	f.applied = append(f.applied, fills...)
	return nil
}

func buildSettlementTx(t *testing.T, codec *chain.SettlementCodec, auctionID int64) *types.Transaction {
	t.Helper()
	settlement := &domain.EncodedSettlement{
		Tokens:         []common.Address{common.HexToAddress("0x01"), common.HexToAddress("0x02")},
		ClearingPrices: []*big.Int{big.NewInt(1), big.NewInt(1)},
		Trades:         nil,
		AuctionID:      auctionID,
	}
	calldata, err := codec.EncodeCalldata(settlement)
	require.NoError(t, err)
	return types.NewTx(&types.LegacyTx{Nonce: 7, To: &common.Address{}, Data: calldata})
}

func TestTickEnrichesPendingSettlementAndReportsWork(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"block_number", "log_index", "tx_hash", "solver"}).
		AddRow(uint64(90), uint64(0), "0xabc", "0xdef")
	mock.ExpectQuery("SELECT block_number, log_index, tx_hash, solver").
		WithArgs(uint64(90), 100).
		WillReturnRows(rows)
	mock.ExpectExec("UPDATE settlement_events").
		WillReturnResult(sqlmock.NewResult(0, 1))

	codec, err := chain.NewSettlementCodec()
	require.NoError(t, err)
	tx := buildSettlementTx(t, codec, 42)

	ch := &fakeChain{
		tip:     100,
		tx:      tx,
		receipt: &types.Receipt{BlockHash: common.HexToHash("0xblock"), TransactionIndex: 2},
		sender:  common.HexToAddress("0xsender"),
	}

	tracker := New(NewRepository(db), ch, codec, &fakeFillsSource{}, &fakeFillsSink{}, Config{MaxReorgDepth: 10})
	worked, err := tracker.Tick(context.Background())
	require.NoError(t, err)
	require.True(t, worked)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTickSyncsFillsAndAdvancesCursor(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT block_number, log_index, tx_hash, solver").
		WithArgs(uint64(0), 100).
		WillReturnRows(sqlmock.NewRows(nil))

	codec, err := chain.NewSettlementCodec()
	require.NoError(t, err)

	uid := domain.ComputeOrderUID([32]byte{1}, common.HexToAddress("0xowner"), 1)
	sink := &fakeFillsSink{}
	source := &fakeFillsSource{fills: []eventindexer.TradeFill{
		{BlockNumber: 5, OrderUIDHex: uid.String(), ExecutedSellAmountHex: "64"},
	}}

	tracker := New(NewRepository(db), &fakeChain{tip: 10}, codec, source, sink, Config{MaxReorgDepth: 10})
	worked, err := tracker.Tick(context.Background())
	require.NoError(t, err)
	require.True(t, worked)
	require.Len(t, sink.applied, 1)
	require.Equal(t, uid, sink.applied[0].OrderUID)
	require.Equal(t, big.NewInt(0x64), sink.applied[0].ExecutedAmount)
	require.Equal(t, uint64(6), tracker.fillsCursor)
}

func TestTickReportsNoWorkWhenNothingPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT block_number, log_index, tx_hash, solver").
		WithArgs(uint64(0), 100).
		WillReturnRows(sqlmock.NewRows(nil))

	codec, err := chain.NewSettlementCodec()
	require.NoError(t, err)

	tracker := New(NewRepository(db), &fakeChain{tip: 10}, codec, &fakeFillsSource{}, &fakeFillsSink{}, Config{MaxReorgDepth: 10})
	worked, err := tracker.Tick(context.Background())
	require.NoError(t, err)
	require.False(t, worked)
}
