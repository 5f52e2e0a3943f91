package settlementtracker

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestPendingSettlementsSkipsWhenTipBelowReorgDepth(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)
	out, err := repo.PendingSettlements(context.Background(), 5, 10, 100)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestPendingSettlementsReturnsRowsBelowCutoff(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"block_number", "log_index", "tx_hash", "solver"}).
		AddRow(uint64(90), uint64(0), "0xabc", "0xdef")
	mock.ExpectQuery("SELECT block_number, log_index, tx_hash, solver").
		WithArgs(uint64(90), 100).
		WillReturnRows(rows)

	repo := NewRepository(db)
	out, err := repo.PendingSettlements(context.Background(), 100, 10, 100)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, uint64(90), out[0].BlockNumber)
	require.Equal(t, common.HexToAddress("0xdef"), out[0].Solver)
}

func TestEnrichUpdatesRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE settlement_events").
		WithArgs(uint64(90), uint64(0), common.HexToAddress("0x01").Hex(), uint64(3), int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewRepository(db)
	err = repo.Enrich(context.Background(), 90, 0, common.HexToAddress("0x01"), 3, 42)
	require.NoError(t, err)
}

func TestEnrichErrorsWhenNoRowMatched(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE settlement_events").
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewRepository(db)
	err = repo.Enrich(context.Background(), 90, 0, common.HexToAddress("0x01"), 3, 42)
	require.Error(t, err)
}
