package badsubject

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestSaveAllUpsertsEachSnapshot(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO bad_subjects").
		WithArgs(solverX.Hex(), tokenA.Hex(), 2, 2, string(StatusUnsupported), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewRepository(db)
	err = repo.SaveAll(context.Background(), []Snapshot{
		{Key: Key{Solver: solverX, Token: tokenA}, Attempts: 2, Failures: 2, Status: StatusUnsupported, FrozenAt: time.Now()},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadAllScansRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"solver", "token", "attempts", "failures", "status", "frozen_at"}).
		AddRow(solverX.Hex(), tokenA.Hex(), 3, 2, string(StatusUnsupported), time.Now())
	mock.ExpectQuery("SELECT solver, token, attempts, failures, status, frozen_at").WillReturnRows(rows)

	repo := NewRepository(db)
	out, err := repo.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, common.HexToAddress(solverX.Hex()), out[0].Solver)
	require.Equal(t, StatusUnsupported, out[0].Status)
}

func TestFlushSkipsWhenDetectorEmpty(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	d := New(DefaultConfig(), nil)
	p := NewPersister(d, NewRepository(db))
	require.NoError(t, p.Flush(context.Background()))
}
