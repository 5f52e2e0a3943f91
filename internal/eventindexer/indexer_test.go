package eventindexer

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	kind   EventKind
	events []RawEvent
}

func (f *fakeSource) Kind() EventKind { return f.kind }
func (f *fakeSource) Fetch(ctx context.Context, from, to uint64) ([]RawEvent, error) {
	return f.events, nil
}

func TestAdvanceToSkipsWhenTipNotAhead(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT latest_indexed_block").WillReturnRows(
		sqlmock.NewRows([]string{"latest_indexed_block"}).AddRow(int64(100)))

	repo := NewRepository(db)
	ix := New(nil, repo, nil, 0, nil)

	err = ix.AdvanceTo(context.Background(), 100)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvanceToReplacesWindowInOneTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT latest_indexed_block").WillReturnRows(
		sqlmock.NewRows([]string{"latest_indexed_block"}).AddRow(int64(10)))

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM settlement_events").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM trade_events").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM order_invalidated_events").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM pre_signature_events").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO settlement_events").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO indexer_checkpoint").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	repo := NewRepository(db)
	sources := []EventSource{
		&fakeSource{kind: EventKindSettlement, events: []RawEvent{
			{Kind: EventKindSettlement, BlockNumber: 20, LogIndex: 0, TxHash: common.HexToHash("0x01"), Solver: common.HexToAddress("0xaa")},
		}},
	}
	ix := New(nil, repo, sources, 0, nil)

	err = ix.AdvanceTo(context.Background(), 20)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvanceToSkipsEventsMissingBlockNumber(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT latest_indexed_block").WillReturnRows(
		sqlmock.NewRows([]string{"latest_indexed_block"}).AddRow(int64(0)))

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM settlement_events").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM trade_events").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM order_invalidated_events").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM pre_signature_events").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO indexer_checkpoint").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	repo := NewRepository(db)
	sources := []EventSource{
		&fakeSource{kind: EventKindSettlement, events: []RawEvent{
			{Kind: EventKindSettlement, BlockNumber: 0},
		}},
	}
	ix := New(nil, repo, sources, 0, nil)

	err = ix.AdvanceTo(context.Background(), 5)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
