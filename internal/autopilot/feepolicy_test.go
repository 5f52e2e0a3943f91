package autopilot

import (
	"context"
	"math/big"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/batchauction/engine/internal/domain"
)

func mustFeeFactor(t *testing.T, decimal string) domain.FeeFactor {
	t.Helper()
	f, err := domain.NewFeeFactor(decimal)
	require.NoError(t, err)
	return f
}

func TestFeePolicyRepositoryPutWritesOneRowPerPolicyInOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	policies := []domain.FeePolicy{
		{Kind: domain.FeePolicyKindSurplus, Factor: mustFeeFactor(t, "0.5"), MaxVolumeFactor: mustFeeFactor(t, "0.01")},
		{Kind: domain.FeePolicyKindVolume, Factor: mustFeeFactor(t, "0.003")},
	}

	uid := domain.OrderUID{}
	copy(uid[:], []byte("test-order-uid-bytes-000000000!"))

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM fee_policies").
		WithArgs(int64(1), uid.String()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO fee_policies").
		WithArgs(int64(1), uid.String(), 0, string(domain.FeePolicyKindSurplus),
			"1/2", "1/100", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO fee_policies").
		WithArgs(int64(1), uid.String(), 1, string(domain.FeePolicyKindVolume),
			sqlmock.AnyArg(), sqlmock.AnyArg(), "3/1000", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	repo := NewFeePolicyRepository(db)
	err = repo.Put(context.Background(), 1, uid, policies)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFeePolicyRepositoryGetRoundTripsAllThreeKinds(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	uid := domain.OrderUID{}
	copy(uid[:], []byte("test-order-uid-bytes-000000000!"))

	rows := sqlmock.NewRows([]string{
		"kind", "surplus_factor", "surplus_max_volume_factor", "volume_factor",
		"price_improvement_factor", "price_improvement_max_volume_factor",
		"quote_sell", "quote_buy", "quote_fee",
	}).
		AddRow(string(domain.FeePolicyKindSurplus), "1/2", "1/100", nil, nil, nil, nil, nil, nil).
		AddRow(string(domain.FeePolicyKindVolume), nil, nil, "3/1000", nil, nil, nil, nil, nil).
		AddRow(string(domain.FeePolicyKindPriceImprovement), nil, nil, nil, "1/4", "1/20", "1000", "900", "5")

	mock.ExpectQuery("SELECT kind, surplus_factor").
		WithArgs(int64(1), uid.String()).
		WillReturnRows(rows)

	repo := NewFeePolicyRepository(db)
	out, err := repo.Get(context.Background(), 1, uid)
	require.NoError(t, err)
	require.Len(t, out, 3)

	require.Equal(t, domain.FeePolicyKindSurplus, out[0].Kind)
	require.Equal(t, "1/2", out[0].Factor.Rat().RatString())
	require.Equal(t, "1/100", out[0].MaxVolumeFactor.Rat().RatString())

	require.Equal(t, domain.FeePolicyKindVolume, out[1].Kind)
	require.Equal(t, "3/1000", out[1].Factor.Rat().RatString())

	require.Equal(t, domain.FeePolicyKindPriceImprovement, out[2].Kind)
	require.Equal(t, "1/4", out[2].PriceImprovementFactor.Rat().RatString())
	require.Equal(t, "1/20", out[2].MaxVolumeFactor.Rat().RatString())
	require.NotNil(t, out[2].Quote)
	require.Equal(t, big.NewInt(1000), out[2].Quote.SellAmount)
	require.Equal(t, big.NewInt(900), out[2].Quote.BuyAmount)
	require.Equal(t, big.NewInt(5), out[2].Quote.FeeAmount)
	require.NoError(t, mock.ExpectationsWereMet())
}
