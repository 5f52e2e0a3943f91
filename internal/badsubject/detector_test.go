package badsubject

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batchauction/engine/internal/domain"
)

var (
	solverX = common.HexToAddress("0xf01")
	tokenA  = common.HexToAddress("0xa01")
	tokenB  = common.HexToAddress("0xb01")
)

func TestUnsupportedAfterRequiredFailures(t *testing.T) {
	d := New(Config{RequiredMeasurements: 2, FailureRatio: 0.5, FreezeDuration: time.Minute}, nil)

	require.False(t, d.IsUnsupported(solverX, tokenA))
	d.RecordOutcome(solverX, tokenA, false)
	require.False(t, d.IsUnsupported(solverX, tokenA), "one failure is below RequiredMeasurements")
	d.RecordOutcome(solverX, tokenA, false)
	require.True(t, d.IsUnsupported(solverX, tokenA))
}

func TestUnknownWithInsufficientDataIsNotFiltered(t *testing.T) {
	d := New(Config{RequiredMeasurements: 5, FailureRatio: 0.5, FreezeDuration: time.Minute}, nil)
	d.RecordOutcome(solverX, tokenA, false)
	d.RecordOutcome(solverX, tokenA, false)
	require.False(t, d.IsUnsupported(solverX, tokenA))
}

func TestUnfreezesAfterFreezeDurationThenRefreezesOnOneFailure(t *testing.T) {
	d := New(Config{RequiredMeasurements: 2, FailureRatio: 0.5, FreezeDuration: 10 * time.Millisecond}, nil)
	d.RecordOutcome(solverX, tokenA, false)
	d.RecordOutcome(solverX, tokenA, false)
	require.True(t, d.IsUnsupported(solverX, tokenA))

	time.Sleep(20 * time.Millisecond)
	require.False(t, d.IsUnsupported(solverX, tokenA), "should revert to Unknown after FreezeDuration")

	// One more failure right after the unfreeze re-freezes the subject
	// without waiting for RequiredMeasurements again.
	d.RecordOutcome(solverX, tokenA, false)
	require.True(t, d.IsUnsupported(solverX, tokenA))
	d.RecordOutcome(solverX, tokenA, false)
	require.True(t, d.IsUnsupported(solverX, tokenA))
}

func TestBadTokenStatusIsPerSolver(t *testing.T) {
	d := New(Config{RequiredMeasurements: 1, FailureRatio: 0.5, FreezeDuration: time.Minute}, nil)
	d.RecordOutcome(solverX, tokenA, false)
	require.True(t, d.IsUnsupported(solverX, tokenA))

	solverY := common.HexToAddress("0xf02")
	require.False(t, d.IsUnsupported(solverY, tokenA), "unsupported status must not leak across solvers")
}

func TestFilterOrdersStripsOrdersTouchingUnsupportedTokens(t *testing.T) {
	d := New(Config{RequiredMeasurements: 1, FailureRatio: 0.5, FreezeDuration: time.Minute}, nil)
	d.RecordOutcome(solverX, tokenA, false)

	ok := &domain.Order{UID: domain.OrderUID{1}, SellToken: tokenB, BuyToken: common.HexToAddress("0xc01")}
	bad := &domain.Order{UID: domain.OrderUID{2}, SellToken: tokenA, BuyToken: tokenB}

	filtered := d.FilterOrders(solverX, []*domain.Order{ok, bad})
	require.Len(t, filtered, 1)
	assert.Equal(t, ok.UID, filtered[0].UID)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	d := New(Config{RequiredMeasurements: 1, FailureRatio: 0.5, FreezeDuration: time.Minute}, nil)
	d.RecordOutcome(solverX, tokenA, false)
	snap := d.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, StatusUnsupported, snap[0].Status)

	d2 := New(Config{RequiredMeasurements: 1, FailureRatio: 0.5, FreezeDuration: time.Minute}, nil)
	d2.Restore(snap)
	require.True(t, d2.IsUnsupported(solverX, tokenA))
}
