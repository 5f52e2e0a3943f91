package competition

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batchauction/engine/internal/domain"
)

var (
	sellTok = common.HexToAddress("0x01")
	buyTok  = common.HexToAddress("0x02")
	solver  = common.HexToAddress("0xabc")
)

func testAuction(order *domain.Order) *domain.Auction {
	return &domain.Auction{
		ID:     1,
		Orders: []*domain.Order{order},
		Prices: map[common.Address]*big.Int{
			sellTok: big.NewInt(1e18), // 1 native unit per sell token
			buyTok:  big.NewInt(2e18), // 2 native units per buy token
		},
	}
}

func testSellOrder() *domain.Order {
	return &domain.Order{
		UID:        domain.ComputeOrderUID([32]byte{1}, common.HexToAddress("0xowner"), 1),
		SellToken:  sellTok,
		BuyToken:   buyTok,
		SellAmount: big.NewInt(100),
		BuyAmount:  big.NewInt(40), // limit price: 0.4 buy per sell
		Side:       domain.OrderSideSell,
		Executed:   big.NewInt(0),
	}
}

func TestScoreRejectsNonPositive(t *testing.T) {
	order := testSellOrder()
	auction := testAuction(order)
	solution := &domain.Solution{
		Solver: solver,
		ClearingPrices: map[common.Address]*big.Int{
			sellTok: big.NewInt(2),
			buyTok:  big.NewInt(5), // 2:5 clearing gives exactly 0.4 buy per sell, the limit price, no surplus
		},
		Trades: []domain.Trade{{OrderUID: order.UID, Side: domain.OrderSideSell, ExecutedAmount: big.NewInt(100)}},
	}

	_, err := Score(auction, solution)
	require.NotNil(t, err)
	assert.Equal(t, domain.CodeZeroScore, err.Code)
}

func TestScorePositiveSurplus(t *testing.T) {
	order := testSellOrder()
	auction := testAuction(order)
	// Clearing price gives 1 buy-token per sell-token, well above the
	// order's 0.4 limit, so everything above the 40 buy-token limit is surplus.
	solution := &domain.Solution{
		Solver: solver,
		ClearingPrices: map[common.Address]*big.Int{
			sellTok: big.NewInt(1),
			buyTok:  big.NewInt(1),
		},
		Trades: []domain.Trade{{OrderUID: order.UID, Side: domain.OrderSideSell, ExecutedAmount: big.NewInt(100)}},
	}

	score, err := Score(auction, solution)
	require.Nil(t, err)
	assert.True(t, score.Sign() > 0)
}

func TestScoreSkipsJITTradesFromUnauthorizedSolver(t *testing.T) {
	order := testSellOrder()
	auction := testAuction(order)
	auction.Orders = nil // JIT-only auction
	solution := &domain.Solution{
		Solver: solver,
		ClearingPrices: map[common.Address]*big.Int{
			sellTok: big.NewInt(1),
			buyTok:  big.NewInt(1),
		},
		Trades: []domain.Trade{{IsJIT: true, SellToken: sellTok, BuyToken: buyTok, ExecutedAmount: big.NewInt(100)}},
	}

	_, err := Score(auction, solution)
	require.NotNil(t, err)
	assert.Equal(t, domain.CodeZeroScore, err.Code)
}
