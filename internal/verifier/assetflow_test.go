package verifier

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batchauction/engine/internal/domain"
)

func TestCheckAssetFlowPassesOnBalancedTrade(t *testing.T) {
	sellTok := common.HexToAddress("0x01")
	buyTok := common.HexToAddress("0x02")
	order := &domain.Order{
		UID:       domain.ComputeOrderUID([32]byte{1}, common.HexToAddress("0xowner"), 1),
		SellToken: sellTok,
		BuyToken:  buyTok,
		Side:      domain.OrderSideSell,
	}
	auction := &domain.Auction{Orders: []*domain.Order{order}}
	solution := &domain.Solution{
		ClearingPrices: map[common.Address]*big.Int{sellTok: big.NewInt(1), buyTok: big.NewInt(1)},
		Trades:         []domain.Trade{{OrderUID: order.UID, Side: domain.OrderSideSell, ExecutedAmount: big.NewInt(100)}},
		// The interaction swaps the 100 sellTok the trade brings in for
		// the 100 buyTok the trade pays out, so both tokens net to zero.
		Interactions: []domain.Interaction{{
			InputToken:   &sellTok,
			InputAmount:  big.NewInt(100),
			OutputToken:  &buyTok,
			OutputAmount: big.NewInt(100),
		}},
	}

	require.Nil(t, CheckAssetFlow(auction, solution))
}

func TestCheckAssetFlowRejectsNegativeFlowFromUnbalancedInteraction(t *testing.T) {
	sellTok := common.HexToAddress("0x01")
	buyTok := common.HexToAddress("0x02")
	order := &domain.Order{
		UID:       domain.ComputeOrderUID([32]byte{1}, common.HexToAddress("0xowner"), 1),
		SellToken: sellTok,
		BuyToken:  buyTok,
		Side:      domain.OrderSideSell,
	}
	auction := &domain.Auction{Orders: []*domain.Order{order}}
	solution := &domain.Solution{
		ClearingPrices: map[common.Address]*big.Int{sellTok: big.NewInt(1), buyTok: big.NewInt(1)},
		Trades:         []domain.Trade{{OrderUID: order.UID, Side: domain.OrderSideSell, ExecutedAmount: big.NewInt(100)}},
		Interactions: []domain.Interaction{{
			InputToken:   &sellTok,
			InputAmount:  big.NewInt(100),
			OutputToken:  &buyTok,
			OutputAmount: big.NewInt(100),
		}, {
			InputToken:  &buyTok,
			InputAmount: big.NewInt(50), // contract pays out extra buyTok it never received
		}},
	}

	err := CheckAssetFlow(auction, solution)
	require.NotNil(t, err)
	assert.Equal(t, domain.CodeNegativeFlow, err.Code)
}
