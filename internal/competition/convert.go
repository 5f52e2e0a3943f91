package competition

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/batchauction/engine/internal/domain"
)

// toDomainSolution decodes a driver's wire solution into domain types,
// returning an error the caller should classify as OutcomeMalformedCalldata.
func toDomainSolution(solver common.Address, w *WireSolution) (*domain.Solution, error) {
	id, err := parseUint64(w.ID)
	if err != nil {
		return nil, fmt.Errorf("solution id: %w", err)
	}

	prices := make(map[common.Address]*big.Int, len(w.ClearingPrices))
	for tokHex, amountStr := range w.ClearingPrices {
		amount, ok := new(big.Int).SetString(amountStr, 10)
		if !ok {
			return nil, fmt.Errorf("clearing price %q: not a base-10 integer", amountStr)
		}
		prices[common.HexToAddress(tokHex)] = amount
	}

	trades := make([]domain.Trade, 0, len(w.Trades))
	for _, t := range w.Trades {
		amount, ok := new(big.Int).SetString(t.ExecutedAmount, 10)
		if !ok {
			return nil, fmt.Errorf("trade executed amount %q: not a base-10 integer", t.ExecutedAmount)
		}
		trade := domain.Trade{
			Side:           domain.OrderSide(t.Side),
			ExecutedAmount: amount,
		}
		if t.OrderUID == "" {
			trade.IsJIT = true
			trade.SellToken = common.HexToAddress(t.SellToken)
			trade.BuyToken = common.HexToAddress(t.BuyToken)
		} else {
			uid, err := domain.ParseOrderUID(t.OrderUID)
			if err != nil {
				return nil, fmt.Errorf("trade order uid: %w", err)
			}
			trade.OrderUID = uid
		}
		trades = append(trades, trade)
	}

	var callData []byte
	if w.CallData != "" {
		callData, err = hex.DecodeString(strings.TrimPrefix(w.CallData, "0x"))
		if err != nil {
			return nil, fmt.Errorf("call data: %w", err)
		}
	}

	return &domain.Solution{
		ID:             id,
		Solver:         solver,
		ClearingPrices: prices,
		Trades:         trades,
		Gas:            w.Gas,
		CallData:       callData,
	}, nil
}

func parseUint64(s string) (uint64, error) {
	var v uint64
	_, err := fmt.Sscanf(s, "%d", &v)
	if err != nil {
		return 0, err
	}
	return v, nil
}
