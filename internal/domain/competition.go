package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// DriverOutcomeKind classifies how a driver's /solve attempt ended,
// per spec.md §4.4.
type DriverOutcomeKind string

const (
	OutcomeSolved             DriverOutcomeKind = "solved"
	OutcomeTimeout            DriverOutcomeKind = "timeout"
	OutcomeNoLiquidity        DriverOutcomeKind = "no_liquidity"
	OutcomeMalformedCalldata  DriverOutcomeKind = "malformed_calldata"
	OutcomeSimulationRevert   DriverOutcomeKind = "simulation_revert"
	OutcomeInternal           DriverOutcomeKind = "internal"
	OutcomeZeroScore          DriverOutcomeKind = "zero_score"
	OutcomeNoSolution         DriverOutcomeKind = "no_solution"
)

// DriverOutcome is one driver's contribution to a Competition.
type DriverOutcome struct {
	Driver   string // configured driver name
	Solver   common.Address
	Kind     DriverOutcomeKind
	Solution *Solution
	Score    *big.Int
	Err      string
}

// SettlementStatus tracks the winning driver's submission lifecycle.
type SettlementStatus string

const (
	SettlementPending   SettlementStatus = "pending"
	SettlementSubmitted SettlementStatus = "submitted"
	SettlementExecuted  SettlementStatus = "executed"
	SettlementCancelled SettlementStatus = "cancelled" // winner failed to submit in time
)

// Competition is the full record of one auction's contest, per
// spec.md §3.
type Competition struct {
	AuctionID int64

	Outcomes []DriverOutcome

	Winner         *DriverOutcome
	ReferenceScore *big.Int // second-highest score

	ObservedScore *big.Int // filled in after settlement is tracked on-chain

	SettlementStatus SettlementStatus
	SettlementTxHash *common.Hash
}

// IsEmpty reports whether no driver returned a valid solution, per §4.4
// step 4: "If no driver returns a valid solution, the auction is
// recorded as empty."
func (c *Competition) IsEmpty() bool {
	return c.Winner == nil
}
