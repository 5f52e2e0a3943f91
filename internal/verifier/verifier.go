// Package verifier implements the SolutionVerifier module from
// spec.md §4.5: decode a driver's settlement calldata, check per-token
// asset-flow conservation, and simulate execution against a pinned
// block before the coordinator commits to a winner.
package verifier

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/batchauction/engine/internal/chain"
	"github.com/batchauction/engine/internal/domain"
)

// OrderLookup resolves an order by uid, used to confirm a decoded trade
// matches an order the orderbook actually holds.
type OrderLookup interface {
	GetOrder(ctx context.Context, uid domain.OrderUID) (*domain.Order, error)
}

// Simulator is the slice of chain.RPCClient Verifier needs to dry-run a
// settlement.
type Simulator interface {
	CallContractAtHeight(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int, overrides chain.StateOverride) ([]byte, uint64, error)
}

// Verifier implements SolutionVerifier.
type Verifier struct {
	codec           *chain.SettlementCodec
	domainSeparator [32]byte
	settlementAddr  common.Address
	orders          OrderLookup
	sim             Simulator
	feePolicies     FeePolicyLookup
	log             *logrus.Entry
}

// Config configures a Verifier.
type Config struct {
	DomainSeparator [32]byte
	SettlementAddr  common.Address
}

// New constructs a Verifier. orders and sim may be nil, in which case
// the corresponding checks (in-scope order matching, simulation) are
// skipped -- useful for a driver-side pre-submission check that has no
// database handle. feePolicies may also be nil, in which case
// ObservedQuality computes surplus only, omitting the fee component.
func New(codec *chain.SettlementCodec, cfg Config, orders OrderLookup, sim Simulator, feePolicies FeePolicyLookup) *Verifier {
	return &Verifier{
		codec:           codec,
		domainSeparator: cfg.DomainSeparator,
		settlementAddr:  cfg.SettlementAddr,
		orders:          orders,
		sim:             sim,
		feePolicies:     feePolicies,
		log:             logrus.WithField("component", "solutionverifier"),
	}
}

// DecodeCalldata strips the selector and auction-id trailer, ABI-decodes
// the settle() arguments, and for every trade signed with a recoverable
// scheme recomputes its 56-byte uid and checks it against the orderbook.
func (v *Verifier) DecodeCalldata(ctx context.Context, data []byte) (*domain.EncodedSettlement, *domain.Error) {
	settlement, derr := v.codec.DecodeCalldata(data)
	if derr != nil {
		return nil, derr
	}

	for _, t := range settlement.Trades {
		flags, derr := domain.DecodeTradeFlags(t.Flags)
		if derr != nil {
			return nil, derr
		}
		if flags.SigningScheme != domain.SigningSchemeEip712 && flags.SigningScheme != domain.SigningSchemeEthSign {
			continue // owner not recoverable offline; Eip1271/PreSign orders were validated at put_order time
		}

		order := &domain.Order{
			SellToken:         settlement.Tokens[t.SellTokenIndex],
			BuyToken:          settlement.Tokens[t.BuyTokenIndex],
			Receiver:          receiverPtr(t.Receiver),
			SellAmount:        t.SellAmount,
			BuyAmount:         t.BuyAmount,
			ValidTo:           t.ValidTo,
			AppData:           t.AppData,
			FeeAmount:         t.FeeAmount,
			Side:              flags.Side,
			PartiallyFillable: flags.PartiallyFillable,
			SellTokenBalance:  flags.SellTokenSource,
			BuyTokenBalance:   flags.BuyTokenDest,
		}
		digest := domain.ComputeOrderDigest(v.domainSeparator, order)
		owner, derr := chain.RecoverOwner(flags.SigningScheme, digest, t.Signature)
		if derr != nil {
			return nil, derr
		}
		uid := domain.ComputeOrderUID(digest, owner, t.ValidTo)

		if v.orders != nil {
			if _, err := v.orders.GetOrder(ctx, uid); err != nil {
				return nil, domain.New(domain.KindBusinessRule, domain.CodeSolutionNotFound,
					"decoded trade does not match an in-scope order: "+uid.String())
			}
		}
	}

	return settlement, nil
}

func receiverPtr(addr common.Address) *common.Address {
	if addr == (common.Address{}) {
		return nil
	}
	return &addr
}

// Simulate dry-runs calldata against the settlement contract at block
// through the Simulator, handing it the given state overrides, and
// returns the gas used. chain.EthRPCClient does not apply the overrides.
func (v *Verifier) Simulate(ctx context.Context, calldata []byte, block uint64, overrides chain.StateOverride) (uint64, *domain.Error) {
	if v.sim == nil {
		return 0, nil
	}
	to := v.settlementAddr
	call := ethereum.CallMsg{To: &to, Data: calldata}
	_, gasUsed, err := v.sim.CallContractAtHeight(ctx, call, new(big.Int).SetUint64(block), overrides)
	if err != nil {
		return 0, domain.Wrap(domain.KindSimulation, domain.CodeSimulationReverted, err)
	}
	return gasUsed, nil
}

// Verify runs the full SolutionVerifier pipeline on a winning candidate:
// decode, match the auction id, check asset-flow conservation, then
// simulate. This is what CompetitionCoordinator calls before Commit.
func (v *Verifier) Verify(ctx context.Context, auction *domain.Auction, solution *domain.Solution) *domain.Error {
	settlement, derr := v.DecodeCalldata(ctx, solution.CallData)
	if derr != nil {
		return derr
	}
	if settlement.AuctionID != auction.ID {
		return domain.New(domain.KindBusinessRule, domain.CodeAuctionIDMismatch, "settlement calldata targets a different auction")
	}
	if derr := CheckAssetFlow(auction, solution); derr != nil {
		return derr
	}
	if _, derr := v.Simulate(ctx, solution.CallData, auction.Block, nil); derr != nil {
		return derr
	}
	return nil
}
