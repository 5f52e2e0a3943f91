package verifier

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batchauction/engine/internal/chain"
	"github.com/batchauction/engine/internal/domain"
)

type fakeOrderLookup struct{ orders map[domain.OrderUID]*domain.Order }

func (f *fakeOrderLookup) GetOrder(ctx context.Context, uid domain.OrderUID) (*domain.Order, error) {
	o, ok := f.orders[uid]
	if !ok {
		return nil, domain.New(domain.KindBusinessRule, domain.CodeNotFound, "not found")
	}
	return o, nil
}

func signOrder(t *testing.T, key []byte, domainSeparator [32]byte, order *domain.Order) []byte {
	t.Helper()
	priv, err := crypto.ToECDSA(key)
	require.NoError(t, err)
	digest := domain.ComputeOrderDigest(domainSeparator, order)
	sig, err := crypto.Sign(digest[:], priv)
	require.NoError(t, err)
	sig[64] += 27
	return sig
}

func TestDecodeCalldataMatchesInScopeOrder(t *testing.T) {
	key := crypto.Keccak256([]byte("test-key"))
	priv, err := crypto.ToECDSA(key)
	require.NoError(t, err)
	owner := crypto.PubkeyToAddress(priv.PublicKey)

	var domainSeparator [32]byte
	copy(domainSeparator[:], crypto.Keccak256([]byte("test-domain")))

	sellTok := common.HexToAddress("0x01")
	buyTok := common.HexToAddress("0x02")
	order := &domain.Order{
		SellToken:        sellTok,
		BuyToken:         buyTok,
		SellAmount:       big.NewInt(100),
		BuyAmount:        big.NewInt(90),
		ValidTo:          1000,
		Side:             domain.OrderSideSell,
		FeeAmount:        big.NewInt(0),
		SellTokenBalance: domain.SellTokenSourceErc20,
		BuyTokenBalance:  domain.BuyTokenDestinationErc20,
	}
	sig := signOrder(t, key, domainSeparator, order)
	digest := domain.ComputeOrderDigest(domainSeparator, order)
	uid := domain.ComputeOrderUID(digest, owner, order.ValidTo)

	codec, err := chain.NewSettlementCodec()
	require.NoError(t, err)

	flags := big.NewInt(0) // side=sell, not partially fillable, erc20/erc20, eip712
	settlement := &domain.EncodedSettlement{
		Tokens:         []common.Address{sellTok, buyTok},
		ClearingPrices: []*big.Int{big.NewInt(1), big.NewInt(1)},
		Trades: []domain.EncodedTrade{{
			SellTokenIndex: 0,
			BuyTokenIndex:  1,
			SellAmount:     order.SellAmount,
			BuyAmount:      order.BuyAmount,
			ValidTo:        order.ValidTo,
			FeeAmount:      order.FeeAmount,
			Flags:          flags,
			ExecutedAmount: big.NewInt(100),
			Signature:      sig,
		}},
		AuctionID: 7,
	}
	calldata, err := codec.EncodeCalldata(settlement)
	require.NoError(t, err)

	lookup := &fakeOrderLookup{orders: map[domain.OrderUID]*domain.Order{uid: order}}
	v := New(codec, Config{DomainSeparator: domainSeparator}, lookup, nil, nil)

	decoded, derr := v.DecodeCalldata(context.Background(), calldata)
	require.Nil(t, derr)
	assert.Equal(t, int64(7), decoded.AuctionID)
}

func TestDecodeCalldataRejectsUnknownOrder(t *testing.T) {
	key := crypto.Keccak256([]byte("other-key"))
	var domainSeparator [32]byte
	copy(domainSeparator[:], crypto.Keccak256([]byte("test-domain")))

	sellTok := common.HexToAddress("0x01")
	buyTok := common.HexToAddress("0x02")
	order := &domain.Order{
		SellToken:        sellTok,
		BuyToken:         buyTok,
		SellAmount:       big.NewInt(100),
		BuyAmount:        big.NewInt(90),
		ValidTo:          1000,
		Side:             domain.OrderSideSell,
		FeeAmount:        big.NewInt(0),
		SellTokenBalance: domain.SellTokenSourceErc20,
		BuyTokenBalance:  domain.BuyTokenDestinationErc20,
	}
	sig := signOrder(t, key, domainSeparator, order)

	codec, err := chain.NewSettlementCodec()
	require.NoError(t, err)

	settlement := &domain.EncodedSettlement{
		Tokens:         []common.Address{sellTok, buyTok},
		ClearingPrices: []*big.Int{big.NewInt(1), big.NewInt(1)},
		Trades: []domain.EncodedTrade{{
			SellTokenIndex: 0,
			BuyTokenIndex:  1,
			SellAmount:     order.SellAmount,
			BuyAmount:      order.BuyAmount,
			ValidTo:        order.ValidTo,
			FeeAmount:      order.FeeAmount,
			Flags:          big.NewInt(0),
			ExecutedAmount: big.NewInt(100),
			Signature:      sig,
		}},
		AuctionID: 7,
	}
	calldata, err := codec.EncodeCalldata(settlement)
	require.NoError(t, err)

	lookup := &fakeOrderLookup{orders: map[domain.OrderUID]*domain.Order{}}
	v := New(codec, Config{DomainSeparator: domainSeparator}, lookup, nil, nil)

	_, derr := v.DecodeCalldata(context.Background(), calldata)
	require.NotNil(t, derr)
	assert.Equal(t, domain.CodeSolutionNotFound, derr.Code)
}
