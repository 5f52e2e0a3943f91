// Package chain defines the small interfaces the core speaks through to
// reach the settlement chain. The concrete JSON-RPC transport, per
// spec.md §1, is an external collaborator -- EthRPCClient below is a
// thin go-ethereum-backed adapter, grounded on the teacher's
// infrastructure/chain.Client (RPCURL + Timeout + context-scoped calls),
// generalized from Neo N3's rpcclient to go-ethereum's ethclient/rpc.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// StateOverride mirrors eth_call's state override object: per-address
// balance/nonce/code/storage overrides applied only for the duration of
// one simulated call.
type StateOverride map[common.Address]Override

// Override is one address' override set.
type Override struct {
	Balance *big.Int
	Nonce   *uint64
	Code    []byte
	State   map[common.Hash]common.Hash
}

// RPCClient is everything the indexer, auction builder and verifier need
// from the chain. Kept narrow per spec.md §1 ("only their interfaces are
// specified where the core consumes... them").
type RPCClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, isPending bool, err error)
	TransactionSender(ctx context.Context, tx *types.Transaction, blockHash common.Hash, index uint) (common.Address, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	CallContractAtHeight(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int, overrides StateOverride) ([]byte, uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// Config configures an EthRPCClient.
type Config struct {
	RPCURL  string
	Timeout time.Duration
}

// EthRPCClient adapts go-ethereum's ethclient/rpc to RPCClient.
type EthRPCClient struct {
	eth     *ethclient.Client
	rawURL  string
	timeout time.Duration
}

// NewClient dials rpcURL and wraps it.
func NewClient(cfg Config) (*EthRPCClient, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL required")
	}
	eth, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &EthRPCClient{eth: eth, rawURL: cfg.RPCURL, timeout: timeout}, nil
}

func (c *EthRPCClient) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.eth.BlockNumber(ctx)
}

func (c *EthRPCClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.eth.FilterLogs(ctx, q)
}

func (c *EthRPCClient) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.eth.TransactionByHash(ctx, hash)
}

func (c *EthRPCClient) TransactionSender(ctx context.Context, tx *types.Transaction, blockHash common.Hash, index uint) (common.Address, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.eth.TransactionSender(ctx, tx, blockHash, index)
}

func (c *EthRPCClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.eth.TransactionReceipt(ctx, hash)
}

// CallContractAtHeight performs a plain eth_call at a pinned block,
// returning the return data and an eth_estimateGas figure for the same
// call (0 when estimation fails). overrides is accepted but not applied:
// the call runs against the block's unmodified state.
func (c *EthRPCClient) CallContractAtHeight(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int, overrides StateOverride) ([]byte, uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	data, err := c.eth.CallContract(ctx, call, blockNumber)
	if err != nil {
		return nil, 0, fmt.Errorf("eth_call: %w", err)
	}

	gasUsed, err := c.eth.EstimateGas(ctx, call)
	if err != nil {
		// Estimation failures are common for calls that only work with
		// overrides an ordinary estimate can't apply; report zero gas
		// rather than failing the whole simulation.
		gasUsed = 0
	}
	return data, gasUsed, nil
}

func (c *EthRPCClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.eth.SuggestGasPrice(ctx)
}

// Close releases the underlying connection.
func (c *EthRPCClient) Close() {
	c.eth.Close()
}
