package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// orderTypeHash is keccak256 of the EIP-712 Order struct signature used
// by the settlement contract to hash an order before a trader signs it.
var orderTypeHash = crypto.Keccak256Hash([]byte(
	"Order(address sellToken,address buyToken,address receiver,uint256 sellAmount,uint256 buyAmount,uint32 validTo,bytes32 appData,uint256 feeAmount,string kind,bool partiallyFillable,string sellTokenBalance,string buyTokenBalance)",
))

var eip712DomainTypeHash = crypto.Keccak256Hash([]byte(
	"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
))

const (
	domainName    = "GPv2Settlement"
	domainVersion = "v2"
)

// ComputeDomainSeparator derives the settlement contract's EIP-712 domain
// separator from the chain id and settlement contract address, so a
// binary only needs to be told those two values (e.g. via --chain and
// --settlement-addr) rather than the separator itself.
func ComputeDomainSeparator(chainID *big.Int, verifyingContract common.Address) [32]byte {
	data := make([]byte, 0, 32*4)
	data = append(data, eip712DomainTypeHash.Bytes()...)
	data = append(data, crypto.Keccak256Hash([]byte(domainName)).Bytes()...)
	data = append(data, crypto.Keccak256Hash([]byte(domainVersion)).Bytes()...)
	data = append(data, uint256Word(chainID)...)
	data = append(data, leftPad32(verifyingContract.Bytes())...)

	var out [32]byte
	copy(out[:], crypto.Keccak256(data))
	return out
}

var (
	kindSellHash = crypto.Keccak256Hash([]byte("sell"))
	kindBuyHash  = crypto.Keccak256Hash([]byte("buy"))

	balanceErc20Hash    = crypto.Keccak256Hash([]byte("erc20"))
	balanceExternalHash = crypto.Keccak256Hash([]byte("external"))
	balanceInternalHash = crypto.Keccak256Hash([]byte("internal"))
)

// ComputeOrderDigest reproduces the EIP-712 digest a trader signs over an
// order, bit-exact with the settlement contract's struct hash plus the
// standard "\x19\x01" domain-separator prefix. receiver defaults to the
// zero address when unset, matching the contract's convention that a
// zero receiver means "pay the owner".
func ComputeOrderDigest(domainSeparator [32]byte, o *Order) [32]byte {
	receiver := common.Address{}
	if o.Receiver != nil {
		receiver = *o.Receiver
	}

	kind := kindSellHash
	if o.Side == OrderSideBuy {
		kind = kindBuyHash
	}

	sellBalance := balanceErc20Hash
	switch o.SellTokenBalance {
	case SellTokenSourceExternal:
		sellBalance = balanceExternalHash
	case SellTokenSourceInternal:
		sellBalance = balanceInternalHash
	}

	buyBalance := balanceErc20Hash
	if o.BuyTokenBalance == BuyTokenDestinationInternal {
		buyBalance = balanceInternalHash
	}

	data := make([]byte, 0, 32*12)
	data = append(data, orderTypeHash.Bytes()...)
	data = append(data, leftPad32(o.SellToken.Bytes())...)
	data = append(data, leftPad32(o.BuyToken.Bytes())...)
	data = append(data, leftPad32(receiver.Bytes())...)
	data = append(data, uint256Word(o.SellAmount)...)
	data = append(data, uint256Word(o.BuyAmount)...)
	data = append(data, leftPad32(uint32Bytes(o.ValidTo))...)
	data = append(data, o.AppData[:]...)
	data = append(data, uint256Word(o.FeeAmount)...)
	data = append(data, kind.Bytes()...)
	data = append(data, boolWord(o.PartiallyFillable)...)
	data = append(data, sellBalance.Bytes()...)
	data = append(data, buyBalance.Bytes()...)

	structHash := crypto.Keccak256(data)

	digestInput := make([]byte, 0, 2+32+32)
	digestInput = append(digestInput, 0x19, 0x01)
	digestInput = append(digestInput, domainSeparator[:]...)
	digestInput = append(digestInput, structHash...)

	var out [32]byte
	copy(out[:], crypto.Keccak256(digestInput))
	return out
}

func leftPad32(b []byte) []byte {
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

func uint32Bytes(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func uint256Word(v *big.Int) []byte {
	if v == nil {
		return make([]byte, 32)
	}
	return leftPad32(v.Bytes())
}

func boolWord(b bool) []byte {
	w := make([]byte, 32)
	if b {
		w[31] = 1
	}
	return w
}
