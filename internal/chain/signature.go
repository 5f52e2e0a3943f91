package chain

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/batchauction/engine/internal/domain"
)

// RecoverOwner recovers the signing address from an order digest and a
// 65-byte (r,s,v) signature, for the Eip712 and EthSign schemes. Eip1271
// (contract signatures) and PreSign orders carry no recoverable owner
// here -- the caller must already know the owner from the order itself,
// matching the driver boundary's behavior of trusting orderbook-supplied
// owners for those two schemes.
func RecoverOwner(scheme domain.SigningScheme, digest [32]byte, signature []byte) (common.Address, *domain.Error) {
	switch scheme {
	case domain.SigningSchemeEip712:
		return recoverECDSA(digest, signature)
	case domain.SigningSchemeEthSign:
		ethSignDigest := crypto.Keccak256Hash(
			[]byte("\x19Ethereum Signed Message:\n32"), digest[:],
		)
		return recoverECDSA([32]byte(ethSignDigest), signature)
	case domain.SigningSchemeEip1271, domain.SigningSchemePreSign:
		return common.Address{}, domain.New(domain.KindMalformed, domain.CodeInvalidSignature,
			"scheme does not support offline owner recovery")
	default:
		return common.Address{}, domain.New(domain.KindMalformed, domain.CodeInvalidSignature, "unknown signing scheme")
	}
}

func recoverECDSA(digest [32]byte, signature []byte) (common.Address, *domain.Error) {
	if len(signature) != 65 {
		return common.Address{}, domain.New(domain.KindMalformed, domain.CodeInvalidSignature, "signature must be 65 bytes")
	}

	sig := make([]byte, 65)
	copy(sig, signature)
	// go-ethereum expects v in {0,1}; orders are typically signed with
	// v in {27,28}.
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return common.Address{}, domain.New(domain.KindMalformed, domain.CodeInvalidSignature, fmt.Sprintf("recover pubkey: %v", err))
	}
	return pubkeyToAddress(pub), nil
}

func pubkeyToAddress(pub *ecdsa.PublicKey) common.Address {
	return crypto.PubkeyToAddress(*pub)
}
