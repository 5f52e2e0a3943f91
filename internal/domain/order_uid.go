package domain

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// OrderUID is the 56-byte canonical order identifier:
// keccak256(orderData) || owner || validTo, grounded on the byte-array
// helpers the teacher keeps under infrastructure/hex.
type OrderUID [56]byte

// ComputeOrderUID reproduces the uid from an order digest, owner and
// validTo, the way put_order must verify an incoming order's claimed id.
func ComputeOrderUID(digest [32]byte, owner common.Address, validTo uint32) OrderUID {
	var uid OrderUID
	copy(uid[0:32], digest[:])
	copy(uid[32:52], owner.Bytes())
	binary.BigEndian.PutUint32(uid[52:56], validTo)
	return uid
}

// Digest returns the order-data hash portion of the uid.
func (u OrderUID) Digest() [32]byte {
	var d [32]byte
	copy(d[:], u[0:32])
	return d
}

// Owner returns the owner-address portion of the uid.
func (u OrderUID) Owner() common.Address {
	return common.BytesToAddress(u[32:52])
}

// ValidTo returns the valid-to portion of the uid.
func (u OrderUID) ValidTo() uint32 {
	return binary.BigEndian.Uint32(u[52:56])
}

// String renders the uid as a 0x-prefixed hex string.
func (u OrderUID) String() string {
	return "0x" + hex.EncodeToString(u[:])
}

// ParseOrderUID decodes a 0x-prefixed (or bare) 112-char hex string.
func ParseOrderUID(s string) (OrderUID, error) {
	var uid OrderUID
	if len(s) >= 2 && s[0:2] == "0x" {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return uid, fmt.Errorf("decode order uid: %w", err)
	}
	if len(b) != 56 {
		return uid, fmt.Errorf("order uid must be 56 bytes, got %d", len(b))
	}
	copy(uid[:], b)
	return uid, nil
}
