package eth

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ProductID derives the product identifier of a host. The host is lowercased
// and a leading "www." is dropped so both forms map to the same product.
func ProductID(host string) common.Hash {
	normalized := strings.TrimPrefix(strings.ToLower(host), "www.")
	return crypto.Keccak256Hash([]byte(normalized))
}

// Selector returns the 4 byte function selector of a canonical signature.
func Selector(signature string) [4]byte {
	var selector [4]byte
	copy(selector[:], crypto.Keccak256([]byte(signature))[:4])
	return selector
}
