package core

import (
	"github.com/ethereum/go-ethereum/common"
)

// ResolvingContext is the iframe's belief about which product it is embedded in.
// It is only ever derived from the page referrer or from an accepted handshake.
type ResolvingContext struct {
	ProductID     common.Hash `json:"productId"`
	Origin        string      `json:"origin"`
	SourceURL     string      `json:"sourceUrl"`
	IsAutoContext bool        `json:"isAutoContext"`
	// WalletReferrer is the referring wallet carried by the page URL, if any
	WalletReferrer *common.Address `json:"walletReferrer,omitempty"`
}

// SameAs reports whether two contexts would lead to the same downstream state.
func (c *ResolvingContext) SameAs(other *ResolvingContext) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.SourceURL == other.SourceURL && c.IsAutoContext == other.IsAutoContext
}
