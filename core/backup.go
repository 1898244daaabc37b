package core

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// BackupPayload is the snapshot of wallet state mirrored by the parent page
type BackupPayload struct {
	ProductID           common.Hash          `json:"productId" cbor:"productId"`
	Session             *Session             `json:"session,omitempty" cbor:"session,omitempty"`
	SdkSession          *SdkSession          `json:"sdkSession,omitempty" cbor:"sdkSession,omitempty"`
	PendingInteractions []PendingInteraction `json:"pendingInteractions,omitempty" cbor:"pendingInteractions,omitempty"`
	ExpireAt            time.Time            `json:"expireAtTimestamp" cbor:"expireAtTimestamp"`
}

// Empty reports whether the payload carries nothing worth persisting.
func (p *BackupPayload) Empty() bool {
	return !p.Session.HasToken() && p.SdkSession == nil && len(p.PendingInteractions) == 0
}
