package core

import (
	"bytes"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// PendingInteraction is an action requested while no session could authorize it
type PendingInteraction struct {
	ProductID   common.Hash   `json:"productId"`
	Interaction hexutil.Bytes `json:"interaction"`
	Signature   hexutil.Bytes `json:"signature,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

// SameAs compares two pending interactions by content.
func (p PendingInteraction) SameAs(other PendingInteraction) bool {
	return p.ProductID == other.ProductID &&
		bytes.Equal(p.Interaction, other.Interaction) &&
		bytes.Equal(p.Signature, other.Signature) &&
		p.Timestamp.Equal(other.Timestamp)
}

// InteractionSessionWindow is the delegation record read from the smart account
type InteractionSessionWindow struct {
	Executor   common.Address
	Validator  common.Address
	ValidAfter time.Time
	ValidUntil time.Time
}

// ActiveAt reports whether the window authorizes delegated execution at now for
// the expected executor and validator. Any address mismatch means the window is absent.
func (w *InteractionSessionWindow) ActiveAt(now time.Time, executor, validator common.Address) bool {
	if w == nil {
		return false
	}
	if w.Executor != executor || w.Validator != validator {
		return false
	}
	return !now.Before(w.ValidAfter) && !now.After(w.ValidUntil)
}

// InteractionSession is the active part of a window, exposed to callers
type InteractionSession struct {
	Start time.Time `json:"sessionStart"`
	End   time.Time `json:"sessionEnd"`
}
