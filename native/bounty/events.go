package bounty

import (
	"encoding/hex"
	"math/big"

	"matchvault/core/types"
)

const (
	EventTypeBountyCreated   = "bounty.created"
	EventTypeBountyUpdated   = "bounty.updated"
	EventTypeBountyPaid      = "bounty.paid"
	EventTypeBountyCancelled = "bounty.cancelled"
)

// NewCreatedEvent returns the canonical event payload for a new bounty.
func NewCreatedEvent(b *BountyVault) *types.Event {
	return newBountyEvent(EventTypeBountyCreated, b)
}

// NewUpdatedEvent returns the payload for a resized bounty; amount carries the
// new reward.
func NewUpdatedEvent(b *BountyVault) *types.Event {
	return newBountyEvent(EventTypeBountyUpdated, b)
}

// NewPaidEvent returns the payload emitted when the reward is released to a
// matchmaker. The amount attribute reports the gross reward; fee is separate.
func NewPaidEvent(b *BountyVault, matchmaker [20]byte, fee *big.Int) *types.Event {
	evt := newBountyEvent(EventTypeBountyPaid, b)
	evt.Attributes["matchmaker"] = hex.EncodeToString(matchmaker[:])
	if fee != nil {
		evt.Attributes["fee"] = fee.String()
	}
	return evt
}

// NewCancelledEvent returns the payload emitted when the issuer reclaims the
// reward and destroys the record.
func NewCancelledEvent(b *BountyVault) *types.Event {
	return newBountyEvent(EventTypeBountyCancelled, b)
}

func newBountyEvent(eventType string, b *BountyVault) *types.Event {
	attrs := make(map[string]string)
	if b == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := SanitizeBounty(b)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["issuer"] = hex.EncodeToString(sanitized.Issuer[:])
	attrs["token"] = sanitized.Token
	attrs["amount"] = sanitized.RewardAmount.String()
	attrs["status"] = sanitized.Status.String()
	return &types.Event{Type: eventType, Attributes: attrs}
}
