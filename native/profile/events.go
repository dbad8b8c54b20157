package profile

import (
	"encoding/hex"
	"strconv"

	"matchvault/core/types"
)

const (
	EventTypeProfileCreated = "profile.created"
	EventTypeProfileUpdated = "profile.updated"
)

// NewCreatedEvent returns the canonical event payload for a new profile.
func NewCreatedEvent(p *UserProfile) *types.Event {
	return newProfileEvent(EventTypeProfileCreated, p)
}

// NewUpdatedEvent returns the canonical event payload for a profile update.
func NewUpdatedEvent(p *UserProfile) *types.Event {
	return newProfileEvent(EventTypeProfileUpdated, p)
}

func newProfileEvent(eventType string, p *UserProfile) *types.Event {
	attrs := make(map[string]string)
	if p == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := SanitizeProfile(p)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["authority"] = hex.EncodeToString(sanitized.Authority[:])
	attrs["dmPrice"] = sanitized.DmPrice.String()
	attrs["auctionCount"] = strconv.FormatUint(sanitized.AuctionCount, 10)
	if sanitized.Gate != nil {
		attrs["gateToken"] = sanitized.Gate.Token
		attrs["gateMinBalance"] = sanitized.Gate.MinBalance.String()
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
