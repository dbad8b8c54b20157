package escrow

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"matchvault/core/types"
)

const (
	EventTypeDmCreated  = "dm.created"
	EventTypeDmAccepted = "dm.accepted"
	EventTypeDmDeclined = "dm.declined"
	EventTypeDmRefunded = "dm.refunded"
)

// NewCreatedEvent returns the canonical event payload for a freshly funded
// escrow.
func NewCreatedEvent(e *MessageEscrow) *types.Event {
	evt := newEscrowEvent(EventTypeDmCreated, e)
	if e != nil {
		evt.Attributes["expiry"] = strconv.FormatInt(e.Expiry, 10)
	}
	return evt
}

// NewAcceptedEvent returns the payload emitted when the recipient accepts the
// DM. The amount attribute reports the gross deposit; fee is separate.
func NewAcceptedEvent(e *MessageEscrow, fee *big.Int) *types.Event {
	evt := newEscrowEvent(EventTypeDmAccepted, e)
	if fee != nil {
		evt.Attributes["fee"] = fee.String()
	}
	return evt
}

// NewDeclinedEvent returns the payload emitted when the recipient declines the
// DM and the full deposit flows back to the sender.
func NewDeclinedEvent(e *MessageEscrow) *types.Event {
	return newEscrowEvent(EventTypeDmDeclined, e)
}

// NewRefundedEvent returns the payload emitted when the sender reclaims an
// expired deposit.
func NewRefundedEvent(e *MessageEscrow) *types.Event {
	return newEscrowEvent(EventTypeDmRefunded, e)
}

func newEscrowEvent(eventType string, e *MessageEscrow) *types.Event {
	attrs := make(map[string]string)
	if e == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := SanitizeEscrow(e)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["sender"] = hex.EncodeToString(sanitized.Sender[:])
	attrs["recipient"] = hex.EncodeToString(sanitized.Recipient[:])
	attrs["token"] = sanitized.Token
	attrs["amount"] = sanitized.Amount.String()
	return &types.Event{Type: eventType, Attributes: attrs}
}
