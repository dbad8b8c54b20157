package auction

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"matchvault/core/types"
)

const (
	EventTypeAuctionCreated   = "auction.created"
	EventTypeBidPlaced        = "auction.bid"
	EventTypeAuctionClaimed   = "auction.claimed"
	EventTypeAuctionCancelled = "auction.cancelled"
)

// NewCreatedEvent returns the canonical event payload for a new auction.
func NewCreatedEvent(a *DateAuction) *types.Event {
	return newAuctionEvent(EventTypeAuctionCreated, a)
}

// NewBidPlacedEvent returns the payload for an accepted bid. The amount
// attribute reports the gross bid; the displaced bidder and the possibly
// extended deadline ride along so stale clients can resynchronise.
func NewBidPlacedEvent(a *DateAuction, previousBidder [20]byte) *types.Event {
	evt := newAuctionEvent(EventTypeBidPlaced, a)
	evt.Attributes["previousBidder"] = hex.EncodeToString(previousBidder[:])
	return evt
}

// NewClaimedEvent returns the payload emitted when the host settles an ended
// auction. The amount attribute reports the gross winning bid; fee is
// separate.
func NewClaimedEvent(a *DateAuction, fee *big.Int) *types.Event {
	evt := newAuctionEvent(EventTypeAuctionClaimed, a)
	if a != nil {
		evt.Attributes["winner"] = hex.EncodeToString(a.HighestBidder[:])
	}
	if fee != nil {
		evt.Attributes["fee"] = fee.String()
	}
	return evt
}

// NewCancelledEvent returns the payload emitted when a bid-less auction is
// destroyed.
func NewCancelledEvent(a *DateAuction) *types.Event {
	return newAuctionEvent(EventTypeAuctionCancelled, a)
}

func newAuctionEvent(eventType string, a *DateAuction) *types.Event {
	attrs := make(map[string]string)
	if a == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := SanitizeAuction(a)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["host"] = hex.EncodeToString(sanitized.Host[:])
	attrs["auctionId"] = strconv.FormatUint(sanitized.AuctionID, 10)
	attrs["token"] = sanitized.Token
	attrs["bidder"] = hex.EncodeToString(sanitized.HighestBidder[:])
	attrs["amount"] = sanitized.HighestBid.String()
	attrs["endTime"] = strconv.FormatInt(sanitized.EndTime, 10)
	return &types.Event{Type: eventType, Attributes: attrs}
}
