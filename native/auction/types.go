package auction

import (
	"encoding/binary"
	"errors"
	"math/big"

	"matchvault/native/custody"
)

const (
	// SnipeThreshold is the window before the deadline inside which a bid
	// triggers an extension (5 minutes).
	SnipeThreshold int64 = 5 * 60
	// SnipeExtension is the amount added to the deadline per triggering bid
	// (5 minutes).
	SnipeExtension int64 = 5 * 60
	// MaxSnipeExtension caps the cumulative lifetime extension of a single
	// auction (1 hour), no matter how many bids land inside the window.
	MaxSnipeExtension int64 = 60 * 60
	// MinBidIncrementBps is the minimum percentage a new bid must exceed the
	// standing bid by (5%).
	MinBidIncrementBps uint32 = 500
)

// DateAuction is the custody record for a single timed sealed-value auction.
// The host doubles as the sentinel highest bidder while no real bid has been
// placed; the record is Open while now < EndTime and Ended afterwards.
type DateAuction struct {
	Address       [20]byte
	Host          [20]byte
	AuctionID     uint64
	Token         string
	HighestBidder [20]byte
	HighestBid    *big.Int
	EndTime       int64
	TotalExtended int64
	Salt          uint8
}

// Clone returns a deep copy of the auction so callers can safely mutate the
// copy without affecting the stored instance.
func (a *DateAuction) Clone() *DateAuction {
	if a == nil {
		return nil
	}
	clone := *a
	if a.HighestBid != nil {
		clone.HighestBid = new(big.Int).Set(a.HighestBid)
	} else {
		clone.HighestBid = big.NewInt(0)
	}
	return &clone
}

// HasBids reports whether a real bid has displaced the sentinel.
func (a *DateAuction) HasBids() bool {
	return a != nil && a.HighestBidder != a.Host
}

// SanitizeAuction validates and normalises the supplied auction definition,
// returning a cloned instance with a canonical token symbol and a non-nil bid
// amount. The function does not mutate the original value.
func SanitizeAuction(a *DateAuction) (*DateAuction, error) {
	if a == nil {
		return nil, errors.New("auction: nil auction")
	}
	clone := a.Clone()
	token, err := custody.NormalizeToken(clone.Token)
	if err != nil {
		return nil, err
	}
	clone.Token = token
	if clone.HighestBid.Sign() < 0 {
		return nil, errors.New("auction: bid must be non-negative")
	}
	if clone.TotalExtended < 0 || clone.TotalExtended > MaxSnipeExtension {
		return nil, errors.New("auction: total extension out of range")
	}
	return clone, nil
}

// SequenceSeed encodes the auction sequence number as an address derivation
// seed.
func SequenceSeed(auctionID uint64) []byte {
	seed := make([]byte, 8)
	binary.BigEndian.PutUint64(seed, auctionID)
	return seed
}
