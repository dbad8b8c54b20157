package bounty

import (
	"errors"
	"math/big"

	"matchvault/native/custody"
)

// Status tracks the lifecycle of a referral bounty. Open bounties can be
// resized; Filled and Cancelled both destroy the record, so a stored bounty is
// effectively always Open.
type Status uint8

const (
	StatusOpen Status = iota
	StatusFilled
	StatusCancelled
)

// Valid reports whether the status is one of the known lifecycle values.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusFilled, StatusCancelled:
		return true
	default:
		return false
	}
}

// String renders the status for logs and events.
func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusFilled:
		return "filled"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// BountyVault is the custody record backing a referral reward. One bounty
// exists per issuer at a time; the vault always holds exactly RewardAmount.
type BountyVault struct {
	Address      [20]byte
	Issuer       [20]byte
	Token        string
	RewardAmount *big.Int
	Status       Status
	Salt         uint8
}

// Clone returns a deep copy of the bounty.
func (b *BountyVault) Clone() *BountyVault {
	if b == nil {
		return nil
	}
	clone := *b
	if b.RewardAmount != nil {
		clone.RewardAmount = new(big.Int).Set(b.RewardAmount)
	} else {
		clone.RewardAmount = big.NewInt(0)
	}
	return &clone
}

// SanitizeBounty validates and normalises the supplied bounty definition,
// returning a cloned instance. The original value is not mutated.
func SanitizeBounty(b *BountyVault) (*BountyVault, error) {
	if b == nil {
		return nil, errors.New("bounty: nil bounty")
	}
	clone := b.Clone()
	token, err := custody.NormalizeToken(clone.Token)
	if err != nil {
		return nil, err
	}
	clone.Token = token
	if clone.RewardAmount.Sign() < 0 {
		return nil, errors.New("bounty: reward must be non-negative")
	}
	if !clone.Status.Valid() {
		return nil, errors.New("bounty: invalid status")
	}
	return clone, nil
}
