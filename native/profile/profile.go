package profile

import (
	"errors"
	"math/big"
	"strings"
)

// AssetGate is an optional policy on a profile requiring DM senders to hold a
// minimum balance of a gate token before an escrow can be opened.
type AssetGate struct {
	Token      string
	MinBalance *big.Int
}

// UserProfile holds the marketplace-facing policy for one account: the
// minimum DM deposit, the optional asset gate, and the monotonic auction
// sequence counter. The derivation salt reconstructs the profile's record
// address.
type UserProfile struct {
	Authority    [20]byte
	DmPrice      *big.Int
	Gate         *AssetGate
	AuctionCount uint64
	Salt         uint8
}

// Clone returns a deep copy so callers can mutate the copy safely.
func (p *UserProfile) Clone() *UserProfile {
	if p == nil {
		return nil
	}
	clone := *p
	if p.DmPrice != nil {
		clone.DmPrice = new(big.Int).Set(p.DmPrice)
	} else {
		clone.DmPrice = big.NewInt(0)
	}
	if p.Gate != nil {
		gate := AssetGate{Token: p.Gate.Token, MinBalance: big.NewInt(0)}
		if p.Gate.MinBalance != nil {
			gate.MinBalance = new(big.Int).Set(p.Gate.MinBalance)
		}
		clone.Gate = &gate
	}
	return &clone
}

// SanitizeProfile validates and normalises the supplied profile, returning a
// cloned instance with non-nil amounts and a trimmed gate token. The original
// value is not mutated.
func SanitizeProfile(p *UserProfile) (*UserProfile, error) {
	if p == nil {
		return nil, errors.New("profile: nil profile")
	}
	clone := p.Clone()
	if clone.Authority == ([20]byte{}) {
		return nil, errors.New("profile: authority required")
	}
	if clone.DmPrice.Sign() < 0 {
		return nil, errors.New("profile: dm price must be non-negative")
	}
	if clone.Gate != nil {
		clone.Gate.Token = strings.ToUpper(strings.TrimSpace(clone.Gate.Token))
		if clone.Gate.Token == "" {
			return nil, errors.New("profile: gate token required when gate configured")
		}
		if clone.Gate.MinBalance.Sign() < 0 {
			return nil, errors.New("profile: gate minimum must be non-negative")
		}
	}
	return clone, nil
}
