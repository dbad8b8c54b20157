package escrow

import (
	"errors"
	"math/big"

	"matchvault/native/custody"
)

// EscrowDuration is how long a DM deposit stays claimable before the sender
// may reclaim it (48 hours).
const EscrowDuration int64 = 48 * 60 * 60

// Status represents the lifecycle states of a message escrow.
type Status uint8

const (
	StatusPending Status = iota
	StatusAccepted
	StatusRefunded
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusRefunded:
		return true
	default:
		return false
	}
}

// String renders the status for logs and events.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusAccepted:
		return "accepted"
	case StatusRefunded:
		return "refunded"
	default:
		return "unknown"
	}
}

// MessageEscrow is the custody record for a single DM deposit. The address is
// derived from the sender and recipient, so one pending escrow can exist per
// conversation direction at a time; the salt reconstructs the vault authority.
type MessageEscrow struct {
	Address   [20]byte
	Sender    [20]byte
	Recipient [20]byte
	Token     string
	Amount    *big.Int
	Expiry    int64
	Status    Status
	Salt      uint8
}

// Clone returns a deep copy of the escrow so callers can safely mutate the
// copy without affecting the stored instance.
func (e *MessageEscrow) Clone() *MessageEscrow {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Amount != nil {
		clone.Amount = new(big.Int).Set(e.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// SanitizeEscrow validates and normalises the supplied escrow definition,
// returning a cloned instance with a canonical token symbol and a non-nil
// amount. The function does not mutate the original value.
func SanitizeEscrow(e *MessageEscrow) (*MessageEscrow, error) {
	if e == nil {
		return nil, errors.New("escrow: nil escrow")
	}
	clone := e.Clone()
	token, err := custody.NormalizeToken(clone.Token)
	if err != nil {
		return nil, err
	}
	clone.Token = token
	if clone.Amount.Sign() < 0 {
		return nil, errors.New("escrow: amount must be non-negative")
	}
	if !clone.Status.Valid() {
		return nil, errors.New("escrow: invalid status")
	}
	return clone, nil
}
