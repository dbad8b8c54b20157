package fees

import (
	"errors"
	"math"
	"math/big"
)

// BpsDenominator is the fixed-point basis of all fee rates.
const BpsDenominator = 10_000

// DefaultPlatformFeeBps is the platform cut applied to terminal settlements
// unless the configuration overrides it (1%).
const DefaultPlatformFeeBps uint32 = 100

var (
	ErrAmountOutOfRange   = errors.New("fees: amount must be a non-negative integer")
	ErrFeeRateOutOfRange  = errors.New("fees: fee rate exceeds denominator")
	ErrArithmeticOverflow = errors.New("fees: arithmetic overflow")
	ErrInvalidTreasury    = errors.New("fees: treasury does not match configured address")
)

// Settlement captures the outcome of splitting a gross amount into the
// recipient's net payout and the platform fee. Net + Fee == Gross exactly.
type Settlement struct {
	Gross *big.Int
	Net   *big.Int
	Fee   *big.Int
}

// Settle computes fee = floor(gross * feeBps / 10000) and net = gross - fee.
// Inputs are validated before any arithmetic: a nil or negative gross and a
// rate above the denominator are rejected, so the subtraction can never
// underflow.
func Settle(gross *big.Int, feeBps uint32) (Settlement, error) {
	if gross == nil || gross.Sign() < 0 {
		return Settlement{}, ErrAmountOutOfRange
	}
	if feeBps > BpsDenominator {
		return Settlement{}, ErrFeeRateOutOfRange
	}
	total := new(big.Int).Set(gross)
	fee := new(big.Int).Mul(total, new(big.Int).SetUint64(uint64(feeBps)))
	fee.Div(fee, big.NewInt(BpsDenominator))
	net := new(big.Int).Sub(total, fee)
	return Settlement{Gross: total, Net: net, Fee: fee}, nil
}

// MinimumIncrement computes floor(current * incrementBps / 10000), the amount
// by which a competing bid must exceed the standing bid.
func MinimumIncrement(current *big.Int, incrementBps uint32) (*big.Int, error) {
	if current == nil || current.Sign() < 0 {
		return nil, ErrAmountOutOfRange
	}
	if incrementBps > BpsDenominator {
		return nil, ErrFeeRateOutOfRange
	}
	step := new(big.Int).Mul(current, new(big.Int).SetUint64(uint64(incrementBps)))
	step.Div(step, big.NewInt(BpsDenominator))
	return step, nil
}

// CheckedAddInt64 adds two signed timestamps/durations, failing instead of
// wrapping. Deadline math throughout the custody engines goes through here.
func CheckedAddInt64(a, b int64) (int64, error) {
	if b > 0 && a > math.MaxInt64-b {
		return 0, ErrArithmeticOverflow
	}
	if b < 0 && a < math.MinInt64-b {
		return 0, ErrArithmeticOverflow
	}
	return a + b, nil
}

// Policy is the process-wide settlement configuration: a single fixed treasury
// plus the platform fee rate. Every fee-receiving input is validated against
// the treasury before any transfer occurs.
type Policy struct {
	Treasury [20]byte
	FeeBps   uint32
}

// Validate reports whether the policy itself is usable.
func (p Policy) Validate() error {
	if p.Treasury == ([20]byte{}) {
		return errors.New("fees: treasury not configured")
	}
	if p.FeeBps > BpsDenominator {
		return ErrFeeRateOutOfRange
	}
	return nil
}

// RequireTreasury rejects any candidate fee recipient that is not the
// configured treasury.
func (p Policy) RequireTreasury(candidate [20]byte) error {
	if candidate != p.Treasury {
		return ErrInvalidTreasury
	}
	return nil
}

// SettleGross applies the policy's fee rate to the supplied gross amount.
func (p Policy) SettleGross(gross *big.Int) (Settlement, error) {
	return Settle(gross, p.FeeBps)
}
