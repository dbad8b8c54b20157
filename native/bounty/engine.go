package bounty

import (
	"errors"
	"math/big"

	"matchvault/core/events"
	"matchvault/core/types"
	"matchvault/native/custody"
	"matchvault/native/fees"
)

var (
	errNilState = errors.New("bounty engine: state not configured")

	ErrBountyNotFound    = errors.New("bounty engine: bounty not found")
	ErrBountyExists      = errors.New("bounty engine: bounty already exists")
	ErrBountyNotOpen     = errors.New("bounty engine: bounty is not open")
	ErrUnauthorized      = errors.New("bounty engine: unauthorized caller")
	ErrZeroReward        = errors.New("bounty engine: reward must be positive")
	ErrInsufficientFunds = errors.New("bounty engine: insufficient issuer balance")
)

type engineState interface {
	BountyPut(*BountyVault) error
	BountyGet(addr [20]byte) (*BountyVault, bool)
	BountyDelete(addr [20]byte) error
	Balance(addr [20]byte, token string) (*big.Int, error)
	VaultOpen(record [20]byte, token string, authority [32]byte) error
	VaultDeposit(record, from [20]byte, token string, amount *big.Int) error
	VaultWithdraw(record, to [20]byte, token string, amount *big.Int, authority [32]byte) error
	VaultBalance(record [20]byte, token string) (*big.Int, error)
	VaultClose(record [20]byte) error
	BondDeposit(record, from [20]byte, token string, amount *big.Int) error
	BondRefund(record, to [20]byte, token string) error
}

type bountyEvent struct {
	evt *types.Event
}

func (e bountyEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e bountyEvent) Event() *types.Event { return e.evt }

// Engine wires the bounty state machine with external state and event
// emitters. The vault mirrors RewardAmount exactly: resizing the bounty moves
// only the difference, and every terminal transition drains the vault before
// the record is destroyed.
type Engine struct {
	state      engineState
	emitter    events.Emitter
	policy     fees.Policy
	recordBond *big.Int
}

// NewEngine creates a bounty engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter:    events.NoopEmitter{},
		recordBond: big.NewInt(0),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetFeePolicy configures the settlement policy applied on payout.
func (e *Engine) SetFeePolicy(policy fees.Policy) { e.policy = policy }

// SetRecordBond configures the deposit reserved from the issuer at creation
// and returned when the record closes.
func (e *Engine) SetRecordBond(bond *big.Int) {
	if bond == nil || bond.Sign() < 0 {
		e.recordBond = big.NewInt(0)
		return
	}
	e.recordBond = new(big.Int).Set(bond)
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(bountyEvent{evt: event})
}

// RecordAddress returns the deterministic bounty address for an issuer.
func RecordAddress(issuer [20]byte) ([20]byte, uint8, error) {
	return custody.Derive(custody.TagBounty, issuer[:])
}

func (e *Engine) authority(b *BountyVault) ([32]byte, error) {
	return custody.AuthorityToken(b.Address, custody.TagBounty, b.Salt, b.Issuer[:])
}

func (e *Engine) loadBounty(issuer [20]byte) (*BountyVault, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	addr, _, err := RecordAddress(issuer)
	if err != nil {
		return nil, err
	}
	b, ok := e.state.BountyGet(addr)
	if !ok {
		return nil, ErrBountyNotFound
	}
	return b, nil
}

// Create opens a bounty and escrows the full reward from the issuer. An
// issuer carries at most one bounty at a time because the record address is
// derived from the issuer alone.
func (e *Engine) Create(issuer [20]byte, token string, reward *big.Int) (*BountyVault, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	normalized, err := custody.NormalizeToken(token)
	if err != nil {
		return nil, err
	}
	if reward == nil || reward.Sign() <= 0 {
		return nil, ErrZeroReward
	}
	addr, salt, err := RecordAddress(issuer)
	if err != nil {
		return nil, err
	}
	if _, exists := e.state.BountyGet(addr); exists {
		return nil, ErrBountyExists
	}
	required := new(big.Int).Add(reward, e.recordBond)
	available, err := e.state.Balance(issuer, normalized)
	if err != nil {
		return nil, err
	}
	if available.Cmp(required) < 0 {
		return nil, ErrInsufficientFunds
	}
	b := &BountyVault{
		Address:      addr,
		Issuer:       issuer,
		Token:        normalized,
		RewardAmount: new(big.Int).Set(reward),
		Status:       StatusOpen,
		Salt:         salt,
	}
	auth, err := e.authority(b)
	if err != nil {
		return nil, err
	}
	if err := e.state.VaultOpen(addr, normalized, auth); err != nil {
		return nil, err
	}
	if err := e.state.BondDeposit(addr, issuer, normalized, e.recordBond); err != nil {
		return nil, err
	}
	if err := e.state.VaultDeposit(addr, issuer, normalized, reward); err != nil {
		return nil, err
	}
	if err := e.state.BountyPut(b); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(b))
	return b.Clone(), nil
}

// Update resizes an open bounty. Raising the reward pulls the difference from
// the issuer; lowering it pushes the difference back. The stored reward only
// changes after the transfer lands, so a failed transfer leaves the vault and
// record in agreement.
func (e *Engine) Update(issuer, caller [20]byte, newReward *big.Int) (*BountyVault, error) {
	b, err := e.loadBounty(issuer)
	if err != nil {
		return nil, err
	}
	if caller != b.Issuer {
		return nil, ErrUnauthorized
	}
	if b.Status != StatusOpen {
		return nil, ErrBountyNotOpen
	}
	if newReward == nil || newReward.Sign() <= 0 {
		return nil, ErrZeroReward
	}
	diff := new(big.Int).Sub(newReward, b.RewardAmount)
	switch diff.Sign() {
	case 1:
		available, err := e.state.Balance(issuer, b.Token)
		if err != nil {
			return nil, err
		}
		if available.Cmp(diff) < 0 {
			return nil, ErrInsufficientFunds
		}
		if err := e.state.VaultDeposit(b.Address, issuer, b.Token, diff); err != nil {
			return nil, err
		}
	case -1:
		auth, err := e.authority(b)
		if err != nil {
			return nil, err
		}
		refund := new(big.Int).Neg(diff)
		if err := e.state.VaultWithdraw(b.Address, issuer, b.Token, refund, auth); err != nil {
			return nil, err
		}
	}
	b.RewardAmount = new(big.Int).Set(newReward)
	if err := e.state.BountyPut(b); err != nil {
		return nil, err
	}
	e.emit(NewUpdatedEvent(b))
	return b.Clone(), nil
}

// PayoutReferral settles the bounty in favour of the matchmaker: the reward
// is split into net and platform fee, the record is marked filled and
// destroyed. Issuer-authorized.
func (e *Engine) PayoutReferral(issuer, caller, matchmaker, treasury [20]byte) error {
	b, err := e.loadBounty(issuer)
	if err != nil {
		return err
	}
	if caller != b.Issuer {
		return ErrUnauthorized
	}
	if b.Status != StatusOpen {
		return ErrBountyNotOpen
	}
	if err := e.policy.RequireTreasury(treasury); err != nil {
		return err
	}
	settlement, err := e.policy.SettleGross(b.RewardAmount)
	if err != nil {
		return err
	}
	auth, err := e.authority(b)
	if err != nil {
		return err
	}
	if settlement.Net.Sign() > 0 {
		if err := e.state.VaultWithdraw(b.Address, matchmaker, b.Token, settlement.Net, auth); err != nil {
			return err
		}
	}
	if settlement.Fee.Sign() > 0 {
		if err := e.state.VaultWithdraw(b.Address, treasury, b.Token, settlement.Fee, auth); err != nil {
			return err
		}
	}
	b.Status = StatusFilled
	if err := e.closeRecord(b); err != nil {
		return err
	}
	e.emit(NewPaidEvent(b, matchmaker, settlement.Fee))
	return nil
}

// Cancel returns the full reward to the issuer without a fee and destroys the
// record.
func (e *Engine) Cancel(issuer, caller [20]byte) error {
	b, err := e.loadBounty(issuer)
	if err != nil {
		return err
	}
	if caller != b.Issuer {
		return ErrUnauthorized
	}
	if b.Status != StatusOpen {
		return ErrBountyNotOpen
	}
	auth, err := e.authority(b)
	if err != nil {
		return err
	}
	if b.RewardAmount.Sign() > 0 {
		if err := e.state.VaultWithdraw(b.Address, b.Issuer, b.Token, b.RewardAmount, auth); err != nil {
			return err
		}
	}
	b.Status = StatusCancelled
	if err := e.closeRecord(b); err != nil {
		return err
	}
	e.emit(NewCancelledEvent(b))
	return nil
}

// Get returns the stored bounty for an issuer.
func (e *Engine) Get(issuer [20]byte) (*BountyVault, error) {
	b, err := e.loadBounty(issuer)
	if err != nil {
		return nil, err
	}
	return b.Clone(), nil
}

// closeRecord destroys a terminal record and its vault, returning the opening
// bond to the issuer.
func (e *Engine) closeRecord(b *BountyVault) error {
	if err := e.state.VaultClose(b.Address); err != nil {
		return err
	}
	if err := e.state.BondRefund(b.Address, b.Issuer, b.Token); err != nil {
		return err
	}
	return e.state.BountyDelete(b.Address)
}
