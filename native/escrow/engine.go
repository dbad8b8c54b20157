package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"matchvault/core/events"
	"matchvault/core/types"
	"matchvault/native/custody"
	"matchvault/native/fees"
	"matchvault/native/profile"
)

var (
	errNilState = errors.New("escrow engine: state not configured")

	ErrEscrowNotFound           = errors.New("escrow engine: escrow not found")
	ErrEscrowExists             = errors.New("escrow engine: pending escrow already exists for pair")
	ErrEscrowNotPending         = errors.New("escrow engine: escrow is not pending")
	ErrEscrowNotExpired         = errors.New("escrow engine: escrow has not expired yet")
	ErrUnauthorized             = errors.New("escrow engine: unauthorized caller")
	ErrRecipientProfileRequired = errors.New("escrow engine: recipient has no profile")
	ErrInsufficientDmDeposit    = errors.New("escrow engine: deposit below recipient's dm price")
	ErrAssetGateRequired        = errors.New("escrow engine: asset gate token account required")
	ErrInvalidAssetGate         = errors.New("escrow engine: asset gate token mismatch")
	ErrInsufficientAssetBalance = errors.New("escrow engine: insufficient balance for asset gate")
	ErrInsufficientFunds        = errors.New("escrow engine: insufficient sender balance")
)

type engineState interface {
	EscrowPut(*MessageEscrow) error
	EscrowGet(addr [20]byte) (*MessageEscrow, bool)
	EscrowDelete(addr [20]byte) error
	ProfileGet(authority [20]byte) (*profile.UserProfile, bool)
	Balance(addr [20]byte, token string) (*big.Int, error)
	VaultOpen(record [20]byte, token string, authority [32]byte) error
	VaultDeposit(record, from [20]byte, token string, amount *big.Int) error
	VaultWithdraw(record, to [20]byte, token string, amount *big.Int, authority [32]byte) error
	VaultBalance(record [20]byte, token string) (*big.Int, error)
	VaultClose(record [20]byte) error
	BondDeposit(record, from [20]byte, token string, amount *big.Int) error
	BondRefund(record, to [20]byte, token string) error
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine wires the DM escrow state machine with external state and event
// emitters. A deposit is Pending until exactly one of accept, decline or
// refund closes the record.
type Engine struct {
	state      engineState
	emitter    events.Emitter
	policy     fees.Policy
	recordBond *big.Int
	nowFn      func() int64
}

// NewEngine creates an escrow engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter:    events.NoopEmitter{},
		recordBond: big.NewInt(0),
		nowFn:      func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetFeePolicy configures the settlement policy applied on acceptance.
func (e *Engine) SetFeePolicy(policy fees.Policy) { e.policy = policy }

// SetRecordBond configures the deposit reserved from the sender when a record
// is opened and returned when it closes.
func (e *Engine) SetRecordBond(bond *big.Int) {
	if bond == nil || bond.Sign() < 0 {
		e.recordBond = big.NewInt(0)
		return
	}
	e.recordBond = new(big.Int).Set(bond)
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
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
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// RecordAddress returns the deterministic escrow address for a conversation
// direction.
func RecordAddress(sender, recipient [20]byte) ([20]byte, uint8, error) {
	return custody.Derive(custody.TagEscrow, sender[:], recipient[:])
}

func (e *Engine) authority(esc *MessageEscrow) ([32]byte, error) {
	return custody.AuthorityToken(esc.Address, custody.TagEscrow, esc.Salt, esc.Sender[:], esc.Recipient[:])
}

func (e *Engine) loadEscrow(sender, recipient [20]byte) (*MessageEscrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	addr, _, err := RecordAddress(sender, recipient)
	if err != nil {
		return nil, err
	}
	esc, ok := e.state.EscrowGet(addr)
	if !ok {
		return nil, ErrEscrowNotFound
	}
	return esc, nil
}

// DepositForDm opens a Pending escrow funded with the sender's deposit. The
// recipient's profile policy is evaluated here and only here: the deposit must
// meet the dm price, and when an asset gate is configured the sender must name
// the gate token and hold its minimum balance.
func (e *Engine) DepositForDm(sender, recipient [20]byte, token string, amount *big.Int, gateToken string) (*MessageEscrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	normalized, err := custody.NormalizeToken(token)
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("escrow engine: amount must be positive")
	}
	prof, ok := e.state.ProfileGet(recipient)
	if !ok {
		return nil, ErrRecipientProfileRequired
	}
	if amount.Cmp(prof.DmPrice) < 0 {
		return nil, ErrInsufficientDmDeposit
	}
	if prof.Gate != nil {
		if gateToken == "" {
			return nil, ErrAssetGateRequired
		}
		normalizedGate, err := custody.NormalizeToken(gateToken)
		if err != nil {
			return nil, err
		}
		if normalizedGate != prof.Gate.Token {
			return nil, ErrInvalidAssetGate
		}
		held, err := e.state.Balance(sender, prof.Gate.Token)
		if err != nil {
			return nil, err
		}
		if held.Cmp(prof.Gate.MinBalance) < 0 {
			return nil, ErrInsufficientAssetBalance
		}
	}
	addr, salt, err := RecordAddress(sender, recipient)
	if err != nil {
		return nil, err
	}
	if _, exists := e.state.EscrowGet(addr); exists {
		return nil, ErrEscrowExists
	}
	now := e.now()
	expiry, err := fees.CheckedAddInt64(now, EscrowDuration)
	if err != nil {
		return nil, err
	}
	required := new(big.Int).Add(amount, e.recordBond)
	available, err := e.state.Balance(sender, normalized)
	if err != nil {
		return nil, err
	}
	if available.Cmp(required) < 0 {
		return nil, ErrInsufficientFunds
	}
	esc := &MessageEscrow{
		Address:   addr,
		Sender:    sender,
		Recipient: recipient,
		Token:     normalized,
		Amount:    new(big.Int).Set(amount),
		Expiry:    expiry,
		Status:    StatusPending,
		Salt:      salt,
	}
	auth, err := e.authority(esc)
	if err != nil {
		return nil, err
	}
	if err := e.state.VaultOpen(addr, normalized, auth); err != nil {
		return nil, err
	}
	if err := e.state.BondDeposit(addr, sender, normalized, e.recordBond); err != nil {
		return nil, err
	}
	if err := e.state.VaultDeposit(addr, sender, normalized, esc.Amount); err != nil {
		return nil, err
	}
	if err := e.state.EscrowPut(esc); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(esc))
	return esc.Clone(), nil
}

// Accept settles a pending escrow in favour of the recipient: the deposit is
// split into the recipient's net and the platform fee, the record closes and
// the opening bond returns to the sender. Recipient-only.
func (e *Engine) Accept(sender, recipient, caller, treasury [20]byte) error {
	esc, err := e.loadEscrow(sender, recipient)
	if err != nil {
		return err
	}
	if esc.Status != StatusPending {
		return ErrEscrowNotPending
	}
	if caller != esc.Recipient {
		return ErrUnauthorized
	}
	if err := e.policy.RequireTreasury(treasury); err != nil {
		return err
	}
	settlement, err := e.policy.SettleGross(esc.Amount)
	if err != nil {
		return err
	}
	auth, err := e.authority(esc)
	if err != nil {
		return err
	}
	if settlement.Net.Sign() > 0 {
		if err := e.state.VaultWithdraw(esc.Address, esc.Recipient, esc.Token, settlement.Net, auth); err != nil {
			return err
		}
	}
	if settlement.Fee.Sign() > 0 {
		if err := e.state.VaultWithdraw(esc.Address, treasury, esc.Token, settlement.Fee, auth); err != nil {
			return err
		}
	}
	esc.Status = StatusAccepted
	if err := e.closeRecord(esc, esc.Sender); err != nil {
		return err
	}
	e.emit(NewAcceptedEvent(esc, settlement.Fee))
	return nil
}

// Decline refunds a pending escrow to the sender without waiting for expiry.
// Recipient-only, no fee.
func (e *Engine) Decline(sender, recipient, caller [20]byte) error {
	esc, err := e.loadEscrow(sender, recipient)
	if err != nil {
		return err
	}
	if esc.Status != StatusPending {
		return ErrEscrowNotPending
	}
	if caller != esc.Recipient {
		return ErrUnauthorized
	}
	return e.refundEscrow(esc, NewDeclinedEvent)
}

// Refund returns the deposit to the sender once the escrow has expired.
// Sender-only.
func (e *Engine) Refund(sender, recipient, caller [20]byte) error {
	esc, err := e.loadEscrow(sender, recipient)
	if err != nil {
		return err
	}
	if esc.Status != StatusPending {
		return ErrEscrowNotPending
	}
	if caller != esc.Sender {
		return ErrUnauthorized
	}
	if e.now() <= esc.Expiry {
		return ErrEscrowNotExpired
	}
	return e.refundEscrow(esc, NewRefundedEvent)
}

// Get returns the stored escrow for a conversation direction.
func (e *Engine) Get(sender, recipient [20]byte) (*MessageEscrow, error) {
	esc, err := e.loadEscrow(sender, recipient)
	if err != nil {
		return nil, err
	}
	return esc.Clone(), nil
}

func (e *Engine) refundEscrow(esc *MessageEscrow, eventFn func(*MessageEscrow) *types.Event) error {
	auth, err := e.authority(esc)
	if err != nil {
		return err
	}
	if esc.Amount.Sign() > 0 {
		if err := e.state.VaultWithdraw(esc.Address, esc.Sender, esc.Token, esc.Amount, auth); err != nil {
			return err
		}
	}
	esc.Status = StatusRefunded
	if err := e.closeRecord(esc, esc.Sender); err != nil {
		return err
	}
	e.emit(eventFn(esc))
	return nil
}

// closeRecord destroys a terminal record and its vault, returning the opening
// bond to the designated party.
func (e *Engine) closeRecord(esc *MessageEscrow, bondRecipient [20]byte) error {
	if err := e.state.VaultClose(esc.Address); err != nil {
		return err
	}
	if err := e.state.BondRefund(esc.Address, bondRecipient, esc.Token); err != nil {
		return err
	}
	return e.state.EscrowDelete(esc.Address)
}
