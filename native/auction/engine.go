package auction

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
	errNilState = errors.New("auction engine: state not configured")

	ErrAuctionNotFound       = errors.New("auction engine: auction not found")
	ErrAuctionEnded          = errors.New("auction engine: auction has ended")
	ErrAuctionNotEnded       = errors.New("auction engine: auction has not ended yet")
	ErrNoBidsPlaced          = errors.New("auction engine: no bids were placed")
	ErrAuctionHasBids        = errors.New("auction engine: auction already has bids")
	ErrBidTooLow             = errors.New("auction engine: bid must exceed current highest bid")
	ErrBidIncrementTooSmall  = errors.New("auction engine: bid below minimum increment")
	ErrInvalidPreviousBidder = errors.New("auction engine: previous bidder does not match")
	ErrUnauthorized          = errors.New("auction engine: unauthorized caller")
	ErrHostProfileRequired   = errors.New("auction engine: host has no profile")
	ErrInsufficientFunds     = errors.New("auction engine: insufficient bidder balance")
)

type engineState interface {
	AuctionPut(*DateAuction) error
	AuctionGet(addr [20]byte) (*DateAuction, bool)
	AuctionDelete(addr [20]byte) error
	ProfilePut(*profile.UserProfile) error
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

type auctionEvent struct {
	evt *types.Event
}

func (e auctionEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e auctionEvent) Event() *types.Event { return e.evt }

// Engine wires the auction state machine with external state and event
// emitters. Bids escrow into the record's vault; losing bidders are refunded
// in the same operation that records the new high bid.
type Engine struct {
	state      engineState
	emitter    events.Emitter
	policy     fees.Policy
	recordBond *big.Int
	nowFn      func() int64
}

// NewEngine creates an auction engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter:    events.NoopEmitter{},
		recordBond: big.NewInt(0),
		nowFn:      func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetFeePolicy configures the settlement policy applied on claim.
func (e *Engine) SetFeePolicy(policy fees.Policy) { e.policy = policy }

// SetRecordBond configures the deposit reserved from the host at creation and
// returned when the record closes.
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
	e.emitter.Emit(auctionEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// RecordAddress returns the deterministic auction address for a host and
// sequence number.
func RecordAddress(host [20]byte, auctionID uint64) ([20]byte, uint8, error) {
	return custody.Derive(custody.TagAuction, host[:], SequenceSeed(auctionID))
}

func (e *Engine) authority(a *DateAuction) ([32]byte, error) {
	return custody.AuthorityToken(a.Address, custody.TagAuction, a.Salt, a.Host[:], SequenceSeed(a.AuctionID))
}

func (e *Engine) loadAuction(host [20]byte, auctionID uint64) (*DateAuction, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	addr, _, err := RecordAddress(host, auctionID)
	if err != nil {
		return nil, err
	}
	a, ok := e.state.AuctionGet(addr)
	if !ok {
		return nil, ErrAuctionNotFound
	}
	return a, nil
}

// Create opens a new auction for the host. The sequence number is drawn from
// the host's profile counter so repeated auctions never collide; the host is
// installed as the sentinel highest bidder at the start price.
func (e *Engine) Create(host [20]byte, token string, startPrice *big.Int, duration int64) (*DateAuction, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	normalized, err := custody.NormalizeToken(token)
	if err != nil {
		return nil, err
	}
	if startPrice == nil || startPrice.Sign() < 0 {
		return nil, fmt.Errorf("auction engine: start price must be non-negative")
	}
	if duration <= 0 {
		return nil, fmt.Errorf("auction engine: duration must be positive")
	}
	prof, ok := e.state.ProfileGet(host)
	if !ok {
		return nil, ErrHostProfileRequired
	}
	now := e.now()
	endTime, err := fees.CheckedAddInt64(now, duration)
	if err != nil {
		return nil, err
	}
	seq := prof.AuctionCount
	addr, salt, err := RecordAddress(host, seq)
	if err != nil {
		return nil, err
	}
	if _, exists := e.state.AuctionGet(addr); exists {
		return nil, fmt.Errorf("auction engine: record already exists for sequence %d", seq)
	}
	if e.recordBond.Sign() > 0 {
		available, err := e.state.Balance(host, normalized)
		if err != nil {
			return nil, err
		}
		if available.Cmp(e.recordBond) < 0 {
			return nil, ErrInsufficientFunds
		}
	}
	a := &DateAuction{
		Address:       addr,
		Host:          host,
		AuctionID:     seq,
		Token:         normalized,
		HighestBidder: host,
		HighestBid:    new(big.Int).Set(startPrice),
		EndTime:       endTime,
		Salt:          salt,
	}
	auth, err := e.authority(a)
	if err != nil {
		return nil, err
	}
	if err := e.state.VaultOpen(addr, normalized, auth); err != nil {
		return nil, err
	}
	if err := e.state.BondDeposit(addr, host, normalized, e.recordBond); err != nil {
		return nil, err
	}
	updated := prof.Clone()
	updated.AuctionCount = seq + 1
	if err := e.state.ProfilePut(updated); err != nil {
		return nil, err
	}
	if err := e.state.AuctionPut(a); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(a))
	return a.Clone(), nil
}

// PlaceBid escrows a new high bid. The caller must name the current highest
// bidder exactly, which defeats races between bids taken against the same
// snapshot: whichever commits second sees a different standing bidder and
// fails instead of refunding the wrong party. In order: the displaced bidder
// is refunded from the vault, the new bid is pulled in, the record updates,
// and a bid inside the snipe window extends the deadline up to the cumulative
// cap.
func (e *Engine) PlaceBid(host [20]byte, auctionID uint64, bidder, previousBidder [20]byte, amount *big.Int) (*DateAuction, error) {
	a, err := e.loadAuction(host, auctionID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	if now >= a.EndTime {
		return nil, ErrAuctionEnded
	}
	if a.HighestBidder != previousBidder {
		return nil, ErrInvalidPreviousBidder
	}
	if amount == nil || amount.Cmp(a.HighestBid) <= 0 {
		return nil, ErrBidTooLow
	}
	step, err := fees.MinimumIncrement(a.HighestBid, MinBidIncrementBps)
	if err != nil {
		return nil, err
	}
	minBid := new(big.Int).Add(a.HighestBid, step)
	if amount.Cmp(minBid) < 0 {
		return nil, ErrBidIncrementTooSmall
	}
	available, err := e.state.Balance(bidder, a.Token)
	if err != nil {
		return nil, err
	}
	if available.Cmp(amount) < 0 {
		return nil, ErrInsufficientFunds
	}
	auth, err := e.authority(a)
	if err != nil {
		return nil, err
	}
	displaced := a.HighestBidder
	displacedBid := new(big.Int).Set(a.HighestBid)
	if a.HasBids() {
		if err := e.state.VaultWithdraw(a.Address, displaced, a.Token, displacedBid, auth); err != nil {
			return nil, err
		}
	}
	if err := e.state.VaultDeposit(a.Address, bidder, a.Token, amount); err != nil {
		return nil, err
	}
	a.HighestBidder = bidder
	a.HighestBid = new(big.Int).Set(amount)
	remaining := a.EndTime - now
	if remaining < SnipeThreshold && a.TotalExtended < MaxSnipeExtension {
		extension := MaxSnipeExtension - a.TotalExtended
		if SnipeExtension < extension {
			extension = SnipeExtension
		}
		endTime, err := fees.CheckedAddInt64(a.EndTime, extension)
		if err != nil {
			return nil, err
		}
		a.EndTime = endTime
		a.TotalExtended += extension
	}
	if err := e.state.AuctionPut(a); err != nil {
		return nil, err
	}
	e.emit(NewBidPlacedEvent(a, displaced))
	return a.Clone(), nil
}

// Claim settles an ended auction in favour of the host: the winning bid is
// split into net and platform fee and the record closes. Host-only; fails
// while the auction is live or when only the sentinel bid exists.
func (e *Engine) Claim(host [20]byte, auctionID uint64, caller, treasury [20]byte) error {
	a, err := e.loadAuction(host, auctionID)
	if err != nil {
		return err
	}
	if caller != a.Host {
		return ErrUnauthorized
	}
	if e.now() <= a.EndTime {
		return ErrAuctionNotEnded
	}
	if !a.HasBids() {
		return ErrNoBidsPlaced
	}
	if err := e.policy.RequireTreasury(treasury); err != nil {
		return err
	}
	settlement, err := e.policy.SettleGross(a.HighestBid)
	if err != nil {
		return err
	}
	auth, err := e.authority(a)
	if err != nil {
		return err
	}
	if settlement.Net.Sign() > 0 {
		if err := e.state.VaultWithdraw(a.Address, a.Host, a.Token, settlement.Net, auth); err != nil {
			return err
		}
	}
	if settlement.Fee.Sign() > 0 {
		if err := e.state.VaultWithdraw(a.Address, treasury, a.Token, settlement.Fee, auth); err != nil {
			return err
		}
	}
	if err := e.closeRecord(a); err != nil {
		return err
	}
	e.emit(NewClaimedEvent(a, settlement.Fee))
	return nil
}

// Cancel destroys an auction that never attracted a bid. Once any bid lands
// the auction can only run to completion and be claimed.
func (e *Engine) Cancel(host [20]byte, auctionID uint64, caller [20]byte) error {
	a, err := e.loadAuction(host, auctionID)
	if err != nil {
		return err
	}
	if caller != a.Host {
		return ErrUnauthorized
	}
	if a.HasBids() {
		return ErrAuctionHasBids
	}
	if err := e.closeRecord(a); err != nil {
		return err
	}
	e.emit(NewCancelledEvent(a))
	return nil
}

// Get returns the stored auction for a host and sequence number.
func (e *Engine) Get(host [20]byte, auctionID uint64) (*DateAuction, error) {
	a, err := e.loadAuction(host, auctionID)
	if err != nil {
		return nil, err
	}
	return a.Clone(), nil
}

// closeRecord destroys a terminal record and its vault, returning the opening
// bond to the host.
func (e *Engine) closeRecord(a *DateAuction) error {
	if err := e.state.VaultClose(a.Address); err != nil {
		return err
	}
	if err := e.state.BondRefund(a.Address, a.Host, a.Token); err != nil {
		return err
	}
	return e.state.AuctionDelete(a.Address)
}
