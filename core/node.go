package core

import (
	"log/slog"
	"math/big"
	"sync"

	"matchvault/core/events"
	"matchvault/core/state"
	"matchvault/core/types"
	"matchvault/native/auction"
	"matchvault/native/bounty"
	"matchvault/native/escrow"
	"matchvault/native/fees"
	"matchvault/native/profile"
	"matchvault/storage"
)

// Node owns the custody state and serialises every mutating operation behind
// one mutex. Engines are constructed per call against the shared state
// manager; emitted events land in the node's append-only feed.
type Node struct {
	db      storage.Database
	manager *state.Manager
	logger  *slog.Logger

	policy     fees.Policy
	recordBond *big.Int

	stateMu  sync.Mutex
	eventsMu sync.RWMutex
	events   []*types.Event
}

// NewNode opens the custody node over the supplied database.
func NewNode(db storage.Database, policy fees.Policy, recordBond *big.Int) (*Node, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	bond := big.NewInt(0)
	if recordBond != nil && recordBond.Sign() > 0 {
		bond = new(big.Int).Set(recordBond)
	}
	return &Node{
		db:         db,
		manager:    state.NewManager(db),
		logger:     slog.Default(),
		policy:     policy,
		recordBond: bond,
	}, nil
}

// SetLogger overrides the node logger.
func (n *Node) SetLogger(logger *slog.Logger) {
	if logger != nil {
		n.logger = logger
	}
}

// FeePolicy returns the process-wide settlement policy.
func (n *Node) FeePolicy() fees.Policy { return n.policy }

// AppendEvent records an emitted event in the node feed.
func (n *Node) AppendEvent(evt *types.Event) {
	if evt == nil {
		return
	}
	n.eventsMu.Lock()
	n.events = append(n.events, evt)
	n.eventsMu.Unlock()
	n.logger.Info("custody event", "type", evt.Type)
}

// Events returns a snapshot of the event feed starting at offset.
func (n *Node) Events(offset int) []*types.Event {
	n.eventsMu.RLock()
	defer n.eventsMu.RUnlock()
	if offset < 0 {
		offset = 0
	}
	if offset >= len(n.events) {
		return nil
	}
	out := make([]*types.Event, len(n.events)-offset)
	copy(out, n.events[offset:])
	return out
}

type custodyEventEmitter struct {
	node *Node
}

type eventWithPayload interface {
	Event() *types.Event
}

func (e custodyEventEmitter) Emit(evt events.Event) {
	if e.node == nil || evt == nil {
		return
	}
	payload, ok := evt.(eventWithPayload)
	if !ok {
		return
	}
	e.node.AppendEvent(payload.Event())
}

func (n *Node) newProfileEngine() *profile.Engine {
	engine := profile.NewEngine()
	engine.SetState(n.manager)
	engine.SetEmitter(custodyEventEmitter{node: n})
	return engine
}

func (n *Node) newEscrowEngine() *escrow.Engine {
	engine := escrow.NewEngine()
	engine.SetState(n.manager)
	engine.SetEmitter(custodyEventEmitter{node: n})
	engine.SetFeePolicy(n.policy)
	engine.SetRecordBond(n.recordBond)
	return engine
}

func (n *Node) newAuctionEngine() *auction.Engine {
	engine := auction.NewEngine()
	engine.SetState(n.manager)
	engine.SetEmitter(custodyEventEmitter{node: n})
	engine.SetFeePolicy(n.policy)
	engine.SetRecordBond(n.recordBond)
	return engine
}

func (n *Node) newBountyEngine() *bounty.Engine {
	engine := bounty.NewEngine()
	engine.SetState(n.manager)
	engine.SetEmitter(custodyEventEmitter{node: n})
	engine.SetFeePolicy(n.policy)
	engine.SetRecordBond(n.recordBond)
	return engine
}

// --- Profiles ---

func (n *Node) ProfileCreate(authority [20]byte, dmPrice *big.Int, gate *profile.AssetGate) (*profile.UserProfile, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newProfileEngine().Create(authority, dmPrice, gate)
}

func (n *Node) ProfileUpdate(authority [20]byte, dmPrice *big.Int, gate *profile.GateUpdate) (*profile.UserProfile, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newProfileEngine().Update(authority, dmPrice, gate)
}

func (n *Node) ProfileGet(authority [20]byte) (*profile.UserProfile, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newProfileEngine().Get(authority)
}

// --- DM escrows ---

func (n *Node) DepositForDm(sender, recipient [20]byte, token string, amount *big.Int, gateToken string) (*escrow.MessageEscrow, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newEscrowEngine().DepositForDm(sender, recipient, token, amount, gateToken)
}

func (n *Node) AcceptDm(sender, recipient, caller, treasury [20]byte) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newEscrowEngine().Accept(sender, recipient, caller, treasury)
}

func (n *Node) DeclineDm(sender, recipient, caller [20]byte) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newEscrowEngine().Decline(sender, recipient, caller)
}

func (n *Node) RefundDm(sender, recipient, caller [20]byte) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newEscrowEngine().Refund(sender, recipient, caller)
}

func (n *Node) EscrowGet(sender, recipient [20]byte) (*escrow.MessageEscrow, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newEscrowEngine().Get(sender, recipient)
}

// --- Auctions ---

func (n *Node) AuctionCreate(host [20]byte, token string, startPrice *big.Int, duration int64) (*auction.DateAuction, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newAuctionEngine().Create(host, token, startPrice, duration)
}

func (n *Node) PlaceBid(host [20]byte, auctionID uint64, bidder, previousBidder [20]byte, amount *big.Int) (*auction.DateAuction, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newAuctionEngine().PlaceBid(host, auctionID, bidder, previousBidder, amount)
}

func (n *Node) ClaimAuction(host [20]byte, auctionID uint64, caller, treasury [20]byte) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newAuctionEngine().Claim(host, auctionID, caller, treasury)
}

func (n *Node) CancelAuction(host [20]byte, auctionID uint64, caller [20]byte) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newAuctionEngine().Cancel(host, auctionID, caller)
}

func (n *Node) AuctionGet(host [20]byte, auctionID uint64) (*auction.DateAuction, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newAuctionEngine().Get(host, auctionID)
}

// --- Bounties ---

func (n *Node) BountyCreate(issuer [20]byte, token string, reward *big.Int) (*bounty.BountyVault, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newBountyEngine().Create(issuer, token, reward)
}

func (n *Node) BountyUpdate(issuer, caller [20]byte, newReward *big.Int) (*bounty.BountyVault, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newBountyEngine().Update(issuer, caller, newReward)
}

func (n *Node) PayoutReferral(issuer, caller, matchmaker, treasury [20]byte) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newBountyEngine().PayoutReferral(issuer, caller, matchmaker, treasury)
}

func (n *Node) BountyCancel(issuer, caller [20]byte) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newBountyEngine().Cancel(issuer, caller)
}

func (n *Node) BountyGet(issuer [20]byte) (*bounty.BountyVault, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newBountyEngine().Get(issuer)
}

// --- Ledger ---

func (n *Node) Balance(addr [20]byte, token string) (*big.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.manager.Balance(addr, token)
}

// Mint credits a ledger balance outside any custody flow. Exposed for genesis
// funding and local development.
func (n *Node) Mint(addr [20]byte, token string, amount *big.Int) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.manager.Credit(addr, token, amount)
}

func (n *Node) Transfer(from, to [20]byte, token string, amount *big.Int) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.manager.Transfer(from, to, token, amount)
}
