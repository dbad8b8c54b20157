package state

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"matchvault/native/auction"
	"matchvault/native/bounty"
	"matchvault/native/escrow"
	"matchvault/native/profile"
)

func profileKey(authority [20]byte) []byte {
	return storageKey(profilePrefix, authority[:])
}

func escrowKey(addr [20]byte) []byte {
	return storageKey(escrowPrefix, addr[:])
}

func auctionKey(addr [20]byte) []byte {
	return storageKey(auctionPrefix, addr[:])
}

func bountyKey(addr [20]byte) []byte {
	return storageKey(bountyPrefix, addr[:])
}

// storedProfile is the RLP layout of a user profile. RLP has no nil pointers,
// so the optional gate is flattened behind a presence flag.
type storedProfile struct {
	Authority    [20]byte
	DmPrice      *big.Int
	HasGate      bool
	GateToken    string
	GateMin      *big.Int
	AuctionCount uint64
	Salt         uint8
}

func newStoredProfile(p *profile.UserProfile) *storedProfile {
	stored := &storedProfile{
		Authority:    p.Authority,
		DmPrice:      big.NewInt(0),
		GateMin:      big.NewInt(0),
		AuctionCount: p.AuctionCount,
		Salt:         p.Salt,
	}
	if p.DmPrice != nil {
		stored.DmPrice = new(big.Int).Set(p.DmPrice)
	}
	if p.Gate != nil {
		stored.HasGate = true
		stored.GateToken = p.Gate.Token
		if p.Gate.MinBalance != nil {
			stored.GateMin = new(big.Int).Set(p.Gate.MinBalance)
		}
	}
	return stored
}

func (s *storedProfile) toProfile() (*profile.UserProfile, error) {
	if s == nil {
		return nil, fmt.Errorf("state: nil profile record")
	}
	out := &profile.UserProfile{
		Authority:    s.Authority,
		DmPrice:      big.NewInt(0),
		AuctionCount: s.AuctionCount,
		Salt:         s.Salt,
	}
	if s.DmPrice != nil {
		out.DmPrice = new(big.Int).Set(s.DmPrice)
	}
	if s.HasGate {
		gate := &profile.AssetGate{Token: s.GateToken, MinBalance: big.NewInt(0)}
		if s.GateMin != nil {
			gate.MinBalance = new(big.Int).Set(s.GateMin)
		}
		out.Gate = gate
	}
	return profile.SanitizeProfile(out)
}

// ProfilePut persists a user profile keyed by its authority.
func (m *Manager) ProfilePut(p *profile.UserProfile) error {
	sanitized, err := profile.SanitizeProfile(p)
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(newStoredProfile(sanitized))
	if err != nil {
		return err
	}
	return m.db.Put(profileKey(sanitized.Authority), encoded)
}

// ProfileGet loads the profile for an authority.
func (m *Manager) ProfileGet(authority [20]byte) (*profile.UserProfile, bool) {
	data, err := m.db.Get(profileKey(authority))
	if err != nil || len(data) == 0 {
		return nil, false
	}
	stored := new(storedProfile)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false
	}
	record, err := stored.toProfile()
	if err != nil {
		return nil, false
	}
	return record, true
}

// storedEscrow is the RLP layout of a message escrow. The expiry rides as a
// big integer because RLP only carries unsigned integers natively.
type storedEscrow struct {
	Address   [20]byte
	Sender    [20]byte
	Recipient [20]byte
	Token     string
	Amount    *big.Int
	Expiry    *big.Int
	Status    uint8
	Salt      uint8
}

func newStoredEscrow(e *escrow.MessageEscrow) *storedEscrow {
	stored := &storedEscrow{
		Address:   e.Address,
		Sender:    e.Sender,
		Recipient: e.Recipient,
		Token:     e.Token,
		Amount:    big.NewInt(0),
		Expiry:    big.NewInt(e.Expiry),
		Status:    uint8(e.Status),
		Salt:      e.Salt,
	}
	if e.Amount != nil {
		stored.Amount = new(big.Int).Set(e.Amount)
	}
	return stored
}

func (s *storedEscrow) toEscrow() (*escrow.MessageEscrow, error) {
	if s == nil {
		return nil, fmt.Errorf("state: nil escrow record")
	}
	out := &escrow.MessageEscrow{
		Address:   s.Address,
		Sender:    s.Sender,
		Recipient: s.Recipient,
		Token:     s.Token,
		Amount:    big.NewInt(0),
		Status:    escrow.Status(s.Status),
		Salt:      s.Salt,
	}
	if s.Amount != nil {
		out.Amount = new(big.Int).Set(s.Amount)
	}
	if s.Expiry != nil {
		out.Expiry = s.Expiry.Int64()
	}
	return escrow.SanitizeEscrow(out)
}

// EscrowPut persists a message escrow keyed by its record address.
func (m *Manager) EscrowPut(e *escrow.MessageEscrow) error {
	sanitized, err := escrow.SanitizeEscrow(e)
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(newStoredEscrow(sanitized))
	if err != nil {
		return err
	}
	return m.db.Put(escrowKey(sanitized.Address), encoded)
}

// EscrowGet loads the escrow stored at a record address.
func (m *Manager) EscrowGet(addr [20]byte) (*escrow.MessageEscrow, bool) {
	data, err := m.db.Get(escrowKey(addr))
	if err != nil || len(data) == 0 {
		return nil, false
	}
	stored := new(storedEscrow)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false
	}
	record, err := stored.toEscrow()
	if err != nil {
		return nil, false
	}
	return record, true
}

// EscrowDelete destroys the escrow stored at a record address.
func (m *Manager) EscrowDelete(addr [20]byte) error {
	return m.db.Delete(escrowKey(addr))
}

// storedAuction is the RLP layout of a date auction.
type storedAuction struct {
	Address       [20]byte
	Host          [20]byte
	AuctionID     uint64
	Token         string
	HighestBidder [20]byte
	HighestBid    *big.Int
	EndTime       *big.Int
	TotalExtended *big.Int
	Salt          uint8
}

func newStoredAuction(a *auction.DateAuction) *storedAuction {
	stored := &storedAuction{
		Address:       a.Address,
		Host:          a.Host,
		AuctionID:     a.AuctionID,
		Token:         a.Token,
		HighestBidder: a.HighestBidder,
		HighestBid:    big.NewInt(0),
		EndTime:       big.NewInt(a.EndTime),
		TotalExtended: big.NewInt(a.TotalExtended),
		Salt:          a.Salt,
	}
	if a.HighestBid != nil {
		stored.HighestBid = new(big.Int).Set(a.HighestBid)
	}
	return stored
}

func (s *storedAuction) toAuction() (*auction.DateAuction, error) {
	if s == nil {
		return nil, fmt.Errorf("state: nil auction record")
	}
	out := &auction.DateAuction{
		Address:       s.Address,
		Host:          s.Host,
		AuctionID:     s.AuctionID,
		Token:         s.Token,
		HighestBidder: s.HighestBidder,
		HighestBid:    big.NewInt(0),
		Salt:          s.Salt,
	}
	if s.HighestBid != nil {
		out.HighestBid = new(big.Int).Set(s.HighestBid)
	}
	if s.EndTime != nil {
		out.EndTime = s.EndTime.Int64()
	}
	if s.TotalExtended != nil {
		out.TotalExtended = s.TotalExtended.Int64()
	}
	return auction.SanitizeAuction(out)
}

// AuctionPut persists an auction keyed by its record address.
func (m *Manager) AuctionPut(a *auction.DateAuction) error {
	sanitized, err := auction.SanitizeAuction(a)
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(newStoredAuction(sanitized))
	if err != nil {
		return err
	}
	return m.db.Put(auctionKey(sanitized.Address), encoded)
}

// AuctionGet loads the auction stored at a record address.
func (m *Manager) AuctionGet(addr [20]byte) (*auction.DateAuction, bool) {
	data, err := m.db.Get(auctionKey(addr))
	if err != nil || len(data) == 0 {
		return nil, false
	}
	stored := new(storedAuction)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false
	}
	record, err := stored.toAuction()
	if err != nil {
		return nil, false
	}
	return record, true
}

// AuctionDelete destroys the auction stored at a record address.
func (m *Manager) AuctionDelete(addr [20]byte) error {
	return m.db.Delete(auctionKey(addr))
}

// storedBounty is the RLP layout of a bounty vault record.
type storedBounty struct {
	Address      [20]byte
	Issuer       [20]byte
	Token        string
	RewardAmount *big.Int
	Status       uint8
	Salt         uint8
}

func newStoredBounty(b *bounty.BountyVault) *storedBounty {
	stored := &storedBounty{
		Address:      b.Address,
		Issuer:       b.Issuer,
		Token:        b.Token,
		RewardAmount: big.NewInt(0),
		Status:       uint8(b.Status),
		Salt:         b.Salt,
	}
	if b.RewardAmount != nil {
		stored.RewardAmount = new(big.Int).Set(b.RewardAmount)
	}
	return stored
}

func (s *storedBounty) toBounty() (*bounty.BountyVault, error) {
	if s == nil {
		return nil, fmt.Errorf("state: nil bounty record")
	}
	out := &bounty.BountyVault{
		Address:      s.Address,
		Issuer:       s.Issuer,
		Token:        s.Token,
		RewardAmount: big.NewInt(0),
		Status:       bounty.Status(s.Status),
		Salt:         s.Salt,
	}
	if s.RewardAmount != nil {
		out.RewardAmount = new(big.Int).Set(s.RewardAmount)
	}
	return bounty.SanitizeBounty(out)
}

// BountyPut persists a bounty keyed by its record address.
func (m *Manager) BountyPut(b *bounty.BountyVault) error {
	sanitized, err := bounty.SanitizeBounty(b)
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(newStoredBounty(sanitized))
	if err != nil {
		return err
	}
	return m.db.Put(bountyKey(sanitized.Address), encoded)
}

// BountyGet loads the bounty stored at a record address.
func (m *Manager) BountyGet(addr [20]byte) (*bounty.BountyVault, bool) {
	data, err := m.db.Get(bountyKey(addr))
	if err != nil || len(data) == 0 {
		return nil, false
	}
	stored := new(storedBounty)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false
	}
	record, err := stored.toBounty()
	if err != nil {
		return nil, false
	}
	return record, true
}

// BountyDelete destroys the bounty stored at a record address.
func (m *Manager) BountyDelete(addr [20]byte) error {
	return m.db.Delete(bountyKey(addr))
}
