package auction

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"matchvault/core/events"
	"matchvault/core/types"
	"matchvault/native/fees"
	"matchvault/native/profile"
)

type mockVault struct {
	token     string
	authority [32]byte
	balance   *big.Int
}

type mockState struct {
	auctions map[[20]byte]*DateAuction
	profiles map[[20]byte]*profile.UserProfile
	balances map[string]map[[20]byte]*big.Int
	vaults   map[[20]byte]*mockVault
	bonds    map[[20]byte]*big.Int
}

func newMockState() *mockState {
	return &mockState{
		auctions: make(map[[20]byte]*DateAuction),
		profiles: make(map[[20]byte]*profile.UserProfile),
		balances: make(map[string]map[[20]byte]*big.Int),
		vaults:   make(map[[20]byte]*mockVault),
		bonds:    make(map[[20]byte]*big.Int),
	}
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func (m *mockState) AuctionPut(a *DateAuction) error {
	sanitized, err := SanitizeAuction(a)
	if err != nil {
		return err
	}
	m.auctions[sanitized.Address] = sanitized.Clone()
	return nil
}

func (m *mockState) AuctionGet(addr [20]byte) (*DateAuction, bool) {
	a, ok := m.auctions[addr]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

func (m *mockState) AuctionDelete(addr [20]byte) error {
	delete(m.auctions, addr)
	return nil
}

func (m *mockState) ProfilePut(p *profile.UserProfile) error {
	m.profiles[p.Authority] = p.Clone()
	return nil
}

func (m *mockState) ProfileGet(authority [20]byte) (*profile.UserProfile, bool) {
	prof, ok := m.profiles[authority]
	if !ok {
		return nil, false
	}
	return prof.Clone(), true
}

func (m *mockState) Balance(addr [20]byte, token string) (*big.Int, error) {
	if ledger, ok := m.balances[token]; ok {
		if amt, ok := ledger[addr]; ok && amt != nil {
			return new(big.Int).Set(amt), nil
		}
	}
	return big.NewInt(0), nil
}

func (m *mockState) setBalance(addr [20]byte, token string, amt *big.Int) {
	if _, ok := m.balances[token]; !ok {
		m.balances[token] = make(map[[20]byte]*big.Int)
	}
	m.balances[token][addr] = new(big.Int).Set(amt)
}

func (m *mockState) credit(addr [20]byte, token string, amt *big.Int) {
	current, _ := m.Balance(addr, token)
	m.setBalance(addr, token, new(big.Int).Add(current, amt))
}

func (m *mockState) debit(addr [20]byte, token string, amt *big.Int) error {
	current, _ := m.Balance(addr, token)
	if current.Cmp(amt) < 0 {
		return fmt.Errorf("insufficient balance")
	}
	m.setBalance(addr, token, new(big.Int).Sub(current, amt))
	return nil
}

func (m *mockState) VaultOpen(record [20]byte, token string, authority [32]byte) error {
	if _, ok := m.vaults[record]; ok {
		return fmt.Errorf("vault already open")
	}
	m.vaults[record] = &mockVault{token: token, authority: authority, balance: big.NewInt(0)}
	return nil
}

func (m *mockState) VaultDeposit(record, from [20]byte, token string, amount *big.Int) error {
	vault, ok := m.vaults[record]
	if !ok || vault.token != token {
		return fmt.Errorf("vault mismatch")
	}
	if err := m.debit(from, token, amount); err != nil {
		return err
	}
	vault.balance = new(big.Int).Add(vault.balance, amount)
	return nil
}

func (m *mockState) VaultWithdraw(record, to [20]byte, token string, amount *big.Int, authority [32]byte) error {
	vault, ok := m.vaults[record]
	if !ok || vault.token != token {
		return fmt.Errorf("vault mismatch")
	}
	if vault.authority != authority {
		return fmt.Errorf("authority mismatch")
	}
	if vault.balance.Cmp(amount) < 0 {
		return fmt.Errorf("vault underfunded")
	}
	vault.balance = new(big.Int).Sub(vault.balance, amount)
	m.credit(to, token, amount)
	return nil
}

func (m *mockState) VaultBalance(record [20]byte, token string) (*big.Int, error) {
	vault, ok := m.vaults[record]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(vault.balance), nil
}

func (m *mockState) VaultClose(record [20]byte) error {
	vault, ok := m.vaults[record]
	if !ok {
		return fmt.Errorf("vault not open")
	}
	if vault.balance.Sign() != 0 {
		return fmt.Errorf("vault not empty")
	}
	delete(m.vaults, record)
	return nil
}

func (m *mockState) BondDeposit(record, from [20]byte, token string, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if err := m.debit(from, token, amount); err != nil {
		return err
	}
	m.bonds[record] = new(big.Int).Set(amount)
	return nil
}

func (m *mockState) BondRefund(record, to [20]byte, token string) error {
	bond, ok := m.bonds[record]
	if !ok {
		return nil
	}
	m.credit(to, token, bond)
	delete(m.bonds, record)
	return nil
}

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(evt events.Event) {
	c.events = append(c.events, evt)
}

func (c *capturingEmitter) typesEvents() []*types.Event {
	out := make([]*types.Event, 0, len(c.events))
	for _, evt := range c.events {
		if wrapper, ok := evt.(auctionEvent); ok && wrapper.evt != nil {
			out = append(out, wrapper.evt)
		}
	}
	return out
}

const testToken = "MVT"

func testPolicy() fees.Policy {
	return fees.Policy{Treasury: newTestAddress(0xCC), FeeBps: 100}
}

func newTestEngine(state *mockState) *Engine {
	engine := NewEngine()
	engine.SetState(state)
	engine.SetFeePolicy(testPolicy())
	engine.SetNowFunc(func() int64 { return 0 })
	return engine
}

func seedHost(t *testing.T, state *mockState, host [20]byte) {
	t.Helper()
	prof := &profile.UserProfile{Authority: host, DmPrice: big.NewInt(0)}
	if err := state.ProfilePut(prof); err != nil {
		t.Fatalf("put profile: %v", err)
	}
}

func TestCreateInitialisesSentinel(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	emitter := &capturingEmitter{}
	engine.SetEmitter(emitter)

	host := newTestAddress(0x01)
	seedHost(t, state, host)

	a, err := engine.Create(host, testToken, big.NewInt(100), 600)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.HighestBidder != host {
		t.Fatalf("expected host sentinel bidder")
	}
	if a.HighestBid.String() != "100" || a.EndTime != 600 || a.AuctionID != 0 {
		t.Fatalf("unexpected auction: %+v", a)
	}
	prof, _ := state.ProfileGet(host)
	if prof.AuctionCount != 1 {
		t.Fatalf("expected counter advanced, got %d", prof.AuctionCount)
	}
	second, err := engine.Create(host, testToken, big.NewInt(100), 600)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if second.AuctionID != 1 || second.Address == a.Address {
		t.Fatalf("expected distinct sequence and address")
	}
}

func TestCreateRequiresProfile(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	if _, err := engine.Create(newTestAddress(0x02), testToken, big.NewInt(100), 600); err != ErrHostProfileRequired {
		t.Fatalf("expected ErrHostProfileRequired, got %v", err)
	}
}

func TestPlaceBidRefundsDisplacedBidder(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)

	host := newTestAddress(0x03)
	alice := newTestAddress(0x04)
	bob := newTestAddress(0x05)
	seedHost(t, state, host)
	state.setBalance(alice, testToken, big.NewInt(1_000))
	state.setBalance(bob, testToken, big.NewInt(1_000))

	a, err := engine.Create(host, testToken, big.NewInt(100), 600)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := engine.PlaceBid(host, a.AuctionID, alice, host, big.NewInt(120)); err != nil {
		t.Fatalf("first bid: %v", err)
	}
	vaultBalance, _ := state.VaultBalance(a.Address, testToken)
	if vaultBalance.String() != "120" {
		t.Fatalf("expected vault 120, got %s", vaultBalance)
	}

	if _, err := engine.PlaceBid(host, a.AuctionID, bob, alice, big.NewInt(200)); err != nil {
		t.Fatalf("second bid: %v", err)
	}
	aliceBalance, _ := state.Balance(alice, testToken)
	if aliceBalance.String() != "1000" {
		t.Fatalf("expected alice fully refunded, got %s", aliceBalance)
	}
	vaultBalance, _ = state.VaultBalance(a.Address, testToken)
	if vaultBalance.String() != "200" {
		t.Fatalf("expected vault to hold only the standing bid, got %s", vaultBalance)
	}
}

func TestPlaceBidValidatesPreviousBidder(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)

	host := newTestAddress(0x06)
	alice := newTestAddress(0x07)
	bob := newTestAddress(0x08)
	seedHost(t, state, host)
	state.setBalance(alice, testToken, big.NewInt(1_000))
	state.setBalance(bob, testToken, big.NewInt(1_000))

	a, err := engine.Create(host, testToken, big.NewInt(100), 600)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := engine.PlaceBid(host, a.AuctionID, alice, host, big.NewInt(120)); err != nil {
		t.Fatalf("first bid: %v", err)
	}
	// Bob still believes the host is the highest bidder.
	if _, err := engine.PlaceBid(host, a.AuctionID, bob, host, big.NewInt(200)); err != ErrInvalidPreviousBidder {
		t.Fatalf("expected ErrInvalidPreviousBidder, got %v", err)
	}
}

func TestBidIncrementScenario(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)

	host := newTestAddress(0x09)
	alice := newTestAddress(0x0A)
	bob := newTestAddress(0x0B)
	carol := newTestAddress(0x0C)
	seedHost(t, state, host)
	for _, addr := range [][20]byte{alice, bob, carol} {
		state.setBalance(addr, testToken, big.NewInt(10_000))
	}

	a, err := engine.Create(host, testToken, big.NewInt(100), 600)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := engine.PlaceBid(host, a.AuctionID, alice, host, big.NewInt(120)); err != nil {
		t.Fatalf("bid 120: %v", err)
	}
	if _, err := engine.PlaceBid(host, a.AuctionID, bob, alice, big.NewInt(120)); err != ErrBidTooLow {
		t.Fatalf("expected ErrBidTooLow for equal bid, got %v", err)
	}

	engine.SetNowFunc(func() int64 { return 590 })
	if _, err := engine.PlaceBid(host, a.AuctionID, bob, alice, big.NewInt(125)); err != ErrBidIncrementTooSmall {
		t.Fatalf("expected ErrBidIncrementTooSmall for 125, got %v", err)
	}
	stored, _ := engine.Get(host, a.AuctionID)
	if stored.HighestBid.String() != "120" || stored.EndTime != 600 {
		t.Fatalf("expected state unchanged after rejected bid, got %+v", stored)
	}

	engine.SetNowFunc(func() int64 { return 595 })
	updated, err := engine.PlaceBid(host, a.AuctionID, carol, alice, big.NewInt(130))
	if err != nil {
		t.Fatalf("bid 130: %v", err)
	}
	if updated.EndTime != 900 {
		t.Fatalf("expected snipe extension to 900, got %d", updated.EndTime)
	}
	if updated.TotalExtended != 300 {
		t.Fatalf("expected 300s recorded, got %d", updated.TotalExtended)
	}
}

func TestSnipeExtensionIsCapped(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)

	host := newTestAddress(0x0D)
	seedHost(t, state, host)

	bidders := make([][20]byte, 0, 16)
	for i := 0; i < 16; i++ {
		addr := newTestAddress(byte(0x20 + i))
		state.setBalance(addr, testToken, big.NewInt(1_000_000))
		bidders = append(bidders, addr)
	}

	a, err := engine.Create(host, testToken, big.NewInt(100), 600)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	previous := host
	bid := big.NewInt(100)
	for i, bidder := range bidders {
		// Every bid lands one second before the current deadline.
		current, err := engine.Get(host, a.AuctionID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		deadline := current.EndTime
		engine.SetNowFunc(func() int64 { return deadline - 1 })

		bid = new(big.Int).Add(bid, big.NewInt(int64(100*(i+1))))
		if _, err := engine.PlaceBid(host, a.AuctionID, bidder, previous, bid); err != nil {
			t.Fatalf("bid %d: %v", i, err)
		}
		previous = bidder
	}

	final, _ := engine.Get(host, a.AuctionID)
	if final.TotalExtended > MaxSnipeExtension {
		t.Fatalf("cumulative extension %d exceeds cap", final.TotalExtended)
	}
	if final.EndTime > 600+MaxSnipeExtension {
		t.Fatalf("end time %d exceeds capped deadline", final.EndTime)
	}
	if final.TotalExtended != MaxSnipeExtension {
		t.Fatalf("expected cap reached, got %d", final.TotalExtended)
	}
}

func TestClaimSettlesToHost(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	emitter := &capturingEmitter{}
	engine.SetEmitter(emitter)

	host := newTestAddress(0x0E)
	alice := newTestAddress(0x0F)
	treasury := testPolicy().Treasury
	seedHost(t, state, host)
	state.setBalance(alice, testToken, big.NewInt(10_000))

	a, err := engine.Create(host, testToken, big.NewInt(100), 600)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := engine.PlaceBid(host, a.AuctionID, alice, host, big.NewInt(1_000)); err != nil {
		t.Fatalf("bid: %v", err)
	}

	if err := engine.Claim(host, a.AuctionID, host, treasury); err != ErrAuctionNotEnded {
		t.Fatalf("expected ErrAuctionNotEnded, got %v", err)
	}
	engine.SetNowFunc(func() int64 { return 601 })
	if err := engine.Claim(host, a.AuctionID, alice, treasury); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := engine.Claim(host, a.AuctionID, host, newTestAddress(0xDD)); !errors.Is(err, fees.ErrInvalidTreasury) {
		t.Fatalf("expected ErrInvalidTreasury, got %v", err)
	}
	if err := engine.Claim(host, a.AuctionID, host, treasury); err != nil {
		t.Fatalf("claim: %v", err)
	}

	hostBalance, _ := state.Balance(host, testToken)
	if hostBalance.String() != "990" {
		t.Fatalf("expected host 990, got %s", hostBalance)
	}
	treasuryBalance, _ := state.Balance(treasury, testToken)
	if treasuryBalance.String() != "10" {
		t.Fatalf("expected treasury 10, got %s", treasuryBalance)
	}
	if _, err := engine.Get(host, a.AuctionID); err != ErrAuctionNotFound {
		t.Fatalf("expected record destroyed, got %v", err)
	}

	evts := emitter.typesEvents()
	last := evts[len(evts)-1]
	if last.Type != EventTypeAuctionClaimed {
		t.Fatalf("expected auction.claimed, got %s", last.Type)
	}
	if last.Attributes["amount"] != "1000" || last.Attributes["fee"] != "10" {
		t.Fatalf("expected gross amount and fee, got %v", last.Attributes)
	}
}

func TestClaimWithoutBidsFails(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)

	host := newTestAddress(0x10)
	seedHost(t, state, host)
	a, err := engine.Create(host, testToken, big.NewInt(100), 600)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	engine.SetNowFunc(func() int64 { return 601 })
	if err := engine.Claim(host, a.AuctionID, host, testPolicy().Treasury); err != ErrNoBidsPlaced {
		t.Fatalf("expected ErrNoBidsPlaced, got %v", err)
	}
}

func TestCancelOnlyWithoutBids(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)

	host := newTestAddress(0x11)
	alice := newTestAddress(0x12)
	seedHost(t, state, host)
	state.setBalance(alice, testToken, big.NewInt(1_000))

	a, err := engine.Create(host, testToken, big.NewInt(100), 600)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := engine.PlaceBid(host, a.AuctionID, alice, host, big.NewInt(120)); err != nil {
		t.Fatalf("bid: %v", err)
	}
	if err := engine.Cancel(host, a.AuctionID, host); err != ErrAuctionHasBids {
		t.Fatalf("expected ErrAuctionHasBids, got %v", err)
	}
	// Even after the deadline a bid makes cancellation impossible.
	engine.SetNowFunc(func() int64 { return 10_000 })
	if err := engine.Cancel(host, a.AuctionID, host); err != ErrAuctionHasBids {
		t.Fatalf("expected ErrAuctionHasBids after end, got %v", err)
	}

	b, err := engine.Create(host, testToken, big.NewInt(100), 600)
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if err := engine.Cancel(host, b.AuctionID, host); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := engine.Get(host, b.AuctionID); err != ErrAuctionNotFound {
		t.Fatalf("expected record destroyed, got %v", err)
	}
}

func TestPlaceBidAfterEndFails(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)

	host := newTestAddress(0x13)
	alice := newTestAddress(0x14)
	seedHost(t, state, host)
	state.setBalance(alice, testToken, big.NewInt(1_000))

	a, err := engine.Create(host, testToken, big.NewInt(100), 600)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	engine.SetNowFunc(func() int64 { return 600 })
	if _, err := engine.PlaceBid(host, a.AuctionID, alice, host, big.NewInt(120)); err != ErrAuctionEnded {
		t.Fatalf("expected ErrAuctionEnded, got %v", err)
	}
}
