package escrow

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
	escrows  map[[20]byte]*MessageEscrow
	profiles map[[20]byte]*profile.UserProfile
	balances map[string]map[[20]byte]*big.Int
	vaults   map[[20]byte]*mockVault
	bonds    map[[20]byte]*big.Int
}

func newMockState() *mockState {
	return &mockState{
		escrows:  make(map[[20]byte]*MessageEscrow),
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

func (m *mockState) EscrowPut(e *MessageEscrow) error {
	sanitized, err := SanitizeEscrow(e)
	if err != nil {
		return err
	}
	m.escrows[sanitized.Address] = sanitized.Clone()
	return nil
}

func (m *mockState) EscrowGet(addr [20]byte) (*MessageEscrow, bool) {
	esc, ok := m.escrows[addr]
	if !ok {
		return nil, false
	}
	return esc.Clone(), true
}

func (m *mockState) EscrowDelete(addr [20]byte) error {
	delete(m.escrows, addr)
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
		if wrapper, ok := evt.(escrowEvent); ok && wrapper.evt != nil {
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
	engine.SetNowFunc(func() int64 { return 1_700_000_000 })
	return engine
}

func seedProfile(t *testing.T, state *mockState, authority [20]byte, dmPrice int64, gate *profile.AssetGate) {
	t.Helper()
	prof := &profile.UserProfile{Authority: authority, DmPrice: big.NewInt(dmPrice), Gate: gate}
	sanitized, err := profile.SanitizeProfile(prof)
	if err != nil {
		t.Fatalf("sanitize profile: %v", err)
	}
	if err := state.ProfilePut(sanitized); err != nil {
		t.Fatalf("put profile: %v", err)
	}
}

func TestDepositForDmFundsVault(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	emitter := &capturingEmitter{}
	engine.SetEmitter(emitter)

	sender := newTestAddress(0x01)
	recipient := newTestAddress(0x02)
	seedProfile(t, state, recipient, 100, nil)
	state.setBalance(sender, testToken, big.NewInt(1_000))

	esc, err := engine.DepositForDm(sender, recipient, testToken, big.NewInt(150), "")
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if esc.Status != StatusPending {
		t.Fatalf("expected pending status, got %d", esc.Status)
	}
	if esc.Expiry != 1_700_000_000+EscrowDuration {
		t.Fatalf("unexpected expiry %d", esc.Expiry)
	}

	vaultBalance, _ := state.VaultBalance(esc.Address, testToken)
	if vaultBalance.Cmp(esc.Amount) != 0 {
		t.Fatalf("vault balance %s != escrow amount %s", vaultBalance, esc.Amount)
	}
	senderBalance, _ := state.Balance(sender, testToken)
	if senderBalance.String() != "850" {
		t.Fatalf("expected sender balance 850, got %s", senderBalance)
	}
	evts := emitter.typesEvents()
	if len(evts) != 1 || evts[0].Type != EventTypeDmCreated {
		t.Fatalf("expected dm.created event, got %v", evts)
	}
}

func TestDepositForDmBelowPriceFails(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)

	sender := newTestAddress(0x03)
	recipient := newTestAddress(0x04)
	seedProfile(t, state, recipient, 100, nil)
	state.setBalance(sender, testToken, big.NewInt(1_000))

	if _, err := engine.DepositForDm(sender, recipient, testToken, big.NewInt(50), ""); err != ErrInsufficientDmDeposit {
		t.Fatalf("expected ErrInsufficientDmDeposit, got %v", err)
	}
	senderBalance, _ := state.Balance(sender, testToken)
	if senderBalance.String() != "1000" {
		t.Fatalf("expected sender untouched, got %s", senderBalance)
	}
	if len(state.vaults) != 0 {
		t.Fatalf("expected no vault created")
	}
}

func TestDepositForDmAssetGate(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)

	sender := newTestAddress(0x05)
	recipient := newTestAddress(0x06)
	gate := &profile.AssetGate{Token: "GATE", MinBalance: big.NewInt(10)}
	seedProfile(t, state, recipient, 100, gate)
	state.setBalance(sender, testToken, big.NewInt(1_000))

	if _, err := engine.DepositForDm(sender, recipient, testToken, big.NewInt(150), ""); err != ErrAssetGateRequired {
		t.Fatalf("expected ErrAssetGateRequired, got %v", err)
	}
	if _, err := engine.DepositForDm(sender, recipient, testToken, big.NewInt(150), "OTHER"); err != ErrInvalidAssetGate {
		t.Fatalf("expected ErrInvalidAssetGate, got %v", err)
	}
	state.setBalance(sender, "GATE", big.NewInt(5))
	if _, err := engine.DepositForDm(sender, recipient, testToken, big.NewInt(150), "GATE"); err != ErrInsufficientAssetBalance {
		t.Fatalf("expected ErrInsufficientAssetBalance, got %v", err)
	}
	state.setBalance(sender, "GATE", big.NewInt(10))
	if _, err := engine.DepositForDm(sender, recipient, testToken, big.NewInt(150), "GATE"); err != nil {
		t.Fatalf("expected gated deposit to succeed: %v", err)
	}
}

func TestAcceptSettlesWithFee(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	engine.SetRecordBond(big.NewInt(25))
	emitter := &capturingEmitter{}
	engine.SetEmitter(emitter)

	sender := newTestAddress(0x11)
	recipient := newTestAddress(0x12)
	treasury := testPolicy().Treasury
	seedProfile(t, state, recipient, 100, nil)
	state.setBalance(sender, testToken, big.NewInt(1_025))

	esc, err := engine.DepositForDm(sender, recipient, testToken, big.NewInt(1_000), "")
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := engine.Accept(sender, recipient, recipient, treasury); err != nil {
		t.Fatalf("accept: %v", err)
	}

	recipientBalance, _ := state.Balance(recipient, testToken)
	if recipientBalance.String() != "990" {
		t.Fatalf("expected recipient 990, got %s", recipientBalance)
	}
	treasuryBalance, _ := state.Balance(treasury, testToken)
	if treasuryBalance.String() != "10" {
		t.Fatalf("expected treasury 10, got %s", treasuryBalance)
	}
	senderBalance, _ := state.Balance(sender, testToken)
	if senderBalance.String() != "25" {
		t.Fatalf("expected bond returned to sender, got %s", senderBalance)
	}
	if _, ok := state.EscrowGet(esc.Address); ok {
		t.Fatalf("expected record destroyed")
	}
	if len(state.vaults) != 0 {
		t.Fatalf("expected vault destroyed")
	}

	evts := emitter.typesEvents()
	last := evts[len(evts)-1]
	if last.Type != EventTypeDmAccepted {
		t.Fatalf("expected dm.accepted, got %s", last.Type)
	}
	if last.Attributes["amount"] != "1000" || last.Attributes["fee"] != "10" {
		t.Fatalf("expected gross amount and fee attributes, got %v", last.Attributes)
	}
}

func TestAcceptRejectsWrongTreasury(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)

	sender := newTestAddress(0x13)
	recipient := newTestAddress(0x14)
	seedProfile(t, state, recipient, 0, nil)
	state.setBalance(sender, testToken, big.NewInt(500))

	if _, err := engine.DepositForDm(sender, recipient, testToken, big.NewInt(500), ""); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	err := engine.Accept(sender, recipient, recipient, newTestAddress(0xDD))
	if !errors.Is(err, fees.ErrInvalidTreasury) {
		t.Fatalf("expected ErrInvalidTreasury, got %v", err)
	}
	recipientBalance, _ := state.Balance(recipient, testToken)
	if recipientBalance.Sign() != 0 {
		t.Fatalf("expected no transfer on treasury mismatch")
	}
}

func TestAcceptRequiresRecipient(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)

	sender := newTestAddress(0x15)
	recipient := newTestAddress(0x16)
	seedProfile(t, state, recipient, 0, nil)
	state.setBalance(sender, testToken, big.NewInt(200))

	if _, err := engine.DepositForDm(sender, recipient, testToken, big.NewInt(200), ""); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := engine.Accept(sender, recipient, sender, testPolicy().Treasury); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestDeclineRefundsInFull(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	emitter := &capturingEmitter{}
	engine.SetEmitter(emitter)

	sender := newTestAddress(0x21)
	recipient := newTestAddress(0x22)
	seedProfile(t, state, recipient, 100, nil)
	state.setBalance(sender, testToken, big.NewInt(400))

	if _, err := engine.DepositForDm(sender, recipient, testToken, big.NewInt(400), ""); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := engine.Decline(sender, recipient, recipient); err != nil {
		t.Fatalf("decline: %v", err)
	}
	senderBalance, _ := state.Balance(sender, testToken)
	if senderBalance.String() != "400" {
		t.Fatalf("expected full refund, got %s", senderBalance)
	}
	recipientBalance, _ := state.Balance(recipient, testToken)
	if recipientBalance.Sign() != 0 {
		t.Fatalf("expected no fee on decline")
	}
	evts := emitter.typesEvents()
	if evts[len(evts)-1].Type != EventTypeDmDeclined {
		t.Fatalf("expected dm.declined event")
	}
}

func TestRefundHonorsExpiry(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)

	sender := newTestAddress(0x31)
	recipient := newTestAddress(0x32)
	seedProfile(t, state, recipient, 0, nil)
	state.setBalance(sender, testToken, big.NewInt(300))

	esc, err := engine.DepositForDm(sender, recipient, testToken, big.NewInt(300), "")
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := engine.Refund(sender, recipient, sender); err != ErrEscrowNotExpired {
		t.Fatalf("expected ErrEscrowNotExpired, got %v", err)
	}
	if err := engine.Refund(sender, recipient, recipient); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized for recipient refund, got %v", err)
	}

	engine.SetNowFunc(func() int64 { return esc.Expiry + 1 })
	if err := engine.Refund(sender, recipient, sender); err != nil {
		t.Fatalf("refund: %v", err)
	}
	senderBalance, _ := state.Balance(sender, testToken)
	if senderBalance.String() != "300" {
		t.Fatalf("expected refund, got %s", senderBalance)
	}
}

func TestOnlyOneTerminalTransition(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)

	sender := newTestAddress(0x41)
	recipient := newTestAddress(0x42)
	seedProfile(t, state, recipient, 0, nil)
	state.setBalance(sender, testToken, big.NewInt(100))

	if _, err := engine.DepositForDm(sender, recipient, testToken, big.NewInt(100), ""); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := engine.Accept(sender, recipient, recipient, testPolicy().Treasury); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := engine.Decline(sender, recipient, recipient); err != ErrEscrowNotFound {
		t.Fatalf("expected ErrEscrowNotFound after close, got %v", err)
	}
	if err := engine.Refund(sender, recipient, sender); err != ErrEscrowNotFound {
		t.Fatalf("expected ErrEscrowNotFound after close, got %v", err)
	}
}

func TestDepositRejectsDuplicatePending(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)

	sender := newTestAddress(0x51)
	recipient := newTestAddress(0x52)
	seedProfile(t, state, recipient, 0, nil)
	state.setBalance(sender, testToken, big.NewInt(500))

	if _, err := engine.DepositForDm(sender, recipient, testToken, big.NewInt(100), ""); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := engine.DepositForDm(sender, recipient, testToken, big.NewInt(100), ""); err != ErrEscrowExists {
		t.Fatalf("expected ErrEscrowExists, got %v", err)
	}
}
