package rpc

import (
	"encoding/hex"
	"encoding/json"
	"math/big"
	"strings"

	"matchvault/core/types"
	"matchvault/native/auction"
	"matchvault/native/bounty"
	"matchvault/native/escrow"
	"matchvault/native/profile"
)

func invalidParams(message string) *RPCError {
	return &RPCError{Code: codeInvalidParams, Message: message}
}

func serverError(err error) *RPCError {
	return &RPCError{Code: codeServerError, Message: err.Error()}
}

func decodeParams(params []json.RawMessage, out interface{}) *RPCError {
	if len(params) != 1 {
		return invalidParams("expected a single params object")
	}
	if err := json.Unmarshal(params[0], out); err != nil {
		return invalidParams("invalid params: " + err.Error())
	}
	return nil
}

func parseAddress(value string) ([20]byte, *RPCError) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if trimmed == "" {
		return addr, invalidParams("address required")
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, invalidParams("invalid address: " + err.Error())
	}
	if len(decoded) != len(addr) {
		return addr, invalidParams("address must be 20 bytes")
	}
	copy(addr[:], decoded)
	return addr, nil
}

func parseAmount(value string) (*big.Int, *RPCError) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, invalidParams("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, invalidParams("invalid amount: " + value)
	}
	return amount, nil
}

func formatAddress(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

// --- result shapes ---

type ProfileResult struct {
	Authority      string `json:"authority"`
	DmPrice        string `json:"dmPrice"`
	GateToken      string `json:"gateToken,omitempty"`
	GateMinBalance string `json:"gateMinBalance,omitempty"`
	AuctionCount   uint64 `json:"auctionCount"`
}

func newProfileResult(p *profile.UserProfile) *ProfileResult {
	out := &ProfileResult{
		Authority:    formatAddress(p.Authority),
		DmPrice:      p.DmPrice.String(),
		AuctionCount: p.AuctionCount,
	}
	if p.Gate != nil {
		out.GateToken = p.Gate.Token
		out.GateMinBalance = p.Gate.MinBalance.String()
	}
	return out
}

type EscrowResult struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Token     string `json:"token"`
	Amount    string `json:"amount"`
	Expiry    int64  `json:"expiry"`
	Status    string `json:"status"`
}

func newEscrowResult(e *escrow.MessageEscrow) *EscrowResult {
	return &EscrowResult{
		Sender:    formatAddress(e.Sender),
		Recipient: formatAddress(e.Recipient),
		Token:     e.Token,
		Amount:    e.Amount.String(),
		Expiry:    e.Expiry,
		Status:    e.Status.String(),
	}
}

type AuctionResult struct {
	Host          string `json:"host"`
	AuctionID     uint64 `json:"auctionId"`
	Token         string `json:"token"`
	HighestBidder string `json:"highestBidder"`
	HighestBid    string `json:"highestBid"`
	EndTime       int64  `json:"endTime"`
	TotalExtended int64  `json:"totalExtended"`
	HasBids       bool   `json:"hasBids"`
}

func newAuctionResult(a *auction.DateAuction) *AuctionResult {
	return &AuctionResult{
		Host:          formatAddress(a.Host),
		AuctionID:     a.AuctionID,
		Token:         a.Token,
		HighestBidder: formatAddress(a.HighestBidder),
		HighestBid:    a.HighestBid.String(),
		EndTime:       a.EndTime,
		TotalExtended: a.TotalExtended,
		HasBids:       a.HasBids(),
	}
}

type BountyResult struct {
	Issuer       string `json:"issuer"`
	Token        string `json:"token"`
	RewardAmount string `json:"rewardAmount"`
	Status       string `json:"status"`
}

func newBountyResult(b *bounty.BountyVault) *BountyResult {
	return &BountyResult{
		Issuer:       formatAddress(b.Issuer),
		Token:        b.Token,
		RewardAmount: b.RewardAmount.String(),
		Status:       b.Status.String(),
	}
}

type EventResult struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

func newEventResults(evts []*types.Event) []EventResult {
	out := make([]EventResult, 0, len(evts))
	for _, evt := range evts {
		out = append(out, EventResult{Type: evt.Type, Attributes: evt.Attributes})
	}
	return out
}

// --- profiles ---

type createProfileParams struct {
	Authority      string `json:"authority"`
	DmPrice        string `json:"dmPrice"`
	GateToken      string `json:"gateToken"`
	GateMinBalance string `json:"gateMinBalance"`
}

func (s *Server) handleCreateProfile(params []json.RawMessage) (interface{}, *RPCError) {
	var p createProfileParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	authority, rpcErr := parseAddress(p.Authority)
	if rpcErr != nil {
		return nil, rpcErr
	}
	dmPrice, rpcErr := parseAmount(p.DmPrice)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var gate *profile.AssetGate
	if strings.TrimSpace(p.GateToken) != "" {
		minBalance, rpcErr := parseAmount(p.GateMinBalance)
		if rpcErr != nil {
			return nil, rpcErr
		}
		gate = &profile.AssetGate{Token: p.GateToken, MinBalance: minBalance}
	}
	created, err := s.node.ProfileCreate(authority, dmPrice, gate)
	if err != nil {
		return nil, serverError(err)
	}
	return newProfileResult(created), nil
}

type updateProfileParams struct {
	Authority      string `json:"authority"`
	DmPrice        string `json:"dmPrice"`
	ClearGate      bool   `json:"clearGate"`
	GateToken      string `json:"gateToken"`
	GateMinBalance string `json:"gateMinBalance"`
}

func (s *Server) handleUpdateProfile(params []json.RawMessage) (interface{}, *RPCError) {
	var p updateProfileParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	authority, rpcErr := parseAddress(p.Authority)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var dmPrice *big.Int
	if strings.TrimSpace(p.DmPrice) != "" {
		dmPrice, rpcErr = parseAmount(p.DmPrice)
		if rpcErr != nil {
			return nil, rpcErr
		}
	}
	var gate *profile.GateUpdate
	switch {
	case p.ClearGate:
		gate = &profile.GateUpdate{Clear: true}
	case strings.TrimSpace(p.GateToken) != "":
		minBalance, rpcErr := parseAmount(p.GateMinBalance)
		if rpcErr != nil {
			return nil, rpcErr
		}
		gate = &profile.GateUpdate{Gate: &profile.AssetGate{Token: p.GateToken, MinBalance: minBalance}}
	}
	updated, err := s.node.ProfileUpdate(authority, dmPrice, gate)
	if err != nil {
		return nil, serverError(err)
	}
	return newProfileResult(updated), nil
}

type getProfileParams struct {
	Authority string `json:"authority"`
}

func (s *Server) handleGetProfile(params []json.RawMessage) (interface{}, *RPCError) {
	var p getProfileParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	authority, rpcErr := parseAddress(p.Authority)
	if rpcErr != nil {
		return nil, rpcErr
	}
	prof, err := s.node.ProfileGet(authority)
	if err != nil {
		return nil, serverError(err)
	}
	return newProfileResult(prof), nil
}

// --- DM escrows ---

type depositForDmParams struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Token     string `json:"token"`
	Amount    string `json:"amount"`
	GateToken string `json:"gateToken"`
}

func (s *Server) handleDepositForDm(params []json.RawMessage) (interface{}, *RPCError) {
	var p depositForDmParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	sender, rpcErr := parseAddress(p.Sender)
	if rpcErr != nil {
		return nil, rpcErr
	}
	recipient, rpcErr := parseAddress(p.Recipient)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount(p.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	esc, err := s.node.DepositForDm(sender, recipient, p.Token, amount, p.GateToken)
	if err != nil {
		return nil, serverError(err)
	}
	return newEscrowResult(esc), nil
}

type escrowActionParams struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Caller    string `json:"caller"`
	Treasury  string `json:"treasury"`
}

func (p escrowActionParams) parties() (sender, recipient, caller [20]byte, rpcErr *RPCError) {
	if sender, rpcErr = parseAddress(p.Sender); rpcErr != nil {
		return
	}
	if recipient, rpcErr = parseAddress(p.Recipient); rpcErr != nil {
		return
	}
	caller, rpcErr = parseAddress(p.Caller)
	return
}

func (s *Server) handleAcceptDm(params []json.RawMessage) (interface{}, *RPCError) {
	var p escrowActionParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	sender, recipient, caller, rpcErr := p.parties()
	if rpcErr != nil {
		return nil, rpcErr
	}
	treasury, rpcErr := parseAddress(p.Treasury)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.node.AcceptDm(sender, recipient, caller, treasury); err != nil {
		return nil, serverError(err)
	}
	return map[string]bool{"accepted": true}, nil
}

func (s *Server) handleDeclineDm(params []json.RawMessage) (interface{}, *RPCError) {
	var p escrowActionParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	sender, recipient, caller, rpcErr := p.parties()
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.node.DeclineDm(sender, recipient, caller); err != nil {
		return nil, serverError(err)
	}
	return map[string]bool{"declined": true}, nil
}

func (s *Server) handleRefundDm(params []json.RawMessage) (interface{}, *RPCError) {
	var p escrowActionParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	sender, recipient, caller, rpcErr := p.parties()
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.node.RefundDm(sender, recipient, caller); err != nil {
		return nil, serverError(err)
	}
	return map[string]bool{"refunded": true}, nil
}

func (s *Server) handleGetEscrow(params []json.RawMessage) (interface{}, *RPCError) {
	var p escrowActionParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	sender, rpcErr := parseAddress(p.Sender)
	if rpcErr != nil {
		return nil, rpcErr
	}
	recipient, rpcErr := parseAddress(p.Recipient)
	if rpcErr != nil {
		return nil, rpcErr
	}
	esc, err := s.node.EscrowGet(sender, recipient)
	if err != nil {
		return nil, serverError(err)
	}
	return newEscrowResult(esc), nil
}

// --- auctions ---

type createAuctionParams struct {
	Host       string `json:"host"`
	Token      string `json:"token"`
	StartPrice string `json:"startPrice"`
	Duration   int64  `json:"duration"`
}

func (s *Server) handleCreateAuction(params []json.RawMessage) (interface{}, *RPCError) {
	var p createAuctionParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	host, rpcErr := parseAddress(p.Host)
	if rpcErr != nil {
		return nil, rpcErr
	}
	startPrice, rpcErr := parseAmount(p.StartPrice)
	if rpcErr != nil {
		return nil, rpcErr
	}
	a, err := s.node.AuctionCreate(host, p.Token, startPrice, p.Duration)
	if err != nil {
		return nil, serverError(err)
	}
	return newAuctionResult(a), nil
}

type placeBidParams struct {
	Host           string `json:"host"`
	AuctionID      uint64 `json:"auctionId"`
	Bidder         string `json:"bidder"`
	PreviousBidder string `json:"previousBidder"`
	Amount         string `json:"amount"`
}

func (s *Server) handlePlaceBid(params []json.RawMessage) (interface{}, *RPCError) {
	var p placeBidParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	host, rpcErr := parseAddress(p.Host)
	if rpcErr != nil {
		return nil, rpcErr
	}
	bidder, rpcErr := parseAddress(p.Bidder)
	if rpcErr != nil {
		return nil, rpcErr
	}
	previousBidder, rpcErr := parseAddress(p.PreviousBidder)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount(p.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	a, err := s.node.PlaceBid(host, p.AuctionID, bidder, previousBidder, amount)
	if err != nil {
		return nil, serverError(err)
	}
	return newAuctionResult(a), nil
}

type auctionActionParams struct {
	Host      string `json:"host"`
	AuctionID uint64 `json:"auctionId"`
	Caller    string `json:"caller"`
	Treasury  string `json:"treasury"`
}

func (s *Server) handleClaimAuction(params []json.RawMessage) (interface{}, *RPCError) {
	var p auctionActionParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	host, rpcErr := parseAddress(p.Host)
	if rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddress(p.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	treasury, rpcErr := parseAddress(p.Treasury)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.node.ClaimAuction(host, p.AuctionID, caller, treasury); err != nil {
		return nil, serverError(err)
	}
	return map[string]bool{"claimed": true}, nil
}

func (s *Server) handleCancelAuction(params []json.RawMessage) (interface{}, *RPCError) {
	var p auctionActionParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	host, rpcErr := parseAddress(p.Host)
	if rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddress(p.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.node.CancelAuction(host, p.AuctionID, caller); err != nil {
		return nil, serverError(err)
	}
	return map[string]bool{"cancelled": true}, nil
}

func (s *Server) handleGetAuction(params []json.RawMessage) (interface{}, *RPCError) {
	var p auctionActionParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	host, rpcErr := parseAddress(p.Host)
	if rpcErr != nil {
		return nil, rpcErr
	}
	a, err := s.node.AuctionGet(host, p.AuctionID)
	if err != nil {
		return nil, serverError(err)
	}
	return newAuctionResult(a), nil
}

// --- bounties ---

type createBountyParams struct {
	Issuer string `json:"issuer"`
	Token  string `json:"token"`
	Reward string `json:"reward"`
}

func (s *Server) handleCreateBounty(params []json.RawMessage) (interface{}, *RPCError) {
	var p createBountyParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	issuer, rpcErr := parseAddress(p.Issuer)
	if rpcErr != nil {
		return nil, rpcErr
	}
	reward, rpcErr := parseAmount(p.Reward)
	if rpcErr != nil {
		return nil, rpcErr
	}
	b, err := s.node.BountyCreate(issuer, p.Token, reward)
	if err != nil {
		return nil, serverError(err)
	}
	return newBountyResult(b), nil
}

type updateBountyParams struct {
	Issuer    string `json:"issuer"`
	Caller    string `json:"caller"`
	NewReward string `json:"newReward"`
}

func (s *Server) handleUpdateBounty(params []json.RawMessage) (interface{}, *RPCError) {
	var p updateBountyParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	issuer, rpcErr := parseAddress(p.Issuer)
	if rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddress(p.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	newReward, rpcErr := parseAmount(p.NewReward)
	if rpcErr != nil {
		return nil, rpcErr
	}
	b, err := s.node.BountyUpdate(issuer, caller, newReward)
	if err != nil {
		return nil, serverError(err)
	}
	return newBountyResult(b), nil
}

type payoutReferralParams struct {
	Issuer     string `json:"issuer"`
	Caller     string `json:"caller"`
	Matchmaker string `json:"matchmaker"`
	Treasury   string `json:"treasury"`
}

func (s *Server) handlePayoutReferral(params []json.RawMessage) (interface{}, *RPCError) {
	var p payoutReferralParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	issuer, rpcErr := parseAddress(p.Issuer)
	if rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddress(p.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	matchmaker, rpcErr := parseAddress(p.Matchmaker)
	if rpcErr != nil {
		return nil, rpcErr
	}
	treasury, rpcErr := parseAddress(p.Treasury)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.node.PayoutReferral(issuer, caller, matchmaker, treasury); err != nil {
		return nil, serverError(err)
	}
	return map[string]bool{"paid": true}, nil
}

type bountyActionParams struct {
	Issuer string `json:"issuer"`
	Caller string `json:"caller"`
}

func (s *Server) handleCancelBounty(params []json.RawMessage) (interface{}, *RPCError) {
	var p bountyActionParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	issuer, rpcErr := parseAddress(p.Issuer)
	if rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddress(p.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.node.BountyCancel(issuer, caller); err != nil {
		return nil, serverError(err)
	}
	return map[string]bool{"cancelled": true}, nil
}

func (s *Server) handleGetBounty(params []json.RawMessage) (interface{}, *RPCError) {
	var p bountyActionParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	issuer, rpcErr := parseAddress(p.Issuer)
	if rpcErr != nil {
		return nil, rpcErr
	}
	b, err := s.node.BountyGet(issuer)
	if err != nil {
		return nil, serverError(err)
	}
	return newBountyResult(b), nil
}

// --- ledger and events ---

type balanceParams struct {
	Address string `json:"address"`
	Token   string `json:"token"`
	Amount  string `json:"amount"`
}

func (s *Server) handleGetBalance(params []json.RawMessage) (interface{}, *RPCError) {
	var p balanceParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	addr, rpcErr := parseAddress(p.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}
	balance, err := s.node.Balance(addr, p.Token)
	if err != nil {
		return nil, serverError(err)
	}
	return map[string]string{
		"address": formatAddress(addr),
		"token":   strings.ToUpper(strings.TrimSpace(p.Token)),
		"balance": balance.String(),
	}, nil
}

func (s *Server) handleMint(params []json.RawMessage) (interface{}, *RPCError) {
	var p balanceParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	addr, rpcErr := parseAddress(p.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount(p.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.node.Mint(addr, p.Token, amount); err != nil {
		return nil, serverError(err)
	}
	return map[string]bool{"minted": true}, nil
}

type eventsParams struct {
	Offset int `json:"offset"`
}

func (s *Server) handleEvents(params []json.RawMessage) (interface{}, *RPCError) {
	var p eventsParams
	if len(params) > 0 {
		if rpcErr := decodeParams(params, &p); rpcErr != nil {
			return nil, rpcErr
		}
	}
	return newEventResults(s.node.Events(p.Offset)), nil
}
