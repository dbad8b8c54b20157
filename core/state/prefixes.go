package state

var (
	balancePrefix = []byte("custody/balance/")
	vaultPrefix   = []byte("custody/vault/")
	bondPrefix    = []byte("custody/bond/")
	profilePrefix = []byte("custody/profile/")
	escrowPrefix  = []byte("custody/escrow/")
	auctionPrefix = []byte("custody/auction/")
	bountyPrefix  = []byte("custody/bounty/")
)
