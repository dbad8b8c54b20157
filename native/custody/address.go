package custody

import (
	"errors"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// DomainTag namespaces derived addresses so records from different custody
// domains can never collide even when their owner seeds are identical.
type DomainTag string

const (
	TagProfile DomainTag = "profile"
	TagEscrow  DomainTag = "escrow"
	TagAuction DomainTag = "auction"
	TagBounty  DomainTag = "bounty"
)

var (
	// ErrNoValidSalt is returned when no derivation salt in [0,255] yields an
	// address satisfying the validity predicate. Practically unreachable, but
	// the derivation fails closed rather than falling back.
	ErrNoValidSalt = errors.New("custody: no valid derivation salt")
	// ErrAddressMismatch is returned when a stored salt does not reproduce the
	// record address it claims to authorize.
	ErrAddressMismatch = errors.New("custody: derived address mismatch")
)

var derivePrefix = []byte("matchvault/custody")

func deriveHash(tag DomainTag, salt uint8, seeds ...[]byte) [32]byte {
	buf := make([]byte, 0, len(derivePrefix)+1+len(tag)+1+32*len(seeds)+1)
	buf = append(buf, derivePrefix...)
	buf = append(buf, byte(len(tag)))
	buf = append(buf, tag...)
	for _, seed := range seeds {
		buf = append(buf, byte(len(seed)))
		buf = append(buf, seed...)
	}
	buf = append(buf, salt)
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256(buf))
	return out
}

// saltValid is the out-of-band validity predicate on a candidate digest.
// Roughly half of all salts qualify, so scanning the full salt range fails
// with probability 2^-256.
func saltValid(digest [32]byte) bool {
	return digest[0]&0x80 == 0
}

// Derive computes the deterministic record address for the given domain tag
// and owner seeds, scanning salts from 255 downward until the validity
// predicate holds. The same inputs always yield the same (address, salt) pair.
func Derive(tag DomainTag, seeds ...[]byte) ([20]byte, uint8, error) {
	for i := 255; i >= 0; i-- {
		salt := uint8(i)
		digest := deriveHash(tag, salt, seeds...)
		if !saltValid(digest) {
			continue
		}
		var addr [20]byte
		copy(addr[:], digest[12:])
		return addr, salt, nil
	}
	return [20]byte{}, 0, ErrNoValidSalt
}

// AddressAt recomputes the record address for a previously discovered salt.
// It reports false when the salt does not satisfy the validity predicate for
// these inputs, so lookups with a wrong owner set miss instead of silently
// resolving elsewhere.
func AddressAt(tag DomainTag, salt uint8, seeds ...[]byte) ([20]byte, bool) {
	digest := deriveHash(tag, salt, seeds...)
	if !saltValid(digest) {
		return [20]byte{}, false
	}
	var addr [20]byte
	copy(addr[:], digest[12:])
	return addr, true
}

// AuthorityToken reconstructs the signing capability for a record's vault.
// The token is computable only from the domain tag, the full owner seed set
// and the stored salt; no private key ever exists. Authorizing a vault debit
// means presenting a token that matches the one sealed into the vault when it
// was opened.
func AuthorityToken(record [20]byte, tag DomainTag, salt uint8, seeds ...[]byte) ([32]byte, error) {
	addr, ok := AddressAt(tag, salt, seeds...)
	if !ok || addr != record {
		return [32]byte{}, ErrAddressMismatch
	}
	digest := deriveHash(tag, salt, seeds...)
	var token [32]byte
	copy(token[:], ethcrypto.Keccak256([]byte("matchvault/vault-authority"), digest[:]))
	return token, nil
}
