package state

import (
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"matchvault/native/custody"
	"matchvault/storage"
)

var (
	// ErrInsufficientBalance is returned when a debit exceeds the available
	// ledger balance.
	ErrInsufficientBalance = errors.New("state: insufficient balance")
)

// Manager mediates every read and write of custody state against the backing
// key-value store. Keys are keccak hashes of a human-readable prefix plus the
// identifying bytes; values are RLP. The manager satisfies the state
// interfaces of all native engines, so one instance backs the whole node.
type Manager struct {
	db storage.Database
}

// NewManager wraps the supplied database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func storageKey(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, part := range parts {
		size += len(part) + 1
	}
	buf := make([]byte, 0, size)
	buf = append(buf, prefix...)
	for _, part := range parts {
		buf = append(buf, part...)
		buf = append(buf, '/')
	}
	return ethcrypto.Keccak256(buf)
}

func (m *Manager) loadBigInt(key []byte) (*big.Int, error) {
	data, err := m.db.Get(key)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return big.NewInt(0), nil
	}
	value := new(big.Int)
	if err := rlp.DecodeBytes(data, value); err != nil {
		return nil, err
	}
	return value, nil
}

func (m *Manager) writeBigInt(key []byte, value *big.Int) error {
	if value == nil || value.Sign() == 0 {
		return m.db.Delete(key)
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

func balanceKey(addr [20]byte, token string) []byte {
	return storageKey(balancePrefix, []byte(token), addr[:])
}

// Balance returns the ledger balance of an address in the given token.
func (m *Manager) Balance(addr [20]byte, token string) (*big.Int, error) {
	normalized, err := custody.NormalizeToken(token)
	if err != nil {
		return nil, err
	}
	return m.loadBigInt(balanceKey(addr, normalized))
}

// SetBalance overwrites the ledger balance of an address. Used by genesis
// loading and tests; day-to-day movement goes through Credit, Debit and the
// vault operations.
func (m *Manager) SetBalance(addr [20]byte, token string, amount *big.Int) error {
	normalized, err := custody.NormalizeToken(token)
	if err != nil {
		return err
	}
	if amount != nil && amount.Sign() < 0 {
		return fmt.Errorf("state: negative balance")
	}
	return m.writeBigInt(balanceKey(addr, normalized), amount)
}

// Credit adds amount to an address.
func (m *Manager) Credit(addr [20]byte, token string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: credit amount must be non-negative")
	}
	if amount.Sign() == 0 {
		return nil
	}
	current, err := m.Balance(addr, token)
	if err != nil {
		return err
	}
	return m.SetBalance(addr, token, new(big.Int).Add(current, amount))
}

// Debit subtracts amount from an address, failing when the balance does not
// cover it.
func (m *Manager) Debit(addr [20]byte, token string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: debit amount must be non-negative")
	}
	if amount.Sign() == 0 {
		return nil
	}
	current, err := m.Balance(addr, token)
	if err != nil {
		return err
	}
	if current.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	return m.SetBalance(addr, token, new(big.Int).Sub(current, amount))
}

// Transfer moves amount between two ledger addresses, restoring the source on
// a failed credit.
func (m *Manager) Transfer(from, to [20]byte, token string, amount *big.Int) error {
	if err := m.Debit(from, token, amount); err != nil {
		return err
	}
	if err := m.Credit(to, token, amount); err != nil {
		if restoreErr := m.Credit(from, token, amount); restoreErr != nil {
			return errors.Join(err, fmt.Errorf("state: rollback debit: %w", restoreErr))
		}
		return err
	}
	return nil
}
