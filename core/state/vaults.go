package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"matchvault/native/custody"
)

var (
	ErrVaultExists    = errors.New("state: vault already open")
	ErrVaultNotFound  = errors.New("state: vault not found")
	ErrVaultToken     = errors.New("state: vault token mismatch")
	ErrVaultAuthority = errors.New("state: vault authority mismatch")
	ErrVaultNotEmpty  = errors.New("state: vault not empty")
	ErrVaultFunds     = errors.New("state: vault underfunded")
)

// storedVault is the RLP layout of a custody vault. The authority token is
// sealed in at open time and every withdrawal must present it.
type storedVault struct {
	Token     string
	Authority [32]byte
	Balance   *big.Int
}

func vaultKey(record [20]byte) []byte {
	return storageKey(vaultPrefix, record[:])
}

func (m *Manager) loadVault(record [20]byte) (*storedVault, error) {
	data, err := m.db.Get(vaultKey(record))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrVaultNotFound
	}
	vault := new(storedVault)
	if err := rlp.DecodeBytes(data, vault); err != nil {
		return nil, err
	}
	if vault.Balance == nil {
		vault.Balance = big.NewInt(0)
	}
	return vault, nil
}

func (m *Manager) writeVault(record [20]byte, vault *storedVault) error {
	encoded, err := rlp.EncodeToBytes(vault)
	if err != nil {
		return err
	}
	return m.db.Put(vaultKey(record), encoded)
}

// VaultOpen creates an empty vault bound to a record, its token and its
// derived authority. Fails when a vault already exists at the record address.
func (m *Manager) VaultOpen(record [20]byte, token string, authority [32]byte) error {
	normalized, err := custody.NormalizeToken(token)
	if err != nil {
		return err
	}
	if _, err := m.loadVault(record); err == nil {
		return ErrVaultExists
	} else if !errors.Is(err, ErrVaultNotFound) {
		return err
	}
	return m.writeVault(record, &storedVault{
		Token:     normalized,
		Authority: authority,
		Balance:   big.NewInt(0),
	})
}

// VaultDeposit debits the funding address and credits the vault. Deposits do
// not require the authority token; anyone able to pay can fund a vault.
func (m *Manager) VaultDeposit(record, from [20]byte, token string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: deposit amount must be non-negative")
	}
	vault, err := m.loadVault(record)
	if err != nil {
		return err
	}
	normalized, err := custody.NormalizeToken(token)
	if err != nil {
		return err
	}
	if vault.Token != normalized {
		return ErrVaultToken
	}
	if amount.Sign() == 0 {
		return nil
	}
	if err := m.Debit(from, normalized, amount); err != nil {
		return err
	}
	vault.Balance = new(big.Int).Add(vault.Balance, amount)
	if err := m.writeVault(record, vault); err != nil {
		if restoreErr := m.Credit(from, normalized, amount); restoreErr != nil {
			return errors.Join(err, fmt.Errorf("state: rollback deposit: %w", restoreErr))
		}
		return err
	}
	return nil
}

// VaultWithdraw moves funds out of the vault to a recipient. The presented
// authority must match the token sealed in at open time; this is the only
// spend path.
func (m *Manager) VaultWithdraw(record, to [20]byte, token string, amount *big.Int, authority [32]byte) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: withdraw amount must be non-negative")
	}
	vault, err := m.loadVault(record)
	if err != nil {
		return err
	}
	normalized, err := custody.NormalizeToken(token)
	if err != nil {
		return err
	}
	if vault.Token != normalized {
		return ErrVaultToken
	}
	if vault.Authority != authority {
		return ErrVaultAuthority
	}
	if amount.Sign() == 0 {
		return nil
	}
	if vault.Balance.Cmp(amount) < 0 {
		return ErrVaultFunds
	}
	vault.Balance = new(big.Int).Sub(vault.Balance, amount)
	if err := m.writeVault(record, vault); err != nil {
		return err
	}
	if err := m.Credit(to, normalized, amount); err != nil {
		vault.Balance = new(big.Int).Add(vault.Balance, amount)
		if restoreErr := m.writeVault(record, vault); restoreErr != nil {
			return errors.Join(err, fmt.Errorf("state: rollback withdraw: %w", restoreErr))
		}
		return err
	}
	return nil
}

// VaultBalance reports the funds currently held for a record. A missing vault
// reads as zero.
func (m *Manager) VaultBalance(record [20]byte, token string) (*big.Int, error) {
	vault, err := m.loadVault(record)
	if errors.Is(err, ErrVaultNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	normalized, err := custody.NormalizeToken(token)
	if err != nil {
		return nil, err
	}
	if vault.Token != normalized {
		return nil, ErrVaultToken
	}
	return new(big.Int).Set(vault.Balance), nil
}

// VaultClose destroys an empty vault. Closing with a residual balance is a
// programming error in the calling engine and is rejected.
func (m *Manager) VaultClose(record [20]byte) error {
	vault, err := m.loadVault(record)
	if err != nil {
		return err
	}
	if vault.Balance.Sign() != 0 {
		return ErrVaultNotEmpty
	}
	return m.db.Delete(vaultKey(record))
}

// storedBond is the RLP layout of a record-creation bond.
type storedBond struct {
	Token  string
	Amount *big.Int
}

func bondKey(record [20]byte) []byte {
	return storageKey(bondPrefix, record[:])
}

// BondDeposit reserves the creation bond from the funding address against a
// record. A nil or zero bond is a no-op.
func (m *Manager) BondDeposit(record, from [20]byte, token string, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: bond amount must be non-negative")
	}
	normalized, err := custody.NormalizeToken(token)
	if err != nil {
		return err
	}
	if err := m.Debit(from, normalized, amount); err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(&storedBond{Token: normalized, Amount: amount})
	if err != nil {
		return err
	}
	if err := m.db.Put(bondKey(record), encoded); err != nil {
		if restoreErr := m.Credit(from, normalized, amount); restoreErr != nil {
			return errors.Join(err, fmt.Errorf("state: rollback bond: %w", restoreErr))
		}
		return err
	}
	return nil
}

// BondRefund releases a record's bond to the designated party. Missing bonds
// are a no-op so engines can call this unconditionally on close.
func (m *Manager) BondRefund(record, to [20]byte, token string) error {
	data, err := m.db.Get(bondKey(record))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	bond := new(storedBond)
	if err := rlp.DecodeBytes(data, bond); err != nil {
		return err
	}
	if err := m.Credit(to, bond.Token, bond.Amount); err != nil {
		return err
	}
	return m.db.Delete(bondKey(record))
}
