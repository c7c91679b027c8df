package wallet

import (
	"crypto/ecdsa"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	// ErrInvalidDerivationPath is returned when an HD path template is
	// missing its trailing variable segment or is otherwise unparsable.
	ErrInvalidDerivationPath = errors.New("invalid derivation path")
	// ErrInvalidMnemonic is returned when the seed phrase fails the
	// BIP-39 wordlist/checksum validation.
	ErrInvalidMnemonic = errors.New("invalid mnemonic")
	// ErrInvalidPrivateKey is returned when an explicit private key
	// cannot be parsed.
	ErrInvalidPrivateKey = errors.New("invalid private key")
	// ErrUnknownAccount is returned when a signer is requested for an
	// address outside the resolved account set.
	ErrUnknownAccount = errors.New("unknown account")
	// ErrNoSigningKey is returned when the resolved account exists but
	// carries no local key (fixed mode).
	ErrNoSigningKey = errors.New("account has no local signing key")
)

// Account is one resolved address with an optional local signing key.
type Account struct {
	Address common.Address

	key *ecdsa.PrivateKey
}

// CanSign reports whether the account holds a local signing key.
func (a Account) CanSign() bool {
	return a.key != nil
}

// SignTx signs the transaction with the account's key using the most
// recent signer for the given chain id.
func (a Account) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if a.key == nil {
		return nil, ErrNoSigningKey
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), a.key)
}

// Resolver owns the ordered account set for one network connection.
type Resolver struct {
	accounts []Account
	index    map[common.Address]int
	managed  bool
}

func newResolver(accounts []Account, managed bool) *Resolver {
	index := make(map[common.Address]int, len(accounts))
	for i, acc := range accounts {
		if _, exists := index[acc.Address]; !exists {
			index[acc.Address] = i
		}
	}
	return &Resolver{accounts: accounts, index: index, managed: managed}
}

// NewFixed creates a resolver for a single externally-managed address.
// No signing capability is exposed; transactions are forwarded unsigned.
func NewFixed(addr common.Address) *Resolver {
	return newResolver([]Account{{Address: addr}}, false)
}

// Managed reports whether the resolver holds local signing keys
// (HD wallet or local-keys mode) as opposed to delegating signing.
func (r *Resolver) Managed() bool {
	return r.managed
}

// Addresses returns the resolved addresses in derivation/input order.
func (r *Resolver) Addresses() []common.Address {
	addrs := make([]common.Address, len(r.accounts))
	for i, acc := range r.accounts {
		addrs[i] = acc.Address
	}
	return addrs
}

// Default returns the first resolved address. It is used to fill an
// absent transaction sender.
func (r *Resolver) Default() common.Address {
	return r.accounts[0].Address
}

// Has reports whether the address is part of the resolved account set.
func (r *Resolver) Has(addr common.Address) bool {
	_, ok := r.index[addr]
	return ok
}

// Signer returns the account for the given address.
// Returns ErrUnknownAccount if the address was not resolved.
func (r *Resolver) Signer(addr common.Address) (Account, error) {
	i, ok := r.index[addr]
	if !ok {
		return Account{}, ErrUnknownAccount
	}
	return r.accounts[i], nil
}
