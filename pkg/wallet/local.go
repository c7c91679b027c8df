package wallet

import (
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// NewLocalKeys creates a resolver from explicit hex-encoded private
// keys, preserving input order. A malformed key fails with
// ErrInvalidPrivateKey naming its position; no partial results.
func NewLocalKeys(privateKeysHex []string) (*Resolver, error) {
	if len(privateKeysHex) == 0 {
		return nil, errors.Wrap(ErrInvalidPrivateKey, "no private keys supplied")
	}

	localAccounts := make([]Account, 0, len(privateKeysHex))
	for i, keyHex := range privateKeysHex {
		key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(keyHex), "0x"))
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidPrivateKey, "key at position %d: %v", i, err)
		}
		localAccounts = append(localAccounts, Account{
			Address: ethcrypto.PubkeyToAddress(key.PublicKey),
			key:     key,
		})
	}

	return newResolver(localAccounts, true), nil
}
