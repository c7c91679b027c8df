package wallet

import (
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcutil/hdkeychain"
	"github.com/ethereum/go-ethereum/accounts"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	bip39 "github.com/tyler-smith/go-bip39"
)

// DefaultDerivationPath is the standard Ethereum BIP-44 path template.
// The trailing separator marks the variable final segment that is
// replaced by the account index.
const DefaultDerivationPath = "m/44'/60'/0'/0/"

// HDConfig describes a hierarchical-deterministic wallet.
type HDConfig struct {
	// Mnemonic is the BIP-39 seed phrase.
	Mnemonic string
	// DerivationPath is the path template; it must end with the path
	// separator (e.g. "m/44'/60'/0'/0/"). The account index is appended
	// as the final segment.
	DerivationPath string
	// InitialIndex is the zero-based index of the first derived account.
	InitialIndex uint32
	// Count is the number of accounts to derive.
	Count uint32
	// Passphrase is the optional BIP-39 passphrase, default empty.
	Passphrase string
}

// NewHDWallet derives Count accounts from the mnemonic. Derivation is
// deterministic: identical inputs always yield the identical address
// list in index order InitialIndex .. InitialIndex+Count-1.
//
// A malformed path template fails with ErrInvalidDerivationPath before
// any derivation is attempted; there are no partial results.
func NewHDWallet(conf HDConfig) (*Resolver, error) {
	if conf.DerivationPath == "" {
		conf.DerivationPath = DefaultDerivationPath
	}
	prefix, err := parsePathTemplate(conf.DerivationPath)
	if err != nil {
		return nil, err
	}
	if !bip39.IsMnemonicValid(conf.Mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	if conf.Count == 0 {
		conf.Count = 1
	}

	seed := bip39.NewSeed(conf.Mnemonic, conf.Passphrase)
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive master key")
	}

	branch := master
	for _, component := range prefix {
		branch, err = branch.Derive(component)
		if err != nil {
			return nil, errors.Wrap(err, "failed to derive path prefix")
		}
	}

	hdAccounts := make([]Account, 0, conf.Count)
	for i := uint32(0); i < conf.Count; i++ {
		child, err := branch.Derive(conf.InitialIndex + i)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to derive account %d", conf.InitialIndex+i)
		}
		btcKey, err := child.ECPrivKey()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to extract key for account %d", conf.InitialIndex+i)
		}
		key := btcKey.ToECDSA()
		hdAccounts = append(hdAccounts, Account{
			Address: ethcrypto.PubkeyToAddress(key.PublicKey),
			key:     key,
		})
	}

	return newResolver(hdAccounts, true), nil
}

// parsePathTemplate validates the path template and returns the fixed
// prefix components (with hardened bits applied). The template must end
// with the separator; the variable final segment is supplied per account.
func parsePathTemplate(template string) (accounts.DerivationPath, error) {
	if !strings.HasSuffix(template, "/") {
		return nil, errors.Wrapf(ErrInvalidDerivationPath, "path %q is missing its trailing separator", template)
	}
	// Probe with index 0: the template plus any index must parse as a
	// complete derivation path.
	full, err := accounts.ParseDerivationPath(template + "0")
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidDerivationPath, "path %q: %v", template, err)
	}
	if len(full) < 2 {
		return nil, errors.Wrapf(ErrInvalidDerivationPath, "path %q has no fixed prefix", template)
	}
	return full[:len(full)-1], nil
}
