package wallet

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The well-known development mnemonic and the first accounts it derives
// under the standard Ethereum path.
const testMnemonic = "test test test test test test test test test test test junk"

var testAddresses = []common.Address{
	common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"),
	common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"),
	common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"),
}

// testAddresses[0]'s private key.
const testPrivateKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestNewHDWallet(t *testing.T) {
	t.Run("derives known addresses in order", func(t *testing.T) {
		resolver, err := NewHDWallet(HDConfig{Mnemonic: testMnemonic, Count: 3})
		require.NoError(t, err)

		assert.True(t, resolver.Managed())
		assert.Equal(t, testAddresses, resolver.Addresses())
		assert.Equal(t, testAddresses[0], resolver.Default())
	})

	t.Run("deterministic", func(t *testing.T) {
		first, err := NewHDWallet(HDConfig{Mnemonic: testMnemonic, Count: 5})
		require.NoError(t, err)
		second, err := NewHDWallet(HDConfig{Mnemonic: testMnemonic, Count: 5})
		require.NoError(t, err)

		assert.Equal(t, first.Addresses(), second.Addresses())
	})

	t.Run("initial index offsets the window", func(t *testing.T) {
		resolver, err := NewHDWallet(HDConfig{Mnemonic: testMnemonic, InitialIndex: 1, Count: 2})
		require.NoError(t, err)

		assert.Equal(t, testAddresses[1:3], resolver.Addresses())
	})

	t.Run("count defaults to one", func(t *testing.T) {
		resolver, err := NewHDWallet(HDConfig{Mnemonic: testMnemonic})
		require.NoError(t, err)
		assert.Len(t, resolver.Addresses(), 1)
	})

	t.Run("passphrase changes the accounts", func(t *testing.T) {
		withPassphrase, err := NewHDWallet(HDConfig{Mnemonic: testMnemonic, Passphrase: "secret"})
		require.NoError(t, err)
		assert.NotEqual(t, testAddresses[0], withPassphrase.Default())
	})

	t.Run("path without trailing separator fails fast", func(t *testing.T) {
		_, err := NewHDWallet(HDConfig{Mnemonic: testMnemonic, DerivationPath: "m/44'/60'/0'/0"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidDerivationPath))
	})

	t.Run("unparsable path fails fast", func(t *testing.T) {
		_, err := NewHDWallet(HDConfig{Mnemonic: testMnemonic, DerivationPath: "not/a/path/"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidDerivationPath))
	})

	t.Run("invalid mnemonic", func(t *testing.T) {
		_, err := NewHDWallet(HDConfig{Mnemonic: "definitely not twelve valid words"})
		assert.True(t, errors.Is(err, ErrInvalidMnemonic))
	})
}

func TestNewLocalKeys(t *testing.T) {
	t.Run("loads keys in input order", func(t *testing.T) {
		resolver, err := NewLocalKeys([]string{testPrivateKey})
		require.NoError(t, err)

		assert.True(t, resolver.Managed())
		assert.Equal(t, []common.Address{testAddresses[0]}, resolver.Addresses())
	})

	t.Run("accepts keys without 0x prefix", func(t *testing.T) {
		resolver, err := NewLocalKeys([]string{testPrivateKey[2:]})
		require.NoError(t, err)
		assert.Equal(t, testAddresses[0], resolver.Default())
	})

	t.Run("names the offending position", func(t *testing.T) {
		_, err := NewLocalKeys([]string{testPrivateKey, "0xzz"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidPrivateKey))
		assert.Contains(t, err.Error(), "position 1")
	})

	t.Run("no keys", func(t *testing.T) {
		_, err := NewLocalKeys(nil)
		assert.Error(t, err)
	})
}

func TestNewFixed(t *testing.T) {
	addr := common.HexToAddress("0x2a97a65d5673a2c61e95ce33cecadf24f654f96d")
	resolver := NewFixed(addr)

	assert.False(t, resolver.Managed())
	assert.Equal(t, []common.Address{addr}, resolver.Addresses())
	assert.Equal(t, addr, resolver.Default())

	account, err := resolver.Signer(addr)
	require.NoError(t, err)
	assert.False(t, account.CanSign())

	_, err = account.SignTx(types.NewTx(&types.LegacyTx{}), big.NewInt(1))
	assert.True(t, errors.Is(err, ErrNoSigningKey))
}

func TestResolverSigner(t *testing.T) {
	resolver, err := NewHDWallet(HDConfig{Mnemonic: testMnemonic, Count: 2})
	require.NoError(t, err)

	t.Run("known address", func(t *testing.T) {
		account, err := resolver.Signer(testAddresses[1])
		require.NoError(t, err)
		assert.Equal(t, testAddresses[1], account.Address)
		assert.True(t, account.CanSign())
	})

	t.Run("unknown address", func(t *testing.T) {
		_, err := resolver.Signer(common.HexToAddress("0xb5bcf1e4352bf04c2d4b1d3e47cf263cc38f8ead"))
		assert.True(t, errors.Is(err, ErrUnknownAccount))
	})
}

func TestAccountSignTx(t *testing.T) {
	resolver, err := NewLocalKeys([]string{testPrivateKey})
	require.NoError(t, err)
	account, err := resolver.Signer(testAddresses[0])
	require.NoError(t, err)

	chainID := big.NewInt(31337)
	to := testAddresses[1]
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     0,
		GasTipCap: big.NewInt(1_000_000_000),
		GasFeeCap: big.NewInt(2_000_000_000),
		Gas:       21000,
		To:        &to,
		Value:     big.NewInt(1),
	})

	signed, err := account.SignTx(tx, chainID)
	require.NoError(t, err)

	sender, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	require.NoError(t, err)
	assert.Equal(t, testAddresses[0], sender)
}
