package pipeline

import (
	"context"
	"encoding/json"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletmux/walletmux/pkg/jsonrpc"
	"github.com/walletmux/walletmux/pkg/provider"
	"github.com/walletmux/walletmux/pkg/wallet"
)

const (
	testMnemonic   = "test test test test test test test test test test test junk"
	testPrivateKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
)

var (
	addrDefault = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	addrOther   = common.HexToAddress("0x2a97a65d5673a2c61e95ce33cecadf24f654f96d")
)

// stubEngine registers the sub-call results a transaction send needs.
func stubEngine(mock *provider.MockProvider) {
	mock.HandleResult("eth_getBlockByNumber", map[string]any{"baseFeePerGas": "0x3b9aca00"})
	mock.HandleResult("eth_maxPriorityFeePerGas", "0x3b9aca00")
	mock.HandleResult("eth_estimateGas", "0x5208")
	mock.HandleResult("eth_getTransactionCount", "0x5")
	mock.HandleResult("eth_sendTransaction", "0xaaa0000000000000000000000000000000000000000000000000000000000000")
	mock.HandleResult("eth_sendRawTransaction", "0xbbb0000000000000000000000000000000000000000000000000000000000000")
}

// forwardingChain assembles the full transaction chain without the
// signing handler, as used for a fixed (externally-managed) address.
func forwardingChain(t *testing.T, mock *provider.MockProvider, pinnedChainID uint64) *Chain {
	t.Helper()
	resolver := wallet.NewFixed(addrDefault)
	return NewChain(nil,
		AccountsHandler(resolver),
		SenderHandler(resolver),
		ChainIDHandler(pinnedChainID),
		FeeHandler(nil),
		GasLimitHandler(0, decimal.NewFromInt(1)),
		NonceHandler(NewNonceTracker()),
		ProviderHandler(mock),
	)
}

// signingChain assembles the full managed-mode chain.
func signingChain(t *testing.T, mock *provider.MockProvider, pinnedChainID uint64) *Chain {
	t.Helper()
	resolver, err := wallet.NewLocalKeys([]string{testPrivateKey})
	require.NoError(t, err)
	return NewChain(nil,
		AccountsHandler(resolver),
		SenderHandler(resolver),
		ChainIDHandler(pinnedChainID),
		FeeHandler(nil),
		GasLimitHandler(0, decimal.NewFromInt(1)),
		NonceHandler(NewNonceTracker()),
		SigningHandler(resolver),
		ProviderHandler(mock),
	)
}

// sentTxArgs decodes the transaction object that finally reached the
// provider.
func sentTxArgs(t *testing.T, mock *provider.MockProvider, callIndex int) *jsonrpc.TxArgs {
	t.Helper()
	calls := mock.Calls("eth_sendTransaction")
	require.Greater(t, len(calls), callIndex)
	args, rpcErr := jsonrpc.DecodeTxArgs(calls[callIndex].Params)
	require.Nil(t, rpcErr)
	return args
}

func sendTx(t *testing.T, chain *Chain, id int64, txObject string) *jsonrpc.Response {
	t.Helper()
	return chain.Handle(context.Background(),
		jsonrpc.NewRequest(id, "eth_sendTransaction", txParam(t, txObject)))
}

func TestAccountsHandler(t *testing.T) {
	mock := provider.NewMockProvider()
	chain := forwardingChain(t, mock, 1)

	for _, method := range []string{"eth_accounts", "eth_requestAccounts"} {
		res := chain.Handle(context.Background(), jsonrpc.NewRequest(1, method))
		require.Nil(t, res.Error, method)
		assert.JSONEq(t, `["0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266"]`, string(res.Result), method)
		assert.Zero(t, mock.CallCount(method), "%s must never reach the provider", method)
	}
}

func TestSenderHandler(t *testing.T) {
	t.Run("fills absent from", func(t *testing.T) {
		mock := provider.NewMockProvider()
		stubEngine(mock)
		chain := forwardingChain(t, mock, 1)

		res := sendTx(t, chain, 1, `{"to":"0xb5bcf1e4352bf04c2d4b1d3e47cf263cc38f8ead","value":"0x1"}`)
		require.Nil(t, res.Error)

		args := sentTxArgs(t, mock, 0)
		require.NotNil(t, args.From)
		assert.Equal(t, addrDefault, *args.From)
	})

	t.Run("never overwrites explicit from", func(t *testing.T) {
		mock := provider.NewMockProvider()
		stubEngine(mock)
		chain := forwardingChain(t, mock, 1)

		res := sendTx(t, chain, 1, `{"from":"0x2a97a65d5673a2c61e95ce33cecadf24f654f96d","to":"0xb5bcf1e4352bf04c2d4b1d3e47cf263cc38f8ead"}`)
		require.Nil(t, res.Error)

		args := sentTxArgs(t, mock, 0)
		require.NotNil(t, args.From)
		assert.Equal(t, addrOther, *args.From)
	})
}

func TestChainIDHandler(t *testing.T) {
	t.Run("answers eth_chainId from the pinned id", func(t *testing.T) {
		mock := provider.NewMockProvider()
		chain := forwardingChain(t, mock, 31337)

		res := chain.Handle(context.Background(), jsonrpc.NewRequest(1, "eth_chainId"))
		require.Nil(t, res.Error)
		assert.JSONEq(t, `"0x7a69"`, string(res.Result))
		assert.Zero(t, mock.CallCount("eth_chainId"))
	})

	t.Run("stamps the pinned id on transactions", func(t *testing.T) {
		mock := provider.NewMockProvider()
		stubEngine(mock)
		chain := forwardingChain(t, mock, 31337)

		res := sendTx(t, chain, 1, `{"to":"0xb5bcf1e4352bf04c2d4b1d3e47cf263cc38f8ead"}`)
		require.Nil(t, res.Error)

		args := sentTxArgs(t, mock, 0)
		require.NotNil(t, args.ChainID)
		assert.Equal(t, int64(31337), (*big.Int)(args.ChainID).Int64())
	})

	t.Run("rejects a mismatched explicit chain id", func(t *testing.T) {
		mock := provider.NewMockProvider()
		stubEngine(mock)
		chain := forwardingChain(t, mock, 31337)

		res := sendTx(t, chain, 1, `{"to":"0xb5bcf1e4352bf04c2d4b1d3e47cf263cc38f8ead","chainId":"0x1"}`)
		require.NotNil(t, res.Error)
		assert.Equal(t, jsonrpc.CodeInvalidParams, res.Error.Code)
		assert.Contains(t, res.Error.Message, "chain id mismatch")
		assert.Zero(t, mock.CallCount("eth_sendTransaction"))
	})

	t.Run("resolves and caches the id when unpinned", func(t *testing.T) {
		mock := provider.NewMockProvider()
		stubEngine(mock)
		mock.HandleResult("eth_chainId", "0x7a69")
		chain := forwardingChain(t, mock, 0)

		for i := int64(1); i <= 2; i++ {
			res := sendTx(t, chain, i, `{"to":"0xb5bcf1e4352bf04c2d4b1d3e47cf263cc38f8ead"}`)
			require.Nil(t, res.Error)
		}
		assert.Equal(t, 1, mock.CallCount("eth_chainId"), "resolved id must be cached")
	})
}

func TestFeeHandler(t *testing.T) {
	t.Run("rejects conflicting fee schemes before dispatch", func(t *testing.T) {
		mock := provider.NewMockProvider()
		stubEngine(mock)
		chain := forwardingChain(t, mock, 1)

		res := sendTx(t, chain, 1, `{"to":"0xb5bcf1e4352bf04c2d4b1d3e47cf263cc38f8ead","gasPrice":"0x1","maxFeePerGas":"0x2"}`)
		require.NotNil(t, res.Error)
		assert.Equal(t, jsonrpc.CodeInvalidParams, res.Error.Code)
		assert.Zero(t, mock.CallCount("eth_sendTransaction"), "conflicting fees must never reach the provider")
	})

	t.Run("fills the EIP-1559 pair on a base-fee network", func(t *testing.T) {
		mock := provider.NewMockProvider()
		stubEngine(mock)
		chain := forwardingChain(t, mock, 1)

		res := sendTx(t, chain, 1, `{"to":"0xb5bcf1e4352bf04c2d4b1d3e47cf263cc38f8ead"}`)
		require.Nil(t, res.Error)

		args := sentTxArgs(t, mock, 0)
		require.NotNil(t, args.MaxPriorityFeePerGas)
		require.NotNil(t, args.MaxFeePerGas)
		assert.Nil(t, args.GasPrice)

		// maxFee = 2*baseFee + tip with baseFee = tip = 1 gwei.
		assert.Equal(t, int64(3_000_000_000), (*big.Int)(args.MaxFeePerGas).Int64())
		assert.Equal(t, int64(1_000_000_000), (*big.Int)(args.MaxPriorityFeePerGas).Int64())
	})

	t.Run("falls back to the default tip", func(t *testing.T) {
		mock := provider.NewMockProvider()
		stubEngine(mock)
		mock.HandleError("eth_maxPriorityFeePerGas", jsonrpc.NewError(jsonrpc.CodeMethodNotFound, "not supported"))
		chain := forwardingChain(t, mock, 1)

		res := sendTx(t, chain, 1, `{"to":"0xb5bcf1e4352bf04c2d4b1d3e47cf263cc38f8ead"}`)
		require.Nil(t, res.Error)

		args := sentTxArgs(t, mock, 0)
		assert.Equal(t, int64(1_000_000_000), (*big.Int)(args.MaxPriorityFeePerGas).Int64())
	})

	t.Run("uses legacy gas price on a pre-1559 network", func(t *testing.T) {
		mock := provider.NewMockProvider()
		stubEngine(mock)
		mock.HandleResult("eth_getBlockByNumber", map[string]any{})
		mock.HandleResult("eth_gasPrice", "0x3b9aca00")
		chain := forwardingChain(t, mock, 1)

		res := sendTx(t, chain, 1, `{"to":"0xb5bcf1e4352bf04c2d4b1d3e47cf263cc38f8ead"}`)
		require.Nil(t, res.Error)

		args := sentTxArgs(t, mock, 0)
		require.NotNil(t, args.GasPrice)
		assert.Nil(t, args.MaxFeePerGas)
		assert.Equal(t, int64(1_000_000_000), (*big.Int)(args.GasPrice).Int64())
	})

	t.Run("rejects dynamic fields on a pre-1559 network", func(t *testing.T) {
		mock := provider.NewMockProvider()
		stubEngine(mock)
		mock.HandleResult("eth_getBlockByNumber", map[string]any{})
		chain := forwardingChain(t, mock, 1)

		res := sendTx(t, chain, 1, `{"to":"0xb5bcf1e4352bf04c2d4b1d3e47cf263cc38f8ead","maxFeePerGas":"0x2"}`)
		require.NotNil(t, res.Error)
		assert.Equal(t, jsonrpc.CodeInvalidInput, res.Error.Code)
	})

	t.Run("keeps a complete caller-supplied scheme", func(t *testing.T) {
		mock := provider.NewMockProvider()
		stubEngine(mock)
		chain := forwardingChain(t, mock, 1)

		res := sendTx(t, chain, 1, `{"to":"0xb5bcf1e4352bf04c2d4b1d3e47cf263cc38f8ead","gasPrice":"0x77359400"}`)
		require.Nil(t, res.Error)

		args := sentTxArgs(t, mock, 0)
		assert.Equal(t, int64(2_000_000_000), (*big.Int)(args.GasPrice).Int64())
		assert.Zero(t, mock.CallCount("eth_getBlockByNumber"), "no fee lookup when the caller supplied fees")
	})
}

func TestGasLimitHandler(t *testing.T) {
	t.Run("pads the estimate by the safety margin", func(t *testing.T) {
		mock := provider.NewMockProvider()
		stubEngine(mock)
		mock.HandleResult("eth_estimateGas", "0x186a0") // 100000
		resolver := wallet.NewFixed(addrDefault)
		chain := NewChain(nil,
			SenderHandler(resolver),
			ChainIDHandler(1),
			FeeHandler(big.NewInt(1)),
			GasLimitHandler(0, decimal.RequireFromString("1.5")),
			NonceHandler(NewNonceTracker()),
			ProviderHandler(mock),
		)

		res := sendTx(t, chain, 1, `{"to":"0xb5bcf1e4352bf04c2d4b1d3e47cf263cc38f8ead"}`)
		require.Nil(t, res.Error)

		args := sentTxArgs(t, mock, 0)
		require.NotNil(t, args.Gas)
		assert.Equal(t, uint64(150000), uint64(*args.Gas))
	})

	t.Run("keeps an explicit gas limit", func(t *testing.T) {
		mock := provider.NewMockProvider()
		stubEngine(mock)
		chain := forwardingChain(t, mock, 1)

		res := sendTx(t, chain, 1, `{"to":"0xb5bcf1e4352bf04c2d4b1d3e47cf263cc38f8ead","gas":"0x5208"}`)
		require.Nil(t, res.Error)
		assert.Zero(t, mock.CallCount("eth_estimateGas"))
	})

	t.Run("applies the configured override", func(t *testing.T) {
		mock := provider.NewMockProvider()
		stubEngine(mock)
		resolver := wallet.NewFixed(addrDefault)
		chain := NewChain(nil,
			SenderHandler(resolver),
			ChainIDHandler(1),
			FeeHandler(big.NewInt(1)),
			GasLimitHandler(30_000_000, decimal.NewFromInt(1)),
			NonceHandler(NewNonceTracker()),
			ProviderHandler(mock),
		)

		res := sendTx(t, chain, 1, `{"to":"0xb5bcf1e4352bf04c2d4b1d3e47cf263cc38f8ead"}`)
		require.Nil(t, res.Error)

		args := sentTxArgs(t, mock, 0)
		assert.Equal(t, uint64(30_000_000), uint64(*args.Gas))
		assert.Zero(t, mock.CallCount("eth_estimateGas"))
	})

	t.Run("propagates revert errors verbatim", func(t *testing.T) {
		mock := provider.NewMockProvider()
		stubEngine(mock)
		mock.HandleError("eth_estimateGas",
			jsonrpc.NewError(3, "execution reverted: Not enough balance").WithData("0x08c379a0"))
		chain := forwardingChain(t, mock, 1)

		res := sendTx(t, chain, 1, `{"to":"0xb5bcf1e4352bf04c2d4b1d3e47cf263cc38f8ead"}`)
		require.NotNil(t, res.Error)
		assert.Equal(t, int64(3), res.Error.Code)
		assert.Equal(t, "execution reverted: Not enough balance", res.Error.Message)
		assert.JSONEq(t, `"0x08c379a0"`, string(res.Error.Data))
		assert.Zero(t, mock.CallCount("eth_sendTransaction"))
	})
}

func TestNonceHandler(t *testing.T) {
	t.Run("assigns contiguous nonces sequentially", func(t *testing.T) {
		mock := provider.NewMockProvider()
		stubEngine(mock)
		chain := forwardingChain(t, mock, 1)

		for i := int64(1); i <= 3; i++ {
			res := sendTx(t, chain, i, `{"to":"0xb5bcf1e4352bf04c2d4b1d3e47cf263cc38f8ead"}`)
			require.Nil(t, res.Error)
		}

		var nonces []uint64
		for i := 0; i < 3; i++ {
			args := sentTxArgs(t, mock, i)
			require.NotNil(t, args.Nonce)
			nonces = append(nonces, uint64(*args.Nonce))
		}
		assert.Equal(t, []uint64{5, 6, 7}, nonces)
		assert.Equal(t, 1, mock.CallCount("eth_getTransactionCount"), "transaction count is read once")
	})

	t.Run("assigns distinct contiguous nonces under concurrency", func(t *testing.T) {
		mock := provider.NewMockProvider()
		stubEngine(mock)
		chain := forwardingChain(t, mock, 1)

		const parallel = 8
		var wg sync.WaitGroup
		wg.Add(parallel)
		for i := 0; i < parallel; i++ {
			go func(id int64) {
				defer wg.Done()
				res := sendTx(t, chain, id, `{"to":"0xb5bcf1e4352bf04c2d4b1d3e47cf263cc38f8ead"}`)
				assert.Nil(t, res.Error)
			}(int64(i + 1))
		}
		wg.Wait()

		seen := make(map[uint64]bool)
		for i := 0; i < parallel; i++ {
			args := sentTxArgs(t, mock, i)
			require.NotNil(t, args.Nonce)
			seen[uint64(*args.Nonce)] = true
		}
		for nonce := uint64(5); nonce < 5+parallel; nonce++ {
			assert.True(t, seen[nonce], "missing nonce %d", nonce)
		}
	})

	t.Run("keeps an explicit nonce", func(t *testing.T) {
		mock := provider.NewMockProvider()
		stubEngine(mock)
		chain := forwardingChain(t, mock, 1)

		res := sendTx(t, chain, 1, `{"to":"0xb5bcf1e4352bf04c2d4b1d3e47cf263cc38f8ead","nonce":"0x20"}`)
		require.Nil(t, res.Error)

		args := sentTxArgs(t, mock, 0)
		assert.Equal(t, uint64(0x20), uint64(*args.Nonce))
		assert.Zero(t, mock.CallCount("eth_getTransactionCount"))
	})

	t.Run("re-reads the chain after a failed send", func(t *testing.T) {
		mock := provider.NewMockProvider()
		stubEngine(mock)
		mock.HandleError("eth_sendTransaction", jsonrpc.NewError(jsonrpc.CodeInvalidInput, "nonce too low"))
		chain := forwardingChain(t, mock, 1)

		for i := int64(1); i <= 2; i++ {
			res := sendTx(t, chain, i, `{"to":"0xb5bcf1e4352bf04c2d4b1d3e47cf263cc38f8ead"}`)
			require.NotNil(t, res.Error)
		}

		assert.Equal(t, 2, mock.CallCount("eth_getTransactionCount"),
			"a failed send must invalidate the cached counter")
	})
}

func TestSigningHandler(t *testing.T) {
	t.Run("signs and rewrites to eth_sendRawTransaction", func(t *testing.T) {
		mock := provider.NewMockProvider()
		stubEngine(mock)
		chain := signingChain(t, mock, 31337)

		res := sendTx(t, chain, 1, `{"to":"0xb5bcf1e4352bf04c2d4b1d3e47cf263cc38f8ead","value":"0xde0b6b3a7640000"}`)
		require.Nil(t, res.Error)
		assert.JSONEq(t, `"0xbbb0000000000000000000000000000000000000000000000000000000000000"`, string(res.Result))

		assert.Zero(t, mock.CallCount("eth_sendTransaction"), "unsigned sends must not reach the provider")
		calls := mock.Calls("eth_sendRawTransaction")
		require.Len(t, calls, 1)

		var rawHex string
		require.NoError(t, json.Unmarshal(calls[0].Params[0], &rawHex))
		rawBytes, err := hexutil.Decode(rawHex)
		require.NoError(t, err)

		tx := new(types.Transaction)
		require.NoError(t, tx.UnmarshalBinary(rawBytes))

		assert.Equal(t, uint64(5), tx.Nonce())
		assert.Equal(t, int64(31337), tx.ChainId().Int64())
		assert.Equal(t, "0xB5BcF1E4352Bf04C2D4B1d3e47cF263cc38F8eAd", tx.To().Hex())
		assert.Equal(t, "1000000000000000000", tx.Value().String())
		assert.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())

		sender, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
		require.NoError(t, err)
		assert.Equal(t, addrDefault, sender)
	})

	t.Run("signs a legacy transaction for explicit gasPrice", func(t *testing.T) {
		mock := provider.NewMockProvider()
		stubEngine(mock)
		chain := signingChain(t, mock, 31337)

		res := sendTx(t, chain, 1, `{"to":"0xb5bcf1e4352bf04c2d4b1d3e47cf263cc38f8ead","gasPrice":"0x3b9aca00"}`)
		require.Nil(t, res.Error)

		calls := mock.Calls("eth_sendRawTransaction")
		require.Len(t, calls, 1)

		var rawHex string
		require.NoError(t, json.Unmarshal(calls[0].Params[0], &rawHex))
		rawBytes, err := hexutil.Decode(rawHex)
		require.NoError(t, err)

		tx := new(types.Transaction)
		require.NoError(t, tx.UnmarshalBinary(rawBytes))
		assert.Equal(t, uint8(types.LegacyTxType), tx.Type())
		assert.Equal(t, int64(1_000_000_000), tx.GasPrice().Int64())
	})

	t.Run("rejects an unknown explicit sender", func(t *testing.T) {
		mock := provider.NewMockProvider()
		stubEngine(mock)
		chain := signingChain(t, mock, 31337)

		res := sendTx(t, chain, 1, `{"from":"0x2a97a65d5673a2c61e95ce33cecadf24f654f96d","to":"0xb5bcf1e4352bf04c2d4b1d3e47cf263cc38f8ead"}`)
		require.NotNil(t, res.Error)
		assert.Equal(t, jsonrpc.CodeInvalidInput, res.Error.Code)
		assert.Contains(t, res.Error.Message, "unknown account 0x2a97a65d5673a2c61e95ce33cecadf24f654f96d")
		assert.Zero(t, mock.CallCount("eth_sendRawTransaction"))
		assert.Zero(t, mock.CallCount("eth_sendTransaction"))
	})
}

func TestClientVersionHandler(t *testing.T) {
	mock := provider.NewMockProvider()
	chain := NewChain(nil, ClientVersionHandler("walletmux/v1.0.0"), ProviderHandler(mock))

	res := chain.Handle(context.Background(), jsonrpc.NewRequest(1, "web3_clientVersion"))
	require.Nil(t, res.Error)
	assert.JSONEq(t, `"walletmux/v1.0.0"`, string(res.Result))
	assert.Zero(t, mock.CallCount("web3_clientVersion"))
}

func TestNetVersionHandler(t *testing.T) {
	t.Run("answers from the pinned id", func(t *testing.T) {
		mock := provider.NewMockProvider()
		chain := NewChain(nil, NetVersionHandler(31337), ProviderHandler(mock))

		res := chain.Handle(context.Background(), jsonrpc.NewRequest(1, "net_version"))
		require.Nil(t, res.Error)
		assert.JSONEq(t, `"31337"`, string(res.Result))
	})

	t.Run("forwards when unpinned", func(t *testing.T) {
		mock := provider.NewMockProvider()
		mock.HandleResult("net_version", "1")
		chain := NewChain(nil, NetVersionHandler(0), ProviderHandler(mock))

		res := chain.Handle(context.Background(), jsonrpc.NewRequest(1, "net_version"))
		require.Nil(t, res.Error)
		assert.Equal(t, 1, mock.CallCount("net_version"))
	})
}
