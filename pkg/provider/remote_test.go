package provider

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletmux/walletmux/pkg/jsonrpc"
)

// stubRPCError mimics an execution-engine error as surfaced by the
// upstream RPC client.
type stubRPCError struct {
	code int
	msg  string
}

func (e *stubRPCError) Error() string  { return e.msg }
func (e *stubRPCError) ErrorCode() int { return e.code }

// stubDataError additionally carries a revert payload.
type stubDataError struct {
	stubRPCError
	data any
}

func (e *stubDataError) ErrorData() any { return e.data }

func TestClassifyError(t *testing.T) {
	t.Run("execution error keeps its code and message", func(t *testing.T) {
		classified := classifyError(&stubRPCError{code: 3, msg: "execution reverted"})

		var rpcErr *jsonrpc.Error
		require.True(t, errors.As(classified, &rpcErr))
		assert.Equal(t, int64(3), rpcErr.Code)
		assert.Equal(t, "execution reverted", rpcErr.Message)
		assert.Nil(t, rpcErr.Data)
	})

	t.Run("revert payload passes through as data", func(t *testing.T) {
		classified := classifyError(&stubDataError{
			stubRPCError: stubRPCError{code: 3, msg: "execution reverted: Not enough balance"},
			data:         "0x08c379a0",
		})

		var rpcErr *jsonrpc.Error
		require.True(t, errors.As(classified, &rpcErr))
		assert.JSONEq(t, `"0x08c379a0"`, string(rpcErr.Data))
	})

	t.Run("nil payload is dropped", func(t *testing.T) {
		classified := classifyError(&stubDataError{
			stubRPCError: stubRPCError{code: -32000, msg: "nonce too low"},
		})

		var rpcErr *jsonrpc.Error
		require.True(t, errors.As(classified, &rpcErr))
		assert.Nil(t, rpcErr.Data)
	})

	t.Run("transport failure maps to ErrProviderUnavailable", func(t *testing.T) {
		classified := classifyError(fmt.Errorf("dial tcp 127.0.0.1:8545: connection refused"))

		assert.True(t, errors.Is(classified, ErrProviderUnavailable))
		var rpcErr *jsonrpc.Error
		assert.False(t, errors.As(classified, &rpcErr))
	})
}

func TestMockProvider(t *testing.T) {
	t.Run("unregistered methods answer method-not-found", func(t *testing.T) {
		mock := NewMockProvider()
		_, err := mock.Call(t.Context(), "eth_blockNumber", nil)

		var rpcErr *jsonrpc.Error
		require.True(t, errors.As(err, &rpcErr))
		assert.Equal(t, jsonrpc.CodeMethodNotFound, rpcErr.Code)
	})

	t.Run("records calls in dispatch order", func(t *testing.T) {
		mock := NewMockProvider()
		mock.HandleResult("eth_blockNumber", "0x1")

		_, err := mock.Call(t.Context(), "eth_blockNumber", nil)
		require.NoError(t, err)
		_, err = mock.Call(t.Context(), "eth_blockNumber", nil)
		require.NoError(t, err)

		assert.Equal(t, 2, mock.CallCount("eth_blockNumber"))
		assert.Zero(t, mock.CallCount("eth_chainId"))
	})
}
