// Package pipeline implements the ordered request-handler chain that
// augments JSON-RPC calls before they reach the execution engine.
//
// A chain is composed explicitly at connection-setup time from the
// resolved network configuration. Each handler inspects the current
// envelope and either mutates it and calls Next, short-circuits with a
// complete response of its own, or issues nested sub-calls back through
// the entire chain before continuing. The terminal handler forwards the
// finished envelope to the provider.
package pipeline

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/walletmux/walletmux/pkg/jsonrpc"
	"github.com/walletmux/walletmux/pkg/log"
	"github.com/walletmux/walletmux/pkg/provider"
)

// Methods the transaction handlers apply to. Every other method passes
// through them unchanged.
const (
	methodSendTransaction     = "eth_sendTransaction"
	methodSendRawTransaction  = "eth_sendRawTransaction"
	methodAccounts            = "eth_accounts"
	methodRequestAccounts     = "eth_requestAccounts"
	methodChainID             = "eth_chainId"
	methodEstimateGas         = "eth_estimateGas"
	methodGasPrice            = "eth_gasPrice"
	methodMaxPriorityFee      = "eth_maxPriorityFeePerGas"
	methodGetTransactionCount = "eth_getTransactionCount"
	methodGetBlockByNumber    = "eth_getBlockByNumber"
	methodClientVersion       = "web3_clientVersion"
	methodNetVersion          = "net_version"
)

// Handler processes one call envelope. Handlers run strictly
// left-to-right for a single call; a handler that does not produce a
// response itself must call c.Next() to delegate downstream.
type Handler func(c *Context)

// Context carries one in-flight call through the handler chain.
type Context struct {
	// Context is the request-scoped Go context. Nested sub-calls
	// inherit it, so they share the outer call's deadline.
	Context context.Context
	// Request is the current, possibly already-mutated envelope.
	Request *jsonrpc.Request
	// Response is set once a handler produces a result or error.
	Response *jsonrpc.Response
	// Logger is the chain logger.
	Logger log.Logger

	chain    *Chain
	handlers []Handler
}

// Next advances to the next handler in the chain. It returns
// immediately if the chain is exhausted.
func (c *Context) Next() {
	if len(c.handlers) == 0 {
		return
	}
	handler := c.handlers[0]
	c.handlers = c.handlers[1:]
	handler(c)
}

// RawResult sets a successful response with a pre-encoded result.
func (c *Context) RawResult(result json.RawMessage) {
	c.Response = jsonrpc.NewResultResponse(c.Request.ID, result)
}

// Result marshals v and sets it as the successful response.
func (c *Context) Result(v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		c.Fail(err, "failed to encode result")
		return
	}
	c.RawResult(raw)
}

// Error sets a structured error response. The error reaches the client
// verbatim.
func (c *Context) Error(rpcErr *jsonrpc.Error) {
	c.Response = jsonrpc.NewErrorResponse(c.Request.ID, rpcErr)
}

// Fail sets an error response from an arbitrary error.
//
//   - *jsonrpc.Error values pass through unmodified, preserving
//     execution-engine codes and revert payloads.
//   - provider.ErrProviderUnavailable maps to an internal error without
//     a data payload, marking it as potentially retryable transport
//     trouble rather than an execution result.
//   - Anything else is hidden behind the fallback message.
func (c *Context) Fail(err error, fallbackMessage string) {
	var rpcErr *jsonrpc.Error
	switch {
	case errors.As(err, &rpcErr):
	case errors.Is(err, provider.ErrProviderUnavailable):
		rpcErr = jsonrpc.NewError(jsonrpc.CodeInternal, "provider unavailable")
	default:
		rpcErr = jsonrpc.AsError(err, fallbackMessage)
	}
	c.Error(rpcErr)
}

// SubCall dispatches a nested request through the entire chain and
// returns its raw result. The nested call runs on the outer call's
// context, so it inherits the outer timeout.
func (c *Context) SubCall(method string, params ...json.RawMessage) (json.RawMessage, error) {
	return c.chain.Call(c.Context, method, params...)
}

// Chain is an ordered, immutable sequence of handlers terminating in
// the provider adapter. A single chain serves all sessions of one
// network connection; handlers carry their own synchronization where
// they share state across concurrent calls.
type Chain struct {
	handlers []Handler
	logger   log.Logger
	subID    atomic.Int64
}

// NewChain composes a chain from the given handlers, in order.
func NewChain(logger log.Logger, handlers ...Handler) *Chain {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Chain{
		handlers: handlers,
		logger:   logger.WithName("pipeline"),
	}
}

// Handle runs one inbound call through the chain and returns its
// response. Handler panics are converted into internal-error responses
// rather than tearing down the session.
func (ch *Chain) Handle(ctx context.Context, req *jsonrpc.Request) (res *jsonrpc.Response) {
	c := &Context{
		Context:  ctx,
		Request:  req,
		Logger:   ch.logger,
		chain:    ch,
		handlers: ch.handlers,
	}

	defer func() {
		if r := recover(); r != nil {
			ch.logger.Error("handler panicked", "method", req.Method, "panic", r)
			res = jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewError(jsonrpc.CodeInternal, "internal server error"))
		}
	}()

	c.Next()
	if c.Response == nil {
		ch.logger.Error("no handler produced a response", "method", req.Method)
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewError(jsonrpc.CodeInternal, "internal server error: no response from handler"))
	}
	return c.Response
}

// Call dispatches an internally-generated request through the whole
// chain, for handlers that need chain-level sub-calls (gas estimation,
// fee lookup, nonce lookup). Error responses convert back into errors.
func (ch *Chain) Call(ctx context.Context, method string, params ...json.RawMessage) (json.RawMessage, error) {
	req := jsonrpc.NewRequest(ch.subID.Add(1), method, params...)
	res := ch.Handle(ctx, req)
	if res.Error != nil {
		return nil, res.Error
	}
	return res.Result, nil
}

// ProviderHandler is the terminal chain element: it forwards the
// finished envelope to the execution engine and relays the raw result.
func ProviderHandler(p provider.Provider) Handler {
	return func(c *Context) {
		result, err := p.Call(c.Context, c.Request.Method, c.Request.Params)
		if err != nil {
			c.Fail(err, "provider call failed")
			return
		}
		c.RawResult(result)
	}
}

// writeTxArgs re-encodes the mutated args back into params[0].
func writeTxArgs(c *Context, args *jsonrpc.TxArgs) bool {
	raw, err := args.Encode()
	if err != nil {
		c.Fail(err, "failed to encode transaction object")
		return false
	}
	if len(c.Request.Params) == 0 {
		c.Request.Params = []json.RawMessage{raw}
	} else {
		c.Request.Params[0] = raw
	}
	return true
}
