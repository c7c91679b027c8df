package pipeline

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"github.com/walletmux/walletmux/pkg/jsonrpc"
)

// gasLimitHandler fills an absent gas limit by running the so-far
// assembled transaction through a nested eth_estimateGas sub-call and
// padding the estimate by a configurable safety margin. Estimation
// failures (including execution reverts) propagate verbatim so tooling
// can render the revert reason.
type gasLimitHandler struct {
	override   uint64
	multiplier decimal.Decimal
}

// GasLimitHandler creates the gas-limit handler. override > 0 skips
// estimation entirely; multiplier pads the estimate (1 means no pad).
func GasLimitHandler(override uint64, multiplier decimal.Decimal) Handler {
	if multiplier.LessThanOrEqual(decimal.Zero) {
		multiplier = decimal.NewFromInt(1)
	}
	h := &gasLimitHandler{override: override, multiplier: multiplier}
	return h.handle
}

func (h *gasLimitHandler) handle(c *Context) {
	if c.Request.Method != methodSendTransaction {
		c.Next()
		return
	}

	args, decodeErr := jsonrpc.DecodeTxArgs(c.Request.Params)
	if decodeErr != nil {
		c.Error(decodeErr)
		return
	}
	if args.Gas != nil {
		c.Next()
		return
	}

	if h.override > 0 {
		gas := hexutil.Uint64(h.override)
		args.Gas = &gas
	} else {
		estimated, err := h.estimate(c, args)
		if err != nil {
			c.Fail(err, "gas estimation failed")
			return
		}
		gas := hexutil.Uint64(estimated)
		args.Gas = &gas
	}

	if !writeTxArgs(c, args) {
		return
	}
	c.Next()
}

func (h *gasLimitHandler) estimate(c *Context, args *jsonrpc.TxArgs) (uint64, error) {
	encoded, err := args.Encode()
	if err != nil {
		return 0, err
	}
	raw, err := c.SubCall(methodEstimateGas, encoded)
	if err != nil {
		return 0, err
	}

	var estimate hexutil.Uint64
	if err := json.Unmarshal(raw, &estimate); err != nil {
		return 0, jsonrpc.Errorf(jsonrpc.CodeInternal, "malformed eth_estimateGas result: %v", err)
	}

	padded := decimal.NewFromUint64(uint64(estimate)).Mul(h.multiplier).Ceil()
	return padded.BigInt().Uint64(), nil
}
