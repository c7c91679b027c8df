package pipeline

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/walletmux/walletmux/pkg/jsonrpc"
)

// defaultPriorityFee is used when the network does not implement
// eth_maxPriorityFeePerGas: 1 gwei.
var defaultPriorityFee = big.NewInt(1_000_000_000)

// feeHandler fills missing gas price fields on outgoing transactions.
// It matches whichever fee scheme the caller partially specified:
// EIP-1559 fields are completed from current network fee data when the
// chain has a base fee, legacy gasPrice otherwise. Mixing the two
// schemes in one call is rejected before the transaction can reach the
// provider.
type feeHandler struct {
	gasPriceOverride *big.Int
}

// FeeHandler creates the fee-filling handler. A non-nil override is
// used as the legacy gas price whenever the caller supplied no fee
// fields at all.
func FeeHandler(gasPriceOverride *big.Int) Handler {
	h := &feeHandler{gasPriceOverride: gasPriceOverride}
	return h.handle
}

func (h *feeHandler) handle(c *Context) {
	if c.Request.Method != methodSendTransaction {
		c.Next()
		return
	}

	args, decodeErr := jsonrpc.DecodeTxArgs(c.Request.Params)
	if decodeErr != nil {
		c.Error(decodeErr)
		return
	}

	if args.HasLegacyFees() && args.HasDynamicFees() {
		c.Error(jsonrpc.NewError(jsonrpc.CodeInvalidParams,
			"transaction cannot specify both gasPrice and maxFeePerGas/maxPriorityFeePerGas"))
		return
	}

	switch {
	case args.HasLegacyFees():
		// Caller chose the legacy scheme and supplied it completely.
	case args.MaxFeePerGas != nil && args.MaxPriorityFeePerGas != nil:
		// Caller supplied the full EIP-1559 pair.
	case !args.HasDynamicFees() && h.gasPriceOverride != nil:
		args.GasPrice = (*hexutil.Big)(h.gasPriceOverride)
		if !writeTxArgs(c, args) {
			return
		}
	default:
		if err := h.fill(c, args); err != nil {
			c.Fail(err, "failed to resolve network fee data")
			return
		}
		if !writeTxArgs(c, args) {
			return
		}
	}

	c.Next()
}

// fill completes the fee fields from current network data.
func (h *feeHandler) fill(c *Context, args *jsonrpc.TxArgs) error {
	baseFee, err := h.latestBaseFee(c)
	if err != nil {
		return err
	}

	if baseFee == nil {
		// Pre-1559 network: dynamic fee fields cannot be honored.
		if args.HasDynamicFees() {
			return jsonrpc.NewError(jsonrpc.CodeInvalidInput,
				"EIP-1559 fee fields are not supported: the network has no base fee")
		}
		raw, err := c.SubCall(methodGasPrice)
		if err != nil {
			return err
		}
		var gasPrice hexutil.Big
		if err := json.Unmarshal(raw, &gasPrice); err != nil {
			return jsonrpc.Errorf(jsonrpc.CodeInternal, "malformed eth_gasPrice result: %v", err)
		}
		args.GasPrice = &gasPrice
		return nil
	}

	tip := (*big.Int)(args.MaxPriorityFeePerGas)
	if tip == nil {
		tip = h.priorityFee(c)
	}
	if args.MaxPriorityFeePerGas == nil {
		args.MaxPriorityFeePerGas = (*hexutil.Big)(tip)
	}
	if args.MaxFeePerGas == nil {
		// Twice the base fee keeps the cap valid across several
		// maximally-congested blocks.
		maxFee := new(big.Int).Mul(baseFee, big.NewInt(2))
		maxFee.Add(maxFee, tip)
		args.MaxFeePerGas = (*hexutil.Big)(maxFee)
	}
	return nil
}

// latestBaseFee returns the latest block's base fee, or nil when the
// network predates EIP-1559.
func (h *feeHandler) latestBaseFee(c *Context) (*big.Int, error) {
	blockTag, _ := jsonrpc.MarshalParam("latest")
	fullTxs, _ := jsonrpc.MarshalParam(false)
	raw, err := c.SubCall(methodGetBlockByNumber, blockTag, fullTxs)
	if err != nil {
		return nil, err
	}

	var block struct {
		BaseFeePerGas *hexutil.Big `json:"baseFeePerGas"`
	}
	if err := json.Unmarshal(raw, &block); err != nil {
		return nil, jsonrpc.Errorf(jsonrpc.CodeInternal, "malformed eth_getBlockByNumber result: %v", err)
	}
	return (*big.Int)(block.BaseFeePerGas), nil
}

// priorityFee asks the network for a tip suggestion, falling back to a
// fixed default when the method is not implemented.
func (h *feeHandler) priorityFee(c *Context) *big.Int {
	raw, err := c.SubCall(methodMaxPriorityFee)
	if err != nil {
		return defaultPriorityFee
	}
	var tip hexutil.Big
	if err := json.Unmarshal(raw, &tip); err != nil {
		return defaultPriorityFee
	}
	return (*big.Int)(&tip)
}
