package jsonrpc

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// TxArgs is the structured view of params[0] for transaction-shaped
// methods (eth_sendTransaction, eth_estimateGas, eth_call). Optional
// fields are nil until a pipeline handler fills them; they are never
// encoded as JSON null. The hexutil field types guarantee canonical
// lowercase hex on encode.
type TxArgs struct {
	From                 *common.Address `json:"from,omitempty"`
	To                   *common.Address `json:"to,omitempty"`
	Gas                  *hexutil.Uint64 `json:"gas,omitempty"`
	GasPrice             *hexutil.Big    `json:"gasPrice,omitempty"`
	MaxFeePerGas         *hexutil.Big    `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *hexutil.Big    `json:"maxPriorityFeePerGas,omitempty"`
	Nonce                *hexutil.Uint64 `json:"nonce,omitempty"`
	Value                *hexutil.Big    `json:"value,omitempty"`
	Data                 *hexutil.Bytes  `json:"data,omitempty"`
	Input                *hexutil.Bytes  `json:"input,omitempty"`
	ChainID              *hexutil.Big    `json:"chainId,omitempty"`
}

// DecodeTxArgs parses params[0] into a TxArgs view.
func DecodeTxArgs(params []json.RawMessage) (*TxArgs, *Error) {
	if len(params) == 0 {
		return nil, NewError(CodeInvalidParams, "missing transaction object")
	}
	args := &TxArgs{}
	if err := json.Unmarshal(params[0], args); err != nil {
		return nil, Errorf(CodeInvalidParams, "invalid transaction object: %v", err)
	}
	return args, nil
}

// Encode serializes the args back into a raw params[0] value.
func (a *TxArgs) Encode() (json.RawMessage, error) {
	return json.Marshal(a)
}

// Payload returns the calldata, preferring "data" over the "input" alias.
func (a *TxArgs) Payload() []byte {
	if a.Data != nil {
		return *a.Data
	}
	if a.Input != nil {
		return *a.Input
	}
	return nil
}

// HasLegacyFees reports whether the caller specified the legacy gas price.
func (a *TxArgs) HasLegacyFees() bool {
	return a.GasPrice != nil
}

// HasDynamicFees reports whether the caller specified any EIP-1559 fee field.
func (a *TxArgs) HasDynamicFees() bool {
	return a.MaxFeePerGas != nil || a.MaxPriorityFeePerGas != nil
}
