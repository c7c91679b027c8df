package pipeline

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/walletmux/walletmux/pkg/jsonrpc"
	"github.com/walletmux/walletmux/pkg/wallet"
)

// SigningHandler signs fully-assembled transactions with the sender's
// local key and rewrites the outgoing call to eth_sendRawTransaction.
// It is composed into the chain only for managed (HD wallet or
// local-keys) modes; fixed mode forwards the unsigned call as-is.
//
// An explicit "from" outside the resolved account set is rejected here,
// after all fee and nonce handlers have run but before anything reaches
// the provider.
func SigningHandler(resolver *wallet.Resolver) Handler {
	return func(c *Context) {
		if c.Request.Method != methodSendTransaction {
			c.Next()
			return
		}

		args, decodeErr := jsonrpc.DecodeTxArgs(c.Request.Params)
		if decodeErr != nil {
			c.Error(decodeErr)
			return
		}
		if args.From == nil {
			c.Error(jsonrpc.NewError(jsonrpc.CodeInternal, "internal error: sender not resolved before signing"))
			return
		}

		account, err := resolver.Signer(*args.From)
		if err != nil {
			c.Error(jsonrpc.Errorf(jsonrpc.CodeInvalidInput,
				"unknown account %s", hexutil.Encode(args.From.Bytes())))
			return
		}

		signed, rpcErr := signTransaction(account, args)
		if rpcErr != nil {
			c.Error(rpcErr)
			return
		}

		raw, err := signed.MarshalBinary()
		if err != nil {
			c.Fail(err, "failed to encode signed transaction")
			return
		}
		rawParam, err := jsonrpc.MarshalParam(hexutil.Encode(raw))
		if err != nil {
			c.Fail(err, "failed to encode signed transaction")
			return
		}

		c.Request.Method = methodSendRawTransaction
		c.Request.Params = []json.RawMessage{rawParam}
		c.Next()
	}
}

// signTransaction builds the typed transaction from the finished args
// and signs it. All fields must already be final; missing ones indicate
// a mis-ordered chain and surface as internal errors.
func signTransaction(account wallet.Account, args *jsonrpc.TxArgs) (*types.Transaction, *jsonrpc.Error) {
	if args.ChainID == nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeInternal, "internal error: chain id not stamped before signing")
	}
	if args.Nonce == nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeInternal, "internal error: nonce not assigned before signing")
	}
	if args.Gas == nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeInternal, "internal error: gas limit not set before signing")
	}

	chainID := (*big.Int)(args.ChainID)
	value := (*big.Int)(args.Value)
	if value == nil {
		value = new(big.Int)
	}

	var tx *types.Transaction
	if args.HasDynamicFees() {
		if args.MaxFeePerGas == nil || args.MaxPriorityFeePerGas == nil {
			return nil, jsonrpc.NewError(jsonrpc.CodeInternal, "internal error: incomplete fee pair at signing")
		}
		tx = types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     uint64(*args.Nonce),
			GasTipCap: (*big.Int)(args.MaxPriorityFeePerGas),
			GasFeeCap: (*big.Int)(args.MaxFeePerGas),
			Gas:       uint64(*args.Gas),
			To:        args.To,
			Value:     value,
			Data:      args.Payload(),
		})
	} else {
		if args.GasPrice == nil {
			return nil, jsonrpc.NewError(jsonrpc.CodeInternal, "internal error: gas price not filled before signing")
		}
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    uint64(*args.Nonce),
			GasPrice: (*big.Int)(args.GasPrice),
			Gas:      uint64(*args.Gas),
			To:       args.To,
			Value:    value,
			Data:     args.Payload(),
		})
	}

	signed, err := account.SignTx(tx, chainID)
	if err != nil {
		return nil, jsonrpc.Errorf(jsonrpc.CodeInternal, "failed to sign transaction: %v", err)
	}
	return signed, nil
}
