package pipeline

import (
	"github.com/walletmux/walletmux/pkg/jsonrpc"
	"github.com/walletmux/walletmux/pkg/wallet"
)

// SenderHandler fills an absent "from" with the resolver's default
// address. An explicitly supplied "from" is never overwritten, so
// resolving twice yields the same sender. Unknown explicit senders are
// rejected later by the signing handler, which owns the account set
// check for managed modes.
func SenderHandler(resolver *wallet.Resolver) Handler {
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
			from := resolver.Default()
			args.From = &from
			if !writeTxArgs(c, args) {
				return
			}
		}

		c.Next()
	}
}
