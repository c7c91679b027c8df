package pipeline

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/walletmux/walletmux/pkg/wallet"
)

// AccountsHandler answers eth_accounts and eth_requestAccounts directly
// from the account resolver, without touching the execution engine.
// Addresses are returned in resolution order as lowercase hex.
func AccountsHandler(resolver *wallet.Resolver) Handler {
	return func(c *Context) {
		switch c.Request.Method {
		case methodAccounts, methodRequestAccounts:
			addrs := resolver.Addresses()
			encoded := make([]string, len(addrs))
			for i, addr := range addrs {
				encoded[i] = hexutil.Encode(addr.Bytes())
			}
			c.Result(encoded)
		default:
			c.Next()
		}
	}
}

// ClientVersionHandler answers web3_clientVersion with the node's own
// version string.
func ClientVersionHandler(version string) Handler {
	return func(c *Context) {
		if c.Request.Method != methodClientVersion {
			c.Next()
			return
		}
		c.Result(version)
	}
}

// NetVersionHandler answers net_version from the pinned chain id.
// Without a pinned id the call is forwarded to the provider.
func NetVersionHandler(pinned uint64) Handler {
	return func(c *Context) {
		if c.Request.Method != methodNetVersion || pinned == 0 {
			c.Next()
			return
		}
		c.Result(strconv.FormatUint(pinned, 10))
	}
}
