package pipeline

import (
	"encoding/json"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/walletmux/walletmux/pkg/jsonrpc"
)

// chainIDHandler stamps the chain id on outgoing transactions. When the
// network configuration pins a chain id the handler also answers
// eth_chainId directly; otherwise it resolves the id once through a
// nested eth_chainId sub-call and caches it for the connection lifetime.
type chainIDHandler struct {
	pinned *big.Int

	mu     sync.Mutex
	cached *big.Int
}

// ChainIDHandler creates the chain-id stamping handler. pinned == 0
// means no pinned chain id.
func ChainIDHandler(pinned uint64) Handler {
	h := &chainIDHandler{}
	if pinned != 0 {
		h.pinned = new(big.Int).SetUint64(pinned)
	}
	return h.handle
}

func (h *chainIDHandler) handle(c *Context) {
	if c.Request.Method == methodChainID && h.pinned != nil {
		c.Result(hexutil.EncodeBig(h.pinned))
		return
	}
	if c.Request.Method != methodSendTransaction {
		c.Next()
		return
	}

	chainID, err := h.chainID(c)
	if err != nil {
		c.Fail(err, "failed to resolve chain id")
		return
	}

	args, decodeErr := jsonrpc.DecodeTxArgs(c.Request.Params)
	if decodeErr != nil {
		c.Error(decodeErr)
		return
	}

	if args.ChainID == nil {
		args.ChainID = (*hexutil.Big)(chainID)
		if !writeTxArgs(c, args) {
			return
		}
	} else if (*big.Int)(args.ChainID).Cmp(chainID) != 0 {
		c.Error(jsonrpc.Errorf(jsonrpc.CodeInvalidParams,
			"chain id mismatch: transaction specifies %s, network is %s",
			(*big.Int)(args.ChainID), chainID))
		return
	}

	c.Next()
}

// chainID returns the pinned value, the cached value, or resolves it
// through a sub-call. Concurrent first calls may race to fetch; the
// result is identical, so last-write-wins is harmless.
func (h *chainIDHandler) chainID(c *Context) (*big.Int, error) {
	if h.pinned != nil {
		return h.pinned, nil
	}

	h.mu.Lock()
	cached := h.cached
	h.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	raw, err := c.SubCall(methodChainID)
	if err != nil {
		return nil, err
	}
	var quantity hexutil.Big
	if err := json.Unmarshal(raw, &quantity); err != nil {
		return nil, jsonrpc.Errorf(jsonrpc.CodeInternal, "malformed eth_chainId result: %v", err)
	}

	resolved := (*big.Int)(&quantity)
	h.mu.Lock()
	h.cached = resolved
	h.mu.Unlock()
	return resolved, nil
}
