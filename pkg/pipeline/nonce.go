package pipeline

import (
	"encoding/json"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/walletmux/walletmux/pkg/jsonrpc"
)

// NonceTracker keeps the per-sender "next nonce" counter shared by all
// concurrent calls of one network connection. Assignments for the same
// sender run inside an exclusive per-address critical section, so
// interleaved transactions from one sender always receive a contiguous
// run of distinct nonces. Unrelated addresses never contend.
type NonceTracker struct {
	mu    sync.Mutex
	addrs map[common.Address]*addressNonce
}

type addressNonce struct {
	mu    sync.Mutex
	known bool
	next  uint64
}

// NewNonceTracker creates an empty tracker.
func NewNonceTracker() *NonceTracker {
	return &NonceTracker{addrs: make(map[common.Address]*addressNonce)}
}

func (t *NonceTracker) forAddress(addr common.Address) *addressNonce {
	t.mu.Lock()
	defer t.mu.Unlock()
	an, ok := t.addrs[addr]
	if !ok {
		an = &addressNonce{}
		t.addrs[addr] = an
	}
	return an
}

// NonceHandler assigns the next nonce to transactions that omit one,
// reading the sender's current transaction count on first use and
// counting up from there. The critical section covers read, assign and
// commit, and releases on every exit path; the downstream send itself
// runs outside the lock. A failed send invalidates the cached counter
// so the next call re-reads the chain.
func NonceHandler(tracker *NonceTracker) Handler {
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
		if args.Nonce != nil {
			c.Next()
			return
		}
		if args.From == nil {
			c.Error(jsonrpc.NewError(jsonrpc.CodeInternal, "internal error: sender not resolved before nonce assignment"))
			return
		}

		an := tracker.forAddress(*args.From)
		nonce, err := assignNonce(c, an, *args.From)
		if err != nil {
			c.Fail(err, "failed to fetch transaction count")
			return
		}

		assigned := hexutil.Uint64(nonce)
		args.Nonce = &assigned
		if !writeTxArgs(c, args) {
			return
		}

		c.Next()

		if c.Response != nil && c.Response.Error != nil {
			an.mu.Lock()
			an.known = false
			an.mu.Unlock()
		}
	}
}

// assignNonce performs the read-assign-commit step under the
// per-address lock. The first assignment for an address blocks on a
// nested eth_getTransactionCount sub-call while holding the lock, which
// is what serializes competing first assignments.
func assignNonce(c *Context, an *addressNonce, from common.Address) (uint64, error) {
	an.mu.Lock()
	defer an.mu.Unlock()

	if !an.known {
		count, err := fetchTransactionCount(c, from)
		if err != nil {
			return 0, err
		}
		an.next = count
		an.known = true
	}

	nonce := an.next
	an.next++
	return nonce, nil
}

func fetchTransactionCount(c *Context, from common.Address) (uint64, error) {
	addrParam, _ := jsonrpc.MarshalParam(from)
	blockTag, _ := jsonrpc.MarshalParam("pending")
	raw, err := c.SubCall(methodGetTransactionCount, addrParam, blockTag)
	if err != nil {
		return 0, err
	}

	var count hexutil.Uint64
	if err := json.Unmarshal(raw, &count); err != nil {
		return 0, jsonrpc.Errorf(jsonrpc.CodeInternal, "malformed eth_getTransactionCount result: %v", err)
	}
	return uint64(count), nil
}
