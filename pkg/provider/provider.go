// Package provider defines the narrow interface to the opaque execution
// engine and its remote JSON-RPC implementation.
package provider

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

var (
	// ErrProviderUnavailable marks transport-level failures (connection
	// refused, timeout, closed connection). These carry no execution
	// payload and are potentially retryable by the caller, unlike
	// execution-level errors which pass through as *jsonrpc.Error.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrSubscriptionsUnsupported is returned when the upstream
	// transport cannot deliver notifications (plain HTTP).
	ErrSubscriptionsUnsupported = errors.New("subscriptions are not supported by the upstream transport")
)

// Provider is the single capability exposed by the execution engine:
// send a finished call and wait for its raw result. It is also used
// recursively by pipeline handlers for sub-calls (eth_estimateGas,
// eth_gasPrice, eth_getTransactionCount, eth_chainId).
//
// Implementations return either the raw JSON result, a *jsonrpc.Error
// for execution-level failures (reverts, invalid input) preserved
// verbatim, or an error wrapping ErrProviderUnavailable for transport
// failures. No retries happen at this layer.
type Provider interface {
	Call(ctx context.Context, method string, params []json.RawMessage) (json.RawMessage, error)
}

// Subscription is one active upstream event subscription.
type Subscription interface {
	// Unsubscribe cancels the subscription and releases its resources.
	// Safe to call more than once.
	Unsubscribe()
	// Err yields the terminal error if the subscription dies; the
	// channel is closed on Unsubscribe.
	Err() <-chan error
}

// SubscriptionBackend is the event-subscription hook of the execution
// engine. Deliveries are written to sink until the subscription ends.
type SubscriptionBackend interface {
	Subscribe(ctx context.Context, params []json.RawMessage, sink chan<- json.RawMessage) (Subscription, error)
}
