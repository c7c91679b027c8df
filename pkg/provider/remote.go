package provider

import (
	"context"
	"encoding/json"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"

	"github.com/walletmux/walletmux/pkg/jsonrpc"
)

var (
	_ Provider            = (*RemoteProvider)(nil)
	_ SubscriptionBackend = (*RemoteProvider)(nil)
)

// RemoteProvider forwards finished envelopes to a remote node over
// go-ethereum's RPC client (HTTP, WebSocket or IPC depending on the URL
// scheme).
type RemoteProvider struct {
	client *gethrpc.Client
}

// Dial connects to the remote node at the given URL.
func Dial(ctx context.Context, url string) (*RemoteProvider, error) {
	client, err := gethrpc.DialContext(ctx, url)
	if err != nil {
		return nil, errors.Wrapf(ErrProviderUnavailable, "failed to dial %s: %v", url, err)
	}
	return &RemoteProvider{client: client}, nil
}

// NewRemoteProvider wraps an existing RPC client.
func NewRemoteProvider(client *gethrpc.Client) *RemoteProvider {
	return &RemoteProvider{client: client}
}

// Call sends the finished envelope and returns the raw result.
func (p *RemoteProvider) Call(ctx context.Context, method string, params []json.RawMessage) (json.RawMessage, error) {
	args := make([]any, len(params))
	for i, param := range params {
		args[i] = param
	}

	var result json.RawMessage
	if err := p.client.CallContext(ctx, &result, method, args...); err != nil {
		return nil, classifyError(err)
	}
	return result, nil
}

// Subscribe opens an upstream "eth" subscription and streams deliveries
// into sink. Plain HTTP upstreams report ErrSubscriptionsUnsupported.
func (p *RemoteProvider) Subscribe(ctx context.Context, params []json.RawMessage, sink chan<- json.RawMessage) (Subscription, error) {
	args := make([]any, len(params))
	for i, param := range params {
		args[i] = param
	}

	sub, err := p.client.Subscribe(ctx, "eth", sink, args...)
	if err != nil {
		if errors.Is(err, gethrpc.ErrNotificationsUnsupported) {
			return nil, ErrSubscriptionsUnsupported
		}
		return nil, classifyError(err)
	}
	return sub, nil
}

// Close tears down the underlying client connection.
func (p *RemoteProvider) Close() {
	p.client.Close()
}

// classifyError separates execution-level errors, which pass through
// with their original code, message and data, from transport failures,
// which surface as ErrProviderUnavailable.
func classifyError(err error) error {
	var rpcErr gethrpc.Error
	if errors.As(err, &rpcErr) {
		converted := jsonrpc.NewError(int64(rpcErr.ErrorCode()), rpcErr.Error())
		var dataErr gethrpc.DataError
		if errors.As(err, &dataErr) {
			if data := dataErr.ErrorData(); data != nil {
				converted = converted.WithData(data)
			}
		}
		return converted
	}
	return errors.Wrapf(ErrProviderUnavailable, "%v", err)
}
