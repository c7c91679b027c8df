package rpcserver

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"

	"github.com/walletmux/walletmux/pkg/jsonrpc"
	"github.com/walletmux/walletmux/pkg/log"
	"github.com/walletmux/walletmux/pkg/provider"
)

const (
	methodSubscribe   = "eth_subscribe"
	methodUnsubscribe = "eth_unsubscribe"

	// subscriptionBufferSize is the per-subscription delivery queue
	// capacity between the backend and the socket write pump.
	subscriptionBufferSize = 64
)

// session owns the subscriptions of one socket connection. Creating,
// cancelling and delivering all happen against this session only; when
// the connection goes away every live subscription is released
// upstream.
type session struct {
	connectionID string
	backend      provider.SubscriptionBackend
	conn         *wsConnection
	logger       log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	subs map[string]provider.Subscription
}

func newSession(parentCtx context.Context, connectionID string, backend provider.SubscriptionBackend, conn *wsConnection, logger log.Logger) *session {
	ctx, cancel := context.WithCancel(parentCtx)
	return &session{
		connectionID: connectionID,
		backend:      backend,
		conn:         conn,
		logger:       logger.WithKV("connectionID", connectionID),
		ctx:          ctx,
		cancel:       cancel,
		subs:         make(map[string]provider.Subscription),
	}
}

// subscribe opens an upstream subscription and starts forwarding its
// deliveries to the socket as eth_subscription notifications. The
// result is the session-scoped subscription id.
func (s *session) subscribe(req *jsonrpc.Request) *jsonrpc.Response {
	if s.backend == nil {
		return jsonrpc.NewErrorResponse(req.ID,
			jsonrpc.NewError(jsonrpc.CodeMethodNotFound, "subscriptions are not supported"))
	}

	sink := make(chan json.RawMessage, subscriptionBufferSize)
	sub, err := s.backend.Subscribe(s.ctx, req.Params, sink)
	if err != nil {
		return jsonrpc.NewErrorResponse(req.ID, subscribeError(err))
	}

	subID := newSubscriptionID()
	s.mu.Lock()
	s.subs[subID] = sub
	s.mu.Unlock()

	s.wg.Add(1)
	go s.forward(subID, sink, sub)

	s.logger.Debug("subscription opened", "subscriptionID", subID)

	raw, marshalErr := jsonrpc.MarshalParam(subID)
	if marshalErr != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.AsError(marshalErr, "failed to encode subscription id"))
	}
	return jsonrpc.NewResultResponse(req.ID, raw)
}

// unsubscribe cancels one subscription by id. Unknown ids answer false
// instead of erroring, matching what execution engines do.
func (s *session) unsubscribe(req *jsonrpc.Request) *jsonrpc.Response {
	var subID string
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params[0], &subID); err != nil {
			return jsonrpc.NewErrorResponse(req.ID,
				jsonrpc.NewError(jsonrpc.CodeInvalidParams, "subscription id must be a string"))
		}
	}

	s.mu.Lock()
	sub, ok := s.subs[subID]
	if ok {
		delete(s.subs, subID)
	}
	s.mu.Unlock()

	if ok {
		sub.Unsubscribe()
		s.logger.Debug("subscription cancelled", "subscriptionID", subID)
	}

	raw, marshalErr := jsonrpc.MarshalParam(ok)
	if marshalErr != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.AsError(marshalErr, "failed to encode result"))
	}
	return jsonrpc.NewResultResponse(req.ID, raw)
}

// forward pumps one subscription's deliveries onto the socket until the
// subscription fails, is cancelled, or the session closes.
func (s *session) forward(subID string, sink <-chan json.RawMessage, sub provider.Subscription) {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case err := <-sub.Err():
			if err != nil {
				s.logger.Warn("subscription failed upstream", "subscriptionID", subID, "error", err)
			}
			s.mu.Lock()
			delete(s.subs, subID)
			s.mu.Unlock()
			return
		case payload, ok := <-sink:
			if !ok {
				return
			}
			encoded, err := json.Marshal(jsonrpc.NewNotification(subID, payload))
			if err != nil {
				s.logger.Error("failed to encode notification", "subscriptionID", subID, "error", err)
				continue
			}
			s.conn.writeRaw(encoded)
		}
	}
}

// close releases every live subscription. Called exactly once when the
// connection terminates.
func (s *session) close() {
	s.cancel()

	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[string]provider.Subscription)
	s.mu.Unlock()

	for id, sub := range subs {
		sub.Unsubscribe()
		s.logger.Debug("subscription released", "subscriptionID", id)
	}
	s.wg.Wait()
}

// subscribeError maps backend failures onto protocol errors.
func subscribeError(err error) *jsonrpc.Error {
	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	if errors.Is(err, provider.ErrSubscriptionsUnsupported) {
		return jsonrpc.NewError(jsonrpc.CodeMethodNotFound, "subscriptions are not supported")
	}
	return jsonrpc.AsError(err, "failed to open subscription")
}

// newSubscriptionID generates a random session-scoped subscription id
// in the hex-quantity shape clients expect.
func newSubscriptionID() string {
	buf := make([]byte, 16)
	rand.Read(buf)
	return hexutil.Encode(buf)
}
