package provider

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/walletmux/walletmux/pkg/jsonrpc"
)

var _ Provider = (*MockProvider)(nil)

// MockHandler produces the raw result (or error) for one stubbed method.
type MockHandler func(params []json.RawMessage) (json.RawMessage, error)

// MockCall records one dispatched call for later inspection.
type MockCall struct {
	Method string
	Params []json.RawMessage
}

// MockProvider is a scriptable Provider for tests. Methods without a
// registered handler answer with a method-not-found RPC error, so a test
// can also assert that a call never reached the provider.
//
// MockProvider is safe for concurrent use.
type MockProvider struct {
	mu       sync.Mutex
	handlers map[string]MockHandler
	calls    []MockCall
}

// NewMockProvider creates an empty mock.
func NewMockProvider() *MockProvider {
	return &MockProvider{handlers: make(map[string]MockHandler)}
}

// Handle registers a handler for a method.
func (m *MockProvider) Handle(method string, handler MockHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[method] = handler
}

// HandleResult registers a static result for a method.
func (m *MockProvider) HandleResult(method string, result any) {
	raw, err := json.Marshal(result)
	if err != nil {
		panic(err)
	}
	m.Handle(method, func([]json.RawMessage) (json.RawMessage, error) {
		return raw, nil
	})
}

// HandleError registers a static error for a method.
func (m *MockProvider) HandleError(method string, callErr error) {
	m.Handle(method, func([]json.RawMessage) (json.RawMessage, error) {
		return nil, callErr
	})
}

// Call records the call and dispatches it to the registered handler.
func (m *MockProvider) Call(_ context.Context, method string, params []json.RawMessage) (json.RawMessage, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Method: method, Params: params})
	handler, ok := m.handlers[method]
	m.mu.Unlock()

	if !ok {
		return nil, jsonrpc.Errorf(jsonrpc.CodeMethodNotFound, "method %s not found", method)
	}
	return handler(params)
}

// Calls returns all recorded calls for a method, in dispatch order.
func (m *MockProvider) Calls(method string) []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []MockCall
	for _, call := range m.calls {
		if call.Method == method {
			out = append(out, call)
		}
	}
	return out
}

// CallCount returns the number of recorded calls for a method.
func (m *MockProvider) CallCount(method string) int {
	return len(m.Calls(method))
}
