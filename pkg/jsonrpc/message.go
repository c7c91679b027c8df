package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Version is the protocol version stamped on every envelope.
const Version = "2.0"

var null = json.RawMessage("null")

// ID is a request identifier. JSON-RPC allows numbers, strings and null;
// the caller assigns it and the pipeline echoes it back verbatim in the
// response. Uniqueness is the caller's responsibility.
type ID struct {
	raw json.RawMessage
}

// NewID creates a numeric request id.
func NewID(n int64) ID {
	return ID{raw: json.RawMessage(strconv.FormatInt(n, 10))}
}

// NewStringID creates a string request id.
func NewStringID(s string) ID {
	raw, _ := json.Marshal(s)
	return ID{raw: raw}
}

// IsNull reports whether the id is absent or the JSON literal null.
func (id ID) IsNull() bool {
	return len(id.raw) == 0 || bytes.Equal(id.raw, null)
}

// String returns the raw JSON text of the id, "null" when absent.
func (id ID) String() string {
	if len(id.raw) == 0 {
		return "null"
	}
	return string(id.raw)
}

// MarshalJSON implements json.Marshaler, emitting the id verbatim.
func (id ID) MarshalJSON() ([]byte, error) {
	if len(id.raw) == 0 {
		return null, nil
	}
	return id.raw, nil
}

// UnmarshalJSON implements json.Unmarshaler. Only numbers, strings and
// null are accepted; the raw bytes are kept so the response echoes the
// id bit-for-bit.
func (id *ID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, null) {
		id.raw = nil
		return nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return fmt.Errorf("invalid string id: %w", err)
		}
	case '{', '[', 't', 'f':
		return fmt.Errorf("invalid id type: %s", string(trimmed))
	default:
		var n json.Number
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return fmt.Errorf("invalid numeric id: %w", err)
		}
	}
	id.raw = append(json.RawMessage(nil), trimmed...)
	return nil
}

// Request is one inbound JSON-RPC call envelope.
type Request struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      ID                `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params,omitempty"`
}

// NewRequest creates a request envelope with a numeric id.
func NewRequest(id int64, method string, params ...json.RawMessage) *Request {
	return &Request{
		JSONRPC: Version,
		ID:      NewID(id),
		Method:  method,
		Params:  params,
	}
}

// DecodeRequest parses a raw envelope. Malformed JSON or a missing method
// yields an *Error with the appropriate protocol code; the caller is
// expected to answer with an id:null error response and keep the
// connection usable.
func DecodeRequest(data []byte) (*Request, *Error) {
	req := &Request{}
	if err := json.Unmarshal(data, req); err != nil {
		return nil, Errorf(CodeParse, "invalid JSON: %v", err)
	}
	if req.Method == "" {
		return nil, NewError(CodeInvalidRequest, "missing method")
	}
	return req, nil
}

// MarshalParam encodes a Go value as a single positional parameter.
func MarshalParam(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal parameter: %w", err)
	}
	return raw, nil
}

// Response is one outbound JSON-RPC response envelope. Exactly one of
// Result and Error is present on the wire.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      ID              `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// NewResultResponse creates a success response echoing the request id.
// A nil result is encoded as the JSON literal null.
func NewResultResponse(id ID, result json.RawMessage) *Response {
	if len(result) == 0 {
		result = null
	}
	return &Response{JSONRPC: Version, ID: id, Result: result}
}

// NewErrorResponse creates an error response echoing the request id.
func NewErrorResponse(id ID, rpcErr *Error) *Response {
	return &Response{JSONRPC: Version, ID: id, Error: rpcErr}
}

// MarshalJSON implements json.Marshaler. It enforces the exactly-one
// invariant: when no error is set the result field is always emitted,
// even if the result is null.
func (r *Response) MarshalJSON() ([]byte, error) {
	if r.Error != nil {
		return json.Marshal(struct {
			JSONRPC string `json:"jsonrpc"`
			ID      ID     `json:"id"`
			Error   *Error `json:"error"`
		}{Version, r.ID, r.Error})
	}
	result := r.Result
	if len(result) == 0 {
		result = null
	}
	return json.Marshal(struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      ID              `json:"id"`
		Result  json.RawMessage `json:"result"`
	}{Version, r.ID, result})
}

// Notification is a server-initiated envelope pushed over persistent
// sockets for subscription deliveries. It reuses the request shape with a
// synthetic method name and no id.
type Notification struct {
	JSONRPC string             `json:"jsonrpc"`
	Method  string             `json:"method"`
	Params  NotificationParams `json:"params"`
}

// NotificationParams carries one subscription delivery.
type NotificationParams struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

// SubscriptionMethod is the synthetic method name stamped on
// subscription notifications.
const SubscriptionMethod = "eth_subscription"

// NewNotification creates a subscription delivery envelope.
func NewNotification(subID string, result json.RawMessage) *Notification {
	return &Notification{
		JSONRPC: Version,
		Method:  SubscriptionMethod,
		Params:  NotificationParams{Subscription: subID, Result: result},
	}
}
