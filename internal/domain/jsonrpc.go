package domain

import "encoding/json"

// Version is the JSON-RPC protocol tag carried by every message.
const Version = "2.0"

// Message represents a JSON-RPC 2.0 message as it appears on the wire.
// Requests, notifications, and responses share this envelope; which one a
// given message is follows from the fields that are set, not from a
// discriminator field.
type Message struct {
	JSONRPC string          `json:"jsonrpc"` // Must be "2.0"
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// NewRequest builds a request message for the given id and method.
// Params may be nil for parameter-less methods.
func NewRequest(id int64, method string, params json.RawMessage) *Message {
	return &Message{JSONRPC: Version, ID: &id, Method: method, Params: params}
}

// NewNotification builds a notification message. Notifications carry no id
// and never receive a response.
func NewNotification(method string, params json.RawMessage) *Message {
	return &Message{JSONRPC: Version, Method: method, Params: params}
}

// IsRequest reports whether the message is a request (method plus id).
func (m *Message) IsRequest() bool {
	return m.Method != "" && m.ID != nil
}

// IsNotification reports whether the message is a notification (method, no id).
func (m *Message) IsNotification() bool {
	return m.Method != "" && m.ID == nil
}

// IsResponse reports whether the message is a response (no method, with a
// result or an error).
func (m *Message) IsResponse() bool {
	return m.Method == "" && (m.Result != nil || m.Error != nil)
}

// Error represents a JSON-RPC 2.0 error object.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface for Error.
func (e *Error) Error() string {
	return e.Message
}

// JSON-RPC 2.0 error codes
const (
	ParseError     = -32700 // Invalid JSON received
	InvalidRequest = -32600 // Invalid JSON-RPC request structure
	MethodNotFound = -32601 // Unknown method
	InvalidParams  = -32602 // Invalid method parameters
	InternalError  = -32603 // Server internal error
)
