package domain

// Request represents a JSON-RPC 2.0 request message.
type Request struct {
	JSONRPC string      `json:"jsonrpc"` // Must be "2.0"
	ID      interface{} `json:"id,omitempty"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`

	// Session identifies the transport session the request arrived on.
	// It is never serialized; the HTTP transport uses it to deliver the
	// matching response to the right event stream.
	Session string `json:"-"`
}

// Response represents a JSON-RPC 2.0 response message.
type Response struct {
	JSONRPC string      `json:"jsonrpc"` // Must be "2.0"
	ID      interface{} `json:"id,omitempty"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`

	Session string `json:"-"`
}

// IsNotification reports whether the request expects no response.
func (r *Request) IsNotification() bool {
	return r.ID == nil
}

// Error represents a JSON-RPC 2.0 error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements the error interface for Error.
func (e *Error) Error() string {
	return e.Message
}

// JSON-RPC 2.0 error codes
const (
	// Standard JSON-RPC 2.0 error codes
	CodeParseError     = -32700 // Invalid JSON received
	CodeInvalidRequest = -32600 // Invalid JSON-RPC request structure
	CodeMethodNotFound = -32601 // Unknown MCP method or tool
	CodeInvalidParams  = -32602 // Invalid method parameters
	CodeInternalError  = -32603 // Server internal error

	// Application-specific error codes
	CodeAuthentication = -32002 // Authentication failed
	CodeAPI            = -32003 // Remote API returned error
	CodeNetwork        = -32004 // Network connectivity issue
	CodeRateLimit      = -32005 // Rate limit exceeded
	CodeReadOnly       = -32006 // Write tool invoked in read-only mode
	CodeExecution      = -32007 // Local script guard or execution failure
	CodePartialSuccess = -32008 // Composite action only partly applied
)
