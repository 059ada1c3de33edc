// Package protocol defines the canonical request/response envelopes exchanged
// between the transport layer and the dispatch core, along with the tool and
// resource types registered against the server.
package protocol

import (
	"context"
	"time"
)

// Version identifies the wire protocol revision.
const Version = "1.0"

// Request is the canonical request envelope. It is immutable once constructed.
type Request struct {
	ID     interface{} `json:"id,omitempty"`
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`

	// ReceivedAt is set by the adapter that parsed the request. Not on the wire.
	ReceivedAt time.Time `json:"-"`
}

// Response is the canonical response envelope. Exactly one of Result and
// Error is set; ID always mirrors the originating request's correlation id.
type Response struct {
	ID     interface{} `json:"id,omitempty"`
	Result interface{} `json:"result,omitempty"`
	Error  *Error      `json:"error,omitempty"`

	CompletedAt time.Time `json:"-"`
}

// Notification is a server-initiated message with no correlation id, such as
// the "connected" greeting pushed on a fresh socket connection.
type Notification struct {
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

// Error is a structured protocol error.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Reserved error codes. The -32000..-32099 range carries server-defined codes.
const (
	CodeParseError       = -32700
	CodeInvalidRequest   = -32600
	CodeMethodNotFound   = -32601
	CodeInvalidParams    = -32602
	CodeInternalError    = -32603
	CodeToolNotFound     = -32000
	CodeToolNameRequired = -32001
	CodeResourceNotFound = -32002
)

// NewError creates a structured error.
func NewError(code int, message string, data interface{}) *Error {
	return &Error{Code: code, Message: message, Data: data}
}

// NewResponse creates a success response correlated to the given id.
func NewResponse(id, result interface{}) *Response {
	return &Response{ID: id, Result: result, CompletedAt: time.Now()}
}

// NewErrorResponse creates an error response correlated to the given id.
func NewErrorResponse(id interface{}, err *Error) *Response {
	return &Response{ID: id, Error: err, CompletedAt: time.Now()}
}

// Tool describes a registered capability.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// ToolHandler executes a capability invocation.
type ToolHandler interface {
	Handle(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// ToolHandlerFunc is a function adapter for ToolHandler.
type ToolHandlerFunc func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Handle implements ToolHandler.
func (f ToolHandlerFunc) Handle(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return f(ctx, args)
}

// Resource describes a readable resource addressed by URI.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ResourceHandler produces the contents of a resource.
type ResourceHandler interface {
	Handle(ctx context.Context, uri string) ([]Content, error)
}

// ResourceHandlerFunc is a function adapter for ResourceHandler.
type ResourceHandlerFunc func(ctx context.Context, uri string) ([]Content, error)

// Handle implements ResourceHandler.
func (f ResourceHandlerFunc) Handle(ctx context.Context, uri string) ([]Content, error) {
	return f(ctx, uri)
}

// Content is a typed content block inside a resource read result.
type Content struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	URI      string `json:"uri,omitempty"`
}

// NewTextContent creates a text content block.
func NewTextContent(text string) Content {
	return Content{Type: "text", Text: text}
}

// ServerInfo is the result of the server-info method.
type ServerInfo struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Description  string            `json:"description,omitempty"`
	Capabilities []string          `json:"capabilities"`
	Uptime       float64           `json:"uptime"`
	MemoryUsage  map[string]uint64 `json:"memoryUsage"`
}
