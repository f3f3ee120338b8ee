// Package mcp implements the JSON-RPC 2.0 protocol engine: session
// state, method dispatch, and the HTTP and socket transports that
// feed it. Tool and resource semantics live in internal/registry and
// internal/domains; this package only speaks the wire protocol.
package mcp

import (
	"bytes"
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"
)

// Protocol versions this server accepts, newest last. The negotiated
// version is always the one the client requested.
var SupportedProtocolVersions = []string{
	"2024-11-05",
	"2025-03-26",
	"2025-06-18",
}

// Method names
const (
	MethodInitialize    = "initialize"
	MethodInitialized   = "notifications/initialized"
	MethodPing          = "ping"
	MethodToolsList     = "tools/list"
	MethodToolsCall     = "tools/call"
	MethodResourcesList = "resources/list"
	MethodResourcesRead = "resources/read"
)

// JSONRPCRequest represents a JSON-RPC 2.0 request. The ID stays raw
// so responses echo it back byte-for-byte; a nil ID (field absent)
// marks a notification.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no id
func (r *JSONRPCRequest) IsNotification() bool {
	return len(r.ID) == 0
}

// JSONRPCResponse represents a JSON-RPC 2.0 response
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *JSONRPCError) Error() string {
	return e.Message
}

// nullID is the id used when a request's id is unknown (parse errors)
var nullID = json.RawMessage("null")

// newResponse builds a success response for a request id
func newResponse(id json.RawMessage, result any) *JSONRPCResponse {
	if len(id) == 0 {
		id = nullID
	}
	return &JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: result}
}

// newErrorResponse builds an error response for a request id
func newErrorResponse(id json.RawMessage, rpcErr *JSONRPCError) *JSONRPCResponse {
	if len(id) == 0 {
		id = nullID
	}
	return &JSONRPCResponse{JSONRPC: "2.0", ID: id, Error: rpcErr}
}

// looksLikeBatch reports whether the payload is a JSON array. Batch
// requests are not part of the supported protocol subset.
func looksLikeBatch(raw []byte) bool {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '['
}

// Implementation identifies a client or server
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// InitializeParams are the client's initialize arguments. Client
// capabilities are accepted but not interpreted.
type InitializeParams struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    json.RawMessage `json:"capabilities,omitempty"`
	ClientInfo      Implementation  `json:"clientInfo,omitempty"`
}

// InitializeResult is the server's half of the handshake
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

// ServerCapabilities advertises what this server supports
type ServerCapabilities struct {
	Tools     *ToolsCapability     `json:"tools,omitempty"`
	Resources *ResourcesCapability `json:"resources,omitempty"`
}

// ToolsCapability is present when the server serves tools
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ResourcesCapability is present when the server serves resources
type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe,omitempty"`
	ListChanged bool `json:"listChanged,omitempty"`
}

// ToolInfo is one entry in a tools/list result
type ToolInfo struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	InputSchema *jsonschema.Schema `json:"inputSchema"`
}

// ToolsListResult is the tools/list response payload
type ToolsListResult struct {
	Tools []ToolInfo `json:"tools"`
}

// ToolsCallParams are the tools/call arguments
type ToolsCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ResourcesReadParams are the resources/read arguments
type ResourcesReadParams struct {
	URI string `json:"uri"`
}
