package mcp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	mcp_sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/HyphaGroup/portcullis/internal/audit"
	"github.com/HyphaGroup/portcullis/internal/auth"
	"github.com/HyphaGroup/portcullis/internal/bridge"
	"github.com/HyphaGroup/portcullis/internal/logger"
	"github.com/HyphaGroup/portcullis/internal/metrics"
	"github.com/HyphaGroup/portcullis/internal/registry"
	"github.com/HyphaGroup/portcullis/internal/vault"
)

// ServerName and ServerVersion identify this server in the initialize
// handshake. ServerVersion is overridden at build time by cmd/server.
var (
	ServerName    = "portcullis"
	ServerVersion = "dev"
)

// Engine is the protocol core: it parses JSON-RPC messages, drives the
// session state machine and dispatches methods against the catalog.
// Transports own framing and bearer extraction; everything after the
// raw bytes arrive happens here, identically for HTTP and socket.
type Engine struct {
	gateway  *auth.Gateway
	registry *registry.Registry
	bridge   *bridge.Bridge
	vault    *vault.Vault
	sessions *SessionManager

	instructions string
}

// EngineConfig wires the engine's collaborators
type EngineConfig struct {
	Gateway     *auth.Gateway
	Registry    *registry.Registry
	Bridge      *bridge.Bridge
	Vault       *vault.Vault
	MaxSessions int
	IdleTimeout time.Duration
	// Instructions is returned verbatim in the initialize result
	Instructions string
}

// NewEngine creates the protocol engine and its session table
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Gateway == nil {
		return nil, errors.New("gateway is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if cfg.Bridge == nil {
		return nil, errors.New("bridge is required")
	}
	if cfg.Vault == nil {
		return nil, errors.New("vault is required")
	}
	return &Engine{
		gateway:      cfg.Gateway,
		registry:     cfg.Registry,
		bridge:       cfg.Bridge,
		vault:        cfg.Vault,
		sessions:     NewSessionManager(cfg.MaxSessions, cfg.IdleTimeout),
		instructions: cfg.Instructions,
	}, nil
}

// Sessions exposes the session table to transports
func (e *Engine) Sessions() *SessionManager {
	return e.sessions
}

// Close releases the session table. The bridge is owned by the caller
// and shut down separately.
func (e *Engine) Close() {
	e.sessions.CloseAll()
}

// Handle processes one raw message for a session and returns the
// marshaled response, or nil for notifications. It never returns an
// error: every failure becomes a JSON-RPC error object, already
// sanitized for the wire. bearer is the credential material the
// transport extracted from its own medium; it is consumed during
// initialize and checked against the session's binding afterwards.
func (e *Engine) Handle(ctx context.Context, sess *Session, bearer string, raw []byte) []byte {
	if looksLikeBatch(raw) {
		return marshalResponse(newErrorResponse(nullID, &JSONRPCError{
			Code:    CodeInvalidRequest,
			Message: "batch requests are not supported",
		}))
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		metrics.RecordRPC("unknown", "parse_error")
		return marshalResponse(newErrorResponse(nullID, &JSONRPCError{
			Code:    CodeParseError,
			Message: "invalid JSON",
		}))
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		metrics.RecordRPC(req.Method, "invalid_request")
		return marshalResponse(newErrorResponse(req.ID, &JSONRPCError{
			Code:    CodeInvalidRequest,
			Message: "invalid JSON-RPC 2.0 request",
		}))
	}

	sess.Touch()
	ctx = context.WithValue(ctx, logger.ContextKeySessionID, sess.ID)

	if req.IsNotification() {
		e.handleNotification(sess, &req)
		return nil
	}

	result, rpcErr := e.dispatch(ctx, sess, bearer, &req)
	if rpcErr != nil {
		metrics.RecordRPC(req.Method, "error")
		return marshalResponse(newErrorResponse(req.ID, rpcErr))
	}
	metrics.RecordRPC(req.Method, "ok")
	return marshalResponse(newResponse(req.ID, result))
}

// handleNotification processes id-less messages. The only meaningful
// one is notifications/initialized, which promotes the session; others
// are accepted and dropped, per protocol.
func (e *Engine) handleNotification(sess *Session, req *JSONRPCRequest) {
	metrics.RecordRPC(req.Method, "notification")
	if req.Method == MethodInitialized {
		sess.markReady()
		return
	}
	logger.Slog().Debug("ignoring notification", "method", req.Method, "session_id", sess.ID)
}

func (e *Engine) dispatch(ctx context.Context, sess *Session, bearer string, req *JSONRPCRequest) (any, *JSONRPCError) {
	if req.Method == MethodInitialize {
		return e.handleInitialize(ctx, sess, bearer, req)
	}

	// Every other method requires a live, authenticated session.
	switch sess.State() {
	case StateNew:
		return nil, &JSONRPCError{
			Code:    CodeNotInitialized,
			Message: "session not initialized: send initialize first",
		}
	case StateClosed:
		return nil, &JSONRPCError{
			Code:    CodeNotInitialized,
			Message: "session is closed",
		}
	}

	authCtx := sess.Auth()
	if authCtx == nil || authCtx.TenantID == "" {
		// An initialized session without identity is a bug, not a
		// client error. Refuse to execute rather than run unowned.
		logger.ErrorContext(ctx, "initialized session has no auth context", "session_id", sess.ID)
		return nil, &JSONRPCError{
			Code:    CodeInternalError,
			Message: "session identity unavailable",
		}
	}
	if bearer != "" && sess.tokenBinding() != hashBearer(bearer) {
		return nil, &JSONRPCError{
			Code:    CodeUnauthorized,
			Message: "token does not match this session",
		}
	}

	// First post-initialize message promotes the session.
	sess.markReady()
	ctx = context.WithValue(ctx, logger.ContextKeyTenantID, authCtx.TenantID)

	switch req.Method {
	case MethodPing:
		return struct{}{}, nil
	case MethodToolsList:
		return e.handleToolsList(authCtx), nil
	case MethodToolsCall:
		return e.handleToolsCall(ctx, sess, authCtx, req)
	case MethodResourcesList:
		return e.handleResourcesList(ctx, authCtx)
	case MethodResourcesRead:
		return e.handleResourcesRead(ctx, sess, authCtx, req)
	default:
		return nil, &JSONRPCError{
			Code:    CodeMethodNotFound,
			Message: fmt.Sprintf("method %q not found", req.Method),
		}
	}
}

func (e *Engine) handleInitialize(ctx context.Context, sess *Session, bearer string, req *JSONRPCRequest) (any, *JSONRPCError) {
	if sess.State() != StateNew {
		return nil, &JSONRPCError{
			Code:    CodeInvalidRequest,
			Message: "session already initialized",
		}
	}

	var params InitializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, &JSONRPCError{
				Code:    CodeInvalidParams,
				Message: "invalid initialize params",
			}
		}
	}

	if !slices.Contains(SupportedProtocolVersions, params.ProtocolVersion) {
		return nil, &JSONRPCError{
			Code: CodeUnsupportedVersion,
			Message: fmt.Sprintf("unsupported protocol version %q (supported: %v)",
				params.ProtocolVersion, SupportedProtocolVersions),
		}
	}

	authCtx, err := e.gateway.Authenticate(ctx, bearer)
	if err != nil {
		audit.Log(&audit.Event{
			Operation: audit.OpAuthFailure,
			SessionID: sess.ID,
			Success:   false,
			Error:     err.Error(),
		})
		return nil, rpcError(err, "initialize")
	}

	if err := sess.initialize(authCtx, params.ProtocolVersion, params.ClientInfo, hashBearer(bearer)); err != nil {
		return nil, &JSONRPCError{
			Code:    CodeInvalidRequest,
			Message: "session already initialized",
		}
	}

	audit.Log(&audit.Event{
		Operation: audit.OpSessionOpen,
		TenantID:  authCtx.TenantID,
		TokenID:   authCtx.TokenID,
		SessionID: sess.ID,
		Success:   true,
	})
	logger.InfoContext(ctx, "session initialized",
		"session_id", sess.ID,
		"tenant_id", authCtx.TenantID,
		"protocol_version", params.ProtocolVersion,
		"client", params.ClientInfo.Name)

	return &InitializeResult{
		ProtocolVersion: params.ProtocolVersion,
		Capabilities: ServerCapabilities{
			Tools:     &ToolsCapability{},
			Resources: &ResourcesCapability{},
		},
		ServerInfo:   Implementation{Name: ServerName, Version: ServerVersion},
		Instructions: e.instructions,
	}, nil
}

func (e *Engine) handleToolsList(authCtx *auth.AuthContext) *ToolsListResult {
	descriptors := e.registry.List(authCtx.Scopes)
	result := &ToolsListResult{Tools: make([]ToolInfo, 0, len(descriptors))}
	for _, d := range descriptors {
		result.Tools = append(result.Tools, ToolInfo{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema,
		})
	}
	return result
}

func (e *Engine) handleToolsCall(ctx context.Context, sess *Session, authCtx *auth.AuthContext, req *JSONRPCRequest) (any, *JSONRPCError) {
	var params ToolsCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return nil, &JSONRPCError{
			Code:    CodeInvalidParams,
			Message: "tools/call requires a tool name",
		}
	}

	// Identity was frozen at initialize; liveness is re-checked here so
	// deactivating a tenant takes effect mid-session.
	if err := e.gateway.CheckTenant(ctx, authCtx.TenantID); err != nil {
		return nil, rpcError(err, "tools/call")
	}

	descriptor, err := e.registry.Resolve(params.Name, authCtx.Scopes)
	if err != nil {
		return nil, rpcError(err, "tools/call")
	}
	if err := descriptor.ValidateArgs(params.Arguments); err != nil {
		return nil, rpcError(err, "tools/call")
	}

	call := registry.CallContext{
		Auth:        authCtx,
		Credentials: e.vault.Capability(authCtx.TenantID),
	}

	start := time.Now()
	result, err := e.bridge.Run(ctx, params.Name, func(taskCtx context.Context) (any, error) {
		return descriptor.Call(taskCtx, call, params.Arguments)
	})
	elapsed := time.Since(start)

	auditEvent := &audit.Event{
		Operation:  audit.OpToolCall,
		TenantID:   authCtx.TenantID,
		TokenID:    authCtx.TokenID,
		SessionID:  sess.ID,
		Tool:       params.Name,
		DurationMs: elapsed.Milliseconds(),
	}

	if err != nil {
		auditEvent.Success = false
		auditEvent.Error = err.Error()
		audit.Log(auditEvent)

		switch {
		case errors.Is(err, bridge.ErrTimeout):
			metrics.RecordToolCall(params.Name, "timeout", elapsed.Seconds())
			return nil, &JSONRPCError{
				Code:    CodeTimeout,
				Message: fmt.Sprintf("tool %s timed out; it may have partially executed", params.Name),
			}
		case errors.Is(err, bridge.ErrPanic):
			metrics.RecordToolCall(params.Name, "panic", elapsed.Seconds())
			return nil, &JSONRPCError{
				Code:    CodeInternalError,
				Message: fmt.Sprintf("tool %s failed internally", params.Name),
			}
		default:
			// Handler-level failure: per MCP convention this is a
			// successful response carrying an isError result. The
			// sanitized message is all the caller sees.
			metrics.RecordToolCall(params.Name, "error", elapsed.Seconds())
			return registry.NewErrorResult(SanitizeError(err, "tool "+params.Name).Error()), nil
		}
	}

	auditEvent.Success = true
	audit.Log(auditEvent)
	metrics.RecordToolCall(params.Name, "ok", elapsed.Seconds())
	return result.(*mcp_sdk.CallToolResult), nil
}

func (e *Engine) handleResourcesList(ctx context.Context, authCtx *auth.AuthContext) (any, *JSONRPCError) {
	resolvers := e.registry.ListResources(authCtx.Scopes)
	call := registry.CallContext{
		Auth:        authCtx,
		Credentials: e.vault.Capability(authCtx.TenantID),
	}

	// Resolvers touch the filesystem and the store, so the aggregation
	// runs as one bridge call off the dispatch path.
	result, err := e.bridge.Run(ctx, "resources/list", func(taskCtx context.Context) (any, error) {
		var all []*mcp_sdk.Resource
		for _, resolver := range resolvers {
			resources, err := resolver.List(taskCtx, call)
			if err != nil {
				return nil, fmt.Errorf("listing %s resources: %w", resolver.Scheme(), err)
			}
			all = append(all, resources...)
		}
		return all, nil
	})
	if err != nil {
		return nil, rpcError(err, "resources/list")
	}

	resources, _ := result.([]*mcp_sdk.Resource)
	if resources == nil {
		resources = []*mcp_sdk.Resource{}
	}
	return &mcp_sdk.ListResourcesResult{Resources: resources}, nil
}

func (e *Engine) handleResourcesRead(ctx context.Context, sess *Session, authCtx *auth.AuthContext, req *JSONRPCRequest) (any, *JSONRPCError) {
	var params ResourcesReadParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.URI == "" {
		return nil, &JSONRPCError{
			Code:    CodeInvalidParams,
			Message: "resources/read requires a uri",
		}
	}

	if err := e.gateway.CheckTenant(ctx, authCtx.TenantID); err != nil {
		return nil, rpcError(err, "resources/read")
	}

	resolver, err := e.registry.ResolveResource(params.URI, authCtx.Scopes)
	if err != nil {
		return nil, rpcError(err, "resources/read")
	}

	call := registry.CallContext{
		Auth:        authCtx,
		Credentials: e.vault.Capability(authCtx.TenantID),
	}

	result, err := e.bridge.Run(ctx, "resources/read", func(taskCtx context.Context) (any, error) {
		return resolver.Read(taskCtx, call, params.URI)
	})

	auditEvent := &audit.Event{
		Operation: audit.OpResourceRead,
		TenantID:  authCtx.TenantID,
		TokenID:   authCtx.TokenID,
		SessionID: sess.ID,
		Resource:  params.URI,
		Success:   err == nil,
	}
	if err != nil {
		auditEvent.Error = err.Error()
		audit.Log(auditEvent)
		return nil, rpcError(err, "resources/read")
	}
	audit.Log(auditEvent)

	return result.(*mcp_sdk.ReadResourceResult), nil
}

// hashBearer derives the session's token binding. The session never
// stores the bearer itself, only enough to tell whether a later request
// presents the same credential.
func hashBearer(bearer string) string {
	sum := sha256.Sum256([]byte(bearer))
	return hex.EncodeToString(sum[:])
}

func marshalResponse(resp *JSONRPCResponse) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		// Result types are all plain structs; this cannot fail in
		// practice, but a malformed reply beats a dropped one.
		logger.Slog().Error("marshaling response", "error", err)
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"internal error"}}`)
	}
	return data
}
