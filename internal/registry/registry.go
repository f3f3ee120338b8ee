// Package registry holds the immutable tool and resource catalog. It is
// composed once at startup (domain → provider → tool) and never mutated
// afterwards, so lookups need no locking and list output is stable.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	mcp_sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/HyphaGroup/portcullis/internal/auth"
)

var (
	// ErrNotFound reports an unknown tool name or resource scheme
	ErrNotFound = errors.New("not found")

	// ErrScopeDenied reports a caller missing required scopes
	ErrScopeDenied = errors.New("scope denied")

	// ErrInvalidArguments reports tool arguments rejected by the
	// descriptor's input schema.
	ErrInvalidArguments = errors.New("invalid arguments")
)

// CredentialSource is the tenant-bound accessor handlers use to fetch
// decrypted provider credentials. The vault produces implementations.
type CredentialSource interface {
	Credential(ctx context.Context, provider, key string) (string, error)
}

// CallContext carries the resolved identity of one call into a handler.
// Handlers receive a frozen AuthContext and a credential source already
// bound to that tenant; there is no way to name another tenant from here.
type CallContext struct {
	Auth        *auth.AuthContext
	Credentials CredentialSource
}

// Handler executes one tool call
type Handler func(ctx context.Context, call CallContext, args map[string]any) (*mcp_sdk.CallToolResult, error)

// ToolDescriptor describes one callable tool. Wire names compose as
// {domain}_{provider}_{tool}; the general domain has no provider segment.
type ToolDescriptor struct {
	Name           string
	Description    string
	RequiredScopes []string
	InputSchema    *jsonschema.Schema

	resolved *jsonschema.Resolved
	handler  Handler
}

// ToolName builds the wire name for a domain/provider/tool triple
func ToolName(domain, provider, tool string) string {
	if provider == "" {
		return domain + "_" + tool
	}
	return domain + "_" + provider + "_" + tool
}

// ValidateArgs checks arguments against the resolved input schema
func (d *ToolDescriptor) ValidateArgs(args map[string]any) error {
	if args == nil {
		args = map[string]any{}
	}
	if err := d.resolved.Validate(args); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}

// Call runs the handler. The caller is expected to have validated the
// arguments and to be executing on the bridge, not a dispatch goroutine.
func (d *ToolDescriptor) Call(ctx context.Context, call CallContext, args map[string]any) (*mcp_sdk.CallToolResult, error) {
	return d.handler(ctx, call, args)
}

// ResourceResolver serves one URI scheme (kb://, tenant://). List and
// Read are tenant-aware: the same URI space can surface different
// content per tenant.
type ResourceResolver interface {
	// Scheme returns the URI scheme without "://"
	Scheme() string

	// RequiredScopes gates both listing and reading
	RequiredScopes() []string

	// List enumerates the resources visible to the caller
	List(ctx context.Context, call CallContext) ([]*mcp_sdk.Resource, error)

	// Read fetches resource contents; the uri always carries this
	// resolver's scheme. Patterns may expand to multiple contents.
	Read(ctx context.Context, call CallContext, uri string) (*mcp_sdk.ReadResourceResult, error)
}

// Builder accumulates descriptors before the registry is frozen.
// Input schemas are resolved here so a broken schema fails startup,
// not a live call.
type Builder struct {
	tools     map[string]*ToolDescriptor
	order     []string
	resolvers map[string]ResourceResolver
	resOrder  []string
}

// NewBuilder creates an empty registry builder
func NewBuilder() *Builder {
	return &Builder{
		tools:     make(map[string]*ToolDescriptor),
		resolvers: make(map[string]ResourceResolver),
	}
}

// AddTool registers a tool descriptor with its handler
func (b *Builder) AddTool(d ToolDescriptor, h Handler) error {
	if d.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if h == nil {
		return fmt.Errorf("tool %s: handler is required", d.Name)
	}
	if _, exists := b.tools[d.Name]; exists {
		return fmt.Errorf("tool %s: already registered", d.Name)
	}

	if d.InputSchema == nil {
		d.InputSchema = &jsonschema.Schema{Type: "object"}
	}
	resolved, err := d.InputSchema.Resolve(nil)
	if err != nil {
		return fmt.Errorf("tool %s: resolving input schema: %w", d.Name, err)
	}
	d.resolved = resolved
	d.handler = h

	b.tools[d.Name] = &d
	b.order = append(b.order, d.Name)
	return nil
}

// AddResource registers a resolver for its URI scheme
func (b *Builder) AddResource(r ResourceResolver) error {
	scheme := r.Scheme()
	if scheme == "" {
		return fmt.Errorf("resource resolver has empty scheme")
	}
	if _, exists := b.resolvers[scheme]; exists {
		return fmt.Errorf("resource scheme %s: already registered", scheme)
	}
	b.resolvers[scheme] = r
	b.resOrder = append(b.resOrder, scheme)
	return nil
}

// Build freezes the catalog
func (b *Builder) Build() *Registry {
	return &Registry{
		tools:     b.tools,
		order:     b.order,
		resolvers: b.resolvers,
		resOrder:  b.resOrder,
	}
}

// Registry is the frozen catalog. Safe for unsynchronized concurrent use.
type Registry struct {
	tools     map[string]*ToolDescriptor
	order     []string
	resolvers map[string]ResourceResolver
	resOrder  []string
}

// List returns every tool whose required scopes are all granted, in
// registration order. Tools the caller cannot invoke are omitted, not
// marked: list output never distinguishes hidden from nonexistent.
func (r *Registry) List(scopes []string) []*ToolDescriptor {
	granted := &auth.AuthContext{Scopes: scopes}
	out := make([]*ToolDescriptor, 0, len(r.order))
	for _, name := range r.order {
		d := r.tools[name]
		if granted.HasScopes(d.RequiredScopes) {
			out = append(out, d)
		}
	}
	return out
}

// Resolve returns the named tool if the caller may invoke it.
// Unlike List, the denial here names the missing scopes: the caller
// already knows the tool exists.
func (r *Registry) Resolve(name string, scopes []string) (*ToolDescriptor, error) {
	d, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("tool %s: %w", name, ErrNotFound)
	}
	granted := &auth.AuthContext{Scopes: scopes}
	if !granted.HasScopes(d.RequiredScopes) {
		missing := granted.MissingScopes(d.RequiredScopes)
		return nil, fmt.Errorf("tool %s requires scopes %v: %w", name, missing, ErrScopeDenied)
	}
	return d, nil
}

// ListResources returns the resolvers visible with the granted scopes
func (r *Registry) ListResources(scopes []string) []ResourceResolver {
	granted := &auth.AuthContext{Scopes: scopes}
	out := make([]ResourceResolver, 0, len(r.resOrder))
	for _, scheme := range r.resOrder {
		res := r.resolvers[scheme]
		if granted.HasScopes(res.RequiredScopes()) {
			out = append(out, res)
		}
	}
	return out
}

// ResolveResource returns the resolver for a URI's scheme, enforcing
// scopes the same way Resolve does for tools.
func (r *Registry) ResolveResource(uri string, scopes []string) (ResourceResolver, error) {
	scheme, _, ok := strings.Cut(uri, "://")
	if !ok || scheme == "" {
		return nil, fmt.Errorf("resource %s: missing scheme: %w", uri, ErrNotFound)
	}
	res, exists := r.resolvers[scheme]
	if !exists {
		return nil, fmt.Errorf("resource scheme %s: %w", scheme, ErrNotFound)
	}
	granted := &auth.AuthContext{Scopes: scopes}
	if !granted.HasScopes(res.RequiredScopes()) {
		missing := granted.MissingScopes(res.RequiredScopes())
		return nil, fmt.Errorf("resource %s requires scopes %v: %w", uri, missing, ErrScopeDenied)
	}
	return res, nil
}

// ToolCount returns the catalog size (startup log line)
func (r *Registry) ToolCount() int {
	return len(r.tools)
}
