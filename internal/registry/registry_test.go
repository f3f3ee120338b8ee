package registry

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
	mcp_sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/HyphaGroup/portcullis/internal/auth"
)

func textResult(text string) *mcp_sdk.CallToolResult {
	return &mcp_sdk.CallToolResult{
		Content: []mcp_sdk.Content{&mcp_sdk.TextContent{Text: text}},
	}
}

func echoHandler(ctx context.Context, call CallContext, args map[string]any) (*mcp_sdk.CallToolResult, error) {
	msg, _ := args["message"].(string)
	return textResult(msg), nil
}

func buildTestRegistry(t *testing.T) *Registry {
	t.Helper()
	b := NewBuilder()

	tools := []ToolDescriptor{
		{
			Name:           "general_echo",
			Description:    "Echo a message back",
			RequiredScopes: []string{auth.ScopeBasic},
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"message": {Type: "string"},
				},
				Required: []string{"message"},
			},
		},
		{
			Name:           "bookings_calendly_list_events",
			Description:    "List scheduled events",
			RequiredScopes: []string{auth.ScopeBasic, auth.ScopeBooking},
		},
		{
			Name:           "payments_stripe_create_payment_link",
			Description:    "Create a payment link",
			RequiredScopes: []string{auth.ScopeBasic, auth.ScopePayments},
		},
	}
	for _, d := range tools {
		if err := b.AddTool(d, echoHandler); err != nil {
			t.Fatalf("AddTool(%s) error = %v", d.Name, err)
		}
	}
	return b.Build()
}

func TestToolName(t *testing.T) {
	if got := ToolName("crm", "hubspot", "search_contacts"); got != "crm_hubspot_search_contacts" {
		t.Errorf("ToolName() = %q, want crm_hubspot_search_contacts", got)
	}
	if got := ToolName("general", "", "echo"); got != "general_echo" {
		t.Errorf("ToolName() = %q, want general_echo", got)
	}
}

func TestListFiltersByScopes(t *testing.T) {
	reg := buildTestRegistry(t)

	tests := []struct {
		name   string
		scopes []string
		want   []string
	}{
		{
			"basic only",
			[]string{auth.ScopeBasic},
			[]string{"general_echo"},
		},
		{
			"basic and booking",
			[]string{auth.ScopeBasic, auth.ScopeBooking},
			[]string{"general_echo", "bookings_calendly_list_events"},
		},
		{
			"all three",
			[]string{auth.ScopeBasic, auth.ScopeBooking, auth.ScopePayments},
			[]string{"general_echo", "bookings_calendly_list_events", "payments_stripe_create_payment_link"},
		},
		{
			"booking without basic",
			[]string{auth.ScopeBooking},
			[]string{},
		},
		{
			"no scopes",
			nil,
			[]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			listed := reg.List(tt.scopes)
			if len(listed) != len(tt.want) {
				t.Fatalf("List(%v) returned %d tools, want %d", tt.scopes, len(listed), len(tt.want))
			}
			for i, d := range listed {
				if d.Name != tt.want[i] {
					t.Errorf("List()[%d] = %s, want %s", i, d.Name, tt.want[i])
				}
			}
		})
	}
}

func TestResolve(t *testing.T) {
	reg := buildTestRegistry(t)

	d, err := reg.Resolve("general_echo", []string{auth.ScopeBasic})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if d.Name != "general_echo" {
		t.Errorf("Resolve() = %s, want general_echo", d.Name)
	}

	if _, err := reg.Resolve("general_nothing", []string{auth.ScopeBasic}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestResolveScopeDenied(t *testing.T) {
	reg := buildTestRegistry(t)

	// A caller holding only basic cannot call a tool that also needs
	// booking, and the denial names what is missing.
	_, err := reg.Resolve("bookings_calendly_list_events", []string{auth.ScopeBasic})
	if !errors.Is(err, ErrScopeDenied) {
		t.Fatalf("Resolve() error = %v, want ErrScopeDenied", err)
	}
	if !strings.Contains(err.Error(), "booking") {
		t.Errorf("denial %q should name the missing scope", err.Error())
	}
	if strings.Contains(err.Error(), "basic") {
		t.Errorf("denial %q should not list scopes the caller holds", err.Error())
	}
}

func TestValidateArgs(t *testing.T) {
	reg := buildTestRegistry(t)
	d, err := reg.Resolve("general_echo", []string{auth.ScopeBasic})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if err := d.ValidateArgs(map[string]any{"message": "hi"}); err != nil {
		t.Errorf("ValidateArgs(valid) error = %v", err)
	}
	if err := d.ValidateArgs(map[string]any{}); !errors.Is(err, ErrInvalidArguments) {
		t.Errorf("ValidateArgs(missing required) error = %v, want ErrInvalidArguments", err)
	}
	if err := d.ValidateArgs(map[string]any{"message": 7}); !errors.Is(err, ErrInvalidArguments) {
		t.Errorf("ValidateArgs(wrong type) error = %v, want ErrInvalidArguments", err)
	}
	if err := d.ValidateArgs(nil); !errors.Is(err, ErrInvalidArguments) {
		t.Errorf("ValidateArgs(nil with required field) error = %v, want ErrInvalidArguments", err)
	}
}

func TestCallRunsHandler(t *testing.T) {
	reg := buildTestRegistry(t)
	d, err := reg.Resolve("general_echo", []string{auth.ScopeBasic})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	call := CallContext{Auth: &auth.AuthContext{TenantID: "acme", Scopes: []string{auth.ScopeBasic}}}
	result, err := d.Call(context.Background(), call, map[string]any{"message": "hello"})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	text, ok := result.Content[0].(*mcp_sdk.TextContent)
	if !ok || text.Text != "hello" {
		t.Errorf("Call() content = %v, want text hello", result.Content[0])
	}
}

func TestBuilderRejectsDuplicatesAndBlanks(t *testing.T) {
	b := NewBuilder()
	d := ToolDescriptor{Name: "general_echo", RequiredScopes: []string{auth.ScopeBasic}}

	if err := b.AddTool(d, echoHandler); err != nil {
		t.Fatalf("AddTool() error = %v", err)
	}
	if err := b.AddTool(d, echoHandler); err == nil {
		t.Error("AddTool(duplicate) should fail")
	}
	if err := b.AddTool(ToolDescriptor{}, echoHandler); err == nil {
		t.Error("AddTool(empty name) should fail")
	}
	if err := b.AddTool(ToolDescriptor{Name: "general_nil"}, nil); err == nil {
		t.Error("AddTool(nil handler) should fail")
	}
}

type fakeResolver struct {
	scheme string
	scopes []string
}

func (f *fakeResolver) Scheme() string           { return f.scheme }
func (f *fakeResolver) RequiredScopes() []string { return f.scopes }

func (f *fakeResolver) List(ctx context.Context, call CallContext) ([]*mcp_sdk.Resource, error) {
	return []*mcp_sdk.Resource{{URI: f.scheme + "://sample", Name: "sample"}}, nil
}

func (f *fakeResolver) Read(ctx context.Context, call CallContext, uri string) (*mcp_sdk.ReadResourceResult, error) {
	return &mcp_sdk.ReadResourceResult{
		Contents: []*mcp_sdk.ResourceContents{{URI: uri, Text: "content"}},
	}, nil
}

func TestResolveResource(t *testing.T) {
	b := NewBuilder()
	if err := b.AddResource(&fakeResolver{scheme: "kb", scopes: []string{auth.ScopeBasic}}); err != nil {
		t.Fatalf("AddResource() error = %v", err)
	}
	if err := b.AddResource(&fakeResolver{scheme: "tenant", scopes: []string{auth.ScopeBasic, auth.ScopeCRM}}); err != nil {
		t.Fatalf("AddResource() error = %v", err)
	}
	reg := b.Build()

	if _, err := reg.ResolveResource("kb://guides/setup.md", []string{auth.ScopeBasic}); err != nil {
		t.Errorf("ResolveResource(kb) error = %v", err)
	}
	if _, err := reg.ResolveResource("tenant://notes/x", []string{auth.ScopeBasic}); !errors.Is(err, ErrScopeDenied) {
		t.Errorf("ResolveResource(tenant, basic only) error = %v, want ErrScopeDenied", err)
	}
	if _, err := reg.ResolveResource("ftp://x", []string{auth.ScopeBasic}); !errors.Is(err, ErrNotFound) {
		t.Errorf("ResolveResource(unknown scheme) error = %v, want ErrNotFound", err)
	}
	if _, err := reg.ResolveResource("no-scheme-here", []string{auth.ScopeBasic}); !errors.Is(err, ErrNotFound) {
		t.Errorf("ResolveResource(malformed uri) error = %v, want ErrNotFound", err)
	}

	visible := reg.ListResources([]string{auth.ScopeBasic})
	if len(visible) != 1 || visible[0].Scheme() != "kb" {
		t.Errorf("ListResources(basic) = %d resolvers, want just kb", len(visible))
	}

	// Duplicate scheme rejected
	if err := b.AddResource(&fakeResolver{scheme: "kb"}); err == nil {
		t.Error("AddResource(duplicate scheme) should fail")
	}
}
