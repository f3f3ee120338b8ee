package domains

import (
	"context"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	mcp_sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/HyphaGroup/portcullis/internal/auth"
	"github.com/HyphaGroup/portcullis/internal/registry"
)

// CRM domain: HubSpot adapter.

var crmScopes = []string{auth.ScopeBasic, auth.ScopeCRM}

type hubspotTools struct {
	client ProviderClient
}

type HubspotSearchParams struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

type HubspotCreateContactParams struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

func registerHubspot(b *registry.Builder, client ProviderClient) error {
	h := &hubspotTools{client: client}

	searchSchema, err := jsonschema.For[HubspotSearchParams](nil)
	if err != nil {
		return err
	}
	createSchema, err := jsonschema.For[HubspotCreateContactParams](nil)
	if err != nil {
		return err
	}

	if err := b.AddTool(registry.ToolDescriptor{
		Name:           registry.ToolName("crm", "hubspot", "search_contacts"),
		Description:    "Search HubSpot contacts by name, email or company",
		RequiredScopes: crmScopes,
		InputSchema:    searchSchema,
	}, h.searchContacts); err != nil {
		return err
	}

	return b.AddTool(registry.ToolDescriptor{
		Name:           registry.ToolName("crm", "hubspot", "create_contact"),
		Description:    "Create a HubSpot contact",
		RequiredScopes: crmScopes,
		InputSchema:    createSchema,
	}, h.createContact)
}

func (h *hubspotTools) searchContacts(ctx context.Context, call registry.CallContext, args map[string]any) (*mcp_sdk.CallToolResult, error) {
	var params HubspotSearchParams
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}
	if params.Limit <= 0 || params.Limit > 100 {
		params.Limit = 20
	}

	token, err := call.Credentials.Credential(ctx, "hubspot", "access_token")
	if err != nil {
		return nil, err
	}

	resp, err := h.client.Do(ctx, ProviderRequest{
		Provider:  "hubspot",
		Operation: "search_contacts",
		Token:     token,
		Params:    map[string]any{"query": params.Query, "limit": params.Limit},
	})
	if err != nil {
		return nil, fmt.Errorf("hubspot request failed: %w", err)
	}
	return registry.NewJSONResult(resp.Body)
}

func (h *hubspotTools) createContact(ctx context.Context, call registry.CallContext, args map[string]any) (*mcp_sdk.CallToolResult, error) {
	var params HubspotCreateContactParams
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}

	token, err := call.Credentials.Credential(ctx, "hubspot", "access_token")
	if err != nil {
		return nil, err
	}

	resp, err := h.client.Do(ctx, ProviderRequest{
		Provider:  "hubspot",
		Operation: "create_contact",
		Token:     token,
		Params: map[string]any{
			"email":      params.Email,
			"first_name": params.FirstName,
			"last_name":  params.LastName,
			"phone":      params.Phone,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("hubspot request failed: %w", err)
	}
	return registry.NewJSONResult(resp.Body)
}
