package domains

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	mcp_sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/HyphaGroup/portcullis/internal/auth"
	"github.com/HyphaGroup/portcullis/internal/registry"
)

// Email domain: SendGrid and Mailgun adapters.

var emailScopes = []string{auth.ScopeBasic, auth.ScopeEmail}

type sendgridTools struct {
	client ProviderClient
}

type SendEmailParams struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	From    string `json:"from,omitempty"`
}

func registerSendgrid(b *registry.Builder, client ProviderClient) error {
	s := &sendgridTools{client: client}

	sendSchema, err := jsonschema.For[SendEmailParams](nil)
	if err != nil {
		return err
	}

	return b.AddTool(registry.ToolDescriptor{
		Name:           registry.ToolName("email", "sendgrid", "send_email"),
		Description:    "Send an email through SendGrid",
		RequiredScopes: emailScopes,
		InputSchema:    sendSchema,
	}, s.sendEmail)
}

func (s *sendgridTools) sendEmail(ctx context.Context, call registry.CallContext, args map[string]any) (*mcp_sdk.CallToolResult, error) {
	var params SendEmailParams
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}
	if !strings.Contains(params.To, "@") {
		return registry.NewErrorResult(fmt.Sprintf("invalid recipient address %q", params.To)), nil
	}
	if params.Subject == "" {
		return registry.NewErrorResult("subject is required"), nil
	}

	apiKey, err := call.Credentials.Credential(ctx, "sendgrid", "api_key")
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(ctx, ProviderRequest{
		Provider:  "sendgrid",
		Operation: "send_email",
		Token:     apiKey,
		Params: map[string]any{
			"to":      params.To,
			"subject": params.Subject,
			"body":    params.Body,
			"from":    params.From,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sendgrid request failed: %w", err)
	}
	return registry.NewJSONResult(resp.Body)
}

type mailgunTools struct {
	client ProviderClient
}

type MailgunDeliveryStatsParams struct {
	Days int `json:"days,omitempty"`
}

func registerMailgun(b *registry.Builder, client ProviderClient) error {
	m := &mailgunTools{client: client}

	sendSchema, err := jsonschema.For[SendEmailParams](nil)
	if err != nil {
		return err
	}
	statsSchema, err := jsonschema.For[MailgunDeliveryStatsParams](nil)
	if err != nil {
		return err
	}

	if err := b.AddTool(registry.ToolDescriptor{
		Name:           registry.ToolName("email", "mailgun", "send_email"),
		Description:    "Send an email through Mailgun",
		RequiredScopes: emailScopes,
		InputSchema:    sendSchema,
	}, m.sendEmail); err != nil {
		return err
	}

	return b.AddTool(registry.ToolDescriptor{
		Name:           registry.ToolName("email", "mailgun", "get_delivery_stats"),
		Description:    "Get Mailgun delivery statistics for the sending domain",
		RequiredScopes: emailScopes,
		InputSchema:    statsSchema,
	}, m.getDeliveryStats)
}

// mailgunCredentials fetches the api key plus the sending domain the
// account is scoped to; every Mailgun endpoint is addressed per domain.
func (m *mailgunTools) mailgunCredentials(ctx context.Context, call registry.CallContext) (string, map[string]string, error) {
	apiKey, err := call.Credentials.Credential(ctx, "mailgun", "api_key")
	if err != nil {
		return "", nil, err
	}
	domain, err := call.Credentials.Credential(ctx, "mailgun", "domain")
	if err != nil {
		return "", nil, err
	}
	return apiKey, map[string]string{"domain": domain}, nil
}

func (m *mailgunTools) sendEmail(ctx context.Context, call registry.CallContext, args map[string]any) (*mcp_sdk.CallToolResult, error) {
	var params SendEmailParams
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}
	if !strings.Contains(params.To, "@") {
		return registry.NewErrorResult(fmt.Sprintf("invalid recipient address %q", params.To)), nil
	}
	if params.Subject == "" {
		return registry.NewErrorResult("subject is required"), nil
	}

	apiKey, extra, err := m.mailgunCredentials(ctx, call)
	if err != nil {
		return nil, err
	}

	resp, err := m.client.Do(ctx, ProviderRequest{
		Provider:  "mailgun",
		Operation: "send_email",
		Token:     apiKey,
		Extra:     extra,
		Params: map[string]any{
			"to":      params.To,
			"subject": params.Subject,
			"body":    params.Body,
			"from":    params.From,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mailgun request failed: %w", err)
	}
	return registry.NewJSONResult(resp.Body)
}

func (m *mailgunTools) getDeliveryStats(ctx context.Context, call registry.CallContext, args map[string]any) (*mcp_sdk.CallToolResult, error) {
	var params MailgunDeliveryStatsParams
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}
	if params.Days <= 0 || params.Days > 30 {
		params.Days = 7
	}

	apiKey, extra, err := m.mailgunCredentials(ctx, call)
	if err != nil {
		return nil, err
	}

	resp, err := m.client.Do(ctx, ProviderRequest{
		Provider:  "mailgun",
		Operation: "get_delivery_stats",
		Token:     apiKey,
		Extra:     extra,
		Params:    map[string]any{"days": params.Days},
	})
	if err != nil {
		return nil, fmt.Errorf("mailgun request failed: %w", err)
	}
	return registry.NewJSONResult(resp.Body)
}
