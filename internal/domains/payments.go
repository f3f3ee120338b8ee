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

// Payments domain: Stripe and PayPal adapters.

var paymentScopes = []string{auth.ScopeBasic, auth.ScopePayments}

type stripeTools struct {
	client ProviderClient
}

type StripePaymentLinkParams struct {
	Amount      int    `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description,omitempty"`
}

type StripeListChargesParams struct {
	Limit int `json:"limit,omitempty"`
}

func registerStripe(b *registry.Builder, client ProviderClient) error {
	s := &stripeTools{client: client}

	linkSchema, err := jsonschema.For[StripePaymentLinkParams](nil)
	if err != nil {
		return err
	}
	chargesSchema, err := jsonschema.For[StripeListChargesParams](nil)
	if err != nil {
		return err
	}

	if err := b.AddTool(registry.ToolDescriptor{
		Name:           registry.ToolName("payments", "stripe", "create_payment_link"),
		Description:    "Create a Stripe payment link for an amount in minor units",
		RequiredScopes: paymentScopes,
		InputSchema:    linkSchema,
	}, s.createPaymentLink); err != nil {
		return err
	}

	return b.AddTool(registry.ToolDescriptor{
		Name:           registry.ToolName("payments", "stripe", "list_charges"),
		Description:    "List recent Stripe charges",
		RequiredScopes: paymentScopes,
		InputSchema:    chargesSchema,
	}, s.listCharges)
}

func (s *stripeTools) createPaymentLink(ctx context.Context, call registry.CallContext, args map[string]any) (*mcp_sdk.CallToolResult, error) {
	var params StripePaymentLinkParams
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}
	if params.Amount <= 0 {
		return registry.NewErrorResult("amount must be positive (minor units, e.g. cents)"), nil
	}
	currency := strings.ToLower(params.Currency)
	if len(currency) != 3 {
		return registry.NewErrorResult(fmt.Sprintf("invalid currency %q, want ISO 4217 code", params.Currency)), nil
	}

	apiKey, err := call.Credentials.Credential(ctx, "stripe", "api_key")
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(ctx, ProviderRequest{
		Provider:  "stripe",
		Operation: "create_payment_link",
		Token:     apiKey,
		Params: map[string]any{
			"amount":      params.Amount,
			"currency":    currency,
			"description": params.Description,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("stripe request failed: %w", err)
	}
	return registry.NewJSONResult(resp.Body)
}

func (s *stripeTools) listCharges(ctx context.Context, call registry.CallContext, args map[string]any) (*mcp_sdk.CallToolResult, error) {
	var params StripeListChargesParams
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}
	if params.Limit <= 0 || params.Limit > 100 {
		params.Limit = 10
	}

	apiKey, err := call.Credentials.Credential(ctx, "stripe", "api_key")
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(ctx, ProviderRequest{
		Provider:  "stripe",
		Operation: "list_charges",
		Token:     apiKey,
		Params:    map[string]any{"limit": params.Limit},
	})
	if err != nil {
		return nil, fmt.Errorf("stripe request failed: %w", err)
	}
	return registry.NewJSONResult(resp.Body)
}

type paypalTools struct {
	client ProviderClient
}

type PayPalCreateInvoiceParams struct {
	Recipient string `json:"recipient"`
	Amount    int    `json:"amount"`
	Currency  string `json:"currency"`
	Note      string `json:"note,omitempty"`
}

type PayPalPaymentStatusParams struct {
	PaymentID string `json:"payment_id"`
}

func registerPayPal(b *registry.Builder, client ProviderClient) error {
	p := &paypalTools{client: client}

	invoiceSchema, err := jsonschema.For[PayPalCreateInvoiceParams](nil)
	if err != nil {
		return err
	}
	statusSchema, err := jsonschema.For[PayPalPaymentStatusParams](nil)
	if err != nil {
		return err
	}

	if err := b.AddTool(registry.ToolDescriptor{
		Name:           registry.ToolName("payments", "paypal", "create_invoice"),
		Description:    "Create a PayPal invoice for an amount in minor units",
		RequiredScopes: paymentScopes,
		InputSchema:    invoiceSchema,
	}, p.createInvoice); err != nil {
		return err
	}

	return b.AddTool(registry.ToolDescriptor{
		Name:           registry.ToolName("payments", "paypal", "get_payment_status"),
		Description:    "Look up the status of a PayPal payment",
		RequiredScopes: paymentScopes,
		InputSchema:    statusSchema,
	}, p.getPaymentStatus)
}

// paypalCredentials fetches the client id/secret pair; PayPal exchanges
// both for a short-lived access token, so the client needs them together.
func (p *paypalTools) paypalCredentials(ctx context.Context, call registry.CallContext) (string, map[string]string, error) {
	clientID, err := call.Credentials.Credential(ctx, "paypal", "client_id")
	if err != nil {
		return "", nil, err
	}
	clientSecret, err := call.Credentials.Credential(ctx, "paypal", "client_secret")
	if err != nil {
		return "", nil, err
	}
	return clientID, map[string]string{"client_secret": clientSecret}, nil
}

func (p *paypalTools) createInvoice(ctx context.Context, call registry.CallContext, args map[string]any) (*mcp_sdk.CallToolResult, error) {
	var params PayPalCreateInvoiceParams
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}
	if !strings.Contains(params.Recipient, "@") {
		return registry.NewErrorResult(fmt.Sprintf("invalid recipient address %q", params.Recipient)), nil
	}
	if params.Amount <= 0 {
		return registry.NewErrorResult("amount must be positive (minor units, e.g. cents)"), nil
	}
	currency := strings.ToLower(params.Currency)
	if len(currency) != 3 {
		return registry.NewErrorResult(fmt.Sprintf("invalid currency %q, want ISO 4217 code", params.Currency)), nil
	}

	clientID, extra, err := p.paypalCredentials(ctx, call)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(ctx, ProviderRequest{
		Provider:  "paypal",
		Operation: "create_invoice",
		Token:     clientID,
		Extra:     extra,
		Params: map[string]any{
			"recipient": params.Recipient,
			"amount":    params.Amount,
			"currency":  currency,
			"note":      params.Note,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("paypal request failed: %w", err)
	}
	return registry.NewJSONResult(resp.Body)
}

func (p *paypalTools) getPaymentStatus(ctx context.Context, call registry.CallContext, args map[string]any) (*mcp_sdk.CallToolResult, error) {
	var params PayPalPaymentStatusParams
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}
	if params.PaymentID == "" {
		return registry.NewErrorResult("payment_id is required"), nil
	}

	clientID, extra, err := p.paypalCredentials(ctx, call)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(ctx, ProviderRequest{
		Provider:  "paypal",
		Operation: "get_payment_status",
		Token:     clientID,
		Extra:     extra,
		Params:    map[string]any{"payment_id": params.PaymentID},
	})
	if err != nil {
		return nil, fmt.Errorf("paypal request failed: %w", err)
	}
	return registry.NewJSONResult(resp.Body)
}
