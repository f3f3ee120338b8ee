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

// Voice/SMS domain: Twilio adapter. Twilio authenticates with an
// account SID plus auth token, so this is the one provider exercising
// a multi-field credential bundle.

var voiceScopes = []string{auth.ScopeBasic, auth.ScopeVoice}

type twilioTools struct {
	client ProviderClient
}

type TwilioSendSMSParams struct {
	To   string `json:"to"`
	Body string `json:"body"`
	From string `json:"from,omitempty"`
}

type TwilioLookupParams struct {
	Phone string `json:"phone"`
}

func registerTwilio(b *registry.Builder, client ProviderClient) error {
	t := &twilioTools{client: client}

	smsSchema, err := jsonschema.For[TwilioSendSMSParams](nil)
	if err != nil {
		return err
	}
	lookupSchema, err := jsonschema.For[TwilioLookupParams](nil)
	if err != nil {
		return err
	}

	if err := b.AddTool(registry.ToolDescriptor{
		Name:           registry.ToolName("voice_sms", "twilio", "send_sms"),
		Description:    "Send an SMS through Twilio",
		RequiredScopes: voiceScopes,
		InputSchema:    smsSchema,
	}, t.sendSMS); err != nil {
		return err
	}

	return b.AddTool(registry.ToolDescriptor{
		Name:           registry.ToolName("voice_sms", "twilio", "lookup_number"),
		Description:    "Look up carrier and formatting details for a phone number",
		RequiredScopes: voiceScopes,
		InputSchema:    lookupSchema,
	}, t.lookupNumber)
}

func (t *twilioTools) credentials(ctx context.Context, call registry.CallContext) (string, map[string]string, error) {
	sid, err := call.Credentials.Credential(ctx, "twilio", "account_sid")
	if err != nil {
		return "", nil, err
	}
	token, err := call.Credentials.Credential(ctx, "twilio", "auth_token")
	if err != nil {
		return "", nil, err
	}
	return token, map[string]string{"account_sid": sid}, nil
}

func (t *twilioTools) sendSMS(ctx context.Context, call registry.CallContext, args map[string]any) (*mcp_sdk.CallToolResult, error) {
	var params TwilioSendSMSParams
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(params.To, "+") {
		return registry.NewErrorResult(fmt.Sprintf("invalid destination %q, want E.164 format", params.To)), nil
	}
	if params.Body == "" {
		return registry.NewErrorResult("body is required"), nil
	}

	token, extra, err := t.credentials(ctx, call)
	if err != nil {
		return nil, err
	}

	resp, err := t.client.Do(ctx, ProviderRequest{
		Provider:  "twilio",
		Operation: "send_sms",
		Token:     token,
		Extra:     extra,
		Params: map[string]any{
			"to":   params.To,
			"body": params.Body,
			"from": params.From,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("twilio request failed: %w", err)
	}
	return registry.NewJSONResult(resp.Body)
}

func (t *twilioTools) lookupNumber(ctx context.Context, call registry.CallContext, args map[string]any) (*mcp_sdk.CallToolResult, error) {
	var params TwilioLookupParams
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}

	token, extra, err := t.credentials(ctx, call)
	if err != nil {
		return nil, err
	}

	resp, err := t.client.Do(ctx, ProviderRequest{
		Provider:  "twilio",
		Operation: "lookup_number",
		Token:     token,
		Extra:     extra,
		Params:    map[string]any{"phone": params.Phone},
	})
	if err != nil {
		return nil, fmt.Errorf("twilio request failed: %w", err)
	}
	return registry.NewJSONResult(resp.Body)
}
