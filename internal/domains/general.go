package domains

import (
	"context"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	mcp_sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/HyphaGroup/portcullis/internal/auth"
	"github.com/HyphaGroup/portcullis/internal/registry"
)

// General domain: utility tools requiring only the basic scope.

type EchoParams struct {
	Message string `json:"message"`
}

type CurrentTimeParams struct {
	Timezone string `json:"timezone,omitempty"`
}

type ConnectionTestParams struct{}

func registerGeneral(b *registry.Builder) error {
	echoSchema, err := jsonschema.For[EchoParams](nil)
	if err != nil {
		return err
	}
	timeSchema, err := jsonschema.For[CurrentTimeParams](nil)
	if err != nil {
		return err
	}
	testSchema, err := jsonschema.For[ConnectionTestParams](nil)
	if err != nil {
		return err
	}

	calcSchema := &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"operation": {
				Type: "string",
				Enum: []any{"add", "subtract", "multiply", "divide"},
			},
			"a": {Type: "number"},
			"b": {Type: "number"},
		},
		Required: []string{"operation", "a", "b"},
	}

	basic := []string{auth.ScopeBasic}

	if err := b.AddTool(registry.ToolDescriptor{
		Name:           registry.ToolName("general", "", "echo"),
		Description:    "Echo a message back to the caller",
		RequiredScopes: basic,
		InputSchema:    echoSchema,
	}, handleEcho); err != nil {
		return err
	}

	if err := b.AddTool(registry.ToolDescriptor{
		Name:           registry.ToolName("general", "", "current_time"),
		Description:    "Current server time, optionally in an IANA timezone",
		RequiredScopes: basic,
		InputSchema:    timeSchema,
	}, handleCurrentTime); err != nil {
		return err
	}

	if err := b.AddTool(registry.ToolDescriptor{
		Name:           registry.ToolName("general", "", "calculator"),
		Description:    "Basic arithmetic: add, subtract, multiply, divide",
		RequiredScopes: basic,
		InputSchema:    calcSchema,
	}, handleCalculator); err != nil {
		return err
	}

	return b.AddTool(registry.ToolDescriptor{
		Name:           registry.ToolName("general", "", "connection_test"),
		Description:    "Verify connectivity and report the authenticated tenant",
		RequiredScopes: basic,
		InputSchema:    testSchema,
	}, handleConnectionTest)
}

func handleEcho(ctx context.Context, call registry.CallContext, args map[string]any) (*mcp_sdk.CallToolResult, error) {
	var params EchoParams
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}
	return registry.NewTextResult(params.Message), nil
}

func handleCurrentTime(ctx context.Context, call registry.CallContext, args map[string]any) (*mcp_sdk.CallToolResult, error) {
	var params CurrentTimeParams
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}

	now := time.Now()
	if params.Timezone != "" {
		loc, err := time.LoadLocation(params.Timezone)
		if err != nil {
			return registry.NewErrorResult(fmt.Sprintf("unknown timezone %q", params.Timezone)), nil
		}
		now = now.In(loc)
	}

	return registry.NewJSONResult(map[string]any{
		"time":     now.Format(time.RFC3339),
		"timezone": now.Location().String(),
		"unix":     now.Unix(),
	})
}

func handleCalculator(ctx context.Context, call registry.CallContext, args map[string]any) (*mcp_sdk.CallToolResult, error) {
	op, _ := args["operation"].(string)
	a, _ := args["a"].(float64)
	bVal, _ := args["b"].(float64)

	var result float64
	switch op {
	case "add":
		result = a + bVal
	case "subtract":
		result = a - bVal
	case "multiply":
		result = a * bVal
	case "divide":
		if bVal == 0 {
			return registry.NewErrorResult("division by zero"), nil
		}
		result = a / bVal
	default:
		return registry.NewErrorResult(fmt.Sprintf("unknown operation %q", op)), nil
	}

	return registry.NewJSONResult(map[string]any{
		"operation": op,
		"a":         a,
		"b":         bVal,
		"result":    result,
	})
}

func handleConnectionTest(ctx context.Context, call registry.CallContext, args map[string]any) (*mcp_sdk.CallToolResult, error) {
	return registry.NewJSONResult(map[string]any{
		"status":      "ok",
		"tenant_id":   call.Auth.TenantID,
		"tenant_name": call.Auth.TenantName,
		"scopes":      call.Auth.Scopes,
		"server_time": time.Now().UTC().Format(time.RFC3339),
	})
}
