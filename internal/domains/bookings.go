package domains

import (
	"context"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	mcp_sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/HyphaGroup/portcullis/internal/auth"
	"github.com/HyphaGroup/portcullis/internal/registry"
)

// Bookings domain: Calendly and Google Calendar adapters.

var bookingScopes = []string{auth.ScopeBasic, auth.ScopeBooking}

type calendlyTools struct {
	client ProviderClient
}

type CalendlyListEventsParams struct {
	Count  int    `json:"count,omitempty"`
	Status string `json:"status,omitempty"`
}

type CalendlyBookingLinkParams struct{}

func registerCalendly(b *registry.Builder, client ProviderClient) error {
	c := &calendlyTools{client: client}

	listSchema, err := jsonschema.For[CalendlyListEventsParams](nil)
	if err != nil {
		return err
	}
	linkSchema, err := jsonschema.For[CalendlyBookingLinkParams](nil)
	if err != nil {
		return err
	}

	if err := b.AddTool(registry.ToolDescriptor{
		Name:           registry.ToolName("bookings", "calendly", "list_events"),
		Description:    "List scheduled Calendly events",
		RequiredScopes: bookingScopes,
		InputSchema:    listSchema,
	}, c.listEvents); err != nil {
		return err
	}

	return b.AddTool(registry.ToolDescriptor{
		Name:           registry.ToolName("bookings", "calendly", "get_booking_link"),
		Description:    "Get the tenant's Calendly booking link",
		RequiredScopes: bookingScopes,
		InputSchema:    linkSchema,
	}, c.getBookingLink)
}

func (c *calendlyTools) listEvents(ctx context.Context, call registry.CallContext, args map[string]any) (*mcp_sdk.CallToolResult, error) {
	var params CalendlyListEventsParams
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}
	if params.Count <= 0 {
		params.Count = 10
	}

	token, err := call.Credentials.Credential(ctx, "calendly", "token")
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(ctx, ProviderRequest{
		Provider:  "calendly",
		Operation: "list_events",
		Token:     token,
		Params:    map[string]any{"count": params.Count, "status": params.Status},
	})
	if err != nil {
		return nil, fmt.Errorf("calendly request failed: %w", err)
	}
	return registry.NewJSONResult(resp.Body)
}

func (c *calendlyTools) getBookingLink(ctx context.Context, call registry.CallContext, args map[string]any) (*mcp_sdk.CallToolResult, error) {
	token, err := call.Credentials.Credential(ctx, "calendly", "token")
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(ctx, ProviderRequest{
		Provider:  "calendly",
		Operation: "get_booking_link",
		Token:     token,
	})
	if err != nil {
		return nil, fmt.Errorf("calendly request failed: %w", err)
	}
	return registry.NewJSONResult(resp.Body)
}

type googleCalendarTools struct {
	client ProviderClient
}

type GCalListEventsParams struct {
	TimeMin string `json:"time_min,omitempty"`
	TimeMax string `json:"time_max,omitempty"`
}

type GCalCreateEventParams struct {
	Summary   string   `json:"summary"`
	Start     string   `json:"start"`
	End       string   `json:"end"`
	Attendees []string `json:"attendees,omitempty"`
}

func registerGoogleCalendar(b *registry.Builder, client ProviderClient) error {
	g := &googleCalendarTools{client: client}

	listSchema, err := jsonschema.For[GCalListEventsParams](nil)
	if err != nil {
		return err
	}
	createSchema, err := jsonschema.For[GCalCreateEventParams](nil)
	if err != nil {
		return err
	}

	if err := b.AddTool(registry.ToolDescriptor{
		Name:           registry.ToolName("bookings", "google_calendar", "list_events"),
		Description:    "List Google Calendar events in a time window",
		RequiredScopes: bookingScopes,
		InputSchema:    listSchema,
	}, g.listEvents); err != nil {
		return err
	}

	return b.AddTool(registry.ToolDescriptor{
		Name:           registry.ToolName("bookings", "google_calendar", "create_event"),
		Description:    "Create a Google Calendar event",
		RequiredScopes: bookingScopes,
		InputSchema:    createSchema,
	}, g.createEvent)
}

func (g *googleCalendarTools) listEvents(ctx context.Context, call registry.CallContext, args map[string]any) (*mcp_sdk.CallToolResult, error) {
	var params GCalListEventsParams
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}

	token, err := call.Credentials.Credential(ctx, "google_calendar", "access_token")
	if err != nil {
		return nil, err
	}

	resp, err := g.client.Do(ctx, ProviderRequest{
		Provider:  "google_calendar",
		Operation: "list_events",
		Token:     token,
		Params:    map[string]any{"time_min": params.TimeMin, "time_max": params.TimeMax},
	})
	if err != nil {
		return nil, fmt.Errorf("google calendar request failed: %w", err)
	}
	return registry.NewJSONResult(resp.Body)
}

func (g *googleCalendarTools) createEvent(ctx context.Context, call registry.CallContext, args map[string]any) (*mcp_sdk.CallToolResult, error) {
	var params GCalCreateEventParams
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}

	token, err := call.Credentials.Credential(ctx, "google_calendar", "access_token")
	if err != nil {
		return nil, err
	}

	resp, err := g.client.Do(ctx, ProviderRequest{
		Provider:  "google_calendar",
		Operation: "create_event",
		Token:     token,
		Params: map[string]any{
			"summary":   params.Summary,
			"start":     params.Start,
			"end":       params.End,
			"attendees": params.Attendees,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("google calendar request failed: %w", err)
	}
	return registry.NewJSONResult(resp.Body)
}
