package domains

import (
	"context"
	"fmt"
)

// StubClient simulates provider APIs. It refuses calls without
// credential material so tests exercise the full vault path, and it
// echoes the request shape back so callers can see what would be sent —
// minus the credentials themselves.
type StubClient struct{}

// Do implements ProviderClient
func (s *StubClient) Do(ctx context.Context, req ProviderRequest) (*ProviderResponse, error) {
	if req.Token == "" && len(req.Extra) == 0 {
		return nil, fmt.Errorf("%s: no credential presented", req.Provider)
	}

	body := map[string]any{
		"provider":  req.Provider,
		"operation": req.Operation,
		"simulated": true,
	}
	for k, v := range req.Params {
		body[k] = v
	}

	switch req.Provider + "/" + req.Operation {
	case "calendly/list_events":
		body["events"] = []map[string]any{
			{"uri": "https://api.calendly.com/scheduled_events/evt-1", "name": "Intro call", "status": "active"},
		}
	case "calendly/get_booking_link":
		body["booking_url"] = "https://calendly.com/acme/intro"
	case "stripe/create_payment_link":
		body["url"] = "https://buy.stripe.com/test_link"
	case "paypal/create_invoice":
		body["invoice_id"] = "INV2-TEST-0001"
	case "paypal/get_payment_status":
		body["status"] = "COMPLETED"
	case "sendgrid/send_email":
		body["message_id"] = "sg-msg-1"
	case "mailgun/send_email":
		body["message_id"] = "mg-msg-1"
	case "mailgun/get_delivery_stats":
		body["delivered"] = 42
	case "twilio/send_sms":
		body["sid"] = "SM00000000000000000000000000000001"
	}

	return &ProviderResponse{Status: 200, Body: body}, nil
}
