// Package domains registers the built-in tool catalog: the general
// domain plus thin adapters over external providers (bookings, CRM,
// payments, email, voice/SMS). Provider adapters fetch their credential
// bundle through the call's CredentialSource and hand it to a
// ProviderClient; the actual HTTP integration lives behind that
// interface so the catalog can be exercised with a stub.
package domains

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/HyphaGroup/portcullis/internal/registry"
)

// ProviderRequest describes one outbound provider API call. Token and
// Extra carry decrypted credential material; they exist only for the
// duration of Do and must never be logged or stored.
type ProviderRequest struct {
	Provider  string
	Operation string
	Token     string
	Extra     map[string]string
	Params    map[string]any
}

// ProviderResponse is the provider's reply, already decoded
type ProviderResponse struct {
	Status int
	Body   map[string]any
}

// ProviderClient performs outbound provider API calls
type ProviderClient interface {
	Do(ctx context.Context, req ProviderRequest) (*ProviderResponse, error)
}

// RegisterAll composes the full catalog into the builder
func RegisterAll(b *registry.Builder, client ProviderClient) error {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"general", func() error { return registerGeneral(b) }},
		{"bookings/calendly", func() error { return registerCalendly(b, client) }},
		{"bookings/google_calendar", func() error { return registerGoogleCalendar(b, client) }},
		{"crm/hubspot", func() error { return registerHubspot(b, client) }},
		{"payments/stripe", func() error { return registerStripe(b, client) }},
		{"payments/paypal", func() error { return registerPayPal(b, client) }},
		{"email/sendgrid", func() error { return registerSendgrid(b, client) }},
		{"email/mailgun", func() error { return registerMailgun(b, client) }},
		{"voice_sms/twilio", func() error { return registerTwilio(b, client) }},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			return fmt.Errorf("registering %s: %w", step.name, err)
		}
	}
	return nil
}

// decodeArgs maps validated arguments onto a typed params struct
func decodeArgs(args map[string]any, v any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encoding arguments: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding arguments: %w", err)
	}
	return nil
}
