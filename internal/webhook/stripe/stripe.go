// Package stripe adapts Stripe webhook deliveries to the canonical event
// model: signature verification over the raw body, payload deserialization,
// and the one provider API lookup the mutator may need.
package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/signalacademy/billing/internal/config"
	webhookdomain "github.com/signalacademy/billing/internal/webhook/domain"
)

const providerName = "stripe"

// SignatureHeader is the header Stripe signs deliveries with.
const SignatureHeader = "Stripe-Signature"

type Adapter struct {
	webhookSecret string
}

func NewAdapter(cfg config.Config) *Adapter {
	return &Adapter{
		webhookSecret: strings.TrimSpace(cfg.Provider.WebhookSecret),
	}
}

func (a *Adapter) Provider() string { return providerName }

// Verify checks the Stripe-Signature header against the HMAC-SHA256 of
// "<timestamp>.<raw body>". The body must not be re-serialized before this
// runs or the digest will not match.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get(SignatureHeader))
	if sigHeader == "" {
		return webhookdomain.ErrMissingSignature
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return webhookdomain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return webhookdomain.ErrInvalidSignature
}

// Parse deserializes a verified payload into a typed event. Event types the
// pipeline does not handle come back as KindOther so the caller can
// acknowledge them without effect.
func (a *Adapter) Parse(ctx context.Context, payload []byte) (*webhookdomain.Event, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, webhookdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, webhookdomain.ErrInvalidEvent
	}

	switch strings.TrimSpace(event.Type) {
	case "checkout.session.completed":
		return a.parseCheckoutSession(event, payload)
	case "invoice.paid", "invoice.payment_succeeded":
		return a.parseInvoice(event, payload)
	case "customer.subscription.deleted":
		return a.parseSubscriptionDeleted(event, payload)
	default:
		return &webhookdomain.Event{
			ID:         event.ID,
			Kind:       webhookdomain.KindOther,
			Provider:   providerName,
			OccurredAt: timestamp(event.Created, 0),
			RawPayload: payload,
		}, nil
	}
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripeCheckoutSession struct {
	ID                 string            `json:"id"`
	Customer           string            `json:"customer"`
	Subscription       string            `json:"subscription"`
	AmountTotal        int64             `json:"amount_total"`
	Currency           string            `json:"currency"`
	Created            int64             `json:"created"`
	PaymentMethodTypes []string          `json:"payment_method_types"`
	Metadata           map[string]string `json:"metadata"`
}

type stripeInvoice struct {
	ID               string            `json:"id"`
	Customer         string            `json:"customer"`
	Subscription     string            `json:"subscription"`
	AmountPaid       int64             `json:"amount_paid"`
	Currency         string            `json:"currency"`
	Created          int64             `json:"created"`
	HostedInvoiceURL string            `json:"hosted_invoice_url"`
	Metadata         map[string]string `json:"metadata"`
}

type stripeSubscription struct {
	ID       string            `json:"id"`
	Customer string            `json:"customer"`
	Created  int64             `json:"created"`
	Metadata map[string]string `json:"metadata"`
}

func (a *Adapter) parseCheckoutSession(event stripeEvent, payload []byte) (*webhookdomain.Event, error) {
	var session stripeCheckoutSession
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		return nil, webhookdomain.ErrInvalidPayload
	}

	paymentMethod := "card"
	if len(session.PaymentMethodTypes) > 0 {
		paymentMethod = session.PaymentMethodTypes[0]
	}

	return &webhookdomain.Event{
		ID:                     event.ID,
		Kind:                   webhookdomain.KindCheckoutCompleted,
		Provider:               providerName,
		UserID:                 strings.TrimSpace(session.Metadata["userId"]),
		PlanType:               strings.TrimSpace(session.Metadata["planType"]),
		Amount:                 float64(session.AmountTotal) / 100,
		Currency:               strings.ToUpper(strings.TrimSpace(session.Currency)),
		PaymentMethod:          paymentMethod,
		ProviderCustomerID:     session.Customer,
		ProviderSubscriptionID: session.Subscription,
		OccurredAt:             timestamp(session.Created, event.Created),
		RawPayload:             payload,
	}, nil
}

func (a *Adapter) parseInvoice(event stripeEvent, payload []byte) (*webhookdomain.Event, error) {
	var invoice stripeInvoice
	if err := json.Unmarshal(event.Data.Object, &invoice); err != nil {
		return nil, webhookdomain.ErrInvalidPayload
	}

	return &webhookdomain.Event{
		ID:                     event.ID,
		Kind:                   webhookdomain.KindInvoicePaid,
		Provider:               providerName,
		UserID:                 strings.TrimSpace(invoice.Metadata["userId"]),
		Amount:                 float64(invoice.AmountPaid) / 100,
		Currency:               strings.ToUpper(strings.TrimSpace(invoice.Currency)),
		PaymentMethod:          "card",
		InvoiceURL:             invoice.HostedInvoiceURL,
		ProviderCustomerID:     invoice.Customer,
		ProviderSubscriptionID: invoice.Subscription,
		OccurredAt:             timestamp(invoice.Created, event.Created),
		RawPayload:             payload,
	}, nil
}

func (a *Adapter) parseSubscriptionDeleted(event stripeEvent, payload []byte) (*webhookdomain.Event, error) {
	var sub stripeSubscription
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return nil, webhookdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(sub.ID) == "" {
		return nil, webhookdomain.ErrInvalidEvent
	}

	return &webhookdomain.Event{
		ID:                     event.ID,
		Kind:                   webhookdomain.KindSubscriptionCancelled,
		Provider:               providerName,
		UserID:                 strings.TrimSpace(sub.Metadata["userId"]),
		ProviderCustomerID:     sub.Customer,
		ProviderSubscriptionID: sub.ID,
		OccurredAt:             timestamp(sub.Created, event.Created),
		RawPayload:             payload,
	}, nil
}

func parseSignatureHeader(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func timestamp(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}
