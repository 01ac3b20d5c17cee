// Package domain defines the canonical webhook event shapes shared by the
// provider adapters, the ingest service and the billing mutator.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Kind classifies a provider notification. Anything the adapter does not
// recognize maps to KindOther and is acknowledged without effect.
type Kind string

const (
	KindCheckoutCompleted     Kind = "checkout_completed"
	KindInvoicePaid           Kind = "invoice_paid"
	KindSubscriptionCancelled Kind = "subscription_cancelled"
	KindOther                 Kind = "other"
)

// Event is the typed, immutable form of a verified provider notification.
type Event struct {
	ID   string
	Kind Kind

	Provider string

	// Metadata forwarded by the provider. UserID and PlanType come from the
	// checkout metadata; both may be empty on renewal and cancellation events.
	UserID   string
	PlanType string

	Amount        float64
	Currency      string
	PaymentMethod string
	InvoiceURL    string

	ProviderCustomerID     string
	ProviderSubscriptionID string

	OccurredAt time.Time
	RawPayload []byte

	// RecordID points at the ledger row created when the event was ingested.
	RecordID snowflake.ID
}

// EventRecord is the processed-event ledger row. The unique index on
// (provider, provider_event_id) is what makes re-delivery idempotent.
type EventRecord struct {
	ID              snowflake.ID   `gorm:"primaryKey"`
	Provider        string         `gorm:"type:text;not null"`
	ProviderEventID string         `gorm:"type:text;not null"`
	EventKind       string         `gorm:"type:text;not null"`
	Payload         datatypes.JSON `gorm:"type:jsonb;not null"`
	ReceivedAt      time.Time      `gorm:"not null"`
	ProcessedAt     *time.Time     `gorm:""`
}

func (EventRecord) TableName() string { return "webhook_events" }
