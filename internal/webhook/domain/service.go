package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrMissingSignature      = errors.New("missing_signature")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrInvalidEvent          = errors.New("invalid_event")
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
)

// Service ingests raw provider deliveries and processes verified events.
// Ingest is the synchronous half (verify, parse, ledger insert); Process is
// run on a detached task after the delivery has been acknowledged.
type Service interface {
	Ingest(ctx context.Context, payload []byte, headers http.Header) (*Event, error)
	Process(ctx context.Context, event *Event) error
}

// ProviderAdapter authenticates and deserializes one provider's payloads.
type ProviderAdapter interface {
	Provider() string
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*Event, error)
}

// Repository persists the processed-event ledger.
type Repository interface {
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*EventRecord, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
}
