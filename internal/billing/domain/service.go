package domain

import (
	"context"
	"errors"
	"time"

	webhookdomain "github.com/signalacademy/billing/internal/webhook/domain"
	"gorm.io/gorm"
)

var (
	ErrMissingMetadata = errors.New("missing_checkout_metadata")
	ErrUnknownPlan     = errors.New("unknown_plan")
	ErrOwnerNotFound   = errors.New("owner_not_found")
)

// Service applies the state transition for one verified event. Apply is
// idempotent relative to the provider event id: the ingest ledger guarantees
// it runs at most once per delivery chain.
type Service interface {
	Apply(ctx context.Context, event *webhookdomain.Event) error
}

// Repository persists subscriptions and invoices.
type Repository interface {
	InsertSubscription(ctx context.Context, db *gorm.DB, sub *Subscription) error
	InsertInvoice(ctx context.Context, db *gorm.DB, inv *Invoice) error
	FindSubscriptionOwner(ctx context.Context, db *gorm.DB, providerCustomerID, providerSubscriptionID string) (string, error)
	CancelSubscription(ctx context.Context, db *gorm.DB, providerSubscriptionID string, at time.Time) (int64, error)
}

// ProviderSubscription is the slice of the provider's subscription object the
// mutator needs when event metadata is incomplete.
type ProviderSubscription struct {
	ID         string
	CustomerID string
	UserID     string
}

// ProviderClient resolves subscription objects from the payment provider.
type ProviderClient interface {
	GetSubscription(ctx context.Context, id string) (*ProviderSubscription, error)
}
