package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/signalacademy/billing/internal/billing/domain"
	"github.com/signalacademy/billing/internal/clock"
	"github.com/signalacademy/billing/internal/config"
	"github.com/signalacademy/billing/internal/notification"
	"github.com/signalacademy/billing/internal/retry"
	webhookdomain "github.com/signalacademy/billing/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Plans    *config.PlanHolder
	Repo     domain.Repository
	Notifier *notification.Service
	Provider domain.ProviderClient `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	plans    *config.PlanHolder
	repo     domain.Repository
	notifier *notification.Service
	provider domain.ProviderClient
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("billing.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		plans:    p.Plans,
		repo:     p.Repo,
		notifier: p.Notifier,
		provider: p.Provider,
	}
}

// Apply computes and persists the state transition for one verified event.
// Errors it returns plain are transient and safe to retry; errors wrapped
// retry.Permanent will not resolve on re-delivery. Events that cannot be
// attributed to a user are logged and dropped, returning nil.
func (s *Service) Apply(ctx context.Context, event *webhookdomain.Event) error {
	if event == nil {
		return retry.Permanent(webhookdomain.ErrInvalidEvent)
	}

	switch event.Kind {
	case webhookdomain.KindCheckoutCompleted:
		return s.applyCheckout(ctx, event)
	case webhookdomain.KindInvoicePaid:
		return s.applyInvoicePaid(ctx, event)
	case webhookdomain.KindSubscriptionCancelled:
		return s.applyCancellation(ctx, event)
	case webhookdomain.KindOther:
		return nil
	default:
		return retry.Permanent(webhookdomain.ErrInvalidEvent)
	}
}

func (s *Service) applyCheckout(ctx context.Context, event *webhookdomain.Event) error {
	userID := strings.TrimSpace(event.UserID)
	planType := strings.TrimSpace(event.PlanType)
	if userID == "" || planType == "" {
		s.log.Error("checkout event missing required metadata",
			zap.String("event_id", event.ID),
			zap.String("user_id", userID),
			zap.String("plan_type", planType),
		)
		return retry.Permanent(domain.ErrMissingMetadata)
	}

	plan, ok := s.plans.Lookup(planType)
	if !ok {
		s.log.Error("checkout event references unknown plan",
			zap.String("event_id", event.ID),
			zap.String("plan_type", planType),
		)
		return retry.Permanent(domain.ErrUnknownPlan)
	}

	now := s.clock.Now().UTC()
	sub := &domain.Subscription{
		ID:                     s.genID.Generate(),
		UserID:                 userID,
		PlanType:               plan.Type,
		PlanName:               plan.Name,
		Amount:                 plan.Amount,
		Status:                 domain.SubscriptionStatusActive,
		StartDate:              now,
		EndDate:                now.Add(domain.BillingPeriod),
		ProviderCustomerID:     event.ProviderCustomerID,
		ProviderSubscriptionID: event.ProviderSubscriptionID,
		AutoRenew:              plan.AutoRenew,
		IncludesSignals:        plan.IncludesSignals,
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	if err := s.repo.InsertSubscription(ctx, s.db, sub); err != nil {
		return err
	}

	// Invoices are audit-only; a failed insert must not fail the checkout.
	invoice := &domain.Invoice{
		ID:            s.genID.Generate(),
		UserID:        userID,
		Amount:        plan.Amount,
		Status:        domain.InvoiceStatusPaid,
		PaymentMethod: event.PaymentMethod,
		InvoiceURL:    event.InvoiceURL,
		CreatedAt:     now,
	}
	if err := s.repo.InsertInvoice(ctx, s.db, invoice); err != nil {
		s.log.Warn("failed to record checkout invoice",
			zap.String("event_id", event.ID),
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}

	s.notifier.Notify(ctx, userID,
		"Payment confirmed",
		fmt.Sprintf("Your access to %s is active.", plan.Name),
		notification.KindSuccess,
	)
	return nil
}

func (s *Service) applyInvoicePaid(ctx context.Context, event *webhookdomain.Event) error {
	userID, err := s.resolveOwner(ctx, event)
	if err != nil {
		return err
	}
	if userID == "" {
		// The missing linkage will not fix itself; drop rather than retry.
		s.log.Warn("invoice event has no resolvable owner, dropping",
			zap.String("event_id", event.ID),
			zap.String("provider_customer_id", event.ProviderCustomerID),
			zap.String("provider_subscription_id", event.ProviderSubscriptionID),
		)
		return nil
	}

	invoice := &domain.Invoice{
		ID:            s.genID.Generate(),
		UserID:        userID,
		Amount:        event.Amount,
		Status:        domain.InvoiceStatusPaid,
		PaymentMethod: event.PaymentMethod,
		InvoiceURL:    event.InvoiceURL,
		CreatedAt:     s.clock.Now().UTC(),
	}
	if err := s.repo.InsertInvoice(ctx, s.db, invoice); err != nil {
		return err
	}

	s.notifier.Notify(ctx, userID,
		"Subscription renewed",
		fmt.Sprintf("Your renewal payment of %.2f was received.", event.Amount),
		notification.KindSuccess,
	)
	return nil
}

func (s *Service) applyCancellation(ctx context.Context, event *webhookdomain.Event) error {
	// Resolve the owner before the status flips, while the row still matches.
	userID, err := s.resolveOwner(ctx, event)
	if err != nil {
		return err
	}

	updated, err := s.repo.CancelSubscription(ctx, s.db, event.ProviderSubscriptionID, s.clock.Now().UTC())
	if err != nil {
		return err
	}
	if updated == 0 {
		s.log.Warn("cancellation event matched no subscription, dropping",
			zap.String("event_id", event.ID),
			zap.String("provider_subscription_id", event.ProviderSubscriptionID),
		)
		return nil
	}

	if userID != "" {
		s.notifier.Notify(ctx, userID,
			"Subscription cancelled",
			"Your subscription has been cancelled and will not renew.",
			notification.KindWarning,
		)
	}
	return nil
}

// resolveOwner finds the owning user: event metadata first, then the stored
// subscription keyed by provider identifiers, and as a last resort the
// provider's own subscription object.
func (s *Service) resolveOwner(ctx context.Context, event *webhookdomain.Event) (string, error) {
	if userID := strings.TrimSpace(event.UserID); userID != "" {
		return userID, nil
	}

	userID, err := s.repo.FindSubscriptionOwner(ctx, s.db, event.ProviderCustomerID, event.ProviderSubscriptionID)
	if err != nil {
		return "", err
	}
	if userID != "" {
		return userID, nil
	}

	if s.provider != nil && strings.TrimSpace(event.ProviderSubscriptionID) != "" {
		sub, err := s.provider.GetSubscription(ctx, event.ProviderSubscriptionID)
		if err != nil {
			s.log.Warn("provider subscription lookup failed",
				zap.String("event_id", event.ID),
				zap.String("provider_subscription_id", event.ProviderSubscriptionID),
				zap.Error(err),
			)
			return "", nil
		}
		if sub != nil && sub.UserID != "" {
			return sub.UserID, nil
		}
	}

	return "", nil
}
