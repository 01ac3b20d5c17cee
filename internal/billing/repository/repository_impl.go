package repository

import (
	"context"
	"strings"
	"time"

	"github.com/signalacademy/billing/internal/billing/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertSubscription(ctx context.Context, db *gorm.DB, sub *domain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (
			id, user_id, plan_type, plan_name, amount, status, start_date, end_date,
			provider_customer_id, provider_subscription_id, auto_renew, includes_signals,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID,
		sub.UserID,
		sub.PlanType,
		sub.PlanName,
		sub.Amount,
		sub.Status,
		sub.StartDate,
		sub.EndDate,
		sub.ProviderCustomerID,
		sub.ProviderSubscriptionID,
		sub.AutoRenew,
		sub.IncludesSignals,
		sub.CreatedAt,
		sub.UpdatedAt,
	).Error
}

func (r *repo) InsertInvoice(ctx context.Context, db *gorm.DB, inv *domain.Invoice) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO invoices (id, user_id, amount, status, payment_method, invoice_url, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		inv.ID,
		inv.UserID,
		inv.Amount,
		inv.Status,
		inv.PaymentMethod,
		inv.InvoiceURL,
		inv.CreatedAt,
	).Error
}

// FindSubscriptionOwner resolves the owning user from stable provider
// identifiers. The most recent matching row wins.
func (r *repo) FindSubscriptionOwner(ctx context.Context, db *gorm.DB, providerCustomerID, providerSubscriptionID string) (string, error) {
	providerCustomerID = strings.TrimSpace(providerCustomerID)
	providerSubscriptionID = strings.TrimSpace(providerSubscriptionID)
	if providerCustomerID == "" && providerSubscriptionID == "" {
		return "", nil
	}

	var userID string
	err := db.WithContext(ctx).Raw(
		`SELECT user_id
		 FROM subscriptions
		 WHERE (provider_subscription_id = ? AND ? != '')
		    OR (provider_customer_id = ? AND ? != '')
		 ORDER BY created_at DESC
		 LIMIT 1`,
		providerSubscriptionID, providerSubscriptionID,
		providerCustomerID, providerCustomerID,
	).Scan(&userID).Error
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(userID), nil
}

func (r *repo) CancelSubscription(ctx context.Context, db *gorm.DB, providerSubscriptionID string, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?, updated_at = ?
		 WHERE provider_subscription_id = ? AND status != ?`,
		domain.SubscriptionStatusCancelled,
		at,
		providerSubscriptionID,
		domain.SubscriptionStatusCancelled,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
