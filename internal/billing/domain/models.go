// Package domain contains persistence models for subscriptions, invoices and
// the contracts of the billing mutation service.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// BillingPeriod is the fixed subscription window granted by one payment.
const BillingPeriod = 30 * 24 * time.Hour

// Subscription captures a user's access agreement. Rows are never deleted;
// cancellation is a status transition keyed by the provider subscription id.
type Subscription struct {
	ID                     snowflake.ID       `gorm:"primaryKey"`
	UserID                 string             `gorm:"type:text;not null;index"`
	PlanType               string             `gorm:"type:text;not null"`
	PlanName               string             `gorm:"type:text;not null"`
	Amount                 float64            `gorm:"not null"`
	Status                 SubscriptionStatus `gorm:"type:text;not null"`
	StartDate              time.Time          `gorm:"not null"`
	EndDate                time.Time          `gorm:"not null"`
	ProviderCustomerID     string             `gorm:"type:text;index"`
	ProviderSubscriptionID string             `gorm:"type:text;index"`
	AutoRenew              bool               `gorm:"not null;default:false"`
	IncludesSignals        bool               `gorm:"not null;default:false"`
	CreatedAt              time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt              time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Subscription) TableName() string { return "subscriptions" }

const (
	InvoiceStatusPaid = "paid"
)

// Invoice is an append-only audit record, one row per processed payment.
type Invoice struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	UserID        string       `gorm:"type:text;not null;index"`
	Amount        float64      `gorm:"not null"`
	Status        string       `gorm:"type:text;not null"`
	PaymentMethod string       `gorm:"type:text"`
	InvoiceURL    string       `gorm:"type:text"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Invoice) TableName() string { return "invoices" }
