package service_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	billingrepo "github.com/signalacademy/billing/internal/billing/repository"
	billingservice "github.com/signalacademy/billing/internal/billing/service"
	"github.com/signalacademy/billing/internal/clock"
	"github.com/signalacademy/billing/internal/config"
	"github.com/signalacademy/billing/internal/notification"
	"github.com/signalacademy/billing/internal/webhook/domain"
	webhookrepo "github.com/signalacademy/billing/internal/webhook/repository"
	webhookservice "github.com/signalacademy/billing/internal/webhook/service"
	"github.com/signalacademy/billing/internal/webhook/stripe"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testWebhookSecret = "whsec_test"

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	schema := []string{
		`CREATE TABLE webhook_events (
			id BIGINT PRIMARY KEY,
			provider TEXT NOT NULL,
			provider_event_id TEXT NOT NULL,
			event_kind TEXT NOT NULL,
			payload TEXT NOT NULL,
			received_at TIMESTAMP NOT NULL,
			processed_at TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX ux_webhook_events_provider_event_id ON webhook_events(provider, provider_event_id)`,
		`CREATE TABLE subscriptions (
			id BIGINT PRIMARY KEY,
			user_id TEXT NOT NULL,
			plan_type TEXT NOT NULL,
			plan_name TEXT NOT NULL,
			amount REAL NOT NULL,
			status TEXT NOT NULL,
			start_date TIMESTAMP NOT NULL,
			end_date TIMESTAMP NOT NULL,
			provider_customer_id TEXT,
			provider_subscription_id TEXT,
			auto_renew BOOLEAN NOT NULL DEFAULT FALSE,
			includes_signals BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE invoices (
			id BIGINT PRIMARY KEY,
			user_id TEXT NOT NULL,
			amount REAL NOT NULL,
			status TEXT NOT NULL,
			payment_method TEXT,
			invoice_url TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE notifications (
			id BIGINT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			type TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB) domain.Service {
	t.Helper()

	node, err := snowflake.NewNode(11)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	log := zap.NewNop()
	notifier := notification.NewService(notification.Params{DB: db, Log: log, GenID: node})
	mutator := billingservice.NewService(billingservice.Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Clock:    clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
		Plans:    config.NewStaticPlanHolder(config.DefaultPlanConfig()),
		Repo:     billingrepo.Provide(),
		Notifier: notifier,
	})
	adapter := stripe.NewAdapter(config.Config{
		Provider: config.ProviderConfig{WebhookSecret: testWebhookSecret},
	})
	return webhookservice.NewService(webhookservice.Params{
		DB:      db,
		Log:     log,
		GenID:   node,
		Adapter: adapter,
		Repo:    webhookrepo.Provide(),
		Mutator: mutator,
	})
}

func signedHeaders(payload []byte, secret string) http.Header {
	timestamp := fmt.Sprintf("%d", time.Now().Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "." + string(payload)))
	headers := http.Header{}
	headers.Set(stripe.SignatureHeader,
		fmt.Sprintf("t=%s,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil))))
	return headers
}

func checkoutPayload(eventID string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"type": "checkout.session.completed",
		"created": 1750000000,
		"data": {"object": {
			"id": "cs_1",
			"customer": "cus_1",
			"subscription": "sub_1",
			"amount_total": 24999,
			"currency": "eur",
			"metadata": {"userId": "u1", "planType": "formation"}
		}}
	}`, eventID))
}

func countRows(t *testing.T, db *gorm.DB, table string) int64 {
	t.Helper()
	var count int64
	if err := db.Raw("SELECT COUNT(*) FROM " + table).Scan(&count).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return count
}

func TestIngestAndProcessIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	payload := checkoutPayload("evt_1")
	event, err := svc.Ingest(ctx, payload, signedHeaders(payload, testWebhookSecret))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if event.Kind != domain.KindCheckoutCompleted {
		t.Fatalf("expected checkout kind, got %q", event.Kind)
	}
	if err := svc.Process(ctx, event); err != nil {
		t.Fatalf("process: %v", err)
	}

	// Re-delivery of the same event id must be acknowledged without a
	// second mutation.
	_, err = svc.Ingest(ctx, payload, signedHeaders(payload, testWebhookSecret))
	if !errors.Is(err, domain.ErrEventAlreadyProcessed) {
		t.Fatalf("expected already processed, got %v", err)
	}
	if got := countRows(t, db, "subscriptions"); got != 1 {
		t.Fatalf("expected exactly one subscription, got %d", got)
	}
	if got := countRows(t, db, "webhook_events"); got != 1 {
		t.Fatalf("expected one ledger row, got %d", got)
	}
}

func TestIngestRejectsInvalidSignature(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db)

	payload := checkoutPayload("evt_2")
	_, err := svc.Ingest(context.Background(), payload, signedHeaders(payload, "whsec_other"))
	if !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}
	if countRows(t, db, "webhook_events") != 0 || countRows(t, db, "subscriptions") != 0 {
		t.Fatalf("rejected delivery must not write anything")
	}
}

func TestIngestRejectsMalformedBody(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db)

	payload := []byte(`{"id": "evt_3"`)
	_, err := svc.Ingest(context.Background(), payload, signedHeaders(payload, testWebhookSecret))
	if !errors.Is(err, domain.ErrInvalidPayload) {
		t.Fatalf("expected invalid payload, got %v", err)
	}
}

func TestIngestResumesUnprocessedEvent(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	payload := checkoutPayload("evt_4")
	first, err := svc.Ingest(ctx, payload, signedHeaders(payload, testWebhookSecret))
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}

	// The first delivery was never processed, so the second one resumes
	// the same ledger row instead of failing or duplicating it.
	second, err := svc.Ingest(ctx, payload, signedHeaders(payload, testWebhookSecret))
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if second.RecordID != first.RecordID {
		t.Fatalf("expected resumed record %d, got %d", first.RecordID, second.RecordID)
	}
	if got := countRows(t, db, "webhook_events"); got != 1 {
		t.Fatalf("expected one ledger row, got %d", got)
	}

	if err := svc.Process(ctx, second); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := countRows(t, db, "subscriptions"); got != 1 {
		t.Fatalf("expected one subscription, got %d", got)
	}
}

func TestProcessMarksUnhandledKindProcessed(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	payload := []byte(`{"id": "evt_5", "type": "charge.refunded", "data": {"object": {}}}`)
	event, err := svc.Ingest(ctx, payload, signedHeaders(payload, testWebhookSecret))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if event.Kind != domain.KindOther {
		t.Fatalf("expected other kind, got %q", event.Kind)
	}
	if err := svc.Process(ctx, event); err != nil {
		t.Fatalf("process: %v", err)
	}

	var processed int64
	err = db.Raw(`SELECT COUNT(*) FROM webhook_events WHERE processed_at IS NOT NULL`).Scan(&processed).Error
	if err != nil {
		t.Fatalf("count processed: %v", err)
	}
	if processed != 1 {
		t.Fatalf("expected the ledger row marked processed")
	}
	if countRows(t, db, "subscriptions") != 0 {
		t.Fatalf("unhandled kinds must not mutate billing state")
	}
}
