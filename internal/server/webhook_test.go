package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/signalacademy/billing/internal/config"
	"github.com/signalacademy/billing/internal/server"
	webhookdomain "github.com/signalacademy/billing/internal/webhook/domain"
	"github.com/signalacademy/billing/internal/webhook/stripe"
	"github.com/signalacademy/billing/internal/worker"
	"go.uber.org/zap"
)

type stubWebhookService struct {
	ingestEvent  *webhookdomain.Event
	ingestErr    error
	ingestDelay  time.Duration
	processCalls atomic.Int64
}

func (s *stubWebhookService) Ingest(ctx context.Context, payload []byte, headers http.Header) (*webhookdomain.Event, error) {
	if s.ingestDelay > 0 {
		select {
		case <-time.After(s.ingestDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.ingestEvent, s.ingestErr
}

func (s *stubWebhookService) Process(ctx context.Context, event *webhookdomain.Event) error {
	s.processCalls.Add(1)
	return nil
}

func testConfig() config.Config {
	return config.Config{
		AppName:     "billing-test",
		Environment: "test",
		HTTP: config.HTTPConfig{
			Addr:            ":0",
			BodyReadTimeout: time.Second,
			HandlerTimeout:  5 * time.Second,
			ShutdownTimeout: time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Provider: config.ProviderConfig{
			SecretKey:     "sk_test",
			WebhookSecret: "whsec_test",
		},
		DBHost: "localhost",
		DBUser: "postgres",
	}
}

func newTestServer(t *testing.T, cfg config.Config, svc webhookdomain.Service) (*gin.Engine, *worker.Registry) {
	t.Helper()

	gin.SetMode(gin.TestMode)
	log := zap.NewNop()
	engine := server.NewEngine(log)
	workers := worker.NewRegistry(log)
	srv := server.NewServer(server.ServerParams{
		Gin:        engine,
		Cfg:        cfg,
		Log:        log,
		WebhookSvc: svc,
		Workers:    workers,
	})
	srv.RegisterWebhookRoutes()
	return engine, workers
}

func postWebhook(engine *gin.Engine, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(stripe.SignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestHandleWebhookAcknowledgesVerifiedEvent(t *testing.T) {
	stub := &stubWebhookService{
		ingestEvent: &webhookdomain.Event{ID: "evt_1", Kind: webhookdomain.KindCheckoutCompleted},
	}
	engine, workers := newTestServer(t, testConfig(), stub)

	w := postWebhook(engine, []byte(`{"id":"evt_1"}`), "t=1,v1=abc")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]bool
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp["received"] {
		t.Fatalf("expected received ack, got %s", w.Body.String())
	}

	// The mutation runs after the response; drain to observe it.
	drainCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := workers.Drain(drainCtx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if got := stub.processCalls.Load(); got != 1 {
		t.Fatalf("expected one process call, got %d", got)
	}
}

func TestHandleWebhookRejectsMissingSignatureHeader(t *testing.T) {
	stub := &stubWebhookService{}
	engine, _ := newTestServer(t, testConfig(), stub)

	w := postWebhook(engine, []byte(`{"id":"evt_2"}`), "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if got := stub.processCalls.Load(); got != 0 {
		t.Fatalf("rejected delivery must not be processed")
	}
}

func TestHandleWebhookRejectsInvalidSignature(t *testing.T) {
	stub := &stubWebhookService{ingestErr: webhookdomain.ErrInvalidSignature}
	engine, _ := newTestServer(t, testConfig(), stub)

	w := postWebhook(engine, []byte(`{"id":"evt_3"}`), "t=1,v1=bad")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandleWebhookAcknowledgesDuplicate(t *testing.T) {
	stub := &stubWebhookService{ingestErr: webhookdomain.ErrEventAlreadyProcessed}
	engine, _ := newTestServer(t, testConfig(), stub)

	w := postWebhook(engine, []byte(`{"id":"evt_4"}`), "t=1,v1=abc")
	if w.Code != http.StatusOK {
		t.Fatalf("duplicates are acknowledged, got %d", w.Code)
	}
	if got := stub.processCalls.Load(); got != 0 {
		t.Fatalf("duplicate must not be processed again")
	}
}

func TestHandleWebhookTimesOutOnHangingIngest(t *testing.T) {
	stub := &stubWebhookService{
		ingestEvent: &webhookdomain.Event{ID: "evt_5"},
		ingestDelay: time.Minute,
	}
	cfg := testConfig()
	cfg.HTTP.HandlerTimeout = 50 * time.Millisecond
	engine, _ := newTestServer(t, cfg, stub)

	start := time.Now()
	w := postWebhook(engine, []byte(`{"id":"evt_5"}`), "t=1,v1=abc")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on timeout, got %d", w.Code)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("handler did not honor the timeout, took %s", elapsed)
	}
}

func TestHandleWebhookRejectsIncompleteConfig(t *testing.T) {
	stub := &stubWebhookService{}
	cfg := testConfig()
	cfg.Provider.WebhookSecret = ""
	engine, _ := newTestServer(t, cfg, stub)

	w := postWebhook(engine, []byte(`{"id":"evt_6"}`), "t=1,v1=abc")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on misconfiguration, got %d", w.Code)
	}
}

func TestHandleWebhookPreflight(t *testing.T) {
	stub := &stubWebhookService{}
	engine, _ := newTestServer(t, testConfig(), stub)

	req := httptest.NewRequest(http.MethodOptions, "/webhook", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected wildcard origin, got %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Headers"); got == "" {
		t.Fatalf("expected allowed headers on preflight")
	}
}
