package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	webhookdomain "github.com/signalacademy/billing/internal/webhook/domain"
	"github.com/signalacademy/billing/internal/webhook/stripe"
	"go.uber.org/zap"
)

// processTimeout bounds the detached mutation of one event. It is deliberately
// much longer than the handler timeout: once an event is verified its mutation
// is attempted even if the HTTP response already went out.
const processTimeout = 2 * time.Minute

func (s *Server) RegisterWebhookRoutes() {
	s.engine.POST("/webhook", s.HandleWebhook)
	s.engine.OPTIONS("/webhook", s.HandleWebhookPreflight)
}

func (s *Server) HandleWebhookPreflight(c *gin.Context) {
	corsHeaders(c)
	c.Status(http.StatusOK)
}

// HandleWebhook accepts a provider delivery: verify synchronously, acknowledge
// fast, mutate in the background. The provider only ever sees accept/reject.
func (s *Server) HandleWebhook(c *gin.Context) {
	corsHeaders(c)

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.HTTP.HandlerTimeout)
	defer cancel()

	if err := s.cfg.ValidateWebhook(); err != nil {
		s.log.Error("webhook configuration incomplete", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "configuration error"})
		return
	}

	payload, err := readBody(ctx, c.Request.Body, s.cfg.HTTP.MaxBodyBytes, s.cfg.HTTP.BodyReadTimeout)
	if err != nil {
		s.obsMetrics.IncRejected("stripe", "unreadable_body")
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read request body"})
		return
	}

	if strings.TrimSpace(c.GetHeader(stripe.SignatureHeader)) == "" {
		s.obsMetrics.IncRejected("stripe", "missing_signature")
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing signature header"})
		return
	}

	type ingestResult struct {
		event *webhookdomain.Event
		err   error
	}
	resCh := make(chan ingestResult, 1)
	headers := c.Request.Header
	go func() {
		event, err := s.webhookSvc.Ingest(ctx, payload, headers)
		resCh <- ingestResult{event: event, err: err}
	}()

	select {
	case <-ctx.Done():
		s.log.Error("webhook handler timed out",
			zap.Duration("timeout", s.cfg.HTTP.HandlerTimeout),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "handler timeout"})
		return
	case res := <-resCh:
		if res.err != nil {
			s.respondIngestError(c, res.err)
			return
		}

		event := res.event
		s.workers.Go("webhook:"+event.ID, func(bg context.Context) {
			procCtx, cancel := context.WithTimeout(bg, processTimeout)
			defer cancel()
			_ = s.webhookSvc.Process(procCtx, event)
		})

		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}

func (s *Server) respondIngestError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, webhookdomain.ErrEventAlreadyProcessed):
		// A duplicate delivery is not a delivery failure.
		c.JSON(http.StatusOK, gin.H{"received": true})
	case errors.Is(err, webhookdomain.ErrInvalidSignature),
		errors.Is(err, webhookdomain.ErrMissingSignature):
		s.obsMetrics.IncRejected("stripe", "invalid_signature")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
	case errors.Is(err, webhookdomain.ErrInvalidPayload),
		errors.Is(err, webhookdomain.ErrInvalidEvent):
		s.obsMetrics.IncRejected("stripe", "invalid_payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
	default:
		s.log.Error("webhook ingest failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ingest failed"})
	}
}

// readBody reads the raw payload under its own timeout so a stalled client
// cannot hold the handler for the whole request budget.
func readBody(ctx context.Context, r io.Reader, limit int64, timeout time.Duration) ([]byte, error) {
	readCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type readResult struct {
		data []byte
		err  error
	}
	ch := make(chan readResult, 1)
	go func() {
		data, err := io.ReadAll(io.LimitReader(r, limit))
		ch <- readResult{data: data, err: err}
	}()

	select {
	case <-readCtx.Done():
		return nil, readCtx.Err()
	case res := <-ch:
		return res.data, res.err
	}
}
