package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/signalacademy/billing/internal/billing/domain"
	obsmetrics "github.com/signalacademy/billing/internal/observability/metrics"
	"github.com/signalacademy/billing/internal/retry"
	"github.com/signalacademy/billing/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Adapter    domain.ProviderAdapter
	Repo       domain.Repository
	Mutator    billingdomain.Service
	ObsMetrics *obsmetrics.WebhookMetrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	adapter    domain.ProviderAdapter
	repo       domain.Repository
	mutator    billingdomain.Service
	obsMetrics *obsmetrics.WebhookMetrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("webhook.service"),
		genID:      p.GenID,
		adapter:    p.Adapter,
		repo:       p.Repo,
		mutator:    p.Mutator,
		obsMetrics: p.ObsMetrics,
	}
}

// Ingest authenticates a delivery and records it in the processed-event
// ledger. It never mutates billing state; that happens in Process, after the
// caller has acknowledged the delivery.
func (s *Service) Ingest(ctx context.Context, payload []byte, headers http.Header) (*domain.Event, error) {
	if !json.Valid(payload) {
		return nil, domain.ErrInvalidPayload
	}

	// Only transient I/O is absorbed here; a genuine signature mismatch is
	// fatal for the request and never retried.
	err := retry.Do(ctx, func(ctx context.Context) error {
		if err := s.adapter.Verify(ctx, payload, headers); err != nil {
			if errors.Is(err, domain.ErrInvalidSignature) || errors.Is(err, domain.ErrMissingSignature) {
				return retry.Permanent(err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	event, err := s.adapter.Parse(ctx, payload)
	if err != nil {
		return nil, err
	}

	received := domain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        s.adapter.Provider(),
		ProviderEventID: event.ID,
		EventKind:       string(event.Kind),
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      time.Now().UTC(),
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, &received)
	if err != nil {
		return nil, err
	}
	if inserted {
		event.RecordID = received.ID
		if s.obsMetrics != nil {
			s.obsMetrics.IncReceived(event.Provider)
		}
		return event, nil
	}

	stored, err := s.repo.FindEvent(ctx, s.db, received.Provider, event.ID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, domain.ErrInvalidEvent
	}
	if stored.ProcessedAt != nil {
		return nil, domain.ErrEventAlreadyProcessed
	}

	// Stored but unprocessed: an earlier delivery died mid-flight, so this
	// one picks the event up again.
	event.RecordID = stored.ID
	return event, nil
}

// Process applies the event's mutation with bounded retries and marks the
// ledger row processed. Exhausted retries leave the row unprocessed so a
// provider re-delivery can try again; the full event context is logged for
// manual replay in the meantime.
func (s *Service) Process(ctx context.Context, event *domain.Event) error {
	if event == nil {
		return domain.ErrInvalidEvent
	}

	if event.Kind != domain.KindOther {
		err := retry.Do(ctx, func(ctx context.Context) error {
			return s.mutator.Apply(ctx, event)
		})
		if err != nil {
			s.log.Error("event mutation failed after retries",
				zap.String("event_id", event.ID),
				zap.String("kind", string(event.Kind)),
				zap.String("user_id", event.UserID),
				zap.Error(err),
			)
			if s.obsMetrics != nil {
				s.obsMetrics.IncFailed(event.Provider, string(event.Kind))
			}
			return err
		}
	}

	if err := s.repo.MarkProcessed(ctx, s.db, event.RecordID, time.Now().UTC()); err != nil {
		s.log.Error("failed to mark event processed",
			zap.String("event_id", event.ID),
			zap.Error(err),
		)
		return err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.IncProcessed(event.Provider, string(event.Kind))
	}
	return nil
}
