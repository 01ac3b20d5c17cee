package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/signalacademy/billing/internal/config"
	obsmetrics "github.com/signalacademy/billing/internal/observability/metrics"
	webhookdomain "github.com/signalacademy/billing/internal/webhook/domain"
	"github.com/signalacademy/billing/internal/worker"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(registerRoutes),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	log        *zap.Logger
	webhookSvc webhookdomain.Service
	workers    *worker.Registry
	obsMetrics *obsmetrics.WebhookMetrics
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	WebhookSvc webhookdomain.Service
	Workers    *worker.Registry
	ObsMetrics *obsmetrics.WebhookMetrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		log:        p.Log.Named("server"),
		webhookSvc: p.WebhookSvc,
		workers:    p.Workers,
		obsMetrics: p.ObsMetrics,
	}
}

func registerRoutes(s *Server) {
	s.RegisterWebhookRoutes()
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, cfg.HTTP.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
