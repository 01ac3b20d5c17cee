package webhook

import (
	billingdomain "github.com/signalacademy/billing/internal/billing/domain"
	"github.com/signalacademy/billing/internal/webhook/domain"
	"github.com/signalacademy/billing/internal/webhook/repository"
	"github.com/signalacademy/billing/internal/webhook/service"
	"github.com/signalacademy/billing/internal/webhook/stripe"
	"go.uber.org/fx"
)

var Module = fx.Module("webhook.service",
	fx.Provide(repository.Provide),
	fx.Provide(stripe.NewAdapter),
	fx.Provide(func(a *stripe.Adapter) domain.ProviderAdapter { return a }),
	fx.Provide(stripe.NewClient),
	fx.Provide(func(c *stripe.Client) billingdomain.ProviderClient { return c }),
	fx.Provide(service.NewService),
)
