package billing

import (
	"github.com/signalacademy/billing/internal/billing/repository"
	"github.com/signalacademy/billing/internal/billing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billing.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
