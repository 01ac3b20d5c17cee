package migration

import (
	billingdomain "github.com/signalacademy/billing/internal/billing/domain"
	"github.com/signalacademy/billing/internal/config"
	"github.com/signalacademy/billing/internal/notification"
	webhookdomain "github.com/signalacademy/billing/internal/webhook/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		}

		// Non-postgres targets (local development on sqlite/mysql) fall back
		// to schema auto-migration.
		return conn.AutoMigrate(
			&webhookdomain.EventRecord{},
			&billingdomain.Subscription{},
			&billingdomain.Invoice{},
			&notification.Notification{},
		)
	}),
)
