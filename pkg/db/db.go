package db

import (
	"context"
	"time"

	"github.com/signalacademy/billing/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func New(cfg config.Config, log *zap.Logger) (*gorm.DB, error) {
	dialect, err := Dialect(cfg)
	if err != nil {
		return nil, err
	}

	conn, err := gorm.Open(dialect, &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConn)
	sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConn)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.DBConnMaxLifetime) * time.Second)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.DBConnMaxIdleTime) * time.Second)

	log.Info("database connected",
		zap.String("type", cfg.DBType),
		zap.String("host", cfg.DBHost),
		zap.String("name", cfg.DBName),
	)
	return conn, nil
}

func registerHooks(lc fx.Lifecycle, conn *gorm.DB) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})
}

// Module provides the shared gorm connection pool.
var Module = fx.Module("db",
	fx.Provide(New),
	fx.Invoke(registerHooks),
)
