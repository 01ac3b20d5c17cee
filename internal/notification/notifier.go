// Package notification emits best-effort user-facing notifications. A failed
// insert is logged and swallowed: billing correctness never depends on the
// user having been told about it.
package notification

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	KindSuccess = "success"
	KindInfo    = "info"
	KindWarning = "warning"
)

// Notification is an append-only advisory row.
type Notification struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	UserID    string       `gorm:"type:text;not null;index"`
	Title     string       `gorm:"type:text;not null"`
	Message   string       `gorm:"type:text;not null"`
	Type      string       `gorm:"type:text;not null"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Notification) TableName() string { return "notifications" }

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func NewService(p Params) *Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("notification"),
		genID: p.GenID,
	}
}

// Notify inserts a notification row. It never returns an error to the caller.
func (s *Service) Notify(ctx context.Context, userID, title, message, kind string) {
	if userID == "" {
		return
	}
	err := s.db.WithContext(ctx).Exec(
		`INSERT INTO notifications (id, user_id, title, message, type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		s.genID.Generate(),
		userID,
		title,
		message,
		kind,
		time.Now().UTC(),
	).Error
	if err != nil {
		s.log.Warn("failed to insert notification",
			zap.String("user_id", userID),
			zap.String("title", title),
			zap.Error(err),
		)
	}
}

var Module = fx.Module("notification.service",
	fx.Provide(NewService),
)
