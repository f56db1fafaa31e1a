// Package audit keeps the activity log shown to administrators.
package audit

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/liceojbh/intranet/core"
)

// Kinds
const (
	KindLogin      = "login"
	KindGrade      = "nota"
	KindAttendance = "asistencia"
	KindResource   = "recurso"
	KindAnnotation = "anotacion"
	KindUser       = "usuario"
	KindCourse     = "curso"
	KindOther      = "otro"
)

type Entry struct {
	ID          string    `json:"id"`
	UserID      *string   `json:"user_id"`
	Kind        string    `json:"kind"`
	Description string    `json:"description"`
	IP          string    `json:"ip"`
	CreatedAt   time.Time `json:"created_at"`
}

type Filter struct {
	UserID string `query:"user_id"`
	Kind   string `query:"kind"`
	Limit  int    `query:"limit"`
}

type (
	Repository interface {
		CreateEntry(ctx context.Context, e Entry, exec ...core.DBExecutor) (Entry, error)
		// QueryEntries orders by creation date, newest first.
		QueryEntries(ctx context.Context, filter Filter, exec ...core.DBExecutor) ([]Entry, error)
	}

	Service struct {
		repo   Repository
		logger core.Logger
	}
)

func NewService(repo Repository, logger core.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Record stores an entry and reports failures; use it inside transactions.
func (svc *Service) Record(ctx context.Context, userID, kind, desc, ip string, exec ...core.DBExecutor) error {
	e := Entry{Kind: kind, Description: desc, IP: ip, CreatedAt: time.Now().UTC()}
	if userID != "" {
		e.UserID = &userID
	}
	_, err := svc.repo.CreateEntry(ctx, e, exec...)
	return errors.Wrap(err, "recording activity")
}

// Log stores an entry; failures are logged, never returned.
func (svc *Service) Log(ctx context.Context, userID, kind, desc, ip string) {
	if err := svc.Record(ctx, userID, kind, desc, ip); err != nil {
		svc.logger.Error("activity log", err)
	}
}

func (svc *Service) Query(ctx context.Context, filter Filter) ([]Entry, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return svc.repo.QueryEntries(ctx, filter)
}
