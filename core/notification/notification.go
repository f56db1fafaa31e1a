package notification

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/liceojbh/intranet/core"
)

// Kinds
const (
	KindGrade    = "nota"
	KindMessage  = "mensaje"
	KindCircular = "circular"
	KindNews     = "noticia"
	KindHomework = "tarea"
)

const listLimit = 50

type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Link      string    `json:"link"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

type (
	Repository interface {
		CreateNotification(ctx context.Context, n Notification, exec ...core.DBExecutor) (Notification, error)
		// QueryNotifications returns the latest notifications of a user, newest first.
		QueryNotifications(ctx context.Context, userID string, limit int, exec ...core.DBExecutor) ([]Notification, error)
		CountUnread(ctx context.Context, userID string, exec ...core.DBExecutor) (int, error)
		// MarkRead marks the given notifications of a user as read; every unread one when ids is empty.
		MarkRead(ctx context.Context, userID string, ids []string, exec ...core.DBExecutor) (int, error)
		// DeleteRead removes read notifications created before t.
		DeleteRead(ctx context.Context, before time.Time, exec ...core.DBExecutor) (int, error)
	}

	Service struct {
		repo Repository
	}
)

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Notify stores a notification; pass exec to join the caller's transaction.
func (svc *Service) Notify(ctx context.Context, userID, kind, title, body, link string, exec ...core.DBExecutor) error {
	_, err := svc.repo.CreateNotification(ctx, Notification{
		UserID:    userID,
		Kind:      kind,
		Title:     title,
		Body:      body,
		Link:      link,
		CreatedAt: time.Now().UTC(),
	}, exec...)
	return errors.Wrap(err, "creating notification")
}

// List returns the latest notifications of a user and their unread count.
func (svc *Service) List(ctx context.Context, userID string) ([]Notification, int, error) {
	list, err := svc.repo.QueryNotifications(ctx, userID, listLimit)
	if err != nil {
		return nil, 0, errors.Wrap(err, "querying notifications")
	}
	unread, err := svc.repo.CountUnread(ctx, userID)
	if err != nil {
		return nil, 0, errors.Wrap(err, "counting unread notifications")
	}
	return list, unread, nil
}

func (svc *Service) MarkRead(ctx context.Context, userID string, ids ...string) (int, error) {
	return svc.repo.MarkRead(ctx, userID, ids)
}

// Purge drops read notifications older than maxAge.
func (svc *Service) Purge(ctx context.Context, maxAge time.Duration) (int, error) {
	return svc.repo.DeleteRead(ctx, time.Now().UTC().Add(-maxAge))
}
