package dummydb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/liceojbh/intranet/core"
	"github.com/liceojbh/intranet/core/audit"
	"github.com/liceojbh/intranet/core/notification"
	"github.com/liceojbh/intranet/core/school"
)

type auditRepository struct {
	entries *table[audit.Entry]
}

var _ audit.Repository = (*auditRepository)(nil) // interface compliance check

func NewAuditRepository(db *DB) audit.Repository {
	return &auditRepository{entries: db.activity}
}

func (repo *auditRepository) CreateEntry(ctx context.Context, e audit.Entry, exec ...core.DBExecutor) (audit.Entry, error) {
	repo.entries.Lock()
	defer repo.entries.Unlock()

	e.ID = uuid.NewString()
	repo.entries.put(e.ID, e)
	return e, nil
}

func (repo *auditRepository) QueryEntries(ctx context.Context, filter audit.Filter, exec ...core.DBExecutor) ([]audit.Entry, error) {
	repo.entries.RLock()
	defer repo.entries.RUnlock()

	entries := repo.entries.filter(func(e audit.Entry) bool {
		if filter.UserID != "" && (e.UserID == nil || *e.UserID != filter.UserID) {
			return false
		}
		return filter.Kind == "" || e.Kind == filter.Kind
	})
	// newest first, later insertions win ties
	sort.SliceStable(entries, func(i, j int) bool {
		return !entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	if filter.Limit > 0 && len(entries) > filter.Limit {
		entries = entries[:filter.Limit]
	}
	return entries, nil
}

type notificationRepository struct {
	notifications *table[notification.Notification]
}

var _ notification.Repository = (*notificationRepository)(nil) // interface compliance check

func NewNotificationRepository(db *DB) notification.Repository {
	return &notificationRepository{notifications: db.notifications}
}

func (repo *notificationRepository) CreateNotification(ctx context.Context, n notification.Notification, exec ...core.DBExecutor) (notification.Notification, error) {
	repo.notifications.Lock()
	defer repo.notifications.Unlock()

	n.ID = uuid.NewString()
	repo.notifications.put(n.ID, n)
	return n, nil
}

func (repo *notificationRepository) QueryNotifications(ctx context.Context, userID string, limit int, exec ...core.DBExecutor) ([]notification.Notification, error) {
	repo.notifications.RLock()
	defer repo.notifications.RUnlock()

	list := repo.notifications.filter(func(n notification.Notification) bool { return n.UserID == userID })
	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (repo *notificationRepository) CountUnread(ctx context.Context, userID string, exec ...core.DBExecutor) (int, error) {
	repo.notifications.RLock()
	defer repo.notifications.RUnlock()

	return len(repo.notifications.filter(func(n notification.Notification) bool {
		return n.UserID == userID && !n.Read
	})), nil
}

func (repo *notificationRepository) MarkRead(ctx context.Context, userID string, ids []string, exec ...core.DBExecutor) (int, error) {
	repo.notifications.Lock()
	defer repo.notifications.Unlock()

	marked := 0
	for _, n := range repo.notifications.filter(func(n notification.Notification) bool {
		return n.UserID == userID && !n.Read && (len(ids) == 0 || core.StringInSlice(n.ID, ids))
	}) {
		n.Read = true
		repo.notifications.put(n.ID, n)
		marked++
	}
	return marked, nil
}

func (repo *notificationRepository) DeleteRead(ctx context.Context, before time.Time, exec ...core.DBExecutor) (int, error) {
	repo.notifications.Lock()
	defer repo.notifications.Unlock()

	var ids []string
	for _, n := range repo.notifications.filter(func(n notification.Notification) bool {
		return n.Read && n.CreatedAt.Before(before)
	}) {
		ids = append(ids, n.ID)
	}
	return repo.notifications.remove(ids...), nil
}

const schoolKey = "1"

type schoolRepository struct {
	school *table[school.Config]
}

var _ school.Repository = (*schoolRepository)(nil) // interface compliance check

func NewSchoolRepository(db *DB) school.Repository {
	return &schoolRepository{school: db.school}
}

func (repo *schoolRepository) GetSchool(ctx context.Context, exec ...core.DBExecutor) (school.Config, error) {
	repo.school.RLock()
	defer repo.school.RUnlock()
	if c, ok := repo.school.get(schoolKey); ok {
		return c, nil
	}
	return school.Config{}, school.ErrNotConfigured
}

func (repo *schoolRepository) SaveSchool(ctx context.Context, c school.Config, exec ...core.DBExecutor) (school.Config, error) {
	repo.school.Lock()
	defer repo.school.Unlock()

	repo.school.put(schoolKey, c)
	return c, nil
}
