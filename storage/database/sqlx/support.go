package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/liceojbh/intranet/core"
	"github.com/liceojbh/intranet/core/audit"
	"github.com/liceojbh/intranet/core/messaging"
	"github.com/liceojbh/intranet/core/notification"
	"github.com/liceojbh/intranet/core/school"
)

// Activity log

var activityColumns = []string{"id", "user_id", "kind", "description", "ip", "created_at"}

type activityRow struct {
	ID          string      `db:"id"`
	UserID      null.String `db:"user_id"`
	Kind        string      `db:"kind"`
	Description string      `db:"description"`
	IP          string      `db:"ip"`
	CreatedAt   time.Time   `db:"created_at"`
}

type auditRepository struct {
	repository
}

var _ audit.Repository = (*auditRepository)(nil) // interface compliance check

func NewAuditRepository(db *sqlx.DB) *auditRepository {
	return &auditRepository{repository{db: db}}
}

func (repo auditRepository) CreateEntry(ctx context.Context, e audit.Entry, exec ...core.DBExecutor) (audit.Entry, error) {
	e.ID = uuid.NewString()
	_, err := repo.run(ctx, exec, psql.Insert("activity_log").
		Columns(activityColumns...).
		Values(e.ID, null.StringFromPtr(e.UserID), e.Kind, e.Description, e.IP, e.CreatedAt.UTC()),
		"inserting activity entry")
	if err != nil {
		return audit.Entry{}, err
	}
	return e, nil
}

func (repo auditRepository) QueryEntries(ctx context.Context, filter audit.Filter, exec ...core.DBExecutor) ([]audit.Entry, error) {
	b := psql.Select(activityColumns...).From("activity_log").OrderBy("created_at DESC")
	if filter.UserID != "" {
		b = b.Where(sq.Eq{"user_id": filter.UserID})
	}
	if filter.Kind != "" {
		b = b.Where(sq.Eq{"kind": filter.Kind})
	}
	if filter.Limit > 0 {
		b = b.Limit(uint64(filter.Limit))
	}
	q, args, err := b.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}

	var rows []activityRow
	if err = sqlx.SelectContext(ctx, repo.getExec(exec), &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying activity log")
	}
	entries := make([]audit.Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, audit.Entry{
			ID:          r.ID,
			UserID:      r.UserID.Ptr(),
			Kind:        r.Kind,
			Description: r.Description,
			IP:          r.IP,
			CreatedAt:   r.CreatedAt,
		})
	}
	return entries, nil
}

// Notifications

var notificationColumns = []string{"id", "user_id", "kind", "title", "body", "link", "read", "created_at"}

type notificationRow struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Kind      string    `db:"kind"`
	Title     string    `db:"title"`
	Body      string    `db:"body"`
	Link      string    `db:"link"`
	Read      bool      `db:"read"`
	CreatedAt time.Time `db:"created_at"`
}

type notificationRepository struct {
	repository
}

var _ notification.Repository = (*notificationRepository)(nil) // interface compliance check

func NewNotificationRepository(db *sqlx.DB) *notificationRepository {
	return &notificationRepository{repository{db: db}}
}

func (repo notificationRepository) CreateNotification(ctx context.Context, n notification.Notification, exec ...core.DBExecutor) (notification.Notification, error) {
	n.ID = uuid.NewString()
	_, err := repo.run(ctx, exec, psql.Insert("notifications").
		Columns(notificationColumns...).
		Values(n.ID, n.UserID, n.Kind, n.Title, n.Body, n.Link, n.Read, n.CreatedAt.UTC()),
		"inserting notification")
	if err != nil {
		return notification.Notification{}, err
	}
	return n, nil
}

func (repo notificationRepository) QueryNotifications(ctx context.Context, userID string, limit int, exec ...core.DBExecutor) ([]notification.Notification, error) {
	b := psql.Select(notificationColumns...).From("notifications").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at DESC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	q, args, err := b.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}

	var rows []notificationRow
	if err = sqlx.SelectContext(ctx, repo.getExec(exec), &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying notifications")
	}
	list := make([]notification.Notification, 0, len(rows))
	for _, r := range rows {
		list = append(list, notification.Notification(r))
	}
	return list, nil
}

func (repo notificationRepository) CountUnread(ctx context.Context, userID string, exec ...core.DBExecutor) (int, error) {
	b := psql.Select("COUNT(*)").From("notifications").Where(sq.Eq{"user_id": userID, "read": false})
	return count(ctx, repo.getExec(exec), b, "counting unread notifications")
}

func (repo notificationRepository) MarkRead(ctx context.Context, userID string, ids []string, exec ...core.DBExecutor) (int, error) {
	b := psql.Update("notifications").Set("read", true).Where(sq.Eq{"user_id": userID, "read": false})
	if len(ids) > 0 {
		b = b.Where(sq.Eq{"id": ids})
	}
	n, err := repo.run(ctx, exec, b, "marking notifications read")
	return int(n), err
}

func (repo notificationRepository) DeleteRead(ctx context.Context, before time.Time, exec ...core.DBExecutor) (int, error) {
	n, err := repo.run(ctx, exec, psql.Delete("notifications").
		Where(sq.Eq{"read": true}).
		Where(sq.Lt{"created_at": before.UTC()}),
		"deleting read notifications")
	return int(n), err
}

// School

var schoolColumns = []string{"code", "name", "url", "primary_color", "secondary_color", "registered", "updated_at"}

type schoolRow struct {
	Code           string    `db:"code"`
	Name           string    `db:"name"`
	URL            string    `db:"url"`
	PrimaryColor   string    `db:"primary_color"`
	SecondaryColor string    `db:"secondary_color"`
	Registered     bool      `db:"registered"`
	UpdatedAt      time.Time `db:"updated_at"`
}

type schoolRepository struct {
	repository
}

var _ school.Repository = (*schoolRepository)(nil) // interface compliance check

func NewSchoolRepository(db *sqlx.DB) *schoolRepository {
	return &schoolRepository{repository{db: db}}
}

func (repo schoolRepository) GetSchool(ctx context.Context, exec ...core.DBExecutor) (school.Config, error) {
	q, args, err := psql.Select(schoolColumns...).From("school_config").Where(sq.Eq{"id": 1}).ToSql()
	if err != nil {
		return school.Config{}, errors.Wrap(err, "building query")
	}
	var row schoolRow
	if err = sqlx.GetContext(ctx, repo.getExec(exec), &row, q, args...); err != nil {
		return school.Config{}, trapNoRowsErr(err, school.ErrNotConfigured, "getting school configuration")
	}
	return school.Config(row), nil
}

func (repo schoolRepository) SaveSchool(ctx context.Context, c school.Config, exec ...core.DBExecutor) (school.Config, error) {
	_, err := repo.run(ctx, exec, psql.Insert("school_config").
		Columns(append([]string{"id"}, schoolColumns...)...).
		Values(1, c.Code, c.Name, c.URL, c.PrimaryColor, c.SecondaryColor, c.Registered, c.UpdatedAt.UTC()).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			code = EXCLUDED.code, name = EXCLUDED.name, url = EXCLUDED.url,
			primary_color = EXCLUDED.primary_color, secondary_color = EXCLUDED.secondary_color,
			registered = EXCLUDED.registered, updated_at = EXCLUDED.updated_at`),
		"saving school configuration")
	if err != nil {
		return school.Config{}, err
	}
	return c, nil
}

// Rate limits

// RateLimiter keeps fixed-window counters in the rate_limit_windows table, shared by every API instance.
type RateLimiter struct {
	repository
	now func() time.Time
}

var _ messaging.RateLimiter = (*RateLimiter)(nil) // interface compliance check

func NewRateLimiter(db *sqlx.DB) *RateLimiter {
	return &RateLimiter{repository: repository{db: db}, now: time.Now}
}

// Allow counts the call in the current window and reports whether it is still under limit.
// The upsert row lock makes the increment and the check atomic.
// Windows are fixed and aligned to window, so up to 2x limit calls can pass across a window boundary.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	start := rl.now().UTC().Truncate(window)
	q, args, err := psql.Insert("rate_limit_windows").
		Columns("key", "window_start", "count", "expires_at").
		Values(key, start, 1, start.Add(window)).
		Suffix("ON CONFLICT (key, window_start) DO UPDATE SET count = rate_limit_windows.count + 1 RETURNING count").
		ToSql()
	if err != nil {
		return false, errors.Wrap(err, "building upsert")
	}

	var n int
	if err = sqlx.GetContext(ctx, rl.db, &n, q, args...); err != nil {
		return false, errors.Wrap(err, "counting rate limit window")
	}
	return n <= limit, nil
}

// Reap drops expired windows.
func (rl *RateLimiter) Reap(ctx context.Context) (int, error) {
	n, err := rl.run(ctx, nil, psql.Delete("rate_limit_windows").Where(sq.Lt{"expires_at": rl.now().UTC()}), "reaping rate limit windows")
	return int(n), err
}
