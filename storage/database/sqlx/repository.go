// Package sqlxrepos implements every repository on PostgreSQL with sqlx and squirrel.
package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/liceojbh/intranet/core"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type repository struct {
	db *sqlx.DB
}

// getExec returns the transaction handed by a service, or the pool.
func (repo repository) getExec(svcExec []core.DBExecutor) sqlx.ExtContext {
	if len(svcExec) > 0 && svcExec[0] != nil {
		switch exec := svcExec[0].(type) {
		case sqlx.ExtContext:
			return exec
		case *sql.Tx:
			return &sqlx.Tx{Tx: exec, Mapper: repo.db.Mapper}
		}
	}
	return repo.db
}

// run executes a statement and returns the affected rows.
func (repo repository) run(ctx context.Context, exec []core.DBExecutor, b sq.Sqlizer, msg string) (int64, error) {
	q, args, err := b.ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "building statement")
	}
	res, err := repo.getExec(exec).ExecContext(ctx, q, args...)
	if err != nil {
		return 0, errors.Wrap(err, msg)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// trapNoRowsErr maps sql.ErrNoRows to notFound.
func trapNoRowsErr(err error, notFound error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return notFound
	}
	return errors.Wrap(err, msg)
}

// idsClause returns the squirrel predicate of the nil/empty ID-slice convention:
// nil means no restriction, empty matches nothing.
func idsClause(column string, ids []string) sq.Sqlizer {
	if ids == nil {
		return nil
	}
	if len(ids) == 0 {
		return sq.Expr("FALSE")
	}
	return sq.Eq{column: ids}
}

func where(b sq.SelectBuilder, preds ...sq.Sqlizer) sq.SelectBuilder {
	for _, p := range preds {
		if p != nil {
			b = b.Where(p)
		}
	}
	return b
}

func sqlxColumns(columns []string) string {
	return strings.Join(columns, ", ")
}

func count(ctx context.Context, exec sqlx.ExtContext, b sq.SelectBuilder, msg string) (int, error) {
	q, args, err := b.ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "building count")
	}
	var n int
	if err = sqlx.GetContext(ctx, exec, &n, q, args...); err != nil {
		return 0, errors.Wrap(err, msg)
	}
	return n, nil
}

func nullTime(t time.Time) null.Time {
	return null.NewTime(t.UTC(), !t.IsZero())
}

func nullTimePtr(t *time.Time) null.Time {
	if t == nil {
		return null.Time{}
	}
	return null.TimeFrom(t.UTC())
}

func nullFloat(f *float64) null.Float64 {
	return null.Float64FromPtr(f)
}

func now() time.Time {
	return time.Now().UTC()
}

// Repositories bundles every PostgreSQL repository.
type Repositories struct {
	User         *userRepository
	Academic     *academicRepository
	Grade        *gradeRepository
	Attendance   *attendanceRepository
	Messaging    *messagingRepository
	Content      *contentRepository
	Homework     *homeworkRepository
	Audit        *auditRepository
	Notification *notificationRepository
	School       *schoolRepository
}

func NewRepositories(db *sqlx.DB) Repositories {
	return Repositories{
		User:         NewUserRepository(db),
		Academic:     NewAcademicRepository(db),
		Grade:        NewGradeRepository(db),
		Attendance:   NewAttendanceRepository(db),
		Messaging:    NewMessagingRepository(db),
		Content:      NewContentRepository(db),
		Homework:     NewHomeworkRepository(db),
		Audit:        NewAuditRepository(db),
		Notification: NewNotificationRepository(db),
		School:       NewSchoolRepository(db),
	}
}
