package attendance

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/liceojbh/intranet/core"
	"github.com/liceojbh/intranet/core/academic"
	"github.com/liceojbh/intranet/core/access"
	"github.com/liceojbh/intranet/core/audit"
	"github.com/liceojbh/intranet/core/user"
)

var (
	// errors
	ErrNotFound    = core.NewNotFoundError("attendance record")
	ErrNotEnrolled = errors.New("student is not actively enrolled in this course")
)

type (
	Repository interface {
		// UpsertRecord inserts r or overwrites the row holding the same (student, course, date).
		UpsertRecord(ctx context.Context, r Record, exec ...core.DBExecutor) (Record, bool, error)
		// QueryRecords orders by date then student.
		QueryRecords(ctx context.Context, filter Filter, exec ...core.DBExecutor) ([]Record, error)
	}

	Service struct {
		repo     Repository
		tx       core.TxRunner
		validate *validator.Validate
		auth     *access.Authorizer
		academic *academic.Service
		auditSvc *audit.Service
	}
)

func NewService(
	repo Repository,
	tx core.TxRunner,
	validate *validator.Validate,
	auth *access.Authorizer,
	academicSvc *academic.Service,
	auditSvc *audit.Service,
) *Service {
	return &Service{
		repo:     repo,
		tx:       tx,
		validate: validate,
		auth:     auth,
		academic: academicSvc,
		auditSvc: auditSvc,
	}
}

// Take stores the attendance sheet of a course: one upsert per actively enrolled student,
// plus an activity log entry, all in one transaction. Re-submitting a date overwrites it.
func (svc *Service) Take(ctx context.Context, actor user.User, sheet Sheet, ip string) ([]Record, error) {
	if err := sheet.Validate(svc.validate); err != nil {
		return nil, err
	}
	if _, err := svc.academic.GetCourse(ctx, sheet.CourseID); err != nil {
		if errors.Cause(err) == academic.ErrCourseNotFound {
			return nil, core.NewFieldError("course_id", err.Error())
		}
		return nil, errors.Wrap(err, "finding course")
	}
	if err := svc.auth.Require(ctx, actor, access.Write, access.Target{CourseID: sheet.CourseID}); err != nil {
		return nil, err
	}

	enrolled, err := svc.academic.Enrollments(ctx, academic.EnrollmentFilter{CourseID: sheet.CourseID, Status: academic.StatusActive})
	if err != nil {
		return nil, errors.Wrap(err, "querying enrollments")
	}
	active := make(map[string]bool, len(enrolled))
	for _, e := range enrolled {
		active[e.StudentID] = true
	}
	var flds []core.FieldError
	for i, entry := range sheet.Entries {
		if !active[entry.StudentID] {
			flds = append(flds, core.FieldError{Field: fmt.Sprintf("entries[%d].student_id", i), Error: ErrNotEnrolled.Error()})
		}
	}
	if flds != nil {
		return nil, core.NewValidationError(ErrNotEnrolled, flds...)
	}

	now := time.Now().UTC()
	recorder := actor.ID
	records := make([]Record, 0, len(sheet.Entries))
	err = svc.tx.RunInTx(ctx, func(exec core.DBExecutor) error {
		for _, entry := range sheet.Entries {
			r, _, err := svc.repo.UpsertRecord(ctx, Record{
				StudentID:   entry.StudentID,
				CourseID:    sheet.CourseID,
				Date:        sheet.Date,
				Status:      entry.Status,
				Observation: entry.Observation,
				RecordedBy:  &recorder,
				CreatedAt:   now,
				UpdatedAt:   now,
			}, exec)
			if err != nil {
				return errors.Wrap(err, "upserting attendance")
			}
			records = append(records, r)
		}
		desc := fmt.Sprintf("asistencia del %s: %d registros (curso %s)", sheet.Date.Format("2006-01-02"), len(records), sheet.CourseID)
		return svc.auditSvc.Record(ctx, actor.ID, audit.KindAttendance, desc, ip, exec)
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// ForStudent lists the attendance of a student within the courses the actor may see.
func (svc *Service) ForStudent(ctx context.Context, actor user.User, studentID string, filter Filter) ([]Record, Stats, error) {
	if err := svc.auth.Require(ctx, actor, access.Read, access.Target{StudentID: studentID, CourseID: filter.CourseID}); err != nil {
		return nil, Stats{}, err
	}
	filter.StudentID = studentID
	records, err := svc.query(ctx, actor, filter)
	if err != nil {
		return nil, Stats{}, err
	}
	return records, ComputeStats(records), nil
}

// ForCourse lists the attendance of a course, usually for a single date.
func (svc *Service) ForCourse(ctx context.Context, actor user.User, courseID string, filter Filter) ([]Record, error) {
	if err := svc.auth.Require(ctx, actor, access.Read, access.Target{CourseID: courseID}); err != nil {
		return nil, err
	}
	filter.CourseID = courseID
	return svc.query(ctx, actor, filter)
}

func (svc *Service) query(ctx context.Context, actor user.User, filter Filter) ([]Record, error) {
	ids, all, err := svc.auth.PermittedCourses(ctx, actor)
	if err != nil {
		return nil, err
	}
	if !all {
		if ids == nil {
			ids = []string{}
		}
		filter.CourseIDs = ids
	}
	if !filter.Date.IsZero() {
		filter.Date = core.Day(filter.Date)
	}
	records, err := svc.repo.QueryRecords(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "querying attendance")
	}
	if actor.IsStudent() {
		own := records[:0]
		for _, r := range records {
			if r.StudentID == actor.ID {
				own = append(own, r)
			}
		}
		records = own
	}
	return records, nil
}

// Records is the unscoped query used by reports.
func (svc *Service) Records(ctx context.Context, filter Filter) ([]Record, error) {
	return svc.repo.QueryRecords(ctx, filter)
}
