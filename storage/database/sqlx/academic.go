package sqlxrepos

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/liceojbh/intranet/core"
	"github.com/liceojbh/intranet/core/academic"
)

var (
	subjectColumns    = []string{"id", "name", "code", "weekly_hours", "is_active", "created_at"}
	courseColumns     = []string{"id", "level", "letter", "year", "homeroom_teacher_id", "total_students", "is_active", "created_at"}
	enrollmentColumns = []string{"id", "student_id", "course_id", "year", "status", "average", "enrolled_at", "updated_at"}
	slotColumns       = []string{"id", "course_id", "subject_id", "teacher_id", "day", "period", "room", "is_active"}
	annotationColumns = []string{"id", "student_id", "course_id", "teacher_id", "kind", "category", "description", "date", "created_at"}
)

// dayOrder sorts slots by weekday instead of alphabetically.
var dayOrder = fmt.Sprintf("array_position(ARRAY['%s']::varchar[], day)", strings.Join(academic.Days, "','"))

type subjectRow struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	Code        string    `db:"code"`
	WeeklyHours int       `db:"weekly_hours"`
	IsActive    bool      `db:"is_active"`
	CreatedAt   null.Time `db:"created_at"`
}

func (r subjectRow) unrow() academic.Subject {
	return academic.Subject{
		ID:          r.ID,
		Name:        r.Name,
		Code:        r.Code,
		WeeklyHours: r.WeeklyHours,
		IsActive:    r.IsActive,
		CreatedAt:   r.CreatedAt.Time,
	}
}

type courseRow struct {
	ID                string      `db:"id"`
	Level             int         `db:"level"`
	Letter            string      `db:"letter"`
	Year              int         `db:"year"`
	HomeroomTeacherID null.String `db:"homeroom_teacher_id"`
	TotalStudents     int         `db:"total_students"`
	IsActive          bool        `db:"is_active"`
	CreatedAt         null.Time   `db:"created_at"`
}

func (r courseRow) unrow() academic.Course {
	return academic.Course{
		ID:                r.ID,
		Level:             r.Level,
		Letter:            r.Letter,
		Year:              r.Year,
		HomeroomTeacherID: r.HomeroomTeacherID.Ptr(),
		TotalStudents:     r.TotalStudents,
		IsActive:          r.IsActive,
		CreatedAt:         r.CreatedAt.Time,
	}
}

type enrollmentRow struct {
	ID         string       `db:"id"`
	StudentID  string       `db:"student_id"`
	CourseID   string       `db:"course_id"`
	Year       int          `db:"year"`
	Status     string       `db:"status"`
	Average    null.Float64 `db:"average"`
	EnrolledAt null.Time    `db:"enrolled_at"`
	UpdatedAt  null.Time    `db:"updated_at"`
}

func (r enrollmentRow) unrow() academic.Enrollment {
	return academic.Enrollment{
		ID:         r.ID,
		StudentID:  r.StudentID,
		CourseID:   r.CourseID,
		Year:       r.Year,
		Status:     r.Status,
		Average:    r.Average.Ptr(),
		EnrolledAt: r.EnrolledAt.Time,
		UpdatedAt:  r.UpdatedAt.Time,
	}
}

type slotRow struct {
	ID        string `db:"id"`
	CourseID  string `db:"course_id"`
	SubjectID string `db:"subject_id"`
	TeacherID string `db:"teacher_id"`
	Day       string `db:"day"`
	Period    int    `db:"period"`
	Room      string `db:"room"`
	IsActive  bool   `db:"is_active"`
}

func (r slotRow) unrow() academic.ScheduleSlot {
	return academic.ScheduleSlot(r)
}

type annotationRow struct {
	ID          string    `db:"id"`
	StudentID   string    `db:"student_id"`
	CourseID    string    `db:"course_id"`
	TeacherID   string    `db:"teacher_id"`
	Kind        string    `db:"kind"`
	Category    string    `db:"category"`
	Description string    `db:"description"`
	Date        null.Time `db:"date"`
	CreatedAt   null.Time `db:"created_at"`
}

type academicRepository struct {
	repository
}

var _ academic.Repository = (*academicRepository)(nil) // interface compliance check

func NewAcademicRepository(db *sqlx.DB) *academicRepository {
	return &academicRepository{repository{db: db}}
}

func (repo academicRepository) GetPeriod(ctx context.Context, exec ...core.DBExecutor) (core.Period, error) {
	var p core.Period
	err := sqlx.GetContext(ctx, repo.getExec(exec), &p, "SELECT year, semester FROM academic_settings WHERE id = 1")
	if err != nil {
		return core.Period{}, trapNoRowsErr(err, academic.ErrPeriodNotSet, "getting academic period")
	}
	return p, nil
}

func (repo academicRepository) SetPeriod(ctx context.Context, period core.Period, exec ...core.DBExecutor) error {
	q, args, err := psql.Insert("academic_settings").
		Columns("id", "year", "semester", "updated_at").
		Values(1, period.Year, period.Semester, now()).
		Suffix("ON CONFLICT (id) DO UPDATE SET year = EXCLUDED.year, semester = EXCLUDED.semester, updated_at = EXCLUDED.updated_at").
		ToSql()
	if err != nil {
		return errors.Wrap(err, "building upsert")
	}
	_, err = repo.getExec(exec).ExecContext(ctx, q, args...)
	return errors.Wrap(err, "setting academic period")
}

// Subjects

func (repo academicRepository) CreateSubject(ctx context.Context, sub academic.Subject, exec ...core.DBExecutor) (academic.Subject, error) {
	sub.ID = uuid.NewString()
	q, args, err := psql.Insert("subjects").
		Columns(subjectColumns...).
		Values(sub.ID, sub.Name, sub.Code, sub.WeeklyHours, sub.IsActive, nullTime(sub.CreatedAt)).
		ToSql()
	if err != nil {
		return academic.Subject{}, errors.Wrap(err, "building insert")
	}
	if _, err = repo.getExec(exec).ExecContext(ctx, q, args...); err != nil {
		if isUniqueViolation(err) {
			return academic.Subject{}, academic.ErrSubjectCodeExists
		}
		return academic.Subject{}, errors.Wrap(err, "inserting subject")
	}
	return sub, nil
}

func (repo academicRepository) UpdateSubject(ctx context.Context, sub academic.Subject, exec ...core.DBExecutor) (academic.Subject, error) {
	q, args, err := psql.Update("subjects").
		Set("name", sub.Name).
		Set("code", sub.Code).
		Set("weekly_hours", sub.WeeklyHours).
		Set("is_active", sub.IsActive).
		Where(sq.Eq{"id": sub.ID}).
		Suffix("RETURNING " + sqlxColumns(subjectColumns)).
		ToSql()
	if err != nil {
		return academic.Subject{}, errors.Wrap(err, "building update")
	}

	var row subjectRow
	if err = sqlx.GetContext(ctx, repo.getExec(exec), &row, q, args...); err != nil {
		if isUniqueViolation(err) {
			return academic.Subject{}, academic.ErrSubjectCodeExists
		}
		return academic.Subject{}, trapNoRowsErr(err, academic.ErrSubjectNotFound, "updating subject")
	}
	return row.unrow(), nil
}

func (repo academicRepository) GetSubject(ctx context.Context, id string, exec ...core.DBExecutor) (academic.Subject, error) {
	q, args, err := psql.Select(subjectColumns...).From("subjects").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return academic.Subject{}, errors.Wrap(err, "building query")
	}
	var row subjectRow
	if err = sqlx.GetContext(ctx, repo.getExec(exec), &row, q, args...); err != nil {
		return academic.Subject{}, trapNoRowsErr(err, academic.ErrSubjectNotFound, "getting subject")
	}
	return row.unrow(), nil
}

func (repo academicRepository) QuerySubjects(ctx context.Context, activeOnly bool, exec ...core.DBExecutor) ([]academic.Subject, error) {
	b := psql.Select(subjectColumns...).From("subjects").OrderBy("name")
	if activeOnly {
		b = b.Where(sq.Eq{"is_active": true})
	}
	q, args, err := b.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}

	var rows []subjectRow
	if err = sqlx.SelectContext(ctx, repo.getExec(exec), &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying subjects")
	}
	subjects := make([]academic.Subject, 0, len(rows))
	for _, r := range rows {
		subjects = append(subjects, r.unrow())
	}
	return subjects, nil
}

// Courses

func (repo academicRepository) CreateCourse(ctx context.Context, c academic.Course, exec ...core.DBExecutor) (academic.Course, error) {
	c.ID = uuid.NewString()
	q, args, err := psql.Insert("courses").
		Columns(courseColumns...).
		Values(c.ID, c.Level, c.Letter, c.Year, null.StringFromPtr(c.HomeroomTeacherID), c.TotalStudents, c.IsActive, nullTime(c.CreatedAt)).
		ToSql()
	if err != nil {
		return academic.Course{}, errors.Wrap(err, "building insert")
	}
	if _, err = repo.getExec(exec).ExecContext(ctx, q, args...); err != nil {
		if isUniqueViolation(err) {
			return academic.Course{}, academic.ErrCourseExists
		}
		return academic.Course{}, errors.Wrap(err, "inserting course")
	}
	return c, nil
}

func (repo academicRepository) UpdateCourse(ctx context.Context, c academic.Course, exec ...core.DBExecutor) (academic.Course, error) {
	q, args, err := psql.Update("courses").
		Set("level", c.Level).
		Set("letter", c.Letter).
		Set("year", c.Year).
		Set("homeroom_teacher_id", null.StringFromPtr(c.HomeroomTeacherID)).
		Set("total_students", c.TotalStudents).
		Set("is_active", c.IsActive).
		Where(sq.Eq{"id": c.ID}).
		Suffix("RETURNING " + sqlxColumns(courseColumns)).
		ToSql()
	if err != nil {
		return academic.Course{}, errors.Wrap(err, "building update")
	}

	var row courseRow
	if err = sqlx.GetContext(ctx, repo.getExec(exec), &row, q, args...); err != nil {
		if isUniqueViolation(err) {
			return academic.Course{}, academic.ErrCourseExists
		}
		return academic.Course{}, trapNoRowsErr(err, academic.ErrCourseNotFound, "updating course")
	}
	return row.unrow(), nil
}

func (repo academicRepository) GetCourse(ctx context.Context, id string, exec ...core.DBExecutor) (academic.Course, error) {
	q, args, err := psql.Select(courseColumns...).From("courses").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return academic.Course{}, errors.Wrap(err, "building query")
	}
	var row courseRow
	if err = sqlx.GetContext(ctx, repo.getExec(exec), &row, q, args...); err != nil {
		return academic.Course{}, trapNoRowsErr(err, academic.ErrCourseNotFound, "getting course")
	}
	return row.unrow(), nil
}

func (repo academicRepository) QueryCourses(ctx context.Context, filter academic.CourseFilter, exec ...core.DBExecutor) ([]academic.Course, error) {
	b := psql.Select(courseColumns...).From("courses").OrderBy("year DESC", "level", "letter")
	if filter.Year != 0 {
		b = b.Where(sq.Eq{"year": filter.Year})
	}
	if filter.Level != 0 {
		b = b.Where(sq.Eq{"level": filter.Level})
	}
	if filter.ActiveOnly {
		b = b.Where(sq.Eq{"is_active": true})
	}
	if filter.HomeroomTeacherID != "" {
		b = b.Where(sq.Eq{"homeroom_teacher_id": filter.HomeroomTeacherID})
	}
	b = where(b, idsClause("id", filter.IDs))
	q, args, err := b.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}

	var rows []courseRow
	if err = sqlx.SelectContext(ctx, repo.getExec(exec), &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying courses")
	}
	courses := make([]academic.Course, 0, len(rows))
	for _, r := range rows {
		courses = append(courses, r.unrow())
	}
	return courses, nil
}

// Enrollments

func (repo academicRepository) GetOrCreateEnrollment(ctx context.Context, e academic.Enrollment, exec ...core.DBExecutor) (academic.Enrollment, bool, error) {
	e.ID = uuid.NewString()
	q, args, err := psql.Insert("enrollments").
		Columns(enrollmentColumns...).
		Values(e.ID, e.StudentID, e.CourseID, e.Year, e.Status, nullFloat(e.Average), nullTime(e.EnrolledAt), nullTime(e.UpdatedAt)).
		Suffix("ON CONFLICT (student_id, course_id, year) DO NOTHING").
		ToSql()
	if err != nil {
		return academic.Enrollment{}, false, errors.Wrap(err, "building insert")
	}
	res, err := repo.getExec(exec).ExecContext(ctx, q, args...)
	if err != nil {
		return academic.Enrollment{}, false, errors.Wrap(err, "inserting enrollment")
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return e, true, nil
	}

	q, args, err = psql.Select(enrollmentColumns...).From("enrollments").
		Where(sq.Eq{"student_id": e.StudentID, "course_id": e.CourseID, "year": e.Year}).
		ToSql()
	if err != nil {
		return academic.Enrollment{}, false, errors.Wrap(err, "building query")
	}
	var row enrollmentRow
	if err = sqlx.GetContext(ctx, repo.getExec(exec), &row, q, args...); err != nil {
		return academic.Enrollment{}, false, errors.Wrap(err, "getting enrollment")
	}
	return row.unrow(), false, nil
}

// UpdateEnrollment leaves the cached average to the grade ledger.
func (repo academicRepository) UpdateEnrollment(ctx context.Context, e academic.Enrollment, exec ...core.DBExecutor) (academic.Enrollment, error) {
	q, args, err := psql.Update("enrollments").
		Set("status", e.Status).
		Set("updated_at", nullTime(e.UpdatedAt)).
		Where(sq.Eq{"id": e.ID}).
		Suffix("RETURNING " + sqlxColumns(enrollmentColumns)).
		ToSql()
	if err != nil {
		return academic.Enrollment{}, errors.Wrap(err, "building update")
	}
	var row enrollmentRow
	if err = sqlx.GetContext(ctx, repo.getExec(exec), &row, q, args...); err != nil {
		return academic.Enrollment{}, trapNoRowsErr(err, academic.ErrEnrollmentNotFound, "updating enrollment")
	}
	return row.unrow(), nil
}

func (repo academicRepository) GetEnrollment(ctx context.Context, id string, exec ...core.DBExecutor) (academic.Enrollment, error) {
	q, args, err := psql.Select(enrollmentColumns...).From("enrollments").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return academic.Enrollment{}, errors.Wrap(err, "building query")
	}
	var row enrollmentRow
	if err = sqlx.GetContext(ctx, repo.getExec(exec), &row, q, args...); err != nil {
		return academic.Enrollment{}, trapNoRowsErr(err, academic.ErrEnrollmentNotFound, "getting enrollment")
	}
	return row.unrow(), nil
}

func enrollmentWhere(b sq.SelectBuilder, filter academic.EnrollmentFilter) sq.SelectBuilder {
	if filter.StudentID != "" {
		b = b.Where(sq.Eq{"student_id": filter.StudentID})
	}
	if filter.CourseID != "" {
		b = b.Where(sq.Eq{"course_id": filter.CourseID})
	}
	if filter.Year != 0 {
		b = b.Where(sq.Eq{"year": filter.Year})
	}
	if filter.Status != "" {
		b = b.Where(sq.Eq{"status": filter.Status})
	}
	return where(b, idsClause("student_id", filter.StudentIDs), idsClause("course_id", filter.CourseIDs))
}

func (repo academicRepository) QueryEnrollments(ctx context.Context, filter academic.EnrollmentFilter, exec ...core.DBExecutor) ([]academic.Enrollment, error) {
	b := enrollmentWhere(psql.Select(enrollmentColumns...).From("enrollments").OrderBy("enrolled_at"), filter)
	q, args, err := b.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}

	var rows []enrollmentRow
	if err = sqlx.SelectContext(ctx, repo.getExec(exec), &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying enrollments")
	}
	enrollments := make([]academic.Enrollment, 0, len(rows))
	for _, r := range rows {
		enrollments = append(enrollments, r.unrow())
	}
	return enrollments, nil
}

func (repo academicRepository) CountEnrollments(ctx context.Context, filter academic.EnrollmentFilter, exec ...core.DBExecutor) (int, error) {
	b := enrollmentWhere(psql.Select("COUNT(*)").From("enrollments"), filter)
	return count(ctx, repo.getExec(exec), b, "counting enrollments")
}

// Schedule

func (repo academicRepository) CreateSlot(ctx context.Context, slot academic.ScheduleSlot, exec ...core.DBExecutor) (academic.ScheduleSlot, error) {
	slot.ID = uuid.NewString()
	q, args, err := psql.Insert("schedule_slots").
		Columns(slotColumns...).
		Values(slot.ID, slot.CourseID, slot.SubjectID, slot.TeacherID, slot.Day, slot.Period, slot.Room, slot.IsActive).
		ToSql()
	if err != nil {
		return academic.ScheduleSlot{}, errors.Wrap(err, "building insert")
	}
	if _, err = repo.getExec(exec).ExecContext(ctx, q, args...); err != nil {
		if isUniqueViolation(err) {
			return academic.ScheduleSlot{}, academic.ErrSlotTaken
		}
		return academic.ScheduleSlot{}, errors.Wrap(err, "inserting schedule slot")
	}
	return slot, nil
}

func (repo academicRepository) GetSlot(ctx context.Context, id string, exec ...core.DBExecutor) (academic.ScheduleSlot, error) {
	q, args, err := psql.Select(slotColumns...).From("schedule_slots").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return academic.ScheduleSlot{}, errors.Wrap(err, "building query")
	}
	var row slotRow
	if err = sqlx.GetContext(ctx, repo.getExec(exec), &row, q, args...); err != nil {
		return academic.ScheduleSlot{}, trapNoRowsErr(err, academic.ErrSlotNotFound, "getting schedule slot")
	}
	return row.unrow(), nil
}

func (repo academicRepository) DeleteSlot(ctx context.Context, id string, exec ...core.DBExecutor) error {
	q, args, err := psql.Delete("schedule_slots").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return errors.Wrap(err, "building delete")
	}
	res, err := repo.getExec(exec).ExecContext(ctx, q, args...)
	if err != nil {
		return errors.Wrap(err, "deleting schedule slot")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return academic.ErrSlotNotFound
	}
	return nil
}

func (repo academicRepository) QuerySlots(ctx context.Context, filter academic.SlotFilter, exec ...core.DBExecutor) ([]academic.ScheduleSlot, error) {
	b := psql.Select(slotColumns...).From("schedule_slots").OrderBy(dayOrder, "period")
	if filter.CourseID != "" {
		b = b.Where(sq.Eq{"course_id": filter.CourseID})
	}
	if filter.TeacherID != "" {
		b = b.Where(sq.Eq{"teacher_id": filter.TeacherID})
	}
	if filter.Day != "" {
		b = b.Where(sq.Eq{"day": filter.Day})
	}
	if filter.ActiveOnly {
		b = b.Where(sq.Eq{"is_active": true})
	}
	b = where(b, idsClause("course_id", filter.CourseIDs))
	q, args, err := b.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}

	var rows []slotRow
	if err = sqlx.SelectContext(ctx, repo.getExec(exec), &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying schedule slots")
	}
	slots := make([]academic.ScheduleSlot, 0, len(rows))
	for _, r := range rows {
		slots = append(slots, r.unrow())
	}
	return slots, nil
}

// Annotations

func (repo academicRepository) CreateAnnotation(ctx context.Context, a academic.Annotation, exec ...core.DBExecutor) (academic.Annotation, error) {
	a.ID = uuid.NewString()
	q, args, err := psql.Insert("annotations").
		Columns(annotationColumns...).
		Values(a.ID, a.StudentID, a.CourseID, a.TeacherID, a.Kind, a.Category, a.Description, a.Date, nullTime(a.CreatedAt)).
		ToSql()
	if err != nil {
		return academic.Annotation{}, errors.Wrap(err, "building insert")
	}
	if _, err = repo.getExec(exec).ExecContext(ctx, q, args...); err != nil {
		return academic.Annotation{}, errors.Wrap(err, "inserting annotation")
	}
	return a, nil
}

func (repo academicRepository) QueryAnnotations(ctx context.Context, filter academic.AnnotationFilter, exec ...core.DBExecutor) ([]academic.Annotation, error) {
	b := psql.Select(annotationColumns...).From("annotations").OrderBy("date DESC", "created_at DESC")
	if filter.StudentID != "" {
		b = b.Where(sq.Eq{"student_id": filter.StudentID})
	}
	if filter.CourseID != "" {
		b = b.Where(sq.Eq{"course_id": filter.CourseID})
	}
	b = where(b, idsClause("course_id", filter.CourseIDs))
	q, args, err := b.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}

	var rows []annotationRow
	if err = sqlx.SelectContext(ctx, repo.getExec(exec), &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying annotations")
	}
	annotations := make([]academic.Annotation, 0, len(rows))
	for _, r := range rows {
		annotations = append(annotations, academic.Annotation{
			ID:          r.ID,
			StudentID:   r.StudentID,
			CourseID:    r.CourseID,
			TeacherID:   r.TeacherID,
			Kind:        r.Kind,
			Category:    r.Category,
			Description: r.Description,
			Date:        r.Date.Time,
			CreatedAt:   r.CreatedAt.Time,
		})
	}
	return annotations, nil
}
