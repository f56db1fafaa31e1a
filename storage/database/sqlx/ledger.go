package sqlxrepos

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/liceojbh/intranet/core"
	"github.com/liceojbh/intranet/core/attendance"
	"github.com/liceojbh/intranet/core/grade"
)

var (
	gradeColumns = []string{
		"id", "student_id", "subject_id", "course_id", "teacher_id", "type", "semester", "eval_number",
		"score", "description", "date", "created_at", "updated_at",
	}
	attendanceColumns = []string{
		"id", "student_id", "course_id", "date", "status", "observation", "recorded_by", "created_at", "updated_at",
	}
)

type gradeRow struct {
	ID          string    `db:"id"`
	StudentID   string    `db:"student_id"`
	SubjectID   string    `db:"subject_id"`
	CourseID    string    `db:"course_id"`
	TeacherID   string    `db:"teacher_id"`
	Type        string    `db:"type"`
	Semester    int       `db:"semester"`
	EvalNumber  int       `db:"eval_number"`
	Score       float64   `db:"score"`
	Description string    `db:"description"`
	Date        null.Time `db:"date"`
	CreatedAt   null.Time `db:"created_at"`
	UpdatedAt   null.Time `db:"updated_at"`
	// xmax = 0 on the row version written by an INSERT
	Inserted bool `db:"inserted"`
}

func (r gradeRow) unrow() grade.Grade {
	return grade.Grade{
		ID:          r.ID,
		StudentID:   r.StudentID,
		SubjectID:   r.SubjectID,
		CourseID:    r.CourseID,
		TeacherID:   r.TeacherID,
		Type:        r.Type,
		Semester:    r.Semester,
		EvalNumber:  r.EvalNumber,
		Score:       r.Score,
		Description: r.Description,
		Date:        r.Date.Time,
		CreatedAt:   r.CreatedAt.Time,
		UpdatedAt:   r.UpdatedAt.Time,
	}
}

type gradeRepository struct {
	repository
}

var _ grade.Repository = (*gradeRepository)(nil) // interface compliance check

func NewGradeRepository(db *sqlx.DB) *gradeRepository {
	return &gradeRepository{repository{db: db}}
}

// UpsertGrade overwrites the score of an existing (student, subject, course, evaluation) keeping its ID.
func (repo gradeRepository) UpsertGrade(ctx context.Context, g grade.Grade, exec ...core.DBExecutor) (grade.Grade, bool, error) {
	q, args, err := psql.Insert("grades").
		Columns(gradeColumns...).
		Values(uuid.NewString(), g.StudentID, g.SubjectID, g.CourseID, g.TeacherID, g.Type, g.Semester, g.EvalNumber,
			g.Score, g.Description, g.Date, nullTime(g.CreatedAt), nullTime(g.UpdatedAt)).
		Suffix(`ON CONFLICT (student_id, subject_id, course_id, eval_number) DO UPDATE SET
			teacher_id = EXCLUDED.teacher_id, type = EXCLUDED.type, semester = EXCLUDED.semester,
			score = EXCLUDED.score, description = EXCLUDED.description, date = EXCLUDED.date,
			updated_at = EXCLUDED.updated_at
			RETURNING ` + sqlxColumns(gradeColumns) + `, (xmax = 0) AS inserted`).
		ToSql()
	if err != nil {
		return grade.Grade{}, false, errors.Wrap(err, "building upsert")
	}

	var row gradeRow
	if err = sqlx.GetContext(ctx, repo.getExec(exec), &row, q, args...); err != nil {
		return grade.Grade{}, false, errors.Wrap(err, "upserting grade")
	}
	return row.unrow(), row.Inserted, nil
}

func (repo gradeRepository) GetGrade(ctx context.Context, id string, exec ...core.DBExecutor) (grade.Grade, error) {
	q, args, err := psql.Select(gradeColumns...).From("grades").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return grade.Grade{}, errors.Wrap(err, "building query")
	}
	var row gradeRow
	if err = sqlx.GetContext(ctx, repo.getExec(exec), &row, q, args...); err != nil {
		return grade.Grade{}, trapNoRowsErr(err, grade.ErrNotFound, "getting grade")
	}
	return row.unrow(), nil
}

func (repo gradeRepository) DeleteGrade(ctx context.Context, id string, exec ...core.DBExecutor) error {
	q, args, err := psql.Delete("grades").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return errors.Wrap(err, "building delete")
	}
	res, err := repo.getExec(exec).ExecContext(ctx, q, args...)
	if err != nil {
		return errors.Wrap(err, "deleting grade")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return grade.ErrNotFound
	}
	return nil
}

func (repo gradeRepository) QueryGrades(ctx context.Context, filter grade.Filter, exec ...core.DBExecutor) ([]grade.Grade, error) {
	b := psql.Select(gradeColumns...).From("grades").OrderBy("course_id", "subject_id", "semester", "eval_number")
	if filter.StudentID != "" {
		b = b.Where(sq.Eq{"student_id": filter.StudentID})
	}
	if filter.SubjectID != "" {
		b = b.Where(sq.Eq{"subject_id": filter.SubjectID})
	}
	if filter.CourseID != "" {
		b = b.Where(sq.Eq{"course_id": filter.CourseID})
	}
	if filter.Semester != 0 {
		b = b.Where(sq.Eq{"semester": filter.Semester})
	}
	b = where(b, idsClause("course_id", filter.CourseIDs))
	q, args, err := b.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}

	var rows []gradeRow
	if err = sqlx.SelectContext(ctx, repo.getExec(exec), &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying grades")
	}
	grades := make([]grade.Grade, 0, len(rows))
	for _, r := range rows {
		grades = append(grades, r.unrow())
	}
	return grades, nil
}

// LockStudent serializes concurrent average recomputations of one student until the transaction ends.
func (repo gradeRepository) LockStudent(ctx context.Context, studentID string, exec ...core.DBExecutor) error {
	_, err := repo.getExec(exec).ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", studentID)
	return errors.Wrap(err, "locking student")
}

func (repo gradeRepository) Scores(ctx context.Context, studentID, courseID string, exec ...core.DBExecutor) ([]float64, error) {
	b := psql.Select("score").From("grades").Where(sq.Eq{"student_id": studentID})
	if courseID != "" {
		b = b.Where(sq.Eq{"course_id": courseID})
	}
	q, args, err := b.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}

	scores := make([]float64, 0)
	if err = sqlx.SelectContext(ctx, repo.getExec(exec), &scores, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying scores")
	}
	return scores, nil
}

func (repo gradeRepository) SetCachedAverages(ctx context.Context, studentID, courseID string, courseAvg, overallAvg *float64, exec ...core.DBExecutor) error {
	q, args, err := psql.Update("enrollments").
		Set("average", nullFloat(courseAvg)).
		Where(sq.Eq{"student_id": studentID, "course_id": courseID}).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "building update")
	}
	if _, err = repo.getExec(exec).ExecContext(ctx, q, args...); err != nil {
		return errors.Wrap(err, "caching course average")
	}

	q, args, err = psql.Update("users").
		Set("overall_average", nullFloat(overallAvg)).
		Where(sq.Eq{"id": studentID}).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "building update")
	}
	_, err = repo.getExec(exec).ExecContext(ctx, q, args...)
	return errors.Wrap(err, "caching overall average")
}

type attendanceRow struct {
	ID          string      `db:"id"`
	StudentID   string      `db:"student_id"`
	CourseID    string      `db:"course_id"`
	Date        null.Time   `db:"date"`
	Status      string      `db:"status"`
	Observation string      `db:"observation"`
	RecordedBy  null.String `db:"recorded_by"`
	CreatedAt   null.Time   `db:"created_at"`
	UpdatedAt   null.Time   `db:"updated_at"`
	Inserted    bool        `db:"inserted"`
}

func (r attendanceRow) unrow() attendance.Record {
	return attendance.Record{
		ID:          r.ID,
		StudentID:   r.StudentID,
		CourseID:    r.CourseID,
		Date:        r.Date.Time,
		Status:      r.Status,
		Observation: r.Observation,
		RecordedBy:  r.RecordedBy.Ptr(),
		CreatedAt:   r.CreatedAt.Time,
		UpdatedAt:   r.UpdatedAt.Time,
	}
}

type attendanceRepository struct {
	repository
}

var _ attendance.Repository = (*attendanceRepository)(nil) // interface compliance check

func NewAttendanceRepository(db *sqlx.DB) *attendanceRepository {
	return &attendanceRepository{repository{db: db}}
}

func (repo attendanceRepository) UpsertRecord(ctx context.Context, r attendance.Record, exec ...core.DBExecutor) (attendance.Record, bool, error) {
	q, args, err := psql.Insert("attendance").
		Columns(attendanceColumns...).
		Values(uuid.NewString(), r.StudentID, r.CourseID, r.Date, r.Status, r.Observation,
			null.StringFromPtr(r.RecordedBy), nullTime(r.CreatedAt), nullTime(r.UpdatedAt)).
		Suffix(`ON CONFLICT (student_id, course_id, date) DO UPDATE SET
			status = EXCLUDED.status, observation = EXCLUDED.observation,
			recorded_by = EXCLUDED.recorded_by, updated_at = EXCLUDED.updated_at
			RETURNING ` + sqlxColumns(attendanceColumns) + `, (xmax = 0) AS inserted`).
		ToSql()
	if err != nil {
		return attendance.Record{}, false, errors.Wrap(err, "building upsert")
	}

	var row attendanceRow
	if err = sqlx.GetContext(ctx, repo.getExec(exec), &row, q, args...); err != nil {
		return attendance.Record{}, false, errors.Wrap(err, "upserting attendance record")
	}
	return row.unrow(), row.Inserted, nil
}

func (repo attendanceRepository) QueryRecords(ctx context.Context, filter attendance.Filter, exec ...core.DBExecutor) ([]attendance.Record, error) {
	b := psql.Select(attendanceColumns...).From("attendance").OrderBy("date", "student_id")
	if filter.StudentID != "" {
		b = b.Where(sq.Eq{"student_id": filter.StudentID})
	}
	if filter.CourseID != "" {
		b = b.Where(sq.Eq{"course_id": filter.CourseID})
	}
	if !filter.Date.IsZero() {
		b = b.Where(sq.Eq{"date": filter.Date})
	}
	if !filter.From.IsZero() {
		b = b.Where(sq.GtOrEq{"date": filter.From})
	}
	if !filter.To.IsZero() {
		b = b.Where(sq.LtOrEq{"date": filter.To})
	}
	b = where(b, idsClause("student_id", filter.StudentIDs), idsClause("course_id", filter.CourseIDs))
	q, args, err := b.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}

	var rows []attendanceRow
	if err = sqlx.SelectContext(ctx, repo.getExec(exec), &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying attendance")
	}
	records := make([]attendance.Record, 0, len(rows))
	for _, r := range rows {
		records = append(records, r.unrow())
	}
	return records, nil
}
