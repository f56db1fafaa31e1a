package sqlxrepos

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/liceojbh/intranet/core"
	"github.com/liceojbh/intranet/core/homework"
)

var (
	assignmentColumns = []string{
		"id", "course_id", "subject_id", "teacher_id", "title", "description", "type", "assigned_on", "due_date",
		"due_time", "max_score", "allow_late", "status", "attachment_name", "attachment_path", "created_at", "updated_at",
	}
	submissionColumns = []string{
		"id", "assignment_id", "student_id", "file_name", "file_path", "size", "comment", "submitted_at", "late",
		"score", "feedback", "reviewed_at", "status",
	}
)

type assignmentRow struct {
	ID             string    `db:"id"`
	CourseID       string    `db:"course_id"`
	SubjectID      string    `db:"subject_id"`
	TeacherID      string    `db:"teacher_id"`
	Title          string    `db:"title"`
	Description    string    `db:"description"`
	Type           string    `db:"type"`
	AssignedOn     null.Time `db:"assigned_on"`
	DueDate        null.Time `db:"due_date"`
	DueTime        string    `db:"due_time"`
	MaxScore       float64   `db:"max_score"`
	AllowLate      bool      `db:"allow_late"`
	Status         string    `db:"status"`
	AttachmentName string    `db:"attachment_name"`
	AttachmentPath string    `db:"attachment_path"`
	CreatedAt      null.Time `db:"created_at"`
	UpdatedAt      null.Time `db:"updated_at"`
}

func (r assignmentRow) unrow() homework.Assignment {
	return homework.Assignment{
		ID:             r.ID,
		CourseID:       r.CourseID,
		SubjectID:      r.SubjectID,
		TeacherID:      r.TeacherID,
		Title:          r.Title,
		Description:    r.Description,
		Type:           r.Type,
		AssignedOn:     r.AssignedOn.Time,
		DueDate:        r.DueDate.Time,
		DueTime:        r.DueTime,
		MaxScore:       r.MaxScore,
		AllowLate:      r.AllowLate,
		Status:         r.Status,
		AttachmentName: r.AttachmentName,
		AttachmentPath: r.AttachmentPath,
		CreatedAt:      r.CreatedAt.Time,
		UpdatedAt:      r.UpdatedAt.Time,
	}
}

type submissionRow struct {
	ID           string       `db:"id"`
	AssignmentID string       `db:"assignment_id"`
	StudentID    string       `db:"student_id"`
	FileName     string       `db:"file_name"`
	FilePath     string       `db:"file_path"`
	Size         int64        `db:"size"`
	Comment      string       `db:"comment"`
	SubmittedAt  null.Time    `db:"submitted_at"`
	Late         bool         `db:"late"`
	Score        null.Float64 `db:"score"`
	Feedback     string       `db:"feedback"`
	ReviewedAt   null.Time    `db:"reviewed_at"`
	Status       string       `db:"status"`
	Inserted     bool         `db:"inserted"`
}

func (r submissionRow) unrow() homework.Submission {
	return homework.Submission{
		ID:           r.ID,
		AssignmentID: r.AssignmentID,
		StudentID:    r.StudentID,
		FileName:     r.FileName,
		FilePath:     r.FilePath,
		Size:         r.Size,
		Comment:      r.Comment,
		SubmittedAt:  r.SubmittedAt.Time,
		Late:         r.Late,
		Score:        r.Score.Ptr(),
		Feedback:     r.Feedback,
		ReviewedAt:   r.ReviewedAt.Ptr(),
		Status:       r.Status,
	}
}

type homeworkRepository struct {
	repository
}

var _ homework.Repository = (*homeworkRepository)(nil) // interface compliance check

func NewHomeworkRepository(db *sqlx.DB) *homeworkRepository {
	return &homeworkRepository{repository{db: db}}
}

// Assignments

func (repo homeworkRepository) CreateAssignment(ctx context.Context, a homework.Assignment, exec ...core.DBExecutor) (homework.Assignment, error) {
	a.ID = uuid.NewString()
	_, err := repo.run(ctx, exec, psql.Insert("homework_assignments").
		Columns(assignmentColumns...).
		Values(a.ID, a.CourseID, a.SubjectID, a.TeacherID, a.Title, a.Description, a.Type, a.AssignedOn, a.DueDate,
			a.DueTime, a.MaxScore, a.AllowLate, a.Status, a.AttachmentName, a.AttachmentPath,
			nullTime(a.CreatedAt), nullTime(a.UpdatedAt)),
		"inserting assignment")
	if err != nil {
		return homework.Assignment{}, err
	}
	return a, nil
}

func (repo homeworkRepository) UpdateAssignment(ctx context.Context, a homework.Assignment, exec ...core.DBExecutor) (homework.Assignment, error) {
	q, args, err := psql.Update("homework_assignments").
		Set("title", a.Title).
		Set("description", a.Description).
		Set("type", a.Type).
		Set("due_date", a.DueDate).
		Set("due_time", a.DueTime).
		Set("max_score", a.MaxScore).
		Set("allow_late", a.AllowLate).
		Set("status", a.Status).
		Set("updated_at", nullTime(a.UpdatedAt)).
		Where(sq.Eq{"id": a.ID}).
		Suffix("RETURNING " + sqlxColumns(assignmentColumns)).
		ToSql()
	if err != nil {
		return homework.Assignment{}, errors.Wrap(err, "building update")
	}
	var row assignmentRow
	if err = sqlx.GetContext(ctx, repo.getExec(exec), &row, q, args...); err != nil {
		return homework.Assignment{}, trapNoRowsErr(err, homework.ErrNotFound, "updating assignment")
	}
	return row.unrow(), nil
}

func (repo homeworkRepository) GetAssignment(ctx context.Context, id string, exec ...core.DBExecutor) (homework.Assignment, error) {
	q, args, err := psql.Select(assignmentColumns...).From("homework_assignments").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return homework.Assignment{}, errors.Wrap(err, "building query")
	}
	var row assignmentRow
	if err = sqlx.GetContext(ctx, repo.getExec(exec), &row, q, args...); err != nil {
		return homework.Assignment{}, trapNoRowsErr(err, homework.ErrNotFound, "getting assignment")
	}
	return row.unrow(), nil
}

// DeleteAssignment relies on ON DELETE CASCADE for the submissions.
func (repo homeworkRepository) DeleteAssignment(ctx context.Context, id string, exec ...core.DBExecutor) error {
	n, err := repo.run(ctx, exec, psql.Delete("homework_assignments").Where(sq.Eq{"id": id}), "deleting assignment")
	if err != nil {
		return err
	}
	if n == 0 {
		return homework.ErrNotFound
	}
	return nil
}

func (repo homeworkRepository) QueryAssignments(ctx context.Context, filter homework.AssignmentFilter, exec ...core.DBExecutor) ([]homework.Assignment, error) {
	b := psql.Select(assignmentColumns...).From("homework_assignments").OrderBy("due_date", "due_time")
	b = where(b, idsClause("course_id", filter.CourseIDs))
	if filter.CourseID != "" {
		b = b.Where(sq.Eq{"course_id": filter.CourseID})
	}
	if filter.TeacherID != "" {
		b = b.Where(sq.Eq{"teacher_id": filter.TeacherID})
	}
	if filter.Status != "" {
		b = b.Where(sq.Eq{"status": filter.Status})
	}
	q, args, err := b.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}

	var rows []assignmentRow
	if err = sqlx.SelectContext(ctx, repo.getExec(exec), &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying assignments")
	}
	as := make([]homework.Assignment, 0, len(rows))
	for _, r := range rows {
		as = append(as, r.unrow())
	}
	return as, nil
}

// Submissions

func (repo homeworkRepository) UpsertSubmission(ctx context.Context, s homework.Submission, exec ...core.DBExecutor) (homework.Submission, bool, error) {
	q, args, err := psql.Insert("homework_submissions").
		Columns(submissionColumns...).
		Values(uuid.NewString(), s.AssignmentID, s.StudentID, s.FileName, s.FilePath, s.Size, s.Comment,
			nullTime(s.SubmittedAt), s.Late, nullFloat(s.Score), s.Feedback, nullTimePtr(s.ReviewedAt), homework.SubmissionPending).
		Suffix(`ON CONFLICT (assignment_id, student_id) DO UPDATE SET
			file_name = EXCLUDED.file_name, file_path = EXCLUDED.file_path, size = EXCLUDED.size,
			comment = EXCLUDED.comment, submitted_at = EXCLUDED.submitted_at, late = EXCLUDED.late,
			status = EXCLUDED.status
			RETURNING ` + sqlxColumns(submissionColumns) + `, (xmax = 0) AS inserted`).
		ToSql()
	if err != nil {
		return homework.Submission{}, false, errors.Wrap(err, "building upsert")
	}

	var row submissionRow
	if err = sqlx.GetContext(ctx, repo.getExec(exec), &row, q, args...); err != nil {
		return homework.Submission{}, false, errors.Wrap(err, "upserting submission")
	}
	return row.unrow(), row.Inserted, nil
}

func (repo homeworkRepository) UpdateSubmission(ctx context.Context, s homework.Submission, exec ...core.DBExecutor) (homework.Submission, error) {
	q, args, err := psql.Update("homework_submissions").
		Set("score", nullFloat(s.Score)).
		Set("feedback", s.Feedback).
		Set("reviewed_at", nullTimePtr(s.ReviewedAt)).
		Set("status", s.Status).
		Where(sq.Eq{"id": s.ID}).
		Suffix("RETURNING " + sqlxColumns(submissionColumns)).
		ToSql()
	if err != nil {
		return homework.Submission{}, errors.Wrap(err, "building update")
	}
	var row submissionRow
	if err = sqlx.GetContext(ctx, repo.getExec(exec), &row, q, args...); err != nil {
		return homework.Submission{}, trapNoRowsErr(err, homework.ErrSubmissionNotFound, "updating submission")
	}
	return row.unrow(), nil
}

func (repo homeworkRepository) GetSubmission(ctx context.Context, id string, exec ...core.DBExecutor) (homework.Submission, error) {
	q, args, err := psql.Select(submissionColumns...).From("homework_submissions").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return homework.Submission{}, errors.Wrap(err, "building query")
	}
	var row submissionRow
	if err = sqlx.GetContext(ctx, repo.getExec(exec), &row, q, args...); err != nil {
		return homework.Submission{}, trapNoRowsErr(err, homework.ErrSubmissionNotFound, "getting submission")
	}
	return row.unrow(), nil
}

func (repo homeworkRepository) QuerySubmissions(ctx context.Context, filter homework.SubmissionFilter, exec ...core.DBExecutor) ([]homework.Submission, error) {
	b := psql.Select(submissionColumns...).From("homework_submissions").OrderBy("submitted_at DESC")
	b = where(b, idsClause("assignment_id", filter.AssignmentIDs))
	if filter.AssignmentID != "" {
		b = b.Where(sq.Eq{"assignment_id": filter.AssignmentID})
	}
	if filter.StudentID != "" {
		b = b.Where(sq.Eq{"student_id": filter.StudentID})
	}
	q, args, err := b.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}

	var rows []submissionRow
	if err = sqlx.SelectContext(ctx, repo.getExec(exec), &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying submissions")
	}
	subs := make([]homework.Submission, 0, len(rows))
	for _, r := range rows {
		subs = append(subs, r.unrow())
	}
	return subs, nil
}

func (repo homeworkRepository) CountSubmissions(ctx context.Context, assignmentIDs []string, exec ...core.DBExecutor) (map[string]int, error) {
	counts := make(map[string]int, len(assignmentIDs))
	if len(assignmentIDs) == 0 {
		return counts, nil
	}
	q, args, err := psql.Select("assignment_id", "COUNT(*) AS n").
		From("homework_submissions").
		Where(sq.Eq{"assignment_id": assignmentIDs}).
		GroupBy("assignment_id").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}

	var rows []struct {
		AssignmentID string `db:"assignment_id"`
		N            int    `db:"n"`
	}
	if err = sqlx.SelectContext(ctx, repo.getExec(exec), &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "counting submissions")
	}
	for _, r := range rows {
		counts[r.AssignmentID] = r.N
	}
	return counts, nil
}
