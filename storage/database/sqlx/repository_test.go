package sqlxrepos

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liceojbh/intranet/core/content"
	"github.com/liceojbh/intranet/core/grade"
	"github.com/liceojbh/intranet/core/homework"
	"github.com/liceojbh/intranet/core/messaging"
	"github.com/liceojbh/intranet/core/user"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("newMock() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func TestUserRepository_GetUser(t *testing.T) {
	db, mock := newMock(t)
	repo := NewUserRepository(db)
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1 LIMIT 1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(userColumns))
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE (username = $1 OR email = $2 OR rut = $3) LIMIT 1")).
		WithArgs("12.345.678-5", "12.345.678-5", "12.345.678-5").
		WillReturnRows(sqlmock.NewRows(userColumns).AddRow(
			"u1", "12.345.678-5", "Ana", "Rojas", "arojas", "ana@liceo.cl", "", "", user.RoleStudent,
			true, 5.5, nil, created, created, nil))

	_, err := repo.GetUser(context.Background(), user.GetFilter{ID: "missing"})
	assert.Equal(t, user.ErrNotFound, err)

	usr, err := repo.GetUser(context.Background(), user.GetFilter{UsernameOrEmail: "12.345.678-5"})
	require.NoError(t, err)
	assert.Equal(t, "u1", usr.ID)
	assert.Equal(t, user.RoleStudent, usr.Role)
	if assert.NotNil(t, usr.OverallAverage) {
		assert.Equal(t, 5.5, *usr.OverallAverage)
	}
	assert.Nil(t, usr.PasswordHash)
	assert.True(t, usr.LastLogin.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_CheckUniqueness(t *testing.T) {
	tests := []struct {
		name    string
		rows    [][]interface{}
		wantErr error
	}{
		{name: "free"},
		{name: "rut taken", rows: [][]interface{}{{"12.345.678-5", "other", ""}}, wantErr: user.ErrRUTExists},
		{name: "username taken", rows: [][]interface{}{{"9.999.999-9", "arojas", ""}}, wantErr: user.ErrUsernameExists},
		{name: "email taken", rows: [][]interface{}{{"9.999.999-9", "other", "ana@liceo.cl"}}, wantErr: user.ErrEmailExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMock(t)
			repo := NewUserRepository(db)

			rows := sqlmock.NewRows([]string{"rut", "username", "email"})
			for _, r := range tt.rows {
				rows.AddRow(r[0], r[1], r[2])
			}
			mock.ExpectQuery(regexp.QuoteMeta("SELECT rut, username, email FROM users WHERE (username = $1 OR rut = $2 OR email = $3) AND id NOT IN ($4)")).
				WithArgs("arojas", "12.345.678-5", "ana@liceo.cl", "u1").
				WillReturnRows(rows)

			err := repo.CheckUniqueness(context.Background(), "12.345.678-5", "arojas", "ana@liceo.cl", []string{"u1"})
			if err != tt.wantErr {
				t.Errorf("CheckUniqueness() error = %v, wantErr %v", err, tt.wantErr)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestGradeRepository_UpsertGrade(t *testing.T) {
	cols := append(append([]string{}, gradeColumns...), "inserted")
	day := time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC)
	g := grade.Grade{
		StudentID: "s1", SubjectID: "sub1", CourseID: "c1", TeacherID: "t1", Type: "nota",
		Semester: 1, EvalNumber: 1, Score: 6, Date: day, CreatedAt: day, UpdatedAt: day,
	}

	tests := []struct {
		name        string
		inserted    bool
		wantCreated bool
	}{
		{name: "new evaluation", inserted: true, wantCreated: true},
		{name: "overwritten evaluation", inserted: false, wantCreated: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMock(t)
			repo := NewGradeRepository(db)

			mock.ExpectQuery(`INSERT INTO grades .* ON CONFLICT \(student_id, subject_id, course_id, eval_number\) DO UPDATE`).
				WillReturnRows(sqlmock.NewRows(cols).AddRow(
					"g1", "s1", "sub1", "c1", "t1", "nota", 1, 1, 6.0, "", day, day, day, tt.inserted))

			got, created, err := repo.UpsertGrade(context.Background(), g)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCreated, created)
			assert.Equal(t, "g1", got.ID)
			assert.Equal(t, 6.0, got.Score)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestGradeRepository_LockStudent(t *testing.T) {
	db, mock := newMock(t)
	repo := NewGradeRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock(hashtext($1))")).
		WithArgs("s1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, repo.LockStudent(context.Background(), "s1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessagingRepository_IncrementUnread(t *testing.T) {
	at := time.Date(2024, 5, 2, 9, 30, 0, 0, time.UTC)
	tests := []struct {
		name     string
		side     messaging.Side
		column   string
		affected int64
		wantErr  error
	}{
		{name: "teacher side", side: messaging.TeacherSide, column: "unread_teacher", affected: 1},
		{name: "student side", side: messaging.StudentSide, column: "unread_student", affected: 1},
		{name: "missing conversation", side: messaging.StudentSide, column: "unread_student", wantErr: messaging.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMock(t)
			repo := NewMessagingRepository(db)

			q := "UPDATE conversations SET " + tt.column + " = " + tt.column + " + 1, last_message_at = $1 WHERE id = $2"
			mock.ExpectExec(regexp.QuoteMeta(q)).
				WithArgs(at, "conv1").
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			err := repo.IncrementUnread(context.Background(), "conv1", tt.side, at)
			if err != tt.wantErr {
				t.Errorf("IncrementUnread() error = %v, wantErr %v", err, tt.wantErr)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestContentRepository_QueryCirculars_generalOnly(t *testing.T) {
	db, mock := newMock(t)
	repo := NewContentRepository(db)

	// an empty course scope keeps only the circulars without target courses
	mock.ExpectQuery(regexp.QuoteMeta("NOT EXISTS (SELECT 1 FROM circular_courses cc WHERE cc.circular_id = c.id)")).
		WillReturnRows(sqlmock.NewRows(circularColumns))

	circs, err := repo.QueryCirculars(context.Background(), content.CircularFilter{CourseIDs: []string{}})
	require.NoError(t, err)
	assert.Empty(t, circs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHomeworkRepository_UpsertSubmission(t *testing.T) {
	cols := append(append([]string{}, submissionColumns...), "inserted")
	at := time.Date(2024, 5, 2, 9, 30, 0, 0, time.UTC)
	s := homework.Submission{
		AssignmentID: "a1", StudentID: "s1", FileName: "tarea.pdf", FilePath: "tareas/entregas/tarea.pdf",
		Size: 4, SubmittedAt: at, Status: homework.SubmissionPending,
	}

	tests := []struct {
		name        string
		inserted    bool
		score       interface{}
		wantCreated bool
	}{
		{name: "first submission", inserted: true, wantCreated: true},
		{name: "resubmission keeps the score", inserted: false, score: 80.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMock(t)
			repo := NewHomeworkRepository(db)

			mock.ExpectQuery(`INSERT INTO homework_submissions .* ON CONFLICT \(assignment_id, student_id\) DO UPDATE SET`).
				WillReturnRows(sqlmock.NewRows(cols).AddRow(
					"sub1", "a1", "s1", "tarea.pdf", "tareas/entregas/tarea.pdf", 4, "", at, false,
					tt.score, "", nil, homework.SubmissionPending, tt.inserted))

			got, created, err := repo.UpsertSubmission(context.Background(), s)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCreated, created)
			assert.Equal(t, "sub1", got.ID)
			if tt.score == nil {
				assert.Nil(t, got.Score)
			} else {
				require.NotNil(t, got.Score)
				assert.Equal(t, 80.0, *got.Score)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestHomeworkRepository_CountSubmissions(t *testing.T) {
	db, mock := newMock(t)
	repo := NewHomeworkRepository(db)

	counts, err := repo.CountSubmissions(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, counts, "no query without ids")

	mock.ExpectQuery(regexp.QuoteMeta("SELECT assignment_id, COUNT(*) AS n FROM homework_submissions WHERE assignment_id IN ($1,$2) GROUP BY assignment_id")).
		WithArgs("a1", "a2").
		WillReturnRows(sqlmock.NewRows([]string{"assignment_id", "n"}).AddRow("a1", 3))

	counts, err = repo.CountSubmissions(context.Background(), []string{"a1", "a2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a1": 3}, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRateLimiter_Allow(t *testing.T) {
	now := time.Date(2024, 5, 2, 9, 30, 42, 0, time.UTC)
	start := now.Truncate(time.Minute)

	tests := []struct {
		name  string
		limit int
		count int
		query bool
		want  bool
	}{
		{name: "disabled", limit: 0, want: true},
		{name: "first call", limit: 2, count: 1, query: true, want: true},
		{name: "last slot", limit: 2, count: 2, query: true, want: true},
		{name: "over limit", limit: 2, count: 3, query: true, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMock(t)
			rl := NewRateLimiter(db)
			rl.now = func() time.Time { return now }

			if tt.query {
				mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO rate_limit_windows (key,window_start,count,expires_at) VALUES ($1,$2,$3,$4) ON CONFLICT")).
					WithArgs("message:u1", start, 1, start.Add(time.Minute)).
					WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(tt.count))
			}

			got, err := rl.Allow(context.Background(), "message:u1", tt.limit, time.Minute)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestIdsClause(t *testing.T) {
	tests := []struct {
		name     string
		ids      []string
		wantNil  bool
		wantSQL  string
		wantArgs []interface{}
	}{
		{name: "nil means no restriction", ids: nil, wantNil: true},
		{name: "empty matches nothing", ids: []string{}, wantSQL: "FALSE"},
		{name: "ids", ids: []string{"a", "b"}, wantSQL: "course_id IN (?,?)", wantArgs: []interface{}{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clause := idsClause("course_id", tt.ids)
			if tt.wantNil {
				assert.Nil(t, clause)
				return
			}
			sql, args, err := clause.ToSql()
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, len(tt.wantArgs), len(args))
		})
	}
}
