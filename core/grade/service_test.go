package grade_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liceojbh/intranet/core"
	"github.com/liceojbh/intranet/core/academic"
	"github.com/liceojbh/intranet/core/grade"
	"github.com/liceojbh/intranet/core/user"
	testutil "github.com/liceojbh/intranet/tests"
)

func TestSummarize(t *testing.T) {
	grades := []grade.Grade{
		{ID: "1", CourseID: "a", SubjectID: "mat", EvalNumber: 2, Score: 6},
		{ID: "2", CourseID: "a", SubjectID: "len", EvalNumber: 1, Score: 3.5},
		{ID: "3", CourseID: "a", SubjectID: "mat", EvalNumber: 1, Score: 5.5},
		{ID: "4", CourseID: "b", SubjectID: "mat", EvalNumber: 1, Score: 7},
	}
	summaries := grade.Summarize(grades)
	require.Len(t, summaries, 3)

	assert.Equal(t, "mat", summaries[0].SubjectID)
	assert.Equal(t, "a", summaries[0].CourseID)
	assert.Equal(t, 2, summaries[0].Count)
	assert.Equal(t, 5.8, *summaries[0].Average)
	assert.Equal(t, "3", summaries[0].Grades[0].ID, "grades are ordered by evaluation number")

	assert.Equal(t, "len", summaries[1].SubjectID)
	assert.Equal(t, 3.5, *summaries[1].Average)
	assert.True(t, summaries[1].Grades[0].IsFailing())

	assert.Equal(t, "b", summaries[2].CourseID)
	assert.Equal(t, 7.0, *summaries[2].Average)

	assert.Empty(t, grade.Summarize(nil))
}

func TestNewGrade_Validate(t *testing.T) {
	validate, _ := core.NewValidator()

	ng := grade.NewGrade{StudentID: " s ", SubjectID: "m", CourseID: "c", Score: 5.125}
	require.NoError(t, ng.Validate(validate))
	assert.Equal(t, "s", ng.StudentID)
	assert.Equal(t, grade.TypeGrade, ng.Type)
	assert.Equal(t, 1, ng.EvalNumber)
	assert.Equal(t, 5.13, ng.Score)
	assert.False(t, ng.Date.IsZero())

	for _, ng := range []grade.NewGrade{
		{StudentID: "s", SubjectID: "m", CourseID: "c", Score: 0.9},
		{StudentID: "s", SubjectID: "m", CourseID: "c", Score: 7.1},
		{StudentID: "s", SubjectID: "m", CourseID: "c", Score: 4, Type: "oral"},
		{StudentID: "s", SubjectID: "m", CourseID: "c", Score: 4, Semester: 3},
		{StudentID: "s", SubjectID: "m", CourseID: "c", Score: 4, EvalNumber: 51},
		{SubjectID: "m", CourseID: "c", Score: 4},
	} {
		assert.Error(t, ng.Validate(validate), "%+v", ng)
	}
}

func TestService_averages(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	period := core.Period{Year: 2024, Semester: 1}

	teacher := testutil.CreateUser(t, env.Repos.User, "Pedro", "pedro", "", "", user.RoleTeacher, true)
	student := testutil.CreateUser(t, env.Repos.User, "Ana", "ana", "", "", user.RoleStudent, true)
	classmate := testutil.CreateUser(t, env.Repos.User, "Tomás", "tomas", "", "", user.RoleStudent, true)
	current := testutil.CreateCourse(t, env.AcademicSvc, 2, "A", 2024, teacher.ID)
	previous := testutil.CreateCourse(t, env.AcademicSvc, 1, "A", 2023, teacher.ID)
	math := testutil.CreateSubject(t, env.AcademicSvc, "Matemática", "MAT")
	testutil.Enroll(t, env.AcademicSvc, student.ID, current.ID, 2024)
	testutil.Enroll(t, env.AcademicSvc, student.ID, previous.ID, 2023)
	testutil.Enroll(t, env.AcademicSvc, classmate.ID, current.ID, 2024)

	record := func(studentID, courseID string, eval int, score float64) grade.Grade {
		t.Helper()
		g, _, err := env.GradeSvc.Record(ctx, teacher, period, grade.NewGrade{
			StudentID: studentID, SubjectID: math.ID, CourseID: courseID, EvalNumber: eval, Score: score,
			Date: time.Date(2024, 5, eval, 0, 0, 0, 0, time.UTC),
		})
		require.NoError(t, err)
		return g
	}
	record(student.ID, current.ID, 1, 6)
	last := record(student.ID, current.ID, 2, 7)
	record(student.ID, previous.ID, 1, 4)
	record(classmate.ID, current.ID, 1, 2)
	assert.Equal(t, period.Semester, last.Semester, "the semester defaults to the active period")
	assert.Equal(t, teacher.ID, last.TeacherID)

	averages := func() map[string]*float64 {
		enrollments, err := env.Repos.Academic.QueryEnrollments(ctx, academic.EnrollmentFilter{StudentID: student.ID})
		require.NoError(t, err)
		avgs := make(map[string]*float64, len(enrollments))
		for _, e := range enrollments {
			avgs[e.CourseID] = e.Average
		}
		return avgs
	}

	avgs := averages()
	assert.Equal(t, 6.5, *avgs[current.ID])
	assert.Equal(t, 4.0, *avgs[previous.ID])
	usr, err := env.UserSvc.GetByID(ctx, student.ID)
	require.NoError(t, err)
	assert.Equal(t, 5.7, *usr.OverallAverage)

	t.Run("delete recomputes", func(t *testing.T) {
		require.NoError(t, env.GradeSvc.Delete(ctx, teacher, last.ID))
		assert.Equal(t, 6.0, *averages()[current.ID])

		usr, err := env.UserSvc.GetByID(ctx, student.ID)
		require.NoError(t, err)
		assert.Equal(t, 5.0, *usr.OverallAverage)

		_, err = env.GradeSvc.Get(ctx, teacher, last.ID)
		assert.Equal(t, grade.ErrNotFound, errors.Cause(err))
	})

	t.Run("students only see their own grades", func(t *testing.T) {
		grades, err := env.GradeSvc.ForCourse(ctx, classmate, current.ID, grade.Filter{})
		require.NoError(t, err)
		require.Len(t, grades, 1)
		assert.Equal(t, classmate.ID, grades[0].StudentID)

		grades, err = env.GradeSvc.ForCourse(ctx, teacher, current.ID, grade.Filter{})
		require.NoError(t, err)
		assert.Len(t, grades, 2)
	})

	t.Run("semester filter", func(t *testing.T) {
		grades, err := env.GradeSvc.ForStudent(ctx, student, student.ID, grade.Filter{Semester: 2})
		require.NoError(t, err)
		assert.Empty(t, grades)
		grades, err = env.GradeSvc.ForStudent(ctx, student, student.ID, grade.Filter{Semester: 1})
		require.NoError(t, err)
		assert.Len(t, grades, 2)
	})

	t.Run("export", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, env.GradeSvc.ExportCSV(ctx, teacher, previous.ID, &buf))
		records, err := csv.NewReader(&buf).ReadAll()
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, []string{
			core.FormatRUT(student.RUT), student.FullName(), "Matemática", "1", "1", grade.TypeGrade, "4.00", "2024-05-01", "",
		}, records[1])

		err = env.GradeSvc.ExportCSV(ctx, student, previous.ID, &buf)
		assert.NoError(t, err, "students may export their own rows")
		err = env.GradeSvc.ExportCSV(ctx, classmate, previous.ID, &buf)
		assert.True(t, core.IsPermissionError(err))
	})
}
