package roster_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"unicode"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/liceojbh/intranet/core"
	"github.com/liceojbh/intranet/core/academic"
	"github.com/liceojbh/intranet/core/roster"
	"github.com/liceojbh/intranet/core/user"
	testutil "github.com/liceojbh/intranet/tests"
)

func workbook(t *testing.T, rows ...[]interface{}) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		r := r
		require.NoError(t, f.SetSheetRow(sheet, cell, &r))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func TestImporter_ImportStudents(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	period := core.Period{Year: 2024, Semester: 1}

	course := testutil.CreateCourse(t, env.AcademicSvc, 1, "A", period.Year, "")
	existing := testutil.CreateUser(t, env.Repos.User, "Ana", "ana", "", "", user.RoleStudent, true)
	teacher := testutil.CreateUser(t, env.Repos.User, "Pedro", "pedro", "", "", user.RoleTeacher, true)

	newRUT := testutil.RUT(20111222)
	lostRUT := testutil.RUT(20333444)
	buf := workbook(t,
		[]interface{}{"RUT", " Nombres ", "APELLIDOS", "Email", "Curso"},
		[]interface{}{newRUT, "Benjamín", "Soto", "benja@liceo.cl", "1° Medio A"},
		[]interface{}{"", "", "", "", ""},
		[]interface{}{"12.345.678-0", "Carla", "Díaz", "", "1° Medio A"},
		[]interface{}{core.FormatRUT(existing.RUT), "Ana", "Test", "", "1° medio a"},
		[]interface{}{lostRUT, "Diego", "Rojas", "", "4° Medio Z"},
		[]interface{}{core.FormatRUT(teacher.RUT), "Pedro", "Test", "", "1° Medio A"},
		[]interface{}{testutil.RUT(20555666), "Elisa", "Mora", "BENJA@liceo.cl", "1° Medio A"},
	)

	report, err := env.Importer.ImportStudents(ctx, buf, period)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 1, report.Existing)
	assert.Equal(t, 4, report.Failed)
	assert.Equal(t, "1 created, 1 existing, 4 failed", report.String())

	rows := make([]int, 0, len(report.Errors))
	for _, e := range report.Errors {
		rows = append(rows, e.Row)
	}
	assert.Equal(t, []int{4, 6, 7, 8}, rows, "row numbers match the spreadsheet, blank rows included")
	assert.Contains(t, report.Errors[0].Error, "invalid RUT")
	assert.Contains(t, report.Errors[1].Error, `"4° Medio Z" does not exist in 2024`)
	assert.Contains(t, report.Errors[2].Error, "belongs to a teacher")
	assert.Equal(t, user.ErrEmailExists.Error(), report.Errors[3].Error)

	t.Run("created student", func(t *testing.T) {
		usr, err := env.UserSvc.GetByRUT(ctx, newRUT)
		require.NoError(t, err)
		assert.Equal(t, "Benjamín Soto", usr.FullName())
		assert.Equal(t, strings.ToLower(core.CleanRUT(newRUT)), usr.Username)
		assert.Equal(t, user.RoleStudent, usr.Role)
		assert.True(t, usr.IsActive)
	})

	t.Run("failed rows leave nothing behind", func(t *testing.T) {
		_, err := env.UserSvc.GetByRUT(ctx, lostRUT)
		assert.Equal(t, user.ErrNotFound, errors.Cause(err))
	})

	t.Run("enrollments and recount", func(t *testing.T) {
		enrollments, err := env.AcademicSvc.Enrollments(ctx, academic.EnrollmentFilter{CourseID: course.ID})
		require.NoError(t, err)
		assert.Len(t, enrollments, 2)
		c, err := env.AcademicSvc.GetCourse(ctx, course.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, c.TotalStudents)
	})

	t.Run("importing twice is idempotent", func(t *testing.T) {
		buf := workbook(t,
			[]interface{}{"rut", "nombres", "apellidos", "email", "curso"},
			[]interface{}{newRUT, "Benjamín", "Soto", "benja@liceo.cl", "1° Medio A"},
		)
		report, err := env.Importer.ImportStudents(ctx, buf, period)
		require.NoError(t, err)
		assert.Equal(t, roster.Report{Existing: 1}, report)
	})
}

func TestImporter_badFiles(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	_, err := env.Importer.ImportTeachers(ctx, strings.NewReader("rut;nombres\n1-9;Ana"))
	verr, ok := err.(*core.ValidationError)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, "file", verr.Fields[0].Field)

	_, err = env.Importer.ImportTeachers(ctx, workbook(t, []interface{}{"RUT", "Nombres"}))
	verr, ok = err.(*core.ValidationError)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, "missing columns: apellidos, email", verr.Fields[0].Error)

	_, err = env.Importer.ImportTeachers(ctx, workbook(t))
	assert.Equal(t, roster.ErrEmptyFile, err)
}

func TestImporter_ImportTeachers(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	rut := testutil.RUT(15999888)
	buf := workbook(t,
		[]interface{}{"RUT", "Nombres", "Apellidos", "Email"},
		[]interface{}{rut, "Lucía", "Pérez", "lucia@liceo.cl"},
		[]interface{}{rut, "Lucía", "Pérez", "lucia@liceo.cl"},
		[]interface{}{testutil.RUT(15777666), "", "Sin Nombre", ""},
	)
	report, err := env.Importer.ImportTeachers(ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 1, report.Existing)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 4, report.Errors[0].Row)
	assert.Contains(t, report.Errors[0].Error, "first_name: required")

	usr, err := env.UserSvc.GetByRUT(ctx, rut)
	require.NoError(t, err)
	assert.True(t, usr.IsTeacher())
	assert.Equal(t, "lucia@liceo.cl", usr.Email)
}

func TestRandomPassword(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		pwd, err := roster.RandomPassword()
		require.NoError(t, err)
		assert.Len(t, pwd, 12)
		assert.False(t, seen[pwd])
		seen[pwd] = true

		var upper, lower, digit, special bool
		for _, r := range pwd {
			switch {
			case unicode.IsUpper(r):
				upper = true
			case unicode.IsLower(r):
				lower = true
			case unicode.IsDigit(r):
				digit = true
			default:
				special = true
			}
		}
		assert.True(t, upper && lower && digit && special, pwd)
	}
}
