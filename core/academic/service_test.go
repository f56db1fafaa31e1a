package academic_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liceojbh/intranet/core"
	"github.com/liceojbh/intranet/core/academic"
	"github.com/liceojbh/intranet/core/user"
	testutil "github.com/liceojbh/intranet/tests"
)

func fieldOf(t *testing.T, err error) string {
	t.Helper()
	verr, ok := errors.Cause(err).(*core.ValidationError)
	require.True(t, ok, "want a validation error, got %v", err)
	require.NotEmpty(t, verr.Fields)
	return verr.Fields[0].Field
}

func TestService_courses(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	svc := env.AcademicSvc

	teacher := testutil.CreateUser(t, env.Repos.User, "Pedro", "pedro", "", "", user.RoleTeacher, true)
	student := testutil.CreateUser(t, env.Repos.User, "Ana", "ana", "", "", user.RoleStudent, true)

	c := testutil.CreateCourse(t, svc, 3, "B", 2024, teacher.ID)
	assert.Equal(t, "3° Medio B", c.Name())
	assert.True(t, c.HasHomeroomTeacher(teacher.ID))
	assert.True(t, c.IsActive)

	t.Run("duplicate", func(t *testing.T) {
		_, err := svc.CreateCourse(ctx, academic.NewCourse{Level: 3, Letter: "B", Year: 2024})
		assert.Equal(t, "letter", fieldOf(t, err))

		// same level & letter on another year is fine
		_, err = svc.CreateCourse(ctx, academic.NewCourse{Level: 3, Letter: "B", Year: 2025})
		assert.NoError(t, err)
	})

	t.Run("homeroom must be a teacher", func(t *testing.T) {
		_, err := svc.CreateCourse(ctx, academic.NewCourse{Level: 4, Letter: "A", Year: 2024, HomeroomTeacherID: &student.ID})
		assert.Equal(t, "homeroom_teacher_id", fieldOf(t, err))
		assert.Equal(t, academic.ErrNotATeacher, errors.Cause(err).(*core.ValidationError).Err)

		unknown := "lol"
		_, err = svc.CreateCourse(ctx, academic.NewCourse{Level: 4, Letter: "A", Year: 2024, HomeroomTeacherID: &unknown})
		assert.Equal(t, "homeroom_teacher_id", fieldOf(t, err))
	})

	t.Run("find by name", func(t *testing.T) {
		found, err := svc.FindCourseByName(ctx, " 3° medio b ", 2024)
		require.NoError(t, err)
		assert.Equal(t, c.ID, found.ID)

		_, err = svc.FindCourseByName(ctx, "3° Medio B", 2030)
		assert.Equal(t, academic.ErrCourseNotFound, errors.Cause(err))
	})

	t.Run("validate", func(t *testing.T) {
		validate, _ := core.NewValidator()
		nc := academic.NewCourse{Level: 2, Letter: " c ", Year: 2024, HomeroomTeacherID: new(string)}
		require.NoError(t, nc.Validate(validate))
		assert.Equal(t, "C", nc.Letter)
		assert.Nil(t, nc.HomeroomTeacherID)

		nc = academic.NewCourse{Level: 5, Letter: "AB", Year: 2024}
		assert.Error(t, nc.Validate(validate))
	})
}

func TestService_enrollments(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	svc := env.AcademicSvc

	teacher := testutil.CreateUser(t, env.Repos.User, "Pedro", "pedro", "", "", user.RoleTeacher, true)
	zoe := testutil.CreateUser(t, env.Repos.User, "Zoe", "zoe", "", "", user.RoleStudent, true)
	ana := testutil.CreateUser(t, env.Repos.User, "Ana", "ana", "", "", user.RoleStudent, true)
	c := testutil.CreateCourse(t, svc, 1, "A", 2024, "")

	e, created, err := svc.Enroll(ctx, academic.NewEnrollment{StudentID: zoe.ID, CourseID: c.ID})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 2024, e.Year, "the year defaults to the course year")
	assert.True(t, e.IsActive())

	again, created, err := svc.Enroll(ctx, academic.NewEnrollment{StudentID: zoe.ID, CourseID: c.ID})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, e.ID, again.ID)

	testutil.Enroll(t, svc, ana.ID, c.ID, 2024)

	t.Run("invalid", func(t *testing.T) {
		_, _, err := svc.Enroll(ctx, academic.NewEnrollment{StudentID: teacher.ID, CourseID: c.ID})
		assert.Equal(t, "student_id", fieldOf(t, err))
		_, _, err = svc.Enroll(ctx, academic.NewEnrollment{StudentID: "lol", CourseID: c.ID})
		assert.Equal(t, "student_id", fieldOf(t, err))
		_, _, err = svc.Enroll(ctx, academic.NewEnrollment{StudentID: ana.ID, CourseID: "lol"})
		assert.Equal(t, "course_id", fieldOf(t, err))
	})

	t.Run("active students ordered by name", func(t *testing.T) {
		students, err := svc.ActiveStudents(ctx, c.ID)
		require.NoError(t, err)
		require.Len(t, students, 2)
		assert.Equal(t, ana.ID, students[0].ID)
		assert.Equal(t, zoe.ID, students[1].ID)

		c, err := svc.RecountStudents(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, c.TotalStudents)
	})

	t.Run("withdraw and re-enroll", func(t *testing.T) {
		_, err := svc.SetEnrollmentStatus(ctx, e, academic.StatusWithdrawn)
		require.NoError(t, err)

		ids, err := svc.StudentCourseIDs(ctx, zoe.ID, true /* activeOnly */)
		require.NoError(t, err)
		assert.Empty(t, ids)
		ids, err = svc.StudentCourseIDs(ctx, zoe.ID, false /* activeOnly */)
		require.NoError(t, err)
		assert.Equal(t, []string{c.ID}, ids)

		c, err := svc.RecountStudents(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, c.TotalStudents)

		back, created, err := svc.Enroll(ctx, academic.NewEnrollment{StudentID: zoe.ID, CourseID: c.ID})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, e.ID, back.ID)
		assert.Equal(t, academic.StatusActive, back.Status)
	})

	t.Run("empty course", func(t *testing.T) {
		empty := testutil.CreateCourse(t, svc, 2, "A", 2024, "")
		students, err := svc.ActiveStudents(ctx, empty.ID)
		require.NoError(t, err)
		assert.NotNil(t, students)
		assert.Empty(t, students)
	})
}

func TestService_schedule(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	svc := env.AcademicSvc

	teacher := testutil.CreateUser(t, env.Repos.User, "Pedro", "pedro", "", "", user.RoleTeacher, true)
	staff := testutil.CreateUser(t, env.Repos.User, "Marta", "marta", "", "", user.RoleStaff, true)
	c := testutil.CreateCourse(t, svc, 1, "A", 2024, "")
	c2 := testutil.CreateCourse(t, svc, 1, "B", 2024, teacher.ID)
	math := testutil.CreateSubject(t, svc, "Matemática", "MAT")

	wed := testutil.AssignSlot(t, svc, c.ID, math.ID, teacher.ID, academic.Wednesday, 3)
	mon := testutil.AssignSlot(t, svc, c.ID, math.ID, teacher.ID, academic.Monday, 2)

	start, end := wed.Times()
	assert.Equal(t, "09:45", start)
	assert.Equal(t, "10:30", end)

	tests := []struct {
		name      string
		slot      academic.NewScheduleSlot
		wantField string
	}{
		{name: "period taken", slot: academic.NewScheduleSlot{CourseID: c.ID, SubjectID: math.ID, TeacherID: teacher.ID, Day: academic.Monday, Period: 2}, wantField: "period"},
		{name: "unknown course", slot: academic.NewScheduleSlot{CourseID: "lol", SubjectID: math.ID, TeacherID: teacher.ID, Day: academic.Monday, Period: 4}, wantField: "course_id"},
		{name: "unknown subject", slot: academic.NewScheduleSlot{CourseID: c.ID, SubjectID: "lol", TeacherID: teacher.ID, Day: academic.Monday, Period: 4}, wantField: "subject_id"},
		{name: "not a teacher", slot: academic.NewScheduleSlot{CourseID: c.ID, SubjectID: math.ID, TeacherID: staff.ID, Day: academic.Monday, Period: 4}, wantField: "teacher_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateSlot(ctx, tt.slot)
			assert.Equal(t, tt.wantField, fieldOf(t, err))
		})
	}

	t.Run("ordered by day then period", func(t *testing.T) {
		slots, err := svc.Schedule(ctx, academic.SlotFilter{CourseID: c.ID})
		require.NoError(t, err)
		require.Len(t, slots, 2)
		assert.Equal(t, mon.ID, slots[0].ID)
		assert.Equal(t, wed.ID, slots[1].ID)
	})

	t.Run("teacher courses", func(t *testing.T) {
		ids, err := svc.TeacherCourseIDs(ctx, teacher.ID)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{c.ID, c2.ID}, ids)

		require.NoError(t, svc.DeleteSlot(ctx, mon.ID))
		require.NoError(t, svc.DeleteSlot(ctx, wed.ID))
		ids, err = svc.TeacherCourseIDs(ctx, teacher.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{c2.ID}, ids)

		assert.Equal(t, academic.ErrSlotNotFound, errors.Cause(svc.DeleteSlot(ctx, mon.ID)))
	})
}

func TestService_period(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	svc := env.AcademicSvc

	p, err := svc.CurrentPeriod(ctx)
	require.NoError(t, err)
	assert.NoError(t, p.Validate(), "an unset period falls back to the calendar")

	assert.Error(t, svc.SetPeriod(ctx, core.Period{Year: 2024, Semester: 3}))
	require.NoError(t, svc.SetPeriod(ctx, core.Period{Year: 2023, Semester: 2}))
	p, err = svc.CurrentPeriod(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.Period{Year: 2023, Semester: 2}, p)
}

func TestService_subjects(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	svc := env.AcademicSvc
	validate, _ := core.NewValidator()

	ns := academic.NewSubject{Name: " Lenguaje ", Code: "len_1"}
	require.NoError(t, ns.Validate(validate))
	assert.Equal(t, "Lenguaje", ns.Name)
	assert.Equal(t, "LEN_1", ns.Code)
	assert.Equal(t, 2, ns.WeeklyHours)

	bad := academic.NewSubject{Name: "Historia", Code: "HIS-1"}
	assert.Error(t, bad.Validate(validate))

	sub, err := svc.CreateSubject(ctx, ns)
	require.NoError(t, err)
	assert.True(t, sub.IsActive)

	_, err = svc.CreateSubject(ctx, academic.NewSubject{Name: "Otro", Code: "LEN_1"})
	assert.Equal(t, "code", fieldOf(t, err))
}
