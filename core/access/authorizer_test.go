package access_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liceojbh/intranet/core"
	"github.com/liceojbh/intranet/core/academic"
	"github.com/liceojbh/intranet/core/access"
	"github.com/liceojbh/intranet/core/user"
	testutil "github.com/liceojbh/intranet/tests"
)

func TestAuthorizer_Authorize(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	repo := env.Repos.User

	staff := testutil.CreateUser(t, repo, "Marta", "marta", "", "", user.RoleStaff, true)
	teacher := testutil.CreateUser(t, repo, "Pedro", "pedro", "", "", user.RoleTeacher, true)
	teacher2 := testutil.CreateUser(t, repo, "Lucía", "lucia", "", "", user.RoleTeacher, true)
	idle := testutil.CreateUser(t, repo, "Hugo", "hugo", "", "", user.RoleTeacher, true)
	retired := testutil.CreateUser(t, repo, "Raúl", "raul", "", "", user.RoleTeacher, false)
	student := testutil.CreateUser(t, repo, "Ana", "ana", "", "", user.RoleStudent, true)
	student2 := testutil.CreateUser(t, repo, "Benja", "benja", "", "", user.RoleStudent, true)
	withdrawn := testutil.CreateUser(t, repo, "Carla", "carla", "", "", user.RoleStudent, true)
	guardian := testutil.CreateUser(t, repo, "Rosa", "rosa", "", "", user.RoleGuardian, true)

	courseA := testutil.CreateCourse(t, env.AcademicSvc, 1, "A", 2024, teacher.ID)
	courseB := testutil.CreateCourse(t, env.AcademicSvc, 2, "B", 2024, "")
	math := testutil.CreateSubject(t, env.AcademicSvc, "Matemática", "MAT")
	testutil.AssignSlot(t, env.AcademicSvc, courseB.ID, math.ID, teacher2.ID, academic.Monday, 1)

	testutil.Enroll(t, env.AcademicSvc, student.ID, courseA.ID, 2024)
	testutil.Enroll(t, env.AcademicSvc, student2.ID, courseB.ID, 2024)
	e := testutil.Enroll(t, env.AcademicSvc, withdrawn.ID, courseA.ID, 2024)
	_, err := env.AcademicSvc.SetEnrollmentStatus(ctx, e, academic.StatusWithdrawn)
	require.NoError(t, err)
	testutil.LinkGuardian(t, env.UserSvc, guardian.ID, student.ID)

	tests := []struct {
		name   string
		actor  user.User
		action access.Action
		target access.Target
		want   bool
	}{
		{name: "staff bypass", actor: staff, action: access.Write, target: access.Target{CourseID: courseB.ID}, want: true},
		{name: "staff without target", actor: staff, action: access.Read, want: true},
		{name: "inactive teacher", actor: retired, action: access.Read, target: access.Target{CourseID: courseA.ID}},
		{name: "no target", actor: teacher, action: access.Read},

		{name: "teacher: homeroom course", actor: teacher, action: access.Write, target: access.Target{CourseID: courseA.ID}, want: true},
		{name: "teacher: slot course", actor: teacher2, action: access.Write, target: access.Target{CourseID: courseB.ID}, want: true},
		{name: "teacher: foreign course", actor: teacher, action: access.Read, target: access.Target{CourseID: courseB.ID}},
		{name: "teacher: without assignment", actor: idle, action: access.Read, target: access.Target{CourseID: courseA.ID}},
		{name: "teacher: own student", actor: teacher, action: access.Read, target: access.Target{StudentID: student.ID}, want: true},
		{name: "teacher: foreign student", actor: teacher, action: access.Read, target: access.Target{StudentID: student2.ID}},
		{name: "teacher: student in course", actor: teacher, action: access.Write, target: access.Target{StudentID: student.ID, CourseID: courseA.ID}, want: true},
		{name: "teacher: student outside course", actor: teacher, action: access.Write, target: access.Target{StudentID: student2.ID, CourseID: courseA.ID}},
		{name: "teacher: withdrawn student history", actor: teacher, action: access.Read, target: access.Target{StudentID: withdrawn.ID, CourseID: courseA.ID}, want: true},
		{name: "teacher: withdrawn student write", actor: teacher, action: access.Write, target: access.Target{StudentID: withdrawn.ID, CourseID: courseA.ID}},

		{name: "guardian: ward", actor: guardian, action: access.Read, target: access.Target{StudentID: student.ID}, want: true},
		{name: "guardian: ward course", actor: guardian, action: access.Read, target: access.Target{CourseID: courseA.ID}, want: true},
		{name: "guardian: ward in course", actor: guardian, action: access.Read, target: access.Target{StudentID: student.ID, CourseID: courseA.ID}, want: true},
		{name: "guardian: ward in other course", actor: guardian, action: access.Read, target: access.Target{StudentID: student.ID, CourseID: courseB.ID}},
		{name: "guardian: other student", actor: guardian, action: access.Read, target: access.Target{StudentID: student2.ID}},
		{name: "guardian: other course", actor: guardian, action: access.Read, target: access.Target{CourseID: courseB.ID}},
		{name: "guardian: write", actor: guardian, action: access.Write, target: access.Target{StudentID: student.ID}},

		{name: "student: self", actor: student, action: access.Read, target: access.Target{StudentID: student.ID}, want: true},
		{name: "student: own course", actor: student, action: access.Read, target: access.Target{CourseID: courseA.ID}, want: true},
		{name: "student: other course", actor: student, action: access.Read, target: access.Target{CourseID: courseB.ID}},
		{name: "student: classmate", actor: student, action: access.Read, target: access.Target{StudentID: withdrawn.ID}},
		{name: "student: write", actor: student, action: access.Write, target: access.Target{StudentID: student.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := env.Authorizer.Authorize(ctx, tt.actor, tt.action, tt.target)
			assert.Equal(t, tt.want, d.Allowed, d.Reason)

			err := env.Authorizer.Require(ctx, tt.actor, tt.action, tt.target)
			if tt.want {
				assert.NoError(t, err)
			} else {
				assert.True(t, core.IsPermissionError(err), "got %v", err)
				assert.NotEmpty(t, d.Reason)
			}
		})
	}

	t.Run("permitted courses", func(t *testing.T) {
		for _, tt := range []struct {
			name    string
			actor   user.User
			wantIDs []string
			wantAll bool
		}{
			{name: "staff", actor: staff, wantAll: true},
			{name: "homeroom teacher", actor: teacher, wantIDs: []string{courseA.ID}},
			{name: "slot teacher", actor: teacher2, wantIDs: []string{courseB.ID}},
			{name: "idle teacher", actor: idle, wantIDs: []string{}},
			{name: "inactive", actor: retired},
			{name: "student", actor: student2, wantIDs: []string{courseB.ID}},
			{name: "guardian", actor: guardian, wantIDs: []string{courseA.ID}},
		} {
			ids, all, err := env.Authorizer.PermittedCourses(ctx, tt.actor)
			require.NoError(t, err, tt.name)
			assert.Equal(t, tt.wantAll, all, tt.name)
			if tt.wantIDs == nil {
				assert.Nil(t, ids, tt.name)
			} else {
				assert.ElementsMatch(t, tt.wantIDs, ids, tt.name)
				assert.NotNil(t, ids, tt.name)
			}
		}
	})
}

func TestAction_String(t *testing.T) {
	assert.Equal(t, "read", access.Read.String())
	assert.Equal(t, "write", access.Write.String())
}
