package tests

import (
	"testing"

	"github.com/liceojbh/intranet/core/academic"
	"github.com/liceojbh/intranet/core/user"
	testutil "github.com/liceojbh/intranet/tests"
)

// fixture is a small school: two courses of the current year, each with one teacher and one student.
type fixture struct {
	admin, staff      user.User
	teacher, teacher2 user.User
	student, student2 user.User
	guardian          user.User
	courseA, courseB  academic.Course
	math, history     academic.Subject
	slotA, slotB      academic.ScheduleSlot
	adminToken        string
	staffToken        string
	teacherToken      string
	teacher2Token     string
	studentToken      string
	student2Token     string
	guardianToken     string
}

func newFixture(t *testing.T, env *testutil.Env) fixture {
	var f fixture
	repo := env.Repos.User
	f.admin = testutil.CreateUser(t, repo, "Directora", "directora", "directora@test.cl", "", user.RoleAdmin, true)
	f.staff = testutil.CreateUser(t, repo, "Secretaria", "secre", "secre@test.cl", "", user.RoleStaff, true)
	f.teacher = testutil.CreateUser(t, repo, "Pedro", "pedro", "pedro@test.cl", "", user.RoleTeacher, true)
	f.teacher2 = testutil.CreateUser(t, repo, "Marta", "marta", "marta@test.cl", "", user.RoleTeacher, true)
	f.student = testutil.CreateUser(t, repo, "Juan", "juan", "juan@test.cl", "", user.RoleStudent, true)
	f.student2 = testutil.CreateUser(t, repo, "Sofia", "sofia", "sofia@test.cl", "", user.RoleStudent, true)
	f.guardian = testutil.CreateUser(t, repo, "Carmen", "carmen", "carmen@test.cl", "", user.RoleGuardian, true)

	f.math = testutil.CreateSubject(t, env.AcademicSvc, "Matemática", "MAT")
	f.history = testutil.CreateSubject(t, env.AcademicSvc, "Historia", "HIS")
	f.courseA = testutil.CreateCourse(t, env.AcademicSvc, 1, "A", testPeriod.Year, f.teacher.ID)
	f.courseB = testutil.CreateCourse(t, env.AcademicSvc, 2, "B", testPeriod.Year, "")

	testutil.Enroll(t, env.AcademicSvc, f.student.ID, f.courseA.ID, testPeriod.Year)
	testutil.Enroll(t, env.AcademicSvc, f.student2.ID, f.courseB.ID, testPeriod.Year)
	f.slotA = testutil.AssignSlot(t, env.AcademicSvc, f.courseA.ID, f.math.ID, f.teacher.ID, academic.Monday, 1)
	f.slotB = testutil.AssignSlot(t, env.AcademicSvc, f.courseB.ID, f.history.ID, f.teacher2.ID, academic.Tuesday, 2)
	testutil.LinkGuardian(t, env.UserSvc, f.guardian.ID, f.student.ID)

	f.adminToken = getToken(t, env, f.admin)
	f.staffToken = getToken(t, env, f.staff)
	f.teacherToken = getToken(t, env, f.teacher)
	f.teacher2Token = getToken(t, env, f.teacher2)
	f.studentToken = getToken(t, env, f.student)
	f.student2Token = getToken(t, env, f.student2)
	f.guardianToken = getToken(t, env, f.guardian)
	return f
}
