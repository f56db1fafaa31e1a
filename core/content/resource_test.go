package content_test

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liceojbh/intranet/core"
	"github.com/liceojbh/intranet/core/academic"
	"github.com/liceojbh/intranet/core/audit"
	"github.com/liceojbh/intranet/core/content"
	"github.com/liceojbh/intranet/core/user"
	testutil "github.com/liceojbh/intranet/tests"
)

func upload(name, body string) *core.Upload {
	return &core.Upload{Filename: name, Size: int64(len(body)), Content: strings.NewReader(body)}
}

func TestNewResource_Validate(t *testing.T) {
	validate, _ := core.NewValidator()
	empty := ""

	tests := []struct {
		name      string
		nr        content.NewResource
		wantField string
	}{
		{name: "pdf", nr: content.NewResource{CourseID: "c1", Title: "Guía 1", File: upload("guia.pdf", "x")}},
		{name: "slides", nr: content.NewResource{CourseID: "c1", Title: "Clase 3", File: upload("clase.PPTX", "x")}},
		{name: "blank subject is dropped", nr: content.NewResource{CourseID: "c1", SubjectID: &empty, Title: "Guía", File: upload("guia.pdf", "x")}},
		{name: "no title", nr: content.NewResource{CourseID: "c1", Title: "  ", File: upload("guia.pdf", "x")}, wantField: "title"},
		{name: "no file", nr: content.NewResource{CourseID: "c1", Title: "Guía"}, wantField: "file"},
		{name: "executable", nr: content.NewResource{CourseID: "c1", Title: "Guía", File: upload("setup.exe", "x")}, wantField: "file"},
		{name: "traversal", nr: content.NewResource{CourseID: "c1", Title: "Guía", File: upload("../guia.pdf", "x")}, wantField: "file"},
		{name: "too large", nr: content.NewResource{CourseID: "c1", Title: "Guía", File: upload("guia.pdf", strings.Repeat("x", 11))}, wantField: "file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.nr.Validate(validate, 10)
			if tt.wantField == "" {
				assert.NoError(t, err)
				assert.Nil(t, tt.nr.SubjectID)
				return
			}
			require.Error(t, err)
			if verr, ok := err.(*core.ValidationError); ok {
				assert.Equal(t, tt.wantField, verr.Fields[0].Field)
			}
		})
	}
}

type school struct {
	staff, teacher, teacher2, idle, student, student2, guardian user.User
	courseA, courseB                                          academic.Course
	math                                                      academic.Subject
}

func newSchool(t *testing.T, env *testutil.Env) school {
	repo := env.Repos.User
	s := school{
		staff:    testutil.CreateUser(t, repo, "Secretaria", "secre", "", "", user.RoleStaff, true),
		teacher:  testutil.CreateUser(t, repo, "Pedro", "pedro", "", "", user.RoleTeacher, true),
		teacher2: testutil.CreateUser(t, repo, "Marta", "marta", "", "", user.RoleTeacher, true),
		idle:     testutil.CreateUser(t, repo, "Raúl", "raul", "", "", user.RoleTeacher, true),
		student:  testutil.CreateUser(t, repo, "Juan", "juan", "", "", user.RoleStudent, true),
		student2: testutil.CreateUser(t, repo, "Sofía", "sofia", "", "", user.RoleStudent, true),
		guardian: testutil.CreateUser(t, repo, "Carmen", "carmen", "", "", user.RoleGuardian, true),
	}
	s.math = testutil.CreateSubject(t, env.AcademicSvc, "Matemática", "MAT")
	s.courseA = testutil.CreateCourse(t, env.AcademicSvc, 1, "A", 2024, s.teacher.ID)
	s.courseB = testutil.CreateCourse(t, env.AcademicSvc, 2, "B", 2024, "")
	testutil.AssignSlot(t, env.AcademicSvc, s.courseB.ID, s.math.ID, s.teacher2.ID, academic.Monday, 1)
	testutil.Enroll(t, env.AcademicSvc, s.student.ID, s.courseA.ID, 2024)
	testutil.Enroll(t, env.AcademicSvc, s.student2.ID, s.courseB.ID, 2024)
	testutil.LinkGuardian(t, env.UserSvc, s.guardian.ID, s.student.ID)
	return s
}

func resourceIDs(res []content.Resource) []string {
	out := make([]string, 0, len(res))
	for _, r := range res {
		out = append(out, r.ID)
	}
	return out
}

func TestService_UploadResource(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	s := newSchool(t, env)

	newResource := func(courseID string) content.NewResource {
		return content.NewResource{CourseID: courseID, Title: "Guía de fracciones", File: upload("fracciones.pdf", "%PDF-1.4")}
	}

	tests := []struct {
		name      string
		actor     user.User
		nr        content.NewResource
		wantPerm  bool
		wantField string
	}{
		{name: "homeroom teacher", actor: s.teacher, nr: newResource(s.courseA.ID)},
		{name: "subject teacher", actor: s.teacher2, nr: newResource(s.courseB.ID)},
		{name: "staff anywhere", actor: s.staff, nr: newResource(s.courseB.ID)},
		{name: "teacher of another course", actor: s.teacher, nr: newResource(s.courseB.ID), wantPerm: true},
		{name: "teacher without assignments", actor: s.idle, nr: newResource(s.courseA.ID), wantPerm: true},
		{name: "student", actor: s.student, nr: newResource(s.courseA.ID), wantPerm: true},
		{name: "guardian", actor: s.guardian, nr: newResource(s.courseA.ID), wantPerm: true},
		{name: "unknown course", actor: s.staff, nr: newResource("missing"), wantField: "course_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := env.ContentSvc.UploadResource(ctx, tt.actor, tt.nr, "10.0.0.1")
			switch {
			case tt.wantPerm:
				assert.True(t, core.IsPermissionError(err), "got %v", err)
			case tt.wantField != "":
				verr, ok := errors.Cause(err).(*core.ValidationError)
				require.True(t, ok, "got %v", err)
				assert.Equal(t, tt.wantField, verr.Fields[0].Field)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.actor.ID, r.TeacherID)
				assert.Equal(t, "fracciones.pdf", r.FileName)
				assert.True(t, strings.HasPrefix(r.FilePath, "recursos/"), r.FilePath)
			}
		})
	}

	t.Run("unknown subject", func(t *testing.T) {
		nr := newResource(s.courseA.ID)
		missing := "missing"
		nr.SubjectID = &missing
		_, err := env.ContentSvc.UploadResource(ctx, s.teacher, nr, "")
		verr, ok := errors.Cause(err).(*core.ValidationError)
		require.True(t, ok, "got %v", err)
		assert.Equal(t, "subject_id", verr.Fields[0].Field)
	})

	t.Run("every upload is audited", func(t *testing.T) {
		entries, err := env.AuditSvc.Query(ctx, audit.Filter{Kind: audit.KindResource})
		require.NoError(t, err)
		assert.Len(t, entries, 3)
		for _, e := range entries {
			assert.Equal(t, "Compartió el recurso Guía de fracciones", e.Description)
		}
	})
}

func TestService_Resources(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	s := newSchool(t, env)

	share := func(actor user.User, courseID, title string) content.Resource {
		r, err := env.ContentSvc.UploadResource(ctx, actor, content.NewResource{
			CourseID: courseID, SubjectID: &s.math.ID, Title: title, File: upload(title+".pdf", "x"),
		}, "")
		require.NoError(t, err)
		return r
	}
	ra := share(s.teacher, s.courseA.ID, "guia-a")
	rb := share(s.teacher2, s.courseB.ID, "guia-b")

	tests := []struct {
		name     string
		actor    user.User
		filter   content.ResourceFilter
		wantIDs  []string
		wantPerm bool
	}{
		{name: "student sees their course", actor: s.student, wantIDs: []string{ra.ID}},
		{name: "other student", actor: s.student2, wantIDs: []string{rb.ID}},
		{name: "guardian sees the ward's course", actor: s.guardian, wantIDs: []string{ra.ID}},
		{name: "teacher sees their courses", actor: s.teacher, wantIDs: []string{ra.ID}},
		{name: "teacher without assignments sees nothing", actor: s.idle, wantIDs: []string{}},
		{name: "staff sees everything", actor: s.staff, wantIDs: []string{ra.ID, rb.ID}},
		{name: "subject filter", actor: s.staff, filter: content.ResourceFilter{SubjectID: "other"}, wantIDs: []string{}},
		{name: "own course", actor: s.student, filter: content.ResourceFilter{CourseID: s.courseA.ID}, wantIDs: []string{ra.ID}},
		{name: "foreign course", actor: s.student, filter: content.ResourceFilter{CourseID: s.courseB.ID}, wantPerm: true},
		{name: "teacher on a foreign course", actor: s.teacher, filter: content.ResourceFilter{CourseID: s.courseB.ID}, wantPerm: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := env.ContentSvc.Resources(ctx, tt.actor, tt.filter)
			if tt.wantPerm {
				assert.True(t, core.IsPermissionError(err), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.wantIDs, resourceIDs(res))
		})
	}

	t.Run("open", func(t *testing.T) {
		_, _, err := env.ContentSvc.OpenResource(ctx, s.student2, ra.ID)
		assert.True(t, core.IsPermissionError(err))

		r, rc, err := env.ContentSvc.OpenResource(ctx, s.student, ra.ID)
		require.NoError(t, err)
		defer rc.Close()
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, "x", string(data))
		assert.Equal(t, "guia-a.pdf", r.FileName)
	})

	t.Run("delete", func(t *testing.T) {
		err := env.ContentSvc.DeleteResource(ctx, s.teacher, rb.ID)
		assert.True(t, core.IsPermissionError(err), "only the uploader or staff")

		require.NoError(t, env.ContentSvc.DeleteResource(ctx, s.teacher2, rb.ID))
		_, _, err = env.ContentSvc.OpenResource(ctx, s.staff, rb.ID)
		assert.Equal(t, content.ErrResourceNotFound, errors.Cause(err))
	})
}
