package tests

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liceojbh/intranet/core/content"
)

func Test_contentApi_resources(t *testing.T) {
	app, env := setup(t)
	f := newFixture(t, env)

	share := func(t *testing.T, token, courseID string, fields map[string]string, filename string) *httptest.ResponseRecorder {
		req, rec := newUploadRequest(t, "/v1/courses/"+courseID+"/resources", token, fields, filename, []byte("%PDF-1.4 guía"))
		app.ServeHTTP(rec, req)
		return rec
	}
	list := func(t *testing.T, path, token string) []content.Resource {
		req, rec := newAuthRequest(http.MethodGet, path, token)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var res []content.Resource
		decode(t, rec, &res)
		return res
	}

	var resA, resB content.Resource
	t.Run("upload", func(t *testing.T) {
		rec := share(t, f.teacherToken, f.courseA.ID, map[string]string{"title": "Guía 1", "subject_id": f.math.ID}, "guia.pdf")
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		decode(t, rec, &resA)
		assert.Equal(t, f.teacher.ID, resA.TeacherID)

		rec = share(t, f.teacher2Token, f.courseB.ID, map[string]string{"title": "Línea de tiempo"}, "linea.pptx")
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		decode(t, rec, &resB)
	})
	t.Run("teacher of another course", func(t *testing.T) {
		rec := share(t, f.teacherToken, f.courseB.ID, map[string]string{"title": "Guía 1"}, "guia.pdf")
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.JSONEq(t, string(marchallObj(t, errForbidden)), rec.Body.String())
	})
	t.Run("students cannot upload", func(t *testing.T) {
		rec := share(t, f.studentToken, f.courseA.ID, map[string]string{"title": "Guía 1"}, "guia.pdf")
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
	t.Run("file required", func(t *testing.T) {
		rec := share(t, f.teacherToken, f.courseA.ID, map[string]string{"title": "Guía 1"}, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"file": "this field is required"}`, rec.Body.String())
	})
	t.Run("file type", func(t *testing.T) {
		rec := share(t, f.teacherToken, f.courseA.ID, map[string]string{"title": "Guía 1"}, "guia.exe")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("student listing is scoped to their course", func(t *testing.T) {
		res := list(t, "/v1/resources", f.studentToken)
		require.Len(t, res, 1)
		assert.Equal(t, resA.ID, res[0].ID)

		res = list(t, "/v1/resources", f.student2Token)
		require.Len(t, res, 1)
		assert.Equal(t, resB.ID, res[0].ID)

		assert.Len(t, list(t, "/v1/resources", f.staffToken), 2)
		assert.Len(t, list(t, "/v1/courses/"+f.courseA.ID+"/resources", f.guardianToken), 1)
	})

	runHTTPTests(t, app, []httpTest{
		{name: "course listing: foreign course", path: "/v1/courses/" + f.courseB.ID + "/resources", token: f.studentToken, wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)},
		{name: "course listing: other teacher", path: "/v1/courses/" + f.courseA.ID + "/resources", token: f.teacher2Token, wantCode: http.StatusForbidden},
		{name: "download", path: "/v1/resources/" + resA.ID + "/download", token: f.studentToken},
		{name: "download: foreign course", path: "/v1/resources/" + resA.ID + "/download", token: f.student2Token, wantCode: http.StatusForbidden},
		{name: "download: unknown", path: "/v1/resources/lol/download", token: f.staffToken, wantCode: http.StatusNotFound, wantData: marchallObj(t, errNotFound)},
		{name: "delete: not the uploader", method: http.MethodDelete, path: "/v1/resources/" + resA.ID, token: f.teacher2Token, wantCode: http.StatusForbidden},
		{name: "delete", method: http.MethodDelete, path: "/v1/resources/" + resA.ID, token: f.teacherToken, wantCode: http.StatusNoContent},
		{name: "deleted", path: "/v1/resources/" + resA.ID + "/download", token: f.teacherToken, wantCode: http.StatusNotFound},
	})
}
