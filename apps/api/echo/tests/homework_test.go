package tests

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liceojbh/intranet/core/homework"
)

func Test_homeworkApi(t *testing.T) {
	app, env := setup(t)
	f := newFixture(t, env)

	newAssignment := func(dueIn time.Duration, allowLate bool) homework.NewAssignment {
		return homework.NewAssignment{
			CourseID:    f.courseA.ID,
			SubjectID:   f.math.ID,
			Title:       "Guía de fracciones",
			Description: "Ejercicios 1 al 10",
			DueDate:     time.Now().UTC().Add(dueIn),
			AllowLate:   allowLate,
		}
	}
	create := func(t *testing.T, token string, na homework.NewAssignment) homework.Assignment {
		req, rec := newAuthRequest(http.MethodPost, "/v1/homework", token, marchallObj(t, na))
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var a homework.Assignment
		decode(t, rec, &a)
		return a
	}
	submit := func(t *testing.T, token, id, filename string) *httptest.ResponseRecorder {
		req, rec := newUploadRequest(t, "/v1/homework/"+id+"/submissions", token, map[string]string{"comment": "listo"}, filename, []byte("%PDF"))
		app.ServeHTTP(rec, req)
		return rec
	}

	week := 7 * 24 * time.Hour
	runHTTPTests(t, app, []httpTest{
		{name: "create: students cannot", method: http.MethodPost, path: "/v1/homework", token: f.studentToken, body: marchallObj(t, newAssignment(week, false)), wantCode: http.StatusForbidden},
		{name: "create: foreign course", method: http.MethodPost, path: "/v1/homework", token: f.teacher2Token, body: marchallObj(t, newAssignment(week, false)), wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)},
		{name: "create: title required", method: http.MethodPost, path: "/v1/homework", token: f.teacherToken, body: marchallObj(t, homework.NewAssignment{CourseID: f.courseA.ID, SubjectID: f.math.ID, Description: "x", DueDate: time.Now()}), wantCode: http.StatusBadRequest},
	})

	onTime := create(t, f.teacherToken, newAssignment(week, false))
	overdue := create(t, f.teacherToken, newAssignment(-2*24*time.Hour, false))
	lateOK := create(t, f.teacherToken, newAssignment(-2*24*time.Hour, true))

	t.Run("create with attachment", func(t *testing.T) {
		var body bytes.Buffer
		w := multipart.NewWriter(&body)
		for k, v := range map[string]string{
			"course_id": f.courseA.ID, "subject_id": f.math.ID, "title": "Lectura", "description": "Capítulo 3",
			"type": "lectura", "due_date": time.Now().UTC().Add(week).Format("2006-01-02"), "due_time": "18:00", "max_score": "7",
		} {
			require.NoError(t, w.WriteField(k, v))
		}
		fw, err := w.CreateFormFile("attachment", "capitulo3.pdf")
		require.NoError(t, err)
		_, err = fw.Write([]byte("%PDF"))
		require.NoError(t, err)
		require.NoError(t, w.Close())

		req := httptest.NewRequest(http.MethodPost, "/v1/homework", &body)
		req.Header.Set("Content-Type", w.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+f.teacherToken)
		rec := httptest.NewRecorder()
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var a homework.Assignment
		decode(t, rec, &a)
		assert.Equal(t, homework.TypeReading, a.Type)
		assert.Equal(t, "capitulo3.pdf", a.AttachmentName)
		assert.EqualValues(t, 7, a.MaxScore)
		assert.Equal(t, "18:00", a.DueTime)
	})

	t.Run("submit", func(t *testing.T) {
		rec := submit(t, f.studentToken, onTime.ID, "tarea.pdf")
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var s homework.Submission
		decode(t, rec, &s)
		assert.False(t, s.Late)

		rec = submit(t, f.studentToken, lateOK.ID, "tarea.pdf")
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		decode(t, rec, &s)
		assert.True(t, s.Late)
	})
	t.Run("late submissions are refused", func(t *testing.T) {
		rec := submit(t, f.studentToken, overdue.ID, "tarea.pdf")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, string(marchallObj(t, httpErr{Error: homework.ErrDeadlinePassed.Error()})), rec.Body.String())
	})
	t.Run("student of another course", func(t *testing.T) {
		rec := submit(t, f.student2Token, onTime.ID, "tarea.pdf")
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
	t.Run("teachers cannot submit", func(t *testing.T) {
		rec := submit(t, f.teacherToken, onTime.ID, "tarea.pdf")
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
	t.Run("file type", func(t *testing.T) {
		rec := submit(t, f.studentToken, onTime.ID, "tarea.exe")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("board", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/students/"+f.student.ID+"/homework", f.guardianToken)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var b struct {
			Pending      []homework.Assignment `json:"pendientes"`
			Submitted    []homework.Assignment `json:"entregadas"`
			TotalPending int                   `json:"total_pendientes"`
		}
		decode(t, rec, &b)
		assert.Len(t, b.Submitted, 2)
		assert.Len(t, b.Pending, 2, "the overdue assignment and the reading")
		assert.Equal(t, 2, b.TotalPending)
	})

	var roster homework.Roster
	t.Run("roster", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/homework/"+onTime.ID+"/submissions", f.teacherToken)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		decode(t, rec, &roster)
		require.Len(t, roster.Submissions, 1)
		assert.Empty(t, roster.Pending)
	})
	require.Len(t, roster.Submissions, 1)
	subID := roster.Submissions[0].ID

	runHTTPTests(t, app, []httpTest{
		{name: "board: classmate", path: "/v1/students/" + f.student.ID + "/homework", token: f.student2Token, wantCode: http.StatusForbidden},
		{name: "roster: other teacher", path: "/v1/homework/" + onTime.ID + "/submissions", token: f.teacher2Token, wantCode: http.StatusForbidden},
		{name: "list: students cannot", path: "/v1/homework", token: f.studentToken, wantCode: http.StatusForbidden},
		{name: "list", path: "/v1/homework", token: f.teacherToken},
		{name: "get: student", path: "/v1/homework/" + onTime.ID, token: f.studentToken},
		{name: "get: unknown", path: "/v1/homework/lol", token: f.studentToken, wantCode: http.StatusNotFound, wantData: marchallObj(t, errNotFound)},
		{name: "review: above the maximum", method: http.MethodPut, path: "/v1/submissions/" + subID + "/review", token: f.teacherToken,
			body: marchallObj(t, homework.Review{Score: 101}), wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"score": "must not exceed the maximum score of the assignment"})},
		{name: "review: other teacher", method: http.MethodPut, path: "/v1/submissions/" + subID + "/review", token: f.teacher2Token,
			body: marchallObj(t, homework.Review{Score: 80}), wantCode: http.StatusForbidden},
		{name: "review", method: http.MethodPut, path: "/v1/submissions/" + subID + "/review", token: f.teacherToken,
			body: marchallObj(t, homework.Review{Score: 80, Feedback: "Bien"})},
		{name: "file: guardian", path: "/v1/submissions/" + subID + "/file", token: f.guardianToken},
		{name: "file: classmate", path: "/v1/submissions/" + subID + "/file", token: f.student2Token, wantCode: http.StatusForbidden},
		{name: "close: other teacher", method: http.MethodPut, path: "/v1/homework/" + onTime.ID + "/status", token: f.teacher2Token, body: []byte(`{"status":"cerrada"}`), wantCode: http.StatusForbidden},
		{name: "close", method: http.MethodPut, path: "/v1/homework/" + onTime.ID + "/status", token: f.teacherToken, body: []byte(`{"status":"cerrada"}`)},
	})

	t.Run("closed assignments refuse submissions", func(t *testing.T) {
		rec := submit(t, f.studentToken, onTime.ID, "tarea.pdf")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	runHTTPTests(t, app, []httpTest{
		{name: "delete: other teacher", method: http.MethodDelete, path: "/v1/homework/" + onTime.ID, token: f.teacher2Token, wantCode: http.StatusForbidden},
		{name: "delete", method: http.MethodDelete, path: "/v1/homework/" + onTime.ID, token: f.teacherToken, wantCode: http.StatusNoContent},
		{name: "deleted", path: "/v1/homework/" + onTime.ID, token: f.teacherToken, wantCode: http.StatusNotFound},
	})
}
