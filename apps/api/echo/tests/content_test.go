package tests

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liceojbh/intranet/core/content"
	"github.com/liceojbh/intranet/core/notification"
	emailsvc "github.com/liceojbh/intranet/services/email"
)

func Test_contentApi_news(t *testing.T) {
	app, env := setup(t)
	f := newFixture(t, env)
	ctx := context.Background()

	cat := content.NewNewsCategory{Name: "Actividades", Color: "#ff0000"}
	runHTTPTests(t, app, []httpTest{
		{name: "category: teachers cannot create", method: http.MethodPost, path: "/v1/news/categories", token: f.teacherToken, body: marchallObj(t, cat), wantCode: http.StatusForbidden},
		{name: "category: create", method: http.MethodPost, path: "/v1/news/categories", token: f.staffToken, body: marchallObj(t, cat), wantCode: http.StatusCreated},
		{name: "category: duplicate", method: http.MethodPost, path: "/v1/news/categories", token: f.staffToken, body: marchallObj(t, cat), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"name": content.ErrCategoryExists.Error()})},
	})

	public := content.NewNews{Title: "Feria científica", Summary: "Este viernes", Body: "Los esperamos", IsPublic: true}
	internal := content.NewNews{Title: "Consejo de profesores", Body: "Se suspenden las clases", RequiresConfirmation: true}
	runHTTPTests(t, app, []httpTest{
		{name: "publish: anonymous", method: http.MethodPost, path: "/v1/news", body: marchallObj(t, public), wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "publish: teachers cannot", method: http.MethodPost, path: "/v1/news", token: f.teacherToken, body: marchallObj(t, public), wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)},
		{name: "publish: title required", method: http.MethodPost, path: "/v1/news", token: f.staffToken, body: marchallObj(t, content.NewNews{Body: "lol"}), wantCode: http.StatusBadRequest},
		{name: "publish: public", method: http.MethodPost, path: "/v1/news", token: f.staffToken, body: marchallObj(t, public), wantCode: http.StatusCreated},
		{name: "publish: internal", method: http.MethodPost, path: "/v1/news", token: f.staffToken, body: marchallObj(t, internal), wantCode: http.StatusCreated},
	})

	feed := func(t *testing.T, token string) []content.News {
		req, rec := newAuthRequest(http.MethodGet, "/v1/news", token)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var news []content.News
		decode(t, rec, &news)
		return news
	}

	anonFeed := feed(t, "")
	require.Len(t, anonFeed, 1)
	assert.Equal(t, public.Title, anonFeed[0].Title)

	studentFeed := feed(t, f.studentToken)
	require.Len(t, studentFeed, 2)
	var internalID, publicID string
	for _, n := range studentFeed {
		if n.IsPublic {
			publicID = n.ID
		} else {
			internalID = n.ID
		}
	}

	runHTTPTests(t, app, []httpTest{
		{name: "read: anonymous public", path: "/v1/news/" + publicID},
		{name: "read: anonymous internal", path: "/v1/news/" + internalID, wantCode: http.StatusNotFound, wantData: marchallObj(t, errNotFound)},
		{name: "read: student internal", path: "/v1/news/" + internalID, token: f.studentToken},
		{name: "read: unknown", path: "/v1/news/lol", token: f.studentToken, wantCode: http.StatusNotFound},
		{name: "confirm: not required", method: http.MethodPost, path: "/v1/news/" + publicID + "/confirm", token: f.studentToken, wantCode: http.StatusBadRequest},
		{name: "confirm", method: http.MethodPost, path: "/v1/news/" + internalID + "/confirm", token: f.studentToken, wantCode: http.StatusCreated},
		{name: "confirm: again", method: http.MethodPost, path: "/v1/news/" + internalID + "/confirm", token: f.studentToken},
		{name: "confirmations: staff only", path: "/v1/news/" + internalID + "/confirmations", token: f.teacherToken, wantCode: http.StatusForbidden},
		{name: "delete: teachers cannot", method: http.MethodDelete, path: "/v1/news/" + publicID, token: f.teacherToken, wantCode: http.StatusForbidden},
	})

	confs, err := env.ContentSvc.Confirmations(ctx, f.staff, internalID)
	require.NoError(t, err)
	require.Len(t, confs, 1)
	assert.Equal(t, f.student.ID, confs[0].UserID)

	n, err := env.ContentSvc.ReadNews(ctx, &f.staff, publicID)
	require.NoError(t, err)
	assert.Equal(t, 2, n.Visits, "anonymous read plus this one")

	runHTTPTests(t, app, []httpTest{
		{name: "delete", method: http.MethodDelete, path: "/v1/news/" + publicID, token: f.staffToken, wantCode: http.StatusNoContent},
		{name: "deleted", path: "/v1/news/" + publicID, wantCode: http.StatusNotFound},
	})
}

func newUploadRequest(t *testing.T, path, token string, fields map[string]string, filename string, data []byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if filename != "" {
		fw, err := w.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, httptest.NewRecorder()
}

func Test_contentApi_documents(t *testing.T) {
	app, env := setup(t)
	f := newFixture(t, env)

	pdf := []byte("%PDF-1.4 reglamento")
	upload := func(t *testing.T, token string, fields map[string]string, filename string) *httptest.ResponseRecorder {
		req, rec := newUploadRequest(t, "/v1/documents", token, fields, filename, pdf)
		app.ServeHTTP(rec, req)
		return rec
	}

	t.Run("teachers cannot upload", func(t *testing.T) {
		rec := upload(t, f.teacherToken, map[string]string{"title": "Reglamento"}, "reglamento.pdf")
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
	t.Run("file required", func(t *testing.T) {
		rec := upload(t, f.staffToken, map[string]string{"title": "Reglamento"}, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"file": "this field is required"}`, rec.Body.String())
	})
	t.Run("invalid visibility", func(t *testing.T) {
		rec := upload(t, f.staffToken, map[string]string{"title": "Reglamento", "visibility": "secreto"}, "reglamento.pdf")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	var public, teachersOnly content.Document
	t.Run("upload", func(t *testing.T) {
		rec := upload(t, f.staffToken, map[string]string{
			"title": "Reglamento interno", "visibility": "publico", "is_published": "true", "is_official": "true", "tags": "reglamento,Convivencia",
		}, "reglamento.pdf")
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		decode(t, rec, &public)
		assert.Equal(t, content.DocPDF, public.Type)
		assert.Equal(t, "1.0", public.Version)
		assert.Equal(t, []string{"reglamento", "convivencia"}, public.Tags)
		assert.Equal(t, int64(len(pdf)), public.Size)

		rec = upload(t, f.staffToken, map[string]string{
			"title": "Planificación", "visibility": "solo_profesores", "is_published": "true",
		}, "planificacion.docx")
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		decode(t, rec, &teachersOnly)
		assert.Equal(t, content.DocWord, teachersOnly.Type)
	})

	for _, tt := range []struct {
		name  string
		token string
		want  int
	}{
		{name: "anonymous", want: 1},
		{name: "student", token: f.studentToken, want: 1},
		{name: "teacher", token: f.teacherToken, want: 2},
		{name: "staff", token: f.staffToken, want: 2},
	} {
		t.Run("list: "+tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodGet, "/v1/documents", tt.token)
			app.ServeHTTP(rec, req)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			var docs []content.Document
			decode(t, rec, &docs)
			assert.Len(t, docs, tt.want)
		})
	}

	t.Run("download", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/documents/"+public.ID+"/download", "")
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, pdf, rec.Body.Bytes())
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "reglamento.pdf")
	})

	runHTTPTests(t, app, []httpTest{
		{name: "download: hidden from students", path: "/v1/documents/" + teachersOnly.ID + "/download", token: f.studentToken, wantCode: http.StatusNotFound},
		{name: "download: teacher", path: "/v1/documents/" + teachersOnly.ID + "/download", token: f.teacherToken},
		{name: "delete: teachers cannot", method: http.MethodDelete, path: "/v1/documents/" + public.ID, token: f.teacherToken, wantCode: http.StatusForbidden},
		{name: "delete", method: http.MethodDelete, path: "/v1/documents/" + public.ID, token: f.staffToken, wantCode: http.StatusNoContent},
		{name: "download: deleted", path: "/v1/documents/" + public.ID + "/download", wantCode: http.StatusNotFound},
	})
}

func Test_contentApi_circulars(t *testing.T) {
	app, env := setup(t)
	f := newFixture(t, env)
	ctx := context.Background()
	emailsvc.ResetSentMessages()

	urgent := content.NewCircular{
		Title:     "Suspensión de clases",
		Body:      "Por corte de agua",
		Urgency:   content.UrgencyUrgent,
		Audience:  content.AudienceGuardians,
		CourseIDs: []string{f.courseA.ID},
	}
	everyone := content.NewCircular{Title: "Vacaciones de invierno", Body: "Desde el lunes", Urgency: "normal", Audience: "todos"}

	runHTTPTests(t, app, []httpTest{
		{name: "publish: teachers cannot", method: http.MethodPost, path: "/v1/circulars", token: f.teacherToken, body: marchallObj(t, everyone), wantCode: http.StatusForbidden},
		{name: "publish: invalid audience", method: http.MethodPost, path: "/v1/circulars", token: f.staffToken, body: marchallObj(t, content.NewCircular{
			Title: "lol", Body: "lol", Urgency: "normal", Audience: "profesores",
		}), wantCode: http.StatusBadRequest},
		{name: "publish: unknown course", method: http.MethodPost, path: "/v1/circulars", token: f.staffToken, body: marchallObj(t, content.NewCircular{
			Title: "lol", Body: "lol", Urgency: "normal", Audience: "todos", CourseIDs: []string{"lol"},
		}), wantCode: http.StatusBadRequest},
		{name: "publish: urgent", method: http.MethodPost, path: "/v1/circulars", token: f.staffToken, body: marchallObj(t, urgent), wantCode: http.StatusCreated},
		{name: "publish: everyone", method: http.MethodPost, path: "/v1/circulars", token: f.staffToken, body: marchallObj(t, everyone), wantCode: http.StatusCreated},
	})

	t.Run("urgent circular reaches the guardians", func(t *testing.T) {
		require.Len(t, emailsvc.SentMessages, 1)
		msg := emailsvc.SentMessages[0]
		assert.Equal(t, f.guardian.Email, msg.To[0].Address)
		assert.Equal(t, "Circular urgente: "+urgent.Title, msg.Subject)

		list, unread, err := env.NotificationSvc.List(ctx, f.guardian.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, unread)
		require.Len(t, list, 1)
		assert.Equal(t, notification.KindCircular, list[0].Kind)
	})

	circulars := func(t *testing.T, token string) []content.Circular {
		req, rec := newAuthRequest(http.MethodGet, "/v1/circulars", token)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var circs []content.Circular
		decode(t, rec, &circs)
		return circs
	}

	var urgentID string
	for _, c := range circulars(t, f.guardianToken) {
		if c.Urgency == content.UrgencyUrgent {
			urgentID = c.ID
		}
	}
	require.NotEmpty(t, urgentID)

	assert.Len(t, circulars(t, f.staffToken), 2)
	assert.Len(t, circulars(t, f.guardianToken), 2)
	assert.Len(t, circulars(t, f.studentToken), 1, "guardian circulars are hidden from students")
	assert.Len(t, circulars(t, f.teacher2Token), 1, "guardian circulars are hidden from teachers")

	runHTTPTests(t, app, []httpTest{
		{name: "read: outside audience", path: "/v1/circulars/" + urgentID, token: f.studentToken, wantCode: http.StatusNotFound},
		{name: "read", path: "/v1/circulars/" + urgentID, token: f.guardianToken},
		{name: "read: again", path: "/v1/circulars/" + urgentID, token: f.guardianToken},
		{name: "deactivate: teachers cannot", method: http.MethodPost, path: "/v1/circulars/" + urgentID + "/deactivate", token: f.teacherToken, wantCode: http.StatusForbidden},
		{name: "deactivate", method: http.MethodPost, path: "/v1/circulars/" + urgentID + "/deactivate", token: f.staffToken},
		{name: "read: deactivated", path: "/v1/circulars/" + urgentID, token: f.guardianToken, wantCode: http.StatusNotFound},
	})

	c, err := env.ContentSvc.ReadCircular(ctx, f.staff, urgentID)
	require.NoError(t, err)
	assert.Equal(t, 2, c.ReadCount, "one receipt per reader")
	assert.Len(t, circulars(t, f.guardianToken), 1)
}

func Test_contentApi_events(t *testing.T) {
	app, env := setup(t)
	f := newFixture(t, env)

	day := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	holiday := content.NewEvent{Title: "Día del alumno", Type: content.EventHoliday, StartDate: day, AllDay: true}
	test := content.NewEvent{Title: "Prueba de álgebra", Type: content.EventEvaluation, StartDate: day, StartTime: "10:00", EndTime: "11:30", CourseID: &f.courseA.ID}
	foreign := content.NewEvent{Title: "Salida pedagógica", Type: content.EventActivity, StartDate: day, AllDay: true, CourseID: &f.courseB.ID}
	unknown := "lol"

	var created content.Event
	runHTTPTests(t, app, []httpTest{
		{name: "students cannot", method: http.MethodPost, path: "/v1/events", token: f.studentToken, body: marchallObj(t, holiday), wantCode: http.StatusForbidden},
		{name: "teachers need a course", method: http.MethodPost, path: "/v1/events", token: f.teacherToken, body: marchallObj(t, holiday), wantCode: http.StatusForbidden},
		{name: "teachers only for their courses", method: http.MethodPost, path: "/v1/events", token: f.teacherToken, body: marchallObj(t, foreign), wantCode: http.StatusForbidden},
		{name: "start time required", method: http.MethodPost, path: "/v1/events", token: f.staffToken, body: marchallObj(t, content.NewEvent{
			Title: "lol", Type: content.EventMeeting, StartDate: day,
		}), wantCode: http.StatusBadRequest},
		{name: "unknown course", method: http.MethodPost, path: "/v1/events", token: f.staffToken, body: marchallObj(t, content.NewEvent{
			Title: "lol", Type: content.EventMeeting, StartDate: day, AllDay: true, CourseID: &unknown,
		}), wantCode: http.StatusBadRequest},
		{name: "staff", method: http.MethodPost, path: "/v1/events", token: f.staffToken, body: marchallObj(t, holiday), wantCode: http.StatusCreated},
	})

	t.Run("teacher", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/events", f.teacherToken, marchallObj(t, test))
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		decode(t, rec, &created)
	})

	calendar := func(t *testing.T, token, query string) []content.CalendarEvent {
		req, rec := newAuthRequest(http.MethodGet, "/v1/calendar"+query, token)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var events []content.CalendarEvent
		decode(t, rec, &events)
		return events
	}

	t.Run("calendar", func(t *testing.T) {
		events := calendar(t, f.studentToken, "?from=2024-05-01&to=2024-05-31")
		require.Len(t, events, 2)
		assert.Equal(t, "2024-05-10", events[0].Start)
		assert.True(t, events[0].AllDay)
		assert.Equal(t, content.EventColors[content.EventHoliday], events[0].Color)
		assert.Equal(t, "2024-05-10T10:00", events[1].Start)
		assert.Equal(t, "2024-05-10T11:30", events[1].End)

		assert.Len(t, calendar(t, f.student2Token, "?from=2024-05-01&to=2024-05-31"), 1, "other course events are hidden")
		assert.Len(t, calendar(t, f.staffToken, "?from=2024-06-01&to=2024-06-30"), 0)
	})

	runHTTPTests(t, app, []httpTest{
		{name: "calendar: bad date", path: "/v1/calendar?from=10-05-2024", token: f.staffToken, wantCode: http.StatusBadRequest},
		{name: "delete: not the author", method: http.MethodDelete, path: "/v1/events/" + created.ID, token: f.teacher2Token, wantCode: http.StatusForbidden},
		{name: "delete: author", method: http.MethodDelete, path: "/v1/events/" + created.ID, token: f.teacherToken, wantCode: http.StatusNoContent},
		{name: "delete: gone", method: http.MethodDelete, path: "/v1/events/" + created.ID, token: f.staffToken, wantCode: http.StatusNotFound},
	})
}
