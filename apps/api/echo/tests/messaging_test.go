package tests

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/liceojbh/intranet/apps/api/echo"
	"github.com/liceojbh/intranet/core/messaging"
	"github.com/liceojbh/intranet/core/user"
)

func newMessageRequest(t *testing.T, path, token, content, filename string, data []byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	require.NoError(t, w.WriteField("subject", "Tarea"))
	require.NoError(t, w.WriteField("content", content))
	fw, err := w.CreateFormFile("attachment", filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req, httptest.NewRecorder()
}

func Test_messagingApi_contacts(t *testing.T) {
	app, env := setup(t)
	f := newFixture(t, env)

	runHTTPTests(t, app, []httpTest{
		{name: "anonymous", path: "/v1/messages/contacts", wantCode: http.StatusUnauthorized},
		{name: "guardians cannot message", path: "/v1/messages/contacts", token: f.guardianToken, wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)},
		{name: "staff cannot message", path: "/v1/messages/contacts", token: f.staffToken, wantCode: http.StatusForbidden},
	})

	nextYear := "?year=" + strconv.Itoa(testPeriod.Year+1) + "&semester=1"
	for _, tt := range []struct {
		name  string
		token string
		query string
		want  []string
	}{
		{name: "student sees their teachers", token: f.studentToken, want: []string{f.teacher.ID}},
		{name: "teacher sees their students", token: f.teacherToken, want: []string{f.student.ID}},
		{name: "no enrollment in another year", token: f.studentToken, query: nextYear, want: []string{}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodGet, "/v1/messages/contacts"+tt.query, tt.token)
			app.ServeHTTP(rec, req)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			var contacts []user.User
			decode(t, rec, &contacts)
			ids := make([]string, 0, len(contacts))
			for _, c := range contacts {
				ids = append(ids, c.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func Test_messagingApi_conversations(t *testing.T) {
	app, env := setup(t)
	f := newFixture(t, env)

	start := func(recipientID string) []byte {
		return marchallObj(t, messaging.NewConversation{RecipientID: recipientID})
	}
	recipientErr := func(err error) []byte {
		return marchallObj(t, map[string]string{"recipient_id": err.Error()})
	}

	runHTTPTests(t, app, []httpTest{
		{name: "start: recipient required", method: http.MethodPost, path: "/v1/messages/conversations", token: f.studentToken, body: start(""), wantCode: http.StatusBadRequest},
		{name: "start: self", method: http.MethodPost, path: "/v1/messages/conversations", token: f.studentToken, body: start(f.student.ID), wantCode: http.StatusBadRequest, wantData: recipientErr(messaging.ErrSelfMessage)},
		{name: "start: student to student", method: http.MethodPost, path: "/v1/messages/conversations", token: f.studentToken, body: start(f.student2.ID), wantCode: http.StatusBadRequest, wantData: recipientErr(messaging.ErrInvalidPair)},
		{name: "start: not a contact", method: http.MethodPost, path: "/v1/messages/conversations", token: f.studentToken, body: start(f.teacher2.ID), wantCode: http.StatusBadRequest, wantData: recipientErr(messaging.ErrNotAContact)},
		{name: "start: unknown recipient", method: http.MethodPost, path: "/v1/messages/conversations", token: f.studentToken, body: start("lol"), wantCode: http.StatusBadRequest},
	})

	var conv messaging.Conversation
	t.Run("start", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/messages/conversations", f.studentToken, start(f.teacher.ID))
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		decode(t, rec, &conv)
		assert.Equal(t, f.student.ID, conv.StudentID)
		assert.Equal(t, f.teacher.ID, conv.TeacherID)
	})

	runHTTPTests(t, app, []httpTest{
		{name: "start: again", method: http.MethodPost, path: "/v1/messages/conversations", token: f.studentToken, body: start(f.teacher.ID), wantData: marchallObj(t, conv)},
		{name: "start: from the teacher side", method: http.MethodPost, path: "/v1/messages/conversations", token: f.teacherToken, body: start(f.student.ID), wantData: marchallObj(t, conv)},
	})

	convPath := "/v1/messages/conversations/" + conv.ID
	runHTTPTests(t, app, []httpTest{
		{name: "send: outsider", method: http.MethodPost, path: convPath + "/messages", token: f.student2Token, body: marchallObj(t, messaging.NewMessage{Content: "hola"}), wantCode: http.StatusNotFound, wantData: marchallObj(t, errNotFound)},
		{name: "send: content required", method: http.MethodPost, path: convPath + "/messages", token: f.studentToken, body: marchallObj(t, messaging.NewMessage{Subject: "Duda"}), wantCode: http.StatusBadRequest},
		{name: "send", method: http.MethodPost, path: convPath + "/messages", token: f.studentToken, body: marchallObj(t, messaging.NewMessage{Subject: "Duda", Content: "¿Hay prueba el lunes?"}), wantCode: http.StatusCreated},
		{name: "unread: teacher", path: "/v1/messages/unread", token: f.teacherToken, wantData: marchallObj(t, echoapi.UnreadResponse{Unread: 1})},
		{name: "unread: student", path: "/v1/messages/unread", token: f.studentToken, wantData: marchallObj(t, echoapi.UnreadResponse{Unread: 0})},
		{name: "counters: teacher", path: "/v1/notifications/counters", token: f.teacherToken, wantData: marchallObj(t, echoapi.CountersResponse{Notifications: 1, Messages: 1})},
		{name: "view: outsider", path: convPath, token: f.teacher2Token, wantCode: http.StatusNotFound},
	})

	t.Run("list", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/messages/conversations", f.teacherToken)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var views []messaging.ConversationView
		decode(t, rec, &views)
		require.Len(t, views, 1)
		assert.Equal(t, 1, views[0].Unread)
		assert.Equal(t, f.student.ID, views[0].ContactID)
		assert.Equal(t, f.student.FullName(), views[0].ContactName)
	})

	t.Run("view resets unread", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, convPath, f.teacherToken)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var thread messaging.Thread
		decode(t, rec, &thread)
		assert.Equal(t, 0, thread.Conversation.UnreadTeacher)
		assert.Equal(t, 1, thread.Total)
		assert.Equal(t, 1, thread.Pages)
		require.Len(t, thread.Messages, 1)
		assert.Equal(t, f.teacher.ID, thread.Messages[0].RecipientID)

		req, rec = newAuthRequest(http.MethodGet, "/v1/messages/unread", f.teacherToken)
		app.ServeHTTP(rec, req)
		assert.JSONEq(t, `{"unread": 0}`, rec.Body.String())
	})

	t.Run("attachment", func(t *testing.T) {
		pdf := []byte("%PDF-1.4 guia")
		req, rec := newMessageRequest(t, convPath+"/messages", f.teacherToken, "Te envío la guía", "guia.pdf", pdf)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var msg messaging.Message
		decode(t, rec, &msg)
		require.NotNil(t, msg.Attachment)
		assert.Equal(t, "guia.pdf", msg.Attachment.Name)
		assert.Equal(t, int64(len(pdf)), msg.Attachment.Size)

		req, rec = newAuthRequest(http.MethodGet, convPath+"/messages/"+msg.ID+"/attachment", f.studentToken)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, pdf, rec.Body.Bytes())

		req, rec = newAuthRequest(http.MethodGet, convPath+"/messages/"+msg.ID+"/attachment", f.student2Token)
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		req, rec = newMessageRequest(t, convPath+"/messages", f.teacherToken, "virus", "setup.exe", []byte("MZ"))
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "attachment")
	})

	runHTTPTests(t, app, []httpTest{
		{name: "delete: teachers cannot", method: http.MethodDelete, path: convPath, token: f.teacherToken, wantCode: http.StatusForbidden},
		{name: "delete: outsider", method: http.MethodDelete, path: convPath, token: f.student2Token, wantCode: http.StatusNotFound},
		{name: "delete", method: http.MethodDelete, path: convPath, token: f.studentToken, wantCode: http.StatusNoContent},
		{name: "view: deleted", path: convPath, token: f.studentToken, wantCode: http.StatusNotFound},
		{name: "list: empty", path: "/v1/messages/conversations", token: f.teacherToken, wantData: marchallList(t)},
	})
}

func Test_messagingApi_rateLimit(t *testing.T) {
	app, env := setup(t)
	f := newFixture(t, env)

	req, rec := newAuthRequest(http.MethodPost, "/v1/messages/conversations", f.studentToken, marchallObj(t, messaging.NewConversation{RecipientID: f.teacher.ID}))
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var conv messaging.Conversation
	decode(t, rec, &conv)

	body := marchallObj(t, messaging.NewMessage{Content: "hola"})
	path := "/v1/messages/conversations/" + conv.ID + "/messages"
	for i := 0; i < env.Conf.RateLimit.MessagesPerMinute; i++ {
		req, rec = newAuthRequest(http.MethodPost, path, f.studentToken, body)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code, "message %d: %s", i+1, rec.Body.String())
	}

	runHTTPTests(t, app, []httpTest{
		{name: "over the limit", method: http.MethodPost, path: path, token: f.studentToken, body: body, wantCode: http.StatusTooManyRequests,
			wantData: marchallObj(t, httpErr{Error: "too many requests, try again later"})},
		{name: "other users are not affected", method: http.MethodPost, path: path, token: f.teacherToken, body: body, wantCode: http.StatusCreated},
	})
}
