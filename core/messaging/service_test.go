package messaging_test

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liceojbh/intranet/core"
	"github.com/liceojbh/intranet/core/academic"
	"github.com/liceojbh/intranet/core/messaging"
	"github.com/liceojbh/intranet/core/notification"
	"github.com/liceojbh/intranet/core/user"
	filesvc "github.com/liceojbh/intranet/services/files"
	ratelimitsvc "github.com/liceojbh/intranet/services/ratelimit"
	testutil "github.com/liceojbh/intranet/tests"
)

var period = core.Period{Year: 2024, Semester: 1}

func TestConversation(t *testing.T) {
	c := messaging.Conversation{StudentID: "s", TeacherID: "t", UnreadStudent: 2, UnreadTeacher: 5}

	assert.True(t, c.HasParticipant("s"))
	assert.True(t, c.HasParticipant("t"))
	assert.False(t, c.HasParticipant("x"))

	assert.Equal(t, "t", c.Other("s"))
	assert.Equal(t, "s", c.Other("t"))

	assert.Equal(t, 2, c.UnreadFor("s"))
	assert.Equal(t, 5, c.UnreadFor("t"))
	assert.Equal(t, 0, c.UnreadFor("x"))

	assert.Equal(t, messaging.StudentSide, c.SideOf("s"))
	assert.Equal(t, messaging.TeacherSide, c.SideOf("t"))
}

func TestNewMessage_Validate(t *testing.T) {
	validate, _ := core.NewValidator()
	upload := func(name string, size int64) *core.Upload {
		return &core.Upload{Filename: name, Size: size, Content: strings.NewReader("x")}
	}

	tests := []struct {
		name    string
		msg     messaging.NewMessage
		wantErr bool
	}{
		{name: "plain", msg: messaging.NewMessage{Content: "hola"}},
		{name: "pdf", msg: messaging.NewMessage{Content: "hola", Attachment: upload("guia.PDF", 100)}},
		{name: "docx", msg: messaging.NewMessage{Content: "hola", Attachment: upload("informe.docx", 100)}},
		{name: "blank content", msg: messaging.NewMessage{Content: "   "}, wantErr: true},
		{name: "long content", msg: messaging.NewMessage{Content: strings.Repeat("a", messaging.MaxContentLen+1)}, wantErr: true},
		{name: "long subject", msg: messaging.NewMessage{Subject: strings.Repeat("a", messaging.MaxSubjectLen+1), Content: "hola"}, wantErr: true},
		{name: "executable", msg: messaging.NewMessage{Content: "hola", Attachment: upload("setup.exe", 100)}, wantErr: true},
		{name: "traversal", msg: messaging.NewMessage{Content: "hola", Attachment: upload("../guia.pdf", 100)}, wantErr: true},
		{name: "too large", msg: messaging.NewMessage{Content: "hola", Attachment: upload("guia.pdf", 1001)}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate(validate, 1000)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

type classroom struct {
	student, student2, teacher, teacher2, outsider user.User
}

func newClassroom(t *testing.T, env *testutil.Env) classroom {
	repo := env.Repos.User
	cr := classroom{
		student:  testutil.CreateUser(t, repo, "Ana", "ana", "", "", user.RoleStudent, true),
		student2: testutil.CreateUser(t, repo, "Beto", "beto", "", "", user.RoleStudent, true),
		teacher:  testutil.CreateUser(t, repo, "Pedro", "pedro", "", "", user.RoleTeacher, true),
		teacher2: testutil.CreateUser(t, repo, "Lucía", "lucia", "", "", user.RoleTeacher, true),
		outsider: testutil.CreateUser(t, repo, "Raúl", "raul", "", "", user.RoleTeacher, true),
	}
	c := testutil.CreateCourse(t, env.AcademicSvc, 1, "A", period.Year, cr.outsider.ID)
	math := testutil.CreateSubject(t, env.AcademicSvc, "Matemática", "MAT")
	hist := testutil.CreateSubject(t, env.AcademicSvc, "Historia", "HIS")
	testutil.AssignSlot(t, env.AcademicSvc, c.ID, math.ID, cr.teacher.ID, academic.Monday, 1)
	testutil.AssignSlot(t, env.AcademicSvc, c.ID, hist.ID, cr.teacher2.ID, academic.Tuesday, 1)
	testutil.AssignSlot(t, env.AcademicSvc, c.ID, math.ID, cr.teacher.ID, academic.Friday, 2)
	testutil.Enroll(t, env.AcademicSvc, cr.student.ID, c.ID, period.Year)
	testutil.Enroll(t, env.AcademicSvc, cr.student2.ID, c.ID, period.Year)
	return cr
}

func newService(t *testing.T, env *testutil.Env, limiter messaging.RateLimiter, limits messaging.Limits) *messaging.Service {
	files, err := filesvc.NewDiskStore(env.Conf)
	require.NoError(t, err)
	return messaging.NewService(
		env.Repos.Messaging, env.DB, env.Validate, limiter, files, limits,
		env.AcademicSvc, env.UserSvc, env.NotificationSvc,
	)
}

func ids(users []user.User) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.ID)
	}
	return out
}

func TestService_Contacts(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	cr := newClassroom(t, env)

	contacts, err := env.MessagingSvc.Contacts(ctx, cr.student, period)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{cr.teacher.ID, cr.teacher2.ID}, ids(contacts), "homeroom teachers without slots are not contacts")

	contacts, err = env.MessagingSvc.Contacts(ctx, cr.outsider, period)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{cr.student.ID, cr.student2.ID}, ids(contacts), "homeroom teachers reach their students")

	// deactivated users drop out
	_, err = env.UserSvc.Update(ctx, cr.student2, user.UpdateUser{FirstName: cr.student2.FirstName, LastName: cr.student2.LastName, Username: cr.student2.Username, IsActive: new(bool)})
	require.NoError(t, err)
	contacts, err = env.MessagingSvc.Contacts(ctx, cr.teacher, period)
	require.NoError(t, err)
	assert.Equal(t, []string{cr.student.ID}, ids(contacts))

	contacts, err = env.MessagingSvc.Contacts(ctx, cr.student, core.Period{Year: period.Year - 1, Semester: 2})
	require.NoError(t, err)
	assert.Empty(t, contacts)
}

func TestService_rateLimits(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	cr := newClassroom(t, env)
	svc := newService(t, env, ratelimitsvc.NewMemoryLimiter(), messaging.Limits{
		ConversationsPerHour: 1,
		MessagesPerMinute:    2,
		AttachmentsPerMinute: 1,
		MaxAttachmentSize:    1024,
	})

	conv, created, err := svc.StartConversation(ctx, cr.student, period, messaging.NewConversation{RecipientID: cr.teacher.ID})
	require.NoError(t, err)
	assert.True(t, created)

	t.Run("conversations", func(t *testing.T) {
		_, _, err := svc.StartConversation(ctx, cr.student, period, messaging.NewConversation{RecipientID: cr.teacher2.ID})
		assert.True(t, core.IsRateLimited(err), "got %v", err)

		again, created, err := svc.StartConversation(ctx, cr.student, period, messaging.NewConversation{RecipientID: cr.teacher.ID})
		require.NoError(t, err, "reopening an existing conversation is free")
		assert.False(t, created)
		assert.Equal(t, conv.ID, again.ID)
	})

	t.Run("attachments", func(t *testing.T) {
		attach := func(name string) messaging.NewMessage {
			return messaging.NewMessage{Content: "adjunto", Attachment: &core.Upload{Filename: name, Size: 3, Content: strings.NewReader("pdf")}}
		}
		msg, err := svc.Send(ctx, cr.student, conv.ID, attach("a.pdf"))
		require.NoError(t, err)
		require.NotNil(t, msg.Attachment)

		att, rc, err := svc.OpenAttachment(ctx, cr.teacher, conv.ID, msg.ID)
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, rc.Close())
		require.NoError(t, err)
		assert.Equal(t, "pdf", string(data))
		assert.Equal(t, "a.pdf", att.Name)

		_, err = svc.Send(ctx, cr.student, conv.ID, attach("b.pdf"))
		assert.True(t, core.IsRateLimited(err), "got %v", err)
	})

	t.Run("messages", func(t *testing.T) {
		_, err := svc.Send(ctx, cr.student, conv.ID, messaging.NewMessage{Content: "hola"})
		assert.True(t, core.IsRateLimited(err), "two messages already went out this minute")

		_, err = svc.Send(ctx, cr.teacher, conv.ID, messaging.NewMessage{Content: "hola"})
		assert.NoError(t, err)
	})
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, errors.New("redis is down")
}

func TestService_limiterFailure(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	cr := newClassroom(t, env)
	svc := newService(t, env, brokenLimiter{}, messaging.LimitsFromConfig(env.Conf))

	_, _, err := svc.StartConversation(ctx, cr.student, period, messaging.NewConversation{RecipientID: cr.teacher.ID})
	require.Error(t, err)
	assert.False(t, core.IsRateLimited(err))
	assert.Contains(t, err.Error(), "redis is down")

	// a zero limit disables the check
	svc = newService(t, env, brokenLimiter{}, messaging.Limits{})
	_, _, err = svc.StartConversation(ctx, cr.student, period, messaging.NewConversation{RecipientID: cr.teacher.ID})
	assert.NoError(t, err)
}

func TestService_Send(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	cr := newClassroom(t, env)
	svc := env.MessagingSvc

	conv, _, err := svc.StartConversation(ctx, cr.teacher, period, messaging.NewConversation{RecipientID: cr.student.ID})
	require.NoError(t, err)
	assert.Equal(t, cr.student.ID, conv.StudentID, "teachers may open the thread too")

	for i := 0; i < 3; i++ {
		_, err = svc.Send(ctx, cr.teacher, conv.ID, messaging.NewMessage{Subject: "Guía", Content: "Revisa la guía"})
		require.NoError(t, err)
	}
	_, err = svc.Send(ctx, cr.student, conv.ID, messaging.NewMessage{Content: "Gracias"})
	require.NoError(t, err)

	n, err := svc.UnreadTotal(ctx, cr.student)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = svc.UnreadTotal(ctx, cr.teacher)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	notes, unread, err := env.NotificationSvc.List(ctx, cr.student.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, unread)
	assert.Equal(t, notification.KindMessage, notes[0].Kind)
	assert.Equal(t, "/mensajes/"+conv.ID, notes[0].Link)

	thread, err := svc.View(ctx, cr.student, conv.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, thread.Page)
	assert.Equal(t, 4, thread.Total)
	assert.Equal(t, 0, thread.Conversation.UnreadStudent)
	assert.Equal(t, 1, thread.Conversation.UnreadTeacher)
	for _, m := range thread.Messages {
		if m.RecipientID == cr.student.ID {
			assert.True(t, m.Read)
		}
	}

	n, err = svc.UnreadTotal(ctx, cr.student)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = svc.View(ctx, cr.teacher2, conv.ID, 1)
	assert.Equal(t, messaging.ErrNotFound, errors.Cause(err))
	_, _, err = svc.OpenAttachment(ctx, cr.student, conv.ID, thread.Messages[0].ID)
	assert.Equal(t, messaging.ErrMessageNotFound, errors.Cause(err), "messages without attachment have nothing to open")
}
