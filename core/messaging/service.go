package messaging

import (
	"context"
	"io"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/liceojbh/intranet/core"
	"github.com/liceojbh/intranet/core/academic"
	"github.com/liceojbh/intranet/core/notification"
	"github.com/liceojbh/intranet/core/user"
)

// Rate limited actions
const (
	ActionConversation = "conversation"
	ActionMessage      = "message"
	ActionAttachment   = "attachment"
)

var (
	// errors
	ErrNotFound        = core.NewNotFoundError("conversation")
	ErrMessageNotFound = core.NewNotFoundError("message")
	ErrNotParticipant  = core.NewPermissionError("not a participant of this conversation")
	ErrInvalidPair     = errors.New("conversations are only allowed between a student and a teacher")
	ErrSelfMessage     = errors.New("you cannot message yourself")
	ErrNotAContact     = errors.New("recipient is not one of your contacts")
	ErrOnlyStudentsDel = core.NewPermissionError("only the student may delete a conversation")
)

type (
	Repository interface {
		GetConversation(ctx context.Context, id string, exec ...core.DBExecutor) (Conversation, error)
		// GetOrCreateConversation never creates a second conversation for (student, teacher).
		GetOrCreateConversation(ctx context.Context, c Conversation, exec ...core.DBExecutor) (Conversation, bool, error)
		// QueryConversations returns the conversations of a participant, latest activity first.
		QueryConversations(ctx context.Context, userID string, exec ...core.DBExecutor) ([]Conversation, error)
		DeleteConversation(ctx context.Context, id string, exec ...core.DBExecutor) error
		// IncrementUnread adds one to the counter of side and touches the last activity.
		IncrementUnread(ctx context.Context, id string, side Side, at time.Time, exec ...core.DBExecutor) error
		ResetUnread(ctx context.Context, id string, side Side, exec ...core.DBExecutor) error
		// SumUnread totals the unread counters of a user over all their conversations.
		SumUnread(ctx context.Context, userID string, exec ...core.DBExecutor) (int, error)

		CreateMessage(ctx context.Context, m Message, exec ...core.DBExecutor) (Message, error)
		GetMessage(ctx context.Context, id string, exec ...core.DBExecutor) (Message, error)
		// QueryMessages returns one page of messages, oldest first, and the total count.
		QueryMessages(ctx context.Context, conversationID string, page core.Page, exec ...core.DBExecutor) ([]Message, int, error)
		// MarkRead marks as read the messages of a conversation addressed to recipientID.
		MarkRead(ctx context.Context, conversationID, recipientID string, exec ...core.DBExecutor) error
	}

	// RateLimiter counts actions per key within fixed windows.
	// Allow must count and decide atomically: concurrent calls never both pass the last slot.
	RateLimiter interface {
		Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	}

	Limits struct {
		ConversationsPerHour int
		MessagesPerMinute    int
		AttachmentsPerMinute int
		MaxAttachmentSize    int64
	}

	Service struct {
		repo      Repository
		tx        core.TxRunner
		validate  *validator.Validate
		limiter   RateLimiter
		files     core.FileStore
		limits    Limits
		academic  *academic.Service
		users     *user.Service
		notifySvc *notification.Service
	}
)

func LimitsFromConfig(conf *core.Config) Limits {
	return Limits{
		ConversationsPerHour: conf.RateLimit.ConversationsPerHour,
		MessagesPerMinute:    conf.RateLimit.MessagesPerMinute,
		AttachmentsPerMinute: conf.RateLimit.AttachmentsPerMinute,
		MaxAttachmentSize:    conf.Upload.MaxAttachmentSize,
	}
}

func NewService(
	repo Repository,
	tx core.TxRunner,
	validate *validator.Validate,
	limiter RateLimiter,
	files core.FileStore,
	limits Limits,
	academicSvc *academic.Service,
	usrSvc *user.Service,
	notifySvc *notification.Service,
) *Service {
	return &Service{
		repo:      repo,
		tx:        tx,
		validate:  validate,
		limiter:   limiter,
		files:     files,
		limits:    limits,
		academic:  academicSvc,
		users:     usrSvc,
		notifySvc: notifySvc,
	}
}

func (svc *Service) allow(ctx context.Context, userID, action string, limit int, window time.Duration) error {
	if limit <= 0 {
		return nil
	}
	ok, err := svc.limiter.Allow(ctx, action+":"+userID, limit, window)
	if err != nil {
		return errors.Wrap(err, "checking rate limit")
	}
	if !ok {
		return &core.RateLimitError{Action: action}
	}
	return nil
}

// Contacts returns who actor may write to in the given period:
// students see the teachers scheduled in their courses, teachers see the students of the courses they lead or teach.
func (svc *Service) Contacts(ctx context.Context, actor user.User, period core.Period) ([]user.User, error) {
	var ids []string
	switch {
	case actor.IsStudent():
		enrollments, err := svc.academic.Enrollments(ctx, academic.EnrollmentFilter{
			StudentID: actor.ID, Year: period.Year, Status: academic.StatusActive,
		})
		if err != nil {
			return nil, errors.Wrap(err, "querying enrollments")
		}
		courseIDs := make([]string, 0, len(enrollments))
		for _, e := range enrollments {
			courseIDs = append(courseIDs, e.CourseID)
		}
		if len(courseIDs) == 0 {
			return []user.User{}, nil
		}
		slots, err := svc.academic.Schedule(ctx, academic.SlotFilter{CourseIDs: courseIDs})
		if err != nil {
			return nil, errors.Wrap(err, "querying schedule")
		}
		for _, s := range slots {
			if !core.StringInSlice(s.TeacherID, ids) {
				ids = append(ids, s.TeacherID)
			}
		}
	case actor.IsTeacher():
		courseIDs, err := svc.academic.TeacherCourseIDs(ctx, actor.ID)
		if err != nil {
			return nil, err
		}
		if len(courseIDs) == 0 {
			return []user.User{}, nil
		}
		enrollments, err := svc.academic.Enrollments(ctx, academic.EnrollmentFilter{
			CourseIDs: courseIDs, Year: period.Year, Status: academic.StatusActive,
		})
		if err != nil {
			return nil, errors.Wrap(err, "querying enrollments")
		}
		for _, e := range enrollments {
			if !core.StringInSlice(e.StudentID, ids) {
				ids = append(ids, e.StudentID)
			}
		}
	default:
		return []user.User{}, nil
	}

	if len(ids) == 0 {
		return []user.User{}, nil
	}
	active := true
	return svc.users.Query(ctx, &user.QueryFilter{IDs: ids, IsActive: &active}, []core.DBOrdering{
		{Field: "last_name", Ascending: true},
		{Field: "first_name", Ascending: true},
	})
}

// StartConversation returns the conversation between actor and the recipient, creating it when needed.
// created is false when the pair already had one.
func (svc *Service) StartConversation(ctx context.Context, actor user.User, period core.Period, nc NewConversation) (Conversation, bool, error) {
	if err := nc.Validate(svc.validate); err != nil {
		return Conversation{}, false, err
	}
	if nc.RecipientID == actor.ID {
		return Conversation{}, false, core.NewValidationError(ErrSelfMessage, core.FieldError{Field: "recipient_id", Error: ErrSelfMessage.Error()})
	}
	recipient, err := svc.users.GetByID(ctx, nc.RecipientID)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return Conversation{}, false, core.NewFieldError("recipient_id", err.Error())
		}
		return Conversation{}, false, errors.Wrap(err, "finding recipient")
	}

	pair := Conversation{}
	switch {
	case actor.IsStudent() && recipient.IsTeacher():
		pair.StudentID, pair.TeacherID = actor.ID, recipient.ID
	case actor.IsTeacher() && recipient.IsStudent():
		pair.StudentID, pair.TeacherID = recipient.ID, actor.ID
	default:
		return Conversation{}, false, core.NewValidationError(ErrInvalidPair, core.FieldError{Field: "recipient_id", Error: ErrInvalidPair.Error()})
	}

	contacts, err := svc.Contacts(ctx, actor, period)
	if err != nil {
		return Conversation{}, false, err
	}
	isContact := false
	for _, c := range contacts {
		if c.ID == recipient.ID {
			isContact = true
			break
		}
	}
	if !isContact {
		return Conversation{}, false, core.NewValidationError(ErrNotAContact, core.FieldError{Field: "recipient_id", Error: ErrNotAContact.Error()})
	}

	// existing threads are free; only new ones use the hourly cap
	existing, err := svc.repo.QueryConversations(ctx, actor.ID)
	if err != nil {
		return Conversation{}, false, errors.Wrap(err, "querying conversations")
	}
	for _, c := range existing {
		if c.StudentID == pair.StudentID && c.TeacherID == pair.TeacherID {
			return c, false, nil
		}
	}
	if err = svc.allow(ctx, actor.ID, ActionConversation, svc.limits.ConversationsPerHour, time.Hour); err != nil {
		return Conversation{}, false, err
	}

	now := time.Now().UTC()
	pair.LastMessageAt = now
	pair.CreatedAt = now
	c, created, err := svc.repo.GetOrCreateConversation(ctx, pair)
	if err != nil {
		return Conversation{}, false, errors.Wrap(err, "creating conversation")
	}
	return c, created, nil
}

func (svc *Service) getForParticipant(ctx context.Context, actor user.User, id string) (Conversation, error) {
	c, err := svc.repo.GetConversation(ctx, id)
	if err != nil {
		return Conversation{}, err
	}
	if !c.HasParticipant(actor.ID) {
		// do not leak other people's conversations
		return Conversation{}, ErrNotFound
	}
	return c, nil
}

// Send adds a message to a conversation and bumps the unread counter of the other participant.
func (svc *Service) Send(ctx context.Context, actor user.User, conversationID string, nm NewMessage) (Message, error) {
	c, err := svc.getForParticipant(ctx, actor, conversationID)
	if err != nil {
		return Message{}, err
	}
	if err = nm.Validate(svc.validate, svc.limits.MaxAttachmentSize); err != nil {
		return Message{}, err
	}
	if err = svc.allow(ctx, actor.ID, ActionMessage, svc.limits.MessagesPerMinute, time.Minute); err != nil {
		return Message{}, err
	}

	now := time.Now().UTC()
	recipientID := c.Other(actor.ID)
	msg := Message{
		ConversationID: c.ID,
		AuthorID:       actor.ID,
		RecipientID:    recipientID,
		Subject:        nm.Subject,
		Content:        nm.Content,
		CreatedAt:      now,
	}

	if nm.Attachment != nil {
		if err = svc.allow(ctx, actor.ID, ActionAttachment, svc.limits.AttachmentsPerMinute, time.Minute); err != nil {
			return Message{}, err
		}
		path, err := svc.files.Save(ctx, "mensajes/"+now.Format("2006/01"), nm.Attachment.Filename, nm.Attachment.Content)
		if err != nil {
			return Message{}, errors.Wrap(err, "saving attachment")
		}
		msg.Attachment = &Attachment{Name: nm.Attachment.Filename, Path: path, Size: nm.Attachment.Size}
	}

	err = svc.tx.RunInTx(ctx, func(exec core.DBExecutor) error {
		var err error
		if msg, err = svc.repo.CreateMessage(ctx, msg, exec); err != nil {
			return errors.Wrap(err, "creating message")
		}
		if err = svc.repo.IncrementUnread(ctx, c.ID, c.SideOf(recipientID), now, exec); err != nil {
			return errors.Wrap(err, "incrementing unread counter")
		}
		title := "Nuevo mensaje de " + actor.FullName()
		return svc.notifySvc.Notify(ctx, recipientID, notification.KindMessage, title, msg.Subject, "/mensajes/"+c.ID, exec)
	})
	if err != nil {
		if msg.Attachment != nil {
			_ = svc.files.Remove(ctx, msg.Attachment.Path)
		}
		return Message{}, err
	}
	return msg, nil
}

// View returns one page of a conversation and marks it read for actor:
// their unread counter drops to zero and the messages they received are flagged read.
func (svc *Service) View(ctx context.Context, actor user.User, conversationID string, page int) (Thread, error) {
	c, err := svc.getForParticipant(ctx, actor, conversationID)
	if err != nil {
		return Thread{}, err
	}

	err = svc.tx.RunInTx(ctx, func(exec core.DBExecutor) error {
		if err := svc.repo.ResetUnread(ctx, c.ID, c.SideOf(actor.ID), exec); err != nil {
			return errors.Wrap(err, "resetting unread counter")
		}
		return errors.Wrap(svc.repo.MarkRead(ctx, c.ID, actor.ID, exec), "marking messages read")
	})
	if err != nil {
		return Thread{}, err
	}
	if c.SideOf(actor.ID) == StudentSide {
		c.UnreadStudent = 0
	} else {
		c.UnreadTeacher = 0
	}

	if page < 1 {
		page = 1
	}
	msgs, total, err := svc.repo.QueryMessages(ctx, c.ID, core.Page{Number: page, Size: PageSize})
	if err != nil {
		return Thread{}, errors.Wrap(err, "querying messages")
	}
	pages := (total + PageSize - 1) / PageSize
	if pages == 0 {
		pages = 1
	}
	return Thread{Conversation: c, Messages: msgs, Page: page, Pages: pages, Total: total}, nil
}

// List returns the conversations of actor, latest activity first.
func (svc *Service) List(ctx context.Context, actor user.User) ([]ConversationView, error) {
	convs, err := svc.repo.QueryConversations(ctx, actor.ID)
	if err != nil {
		return nil, errors.Wrap(err, "querying conversations")
	}
	ids := make([]string, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.Other(actor.ID))
	}
	contacts, err := svc.users.GetByIDs(ctx, ids...)
	if err != nil {
		return nil, errors.Wrap(err, "querying contacts")
	}
	names := make(map[string]string, len(contacts))
	for _, u := range contacts {
		names[u.ID] = u.FullName()
	}

	views := make([]ConversationView, 0, len(convs))
	for _, c := range convs {
		other := c.Other(actor.ID)
		views = append(views, ConversationView{
			Conversation: c,
			Unread:       c.UnreadFor(actor.ID),
			ContactID:    other,
			ContactName:  names[other],
		})
	}
	return views, nil
}

// UnreadTotal sums the unread counters of actor.
func (svc *Service) UnreadTotal(ctx context.Context, actor user.User) (int, error) {
	return svc.repo.SumUnread(ctx, actor.ID)
}

// Delete removes a conversation; only its student may do it.
func (svc *Service) Delete(ctx context.Context, actor user.User, conversationID string) error {
	c, err := svc.getForParticipant(ctx, actor, conversationID)
	if err != nil {
		return err
	}
	if c.StudentID != actor.ID {
		return ErrOnlyStudentsDel
	}
	return svc.repo.DeleteConversation(ctx, c.ID)
}

// OpenAttachment opens the file attached to a message of a conversation actor takes part in.
func (svc *Service) OpenAttachment(ctx context.Context, actor user.User, conversationID, messageID string) (Attachment, io.ReadCloser, error) {
	c, err := svc.getForParticipant(ctx, actor, conversationID)
	if err != nil {
		return Attachment{}, nil, err
	}
	m, err := svc.repo.GetMessage(ctx, messageID)
	if err != nil {
		return Attachment{}, nil, err
	}
	if m.ConversationID != c.ID || m.Attachment == nil {
		return Attachment{}, nil, ErrMessageNotFound
	}
	rc, err := svc.files.Open(ctx, m.Attachment.Path)
	if err != nil {
		return Attachment{}, nil, errors.Wrap(err, "opening attachment")
	}
	return *m.Attachment, rc, nil
}
