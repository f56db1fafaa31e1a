package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/liceojbh/intranet/core"
	"github.com/liceojbh/intranet/core/messaging"
)

var (
	conversationColumns = []string{"id", "student_id", "teacher_id", "unread_student", "unread_teacher", "last_message_at", "created_at"}
	messageColumns      = []string{
		"id", "conversation_id", "author_id", "recipient_id", "subject", "content",
		"attachment_name", "attachment_path", "attachment_size", "read", "created_at",
	}
)

type conversationRow struct {
	ID            string    `db:"id"`
	StudentID     string    `db:"student_id"`
	TeacherID     string    `db:"teacher_id"`
	UnreadStudent int       `db:"unread_student"`
	UnreadTeacher int       `db:"unread_teacher"`
	LastMessageAt null.Time `db:"last_message_at"`
	CreatedAt     null.Time `db:"created_at"`
}

func (r conversationRow) unrow() messaging.Conversation {
	return messaging.Conversation{
		ID:            r.ID,
		StudentID:     r.StudentID,
		TeacherID:     r.TeacherID,
		UnreadStudent: r.UnreadStudent,
		UnreadTeacher: r.UnreadTeacher,
		LastMessageAt: r.LastMessageAt.Time,
		CreatedAt:     r.CreatedAt.Time,
	}
}

type messageRow struct {
	ID             string    `db:"id"`
	ConversationID string    `db:"conversation_id"`
	AuthorID       string    `db:"author_id"`
	RecipientID    string    `db:"recipient_id"`
	Subject        string    `db:"subject"`
	Content        string    `db:"content"`
	AttachmentName string    `db:"attachment_name"`
	AttachmentPath string    `db:"attachment_path"`
	AttachmentSize int64     `db:"attachment_size"`
	Read           bool      `db:"read"`
	CreatedAt      null.Time `db:"created_at"`
}

func (r messageRow) unrow() messaging.Message {
	m := messaging.Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		AuthorID:       r.AuthorID,
		RecipientID:    r.RecipientID,
		Subject:        r.Subject,
		Content:        r.Content,
		Read:           r.Read,
		CreatedAt:      r.CreatedAt.Time,
	}
	if r.AttachmentPath != "" {
		m.Attachment = &messaging.Attachment{Name: r.AttachmentName, Path: r.AttachmentPath, Size: r.AttachmentSize}
	}
	return m
}

func unreadColumn(side messaging.Side) string {
	if side == messaging.StudentSide {
		return "unread_student"
	}
	return "unread_teacher"
}

type messagingRepository struct {
	repository
}

var _ messaging.Repository = (*messagingRepository)(nil) // interface compliance check

func NewMessagingRepository(db *sqlx.DB) *messagingRepository {
	return &messagingRepository{repository{db: db}}
}

func (repo messagingRepository) GetConversation(ctx context.Context, id string, exec ...core.DBExecutor) (messaging.Conversation, error) {
	q, args, err := psql.Select(conversationColumns...).From("conversations").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return messaging.Conversation{}, errors.Wrap(err, "building query")
	}
	var row conversationRow
	if err = sqlx.GetContext(ctx, repo.getExec(exec), &row, q, args...); err != nil {
		return messaging.Conversation{}, trapNoRowsErr(err, messaging.ErrNotFound, "getting conversation")
	}
	return row.unrow(), nil
}

// GetOrCreateConversation relies on the (student_id, teacher_id) unique key, so two concurrent starts share one row.
func (repo messagingRepository) GetOrCreateConversation(ctx context.Context, c messaging.Conversation, exec ...core.DBExecutor) (messaging.Conversation, bool, error) {
	c.ID = uuid.NewString()
	q, args, err := psql.Insert("conversations").
		Columns(conversationColumns...).
		Values(c.ID, c.StudentID, c.TeacherID, c.UnreadStudent, c.UnreadTeacher, nullTime(c.LastMessageAt), nullTime(c.CreatedAt)).
		Suffix("ON CONFLICT (student_id, teacher_id) DO NOTHING").
		ToSql()
	if err != nil {
		return messaging.Conversation{}, false, errors.Wrap(err, "building insert")
	}
	res, err := repo.getExec(exec).ExecContext(ctx, q, args...)
	if err != nil {
		return messaging.Conversation{}, false, errors.Wrap(err, "inserting conversation")
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return c, true, nil
	}

	q, args, err = psql.Select(conversationColumns...).From("conversations").
		Where(sq.Eq{"student_id": c.StudentID, "teacher_id": c.TeacherID}).
		ToSql()
	if err != nil {
		return messaging.Conversation{}, false, errors.Wrap(err, "building query")
	}
	var row conversationRow
	if err = sqlx.GetContext(ctx, repo.getExec(exec), &row, q, args...); err != nil {
		return messaging.Conversation{}, false, errors.Wrap(err, "getting conversation")
	}
	return row.unrow(), false, nil
}

func (repo messagingRepository) QueryConversations(ctx context.Context, userID string, exec ...core.DBExecutor) ([]messaging.Conversation, error) {
	q, args, err := psql.Select(conversationColumns...).From("conversations").
		Where(sq.Or{sq.Eq{"student_id": userID}, sq.Eq{"teacher_id": userID}}).
		OrderBy("last_message_at DESC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}

	var rows []conversationRow
	if err = sqlx.SelectContext(ctx, repo.getExec(exec), &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying conversations")
	}
	convs := make([]messaging.Conversation, 0, len(rows))
	for _, r := range rows {
		convs = append(convs, r.unrow())
	}
	return convs, nil
}

// DeleteConversation cascades to the messages.
func (repo messagingRepository) DeleteConversation(ctx context.Context, id string, exec ...core.DBExecutor) error {
	q, args, err := psql.Delete("conversations").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return errors.Wrap(err, "building delete")
	}
	res, err := repo.getExec(exec).ExecContext(ctx, q, args...)
	if err != nil {
		return errors.Wrap(err, "deleting conversation")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return messaging.ErrNotFound
	}
	return nil
}

// IncrementUnread adds one in SQL so concurrent sends never lose an increment.
func (repo messagingRepository) IncrementUnread(ctx context.Context, id string, side messaging.Side, at time.Time, exec ...core.DBExecutor) error {
	col := unreadColumn(side)
	q, args, err := psql.Update("conversations").
		Set(col, sq.Expr(col+" + 1")).
		Set("last_message_at", at.UTC()).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "building update")
	}
	res, err := repo.getExec(exec).ExecContext(ctx, q, args...)
	if err != nil {
		return errors.Wrap(err, "incrementing unread counter")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return messaging.ErrNotFound
	}
	return nil
}

func (repo messagingRepository) ResetUnread(ctx context.Context, id string, side messaging.Side, exec ...core.DBExecutor) error {
	q, args, err := psql.Update("conversations").Set(unreadColumn(side), 0).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return errors.Wrap(err, "building update")
	}
	_, err = repo.getExec(exec).ExecContext(ctx, q, args...)
	return errors.Wrap(err, "resetting unread counter")
}

func (repo messagingRepository) SumUnread(ctx context.Context, userID string, exec ...core.DBExecutor) (int, error) {
	b := psql.Select().
		Column(sq.Expr("COALESCE(SUM(CASE WHEN student_id = ? THEN unread_student ELSE unread_teacher END), 0)", userID)).
		From("conversations").
		Where(sq.Or{sq.Eq{"student_id": userID}, sq.Eq{"teacher_id": userID}})
	return count(ctx, repo.getExec(exec), b, "summing unread messages")
}

func (repo messagingRepository) CreateMessage(ctx context.Context, m messaging.Message, exec ...core.DBExecutor) (messaging.Message, error) {
	m.ID = uuid.NewString()
	var name, path string
	var size int64
	if m.Attachment != nil {
		name, path, size = m.Attachment.Name, m.Attachment.Path, m.Attachment.Size
	}
	q, args, err := psql.Insert("messages").
		Columns(messageColumns...).
		Values(m.ID, m.ConversationID, m.AuthorID, m.RecipientID, m.Subject, m.Content, name, path, size, m.Read, nullTime(m.CreatedAt)).
		ToSql()
	if err != nil {
		return messaging.Message{}, errors.Wrap(err, "building insert")
	}
	if _, err = repo.getExec(exec).ExecContext(ctx, q, args...); err != nil {
		return messaging.Message{}, errors.Wrap(err, "inserting message")
	}
	return m, nil
}

func (repo messagingRepository) GetMessage(ctx context.Context, id string, exec ...core.DBExecutor) (messaging.Message, error) {
	q, args, err := psql.Select(messageColumns...).From("messages").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return messaging.Message{}, errors.Wrap(err, "building query")
	}
	var row messageRow
	if err = sqlx.GetContext(ctx, repo.getExec(exec), &row, q, args...); err != nil {
		return messaging.Message{}, trapNoRowsErr(err, messaging.ErrMessageNotFound, "getting message")
	}
	return row.unrow(), nil
}

func (repo messagingRepository) QueryMessages(ctx context.Context, conversationID string, page core.Page, exec ...core.DBExecutor) ([]messaging.Message, int, error) {
	total, err := count(ctx, repo.getExec(exec),
		psql.Select("COUNT(*)").From("messages").Where(sq.Eq{"conversation_id": conversationID}),
		"counting messages")
	if err != nil {
		return nil, 0, err
	}

	b := psql.Select(messageColumns...).From("messages").
		Where(sq.Eq{"conversation_id": conversationID}).
		OrderBy("created_at")
	if page.Size > 0 {
		b = b.Limit(uint64(page.Size)).Offset(uint64(page.Offset()))
	}
	q, args, err := b.ToSql()
	if err != nil {
		return nil, 0, errors.Wrap(err, "building query")
	}

	var rows []messageRow
	if err = sqlx.SelectContext(ctx, repo.getExec(exec), &rows, q, args...); err != nil {
		return nil, 0, errors.Wrap(err, "querying messages")
	}
	msgs := make([]messaging.Message, 0, len(rows))
	for _, r := range rows {
		msgs = append(msgs, r.unrow())
	}
	return msgs, total, nil
}

func (repo messagingRepository) MarkRead(ctx context.Context, conversationID, recipientID string, exec ...core.DBExecutor) error {
	q, args, err := psql.Update("messages").
		Set("read", true).
		Where(sq.Eq{"conversation_id": conversationID, "recipient_id": recipientID, "read": false}).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "building update")
	}
	_, err = repo.getExec(exec).ExecContext(ctx, q, args...)
	return errors.Wrap(err, "marking messages read")
}
