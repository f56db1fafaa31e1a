package messaging

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/liceojbh/intranet/core"
)

const (
	MaxContentLen = 1000
	MaxSubjectLen = 150
	PageSize      = 50
)

// Conversation is the single thread between a student and a teacher.
// Each side has its own unread counter.
type Conversation struct {
	ID            string    `json:"id"`
	StudentID     string    `json:"student_id"`
	TeacherID     string    `json:"teacher_id"`
	UnreadStudent int       `json:"unread_student"`
	UnreadTeacher int       `json:"unread_teacher"`
	LastMessageAt time.Time `json:"last_message_at"`
	CreatedAt     time.Time `json:"created_at"`
}

func (c Conversation) HasParticipant(userID string) bool {
	return c.StudentID == userID || c.TeacherID == userID
}

// Other returns the ID of the participant that is not userID.
func (c Conversation) Other(userID string) string {
	if c.StudentID == userID {
		return c.TeacherID
	}
	return c.StudentID
}

// UnreadFor returns the unread counter of a participant.
func (c Conversation) UnreadFor(userID string) int {
	if c.StudentID == userID {
		return c.UnreadStudent
	}
	if c.TeacherID == userID {
		return c.UnreadTeacher
	}
	return 0
}

// Side names the unread counter of a participant.
type Side string

const (
	StudentSide Side = "student"
	TeacherSide Side = "teacher"
)

// SideOf returns the side of userID in the conversation.
func (c Conversation) SideOf(userID string) Side {
	if c.StudentID == userID {
		return StudentSide
	}
	return TeacherSide
}

type Attachment struct {
	Name string `json:"name"`
	Path string `json:"-"`
	Size int64  `json:"size"`
}

type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	AuthorID       string      `json:"author_id"`
	RecipientID    string      `json:"recipient_id"`
	Subject        string      `json:"subject"`
	Content        string      `json:"content"`
	Attachment     *Attachment `json:"attachment"`
	Read           bool        `json:"read"`
	CreatedAt      time.Time   `json:"created_at"`
}

type NewConversation struct {
	RecipientID string `json:"recipient_id" validate:"required"`
}

func (nc *NewConversation) Validate(validate *validator.Validate) error {
	nc.RecipientID = core.CleanString(nc.RecipientID)
	return validate.Struct(nc)
}

type NewMessage struct {
	Subject    string       `json:"subject" validate:"max=150"`
	Content    string       `json:"content" validate:"required,max=1000"`
	Attachment *core.Upload `json:"-" validate:"-"`
}

func (nm *NewMessage) Validate(validate *validator.Validate, maxSize int64) error {
	nm.Subject = core.CleanString(nm.Subject)
	nm.Content = core.CleanString(nm.Content)
	if err := validate.Struct(nm); err != nil {
		return err
	}
	if nm.Attachment != nil {
		return core.ValidateUpload(*nm.Attachment, "attachment", maxSize, core.AttachmentExtensions)
	}
	return nil
}

// ConversationView is a conversation as listed for one of its participants.
type ConversationView struct {
	Conversation
	Unread      int    `json:"unread"`
	ContactID   string `json:"contact_id"`
	ContactName string `json:"contact_name"`
}

// Thread is a conversation with one page of its messages.
type Thread struct {
	Conversation Conversation `json:"conversation"`
	Messages     []Message    `json:"messages"`
	Page         int          `json:"page"`
	Pages        int          `json:"pages"`
	Total        int          `json:"total"`
}
