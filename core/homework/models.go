package homework

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/liceojbh/intranet/core"
	"github.com/liceojbh/intranet/core/user"
)

// Assignment statuses
const (
	StatusDraft     = "borrador"
	StatusPublished = "publicada"
	StatusClosed    = "cerrada"
)

// Assignment types
const (
	TypeHomework = "tarea"
	TypeResearch = "trabajo"
	TypeProject  = "proyecto"
	TypeReading  = "lectura"
	TypeExercise = "ejercicio"
)

// Submission statuses
const (
	SubmissionPending  = "pendiente"
	SubmissionReviewed = "revisada"
	SubmissionApproved = "aprobada"
	SubmissionRejected = "rechazada"
)

const DefaultMaxScore = 100

type Assignment struct {
	ID             string    `json:"id"`
	CourseID       string    `json:"course_id"`
	SubjectID      string    `json:"subject_id"`
	TeacherID      string    `json:"teacher_id"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	Type           string    `json:"type"`
	AssignedOn     time.Time `json:"assigned_on"`
	DueDate        time.Time `json:"due_date"`
	DueTime        string    `json:"due_time"`
	MaxScore       float64   `json:"max_score"`
	AllowLate      bool      `json:"allow_late"`
	Status         string    `json:"status"`
	AttachmentName string    `json:"attachment_name"`
	AttachmentPath string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Deadline is the due date at the due time, or the last instant of the due date when no time is set.
func (a Assignment) Deadline() time.Time {
	day := core.Day(a.DueDate)
	if t, err := time.Parse("15:04", a.DueTime); err == nil {
		return day.Add(time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute)
	}
	return day.Add(24*time.Hour - time.Nanosecond)
}

func (a Assignment) Overdue(now time.Time) bool {
	return now.After(a.Deadline())
}

// AcceptsSubmissions reports whether a student may hand in at now.
func (a Assignment) AcceptsSubmissions(now time.Time) bool {
	return a.Status == StatusPublished && (a.AllowLate || !a.Overdue(now))
}

type NewAssignment struct {
	CourseID    string       `json:"course_id" validate:"required"`
	SubjectID   string       `json:"subject_id" validate:"required"`
	Title       string       `json:"title" validate:"required,max=200"`
	Description string       `json:"description" validate:"required"`
	Type        string       `json:"type" validate:"oneof=tarea trabajo proyecto lectura ejercicio"`
	DueDate     time.Time    `json:"due_date" validate:"required"`
	DueTime     string       `json:"due_time" validate:"omitempty,datetime=15:04"`
	MaxScore    float64      `json:"max_score" validate:"gt=0,lte=999.9"`
	AllowLate   bool         `json:"allow_late"`
	Status      string       `json:"status" validate:"oneof=borrador publicada"`
	Attachment  *core.Upload `json:"-" validate:"-"`
}

func (na *NewAssignment) Validate(validate *validator.Validate, maxSize int64) error {
	na.CourseID = core.CleanString(na.CourseID)
	na.SubjectID = core.CleanString(na.SubjectID)
	na.Title = core.CleanString(na.Title)
	na.Description = core.CleanString(na.Description)
	na.Type = core.CleanString(na.Type, true /* lower */)
	if na.Type == "" {
		na.Type = TypeHomework
	}
	na.Status = core.CleanString(na.Status, true /* lower */)
	if na.Status == "" {
		na.Status = StatusPublished
	}
	na.DueTime = core.CleanString(na.DueTime)
	na.DueDate = core.Day(na.DueDate)
	if na.MaxScore == 0 {
		na.MaxScore = DefaultMaxScore
	}
	if err := validate.Struct(na); err != nil {
		return err
	}
	if na.Attachment != nil {
		return core.ValidateUpload(*na.Attachment, "attachment", maxSize, core.AttachmentExtensions)
	}
	return nil
}

type AssignmentFilter struct {
	// CourseIDs restricts the listing; nil means every course.
	CourseIDs []string `query:"-"`
	CourseID  string   `query:"course"`
	TeacherID string   `query:"-"`
	Status    string   `query:"status"`
}

// AssignmentSummary is an assignment as listed for its teacher.
type AssignmentSummary struct {
	Assignment
	Submissions int `json:"submissions"`
}

type Submission struct {
	ID           string     `json:"id"`
	AssignmentID string     `json:"assignment_id"`
	StudentID    string     `json:"student_id"`
	FileName     string     `json:"file_name"`
	FilePath     string     `json:"-"`
	Size         int64      `json:"size"`
	Comment      string     `json:"comment"`
	SubmittedAt  time.Time  `json:"submitted_at"`
	Late         bool       `json:"late"`
	Score        *float64   `json:"score"`
	Feedback     string     `json:"feedback"`
	ReviewedAt   *time.Time `json:"reviewed_at"`
	Status       string     `json:"status"`
}

type NewSubmission struct {
	Comment string       `json:"comment" validate:"max=2000"`
	File    *core.Upload `json:"-" validate:"-"`
}

func (ns *NewSubmission) Validate(validate *validator.Validate, maxSize int64) error {
	ns.Comment = core.CleanString(ns.Comment)
	if err := validate.Struct(ns); err != nil {
		return err
	}
	if ns.File == nil {
		return core.NewFieldError("file", "this field is required")
	}
	return core.ValidateUpload(*ns.File, "file", maxSize, core.AttachmentExtensions)
}

type SubmissionFilter struct {
	AssignmentID  string
	AssignmentIDs []string
	StudentID     string
}

type Review struct {
	Score    float64 `json:"score" validate:"gte=0"`
	Feedback string  `json:"feedback" validate:"max=2000"`
	Status   string  `json:"status" validate:"oneof=revisada aprobada rechazada"`
}

func (r *Review) Validate(validate *validator.Validate) error {
	r.Feedback = core.CleanString(r.Feedback)
	r.Status = core.CleanString(r.Status, true /* lower */)
	if r.Status == "" {
		r.Status = SubmissionReviewed
	}
	return validate.Struct(r)
}

// Board splits the published assignments of a student by whether they were handed in.
type Board struct {
	Pending      []Assignment `json:"pendientes"`
	Submitted    []Assignment `json:"entregadas"`
	TotalPending int          `json:"total_pendientes"`
}

// Roster is an assignment with its submissions and the active students that have not handed in.
type Roster struct {
	Assignment  Assignment   `json:"assignment"`
	Submissions []Submission `json:"submissions"`
	Pending     []user.User  `json:"pending"`
}
