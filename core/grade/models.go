package grade

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/liceojbh/intranet/core"
)

// Evaluation types
const (
	TypeGrade         = "nota"
	TypeExam          = "examen"
	TypeHomework      = "tarea"
	TypeProject       = "proyecto"
	TypeParticipation = "participacion"
)

const (
	MinScore = 1.0
	MaxScore = 7.0

	// PassingScore is the lowest average that is not a failing one.
	PassingScore = 4.0
)

var Types = []string{TypeGrade, TypeExam, TypeHomework, TypeProject, TypeParticipation}

// Grade is one evaluation of a student; (StudentID, SubjectID, CourseID, EvalNumber) is its natural key.
type Grade struct {
	ID          string    `json:"id"`
	StudentID   string    `json:"student_id"`
	SubjectID   string    `json:"subject_id"`
	CourseID    string    `json:"course_id"`
	TeacherID   string    `json:"teacher_id"`
	Type        string    `json:"type"`
	Semester    int       `json:"semester"`
	EvalNumber  int       `json:"eval_number"`
	Score       float64   `json:"score"`
	Description string    `json:"description"`
	Date        time.Time `json:"date"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (g Grade) IsFailing() bool { return g.Score < PassingScore }

type NewGrade struct {
	StudentID   string    `json:"student_id" validate:"required"`
	SubjectID   string    `json:"subject_id" validate:"required"`
	CourseID    string    `json:"course_id" validate:"required"`
	Type        string    `json:"type" validate:"required,oneof=nota examen tarea proyecto participacion"`
	Semester    int       `json:"semester" validate:"omitempty,oneof=1 2"`
	EvalNumber  int       `json:"eval_number" validate:"gte=1,lte=50"`
	Score       float64   `json:"score" validate:"gte=1,lte=7"`
	Description string    `json:"description" validate:"max=200"`
	Date        time.Time `json:"date"`
}

// Validate cleans the payload and fills the defaults before checking it.
func (ng *NewGrade) Validate(validate *validator.Validate) error {
	ng.StudentID = core.CleanString(ng.StudentID)
	ng.SubjectID = core.CleanString(ng.SubjectID)
	ng.CourseID = core.CleanString(ng.CourseID)
	ng.Type = core.CleanString(ng.Type, true /* lower */)
	if ng.Type == "" {
		ng.Type = TypeGrade
	}
	if ng.EvalNumber == 0 {
		ng.EvalNumber = 1
	}
	ng.Description = core.CleanString(ng.Description)
	if ng.Date.IsZero() {
		ng.Date = time.Now().UTC().Truncate(24 * time.Hour)
	}
	if err := validate.Struct(ng); err != nil {
		return err
	}
	ng.Score = core.Round(ng.Score, 2)
	return nil
}

// Filter applies AND on every non-zero field. CourseIDs restricts the result to those courses;
// an empty non-nil slice matches nothing.
type Filter struct {
	StudentID string   `query:"student_id"`
	SubjectID string   `query:"subject_id"`
	CourseID  string   `query:"course_id"`
	Semester  int      `query:"semester"`
	CourseIDs []string `query:"-"`
}

// SubjectSummary is the average of a student in one subject of a course.
type SubjectSummary struct {
	SubjectID string   `json:"subject_id"`
	CourseID  string   `json:"course_id"`
	Count     int      `json:"count"`
	Average   *float64 `json:"average"`
	Grades    []Grade  `json:"grades"`
}
