package attendance

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/liceojbh/intranet/core"
)

// Statuses
const (
	StatusPresent = "presente"
	StatusAbsent  = "ausente"
	StatusLate    = "tardanza"
	StatusExcused = "justificado"
)

var Statuses = []string{StatusPresent, StatusAbsent, StatusLate, StatusExcused}

// Record is the attendance of a student in a course on a date; (StudentID, CourseID, Date) is unique.
type Record struct {
	ID          string    `json:"id"`
	StudentID   string    `json:"student_id"`
	CourseID    string    `json:"course_id"`
	Date        time.Time `json:"date"`
	Status      string    `json:"status"`
	Observation string    `json:"observation"`
	RecordedBy  *string   `json:"recorded_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Entry struct {
	StudentID   string `json:"student_id" validate:"required"`
	Status      string `json:"status" validate:"required,oneof=presente ausente tardanza justificado"`
	Observation string `json:"observation" validate:"max=500"`
}

// Sheet is the attendance of a whole course for one date.
type Sheet struct {
	CourseID string    `json:"course_id" validate:"required"`
	Date     time.Time `json:"date" validate:"required"`
	Entries  []Entry   `json:"entries" validate:"required,min=1,dive"`
}

func (s *Sheet) Validate(validate *validator.Validate) error {
	s.CourseID = core.CleanString(s.CourseID)
	s.Date = core.Day(s.Date)
	for i := range s.Entries {
		s.Entries[i].StudentID = core.CleanString(s.Entries[i].StudentID)
		s.Entries[i].Status = core.CleanString(s.Entries[i].Status, true /* lower */)
		s.Entries[i].Observation = core.CleanString(s.Entries[i].Observation)
	}
	return validate.Struct(s)
}

// Filter applies AND on every non-zero field. From & To are inclusive dates.
// CourseIDs restricts the result to those courses; an empty non-nil slice matches nothing.
type Filter struct {
	StudentID  string    `query:"student_id"`
	CourseID   string    `query:"course_id"`
	Date       time.Time `query:"date"`
	From       time.Time `query:"from"`
	To         time.Time `query:"to"`
	StudentIDs []string  `query:"-"`
	CourseIDs  []string  `query:"-"`
}

type Stats struct {
	Total      int     `json:"total"`
	Present    int     `json:"present"`
	Absent     int     `json:"absent"`
	Late       int     `json:"late"`
	Excused    int     `json:"excused"`
	Percentage float64 `json:"percentage"`
}

// ComputeStats counts the records by status. Percentage is the share of "presente" rows,
// rounded to one decimal; it is 100 when there are no records.
func ComputeStats(records []Record) Stats {
	var s Stats
	for _, r := range records {
		s.Total++
		switch r.Status {
		case StatusPresent:
			s.Present++
		case StatusAbsent:
			s.Absent++
		case StatusLate:
			s.Late++
		case StatusExcused:
			s.Excused++
		}
	}
	s.Percentage = core.Percentage(s.Present, s.Total, 100)
	return s
}
