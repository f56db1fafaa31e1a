package academic

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/liceojbh/intranet/core"
)

// Enrollment statuses
const (
	StatusActive    = "active"
	StatusWithdrawn = "withdrawn"
	StatusGraduated = "graduated"
)

// Week days
const (
	Monday    = "lunes"
	Tuesday   = "martes"
	Wednesday = "miercoles"
	Thursday  = "jueves"
	Friday    = "viernes"
	Saturday  = "sabado"
)

// Annotation kinds & categories
const (
	AnnotationPositive = "positive"
	AnnotationNegative = "negative"
)

var (
	Days = []string{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday}

	AnnotationCategories = []string{"responsabilidad", "respeto", "presentacion", "participacion", "honradez", "otro"}

	// PeriodTimes maps every class period to its start & end time.
	PeriodTimes = map[int][2]string{
		1: {"08:00", "08:45"},
		2: {"08:45", "09:30"},
		3: {"09:45", "10:30"},
		4: {"10:30", "11:15"},
		5: {"11:30", "12:15"},
		6: {"12:15", "13:00"},
		7: {"13:55", "14:40"},
		8: {"14:40", "15:25"},
	}
)

type Subject struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Code        string    `json:"code"`
	WeeklyHours int       `json:"weekly_hours"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

type NewSubject struct {
	Name        string `json:"name" validate:"required,max=100"`
	Code        string `json:"code" validate:"required,max=10,alphanum_"`
	WeeklyHours int    `json:"weekly_hours" validate:"gte=0,lte=20"`
	IsActive    *bool  `json:"is_active"`
}

func (ns *NewSubject) Validate(validate *validator.Validate) error {
	ns.Name = core.CleanString(ns.Name)
	ns.Code = strings.ToUpper(core.CleanString(ns.Code))
	if ns.WeeklyHours == 0 {
		ns.WeeklyHours = 2
	}
	return validate.Struct(ns)
}

type Course struct {
	ID                string    `json:"id"`
	Level             int       `json:"level"`
	Letter            string    `json:"letter"`
	Year              int       `json:"year"`
	HomeroomTeacherID *string   `json:"homeroom_teacher_id"`
	TotalStudents     int       `json:"total_students"`
	IsActive          bool      `json:"is_active"`
	CreatedAt         time.Time `json:"created_at"`
}

// Name is the display name used all over the school, e.g. "3° Medio B".
func (c Course) Name() string {
	return fmt.Sprintf("%d° Medio %s", c.Level, c.Letter)
}

func (c Course) MarshalJSON() ([]byte, error) {
	type course Course
	return json.Marshal(struct {
		course
		Name string `json:"name"`
	}{course(c), c.Name()})
}

// HasHomeroomTeacher reports whether teacherID leads the course.
func (c Course) HasHomeroomTeacher(teacherID string) bool {
	return c.HomeroomTeacherID != nil && *c.HomeroomTeacherID == teacherID
}

type NewCourse struct {
	Level             int     `json:"level" validate:"required,gte=1,lte=4"`
	Letter            string  `json:"letter" validate:"required,len=1,alpha"`
	Year              int     `json:"year" validate:"required,gte=2000,lte=2100"`
	HomeroomTeacherID *string `json:"homeroom_teacher_id"`
	IsActive          *bool   `json:"is_active"`
}

func (nc *NewCourse) Validate(validate *validator.Validate) error {
	nc.Letter = strings.ToUpper(core.CleanString(nc.Letter))
	if nc.HomeroomTeacherID != nil && core.CleanString(*nc.HomeroomTeacherID) == "" {
		nc.HomeroomTeacherID = nil
	}
	return validate.Struct(nc)
}

type CourseFilter struct {
	Year              int      `query:"year"`
	Level             int      `query:"level"`
	ActiveOnly        bool     `query:"active"`
	HomeroomTeacherID string   `query:"-"`
	IDs               []string `query:"-"`
}

type Enrollment struct {
	ID         string    `json:"id"`
	StudentID  string    `json:"student_id"`
	CourseID   string    `json:"course_id"`
	Year       int       `json:"year"`
	Status     string    `json:"status"`
	Average    *float64  `json:"average"`
	EnrolledAt time.Time `json:"enrolled_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (e Enrollment) IsActive() bool { return e.Status == StatusActive }

type NewEnrollment struct {
	StudentID string `json:"student_id" validate:"required"`
	CourseID  string `json:"course_id" validate:"required"`
	Year      int    `json:"year" validate:"omitempty,gte=2000,lte=2100"`
}

func (ne *NewEnrollment) Validate(validate *validator.Validate) error {
	ne.StudentID = core.CleanString(ne.StudentID)
	ne.CourseID = core.CleanString(ne.CourseID)
	return validate.Struct(ne)
}

type EnrollmentStatusUpdate struct {
	Status string `json:"status" validate:"required,oneof=active withdrawn graduated"`
}

func (su *EnrollmentStatusUpdate) Validate(validate *validator.Validate) error {
	su.Status = core.CleanString(su.Status, true /* lower */)
	return validate.Struct(su)
}

// EnrollmentFilter applies AND on every non-zero field.
type EnrollmentFilter struct {
	StudentID  string   `query:"student_id"`
	CourseID   string   `query:"course_id"`
	Year       int      `query:"year"`
	Status     string   `query:"status"`
	StudentIDs []string `query:"-"`
	CourseIDs  []string `query:"-"`
}

type ScheduleSlot struct {
	ID        string `json:"id"`
	CourseID  string `json:"course_id"`
	SubjectID string `json:"subject_id"`
	TeacherID string `json:"teacher_id"`
	Day       string `json:"day"`
	Period    int    `json:"period"`
	Room      string `json:"room"`
	IsActive  bool   `json:"is_active"`
}

// Times returns the start & end time of the slot period.
func (s ScheduleSlot) Times() (string, string) {
	t := PeriodTimes[s.Period]
	return t[0], t[1]
}

func (s ScheduleSlot) MarshalJSON() ([]byte, error) {
	type slot ScheduleSlot
	start, end := s.Times()
	return json.Marshal(struct {
		slot
		StartTime string `json:"start_time"`
		EndTime   string `json:"end_time"`
	}{slot(s), start, end})
}

type NewScheduleSlot struct {
	CourseID  string `json:"course_id" validate:"required"`
	SubjectID string `json:"subject_id" validate:"required"`
	TeacherID string `json:"teacher_id" validate:"required"`
	Day       string `json:"day" validate:"required,oneof=lunes martes miercoles jueves viernes sabado"`
	Period    int    `json:"period" validate:"required,gte=1,lte=8"`
	Room      string `json:"room" validate:"max=50"`
}

func (ns *NewScheduleSlot) Validate(validate *validator.Validate) error {
	ns.Day = core.CleanString(ns.Day, true /* lower */)
	ns.Room = core.CleanString(ns.Room)
	return validate.Struct(ns)
}

type SlotFilter struct {
	CourseID   string
	TeacherID  string
	CourseIDs  []string
	Day        string
	ActiveOnly bool
}

type Annotation struct {
	ID          string    `json:"id"`
	StudentID   string    `json:"student_id"`
	CourseID    string    `json:"course_id"`
	TeacherID   string    `json:"teacher_id"`
	Kind        string    `json:"kind"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	Date        time.Time `json:"date"`
	CreatedAt   time.Time `json:"created_at"`
}

type NewAnnotation struct {
	StudentID   string    `json:"student_id" validate:"required"`
	CourseID    string    `json:"course_id" validate:"required"`
	Kind        string    `json:"kind" validate:"required,oneof=positive negative"`
	Category    string    `json:"category" validate:"required,oneof=responsabilidad respeto presentacion participacion honradez otro"`
	Description string    `json:"description" validate:"required,max=2000"`
	Date        time.Time `json:"date"`
}

func (na *NewAnnotation) Validate(validate *validator.Validate) error {
	na.Kind = core.CleanString(na.Kind, true /* lower */)
	na.Category = core.CleanString(na.Category, true /* lower */)
	if na.Category == "" {
		na.Category = "otro"
	}
	na.Description = core.CleanString(na.Description)
	if na.Date.IsZero() {
		na.Date = time.Now().UTC().Truncate(24 * time.Hour)
	}
	return validate.Struct(na)
}

type AnnotationFilter struct {
	StudentID string
	CourseID  string
	CourseIDs []string
}
