package content

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/liceojbh/intranet/core"
	"github.com/liceojbh/intranet/core/user"
)

// News

type NewsCategory struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

type NewNewsCategory struct {
	Name  string `json:"name" validate:"required,max=100"`
	Color string `json:"color" validate:"omitempty,hexcolor_"`
}

func (nc *NewNewsCategory) Validate(validate *validator.Validate) error {
	nc.Name = core.CleanString(nc.Name)
	nc.Color = core.CleanString(nc.Color)
	if nc.Color == "" {
		nc.Color = "#003366"
	}
	return validate.Struct(nc)
}

type News struct {
	ID                   string    `json:"id"`
	CategoryID           *string   `json:"category_id"`
	Title                string    `json:"title"`
	Summary              string    `json:"summary"`
	Body                 string    `json:"body"`
	Image                string    `json:"image"`
	IsPublic             bool      `json:"is_public"`
	Featured             bool      `json:"featured"`
	Urgent               bool      `json:"urgent"`
	RequiresConfirmation bool      `json:"requires_confirmation"`
	Visits               int       `json:"visits"`
	AuthorID             *string   `json:"author_id"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

type NewNews struct {
	CategoryID           *string `json:"category_id"`
	Title                string  `json:"title" validate:"required,max=200"`
	Summary              string  `json:"summary" validate:"max=300"`
	Body                 string  `json:"body" validate:"required"`
	Image                string  `json:"image" validate:"omitempty,max=500"`
	IsPublic             bool    `json:"is_public"`
	Featured             bool    `json:"featured"`
	Urgent               bool    `json:"urgent"`
	RequiresConfirmation bool    `json:"requires_confirmation"`
}

func (nn *NewNews) Validate(validate *validator.Validate) error {
	nn.Title = core.CleanString(nn.Title)
	nn.Summary = core.CleanString(nn.Summary)
	nn.Body = core.CleanString(nn.Body)
	nn.Image = core.CleanString(nn.Image)
	if nn.CategoryID != nil && *nn.CategoryID == "" {
		nn.CategoryID = nil
	}
	return validate.Struct(nn)
}

// NewsFilter applies AND on every non-zero field; a zero Limit returns every match.
type NewsFilter struct {
	CategoryID string    `query:"category"`
	Search     string    `query:"search"`
	PublicOnly bool      `query:"-"`
	Since      time.Time `query:"-"`
	Limit      int       `query:"limit"`
}

// Confirmation records that a user acknowledged a news item.
type Confirmation struct {
	NewsID      string    `json:"news_id"`
	UserID      string    `json:"user_id"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// Documents

// Document types, derived from the file extension
const (
	DocPDF   = "pdf"
	DocWord  = "doc"
	DocExcel = "xls"
	DocSlide = "ppt"
	DocImage = "img"
	DocZip   = "zip"
	DocOther = "otro"
)

var extensionTypes = map[string]string{
	".pdf":  DocPDF,
	".doc":  DocWord,
	".docx": DocWord,
	".odt":  DocWord,
	".xls":  DocExcel,
	".xlsx": DocExcel,
	".ods":  DocExcel,
	".csv":  DocExcel,
	".ppt":  DocSlide,
	".pptx": DocSlide,
	".odp":  DocSlide,
	".jpg":  DocImage,
	".jpeg": DocImage,
	".png":  DocImage,
	".gif":  DocImage,
	".zip":  DocZip,
	".rar":  DocZip,
	".7z":   DocZip,
}

// DocumentType maps a file name to one of the document types.
func DocumentType(filename string) string {
	if t, ok := extensionTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return t
	}
	return DocOther
}

// Visibilities
const (
	VisibilityPublic   = "publico"
	VisibilityPrivate  = "privado"
	VisibilityStudents = "solo_estudiantes"
	VisibilityTeachers = "solo_profesores"
	VisibilityStaff    = "solo_administrativos"
)

// VisibilitiesFor returns the document visibilities a user may list; nil actor is an anonymous visitor.
func VisibilitiesFor(actor *user.User) []string {
	if actor == nil {
		return []string{VisibilityPublic}
	}
	switch {
	case actor.IsStaff():
		return []string{VisibilityPublic, VisibilityPrivate, VisibilityStudents, VisibilityTeachers, VisibilityStaff}
	case actor.IsTeacher():
		return []string{VisibilityPublic, VisibilityTeachers}
	case actor.IsStudent():
		return []string{VisibilityPublic, VisibilityStudents}
	}
	return []string{VisibilityPublic}
}

type DocumentCategory struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	SortOrder int    `json:"sort_order"`
}

type NewDocumentCategory struct {
	Name      string `json:"name" validate:"required,max=100"`
	SortOrder int    `json:"sort_order" validate:"gte=0"`
}

func (nc *NewDocumentCategory) Validate(validate *validator.Validate) error {
	nc.Name = core.CleanString(nc.Name)
	return validate.Struct(nc)
}

type Document struct {
	ID          string    `json:"id"`
	CategoryID  *string   `json:"category_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Type        string    `json:"type"`
	Visibility  string    `json:"visibility"`
	Tags        []string  `json:"tags"`
	FileName    string    `json:"file_name"`
	FilePath    string    `json:"-"`
	Size        int64     `json:"size"`
	Version     string    `json:"version"`
	IsOfficial  bool      `json:"is_official"`
	IsPublished bool      `json:"is_published"`
	Downloads   int       `json:"downloads"`
	UploadedBy  *string   `json:"uploaded_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (d Document) MarshalJSON() ([]byte, error) {
	type doc Document
	return json.Marshal(struct {
		doc
		HumanSize string `json:"human_size"`
	}{doc(d), core.HumanSize(d.Size)})
}

type NewDocument struct {
	CategoryID  *string      `json:"category_id"`
	Title       string       `json:"title" validate:"required,max=200"`
	Description string       `json:"description"`
	Visibility  string       `json:"visibility" validate:"required,oneof=publico privado solo_estudiantes solo_profesores solo_administrativos"`
	Tags        []string     `json:"tags" validate:"max=10,dive,max=30"`
	Version     string       `json:"version" validate:"max=20"`
	IsOfficial  bool         `json:"is_official"`
	IsPublished bool         `json:"is_published"`
	File        *core.Upload `json:"-" validate:"-"`
}

func (nd *NewDocument) Validate(validate *validator.Validate, maxSize int64) error {
	nd.Title = core.CleanString(nd.Title)
	nd.Description = core.CleanString(nd.Description)
	nd.Visibility = core.CleanString(nd.Visibility, true /* lower */)
	if nd.Visibility == "" {
		nd.Visibility = VisibilityPublic
	}
	nd.Version = core.CleanString(nd.Version)
	if nd.Version == "" {
		nd.Version = "1.0"
	}
	tags := make([]string, 0, len(nd.Tags))
	for _, t := range nd.Tags {
		if t = core.CleanString(t, true /* lower */); t != "" && !core.StringInSlice(t, tags) {
			tags = append(tags, t)
		}
	}
	nd.Tags = tags
	if nd.CategoryID != nil && *nd.CategoryID == "" {
		nd.CategoryID = nil
	}
	if err := validate.Struct(nd); err != nil {
		return err
	}

	if nd.File == nil {
		return core.NewFieldError("file", "this field is required")
	}
	if !nd.File.SafeFilename() {
		return core.NewFieldError("file", "invalid file name")
	}
	if nd.File.Size > maxSize {
		return core.NewFieldError("file", "file is too large")
	}
	return nil
}

type DocumentFilter struct {
	CategoryID   string   `query:"category"`
	Type         string   `query:"type"`
	Search       string   `query:"search"`
	Visibilities []string `query:"-"`
	// PublishedOnly hides drafts; set for everyone but staff.
	PublishedOnly bool `query:"-"`
}

type Download struct {
	ID           string    `json:"id"`
	DocumentID   string    `json:"document_id"`
	UserID       *string   `json:"user_id"`
	IP           string    `json:"ip"`
	DownloadedAt time.Time `json:"downloaded_at"`
}

// Circulars

// Urgencies
const (
	UrgencyNormal    = "normal"
	UrgencyImportant = "importante"
	UrgencyUrgent    = "urgente"
)

// Audiences
const (
	AudienceAll       = "todos"
	AudienceGuardians = "apoderados"
	AudienceStudents  = "estudiantes"
)

type Circular struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	Urgency     string     `json:"urgency"`
	Audience    string     `json:"audience"`
	CourseIDs   []string   `json:"course_ids"`
	ExpiresOn   *time.Time `json:"expires_on"`
	IsActive    bool       `json:"is_active"`
	ReadCount   int        `json:"read_count"`
	AuthorID    *string    `json:"author_id"`
	PublishedAt time.Time  `json:"published_at"`
}

// IsCurrent reports whether the circular is active and not expired on day t.
func (c Circular) IsCurrent(t time.Time) bool {
	if !c.IsActive {
		return false
	}
	return c.ExpiresOn == nil || !c.ExpiresOn.Before(core.Day(t))
}

// Reaches reports whether the audience of the circular includes a user with the given role.
func (c Circular) Reaches(role string) bool {
	switch c.Audience {
	case AudienceGuardians:
		return role == user.RoleGuardian
	case AudienceStudents:
		return role == user.RoleStudent
	}
	return true
}

type NewCircular struct {
	Title     string     `json:"title" validate:"required,max=200"`
	Body      string     `json:"body" validate:"required"`
	Urgency   string     `json:"urgency" validate:"required,oneof=normal importante urgente"`
	Audience  string     `json:"audience" validate:"required,oneof=todos apoderados estudiantes"`
	CourseIDs []string   `json:"course_ids" validate:"dive,required"`
	ExpiresOn *time.Time `json:"expires_on"`
}

func (nc *NewCircular) Validate(validate *validator.Validate) error {
	nc.Title = core.CleanString(nc.Title)
	nc.Body = core.CleanString(nc.Body)
	nc.Urgency = core.CleanString(nc.Urgency, true /* lower */)
	if nc.Urgency == "" {
		nc.Urgency = UrgencyNormal
	}
	nc.Audience = core.CleanString(nc.Audience, true /* lower */)
	if nc.Audience == "" {
		nc.Audience = AudienceAll
	}
	if nc.ExpiresOn != nil {
		d := core.Day(*nc.ExpiresOn)
		nc.ExpiresOn = &d
	}
	return validate.Struct(nc)
}

type CircularFilter struct {
	// CurrentOn keeps the circulars active and not expired on that day.
	CurrentOn time.Time
	// CourseIDs keeps general circulars plus the ones targeting those courses; nil means no restriction.
	CourseIDs []string
	Audiences []string
}

// Events

// Event types
const (
	EventAcademic   = "academico"
	EventHoliday    = "festivo"
	EventMeeting    = "reunion"
	EventEvaluation = "evaluacion"
	EventDayOff     = "feriado"
	EventActivity   = "actividad"
	EventOther      = "otro"
)

var EventColors = map[string]string{
	EventAcademic:   "#007bff",
	EventHoliday:    "#28a745",
	EventMeeting:    "#ffc107",
	EventEvaluation: "#dc3545",
	EventDayOff:     "#6f42c1",
	EventActivity:   "#17a2b8",
	EventOther:      "#6c757d",
}

type Event struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Type        string     `json:"type"`
	StartDate   time.Time  `json:"start_date"`
	EndDate     *time.Time `json:"end_date"`
	StartTime   string     `json:"start_time"`
	EndTime     string     `json:"end_time"`
	AllDay      bool       `json:"all_day"`
	Location    string     `json:"location"`
	CourseID    *string    `json:"course_id"`
	CreatedBy   *string    `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (e Event) Color() string {
	if c, ok := EventColors[e.Type]; ok {
		return c
	}
	return EventColors[EventOther]
}

// CalendarEvent is the event shape expected by FullCalendar.
type CalendarEvent struct {
	ID            string                 `json:"id"`
	Title         string                 `json:"title"`
	Start         string                 `json:"start"`
	End           string                 `json:"end,omitempty"`
	AllDay        bool                   `json:"allDay"`
	Color         string                 `json:"color"`
	ExtendedProps map[string]interface{} `json:"extendedProps"`
}

func (e Event) Calendar() CalendarEvent {
	ce := CalendarEvent{
		ID:     e.ID,
		Title:  e.Title,
		AllDay: e.AllDay,
		Color:  e.Color(),
		ExtendedProps: map[string]interface{}{
			"type":        e.Type,
			"location":    e.Location,
			"description": e.Description,
		},
	}
	const day = "2006-01-02"
	if e.AllDay {
		ce.Start = e.StartDate.Format(day)
		if e.EndDate != nil {
			// FullCalendar treats the end of all-day events as exclusive
			ce.End = e.EndDate.AddDate(0, 0, 1).Format(day)
		}
		return ce
	}
	ce.Start = e.StartDate.Format(day) + "T" + e.StartTime
	if e.EndTime != "" {
		end := e.StartDate
		if e.EndDate != nil {
			end = *e.EndDate
		}
		ce.End = end.Format(day) + "T" + e.EndTime
	}
	return ce
}

type NewEvent struct {
	Title       string     `json:"title" validate:"required,max=200"`
	Description string     `json:"description"`
	Type        string     `json:"type" validate:"required,oneof=academico festivo reunion evaluacion feriado actividad otro"`
	StartDate   time.Time  `json:"start_date" validate:"required"`
	EndDate     *time.Time `json:"end_date"`
	StartTime   string     `json:"start_time" validate:"required_without=AllDay,omitempty,datetime=15:04"`
	EndTime     string     `json:"end_time" validate:"omitempty,datetime=15:04"`
	AllDay      bool       `json:"all_day"`
	Location    string     `json:"location" validate:"max=200"`
	CourseID    *string    `json:"course_id"`
}

func (ne *NewEvent) Validate(validate *validator.Validate) error {
	ne.Title = core.CleanString(ne.Title)
	ne.Description = core.CleanString(ne.Description)
	ne.Type = core.CleanString(ne.Type, true /* lower */)
	if ne.Type == "" {
		ne.Type = EventOther
	}
	ne.Location = core.CleanString(ne.Location)
	ne.StartTime = core.CleanString(ne.StartTime)
	ne.EndTime = core.CleanString(ne.EndTime)
	if ne.CourseID != nil && *ne.CourseID == "" {
		ne.CourseID = nil
	}
	if !ne.StartDate.IsZero() {
		ne.StartDate = core.Day(ne.StartDate)
	}
	if ne.EndDate != nil {
		d := core.Day(*ne.EndDate)
		ne.EndDate = &d
	}
	if ne.AllDay {
		ne.StartTime, ne.EndTime = "", ""
	}
	if err := validate.Struct(ne); err != nil {
		return err
	}
	if ne.EndDate != nil && ne.EndDate.Before(ne.StartDate) {
		return core.NewFieldError("end_date", "end date cannot be before start date")
	}
	return nil
}

type EventFilter struct {
	From time.Time
	To   time.Time
	// CourseIDs keeps school-wide events plus the ones of those courses; nil means no restriction.
	CourseIDs []string
}
