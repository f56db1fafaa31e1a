package academic

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/liceojbh/intranet/core"
	"github.com/liceojbh/intranet/core/user"
)

var (
	// errors
	ErrSubjectNotFound    = core.NewNotFoundError("subject")
	ErrCourseNotFound     = core.NewNotFoundError("course")
	ErrEnrollmentNotFound = core.NewNotFoundError("enrollment")
	ErrSlotNotFound       = core.NewNotFoundError("schedule slot")
	ErrPeriodNotSet       = core.NewNotFoundError("academic period")

	ErrSubjectCodeExists = errors.New("a subject with this code already exists")
	ErrCourseExists      = errors.New("this course already exists for that year")
	ErrSlotTaken         = errors.New("this course already has a class in that period")
	ErrNotATeacher       = errors.New("user is not a teacher")
	ErrNotAStudent       = errors.New("user is not a student")
	ErrNotEnrolled       = errors.New("student is not enrolled in this course")
)

type (
	Repository interface {
		GetPeriod(ctx context.Context, exec ...core.DBExecutor) (core.Period, error)
		SetPeriod(ctx context.Context, period core.Period, exec ...core.DBExecutor) error

		// CreateSubject returns ErrSubjectCodeExists when the code is taken.
		CreateSubject(ctx context.Context, sub Subject, exec ...core.DBExecutor) (Subject, error)
		UpdateSubject(ctx context.Context, sub Subject, exec ...core.DBExecutor) (Subject, error)
		GetSubject(ctx context.Context, id string, exec ...core.DBExecutor) (Subject, error)
		QuerySubjects(ctx context.Context, activeOnly bool, exec ...core.DBExecutor) ([]Subject, error)

		// CreateCourse returns ErrCourseExists when (level, letter, year) is taken.
		CreateCourse(ctx context.Context, c Course, exec ...core.DBExecutor) (Course, error)
		UpdateCourse(ctx context.Context, c Course, exec ...core.DBExecutor) (Course, error)
		GetCourse(ctx context.Context, id string, exec ...core.DBExecutor) (Course, error)
		// QueryCourses orders by year desc, level, letter.
		QueryCourses(ctx context.Context, filter CourseFilter, exec ...core.DBExecutor) ([]Course, error)

		// GetOrCreateEnrollment never creates a second row for (student, course, year).
		GetOrCreateEnrollment(ctx context.Context, e Enrollment, exec ...core.DBExecutor) (Enrollment, bool, error)
		UpdateEnrollment(ctx context.Context, e Enrollment, exec ...core.DBExecutor) (Enrollment, error)
		GetEnrollment(ctx context.Context, id string, exec ...core.DBExecutor) (Enrollment, error)
		// QueryEnrollments orders by enrollment date.
		QueryEnrollments(ctx context.Context, filter EnrollmentFilter, exec ...core.DBExecutor) ([]Enrollment, error)
		CountEnrollments(ctx context.Context, filter EnrollmentFilter, exec ...core.DBExecutor) (int, error)

		// CreateSlot returns ErrSlotTaken when (course, day, period) is taken.
		CreateSlot(ctx context.Context, slot ScheduleSlot, exec ...core.DBExecutor) (ScheduleSlot, error)
		GetSlot(ctx context.Context, id string, exec ...core.DBExecutor) (ScheduleSlot, error)
		DeleteSlot(ctx context.Context, id string, exec ...core.DBExecutor) error
		// QuerySlots orders by day of the week then period.
		QuerySlots(ctx context.Context, filter SlotFilter, exec ...core.DBExecutor) ([]ScheduleSlot, error)

		CreateAnnotation(ctx context.Context, a Annotation, exec ...core.DBExecutor) (Annotation, error)
		// QueryAnnotations orders by date, newest first.
		QueryAnnotations(ctx context.Context, filter AnnotationFilter, exec ...core.DBExecutor) ([]Annotation, error)
	}

	Service struct {
		repo  Repository
		users *user.Service
	}
)

func NewService(repo Repository, users *user.Service) *Service {
	return &Service{repo: repo, users: users}
}

// Period

// CurrentPeriod returns the persisted academic period, or the calendar default when none was ever set.
func (svc *Service) CurrentPeriod(ctx context.Context) (core.Period, error) {
	p, err := svc.repo.GetPeriod(ctx)
	if err != nil {
		if errors.Cause(err) == ErrPeriodNotSet {
			return core.DefaultPeriod(time.Now()), nil
		}
		return core.Period{}, errors.Wrap(err, "getting academic period")
	}
	return p, nil
}

func (svc *Service) SetPeriod(ctx context.Context, p core.Period) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return svc.repo.SetPeriod(ctx, p)
}

// Subjects

func (svc *Service) CreateSubject(ctx context.Context, ns NewSubject) (Subject, error) {
	sub := Subject{
		Name:        ns.Name,
		Code:        ns.Code,
		WeeklyHours: ns.WeeklyHours,
		IsActive:    ns.IsActive == nil || *ns.IsActive,
		CreatedAt:   time.Now().UTC(),
	}
	sub, err := svc.repo.CreateSubject(ctx, sub)
	if errors.Cause(err) == ErrSubjectCodeExists {
		return Subject{}, core.NewValidationError(err, core.FieldError{Field: "code", Error: err.Error()})
	}
	return sub, errors.Wrap(err, "creating subject")
}

func (svc *Service) UpdateSubject(ctx context.Context, sub Subject, ns NewSubject) (Subject, error) {
	sub.Name = ns.Name
	sub.Code = ns.Code
	sub.WeeklyHours = ns.WeeklyHours
	if ns.IsActive != nil {
		sub.IsActive = *ns.IsActive
	}
	sub, err := svc.repo.UpdateSubject(ctx, sub)
	if errors.Cause(err) == ErrSubjectCodeExists {
		return Subject{}, core.NewValidationError(err, core.FieldError{Field: "code", Error: err.Error()})
	}
	return sub, err
}

func (svc *Service) GetSubject(ctx context.Context, id string) (Subject, error) {
	return svc.repo.GetSubject(ctx, id)
}

func (svc *Service) Subjects(ctx context.Context, activeOnly bool) ([]Subject, error) {
	return svc.repo.QuerySubjects(ctx, activeOnly)
}

// Courses

func (svc *Service) checkTeacher(ctx context.Context, field string, id *string) error {
	if id == nil {
		return nil
	}
	usr, err := svc.users.GetByID(ctx, *id)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return core.NewFieldError(field, err.Error())
		}
		return errors.Wrap(err, "finding teacher")
	}
	if !usr.IsTeacher() {
		return core.NewValidationError(ErrNotATeacher, core.FieldError{Field: field, Error: ErrNotATeacher.Error()})
	}
	return nil
}

func (svc *Service) CreateCourse(ctx context.Context, nc NewCourse) (Course, error) {
	if err := svc.checkTeacher(ctx, "homeroom_teacher_id", nc.HomeroomTeacherID); err != nil {
		return Course{}, err
	}
	c := Course{
		Level:             nc.Level,
		Letter:            nc.Letter,
		Year:              nc.Year,
		HomeroomTeacherID: nc.HomeroomTeacherID,
		IsActive:          nc.IsActive == nil || *nc.IsActive,
		CreatedAt:         time.Now().UTC(),
	}
	c, err := svc.repo.CreateCourse(ctx, c)
	if errors.Cause(err) == ErrCourseExists {
		return Course{}, core.NewValidationError(err, core.FieldError{Field: "letter", Error: err.Error()})
	}
	return c, errors.Wrap(err, "creating course")
}

func (svc *Service) UpdateCourse(ctx context.Context, c Course, nc NewCourse) (Course, error) {
	if err := svc.checkTeacher(ctx, "homeroom_teacher_id", nc.HomeroomTeacherID); err != nil {
		return Course{}, err
	}
	c.Level = nc.Level
	c.Letter = nc.Letter
	c.Year = nc.Year
	c.HomeroomTeacherID = nc.HomeroomTeacherID
	if nc.IsActive != nil {
		c.IsActive = *nc.IsActive
	}
	c, err := svc.repo.UpdateCourse(ctx, c)
	if errors.Cause(err) == ErrCourseExists {
		return Course{}, core.NewValidationError(err, core.FieldError{Field: "letter", Error: err.Error()})
	}
	return c, err
}

func (svc *Service) GetCourse(ctx context.Context, id string, exec ...core.DBExecutor) (Course, error) {
	return svc.repo.GetCourse(ctx, id, exec...)
}

func (svc *Service) Courses(ctx context.Context, filter CourseFilter) ([]Course, error) {
	return svc.repo.QueryCourses(ctx, filter)
}

// CoursesByIDs returns the courses indexed by ID.
func (svc *Service) CoursesByIDs(ctx context.Context, ids ...string) (map[string]Course, error) {
	courses := make(map[string]Course, len(ids))
	if len(ids) == 0 {
		return courses, nil
	}
	list, err := svc.repo.QueryCourses(ctx, CourseFilter{IDs: ids})
	if err != nil {
		return nil, errors.Wrap(err, "querying courses")
	}
	for _, c := range list {
		courses[c.ID] = c
	}
	return courses, nil
}

// FindCourseByName matches a display name like "1° Medio A" (case-insensitive) within a year.
func (svc *Service) FindCourseByName(ctx context.Context, name string, year int, exec ...core.DBExecutor) (Course, error) {
	courses, err := svc.repo.QueryCourses(ctx, CourseFilter{Year: year}, exec...)
	if err != nil {
		return Course{}, errors.Wrap(err, "querying courses")
	}
	name = strings.ToLower(core.CleanString(name))
	for _, c := range courses {
		if strings.ToLower(c.Name()) == name {
			return c, nil
		}
	}
	return Course{}, ErrCourseNotFound
}

// RecountStudents refreshes the denormalized TotalStudents from the active enrollments.
func (svc *Service) RecountStudents(ctx context.Context, courseID string) (Course, error) {
	c, err := svc.repo.GetCourse(ctx, courseID)
	if err != nil {
		return Course{}, err
	}
	n, err := svc.repo.CountEnrollments(ctx, EnrollmentFilter{CourseID: c.ID, Status: StatusActive})
	if err != nil {
		return Course{}, errors.Wrap(err, "counting enrollments")
	}
	c.TotalStudents = n
	return svc.repo.UpdateCourse(ctx, c)
}

// TeacherCourseIDs returns the courses a teacher leads or has active schedule slots in.
func (svc *Service) TeacherCourseIDs(ctx context.Context, teacherID string) ([]string, error) {
	led, err := svc.repo.QueryCourses(ctx, CourseFilter{HomeroomTeacherID: teacherID})
	if err != nil {
		return nil, errors.Wrap(err, "querying homeroom courses")
	}
	slots, err := svc.repo.QuerySlots(ctx, SlotFilter{TeacherID: teacherID, ActiveOnly: true})
	if err != nil {
		return nil, errors.Wrap(err, "querying schedule slots")
	}

	seen := make(map[string]bool, len(led)+len(slots))
	ids := make([]string, 0, len(led)+len(slots))
	for _, c := range led {
		if !seen[c.ID] {
			seen[c.ID] = true
			ids = append(ids, c.ID)
		}
	}
	for _, s := range slots {
		if !seen[s.CourseID] {
			seen[s.CourseID] = true
			ids = append(ids, s.CourseID)
		}
	}
	return ids, nil
}

// StudentCourseIDs returns the courses a student is enrolled in; activeOnly drops withdrawn & graduated rows.
func (svc *Service) StudentCourseIDs(ctx context.Context, studentID string, activeOnly bool) ([]string, error) {
	filter := EnrollmentFilter{StudentID: studentID}
	if activeOnly {
		filter.Status = StatusActive
	}
	enrollments, err := svc.repo.QueryEnrollments(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "querying enrollments")
	}
	ids := make([]string, 0, len(enrollments))
	for _, e := range enrollments {
		ids = append(ids, e.CourseID)
	}
	return ids, nil
}

// Enrollments

// Enroll gets or creates the enrollment of a student in a course; the year defaults to the course year.
// An existing withdrawn enrollment is reactivated.
func (svc *Service) Enroll(ctx context.Context, ne NewEnrollment, exec ...core.DBExecutor) (Enrollment, bool, error) {
	student, err := svc.users.GetByID(ctx, ne.StudentID, exec...)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return Enrollment{}, false, core.NewFieldError("student_id", err.Error())
		}
		return Enrollment{}, false, errors.Wrap(err, "finding student")
	}
	if !student.IsStudent() {
		return Enrollment{}, false, core.NewValidationError(ErrNotAStudent, core.FieldError{Field: "student_id", Error: ErrNotAStudent.Error()})
	}
	c, err := svc.repo.GetCourse(ctx, ne.CourseID, exec...)
	if err != nil {
		if errors.Cause(err) == ErrCourseNotFound {
			return Enrollment{}, false, core.NewFieldError("course_id", err.Error())
		}
		return Enrollment{}, false, errors.Wrap(err, "finding course")
	}

	year := ne.Year
	if year == 0 {
		year = c.Year
	}
	now := time.Now().UTC()
	e, created, err := svc.repo.GetOrCreateEnrollment(ctx, Enrollment{
		StudentID:  student.ID,
		CourseID:   c.ID,
		Year:       year,
		Status:     StatusActive,
		EnrolledAt: now,
		UpdatedAt:  now,
	}, exec...)
	if err != nil {
		return Enrollment{}, false, errors.Wrap(err, "creating enrollment")
	}
	if !created && e.Status == StatusWithdrawn {
		e.Status = StatusActive
		e.UpdatedAt = now
		if e, err = svc.repo.UpdateEnrollment(ctx, e, exec...); err != nil {
			return Enrollment{}, false, errors.Wrap(err, "reactivating enrollment")
		}
	}
	return e, created, nil
}

func (svc *Service) GetEnrollment(ctx context.Context, id string) (Enrollment, error) {
	return svc.repo.GetEnrollment(ctx, id)
}

func (svc *Service) SetEnrollmentStatus(ctx context.Context, e Enrollment, status string) (Enrollment, error) {
	e.Status = status
	e.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateEnrollment(ctx, e)
}

func (svc *Service) Enrollments(ctx context.Context, filter EnrollmentFilter) ([]Enrollment, error) {
	return svc.repo.QueryEnrollments(ctx, filter)
}

// ActiveStudents returns the students actively enrolled in a course, ordered by last name.
func (svc *Service) ActiveStudents(ctx context.Context, courseID string) ([]user.User, error) {
	enrollments, err := svc.repo.QueryEnrollments(ctx, EnrollmentFilter{CourseID: courseID, Status: StatusActive})
	if err != nil {
		return nil, errors.Wrap(err, "querying enrollments")
	}
	ids := make([]string, 0, len(enrollments))
	for _, e := range enrollments {
		ids = append(ids, e.StudentID)
	}
	if len(ids) == 0 {
		return []user.User{}, nil
	}
	return svc.users.Query(ctx, &user.QueryFilter{IDs: ids}, []core.DBOrdering{
		{Field: "last_name", Ascending: true},
		{Field: "first_name", Ascending: true},
	})
}

// Schedule

func (svc *Service) CreateSlot(ctx context.Context, ns NewScheduleSlot) (ScheduleSlot, error) {
	if _, err := svc.repo.GetCourse(ctx, ns.CourseID); err != nil {
		if errors.Cause(err) == ErrCourseNotFound {
			return ScheduleSlot{}, core.NewFieldError("course_id", err.Error())
		}
		return ScheduleSlot{}, errors.Wrap(err, "finding course")
	}
	if _, err := svc.repo.GetSubject(ctx, ns.SubjectID); err != nil {
		if errors.Cause(err) == ErrSubjectNotFound {
			return ScheduleSlot{}, core.NewFieldError("subject_id", err.Error())
		}
		return ScheduleSlot{}, errors.Wrap(err, "finding subject")
	}
	if err := svc.checkTeacher(ctx, "teacher_id", &ns.TeacherID); err != nil {
		return ScheduleSlot{}, err
	}

	slot, err := svc.repo.CreateSlot(ctx, ScheduleSlot{
		CourseID:  ns.CourseID,
		SubjectID: ns.SubjectID,
		TeacherID: ns.TeacherID,
		Day:       ns.Day,
		Period:    ns.Period,
		Room:      ns.Room,
		IsActive:  true,
	})
	if errors.Cause(err) == ErrSlotTaken {
		return ScheduleSlot{}, core.NewValidationError(err, core.FieldError{Field: "period", Error: err.Error()})
	}
	return slot, errors.Wrap(err, "creating schedule slot")
}

func (svc *Service) GetSlot(ctx context.Context, id string) (ScheduleSlot, error) {
	return svc.repo.GetSlot(ctx, id)
}

func (svc *Service) DeleteSlot(ctx context.Context, id string) error {
	return svc.repo.DeleteSlot(ctx, id)
}

func (svc *Service) Schedule(ctx context.Context, filter SlotFilter) ([]ScheduleSlot, error) {
	filter.ActiveOnly = true
	return svc.repo.QuerySlots(ctx, filter)
}

// Annotations

func (svc *Service) Annotate(ctx context.Context, teacher user.User, na NewAnnotation) (Annotation, error) {
	a, err := svc.repo.CreateAnnotation(ctx, Annotation{
		StudentID:   na.StudentID,
		CourseID:    na.CourseID,
		TeacherID:   teacher.ID,
		Kind:        na.Kind,
		Category:    na.Category,
		Description: na.Description,
		Date:        na.Date,
		CreatedAt:   time.Now().UTC(),
	})
	return a, errors.Wrap(err, "creating annotation")
}

func (svc *Service) Annotations(ctx context.Context, filter AnnotationFilter) ([]Annotation, error) {
	return svc.repo.QueryAnnotations(ctx, filter)
}
