package dummydb

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/liceojbh/intranet/core"
	"github.com/liceojbh/intranet/core/academic"
)

const periodKey = "current"

type academicRepository struct {
	period      *table[core.Period]
	subjects    *table[academic.Subject]
	courses     *table[academic.Course]
	enrollments *table[academic.Enrollment]
	slots       *table[academic.ScheduleSlot]
	annotations *table[academic.Annotation]
}

var _ academic.Repository = (*academicRepository)(nil) // interface compliance check

func NewAcademicRepository(db *DB) academic.Repository {
	return &academicRepository{
		period:      db.period,
		subjects:    db.subjects,
		courses:     db.courses,
		enrollments: db.enrollments,
		slots:       db.slots,
		annotations: db.annotations,
	}
}

// matchIDs applies the CourseIDs convention: nil keeps everything, an empty slice nothing.
func matchIDs(id string, ids []string) bool {
	return ids == nil || core.StringInSlice(id, ids)
}

// Period

func (repo *academicRepository) GetPeriod(ctx context.Context, exec ...core.DBExecutor) (core.Period, error) {
	repo.period.RLock()
	defer repo.period.RUnlock()
	if p, ok := repo.period.get(periodKey); ok {
		return p, nil
	}
	return core.Period{}, academic.ErrPeriodNotSet
}

func (repo *academicRepository) SetPeriod(ctx context.Context, period core.Period, exec ...core.DBExecutor) error {
	repo.period.Lock()
	defer repo.period.Unlock()
	repo.period.put(periodKey, period)
	return nil
}

// Subjects

func (repo *academicRepository) CreateSubject(ctx context.Context, sub academic.Subject, exec ...core.DBExecutor) (academic.Subject, error) {
	repo.subjects.Lock()
	defer repo.subjects.Unlock()

	if _, ok := repo.subjects.find(func(s academic.Subject) bool { return s.Code == sub.Code }); ok {
		return academic.Subject{}, academic.ErrSubjectCodeExists
	}
	sub.ID = uuid.NewString()
	repo.subjects.put(sub.ID, sub)
	return sub, nil
}

func (repo *academicRepository) UpdateSubject(ctx context.Context, sub academic.Subject, exec ...core.DBExecutor) (academic.Subject, error) {
	repo.subjects.Lock()
	defer repo.subjects.Unlock()

	if _, ok := repo.subjects.get(sub.ID); !ok {
		return academic.Subject{}, academic.ErrSubjectNotFound
	}
	if _, ok := repo.subjects.find(func(s academic.Subject) bool { return s.Code == sub.Code && s.ID != sub.ID }); ok {
		return academic.Subject{}, academic.ErrSubjectCodeExists
	}
	repo.subjects.put(sub.ID, sub)
	return sub, nil
}

func (repo *academicRepository) GetSubject(ctx context.Context, id string, exec ...core.DBExecutor) (academic.Subject, error) {
	repo.subjects.RLock()
	defer repo.subjects.RUnlock()
	if s, ok := repo.subjects.get(id); ok {
		return s, nil
	}
	return academic.Subject{}, academic.ErrSubjectNotFound
}

func (repo *academicRepository) QuerySubjects(ctx context.Context, activeOnly bool, exec ...core.DBExecutor) ([]academic.Subject, error) {
	repo.subjects.RLock()
	defer repo.subjects.RUnlock()

	subjects := repo.subjects.filter(func(s academic.Subject) bool { return !activeOnly || s.IsActive })
	sort.SliceStable(subjects, func(i, j int) bool { return subjects[i].Name < subjects[j].Name })
	return subjects, nil
}

// Courses

func (repo *academicRepository) CreateCourse(ctx context.Context, c academic.Course, exec ...core.DBExecutor) (academic.Course, error) {
	repo.courses.Lock()
	defer repo.courses.Unlock()

	if _, ok := repo.courses.find(func(o academic.Course) bool {
		return o.Level == c.Level && o.Letter == c.Letter && o.Year == c.Year
	}); ok {
		return academic.Course{}, academic.ErrCourseExists
	}
	c.ID = uuid.NewString()
	repo.courses.put(c.ID, c)
	return c, nil
}

func (repo *academicRepository) UpdateCourse(ctx context.Context, c academic.Course, exec ...core.DBExecutor) (academic.Course, error) {
	repo.courses.Lock()
	defer repo.courses.Unlock()

	if _, ok := repo.courses.get(c.ID); !ok {
		return academic.Course{}, academic.ErrCourseNotFound
	}
	if _, ok := repo.courses.find(func(o academic.Course) bool {
		return o.ID != c.ID && o.Level == c.Level && o.Letter == c.Letter && o.Year == c.Year
	}); ok {
		return academic.Course{}, academic.ErrCourseExists
	}
	repo.courses.put(c.ID, c)
	return c, nil
}

func (repo *academicRepository) GetCourse(ctx context.Context, id string, exec ...core.DBExecutor) (academic.Course, error) {
	repo.courses.RLock()
	defer repo.courses.RUnlock()
	if c, ok := repo.courses.get(id); ok {
		return c, nil
	}
	return academic.Course{}, academic.ErrCourseNotFound
}

func (repo *academicRepository) QueryCourses(ctx context.Context, filter academic.CourseFilter, exec ...core.DBExecutor) ([]academic.Course, error) {
	repo.courses.RLock()
	defer repo.courses.RUnlock()

	courses := repo.courses.filter(func(c academic.Course) bool {
		return (filter.Year == 0 || c.Year == filter.Year) &&
			(filter.Level == 0 || c.Level == filter.Level) &&
			(!filter.ActiveOnly || c.IsActive) &&
			(filter.HomeroomTeacherID == "" || c.HasHomeroomTeacher(filter.HomeroomTeacherID)) &&
			matchIDs(c.ID, filter.IDs)
	})
	sort.SliceStable(courses, func(i, j int) bool {
		a, b := courses[i], courses[j]
		if a.Year != b.Year {
			return a.Year > b.Year
		}
		if a.Level != b.Level {
			return a.Level < b.Level
		}
		return a.Letter < b.Letter
	})
	return courses, nil
}

// Enrollments

func (repo *academicRepository) GetOrCreateEnrollment(ctx context.Context, e academic.Enrollment, exec ...core.DBExecutor) (academic.Enrollment, bool, error) {
	repo.enrollments.Lock()
	defer repo.enrollments.Unlock()

	if existing, ok := repo.enrollments.find(func(o academic.Enrollment) bool {
		return o.StudentID == e.StudentID && o.CourseID == e.CourseID && o.Year == e.Year
	}); ok {
		return existing, false, nil
	}
	e.ID = uuid.NewString()
	repo.enrollments.put(e.ID, e)
	return e, true, nil
}

func (repo *academicRepository) UpdateEnrollment(ctx context.Context, e academic.Enrollment, exec ...core.DBExecutor) (academic.Enrollment, error) {
	repo.enrollments.Lock()
	defer repo.enrollments.Unlock()

	orig, ok := repo.enrollments.get(e.ID)
	if !ok {
		return academic.Enrollment{}, academic.ErrEnrollmentNotFound
	}
	// the cached average belongs to the grade ledger
	e.Average = orig.Average
	repo.enrollments.put(e.ID, e)
	return e, nil
}

func (repo *academicRepository) GetEnrollment(ctx context.Context, id string, exec ...core.DBExecutor) (academic.Enrollment, error) {
	repo.enrollments.RLock()
	defer repo.enrollments.RUnlock()
	if e, ok := repo.enrollments.get(id); ok {
		return e, nil
	}
	return academic.Enrollment{}, academic.ErrEnrollmentNotFound
}

func (repo *academicRepository) queryEnrollments(filter academic.EnrollmentFilter) []academic.Enrollment {
	return repo.enrollments.filter(func(e academic.Enrollment) bool {
		return (filter.StudentID == "" || e.StudentID == filter.StudentID) &&
			(filter.CourseID == "" || e.CourseID == filter.CourseID) &&
			(filter.Year == 0 || e.Year == filter.Year) &&
			(filter.Status == "" || e.Status == filter.Status) &&
			matchIDs(e.StudentID, filter.StudentIDs) &&
			matchIDs(e.CourseID, filter.CourseIDs)
	})
}

func (repo *academicRepository) QueryEnrollments(ctx context.Context, filter academic.EnrollmentFilter, exec ...core.DBExecutor) ([]academic.Enrollment, error) {
	repo.enrollments.RLock()
	defer repo.enrollments.RUnlock()

	enrollments := repo.queryEnrollments(filter)
	sort.SliceStable(enrollments, func(i, j int) bool { return enrollments[i].EnrolledAt.Before(enrollments[j].EnrolledAt) })
	return enrollments, nil
}

func (repo *academicRepository) CountEnrollments(ctx context.Context, filter academic.EnrollmentFilter, exec ...core.DBExecutor) (int, error) {
	repo.enrollments.RLock()
	defer repo.enrollments.RUnlock()
	return len(repo.queryEnrollments(filter)), nil
}

// Schedule

func (repo *academicRepository) CreateSlot(ctx context.Context, slot academic.ScheduleSlot, exec ...core.DBExecutor) (academic.ScheduleSlot, error) {
	repo.slots.Lock()
	defer repo.slots.Unlock()

	if _, ok := repo.slots.find(func(s academic.ScheduleSlot) bool {
		return s.CourseID == slot.CourseID && s.Day == slot.Day && s.Period == slot.Period
	}); ok {
		return academic.ScheduleSlot{}, academic.ErrSlotTaken
	}
	slot.ID = uuid.NewString()
	repo.slots.put(slot.ID, slot)
	return slot, nil
}

func (repo *academicRepository) GetSlot(ctx context.Context, id string, exec ...core.DBExecutor) (academic.ScheduleSlot, error) {
	repo.slots.RLock()
	defer repo.slots.RUnlock()
	if s, ok := repo.slots.get(id); ok {
		return s, nil
	}
	return academic.ScheduleSlot{}, academic.ErrSlotNotFound
}

func (repo *academicRepository) DeleteSlot(ctx context.Context, id string, exec ...core.DBExecutor) error {
	repo.slots.Lock()
	defer repo.slots.Unlock()
	if repo.slots.remove(id) == 0 {
		return academic.ErrSlotNotFound
	}
	return nil
}

func dayIndex(day string) int {
	for i, d := range academic.Days {
		if d == day {
			return i
		}
	}
	return len(academic.Days)
}

func (repo *academicRepository) QuerySlots(ctx context.Context, filter academic.SlotFilter, exec ...core.DBExecutor) ([]academic.ScheduleSlot, error) {
	repo.slots.RLock()
	defer repo.slots.RUnlock()

	slots := repo.slots.filter(func(s academic.ScheduleSlot) bool {
		return (filter.CourseID == "" || s.CourseID == filter.CourseID) &&
			(filter.TeacherID == "" || s.TeacherID == filter.TeacherID) &&
			(filter.Day == "" || s.Day == filter.Day) &&
			(!filter.ActiveOnly || s.IsActive) &&
			matchIDs(s.CourseID, filter.CourseIDs)
	})
	sort.SliceStable(slots, func(i, j int) bool {
		di, dj := dayIndex(slots[i].Day), dayIndex(slots[j].Day)
		if di != dj {
			return di < dj
		}
		return slots[i].Period < slots[j].Period
	})
	return slots, nil
}

// Annotations

func (repo *academicRepository) CreateAnnotation(ctx context.Context, a academic.Annotation, exec ...core.DBExecutor) (academic.Annotation, error) {
	repo.annotations.Lock()
	defer repo.annotations.Unlock()
	a.ID = uuid.NewString()
	repo.annotations.put(a.ID, a)
	return a, nil
}

func (repo *academicRepository) QueryAnnotations(ctx context.Context, filter academic.AnnotationFilter, exec ...core.DBExecutor) ([]academic.Annotation, error) {
	repo.annotations.RLock()
	defer repo.annotations.RUnlock()

	annotations := repo.annotations.filter(func(a academic.Annotation) bool {
		return (filter.StudentID == "" || a.StudentID == filter.StudentID) &&
			(filter.CourseID == "" || a.CourseID == filter.CourseID) &&
			matchIDs(a.CourseID, filter.CourseIDs)
	})
	sort.SliceStable(annotations, func(i, j int) bool { return annotations[i].Date.After(annotations[j].Date) })
	return annotations, nil
}
