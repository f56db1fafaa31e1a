package dummydb

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/liceojbh/intranet/core"
	"github.com/liceojbh/intranet/core/academic"
	"github.com/liceojbh/intranet/core/attendance"
	"github.com/liceojbh/intranet/core/grade"
	"github.com/liceojbh/intranet/core/user"
)

type gradeRepository struct {
	grades      *table[grade.Grade]
	enrollments *table[academic.Enrollment]
	users       *table[user.User]
}

var _ grade.Repository = (*gradeRepository)(nil) // interface compliance check

func NewGradeRepository(db *DB) grade.Repository {
	return &gradeRepository{grades: db.grades, enrollments: db.enrollments, users: db.users}
}

func (repo *gradeRepository) UpsertGrade(ctx context.Context, g grade.Grade, exec ...core.DBExecutor) (grade.Grade, bool, error) {
	repo.grades.Lock()
	defer repo.grades.Unlock()

	existing, ok := repo.grades.find(func(o grade.Grade) bool {
		return o.StudentID == g.StudentID && o.SubjectID == g.SubjectID && o.CourseID == g.CourseID && o.EvalNumber == g.EvalNumber
	})
	if ok {
		g.ID = existing.ID
		g.CreatedAt = existing.CreatedAt
		repo.grades.put(g.ID, g)
		return g, false, nil
	}
	g.ID = uuid.NewString()
	repo.grades.put(g.ID, g)
	return g, true, nil
}

func (repo *gradeRepository) GetGrade(ctx context.Context, id string, exec ...core.DBExecutor) (grade.Grade, error) {
	repo.grades.RLock()
	defer repo.grades.RUnlock()
	if g, ok := repo.grades.get(id); ok {
		return g, nil
	}
	return grade.Grade{}, grade.ErrNotFound
}

func (repo *gradeRepository) DeleteGrade(ctx context.Context, id string, exec ...core.DBExecutor) error {
	repo.grades.Lock()
	defer repo.grades.Unlock()
	if repo.grades.remove(id) == 0 {
		return grade.ErrNotFound
	}
	return nil
}

func (repo *gradeRepository) QueryGrades(ctx context.Context, filter grade.Filter, exec ...core.DBExecutor) ([]grade.Grade, error) {
	repo.grades.RLock()
	defer repo.grades.RUnlock()

	grades := repo.grades.filter(func(g grade.Grade) bool {
		return (filter.StudentID == "" || g.StudentID == filter.StudentID) &&
			(filter.SubjectID == "" || g.SubjectID == filter.SubjectID) &&
			(filter.CourseID == "" || g.CourseID == filter.CourseID) &&
			(filter.Semester == 0 || g.Semester == filter.Semester) &&
			matchIDs(g.CourseID, filter.CourseIDs)
	})
	sort.SliceStable(grades, func(i, j int) bool {
		a, b := grades[i], grades[j]
		if a.CourseID != b.CourseID {
			return a.CourseID < b.CourseID
		}
		if a.SubjectID != b.SubjectID {
			return a.SubjectID < b.SubjectID
		}
		if a.Semester != b.Semester {
			return a.Semester < b.Semester
		}
		return a.EvalNumber < b.EvalNumber
	})
	return grades, nil
}

// LockStudent is a no-op: RunInTx already serializes every transaction.
func (repo *gradeRepository) LockStudent(ctx context.Context, studentID string, exec ...core.DBExecutor) error {
	return nil
}

func (repo *gradeRepository) Scores(ctx context.Context, studentID, courseID string, exec ...core.DBExecutor) ([]float64, error) {
	repo.grades.RLock()
	defer repo.grades.RUnlock()

	scores := make([]float64, 0)
	for _, g := range repo.grades.filter(nil) {
		if g.StudentID == studentID && (courseID == "" || g.CourseID == courseID) {
			scores = append(scores, g.Score)
		}
	}
	return scores, nil
}

func (repo *gradeRepository) SetCachedAverages(ctx context.Context, studentID, courseID string, courseAvg, overallAvg *float64, exec ...core.DBExecutor) error {
	repo.enrollments.Lock()
	for _, e := range repo.enrollments.filter(func(e academic.Enrollment) bool {
		return e.StudentID == studentID && e.CourseID == courseID
	}) {
		e.Average = courseAvg
		repo.enrollments.put(e.ID, e)
	}
	repo.enrollments.Unlock()

	repo.users.Lock()
	defer repo.users.Unlock()
	if usr, ok := repo.users.get(studentID); ok {
		usr.OverallAverage = overallAvg
		repo.users.put(usr.ID, usr)
	}
	return nil
}

type attendanceRepository struct {
	records *table[attendance.Record]
}

var _ attendance.Repository = (*attendanceRepository)(nil) // interface compliance check

func NewAttendanceRepository(db *DB) attendance.Repository {
	return &attendanceRepository{records: db.attendance}
}

func (repo *attendanceRepository) UpsertRecord(ctx context.Context, r attendance.Record, exec ...core.DBExecutor) (attendance.Record, bool, error) {
	repo.records.Lock()
	defer repo.records.Unlock()

	existing, ok := repo.records.find(func(o attendance.Record) bool {
		return o.StudentID == r.StudentID && o.CourseID == r.CourseID && o.Date.Equal(r.Date)
	})
	if ok {
		r.ID = existing.ID
		r.CreatedAt = existing.CreatedAt
		repo.records.put(r.ID, r)
		return r, false, nil
	}
	r.ID = uuid.NewString()
	repo.records.put(r.ID, r)
	return r, true, nil
}

func (repo *attendanceRepository) QueryRecords(ctx context.Context, filter attendance.Filter, exec ...core.DBExecutor) ([]attendance.Record, error) {
	repo.records.RLock()
	defer repo.records.RUnlock()

	records := repo.records.filter(func(r attendance.Record) bool {
		return (filter.StudentID == "" || r.StudentID == filter.StudentID) &&
			(filter.CourseID == "" || r.CourseID == filter.CourseID) &&
			(filter.Date.IsZero() || r.Date.Equal(filter.Date)) &&
			(filter.From.IsZero() || !r.Date.Before(filter.From)) &&
			(filter.To.IsZero() || !r.Date.After(filter.To)) &&
			matchIDs(r.StudentID, filter.StudentIDs) &&
			matchIDs(r.CourseID, filter.CourseIDs)
	})
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].Date.Equal(records[j].Date) {
			return records[i].Date.Before(records[j].Date)
		}
		return records[i].StudentID < records[j].StudentID
	})
	return records, nil
}
