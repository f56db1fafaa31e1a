package grade

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/liceojbh/intranet/core"
	"github.com/liceojbh/intranet/core/academic"
	"github.com/liceojbh/intranet/core/access"
	"github.com/liceojbh/intranet/core/notification"
	"github.com/liceojbh/intranet/core/user"
)

var (
	// errors
	ErrNotFound = core.NewNotFoundError("grade")
)

type (
	Repository interface {
		// UpsertGrade inserts g or overwrites the row holding the same natural key.
		// created is false when an existing row was overwritten; its ID and CreatedAt are kept.
		UpsertGrade(ctx context.Context, g Grade, exec ...core.DBExecutor) (Grade, bool, error)
		GetGrade(ctx context.Context, id string, exec ...core.DBExecutor) (Grade, error)
		DeleteGrade(ctx context.Context, id string, exec ...core.DBExecutor) error
		// QueryGrades orders by course, subject, semester then evaluation number.
		QueryGrades(ctx context.Context, filter Filter, exec ...core.DBExecutor) ([]Grade, error)

		// LockStudent serializes average recomputes of one student until the transaction ends.
		LockStudent(ctx context.Context, studentID string, exec ...core.DBExecutor) error
		// Scores returns every score of a student; courseID narrows it to one course.
		Scores(ctx context.Context, studentID, courseID string, exec ...core.DBExecutor) ([]float64, error)
		// SetCachedAverages writes the per-course average on the (student, course) enrollments
		// and the overall average on the student.
		SetCachedAverages(ctx context.Context, studentID, courseID string, courseAvg, overallAvg *float64, exec ...core.DBExecutor) error
	}

	Service struct {
		repo      Repository
		tx        core.TxRunner
		validate  *validator.Validate
		auth      *access.Authorizer
		academic  *academic.Service
		users     *user.Service
		notifySvc *notification.Service
	}
)

func NewService(
	repo Repository,
	tx core.TxRunner,
	validate *validator.Validate,
	auth *access.Authorizer,
	academicSvc *academic.Service,
	usrSvc *user.Service,
	notifySvc *notification.Service,
) *Service {
	return &Service{
		repo:      repo,
		tx:        tx,
		validate:  validate,
		auth:      auth,
		academic:  academicSvc,
		users:     usrSvc,
		notifySvc: notifySvc,
	}
}

// Record validates and stores a grade, then recomputes the cached averages in the same transaction.
// A grade with the same (student, subject, course, evaluation number) is overwritten.
func (svc *Service) Record(ctx context.Context, actor user.User, period core.Period, ng NewGrade) (Grade, bool, error) {
	if err := ng.Validate(svc.validate); err != nil {
		return Grade{}, false, err
	}
	if ng.Semester == 0 {
		ng.Semester = period.Semester
	}

	if _, err := svc.academic.GetSubject(ctx, ng.SubjectID); err != nil {
		if errors.Cause(err) == academic.ErrSubjectNotFound {
			return Grade{}, false, core.NewFieldError("subject_id", err.Error())
		}
		return Grade{}, false, errors.Wrap(err, "finding subject")
	}
	if _, err := svc.academic.GetCourse(ctx, ng.CourseID); err != nil {
		if errors.Cause(err) == academic.ErrCourseNotFound {
			return Grade{}, false, core.NewFieldError("course_id", err.Error())
		}
		return Grade{}, false, errors.Wrap(err, "finding course")
	}
	if err := svc.auth.Require(ctx, actor, access.Write, access.Target{StudentID: ng.StudentID, CourseID: ng.CourseID}); err != nil {
		return Grade{}, false, err
	}

	now := time.Now().UTC()
	g := Grade{
		StudentID:   ng.StudentID,
		SubjectID:   ng.SubjectID,
		CourseID:    ng.CourseID,
		TeacherID:   actor.ID,
		Type:        ng.Type,
		Semester:    ng.Semester,
		EvalNumber:  ng.EvalNumber,
		Score:       ng.Score,
		Description: ng.Description,
		Date:        ng.Date,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var created bool
	err := svc.tx.RunInTx(ctx, func(exec core.DBExecutor) error {
		var err error
		if g, created, err = svc.repo.UpsertGrade(ctx, g, exec); err != nil {
			return errors.Wrap(err, "upserting grade")
		}
		if err = svc.RecomputeAverages(ctx, exec, g.StudentID, g.CourseID); err != nil {
			return err
		}
		title := fmt.Sprintf("Nueva nota: %.1f", g.Score)
		if !created {
			title = fmt.Sprintf("Nota actualizada: %.1f", g.Score)
		}
		return svc.notifySvc.Notify(ctx, g.StudentID, notification.KindGrade, title, g.Description, "/notas", exec)
	})
	if err != nil {
		return Grade{}, false, err
	}
	return g, created, nil
}

// RecomputeAverages refreshes the cached averages of a student from every persisted grade.
// It must run inside the transaction that changed the grades.
func (svc *Service) RecomputeAverages(ctx context.Context, exec core.DBExecutor, studentID, courseID string) error {
	if err := svc.repo.LockStudent(ctx, studentID, exec); err != nil {
		return errors.Wrap(err, "locking student")
	}
	courseScores, err := svc.repo.Scores(ctx, studentID, courseID, exec)
	if err != nil {
		return errors.Wrap(err, "querying course scores")
	}
	allScores, err := svc.repo.Scores(ctx, studentID, "", exec)
	if err != nil {
		return errors.Wrap(err, "querying scores")
	}
	err = svc.repo.SetCachedAverages(ctx, studentID, courseID, core.Mean(courseScores, 1), core.Mean(allScores, 1), exec)
	return errors.Wrap(err, "setting cached averages")
}

func (svc *Service) Get(ctx context.Context, actor user.User, id string) (Grade, error) {
	g, err := svc.repo.GetGrade(ctx, id)
	if err != nil {
		return Grade{}, err
	}
	if err = svc.auth.Require(ctx, actor, access.Read, access.Target{StudentID: g.StudentID, CourseID: g.CourseID}); err != nil {
		return Grade{}, err
	}
	return g, nil
}

// Delete removes a grade and recomputes the cached averages in the same transaction.
func (svc *Service) Delete(ctx context.Context, actor user.User, id string) error {
	g, err := svc.repo.GetGrade(ctx, id)
	if err != nil {
		return err
	}
	if err = svc.auth.Require(ctx, actor, access.Write, access.Target{StudentID: g.StudentID, CourseID: g.CourseID}); err != nil {
		return err
	}
	return svc.tx.RunInTx(ctx, func(exec core.DBExecutor) error {
		if err := svc.repo.DeleteGrade(ctx, g.ID, exec); err != nil {
			return errors.Wrap(err, "deleting grade")
		}
		return svc.RecomputeAverages(ctx, exec, g.StudentID, g.CourseID)
	})
}

// ForStudent lists the grades of a student within the courses the actor may see.
func (svc *Service) ForStudent(ctx context.Context, actor user.User, studentID string, filter Filter) ([]Grade, error) {
	if err := svc.auth.Require(ctx, actor, access.Read, access.Target{StudentID: studentID}); err != nil {
		return nil, err
	}
	filter.StudentID = studentID
	return svc.query(ctx, actor, filter)
}

// ForCourse lists the grades of a course, optionally for one subject.
func (svc *Service) ForCourse(ctx context.Context, actor user.User, courseID string, filter Filter) ([]Grade, error) {
	if err := svc.auth.Require(ctx, actor, access.Read, access.Target{CourseID: courseID}); err != nil {
		return nil, err
	}
	filter.CourseID = courseID
	return svc.query(ctx, actor, filter)
}

func (svc *Service) query(ctx context.Context, actor user.User, filter Filter) ([]Grade, error) {
	ids, all, err := svc.auth.PermittedCourses(ctx, actor)
	if err != nil {
		return nil, err
	}
	if !all {
		if ids == nil {
			ids = []string{}
		}
		filter.CourseIDs = ids
	}
	grades, err := svc.repo.QueryGrades(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "querying grades")
	}
	// a student only sees their own grades, even within a shared course
	if actor.IsStudent() {
		own := grades[:0]
		for _, g := range grades {
			if g.StudentID == actor.ID {
				own = append(own, g)
			}
		}
		grades = own
	}
	return grades, nil
}

// Summarize groups grades by (course, subject) with their averages.
func Summarize(grades []Grade) []SubjectSummary {
	type key struct{ course, subject string }
	groups := make(map[key]*SubjectSummary)
	order := make([]key, 0)
	for _, g := range grades {
		k := key{g.CourseID, g.SubjectID}
		sum, ok := groups[k]
		if !ok {
			sum = &SubjectSummary{CourseID: g.CourseID, SubjectID: g.SubjectID}
			groups[k] = sum
			order = append(order, k)
		}
		sum.Grades = append(sum.Grades, g)
	}

	summaries := make([]SubjectSummary, 0, len(order))
	for _, k := range order {
		sum := groups[k]
		scores := make([]float64, 0, len(sum.Grades))
		for _, g := range sum.Grades {
			scores = append(scores, g.Score)
		}
		sort.Slice(sum.Grades, func(i, j int) bool { return sum.Grades[i].EvalNumber < sum.Grades[j].EvalNumber })
		sum.Count = len(sum.Grades)
		sum.Average = core.Mean(scores, 1)
		summaries = append(summaries, *sum)
	}
	return summaries
}
