package dummydb

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/liceojbh/intranet/core"
	"github.com/liceojbh/intranet/core/homework"
)

type homeworkRepository struct {
	assignments *table[homework.Assignment]
	submissions *table[homework.Submission]
}

var _ homework.Repository = (*homeworkRepository)(nil) // interface compliance check

func NewHomeworkRepository(db *DB) homework.Repository {
	return &homeworkRepository{assignments: db.assignments, submissions: db.submissions}
}

func (repo *homeworkRepository) CreateAssignment(ctx context.Context, a homework.Assignment, exec ...core.DBExecutor) (homework.Assignment, error) {
	repo.assignments.Lock()
	defer repo.assignments.Unlock()

	a.ID = uuid.NewString()
	repo.assignments.put(a.ID, a)
	return a, nil
}

func (repo *homeworkRepository) UpdateAssignment(ctx context.Context, a homework.Assignment, exec ...core.DBExecutor) (homework.Assignment, error) {
	repo.assignments.Lock()
	defer repo.assignments.Unlock()

	if _, ok := repo.assignments.get(a.ID); !ok {
		return homework.Assignment{}, homework.ErrNotFound
	}
	repo.assignments.put(a.ID, a)
	return a, nil
}

func (repo *homeworkRepository) GetAssignment(ctx context.Context, id string, exec ...core.DBExecutor) (homework.Assignment, error) {
	repo.assignments.RLock()
	defer repo.assignments.RUnlock()
	if a, ok := repo.assignments.get(id); ok {
		return a, nil
	}
	return homework.Assignment{}, homework.ErrNotFound
}

func (repo *homeworkRepository) DeleteAssignment(ctx context.Context, id string, exec ...core.DBExecutor) error {
	repo.assignments.Lock()
	removed := repo.assignments.remove(id)
	repo.assignments.Unlock()
	if removed == 0 {
		return homework.ErrNotFound
	}

	repo.submissions.Lock()
	defer repo.submissions.Unlock()
	for _, s := range repo.submissions.filter(func(s homework.Submission) bool { return s.AssignmentID == id }) {
		repo.submissions.remove(s.ID)
	}
	return nil
}

func (repo *homeworkRepository) QueryAssignments(ctx context.Context, filter homework.AssignmentFilter, exec ...core.DBExecutor) ([]homework.Assignment, error) {
	repo.assignments.RLock()
	defer repo.assignments.RUnlock()

	as := repo.assignments.filter(func(a homework.Assignment) bool {
		if filter.CourseIDs != nil && !core.StringInSlice(a.CourseID, filter.CourseIDs) {
			return false
		}
		if filter.CourseID != "" && a.CourseID != filter.CourseID {
			return false
		}
		if filter.TeacherID != "" && a.TeacherID != filter.TeacherID {
			return false
		}
		return filter.Status == "" || a.Status == filter.Status
	})
	sort.SliceStable(as, func(i, j int) bool {
		if !as[i].DueDate.Equal(as[j].DueDate) {
			return as[i].DueDate.Before(as[j].DueDate)
		}
		return as[i].DueTime < as[j].DueTime
	})
	return as, nil
}

func (repo *homeworkRepository) UpsertSubmission(ctx context.Context, s homework.Submission, exec ...core.DBExecutor) (homework.Submission, bool, error) {
	repo.submissions.Lock()
	defer repo.submissions.Unlock()

	old, ok := repo.submissions.find(func(o homework.Submission) bool {
		return o.AssignmentID == s.AssignmentID && o.StudentID == s.StudentID
	})
	if !ok {
		s.ID = uuid.NewString()
		repo.submissions.put(s.ID, s)
		return s, true, nil
	}
	old.FileName, old.FilePath, old.Size = s.FileName, s.FilePath, s.Size
	old.Comment, old.SubmittedAt, old.Late = s.Comment, s.SubmittedAt, s.Late
	old.Status = homework.SubmissionPending
	repo.submissions.put(old.ID, old)
	return old, false, nil
}

func (repo *homeworkRepository) UpdateSubmission(ctx context.Context, s homework.Submission, exec ...core.DBExecutor) (homework.Submission, error) {
	repo.submissions.Lock()
	defer repo.submissions.Unlock()

	if _, ok := repo.submissions.get(s.ID); !ok {
		return homework.Submission{}, homework.ErrSubmissionNotFound
	}
	repo.submissions.put(s.ID, s)
	return s, nil
}

func (repo *homeworkRepository) GetSubmission(ctx context.Context, id string, exec ...core.DBExecutor) (homework.Submission, error) {
	repo.submissions.RLock()
	defer repo.submissions.RUnlock()
	if s, ok := repo.submissions.get(id); ok {
		return s, nil
	}
	return homework.Submission{}, homework.ErrSubmissionNotFound
}

func (repo *homeworkRepository) QuerySubmissions(ctx context.Context, filter homework.SubmissionFilter, exec ...core.DBExecutor) ([]homework.Submission, error) {
	repo.submissions.RLock()
	defer repo.submissions.RUnlock()

	subs := repo.submissions.filter(func(s homework.Submission) bool {
		if filter.AssignmentID != "" && s.AssignmentID != filter.AssignmentID {
			return false
		}
		if filter.AssignmentIDs != nil && !core.StringInSlice(s.AssignmentID, filter.AssignmentIDs) {
			return false
		}
		return filter.StudentID == "" || s.StudentID == filter.StudentID
	})
	sort.SliceStable(subs, func(i, j int) bool {
		return subs[i].SubmittedAt.After(subs[j].SubmittedAt)
	})
	return subs, nil
}

func (repo *homeworkRepository) CountSubmissions(ctx context.Context, assignmentIDs []string, exec ...core.DBExecutor) (map[string]int, error) {
	repo.submissions.RLock()
	defer repo.submissions.RUnlock()

	counts := make(map[string]int, len(assignmentIDs))
	for _, s := range repo.submissions.filter(func(s homework.Submission) bool {
		return core.StringInSlice(s.AssignmentID, assignmentIDs)
	}) {
		counts[s.AssignmentID]++
	}
	return counts, nil
}
