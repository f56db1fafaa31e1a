// Package homework lets teachers assign work to their courses and students hand it in.
package homework

import (
	"context"
	"io"
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
	ErrNotFound           = core.NewNotFoundError("assignment")
	ErrSubmissionNotFound = core.NewNotFoundError("submission")

	ErrDeadlinePassed = core.NewValidationError(errors.New("the deadline has passed and late submissions are not allowed"))
	ErrClosed         = core.NewValidationError(errors.New("the assignment is closed"))

	errNotOwner = core.NewPermissionError("only staff or the assigning teacher may manage an assignment")
)

type (
	Repository interface {
		CreateAssignment(ctx context.Context, a Assignment, exec ...core.DBExecutor) (Assignment, error)
		UpdateAssignment(ctx context.Context, a Assignment, exec ...core.DBExecutor) (Assignment, error)
		GetAssignment(ctx context.Context, id string, exec ...core.DBExecutor) (Assignment, error)
		// DeleteAssignment removes the assignment and its submissions.
		DeleteAssignment(ctx context.Context, id string, exec ...core.DBExecutor) error
		// QueryAssignments orders by due date, earliest first.
		QueryAssignments(ctx context.Context, filter AssignmentFilter, exec ...core.DBExecutor) ([]Assignment, error)

		// UpsertSubmission stores the one submission of a (assignment, student) pair.
		// A resubmission replaces the file, comment, time and late flag, and sets the status back to pending.
		UpsertSubmission(ctx context.Context, s Submission, exec ...core.DBExecutor) (Submission, bool, error)
		UpdateSubmission(ctx context.Context, s Submission, exec ...core.DBExecutor) (Submission, error)
		GetSubmission(ctx context.Context, id string, exec ...core.DBExecutor) (Submission, error)
		// QuerySubmissions orders newest first.
		QuerySubmissions(ctx context.Context, filter SubmissionFilter, exec ...core.DBExecutor) ([]Submission, error)
		// CountSubmissions returns the number of submissions per assignment ID.
		CountSubmissions(ctx context.Context, assignmentIDs []string, exec ...core.DBExecutor) (map[string]int, error)
	}

	Service struct {
		repo          Repository
		tx            core.TxRunner
		validate      *validator.Validate
		files         core.FileStore
		maxUploadSize int64
		auth          *access.Authorizer
		academic      *academic.Service
		notifySvc     *notification.Service
	}
)

func NewService(
	repo Repository,
	tx core.TxRunner,
	validate *validator.Validate,
	files core.FileStore,
	conf *core.Config,
	auth *access.Authorizer,
	academicSvc *academic.Service,
	notifySvc *notification.Service,
) *Service {
	return &Service{
		repo:          repo,
		tx:            tx,
		validate:      validate,
		files:         files,
		maxUploadSize: conf.Upload.MaxAttachmentSize,
		auth:          auth,
		academic:      academicSvc,
		notifySvc:     notifySvc,
	}
}

func canManage(actor user.User, a Assignment) bool {
	return actor.IsActive && (actor.IsStaff() || a.TeacherID == actor.ID)
}

// Create stores an assignment for a course the actor may write to. Publishing notifies the active students.
func (svc *Service) Create(ctx context.Context, actor user.User, na NewAssignment) (Assignment, error) {
	if !actor.IsTeacher() && !actor.IsStaff() {
		return Assignment{}, core.NewPermissionError("only teachers may assign homework")
	}
	if err := na.Validate(svc.validate, svc.maxUploadSize); err != nil {
		return Assignment{}, err
	}
	if _, err := svc.academic.GetCourse(ctx, na.CourseID); err != nil {
		if errors.Cause(err) == academic.ErrCourseNotFound {
			return Assignment{}, core.NewFieldError("course_id", err.Error())
		}
		return Assignment{}, errors.Wrap(err, "finding course")
	}
	if _, err := svc.academic.GetSubject(ctx, na.SubjectID); err != nil {
		if errors.Cause(err) == academic.ErrSubjectNotFound {
			return Assignment{}, core.NewFieldError("subject_id", err.Error())
		}
		return Assignment{}, errors.Wrap(err, "finding subject")
	}
	if err := svc.auth.Require(ctx, actor, access.Write, access.Target{CourseID: na.CourseID}); err != nil {
		return Assignment{}, err
	}

	now := time.Now().UTC()
	a := Assignment{
		CourseID:    na.CourseID,
		SubjectID:   na.SubjectID,
		TeacherID:   actor.ID,
		Title:       na.Title,
		Description: na.Description,
		Type:        na.Type,
		AssignedOn:  core.Day(now),
		DueDate:     na.DueDate,
		DueTime:     na.DueTime,
		MaxScore:    na.MaxScore,
		AllowLate:   na.AllowLate,
		Status:      na.Status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if na.Attachment != nil {
		path, err := svc.files.Save(ctx, "tareas/adjuntos", na.Attachment.Filename, na.Attachment.Content)
		if err != nil {
			return Assignment{}, errors.Wrap(err, "saving assignment attachment")
		}
		a.AttachmentName, a.AttachmentPath = na.Attachment.Filename, path
	}

	err := svc.tx.RunInTx(ctx, func(exec core.DBExecutor) error {
		var err error
		if a, err = svc.repo.CreateAssignment(ctx, a, exec); err != nil {
			return errors.Wrap(err, "creating assignment")
		}
		if a.Status != StatusPublished {
			return nil
		}
		return svc.notifyPublished(ctx, a, exec)
	})
	if err != nil {
		if a.AttachmentPath != "" {
			_ = svc.files.Remove(ctx, a.AttachmentPath)
		}
		return Assignment{}, err
	}
	return a, nil
}

func (svc *Service) notifyPublished(ctx context.Context, a Assignment, exec core.DBExecutor) error {
	students, err := svc.academic.ActiveStudents(ctx, a.CourseID)
	if err != nil {
		return err
	}
	title := "Nueva tarea: " + a.Title
	body := "Fecha de entrega: " + a.DueDate.Format("02/01/2006")
	for _, s := range students {
		if err = svc.notifySvc.Notify(ctx, s.ID, notification.KindHomework, title, body, "/tareas/"+a.ID, exec); err != nil {
			return err
		}
	}
	return nil
}

// SetStatus moves an assignment between draft, published and closed.
// Publishing a draft notifies the active students.
func (svc *Service) SetStatus(ctx context.Context, actor user.User, id, status string) (Assignment, error) {
	if !core.StringInSlice(status, []string{StatusDraft, StatusPublished, StatusClosed}) {
		return Assignment{}, core.NewFieldError("status", "must be one of borrador, publicada or cerrada")
	}
	a, err := svc.repo.GetAssignment(ctx, id)
	if err != nil {
		return Assignment{}, err
	}
	if !canManage(actor, a) {
		return Assignment{}, errNotOwner
	}
	if a.Status == status {
		return a, nil
	}

	notify := a.Status == StatusDraft && status == StatusPublished
	a.Status = status
	a.UpdatedAt = time.Now().UTC()
	err = svc.tx.RunInTx(ctx, func(exec core.DBExecutor) error {
		var err error
		if a, err = svc.repo.UpdateAssignment(ctx, a, exec); err != nil {
			return errors.Wrap(err, "updating assignment")
		}
		if !notify {
			return nil
		}
		return svc.notifyPublished(ctx, a, exec)
	})
	return a, err
}

// Get returns an assignment actor may read; students and guardians do not see drafts.
func (svc *Service) Get(ctx context.Context, actor user.User, id string) (Assignment, error) {
	a, err := svc.repo.GetAssignment(ctx, id)
	if err != nil {
		return Assignment{}, err
	}
	if canManage(actor, a) {
		return a, nil
	}
	if err = svc.auth.Require(ctx, actor, access.Read, access.Target{CourseID: a.CourseID}); err != nil {
		return Assignment{}, err
	}
	if a.Status == StatusDraft && !actor.IsTeacher() {
		return Assignment{}, ErrNotFound
	}
	return a, nil
}

// Assignments lists the assignments a teacher created, or every one for staff, with their submission counts.
func (svc *Service) Assignments(ctx context.Context, actor user.User, filter AssignmentFilter) ([]AssignmentSummary, error) {
	switch {
	case actor.IsActive && actor.IsStaff():
	case actor.IsTeacher():
		filter.TeacherID = actor.ID
	default:
		return nil, core.NewPermissionError("only teachers may list their assignments")
	}
	assignments, err := svc.repo.QueryAssignments(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "querying assignments")
	}
	ids := make([]string, len(assignments))
	for i, a := range assignments {
		ids[i] = a.ID
	}
	counts, err := svc.repo.CountSubmissions(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "counting submissions")
	}
	summaries := make([]AssignmentSummary, 0, len(assignments))
	for _, a := range assignments {
		summaries = append(summaries, AssignmentSummary{Assignment: a, Submissions: counts[a.ID]})
	}
	return summaries, nil
}

// Board returns the published assignments of the courses a student is actively enrolled in,
// split into pending and submitted.
func (svc *Service) Board(ctx context.Context, actor user.User, studentID string) (Board, error) {
	if err := svc.auth.Require(ctx, actor, access.Read, access.Target{StudentID: studentID}); err != nil {
		return Board{}, err
	}
	board := Board{Pending: []Assignment{}, Submitted: []Assignment{}}
	courseIDs, err := svc.academic.StudentCourseIDs(ctx, studentID, true /* activeOnly */)
	if err != nil {
		return Board{}, err
	}
	if len(courseIDs) == 0 {
		return board, nil
	}

	assignments, err := svc.repo.QueryAssignments(ctx, AssignmentFilter{CourseIDs: courseIDs, Status: StatusPublished})
	if err != nil {
		return Board{}, errors.Wrap(err, "querying assignments")
	}
	subs, err := svc.repo.QuerySubmissions(ctx, SubmissionFilter{StudentID: studentID})
	if err != nil {
		return Board{}, errors.Wrap(err, "querying submissions")
	}
	handedIn := make(map[string]bool, len(subs))
	for _, s := range subs {
		handedIn[s.AssignmentID] = true
	}
	for _, a := range assignments {
		if handedIn[a.ID] {
			board.Submitted = append(board.Submitted, a)
		} else {
			board.Pending = append(board.Pending, a)
		}
	}
	board.TotalPending = len(board.Pending)
	return board, nil
}

// StudentSubmissions returns every submission of a student with its review.
func (svc *Service) StudentSubmissions(ctx context.Context, actor user.User, studentID string) ([]Submission, error) {
	if err := svc.auth.Require(ctx, actor, access.Read, access.Target{StudentID: studentID}); err != nil {
		return nil, err
	}
	subs, err := svc.repo.QuerySubmissions(ctx, SubmissionFilter{StudentID: studentID})
	return subs, errors.Wrap(err, "querying submissions")
}

// Submit hands in the work of a student. Only published assignments of the student's active courses accept
// submissions, and after the deadline only when late submissions are allowed.
// A second submission replaces the first one and waits for review again.
func (svc *Service) Submit(ctx context.Context, actor user.User, assignmentID string, ns NewSubmission) (Submission, error) {
	if !actor.IsActive || !actor.IsStudent() {
		return Submission{}, core.NewPermissionError("only students may hand in homework")
	}
	if err := ns.Validate(svc.validate, svc.maxUploadSize); err != nil {
		return Submission{}, err
	}
	a, err := svc.repo.GetAssignment(ctx, assignmentID)
	if err != nil {
		return Submission{}, err
	}
	enrolled, err := svc.academic.StudentCourseIDs(ctx, actor.ID, true /* activeOnly */)
	if err != nil {
		return Submission{}, err
	}
	if !core.StringInSlice(a.CourseID, enrolled) {
		return Submission{}, core.NewPermissionError("the assignment belongs to another course")
	}
	now := time.Now().UTC()
	switch {
	case a.Status == StatusDraft:
		return Submission{}, ErrNotFound
	case a.Status == StatusClosed:
		return Submission{}, ErrClosed
	case !a.AcceptsSubmissions(now):
		return Submission{}, ErrDeadlinePassed
	}

	var previous *Submission
	prev, err := svc.repo.QuerySubmissions(ctx, SubmissionFilter{AssignmentID: a.ID, StudentID: actor.ID})
	if err != nil {
		return Submission{}, errors.Wrap(err, "querying submissions")
	}
	if len(prev) > 0 {
		previous = &prev[0]
	}

	path, err := svc.files.Save(ctx, "tareas/entregas", ns.File.Filename, ns.File.Content)
	if err != nil {
		return Submission{}, errors.Wrap(err, "saving submission file")
	}
	s, _, err := svc.repo.UpsertSubmission(ctx, Submission{
		AssignmentID: a.ID,
		StudentID:    actor.ID,
		FileName:     ns.File.Filename,
		FilePath:     path,
		Size:         ns.File.Size,
		Comment:      ns.Comment,
		SubmittedAt:  now,
		Late:         a.Overdue(now),
		Status:       SubmissionPending,
	})
	if err != nil {
		_ = svc.files.Remove(ctx, path)
		return Submission{}, errors.Wrap(err, "storing submission")
	}
	if previous != nil && previous.FilePath != path {
		_ = svc.files.Remove(ctx, previous.FilePath)
	}
	return s, nil
}

// Submissions returns the roster of an assignment: what was handed in and who is still missing.
func (svc *Service) Submissions(ctx context.Context, actor user.User, assignmentID string) (Roster, error) {
	a, err := svc.repo.GetAssignment(ctx, assignmentID)
	if err != nil {
		return Roster{}, err
	}
	if !canManage(actor, a) {
		return Roster{}, errNotOwner
	}
	subs, err := svc.repo.QuerySubmissions(ctx, SubmissionFilter{AssignmentID: a.ID})
	if err != nil {
		return Roster{}, errors.Wrap(err, "querying submissions")
	}
	students, err := svc.academic.ActiveStudents(ctx, a.CourseID)
	if err != nil {
		return Roster{}, err
	}
	handedIn := make(map[string]bool, len(subs))
	for _, s := range subs {
		handedIn[s.StudentID] = true
	}
	pending := make([]user.User, 0, len(students))
	for _, s := range students {
		if !handedIn[s.ID] {
			pending = append(pending, s)
		}
	}
	return Roster{Assignment: a, Submissions: subs, Pending: pending}, nil
}

// Review scores a submission and notifies the student.
func (svc *Service) Review(ctx context.Context, actor user.User, submissionID string, r Review) (Submission, error) {
	if err := r.Validate(svc.validate); err != nil {
		return Submission{}, err
	}
	s, err := svc.repo.GetSubmission(ctx, submissionID)
	if err != nil {
		return Submission{}, err
	}
	a, err := svc.repo.GetAssignment(ctx, s.AssignmentID)
	if err != nil {
		return Submission{}, err
	}
	if !canManage(actor, a) {
		return Submission{}, errNotOwner
	}
	if r.Score > a.MaxScore {
		return Submission{}, core.NewFieldError("score", "must not exceed the maximum score of the assignment")
	}

	now := time.Now().UTC()
	s.Score = &r.Score
	s.Feedback = r.Feedback
	s.Status = r.Status
	s.ReviewedAt = &now
	err = svc.tx.RunInTx(ctx, func(exec core.DBExecutor) error {
		var err error
		if s, err = svc.repo.UpdateSubmission(ctx, s, exec); err != nil {
			return errors.Wrap(err, "updating submission")
		}
		return svc.notifySvc.Notify(ctx, s.StudentID, notification.KindHomework, "Tarea revisada: "+a.Title, s.Feedback, "/tareas/"+a.ID, exec)
	})
	return s, err
}

// OpenAttachment returns the file a teacher attached to an assignment. The caller must close the reader.
func (svc *Service) OpenAttachment(ctx context.Context, actor user.User, id string) (Assignment, io.ReadCloser, error) {
	a, err := svc.Get(ctx, actor, id)
	if err != nil {
		return Assignment{}, nil, err
	}
	if a.AttachmentPath == "" {
		return Assignment{}, nil, core.NewNotFoundError("attachment")
	}
	rc, err := svc.files.Open(ctx, a.AttachmentPath)
	if err != nil {
		return Assignment{}, nil, errors.Wrap(err, "opening assignment attachment")
	}
	return a, rc, nil
}

// OpenSubmission returns a handed-in file to its student, their guardians and the assignment managers.
// The caller must close the reader.
func (svc *Service) OpenSubmission(ctx context.Context, actor user.User, id string) (Submission, io.ReadCloser, error) {
	s, err := svc.repo.GetSubmission(ctx, id)
	if err != nil {
		return Submission{}, nil, err
	}
	a, err := svc.repo.GetAssignment(ctx, s.AssignmentID)
	if err != nil {
		return Submission{}, nil, err
	}
	if !canManage(actor, a) {
		if err = svc.auth.Require(ctx, actor, access.Read, access.Target{StudentID: s.StudentID}); err != nil {
			return Submission{}, nil, err
		}
		if actor.IsTeacher() {
			return Submission{}, nil, errNotOwner
		}
	}
	rc, err := svc.files.Open(ctx, s.FilePath)
	if err != nil {
		return Submission{}, nil, errors.Wrap(err, "opening submission file")
	}
	return s, rc, nil
}

// Delete removes an assignment, its submissions and their files.
func (svc *Service) Delete(ctx context.Context, actor user.User, id string) error {
	a, err := svc.repo.GetAssignment(ctx, id)
	if err != nil {
		return err
	}
	if !canManage(actor, a) {
		return errNotOwner
	}
	subs, err := svc.repo.QuerySubmissions(ctx, SubmissionFilter{AssignmentID: a.ID})
	if err != nil {
		return errors.Wrap(err, "querying submissions")
	}
	if err = svc.repo.DeleteAssignment(ctx, a.ID); err != nil {
		return errors.Wrap(err, "deleting assignment")
	}
	paths := make([]string, 0, len(subs)+1)
	if a.AttachmentPath != "" {
		paths = append(paths, a.AttachmentPath)
	}
	for _, s := range subs {
		paths = append(paths, s.FilePath)
	}
	for _, p := range paths {
		if err = svc.files.Remove(ctx, p); err != nil {
			return errors.Wrap(err, "removing homework file")
		}
	}
	return nil
}
