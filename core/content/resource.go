package content

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/liceojbh/intranet/core"
	"github.com/liceojbh/intranet/core/academic"
	"github.com/liceojbh/intranet/core/access"
	"github.com/liceojbh/intranet/core/audit"
	"github.com/liceojbh/intranet/core/user"
)

var ErrResourceNotFound = core.NewNotFoundError("resource")

// ResourceExtensions widens the attachment list with the office formats teachers share as class material.
var ResourceExtensions = append(append([]string{}, core.AttachmentExtensions...), ".ppt", ".pptx", ".xls", ".xlsx", ".txt", ".zip")

// Resource is class material a teacher shares with one course.
type Resource struct {
	ID          string    `json:"id"`
	CourseID    string    `json:"course_id"`
	SubjectID   *string   `json:"subject_id"`
	TeacherID   string    `json:"teacher_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	FileName    string    `json:"file_name"`
	FilePath    string    `json:"-"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

func (r Resource) MarshalJSON() ([]byte, error) {
	type res Resource
	return json.Marshal(struct {
		res
		HumanSize string `json:"human_size"`
	}{res(r), core.HumanSize(r.Size)})
}

type NewResource struct {
	CourseID    string       `json:"-" validate:"required"`
	SubjectID   *string      `json:"subject_id"`
	Title       string       `json:"title" validate:"required,max=200"`
	Description string       `json:"description"`
	File        *core.Upload `json:"-" validate:"-"`
}

func (nr *NewResource) Validate(validate *validator.Validate, maxSize int64) error {
	nr.Title = core.CleanString(nr.Title)
	nr.Description = core.CleanString(nr.Description)
	if nr.SubjectID != nil && *nr.SubjectID == "" {
		nr.SubjectID = nil
	}
	if err := validate.Struct(nr); err != nil {
		return err
	}
	if nr.File == nil {
		return core.NewFieldError("file", "this field is required")
	}
	return core.ValidateUpload(*nr.File, "file", maxSize, ResourceExtensions)
}

type ResourceFilter struct {
	// CourseIDs restricts the listing; nil means every course.
	CourseIDs []string `query:"-"`
	CourseID  string   `query:"course"`
	SubjectID string   `query:"subject"`
}

// UploadResource stores a file for a course. Teachers may only share material with the courses they lead or teach.
func (svc *Service) UploadResource(ctx context.Context, actor user.User, nr NewResource, ip string) (Resource, error) {
	if err := nr.Validate(svc.validate, svc.maxUploadSize); err != nil {
		return Resource{}, err
	}
	if _, err := svc.academic.GetCourse(ctx, nr.CourseID); err != nil {
		if errors.Cause(err) == academic.ErrCourseNotFound {
			return Resource{}, core.NewFieldError("course_id", err.Error())
		}
		return Resource{}, errors.Wrap(err, "finding course")
	}
	if nr.SubjectID != nil {
		if _, err := svc.academic.GetSubject(ctx, *nr.SubjectID); err != nil {
			if errors.Cause(err) == academic.ErrSubjectNotFound {
				return Resource{}, core.NewFieldError("subject_id", err.Error())
			}
			return Resource{}, errors.Wrap(err, "finding subject")
		}
	}
	if err := svc.auth.Require(ctx, actor, access.Write, access.Target{CourseID: nr.CourseID}); err != nil {
		return Resource{}, err
	}

	now := time.Now().UTC()
	path, err := svc.files.Save(ctx, "recursos/"+now.Format("2006/01"), nr.File.Filename, nr.File.Content)
	if err != nil {
		return Resource{}, errors.Wrap(err, "saving resource file")
	}

	r := Resource{
		CourseID:    nr.CourseID,
		SubjectID:   nr.SubjectID,
		TeacherID:   actor.ID,
		Title:       nr.Title,
		Description: nr.Description,
		FileName:    nr.File.Filename,
		FilePath:    path,
		Size:        nr.File.Size,
		CreatedAt:   now,
	}
	err = svc.tx.RunInTx(ctx, func(exec core.DBExecutor) error {
		var err error
		if r, err = svc.repo.CreateResource(ctx, r, exec); err != nil {
			return errors.Wrap(err, "creating resource")
		}
		return svc.auditSvc.Record(ctx, actor.ID, audit.KindResource, "Compartió el recurso "+r.Title, ip, exec)
	})
	if err != nil {
		_ = svc.files.Remove(ctx, path)
		return Resource{}, err
	}
	return r, nil
}

// Resources lists the material of one course, or of every course actor may read when filter.CourseID is empty.
func (svc *Service) Resources(ctx context.Context, actor user.User, filter ResourceFilter) ([]Resource, error) {
	if filter.CourseID != "" {
		if err := svc.auth.Require(ctx, actor, access.Read, access.Target{CourseID: filter.CourseID}); err != nil {
			return nil, err
		}
		return svc.repo.QueryResources(ctx, filter)
	}

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
	return svc.repo.QueryResources(ctx, filter)
}

// OpenResource returns a resource and its file. The caller must close the returned reader.
func (svc *Service) OpenResource(ctx context.Context, actor user.User, id string) (Resource, io.ReadCloser, error) {
	r, err := svc.repo.GetResource(ctx, id)
	if err != nil {
		return Resource{}, nil, err
	}
	if err = svc.auth.Require(ctx, actor, access.Read, access.Target{CourseID: r.CourseID}); err != nil {
		return Resource{}, nil, err
	}
	rc, err := svc.files.Open(ctx, r.FilePath)
	if err != nil {
		return Resource{}, nil, errors.Wrap(err, "opening resource file")
	}
	return r, rc, nil
}

func (svc *Service) DeleteResource(ctx context.Context, actor user.User, id string) error {
	r, err := svc.repo.GetResource(ctx, id)
	if err != nil {
		return err
	}
	if !(actor.IsActive && actor.IsStaff()) && r.TeacherID != actor.ID {
		return core.NewPermissionError("only staff or the uploader may delete a resource")
	}
	if err = svc.repo.DeleteResource(ctx, r.ID); err != nil {
		return errors.Wrap(err, "deleting resource")
	}
	return errors.Wrap(svc.files.Remove(ctx, r.FilePath), "removing resource file")
}
