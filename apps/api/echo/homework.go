package echoapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/liceojbh/intranet/core"
	"github.com/liceojbh/intranet/core/homework"
	"github.com/liceojbh/intranet/core/user"
)

type homeworkApi struct {
	svc  *homework.Service
	auth authenticator
}

func registerHomeworkAPI(g *echo.Group, jwt echo.MiddlewareFunc, auth authenticator, svc *homework.Service) {
	api := homeworkApi{svc: svc, auth: auth}

	hg := g.Group("/homework", jwt)
	hg.GET("", api.list, roleMiddleware(auth, user.RoleTeacher, user.RoleStaff, user.RoleAdmin))
	hg.POST("", api.create, roleMiddleware(auth, user.RoleTeacher, user.RoleStaff, user.RoleAdmin))
	hg.GET("/:id", api.retrieve)
	hg.PUT("/:id/status", api.setStatus)
	hg.DELETE("/:id", api.destroy)
	hg.GET("/:id/attachment", api.attachment)
	hg.GET("/:id/submissions", api.roster)
	hg.POST("/:id/submissions", api.submit, roleMiddleware(auth, user.RoleStudent))

	sg := g.Group("/submissions", jwt)
	sg.PUT("/:id/review", api.review)
	sg.GET("/:id/file", api.submissionFile)

	g.GET("/students/:id/homework", api.board, jwt)
	g.GET("/students/:id/submissions", api.studentSubmissions, jwt)
}

func (api *homeworkApi) list(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var filter homework.AssignmentFilter
	if err = ctx.Bind(&filter); err != nil {
		return err
	}
	summaries, err := api.svc.Assignments(ctx.Request().Context(), usr, filter)
	if err != nil {
		return errors.Wrap(err, "listing assignments")
	}
	return ctx.JSON(http.StatusOK, summaries)
}

// create accepts JSON, or a multipart form when the assignment carries an "attachment".
func (api *homeworkApi) create(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var data homework.NewAssignment
	if isMultipart(ctx) {
		if data, err = bindNewAssignment(ctx); err != nil {
			return err
		}
		f, err := formFile(ctx, "attachment")
		if err != nil {
			return err
		}
		if f != nil {
			defer func() { _ = f.Close() }()
			data.Attachment = f.upload()
		}
	} else if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAssignment")
	}

	a, err := api.svc.Create(ctx.Request().Context(), usr, data)
	if err != nil {
		return errors.Wrap(err, "creating assignment")
	}
	return ctx.JSON(http.StatusCreated, a)
}

func bindNewAssignment(ctx echo.Context) (homework.NewAssignment, error) {
	na := homework.NewAssignment{
		CourseID:    ctx.FormValue("course_id"),
		SubjectID:   ctx.FormValue("subject_id"),
		Title:       ctx.FormValue("title"),
		Description: ctx.FormValue("description"),
		Type:        ctx.FormValue("type"),
		DueTime:     ctx.FormValue("due_time"),
		Status:      ctx.FormValue("status"),
	}
	if v := ctx.FormValue("due_date"); v != "" {
		d, err := time.Parse(dateLayout, v)
		if err != nil {
			return na, core.NewFieldError("due_date", "use the YYYY-MM-DD format")
		}
		na.DueDate = d
	}
	if v := ctx.FormValue("max_score"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return na, core.NewFieldError("max_score", "must be a number")
		}
		na.MaxScore = f
	}
	if v := ctx.FormValue("allow_late"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return na, core.NewFieldError("allow_late", "must be true or false")
		}
		na.AllowLate = b
	}
	return na, nil
}

func (api *homeworkApi) retrieve(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	a, err := api.svc.Get(ctx.Request().Context(), usr, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting assignment")
	}
	return ctx.JSON(http.StatusOK, a)
}

func (api *homeworkApi) setStatus(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var data struct {
		Status string `json:"status"`
	}
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding status")
	}
	a, err := api.svc.SetStatus(ctx.Request().Context(), usr, ctx.Param("id"), data.Status)
	if err != nil {
		return errors.Wrap(err, "setting assignment status")
	}
	return ctx.JSON(http.StatusOK, a)
}

func (api *homeworkApi) destroy(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if err = api.svc.Delete(ctx.Request().Context(), usr, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting assignment")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *homeworkApi) attachment(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	a, rc, err := api.svc.OpenAttachment(ctx.Request().Context(), usr, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "opening assignment attachment")
	}
	defer func() { _ = rc.Close() }()
	return streamFile(ctx, a.AttachmentName, rc)
}

func (api *homeworkApi) roster(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	r, err := api.svc.Submissions(ctx.Request().Context(), usr, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "listing submissions")
	}
	return ctx.JSON(http.StatusOK, r)
}

// submit hands in a multipart form with the "file" and an optional "comment".
func (api *homeworkApi) submit(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	data := homework.NewSubmission{Comment: ctx.FormValue("comment")}
	f, err := formFile(ctx, "file")
	if err != nil {
		return err
	}
	if f != nil {
		defer func() { _ = f.Close() }()
		data.File = f.upload()
	}

	s, err := api.svc.Submit(ctx.Request().Context(), usr, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "submitting homework")
	}
	return ctx.JSON(http.StatusCreated, s)
}

func (api *homeworkApi) review(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var data homework.Review
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Review")
	}
	s, err := api.svc.Review(ctx.Request().Context(), usr, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "reviewing submission")
	}
	return ctx.JSON(http.StatusOK, s)
}

func (api *homeworkApi) submissionFile(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	s, rc, err := api.svc.OpenSubmission(ctx.Request().Context(), usr, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "opening submission file")
	}
	defer func() { _ = rc.Close() }()
	return streamFile(ctx, s.FileName, rc)
}

func (api *homeworkApi) board(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	b, err := api.svc.Board(ctx.Request().Context(), usr, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting homework board")
	}
	return ctx.JSON(http.StatusOK, b)
}

func (api *homeworkApi) studentSubmissions(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	subs, err := api.svc.StudentSubmissions(ctx.Request().Context(), usr, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "listing student submissions")
	}
	return ctx.JSON(http.StatusOK, subs)
}
