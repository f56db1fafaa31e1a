package echoapi

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/liceojbh/intranet/core/grade"
)

type gradeApi struct {
	svc  *grade.Service
	auth authenticator
}

func registerGradeAPI(g *echo.Group, jwt, period echo.MiddlewareFunc, auth authenticator, svc *grade.Service) {
	api := gradeApi{svc: svc, auth: auth}

	gg := g.Group("/grades", jwt)
	gg.POST("", api.record, period)
	gg.GET("/:id", api.retrieve)
	gg.DELETE("/:id", api.destroy)

	g.GET("/students/:id/grades", api.forStudent, jwt)
	g.GET("/courses/:id/grades", api.forCourse, jwt)
	g.GET("/courses/:id/grades/export", api.exportCSV, jwt)
}

func (api *gradeApi) record(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var data grade.NewGrade
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewGrade")
	}

	g, created, err := api.svc.Record(ctx.Request().Context(), usr, getContextPeriod(ctx), data)
	if err != nil {
		return errors.Wrap(err, "recording grade")
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	return ctx.JSON(code, g)
}

func (api *gradeApi) retrieve(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	g, err := api.svc.Get(ctx.Request().Context(), usr, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting grade")
	}
	return ctx.JSON(http.StatusOK, g)
}

func (api *gradeApi) destroy(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if err = api.svc.Delete(ctx.Request().Context(), usr, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting grade")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func bindGradeFilter(ctx echo.Context) grade.Filter {
	return grade.Filter{
		SubjectID: ctx.QueryParam("subject_id"),
		CourseID:  ctx.QueryParam("course_id"),
		Semester:  queryInt(ctx, "semester", 0),
	}
}

// forStudent returns the grades of a student grouped by subject.
func (api *gradeApi) forStudent(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	grades, err := api.svc.ForStudent(ctx.Request().Context(), usr, ctx.Param("id"), bindGradeFilter(ctx))
	if err != nil {
		return errors.Wrap(err, "listing student grades")
	}
	summaries := grade.Summarize(grades)
	if summaries == nil {
		summaries = []grade.SubjectSummary{}
	}
	return ctx.JSON(http.StatusOK, summaries)
}

func (api *gradeApi) forCourse(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	grades, err := api.svc.ForCourse(ctx.Request().Context(), usr, ctx.Param("id"), bindGradeFilter(ctx))
	if err != nil {
		return errors.Wrap(err, "listing course grades")
	}
	if grades == nil {
		grades = []grade.Grade{}
	}
	return ctx.JSON(http.StatusOK, grades)
}

func (api *gradeApi) exportCSV(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var buf bytes.Buffer
	if err = api.svc.ExportCSV(ctx.Request().Context(), usr, ctx.Param("id"), &buf); err != nil {
		return errors.Wrap(err, "exporting grades")
	}
	ctx.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", "notas_"+ctx.Param("id")+".csv"))
	return ctx.Blob(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}
