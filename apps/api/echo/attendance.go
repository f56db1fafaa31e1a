package echoapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/liceojbh/intranet/core"
	"github.com/liceojbh/intranet/core/attendance"
)

type attendanceApi struct {
	svc  *attendance.Service
	auth authenticator
}

func registerAttendanceAPI(g *echo.Group, jwt echo.MiddlewareFunc, auth authenticator, svc *attendance.Service) {
	api := attendanceApi{svc: svc, auth: auth}

	g.POST("/attendance", api.take, jwt)
	g.GET("/students/:id/attendance", api.forStudent, jwt)
	g.GET("/courses/:id/attendance", api.forCourse, jwt)
}

func (api *attendanceApi) take(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var data SheetRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SheetRequest")
	}
	sheet, err := data.Sheet()
	if err != nil {
		return err
	}

	records, err := api.svc.Take(ctx.Request().Context(), usr, sheet, ctx.RealIP())
	if err != nil {
		return errors.Wrap(err, "taking attendance")
	}
	return ctx.JSON(http.StatusOK, records)
}

func bindAttendanceFilter(ctx echo.Context) (attendance.Filter, error) {
	var (
		filter = attendance.Filter{CourseID: ctx.QueryParam("course_id")}
		err    error
	)
	if filter.Date, err = queryDate(ctx, "date"); err != nil {
		return filter, err
	}
	if filter.From, err = queryDate(ctx, "from"); err != nil {
		return filter, err
	}
	filter.To, err = queryDate(ctx, "to")
	return filter, err
}

func (api *attendanceApi) forStudent(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	filter, err := bindAttendanceFilter(ctx)
	if err != nil {
		return err
	}
	records, stats, err := api.svc.ForStudent(ctx.Request().Context(), usr, ctx.Param("id"), filter)
	if err != nil {
		return errors.Wrap(err, "listing student attendance")
	}
	if records == nil {
		records = []attendance.Record{}
	}
	return ctx.JSON(http.StatusOK, StudentAttendanceResponse{Records: records, Stats: stats})
}

func (api *attendanceApi) forCourse(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	filter, err := bindAttendanceFilter(ctx)
	if err != nil {
		return err
	}
	records, err := api.svc.ForCourse(ctx.Request().Context(), usr, ctx.Param("id"), filter)
	if err != nil {
		return errors.Wrap(err, "listing course attendance")
	}
	if records == nil {
		records = []attendance.Record{}
	}
	return ctx.JSON(http.StatusOK, records)
}

type (
	// SheetRequest is an attendance sheet whose date is a plain YYYY-MM-DD day.
	SheetRequest struct {
		CourseID string             `json:"course_id"`
		Date     string             `json:"date"`
		Entries  []attendance.Entry `json:"entries"`
	}

	StudentAttendanceResponse struct {
		Records []attendance.Record `json:"records"`
		Stats   attendance.Stats    `json:"stats"`
	}
)

func (sr SheetRequest) Sheet() (attendance.Sheet, error) {
	sheet := attendance.Sheet{CourseID: sr.CourseID, Entries: sr.Entries}
	if sr.Date == "" {
		sheet.Date = time.Now().UTC()
		return sheet, nil
	}
	d, err := time.Parse(dateLayout, sr.Date)
	if err != nil {
		if d, err = time.Parse(time.RFC3339, sr.Date); err != nil {
			return sheet, core.NewFieldError("date", "use the YYYY-MM-DD format")
		}
	}
	sheet.Date = d
	return sheet, nil
}
