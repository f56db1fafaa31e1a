package echoapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/liceojbh/intranet/core/dashboard"
)

type dashboardApi struct {
	svc  *dashboard.Service
	auth authenticator
}

func registerDashboardAPI(g *echo.Group, jwt, period echo.MiddlewareFunc, auth authenticator, svc *dashboard.Service) {
	api := dashboardApi{svc: svc, auth: auth}

	dg := g.Group("/dashboard", jwt, period)
	dg.GET("", api.panel)
	dg.GET("/kpis", api.kpis)
	dg.GET("/risks", api.risks)
	dg.GET("/levels", api.levels)
}

// panel returns the landing panel matching the role of the user.
func (api *dashboardApi) panel(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var (
		rctx   = ctx.Request().Context()
		period = getContextPeriod(ctx)
		data   interface{}
	)
	switch {
	case usr.IsStudent():
		data, err = api.svc.StudentPanel(rctx, usr, period)
	case usr.IsTeacher():
		data, err = api.svc.TeacherPanel(rctx, usr)
	case usr.IsGuardian():
		data, err = api.svc.GuardianPanel(rctx, usr, period)
	default:
		data, err = api.svc.KPIs(rctx, usr, period, time.Now())
	}
	if err != nil {
		return errors.Wrap(err, "building dashboard")
	}
	return ctx.JSON(http.StatusOK, DashboardResponse{Role: usr.Role, Panel: data})
}

func (api *dashboardApi) kpis(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	kpis, err := api.svc.KPIs(ctx.Request().Context(), usr, getContextPeriod(ctx), time.Now())
	if err != nil {
		return errors.Wrap(err, "computing kpis")
	}
	return ctx.JSON(http.StatusOK, kpis)
}

func (api *dashboardApi) risks(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	alerts, err := api.svc.RiskAlerts(ctx.Request().Context(), usr, getContextPeriod(ctx))
	if err != nil {
		return errors.Wrap(err, "computing risk alerts")
	}
	if alerts == nil {
		alerts = []dashboard.RiskAlert{}
	}
	return ctx.JSON(http.StatusOK, alerts)
}

func (api *dashboardApi) levels(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	averages, err := api.svc.AveragesByLevel(ctx.Request().Context(), usr, getContextPeriod(ctx))
	if err != nil {
		return errors.Wrap(err, "computing level averages")
	}
	if averages == nil {
		averages = []dashboard.LevelAverage{}
	}
	return ctx.JSON(http.StatusOK, averages)
}

type DashboardResponse struct {
	Role  string      `json:"role"`
	Panel interface{} `json:"panel"`
}
