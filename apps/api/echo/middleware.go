package echoapi

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/liceojbh/intranet/core"
	"github.com/liceojbh/intranet/core/academic"
	"github.com/liceojbh/intranet/core/user"
)

const contextPeriodKey = "period"

// roleMiddleware only lets through active users holding one of roles.
func roleMiddleware(auth authenticator, roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			usr, err := auth.contextUser(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context user")
			}
			if core.StringInSlice(usr.Role, roles) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

func staffMiddleware(auth authenticator) echo.MiddlewareFunc {
	return roleMiddleware(auth, user.RoleStaff, user.RoleAdmin)
}

func adminMiddleware(auth authenticator) echo.MiddlewareFunc {
	return roleMiddleware(auth, user.RoleAdmin)
}

// periodMiddleware resolves the academic period once per request.
// ?year=&semester= pick another period; otherwise the persisted one is used.
func periodMiddleware(svc *academic.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			period, err := svc.CurrentPeriod(ctx.Request().Context())
			if err != nil {
				return errors.Wrap(err, "getting current period")
			}
			if ctx.QueryParam("year") != "" || ctx.QueryParam("semester") != "" {
				period.Year = queryInt(ctx, "year", period.Year)
				period.Semester = queryInt(ctx, "semester", period.Semester)
				if err = period.Validate(); err != nil {
					return err
				}
			}
			ctx.Set(contextPeriodKey, period)
			return next(ctx)
		}
	}
}

func getContextPeriod(ctx echo.Context) core.Period {
	if p, ok := ctx.Get(contextPeriodKey).(core.Period); ok {
		return p
	}
	return core.DefaultPeriod(time.Now())
}

// metricsMiddleware counts requests and observes their latency per route.
func metricsMiddleware(reg prometheus.Registerer) echo.MiddlewareFunc {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "intranet",
		Name:      "http_requests_total",
		Help:      "HTTP requests processed, by route and status code.",
	}, []string{"method", "route", "code"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "intranet",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency, by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
	reg.MustRegister(requests, latency)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			start := time.Now()
			err := next(ctx)
			if err != nil {
				ctx.Error(err)
			}
			route := ctx.Path()
			if route == "" {
				route = "unmatched"
			}
			method := ctx.Request().Method
			requests.WithLabelValues(method, route, strconv.Itoa(ctx.Response().Status)).Inc()
			latency.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}
