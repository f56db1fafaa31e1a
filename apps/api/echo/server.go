package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/liceojbh/intranet/apps/di"
	"github.com/liceojbh/intranet/core"
	"github.com/liceojbh/intranet/core/academic"
	"github.com/liceojbh/intranet/core/access"
	"github.com/liceojbh/intranet/core/attendance"
	"github.com/liceojbh/intranet/core/audit"
	"github.com/liceojbh/intranet/core/content"
	"github.com/liceojbh/intranet/core/dashboard"
	"github.com/liceojbh/intranet/core/grade"
	"github.com/liceojbh/intranet/core/homework"
	"github.com/liceojbh/intranet/core/messaging"
	"github.com/liceojbh/intranet/core/notification"
	"github.com/liceojbh/intranet/core/roster"
	"github.com/liceojbh/intranet/core/school"
	"github.com/liceojbh/intranet/core/user"
)

type (
	ServerDeps struct {
		Conf       *core.Config
		Logger     core.Logger
		Validate   *validator.Validate
		Translator ut.Translator
		Registry   prometheus.Registerer // a private registry is used when nil

		Authorizer      *access.Authorizer
		UserSvc         *user.Service
		AcademicSvc     *academic.Service
		GradeSvc        *grade.Service
		AttendanceSvc   *attendance.Service
		MessagingSvc    *messaging.Service
		ContentSvc      *content.Service
		HomeworkSvc     *homework.Service
		NotificationSvc *notification.Service
		AuditSvc        *audit.Service
		SchoolSvc       *school.Service
		DashboardSvc    *dashboard.Service
		Importer        *roster.Importer
	}

	Server struct {
		deps     ServerDeps
		app      *echo.Echo
		auth     authenticator
		errors   chan error
		shutdown chan os.Signal
	}
)

// DepsFromContainer exposes the services of c to the API.
func DepsFromContainer(c *di.Container, reg prometheus.Registerer) ServerDeps {
	return ServerDeps{
		Conf:            c.Conf,
		Logger:          c.Logger,
		Validate:        c.Validate,
		Translator:      c.Translator,
		Registry:        reg,
		Authorizer:      c.Authorizer,
		UserSvc:         c.UserSvc,
		AcademicSvc:     c.AcademicSvc,
		GradeSvc:        c.GradeSvc,
		AttendanceSvc:   c.AttendanceSvc,
		MessagingSvc:    c.MessagingSvc,
		ContentSvc:      c.ContentSvc,
		HomeworkSvc:     c.HomeworkSvc,
		NotificationSvc: c.NotificationSvc,
		AuditSvc:        c.AuditSvc,
		SchoolSvc:       c.SchoolSvc,
		DashboardSvc:    c.DashboardSvc,
		Importer:        c.Importer,
	}
}

func NewServer(deps ServerDeps) *Server {
	s := &Server{
		deps:     deps,
		app:      echo.New(),
		auth:     newAuthenticator(deps.Conf, deps.UserSvc),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	if !deps.Conf.TestMode {
		signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	}
	s.setup()
	return s
}

func (s *Server) setup() {
	conf := s.deps.Conf

	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !conf.TestMode {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}
	reg := s.deps.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	s.app.Use(metricsMiddleware(reg))

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.deps.Translator, s.signalShutdown)
	s.app.Debug = conf.Debug && !conf.TestMode

	s.app.GET("/", s.home)

	v1 := s.app.Group("/v1")
	jwt := s.auth.middleware(false)
	optionalJWT := s.auth.middleware(true)
	period := periodMiddleware(s.deps.AcademicSvc)

	registerUserAPI(v1, jwt, s.auth, s.deps.UserSvc, s.deps.Validate)
	registerSchoolAPI(v1, jwt, s.auth, s.deps.SchoolSvc, s.deps.Validate)
	registerAcademicAPI(v1, jwt, period, s.auth, s.deps.Authorizer, s.deps.AcademicSvc, s.deps.Importer, s.deps.Validate)
	registerGradeAPI(v1, jwt, period, s.auth, s.deps.GradeSvc)
	registerAttendanceAPI(v1, jwt, s.auth, s.deps.AttendanceSvc)
	registerMessagingAPI(v1, jwt, period, s.auth, s.deps.MessagingSvc)
	registerContentAPI(v1, jwt, optionalJWT, s.auth, s.deps.ContentSvc)
	registerHomeworkAPI(v1, jwt, s.auth, s.deps.HomeworkSvc)
	registerDashboardAPI(v1, jwt, period, s.auth, s.deps.DashboardSvc)
	registerNotificationAPI(v1, jwt, s.auth, s.deps.NotificationSvc, s.deps.MessagingSvc, s.deps.AuditSvc)
}

// Start blocks serving the API; a listener failure is reported on Errors().
func (s *Server) Start() {
	if err := s.app.Start(s.deps.Conf.Server.Host); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *Server) Errors() <-chan error {
	return s.errors
}

func (s *Server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

func (s *Server) signalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default: // already shutting down
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *Server) Close() error {
	return s.app.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *Server) home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Bienvenido a la intranet del "+s.deps.Conf.School.Name+"!")
}
