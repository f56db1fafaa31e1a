// Package di builds the application services from a storage backend.
// The API server, the admin CLI and the tests share it so every entry point wires services the same way.
package di

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

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
	Repositories struct {
		User         user.Repository
		Academic     academic.Repository
		Grade        grade.Repository
		Attendance   attendance.Repository
		Messaging    messaging.Repository
		Content      content.Repository
		Homework     homework.Repository
		Audit        audit.Repository
		Notification notification.Repository
		School       school.Repository
	}

	// Backend is the infrastructure the services run on.
	Backend struct {
		Repos   Repositories
		Tx      core.TxRunner
		Limiter messaging.RateLimiter
		Files   core.FileStore
		Mail    core.EmailService
	}

	Container struct {
		Conf       *core.Config
		Logger     core.Logger
		Validate   *validator.Validate
		Translator ut.Translator

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
)

// New wires every service on b. Validators are registered once per container.
func New(conf *core.Config, logger core.Logger, b Backend) *Container {
	validate, translator := core.NewValidator()
	user.InitValidators(validate, translator)

	c := &Container{Conf: conf, Logger: logger, Validate: validate, Translator: translator}

	c.UserSvc = user.NewService(b.Repos.User, b.Mail, conf)
	c.AcademicSvc = academic.NewService(b.Repos.Academic, c.UserSvc)
	c.Authorizer = access.NewAuthorizer(c.AcademicSvc, c.UserSvc)
	c.AuditSvc = audit.NewService(b.Repos.Audit, logger)
	c.NotificationSvc = notification.NewService(b.Repos.Notification)
	c.SchoolSvc = school.NewService(b.Repos.School, b.Tx, validate, conf)

	c.GradeSvc = grade.NewService(
		b.Repos.Grade, b.Tx, validate, c.Authorizer, c.AcademicSvc, c.UserSvc, c.NotificationSvc,
	)
	c.AttendanceSvc = attendance.NewService(
		b.Repos.Attendance, b.Tx, validate, c.Authorizer, c.AcademicSvc, c.AuditSvc,
	)
	c.MessagingSvc = messaging.NewService(
		b.Repos.Messaging, b.Tx, validate, b.Limiter, b.Files, messaging.LimitsFromConfig(conf),
		c.AcademicSvc, c.UserSvc, c.NotificationSvc,
	)
	c.ContentSvc = content.NewService(
		b.Repos.Content, b.Tx, validate, b.Files, conf, c.Authorizer, c.AcademicSvc, c.UserSvc,
		c.AuditSvc, c.NotificationSvc, b.Mail,
	)
	c.HomeworkSvc = homework.NewService(
		b.Repos.Homework, b.Tx, validate, b.Files, conf, c.Authorizer, c.AcademicSvc, c.NotificationSvc,
	)
	c.DashboardSvc = dashboard.NewService(c.UserSvc, c.AcademicSvc, c.AttendanceSvc, c.ContentSvc)
	c.Importer = roster.NewImporter(b.Tx, validate, c.UserSvc, c.AcademicSvc)
	return c
}
