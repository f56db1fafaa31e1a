package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/liceojbh/intranet/core"
	"github.com/liceojbh/intranet/core/academic"
	"github.com/liceojbh/intranet/core/access"
	"github.com/liceojbh/intranet/core/roster"
	"github.com/liceojbh/intranet/core/user"
)

type academicApi struct {
	svc      *academic.Service
	az       *access.Authorizer
	importer *roster.Importer
	auth     authenticator
	validate *validator.Validate
}

func registerAcademicAPI(
	g *echo.Group,
	jwt, period echo.MiddlewareFunc,
	auth authenticator,
	az *access.Authorizer,
	svc *academic.Service,
	importer *roster.Importer,
	validate *validator.Validate,
) {
	api := academicApi{
		svc:      svc,
		az:       az,
		importer: importer,
		auth:     auth,
		validate: validate,
	}
	staff := staffMiddleware(auth)

	g.GET("/period", api.currentPeriod, jwt)
	g.PUT("/period", api.setPeriod, jwt, adminMiddleware(auth))

	sg := g.Group("/subjects", jwt)
	sg.GET("", api.querySubjects)
	sg.POST("", api.createSubject, staff)
	sg.PUT("/:id", api.updateSubject, staff)

	cg := g.Group("/courses", jwt)
	cg.GET("", api.queryCourses)
	cg.POST("", api.createCourse, staff)
	cg.GET("/:id", api.retrieveCourse)
	cg.PUT("/:id", api.updateCourse, staff)
	cg.GET("/:id/students", api.courseStudents)
	cg.POST("/:id/recount", api.recountStudents, adminMiddleware(auth))

	eg := g.Group("/enrollments", jwt, staff)
	eg.GET("", api.queryEnrollments)
	eg.POST("", api.enroll)
	eg.PUT("/:id/status", api.setEnrollmentStatus)

	g.GET("/schedule", api.schedule, jwt)
	slg := g.Group("/slots", jwt, staff)
	slg.POST("", api.createSlot)
	slg.DELETE("/:id", api.deleteSlot)

	ag := g.Group("/annotations", jwt)
	ag.GET("", api.queryAnnotations)
	ag.POST("", api.annotate, roleMiddleware(auth, user.RoleTeacher, user.RoleStaff, user.RoleAdmin))

	rg := g.Group("/roster", jwt, staff)
	rg.POST("/students", api.importStudents, period)
	rg.POST("/teachers", api.importTeachers)
}

// Period

func (api *academicApi) currentPeriod(ctx echo.Context) error {
	p, err := api.svc.CurrentPeriod(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "getting current period")
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *academicApi) setPeriod(ctx echo.Context) error {
	var p core.Period
	if err := ctx.Bind(&p); err != nil {
		return errors.Wrap(err, "binding to Period")
	}
	if err := api.svc.SetPeriod(ctx.Request().Context(), p); err != nil {
		return errors.Wrap(err, "setting period")
	}
	return ctx.JSON(http.StatusOK, p)
}

// Subjects

func (api *academicApi) querySubjects(ctx echo.Context) error {
	activeOnly := true
	if b := queryBool(ctx, "active"); b != nil {
		activeOnly = *b
	}
	subjects, err := api.svc.Subjects(ctx.Request().Context(), activeOnly)
	if err != nil {
		return errors.Wrap(err, "querying subjects")
	}
	if subjects == nil {
		subjects = []academic.Subject{}
	}
	return ctx.JSON(http.StatusOK, subjects)
}

func (api *academicApi) createSubject(ctx echo.Context) error {
	var data academic.NewSubject
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSubject")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	sub, err := api.svc.CreateSubject(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating subject")
	}
	return ctx.JSON(http.StatusCreated, sub)
}

func (api *academicApi) updateSubject(ctx echo.Context) error {
	sub, err := api.svc.GetSubject(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding subject")
	}
	var data academic.NewSubject
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSubject")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	sub, err = api.svc.UpdateSubject(ctx.Request().Context(), sub, data)
	if err != nil {
		return errors.Wrap(err, "updating subject")
	}
	return ctx.JSON(http.StatusOK, sub)
}

// Courses

func (api *academicApi) queryCourses(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	filter := academic.CourseFilter{
		Year:       queryInt(ctx, "year", 0),
		Level:      queryInt(ctx, "level", 0),
		ActiveOnly: ctx.QueryParam("active") == "true",
	}
	ids, all, err := api.az.PermittedCourses(ctx.Request().Context(), usr)
	if err != nil {
		return errors.Wrap(err, "getting permitted courses")
	}
	if !all {
		if ids == nil {
			ids = []string{}
		}
		filter.IDs = ids
	}

	courses, err := api.svc.Courses(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying courses")
	}
	if courses == nil {
		courses = []academic.Course{}
	}
	return ctx.JSON(http.StatusOK, courses)
}

func (api *academicApi) createCourse(ctx echo.Context) error {
	var data academic.NewCourse
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewCourse")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	c, err := api.svc.CreateCourse(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating course")
	}
	return ctx.JSON(http.StatusCreated, c)
}

// readableCourse loads the :id course once the context user is allowed to read it.
func (api *academicApi) readableCourse(ctx echo.Context) (academic.Course, error) {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return academic.Course{}, errors.Wrap(err, "getting context user")
	}
	c, err := api.svc.GetCourse(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return academic.Course{}, errors.Wrap(err, "finding course")
	}
	if err = api.az.Require(ctx.Request().Context(), usr, access.Read, access.Target{CourseID: c.ID}); err != nil {
		return academic.Course{}, err
	}
	return c, nil
}

func (api *academicApi) retrieveCourse(ctx echo.Context) error {
	c, err := api.readableCourse(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *academicApi) updateCourse(ctx echo.Context) error {
	c, err := api.svc.GetCourse(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding course")
	}
	var data academic.NewCourse
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewCourse")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	c, err = api.svc.UpdateCourse(ctx.Request().Context(), c, data)
	if err != nil {
		return errors.Wrap(err, "updating course")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *academicApi) courseStudents(ctx echo.Context) error {
	c, err := api.readableCourse(ctx)
	if err != nil {
		return err
	}
	usr, _ := api.auth.contextUser(ctx)
	if usr.IsStudent() || usr.IsGuardian() {
		return errHttpForbidden
	}
	students, err := api.svc.ActiveStudents(ctx.Request().Context(), c.ID)
	if err != nil {
		return errors.Wrap(err, "listing students")
	}
	return ctx.JSON(http.StatusOK, students)
}

func (api *academicApi) recountStudents(ctx echo.Context) error {
	c, err := api.svc.RecountStudents(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "recounting students")
	}
	return ctx.JSON(http.StatusOK, c)
}

// Enrollments

func (api *academicApi) queryEnrollments(ctx echo.Context) error {
	filter := academic.EnrollmentFilter{
		StudentID: ctx.QueryParam("student_id"),
		CourseID:  ctx.QueryParam("course_id"),
		Year:      queryInt(ctx, "year", 0),
		Status:    ctx.QueryParam("status"),
	}
	enrollments, err := api.svc.Enrollments(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying enrollments")
	}
	if enrollments == nil {
		enrollments = []academic.Enrollment{}
	}
	return ctx.JSON(http.StatusOK, enrollments)
}

func (api *academicApi) enroll(ctx echo.Context) error {
	var data academic.NewEnrollment
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewEnrollment")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	e, created, err := api.svc.Enroll(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "enrolling student")
	}
	if _, err = api.svc.RecountStudents(ctx.Request().Context(), e.CourseID); err != nil {
		return errors.Wrap(err, "recounting students")
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	return ctx.JSON(code, e)
}

func (api *academicApi) setEnrollmentStatus(ctx echo.Context) error {
	e, err := api.svc.GetEnrollment(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding enrollment")
	}
	var data academic.EnrollmentStatusUpdate
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to EnrollmentStatusUpdate")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	e, err = api.svc.SetEnrollmentStatus(ctx.Request().Context(), e, data.Status)
	if err != nil {
		return errors.Wrap(err, "updating enrollment")
	}
	if _, err = api.svc.RecountStudents(ctx.Request().Context(), e.CourseID); err != nil {
		return errors.Wrap(err, "recounting students")
	}
	return ctx.JSON(http.StatusOK, e)
}

// Schedule

func (api *academicApi) schedule(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	filter := academic.SlotFilter{
		CourseID:  ctx.QueryParam("course_id"),
		TeacherID: ctx.QueryParam("teacher_id"),
		Day:       ctx.QueryParam("day"),
	}
	if usr.IsTeacher() && filter.CourseID == "" && filter.TeacherID == "" {
		filter.TeacherID = usr.ID
	}
	ids, all, err := api.az.PermittedCourses(ctx.Request().Context(), usr)
	if err != nil {
		return errors.Wrap(err, "getting permitted courses")
	}
	if !all && !(usr.IsTeacher() && filter.TeacherID == usr.ID) {
		if ids == nil {
			ids = []string{}
		}
		filter.CourseIDs = ids
	}

	slots, err := api.svc.Schedule(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying schedule")
	}
	if slots == nil {
		slots = []academic.ScheduleSlot{}
	}
	return ctx.JSON(http.StatusOK, slots)
}

func (api *academicApi) createSlot(ctx echo.Context) error {
	var data academic.NewScheduleSlot
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewScheduleSlot")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	slot, err := api.svc.CreateSlot(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating schedule slot")
	}
	return ctx.JSON(http.StatusCreated, slot)
}

func (api *academicApi) deleteSlot(ctx echo.Context) error {
	if err := api.svc.DeleteSlot(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting schedule slot")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Annotations

func (api *academicApi) queryAnnotations(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	filter := academic.AnnotationFilter{
		StudentID: ctx.QueryParam("student_id"),
		CourseID:  ctx.QueryParam("course_id"),
	}
	if usr.IsStudent() {
		filter.StudentID = usr.ID
	}
	target := access.Target{StudentID: filter.StudentID, CourseID: filter.CourseID}
	if err = api.az.Require(ctx.Request().Context(), usr, access.Read, target); err != nil {
		return err
	}
	if filter.StudentID == "" && filter.CourseID == "" {
		ids, all, err := api.az.PermittedCourses(ctx.Request().Context(), usr)
		if err != nil {
			return errors.Wrap(err, "getting permitted courses")
		}
		if !all {
			if ids == nil {
				ids = []string{}
			}
			filter.CourseIDs = ids
		}
	}

	annotations, err := api.svc.Annotations(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying annotations")
	}
	if annotations == nil {
		annotations = []academic.Annotation{}
	}
	return ctx.JSON(http.StatusOK, annotations)
}

func (api *academicApi) annotate(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var data academic.NewAnnotation
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAnnotation")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	target := access.Target{StudentID: data.StudentID, CourseID: data.CourseID}
	if err = api.az.Require(ctx.Request().Context(), usr, access.Write, target); err != nil {
		return err
	}
	a, err := api.svc.Annotate(ctx.Request().Context(), usr, data)
	if err != nil {
		return errors.Wrap(err, "annotating")
	}
	return ctx.JSON(http.StatusCreated, a)
}

// Roster

func (api *academicApi) importStudents(ctx echo.Context) error {
	return api.importRoster(ctx, func(f *multipartFile) (roster.Report, error) {
		return api.importer.ImportStudents(ctx.Request().Context(), f, getContextPeriod(ctx))
	})
}

func (api *academicApi) importTeachers(ctx echo.Context) error {
	return api.importRoster(ctx, func(f *multipartFile) (roster.Report, error) {
		return api.importer.ImportTeachers(ctx.Request().Context(), f)
	})
}

func (api *academicApi) importRoster(ctx echo.Context, run func(*multipartFile) (roster.Report, error)) error {
	f, err := formFile(ctx, "file")
	if err != nil {
		return err
	}
	if f == nil {
		return core.NewFieldError("file", "this field is required")
	}
	defer func() { _ = f.Close() }()

	report, err := run(f)
	if errors.Cause(err) == roster.ErrEmptyFile {
		return core.NewFieldError("file", err.Error())
	}
	if err != nil {
		return errors.Wrap(err, "importing roster")
	}
	return ctx.JSON(http.StatusOK, report)
}
