package testutil

import (
	"context"
	"io"
	"log"
	"strconv"
	"testing"
	"time"

	"github.com/liceojbh/intranet/apps/di"
	"github.com/liceojbh/intranet/core"
	"github.com/liceojbh/intranet/core/academic"
	"github.com/liceojbh/intranet/core/user"
	emailsvc "github.com/liceojbh/intranet/services/email"
	filesvc "github.com/liceojbh/intranet/services/files"
	logsvc "github.com/liceojbh/intranet/services/logger"
	ratelimitsvc "github.com/liceojbh/intranet/services/ratelimit"
	"github.com/liceojbh/intranet/storage/database/dummy"
)

// Env is a fully wired application on the in-memory database.
type Env struct {
	*di.Container
	DB      *dummydb.DB
	Repos   dummydb.Repositories
	Limiter *ratelimitsvc.MemoryLimiter
	Files   core.FileStore
}

// NewEnv wires every service on a fresh in-memory database, with media stored under t.TempDir().
func NewEnv(t *testing.T) *Env {
	t.Helper()
	conf := core.NewTestConfig()
	conf.Upload.MediaDir = t.TempDir()

	logger := NewLogger(conf)
	files, err := filesvc.NewDiskStore(conf)
	if err != nil {
		t.Fatalf("NewDiskStore() failed: %v", err)
	}

	db := dummydb.Open()
	repos := db.Repositories()
	limiter := ratelimitsvc.NewMemoryLimiter()
	emailsvc.ResetSentMessages()

	c := di.New(conf, logger, di.Backend{
		Repos:   di.Repositories(repos),
		Tx:      db,
		Limiter: limiter,
		Files:   files,
		Mail:    emailsvc.NewConsoleServiceMock(conf, logger),
	})
	return &Env{Container: c, DB: db, Repos: repos, Limiter: limiter, Files: files}
}

// NewLogger returns a logger writing nowhere.
func NewLogger(conf *core.Config) core.Logger {
	return logsvc.NewRollbarLogger(log.New(io.Discard, "", 0), conf)
}

// RUT returns a valid formatted RUT for body.
func RUT(body int) string {
	b := strconv.Itoa(body)
	dv, _ := core.RUTCheckDigit(b)
	return b + "-" + dv
}

var rutSeq = 10000000

// NextRUT returns a fresh valid RUT on every call.
func NextRUT() string {
	rutSeq++
	return RUT(rutSeq)
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	first, uname, email, pwd, role string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		RUT:       core.CleanRUT(NextRUT()),
		FirstName: first,
		LastName:  "Test",
		Username:  uname,
		Email:     email,
		Role:      role,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

func CreateSubject(t *testing.T, svc *academic.Service, name, code string) academic.Subject {
	t.Helper()
	sub, err := svc.CreateSubject(context.Background(), academic.NewSubject{Name: name, Code: code})
	if err != nil {
		t.Fatalf("CreateSubject() failed: %v", err)
	}
	return sub
}

func CreateCourse(t *testing.T, svc *academic.Service, level int, letter string, year int, homeroomTeacherID string) academic.Course {
	t.Helper()
	nc := academic.NewCourse{Level: level, Letter: letter, Year: year}
	if homeroomTeacherID != "" {
		nc.HomeroomTeacherID = &homeroomTeacherID
	}
	c, err := svc.CreateCourse(context.Background(), nc)
	if err != nil {
		t.Fatalf("CreateCourse() failed: %v", err)
	}
	return c
}

func Enroll(t *testing.T, svc *academic.Service, studentID, courseID string, year int) academic.Enrollment {
	t.Helper()
	e, _, err := svc.Enroll(context.Background(), academic.NewEnrollment{StudentID: studentID, CourseID: courseID, Year: year})
	if err != nil {
		t.Fatalf("Enroll() failed: %v", err)
	}
	return e
}

// AssignSlot makes teacherID teach subjectID in courseID.
func AssignSlot(t *testing.T, svc *academic.Service, courseID, subjectID, teacherID, day string, period int) academic.ScheduleSlot {
	t.Helper()
	slot, err := svc.CreateSlot(context.Background(), academic.NewScheduleSlot{
		CourseID: courseID, SubjectID: subjectID, TeacherID: teacherID, Day: day, Period: period,
	})
	if err != nil {
		t.Fatalf("CreateSlot() failed: %v", err)
	}
	return slot
}

func LinkGuardian(t *testing.T, svc *user.Service, guardianID, studentID string) user.GuardianLink {
	t.Helper()
	link, err := svc.LinkGuardian(context.Background(), user.NewGuardianLink{GuardianID: guardianID, StudentID: studentID, Relationship: "madre", IsPrimary: true})
	if err != nil {
		t.Fatalf("LinkGuardian() failed: %v", err)
	}
	return link
}

func FloatPtr(f float64) *float64 { return &f }
