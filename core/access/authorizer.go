// Package access decides what an actor may read or write.
// Every gated entry point asks the Authorizer and turns a denial into core.PermissionError.
package access

import (
	"context"

	"github.com/pkg/errors"

	"github.com/liceojbh/intranet/core"
	"github.com/liceojbh/intranet/core/academic"
	"github.com/liceojbh/intranet/core/user"
)

type Action int

const (
	Read Action = iota
	Write
)

func (a Action) String() string {
	if a == Write {
		return "write"
	}
	return "read"
}

// Target is the data an action touches. Empty fields are not checked.
type Target struct {
	StudentID string
	CourseID  string
}

type Decision struct {
	Allowed bool
	Reason  string
	err     error
}

func allow() Decision             { return Decision{Allowed: true} }
func deny(reason string) Decision { return Decision{Reason: reason} }
func failed(err error) Decision   { return Decision{Reason: "lookup failed", err: err} }

// Err returns nil when allowed, the lookup error when the decision could not be made,
// and a *core.PermissionError otherwise.
func (d Decision) Err() error {
	if d.err != nil {
		return errors.Wrap(d.err, "authorizing")
	}
	if !d.Allowed {
		return core.NewPermissionError(d.Reason)
	}
	return nil
}

type Authorizer struct {
	academic *academic.Service
	users    *user.Service
}

func NewAuthorizer(academicSvc *academic.Service, usrSvc *user.Service) *Authorizer {
	return &Authorizer{academic: academicSvc, users: usrSvc}
}

// Authorize applies the visibility rules:
//   - inactive actors and unknown roles are always denied
//   - staff and admins bypass every check
//   - teachers act on the courses they lead or teach in, and on the students enrolled there
//   - guardians read the data of their linked students
//   - students read their own data and the courses they are enrolled in
func (az *Authorizer) Authorize(ctx context.Context, actor user.User, action Action, target Target) Decision {
	if !actor.IsActive || !user.IsValidRole(actor.Role) {
		return deny("inactive account or unknown role")
	}
	if actor.IsStaff() {
		return allow()
	}
	if target.StudentID == "" && target.CourseID == "" {
		return deny("no target")
	}

	switch actor.Role {
	case user.RoleTeacher:
		return az.authorizeTeacher(ctx, actor, action, target)
	case user.RoleGuardian:
		if action != Read {
			return deny("guardians have read-only access")
		}
		return az.authorizeGuardian(ctx, actor, target)
	case user.RoleStudent:
		if action != Read {
			return deny("students have read-only access")
		}
		return az.authorizeStudent(ctx, actor, target)
	}
	return deny("unknown role")
}

func (az *Authorizer) authorizeTeacher(ctx context.Context, actor user.User, action Action, target Target) Decision {
	permitted, err := az.academic.TeacherCourseIDs(ctx, actor.ID)
	if err != nil {
		return failed(err)
	}
	if len(permitted) == 0 {
		return deny("teacher has no course assignment")
	}

	if target.CourseID != "" {
		if !core.StringInSlice(target.CourseID, permitted) {
			return deny("course outside the teacher's assignments")
		}
		if target.StudentID == "" {
			return allow()
		}
		// the student must belong to that course
		enrolled, err := az.academic.StudentCourseIDs(ctx, target.StudentID, action == Write)
		if err != nil {
			return failed(err)
		}
		if !core.StringInSlice(target.CourseID, enrolled) {
			return deny("student not enrolled in the course")
		}
		return allow()
	}

	enrolled, err := az.academic.StudentCourseIDs(ctx, target.StudentID, true /* activeOnly */)
	if err != nil {
		return failed(err)
	}
	for _, id := range enrolled {
		if core.StringInSlice(id, permitted) {
			return allow()
		}
	}
	return deny("student outside the teacher's courses")
}

func (az *Authorizer) authorizeGuardian(ctx context.Context, actor user.User, target Target) Decision {
	links, err := az.users.Links(ctx, user.LinkFilter{GuardianID: actor.ID})
	if err != nil {
		return failed(err)
	}
	wards := make([]string, 0, len(links))
	for _, l := range links {
		wards = append(wards, l.StudentID)
	}

	if target.StudentID != "" {
		if !core.StringInSlice(target.StudentID, wards) {
			return deny("student not linked to the guardian")
		}
		if target.CourseID == "" {
			return allow()
		}
		enrolled, err := az.academic.StudentCourseIDs(ctx, target.StudentID, false /* activeOnly */)
		if err != nil {
			return failed(err)
		}
		if core.StringInSlice(target.CourseID, enrolled) {
			return allow()
		}
		return deny("student not enrolled in the course")
	}

	// a course is visible when one of the wards is enrolled in it
	for _, ward := range wards {
		enrolled, err := az.academic.StudentCourseIDs(ctx, ward, true /* activeOnly */)
		if err != nil {
			return failed(err)
		}
		if core.StringInSlice(target.CourseID, enrolled) {
			return allow()
		}
	}
	return deny("course outside the guardian's students")
}

func (az *Authorizer) authorizeStudent(ctx context.Context, actor user.User, target Target) Decision {
	if target.StudentID != "" && target.StudentID != actor.ID {
		return deny("students may only read their own data")
	}
	if target.CourseID == "" {
		return allow()
	}
	enrolled, err := az.academic.StudentCourseIDs(ctx, actor.ID, false /* activeOnly */)
	if err != nil {
		return failed(err)
	}
	if core.StringInSlice(target.CourseID, enrolled) {
		return allow()
	}
	return deny("course outside the student's enrollments")
}

// PermittedCourses returns the course IDs an actor may list data from. all is true for staff.
func (az *Authorizer) PermittedCourses(ctx context.Context, actor user.User) (ids []string, all bool, err error) {
	if !actor.IsActive {
		return nil, false, nil
	}
	switch actor.Role {
	case user.RoleStaff, user.RoleAdmin:
		return nil, true, nil
	case user.RoleTeacher:
		ids, err = az.academic.TeacherCourseIDs(ctx, actor.ID)
	case user.RoleStudent:
		ids, err = az.academic.StudentCourseIDs(ctx, actor.ID, false /* activeOnly */)
	case user.RoleGuardian:
		var wards []user.User
		if wards, _, err = az.users.Wards(ctx, actor.ID); err != nil {
			break
		}
		for _, w := range wards {
			var wardIDs []string
			if wardIDs, err = az.academic.StudentCourseIDs(ctx, w.ID, false /* activeOnly */); err != nil {
				break
			}
			ids = append(ids, wardIDs...)
		}
	}
	return ids, false, errors.Wrap(err, "computing permitted courses")
}

// Require is a shortcut returning Authorize(...).Err().
func (az *Authorizer) Require(ctx context.Context, actor user.User, action Action, target Target) error {
	return az.Authorize(ctx, actor, action, target).Err()
}
