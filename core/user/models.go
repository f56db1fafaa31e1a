package user

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/liceojbh/intranet/core"
)

// Roles
const (
	RoleStudent  = "student"  // estudiante
	RoleGuardian = "guardian" // apoderado
	RoleTeacher  = "teacher"  // profesor
	RoleStaff    = "staff"    // administrativo
	RoleAdmin    = "admin"    // directivo
)

var (
	AllRoles = []string{RoleStudent, RoleGuardian, RoleTeacher, RoleStaff, RoleAdmin}

	rolePriorities = map[string]int{
		RoleAdmin:    30,
		RoleStaff:    20,
		RoleTeacher:  11,
		RoleGuardian: 5,
		RoleStudent:  1,
	}

	Roles = []Role{
		{Name: "Estudiante", Value: RoleStudent},
		{Name: "Apoderado", Value: RoleGuardian},
		{Name: "Profesor", Value: RoleTeacher},
		{Name: "Administrativo", Value: RoleStaff},
		{Name: "Directivo", Value: RoleAdmin},
	}
)

func RolePriority(role string) int {
	return rolePriorities[role]
}

func IsValidRole(role string) bool {
	_, ok := rolePriorities[role]
	return ok
}

type Role struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type User struct {
	ID             string    `json:"id"`
	RUT            string    `json:"rut"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	Phone          string    `json:"phone"`
	Address        string    `json:"address"`
	Role           string    `json:"role"`
	IsActive       bool      `json:"is_active"`
	OverallAverage *float64  `json:"overall_average"`
	PasswordHash   []byte    `json:"-"`
	CreatedAt      time.Time `json:"created_at"` // UTC
	UpdatedAt      time.Time `json:"updated_at"` // UTC
	LastLogin      time.Time `json:"last_login"` // UTC
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func (u User) IsStudent() bool  { return u.Role == RoleStudent }
func (u User) IsGuardian() bool { return u.Role == RoleGuardian }
func (u User) IsTeacher() bool  { return u.Role == RoleTeacher }

// IsStaff is true for administrative and management users; they bypass course scoping.
func (u User) IsStaff() bool { return u.Role == RoleStaff || u.Role == RoleAdmin }

func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

// NewUser contains information needed to create a new User.
type NewUser struct {
	RUT             string `json:"rut" validate:"required,rut"`
	FirstName       string `json:"first_name" validate:"required,max=100"`
	LastName        string `json:"last_name" validate:"max=100"`
	Username        string `json:"username" validate:"omitempty,min=4,max=150,alphanum_"`
	Email           string `json:"email" validate:"omitempty,email"`
	Phone           string `json:"phone" validate:"max=20"`
	Address         string `json:"address" validate:"max=255"`
	Role            string `json:"role" validate:"required,role"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
}

// Clean normalizes the fields; the username defaults to the cleaned RUT.
func (nu *NewUser) Clean() {
	nu.RUT = core.CleanRUT(nu.RUT)
	nu.FirstName = core.CleanString(nu.FirstName)
	nu.LastName = core.CleanString(nu.LastName)
	nu.Username = core.CleanString(nu.Username, true /* lower */)
	if nu.Username == "" {
		nu.Username = strings.ToLower(nu.RUT)
	}
	nu.Email = core.CleanString(nu.Email, true /* lower */)
	nu.Phone = core.CleanString(nu.Phone)
	nu.Address = core.CleanString(nu.Address)
	nu.Role = core.CleanString(nu.Role, true /* lower */)
}

func (nu *NewUser) Validate(validate *validator.Validate, svc *Service) error {
	nu.Clean()
	if err := validate.Struct(nu); err != nil {
		return err
	}
	return svc.CheckUniqueness(nu.RUT, nu.Username, nu.Email)
}

// UpdateUser defines what information may be provided to modify an existing User.
type UpdateUser struct {
	FirstName       string `json:"first_name" validate:"max=100"`
	LastName        string `json:"last_name" validate:"max=100"`
	Username        string `json:"username" validate:"omitempty,min=4,max=150,alphanum_"`
	Email           string `json:"email" validate:"omitempty,email"`
	Phone           string `json:"phone" validate:"max=20"`
	Address         string `json:"address" validate:"max=255"`
	IsActive        *bool  `json:"is_active"`
	Password        string `json:"password" validate:"omitempty"`
	PasswordConfirm string `json:"password_confirm" validate:"required_with=Password,eqfield=Password"`
}

func (uu *UpdateUser) Validate(origUsr User, validate *validator.Validate, svc *Service) error {
	pick := func(val, orig string, lower bool) string {
		if v := core.CleanString(val, lower); v != "" {
			return v
		}
		return orig
	}
	uu.FirstName = pick(uu.FirstName, origUsr.FirstName, false)
	uu.LastName = pick(uu.LastName, origUsr.LastName, false)
	uu.Username = pick(uu.Username, origUsr.Username, true)
	uu.Email = pick(uu.Email, origUsr.Email, true)
	uu.Phone = pick(uu.Phone, origUsr.Phone, false)
	uu.Address = pick(uu.Address, origUsr.Address, false)

	if err := validate.Struct(uu); err != nil {
		return err
	}
	return svc.CheckUniqueness(origUsr.RUT, uu.Username, uu.Email, origUsr)
}

type ResetUserPassword struct {
	Token           string `json:"token,omitempty" validate:"required"`
	UID             string `json:"uid,omitempty" validate:"required"`
	Password        string `json:"password,omitempty" validate:"required"`
	PasswordConfirm string `json:"password_confirm,omitempty" validate:"required,eqfield=Password"`
}

func (rp ResetUserPassword) Validate(validate *validator.Validate) error { return validate.Struct(rp) }

// GetFilter selects a single User; the first non-empty field wins.
type GetFilter struct {
	ID              string
	RUT             string
	Username        string
	Email           string
	UsernameOrEmail string // also matches the RUT
}

type QueryFilter struct {
	Search      string    `query:"search"`
	Roles       []string  `query:"role"`
	IsActive    *bool     `query:"is_active"`
	CreatedFrom time.Time `query:"created_from"`
	CreatedTo   time.Time `query:"created_to"`
	IDs         []string  `query:"-"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.Roles == nil && qf.IsActive == nil && qf.CreatedFrom.IsZero() && qf.CreatedTo.IsZero() && qf.IDs == nil
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}

// Relationships between a guardian and a student.
const (
	RelationFather = "padre"
	RelationMother = "madre"
	RelationTutor  = "tutor"
	RelationOther  = "otro"
)

// GuardianLink ties a guardian (apoderado) to a student they may follow.
type GuardianLink struct {
	ID           string    `json:"id"`
	GuardianID   string    `json:"guardian_id"`
	StudentID    string    `json:"student_id"`
	Relationship string    `json:"relationship"`
	IsPrimary    bool      `json:"is_primary"`
	CreatedAt    time.Time `json:"created_at"`
}

type NewGuardianLink struct {
	GuardianID   string `json:"guardian_id" validate:"required"`
	StudentID    string `json:"student_id" validate:"required"`
	Relationship string `json:"relationship" validate:"required,oneof=padre madre tutor otro"`
	IsPrimary    bool   `json:"is_primary"`
}

func (nl *NewGuardianLink) Validate(validate *validator.Validate) error {
	nl.Relationship = core.CleanString(nl.Relationship, true /* lower */)
	if nl.Relationship == "" {
		nl.Relationship = RelationOther
	}
	return validate.Struct(nl)
}

type LinkFilter struct {
	GuardianID string
	StudentID  string
}
