package user

import (
	"context"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/liceojbh/intranet/core"
)

var (
	// errors
	ErrNotFound       = core.NewNotFoundError("user")
	ErrRUTExists      = errors.New("a user with this RUT already exists")
	ErrEmailExists    = errors.New("a user with this email already exists")
	ErrUsernameExists = errors.New("a user with this username already exists")
	ErrLinkExists     = errors.New("this guardian is already linked to this student")
	ErrInvalidLink    = errors.New("a link needs a guardian and a student")
)

type (
	Repository interface {
		// CheckUniqueness returns ErrRUTExists, ErrUsernameExists or ErrEmailExists on the first clash.
		// An empty email never clashes.
		CheckUniqueness(ctx context.Context, rut, username, email string, excludedIDs []string, exec ...core.DBExecutor) error
		CreateUser(ctx context.Context, usr User, exec ...core.DBExecutor) (User, error)
		UpdateUser(ctx context.Context, usr User, exec ...core.DBExecutor) (User, error)
		GetUser(ctx context.Context, filter GetFilter, exec ...core.DBExecutor) (User, error)
		// QueryUsers applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on the names, username, email or RUT.
		QueryUsers(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]User, error)
		DeleteUsers(ctx context.Context, ids []string, exec ...core.DBExecutor) error
		CountUsers(ctx context.Context, role string, isActive *bool, exec ...core.DBExecutor) (int, error)

		CreateGuardianLink(ctx context.Context, link GuardianLink, exec ...core.DBExecutor) (GuardianLink, error)
		QueryGuardianLinks(ctx context.Context, filter LinkFilter, exec ...core.DBExecutor) ([]GuardianLink, error)
	}

	Service struct {
		repo    Repository
		mailSvc core.EmailService
	}
)

func NewService(repo Repository, mailSvc core.EmailService, conf *core.Config) *Service {
	secretKey = []byte(conf.SecretKey)
	if conf.PasswordResetTimeoutDelta > 0 {
		passwordResetTimeoutDelta = conf.PasswordResetTimeoutDelta
	}
	return &Service{repo: repo, mailSvc: mailSvc}
}

func (svc *Service) CheckUniqueness(rut, uname, email string, exclUsers ...User) error {
	excl := make([]string, 0, len(exclUsers))
	for _, u := range exclUsers {
		excl = append(excl, u.ID)
	}
	if err := svc.repo.CheckUniqueness(context.Background(), rut, uname, email, excl); err != nil {
		var field string
		switch errors.Cause(err) {
		case ErrRUTExists:
			field = "rut"
		case ErrUsernameExists:
			field = "username"
		case ErrEmailExists:
			field = "email"
		default:
			return errors.Wrap(err, "checking user uniqueness")
		}
		return core.NewValidationError(err, core.FieldError{Field: field, Error: err.Error()})
	}
	return nil
}

// Create stores a validated NewUser.
func (svc *Service) Create(ctx context.Context, nu NewUser, exec ...core.DBExecutor) (User, error) {
	now := time.Now().UTC()
	usr := User{
		RUT:       nu.RUT,
		FirstName: nu.FirstName,
		LastName:  nu.LastName,
		Username:  nu.Username,
		Email:     nu.Email,
		Phone:     nu.Phone,
		Address:   nu.Address,
		Role:      nu.Role,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, errors.Wrap(err, "setting password")
	}
	usr, err := svc.repo.CreateUser(ctx, usr, exec...)
	return usr, errors.Wrap(err, "creating user")
}

func (svc *Service) GetByID(ctx context.Context, id string, exec ...core.DBExecutor) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{ID: id}, exec...)
}

func (svc *Service) GetByRUT(ctx context.Context, rut string, exec ...core.DBExecutor) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{RUT: core.CleanRUT(rut)}, exec...)
}

func (svc *Service) GetByEmail(ctx context.Context, email string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{Email: core.CleanString(email, true /* lower */)})
}

// GetByUsernameOrEmail also accepts a RUT in any usual format.
func (svc *Service) GetByUsernameOrEmail(ctx context.Context, uname string) (User, error) {
	usr, err := svc.repo.GetUser(ctx, GetFilter{UsernameOrEmail: core.CleanString(uname, true /* lower */)})
	if errors.Cause(err) == ErrNotFound && core.ValidRUT(uname) {
		return svc.GetByRUT(ctx, uname)
	}
	return usr, err
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error) {
	return svc.repo.QueryUsers(ctx, filter, ordering)
}

func (svc *Service) GetByIDs(ctx context.Context, ids ...string) ([]User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return svc.repo.QueryUsers(ctx, &QueryFilter{IDs: ids}, nil)
}

func (svc *Service) CountByRole(ctx context.Context, role string, activeOnly bool) (int, error) {
	var isActive *bool
	if activeOnly {
		isActive = &activeOnly
	}
	return svc.repo.CountUsers(ctx, role, isActive)
}

func (svc *Service) Update(ctx context.Context, usr User, uu UpdateUser) (User, error) {
	usr.FirstName = uu.FirstName
	usr.LastName = uu.LastName
	usr.Username = uu.Username
	usr.Email = uu.Email
	usr.Phone = uu.Phone
	usr.Address = uu.Address
	usr.UpdatedAt = time.Now().UTC()
	if uu.IsActive != nil {
		usr.IsActive = *uu.IsActive
	}
	if uu.Password != "" {
		if err := usr.SetPassword(uu.Password); err != nil {
			return User{}, errors.Wrap(err, "setting password")
		}
	}
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *Service) SetLastLogin(ctx context.Context, usr User) (User, error) {
	usr.LastLogin = time.Now().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *Service) Delete(ctx context.Context, ids ...string) error {
	return svc.repo.DeleteUsers(ctx, ids)
}

// RequestPasswordReset emails a reset link to the active user owning email.
func (svc *Service) RequestPasswordReset(ctx context.Context, email string) error {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if !usr.IsActive {
		return ErrNotFound
	}
	svc.sendPasswordResetMail(usr)
	return nil
}

func (svc *Service) sendPasswordResetMail(usr User) {
	msg := &core.EmailMessage{
		To:           []mail.Address{{Name: usr.FullName(), Address: usr.Email}},
		Subject:      "Restablecer contraseña",
		TemplateName: "password_reset",
		TemplateData: map[string]interface{}{
			"Name":  usr.FullName(),
			"UID":   EncodeUID(usr),
			"Token": makeToken(usr),
		},
	}
	svc.mailSvc.SendMessages(msg)
}

func (svc *Service) ResetPassword(ctx context.Context, data ResetUserPassword) error {
	invalid := core.NewValidationError(errInvalidToken, core.FieldError{Field: "token", Error: errInvalidToken.Error()})

	uid, err := decodeUID(data.UID)
	if err != nil {
		return invalid
	}
	usr, err := svc.GetByID(ctx, uid)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return invalid
		}
		return errors.Wrap(err, "finding user by ID")
	}
	if err = verifyToken(usr, data.Token); err != nil {
		return core.NewValidationError(err, core.FieldError{Field: "token", Error: err.Error()})
	}
	if err = usr.SetPassword(data.Password); err != nil {
		return errors.Wrap(err, "setting password")
	}
	usr.UpdatedAt = time.Now().UTC()
	_, err = svc.repo.UpdateUser(ctx, usr)
	return errors.Wrap(err, "updating user")
}

// LinkGuardian records that a guardian follows a student.
func (svc *Service) LinkGuardian(ctx context.Context, nl NewGuardianLink) (GuardianLink, error) {
	guardian, err := svc.GetByID(ctx, nl.GuardianID)
	if err != nil {
		return GuardianLink{}, errors.Wrap(err, "finding guardian")
	}
	student, err := svc.GetByID(ctx, nl.StudentID)
	if err != nil {
		return GuardianLink{}, errors.Wrap(err, "finding student")
	}
	if !guardian.IsGuardian() || !student.IsStudent() {
		return GuardianLink{}, core.NewValidationError(ErrInvalidLink, core.FieldError{Field: "guardian_id", Error: ErrInvalidLink.Error()})
	}

	links, err := svc.repo.QueryGuardianLinks(ctx, LinkFilter{GuardianID: guardian.ID, StudentID: student.ID})
	if err != nil {
		return GuardianLink{}, errors.Wrap(err, "querying guardian links")
	}
	if len(links) > 0 {
		return GuardianLink{}, core.NewValidationError(ErrLinkExists, core.FieldError{Field: "student_id", Error: ErrLinkExists.Error()})
	}

	link, err := svc.repo.CreateGuardianLink(ctx, GuardianLink{
		GuardianID:   guardian.ID,
		StudentID:    student.ID,
		Relationship: nl.Relationship,
		IsPrimary:    nl.IsPrimary,
		CreatedAt:    time.Now().UTC(),
	})
	return link, errors.Wrap(err, "creating guardian link")
}

func (svc *Service) Links(ctx context.Context, filter LinkFilter) ([]GuardianLink, error) {
	return svc.repo.QueryGuardianLinks(ctx, filter)
}

// Wards returns the students followed by a guardian, in link order.
func (svc *Service) Wards(ctx context.Context, guardianID string) ([]User, []GuardianLink, error) {
	links, err := svc.repo.QueryGuardianLinks(ctx, LinkFilter{GuardianID: guardianID})
	if err != nil {
		return nil, nil, errors.Wrap(err, "querying guardian links")
	}
	ids := make([]string, 0, len(links))
	for _, l := range links {
		ids = append(ids, l.StudentID)
	}
	students, err := svc.GetByIDs(ctx, ids...)
	if err != nil {
		return nil, nil, errors.Wrap(err, "querying students")
	}
	byID := make(map[string]User, len(students))
	for _, s := range students {
		byID[s.ID] = s
	}
	ordered := make([]User, 0, len(links))
	kept := make([]GuardianLink, 0, len(links))
	for _, l := range links {
		if s, ok := byID[l.StudentID]; ok {
			ordered = append(ordered, s)
			kept = append(kept, l)
		}
	}
	return ordered, kept, nil
}

// Guardians returns the guardians following a student.
func (svc *Service) Guardians(ctx context.Context, studentID string) ([]User, error) {
	links, err := svc.repo.QueryGuardianLinks(ctx, LinkFilter{StudentID: studentID})
	if err != nil {
		return nil, errors.Wrap(err, "querying guardian links")
	}
	ids := make([]string, 0, len(links))
	for _, l := range links {
		ids = append(ids, l.GuardianID)
	}
	return svc.GetByIDs(ctx, ids...)
}
