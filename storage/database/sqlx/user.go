package sqlxrepos

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/liceojbh/intranet/core"
	"github.com/liceojbh/intranet/core/user"
)

var userColumns = []string{
	"id", "rut", "first_name", "last_name", "username", "email", "phone", "address", "role",
	"is_active", "overall_average", "password_hash", "created_at", "updated_at", "last_login",
}

// sortable user columns, guarding ORDER BY against injection
var userOrderings = map[string]bool{
	"first_name": true, "last_name": true, "username": true, "email": true, "rut": true, "role": true, "created_at": true,
}

type userRow struct {
	ID             string       `db:"id"`
	RUT            string       `db:"rut"`
	FirstName      string       `db:"first_name"`
	LastName       string       `db:"last_name"`
	Username       string       `db:"username"`
	Email          string       `db:"email"`
	Phone          string       `db:"phone"`
	Address        string       `db:"address"`
	Role           string       `db:"role"`
	IsActive       bool         `db:"is_active"`
	OverallAverage null.Float64 `db:"overall_average"`
	PasswordHash   null.Bytes   `db:"password_hash"`
	CreatedAt      null.Time    `db:"created_at"`
	UpdatedAt      null.Time    `db:"updated_at"`
	LastLogin      null.Time    `db:"last_login"`
}

func (r userRow) unrow() user.User {
	return user.User{
		ID:             r.ID,
		RUT:            r.RUT,
		FirstName:      r.FirstName,
		LastName:       r.LastName,
		Username:       r.Username,
		Email:          r.Email,
		Phone:          r.Phone,
		Address:        r.Address,
		Role:           r.Role,
		IsActive:       r.IsActive,
		OverallAverage: r.OverallAverage.Ptr(),
		PasswordHash:   r.PasswordHash.Bytes,
		CreatedAt:      r.CreatedAt.Time,
		UpdatedAt:      r.UpdatedAt.Time,
		LastLogin:      r.LastLogin.Time,
	}
}

type userRepository struct {
	repository
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *sqlx.DB) *userRepository {
	return &userRepository{repository{db: db}}
}

func (repo userRepository) CheckUniqueness(ctx context.Context, rut, username, email string, excludedIDs []string, exec ...core.DBExecutor) error {
	clash := sq.Or{sq.Eq{"username": username}}
	if rut != "" {
		clash = append(clash, sq.Eq{"rut": rut})
	}
	if email != "" {
		clash = append(clash, sq.Eq{"email": email})
	}
	b := psql.Select("rut", "username", "email").From("users").Where(clash)
	if len(excludedIDs) > 0 {
		b = b.Where(sq.NotEq{"id": excludedIDs})
	}
	q, args, err := b.ToSql()
	if err != nil {
		return errors.Wrap(err, "building uniqueness query")
	}

	var rows []userRow
	if err = sqlx.SelectContext(ctx, repo.getExec(exec), &rows, q, args...); err != nil {
		return errors.Wrap(err, "checking user uniqueness")
	}
	for _, r := range rows {
		switch {
		case rut != "" && r.RUT == rut:
			return user.ErrRUTExists
		case r.Username == username:
			return user.ErrUsernameExists
		case email != "" && r.Email == email:
			return user.ErrEmailExists
		}
	}
	return nil
}

func (repo userRepository) CreateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	usr.ID = uuid.NewString()
	q, args, err := psql.Insert("users").
		Columns(userColumns...).
		Values(usr.ID, usr.RUT, usr.FirstName, usr.LastName, usr.Username, usr.Email, usr.Phone, usr.Address, usr.Role,
			usr.IsActive, nullFloat(usr.OverallAverage), null.BytesFrom(usr.PasswordHash),
			nullTime(usr.CreatedAt), nullTime(usr.UpdatedAt), nullTime(usr.LastLogin)).
		ToSql()
	if err != nil {
		return user.User{}, errors.Wrap(err, "building insert")
	}
	if _, err = repo.getExec(exec).ExecContext(ctx, q, args...); err != nil {
		if isUniqueViolation(err) {
			return user.User{}, user.ErrUsernameExists
		}
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return usr, nil
}

// UpdateUser never touches overall_average nor created_at; a nil hash keeps the stored one.
func (repo userRepository) UpdateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	b := psql.Update("users").
		Set("rut", usr.RUT).
		Set("first_name", usr.FirstName).
		Set("last_name", usr.LastName).
		Set("username", usr.Username).
		Set("email", usr.Email).
		Set("phone", usr.Phone).
		Set("address", usr.Address).
		Set("role", usr.Role).
		Set("is_active", usr.IsActive).
		Set("updated_at", nullTime(usr.UpdatedAt)).
		Set("last_login", nullTime(usr.LastLogin)).
		Where(sq.Eq{"id": usr.ID}).
		Suffix("RETURNING " + sqlxColumns(userColumns))
	if usr.PasswordHash != nil {
		b = b.Set("password_hash", usr.PasswordHash)
	}
	q, args, err := b.ToSql()
	if err != nil {
		return user.User{}, errors.Wrap(err, "building update")
	}

	var row userRow
	if err = sqlx.GetContext(ctx, repo.getExec(exec), &row, q, args...); err != nil {
		return user.User{}, trapNoRowsErr(err, user.ErrNotFound, "updating user")
	}
	return row.unrow(), nil
}

func (repo userRepository) GetUser(ctx context.Context, filter user.GetFilter, exec ...core.DBExecutor) (user.User, error) {
	b := psql.Select(userColumns...).From("users").Limit(1)
	switch {
	case filter.ID != "":
		b = b.Where(sq.Eq{"id": filter.ID})
	case filter.RUT != "":
		b = b.Where(sq.Eq{"rut": filter.RUT})
	case filter.Username != "":
		b = b.Where(sq.Eq{"username": filter.Username})
	case filter.Email != "":
		b = b.Where(sq.Eq{"email": filter.Email})
	case filter.UsernameOrEmail != "":
		v := filter.UsernameOrEmail
		b = b.Where(sq.Or{sq.Eq{"username": v}, sq.Eq{"email": v}, sq.Eq{"rut": v}})
	default:
		return user.User{}, user.ErrNotFound
	}
	q, args, err := b.ToSql()
	if err != nil {
		return user.User{}, errors.Wrap(err, "building query")
	}

	var row userRow
	if err = sqlx.GetContext(ctx, repo.getExec(exec), &row, q, args...); err != nil {
		return user.User{}, trapNoRowsErr(err, user.ErrNotFound, "getting user")
	}
	return row.unrow(), nil
}

func (repo userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]user.User, error) {
	b := psql.Select(userColumns...).From("users")
	if filter != nil {
		// users with names, username, email or RUT matching the search keyword
		if filter.Search != "" {
			val := "%" + filter.Search + "%"
			b = b.Where(sq.Or{
				sq.ILike{"first_name": val}, sq.ILike{"last_name": val}, sq.ILike{"username": val},
				sq.ILike{"email": val}, sq.ILike{"rut": val},
			})
		}
		if len(filter.Roles) > 0 {
			b = b.Where(sq.Eq{"role": filter.Roles})
		}
		if filter.IsActive != nil {
			b = b.Where(sq.Eq{"is_active": *filter.IsActive})
		}
		if !filter.CreatedFrom.IsZero() {
			b = b.Where(sq.GtOrEq{"created_at": filter.CreatedFrom.UTC()})
		}
		if !filter.CreatedTo.IsZero() {
			b = b.Where(sq.LtOrEq{"created_at": filter.CreatedTo.UTC()})
		}
		b = where(b, idsClause("id", filter.IDs))
	}
	for _, ord := range ordering {
		if userOrderings[ord.Field] {
			b = b.OrderBy(ord.String())
		}
	}
	q, args, err := b.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}

	var rows []userRow
	if err = sqlx.SelectContext(ctx, repo.getExec(exec), &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	users := make([]user.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.unrow())
	}
	return users, nil
}

func (repo userRepository) DeleteUsers(ctx context.Context, ids []string, exec ...core.DBExecutor) error {
	if len(ids) == 0 {
		return nil
	}
	q, args, err := psql.Delete("users").Where(sq.Eq{"id": ids}).ToSql()
	if err != nil {
		return errors.Wrap(err, "building delete")
	}
	_, err = repo.getExec(exec).ExecContext(ctx, q, args...)
	return errors.Wrap(err, "deleting users")
}

func (repo userRepository) CountUsers(ctx context.Context, role string, isActive *bool, exec ...core.DBExecutor) (int, error) {
	b := psql.Select("COUNT(*)").From("users")
	if role != "" {
		b = b.Where(sq.Eq{"role": role})
	}
	if isActive != nil {
		b = b.Where(sq.Eq{"is_active": *isActive})
	}
	return count(ctx, repo.getExec(exec), b, "counting users")
}

var linkColumns = []string{"id", "guardian_id", "student_id", "relationship", "is_primary", "created_at"}

type linkRow struct {
	ID           string    `db:"id"`
	GuardianID   string    `db:"guardian_id"`
	StudentID    string    `db:"student_id"`
	Relationship string    `db:"relationship"`
	IsPrimary    bool      `db:"is_primary"`
	CreatedAt    null.Time `db:"created_at"`
}

func (repo userRepository) CreateGuardianLink(ctx context.Context, link user.GuardianLink, exec ...core.DBExecutor) (user.GuardianLink, error) {
	link.ID = uuid.NewString()
	q, args, err := psql.Insert("guardian_links").
		Columns(linkColumns...).
		Values(link.ID, link.GuardianID, link.StudentID, link.Relationship, link.IsPrimary, nullTime(link.CreatedAt)).
		ToSql()
	if err != nil {
		return user.GuardianLink{}, errors.Wrap(err, "building insert")
	}
	if _, err = repo.getExec(exec).ExecContext(ctx, q, args...); err != nil {
		if isUniqueViolation(err) {
			return user.GuardianLink{}, user.ErrLinkExists
		}
		return user.GuardianLink{}, errors.Wrap(err, "inserting guardian link")
	}
	return link, nil
}

func (repo userRepository) QueryGuardianLinks(ctx context.Context, filter user.LinkFilter, exec ...core.DBExecutor) ([]user.GuardianLink, error) {
	b := psql.Select(linkColumns...).From("guardian_links").OrderBy("created_at")
	if filter.GuardianID != "" {
		b = b.Where(sq.Eq{"guardian_id": filter.GuardianID})
	}
	if filter.StudentID != "" {
		b = b.Where(sq.Eq{"student_id": filter.StudentID})
	}
	q, args, err := b.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}

	var rows []linkRow
	if err = sqlx.SelectContext(ctx, repo.getExec(exec), &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying guardian links")
	}
	links := make([]user.GuardianLink, 0, len(rows))
	for _, r := range rows {
		links = append(links, user.GuardianLink{
			ID:           r.ID,
			GuardianID:   r.GuardianID,
			StudentID:    r.StudentID,
			Relationship: r.Relationship,
			IsPrimary:    r.IsPrimary,
			CreatedAt:    r.CreatedAt.Time,
		})
	}
	return links, nil
}
