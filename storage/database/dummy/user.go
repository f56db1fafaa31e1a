package dummydb

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/liceojbh/intranet/core"
	"github.com/liceojbh/intranet/core/user"
)

type userRepository struct {
	users *table[user.User]
	links *table[user.GuardianLink]
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *DB) user.Repository {
	return &userRepository{users: db.users, links: db.links}
}

func (repo *userRepository) CheckUniqueness(ctx context.Context, rut, username, email string, excludedIDs []string, exec ...core.DBExecutor) error {
	repo.users.RLock()
	defer repo.users.RUnlock()

	for _, u := range repo.users.filter(nil) {
		if core.StringInSlice(u.ID, excludedIDs) {
			continue
		}
		if rut != "" && u.RUT == rut {
			return user.ErrRUTExists
		}
		if u.Username == username {
			return user.ErrUsernameExists
		}
		if email != "" && u.Email == email {
			return user.ErrEmailExists
		}
	}
	return nil
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	repo.users.Lock()
	defer repo.users.Unlock()

	usr.ID = uuid.NewString()
	repo.users.put(usr.ID, usr)
	return usr, nil
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	repo.users.Lock()
	defer repo.users.Unlock()

	orig, ok := repo.users.get(usr.ID)
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	// averages are only written by SetCachedAverages
	usr.OverallAverage = orig.OverallAverage
	usr.CreatedAt = orig.CreatedAt
	if usr.PasswordHash == nil {
		usr.PasswordHash = orig.PasswordHash
	}
	repo.users.put(usr.ID, usr)
	return usr, nil
}

func (repo *userRepository) GetUser(ctx context.Context, filter user.GetFilter, exec ...core.DBExecutor) (user.User, error) {
	repo.users.RLock()
	defer repo.users.RUnlock()

	if filter.ID != "" {
		if usr, ok := repo.users.get(filter.ID); ok {
			return usr, nil
		}
		return user.User{}, user.ErrNotFound
	}
	usr, ok := repo.users.find(func(u user.User) bool {
		switch {
		case filter.RUT != "":
			return u.RUT == filter.RUT
		case filter.Username != "":
			return u.Username == filter.Username
		case filter.Email != "":
			return u.Email == filter.Email
		case filter.UsernameOrEmail != "":
			return u.Username == filter.UsernameOrEmail || u.Email == filter.UsernameOrEmail || u.RUT == filter.UsernameOrEmail
		}
		return false
	})
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return usr, nil
}

func (repo *userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]user.User, error) {
	repo.users.RLock()
	defer repo.users.RUnlock()

	if filter == nil {
		filter = &user.QueryFilter{}
	}
	search := strings.ToLower(filter.Search)
	users := repo.users.filter(func(u user.User) bool {
		if filter.IDs != nil && !core.StringInSlice(u.ID, filter.IDs) {
			return false
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(u.FirstName), search) &&
			!strings.Contains(strings.ToLower(u.LastName), search) &&
			!strings.Contains(strings.ToLower(u.Username), search) &&
			!strings.Contains(strings.ToLower(u.Email), search) &&
			!strings.Contains(strings.ToLower(u.RUT), search) {
			return false
		}
		if len(filter.Roles) > 0 && !core.StringInSlice(u.Role, filter.Roles) {
			return false
		}
		if filter.IsActive != nil && u.IsActive != *filter.IsActive {
			return false
		}
		if !filter.CreatedFrom.IsZero() && u.CreatedAt.Before(filter.CreatedFrom.UTC()) {
			return false
		}
		if !filter.CreatedTo.IsZero() && u.CreatedAt.After(filter.CreatedTo.UTC()) {
			return false
		}
		return true
	})
	sortUsers(users, ordering)
	return users, nil
}

func userField(u user.User, field string) string {
	switch field {
	case "first_name":
		return strings.ToLower(u.FirstName)
	case "last_name":
		return strings.ToLower(u.LastName)
	case "username":
		return u.Username
	case "email":
		return u.Email
	case "rut":
		return u.RUT
	case "role":
		return u.Role
	case "created_at":
		return u.CreatedAt.Format("2006-01-02T15:04:05.000000000")
	}
	return ""
}

func sortUsers(users []user.User, ordering []core.DBOrdering) {
	if len(ordering) == 0 {
		return
	}
	sort.SliceStable(users, func(i, j int) bool {
		for _, ord := range ordering {
			a, b := userField(users[i], ord.Field), userField(users[j], ord.Field)
			if a == b {
				continue
			}
			if ord.Ascending {
				return a < b
			}
			return a > b
		}
		return false
	})
}

func (repo *userRepository) DeleteUsers(ctx context.Context, ids []string, exec ...core.DBExecutor) error {
	repo.users.Lock()
	repo.users.remove(ids...)
	repo.users.Unlock()

	repo.links.Lock()
	defer repo.links.Unlock()
	for _, l := range repo.links.filter(nil) {
		if core.StringInSlice(l.GuardianID, ids) || core.StringInSlice(l.StudentID, ids) {
			repo.links.remove(l.ID)
		}
	}
	return nil
}

func (repo *userRepository) CountUsers(ctx context.Context, role string, isActive *bool, exec ...core.DBExecutor) (int, error) {
	repo.users.RLock()
	defer repo.users.RUnlock()

	users := repo.users.filter(func(u user.User) bool {
		return (role == "" || u.Role == role) && (isActive == nil || u.IsActive == *isActive)
	})
	return len(users), nil
}

func (repo *userRepository) CreateGuardianLink(ctx context.Context, link user.GuardianLink, exec ...core.DBExecutor) (user.GuardianLink, error) {
	repo.links.Lock()
	defer repo.links.Unlock()

	if _, ok := repo.links.find(func(l user.GuardianLink) bool {
		return l.GuardianID == link.GuardianID && l.StudentID == link.StudentID
	}); ok {
		return user.GuardianLink{}, user.ErrLinkExists
	}
	link.ID = uuid.NewString()
	repo.links.put(link.ID, link)
	return link, nil
}

func (repo *userRepository) QueryGuardianLinks(ctx context.Context, filter user.LinkFilter, exec ...core.DBExecutor) ([]user.GuardianLink, error) {
	repo.links.RLock()
	defer repo.links.RUnlock()

	return repo.links.filter(func(l user.GuardianLink) bool {
		return (filter.GuardianID == "" || l.GuardianID == filter.GuardianID) &&
			(filter.StudentID == "" || l.StudentID == filter.StudentID)
	}), nil
}
