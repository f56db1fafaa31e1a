package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/liceojbh/intranet/core"
	"github.com/liceojbh/intranet/core/user"
)

// addUser creates a user, or reactivates the one with the same RUT and resets their password and role.
func (cli *commandLine) addUser(nu user.NewUser) error {
	ctx := context.Background()

	usr, err := cli.c.UserSvc.GetByRUT(ctx, core.CleanRUT(nu.RUT))
	switch errors.Cause(err) {
	case nil:
		usr.IsActive = true
		usr.Role = core.CleanString(nu.Role, true /* lower */)
		if err = usr.SetPassword(nu.Password); err != nil {
			return errors.Wrap(err, "setting password")
		}
		if usr, err = cli.usrRepo.UpdateUser(ctx, usr); err != nil {
			return errors.Wrap(err, "updating user")
		}
		fmt.Printf("updated user %s (%s)\n", usr.Username, usr.Role)
		return nil
	case user.ErrNotFound:
	default:
		return err
	}

	if err = nu.Validate(cli.c.Validate, cli.c.UserSvc); err != nil {
		return err
	}
	if usr, err = cli.c.UserSvc.Create(ctx, nu); err != nil {
		return err
	}
	fmt.Printf("created user %s (%s)\n", usr.Username, usr.Role)
	return nil
}
