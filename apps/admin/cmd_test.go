package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/liceojbh/intranet/core"
	"github.com/liceojbh/intranet/core/academic"
	"github.com/liceojbh/intranet/core/user"
	"github.com/liceojbh/intranet/tests"
)

func setup(t *testing.T) (*commandLine, *testutil.Env) {
	env := testutil.NewEnv(t)
	return &commandLine{c: env.Container, usrRepo: env.Repos.User}, env
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

func runCLITests(t *testing.T, cli *commandLine, tests []cliTest) {
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(args)
			switch {
			case tt.wantErr != nil:
				assert.Equal(t, tt.wantErr, err)
			case tt.wantErrStr != "":
				if assert.Error(t, err) {
					assert.Contains(t, err.Error(), tt.wantErrStr)
				}
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func Test_commandLine_migrate(t *testing.T) {
	cli, _ := setup(t)

	gooseRunFunc = func(ctx context.Context, command string, db *sql.DB, dir string, args ...string) error {
		if dir != "migrations" {
			return fmt.Errorf("unexpected dir %q", dir)
		}
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: goose [OPTIONS] DRIVER DBSTRING %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	runCLITests(t, cli, []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "create", args: []string{"migrate", "create", "course", "sql"}},
	})
}

func Test_commandLine_resetPassword(t *testing.T) {
	cli, env := setup(t)

	usr := testutil.CreateUser(t, env.Repos.User, "User", "awe", "awe@test.cl", "mdr", user.RoleTeacher, true)

	type extra struct {
		pwd string
	}
	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "username but no password", args: []string{"resetpassword", "-username", "lol"}, wantErr: errHelp},
		{name: "user not found", args: []string{"resetpassword", "-username", "lol"}, extra: extra{pwd: "lol"}, wantErr: user.ErrNotFound},
		{name: "reset with username", args: []string{"resetpassword", "-username", usr.Username}, extra: extra{pwd: "lol"}},
		{name: "reset with email", args: []string{"resetpassword", "-username", usr.Email}, extra: extra{pwd: "lmao"}},
		{name: "reset with rut", args: []string{"resetpassword", "-username", core.FormatRUT(usr.RUT)}, extra: extra{pwd: "xd"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		readPasswordFunc = func(fd int) ([]byte, error) {
			if extra, ok := tt.extra.(extra); ok {
				return []byte(extra.pwd), nil
			}
			return nil, nil
		}

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(args)
			if err == nil {
				refreshedUsr, err := env.Repos.User.GetUser(context.Background(), user.GetFilter{ID: usr.ID})
				require.NoError(t, err)
				if bytes.Equal(refreshedUsr.PasswordHash, usr.PasswordHash) {
					t.Error("failed to update new password")
				}
				assert.NoError(t, refreshedUsr.CheckPassword(tt.extra.(extra).pwd))
				usr = refreshedUsr
			} else {
				assert.Equal(t, tt.wantErr, errors.Cause(err))
			}
		})
	}
}

func Test_commandLine_addUser(t *testing.T) {
	cli, env := setup(t)
	ctx := context.Background()

	readPasswordFunc = func(fd int) ([]byte, error) { return []byte("S3cure!pass"), nil }

	rut := testutil.RUT(12345678)
	existing := testutil.CreateUser(t, env.Repos.User, "Old", "old", "old@test.cl", "", user.RoleTeacher, false)

	runCLITests(t, cli, []cliTest{
		{name: "missing rut", args: []string{"adduser", "-first", "Ana"}, wantErr: errHelp},
		{name: "invalid rut", args: []string{"adduser", "-rut", "1-2", "-first", "Ana"}, wantErrStr: "validation"},
		{name: "create admin", args: []string{"adduser", "-rut", rut, "-first", "Ana", "-email", "ana@test.cl"}},
		{name: "reactivate existing", args: []string{"adduser", "-rut", existing.RUT, "-first", "Old", "-role", "staff"}},
	})

	created, err := cli.c.UserSvc.GetByRUT(ctx, core.CleanRUT(rut))
	require.NoError(t, err)
	assert.Equal(t, user.RoleAdmin, created.Role)
	assert.True(t, created.IsActive)
	assert.NoError(t, created.CheckPassword("S3cure!pass"))

	reactivated, err := cli.c.UserSvc.GetByID(ctx, existing.ID)
	require.NoError(t, err)
	assert.True(t, reactivated.IsActive)
	assert.Equal(t, user.RoleStaff, reactivated.Role)
}

func Test_commandLine_schoolCodeAndPeriod(t *testing.T) {
	cli, _ := setup(t)
	ctx := context.Background()

	runCLITests(t, cli, []cliTest{
		{name: "generate code", args: []string{"schoolcode"}},
		{name: "missing period args", args: []string{"setperiod", "-year", "2024"}, wantErr: errHelp},
		{name: "invalid semester", args: []string{"setperiod", "-year", "2024", "-semester", "3"}, wantErrStr: "semester"},
		{name: "set period", args: []string{"setperiod", "-year", "2024", "-semester", "2"}},
	})

	c, err := cli.c.SchoolSvc.Get(ctx)
	require.NoError(t, err)
	assert.Len(t, c.Code, 8)

	// keeps the code unless forced
	require.NoError(t, cli.run([]string{"admin", "schoolcode"}))
	again, err := cli.c.SchoolSvc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, c.Code, again.Code)

	p, err := cli.c.AcademicSvc.CurrentPeriod(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.Period{Year: 2024, Semester: 2}, p)
}

func Test_commandLine_importRoster(t *testing.T) {
	cli, env := setup(t)
	ctx := context.Background()

	testutil.CreateCourse(t, env.AcademicSvc, 1, "A", 2024, "")

	f := excelize.NewFile()
	rows := [][]interface{}{
		{"RUT", "Nombres", "Apellidos", "Email", "Curso"},
		{testutil.RUT(20111222), "Juan", "Pérez", "juan@test.cl", "1° Medio A"},
		{"12.345.678-0", "Bad", "Rut", "", "1° Medio A"},
	}
	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &r))
	}
	path := filepath.Join(t.TempDir(), "alumnos.xlsx")
	require.NoError(t, f.SaveAs(path))

	runCLITests(t, cli, []cliTest{
		{name: "missing file", args: []string{"import", "-kind", "students"}, wantErr: errHelp},
		{name: "unknown kind", args: []string{"import", "-kind", "parents", "-file", path}, wantErr: errHelp},
		{name: "file not found", args: []string{"import", "-kind", "students", "-file", path + ".nope", "-year", "2024", "-semester", "1"}, wantErrStr: "opening roster"},
		{name: "students", args: []string{"import", "-kind", "students", "-file", path, "-year", "2024", "-semester", "1"}},
	})

	students, err := env.AcademicSvc.Enrollments(ctx, academic.EnrollmentFilter{Year: 2024})
	require.NoError(t, err)
	assert.Len(t, students, 1)
}
