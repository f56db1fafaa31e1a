package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"syscall"

	"golang.org/x/term"

	"github.com/liceojbh/intranet/apps/di"
	"github.com/liceojbh/intranet/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db      *sql.DB
	c       *di.Container
	usrRepo user.Repository
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  migrate COMMAND [ARGS] - run a goose command on the embedded migrations (up, down, status, ...)")
	fmt.Println("  resetpassword -username USERNAME|EMAIL|RUT - reset a user's password")
	fmt.Println("  adduser -rut RUT -first NAME [-last NAME] [-username U] [-email E] [-role ROLE] - create or reactivate a user")
	fmt.Println("  import -kind students|teachers -file PATH [-year Y -semester S] - bulk load an xlsx roster")
	fmt.Println("  schoolcode [-force] - print the school code, generating it when missing")
	fmt.Println("  setperiod -year Y -semester S - set the current academic period")
}

func (cli *commandLine) promptPassword(fs *flag.FlagSet) (string, error) {
	fmt.Print("Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	if len(pwd) == 0 {
		fs.Usage()
		return "", errHelp
	}
	return string(pwd), nil
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ExitOnError)
	resetPasswordUname := resetPasswordCmd.String("username", "", "The user's username, email or RUT. The password will be prompted next.")

	addUserCmd := flag.NewFlagSet("adduser", flag.ExitOnError)
	addUserRUT := addUserCmd.String("rut", "", "The user's RUT.")
	addUserFirst := addUserCmd.String("first", "", "The user's first names.")
	addUserLast := addUserCmd.String("last", "", "The user's last names.")
	addUserUname := addUserCmd.String("username", "", "The username; defaults to the RUT.")
	addUserEmail := addUserCmd.String("email", "", "The user's email.")
	addUserRole := addUserCmd.String("role", user.RoleAdmin, "One of student, guardian, teacher, staff, admin.")

	importCmd := flag.NewFlagSet("import", flag.ExitOnError)
	importKind := importCmd.String("kind", "", "students or teachers.")
	importFile := importCmd.String("file", "", "Path of the xlsx file.")
	importYear := importCmd.Int("year", 0, "Enrollment year; defaults to the current period.")
	importSemester := importCmd.Int("semester", 0, "Enrollment semester; defaults to the current period.")

	schoolCodeCmd := flag.NewFlagSet("schoolcode", flag.ExitOnError)
	schoolCodeForce := schoolCodeCmd.Bool("force", false, "Generate a new code even if one exists.")

	setPeriodCmd := flag.NewFlagSet("setperiod", flag.ExitOnError)
	setPeriodYear := setPeriodCmd.Int("year", 0, "The academic year.")
	setPeriodSemester := setPeriodCmd.Int("semester", 0, "The semester, 1 or 2.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *resetPasswordUname == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword(resetPasswordCmd)
		if err != nil {
			return err
		}
		return cli.resetPassword(*resetPasswordUname, pwd)

	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addUserRUT == "" || *addUserFirst == "" {
			addUserCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword(addUserCmd)
		if err != nil {
			return err
		}
		return cli.addUser(user.NewUser{
			RUT:             *addUserRUT,
			FirstName:       *addUserFirst,
			LastName:        *addUserLast,
			Username:        *addUserUname,
			Email:           *addUserEmail,
			Role:            *addUserRole,
			Password:        pwd,
			PasswordConfirm: pwd,
		})

	case "import":
		if err := importCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *importFile == "" || (*importKind != "students" && *importKind != "teachers") {
			importCmd.Usage()
			return errHelp
		}
		return cli.importRoster(*importKind, *importFile, *importYear, *importSemester)

	case "schoolcode":
		if err := schoolCodeCmd.Parse(args[2:]); err != nil {
			return err
		}
		return cli.schoolCode(*schoolCodeForce)

	case "setperiod":
		if err := setPeriodCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *setPeriodYear == 0 || *setPeriodSemester == 0 {
			setPeriodCmd.Usage()
			return errHelp
		}
		return cli.setPeriod(*setPeriodYear, *setPeriodSemester)

	default:
		cli.printUsage()
		return errHelp
	}
}
