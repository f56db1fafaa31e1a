// Package roster onboards students and teachers in bulk from spreadsheets.
package roster

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"

	"github.com/liceojbh/intranet/core"
	"github.com/liceojbh/intranet/core/academic"
	"github.com/liceojbh/intranet/core/user"
)

// Column headers, matched case-insensitively
const (
	colRUT       = "rut"
	colFirstName = "nombres"
	colLastName  = "apellidos"
	colEmail     = "email"
	colCourse    = "curso"
)

var (
	studentColumns = []string{colRUT, colFirstName, colLastName, colEmail, colCourse}
	teacherColumns = []string{colRUT, colFirstName, colLastName, colEmail}

	// ErrEmptyFile is returned when the first sheet has no header row.
	ErrEmptyFile = errors.New("the spreadsheet is empty")
)

type RowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

// Report aggregates an import; rows are independent so a failed row never undoes the others.
type Report struct {
	Created  int        `json:"created"`
	Existing int        `json:"existing"`
	Failed   int        `json:"failed"`
	Errors   []RowError `json:"errors"`
}

func (r *Report) fail(row int, err error) {
	r.Failed++
	r.Errors = append(r.Errors, RowError{Row: row, Error: err.Error()})
}

func (r Report) String() string {
	return fmt.Sprintf("%d created, %d existing, %d failed", r.Created, r.Existing, r.Failed)
}

type row struct {
	number int
	values map[string]string
}

type Importer struct {
	tx       core.TxRunner
	validate *validator.Validate
	users    *user.Service
	academic *academic.Service
}

func NewImporter(tx core.TxRunner, validate *validator.Validate, usrSvc *user.Service, academicSvc *academic.Service) *Importer {
	return &Importer{tx: tx, validate: validate, users: usrSvc, academic: academicSvc}
}

// readRows parses the first sheet of an xlsx workbook. The first row holds the headers;
// blank rows are skipped. Row numbers are 1-based as shown by spreadsheet software.
func readRows(r io.Reader, columns []string) ([]row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, core.NewFieldError("file", "not a valid xlsx file")
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyFile
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, errors.Wrap(err, "reading rows")
	}
	if len(rows) == 0 {
		return nil, ErrEmptyFile
	}

	index := make(map[string]int)
	for i, h := range rows[0] {
		index[core.CleanString(h, true /* lower */)] = i
	}
	var missing []string
	for _, c := range columns {
		if _, ok := index[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, core.NewFieldError("file", "missing columns: "+strings.Join(missing, ", "))
	}

	parsed := make([]row, 0, len(rows)-1)
	for i, cells := range rows[1:] {
		values := make(map[string]string, len(columns))
		blank := true
		for _, c := range columns {
			var v string
			if idx := index[c]; idx < len(cells) {
				v = core.CleanString(cells[idx])
			}
			if v != "" {
				blank = false
			}
			values[c] = v
		}
		if blank {
			continue
		}
		parsed = append(parsed, row{number: i + 2, values: values})
	}
	return parsed, nil
}

// ImportStudents creates or reuses a student per row and enrolls them in the named course of the period year.
func (im *Importer) ImportStudents(ctx context.Context, r io.Reader, period core.Period) (Report, error) {
	rows, err := readRows(r, studentColumns)
	if err != nil {
		return Report{}, err
	}

	var report Report
	touched := make(map[string]bool)
	for _, rw := range rows {
		var created bool
		var courseID string
		err := im.tx.RunInTx(ctx, func(exec core.DBExecutor) error {
			usr, isNew, err := im.getOrCreate(ctx, rw, user.RoleStudent, exec)
			if err != nil {
				return err
			}
			created = isNew

			course, err := im.academic.FindCourseByName(ctx, rw.values[colCourse], period.Year, exec)
			if err != nil {
				if errors.Cause(err) == academic.ErrCourseNotFound {
					return errors.Errorf("course %q does not exist in %d", rw.values[colCourse], period.Year)
				}
				return err
			}
			courseID = course.ID
			_, _, err = im.academic.Enroll(ctx, academic.NewEnrollment{StudentID: usr.ID, CourseID: course.ID, Year: period.Year}, exec)
			return err
		})
		if err != nil {
			report.fail(rw.number, err)
			continue
		}
		touched[courseID] = true
		if created {
			report.Created++
		} else {
			report.Existing++
		}
	}

	for id := range touched {
		if _, err := im.academic.RecountStudents(ctx, id); err != nil {
			return report, errors.Wrap(err, "recounting students")
		}
	}
	return report, nil
}

// ImportTeachers creates or reuses a teacher per row.
func (im *Importer) ImportTeachers(ctx context.Context, r io.Reader) (Report, error) {
	rows, err := readRows(r, teacherColumns)
	if err != nil {
		return Report{}, err
	}

	var report Report
	for _, rw := range rows {
		var created bool
		err := im.tx.RunInTx(ctx, func(exec core.DBExecutor) error {
			var err error
			_, created, err = im.getOrCreate(ctx, rw, user.RoleTeacher, exec)
			return err
		})
		if err != nil {
			report.fail(rw.number, err)
			continue
		}
		if created {
			report.Created++
		} else {
			report.Existing++
		}
	}
	return report, nil
}

func (im *Importer) getOrCreate(ctx context.Context, rw row, role string, exec core.DBExecutor) (user.User, bool, error) {
	rut := rw.values[colRUT]
	if !core.ValidRUT(rut) {
		return user.User{}, false, errors.Errorf("invalid RUT %q", rut)
	}
	usr, err := im.users.GetByRUT(ctx, core.CleanRUT(rut), exec)
	if err == nil {
		if usr.Role != role {
			return user.User{}, false, errors.Errorf("RUT %s belongs to a %s", core.FormatRUT(usr.RUT), usr.Role)
		}
		return usr, false, nil
	}
	if errors.Cause(err) != user.ErrNotFound {
		return user.User{}, false, err
	}

	pwd, err := RandomPassword()
	if err != nil {
		return user.User{}, false, err
	}
	nu := user.NewUser{
		RUT:             rut,
		FirstName:       rw.values[colFirstName],
		LastName:        rw.values[colLastName],
		Email:           rw.values[colEmail],
		Role:            role,
		Password:        pwd,
		PasswordConfirm: pwd,
	}
	nu.Clean()
	if err = im.validate.Struct(nu); err != nil {
		return user.User{}, false, errors.New(describe(err))
	}
	if err = im.users.CheckUniqueness(nu.RUT, nu.Username, nu.Email); err != nil {
		return user.User{}, false, err
	}
	usr, err = im.users.Create(ctx, nu, exec)
	return usr, err == nil, err
}

// RandomPassword returns a password meeting the complexity rules; users reset it on first login.
func RandomPassword() (string, error) {
	var sb strings.Builder
	for _, part := range []struct {
		n        int
		alphabet string
	}{
		{4, "ABCDEFGHJKLMNPQRSTUVWXYZ"},
		{4, "abcdefghijkmnopqrstuvwxyz"},
		{3, "23456789"},
		{1, "!#$%&*+?"},
	} {
		s, err := core.RandomString(part.n, part.alphabet)
		if err != nil {
			return "", errors.Wrap(err, "generating password")
		}
		sb.WriteString(s)
	}
	return sb.String(), nil
}

func describe(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, strings.ToLower(fe.Field())+": "+fe.Tag())
	}
	return "invalid " + strings.Join(parts, ", ")
}
