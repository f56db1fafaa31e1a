package core

import (
	"fmt"
	"time"
)

// Period is the active academic year and semester.
// It is resolved once per request and passed to every service that depends on it.
type Period struct {
	Year     int `json:"year" db:"year"`
	Semester int `json:"semester" db:"semester"`
}

func (p Period) Validate() error {
	var flds []FieldError
	if p.Year < 2000 || p.Year > 2100 {
		flds = append(flds, FieldError{Field: "year", Error: "invalid academic year"})
	}
	if p.Semester != 1 && p.Semester != 2 {
		flds = append(flds, FieldError{Field: "semester", Error: "semester must be 1 or 2"})
	}
	if flds != nil {
		return NewValidationError(nil, flds...)
	}
	return nil
}

func (p Period) String() string {
	return fmt.Sprintf("%d-S%d", p.Year, p.Semester)
}

// DefaultPeriod guesses the period for t: first semester until July, second afterwards.
func DefaultPeriod(t time.Time) Period {
	sem := 1
	if t.Month() >= time.July {
		sem = 2
	}
	return Period{Year: t.Year(), Semester: sem}
}
