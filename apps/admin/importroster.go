package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/liceojbh/intranet/core/roster"
)

// importRoster loads an xlsx roster; a zero year or semester falls back to the current period.
func (cli *commandLine) importRoster(kind, path string, year, semester int) error {
	ctx := context.Background()
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "opening roster")
	}
	defer func() { _ = f.Close() }()

	var report roster.Report
	switch kind {
	case "students":
		period, err := cli.c.AcademicSvc.CurrentPeriod(ctx)
		if err != nil {
			return err
		}
		if year != 0 {
			period.Year = year
		}
		if semester != 0 {
			period.Semester = semester
		}
		if err = period.Validate(); err != nil {
			return err
		}
		report, err = cli.c.Importer.ImportStudents(ctx, f, period)
		if err != nil {
			return err
		}
	default:
		if report, err = cli.c.Importer.ImportTeachers(ctx, f); err != nil {
			return err
		}
	}

	fmt.Println(report)
	for _, e := range report.Errors {
		fmt.Printf("  row %d: %s\n", e.Row, e.Error)
	}
	return nil
}
