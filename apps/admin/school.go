package main

import (
	"context"
	"fmt"

	"github.com/liceojbh/intranet/core"
)

func (cli *commandLine) schoolCode(force bool) error {
	c, generated, err := cli.c.SchoolSvc.EnsureCode(context.Background(), force)
	if err != nil {
		return err
	}
	if generated {
		fmt.Printf("generated school code %s\n", c.Code)
	} else {
		fmt.Printf("school code %s\n", c.Code)
	}
	return nil
}

func (cli *commandLine) setPeriod(year, semester int) error {
	p := core.Period{Year: year, Semester: semester}
	if err := cli.c.AcademicSvc.SetPeriod(context.Background(), p); err != nil {
		return err
	}
	fmt.Printf("current period set to %d-%d\n", p.Year, p.Semester)
	return nil
}
