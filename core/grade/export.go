package grade

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"

	"github.com/pkg/errors"

	"github.com/liceojbh/intranet/core"
	"github.com/liceojbh/intranet/core/academic"
	"github.com/liceojbh/intranet/core/user"
)

var csvHeader = []string{"RUT", "Estudiante", "Asignatura", "Semestre", "Evaluacion", "Tipo", "Nota", "Fecha", "Descripcion"}

// ExportCSV writes the grades of a course visible to actor as CSV, one row per grade.
func (svc *Service) ExportCSV(ctx context.Context, actor user.User, courseID string, w io.Writer) error {
	grades, err := svc.ForCourse(ctx, actor, courseID, Filter{})
	if err != nil {
		return err
	}

	studentIDs := make([]string, 0, len(grades))
	seen := make(map[string]bool)
	for _, g := range grades {
		if !seen[g.StudentID] {
			seen[g.StudentID] = true
			studentIDs = append(studentIDs, g.StudentID)
		}
	}
	students, err := svc.users.GetByIDs(ctx, studentIDs...)
	if err != nil {
		return errors.Wrap(err, "querying students")
	}
	studentsByID := make(map[string]user.User, len(students))
	for _, s := range students {
		studentsByID[s.ID] = s
	}

	subjects, err := svc.academic.Subjects(ctx, false /* activeOnly */)
	if err != nil {
		return errors.Wrap(err, "querying subjects")
	}
	subjectsByID := make(map[string]academic.Subject, len(subjects))
	for _, s := range subjects {
		subjectsByID[s.ID] = s
	}

	cw := csv.NewWriter(w)
	if err = cw.Write(csvHeader); err != nil {
		return errors.Wrap(err, "writing csv header")
	}
	for _, g := range grades {
		student := studentsByID[g.StudentID]
		record := []string{
			core.FormatRUT(student.RUT),
			student.FullName(),
			subjectsByID[g.SubjectID].Name,
			strconv.Itoa(g.Semester),
			strconv.Itoa(g.EvalNumber),
			g.Type,
			strconv.FormatFloat(g.Score, 'f', 2, 64),
			g.Date.Format("2006-01-02"),
			g.Description,
		}
		if err = cw.Write(record); err != nil {
			return errors.Wrap(err, "writing csv record")
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "flushing csv")
}
