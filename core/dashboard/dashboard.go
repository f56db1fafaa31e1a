// Package dashboard computes the read-only panels: school KPIs, risk alerts and the
// per-role summaries shown after login.
package dashboard

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/liceojbh/intranet/core"
	"github.com/liceojbh/intranet/core/academic"
	"github.com/liceojbh/intranet/core/attendance"
	"github.com/liceojbh/intranet/core/content"
	"github.com/liceojbh/intranet/core/grade"
	"github.com/liceojbh/intranet/core/user"
)

// MinAttendance is the attendance percentage below which a student is flagged.
const MinAttendance = 85.0

// Risk kinds and levels
const (
	RiskGrades     = "Rendimiento Crítico"
	RiskAttendance = "Inasistencia Grave"

	LevelHigh   = "alto"
	LevelMedium = "medio"
)

var errStaffOnly = core.NewPermissionError("only staff may see the school dashboard")

type (
	KPIs struct {
		ActiveStudents    int     `json:"active_students"`
		ActiveTeachers    int     `json:"active_teachers"`
		RecordsToday      int     `json:"records_today"`
		AttendanceToday   float64 `json:"attendance_today"`
		AbsenceToday      float64 `json:"absence_today"`
		NewsThisMonth     int     `json:"news_this_month"`
		ActiveCourses     int     `json:"active_courses"`
		ActiveEnrollments int     `json:"active_enrollments"`
	}

	RiskAlert struct {
		StudentID   string   `json:"student_id"`
		StudentName string   `json:"student_name"`
		CourseID    string   `json:"course_id"`
		CourseName  string   `json:"course_name"`
		Average     *float64 `json:"average"`
		Attendance  float64  `json:"attendance"`
		Risks       []string `json:"risks"`
		Level       string   `json:"level"`
	}

	LevelAverage struct {
		Level    int      `json:"level"`
		Students int      `json:"students"`
		Average  *float64 `json:"average"`
	}

	CourseSummary struct {
		CourseID   string   `json:"course_id"`
		CourseName string   `json:"course_name"`
		Average    *float64 `json:"average"`
		Attendance float64  `json:"attendance"`
	}

	StudentPanel struct {
		Student        user.User       `json:"student"`
		OverallAverage *float64        `json:"overall_average"`
		Attendance     float64         `json:"attendance"`
		Courses        []CourseSummary `json:"courses"`
	}

	TeacherCourse struct {
		academic.Course
		IsHomeroom     bool `json:"is_homeroom"`
		ActiveStudents int  `json:"active_students"`
	}

	TeacherPanel struct {
		Courses []TeacherCourse `json:"courses"`
	}

	Pupil struct {
		Student      user.User `json:"student"`
		Relationship string    `json:"relationship"`
		CourseID     string    `json:"course_id"`
		CourseName   string    `json:"course_name"`
		Average      *float64  `json:"average"`
		Attendance   float64   `json:"attendance"`
	}

	GuardianPanel struct {
		Pupils []Pupil `json:"pupils"`
	}
)

type Service struct {
	users      *user.Service
	academic   *academic.Service
	attendance *attendance.Service
	content    *content.Service
}

func NewService(usrSvc *user.Service, academicSvc *academic.Service, attendanceSvc *attendance.Service, contentSvc *content.Service) *Service {
	return &Service{users: usrSvc, academic: academicSvc, attendance: attendanceSvc, content: contentSvc}
}

// KPIs returns the school-wide indicators for the day of now.
func (svc *Service) KPIs(ctx context.Context, actor user.User, period core.Period, now time.Time) (KPIs, error) {
	if !actor.IsActive || !actor.IsStaff() {
		return KPIs{}, errStaffOnly
	}
	var k KPIs
	var err error
	if k.ActiveStudents, err = svc.users.CountByRole(ctx, user.RoleStudent, true /* activeOnly */); err != nil {
		return KPIs{}, errors.Wrap(err, "counting students")
	}
	if k.ActiveTeachers, err = svc.users.CountByRole(ctx, user.RoleTeacher, true /* activeOnly */); err != nil {
		return KPIs{}, errors.Wrap(err, "counting teachers")
	}

	records, err := svc.attendance.Records(ctx, attendance.Filter{Date: core.Day(now)})
	if err != nil {
		return KPIs{}, errors.Wrap(err, "querying today's attendance")
	}
	stats := attendance.ComputeStats(records)
	k.RecordsToday = stats.Total
	if stats.Total > 0 {
		k.AttendanceToday = stats.Percentage
		k.AbsenceToday = core.Percentage(stats.Absent, stats.Total, 0)
	}

	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	if k.NewsThisMonth, err = svc.content.CountNewsSince(ctx, monthStart); err != nil {
		return KPIs{}, err
	}

	courses, err := svc.academic.Courses(ctx, academic.CourseFilter{Year: period.Year, ActiveOnly: true})
	if err != nil {
		return KPIs{}, errors.Wrap(err, "querying courses")
	}
	k.ActiveCourses = len(courses)
	enrollments, err := svc.academic.Enrollments(ctx, academic.EnrollmentFilter{Year: period.Year, Status: academic.StatusActive})
	if err != nil {
		return KPIs{}, errors.Wrap(err, "querying enrollments")
	}
	k.ActiveEnrollments = len(enrollments)
	return k, nil
}

type pair struct{ student, course string }

// attendanceByPair computes the attendance percentage of every (student, course) with records.
func (svc *Service) attendanceByPair(ctx context.Context, filter attendance.Filter) (map[pair]float64, error) {
	records, err := svc.attendance.Records(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "querying attendance")
	}
	grouped := make(map[pair][]attendance.Record)
	for _, r := range records {
		k := pair{r.StudentID, r.CourseID}
		grouped[k] = append(grouped[k], r)
	}
	pct := make(map[pair]float64, len(grouped))
	for k, rs := range grouped {
		pct[k] = attendance.ComputeStats(rs).Percentage
	}
	return pct, nil
}

func attendanceOf(pct map[pair]float64, k pair) float64 {
	if p, ok := pct[k]; ok {
		return p
	}
	return 100
}

// Assess flags a (average, attendance) pair; it returns nil when there is no risk.
func Assess(average *float64, attendancePct float64) (risks []string, level string) {
	if average != nil && *average > 0 && *average < grade.PassingScore {
		risks = append(risks, RiskGrades)
	}
	if attendancePct < MinAttendance {
		risks = append(risks, RiskAttendance)
	}
	switch len(risks) {
	case 0:
		return nil, ""
	case 1:
		return risks, LevelMedium
	}
	return risks, LevelHigh
}

// RiskAlerts lists the active enrollments of the period year with low averages or attendance, high risk first.
func (svc *Service) RiskAlerts(ctx context.Context, actor user.User, period core.Period) ([]RiskAlert, error) {
	if !actor.IsActive || !actor.IsStaff() {
		return nil, errStaffOnly
	}
	enrollments, err := svc.academic.Enrollments(ctx, academic.EnrollmentFilter{Year: period.Year, Status: academic.StatusActive})
	if err != nil {
		return nil, errors.Wrap(err, "querying enrollments")
	}
	if len(enrollments) == 0 {
		return []RiskAlert{}, nil
	}

	courseIDs := make([]string, 0)
	studentIDs := make([]string, 0, len(enrollments))
	for _, e := range enrollments {
		if !core.StringInSlice(e.CourseID, courseIDs) {
			courseIDs = append(courseIDs, e.CourseID)
		}
		studentIDs = append(studentIDs, e.StudentID)
	}
	pct, err := svc.attendanceByPair(ctx, attendance.Filter{CourseIDs: courseIDs})
	if err != nil {
		return nil, err
	}
	courses, err := svc.academic.CoursesByIDs(ctx, courseIDs...)
	if err != nil {
		return nil, errors.Wrap(err, "querying courses")
	}
	students, err := svc.users.GetByIDs(ctx, studentIDs...)
	if err != nil {
		return nil, errors.Wrap(err, "querying students")
	}
	names := make(map[string]string, len(students))
	for _, s := range students {
		names[s.ID] = s.FullName()
	}

	alerts := make([]RiskAlert, 0)
	for _, e := range enrollments {
		att := attendanceOf(pct, pair{e.StudentID, e.CourseID})
		risks, level := Assess(e.Average, att)
		if risks == nil {
			continue
		}
		alerts = append(alerts, RiskAlert{
			StudentID:   e.StudentID,
			StudentName: names[e.StudentID],
			CourseID:    e.CourseID,
			CourseName:  courses[e.CourseID].Name(),
			Average:     e.Average,
			Attendance:  att,
			Risks:       risks,
			Level:       level,
		})
	}
	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].Level == LevelHigh && alerts[j].Level != LevelHigh
	})
	return alerts, nil
}

// AveragesByLevel averages the cached enrollment averages of the period year per course level.
func (svc *Service) AveragesByLevel(ctx context.Context, actor user.User, period core.Period) ([]LevelAverage, error) {
	if !actor.IsActive || !actor.IsStaff() {
		return nil, errStaffOnly
	}
	courses, err := svc.academic.Courses(ctx, academic.CourseFilter{Year: period.Year})
	if err != nil {
		return nil, errors.Wrap(err, "querying courses")
	}
	levelOf := make(map[string]int, len(courses))
	for _, c := range courses {
		levelOf[c.ID] = c.Level
	}
	enrollments, err := svc.academic.Enrollments(ctx, academic.EnrollmentFilter{Year: period.Year, Status: academic.StatusActive})
	if err != nil {
		return nil, errors.Wrap(err, "querying enrollments")
	}

	students := make(map[int]int)
	scores := make(map[int][]float64)
	for _, e := range enrollments {
		level, ok := levelOf[e.CourseID]
		if !ok {
			continue
		}
		students[level]++
		if e.Average != nil {
			scores[level] = append(scores[level], *e.Average)
		}
	}
	levels := make([]int, 0, len(students))
	for l := range students {
		levels = append(levels, l)
	}
	sort.Ints(levels)

	averages := make([]LevelAverage, 0, len(levels))
	for _, l := range levels {
		averages = append(averages, LevelAverage{Level: l, Students: students[l], Average: core.Mean(scores[l], 1)})
	}
	return averages, nil
}

// StudentPanel summarizes a student's enrollments of the period year.
func (svc *Service) StudentPanel(ctx context.Context, student user.User, period core.Period) (StudentPanel, error) {
	enrollments, err := svc.academic.Enrollments(ctx, academic.EnrollmentFilter{StudentID: student.ID, Year: period.Year})
	if err != nil {
		return StudentPanel{}, errors.Wrap(err, "querying enrollments")
	}
	records, err := svc.attendance.Records(ctx, attendance.Filter{StudentID: student.ID})
	if err != nil {
		return StudentPanel{}, errors.Wrap(err, "querying attendance")
	}
	summaries, err := svc.summarize(ctx, enrollments, records)
	if err != nil {
		return StudentPanel{}, err
	}
	return StudentPanel{
		Student:        student,
		OverallAverage: student.OverallAverage,
		Attendance:     attendance.ComputeStats(records).Percentage,
		Courses:        summaries,
	}, nil
}

func (svc *Service) summarize(ctx context.Context, enrollments []academic.Enrollment, records []attendance.Record) ([]CourseSummary, error) {
	ids := make([]string, 0, len(enrollments))
	for _, e := range enrollments {
		ids = append(ids, e.CourseID)
	}
	courses, err := svc.academic.CoursesByIDs(ctx, ids...)
	if err != nil {
		return nil, errors.Wrap(err, "querying courses")
	}
	byCourse := make(map[string][]attendance.Record)
	for _, r := range records {
		byCourse[r.CourseID] = append(byCourse[r.CourseID], r)
	}
	summaries := make([]CourseSummary, 0, len(enrollments))
	for _, e := range enrollments {
		summaries = append(summaries, CourseSummary{
			CourseID:   e.CourseID,
			CourseName: courses[e.CourseID].Name(),
			Average:    e.Average,
			Attendance: attendance.ComputeStats(byCourse[e.CourseID]).Percentage,
		})
	}
	return summaries, nil
}

// TeacherPanel lists the courses a teacher leads or teaches with their real active student counts.
func (svc *Service) TeacherPanel(ctx context.Context, teacher user.User) (TeacherPanel, error) {
	ids, err := svc.academic.TeacherCourseIDs(ctx, teacher.ID)
	if err != nil {
		return TeacherPanel{}, err
	}
	panel := TeacherPanel{Courses: make([]TeacherCourse, 0, len(ids))}
	if len(ids) == 0 {
		return panel, nil
	}
	courses, err := svc.academic.Courses(ctx, academic.CourseFilter{IDs: ids})
	if err != nil {
		return TeacherPanel{}, errors.Wrap(err, "querying courses")
	}
	enrollments, err := svc.academic.Enrollments(ctx, academic.EnrollmentFilter{CourseIDs: ids, Status: academic.StatusActive})
	if err != nil {
		return TeacherPanel{}, errors.Wrap(err, "querying enrollments")
	}
	counts := make(map[string]int, len(ids))
	for _, e := range enrollments {
		counts[e.CourseID]++
	}
	for _, c := range courses {
		panel.Courses = append(panel.Courses, TeacherCourse{
			Course:         c,
			IsHomeroom:     c.HasHomeroomTeacher(teacher.ID),
			ActiveStudents: counts[c.ID],
		})
	}
	return panel, nil
}

// GuardianPanel lists the pupils of a guardian with their current course, average and attendance.
func (svc *Service) GuardianPanel(ctx context.Context, guardian user.User, period core.Period) (GuardianPanel, error) {
	wards, links, err := svc.users.Wards(ctx, guardian.ID)
	if err != nil {
		return GuardianPanel{}, errors.Wrap(err, "querying wards")
	}
	relationships := make(map[string]string, len(links))
	for _, l := range links {
		relationships[l.StudentID] = l.Relationship
	}

	panel := GuardianPanel{Pupils: make([]Pupil, 0, len(wards))}
	for _, w := range wards {
		p := Pupil{Student: w, Relationship: relationships[w.ID], Average: w.OverallAverage, Attendance: 100}
		enrollments, err := svc.academic.Enrollments(ctx, academic.EnrollmentFilter{
			StudentID: w.ID, Year: period.Year, Status: academic.StatusActive,
		})
		if err != nil {
			return GuardianPanel{}, errors.Wrap(err, "querying enrollments")
		}
		if len(enrollments) > 0 {
			e := enrollments[0]
			c, err := svc.academic.GetCourse(ctx, e.CourseID)
			if err != nil {
				return GuardianPanel{}, errors.Wrap(err, "finding course")
			}
			p.CourseID, p.CourseName = c.ID, c.Name()
			if e.Average != nil {
				p.Average = e.Average
			}
			records, err := svc.attendance.Records(ctx, attendance.Filter{StudentID: w.ID, CourseID: c.ID})
			if err != nil {
				return GuardianPanel{}, errors.Wrap(err, "querying attendance")
			}
			p.Attendance = attendance.ComputeStats(records).Percentage
		}
		panel.Pupils = append(panel.Pupils, p)
	}
	return panel, nil
}
