// Package dummydb is an in-memory implementation of every repository, used by tests and local demos.
package dummydb

import (
	"context"
	"sync"

	"github.com/liceojbh/intranet/core"
	"github.com/liceojbh/intranet/core/academic"
	"github.com/liceojbh/intranet/core/attendance"
	"github.com/liceojbh/intranet/core/audit"
	"github.com/liceojbh/intranet/core/content"
	"github.com/liceojbh/intranet/core/grade"
	"github.com/liceojbh/intranet/core/homework"
	"github.com/liceojbh/intranet/core/messaging"
	"github.com/liceojbh/intranet/core/notification"
	"github.com/liceojbh/intranet/core/school"
	"github.com/liceojbh/intranet/core/user"
)

// table keeps rows by primary key and remembers insertion order.
// Callers hold the embedded lock.
type table[T any] struct {
	sync.RWMutex
	rows  map[string]T
	order []string
}

func newTable[T any]() *table[T] {
	return &table[T]{rows: make(map[string]T)}
}

func (t *table[T]) get(id string) (T, bool) {
	row, ok := t.rows[id]
	return row, ok
}

func (t *table[T]) put(id string, row T) {
	if _, ok := t.rows[id]; !ok {
		t.order = append(t.order, id)
	}
	t.rows[id] = row
}

func (t *table[T]) remove(ids ...string) int {
	removed := 0
	for _, id := range ids {
		if _, ok := t.rows[id]; ok {
			delete(t.rows, id)
			removed++
		}
	}
	if removed > 0 {
		kept := t.order[:0]
		for _, id := range t.order {
			if _, ok := t.rows[id]; ok {
				kept = append(kept, id)
			}
		}
		t.order = kept
	}
	return removed
}

// filter returns the matching rows in insertion order; a nil match keeps everything.
func (t *table[T]) filter(match func(T) bool) []T {
	rows := make([]T, 0, len(t.order))
	for _, id := range t.order {
		if row := t.rows[id]; match == nil || match(row) {
			rows = append(rows, row)
		}
	}
	return rows
}

func (t *table[T]) find(match func(T) bool) (T, bool) {
	for _, id := range t.order {
		if row := t.rows[id]; match(row) {
			return row, true
		}
	}
	var zero T
	return zero, false
}

// snapshot copies the table and returns a func restoring that copy.
func (t *table[T]) snapshot() func() {
	t.RLock()
	rows := make(map[string]T, len(t.rows))
	for k, v := range t.rows {
		rows[k] = v
	}
	order := append([]string(nil), t.order...)
	t.RUnlock()

	return func() {
		t.Lock()
		t.rows, t.order = rows, order
		t.Unlock()
	}
}

type snapshotter interface {
	snapshot() func()
}

type DB struct {
	txMu   sync.Mutex
	tables []snapshotter

	users  *table[user.User]
	links  *table[user.GuardianLink]
	period *table[core.Period]

	subjects    *table[academic.Subject]
	courses     *table[academic.Course]
	enrollments *table[academic.Enrollment]
	slots       *table[academic.ScheduleSlot]
	annotations *table[academic.Annotation]

	grades     *table[grade.Grade]
	attendance *table[attendance.Record]

	conversations *table[messaging.Conversation]
	messages      *table[messaging.Message]

	newsCategories *table[content.NewsCategory]
	news           *table[content.News]
	confirmations  *table[content.Confirmation]
	docCategories  *table[content.DocumentCategory]
	documents      *table[content.Document]
	downloads      *table[content.Download]
	circulars      *table[content.Circular]
	circularReads  *table[bool]
	events         *table[content.Event]
	resources      *table[content.Resource]

	assignments *table[homework.Assignment]
	submissions *table[homework.Submission]

	activity      *table[audit.Entry]
	notifications *table[notification.Notification]
	school        *table[school.Config]
}

func Open() *DB {
	db := &DB{
		users:          newTable[user.User](),
		links:          newTable[user.GuardianLink](),
		period:         newTable[core.Period](),
		subjects:       newTable[academic.Subject](),
		courses:        newTable[academic.Course](),
		enrollments:    newTable[academic.Enrollment](),
		slots:          newTable[academic.ScheduleSlot](),
		annotations:    newTable[academic.Annotation](),
		grades:         newTable[grade.Grade](),
		attendance:     newTable[attendance.Record](),
		conversations:  newTable[messaging.Conversation](),
		messages:       newTable[messaging.Message](),
		newsCategories: newTable[content.NewsCategory](),
		news:           newTable[content.News](),
		confirmations:  newTable[content.Confirmation](),
		docCategories:  newTable[content.DocumentCategory](),
		documents:      newTable[content.Document](),
		downloads:      newTable[content.Download](),
		circulars:      newTable[content.Circular](),
		circularReads:  newTable[bool](),
		events:         newTable[content.Event](),
		resources:      newTable[content.Resource](),
		assignments:    newTable[homework.Assignment](),
		submissions:    newTable[homework.Submission](),
		activity:       newTable[audit.Entry](),
		notifications:  newTable[notification.Notification](),
		school:         newTable[school.Config](),
	}
	db.tables = []snapshotter{
		db.users, db.links, db.period,
		db.subjects, db.courses, db.enrollments, db.slots, db.annotations,
		db.grades, db.attendance,
		db.conversations, db.messages,
		db.newsCategories, db.news, db.confirmations, db.docCategories, db.documents, db.downloads,
		db.circulars, db.circularReads, db.events, db.resources,
		db.assignments, db.submissions,
		db.activity, db.notifications, db.school,
	}
	return db
}

// RunInTx runs transactions one at a time. When fn fails every table is restored to its state before fn.
// Repositories ignore exec, so fn receives nil.
func (db *DB) RunInTx(ctx context.Context, fn func(exec core.DBExecutor) error) error {
	db.txMu.Lock()
	defer db.txMu.Unlock()

	restores := make([]func(), 0, len(db.tables))
	for _, t := range db.tables {
		restores = append(restores, t.snapshot())
	}
	if err := fn(nil); err != nil {
		for _, restore := range restores {
			restore()
		}
		return err
	}
	return nil
}

var _ core.TxRunner = (*DB)(nil)

// Repositories bundles every repository of the in-memory database.
type Repositories struct {
	User         user.Repository
	Academic     academic.Repository
	Grade        grade.Repository
	Attendance   attendance.Repository
	Messaging    messaging.Repository
	Content      content.Repository
	Homework     homework.Repository
	Audit        audit.Repository
	Notification notification.Repository
	School       school.Repository
}

func (db *DB) Repositories() Repositories {
	return Repositories{
		User:         NewUserRepository(db),
		Academic:     NewAcademicRepository(db),
		Grade:        NewGradeRepository(db),
		Attendance:   NewAttendanceRepository(db),
		Messaging:    NewMessagingRepository(db),
		Content:      NewContentRepository(db),
		Homework:     NewHomeworkRepository(db),
		Audit:        NewAuditRepository(db),
		Notification: NewNotificationRepository(db),
		School:       NewSchoolRepository(db),
	}
}
