// Package content holds the read-mostly surfaces of the intranet: news, documents, circulars, course resources and the event calendar.
package content

import (
	"context"
	"io"
	"net/mail"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/liceojbh/intranet/core"
	"github.com/liceojbh/intranet/core/academic"
	"github.com/liceojbh/intranet/core/access"
	"github.com/liceojbh/intranet/core/audit"
	"github.com/liceojbh/intranet/core/notification"
	"github.com/liceojbh/intranet/core/user"
)

var (
	// errors
	ErrNewsNotFound     = core.NewNotFoundError("news")
	ErrCategoryNotFound = core.NewNotFoundError("category")
	ErrDocumentNotFound = core.NewNotFoundError("document")
	ErrCircularNotFound = core.NewNotFoundError("circular")
	ErrEventNotFound    = core.NewNotFoundError("event")

	ErrCategoryExists = errors.New("a category with this name already exists")

	errStaffOnly = core.NewPermissionError("only staff may publish content")
)

type (
	Repository interface {
		// CreateNewsCategory returns ErrCategoryExists when the name is taken.
		CreateNewsCategory(ctx context.Context, c NewsCategory, exec ...core.DBExecutor) (NewsCategory, error)
		QueryNewsCategories(ctx context.Context, exec ...core.DBExecutor) ([]NewsCategory, error)
		CreateNews(ctx context.Context, n News, exec ...core.DBExecutor) (News, error)
		UpdateNews(ctx context.Context, n News, exec ...core.DBExecutor) (News, error)
		GetNews(ctx context.Context, id string, exec ...core.DBExecutor) (News, error)
		DeleteNews(ctx context.Context, id string, exec ...core.DBExecutor) error
		// QueryNews orders featured first, then urgent, then newest.
		QueryNews(ctx context.Context, filter NewsFilter, exec ...core.DBExecutor) ([]News, error)
		// IncrementVisits atomically adds one visit and returns the new count.
		IncrementVisits(ctx context.Context, id string, exec ...core.DBExecutor) (int, error)
		// Confirm stores a read confirmation once per (news, user); created is false on repeats.
		Confirm(ctx context.Context, c Confirmation, exec ...core.DBExecutor) (bool, error)
		QueryConfirmations(ctx context.Context, newsID string, exec ...core.DBExecutor) ([]Confirmation, error)

		// CreateDocumentCategory returns ErrCategoryExists when the name is taken.
		CreateDocumentCategory(ctx context.Context, c DocumentCategory, exec ...core.DBExecutor) (DocumentCategory, error)
		// QueryDocumentCategories orders by sort order then name.
		QueryDocumentCategories(ctx context.Context, exec ...core.DBExecutor) ([]DocumentCategory, error)
		CreateDocument(ctx context.Context, d Document, exec ...core.DBExecutor) (Document, error)
		GetDocument(ctx context.Context, id string, exec ...core.DBExecutor) (Document, error)
		DeleteDocument(ctx context.Context, id string, exec ...core.DBExecutor) error
		// QueryDocuments orders official documents first, then newest.
		QueryDocuments(ctx context.Context, filter DocumentFilter, exec ...core.DBExecutor) ([]Document, error)
		// RecordDownload stores the download and increments the document counter.
		RecordDownload(ctx context.Context, d Download, exec ...core.DBExecutor) error

		CreateCircular(ctx context.Context, c Circular, exec ...core.DBExecutor) (Circular, error)
		UpdateCircular(ctx context.Context, c Circular, exec ...core.DBExecutor) (Circular, error)
		GetCircular(ctx context.Context, id string, exec ...core.DBExecutor) (Circular, error)
		// QueryCirculars orders by publication date, newest first.
		QueryCirculars(ctx context.Context, filter CircularFilter, exec ...core.DBExecutor) ([]Circular, error)
		// MarkCircularRead stores one receipt per (circular, user) and increments the read count on the first one.
		MarkCircularRead(ctx context.Context, circularID, userID string, at time.Time, exec ...core.DBExecutor) (bool, error)

		CreateEvent(ctx context.Context, e Event, exec ...core.DBExecutor) (Event, error)
		GetEvent(ctx context.Context, id string, exec ...core.DBExecutor) (Event, error)
		DeleteEvent(ctx context.Context, id string, exec ...core.DBExecutor) error
		// QueryEvents returns the events overlapping [From, To], earliest first.
		QueryEvents(ctx context.Context, filter EventFilter, exec ...core.DBExecutor) ([]Event, error)

		CreateResource(ctx context.Context, r Resource, exec ...core.DBExecutor) (Resource, error)
		GetResource(ctx context.Context, id string, exec ...core.DBExecutor) (Resource, error)
		DeleteResource(ctx context.Context, id string, exec ...core.DBExecutor) error
		// QueryResources orders newest first.
		QueryResources(ctx context.Context, filter ResourceFilter, exec ...core.DBExecutor) ([]Resource, error)
	}

	Service struct {
		repo          Repository
		tx            core.TxRunner
		validate      *validator.Validate
		files         core.FileStore
		maxUploadSize int64
		auth          *access.Authorizer
		academic      *academic.Service
		users         *user.Service
		auditSvc      *audit.Service
		notifySvc     *notification.Service
		mailSvc       core.EmailService
	}
)

func NewService(
	repo Repository,
	tx core.TxRunner,
	validate *validator.Validate,
	files core.FileStore,
	conf *core.Config,
	auth *access.Authorizer,
	academicSvc *academic.Service,
	usrSvc *user.Service,
	auditSvc *audit.Service,
	notifySvc *notification.Service,
	mailSvc core.EmailService,
) *Service {
	return &Service{
		repo:          repo,
		tx:            tx,
		validate:      validate,
		files:         files,
		maxUploadSize: conf.Upload.MaxAttachmentSize,
		auth:          auth,
		academic:      academicSvc,
		users:         usrSvc,
		auditSvc:      auditSvc,
		notifySvc:     notifySvc,
		mailSvc:       mailSvc,
	}
}

func requireStaff(actor user.User) error {
	if !actor.IsActive || !actor.IsStaff() {
		return errStaffOnly
	}
	return nil
}

// News

func (svc *Service) CreateNewsCategory(ctx context.Context, actor user.User, nc NewNewsCategory) (NewsCategory, error) {
	if err := requireStaff(actor); err != nil {
		return NewsCategory{}, err
	}
	if err := nc.Validate(svc.validate); err != nil {
		return NewsCategory{}, err
	}
	c, err := svc.repo.CreateNewsCategory(ctx, NewsCategory{Name: nc.Name, Color: nc.Color})
	if errors.Cause(err) == ErrCategoryExists {
		return NewsCategory{}, core.NewFieldError("name", err.Error())
	}
	return c, errors.Wrap(err, "creating news category")
}

func (svc *Service) NewsCategories(ctx context.Context) ([]NewsCategory, error) {
	return svc.repo.QueryNewsCategories(ctx)
}

func (svc *Service) PublishNews(ctx context.Context, actor user.User, nn NewNews) (News, error) {
	if err := requireStaff(actor); err != nil {
		return News{}, err
	}
	if err := nn.Validate(svc.validate); err != nil {
		return News{}, err
	}
	now := time.Now().UTC()
	n, err := svc.repo.CreateNews(ctx, News{
		CategoryID:           nn.CategoryID,
		Title:                nn.Title,
		Summary:              nn.Summary,
		Body:                 nn.Body,
		Image:                nn.Image,
		IsPublic:             nn.IsPublic,
		Featured:             nn.Featured,
		Urgent:               nn.Urgent,
		RequiresConfirmation: nn.RequiresConfirmation,
		AuthorID:             &actor.ID,
		CreatedAt:            now,
		UpdatedAt:            now,
	})
	return n, errors.Wrap(err, "creating news")
}

func (svc *Service) UpdateNews(ctx context.Context, actor user.User, id string, nn NewNews) (News, error) {
	if err := requireStaff(actor); err != nil {
		return News{}, err
	}
	n, err := svc.repo.GetNews(ctx, id)
	if err != nil {
		return News{}, err
	}
	if err = nn.Validate(svc.validate); err != nil {
		return News{}, err
	}
	n.CategoryID = nn.CategoryID
	n.Title = nn.Title
	n.Summary = nn.Summary
	n.Body = nn.Body
	n.Image = nn.Image
	n.IsPublic = nn.IsPublic
	n.Featured = nn.Featured
	n.Urgent = nn.Urgent
	n.RequiresConfirmation = nn.RequiresConfirmation
	n.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateNews(ctx, n)
}

func (svc *Service) DeleteNews(ctx context.Context, actor user.User, id string) error {
	if err := requireStaff(actor); err != nil {
		return err
	}
	return svc.repo.DeleteNews(ctx, id)
}

// NewsFeed lists the news visible to actor; a nil actor only sees public news.
func (svc *Service) NewsFeed(ctx context.Context, actor *user.User, filter NewsFilter) ([]News, error) {
	filter.Search = core.CleanString(filter.Search)
	filter.PublicOnly = actor == nil || !actor.IsActive
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	return svc.repo.QueryNews(ctx, filter)
}

// CountNewsSince counts the news published at or after since.
func (svc *Service) CountNewsSince(ctx context.Context, since time.Time) (int, error) {
	news, err := svc.repo.QueryNews(ctx, NewsFilter{Since: since})
	if err != nil {
		return 0, errors.Wrap(err, "querying news")
	}
	return len(news), nil
}

// ReadNews returns a news item and counts the visit.
func (svc *Service) ReadNews(ctx context.Context, actor *user.User, id string) (News, error) {
	n, err := svc.repo.GetNews(ctx, id)
	if err != nil {
		return News{}, err
	}
	if !n.IsPublic && (actor == nil || !actor.IsActive) {
		return News{}, ErrNewsNotFound
	}
	if n.Visits, err = svc.repo.IncrementVisits(ctx, n.ID); err != nil {
		return News{}, errors.Wrap(err, "counting visit")
	}
	return n, nil
}

// ConfirmNews acknowledges a news item that asks for it; repeating it is a no-op.
func (svc *Service) ConfirmNews(ctx context.Context, actor user.User, id string) (bool, error) {
	n, err := svc.repo.GetNews(ctx, id)
	if err != nil {
		return false, err
	}
	if !n.RequiresConfirmation {
		return false, core.NewFieldError("news_id", "this news does not require confirmation")
	}
	return svc.repo.Confirm(ctx, Confirmation{NewsID: n.ID, UserID: actor.ID, ConfirmedAt: time.Now().UTC()})
}

func (svc *Service) Confirmations(ctx context.Context, actor user.User, id string) ([]Confirmation, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	return svc.repo.QueryConfirmations(ctx, id)
}

// Documents

func (svc *Service) CreateDocumentCategory(ctx context.Context, actor user.User, nc NewDocumentCategory) (DocumentCategory, error) {
	if err := requireStaff(actor); err != nil {
		return DocumentCategory{}, err
	}
	if err := nc.Validate(svc.validate); err != nil {
		return DocumentCategory{}, err
	}
	c, err := svc.repo.CreateDocumentCategory(ctx, DocumentCategory{Name: nc.Name, SortOrder: nc.SortOrder})
	if errors.Cause(err) == ErrCategoryExists {
		return DocumentCategory{}, core.NewFieldError("name", err.Error())
	}
	return c, errors.Wrap(err, "creating document category")
}

func (svc *Service) DocumentCategories(ctx context.Context) ([]DocumentCategory, error) {
	return svc.repo.QueryDocumentCategories(ctx)
}

// Upload stores the file and its document row; the file is removed again when the row cannot be saved.
func (svc *Service) Upload(ctx context.Context, actor user.User, nd NewDocument, ip string) (Document, error) {
	if err := requireStaff(actor); err != nil {
		return Document{}, err
	}
	if err := nd.Validate(svc.validate, svc.maxUploadSize); err != nil {
		return Document{}, err
	}

	now := time.Now().UTC()
	path, err := svc.files.Save(ctx, "documentos/"+now.Format("2006/01"), nd.File.Filename, nd.File.Content)
	if err != nil {
		return Document{}, errors.Wrap(err, "saving document file")
	}

	d := Document{
		CategoryID:  nd.CategoryID,
		Title:       nd.Title,
		Description: nd.Description,
		Type:        DocumentType(nd.File.Filename),
		Visibility:  nd.Visibility,
		Tags:        nd.Tags,
		FileName:    nd.File.Filename,
		FilePath:    path,
		Size:        nd.File.Size,
		Version:     nd.Version,
		IsOfficial:  nd.IsOfficial,
		IsPublished: nd.IsPublished,
		UploadedBy:  &actor.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = svc.tx.RunInTx(ctx, func(exec core.DBExecutor) error {
		var err error
		if d, err = svc.repo.CreateDocument(ctx, d, exec); err != nil {
			return errors.Wrap(err, "creating document")
		}
		return svc.auditSvc.Record(ctx, actor.ID, audit.KindResource, "Subió el documento "+d.Title, ip, exec)
	})
	if err != nil {
		_ = svc.files.Remove(ctx, path)
		return Document{}, err
	}
	return d, nil
}

// Documents lists the documents actor may see; a nil actor only sees public ones.
func (svc *Service) Documents(ctx context.Context, actor *user.User, filter DocumentFilter) ([]Document, error) {
	filter.Search = core.CleanString(filter.Search)
	filter.Visibilities = VisibilitiesFor(actor)
	filter.PublishedOnly = actor == nil || !actor.IsStaff()
	return svc.repo.QueryDocuments(ctx, filter)
}

func (svc *Service) canSee(actor *user.User, d Document) bool {
	if actor != nil && actor.IsStaff() {
		return true
	}
	if !d.IsPublished {
		return false
	}
	return core.StringInSlice(d.Visibility, VisibilitiesFor(actor))
}

// Download opens the file of a document and records the download.
// The caller must close the returned reader.
func (svc *Service) Download(ctx context.Context, actor *user.User, id, ip string) (Document, io.ReadCloser, error) {
	d, err := svc.repo.GetDocument(ctx, id)
	if err != nil {
		return Document{}, nil, err
	}
	if !svc.canSee(actor, d) {
		return Document{}, nil, ErrDocumentNotFound
	}
	rc, err := svc.files.Open(ctx, d.FilePath)
	if err != nil {
		return Document{}, nil, errors.Wrap(err, "opening document file")
	}

	dl := Download{DocumentID: d.ID, IP: ip, DownloadedAt: time.Now().UTC()}
	if actor != nil {
		dl.UserID = &actor.ID
	}
	if err = svc.repo.RecordDownload(ctx, dl); err != nil {
		rc.Close()
		return Document{}, nil, errors.Wrap(err, "recording download")
	}
	d.Downloads++
	return d, rc, nil
}

func (svc *Service) DeleteDocument(ctx context.Context, actor user.User, id string) error {
	if err := requireStaff(actor); err != nil {
		return err
	}
	d, err := svc.repo.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	if err = svc.repo.DeleteDocument(ctx, d.ID); err != nil {
		return errors.Wrap(err, "deleting document")
	}
	return errors.Wrap(svc.files.Remove(ctx, d.FilePath), "removing document file")
}

// Circulars

// PublishCircular stores a circular. Urgent ones are emailed and notified to the guardians in the audience.
func (svc *Service) PublishCircular(ctx context.Context, actor user.User, nc NewCircular) (Circular, error) {
	if err := requireStaff(actor); err != nil {
		return Circular{}, err
	}
	if err := nc.Validate(svc.validate); err != nil {
		return Circular{}, err
	}
	if len(nc.CourseIDs) > 0 {
		found, err := svc.academic.CoursesByIDs(ctx, nc.CourseIDs...)
		if err != nil {
			return Circular{}, errors.Wrap(err, "finding courses")
		}
		for i, id := range nc.CourseIDs {
			if _, ok := found[id]; !ok {
				return Circular{}, core.NewFieldError("course_ids["+strconv.Itoa(i)+"]", academic.ErrCourseNotFound.Error())
			}
		}
	}

	c := Circular{
		Title:       nc.Title,
		Body:        nc.Body,
		Urgency:     nc.Urgency,
		Audience:    nc.Audience,
		CourseIDs:   nc.CourseIDs,
		ExpiresOn:   nc.ExpiresOn,
		IsActive:    true,
		AuthorID:    &actor.ID,
		PublishedAt: time.Now().UTC(),
	}

	var guardians []user.User
	err := svc.tx.RunInTx(ctx, func(exec core.DBExecutor) error {
		var err error
		if c, err = svc.repo.CreateCircular(ctx, c, exec); err != nil {
			return errors.Wrap(err, "creating circular")
		}
		if c.Urgency != UrgencyUrgent || !c.Reaches(user.RoleGuardian) {
			return nil
		}
		if guardians, err = svc.audienceGuardians(ctx, c); err != nil {
			return err
		}
		for _, g := range guardians {
			if err = svc.notifySvc.Notify(ctx, g.ID, notification.KindCircular, "Circular urgente: "+c.Title, "", "/circulares/"+c.ID, exec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Circular{}, err
	}

	svc.mailCircular(c, guardians)
	return c, nil
}

// audienceGuardians returns the active guardians of the students targeted by c.
func (svc *Service) audienceGuardians(ctx context.Context, c Circular) ([]user.User, error) {
	active := true
	if len(c.CourseIDs) == 0 {
		return svc.users.Query(ctx, &user.QueryFilter{Roles: []string{user.RoleGuardian}, IsActive: &active}, nil)
	}

	enrollments, err := svc.academic.Enrollments(ctx, academic.EnrollmentFilter{CourseIDs: c.CourseIDs, Status: academic.StatusActive})
	if err != nil {
		return nil, errors.Wrap(err, "querying enrollments")
	}
	var guardianIDs []string
	for _, e := range enrollments {
		links, err := svc.users.Links(ctx, user.LinkFilter{StudentID: e.StudentID})
		if err != nil {
			return nil, errors.Wrap(err, "querying guardian links")
		}
		for _, l := range links {
			if !core.StringInSlice(l.GuardianID, guardianIDs) {
				guardianIDs = append(guardianIDs, l.GuardianID)
			}
		}
	}
	if len(guardianIDs) == 0 {
		return nil, nil
	}
	return svc.users.Query(ctx, &user.QueryFilter{IDs: guardianIDs, IsActive: &active}, nil)
}

func (svc *Service) mailCircular(c Circular, guardians []user.User) {
	msgs := make([]*core.EmailMessage, 0, len(guardians))
	for _, g := range guardians {
		if g.Email == "" {
			continue
		}
		msgs = append(msgs, &core.EmailMessage{
			To:           []mail.Address{{Name: g.FullName(), Address: g.Email}},
			Subject:      "Circular urgente: " + c.Title,
			TemplateName: "urgent_circular",
			TemplateData: map[string]interface{}{
				"ID":      c.ID,
				"Name":    g.FullName(),
				"Title":   c.Title,
				"Body":    c.Body,
				"Urgency": c.Urgency,
			},
		})
	}
	if len(msgs) > 0 {
		svc.mailSvc.SendMessages(msgs...)
	}
}

// Circulars lists the current circulars addressed to actor.
func (svc *Service) Circulars(ctx context.Context, actor user.User) ([]Circular, error) {
	filter := CircularFilter{CurrentOn: time.Now().UTC()}
	if !actor.IsStaff() {
		ids, _, err := svc.auth.PermittedCourses(ctx, actor)
		if err != nil {
			return nil, err
		}
		if ids == nil {
			ids = []string{}
		}
		filter.CourseIDs = ids
		filter.Audiences = []string{AudienceAll}
		switch {
		case actor.IsGuardian():
			filter.Audiences = append(filter.Audiences, AudienceGuardians)
		case actor.IsStudent():
			filter.Audiences = append(filter.Audiences, AudienceStudents)
		}
	}
	return svc.repo.QueryCirculars(ctx, filter)
}

// ReadCircular returns a circular addressed to actor and stores their read receipt.
func (svc *Service) ReadCircular(ctx context.Context, actor user.User, id string) (Circular, error) {
	c, err := svc.repo.GetCircular(ctx, id)
	if err != nil {
		return Circular{}, err
	}
	if !actor.IsStaff() {
		if !c.IsCurrent(time.Now().UTC()) || !c.Reaches(actor.Role) {
			return Circular{}, ErrCircularNotFound
		}
		if len(c.CourseIDs) > 0 {
			ids, _, err := svc.auth.PermittedCourses(ctx, actor)
			if err != nil {
				return Circular{}, err
			}
			if !anyIn(c.CourseIDs, ids) {
				return Circular{}, ErrCircularNotFound
			}
		}
	}
	created, err := svc.repo.MarkCircularRead(ctx, c.ID, actor.ID, time.Now().UTC())
	if err != nil {
		return Circular{}, errors.Wrap(err, "marking circular read")
	}
	if created {
		c.ReadCount++
	}
	return c, nil
}

func (svc *Service) DeactivateCircular(ctx context.Context, actor user.User, id string) (Circular, error) {
	if err := requireStaff(actor); err != nil {
		return Circular{}, err
	}
	c, err := svc.repo.GetCircular(ctx, id)
	if err != nil {
		return Circular{}, err
	}
	c.IsActive = false
	return svc.repo.UpdateCircular(ctx, c)
}

// Events

// CreateEvent stores a calendar event. Teachers may only add events to the courses they lead or teach.
func (svc *Service) CreateEvent(ctx context.Context, actor user.User, ne NewEvent) (Event, error) {
	if err := ne.Validate(svc.validate); err != nil {
		return Event{}, err
	}
	if ne.CourseID != nil {
		if _, err := svc.academic.GetCourse(ctx, *ne.CourseID); err != nil {
			if errors.Cause(err) == academic.ErrCourseNotFound {
				return Event{}, core.NewFieldError("course_id", err.Error())
			}
			return Event{}, errors.Wrap(err, "finding course")
		}
	}
	switch {
	case actor.IsActive && actor.IsStaff():
	case actor.IsTeacher() && ne.CourseID != nil:
		if err := svc.auth.Require(ctx, actor, access.Write, access.Target{CourseID: *ne.CourseID}); err != nil {
			return Event{}, err
		}
	default:
		return Event{}, core.NewPermissionError("teachers may only add events to their courses")
	}

	e, err := svc.repo.CreateEvent(ctx, Event{
		Title:       ne.Title,
		Description: ne.Description,
		Type:        ne.Type,
		StartDate:   ne.StartDate,
		EndDate:     ne.EndDate,
		StartTime:   ne.StartTime,
		EndTime:     ne.EndTime,
		AllDay:      ne.AllDay,
		Location:    ne.Location,
		CourseID:    ne.CourseID,
		CreatedBy:   &actor.ID,
		CreatedAt:   time.Now().UTC(),
	})
	return e, errors.Wrap(err, "creating event")
}

func (svc *Service) DeleteEvent(ctx context.Context, actor user.User, id string) error {
	e, err := svc.repo.GetEvent(ctx, id)
	if err != nil {
		return err
	}
	if !actor.IsStaff() && (e.CreatedBy == nil || *e.CreatedBy != actor.ID) {
		return core.NewPermissionError("only staff or the author may delete an event")
	}
	return svc.repo.DeleteEvent(ctx, e.ID)
}

// Calendar returns the events between from and to visible to actor in FullCalendar shape.
func (svc *Service) Calendar(ctx context.Context, actor user.User, from, to time.Time) ([]CalendarEvent, error) {
	filter := EventFilter{From: core.Day(from), To: core.Day(to)}
	if filter.To.Before(filter.From) {
		filter.From, filter.To = filter.To, filter.From
	}
	ids, all, err := svc.auth.PermittedCourses(ctx, actor)
	if err != nil {
		return nil, err
	}
	if !all {
		if ids == nil {
			ids = []string{}
		}
		filter.CourseIDs = ids
	}

	events, err := svc.repo.QueryEvents(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "querying events")
	}
	feed := make([]CalendarEvent, 0, len(events))
	for _, e := range events {
		feed = append(feed, e.Calendar())
	}
	return feed, nil
}

func anyIn(list, set []string) bool {
	for _, s := range list {
		if core.StringInSlice(s, set) {
			return true
		}
	}
	return false
}
