package sqlxrepos

import (
	"context"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/liceojbh/intranet/core"
	"github.com/liceojbh/intranet/core/content"
)

var (
	newsColumns = []string{
		"id", "category_id", "title", "summary", "body", "image", "is_public", "featured", "urgent",
		"requires_confirmation", "visits", "author_id", "created_at", "updated_at",
	}
	documentColumns = []string{
		"id", "category_id", "title", "description", "type", "visibility", "tags", "file_name", "file_path",
		"size", "version", "is_official", "is_published", "downloads", "uploaded_by", "created_at", "updated_at",
	}
	circularColumns = []string{
		"id", "title", "body", "urgency", "audience", "expires_on", "is_active", "read_count", "author_id", "published_at",
	}
	eventColumns = []string{
		"id", "title", "description", "type", "start_date", "end_date", "start_time", "end_time", "all_day",
		"location", "course_id", "created_by", "created_at",
	}
	resourceColumns = []string{
		"id", "course_id", "subject_id", "teacher_id", "title", "description", "file_name", "file_path", "size", "created_at",
	}
)

type newsRow struct {
	ID                   string      `db:"id"`
	CategoryID           null.String `db:"category_id"`
	Title                string      `db:"title"`
	Summary              string      `db:"summary"`
	Body                 string      `db:"body"`
	Image                string      `db:"image"`
	IsPublic             bool        `db:"is_public"`
	Featured             bool        `db:"featured"`
	Urgent               bool        `db:"urgent"`
	RequiresConfirmation bool        `db:"requires_confirmation"`
	Visits               int         `db:"visits"`
	AuthorID             null.String `db:"author_id"`
	CreatedAt            null.Time   `db:"created_at"`
	UpdatedAt            null.Time   `db:"updated_at"`
}

func (r newsRow) unrow() content.News {
	return content.News{
		ID:                   r.ID,
		CategoryID:           r.CategoryID.Ptr(),
		Title:                r.Title,
		Summary:              r.Summary,
		Body:                 r.Body,
		Image:                r.Image,
		IsPublic:             r.IsPublic,
		Featured:             r.Featured,
		Urgent:               r.Urgent,
		RequiresConfirmation: r.RequiresConfirmation,
		Visits:               r.Visits,
		AuthorID:             r.AuthorID.Ptr(),
		CreatedAt:            r.CreatedAt.Time,
		UpdatedAt:            r.UpdatedAt.Time,
	}
}

type documentRow struct {
	ID          string      `db:"id"`
	CategoryID  null.String `db:"category_id"`
	Title       string      `db:"title"`
	Description string      `db:"description"`
	Type        string      `db:"type"`
	Visibility  string      `db:"visibility"`
	Tags        string      `db:"tags"`
	FileName    string      `db:"file_name"`
	FilePath    string      `db:"file_path"`
	Size        int64       `db:"size"`
	Version     string      `db:"version"`
	IsOfficial  bool        `db:"is_official"`
	IsPublished bool        `db:"is_published"`
	Downloads   int         `db:"downloads"`
	UploadedBy  null.String `db:"uploaded_by"`
	CreatedAt   null.Time   `db:"created_at"`
	UpdatedAt   null.Time   `db:"updated_at"`
}

// tags are stored comma separated
func joinTags(tags []string) string {
	return strings.Join(tags, ",")
}

func splitTags(s string) []string {
	tags := make([]string, 0)
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func (r documentRow) unrow() content.Document {
	return content.Document{
		ID:          r.ID,
		CategoryID:  r.CategoryID.Ptr(),
		Title:       r.Title,
		Description: r.Description,
		Type:        r.Type,
		Visibility:  r.Visibility,
		Tags:        splitTags(r.Tags),
		FileName:    r.FileName,
		FilePath:    r.FilePath,
		Size:        r.Size,
		Version:     r.Version,
		IsOfficial:  r.IsOfficial,
		IsPublished: r.IsPublished,
		Downloads:   r.Downloads,
		UploadedBy:  r.UploadedBy.Ptr(),
		CreatedAt:   r.CreatedAt.Time,
		UpdatedAt:   r.UpdatedAt.Time,
	}
}

type circularRow struct {
	ID          string      `db:"id"`
	Title       string      `db:"title"`
	Body        string      `db:"body"`
	Urgency     string      `db:"urgency"`
	Audience    string      `db:"audience"`
	ExpiresOn   null.Time   `db:"expires_on"`
	IsActive    bool        `db:"is_active"`
	ReadCount   int         `db:"read_count"`
	AuthorID    null.String `db:"author_id"`
	PublishedAt null.Time   `db:"published_at"`
}

func (r circularRow) unrow(courseIDs []string) content.Circular {
	if courseIDs == nil {
		courseIDs = make([]string, 0)
	}
	return content.Circular{
		ID:          r.ID,
		Title:       r.Title,
		Body:        r.Body,
		Urgency:     r.Urgency,
		Audience:    r.Audience,
		CourseIDs:   courseIDs,
		ExpiresOn:   r.ExpiresOn.Ptr(),
		IsActive:    r.IsActive,
		ReadCount:   r.ReadCount,
		AuthorID:    r.AuthorID.Ptr(),
		PublishedAt: r.PublishedAt.Time,
	}
}

type eventRow struct {
	ID          string      `db:"id"`
	Title       string      `db:"title"`
	Description string      `db:"description"`
	Type        string      `db:"type"`
	StartDate   null.Time   `db:"start_date"`
	EndDate     null.Time   `db:"end_date"`
	StartTime   string      `db:"start_time"`
	EndTime     string      `db:"end_time"`
	AllDay      bool        `db:"all_day"`
	Location    string      `db:"location"`
	CourseID    null.String `db:"course_id"`
	CreatedBy   null.String `db:"created_by"`
	CreatedAt   null.Time   `db:"created_at"`
}

func (r eventRow) unrow() content.Event {
	return content.Event{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		Type:        r.Type,
		StartDate:   r.StartDate.Time,
		EndDate:     r.EndDate.Ptr(),
		StartTime:   r.StartTime,
		EndTime:     r.EndTime,
		AllDay:      r.AllDay,
		Location:    r.Location,
		CourseID:    r.CourseID.Ptr(),
		CreatedBy:   r.CreatedBy.Ptr(),
		CreatedAt:   r.CreatedAt.Time,
	}
}

type resourceRow struct {
	ID          string      `db:"id"`
	CourseID    string      `db:"course_id"`
	SubjectID   null.String `db:"subject_id"`
	TeacherID   string      `db:"teacher_id"`
	Title       string      `db:"title"`
	Description string      `db:"description"`
	FileName    string      `db:"file_name"`
	FilePath    string      `db:"file_path"`
	Size        int64       `db:"size"`
	CreatedAt   null.Time   `db:"created_at"`
}

func (r resourceRow) unrow() content.Resource {
	return content.Resource{
		ID:          r.ID,
		CourseID:    r.CourseID,
		SubjectID:   r.SubjectID.Ptr(),
		TeacherID:   r.TeacherID,
		Title:       r.Title,
		Description: r.Description,
		FileName:    r.FileName,
		FilePath:    r.FilePath,
		Size:        r.Size,
		CreatedAt:   r.CreatedAt.Time,
	}
}

type contentRepository struct {
	repository
}

var _ content.Repository = (*contentRepository)(nil) // interface compliance check

func NewContentRepository(db *sqlx.DB) *contentRepository {
	return &contentRepository{repository{db: db}}
}

// News

func (repo contentRepository) CreateNewsCategory(ctx context.Context, c content.NewsCategory, exec ...core.DBExecutor) (content.NewsCategory, error) {
	c.ID = uuid.NewString()
	_, err := repo.run(ctx, exec, psql.Insert("news_categories").Columns("id", "name", "color").Values(c.ID, c.Name, c.Color), "inserting news category")
	if isUniqueViolation(err) {
		return content.NewsCategory{}, content.ErrCategoryExists
	}
	if err != nil {
		return content.NewsCategory{}, err
	}
	return c, nil
}

func (repo contentRepository) QueryNewsCategories(ctx context.Context, exec ...core.DBExecutor) ([]content.NewsCategory, error) {
	var rows []struct {
		ID    string `db:"id"`
		Name  string `db:"name"`
		Color string `db:"color"`
	}
	if err := sqlx.SelectContext(ctx, repo.getExec(exec), &rows, "SELECT id, name, color FROM news_categories ORDER BY name"); err != nil {
		return nil, errors.Wrap(err, "querying news categories")
	}
	cats := make([]content.NewsCategory, 0, len(rows))
	for _, r := range rows {
		cats = append(cats, content.NewsCategory(r))
	}
	return cats, nil
}

func (repo contentRepository) CreateNews(ctx context.Context, n content.News, exec ...core.DBExecutor) (content.News, error) {
	n.ID = uuid.NewString()
	_, err := repo.run(ctx, exec, psql.Insert("news").
		Columns(newsColumns...).
		Values(n.ID, null.StringFromPtr(n.CategoryID), n.Title, n.Summary, n.Body, n.Image, n.IsPublic, n.Featured, n.Urgent,
			n.RequiresConfirmation, n.Visits, null.StringFromPtr(n.AuthorID), nullTime(n.CreatedAt), nullTime(n.UpdatedAt)),
		"inserting news")
	if err != nil {
		return content.News{}, err
	}
	return n, nil
}

func (repo contentRepository) UpdateNews(ctx context.Context, n content.News, exec ...core.DBExecutor) (content.News, error) {
	q, args, err := psql.Update("news").
		Set("category_id", null.StringFromPtr(n.CategoryID)).
		Set("title", n.Title).
		Set("summary", n.Summary).
		Set("body", n.Body).
		Set("image", n.Image).
		Set("is_public", n.IsPublic).
		Set("featured", n.Featured).
		Set("urgent", n.Urgent).
		Set("requires_confirmation", n.RequiresConfirmation).
		Set("updated_at", nullTime(n.UpdatedAt)).
		Where(sq.Eq{"id": n.ID}).
		Suffix("RETURNING " + sqlxColumns(newsColumns)).
		ToSql()
	if err != nil {
		return content.News{}, errors.Wrap(err, "building update")
	}
	var row newsRow
	if err = sqlx.GetContext(ctx, repo.getExec(exec), &row, q, args...); err != nil {
		return content.News{}, trapNoRowsErr(err, content.ErrNewsNotFound, "updating news")
	}
	return row.unrow(), nil
}

func (repo contentRepository) GetNews(ctx context.Context, id string, exec ...core.DBExecutor) (content.News, error) {
	q, args, err := psql.Select(newsColumns...).From("news").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return content.News{}, errors.Wrap(err, "building query")
	}
	var row newsRow
	if err = sqlx.GetContext(ctx, repo.getExec(exec), &row, q, args...); err != nil {
		return content.News{}, trapNoRowsErr(err, content.ErrNewsNotFound, "getting news")
	}
	return row.unrow(), nil
}

func (repo contentRepository) DeleteNews(ctx context.Context, id string, exec ...core.DBExecutor) error {
	n, err := repo.run(ctx, exec, psql.Delete("news").Where(sq.Eq{"id": id}), "deleting news")
	if err != nil {
		return err
	}
	if n == 0 {
		return content.ErrNewsNotFound
	}
	return nil
}

func (repo contentRepository) QueryNews(ctx context.Context, filter content.NewsFilter, exec ...core.DBExecutor) ([]content.News, error) {
	b := psql.Select(newsColumns...).From("news").OrderBy("featured DESC", "urgent DESC", "created_at DESC")
	if filter.CategoryID != "" {
		b = b.Where(sq.Eq{"category_id": filter.CategoryID})
	}
	if filter.PublicOnly {
		b = b.Where(sq.Eq{"is_public": true})
	}
	if !filter.Since.IsZero() {
		b = b.Where(sq.GtOrEq{"created_at": filter.Since.UTC()})
	}
	if filter.Search != "" {
		val := "%" + filter.Search + "%"
		b = b.Where(sq.Or{sq.ILike{"title": val}, sq.ILike{"summary": val}, sq.ILike{"body": val}})
	}
	if filter.Limit > 0 {
		b = b.Limit(uint64(filter.Limit))
	}
	q, args, err := b.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}

	var rows []newsRow
	if err = sqlx.SelectContext(ctx, repo.getExec(exec), &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying news")
	}
	news := make([]content.News, 0, len(rows))
	for _, r := range rows {
		news = append(news, r.unrow())
	}
	return news, nil
}

func (repo contentRepository) IncrementVisits(ctx context.Context, id string, exec ...core.DBExecutor) (int, error) {
	var visits int
	err := sqlx.GetContext(ctx, repo.getExec(exec), &visits, "UPDATE news SET visits = visits + 1 WHERE id = $1 RETURNING visits", id)
	if err != nil {
		return 0, trapNoRowsErr(err, content.ErrNewsNotFound, "incrementing visits")
	}
	return visits, nil
}

func (repo contentRepository) Confirm(ctx context.Context, c content.Confirmation, exec ...core.DBExecutor) (bool, error) {
	n, err := repo.run(ctx, exec, psql.Insert("news_confirmations").
		Columns("news_id", "user_id", "confirmed_at").
		Values(c.NewsID, c.UserID, c.ConfirmedAt.UTC()).
		Suffix("ON CONFLICT (news_id, user_id) DO NOTHING"),
		"confirming news")
	return n == 1, err
}

func (repo contentRepository) QueryConfirmations(ctx context.Context, newsID string, exec ...core.DBExecutor) ([]content.Confirmation, error) {
	var rows []struct {
		NewsID      string    `db:"news_id"`
		UserID      string    `db:"user_id"`
		ConfirmedAt time.Time `db:"confirmed_at"`
	}
	err := sqlx.SelectContext(ctx, repo.getExec(exec), &rows,
		"SELECT news_id, user_id, confirmed_at FROM news_confirmations WHERE news_id = $1 ORDER BY confirmed_at", newsID)
	if err != nil {
		return nil, errors.Wrap(err, "querying confirmations")
	}
	confs := make([]content.Confirmation, 0, len(rows))
	for _, r := range rows {
		confs = append(confs, content.Confirmation(r))
	}
	return confs, nil
}

// Documents

func (repo contentRepository) CreateDocumentCategory(ctx context.Context, c content.DocumentCategory, exec ...core.DBExecutor) (content.DocumentCategory, error) {
	c.ID = uuid.NewString()
	_, err := repo.run(ctx, exec, psql.Insert("document_categories").
		Columns("id", "name", "sort_order").
		Values(c.ID, c.Name, c.SortOrder),
		"inserting document category")
	if isUniqueViolation(err) {
		return content.DocumentCategory{}, content.ErrCategoryExists
	}
	if err != nil {
		return content.DocumentCategory{}, err
	}
	return c, nil
}

func (repo contentRepository) QueryDocumentCategories(ctx context.Context, exec ...core.DBExecutor) ([]content.DocumentCategory, error) {
	var rows []struct {
		ID        string `db:"id"`
		Name      string `db:"name"`
		SortOrder int    `db:"sort_order"`
	}
	err := sqlx.SelectContext(ctx, repo.getExec(exec), &rows, "SELECT id, name, sort_order FROM document_categories ORDER BY sort_order, name")
	if err != nil {
		return nil, errors.Wrap(err, "querying document categories")
	}
	cats := make([]content.DocumentCategory, 0, len(rows))
	for _, r := range rows {
		cats = append(cats, content.DocumentCategory(r))
	}
	return cats, nil
}

func (repo contentRepository) CreateDocument(ctx context.Context, d content.Document, exec ...core.DBExecutor) (content.Document, error) {
	d.ID = uuid.NewString()
	_, err := repo.run(ctx, exec, psql.Insert("documents").
		Columns(documentColumns...).
		Values(d.ID, null.StringFromPtr(d.CategoryID), d.Title, d.Description, d.Type, d.Visibility, joinTags(d.Tags),
			d.FileName, d.FilePath, d.Size, d.Version, d.IsOfficial, d.IsPublished, d.Downloads,
			null.StringFromPtr(d.UploadedBy), nullTime(d.CreatedAt), nullTime(d.UpdatedAt)),
		"inserting document")
	if err != nil {
		return content.Document{}, err
	}
	return d, nil
}

func (repo contentRepository) GetDocument(ctx context.Context, id string, exec ...core.DBExecutor) (content.Document, error) {
	q, args, err := psql.Select(documentColumns...).From("documents").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return content.Document{}, errors.Wrap(err, "building query")
	}
	var row documentRow
	if err = sqlx.GetContext(ctx, repo.getExec(exec), &row, q, args...); err != nil {
		return content.Document{}, trapNoRowsErr(err, content.ErrDocumentNotFound, "getting document")
	}
	return row.unrow(), nil
}

func (repo contentRepository) DeleteDocument(ctx context.Context, id string, exec ...core.DBExecutor) error {
	n, err := repo.run(ctx, exec, psql.Delete("documents").Where(sq.Eq{"id": id}), "deleting document")
	if err != nil {
		return err
	}
	if n == 0 {
		return content.ErrDocumentNotFound
	}
	return nil
}

func (repo contentRepository) QueryDocuments(ctx context.Context, filter content.DocumentFilter, exec ...core.DBExecutor) ([]content.Document, error) {
	b := psql.Select(documentColumns...).From("documents").OrderBy("is_official DESC", "created_at DESC")
	if filter.CategoryID != "" {
		b = b.Where(sq.Eq{"category_id": filter.CategoryID})
	}
	if filter.Type != "" {
		b = b.Where(sq.Eq{"type": filter.Type})
	}
	if filter.PublishedOnly {
		b = b.Where(sq.Eq{"is_published": true})
	}
	if filter.Search != "" {
		val := "%" + filter.Search + "%"
		b = b.Where(sq.Or{sq.ILike{"title": val}, sq.ILike{"description": val}, sq.ILike{"tags": val}})
	}
	b = where(b, idsClause("visibility", filter.Visibilities))
	q, args, err := b.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}

	var rows []documentRow
	if err = sqlx.SelectContext(ctx, repo.getExec(exec), &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying documents")
	}
	docs := make([]content.Document, 0, len(rows))
	for _, r := range rows {
		docs = append(docs, r.unrow())
	}
	return docs, nil
}

func (repo contentRepository) RecordDownload(ctx context.Context, d content.Download, exec ...core.DBExecutor) error {
	n, err := repo.run(ctx, exec, psql.Update("documents").
		Set("downloads", sq.Expr("downloads + 1")).
		Where(sq.Eq{"id": d.DocumentID}),
		"incrementing downloads")
	if err != nil {
		return err
	}
	if n == 0 {
		return content.ErrDocumentNotFound
	}
	_, err = repo.run(ctx, exec, psql.Insert("document_downloads").
		Columns("id", "document_id", "user_id", "ip", "downloaded_at").
		Values(uuid.NewString(), d.DocumentID, null.StringFromPtr(d.UserID), d.IP, d.DownloadedAt.UTC()),
		"inserting download")
	return err
}

// Circulars

func (repo contentRepository) saveCircularCourses(ctx context.Context, c content.Circular, exec []core.DBExecutor) error {
	if _, err := repo.run(ctx, exec, psql.Delete("circular_courses").Where(sq.Eq{"circular_id": c.ID}), "clearing circular courses"); err != nil {
		return err
	}
	if len(c.CourseIDs) == 0 {
		return nil
	}
	ins := psql.Insert("circular_courses").Columns("circular_id", "course_id")
	for _, id := range c.CourseIDs {
		ins = ins.Values(c.ID, id)
	}
	_, err := repo.run(ctx, exec, ins, "inserting circular courses")
	return err
}

func (repo contentRepository) CreateCircular(ctx context.Context, c content.Circular, exec ...core.DBExecutor) (content.Circular, error) {
	c.ID = uuid.NewString()
	_, err := repo.run(ctx, exec, psql.Insert("circulars").
		Columns(circularColumns...).
		Values(c.ID, c.Title, c.Body, c.Urgency, c.Audience, nullTimePtr(c.ExpiresOn), c.IsActive, c.ReadCount,
			null.StringFromPtr(c.AuthorID), nullTime(c.PublishedAt)),
		"inserting circular")
	if err != nil {
		return content.Circular{}, err
	}
	if err = repo.saveCircularCourses(ctx, c, exec); err != nil {
		return content.Circular{}, err
	}
	return c, nil
}

func (repo contentRepository) UpdateCircular(ctx context.Context, c content.Circular, exec ...core.DBExecutor) (content.Circular, error) {
	n, err := repo.run(ctx, exec, psql.Update("circulars").
		Set("title", c.Title).
		Set("body", c.Body).
		Set("urgency", c.Urgency).
		Set("audience", c.Audience).
		Set("expires_on", nullTimePtr(c.ExpiresOn)).
		Set("is_active", c.IsActive).
		Where(sq.Eq{"id": c.ID}),
		"updating circular")
	if err != nil {
		return content.Circular{}, err
	}
	if n == 0 {
		return content.Circular{}, content.ErrCircularNotFound
	}
	if err = repo.saveCircularCourses(ctx, c, exec); err != nil {
		return content.Circular{}, err
	}
	return repo.GetCircular(ctx, c.ID, exec...)
}

func (repo contentRepository) circularCourses(ctx context.Context, ids []string, exec []core.DBExecutor) (map[string][]string, error) {
	courses := make(map[string][]string, len(ids))
	if len(ids) == 0 {
		return courses, nil
	}
	q, args, err := psql.Select("circular_id", "course_id").From("circular_courses").Where(sq.Eq{"circular_id": ids}).ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	var rows []struct {
		CircularID string `db:"circular_id"`
		CourseID   string `db:"course_id"`
	}
	if err = sqlx.SelectContext(ctx, repo.getExec(exec), &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying circular courses")
	}
	for _, r := range rows {
		courses[r.CircularID] = append(courses[r.CircularID], r.CourseID)
	}
	return courses, nil
}

func (repo contentRepository) GetCircular(ctx context.Context, id string, exec ...core.DBExecutor) (content.Circular, error) {
	q, args, err := psql.Select(circularColumns...).From("circulars").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return content.Circular{}, errors.Wrap(err, "building query")
	}
	var row circularRow
	if err = sqlx.GetContext(ctx, repo.getExec(exec), &row, q, args...); err != nil {
		return content.Circular{}, trapNoRowsErr(err, content.ErrCircularNotFound, "getting circular")
	}
	courses, err := repo.circularCourses(ctx, []string{id}, exec)
	if err != nil {
		return content.Circular{}, err
	}
	return row.unrow(courses[id]), nil
}

func (repo contentRepository) QueryCirculars(ctx context.Context, filter content.CircularFilter, exec ...core.DBExecutor) ([]content.Circular, error) {
	b := psql.Select(circularColumns...).From("circulars c").OrderBy("published_at DESC")
	if !filter.CurrentOn.IsZero() {
		b = b.Where(sq.Eq{"is_active": true}).
			Where(sq.Or{sq.Eq{"expires_on": nil}, sq.GtOrEq{"expires_on": core.Day(filter.CurrentOn)}})
	}
	if filter.Audiences != nil {
		b = b.Where(idsClause("audience", filter.Audiences))
	}
	if filter.CourseIDs != nil {
		// general circulars have no course rows
		general := sq.Expr("NOT EXISTS (SELECT 1 FROM circular_courses cc WHERE cc.circular_id = c.id)")
		if len(filter.CourseIDs) == 0 {
			b = b.Where(general)
		} else {
			sub, args, err := sq.Select("1").From("circular_courses cc").
				Where("cc.circular_id = c.id").
				Where(sq.Eq{"cc.course_id": filter.CourseIDs}).
				ToSql()
			if err != nil {
				return nil, errors.Wrap(err, "building query")
			}
			b = b.Where(sq.Or{general, sq.Expr("EXISTS ("+sub+")", args...)})
		}
	}
	q, args, err := b.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}

	var rows []circularRow
	if err = sqlx.SelectContext(ctx, repo.getExec(exec), &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying circulars")
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	courses, err := repo.circularCourses(ctx, ids, exec)
	if err != nil {
		return nil, err
	}
	circs := make([]content.Circular, 0, len(rows))
	for _, r := range rows {
		circs = append(circs, r.unrow(courses[r.ID]))
	}
	return circs, nil
}

func (repo contentRepository) MarkCircularRead(ctx context.Context, circularID, userID string, at time.Time, exec ...core.DBExecutor) (bool, error) {
	n, err := repo.run(ctx, exec, psql.Insert("circular_reads").
		Columns("circular_id", "user_id", "read_at").
		Values(circularID, userID, at.UTC()).
		Suffix("ON CONFLICT (circular_id, user_id) DO NOTHING"),
		"inserting circular receipt")
	if err != nil || n == 0 {
		return false, err
	}
	_, err = repo.run(ctx, exec, psql.Update("circulars").
		Set("read_count", sq.Expr("read_count + 1")).
		Where(sq.Eq{"id": circularID}),
		"incrementing read count")
	return err == nil, err
}

// Events

func (repo contentRepository) CreateEvent(ctx context.Context, e content.Event, exec ...core.DBExecutor) (content.Event, error) {
	e.ID = uuid.NewString()
	_, err := repo.run(ctx, exec, psql.Insert("events").
		Columns(eventColumns...).
		Values(e.ID, e.Title, e.Description, e.Type, e.StartDate, nullTimePtr(e.EndDate), e.StartTime, e.EndTime, e.AllDay,
			e.Location, null.StringFromPtr(e.CourseID), null.StringFromPtr(e.CreatedBy), nullTime(e.CreatedAt)),
		"inserting event")
	if err != nil {
		return content.Event{}, err
	}
	return e, nil
}

func (repo contentRepository) GetEvent(ctx context.Context, id string, exec ...core.DBExecutor) (content.Event, error) {
	q, args, err := psql.Select(eventColumns...).From("events").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return content.Event{}, errors.Wrap(err, "building query")
	}
	var row eventRow
	if err = sqlx.GetContext(ctx, repo.getExec(exec), &row, q, args...); err != nil {
		return content.Event{}, trapNoRowsErr(err, content.ErrEventNotFound, "getting event")
	}
	return row.unrow(), nil
}

func (repo contentRepository) DeleteEvent(ctx context.Context, id string, exec ...core.DBExecutor) error {
	n, err := repo.run(ctx, exec, psql.Delete("events").Where(sq.Eq{"id": id}), "deleting event")
	if err != nil {
		return err
	}
	if n == 0 {
		return content.ErrEventNotFound
	}
	return nil
}

func (repo contentRepository) QueryEvents(ctx context.Context, filter content.EventFilter, exec ...core.DBExecutor) ([]content.Event, error) {
	b := psql.Select(eventColumns...).From("events").OrderBy("start_date", "start_time")
	if !filter.To.IsZero() {
		b = b.Where(sq.LtOrEq{"start_date": filter.To})
	}
	if !filter.From.IsZero() {
		b = b.Where(sq.Expr("COALESCE(end_date, start_date) >= ?", filter.From))
	}
	if filter.CourseIDs != nil {
		general := sq.Eq{"course_id": nil}
		if len(filter.CourseIDs) == 0 {
			b = b.Where(general)
		} else {
			b = b.Where(sq.Or{general, sq.Eq{"course_id": filter.CourseIDs}})
		}
	}
	q, args, err := b.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}

	var rows []eventRow
	if err = sqlx.SelectContext(ctx, repo.getExec(exec), &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying events")
	}
	events := make([]content.Event, 0, len(rows))
	for _, r := range rows {
		events = append(events, r.unrow())
	}
	return events, nil
}

// Resources

func (repo contentRepository) CreateResource(ctx context.Context, r content.Resource, exec ...core.DBExecutor) (content.Resource, error) {
	r.ID = uuid.NewString()
	_, err := repo.run(ctx, exec, psql.Insert("course_resources").
		Columns(resourceColumns...).
		Values(r.ID, r.CourseID, null.StringFromPtr(r.SubjectID), r.TeacherID, r.Title, r.Description,
			r.FileName, r.FilePath, r.Size, nullTime(r.CreatedAt)),
		"inserting resource")
	if err != nil {
		return content.Resource{}, err
	}
	return r, nil
}

func (repo contentRepository) GetResource(ctx context.Context, id string, exec ...core.DBExecutor) (content.Resource, error) {
	q, args, err := psql.Select(resourceColumns...).From("course_resources").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return content.Resource{}, errors.Wrap(err, "building query")
	}
	var row resourceRow
	if err = sqlx.GetContext(ctx, repo.getExec(exec), &row, q, args...); err != nil {
		return content.Resource{}, trapNoRowsErr(err, content.ErrResourceNotFound, "getting resource")
	}
	return row.unrow(), nil
}

func (repo contentRepository) DeleteResource(ctx context.Context, id string, exec ...core.DBExecutor) error {
	n, err := repo.run(ctx, exec, psql.Delete("course_resources").Where(sq.Eq{"id": id}), "deleting resource")
	if err != nil {
		return err
	}
	if n == 0 {
		return content.ErrResourceNotFound
	}
	return nil
}

func (repo contentRepository) QueryResources(ctx context.Context, filter content.ResourceFilter, exec ...core.DBExecutor) ([]content.Resource, error) {
	b := psql.Select(resourceColumns...).From("course_resources").OrderBy("created_at DESC")
	b = where(b, idsClause("course_id", filter.CourseIDs))
	if filter.CourseID != "" {
		b = b.Where(sq.Eq{"course_id": filter.CourseID})
	}
	if filter.SubjectID != "" {
		b = b.Where(sq.Eq{"subject_id": filter.SubjectID})
	}
	q, args, err := b.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}

	var rows []resourceRow
	if err = sqlx.SelectContext(ctx, repo.getExec(exec), &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying resources")
	}
	res := make([]content.Resource, 0, len(rows))
	for _, r := range rows {
		res = append(res, r.unrow())
	}
	return res, nil
}
