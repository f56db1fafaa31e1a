package dummydb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/liceojbh/intranet/core"
	"github.com/liceojbh/intranet/core/content"
)

type contentRepository struct {
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
}

var _ content.Repository = (*contentRepository)(nil) // interface compliance check

func NewContentRepository(db *DB) content.Repository {
	return &contentRepository{
		newsCategories: db.newsCategories,
		news:           db.news,
		confirmations:  db.confirmations,
		docCategories:  db.docCategories,
		documents:      db.documents,
		downloads:      db.downloads,
		circulars:      db.circulars,
		circularReads:  db.circularReads,
		events:         db.events,
		resources:      db.resources,
	}
}

func pairKey(a, b string) string {
	return a + "|" + b
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), substr)
}

// News

func (repo *contentRepository) CreateNewsCategory(ctx context.Context, c content.NewsCategory, exec ...core.DBExecutor) (content.NewsCategory, error) {
	repo.newsCategories.Lock()
	defer repo.newsCategories.Unlock()

	if _, ok := repo.newsCategories.find(func(o content.NewsCategory) bool {
		return strings.EqualFold(o.Name, c.Name)
	}); ok {
		return content.NewsCategory{}, content.ErrCategoryExists
	}
	c.ID = uuid.NewString()
	repo.newsCategories.put(c.ID, c)
	return c, nil
}

func (repo *contentRepository) QueryNewsCategories(ctx context.Context, exec ...core.DBExecutor) ([]content.NewsCategory, error) {
	repo.newsCategories.RLock()
	defer repo.newsCategories.RUnlock()

	cats := repo.newsCategories.filter(nil)
	sort.SliceStable(cats, func(i, j int) bool { return cats[i].Name < cats[j].Name })
	return cats, nil
}

func (repo *contentRepository) CreateNews(ctx context.Context, n content.News, exec ...core.DBExecutor) (content.News, error) {
	repo.news.Lock()
	defer repo.news.Unlock()

	n.ID = uuid.NewString()
	repo.news.put(n.ID, n)
	return n, nil
}

func (repo *contentRepository) UpdateNews(ctx context.Context, n content.News, exec ...core.DBExecutor) (content.News, error) {
	repo.news.Lock()
	defer repo.news.Unlock()

	orig, ok := repo.news.get(n.ID)
	if !ok {
		return content.News{}, content.ErrNewsNotFound
	}
	n.Visits = orig.Visits
	n.CreatedAt = orig.CreatedAt
	repo.news.put(n.ID, n)
	return n, nil
}

func (repo *contentRepository) GetNews(ctx context.Context, id string, exec ...core.DBExecutor) (content.News, error) {
	repo.news.RLock()
	defer repo.news.RUnlock()
	if n, ok := repo.news.get(id); ok {
		return n, nil
	}
	return content.News{}, content.ErrNewsNotFound
}

func (repo *contentRepository) DeleteNews(ctx context.Context, id string, exec ...core.DBExecutor) error {
	repo.news.Lock()
	removed := repo.news.remove(id)
	repo.news.Unlock()
	if removed == 0 {
		return content.ErrNewsNotFound
	}

	repo.confirmations.Lock()
	defer repo.confirmations.Unlock()
	for _, c := range repo.confirmations.filter(func(c content.Confirmation) bool { return c.NewsID == id }) {
		repo.confirmations.remove(pairKey(c.NewsID, c.UserID))
	}
	return nil
}

func (repo *contentRepository) QueryNews(ctx context.Context, filter content.NewsFilter, exec ...core.DBExecutor) ([]content.News, error) {
	repo.news.RLock()
	defer repo.news.RUnlock()

	search := strings.ToLower(filter.Search)
	news := repo.news.filter(func(n content.News) bool {
		if filter.CategoryID != "" && (n.CategoryID == nil || *n.CategoryID != filter.CategoryID) {
			return false
		}
		if filter.PublicOnly && !n.IsPublic {
			return false
		}
		if !filter.Since.IsZero() && n.CreatedAt.Before(filter.Since) {
			return false
		}
		return search == "" || containsFold(n.Title, search) || containsFold(n.Summary, search) || containsFold(n.Body, search)
	})
	sort.SliceStable(news, func(i, j int) bool {
		a, b := news[i], news[j]
		if a.Featured != b.Featured {
			return a.Featured
		}
		if a.Urgent != b.Urgent {
			return a.Urgent
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	if filter.Limit > 0 && len(news) > filter.Limit {
		news = news[:filter.Limit]
	}
	return news, nil
}

func (repo *contentRepository) IncrementVisits(ctx context.Context, id string, exec ...core.DBExecutor) (int, error) {
	repo.news.Lock()
	defer repo.news.Unlock()

	n, ok := repo.news.get(id)
	if !ok {
		return 0, content.ErrNewsNotFound
	}
	n.Visits++
	repo.news.put(id, n)
	return n.Visits, nil
}

func (repo *contentRepository) Confirm(ctx context.Context, c content.Confirmation, exec ...core.DBExecutor) (bool, error) {
	repo.confirmations.Lock()
	defer repo.confirmations.Unlock()

	key := pairKey(c.NewsID, c.UserID)
	if _, ok := repo.confirmations.get(key); ok {
		return false, nil
	}
	repo.confirmations.put(key, c)
	return true, nil
}

func (repo *contentRepository) QueryConfirmations(ctx context.Context, newsID string, exec ...core.DBExecutor) ([]content.Confirmation, error) {
	repo.confirmations.RLock()
	defer repo.confirmations.RUnlock()

	return repo.confirmations.filter(func(c content.Confirmation) bool { return c.NewsID == newsID }), nil
}

// Documents

func (repo *contentRepository) CreateDocumentCategory(ctx context.Context, c content.DocumentCategory, exec ...core.DBExecutor) (content.DocumentCategory, error) {
	repo.docCategories.Lock()
	defer repo.docCategories.Unlock()

	if _, ok := repo.docCategories.find(func(o content.DocumentCategory) bool {
		return strings.EqualFold(o.Name, c.Name)
	}); ok {
		return content.DocumentCategory{}, content.ErrCategoryExists
	}
	c.ID = uuid.NewString()
	repo.docCategories.put(c.ID, c)
	return c, nil
}

func (repo *contentRepository) QueryDocumentCategories(ctx context.Context, exec ...core.DBExecutor) ([]content.DocumentCategory, error) {
	repo.docCategories.RLock()
	defer repo.docCategories.RUnlock()

	cats := repo.docCategories.filter(nil)
	sort.SliceStable(cats, func(i, j int) bool {
		if cats[i].SortOrder != cats[j].SortOrder {
			return cats[i].SortOrder < cats[j].SortOrder
		}
		return cats[i].Name < cats[j].Name
	})
	return cats, nil
}

func (repo *contentRepository) CreateDocument(ctx context.Context, d content.Document, exec ...core.DBExecutor) (content.Document, error) {
	repo.documents.Lock()
	defer repo.documents.Unlock()

	d.ID = uuid.NewString()
	d.Tags = append([]string(nil), d.Tags...)
	repo.documents.put(d.ID, d)
	return d, nil
}

func (repo *contentRepository) GetDocument(ctx context.Context, id string, exec ...core.DBExecutor) (content.Document, error) {
	repo.documents.RLock()
	defer repo.documents.RUnlock()
	if d, ok := repo.documents.get(id); ok {
		return d, nil
	}
	return content.Document{}, content.ErrDocumentNotFound
}

func (repo *contentRepository) DeleteDocument(ctx context.Context, id string, exec ...core.DBExecutor) error {
	repo.documents.Lock()
	removed := repo.documents.remove(id)
	repo.documents.Unlock()
	if removed == 0 {
		return content.ErrDocumentNotFound
	}

	repo.downloads.Lock()
	defer repo.downloads.Unlock()
	for _, d := range repo.downloads.filter(func(d content.Download) bool { return d.DocumentID == id }) {
		repo.downloads.remove(d.ID)
	}
	return nil
}

func (repo *contentRepository) QueryDocuments(ctx context.Context, filter content.DocumentFilter, exec ...core.DBExecutor) ([]content.Document, error) {
	repo.documents.RLock()
	defer repo.documents.RUnlock()

	search := strings.ToLower(filter.Search)
	docs := repo.documents.filter(func(d content.Document) bool {
		if filter.CategoryID != "" && (d.CategoryID == nil || *d.CategoryID != filter.CategoryID) {
			return false
		}
		if filter.Type != "" && d.Type != filter.Type {
			return false
		}
		if filter.Visibilities != nil && !core.StringInSlice(d.Visibility, filter.Visibilities) {
			return false
		}
		if filter.PublishedOnly && !d.IsPublished {
			return false
		}
		if search == "" || containsFold(d.Title, search) || containsFold(d.Description, search) {
			return true
		}
		for _, tag := range d.Tags {
			if containsFold(tag, search) {
				return true
			}
		}
		return false
	})
	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].IsOfficial != docs[j].IsOfficial {
			return docs[i].IsOfficial
		}
		return docs[i].CreatedAt.After(docs[j].CreatedAt)
	})
	return docs, nil
}

func (repo *contentRepository) RecordDownload(ctx context.Context, d content.Download, exec ...core.DBExecutor) error {
	repo.documents.Lock()
	doc, ok := repo.documents.get(d.DocumentID)
	if ok {
		doc.Downloads++
		repo.documents.put(doc.ID, doc)
	}
	repo.documents.Unlock()
	if !ok {
		return content.ErrDocumentNotFound
	}

	repo.downloads.Lock()
	defer repo.downloads.Unlock()
	d.ID = uuid.NewString()
	repo.downloads.put(d.ID, d)
	return nil
}

// Circulars

func (repo *contentRepository) CreateCircular(ctx context.Context, c content.Circular, exec ...core.DBExecutor) (content.Circular, error) {
	repo.circulars.Lock()
	defer repo.circulars.Unlock()

	c.ID = uuid.NewString()
	c.CourseIDs = append([]string(nil), c.CourseIDs...)
	repo.circulars.put(c.ID, c)
	return c, nil
}

func (repo *contentRepository) UpdateCircular(ctx context.Context, c content.Circular, exec ...core.DBExecutor) (content.Circular, error) {
	repo.circulars.Lock()
	defer repo.circulars.Unlock()

	orig, ok := repo.circulars.get(c.ID)
	if !ok {
		return content.Circular{}, content.ErrCircularNotFound
	}
	c.ReadCount = orig.ReadCount
	c.PublishedAt = orig.PublishedAt
	repo.circulars.put(c.ID, c)
	return c, nil
}

func (repo *contentRepository) GetCircular(ctx context.Context, id string, exec ...core.DBExecutor) (content.Circular, error) {
	repo.circulars.RLock()
	defer repo.circulars.RUnlock()
	if c, ok := repo.circulars.get(id); ok {
		return c, nil
	}
	return content.Circular{}, content.ErrCircularNotFound
}

func (repo *contentRepository) QueryCirculars(ctx context.Context, filter content.CircularFilter, exec ...core.DBExecutor) ([]content.Circular, error) {
	repo.circulars.RLock()
	defer repo.circulars.RUnlock()

	circs := repo.circulars.filter(func(c content.Circular) bool {
		if !filter.CurrentOn.IsZero() && !c.IsCurrent(filter.CurrentOn) {
			return false
		}
		if filter.Audiences != nil && !core.StringInSlice(c.Audience, filter.Audiences) {
			return false
		}
		if filter.CourseIDs == nil || len(c.CourseIDs) == 0 {
			return true
		}
		for _, id := range c.CourseIDs {
			if core.StringInSlice(id, filter.CourseIDs) {
				return true
			}
		}
		return false
	})
	sort.SliceStable(circs, func(i, j int) bool {
		return circs[i].PublishedAt.After(circs[j].PublishedAt)
	})
	return circs, nil
}

func (repo *contentRepository) MarkCircularRead(ctx context.Context, circularID, userID string, at time.Time, exec ...core.DBExecutor) (bool, error) {
	repo.circulars.Lock()
	defer repo.circulars.Unlock()
	repo.circularReads.Lock()
	defer repo.circularReads.Unlock()

	c, ok := repo.circulars.get(circularID)
	if !ok {
		return false, content.ErrCircularNotFound
	}
	key := pairKey(circularID, userID)
	if _, ok := repo.circularReads.get(key); ok {
		return false, nil
	}
	repo.circularReads.put(key, true)
	c.ReadCount++
	repo.circulars.put(c.ID, c)
	return true, nil
}

// Events

func (repo *contentRepository) CreateEvent(ctx context.Context, e content.Event, exec ...core.DBExecutor) (content.Event, error) {
	repo.events.Lock()
	defer repo.events.Unlock()

	e.ID = uuid.NewString()
	repo.events.put(e.ID, e)
	return e, nil
}

func (repo *contentRepository) GetEvent(ctx context.Context, id string, exec ...core.DBExecutor) (content.Event, error) {
	repo.events.RLock()
	defer repo.events.RUnlock()
	if e, ok := repo.events.get(id); ok {
		return e, nil
	}
	return content.Event{}, content.ErrEventNotFound
}

func (repo *contentRepository) DeleteEvent(ctx context.Context, id string, exec ...core.DBExecutor) error {
	repo.events.Lock()
	defer repo.events.Unlock()
	if repo.events.remove(id) == 0 {
		return content.ErrEventNotFound
	}
	return nil
}

func (repo *contentRepository) QueryEvents(ctx context.Context, filter content.EventFilter, exec ...core.DBExecutor) ([]content.Event, error) {
	repo.events.RLock()
	defer repo.events.RUnlock()

	events := repo.events.filter(func(e content.Event) bool {
		end := e.StartDate
		if e.EndDate != nil {
			end = *e.EndDate
		}
		if !filter.To.IsZero() && e.StartDate.After(filter.To) {
			return false
		}
		if !filter.From.IsZero() && end.Before(filter.From) {
			return false
		}
		return filter.CourseIDs == nil || e.CourseID == nil || core.StringInSlice(*e.CourseID, filter.CourseIDs)
	})
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].StartDate.Equal(events[j].StartDate) {
			return events[i].StartDate.Before(events[j].StartDate)
		}
		return events[i].StartTime < events[j].StartTime
	})
	return events, nil
}

// Resources

func (repo *contentRepository) CreateResource(ctx context.Context, r content.Resource, exec ...core.DBExecutor) (content.Resource, error) {
	repo.resources.Lock()
	defer repo.resources.Unlock()

	r.ID = uuid.NewString()
	repo.resources.put(r.ID, r)
	return r, nil
}

func (repo *contentRepository) GetResource(ctx context.Context, id string, exec ...core.DBExecutor) (content.Resource, error) {
	repo.resources.RLock()
	defer repo.resources.RUnlock()
	if r, ok := repo.resources.get(id); ok {
		return r, nil
	}
	return content.Resource{}, content.ErrResourceNotFound
}

func (repo *contentRepository) DeleteResource(ctx context.Context, id string, exec ...core.DBExecutor) error {
	repo.resources.Lock()
	defer repo.resources.Unlock()
	if repo.resources.remove(id) == 0 {
		return content.ErrResourceNotFound
	}
	return nil
}

func (repo *contentRepository) QueryResources(ctx context.Context, filter content.ResourceFilter, exec ...core.DBExecutor) ([]content.Resource, error) {
	repo.resources.RLock()
	defer repo.resources.RUnlock()

	res := repo.resources.filter(func(r content.Resource) bool {
		if filter.CourseIDs != nil && !core.StringInSlice(r.CourseID, filter.CourseIDs) {
			return false
		}
		if filter.CourseID != "" && r.CourseID != filter.CourseID {
			return false
		}
		return filter.SubjectID == "" || (r.SubjectID != nil && *r.SubjectID == filter.SubjectID)
	})
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	return res, nil
}
