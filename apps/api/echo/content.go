package echoapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/liceojbh/intranet/core"
	"github.com/liceojbh/intranet/core/content"
)

type contentApi struct {
	svc  *content.Service
	auth authenticator
}

func registerContentAPI(g *echo.Group, jwt, optionalJWT echo.MiddlewareFunc, auth authenticator, svc *content.Service) {
	api := contentApi{svc: svc, auth: auth}

	ng := g.Group("/news")
	ng.GET("/categories", api.newsCategories)
	ng.POST("/categories", api.createNewsCategory, jwt)
	ng.GET("", api.newsFeed, optionalJWT)
	ng.POST("", api.publishNews, jwt)
	ng.GET("/:id", api.readNews, optionalJWT)
	ng.PUT("/:id", api.updateNews, jwt)
	ng.DELETE("/:id", api.deleteNews, jwt)
	ng.POST("/:id/confirm", api.confirmNews, jwt)
	ng.GET("/:id/confirmations", api.confirmations, jwt)

	dg := g.Group("/documents")
	dg.GET("/categories", api.documentCategories)
	dg.POST("/categories", api.createDocumentCategory, jwt)
	dg.GET("", api.documents, optionalJWT)
	dg.POST("", api.upload, jwt)
	dg.GET("/:id/download", api.download, optionalJWT)
	dg.DELETE("/:id", api.deleteDocument, jwt)

	cg := g.Group("/circulars", jwt)
	cg.GET("", api.circulars)
	cg.POST("", api.publishCircular)
	cg.GET("/:id", api.readCircular)
	cg.POST("/:id/deactivate", api.deactivateCircular)

	g.GET("/courses/:id/resources", api.courseResources, jwt)
	g.POST("/courses/:id/resources", api.uploadResource, jwt)
	rg := g.Group("/resources", jwt)
	rg.GET("", api.resources)
	rg.GET("/:id/download", api.downloadResource)
	rg.DELETE("/:id", api.deleteResource)

	eg := g.Group("/events", jwt)
	eg.POST("", api.createEvent)
	eg.DELETE("/:id", api.deleteEvent)
	g.GET("/calendar", api.calendar, jwt)
}

// News

func (api *contentApi) newsCategories(ctx echo.Context) error {
	cats, err := api.svc.NewsCategories(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "listing news categories")
	}
	if cats == nil {
		cats = []content.NewsCategory{}
	}
	return ctx.JSON(http.StatusOK, cats)
}

func (api *contentApi) createNewsCategory(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var data content.NewNewsCategory
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewNewsCategory")
	}
	cat, err := api.svc.CreateNewsCategory(ctx.Request().Context(), usr, data)
	if err != nil {
		if errors.Cause(err) == content.ErrCategoryExists {
			return core.NewFieldError("name", err.Error())
		}
		return errors.Wrap(err, "creating news category")
	}
	return ctx.JSON(http.StatusCreated, cat)
}

func (api *contentApi) newsFeed(ctx echo.Context) error {
	usr, err := api.auth.optionalUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	filter := content.NewsFilter{
		CategoryID: ctx.QueryParam("category"),
		Search:     ctx.QueryParam("search"),
		Limit:      queryInt(ctx, "limit", 20),
	}
	news, err := api.svc.NewsFeed(ctx.Request().Context(), usr, filter)
	if err != nil {
		return errors.Wrap(err, "listing news")
	}
	if news == nil {
		news = []content.News{}
	}
	return ctx.JSON(http.StatusOK, news)
}

func (api *contentApi) publishNews(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var data content.NewNews
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewNews")
	}
	n, err := api.svc.PublishNews(ctx.Request().Context(), usr, data)
	if err != nil {
		return errors.Wrap(err, "publishing news")
	}
	return ctx.JSON(http.StatusCreated, n)
}

func (api *contentApi) readNews(ctx echo.Context) error {
	usr, err := api.auth.optionalUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	n, err := api.svc.ReadNews(ctx.Request().Context(), usr, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "reading news")
	}
	return ctx.JSON(http.StatusOK, n)
}

func (api *contentApi) updateNews(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var data content.NewNews
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewNews")
	}
	n, err := api.svc.UpdateNews(ctx.Request().Context(), usr, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating news")
	}
	return ctx.JSON(http.StatusOK, n)
}

func (api *contentApi) deleteNews(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if err = api.svc.DeleteNews(ctx.Request().Context(), usr, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting news")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *contentApi) confirmNews(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	created, err := api.svc.ConfirmNews(ctx.Request().Context(), usr, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "confirming news")
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	return ctx.JSON(code, SuccessResponse{Success: "true"})
}

func (api *contentApi) confirmations(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	confs, err := api.svc.Confirmations(ctx.Request().Context(), usr, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "listing confirmations")
	}
	if confs == nil {
		confs = []content.Confirmation{}
	}
	return ctx.JSON(http.StatusOK, confs)
}

// Documents

func (api *contentApi) documentCategories(ctx echo.Context) error {
	cats, err := api.svc.DocumentCategories(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "listing document categories")
	}
	if cats == nil {
		cats = []content.DocumentCategory{}
	}
	return ctx.JSON(http.StatusOK, cats)
}

func (api *contentApi) createDocumentCategory(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var data content.NewDocumentCategory
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewDocumentCategory")
	}
	cat, err := api.svc.CreateDocumentCategory(ctx.Request().Context(), usr, data)
	if err != nil {
		if errors.Cause(err) == content.ErrCategoryExists {
			return core.NewFieldError("name", err.Error())
		}
		return errors.Wrap(err, "creating document category")
	}
	return ctx.JSON(http.StatusCreated, cat)
}

func (api *contentApi) documents(ctx echo.Context) error {
	usr, err := api.auth.optionalUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	filter := content.DocumentFilter{
		CategoryID: ctx.QueryParam("category"),
		Type:       ctx.QueryParam("type"),
		Search:     ctx.QueryParam("search"),
	}
	docs, err := api.svc.Documents(ctx.Request().Context(), usr, filter)
	if err != nil {
		return errors.Wrap(err, "listing documents")
	}
	if docs == nil {
		docs = []content.Document{}
	}
	return ctx.JSON(http.StatusOK, docs)
}

// upload stores a document sent as a multipart form with its "file".
func (api *contentApi) upload(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	data, err := bindNewDocument(ctx)
	if err != nil {
		return err
	}
	f, err := formFile(ctx, "file")
	if err != nil {
		return err
	}
	if f != nil {
		defer func() { _ = f.Close() }()
		data.File = f.upload()
	}

	d, err := api.svc.Upload(ctx.Request().Context(), usr, data, ctx.RealIP())
	if err != nil {
		return errors.Wrap(err, "uploading document")
	}
	return ctx.JSON(http.StatusCreated, d)
}

func bindNewDocument(ctx echo.Context) (content.NewDocument, error) {
	nd := content.NewDocument{
		Title:       ctx.FormValue("title"),
		Description: ctx.FormValue("description"),
		Visibility:  ctx.FormValue("visibility"),
		Version:     ctx.FormValue("version"),
	}
	if id := ctx.FormValue("category_id"); id != "" {
		nd.CategoryID = &id
	}
	if form, err := ctx.FormParams(); err == nil {
		for _, v := range form["tags"] {
			nd.Tags = append(nd.Tags, strings.Split(v, ",")...)
		}
	}
	for name, dst := range map[string]*bool{"is_official": &nd.IsOfficial, "is_published": &nd.IsPublished} {
		v := ctx.FormValue(name)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nd, core.NewFieldError(name, "must be true or false")
		}
		*dst = b
	}
	return nd, nil
}

func (api *contentApi) download(ctx echo.Context) error {
	usr, err := api.auth.optionalUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	d, rc, err := api.svc.Download(ctx.Request().Context(), usr, ctx.Param("id"), ctx.RealIP())
	if err != nil {
		return errors.Wrap(err, "downloading document")
	}
	defer func() { _ = rc.Close() }()
	return streamFile(ctx, d.FileName, rc)
}

func (api *contentApi) deleteDocument(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if err = api.svc.DeleteDocument(ctx.Request().Context(), usr, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting document")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Resources

func (api *contentApi) courseResources(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	filter := content.ResourceFilter{CourseID: ctx.Param("id"), SubjectID: ctx.QueryParam("subject")}
	res, err := api.svc.Resources(ctx.Request().Context(), usr, filter)
	if err != nil {
		return errors.Wrap(err, "listing course resources")
	}
	if res == nil {
		res = []content.Resource{}
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *contentApi) resources(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var filter content.ResourceFilter
	if err = ctx.Bind(&filter); err != nil {
		return err
	}
	res, err := api.svc.Resources(ctx.Request().Context(), usr, filter)
	if err != nil {
		return errors.Wrap(err, "listing resources")
	}
	if res == nil {
		res = []content.Resource{}
	}
	return ctx.JSON(http.StatusOK, res)
}

// uploadResource shares a file with a course; the form carries "title", "description", an optional "subject_id" and the "file".
func (api *contentApi) uploadResource(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	data := content.NewResource{
		CourseID:    ctx.Param("id"),
		Title:       ctx.FormValue("title"),
		Description: ctx.FormValue("description"),
	}
	if id := ctx.FormValue("subject_id"); id != "" {
		data.SubjectID = &id
	}
	f, err := formFile(ctx, "file")
	if err != nil {
		return err
	}
	if f != nil {
		defer func() { _ = f.Close() }()
		data.File = f.upload()
	}

	r, err := api.svc.UploadResource(ctx.Request().Context(), usr, data, ctx.RealIP())
	if err != nil {
		return errors.Wrap(err, "uploading resource")
	}
	return ctx.JSON(http.StatusCreated, r)
}

func (api *contentApi) downloadResource(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	r, rc, err := api.svc.OpenResource(ctx.Request().Context(), usr, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "opening resource")
	}
	defer func() { _ = rc.Close() }()
	return streamFile(ctx, r.FileName, rc)
}

func (api *contentApi) deleteResource(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if err = api.svc.DeleteResource(ctx.Request().Context(), usr, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting resource")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Circulars

func (api *contentApi) circulars(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	circs, err := api.svc.Circulars(ctx.Request().Context(), usr)
	if err != nil {
		return errors.Wrap(err, "listing circulars")
	}
	if circs == nil {
		circs = []content.Circular{}
	}
	return ctx.JSON(http.StatusOK, circs)
}

func (api *contentApi) publishCircular(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var data content.NewCircular
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewCircular")
	}
	c, err := api.svc.PublishCircular(ctx.Request().Context(), usr, data)
	if err != nil {
		return errors.Wrap(err, "publishing circular")
	}
	return ctx.JSON(http.StatusCreated, c)
}

func (api *contentApi) readCircular(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	c, err := api.svc.ReadCircular(ctx.Request().Context(), usr, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "reading circular")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *contentApi) deactivateCircular(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	c, err := api.svc.DeactivateCircular(ctx.Request().Context(), usr, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "deactivating circular")
	}
	return ctx.JSON(http.StatusOK, c)
}

// Events

func (api *contentApi) createEvent(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var data content.NewEvent
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewEvent")
	}
	e, err := api.svc.CreateEvent(ctx.Request().Context(), usr, data)
	if err != nil {
		return errors.Wrap(err, "creating event")
	}
	return ctx.JSON(http.StatusCreated, e)
}

func (api *contentApi) deleteEvent(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if err = api.svc.DeleteEvent(ctx.Request().Context(), usr, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting event")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// calendar defaults to the current month when from or to is missing.
func (api *contentApi) calendar(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	from, err := queryDate(ctx, "from")
	if err != nil {
		return err
	}
	to, err := queryDate(ctx, "to")
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if from.IsZero() {
		from = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	if to.IsZero() {
		to = from.AddDate(0, 1, -1)
	}

	events, err := api.svc.Calendar(ctx.Request().Context(), usr, from, to)
	if err != nil {
		return errors.Wrap(err, "building calendar")
	}
	return ctx.JSON(http.StatusOK, events)
}
