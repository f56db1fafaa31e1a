package echoapi

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/liceojbh/intranet/core/messaging"
	"github.com/liceojbh/intranet/core/user"
)

type messagingApi struct {
	svc  *messaging.Service
	auth authenticator
}

func registerMessagingAPI(g *echo.Group, jwt, period echo.MiddlewareFunc, auth authenticator, svc *messaging.Service) {
	api := messagingApi{svc: svc, auth: auth}

	// only students and teachers message each other
	mg := g.Group("/messages", jwt, roleMiddleware(auth, user.RoleStudent, user.RoleTeacher))
	mg.GET("/contacts", api.contacts, period)
	mg.GET("/unread", api.unread)
	mg.GET("/conversations", api.list)
	mg.POST("/conversations", api.start, period)
	mg.GET("/conversations/:id", api.view)
	mg.DELETE("/conversations/:id", api.destroy)
	mg.POST("/conversations/:id/messages", api.send)
	mg.GET("/conversations/:id/messages/:msgID/attachment", api.attachment)
}

func (api *messagingApi) contacts(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	contacts, err := api.svc.Contacts(ctx.Request().Context(), usr, getContextPeriod(ctx))
	if err != nil {
		return errors.Wrap(err, "listing contacts")
	}
	if contacts == nil {
		contacts = []user.User{}
	}
	return ctx.JSON(http.StatusOK, contacts)
}

func (api *messagingApi) unread(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	n, err := api.svc.UnreadTotal(ctx.Request().Context(), usr)
	if err != nil {
		return errors.Wrap(err, "counting unread messages")
	}
	return ctx.JSON(http.StatusOK, UnreadResponse{Unread: n})
}

func (api *messagingApi) list(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	views, err := api.svc.List(ctx.Request().Context(), usr)
	if err != nil {
		return errors.Wrap(err, "listing conversations")
	}
	return ctx.JSON(http.StatusOK, views)
}

func (api *messagingApi) start(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var data messaging.NewConversation
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewConversation")
	}

	c, created, err := api.svc.StartConversation(ctx.Request().Context(), usr, getContextPeriod(ctx), data)
	if err != nil {
		return errors.Wrap(err, "starting conversation")
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	return ctx.JSON(code, c)
}

func (api *messagingApi) view(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	thread, err := api.svc.View(ctx.Request().Context(), usr, ctx.Param("id"), queryInt(ctx, "page", 1))
	if err != nil {
		return errors.Wrap(err, "viewing conversation")
	}
	return ctx.JSON(http.StatusOK, thread)
}

func (api *messagingApi) destroy(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if err = api.svc.Delete(ctx.Request().Context(), usr, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting conversation")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// send accepts JSON, or a multipart form when the message carries an "attachment" file.
func (api *messagingApi) send(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var data messaging.NewMessage
	if isMultipart(ctx) {
		data.Subject = ctx.FormValue("subject")
		data.Content = ctx.FormValue("content")
	} else if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewMessage")
	}
	f, err := formFile(ctx, "attachment")
	if err != nil {
		return err
	}
	if f != nil {
		defer func() { _ = f.Close() }()
		data.Attachment = f.upload()
	}

	msg, err := api.svc.Send(ctx.Request().Context(), usr, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "sending message")
	}
	return ctx.JSON(http.StatusCreated, msg)
}

func (api *messagingApi) attachment(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	att, rc, err := api.svc.OpenAttachment(ctx.Request().Context(), usr, ctx.Param("id"), ctx.Param("msgID"))
	if err != nil {
		return errors.Wrap(err, "opening attachment")
	}
	defer func() { _ = rc.Close() }()
	return streamFile(ctx, att.Name, rc)
}

// streamFile sends r as a download named filename.
func streamFile(ctx echo.Context, filename string, r io.Reader) error {
	contentType := mime.TypeByExtension(filepath.Ext(filename))
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	ctx.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return ctx.Stream(http.StatusOK, contentType, r)
}

type UnreadResponse struct {
	Unread int `json:"unread"`
}
