package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/liceojbh/intranet/core/audit"
	"github.com/liceojbh/intranet/core/messaging"
	"github.com/liceojbh/intranet/core/notification"
)

type notificationApi struct {
	svc      *notification.Service
	msgSvc   *messaging.Service
	auditSvc *audit.Service
	auth     authenticator
}

func registerNotificationAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	auth authenticator,
	svc *notification.Service,
	msgSvc *messaging.Service,
	auditSvc *audit.Service,
) {
	api := notificationApi{svc: svc, msgSvc: msgSvc, auditSvc: auditSvc, auth: auth}

	ng := g.Group("/notifications", jwt)
	ng.GET("", api.list)
	ng.POST("/read", api.markRead)
	ng.GET("/counters", api.counters)

	g.GET("/activity", api.activity, jwt, staffMiddleware(auth))
}

func (api *notificationApi) list(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	list, unread, err := api.svc.List(ctx.Request().Context(), usr.ID)
	if err != nil {
		return errors.Wrap(err, "listing notifications")
	}
	if list == nil {
		list = []notification.Notification{}
	}
	return ctx.JSON(http.StatusOK, NotificationsResponse{Notifications: list, Unread: unread})
}

// markRead marks the given notifications as read; every unread one when no id is given.
func (api *notificationApi) markRead(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var data MarkReadRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to MarkReadRequest")
	}
	n, err := api.svc.MarkRead(ctx.Request().Context(), usr.ID, data.IDs...)
	if err != nil {
		return errors.Wrap(err, "marking notifications read")
	}
	return ctx.JSON(http.StatusOK, MarkReadResponse{Marked: n})
}

// counters feeds the navbar badges.
func (api *notificationApi) counters(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	_, unread, err := api.svc.List(ctx.Request().Context(), usr.ID)
	if err != nil {
		return errors.Wrap(err, "counting notifications")
	}
	resp := CountersResponse{Notifications: unread}
	if usr.IsStudent() || usr.IsTeacher() {
		if resp.Messages, err = api.msgSvc.UnreadTotal(ctx.Request().Context(), usr); err != nil {
			return errors.Wrap(err, "counting unread messages")
		}
	}
	return ctx.JSON(http.StatusOK, resp)
}

func (api *notificationApi) activity(ctx echo.Context) error {
	filter := audit.Filter{
		UserID: ctx.QueryParam("user_id"),
		Kind:   ctx.QueryParam("kind"),
		Limit:  queryInt(ctx, "limit", 100),
	}
	entries, err := api.auditSvc.Query(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying activity log")
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	return ctx.JSON(http.StatusOK, entries)
}

type (
	NotificationsResponse struct {
		Notifications []notification.Notification `json:"notifications"`
		Unread        int                         `json:"unread"`
	}

	MarkReadRequest struct {
		IDs []string `json:"ids"`
	}

	MarkReadResponse struct {
		Marked int `json:"marked"`
	}

	CountersResponse struct {
		Notifications int `json:"notifications"`
		Messages      int `json:"messages"`
	}
)
