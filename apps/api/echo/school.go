package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/liceojbh/intranet/core/school"
)

type schoolApi struct {
	svc      *school.Service
	auth     authenticator
	validate *validator.Validate
}

func registerSchoolAPI(g *echo.Group, jwt echo.MiddlewareFunc, auth authenticator, svc *school.Service, validate *validator.Validate) {
	api := schoolApi{svc: svc, auth: auth, validate: validate}

	sg := g.Group("/school")
	sg.GET("/discover", api.discover)

	ag := sg.Group("", jwt)
	ag.GET("", api.retrieve, staffMiddleware(auth))
	ag.PUT("", api.update)
	ag.POST("/code", api.regenerateCode, adminMiddleware(auth))
	ag.POST("/registered", api.markRegistered, adminMiddleware(auth))
}

func (api *schoolApi) discover(ctx echo.Context) error {
	d, err := api.svc.Discover(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "discovering school")
	}
	return ctx.JSON(http.StatusOK, d)
}

func (api *schoolApi) retrieve(ctx echo.Context) error {
	c, err := api.svc.Get(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "getting school configuration")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *schoolApi) update(ctx echo.Context) error {
	var data school.UpdateConfig
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateConfig")
	}
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	c, err := api.svc.Update(ctx.Request().Context(), usr, data)
	if err != nil {
		return errors.Wrap(err, "updating school configuration")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *schoolApi) regenerateCode(ctx echo.Context) error {
	c, _, err := api.svc.EnsureCode(ctx.Request().Context(), true /* force */)
	if err != nil {
		return errors.Wrap(err, "regenerating school code")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *schoolApi) markRegistered(ctx echo.Context) error {
	c, err := api.svc.MarkRegistered(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "marking school as registered")
	}
	return ctx.JSON(http.StatusOK, c)
}
