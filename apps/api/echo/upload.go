package echoapi

import (
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/liceojbh/intranet/core"
)

type multipartFile struct {
	multipart.File
	header *multipart.FileHeader
}

func (f *multipartFile) upload() *core.Upload {
	return &core.Upload{Filename: f.header.Filename, Size: f.header.Size, Content: f.File}
}

func isMultipart(ctx echo.Context) bool {
	return strings.HasPrefix(ctx.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm)
}

// formFile opens the named file of a multipart request; a missing file is nil, not an error.
func formFile(ctx echo.Context, name string) (*multipartFile, error) {
	header, err := ctx.FormFile(name)
	if err != nil {
		if err == http.ErrMissingFile || err == http.ErrNotMultipart {
			return nil, nil
		}
		return nil, core.NewFieldError(name, "could not read the uploaded file")
	}
	f, err := header.Open()
	if err != nil {
		return nil, errors.Wrap(err, "opening uploaded file")
	}
	return &multipartFile{File: f, header: header}, nil
}
