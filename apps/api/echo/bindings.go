package echoapi

import (
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/liceojbh/intranet/core"
)

const (
	orderingParam = "ordering"
	dateLayout    = "2006-01-02"
)

type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	val := ctx.QueryParam(orderingParam)
	if val == "" {
		return
	}
	for _, field := range strings.Split(val, ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
}

// queryInt reads an integer query param, falling back to def when missing or malformed.
func queryInt(ctx echo.Context, name string, def int) int {
	if v, err := strconv.Atoi(ctx.QueryParam(name)); err == nil {
		return v
	}
	return def
}

// queryDate reads a YYYY-MM-DD query param; a missing param is the zero time.
func queryDate(ctx echo.Context, name string) (time.Time, error) {
	val := ctx.QueryParam(name)
	if val == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, val)
	if err != nil {
		return time.Time{}, core.NewFieldError(name, "use the YYYY-MM-DD format")
	}
	return t, nil
}

func queryBool(ctx echo.Context, name string) *bool {
	if b, err := strconv.ParseBool(ctx.QueryParam(name)); err == nil {
		return &b
	}
	return nil
}
