package pagination

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params holds pagination parameters extracted from a request.
type Params struct {
	Limit  int
	Offset int
}

// FromContext extracts pagination parameters from the echo context.
// limit/offset win over page/per_page when both are given.
func FromContext(c echo.Context) Params {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit, _ = strconv.Atoi(c.QueryParam("per_page"))
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if offset <= 0 {
		if page, _ := strconv.Atoi(c.QueryParam("page")); page > 1 {
			offset = (page - 1) * limit
		}
	}
	if offset < 0 {
		offset = 0
	}

	return Params{Limit: limit, Offset: offset}
}

// Response wraps a paginated API response.
type Response struct {
	Data    interface{} `json:"data"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	Page    int         `json:"page"`
	HasMore bool        `json:"has_more"`
}

func NewResponse(data interface{}, total, limit, offset int) *Response {
	page := 1
	if limit > 0 {
		page = offset/limit + 1
	}
	return &Response{
		Data:    data,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		Page:    page,
		HasMore: offset+limit < total,
	}
}

// Sort is a validated ORDER BY target.
type Sort struct {
	Column string
	Desc   bool
}

// SQL renders the ORDER BY clause. Column always comes from an allow-list.
func (s Sort) SQL() string {
	dir := "ASC"
	if s.Desc {
		dir = "DESC"
	}
	return fmt.Sprintf("ORDER BY %s %s", s.Column, dir)
}

// SortFromContext maps the "sort" and "order" query parameters onto a column
// from allowed (public name -> SQL column). Unknown names fall back to def.
func SortFromContext(c echo.Context, allowed map[string]string, def Sort) Sort {
	out := def
	if col, ok := allowed[strings.ToLower(c.QueryParam("sort"))]; ok {
		out.Column = col
	}
	switch strings.ToLower(c.QueryParam("order")) {
	case "asc":
		out.Desc = false
	case "desc":
		out.Desc = true
	}
	return out
}
