package pagination

import (
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params holds the window requested by a list endpoint.
type Params struct {
	Limit  int
	Offset int
}

// FromContext reads limit/offset with the package defaults.
func FromContext(c echo.Context) Params {
	return Parse(c, DefaultLimit, MaxLimit)
}

// Parse reads limit/offset from the query string. Missing or non-positive
// limits fall back to def; limits above max are clamped.
func Parse(c echo.Context, def, max int) Params {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = def
	}
	if limit > max {
		limit = max
	}
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}
	return Params{Limit: limit, Offset: offset}
}

// Window returns the [start, end) bounds of the page within total items.
func (p Params) Window(total int) (start, end int) {
	start = p.Offset
	if start > total {
		start = total
	}
	end = start + p.Limit
	if end > total {
		end = total
	}
	return start, end
}

func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}

func (p Params) HasPrevious() bool {
	return p.Offset > 0
}

// PreviousOffset never goes below zero.
func (p Params) PreviousOffset() int {
	prev := p.Offset - p.Limit
	if prev < 0 {
		return 0
	}
	return prev
}

// Link is a navigation link for a page.
type Link struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

// Links builds self/next/previous links for u, keeping its other query
// parameters (search text, system filter) intact.
func (p Params) Links(u *url.URL, total int) []Link {
	at := func(offset int) string {
		q := u.Query()
		q.Set("offset", strconv.Itoa(offset))
		q.Set("limit", strconv.Itoa(p.Limit))
		return u.Path + "?" + q.Encode()
	}
	links := []Link{{Relation: "self", URL: at(p.Offset)}}
	if p.HasNext(total) {
		links = append(links, Link{Relation: "next", URL: at(p.Offset + p.Limit)})
	}
	if p.HasPrevious() {
		links = append(links, Link{Relation: "previous", URL: at(p.PreviousOffset())})
	}
	return links
}

// Page is the envelope returned by paginated list endpoints.
type Page[T any] struct {
	Data    []T    `json:"data"`
	Total   int    `json:"total"`
	Limit   int    `json:"limit"`
	Offset  int    `json:"offset"`
	HasMore bool   `json:"has_more"`
	Links   []Link `json:"links,omitempty"`
}

// Slice cuts the requested page out of items. Data is never null.
func Slice[T any](items []T, p Params) *Page[T] {
	total := len(items)
	start, end := p.Window(total)
	data := make([]T, 0, end-start)
	data = append(data, items[start:end]...)
	return &Page[T]{
		Data:    data,
		Total:   total,
		Limit:   p.Limit,
		Offset:  p.Offset,
		HasMore: p.HasNext(total),
	}
}

// WithLinks attaches navigation links derived from the request URL.
func (pg *Page[T]) WithLinks(u *url.URL) *Page[T] {
	p := Params{Limit: pg.Limit, Offset: pg.Offset}
	pg.Links = p.Links(u, pg.Total)
	return pg
}
