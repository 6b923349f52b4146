package population

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// defaults and bounds for list and range queries
const (
	DefaultPage      = 1
	DefaultLimit     = 10
	MaxLimit         = 100
	DefaultSortBy    = "year"
	DefaultOrder     = "desc"
	DefaultStartYear = 2010
	MinYear          = 1900
	MaxYear          = 2100
)

// sortColumns maps the accepted sortBy values to their columns
var sortColumns = map[string]string{
	"year":       "year",
	"population": "population",
	"nation":     "nation",
}

// ParameterError is returned for invalid query parameters
type ParameterError struct {
	Parameter string
	Reason    string
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %s: %s", e.Parameter, e.Reason)
}

// ListOptions controls pagination and sorting of List
type ListOptions struct {
	Page   int
	Limit  int
	SortBy string
	Order  string
}

// Offset returns the number of records to skip
func (o ListOptions) Offset() int {
	return (o.Page - 1) * o.Limit
}

// PageCount returns the number of pages for total records
func (o ListOptions) PageCount(total int) int {
	if o.Limit <= 0 {
		return 0
	}
	return (total + o.Limit - 1) / o.Limit
}

// ParseListOptions reads page, limit, sortBy and order from query, applying defaults
// for missing values
func ParseListOptions(query url.Values) (ListOptions, error) {
	opts := ListOptions{
		Page:   DefaultPage,
		Limit:  DefaultLimit,
		SortBy: DefaultSortBy,
		Order:  DefaultOrder,
	}
	var err error
	if opts.Page, err = intParameter(query, "page", DefaultPage, 1, 1<<31-1); err != nil {
		return opts, err
	}
	if opts.Limit, err = intParameter(query, "limit", DefaultLimit, 1, MaxLimit); err != nil {
		return opts, err
	}
	if s := query.Get("sortBy"); s != "" {
		if _, ok := sortColumns[s]; !ok {
			return opts, &ParameterError{Parameter: "sortBy", Reason: "must be one of year, population, nation"}
		}
		opts.SortBy = s
	}
	if s := strings.ToLower(query.Get("order")); s != "" {
		if s != "asc" && s != "desc" {
			return opts, &ParameterError{Parameter: "order", Reason: "must be asc or desc"}
		}
		opts.Order = s
	}
	return opts, nil
}

// ParseRange reads startYear and endYear from query. startYear defaults to
// 2010, endYear to the year of now.
func ParseRange(query url.Values, now time.Time) (start, end int, err error) {
	if start, err = intParameter(query, "startYear", DefaultStartYear, MinYear, MaxYear); err != nil {
		return
	}
	if end, err = intParameter(query, "endYear", now.Year(), MinYear, MaxYear); err != nil {
		return
	}
	if start > end {
		err = &ParameterError{Parameter: "startYear", Reason: "must not be after endYear"}
	}
	return
}

func intParameter(query url.Values, name string, def, min, max int) (int, error) {
	s := query.Get(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, &ParameterError{Parameter: name, Reason: "must be an integer"}
	}
	if v < min || v > max {
		return 0, &ParameterError{Parameter: name, Reason: fmt.Sprintf("must be between %d and %d", min, max)}
	}
	return v, nil
}
