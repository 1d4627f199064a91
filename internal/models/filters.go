package models

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// AllRoutes is the route key used when no route filter is given
const AllRoutes = "ALL"

// ReclusterQuery represents the raw query parameters of a recluster request
type ReclusterQuery struct {
	RouteIDs     string `form:"route_ids" validate:"omitempty,routeids"`        // comma separated, empty = all
	FromOday     string `form:"from_oday" validate:"required,isodate"`          // YYYY-MM-DD
	ToOday       string `form:"to_oday" validate:"required,isodate"`            // YYYY-MM-DD
	ExcludeDates string `form:"exclude_dates" validate:"omitempty,isodatelist"` // comma separated YYYY-MM-DD
}

// PreprocessQuery represents the raw query parameters of a preprocess request
type PreprocessQuery struct {
	RouteIDs string `form:"route_ids" validate:"omitempty,routeids"`
	Date     string `form:"date" validate:"omitempty,isodate"`
	Force    bool   `form:"force"`
}

// ReclusterParams are validated and normalised recluster parameters
type ReclusterParams struct {
	RouteIDs     []string `json:"route_ids"`     // sorted, nil = all
	FromOday     string   `json:"from_oday"`
	ToOday       string   `json:"to_oday"`
	ExcludeDates []string `json:"exclude_dates"` // sorted, deduplicated
}

// RouteKey returns "ALL" or the comma-joined route ids
func (p *ReclusterParams) RouteKey() string {
	if len(p.RouteIDs) == 0 {
		return AllRoutes
	}
	return strings.Join(p.RouteIDs, ",")
}

// JobKey returns the status record key for the given table
func (p *ReclusterParams) JobKey(table string) JobKey {
	return JobKey{
		Table:         table,
		RouteIDs:      p.RouteKey(),
		FromOday:      p.FromOday,
		ToOday:        p.ToOday,
		ExcludedDates: strings.Join(p.ExcludeDates, ","),
	}
}

// Excludes reports whether oday is in the exclusion list
func (p *ReclusterParams) Excludes(oday string) bool {
	i := sort.SearchStrings(p.ExcludeDates, oday)
	return i < len(p.ExcludeDates) && p.ExcludeDates[i] == oday
}

// ValidationError carries per-field messages for rejected caller input
type ValidationError struct {
	Fields map[string]string `json:"fields"`
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid parameters: " + strings.Join(parts, "; ")
}

// IsValidationError reports whether err is (or wraps) a ValidationError
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

var routeIDPattern = regexp.MustCompile(`^[0-9A-Za-z]+$`)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func paramValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterValidation("isodate", func(fl validator.FieldLevel) bool {
			_, err := time.Parse(OdayLayout, fl.Field().String())
			return err == nil
		})
		validate.RegisterValidation("isodatelist", func(fl validator.FieldLevel) bool {
			for _, d := range splitList(fl.Field().String()) {
				if _, err := time.Parse(OdayLayout, d); err != nil {
					return false
				}
			}
			return true
		})
		validate.RegisterValidation("routeids", func(fl validator.FieldLevel) bool {
			for _, id := range splitList(fl.Field().String()) {
				if !routeIDPattern.MatchString(id) {
					return false
				}
			}
			return true
		})
	})
	return validate
}

var fieldMessages = map[string]string{
	"required":    "is required",
	"isodate":     "must be an ISO date (YYYY-MM-DD)",
	"isodatelist": "must be a comma separated list of ISO dates",
	"routeids":    "must be a comma separated list of alphanumeric route ids",
}

// structErrors converts validator output into a per-field ValidationError
func structErrors(err error, fieldNames map[string]string) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	ve := &ValidationError{Fields: map[string]string{}}
	for _, fe := range verrs {
		name := fieldNames[fe.Field()]
		if name == "" {
			name = fe.Field()
		}
		msg, ok := fieldMessages[fe.Tag()]
		if !ok {
			msg = fmt.Sprintf("failed %s validation", fe.Tag())
		}
		ve.Fields[name] = msg
	}
	return ve
}

var reclusterFieldNames = map[string]string{
	"RouteIDs":     "route_ids",
	"FromOday":     "from_oday",
	"ToOday":       "to_oday",
	"ExcludeDates": "exclude_dates",
}

// Parse validates the query and returns normalised parameters
func (q *ReclusterQuery) Parse() (*ReclusterParams, error) {
	if err := paramValidator().Struct(q); err != nil {
		return nil, structErrors(err, reclusterFieldNames)
	}
	if q.FromOday > q.ToOday {
		return nil, &ValidationError{Fields: map[string]string{
			"to_oday": "must not be before from_oday",
		}}
	}

	return &ReclusterParams{
		RouteIDs:     sortedUnique(splitList(q.RouteIDs)),
		FromOday:     q.FromOday,
		ToOday:       q.ToOday,
		ExcludeDates: sortedUnique(splitList(q.ExcludeDates)),
	}, nil
}

// Validate checks the preprocess query
func (q *PreprocessQuery) Validate() error {
	if err := paramValidator().Struct(q); err != nil {
		return structErrors(err, map[string]string{"RouteIDs": "route_ids", "Date": "date"})
	}
	return nil
}

// RouteIDList returns the requested routes, nil when none
func (q *PreprocessQuery) RouteIDList() []string {
	return sortedUnique(splitList(q.RouteIDs))
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func sortedUnique(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	sort.Strings(in)
	out := in[:1]
	for _, s := range in[1:] {
		if s != out[len(out)-1] {
			out = append(out, s)
		}
	}
	return out
}
