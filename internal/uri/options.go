package uri

import (
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/schema"

	"tidb-odata/internal/odataerr"
)

var (
	validate      = validator.New()
	optionDecoder = schema.NewDecoder()
)

func init() {
	// Function parameter aliases and custom options share the query string.
	optionDecoder.IgnoreUnknownKeys(true)
}

// Options are the system query options of a request.
type Options struct {
	Filter    string `schema:"$filter"`
	OrderBy   string `schema:"$orderby"`
	Select    string `schema:"$select"`
	Top       *int   `schema:"$top" validate:"omitempty,min=0"`
	Skip      *int   `schema:"$skip" validate:"omitempty,min=0"`
	SkipToken string `schema:"$skiptoken"`
	Count     bool   `schema:"$count"`
	Format    string `schema:"$format" validate:"omitempty,oneof=json application/json"`
}

// OrderItem is one $orderby clause.
type OrderItem struct {
	Property   string
	Descending bool
}

// DecodeOptions reads system query options from a query string.
func DecodeOptions(values url.Values) (Options, error) {
	var opts Options
	if err := optionDecoder.Decode(&opts, values); err != nil {
		return Options{}, odataerr.Wrap(err, odataerr.KindBadRequest, odataerr.KeyInvalidQueryOption, http.StatusBadRequest, decodeFields(err)...)
	}
	if err := validate.Struct(opts); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, "$"+strings.ToLower(fe.Field()))
			}
			return Options{}, odataerr.Wrap(err, odataerr.KindBadRequest, odataerr.KeyInvalidQueryOption, http.StatusBadRequest, fields...)
		}
		return Options{}, odataerr.Wrap(err, odataerr.KindBadRequest, odataerr.KeyInvalidQueryOption, http.StatusBadRequest)
	}
	return opts, nil
}

func decodeFields(err error) []string {
	var multi schema.MultiError
	if !errors.As(err, &multi) {
		return nil
	}
	fields := make([]string, 0, len(multi))
	for key := range multi {
		fields = append(fields, key)
	}
	sort.Strings(fields)
	return fields
}

// OrderItems parses $orderby into clauses.
func (o Options) OrderItems() ([]OrderItem, error) {
	if strings.TrimSpace(o.OrderBy) == "" {
		return nil, nil
	}
	var items []OrderItem
	for _, clause := range strings.Split(o.OrderBy, ",") {
		fields := strings.Fields(clause)
		switch {
		case len(fields) == 1:
			items = append(items, OrderItem{Property: fields[0]})
		case len(fields) == 2 && (fields[1] == "asc" || fields[1] == "desc"):
			items = append(items, OrderItem{Property: fields[0], Descending: fields[1] == "desc"})
		default:
			return nil, odataerr.BadRequest(odataerr.KeyInvalidQueryOption, "$orderby", clause)
		}
	}
	return items, nil
}

// SelectList parses $select. An empty result selects every property.
func (o Options) SelectList() []string {
	var props []string
	for _, p := range strings.Split(o.Select, ",") {
		if p = strings.TrimSpace(p); p != "" && p != "*" {
			props = append(props, p)
		}
	}
	return props
}
