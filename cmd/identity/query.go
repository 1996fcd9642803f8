package identity

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// FilterOp is a comparison used by list filters ("<field>_<op>=<value>").
type FilterOp string

const (
	OpContains   FilterOp = "contains"
	OpEq         FilterOp = "eq"
	OpGte        FilterOp = "gte"
	OpLte        FilterOp = "lte"
	OpStartsWith FilterOp = "startsWith"
	OpEndsWith   FilterOp = "endsWith"
)

type fieldKind int

const (
	textField fieldKind = iota
	timeField
)

// listFields maps external field names to their kind and column.
var listFields = map[string]struct {
	kind   fieldKind
	column string
}{
	"id":        {textField, "id"},
	"email":     {textField, "email"},
	"name":      {textField, "display_name"},
	"createdAt": {timeField, "created_at"},
	"updatedAt": {timeField, "updated_at"},
}

// Filter restricts a principal listing. Text comparisons other than eq are
// case-insensitive. Time holds the parsed value for time fields.
type Filter struct {
	Field string
	Op    FilterOp
	Value string
	Time  time.Time
}

// ListQuery is a page request over principals.
type ListQuery struct {
	Offset    int
	Limit     int
	SortField string
	SortDesc  bool
	Filters   []Filter
}

// DefaultListQuery returns the first page in insertion order.
func DefaultListQuery() ListQuery {
	return ListQuery{Limit: defaultPageSize}
}

// ParseListQuery reads a react-admin style query: _start and _end select the
// window, _sort and _order the ordering, and <field>_<op> keys add filters.
// Keys without an underscore and empty filter values are ignored.
func ParseListQuery(v url.Values) (ListQuery, error) {
	const op = "identity.ParseListQuery"

	q := DefaultListQuery()

	start, err := intParam(v, "_start", 0)
	if err != nil {
		return ListQuery{}, invalid(op, err.Error())
	}
	end, err := intParam(v, "_end", start+defaultPageSize)
	if err != nil {
		return ListQuery{}, invalid(op, err.Error())
	}
	if start < 0 || end <= start {
		return ListQuery{}, invalid(op, "_start must be >= 0 and < _end")
	}
	q.Offset = start
	q.Limit = min(end-start, maxPageSize)

	if sortField := v.Get("_sort"); sortField != "" && v.Get("_order") != "" {
		if _, ok := listFields[sortField]; !ok {
			return ListQuery{}, invalid(op, "unknown sort field "+strconv.Quote(sortField))
		}
		q.SortField = sortField
		q.SortDesc = strings.EqualFold(v.Get("_order"), "desc")
	}

	for key, vals := range v {
		if strings.HasPrefix(key, "_") {
			continue
		}
		field, rawOp, ok := strings.Cut(key, "_")
		if !ok || len(vals) == 0 || vals[0] == "" {
			continue
		}
		f, err := parseFilter(field, FilterOp(rawOp), vals[0])
		if err != nil {
			return ListQuery{}, invalid(op, err.Error())
		}
		q.Filters = append(q.Filters, f)
	}

	return q, nil
}

func parseFilter(field string, fop FilterOp, value string) (Filter, error) {
	def, ok := listFields[field]
	if !ok {
		return Filter{}, fmt.Errorf("unknown filter field %q", field)
	}
	f := Filter{Field: field, Op: fop, Value: value}

	switch fop {
	case OpContains, OpStartsWith, OpEndsWith:
		if def.kind != textField {
			return Filter{}, fmt.Errorf("%s does not support %s", field, fop)
		}
	case OpGte, OpLte:
		if def.kind != timeField {
			return Filter{}, fmt.Errorf("%s does not support %s", field, fop)
		}
		t, err := parseFilterTime(value)
		if err != nil {
			return Filter{}, fmt.Errorf("%s_%s: %w", field, fop, err)
		}
		f.Time = t
	case OpEq:
		if def.kind == timeField {
			t, err := parseFilterTime(value)
			if err != nil {
				return Filter{}, fmt.Errorf("%s_%s: %w", field, fop, err)
			}
			f.Time = t
		}
	default:
		return Filter{}, fmt.Errorf("unknown filter operator %q", fop)
	}
	return f, nil
}

func parseFilterTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q", s)
	}
	return t.UTC(), nil
}

func intParam(v url.Values, key string, def int) (int, error) {
	raw := v.Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: not an integer", key)
	}
	return n, nil
}

// match evaluates f against p in memory.
func (f Filter) match(p PrincipalSummary) bool {
	var text string
	var at time.Time
	switch f.Field {
	case "id":
		text = p.ID
	case "email":
		text = p.Email
	case "name":
		text = p.DisplayName
	case "createdAt":
		at = p.CreatedAt
	case "updatedAt":
		at = p.UpdatedAt
	}

	lowText, lowVal := strings.ToLower(text), strings.ToLower(f.Value)
	switch f.Op {
	case OpContains:
		return strings.Contains(lowText, lowVal)
	case OpStartsWith:
		return strings.HasPrefix(lowText, lowVal)
	case OpEndsWith:
		return strings.HasSuffix(lowText, lowVal)
	case OpGte:
		return !at.Before(f.Time)
	case OpLte:
		return !at.After(f.Time)
	case OpEq:
		if !f.Time.IsZero() {
			return at.Equal(f.Time)
		}
		return text == f.Value
	}
	return false
}

// compareBy orders principals by field; ties fall back to id.
func compareBy(a, b PrincipalSummary, field string) int {
	var c int
	switch field {
	case "email":
		c = strings.Compare(a.Email, b.Email)
	case "name":
		c = strings.Compare(a.DisplayName, b.DisplayName)
	case "createdAt":
		c = a.CreatedAt.Compare(b.CreatedAt)
	case "updatedAt":
		c = a.UpdatedAt.Compare(b.UpdatedAt)
	}
	if c == 0 {
		c = strings.Compare(a.ID, b.ID)
	}
	return c
}
