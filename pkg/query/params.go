package query

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/nicktill/salesdash/pkg/dataset"
)

// FilterFromValues reads filter predicates from URL parameters:
// store, state, promo, positive_sales and has_oil.
func FilterFromValues(v url.Values) (Filter, error) {
	var f Filter
	if s := v.Get("store"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, &QueryError{Op: "params", Field: "store", Reason: fmt.Sprintf("not an integer: %q", s)}
		}
		f = append(f, StoreEq(n))
	}
	if s := v.Get("state"); s != "" {
		f = append(f, StateEq(s))
	}
	flags := []struct {
		name string
		pred Predicate
	}{
		{"promo", OnPromotion()},
		{"positive_sales", PositiveSales()},
		{"has_oil", HasOil()},
	}
	for _, flag := range flags {
		on, err := boolParam(v, flag.name)
		if err != nil {
			return nil, err
		}
		if on {
			f = append(f, flag.pred)
		}
	}
	return f, nil
}

// SpecFromValues reads a full Spec from URL parameters. group_by is a comma
// separated list.
func SpecFromValues(v url.Values) (Spec, error) {
	f, err := FilterFromValues(v)
	if err != nil {
		return Spec{}, err
	}
	s := Spec{
		Filter:  f,
		Measure: column(v, "measure", dataset.ColSales),
		Agg:     Agg(v.Get("agg")),
		Order:   Order(v.Get("order")),
	}
	for _, k := range strings.Split(v.Get("group_by"), ",") {
		if k = strings.TrimSpace(k); k != "" {
			s.GroupBy = append(s.GroupBy, dataset.Column(k))
		}
	}
	if s.Limit, err = intParam(v, "limit", 0); err != nil {
		return Spec{}, err
	}
	if s.MinCount, err = intParam(v, "min_count", 0); err != nil {
		return Spec{}, err
	}
	s = s.Normalize()
	return s, s.Validate()
}

func column(v url.Values, name string, def dataset.Column) dataset.Column {
	if s := strings.TrimSpace(v.Get(name)); s != "" {
		return dataset.Column(s)
	}
	return def
}

func intParam(v url.Values, name string, def int) (int, error) {
	s := v.Get(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, &QueryError{Op: "params", Field: name, Reason: fmt.Sprintf("not an integer: %q", s)}
	}
	return n, nil
}

func boolParam(v url.Values, name string) (bool, error) {
	s := v.Get(name)
	if s == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, &QueryError{Op: "params", Field: name, Reason: fmt.Sprintf("not a boolean: %q", s)}
	}
	return b, nil
}
