package query

import (
	"cmp"
	"strings"

	"github.com/nicktill/salesdash/pkg/dataset"
)

// weekdayRank maps day_of_week spellings to Monday=0..Sunday=6.
var weekdayRank = func() map[string]int {
	names := [][]string{
		{"monday", "mon", "lunes", "lun"},
		{"tuesday", "tue", "martes", "mar"},
		{"wednesday", "wed", "miércoles", "miercoles", "mié", "mie"},
		{"thursday", "thu", "jueves", "jue"},
		{"friday", "fri", "viernes", "vie"},
		{"saturday", "sat", "sábado", "sabado", "sáb", "sab"},
		{"sunday", "sun", "domingo", "dom"},
	}
	m := make(map[string]int)
	for rank, spellings := range names {
		for _, s := range spellings {
			m[s] = rank
		}
	}
	return m
}()

func dayRank(s string) (int, bool) {
	r, ok := weekdayRank[strings.ToLower(strings.TrimSpace(s))]
	return r, ok
}

// compareDim orders two non-null values of column c naturally.
func compareDim(c dataset.Column, a, b any) int {
	switch av := a.(type) {
	case int:
		return cmp.Compare(av, b.(int))
	case string:
		bv := b.(string)
		if c == dataset.ColDayOfWeek {
			ra, oka := dayRank(av)
			rb, okb := dayRank(bv)
			switch {
			case oka && okb:
				if r := cmp.Compare(ra, rb); r != 0 {
					return r
				}
			case oka:
				return -1
			case okb:
				return 1
			}
		}
		return strings.Compare(av, bv)
	}
	return 0
}

// compareValue orders aggregates; nil sorts after every number in both
// directions.
func compareValue(a, b any, desc bool) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	r := cmp.Compare(a.(float64), b.(float64))
	if desc {
		return -r
	}
	return r
}
