package scraper

import (
	"fmt"
	"strconv"
)

// Shared star-schema column names.
const (
	ColProvider  = "provider"
	ColSource    = "source"
	ColArea      = "area"
	ColProduct   = "product"
	ColEntity    = "entity"
	ColPeriod    = "period"
	ColUnit      = "unit"
	ColValue     = "value"
	ColFlow      = "flow"
	ColFrequency = "frequency"
	ColOriginal  = "original"

	ColCode        = "code"
	ColLongName    = "long_name"
	ColDescription = "description"
	ColCategory    = "category"
)

// Row is one fact or dimension row keyed by column name.
type Row map[string]any

// Code returns the row's code column rendered as a string, or "" if absent.
func (r Row) Code() string {
	return r.String(ColCode)
}

// String returns the column rendered as a string, or "" if absent or nil.
func (r Row) String(col string) string {
	v, ok := r[col]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
