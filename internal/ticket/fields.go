package ticket

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Tracked custom field names.
const (
	FieldPayerTier = "payer_tier"
	FieldLanguage  = "language"
	FieldTopic     = "topic"
	FieldSubTopic  = "sub_topic"
	FieldVersion   = "version"
)

// FieldMap maps a tracked field name to the helpdesk's numeric field id.
// A name missing from the map is simply not tracked.
type FieldMap map[string]int64

// FieldValue is one entry of the helpdesk's generic custom field list.
type FieldValue struct {
	ID    int64
	Value any
}

// FieldBag is a typed accessor over a ticket's custom fields.
type FieldBag struct {
	names  FieldMap
	values map[int64]any
}

// NewFieldBag indexes fields by id for lookups through names.
func NewFieldBag(names FieldMap, fields []FieldValue) FieldBag {
	values := make(map[int64]any, len(fields))
	for _, f := range fields {
		values[f.ID] = f.Value
	}
	return FieldBag{names: names, values: values}
}

// Extract returns the named field's value as a string. It returns nil when
// the name is not configured, the id is absent from the ticket, or the
// value is null or empty.
func (b FieldBag) Extract(name string) *string {
	id, ok := b.names[name]
	if !ok || id == 0 {
		return nil
	}
	v, ok := b.values[id]
	if !ok {
		return nil
	}
	s, ok := formatValue(v)
	if !ok {
		return nil
	}
	return &s
}

func formatValue(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		if x == "" {
			return "", false
		}
		return x, true
	case bool:
		return strconv.FormatBool(x), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case json.Number:
		return x.String(), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case []any:
		parts := make([]string, 0, len(x))
		for _, e := range x {
			if s, ok := formatValue(e); ok {
				parts = append(parts, s)
			}
		}
		if len(parts) == 0 {
			return "", false
		}
		return strings.Join(parts, ","), true
	default:
		return fmt.Sprint(x), true
	}
}

// ParseCSAT converts a satisfaction score to 1..5. Numbers and numeric
// strings are accepted; vendor words such as "good" or "offered" and
// out-of-range values yield nil.
func ParseCSAT(score any) *int {
	var f float64
	switch x := score.(type) {
	case float64:
		f = x
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		v, err := x.Float64()
		if err != nil {
			return nil
		}
		f = v
	case string:
		v, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil
		}
		f = v
	default:
		return nil
	}
	if math.IsNaN(f) || f != math.Trunc(f) || f < 1 || f > 5 {
		return nil
	}
	n := int(f)
	return &n
}
