package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

// DefaultRubric is applied to AI-graded questions that define no criteria.
const DefaultRubric = "Quality:1"

// Criterion is one weighted rubric entry.
type Criterion struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// Criteria is an ordered rubric. Weights of a normalized rubric sum to 1.
type Criteria []Criterion

// ParseCriteria parses "Name:weight, Name:weight" into normalized criteria.
// Entries without a name or with a missing or non-numeric weight are
// dropped.
func ParseCriteria(s string) Criteria {
	var out Criteria
	for _, part := range strings.Split(s, ",") {
		name, rawWeight, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		if w, ok := parseWeight(rawWeight); ok {
			out = append(out, Criterion{Name: name, Weight: w})
		}
	}
	return out.Normalize()
}

// parseWeight reads a loosely typed rubric weight. ok is false when the
// weight is missing, not a number or not finite.
func parseWeight(v any) (w float64, ok bool) {
	var err error
	switch x := v.(type) {
	case nil:
		return 0, false
	case string:
		w, err = strconv.ParseFloat(strings.TrimSpace(x), 64)
	default:
		w, err = cast.ToFloat64E(x)
	}
	if err != nil || math.IsNaN(w) || math.IsInf(w, 0) {
		return 0, false
	}
	return w, true
}

// Normalize returns a copy with nameless and non-finite entries dropped,
// negative weights set to 0 and the rest scaled to sum to 1. When every
// weight is 0 the weights are left at 0.
func (c Criteria) Normalize() Criteria {
	out := make(Criteria, 0, len(c))
	total := 0.0
	for _, cr := range c {
		cr.Name = strings.TrimSpace(cr.Name)
		if cr.Name == "" || math.IsNaN(cr.Weight) || math.IsInf(cr.Weight, 0) {
			continue
		}
		cr.Weight = max(cr.Weight, 0)
		total += cr.Weight
		out = append(out, cr)
	}
	if total == 0 {
		total = 1
	}
	for i := range out {
		out[i].Weight /= total
	}
	return out
}

// String renders the rubric back into its "Name:weight" form.
func (c Criteria) String() string {
	parts := make([]string, len(c))
	for i, cr := range c {
		parts[i] = fmt.Sprintf("%s:%g", cr.Name, cr.Weight)
	}
	return strings.Join(parts, ", ")
}

// UnmarshalJSON accepts either the "Name:weight, ..." string form or a list
// of {name, weight} objects with loosely typed weights.
func (c *Criteria) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = ParseCriteria(s)
		return nil
	}
	var raw []struct {
		Name   string `json:"name"`
		Weight any    `json:"weight"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("rubric: %w", err)
	}
	out := make(Criteria, 0, len(raw))
	for _, r := range raw {
		if w, ok := parseWeight(r.Weight); ok {
			out = append(out, Criterion{Name: r.Name, Weight: w})
		}
	}
	*c = out.Normalize()
	return nil
}

// UnmarshalYAML mirrors UnmarshalJSON for exam files written in YAML.
func (c *Criteria) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err == nil {
		*c = ParseCriteria(s)
		return nil
	}
	var raw []map[string]any
	if err := unmarshal(&raw); err != nil {
		return fmt.Errorf("rubric: %w", err)
	}
	out := make(Criteria, 0, len(raw))
	for _, r := range raw {
		if w, ok := parseWeight(r["weight"]); ok {
			out = append(out, Criterion{Name: cast.ToString(r["name"]), Weight: w})
		}
	}
	*c = out.Normalize()
	return nil
}
