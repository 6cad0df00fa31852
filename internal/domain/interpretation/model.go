package interpretation

import (
	"fmt"
)

type AlertLevel string

const (
	AlertNone     AlertLevel = ""
	AlertHigh     AlertLevel = "high"
	AlertCritical AlertLevel = "critical"
)

// Condition bounds are inclusive; a nil bound is open. When Section is set
// the raw bounds apply to that section's score instead of the total.
type Condition struct {
	PercentileMin *float64 `json:"percentile_min,omitempty"`
	PercentileMax *float64 `json:"percentile_max,omitempty"`
	ZMin          *float64 `json:"z_min,omitempty"`
	ZMax          *float64 `json:"z_max,omitempty"`
	RawMin        *float64 `json:"raw_min,omitempty"`
	RawMax        *float64 `json:"raw_max,omitempty"`
	Section       string   `json:"section,omitempty"`
}

type Rule struct {
	Condition       Condition  `json:"condition"`
	Text            string     `json:"text"`
	Recommendations []string   `json:"recommendations,omitempty"`
	AlertLevel      AlertLevel `json:"alert_level,omitempty"`
}

func (c Condition) normative() bool {
	return c.PercentileMin != nil || c.PercentileMax != nil || c.ZMin != nil || c.ZMax != nil
}

func (c Condition) rawBounded() bool {
	return c.RawMin != nil || c.RawMax != nil
}

// ValidateRules rejects rules that can never match or carry an unknown
// alert level.
func ValidateRules(rules []Rule) error {
	for i, r := range rules {
		if r.Text == "" {
			return fmt.Errorf("interpretation rule %d: text is required", i)
		}
		switch r.AlertLevel {
		case AlertNone, AlertHigh, AlertCritical:
		default:
			return fmt.Errorf("interpretation rule %d: unknown alert level %q", i, r.AlertLevel)
		}
		c := r.Condition
		for _, b := range []struct {
			name     string
			min, max *float64
		}{
			{"percentile", c.PercentileMin, c.PercentileMax},
			{"z", c.ZMin, c.ZMax},
			{"raw", c.RawMin, c.RawMax},
		} {
			if b.min != nil && b.max != nil && *b.min > *b.max {
				return fmt.Errorf("interpretation rule %d: %s_min exceeds %s_max", i, b.name, b.name)
			}
		}
	}
	return nil
}
